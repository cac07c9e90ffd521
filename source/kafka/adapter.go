package kafka

import (
	"context"
	"time"
)

// Record is a fully materialized message handed to an EmitFunc.
type Record struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       []byte
	Value     []byte
	Timestamp time.Time
}

// EmitFunc receives records in per-partition log order. Drivers may call it
// concurrently from one goroutine per partition. A non-nil error stops the
// driver.
type EmitFunc func(Record) error

// Adapter is a Kafka client driver.
//
// Configure may block on broker metadata and is expected to run on the
// blocking pool. Run subscribes to topic, starts each partition listed in start
// at the given offset (the next offset to read) and everything else at the
// configured default, then emits until ctx is done or the subscription ends.
// Close releases the client and is safe to call after a failed Configure.
type Adapter interface {
	Configure(Settings) error
	Run(ctx context.Context, topic string, start map[int32]int64, emit EmitFunc) error
	Close() error
}
