package kafka

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl/plain"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"ktail/internal/logging"
)

func init() {
	Register("kafka-go", func() Adapter { return &KafkaGoDriver{} })
}

type partitionReader interface {
	SetOffset(offset int64) error
	FetchMessage(ctx context.Context) (kafkago.Message, error)
	Close() error
}

// KafkaGoDriver reads every partition of the topic with its own
// segmentio/kafka-go reader. It does not join a consumer group, so the
// configured group id is not used.
type KafkaGoDriver struct {
	cfg    Settings
	dialer *kafkago.Dialer
	log    *slog.Logger

	// listPartitions and newReader are swapped out in tests.
	listPartitions func(ctx context.Context, topic string) ([]int, error)
	newReader      func(kafkago.ReaderConfig) partitionReader

	mu      sync.Mutex
	readers []partitionReader
}

func (d *KafkaGoDriver) Configure(s Settings) error {
	d.cfg = s.withDefaults()
	d.log = logging.Component("kafka-go-driver")
	if len(d.cfg.Brokers) == 0 {
		return errors.New("kafka-go: no brokers")
	}

	d.dialer = &kafkago.Dialer{
		ClientID:  d.cfg.ClientID,
		Timeout:   d.cfg.DialTimeout,
		DualStack: true,
	}
	if d.cfg.TLSEn {
		d.dialer.TLS = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	if d.cfg.SASLUser != "" {
		d.dialer.SASLMechanism = plain.Mechanism{Username: d.cfg.SASLUser, Password: d.cfg.SASLPass}
	}
	if len(d.cfg.Routes) > 0 {
		d.dialer.DialFunc = newRoutedDialer(d.cfg.Routes, d.cfg.DialTimeout).DialContext
	}
	if d.listPartitions == nil {
		d.listPartitions = d.readPartitions
	}
	if d.newReader == nil {
		d.newReader = func(rc kafkago.ReaderConfig) partitionReader { return kafkago.NewReader(rc) }
	}
	return nil
}

func (d *KafkaGoDriver) Run(ctx context.Context, topic string, start map[int32]int64, emit EmitFunc) error {
	if d.listPartitions == nil || d.newReader == nil {
		return errors.New("kafka-go: not configured")
	}
	parts, err := d.listPartitions(ctx, topic)
	if err != nil {
		return err
	}
	if len(parts) == 0 {
		return fmt.Errorf("kafka-go: topic %q has no partitions", topic)
	}

	g, gctx := errgroup.WithContext(ctx)

	for _, p := range parts {
		r := d.newReader(kafkago.ReaderConfig{
			Brokers:   d.cfg.Brokers,
			Topic:     topic,
			Partition: p,
			Dialer:    d.dialer,
			MinBytes:  1,
			MaxBytes:  10e6,
			MaxWait:   500 * time.Millisecond,
		})
		d.track(r)
		off := d.startOffset(start, int32(p))

		g.Go(func() error {
			if err := r.SetOffset(off); err != nil {
				return fmt.Errorf("kafka-go: seek partition %d: %w", p, err)
			}
			for {
				m, err := r.FetchMessage(gctx)
				if err != nil {
					if gctx.Err() != nil {
						return nil
					}
					return fmt.Errorf("kafka-go: fetch partition %d: %w", p, err)
				}
				err = emit(Record{
					Topic:     m.Topic,
					Partition: int32(m.Partition),
					Offset:    m.Offset,
					Key:       m.Key,
					Value:     m.Value,
					Timestamp: m.Time,
				})
				if err != nil {
					return err
				}
			}
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

func (d *KafkaGoDriver) startOffset(start map[int32]int64, p int32) int64 {
	if off, ok := start[p]; ok {
		return off
	}
	if d.cfg.StartFrom == StartLatest {
		return kafkago.LastOffset
	}
	return kafkago.FirstOffset
}

func (d *KafkaGoDriver) track(r partitionReader) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.readers = append(d.readers, r)
}

func (d *KafkaGoDriver) readPartitions(ctx context.Context, topic string) ([]int, error) {
	var lastErr error
	for _, b := range d.cfg.Brokers {
		conn, err := d.dialer.DialContext(ctx, "tcp", b)
		if err != nil {
			lastErr = err
			d.log.Debug("broker unreachable", "broker", b, "err", err)
			continue
		}
		ps, err := conn.ReadPartitions(topic)
		_ = conn.Close()
		if err != nil {
			return nil, fmt.Errorf("kafka-go: read partitions of %q: %w", topic, err)
		}
		ids := make([]int, 0, len(ps))
		for _, p := range ps {
			ids = append(ids, p.ID)
		}
		slices.Sort(ids)
		return ids, nil
	}
	return nil, fmt.Errorf("kafka-go: no reachable broker: %w", lastErr)
}

func (d *KafkaGoDriver) Close() error {
	d.mu.Lock()
	readers := d.readers
	d.readers = nil
	d.mu.Unlock()

	var err error
	for _, r := range readers {
		err = multierr.Append(err, r.Close())
	}
	return err
}
