package consumer

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"ktail/internal/decoder"
	"ktail/internal/offsets"
	"ktail/internal/telemetry"
	"ktail/source/kafka"
)

var (
	ErrAlreadyFetched = errors.New("consumer: already fetched")

	errLimitReached = errors.New("record limit reached")
	errIdle         = errors.New("idle timeout")
)

// FetchOptions bound a read that would otherwise tail the topic until
// cancelled. Both end the stream as Completed.
type FetchOptions struct {
	// Limit stops after this many records; zero means no limit.
	Limit int64
	// IdleTimeout stops once no record arrived for this long.
	IdleTimeout time.Duration
}

// Consumer is a configured driver bound to a decoder and a seek position. It
// serves a single Fetch.
type Consumer struct {
	adapter kafka.Adapter
	decode  decoder.Func
	seek    offsets.Table
	stack   releaseStack
	log     *slog.Logger

	fetched   atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// Fetch subscribes to topic and streams decoded records. The subscription is
// made by the stream's producer before any chunk is delivered.
func (c *Consumer) Fetch(ctx context.Context, topic string, opts FetchOptions) *Stream {
	s := newStream(c.seek)
	if !c.fetched.CompareAndSwap(false, true) {
		close(s.chunks)
		s.finish(Failed, ErrAlreadyFetched)
		return s
	}
	go c.produce(ctx, topic, opts, s)
	return s
}

func (c *Consumer) produce(parent context.Context, topic string, opts FetchOptions, s *Stream) {
	ctx, cancel := context.WithCancelCause(parent)
	defer cancel(nil)

	activity := make(chan struct{}, 1)
	if opts.IdleTimeout > 0 {
		go watchIdle(ctx, cancel, opts.IdleTimeout, activity)
	}

	log := c.log.With("topic", topic)
	bytes := telemetry.BytesEmitted.WithLabelValues(topic)
	var count atomic.Int64

	// Drivers may call emit from one goroutine per partition. Delivery and the
	// limit check happen under emitMu so nothing is sent past the limit.
	var emitMu sync.Mutex
	emit := func(r kafka.Record) error {
		emitMu.Lock()
		defer emitMu.Unlock()
		if ctx.Err() != nil {
			return context.Cause(ctx)
		}
		if b := c.decode(r); len(b) > 0 {
			select {
			case s.chunks <- b:
				bytes.Add(float64(len(b)))
			case <-ctx.Done():
				return context.Cause(ctx)
			}
		}
		s.cp.Observe(r.Partition, r.Offset)
		telemetry.RecordsConsumed.WithLabelValues(topic, strconv.Itoa(int(r.Partition))).Inc()

		select {
		case activity <- struct{}{}:
		default:
		}
		if n := count.Add(1); opts.Limit > 0 && n >= opts.Limit {
			cancel(errLimitReached)
			return errLimitReached
		}
		return nil
	}

	log.Debug("subscribing", "seek", c.seek)
	err := c.adapter.Run(ctx, topic, kafka.StartOffsets(c.seek), emit)
	close(s.chunks)

	log = log.With("records", count.Load(), "offset_updates", s.cp.Updates())
	cause := context.Cause(ctx)
	switch {
	case errors.Is(cause, errLimitReached), errors.Is(cause, errIdle):
		log.Debug("fetch completed", "reason", cause)
		s.finish(Completed, nil)
	case parent.Err() != nil:
		log.Debug("fetch cancelled")
		s.finish(Cancelled, parent.Err())
	case err != nil:
		log.Error("fetch failed", "err", err)
		s.finish(Failed, err)
	default:
		log.Debug("subscription ended")
		s.finish(Completed, nil)
	}
}

func watchIdle(ctx context.Context, cancel context.CancelCauseFunc, d time.Duration, activity <-chan struct{}) {
	t := time.NewTimer(d)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-activity:
			t.Reset(d)
		case <-t.C:
			cancel(errIdle)
			return
		}
	}
}

// Close releases the driver and then the tunnel. It is idempotent. Each
// release takes its own slot on the blocking pool.
func (c *Consumer) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.stack.unwind(c.log)
	})
	return c.closeErr
}
