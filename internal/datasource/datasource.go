// Package datasource exposes configured Kafka topics as resources a host can
// list and fetch incrementally, resuming each fetch from the token the
// previous one produced.
package datasource

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"ktail/internal/blocking"
	"ktail/internal/config"
	"ktail/internal/consumer"
	"ktail/internal/logging"
	"ktail/internal/offsets"
	"ktail/internal/telemetry"
)

var (
	ErrNotAResource   = errors.New("datasource: not a resource")
	ErrPathNotFound   = errors.New("datasource: path not found")
	ErrWrongKeyKind   = errors.New("datasource: seek failed: wrong key kind")
	ErrMalformedToken = errors.New("datasource: seek failed: malformed token")
	ErrEncodeFailed   = errors.New("datasource: encoding resumption token failed")
)

type Option func(*Datasource)

// WithConsumerOptions is passed to every consumer.Builder the datasource
// creates.
func WithConsumerOptions(opts ...consumer.Option) Option {
	return func(d *Datasource) { d.consumerOpts = append(d.consumerOpts, opts...) }
}

func WithLogger(l *slog.Logger) Option {
	return func(d *Datasource) { d.log = l }
}

// Request is one fetch.
type Request struct {
	Path string
	// Key resumes a previous fetch; nil starts at the client default.
	Key *Key
	// Stages are host post-processing steps, forwarded untouched.
	Stages []string

	Limit       int64
	IdleTimeout time.Duration
}

type Datasource struct {
	mu           sync.RWMutex
	cfg          config.Config
	builder      *consumer.Builder
	consumerOpts []consumer.Option
	log          *slog.Logger
}

func New(cfg config.Config, opts ...Option) (*Datasource, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	d := &Datasource{cfg: cfg, log: logging.Component("datasource")}
	for _, fn := range opts {
		fn(d)
	}
	d.builder = d.newBuilder(cfg)
	return d, nil
}

func (d *Datasource) newBuilder(cfg config.Config) *consumer.Builder {
	opts := append([]consumer.Option{consumer.WithLogger(d.log)}, d.consumerOpts...)
	return consumer.NewBuilder(cfg, blocking.NewPool(cfg.BlockingPoolSize), opts...)
}

func (d *Datasource) snapshot() (config.Config, *consumer.Builder) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cfg, d.builder
}

func (d *Datasource) Config() config.Config {
	cfg, _ := d.snapshot()
	return cfg
}

// Reconfigure swaps in the configuration document doc. Fetches already
// running keep the configuration they started with.
func (d *Datasource) Reconfigure(doc []byte) (config.Outcome, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	next, outcome, err := config.Reconfigure(d.cfg, doc)
	if outcome == config.Replaced {
		d.cfg = next
		d.builder = d.newBuilder(next)
	}
	d.log.Info("reconfigure", "outcome", outcome, "err", err)
	return outcome, err
}

// List enumerates the resources under prefix.
func (d *Datasource) List(prefix string) Listing {
	cfg, _ := d.snapshot()
	return list(cfg, prefix)
}

// Resolve returns the topic path names.
func (d *Datasource) Resolve(path string) (string, error) {
	cfg, _ := d.snapshot()
	return resolve(cfg, path)
}

// Fetch starts reading the topic named by req.Path. The returned Result
// streams data immediately; the resumption token follows only once the read
// has completed and every data chunk has been delivered. A cancelled fetch
// produces no token.
func (d *Datasource) Fetch(ctx context.Context, req Request) (*Result, error) {
	cfg, builder := d.snapshot()

	topic, err := resolve(cfg, req.Path)
	if err != nil {
		telemetry.Fetches.WithLabelValues("", "rejected").Inc()
		return nil, err
	}
	log := d.log.With("topic", topic)

	seek, err := seekTable(req.Key)
	if err != nil {
		telemetry.Fetches.WithLabelValues(topic, "rejected").Inc()
		return nil, err
	}

	c, err := builder.Build(ctx, seek)
	if err != nil {
		telemetry.Fetches.WithLabelValues(topic, "failed").Inc()
		log.Warn("consumer build failed", "err", err)
		return nil, fmt.Errorf("datasource: fetch %s: %w", topic, err)
	}

	stream := c.Fetch(ctx, topic, consumer.FetchOptions{Limit: req.Limit, IdleTimeout: req.IdleTimeout})
	res := newResult(cfg.Format, slices.Clone(req.Stages), stream.Chunks())
	go d.finalize(ctx, topic, c, stream, res, log)
	return res, nil
}

func seekTable(k *Key) (offsets.Table, error) {
	if k == nil {
		return nil, nil
	}
	if k.Kind != External {
		return nil, fmt.Errorf("%w: %s", ErrWrongKeyKind, k.Kind)
	}
	t, err := offsets.Decode(k.Value)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedToken, err)
	}
	return t, nil
}

// finalize waits for the stream's completion signal, releases the consumer
// and, for a completed read, emits the token for the final offset table.
func (d *Datasource) finalize(ctx context.Context, topic string, c *consumer.Consumer, s *consumer.Stream, res *Result, log *slog.Logger) {
	defer close(res.tokens)

	<-s.Done()
	if err := c.Close(); err != nil {
		log.Warn("consumer release", "err", err)
	}

	table := s.Offsets()
	outcome := s.Outcome()
	telemetry.Fetches.WithLabelValues(topic, outcome.String()).Inc()

	if outcome != consumer.Completed {
		log.Info("fetch ended without token", "outcome", outcome, "err", s.Err(), "partitions", len(table))
		res.finish(s.Err())
		return
	}
	if err := ctx.Err(); err != nil {
		log.Info("fetch cancelled before token", "partitions", len(table))
		res.finish(err)
		return
	}

	tok, err := offsets.Encode(table)
	if err != nil {
		log.Error("encode resumption token", "err", err, "offsets", table)
		res.finish(fmt.Errorf("%w: %w", ErrEncodeFailed, err))
		return
	}
	res.tokens <- Key{Kind: External, Value: tok}
	telemetry.TokensEmitted.WithLabelValues(topic).Inc()
	log.Debug("resumption token emitted", "partitions", len(table))
	res.finish(nil)
}
