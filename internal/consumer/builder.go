// Package consumer builds Kafka consumers, tunneled or direct, and turns a
// subscription into a stream of decoded bytes plus the offsets behind them.
package consumer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"ktail/internal/blocking"
	"ktail/internal/config"
	"ktail/internal/decoder"
	"ktail/internal/logging"
	"ktail/internal/offsets"
	"ktail/internal/tunnel"
	"ktail/source/kafka"
)

// AdapterFactory creates a driver by registry name.
type AdapterFactory func(name string) (kafka.Adapter, error)

type Option func(*Builder)

// WithAdapterFactory replaces the driver registry lookup.
func WithAdapterFactory(f AdapterFactory) Option {
	return func(b *Builder) { b.newAdapter = f }
}

// WithTunnelOptions passes options through to tunnel.Open.
func WithTunnelOptions(opts ...tunnel.Option) Option {
	return func(b *Builder) { b.tunnelOpts = append(b.tunnelOpts, opts...) }
}

func WithLogger(l *slog.Logger) Option {
	return func(b *Builder) { b.log = l }
}

// Builder turns a configuration into ready Consumers. It holds no connections
// itself; every Build acquires its own tunnel and driver.
type Builder struct {
	cfg        config.Config
	pool       *blocking.Pool
	newAdapter AdapterFactory
	tunnelOpts []tunnel.Option
	log        *slog.Logger
}

func NewBuilder(cfg config.Config, pool *blocking.Pool, opts ...Option) *Builder {
	b := &Builder{
		cfg:        cfg,
		pool:       pool,
		newAdapter: kafka.NewAdapter,
		log:        logging.Component("consumer"),
	}
	for _, fn := range opts {
		fn(b)
	}
	return b
}

// Build connects a Consumer that resumes from seek, a table of last consumed
// offsets. An empty seek starts every partition at the client default.
//
// With a tunnel configured the brokers are reached through local forwards
// owned by the Consumer. Any failure, including ctx ending, releases what was
// already acquired.
func (b *Builder) Build(ctx context.Context, seek offsets.Table) (*Consumer, error) {
	decode, err := decoder.Select(b.cfg.Decoder)
	if err != nil {
		return nil, err
	}

	settings := b.cfg.Settings()
	if settings.ClientID == "" {
		settings.ClientID = "ktail-" + uuid.NewString()
	}

	var stack releaseStack
	if b.cfg.Tunnel != nil {
		opts := append([]tunnel.Option{tunnel.WithLogger(b.log.With("bastion", b.cfg.Tunnel.Addr()))}, b.tunnelOpts...)
		sess, err := tunnel.Open(ctx, b.pool, *b.cfg.Tunnel, settings.Brokers, opts...)
		if err != nil {
			return nil, err
		}
		stack.push("tunnel", sess.Close)
		settings.Brokers = sess.Addrs()
		settings.Routes = sess.Routes()
		b.log.Info("brokers tunneled", "brokers", settings.Brokers)
	}

	adapter, err := b.newAdapter(b.cfg.Driver)
	if err != nil {
		_ = stack.unwind(b.log)
		return nil, err
	}
	_, err = blocking.Acquire(ctx, b.pool, func() (kafka.Adapter, error) {
		if err := adapter.Configure(settings); err != nil {
			_ = adapter.Close()
			return nil, err
		}
		return adapter, nil
	}, func(a kafka.Adapter) { _ = a.Close() })
	if err != nil {
		_ = stack.unwind(b.log)
		return nil, fmt.Errorf("consumer: configure %s driver: %w", b.cfg.Driver, err)
	}
	stack.push("driver", func() error {
		var err error
		b.pool.Wait(func() { err = adapter.Close() })
		return err
	})

	b.log.Debug("consumer ready", "driver", b.cfg.Driver, "client_id", settings.ClientID, "seek_partitions", len(seek))
	return &Consumer{
		adapter: adapter,
		decode:  decode,
		seek:    seek.Clone(),
		stack:   stack,
		log:     b.log,
	}, nil
}
