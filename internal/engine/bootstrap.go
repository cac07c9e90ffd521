package engine

import (
	"context"
	"fmt"
	"time"

	"ktail/internal/config"
	"ktail/internal/datasource"
	"ktail/internal/logging"
	"ktail/internal/telemetry"
	"ktail/internal/tokenstore"
)

type Config struct {
	ConfigPath  string
	StorePath   string
	MetricsAddr string // empty disables /metrics
}

func Bootstrap(ctx context.Context, cfg Config, opts ...datasource.Option) (*Engine, error) {
	// 1. datasource configuration
	dcfg, err := config.Load(cfg.ConfigPath)
	if err != nil {
		return nil, err
	}

	// 2. datasource
	ds, err := datasource.New(dcfg, opts...)
	if err != nil {
		return nil, fmt.Errorf("datasource: %w", err)
	}

	// 3. token store
	store, err := tokenstore.Open(cfg.StorePath)
	if err != nil {
		return nil, err
	}

	// 4. metrics
	log := logging.Component("engine")
	if cfg.MetricsAddr != "" {
		go func() {
			if err := telemetry.Serve(ctx, cfg.MetricsAddr); err != nil {
				log.Error("metrics server", "err", err)
			}
		}()
	}

	return &Engine{ds: ds, store: store, log: log, now: time.Now}, nil
}
