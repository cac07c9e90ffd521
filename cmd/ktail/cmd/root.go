package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"ktail/internal/engine"
	"ktail/internal/logging"
)

var cmdRoot = &cobra.Command{
	Use:           "ktail",
	Short:         "Resumable reads of Kafka topics, optionally through an SSH bastion",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(*cobra.Command, []string) {
		logging.InitFromEnv()
	},
}

var rootArgs struct {
	config      string
	store       string
	metricsAddr string
}

func init() {
	cmdRoot.PersistentFlags().StringVarP(&rootArgs.config, "config", "c", envOr("KTAIL_CONFIG", "ktail.yml"), "Datasource configuration file (YAML or JSON)")
	cmdRoot.PersistentFlags().StringVar(&rootArgs.store, "store", envOr("KTAIL_STORE", "ktail.db"), "Token store file")
	cmdRoot.PersistentFlags().StringVar(&rootArgs.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
}

func envOr(name, def string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return def
}

// withEngine bootstraps the engine for the duration of fn. ctx is cancelled
// on SIGINT or SIGTERM.
func withEngine(fn func(ctx context.Context, e *engine.Engine) error) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	e, err := engine.Bootstrap(ctx, engine.Config{
		ConfigPath:  rootArgs.config,
		StorePath:   rootArgs.store,
		MetricsAddr: rootArgs.metricsAddr,
	})
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	defer func() {
		if err := e.Close(); err != nil {
			logging.L().Warn("close engine", "err", err)
		}
	}()
	return fn(ctx, e)
}

func Execute() {
	if err := cmdRoot.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
