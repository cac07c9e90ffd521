package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"ktail/internal/engine"
	"ktail/internal/logging"
)

var cmdFetch = &cobra.Command{
	Use:   "fetch <path>",
	Short: "Read new records of a topic and remember where the read stopped",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		idle := fetchArgs.idle
		if fetchArgs.follow {
			idle = 0
		}
		return withEngine(func(ctx context.Context, e *engine.Engine) error {
			rep, err := e.Fetch(ctx, args[0], cmd.OutOrStdout(), engine.FetchOptions{
				FromStart:   fetchArgs.fromStart,
				Limit:       fetchArgs.limit,
				IdleTimeout: idle,
			})
			logging.L().Info("fetch finished", "fetch_id", rep.FetchID, "chunks", rep.Chunks, "bytes", rep.Bytes, "token_saved", rep.TokenSaved)
			return err
		})
	},
}

var fetchArgs struct {
	limit     int64
	idle      time.Duration
	follow    bool
	fromStart bool
}

func init() {
	cmdFetch.Flags().Int64Var(&fetchArgs.limit, "limit", 0, "Stop after this many records (0 = no limit)")
	cmdFetch.Flags().DurationVar(&fetchArgs.idle, "idle", 10*time.Second, "Stop once no record arrived for this long")
	cmdFetch.Flags().BoolVarP(&fetchArgs.follow, "follow", "f", false, "Tail until interrupted; no token is stored")
	cmdFetch.Flags().BoolVar(&fetchArgs.fromStart, "from-start", false, "Ignore the stored token")

	cmdRoot.AddCommand(cmdFetch)
}
