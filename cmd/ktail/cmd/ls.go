package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"ktail/internal/engine"
)

var cmdLs = &cobra.Command{
	Use:   "ls [path]",
	Short: "List topic resources",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		prefix := "/"
		if len(args) == 1 {
			prefix = args[0]
		}
		return withEngine(func(_ context.Context, e *engine.Engine) error {
			if lsArgs.stored {
				return listStored(cmd, e)
			}
			l := e.List(prefix)
			out := cmd.OutOrStdout()
			if l.Resource {
				fmt.Fprintf(out, "%s\t(resource)\n", prefix)
			}
			for _, r := range l.Children {
				stored := "-"
				if entry, err := e.Token(r.Path); err == nil {
					stored = entry.UpdatedAt.Format(time.RFC3339)
				}
				fmt.Fprintf(out, "%s\t%s\n", r.Path, stored)
			}
			return nil
		})
	},
}

var lsArgs struct {
	stored bool
}

func listStored(cmd *cobra.Command, e *engine.Engine) error {
	tokens, err := e.Stored()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, tok := range tokens {
		state := "configured"
		if !tok.Configured {
			state = "stale"
		}
		fmt.Fprintf(out, "%s\t%s\t%s\t%s\n", tok.Path, tok.UpdatedAt.Format(time.RFC3339), tok.FetchID, state)
	}
	return nil
}

func init() {
	cmdLs.Flags().BoolVar(&lsArgs.stored, "stored", false, "List stored tokens instead of topics, including topics no longer configured")

	cmdRoot.AddCommand(cmdLs)
}
