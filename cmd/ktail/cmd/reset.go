package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"ktail/internal/engine"
)

var cmdReset = &cobra.Command{
	Use:   "reset <path>",
	Short: "Forget the stored resumption token of a topic",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(func(_ context.Context, e *engine.Engine) error {
			if err := e.Reset(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "reset %s\n", args[0])
			return nil
		})
	},
}

func init() {
	cmdRoot.AddCommand(cmdReset)
}
