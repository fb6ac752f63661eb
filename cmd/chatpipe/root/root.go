package root

import (
	"context"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/dshills/chatpipe/cmd/chatpipe/app"
	"github.com/dshills/chatpipe/cmd/chatpipe/cache"
	"github.com/dshills/chatpipe/cmd/chatpipe/hash"
	"github.com/dshills/chatpipe/cmd/chatpipe/plan"
	"github.com/dshills/chatpipe/cmd/chatpipe/run"
	"github.com/dshills/chatpipe/cmd/chatpipe/version"
)

// NewRootCmd creates the root command for chatpipe.
func NewRootCmd() *cobra.Command {
	opts := &app.Options{}
	cmd := &cobra.Command{
		Use:   "chatpipe",
		Short: "Turn chat exports into cached, resumable pipeline runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			// Show help when no subcommand is provided.
			return cmd.Help()
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	opts.Bind(cmd.PersistentFlags())

	// Subcommands
	cmd.AddCommand(version.NewCmd())
	cmd.AddCommand(run.NewCmd(opts))
	cmd.AddCommand(hash.NewCmd())
	cmd.AddCommand(plan.NewCmd(opts))
	cmd.AddCommand(cache.NewCmd(opts))

	return cmd
}

// Execute runs the root command with provided args. An interrupt cancels
// the running step; completed stages stay cached.
func Execute(args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cmd := NewRootCmd()
	cmd.SetArgs(args)
	return cmd.ExecuteContext(ctx)
}
