package plan

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dshills/chatpipe/cmd/chatpipe/app"
	"github.com/dshills/chatpipe/pipeline"
	"github.com/dshills/chatpipe/pipeline/store"
)

// NewCmd creates the `chatpipe plan` command.
func NewCmd(opts *app.Options) *cobra.Command {
	return &cobra.Command{
		Use:   "plan [step]",
		Short: "Print the declared execution order of a step",
		Long: `Plan prints the steps the target depends on, dependencies first.
Without an argument it lists every step available to the CLI.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.Config(cmd.Flags())
			if err != nil {
				return err
			}
			// Planning never touches the configured cache.
			sess := &app.Session{Ctx: cmd.Context(), Config: cfg, Stages: store.NewStageStore(store.NewMemBackend())}
			r, err := sess.Runner(store.Run{}, nil)
			if err != nil {
				return err
			}

			if len(args) == 0 {
				_, err := fmt.Fprintln(cmd.OutOrStdout(), strings.Join(r.Steps(), "\n"))
				return err
			}
			order, err := r.Plan(args[0])
			if err != nil {
				if errors.Is(err, pipeline.ErrUnknownStep) {
					return &app.UsageError{Err: err}
				}
				return err
			}
			for i, name := range order {
				if _, err := fmt.Fprintf(cmd.OutOrStdout(), "%d. %s\n", i+1, name); err != nil {
					return err
				}
			}
			return nil
		},
	}
}
