package run

import (
	"encoding/json"
	"errors"

	"github.com/spf13/cobra"

	"github.com/dshills/chatpipe/cmd/chatpipe/app"
	"github.com/dshills/chatpipe/pipeline"
	"github.com/dshills/chatpipe/steps"
)

// Summary is the JSON line printed after a run.
type Summary struct {
	RunID        string             `json:"run_id"`
	Input        string             `json:"input"`
	ContentHash  string             `json:"content_hash"`
	Target       string             `json:"target"`
	InvocationID string             `json:"invocation_id"`
	NoCache      bool               `json:"no_cache,omitempty"`
	Steps        []pipeline.Outcome `json:"steps"`
	Error        string             `json:"error,omitempty"`
}

// NewCmd creates the `chatpipe run` command.
func NewCmd(opts *app.Options) *cobra.Command {
	var through string
	cmd := &cobra.Command{
		Use:   "run <file>",
		Short: "Run the pipeline on a chat export up to a step",
		Long: `Run hashes the input, finds or creates its cached run and executes the
target step with its dependencies. Stages already cached for the same
content are reused unless --no-cache is given.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := opts.Open(cmd.Context(), cmd.Flags(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer func() { _ = sess.Close() }()

			run, err := sess.RunFor(args[0])
			if err != nil {
				return err
			}
			metrics, reg := app.NewMetrics()
			r, err := sess.Runner(run, metrics)
			if err != nil {
				return err
			}

			_, runErr := r.Run(sess.Ctx, through)
			if errors.Is(runErr, pipeline.ErrUnknownStep) {
				return &app.UsageError{Err: runErr}
			}

			summary := Summary{
				RunID:        run.ID,
				Input:        run.InputPath,
				ContentHash:  run.ContentHash,
				Target:       through,
				InvocationID: r.InvocationID(),
				NoCache:      sess.Config.NoCache,
				Steps:        r.Outcomes(),
			}
			if runErr != nil {
				summary.Error = runErr.Error()
			}
			if err := json.NewEncoder(cmd.OutOrStdout()).Encode(summary); err != nil {
				return err
			}
			if err := app.WriteMetrics(sess.Config.MetricsFile, reg); err != nil {
				return err
			}
			return runErr
		},
	}
	cmd.Flags().StringVar(&through, "through", steps.StepScan, "Target step to run (with its dependencies)")
	return cmd
}
