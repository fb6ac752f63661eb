package cache

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/dshills/chatpipe/cmd/chatpipe/app"
	"github.com/dshills/chatpipe/pipeline/store"
)

// NewCmd creates the `chatpipe cache` command group.
func NewCmd(opts *app.Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and manage cached runs and stages",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.AddCommand(runsCmd(opts), stagesCmd(opts), showCmd(opts), clearCmd(opts))
	return cmd
}

func runsCmd(opts *app.Options) *cobra.Command {
	return &cobra.Command{
		Use:   "runs",
		Short: "List cached runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := opts.Open(cmd.Context(), cmd.Flags(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer func() { _ = sess.Close() }()

			runs, err := sess.Stages.ListRuns(sess.Ctx)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(tw, "RUN\tCREATED\tINPUT")
			for _, run := range runs {
				_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\n", run.ID, run.CreatedAt.Local().Format(time.DateTime), run.InputPath)
			}
			return tw.Flush()
		},
	}
}

func stagesCmd(opts *app.Options) *cobra.Command {
	return &cobra.Command{
		Use:   "stages <file>",
		Short: "List the stages cached for an input",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := opts.Open(cmd.Context(), cmd.Flags(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer func() { _ = sess.Close() }()

			run, err := sess.LookupRun(args[0])
			if err != nil {
				return err
			}
			names, err := sess.Stages.ListStages(sess.Ctx, run)
			if err != nil {
				return err
			}
			present := make(map[string]bool, len(names))
			for _, n := range names {
				present[n] = true
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(tw, "STAGE\tSTATUS")
			for _, n := range names {
				status := "cached"
				switch {
				case strings.HasSuffix(n, store.MarkerSuffix) && present[strings.TrimSuffix(n, store.MarkerSuffix)]:
					status = "marker"
				case present[store.MarkerName(n)]:
					status = "complete"
				}
				_, _ = fmt.Fprintf(tw, "%s\t%s\n", n, status)
			}
			return tw.Flush()
		},
	}
}

func showCmd(opts *app.Options) *cobra.Command {
	return &cobra.Command{
		Use:   "show <file> <stage>",
		Short: "Print the cached payload of a stage",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := opts.Open(cmd.Context(), cmd.Flags(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer func() { _ = sess.Close() }()

			run, err := sess.LookupRun(args[0])
			if err != nil {
				return err
			}
			data, err := sess.Stages.ReadRaw(sess.Ctx, run, args[1])
			if err != nil {
				return fmt.Errorf("stage %s: %w", args[1], err)
			}
			var buf bytes.Buffer
			if err := json.Indent(&buf, data, "", "  "); err != nil {
				buf.Reset()
				buf.Write(data)
			}
			buf.WriteByte('\n')
			_, err = cmd.OutOrStdout().Write(buf.Bytes())
			return err
		},
	}
}

func clearCmd(opts *app.Options) *cobra.Command {
	return &cobra.Command{
		Use:   "clear <file> <stage>...",
		Short: "Invalidate cached stages so the next run recomputes them",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := opts.Open(cmd.Context(), cmd.Flags(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer func() { _ = sess.Close() }()

			run, err := sess.LookupRun(args[0])
			if err != nil {
				return err
			}
			for _, name := range args[1:] {
				if err := sess.Stages.Invalidate(sess.Ctx, run, name); err != nil {
					return fmt.Errorf("stage %s: %w", name, err)
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "cleared %s\n", name)
			}
			return nil
		},
	}
}
