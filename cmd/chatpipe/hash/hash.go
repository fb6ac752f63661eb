package hash

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/dshills/chatpipe/pipeline/store"
)

// NewCmd creates the `chatpipe hash` command. It prints the content hash
// and the run ID an input would map to, without touching the cache.
func NewCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash <file>",
		Short: "Print the content hash and run ID of an input file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			abs, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}
			sum, err := store.HashFile(abs)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s  %s\n", sum, store.RunID(abs, sum))
			return err
		},
	}
}
