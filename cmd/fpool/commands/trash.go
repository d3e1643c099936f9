package commands

import (
	"fmt"
	"strings"

	"filepool/pkg/scheduler"
	"filepool/pkg/types"

	"github.com/spf13/cobra"
)

var trashDefer bool

var trashCmd = &cobra.Command{
	Use:   "trash <contenthash>...",
	Short: "Trash files that no connected system references",
	Long: `Check each hash against every connected system and move it to the trash if
nobody references it. Files still in use are left alone. With --defer the work
is queued for the worker instead of being done now.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if FP == nil {
			return fmt.Errorf("app not initialized")
		}

		exec := scheduler.ExecBatch
		if trashDefer {
			exec = scheduler.ExecInteractive
		}

		for _, arg := range args {
			hash := types.Hash(strings.ToLower(strings.TrimSpace(arg)))
			res, err := FP.Scheduler.Remove(cmd.Context(), hash, exec)
			if err != nil {
				return fmt.Errorf("%s: %w", arg, err)
			}
			if res.Scheduled {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: scheduled (job %s)\n", hash, res.JobID)
				continue
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", hash, res.Outcome)
		}
		return nil
	},
}

func init() {
	trashCmd.Flags().BoolVar(&trashDefer, "defer", false, "queue the removal for the background worker")
	rootCmd.AddCommand(trashCmd)
}
