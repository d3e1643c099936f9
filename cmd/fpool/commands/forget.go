package commands

import (
	"fmt"
	"strings"

	"filepool/pkg/scheduler"

	"github.com/spf13/cobra"
)

var forgetDefer bool

var forgetCmd = &cobra.Command{
	Use:   "forget <pathnamehash>...",
	Short: "Delete file records and trash content nobody references anymore",
	Long: `Delete each file record of this system, then ask for the content it pointed at
to be trashed. The content stays if another record or connected system still
references it. With --defer the trash step is queued for the worker.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if FP == nil {
			return fmt.Errorf("app not initialized")
		}

		exec := scheduler.ExecBatch
		if forgetDefer {
			exec = scheduler.ExecInteractive
		}

		out := cmd.OutOrStdout()
		for _, arg := range args {
			key := strings.TrimSpace(arg)
			res, err := FP.ForgetRecord(cmd.Context(), key, exec)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			switch {
			case res == nil:
				fmt.Fprintf(out, "%s: no such record\n", key)
			case res.Scheduled:
				fmt.Fprintf(out, "%s: forgotten, trash scheduled (job %s)\n", key, res.JobID)
			default:
				fmt.Fprintf(out, "%s: forgotten, content %s\n", key, res.Outcome)
			}
		}
		return nil
	},
}

func init() {
	forgetCmd.Flags().BoolVar(&forgetDefer, "defer", false, "queue the trash step for the background worker")
	rootCmd.AddCommand(forgetCmd)
}
