package commands

import (
	"fmt"

	"filepool/pkg/sweep"

	"github.com/spf13/cobra"
)

var (
	tidyForce  bool
	tidyDryRun bool
)

var tidyCmd = &cobra.Command{
	Use:   "tidy",
	Short: "Move files no connected system references into the trash",
	Long: `Collect the referenced hashes of every connected system, then walk the filedir
and trash each file nobody references. Does nothing unless tidy.enabled is set
(or --force is given). Refuses to run if no system reports any reference.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if FP == nil {
			return fmt.Errorf("app not initialized")
		}

		coordinator := FP.Sweep
		if tidyForce || tidyDryRun {
			s := FP.Settings.Tidy
			coordinator = sweep.New(FP.Registry, FP.Resolver, FP.Store, FP.Trash, sweep.Config{
				Enabled:  s.Enabled || tidyForce,
				Interval: s.Interval,
				Timeout:  s.Timeout,
				DryRun:   s.DryRun || tidyDryRun,
			},
				sweep.WithLocalIndex(FP.Repository),
				sweep.WithMetrics(FP.Metrics),
				sweep.WithLogger(FP.Log),
				sweep.WithOutput(cmd.OutOrStdout()),
			)
		}

		stats, err := coordinator.RunNow(cmd.Context())
		if err != nil {
			return err
		}
		if stats.Skipped {
			fmt.Fprintln(cmd.OutOrStdout(), "⚠️  tidy is disabled (set tidy.enabled or use --force)")
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✅ Tidy finished: %s\n", stats.Summary())
		return nil
	},
}

func init() {
	tidyCmd.Flags().BoolVar(&tidyForce, "force", false, "run even if tidy.enabled is false")
	tidyCmd.Flags().BoolVar(&tidyDryRun, "dry-run", false, "only print what would be trashed")
	rootCmd.AddCommand(tidyCmd)
}
