package commands

import (
	"fmt"

	"filepool/pkg/config"
	"filepool/pkg/migrate"
	"filepool/pkg/walker"

	"github.com/spf13/cobra"
)

var migrateFrom string

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Move every file from a legacy filedir into the store",
	Long: `Walk the legacy filedir and move each content file into the current store.
The legacy directory stays readable during the run, so requests for files that
have not been moved yet keep working. --from is remembered as the legacy path.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if FP == nil {
			return fmt.Errorf("app not initialized")
		}
		out := cmd.OutOrStdout()

		// 1. 决定来源目录：命令行优先，其次是配置
		from := migrateFrom
		if from == "" {
			from = FP.Settings.Storage.LegacyPath
		}

		// 2. 在动任何文件之前拒绝非法来源
		if err := FP.Migrator.ValidateSource(from); err != nil {
			return fmt.Errorf("invalid legacy directory: %w", err)
		}

		// 3. 记住 --from，之后的惰性迁移也会去这里找
		if migrateFrom != "" {
			written, err := config.SetLegacyPath(migrateFrom)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "🔧 Legacy path saved to %s\n", written)
		}

		// 4. 开始搬
		stats, err := FP.Migrator.MigrateAll(cmd.Context(), from, func(e walker.Entry, res *migrate.Result, err error) {
			if err != nil {
				fmt.Fprintf(out, "❌ %s: %v\n", e.Path, err)
			}
		})
		if stats != nil {
			fmt.Fprintf(out, "✅ Migration finished: %s\n", stats.Summary())
		}
		return err
	},
}

func init() {
	migrateCmd.Flags().StringVar(&migrateFrom, "from", "", "legacy filedir to migrate from (default: storage.legacy_path)")
	rootCmd.AddCommand(migrateCmd)
}
