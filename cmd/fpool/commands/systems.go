package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var systemsCmd = &cobra.Command{
	Use:   "systems",
	Short: "List the systems registered in the shared filedir",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if FP == nil {
			return fmt.Errorf("app not initialized")
		}

		systems, err := FP.Registry.Systems()
		if err != nil {
			return err
		}
		configured := FP.Settings.Descriptors()

		for _, id := range systems {
			marker := " "
			switch {
			case id == FP.Self:
				marker = "*"
			case configured[id].DSN == "":
				// 没有连接配置：所有删除都会被拦下
				marker = "!"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", marker, id)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(systemsCmd)
}
