package commands

import (
	"fmt"

	"filepool/pkg/verify"

	"github.com/spf13/cobra"
)

var verifyRecords bool

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check that every file's content matches its name",
	Long: `Recompute the SHA-1 of every file in the filedir and report mismatches.
With --records, also report file records whose content cannot be found.
Problems are only printed; the exit status does not reflect them.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if FP == nil {
			return fmt.Errorf("app not initialized")
		}

		var records verify.Records
		if verifyRecords {
			records = FP.Repository
		}

		_, err := FP.Verifier.Run(cmd.Context(), cmd.OutOrStdout(), records)
		return err
	},
}

func init() {
	verifyCmd.Flags().BoolVar(&verifyRecords, "records", false, "also check that every file record has its content")
	rootCmd.AddCommand(verifyCmd)
}
