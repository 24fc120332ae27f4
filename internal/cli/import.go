package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sakif/proteeti/internal/auth"
	"github.com/sakif/proteeti/internal/legacy"
)

// NewImportCommand imports the JSON files written by the old file-backed
// deployment.
func NewImportCommand(opts *RootOptions) *cobra.Command {
	var usersPath, reportsPath string

	cmd := &cobra.Command{
		Use:   "import-legacy",
		Short: "Import users.json and reports.json from a file-backed deployment",
		Long: `Import the users.json and reports.json documents of the old JSON-file
storage. Existing usernames are skipped, so the import can be re-run.

Examples:
  proteetictl import-legacy --users data/users.json --reports data/reports.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if usersPath == "" && reportsPath == "" {
				return errors.New("nothing to import: pass --users and/or --reports")
			}

			db, err := openDB(opts)
			if err != nil {
				return err
			}
			defer db.Close()

			im := legacy.NewImporter(db, db, auth.NewPasswordService(), newLogger(opts))
			var sum legacy.Summary

			if usersPath != "" {
				f, err := os.Open(usersPath)
				if err != nil {
					return err
				}
				err = im.ImportUsers(cmd.Context(), f, &sum)
				f.Close()
				if err != nil {
					return err
				}
			}
			if reportsPath != "" {
				f, err := os.Open(reportsPath)
				if err != nil {
					return err
				}
				err = im.ImportReports(cmd.Context(), f, &sum)
				f.Close()
				if err != nil {
					return err
				}
			}

			if opts.Format == "json" {
				return printJSON(cmd.OutOrStdout(), sum)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "users imported: %d, skipped: %d, reports imported: %d\n",
				sum.UsersImported, sum.UsersSkipped, sum.ReportsImported)
			return nil
		},
	}

	cmd.Flags().StringVar(&usersPath, "users", "", "path to users.json")
	cmd.Flags().StringVar(&reportsPath, "reports", "", "path to reports.json")
	return cmd
}
