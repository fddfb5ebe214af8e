package cli

import (
	"fmt"
	"os"

	"github.com/cactuscomply/tpt-rates/internal/ingest"
	"github.com/spf13/cobra"
)

// NewRestoreCommand reloads rate_versions and rates from a pg_dump backup,
// replacing whatever is in those tables.
func NewRestoreCommand(root *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "restore <backup.sql>",
		Short: "Restore rate tables from a pg_dump backup",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read backup: %w", err)
			}

			versions, rateRows, err := ingest.ParseBackupSQL(string(content))
			if err != nil {
				return err
			}
			if len(versions) == 0 {
				return fmt.Errorf("no rate_versions COPY block in %s", args[0])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Found %d rate_versions, %d rates\n", len(versions), len(rateRows))

			store, cleanup, err := root.openStore()
			if err != nil {
				return err
			}
			defer cleanup()

			if err := ingest.RestoreBackup(cmd.Context(), store, versions, rateRows, root.BatchSize); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Backup restored")
			return nil
		},
	}
}
