package cli

import (
	"fmt"
	"os"

	"github.com/cactuscomply/tpt-rates/internal/ingest"
	"github.com/spf13/cobra"
)

// NewSyncCommand scans a directory of monthly TPT_RATETABLE_ALL_MMDDYYYY
// downloads and merges each unique date in ascending order.
func NewSyncCommand(root *RootOptions) *cobra.Command {
	var autoCreate bool

	cmd := &cobra.Command{
		Use:   "sync <dir>",
		Short: "Sync all ADOR rate-table CSVs in a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, cleanup, err := root.openStore()
			if err != nil {
				return err
			}
			defer cleanup()

			return runSync(cmd, store, args[0], autoCreate, root.BatchSize)
		},
	}

	cmd.Flags().BoolVar(&autoCreate, "auto-create", false, "create jurisdictions for unknown region codes")
	return cmd
}

func runSync(cmd *cobra.Command, store ingest.Store, dir string, autoCreate bool, batchSize int) error {
	ctx := cmd.Context()

	files, err := ingest.ScanRateTableDir(dir)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no TPT_RATETABLE_ALL CSVs in %s", dir)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Found %d unique ADOR CSVs\n", len(files))

	engine, err := ingest.NewEngine(ctx, store, ingest.Config{
		AutoCreateJurisdictions: autoCreate,
		BatchSize:               batchSize,
		Source:                  "sync:" + dir,
	})
	if err != nil {
		return err
	}

	total := ingest.Summary{Errors: []string{}}
	for _, f := range files {
		content, err := os.ReadFile(f.Path)
		if err != nil {
			return fmt.Errorf("read %s: %w", f.Path, err)
		}

		summary, err := engine.Ingest(ctx, string(content), f.EffectiveDate)
		if err != nil {
			// one unusable file should not abort the rest of the directory
			fmt.Fprintf(cmd.ErrOrStderr(), "warning: skipping %s: %v\n", f.Path, err)
			total.Warnings = append(total.Warnings, fmt.Sprintf("%s: %v", f.Path, err))
			continue
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: inserted=%d skipped_duplicate=%d missing_jurisdiction=%d\n",
			f.EffectiveDate, summary.Inserted, summary.SkippedDuplicate, summary.SkippedMissingJurisdiction)
		accumulate(&total, summary)
	}

	total.Success = len(total.Errors) == 0
	printJSON(cmd, total)
	return nil
}

func accumulate(total *ingest.Summary, s ingest.Summary) {
	total.TotalRecords += s.TotalRecords
	total.Inserted += s.Inserted
	total.SkippedDuplicate += s.SkippedDuplicate
	total.SkippedMissingJurisdiction += s.SkippedMissingJurisdiction
	total.SkippedFuture += s.SkippedFuture
	total.VersionsCreated += s.VersionsCreated
	total.Errors = append(total.Errors, s.Errors...)
	total.Warnings = append(total.Warnings, s.Warnings...)
}
