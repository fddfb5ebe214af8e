package cli

import (
	"fmt"
	"os"

	"github.com/cactuscomply/tpt-rates/internal/ingest"
	"github.com/spf13/cobra"
)

// RunOptions holds flags for the full restore-and-sync pipeline.
type RunOptions struct {
	*RootOptions
	BackupPath     string
	HistoricalCSVs []string
	ADORDir        string
	SkipBackup     bool
	SkipHistorical bool
	SkipADOR       bool
	VerifyOnly     bool
	Cutoff         string
}

// NewRunCommand runs the whole pipeline: restore the backup, merge the
// historical rate CSVs, sync the monthly ADOR downloads, then verify.
func NewRunCommand(root *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: root}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Full restore-and-sync pipeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.BackupPath, "backup", "", "pg_dump backup to restore first")
	cmd.Flags().StringSliceVar(&opts.HistoricalCSVs, "historical", nil, "historical rate CSVs, later files win on overlap")
	cmd.Flags().StringVar(&opts.ADORDir, "ador-dir", "", "directory of monthly TPT_RATETABLE_ALL CSVs")
	cmd.Flags().BoolVar(&opts.SkipBackup, "skip-backup", false, "skip backup restoration")
	cmd.Flags().BoolVar(&opts.SkipHistorical, "skip-historical", false, "skip historical CSV merge")
	cmd.Flags().BoolVar(&opts.SkipADOR, "skip-ador", false, "skip ADOR CSV sync")
	cmd.Flags().BoolVar(&opts.VerifyOnly, "verify-only", false, "only run verification, no modifications")
	cmd.Flags().StringVar(&opts.Cutoff, "cutoff", "", "skip records effective after this ISO date")

	return cmd
}

func runPipeline(cmd *cobra.Command, opts *RunOptions) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	store, cleanup, err := opts.openStore()
	if err != nil {
		return err
	}
	defer cleanup()

	if opts.VerifyOnly {
		return runVerify(cmd, store)
	}

	if !opts.SkipBackup && opts.BackupPath != "" {
		fmt.Fprintln(out, "[1] Restoring backup...")
		content, err := os.ReadFile(opts.BackupPath)
		if err != nil {
			return fmt.Errorf("read backup: %w", err)
		}
		versions, rateRows, err := ingest.ParseBackupSQL(string(content))
		if err != nil {
			return err
		}
		if err := ingest.RestoreBackup(ctx, store, versions, rateRows, opts.BatchSize); err != nil {
			return err
		}
		fmt.Fprintf(out, "    Restored %d versions, %d rates\n", len(versions), len(rateRows))
	}

	if !opts.SkipHistorical && len(opts.HistoricalCSVs) > 0 {
		fmt.Fprintln(out, "[2] Merging historical CSVs...")
		batches, err := parseSources(cmd, opts.HistoricalCSVs, "")
		if err != nil {
			return err
		}

		// Historical merges may create jurisdictions the backup never
		// carried.
		engine, err := ingest.NewEngine(ctx, store, ingest.Config{
			AutoCreateJurisdictions: true,
			BatchSize:               opts.BatchSize,
			CutoffDate:              opts.Cutoff,
			Source:                  "run:historical",
		})
		if err != nil {
			return err
		}
		summary, err := engine.Merge(ctx, ingest.Dedupe(batches...))
		if err != nil {
			return err
		}
		printJSON(cmd, summary)
	}

	if !opts.SkipADOR && opts.ADORDir != "" {
		fmt.Fprintln(out, "[3] Syncing ADOR CSVs...")
		if err := runSync(cmd, store, opts.ADORDir, false, opts.BatchSize); err != nil {
			return err
		}
	}

	fmt.Fprintln(out, "[4] Verifying...")
	return runVerify(cmd, store)
}
