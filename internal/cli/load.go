package cli

import (
	"fmt"
	"os"

	"github.com/cactuscomply/tpt-rates/internal/ingest"
	"github.com/spf13/cobra"
)

// LoadOptions holds flags for the load command.
type LoadOptions struct {
	*RootOptions
	Date         string
	AutoCreate   bool
	Overwrite    bool
	Cutoff       string
	SeedCounties bool
}

// NewLoadCommand loads one or more rate CSVs. Files whose names embed a
// TPT_RATETABLE date get that date; otherwise --date or per-row
// RateStartDate columns apply. Overlapping files merge last-write-wins in
// the order given.
func NewLoadCommand(root *RootOptions) *cobra.Command {
	opts := &LoadOptions{RootOptions: root}

	cmd := &cobra.Command{
		Use:   "load <csv-file>...",
		Short: "Load rate CSVs into the store",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLoad(cmd, opts, args)
		},
	}

	cmd.Flags().StringVar(&opts.Date, "date", "", "effective date (ISO) for rows without their own start date")
	cmd.Flags().BoolVar(&opts.AutoCreate, "auto-create", true, "create jurisdictions for unknown region codes")
	cmd.Flags().BoolVar(&opts.Overwrite, "overwrite", false, "overwrite existing rates instead of skipping duplicates")
	cmd.Flags().StringVar(&opts.Cutoff, "cutoff", "", "skip records effective after this ISO date")
	cmd.Flags().BoolVar(&opts.SeedCounties, "seed-counties", false, "ensure the 15 Arizona counties exist before loading")

	return cmd
}

func runLoad(cmd *cobra.Command, opts *LoadOptions, paths []string) error {
	ctx := cmd.Context()

	batches, err := parseSources(cmd, paths, opts.Date)
	if err != nil {
		return err
	}

	store, cleanup, err := opts.openStore()
	if err != nil {
		return err
	}
	defer cleanup()

	engine, err := ingest.NewEngine(ctx, store, ingest.Config{
		AutoCreateJurisdictions: opts.AutoCreate,
		Overwrite:               opts.Overwrite,
		BatchSize:               opts.BatchSize,
		CutoffDate:              opts.Cutoff,
		Source:                  fmt.Sprintf("load:%d files", len(paths)),
	})
	if err != nil {
		return err
	}

	if opts.SeedCounties {
		created, err := engine.Resolver().SeedCounties(ctx)
		if err != nil {
			return err
		}
		if created > 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "Seeded %d county jurisdictions\n", created)
		}
	}

	summary, err := engine.Merge(ctx, ingest.Dedupe(batches...))
	if err != nil {
		return err
	}

	printJSON(cmd, summary)
	return nil
}

// parseSources reads each CSV into a record batch, preferring a
// filename-embedded date, then the --date flag, then per-row start dates.
func parseSources(cmd *cobra.Command, paths []string, defaultDate string) ([][]ingest.Record, error) {
	var batches [][]ingest.Record
	for _, path := range paths {
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}

		date := defaultDate
		if fromName, err := ingest.DateFromFilename(path); err == nil {
			date = fromName
		}

		res, err := ingest.ParseCSV(string(content), ingest.ParseOptions{EffectiveDate: date})
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		for _, warning := range res.Warnings {
			fmt.Fprintf(cmd.ErrOrStderr(), "WARNING %s: %s\n", path, warning)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Parsed %d records from %s\n", len(res.Records), path)
		batches = append(batches, res.Records)
	}
	return batches, nil
}
