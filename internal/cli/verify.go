package cli

import (
	"fmt"

	"github.com/cactuscomply/tpt-rates/internal/ingest"
	"github.com/spf13/cobra"
)

// NewVerifyCommand reports county coverage and the spot-check city rates
// without modifying anything.
func NewVerifyCommand(root *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Verify county coverage and spot-check city rates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, cleanup, err := root.openStore()
			if err != nil {
				return err
			}
			defer cleanup()

			return runVerify(cmd, store)
		},
	}
}

func runVerify(cmd *cobra.Command, store ingest.Store) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	report, err := ingest.VerifyCountyCoverage(ctx, store)
	if err != nil {
		return err
	}

	for _, c := range report.Counties {
		if c.RateCount == 0 {
			fmt.Fprintf(out, "[NO RATES] %s (%s)\n", c.Name, c.RegionCode)
			continue
		}
		fmt.Fprintf(out, "[OK] %s (%s): %d rates\n", c.Name, c.RegionCode, c.RateCount)
	}
	for _, code := range report.MissingCounties {
		fmt.Fprintf(out, "[MISSING] %s (%s)\n", ingest.CountyCodes[code], code)
	}
	if report.AllCountiesCover {
		fmt.Fprintln(out, "All counties have rates")
	}

	checks, err := ingest.SpotCheckRates(ctx, store)
	if err != nil {
		return err
	}
	for _, c := range checks {
		if !c.Found {
			fmt.Fprintf(out, "%s (%s): NO RATE FOUND\n", c.Name, c.CityCode)
			continue
		}
		fmt.Fprintf(out, "%s (%s): %.2f%%\n", c.Name, c.CityCode, c.CityRate*100)
	}
	return nil
}
