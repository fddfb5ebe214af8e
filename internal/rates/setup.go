package rates

import (
	"context"
	"fmt"
	"log"

	"github.com/cactuscomply/tpt-rates/internal/ingest"
)

// Init migrates the ingest tables and, when asked, seeds the 15 Arizona
// county jurisdictions.
func Init(ctx context.Context, store *ingest.GormStore, seedCounties bool) error {
	if err := store.Migrate(); err != nil {
		return err
	}

	if !seedCounties {
		return nil
	}

	resolver, err := ingest.NewResolver(ctx, store)
	if err != nil {
		return err
	}
	created, err := resolver.SeedCounties(ctx)
	if err != nil {
		return fmt.Errorf("seed counties: %w", err)
	}
	if created > 0 {
		log.Printf("seeded %d county jurisdictions", created)
	}
	return nil
}
