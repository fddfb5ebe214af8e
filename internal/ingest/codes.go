package ingest

import (
	"context"
	"fmt"
)

// Registry idempotently ensures business classification codes exist.
// Housekeeping data: failures are reported to the caller for logging but
// never abort a batch.
type Registry struct {
	store Store
	seen  map[string]bool
}

func NewRegistry(store Store) *Registry {
	return &Registry{store: store, seen: map[string]bool{}}
}

// Ensure upserts one code. An empty description falls back to
// "Business Code {code}". Codes already ensured this run are skipped.
func (g *Registry) Ensure(ctx context.Context, code, description string) error {
	if g.seen[code] {
		return nil
	}
	if description == "" {
		description = fmt.Sprintf("Business Code %s", code)
	}
	if err := g.store.UpsertBusinessCode(ctx, BusinessCode{Code: code, Description: description}); err != nil {
		return fmt.Errorf("upsert business code %s: %w", code, err)
	}
	g.seen[code] = true
	return nil
}
