package ingest

import (
	"context"
	"fmt"
	"time"
)

// VersionManager maps effective dates to rate-version identities. One
// version per distinct calendar date; the store's unique index on
// effective_date backs that up.
type VersionManager struct {
	store Store
	now   func() time.Time
}

func NewVersionManager(store Store, now func() time.Time) *VersionManager {
	if now == nil {
		now = time.Now
	}
	return &VersionManager{store: store, now: now}
}

// GetOrCreate returns the version id for an ISO effective date, creating a
// version when none exists. The second return reports whether one was
// created.
func (m *VersionManager) GetOrCreate(ctx context.Context, effectiveDate string) (int, bool, error) {
	existing, err := m.store.RateVersionByDate(ctx, effectiveDate)
	if err != nil {
		return 0, false, fmt.Errorf("lookup rate version %s: %w", effectiveDate, err)
	}
	if existing != nil {
		return existing.ID, false, nil
	}

	date, err := parseISODate(effectiveDate)
	if err != nil {
		return 0, false, fmt.Errorf("bad effective date %q: %w", effectiveDate, err)
	}

	v := RateVersion{EffectiveDate: date, LoadedAt: m.now()}
	if err := m.store.CreateRateVersion(ctx, &v); err != nil {
		return 0, false, fmt.Errorf("create rate version %s: %w", effectiveDate, err)
	}
	return v.ID, true, nil
}
