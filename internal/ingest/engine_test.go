package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClock() func() time.Time {
	return func() time.Time { return time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC) }
}

func newTestEngine(t *testing.T, store Store, cfg Config) *Engine {
	t.Helper()
	cfg.Now = testClock()
	engine, err := NewEngine(context.Background(), store, cfg)
	require.NoError(t, err)
	return engine
}

// TestIngest_EndToEnd runs the canonical two-city scenario against an
// empty store.
func TestIngest_EndToEnd(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	engine := newTestEngine(t, store, Config{AutoCreateJurisdictions: true})

	sum, err := engine.Ingest(ctx, sampleCSV, "2026-03-01")
	require.NoError(t, err)

	assert.True(t, sum.Success)
	assert.Equal(t, 2, sum.TotalRecords)
	assert.Equal(t, 2, sum.Inserted)
	assert.Equal(t, 0, sum.SkippedDuplicate)
	assert.Equal(t, 0, sum.SkippedMissingJurisdiction)
	assert.Equal(t, 1, sum.VersionsCreated)

	versions, err := store.RateVersions(ctx)
	require.NoError(t, err)
	require.Len(t, versions, 1)
	assert.Equal(t, "2026-03-01", versions[0].EffectiveDate.Format("2006-01-02"))

	jurs, err := store.Jurisdictions(ctx)
	require.NoError(t, err)
	require.Len(t, jurs, 2)
	assert.Equal(t, "Phoenix", jurs[0].CityName)
	assert.Equal(t, LevelCity, jurs[0].Level)

	codes := store.BusinessCodes()
	require.Len(t, codes, 1)
	assert.Equal(t, "011", codes[0].Code)
	assert.Equal(t, "Restaurants", codes[0].Description)

	rows := store.Rates()
	require.Len(t, rows, 2)
	byJur := map[int]Rate{}
	for _, r := range rows {
		byJur[r.JurisdictionID] = r
		assert.Zero(t, r.StateRate)
		assert.Zero(t, r.CountyRate)
	}
	assert.InDelta(t, 0.024, byJur[jurs[0].ID].CityRate, 1e-6)
	assert.InDelta(t, 0.023, byJur[jurs[1].ID].CityRate, 1e-6)
}

// TestIngest_Idempotent verifies a second identical run inserts nothing
// and counts every record as a duplicate.
func TestIngest_Idempotent(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	engine := newTestEngine(t, store, Config{AutoCreateJurisdictions: true})

	first, err := engine.Ingest(ctx, sampleCSV, "2026-03-01")
	require.NoError(t, err)
	require.Equal(t, 2, first.Inserted)

	second, err := engine.Ingest(ctx, sampleCSV, "2026-03-01")
	require.NoError(t, err)
	assert.Equal(t, 0, second.Inserted)
	assert.Equal(t, 2, second.SkippedDuplicate)
	assert.Equal(t, 0, second.VersionsCreated)
	assert.True(t, second.Success)
	assert.Len(t, store.Rates(), 2)
}

// TestMerge_CountyColumnRouting verifies county-level jurisdictions get
// the rate in county_rate and cities in city_rate.
func TestMerge_CountyColumnRouting(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	engine := newTestEngine(t, store, Config{AutoCreateJurisdictions: true})

	_, err := engine.Resolver().SeedCounties(ctx)
	require.NoError(t, err)

	sum, err := engine.Merge(ctx, []Record{
		{RegionCode: "MAR", RegionName: "Maricopa", BusinessCode: "011", Rate: 0.007, EffectiveDate: "2026-01-01"},
		{RegionCode: "PX", RegionName: "PHOENIX", BusinessCode: "011", Rate: 0.024, EffectiveDate: "2026-01-01"},
	})
	require.NoError(t, err)
	require.Equal(t, 2, sum.Inserted)

	for _, r := range store.Rates() {
		mar, _ := engine.Resolver().Resolve("MAR")
		if r.JurisdictionID == mar.ID {
			assert.InDelta(t, 0.007, r.CountyRate, 1e-6)
			assert.Zero(t, r.CityRate)
		} else {
			assert.InDelta(t, 0.024, r.CityRate, 1e-6)
			assert.Zero(t, r.CountyRate)
		}
	}
}

// TestMerge_VersionPerDistinctDate verifies version count equals distinct
// effective dates regardless of record count.
func TestMerge_VersionPerDistinctDate(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	engine := newTestEngine(t, store, Config{AutoCreateJurisdictions: true})

	sum, err := engine.Merge(ctx, []Record{
		{RegionCode: "PX", BusinessCode: "011", Rate: 0.024, EffectiveDate: "2025-01-01"},
		{RegionCode: "TU", BusinessCode: "011", Rate: 0.023, EffectiveDate: "2025-01-01"},
		{RegionCode: "PX", BusinessCode: "011", Rate: 0.025, EffectiveDate: "2025-06-01"},
		{RegionCode: "PX", BusinessCode: "017", Rate: 0.020, EffectiveDate: "2026-01-01"},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, sum.VersionsCreated)

	versions, err := store.RateVersions(ctx)
	require.NoError(t, err)
	require.Len(t, versions, 3)
	// ascending date order drives deterministic allocation
	assert.Equal(t, "2025-01-01", versions[0].EffectiveDate.Format("2006-01-02"))
	assert.Equal(t, "2026-01-01", versions[2].EffectiveDate.Format("2006-01-02"))
	assert.True(t, versions[0].ID < versions[1].ID && versions[1].ID < versions[2].ID)
}

// TestMerge_MissingJurisdiction verifies unknown region codes are counted
// and written nowhere when auto-creation is off.
func TestMerge_MissingJurisdiction(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	engine := newTestEngine(t, store, Config{AutoCreateJurisdictions: false})

	sum, err := engine.Merge(ctx, []Record{
		{RegionCode: "ZZ", BusinessCode: "011", Rate: 0.02, EffectiveDate: "2026-01-01"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.SkippedMissingJurisdiction)
	assert.Equal(t, 0, sum.Inserted)
	assert.Empty(t, store.Rates())

	jurs, err := store.Jurisdictions(ctx)
	require.NoError(t, err)
	assert.Empty(t, jurs)
}

// TestMerge_LastWriteWinsAcrossBatches runs the two-batch overlap scenario
// end to end: the second file's value is what lands in the store.
func TestMerge_LastWriteWinsAcrossBatches(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	engine := newTestEngine(t, store, Config{AutoCreateJurisdictions: true})

	batch1 := []Record{{RegionCode: "PX", BusinessCode: "011", Rate: 0.024, EffectiveDate: "2025-01-01"}}
	batch2 := []Record{{RegionCode: "PX", BusinessCode: "011", Rate: 0.025, EffectiveDate: "2025-01-01"}}

	sum, err := engine.Merge(ctx, Dedupe(batch1, batch2))
	require.NoError(t, err)
	require.Equal(t, 1, sum.Inserted)

	rows := store.Rates()
	require.Len(t, rows, 1)
	assert.InDelta(t, 0.025, rows[0].CityRate, 1e-6)
}

// TestMerge_OverwriteMode verifies the upsert variant replaces an existing
// rate instead of skipping it.
func TestMerge_OverwriteMode(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()

	first := newTestEngine(t, store, Config{AutoCreateJurisdictions: true})
	_, err := first.Merge(ctx, []Record{
		{RegionCode: "PX", BusinessCode: "011", Rate: 0.024, EffectiveDate: "2025-01-01"},
	})
	require.NoError(t, err)

	second := newTestEngine(t, store, Config{AutoCreateJurisdictions: true, Overwrite: true})
	sum, err := second.Merge(ctx, []Record{
		{RegionCode: "PX", BusinessCode: "011", Rate: 0.03, EffectiveDate: "2025-01-01"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Inserted)
	assert.Equal(t, 0, sum.SkippedDuplicate)

	rows := store.Rates()
	require.Len(t, rows, 1)
	assert.InDelta(t, 0.03, rows[0].CityRate, 1e-6)
}

// TestMerge_CutoffDate verifies future-dated records are counted and
// skipped.
func TestMerge_CutoffDate(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	engine := newTestEngine(t, store, Config{AutoCreateJurisdictions: true, CutoffDate: "2026-02-04"})

	sum, err := engine.Merge(ctx, []Record{
		{RegionCode: "PX", BusinessCode: "011", Rate: 0.024, EffectiveDate: "2026-02-01"},
		{RegionCode: "PX", BusinessCode: "011", Rate: 0.025, EffectiveDate: "2026-06-01"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Inserted)
	assert.Equal(t, 1, sum.SkippedFuture)
	assert.Len(t, store.Rates(), 1)
}

// TestMerge_RecordsAuditRun verifies every run leaves an ingest_runs row
// with the run's counters.
func TestMerge_RecordsAuditRun(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	engine := newTestEngine(t, store, Config{AutoCreateJurisdictions: true, Source: "test"})

	_, err := engine.Merge(ctx, []Record{
		{RegionCode: "PX", BusinessCode: "011", Rate: 0.024, EffectiveDate: "2025-01-01"},
	})
	require.NoError(t, err)

	runs := store.IngestRuns()
	require.Len(t, runs, 1)
	assert.Equal(t, "test", runs[0].Source)
	assert.Equal(t, 1, runs[0].Inserted)
	assert.True(t, runs[0].Success)
	assert.NotEqual(t, runs[0].ID.String(), "00000000-0000-0000-0000-000000000000")
}

// TestMerge_FallbackDescription verifies empty business names fall back to
// "Business Code {code}".
func TestMerge_FallbackDescription(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	engine := newTestEngine(t, store, Config{AutoCreateJurisdictions: true})

	_, err := engine.Merge(ctx, []Record{
		{RegionCode: "PX", BusinessCode: "029", Rate: 0.02, EffectiveDate: "2025-01-01"},
	})
	require.NoError(t, err)

	codes := store.BusinessCodes()
	require.Len(t, codes, 1)
	assert.Equal(t, "Business Code 029", codes[0].Description)
}

// flakyBatchStore fails any batch insert containing the poison business
// code, and fails only that row on the per-row retry.
type flakyBatchStore struct {
	*MemStore
	poisonCode string
}

func (s *flakyBatchStore) InsertRates(ctx context.Context, rates []Rate) error {
	for _, r := range rates {
		if r.BusinessCode == s.poisonCode {
			return errors.New("batch rejected")
		}
	}
	return s.MemStore.InsertRates(ctx, rates)
}

func (s *flakyBatchStore) InsertRate(ctx context.Context, r Rate) error {
	if r.BusinessCode == s.poisonCode {
		return errors.New("row rejected")
	}
	return s.MemStore.InsertRate(ctx, r)
}

// TestMerge_BatchFailureFallsBackPerRow verifies that one bad row in a
// batch does not void the rest: the batch failure triggers per-row
// inserts, the good rows land, and exactly the bad row is reported.
func TestMerge_BatchFailureFallsBackPerRow(t *testing.T) {
	ctx := context.Background()
	store := &flakyBatchStore{MemStore: NewMemStore(), poisonCode: "017"}
	engine := newTestEngine(t, store, Config{AutoCreateJurisdictions: true})

	sum, err := engine.Merge(ctx, []Record{
		{RegionCode: "PX", RegionName: "PHOENIX", BusinessCode: "011", Rate: 0.024, EffectiveDate: "2026-03-01"},
		{RegionCode: "TU", RegionName: "TUCSON", BusinessCode: "011", Rate: 0.023, EffectiveDate: "2026-03-01"},
		{RegionCode: "PX", RegionName: "PHOENIX", BusinessCode: "017", Rate: 0.018, EffectiveDate: "2026-03-01"},
	})
	require.NoError(t, err)

	assert.Equal(t, 2, sum.Inserted)
	require.Len(t, sum.Errors, 1)
	assert.Contains(t, sum.Errors[0], "row rejected")
	assert.False(t, sum.Success)

	rows := store.Rates()
	require.Len(t, rows, 2)
	for _, r := range rows {
		assert.Equal(t, "011", r.BusinessCode)
	}
}

// lockingStore wraps the MemStore with a recording load lock.
type lockingStore struct {
	*MemStore
	calls      []string
	acquireErr error
}

func (s *lockingStore) AcquireLoadLock(ctx context.Context) error {
	s.calls = append(s.calls, "acquire")
	return s.acquireErr
}

func (s *lockingStore) ReleaseLoadLock(ctx context.Context) error {
	s.calls = append(s.calls, "release")
	return nil
}

// TestMerge_LockAcquiredAndReleased verifies that a store exposing a load
// lock is locked for the duration of a merge and released afterwards.
func TestMerge_LockAcquiredAndReleased(t *testing.T) {
	ctx := context.Background()
	store := &lockingStore{MemStore: NewMemStore()}
	engine := newTestEngine(t, store, Config{AutoCreateJurisdictions: true})

	sum, err := engine.Merge(ctx, []Record{
		{RegionCode: "PX", RegionName: "PHOENIX", BusinessCode: "011", Rate: 0.024, EffectiveDate: "2026-03-01"},
	})
	require.NoError(t, err)
	assert.True(t, sum.Success)
	assert.Equal(t, []string{"acquire", "release"}, store.calls)
}

// TestMerge_LockAcquireFailureAborts verifies that a merge that cannot
// take the load lock writes nothing and does not release.
func TestMerge_LockAcquireFailureAborts(t *testing.T) {
	ctx := context.Background()
	store := &lockingStore{MemStore: NewMemStore(), acquireErr: errors.New("lock held")}
	engine := newTestEngine(t, store, Config{AutoCreateJurisdictions: true})

	_, err := engine.Merge(ctx, []Record{
		{RegionCode: "PX", RegionName: "PHOENIX", BusinessCode: "011", Rate: 0.024, EffectiveDate: "2026-03-01"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lock held")
	assert.Equal(t, []string{"acquire"}, store.calls)
	assert.Empty(t, store.Rates())
}
