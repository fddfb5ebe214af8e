package ingest

import "context"

// RateKey identifies a rate row within one version; the membership test the
// engine dedups against.
type RateKey struct {
	JurisdictionID int
	BusinessCode   string
}

// RateFilters narrows a current-rates query. Zero values mean "no filter".
type RateFilters struct {
	EffectiveDate string
	BusinessCode  string
	RegionCode    string
	MinRate       float64
}

// Store is the engine's view of the relational store. The production
// implementation is GormStore; tests and dry runs use MemStore.
type Store interface {
	Jurisdictions(ctx context.Context) ([]Jurisdiction, error)
	// CreateJurisdiction inserts j and fills in its assigned id.
	CreateJurisdiction(ctx context.Context, j *Jurisdiction) error

	UpsertBusinessCode(ctx context.Context, c BusinessCode) error

	// RateVersionByDate returns nil (no error) when no version exists for
	// the ISO date.
	RateVersionByDate(ctx context.Context, effectiveDate string) (*RateVersion, error)
	// CreateRateVersion inserts v and fills in its assigned id.
	CreateRateVersion(ctx context.Context, v *RateVersion) error
	RateVersions(ctx context.Context) ([]RateVersion, error)

	RateKeysForVersion(ctx context.Context, versionID int) (map[RateKey]struct{}, error)
	InsertRates(ctx context.Context, rows []Rate) error
	InsertRate(ctx context.Context, row Rate) error
	UpsertRate(ctx context.Context, row Rate) error
	CountRates(ctx context.Context, jurisdictionID int) (int64, error)
	// SampleRate returns any one rate row for the jurisdiction, nil when
	// it has none.
	SampleRate(ctx context.Context, jurisdictionID int) (*Rate, error)
	// LatestCityRate returns the newest-version rate for a city code and
	// business code, nil when absent.
	LatestCityRate(ctx context.Context, cityCode, businessCode string) (*Rate, error)

	// TruncateRateData empties rates and rate_versions (rates first, FK
	// order) ahead of a backup restore.
	TruncateRateData(ctx context.Context) error
	// InsertRateVersions inserts versions carrying explicit ids (backup
	// restore path).
	InsertRateVersions(ctx context.Context, rows []RateVersion) error

	RecordIngestRun(ctx context.Context, run IngestRun) error

	CurrentRates(ctx context.Context, f RateFilters) ([]CurrentRate, error)
}

// Locker is implemented by stores that can serialize loader runs. The
// engine takes the lock for the duration of a merge when available.
type Locker interface {
	AcquireLoadLock(ctx context.Context) error
	ReleaseLoadLock(ctx context.Context) error
}
