package ingest

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/google/uuid"
)

// DefaultBatchSize respects store-side payload limits on batched inserts.
const DefaultBatchSize = 500

// Config drives one engine instance. The zero value gives a skip-duplicate,
// auto-creating load with the default batch size.
type Config struct {
	// AutoCreateJurisdictions controls whether unknown region codes grow a
	// new city-level jurisdiction or are counted as skipped.
	AutoCreateJurisdictions bool
	// Overwrite switches duplicate handling from skip to upsert.
	Overwrite bool
	// BatchSize bounds one insert statement. Defaults to DefaultBatchSize.
	BatchSize int
	// CutoffDate, when set (ISO), drops records effective after it.
	CutoffDate string
	// Source labels the run in the ingest_runs audit table.
	Source string
	// Now is overridable for tests.
	Now func() time.Time
}

// Summary is the structured result of a run, the engine's primary
// observable output.
type Summary struct {
	TotalRecords               int      `json:"total_records"`
	Inserted                   int      `json:"inserted"`
	SkippedDuplicate           int      `json:"skipped_duplicate"`
	SkippedMissingJurisdiction int      `json:"skipped_missing_jurisdiction"`
	SkippedFuture              int      `json:"skipped_future,omitempty"`
	VersionsCreated            int      `json:"versions_created"`
	Errors                     []string `json:"errors"`
	Warnings                   []string `json:"warnings,omitempty"`
	Success                    bool     `json:"success"`
}

// Engine merges parsed rate records into the versioned rate table without
// duplicating (version, jurisdiction, business code) triples. Repeated runs
// over the same input converge to the same end state.
type Engine struct {
	store    Store
	cfg      Config
	resolver *Resolver
	codes    *Registry
	versions *VersionManager
}

// NewEngine builds an engine over the injected store, priming the
// jurisdiction cache.
func NewEngine(ctx context.Context, store Store, cfg Config) (*Engine, error) {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	resolver, err := NewResolver(ctx, store)
	if err != nil {
		return nil, err
	}
	return &Engine{
		store:    store,
		cfg:      cfg,
		resolver: resolver,
		codes:    NewRegistry(store),
		versions: NewVersionManager(store, cfg.Now),
	}, nil
}

// Resolver exposes the engine's jurisdiction resolver for seeding and
// coverage checks.
func (e *Engine) Resolver() *Resolver { return e.resolver }

// Ingest parses CSV content and merges it. effectiveDate (ISO) applies to
// rows without their own RateStartDate; it may be empty when every row
// carries one.
func (e *Engine) Ingest(ctx context.Context, csvContent string, effectiveDate string) (Summary, error) {
	res, err := ParseCSV(csvContent, ParseOptions{EffectiveDate: effectiveDate})
	if err != nil {
		return Summary{Errors: []string{err.Error()}}, err
	}
	if len(res.Records) == 0 {
		err := errors.New("no valid rate records found in csv")
		return Summary{Errors: []string{err.Error()}, Warnings: res.Warnings}, err
	}

	sum, err := e.Merge(ctx, Dedupe(res.Records))
	sum.Warnings = append(res.Warnings, sum.Warnings...)
	return sum, err
}

// Merge reconciles a batch of normalized records against the store. Dates
// are processed in ascending order for deterministic version allocation.
// Row- and batch-level failures are recorded, never fatal; only a store
// that cannot be read at all aborts the run.
func (e *Engine) Merge(ctx context.Context, records []Record) (Summary, error) {
	sum := Summary{TotalRecords: len(records), Errors: []string{}}
	started := e.cfg.Now()

	if l, ok := e.store.(Locker); ok {
		if err := l.AcquireLoadLock(ctx); err != nil {
			return sum, fmt.Errorf("acquire load lock: %w", err)
		}
		defer func() {
			if err := l.ReleaseLoadLock(ctx); err != nil {
				log.Printf("release load lock: %v", err)
			}
		}()
	}

	// Housekeeping first: business codes are best-effort and off the
	// dedup-critical path.
	for _, r := range records {
		if err := e.codes.Ensure(ctx, r.BusinessCode, r.BusinessName); err != nil {
			log.Printf("business code %s: %v", r.BusinessCode, err)
		}
	}

	byDate := map[string][]Record{}
	for _, r := range records {
		if e.cfg.CutoffDate != "" && r.EffectiveDate > e.cfg.CutoffDate {
			sum.SkippedFuture++
			continue
		}
		byDate[r.EffectiveDate] = append(byDate[r.EffectiveDate], r)
	}

	dates := make([]string, 0, len(byDate))
	for d := range byDate {
		dates = append(dates, d)
	}
	sort.Strings(dates)

	for _, date := range dates {
		if err := e.mergeDate(ctx, date, byDate[date], &sum); err != nil {
			sum.Errors = append(sum.Errors, err.Error())
		}
	}

	sum.Success = len(sum.Errors) == 0
	e.recordRun(ctx, started, sum)
	return sum, nil
}

// mergeDate handles one effective date: version identity, membership-set
// dedup, column routing, batched insert.
func (e *Engine) mergeDate(ctx context.Context, date string, records []Record, sum *Summary) error {
	versionID, created, err := e.versions.GetOrCreate(ctx, date)
	if err != nil {
		return err
	}
	if created {
		sum.VersionsCreated++
		log.Printf("created rate version %d for %s", versionID, date)
	}

	existing, err := e.store.RateKeysForVersion(ctx, versionID)
	if err != nil {
		return fmt.Errorf("fetch existing rates for version %d: %w", versionID, err)
	}

	var staged []Rate
	for _, r := range records {
		var res Resolved
		var ok bool
		if e.cfg.AutoCreateJurisdictions {
			res, err = e.resolver.ResolveOrCreate(ctx, r.RegionCode, r.RegionName)
			if err != nil {
				sum.Errors = append(sum.Errors, err.Error())
				continue
			}
		} else if res, ok = e.resolver.Resolve(r.RegionCode); !ok {
			sum.SkippedMissingJurisdiction++
			continue
		}

		key := RateKey{JurisdictionID: res.ID, BusinessCode: r.BusinessCode}
		if _, dup := existing[key]; dup {
			if e.cfg.Overwrite {
				if err := e.store.UpsertRate(ctx, e.route(versionID, res, r)); err != nil {
					sum.Errors = append(sum.Errors, fmt.Sprintf("upsert %s/%s @ %s: %v", r.RegionCode, r.BusinessCode, date, err))
					continue
				}
				sum.Inserted++
			} else {
				sum.SkippedDuplicate++
			}
			continue
		}

		staged = append(staged, e.route(versionID, res, r))
		existing[key] = struct{}{}
	}

	e.insertStaged(ctx, date, staged, sum)
	return nil
}

// route places the parsed rate in the column matching the jurisdiction's
// level. State rate is always 0 in this dataset.
func (e *Engine) route(versionID int, res Resolved, r Record) Rate {
	rate := Rate{
		RateVersionID:  versionID,
		JurisdictionID: res.ID,
		BusinessCode:   r.BusinessCode,
	}
	if res.Level == LevelCounty {
		rate.CountyRate = r.Rate
	} else {
		rate.CityRate = r.Rate
	}
	return rate
}

// insertStaged writes staged rows in bounded batches. A failed batch falls
// back to per-row insertion so one bad row does not void the rest.
func (e *Engine) insertStaged(ctx context.Context, date string, staged []Rate, sum *Summary) {
	for i := 0; i < len(staged); i += e.cfg.BatchSize {
		end := i + e.cfg.BatchSize
		if end > len(staged) {
			end = len(staged)
		}
		batch := staged[i:end]

		if err := e.store.InsertRates(ctx, batch); err == nil {
			sum.Inserted += len(batch)
			continue
		} else {
			log.Printf("batch insert failed for %s, retrying per row: %v", date, err)
		}

		for _, row := range batch {
			if err := e.store.InsertRate(ctx, row); err != nil {
				sum.Errors = append(sum.Errors, fmt.Sprintf("insert %d/%s @ %s: %v", row.JurisdictionID, row.BusinessCode, date, err))
				continue
			}
			sum.Inserted++
		}
	}
}

func (e *Engine) recordRun(ctx context.Context, started time.Time, sum Summary) {
	run := IngestRun{
		ID:                         uuid.New(),
		Source:                     e.cfg.Source,
		StartedAt:                  started,
		FinishedAt:                 e.cfg.Now(),
		TotalRecords:               sum.TotalRecords,
		Inserted:                   sum.Inserted,
		SkippedDuplicate:           sum.SkippedDuplicate,
		SkippedMissingJurisdiction: sum.SkippedMissingJurisdiction,
		VersionsCreated:            sum.VersionsCreated,
		Errors:                     sum.Errors,
		Success:                    sum.Success,
	}
	if err := e.store.RecordIngestRun(ctx, run); err != nil {
		log.Printf("record ingest run: %v", err)
	}
}
