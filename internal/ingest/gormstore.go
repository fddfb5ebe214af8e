package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// loadLockKey is the advisory-lock key shared by all loader processes
// against one database. Serializing loads is what keeps jurisdiction and
// version creation race-free across processes.
const loadLockKey = 420311

// GormStore is the Postgres-backed Store.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// Migrate creates the ingest tables and the current_rates view.
func (s *GormStore) Migrate() error {
	if err := s.db.AutoMigrate(&Jurisdiction{}, &BusinessCode{}, &RateVersion{}, &Rate{}, &IngestRun{}); err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}
	return s.db.Exec(currentRatesView).Error
}

const currentRatesView = `
CREATE OR REPLACE VIEW current_rates AS
SELECT r.rate_version_id,
       v.effective_date,
       r.jurisdiction_id,
       COALESCE(NULLIF(j.city_code, ''), j.region_code) AS region_code,
       COALESCE(NULLIF(j.city_name, ''), j.county_name) AS region,
       j.level,
       r.business_code,
       COALESCE(b.description, '') AS business_name,
       r.state_rate,
       r.county_rate,
       r.city_rate,
       r.state_rate + r.county_rate + r.city_rate AS total_rate
FROM rates r
JOIN rate_versions v ON v.id = r.rate_version_id
JOIN jurisdictions j ON j.id = r.jurisdiction_id
LEFT JOIN business_class_codes b ON b.code = r.business_code
WHERE v.id = (SELECT id FROM rate_versions ORDER BY effective_date DESC LIMIT 1)
`

func (s *GormStore) Jurisdictions(ctx context.Context) ([]Jurisdiction, error) {
	var out []Jurisdiction
	return out, s.db.WithContext(ctx).Find(&out).Error
}

func (s *GormStore) CreateJurisdiction(ctx context.Context, j *Jurisdiction) error {
	return s.db.WithContext(ctx).Create(j).Error
}

func (s *GormStore) UpsertBusinessCode(ctx context.Context, c BusinessCode) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "code"}},
		DoUpdates: clause.AssignmentColumns([]string{"description"}),
	}).Create(&c).Error
}

func (s *GormStore) RateVersionByDate(ctx context.Context, effectiveDate string) (*RateVersion, error) {
	var v RateVersion
	err := s.db.WithContext(ctx).Where("effective_date = ?", effectiveDate).First(&v).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (s *GormStore) CreateRateVersion(ctx context.Context, v *RateVersion) error {
	return s.db.WithContext(ctx).Create(v).Error
}

func (s *GormStore) RateVersions(ctx context.Context) ([]RateVersion, error) {
	var out []RateVersion
	return out, s.db.WithContext(ctx).Order("effective_date").Find(&out).Error
}

func (s *GormStore) RateKeysForVersion(ctx context.Context, versionID int) (map[RateKey]struct{}, error) {
	var rows []Rate
	err := s.db.WithContext(ctx).
		Select("jurisdiction_id", "business_code").
		Where("rate_version_id = ?", versionID).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	keys := make(map[RateKey]struct{}, len(rows))
	for _, r := range rows {
		keys[RateKey{JurisdictionID: r.JurisdictionID, BusinessCode: r.BusinessCode}] = struct{}{}
	}
	return keys, nil
}

// InsertRates writes one staged batch. ON CONFLICT DO NOTHING keeps the
// natural-key constraint and the engine's membership check in agreement.
func (s *GormStore) InsertRates(ctx context.Context, rows []Rate) error {
	if len(rows) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   rateConflictColumns,
		DoNothing: true,
	}).Create(&rows).Error
}

func (s *GormStore) InsertRate(ctx context.Context, row Rate) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   rateConflictColumns,
		DoNothing: true,
	}).Create(&row).Error
}

func (s *GormStore) UpsertRate(ctx context.Context, row Rate) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   rateConflictColumns,
		DoUpdates: clause.AssignmentColumns([]string{"state_rate", "county_rate", "city_rate"}),
	}).Create(&row).Error
}

var rateConflictColumns = []clause.Column{
	{Name: "rate_version_id"},
	{Name: "business_code"},
	{Name: "jurisdiction_id"},
}

func (s *GormStore) CountRates(ctx context.Context, jurisdictionID int) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&Rate{}).
		Where("jurisdiction_id = ?", jurisdictionID).
		Count(&n).Error
	return n, err
}

func (s *GormStore) SampleRate(ctx context.Context, jurisdictionID int) (*Rate, error) {
	var r Rate
	err := s.db.WithContext(ctx).Where("jurisdiction_id = ?", jurisdictionID).Limit(1).First(&r).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *GormStore) LatestCityRate(ctx context.Context, cityCode, businessCode string) (*Rate, error) {
	var r Rate
	err := s.db.WithContext(ctx).
		Joins("JOIN jurisdictions j ON j.id = rates.jurisdiction_id").
		Where("j.city_code = ? AND rates.business_code = ?", cityCode, businessCode).
		Order("rates.rate_version_id DESC").
		Limit(1).
		First(&r).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *GormStore) TruncateRateData(ctx context.Context) error {
	// rates first, FK order
	if err := s.db.WithContext(ctx).Exec("DELETE FROM rates").Error; err != nil {
		return fmt.Errorf("truncate rates: %w", err)
	}
	if err := s.db.WithContext(ctx).Exec("DELETE FROM rate_versions").Error; err != nil {
		return fmt.Errorf("truncate rate_versions: %w", err)
	}
	return nil
}

func (s *GormStore) InsertRateVersions(ctx context.Context, rows []RateVersion) error {
	if len(rows) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Create(&rows).Error
}

// SyncSequences bumps the serial sequences so auto-increment allocation
// starts above explicitly restored ids.
func (s *GormStore) SyncSequences(ctx context.Context) error {
	for _, table := range []string{"rate_versions", "rates"} {
		sql := fmt.Sprintf(
			"SELECT setval(pg_get_serial_sequence('%s', 'id'), (SELECT COALESCE(MAX(id), 1) FROM %s))",
			table, table)
		if err := s.db.WithContext(ctx).Exec(sql).Error; err != nil {
			return fmt.Errorf("sync %s sequence: %w", table, err)
		}
	}
	return nil
}

func (s *GormStore) RecordIngestRun(ctx context.Context, run IngestRun) error {
	return s.db.WithContext(ctx).Create(&run).Error
}

func (s *GormStore) CurrentRates(ctx context.Context, f RateFilters) ([]CurrentRate, error) {
	var out []CurrentRate
	q := s.db.WithContext(ctx)

	regionExpr := "region_code"
	if f.EffectiveDate != "" {
		regionExpr = "COALESCE(NULLIF(j.city_code, ''), j.region_code)"
		// A specific version rather than the latest: same shape as the
		// view, pinned to the requested date.
		q = q.Table("rates AS r").
			Select(`r.rate_version_id, v.effective_date, r.jurisdiction_id,
				COALESCE(NULLIF(j.city_code, ''), j.region_code) AS region_code,
				COALESCE(NULLIF(j.city_name, ''), j.county_name) AS region,
				j.level, r.business_code,
				COALESCE(b.description, '') AS business_name,
				r.state_rate, r.county_rate, r.city_rate,
				r.state_rate + r.county_rate + r.city_rate AS total_rate`).
			Joins("JOIN rate_versions v ON v.id = r.rate_version_id").
			Joins("JOIN jurisdictions j ON j.id = r.jurisdiction_id").
			Joins("LEFT JOIN business_class_codes b ON b.code = r.business_code").
			Where("v.effective_date = ?", f.EffectiveDate)
	} else {
		q = q.Table("current_rates")
	}

	if f.BusinessCode != "" {
		q = q.Where("business_code = ?", f.BusinessCode)
	}
	if f.RegionCode != "" {
		q = q.Where(regionExpr+" = ?", f.RegionCode)
	}
	if f.MinRate > 0 {
		q = q.Where("state_rate + county_rate + city_rate >= ?", f.MinRate)
	}

	return out, q.Scan(&out).Error
}

func (s *GormStore) AcquireLoadLock(ctx context.Context) error {
	lockCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	return s.db.WithContext(lockCtx).Exec("SELECT pg_advisory_lock(?)", loadLockKey).Error
}

func (s *GormStore) ReleaseLoadLock(ctx context.Context) error {
	return s.db.WithContext(ctx).Exec("SELECT pg_advisory_unlock(?)", loadLockKey).Error
}
