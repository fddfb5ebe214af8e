package ingest

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

const (
	LevelCity   = "city"
	LevelCounty = "county"
)

type Jurisdiction struct {
	ID         int    `gorm:"primaryKey;autoIncrement;column:id" json:"id"`
	Level      string `gorm:"column:level" json:"level"`
	StateCode  string `gorm:"column:state_code" json:"state_code"`
	CityCode   string `gorm:"column:city_code" json:"city_code"`
	RegionCode string `gorm:"column:region_code" json:"region_code"`
	CityName   string `gorm:"column:city_name" json:"city_name"`
	CountyName string `gorm:"column:county_name" json:"county_name"`
}

func (Jurisdiction) TableName() string { return "jurisdictions" }

// Code returns the external key a jurisdiction is looked up by: region_code
// for counties, city_code for cities.
func (j Jurisdiction) Code() string {
	if j.Level == LevelCounty {
		return j.RegionCode
	}
	return j.CityCode
}

func (j Jurisdiction) DisplayName() string {
	if j.Level == LevelCounty {
		return j.CountyName
	}
	return j.CityName
}

type BusinessCode struct {
	Code        string `gorm:"primaryKey;column:code" json:"code"`
	Description string `gorm:"column:description" json:"description"`
}

func (BusinessCode) TableName() string { return "business_class_codes" }

type RateVersion struct {
	ID            int       `gorm:"primaryKey;autoIncrement;column:id" json:"id"`
	EffectiveDate time.Time `gorm:"type:date;uniqueIndex;column:effective_date" json:"effective_date"`
	LoadedAt      time.Time `gorm:"column:loaded_at" json:"loaded_at"`
}

func (RateVersion) TableName() string { return "rate_versions" }

type Rate struct {
	ID             int     `gorm:"primaryKey;autoIncrement;column:id" json:"id"`
	RateVersionID  int     `gorm:"column:rate_version_id;uniqueIndex:idx_rates_version_jur_code" json:"rate_version_id"`
	BusinessCode   string  `gorm:"column:business_code;uniqueIndex:idx_rates_version_jur_code" json:"business_code"`
	JurisdictionID int     `gorm:"column:jurisdiction_id;uniqueIndex:idx_rates_version_jur_code" json:"jurisdiction_id"`
	StateRate      float64 `gorm:"column:state_rate" json:"state_rate"`
	CountyRate     float64 `gorm:"column:county_rate" json:"county_rate"`
	CityRate       float64 `gorm:"column:city_rate" json:"city_rate"`
}

func (Rate) TableName() string { return "rates" }

// IngestRun is an audit row written once per engine run.
type IngestRun struct {
	ID                         uuid.UUID      `gorm:"type:uuid;primaryKey;column:id" json:"id"`
	Source                     string         `gorm:"column:source" json:"source"`
	StartedAt                  time.Time      `gorm:"column:started_at" json:"started_at"`
	FinishedAt                 time.Time      `gorm:"column:finished_at" json:"finished_at"`
	TotalRecords               int            `gorm:"column:total_records" json:"total_records"`
	Inserted                   int            `gorm:"column:inserted" json:"inserted"`
	SkippedDuplicate           int            `gorm:"column:skipped_duplicate" json:"skipped_duplicate"`
	SkippedMissingJurisdiction int            `gorm:"column:skipped_missing_jurisdiction" json:"skipped_missing_jurisdiction"`
	VersionsCreated            int            `gorm:"column:versions_created" json:"versions_created"`
	Errors                     pq.StringArray `gorm:"type:text[];column:errors" json:"errors"`
	Success                    bool           `gorm:"column:success" json:"success"`
}

func (IngestRun) TableName() string { return "ingest_runs" }

// CurrentRate is one row of the current_rates view: the latest version's
// rates joined with jurisdiction and business-code display data.
type CurrentRate struct {
	RateVersionID  int       `gorm:"column:rate_version_id" json:"rate_version_id"`
	EffectiveDate  time.Time `gorm:"column:effective_date" json:"effective_date"`
	JurisdictionID int       `gorm:"column:jurisdiction_id" json:"jurisdiction_id"`
	RegionCode     string    `gorm:"column:region_code" json:"region_code"`
	Region         string    `gorm:"column:region" json:"region"`
	Level          string    `gorm:"column:level" json:"level"`
	BusinessCode   string    `gorm:"column:business_code" json:"business_code"`
	BusinessName   string    `gorm:"column:business_name" json:"business_name"`
	StateRate      float64   `gorm:"column:state_rate" json:"state_rate"`
	CountyRate     float64   `gorm:"column:county_rate" json:"county_rate"`
	CityRate       float64   `gorm:"column:city_rate" json:"city_rate"`
	TotalRate      float64   `gorm:"column:total_rate" json:"total_rate"`
}

func (CurrentRate) TableName() string { return "current_rates" }
