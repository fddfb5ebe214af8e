package ingest

import (
	"context"
	"fmt"
	"sort"
)

// CountyCoverage is one county's rate coverage.
type CountyCoverage struct {
	RegionCode     string `json:"region_code"`
	Name           string `json:"name"`
	JurisdictionID int    `json:"jurisdiction_id"`
	RateCount      int64  `json:"rate_count"`
	Sample         *Rate  `json:"sample,omitempty"`
}

// CoverageReport summarizes whether all 15 Arizona counties exist and carry
// rates.
type CoverageReport struct {
	Counties         []CountyCoverage `json:"counties"`
	MissingCounties  []string         `json:"missing_counties"`
	CountiesNoRates  []string         `json:"counties_without_rates"`
	AllCountiesCover bool             `json:"all_counties_covered"`
}

// VerifyCountyCoverage checks every reference county for existence and at
// least one rate row.
func VerifyCountyCoverage(ctx context.Context, store Store) (CoverageReport, error) {
	var report CoverageReport

	jurs, err := store.Jurisdictions(ctx)
	if err != nil {
		return report, fmt.Errorf("load jurisdictions: %w", err)
	}

	byRegion := map[string]Jurisdiction{}
	for _, j := range jurs {
		if j.Level == LevelCounty && j.RegionCode != "" {
			byRegion[j.RegionCode] = j
		}
	}

	codes := make([]string, 0, len(CountyCodes))
	for code := range CountyCodes {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	for _, code := range codes {
		j, ok := byRegion[code]
		if !ok {
			report.MissingCounties = append(report.MissingCounties, code)
			continue
		}

		n, err := store.CountRates(ctx, j.ID)
		if err != nil {
			return report, fmt.Errorf("count rates for %s: %w", code, err)
		}
		cov := CountyCoverage{
			RegionCode:     code,
			Name:           j.CountyName,
			JurisdictionID: j.ID,
			RateCount:      n,
		}
		if n == 0 {
			report.CountiesNoRates = append(report.CountiesNoRates, code)
		} else {
			cov.Sample, err = store.SampleRate(ctx, j.ID)
			if err != nil {
				return report, fmt.Errorf("sample rate for %s: %w", code, err)
			}
		}
		report.Counties = append(report.Counties, cov)
	}

	report.AllCountiesCover = len(report.MissingCounties) == 0 && len(report.CountiesNoRates) == 0
	return report, nil
}

// SpotCheck is the latest city rate for one well-known city.
type SpotCheck struct {
	CityCode string  `json:"city_code"`
	Name     string  `json:"name"`
	Found    bool    `json:"found"`
	CityRate float64 `json:"city_rate"`
}

// spotCheckCities are the jurisdictions the original operators eyeballed
// after every load, checked against the restaurant classification.
var spotCheckCities = []struct{ code, name string }{
	{"TU", "Tucson"},
	{"ME", "Mesa"},
	{"YM", "Yuma"},
	{"SE", "Sedona"},
	{"PX", "Phoenix"},
}

const spotCheckBusinessCode = "011"

// SpotCheckRates fetches the latest restaurant rate for each well-known
// city.
func SpotCheckRates(ctx context.Context, store Store) ([]SpotCheck, error) {
	var out []SpotCheck
	for _, city := range spotCheckCities {
		rate, err := store.LatestCityRate(ctx, city.code, spotCheckBusinessCode)
		if err != nil {
			return nil, fmt.Errorf("spot check %s: %w", city.code, err)
		}
		check := SpotCheck{CityCode: city.code, Name: city.name}
		if rate != nil {
			check.Found = true
			check.CityRate = rate.CityRate
		}
		out = append(out, check)
	}
	return out, nil
}
