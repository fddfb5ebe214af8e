package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Record is one normalized rate row out of an ADOR CSV.
type Record struct {
	RegionCode    string
	RegionName    string
	BusinessCode  string
	BusinessName  string
	Rate          float64
	EffectiveDate string // ISO date (YYYY-MM-DD)
}

// Key is the natural dedup key across source files.
func (r Record) Key() RecordKey {
	return RecordKey{EffectiveDate: r.EffectiveDate, RegionCode: r.RegionCode, BusinessCode: r.BusinessCode}
}

type RecordKey struct {
	EffectiveDate string
	RegionCode    string
	BusinessCode  string
}

type ParseOptions struct {
	// EffectiveDate applies to rows that carry no RateStartDate of their
	// own. ISO date string.
	EffectiveDate string
}

// ParseResult carries the parsed records plus non-fatal row warnings.
type ParseResult struct {
	Records  []Record
	Warnings []string
}

// Date layouts ADOR has shipped over the years, tried in order. The first
// one that matches wins.
var dateLayouts = []string{
	"1/2/2006 3:04:05 PM",
	"1/2/2006 15:04",
	"1/2/2006",
	"2006-01-02",
}

// ParseCSV turns raw ADOR CSV content into normalized records. Row-level
// problems (bad rate, bad date, empty codes) drop the row and continue;
// only a structurally unreadable file is an error.
func ParseCSV(content string, opts ParseOptions) (ParseResult, error) {
	var res ParseResult

	r := csv.NewReader(strings.NewReader(content))
	r.FieldsPerRecord = -1

	rows, err := r.ReadAll()
	if err != nil {
		return res, fmt.Errorf("read csv: %w", err)
	}
	if len(rows) < 2 {
		return res, errors.New("csv has no data rows")
	}

	header := rows[0]
	// Handle BOM on first header cell
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}

	col := map[string]int{}
	for i, h := range header {
		col[strings.TrimSpace(h)] = i
	}

	for _, name := range []string{"RegionCode", "BusinessCode", "TaxRate"} {
		if _, ok := col[name]; !ok {
			return res, fmt.Errorf("missing required column: %s", name)
		}
	}

	for rowIdx := 1; rowIdx < len(rows); rowIdx++ {
		rec := rows[rowIdx]
		get := func(name string) string {
			i, ok := col[name]
			if !ok || i >= len(rec) {
				return ""
			}
			return strings.TrimSpace(rec[i])
		}

		regionCode := get("RegionCode")
		businessCode := get("BusinessCode")

		rawRate := get("TaxRate")
		rate, ok := parseRate(rawRate)
		if !ok && rawRate != "" {
			// blank cells are "no rate" rows, not malformed input
			res.Warnings = append(res.Warnings, fmt.Sprintf("row %d: unparseable rate %q, using 0", rowIdx+1, rawRate))
		}

		effectiveDate := opts.EffectiveDate
		if ds := get("RateStartDate"); ds != "" {
			parsed, ok := parseDate(ds)
			if !ok {
				res.Warnings = append(res.Warnings, fmt.Sprintf("row %d: unparseable date %q, dropping row", rowIdx+1, ds))
				continue
			}
			effectiveDate = parsed
		}

		// "No rate" rows, not malformed rows
		if regionCode == "" || businessCode == "" || rate <= 0 {
			continue
		}
		if effectiveDate == "" {
			res.Warnings = append(res.Warnings, fmt.Sprintf("row %d: no effective date, dropping row", rowIdx+1))
			continue
		}

		res.Records = append(res.Records, Record{
			RegionCode:    regionCode,
			RegionName:    get("RegionName"),
			BusinessCode:  businessCode,
			BusinessName:  get("BusinessCodesName"),
			Rate:          rate,
			EffectiveDate: effectiveDate,
		})
	}

	return res, nil
}

// parseRate normalizes a rate string to a decimal in [0,1]. A trailing "%"
// is stripped; a numeric value greater than 1 is read as a percentage and
// divided by 100. Values like "0.5%" stay as-is (0.5 <= 1), a known
// ambiguity in the source data. Returns ok=false when the string does not
// parse at all, in which case the rate is 0.
func parseRate(s string) (float64, bool) {
	s = strings.TrimSuffix(strings.TrimSpace(s), "%")
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	if v > 1 {
		v = v / 100.0
	}
	return math.Round(v*1e6) / 1e6, true
}

func parseDate(s string) (string, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("2006-01-02"), true
		}
	}
	return "", false
}

// Dedupe collapses records sharing (effective_date, region_code,
// business_code) with last-write-wins: when the same triple appears in two
// batches processed in sequence, the later batch's rate survives. Order of
// first appearance is preserved.
func Dedupe(batches ...[]Record) []Record {
	seen := map[RecordKey]int{}
	var out []Record
	for _, batch := range batches {
		for _, r := range batch {
			if i, ok := seen[r.Key()]; ok {
				out[i] = r
				continue
			}
			seen[r.Key()] = len(out)
			out = append(out, r)
		}
	}
	return out
}
