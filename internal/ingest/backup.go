package ingest

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	backupVersionsRe = regexp.MustCompile(`(?s)COPY public\.rate_versions[^\n]*FROM stdin;\n(.*?)\n\\\.`)
	backupRatesRe    = regexp.MustCompile(`(?s)COPY public\.rates[^\n]*FROM stdin;\n(.*?)\n\\\.`)
)

// pg_dump timestamp layouts seen in backups.
var loadedAtLayouts = []string{
	"2006-01-02 15:04:05.999999-07",
	"2006-01-02 15:04:05-07",
	"2006-01-02 15:04:05.999999",
	"2006-01-02 15:04:05",
}

// ParseBackupSQL extracts rate_versions and rates rows from the COPY blocks
// of a pg_dump file.
func ParseBackupSQL(content string) ([]RateVersion, []Rate, error) {
	var versions []RateVersion
	if m := backupVersionsRe.FindStringSubmatch(content); m != nil {
		for lineNo, line := range strings.Split(strings.TrimSpace(m[1]), "\n") {
			if strings.TrimSpace(line) == "" {
				continue
			}
			v, err := parseVersionLine(line)
			if err != nil {
				return nil, nil, fmt.Errorf("rate_versions line %d: %w", lineNo+1, err)
			}
			versions = append(versions, v)
		}
	}

	var rates []Rate
	if m := backupRatesRe.FindStringSubmatch(content); m != nil {
		for lineNo, line := range strings.Split(strings.TrimSpace(m[1]), "\n") {
			if strings.TrimSpace(line) == "" {
				continue
			}
			r, err := parseRateLine(line)
			if err != nil {
				return nil, nil, fmt.Errorf("rates line %d: %w", lineNo+1, err)
			}
			rates = append(rates, r)
		}
	}

	return versions, rates, nil
}

func parseVersionLine(line string) (RateVersion, error) {
	parts := strings.Split(line, "\t")
	if len(parts) < 2 {
		return RateVersion{}, fmt.Errorf("want at least 2 columns, got %d", len(parts))
	}

	id, err := strconv.Atoi(parts[0])
	if err != nil {
		return RateVersion{}, fmt.Errorf("id: %w", err)
	}
	date, err := parseISODate(parts[1])
	if err != nil {
		return RateVersion{}, fmt.Errorf("effective_date: %w", err)
	}

	v := RateVersion{ID: id, EffectiveDate: date}
	if len(parts) > 2 && parts[2] != `\N` {
		for _, layout := range loadedAtLayouts {
			if t, err := time.Parse(layout, parts[2]); err == nil {
				v.LoadedAt = t
				break
			}
		}
	}
	return v, nil
}

func parseRateLine(line string) (Rate, error) {
	parts := strings.Split(line, "\t")
	if len(parts) < 7 {
		return Rate{}, fmt.Errorf("want 7 columns, got %d", len(parts))
	}

	ints := make([]int, 3)
	for i, idx := range []int{0, 1, 3} {
		v, err := strconv.Atoi(parts[idx])
		if err != nil {
			return Rate{}, fmt.Errorf("column %d: %w", idx, err)
		}
		ints[i] = v
	}

	floats := make([]float64, 3)
	for i, idx := range []int{4, 5, 6} {
		v, err := strconv.ParseFloat(parts[idx], 64)
		if err != nil {
			return Rate{}, fmt.Errorf("column %d: %w", idx, err)
		}
		floats[i] = v
	}

	return Rate{
		ID:             ints[0],
		RateVersionID:  ints[1],
		BusinessCode:   parts[2],
		JurisdictionID: ints[2],
		StateRate:      floats[0],
		CountyRate:     floats[1],
		CityRate:       floats[2],
	}, nil
}

// RestoreBackup truncates the rate tables and reloads them from parsed
// backup rows. Rates are inserted in bounded batches.
func RestoreBackup(ctx context.Context, store Store, versions []RateVersion, rates []Rate, batchSize int) error {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	if err := store.TruncateRateData(ctx); err != nil {
		return err
	}

	log.Printf("restoring %d rate versions", len(versions))
	if err := store.InsertRateVersions(ctx, versions); err != nil {
		return fmt.Errorf("restore rate_versions: %w", err)
	}

	log.Printf("restoring %d rates", len(rates))
	for i := 0; i < len(rates); i += batchSize {
		end := i + batchSize
		if end > len(rates) {
			end = len(rates)
		}
		if err := store.InsertRates(ctx, rates[i:end]); err != nil {
			return fmt.Errorf("restore rates batch at %d: %w", i, err)
		}
	}

	// Restored rows carry explicit ids; stores with serial sequences need
	// them bumped past the restored maximum.
	if syncer, ok := store.(interface{ SyncSequences(context.Context) error }); ok {
		if err := syncer.SyncSequences(ctx); err != nil {
			return err
		}
	}
	return nil
}
