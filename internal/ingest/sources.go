package ingest

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// SourceFile is one ADOR rate-table CSV with its filename-embedded
// effective date.
type SourceFile struct {
	EffectiveDate string // ISO
	Path          string
}

var filenameDateRe = regexp.MustCompile(`(\d{8})`)

// DateFromFilename extracts the MMDDYYYY date embedded in names like
// TPT_RATETABLE_ALL_03012026.csv and returns it as an ISO date.
func DateFromFilename(name string) (string, error) {
	m := filenameDateRe.FindStringSubmatch(filepath.Base(name))
	if m == nil {
		return "", fmt.Errorf("no MMDDYYYY date in filename %q", name)
	}
	d := m[1]
	month, day, year := d[:2], d[2:4], d[4:]
	iso := fmt.Sprintf("%s-%s-%s", year, month, day)
	if _, err := parseISODate(iso); err != nil {
		return "", fmt.Errorf("bad date %s in filename %q: %w", d, name, err)
	}
	return iso, nil
}

// ScanRateTableDir finds TPT_RATETABLE_ALL_*.csv files in dir, one per
// effective date (first file per date wins, matching the original loader),
// sorted ascending by date.
func ScanRateTableDir(dir string) ([]SourceFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read dir %s: %w", dir, err)
	}

	var files []SourceFile
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, "TPT_RATETABLE_ALL_") || !strings.HasSuffix(name, ".csv") {
			continue
		}
		date, err := DateFromFilename(name)
		if err != nil {
			continue
		}
		files = append(files, SourceFile{EffectiveDate: date, Path: filepath.Join(dir, name)})
	}

	sort.Slice(files, func(i, k int) bool {
		if files[i].EffectiveDate != files[k].EffectiveDate {
			return files[i].EffectiveDate < files[k].EffectiveDate
		}
		return files[i].Path < files[k].Path
	})

	seen := map[string]bool{}
	var unique []SourceFile
	for _, f := range files {
		if seen[f.EffectiveDate] {
			continue
		}
		seen[f.EffectiveDate] = true
		unique = append(unique, f)
	}
	return unique, nil
}
