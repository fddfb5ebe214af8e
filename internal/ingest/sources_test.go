package ingest

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDateFromFilename(t *testing.T) {
	cases := []struct {
		name string
		want string
		ok   bool
	}{
		{"TPT_RATETABLE_ALL_03012026.csv", "2026-03-01", true},
		{"TPT_RATETABLE_ALL_01012026 (2).csv", "2026-01-01", true},
		{"C:/Users/dl/Downloads/TPT_RATETABLE_ALL_11012025.csv", "2025-11-01", true},
		{"TPT_RATETABLE_ALL_13012026.csv", "", false}, // month 13
		{"rates.csv", "", false},
	}
	for _, tc := range cases {
		got, err := DateFromFilename(tc.name)
		if tc.ok && (err != nil || got != tc.want) {
			t.Errorf("DateFromFilename(%q) = %q, %v; want %q", tc.name, got, err, tc.want)
		}
		if !tc.ok && err == nil {
			t.Errorf("DateFromFilename(%q) = %q, want error", tc.name, got)
		}
	}
}

// TestScanRateTableDir verifies scanning keeps one file per date, first
// occurrence wins, sorted ascending.
func TestScanRateTableDir(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{
		"TPT_RATETABLE_ALL_03012026.csv",
		"TPT_RATETABLE_ALL_01012026 (2).csv",
		"TPT_RATETABLE_ALL_01012026.csv", // duplicate date
		"somethingelse.csv",
		"TPT_RATETABLE_ALL_nodate.csv",
	} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	files, err := ScanRateTableDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 2 {
		t.Fatalf("expected 2 unique files, got %d: %+v", len(files), files)
	}
	if files[0].EffectiveDate != "2026-01-01" || files[1].EffectiveDate != "2026-03-01" {
		t.Errorf("wrong dates/order: %+v", files)
	}
	if filepath.Base(files[0].Path) != "TPT_RATETABLE_ALL_01012026 (2).csv" {
		t.Errorf("expected first path alphabetically for duplicate date, got %s", files[0].Path)
	}
}
