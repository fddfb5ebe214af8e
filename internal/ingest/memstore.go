package ingest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemStore is an in-memory Store for tests and --dry-run loads. Unlike the
// Postgres store it allocates ids max-plus-one, which is only safe because
// all access funnels through its mutex.
type MemStore struct {
	mu sync.Mutex

	jurisdictions map[int]Jurisdiction
	businessCodes map[string]BusinessCode
	versions      map[int]RateVersion
	rates         []Rate
	runs          []IngestRun
	nextRateID    int
}

func NewMemStore() *MemStore {
	return &MemStore{
		jurisdictions: map[int]Jurisdiction{},
		businessCodes: map[string]BusinessCode{},
		versions:      map[int]RateVersion{},
		nextRateID:    1,
	}
}

func (s *MemStore) Jurisdictions(ctx context.Context) ([]Jurisdiction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Jurisdiction, 0, len(s.jurisdictions))
	for _, j := range s.jurisdictions {
		out = append(out, j)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ID < out[k].ID })
	return out, nil
}

func (s *MemStore) CreateJurisdiction(ctx context.Context, j *Jurisdiction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j.ID == 0 {
		max := 0
		for id := range s.jurisdictions {
			if id > max {
				max = id
			}
		}
		j.ID = max + 1
	}
	if _, ok := s.jurisdictions[j.ID]; ok {
		return fmt.Errorf("jurisdiction id %d already exists", j.ID)
	}
	s.jurisdictions[j.ID] = *j
	return nil
}

func (s *MemStore) UpsertBusinessCode(ctx context.Context, c BusinessCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.businessCodes[c.Code] = c
	return nil
}

func (s *MemStore) BusinessCodes() []BusinessCode {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]BusinessCode, 0, len(s.businessCodes))
	for _, c := range s.businessCodes {
		out = append(out, c)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Code < out[k].Code })
	return out
}

func (s *MemStore) RateVersionByDate(ctx context.Context, effectiveDate string) (*RateVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range s.versions {
		if v.EffectiveDate.Format("2006-01-02") == effectiveDate {
			out := v
			return &out, nil
		}
	}
	return nil, nil
}

func (s *MemStore) CreateRateVersion(ctx context.Context, v *RateVersion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v.ID == 0 {
		max := 0
		for id := range s.versions {
			if id > max {
				max = id
			}
		}
		v.ID = max + 1
	}
	if _, ok := s.versions[v.ID]; ok {
		return fmt.Errorf("rate version id %d already exists", v.ID)
	}
	s.versions[v.ID] = *v
	return nil
}

func (s *MemStore) RateVersions(ctx context.Context) ([]RateVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]RateVersion, 0, len(s.versions))
	for _, v := range s.versions {
		out = append(out, v)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].EffectiveDate.Before(out[k].EffectiveDate) })
	return out, nil
}

func (s *MemStore) RateKeysForVersion(ctx context.Context, versionID int) (map[RateKey]struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := map[RateKey]struct{}{}
	for _, r := range s.rates {
		if r.RateVersionID == versionID {
			keys[RateKey{JurisdictionID: r.JurisdictionID, BusinessCode: r.BusinessCode}] = struct{}{}
		}
	}
	return keys, nil
}

func (s *MemStore) InsertRates(ctx context.Context, rows []Rate) error {
	for _, r := range rows {
		if err := s.InsertRate(ctx, r); err != nil {
			return err
		}
	}
	return nil
}

func (s *MemStore) InsertRate(ctx context.Context, row Rate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.rates {
		if r.RateVersionID == row.RateVersionID &&
			r.JurisdictionID == row.JurisdictionID &&
			r.BusinessCode == row.BusinessCode {
			// conflict, do nothing
			return nil
		}
	}
	s.insertLocked(row)
	return nil
}

func (s *MemStore) UpsertRate(ctx context.Context, row Rate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, r := range s.rates {
		if r.RateVersionID == row.RateVersionID &&
			r.JurisdictionID == row.JurisdictionID &&
			r.BusinessCode == row.BusinessCode {
			s.rates[i].StateRate = row.StateRate
			s.rates[i].CountyRate = row.CountyRate
			s.rates[i].CityRate = row.CityRate
			return nil
		}
	}
	s.insertLocked(row)
	return nil
}

func (s *MemStore) insertLocked(row Rate) {
	if row.ID == 0 {
		row.ID = s.nextRateID
	}
	if row.ID >= s.nextRateID {
		s.nextRateID = row.ID + 1
	}
	s.rates = append(s.rates, row)
}

func (s *MemStore) CountRates(ctx context.Context, jurisdictionID int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, r := range s.rates {
		if r.JurisdictionID == jurisdictionID {
			n++
		}
	}
	return n, nil
}

func (s *MemStore) SampleRate(ctx context.Context, jurisdictionID int) (*Rate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.rates {
		if r.JurisdictionID == jurisdictionID {
			out := r
			return &out, nil
		}
	}
	return nil, nil
}

func (s *MemStore) LatestCityRate(ctx context.Context, cityCode, businessCode string) (*Rate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var jurID int
	for _, j := range s.jurisdictions {
		if j.CityCode == cityCode {
			jurID = j.ID
			break
		}
	}
	if jurID == 0 {
		return nil, nil
	}
	var latest *Rate
	for i := range s.rates {
		r := s.rates[i]
		if r.JurisdictionID != jurID || r.BusinessCode != businessCode {
			continue
		}
		if latest == nil || r.RateVersionID > latest.RateVersionID {
			out := r
			latest = &out
		}
	}
	return latest, nil
}

func (s *MemStore) TruncateRateData(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rates = nil
	s.versions = map[int]RateVersion{}
	s.nextRateID = 1
	return nil
}

func (s *MemStore) InsertRateVersions(ctx context.Context, rows []RateVersion) error {
	for i := range rows {
		v := rows[i]
		if err := s.CreateRateVersion(ctx, &v); err != nil {
			return err
		}
	}
	return nil
}

func (s *MemStore) RecordIngestRun(ctx context.Context, run IngestRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, run)
	return nil
}

func (s *MemStore) IngestRuns() []IngestRun {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]IngestRun(nil), s.runs...)
}

// Rates returns a copy of all stored rate rows.
func (s *MemStore) Rates() []Rate {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Rate(nil), s.rates...)
}

func (s *MemStore) CurrentRates(ctx context.Context, f RateFilters) ([]CurrentRate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var want *RateVersion
	if f.EffectiveDate != "" {
		for _, v := range s.versions {
			if v.EffectiveDate.Format("2006-01-02") == f.EffectiveDate {
				out := v
				want = &out
			}
		}
	} else {
		for _, v := range s.versions {
			if want == nil || v.EffectiveDate.After(want.EffectiveDate) {
				out := v
				want = &out
			}
		}
	}
	if want == nil {
		return nil, nil
	}

	var out []CurrentRate
	for _, r := range s.rates {
		if r.RateVersionID != want.ID {
			continue
		}
		j := s.jurisdictions[r.JurisdictionID]
		total := r.StateRate + r.CountyRate + r.CityRate
		if f.BusinessCode != "" && r.BusinessCode != f.BusinessCode {
			continue
		}
		if f.RegionCode != "" && j.Code() != f.RegionCode {
			continue
		}
		if f.MinRate > 0 && total < f.MinRate {
			continue
		}
		out = append(out, CurrentRate{
			RateVersionID:  r.RateVersionID,
			EffectiveDate:  want.EffectiveDate,
			JurisdictionID: r.JurisdictionID,
			RegionCode:     j.Code(),
			Region:         j.DisplayName(),
			Level:          j.Level,
			BusinessCode:   r.BusinessCode,
			BusinessName:   s.businessCodes[r.BusinessCode].Description,
			StateRate:      r.StateRate,
			CountyRate:     r.CountyRate,
			CityRate:       r.CityRate,
			TotalRate:      total,
		})
	}
	sort.Slice(out, func(i, k int) bool {
		if out[i].RegionCode != out[k].RegionCode {
			return out[i].RegionCode < out[k].RegionCode
		}
		return out[i].BusinessCode < out[k].BusinessCode
	})
	return out, nil
}

var _ Store = (*MemStore)(nil)

// parseISODate is shared by callers that accept ISO date strings.
func parseISODate(s string) (time.Time, error) {
	return time.Parse("2006-01-02", s)
}
