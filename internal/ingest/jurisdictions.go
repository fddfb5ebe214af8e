package ingest

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// CountyCodes is the fixed reference table of Arizona's 15 county region
// codes.
var CountyCodes = map[string]string{
	"APA": "Apache",
	"COH": "Cochise",
	"COC": "Coconino",
	"GLA": "Gila",
	"GRA": "Graham",
	"GRN": "Greenlee",
	"LAP": "La Paz",
	"MAR": "Maricopa",
	"MOH": "Mohave",
	"NAV": "Navajo",
	"PMA": "Pima",
	"PNL": "Pinal",
	"STC": "Santa Cruz",
	"YAV": "Yavapai",
	"YMA": "Yuma",
}

// Resolved is a jurisdiction identity as the engine sees it.
type Resolved struct {
	ID    int
	Level string
	Name  string
}

// Resolver maps region codes to jurisdiction identities, creating city
// jurisdictions lazily. The cache is authoritative for the lifetime of a
// load: once a code resolves, its level never changes. Creation is
// serialized by the single-writer guarantee the engine holds (advisory
// lock on the Postgres store).
type Resolver struct {
	store  Store
	cache  map[string]Resolved
	titler cases.Caser
}

// NewResolver builds the code cache from the store. Jurisdictions are
// cached under both city_code and region_code, matching how cities and
// counties are keyed.
func NewResolver(ctx context.Context, store Store) (*Resolver, error) {
	jurs, err := store.Jurisdictions(ctx)
	if err != nil {
		return nil, fmt.Errorf("load jurisdictions: %w", err)
	}

	r := &Resolver{
		store:  store,
		cache:  make(map[string]Resolved, len(jurs)),
		titler: cases.Title(language.AmericanEnglish),
	}
	for _, j := range jurs {
		res := Resolved{ID: j.ID, Level: j.Level, Name: j.DisplayName()}
		if j.CityCode != "" {
			r.cache[j.CityCode] = res
		}
		if j.RegionCode != "" {
			r.cache[j.RegionCode] = res
		}
	}
	return r, nil
}

// Resolve returns the jurisdiction for a region code without creating one.
func (r *Resolver) Resolve(code string) (Resolved, bool) {
	res, ok := r.cache[code]
	return res, ok
}

// ResolveOrCreate returns the jurisdiction for a region code, creating a
// city-level jurisdiction when the code is unknown. ADOR region names
// arrive ALL-CAPS; new display names are title-cased.
func (r *Resolver) ResolveOrCreate(ctx context.Context, code, name string) (Resolved, error) {
	if res, ok := r.cache[code]; ok {
		return res, nil
	}

	displayName := r.DisplayName(code, name, LevelCity)
	j := Jurisdiction{
		Level:     LevelCity,
		StateCode: "AZ",
		CityCode:  code,
		CityName:  displayName,
	}
	if err := r.store.CreateJurisdiction(ctx, &j); err != nil {
		return Resolved{}, fmt.Errorf("create jurisdiction %s: %w", code, err)
	}

	res := Resolved{ID: j.ID, Level: LevelCity, Name: displayName}
	r.cache[code] = res
	return res, nil
}

// DisplayName normalizes a raw region name, falling back to
// "{code} City" / "{code} County" when the source carries none.
func (r *Resolver) DisplayName(code, name, level string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		if level == LevelCounty {
			return code + " County"
		}
		return code + " City"
	}
	if name == strings.ToUpper(name) {
		return r.titler.String(strings.ToLower(name))
	}
	return name
}

// MissingCounties lists county codes from the reference table that the
// resolver cannot see, sorted for stable output.
func (r *Resolver) MissingCounties() []string {
	var missing []string
	for code := range CountyCodes {
		if _, ok := r.cache[code]; !ok {
			missing = append(missing, code)
		}
	}
	sort.Strings(missing)
	return missing
}

// SeedCounties ensures all 15 Arizona counties exist as county-level
// jurisdictions. Returns how many were created.
func (r *Resolver) SeedCounties(ctx context.Context) (int, error) {
	codes := make([]string, 0, len(CountyCodes))
	for code := range CountyCodes {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	created := 0
	for _, code := range codes {
		if _, ok := r.cache[code]; ok {
			continue
		}
		j := Jurisdiction{
			Level:      LevelCounty,
			StateCode:  "AZ",
			RegionCode: code,
			CountyName: CountyCodes[code],
		}
		if err := r.store.CreateJurisdiction(ctx, &j); err != nil {
			return created, fmt.Errorf("seed county %s: %w", code, err)
		}
		r.cache[code] = Resolved{ID: j.ID, Level: LevelCounty, Name: j.CountyName}
		created++
	}
	return created, nil
}
