package rates

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/cactuscomply/tpt-rates/internal/ingest"
)

// Handler serves the rate-browsing API over an injected store.
type Handler struct {
	store          ingest.Store
	batchSize      int
	maxUploadBytes int64
}

func NewHandler(store ingest.Store, batchSize int, maxUploadBytes int64) *Handler {
	if batchSize <= 0 {
		batchSize = ingest.DefaultBatchSize
	}
	if maxUploadBytes <= 0 {
		maxUploadBytes = 16 << 20
	}
	return &Handler{store: store, batchSize: batchSize, maxUploadBytes: maxUploadBytes}
}

// UploadHandler ingests one CSV posted as multipart form data with an
// effective_date field. The response body is the engine's structured
// summary either way; the status code says whether the run was clean.
func (h *Handler) UploadHandler(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
		http.Error(w, "Invalid multipart form: "+err.Error(), http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "No file selected", http.StatusBadRequest)
		return
	}
	defer file.Close()

	if !strings.HasSuffix(strings.ToLower(header.Filename), ".csv") {
		http.Error(w, "Only .csv uploads are accepted", http.StatusBadRequest)
		return
	}

	effectiveDate := r.FormValue("effective_date")
	if effectiveDate == "" {
		http.Error(w, "Effective date is required", http.StatusBadRequest)
		return
	}

	content, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "Failed to read upload: "+err.Error(), http.StatusBadRequest)
		return
	}

	engine, err := ingest.NewEngine(r.Context(), h.store, ingest.Config{
		AutoCreateJurisdictions: true,
		BatchSize:               h.batchSize,
		Source:                  fmt.Sprintf("upload:%s", header.Filename),
	})
	if err != nil {
		http.Error(w, "Engine init failed: "+err.Error(), http.StatusInternalServerError)
		return
	}

	summary, err := engine.Ingest(r.Context(), string(content), effectiveDate)
	if err != nil {
		log.Printf("upload %s: %v", header.Filename, err)
		writeJSON(w, http.StatusUnprocessableEntity, summary)
		return
	}

	status := http.StatusOK
	if !summary.Success {
		// partial success: some rows landed, some did not
		status = http.StatusMultiStatus
	}
	writeJSON(w, status, summary)
}

// RatesHandler lists current rates with optional filters: effective_date,
// business_code, region_code, min_rate.
func (h *Handler) RatesHandler(w http.ResponseWriter, r *http.Request) {
	filters := ingest.RateFilters{
		EffectiveDate: r.URL.Query().Get("effective_date"),
		BusinessCode:  r.URL.Query().Get("business_code"),
		RegionCode:    r.URL.Query().Get("region_code"),
	}
	if v := r.URL.Query().Get("min_rate"); v != "" {
		minRate, err := strconv.ParseFloat(v, 64)
		if err != nil {
			http.Error(w, "Invalid min_rate", http.StatusBadRequest)
			return
		}
		filters.MinRate = minRate
	}

	rows, err := h.store.CurrentRates(r.Context(), filters)
	if err != nil {
		http.Error(w, "DB error: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if rows == nil {
		rows = []ingest.CurrentRate{}
	}
	writeJSON(w, http.StatusOK, rows)
}

// VerifyHandler reports county coverage and the spot-check cities.
func (h *Handler) VerifyHandler(w http.ResponseWriter, r *http.Request) {
	coverage, err := ingest.VerifyCountyCoverage(r.Context(), h.store)
	if err != nil {
		http.Error(w, "DB error: "+err.Error(), http.StatusInternalServerError)
		return
	}
	spot, err := ingest.SpotCheckRates(r.Context(), h.store)
	if err != nil {
		http.Error(w, "DB error: "+err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, struct {
		Coverage   ingest.CoverageReport `json:"coverage"`
		SpotChecks []ingest.SpotCheck    `json:"spot_checks"`
	}{coverage, spot})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("encode response: %v", err)
	}
}
