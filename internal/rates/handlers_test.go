package rates_test

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cactuscomply/tpt-rates/internal/ingest"
	"github.com/cactuscomply/tpt-rates/internal/rates"
)

const sampleCSV = "RegionCode,RegionName,BusinessCode,BusinessCodesName,TaxRate\n" +
	"PX,PHOENIX,011,Restaurants,2.4%\n" +
	"TU,TUCSON,011,Restaurants,2.3%\n"

func multipartUpload(t *testing.T, filename, content, effectiveDate string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	fw, err := w.CreateFormFile("file", filename)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := fw.Write([]byte(content)); err != nil {
		t.Fatal(err)
	}
	if effectiveDate != "" {
		if err := w.WriteField("effective_date", effectiveDate); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return &buf, w.FormDataContentType()
}

// TestUploadHandler_IngestsCSV posts a CSV and checks the summary body.
func TestUploadHandler_IngestsCSV(t *testing.T) {
	store := ingest.NewMemStore()
	h := rates.NewHandler(store, 0, 0)
	srv := rates.SetupRoutes(h)

	body, contentType := multipartUpload(t, "rates.csv", sampleCSV, "2026-03-01")
	req := httptest.NewRequest(http.MethodPost, "/upload", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var sum ingest.Summary
	if err := json.Unmarshal(rec.Body.Bytes(), &sum); err != nil {
		t.Fatalf("bad response body: %v", err)
	}
	if !sum.Success || sum.Inserted != 2 || sum.VersionsCreated != 1 {
		t.Errorf("unexpected summary: %+v", sum)
	}
	if got := len(store.Rates()); got != 2 {
		t.Errorf("expected 2 stored rates, got %d", got)
	}
}

// TestUploadHandler_RequiresEffectiveDate rejects uploads without a date.
func TestUploadHandler_RequiresEffectiveDate(t *testing.T) {
	h := rates.NewHandler(ingest.NewMemStore(), 0, 0)
	srv := rates.SetupRoutes(h)

	body, contentType := multipartUpload(t, "rates.csv", sampleCSV, "")
	req := httptest.NewRequest(http.MethodPost, "/upload", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

// TestUploadHandler_RejectsNonCSV rejects files without a .csv extension.
func TestUploadHandler_RejectsNonCSV(t *testing.T) {
	h := rates.NewHandler(ingest.NewMemStore(), 0, 0)
	srv := rates.SetupRoutes(h)

	body, contentType := multipartUpload(t, "rates.xlsx", "junk", "2026-03-01")
	req := httptest.NewRequest(http.MethodPost, "/upload", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

// TestUploadHandler_EmptyCSVIsUnprocessable returns 422 with the failure
// summary when no valid rows exist.
func TestUploadHandler_EmptyCSVIsUnprocessable(t *testing.T) {
	h := rates.NewHandler(ingest.NewMemStore(), 0, 0)
	srv := rates.SetupRoutes(h)

	empty := "RegionCode,RegionName,BusinessCode,BusinessCodesName,TaxRate\n" +
		",,,,\n"
	body, contentType := multipartUpload(t, "rates.csv", empty, "2026-03-01")
	req := httptest.NewRequest(http.MethodPost, "/upload", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}
	var sum ingest.Summary
	if err := json.Unmarshal(rec.Body.Bytes(), &sum); err != nil {
		t.Fatalf("bad response body: %v", err)
	}
	if sum.Success || len(sum.Errors) == 0 {
		t.Errorf("expected failure summary, got %+v", sum)
	}
}

// TestRatesHandler_Filters loads data then queries with filters.
func TestRatesHandler_Filters(t *testing.T) {
	store := ingest.NewMemStore()
	seed := func() {
		engine, err := ingest.NewEngine(context.Background(), store, ingest.Config{AutoCreateJurisdictions: true})
		if err != nil {
			t.Fatal(err)
		}
		_, err = engine.Merge(context.Background(), []ingest.Record{
			{RegionCode: "PX", RegionName: "PHOENIX", BusinessCode: "011", Rate: 0.024, EffectiveDate: "2026-01-01"},
			{RegionCode: "TU", RegionName: "TUCSON", BusinessCode: "011", Rate: 0.023, EffectiveDate: "2026-01-01"},
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	seed()

	h := rates.NewHandler(store, 0, 0)
	srv := rates.SetupRoutes(h)

	req := httptest.NewRequest(http.MethodGet, "/rates?region_code=PX", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var rows []ingest.CurrentRate
	if err := json.Unmarshal(rec.Body.Bytes(), &rows); err != nil {
		t.Fatalf("bad response body: %v", err)
	}
	if len(rows) != 1 || rows[0].RegionCode != "PX" {
		t.Errorf("unexpected rows: %+v", rows)
	}

	// bad min_rate is a client error
	req = httptest.NewRequest(http.MethodGet, "/rates?min_rate=abc", nil)
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad min_rate, got %d", rec.Code)
	}
}

// TestRatesHandler_EmptyStore returns an empty JSON array, not null.
func TestRatesHandler_EmptyStore(t *testing.T) {
	h := rates.NewHandler(ingest.NewMemStore(), 0, 0)
	srv := rates.SetupRoutes(h)

	req := httptest.NewRequest(http.MethodGet, "/api/rates", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := rec.Body.String(); got != "[]\n" {
		t.Errorf("expected empty array, got %q", got)
	}
}
