package api_test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/lox/cropwatch/internal/analysis"
	"github.com/lox/cropwatch/internal/api"
	"github.com/lox/cropwatch/internal/ingest"
	"github.com/lox/cropwatch/internal/store"
)

const meteoPayload = `{
  "daily": {
    "time": ["2024-06-01", "2024-06-02", "2024-06-03"],
    "temperature_2m_max": [30.0, 28.0, 26.0],
    "temperature_2m_min": [20.0, 22.0, 24.0],
    "precipitation_sum": [40.0, 45.0, 40.0]
  }
}`

func setupTestStore(t *testing.T) *store.Store {
	t.Helper()
	db, err := store.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	s := store.New(db)
	if err := s.Migrate(); err != nil {
		t.Fatal(err)
	}
	return s
}

// setupServer wires an API server to a working Open-Meteo stub and a NASA
// POWER stub that always rejects the request.
func setupServer(t *testing.T) (*api.Server, *store.Store) {
	t.Helper()
	meteo := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(meteoPayload))
	}))
	t.Cleanup(meteo.Close)
	nasa := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"messages":["bad request"]}`, http.StatusUnprocessableEntity)
	}))
	t.Cleanup(nasa.Close)

	om := ingest.NewOpenMeteo(meteo.Client(), "")
	om.SetBaseURL(meteo.URL)
	np := ingest.NewNASAPower(nasa.Client())
	np.SetBaseURL(nasa.URL)

	st := setupTestStore(t)
	svc := analysis.NewService(ingest.NewRegistry(om, np), ingest.NewCachedFetcher(st, time.Hour))
	srv := api.NewServer(st, svc, "8080", time.UTC)
	srv.SetAccessLog(io.Discard)
	return srv, st
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	t.Parallel()
	srv, _ := setupServer(t)

	w := get(t, srv.Handler(), "/health")
	if w.Code != 200 {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var health api.HealthStatus
	if err := json.Unmarshal(w.Body.Bytes(), &health); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if health.Status != "ok" {
		t.Errorf("status = %q, want ok", health.Status)
	}
	if health.SchemaVersion == 0 {
		t.Error("schema_version should be reported")
	}
}

func TestHealthEndpoint_DegradedAfterFailures(t *testing.T) {
	t.Parallel()
	srv, _ := setupServer(t)
	h := srv.Handler()

	get(t, h, "/api/analysis?provider=nasa-power&policy=b")

	var health api.HealthStatus
	if err := json.Unmarshal(get(t, h, "/health").Body.Bytes(), &health); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if health.Status != "degraded" {
		t.Errorf("status = %q, want degraded", health.Status)
	}
	if len(health.Providers) != 1 || health.Providers[0].FailedRuns != 1 {
		t.Errorf("providers = %+v", health.Providers)
	}
}

func TestHealthEndpoint_NoStore(t *testing.T) {
	t.Parallel()
	svc := analysis.NewService(ingest.NewRegistry(), ingest.NewCachedFetcher(nil, 0))
	srv := api.NewServer(nil, svc, "8080", nil)
	srv.SetAccessLog(io.Discard)

	w := get(t, srv.Handler(), "/health")
	if w.Code != 200 || !strings.Contains(w.Body.String(), `"status":"ok"`) {
		t.Errorf("got %d %s", w.Code, w.Body.String())
	}
}

func TestPoliciesEndpoint(t *testing.T) {
	t.Parallel()
	srv, _ := setupServer(t)

	w := get(t, srv.Handler(), "/api/policies")
	if w.Code != 200 {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var policies []struct {
		Name     string   `json:"name"`
		Required []string `json:"required"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &policies); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(policies) != 2 || policies[0].Name != "four-factor" || policies[1].Name != "two-factor" {
		t.Errorf("policies = %+v", policies)
	}
}

func TestProvidersEndpoint(t *testing.T) {
	t.Parallel()
	srv, _ := setupServer(t)

	w := get(t, srv.Handler(), "/api/providers")
	if got := strings.TrimSpace(w.Body.String()); got != `["nasa-power","open-meteo"]` {
		t.Errorf("providers = %s", got)
	}
}

func TestAnalysisEndpoint(t *testing.T) {
	t.Parallel()
	srv, _ := setupServer(t)

	w := get(t, srv.Handler(), "/api/analysis?provider=open-meteo&lat=12.9716&lon=77.5946&policy=a&start=2024-06-01&end=2024-06-03&horizon=10")
	if w.Code != 200 {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}

	var report analysis.Report
	if err := json.Unmarshal(w.Body.Bytes(), &report); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if report.Policy != "two-factor" || report.Provider != "open-meteo" {
		t.Errorf("report = %s/%s", report.Provider, report.Policy)
	}
	if report.PeriodScore < 99.999 {
		t.Errorf("PeriodScore = %v, want 100", report.PeriodScore)
	}
	if len(report.Daily) != 3 || len(report.Projection) != 10 {
		t.Errorf("daily = %d, projection = %d", len(report.Daily), len(report.Projection))
	}
	if report.Location.Latitude != 12.9716 {
		t.Errorf("Location = %+v", report.Location)
	}
}

func TestAnalysisEndpoint_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		path     string
		wantCode int
		wantKind string
		wantMsg  string
	}{
		{"bad latitude", "/api/analysis?lat=abc&lon=1", 400, "validation", ""},
		{"lat without lon", "/api/analysis?lat=10", 400, "validation", ""},
		{"latitude out of range", "/api/analysis?lat=95&lon=1", 400, "validation", "Latitude"},
		{"bad date", "/api/analysis?start=01/06/2024", 400, "validation", ""},
		{"unknown policy", "/api/analysis?policy=wheat", 400, "validation", "unknown scoring policy"},
		{"unknown provider", "/api/analysis?provider=met-office", 400, "validation", ""},
		{"empty range", "/api/analysis?start=2030-01-01&end=2030-01-31", 404, "not_found", "no data for selected range"},
		{"upstream rejects", "/api/analysis?provider=nasa-power&policy=b", 502, "upstream", "422"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := setupServer(t)
			w := get(t, srv.Handler(), tt.path)
			if w.Code != tt.wantCode {
				t.Fatalf("code = %d, want %d: %s", w.Code, tt.wantCode, w.Body.String())
			}
			var resp struct {
				Error string `json:"error"`
				Kind  string `json:"kind"`
			}
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp.Kind != tt.wantKind {
				t.Errorf("kind = %q, want %q", resp.Kind, tt.wantKind)
			}
			if tt.wantMsg != "" && !strings.Contains(resp.Error, tt.wantMsg) {
				t.Errorf("error = %q, want it to contain %q", resp.Error, tt.wantMsg)
			}
		})
	}
}

func TestAnalysisEndpoint_MethodNotAllowed(t *testing.T) {
	t.Parallel()
	srv, _ := setupServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/analysis", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("code = %d, want 405", w.Code)
	}
}

func TestIngestEndpoint(t *testing.T) {
	t.Parallel()
	srv, _ := setupServer(t)
	h := srv.Handler()

	get(t, h, "/api/analysis?provider=open-meteo&policy=a")
	get(t, h, "/api/analysis?provider=nasa-power&policy=b")

	w := get(t, h, "/api/ingest?days=1")
	if w.Code != 200 {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Days   int `json:"days"`
		Health []struct {
			Provider    string `json:"provider"`
			SuccessRuns int    `json:"success_runs"`
			FailedRuns  int    `json:"failed_runs"`
		} `json:"health"`
		RecentErrors []struct {
			Provider   string `json:"provider"`
			HTTPStatus int    `json:"http_status"`
		} `json:"recent_errors"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Days != 1 || len(resp.Health) != 2 {
		t.Errorf("resp = %+v", resp)
	}
	if len(resp.RecentErrors) != 1 || resp.RecentErrors[0].Provider != "nasa-power" || resp.RecentErrors[0].HTTPStatus != 422 {
		t.Errorf("recent errors = %+v", resp.RecentErrors)
	}

	if w := get(t, h, "/api/ingest?days=0"); w.Code != 400 {
		t.Errorf("days=0 code = %d, want 400", w.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()
	srv, _ := setupServer(t)
	h := srv.Handler()

	get(t, h, "/api/analysis?provider=open-meteo&policy=a")
	w := get(t, h, "/metrics")
	if w.Code != 200 {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "cropwatch_analyses_total") {
		t.Error("expected cropwatch_analyses_total in metrics output")
	}
}
