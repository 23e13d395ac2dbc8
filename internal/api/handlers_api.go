package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/lox/cropwatch/internal/analysis"
	"github.com/lox/cropwatch/internal/cropscore"
	"github.com/lox/cropwatch/internal/models"
	"github.com/lox/cropwatch/internal/normalize"
	"github.com/lox/cropwatch/internal/store"
)

const queryDateLayout = "2006-01-02"

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api: encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	kind := analysis.ErrorKind(err)
	msg := err.Error()

	var status int
	switch kind {
	case "validation":
		status = http.StatusBadRequest
	case "not_found":
		status = http.StatusNotFound
		if errors.Is(err, normalize.ErrEmptySeries) {
			msg = "no data for selected range"
		}
	case "upstream":
		status = http.StatusBadGateway
	default:
		status = http.StatusInternalServerError
		log.Printf("api: %v", err)
	}
	writeJSON(w, status, errorResponse{Error: msg, Kind: kind})
}

type policyInfo struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Required    []models.Param `json:"required"`
}

func (s *Server) handleAPIPolicies(w http.ResponseWriter, r *http.Request) {
	policies := cropscore.Policies()
	out := make([]policyInfo, 0, len(policies))
	for _, p := range policies {
		out = append(out, policyInfo{Name: p.Name(), Description: p.Description(), Required: p.Required()})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAPIProviders(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.analysis.Providers())
}

// parseAnalysisRequest fills a request from query parameters, falling back
// to the server defaults for anything omitted.
func (s *Server) parseAnalysisRequest(r *http.Request) (analysis.Request, error) {
	q := r.URL.Query()
	req := s.defaults

	if v := q.Get("provider"); v != "" {
		req.Provider = v
	}
	if v := q.Get("policy"); v != "" {
		req.Policy = v
	}
	if v := q.Get("name"); v != "" {
		req.Name = v
	}

	lat, lon := q.Get("lat"), q.Get("lon")
	if (lat == "") != (lon == "") {
		return req, &analysis.ValidationError{Message: "lat and lon must be given together"}
	}
	if lat != "" {
		var err error
		if req.Latitude, err = strconv.ParseFloat(lat, 64); err != nil {
			return req, &analysis.ValidationError{Field: "lat", Message: "must be a number"}
		}
		if req.Longitude, err = strconv.ParseFloat(lon, 64); err != nil {
			return req, &analysis.ValidationError{Field: "lon", Message: "must be a number"}
		}
		if q.Get("name") == "" {
			req.Name = ""
		}
	}

	for _, d := range []struct {
		key string
		dst *time.Time
	}{{"start", &req.Start}, {"end", &req.End}} {
		v := q.Get(d.key)
		if v == "" {
			continue
		}
		t, err := time.ParseInLocation(queryDateLayout, v, time.UTC)
		if err != nil {
			return req, &analysis.ValidationError{Field: d.key, Message: fmt.Sprintf("must be a date like %s", queryDateLayout)}
		}
		*d.dst = t
	}

	if v := q.Get("horizon"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return req, &analysis.ValidationError{Field: "horizon", Message: "must be a whole number of days"}
		}
		req.Horizon = n
	}

	req.Provider = strings.ToLower(req.Provider)
	return req, nil
}

func (s *Server) handleAPIAnalysis(w http.ResponseWriter, r *http.Request) {
	req, err := s.parseAnalysisRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}

	report, err := s.analysis.Analyze(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

type ingestRunView struct {
	ID         int64      `json:"id"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Provider   string     `json:"provider"`
	CacheKey   string     `json:"cache_key"`
	HTTPStatus int64      `json:"http_status,omitempty"`
	Error      string     `json:"error,omitempty"`
}

type ingestResponse struct {
	Days         int                         `json:"days"`
	Health       []store.IngestHealthSummary `json:"health"`
	RecentErrors []ingestRunView             `json:"recent_errors"`
}

func (s *Server) handleAPIIngest(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "no store configured", Kind: "internal"})
		return
	}

	days := 7
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 90 {
			writeError(w, &analysis.ValidationError{Field: "days", Message: "must be between 1 and 90"})
			return
		}
		days = n
	}

	health, err := s.store.GetIngestHealth(days)
	if err != nil {
		writeError(w, fmt.Errorf("ingest health: %w", err))
		return
	}
	runs, err := s.store.GetRecentIngestErrors(20)
	if err != nil {
		writeError(w, fmt.Errorf("recent ingest errors: %w", err))
		return
	}

	resp := ingestResponse{Days: days, Health: health, RecentErrors: make([]ingestRunView, 0, len(runs))}
	for _, run := range runs {
		v := ingestRunView{
			ID:         run.ID,
			StartedAt:  run.StartedAt.In(s.loc),
			Provider:   run.Provider,
			CacheKey:   run.CacheKey,
			HTTPStatus: run.HTTPStatus.Int64,
			Error:      run.ErrorMessage.String,
		}
		if run.FinishedAt.Valid {
			t := run.FinishedAt.Time.In(s.loc)
			v.FinishedAt = &t
		}
		resp.RecentErrors = append(resp.RecentErrors, v)
	}
	writeJSON(w, http.StatusOK, resp)
}

type ProviderHealth struct {
	Provider    string `json:"provider"`
	TotalRuns   int    `json:"total_runs"`
	FailedRuns  int    `json:"failed_runs"`
	SuccessRuns int    `json:"success_runs"`
}

type HealthStatus struct {
	Status         string           `json:"status"`
	SchemaVersion  int              `json:"schema_version,omitempty"`
	CachedPayloads int              `json:"cached_payloads"`
	LastFetch      *time.Time       `json:"last_fetch,omitempty"`
	Providers      []ProviderHealth `json:"providers,omitempty"`
	Errors         []string         `json:"errors,omitempty"`
}

// handleHealth reports "degraded" when a provider has failed every fetch in
// the last day, and "error" when the store is unreachable.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := HealthStatus{Status: "ok"}
	if s.store == nil {
		writeJSON(w, http.StatusOK, health)
		return
	}

	if err := s.store.Ping(); err != nil {
		writeJSON(w, http.StatusInternalServerError, HealthStatus{Status: "error", Errors: []string{err.Error()}})
		return
	}

	if v, err := s.store.MigrationVersion(); err != nil {
		health.Errors = append(health.Errors, "schema: "+err.Error())
	} else {
		health.SchemaVersion = v
	}

	if stats, err := s.store.GetPayloadStats(); err != nil {
		health.Errors = append(health.Errors, "payloads: "+err.Error())
	} else {
		health.CachedPayloads = stats.TotalCount
		if !stats.NewestFetchedAt.IsZero() {
			t := stats.NewestFetchedAt.In(s.loc)
			health.LastFetch = &t
		}
	}

	summaries, err := s.store.GetIngestHealth(1)
	if err != nil {
		health.Errors = append(health.Errors, "ingest: "+err.Error())
	}
	byProvider := map[string]*ProviderHealth{}
	for _, sum := range summaries {
		ph, ok := byProvider[sum.Provider]
		if !ok {
			ph = &ProviderHealth{Provider: sum.Provider}
			byProvider[sum.Provider] = ph
		}
		ph.TotalRuns += sum.TotalRuns
		ph.SuccessRuns += sum.SuccessRuns
		ph.FailedRuns += sum.FailedRuns
	}
	for _, name := range s.analysis.Providers() {
		ph, ok := byProvider[name]
		if !ok {
			continue
		}
		if ph.SuccessRuns == 0 && ph.FailedRuns > 0 {
			health.Status = "degraded"
		}
		health.Providers = append(health.Providers, *ph)
	}

	status := http.StatusOK
	if len(health.Errors) > 0 {
		health.Status = "error"
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, health)
}
