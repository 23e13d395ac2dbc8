package store

import (
	"database/sql"
	"time"
)

// IngestRun records a single provider fetch for auditing.
type IngestRun struct {
	ID                int64
	StartedAt         time.Time
	FinishedAt        sql.NullTime
	Provider          string // "open-meteo", "nasa-power"
	CacheKey          string
	HTTPStatus        sql.NullInt64
	ResponseSizeBytes sql.NullInt64
	Success           bool
	ErrorMessage      sql.NullString
}

// StartIngestRun creates a new ingest run record and returns it.
func (s *Store) StartIngestRun(provider, cacheKey string) (*IngestRun, error) {
	run := &IngestRun{
		StartedAt: s.now().UTC().Truncate(time.Second),
		Provider:  provider,
		CacheKey:  cacheKey,
	}

	result, err := s.db.Exec(`
		INSERT INTO ingest_runs (started_at, provider, cache_key, success)
		VALUES (?, ?, ?, FALSE)
	`, run.StartedAt.Unix(), run.Provider, run.CacheKey)
	if err != nil {
		return nil, err
	}

	run.ID, err = result.LastInsertId()
	if err != nil {
		return nil, err
	}

	return run, nil
}

// CompleteIngestRun updates the ingest run with results.
func (s *Store) CompleteIngestRun(run *IngestRun) error {
	if run == nil {
		return nil
	}

	run.FinishedAt = sql.NullTime{Time: s.now().UTC().Truncate(time.Second), Valid: true}

	_, err := s.db.Exec(`
		UPDATE ingest_runs SET
			finished_at = ?,
			http_status = ?,
			response_size_bytes = ?,
			success = ?,
			error_message = ?
		WHERE id = ?
	`, run.FinishedAt.Time.Unix(), run.HTTPStatus, run.ResponseSizeBytes,
		run.Success, run.ErrorMessage, run.ID)
	return err
}

// IngestHealthSummary is one day of fetch outcomes for a provider.
type IngestHealthSummary struct {
	Date        string `json:"date"`
	Provider    string `json:"provider"`
	TotalRuns   int    `json:"total_runs"`
	SuccessRuns int    `json:"success_runs"`
	FailedRuns  int    `json:"failed_runs"`
	TotalBytes  int64  `json:"total_bytes"`
}

// GetIngestHealth returns per-day, per-provider summaries for the last days.
func (s *Store) GetIngestHealth(days int) ([]IngestHealthSummary, error) {
	cutoff := s.now().AddDate(0, 0, -days).UTC().Unix()
	rows, err := s.db.Query(`
		SELECT
			DATE(started_at, 'unixepoch') as date,
			provider,
			COUNT(*) as total_runs,
			SUM(CASE WHEN success THEN 1 ELSE 0 END) as success_runs,
			SUM(CASE WHEN NOT success THEN 1 ELSE 0 END) as failed_runs,
			COALESCE(SUM(response_size_bytes), 0) as total_bytes
		FROM ingest_runs
		WHERE started_at > ?
		GROUP BY date, provider
		ORDER BY date DESC, provider
	`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []IngestHealthSummary
	for rows.Next() {
		var h IngestHealthSummary
		if err := rows.Scan(&h.Date, &h.Provider, &h.TotalRuns, &h.SuccessRuns, &h.FailedRuns, &h.TotalBytes); err != nil {
			return nil, err
		}
		results = append(results, h)
	}
	return results, rows.Err()
}

// GetRecentIngestErrors returns the most recent failed runs.
func (s *Store) GetRecentIngestErrors(limit int) ([]IngestRun, error) {
	rows, err := s.db.Query(`
		SELECT id, started_at, finished_at, provider, cache_key,
			   http_status, response_size_bytes, success, error_message
		FROM ingest_runs
		WHERE success = FALSE
		ORDER BY started_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []IngestRun
	for rows.Next() {
		var r IngestRun
		var startedAt int64
		var finishedAt sql.NullInt64
		if err := rows.Scan(&r.ID, &startedAt, &finishedAt, &r.Provider, &r.CacheKey,
			&r.HTTPStatus, &r.ResponseSizeBytes, &r.Success, &r.ErrorMessage); err != nil {
			return nil, err
		}
		r.StartedAt = time.Unix(startedAt, 0).UTC()
		if finishedAt.Valid {
			r.FinishedAt = sql.NullTime{Time: time.Unix(finishedAt.Int64, 0).UTC(), Valid: true}
		}
		results = append(results, r)
	}
	return results, rows.Err()
}
