package store

import (
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"io"
	"time"
)

// CachedPayload is a stored provider response.
type CachedPayload struct {
	ID          int64
	Provider    string
	CacheKey    string
	Latitude    float64
	Longitude   float64
	RangeStart  string
	RangeEnd    string
	FetchedAt   time.Time
	Payload     []byte
	PayloadHash string
	PayloadSize int
}

// PutPayload compresses and stores a provider response under p.CacheKey,
// replacing any previous entry for that key. FetchedAt defaults to now.
func (s *Store) PutPayload(p CachedPayload) (int64, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(p.Payload); err != nil {
		return 0, fmt.Errorf("compress payload: %w", err)
	}
	if err := gz.Close(); err != nil {
		return 0, fmt.Errorf("close gzip: %w", err)
	}

	hash := sha256.Sum256(p.Payload)
	fetchedAt := p.FetchedAt
	if fetchedAt.IsZero() {
		fetchedAt = s.now()
	}

	var id int64
	err := s.db.QueryRow(`
		INSERT INTO payload_cache
		(provider, cache_key, latitude, longitude, range_start, range_end,
		 fetched_at, payload_compressed, payload_hash, payload_size)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(cache_key) DO UPDATE SET
			fetched_at = excluded.fetched_at,
			payload_compressed = excluded.payload_compressed,
			payload_hash = excluded.payload_hash,
			payload_size = excluded.payload_size
		RETURNING id
	`, p.Provider, p.CacheKey, p.Latitude, p.Longitude, p.RangeStart, p.RangeEnd,
		fetchedAt.UTC().Unix(), buf.Bytes(), hex.EncodeToString(hash[:]), len(p.Payload)).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert payload: %w", err)
	}
	return id, nil
}

// GetPayload returns the payload stored under key if it was fetched within
// maxAge. A zero maxAge accepts any age. Misses return nil, nil.
func (s *Store) GetPayload(key string, maxAge time.Duration) (*CachedPayload, error) {
	row := s.db.QueryRow(`
		SELECT id, provider, cache_key, latitude, longitude, range_start, range_end,
		       fetched_at, payload_compressed, payload_hash, payload_size
		FROM payload_cache WHERE cache_key = ?
	`, key)

	var p CachedPayload
	var rangeStart, rangeEnd sql.NullString
	var fetchedAt int64
	var compressed []byte
	err := row.Scan(&p.ID, &p.Provider, &p.CacheKey, &p.Latitude, &p.Longitude,
		&rangeStart, &rangeEnd, &fetchedAt, &compressed, &p.PayloadHash, &p.PayloadSize)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	p.RangeStart = rangeStart.String
	p.RangeEnd = rangeEnd.String
	p.FetchedAt = time.Unix(fetchedAt, 0).UTC()
	if maxAge > 0 && s.now().Sub(p.FetchedAt) > maxAge {
		return nil, nil
	}

	gz, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("create gzip reader: %w", err)
	}
	defer gz.Close()

	p.Payload, err = io.ReadAll(gz)
	if err != nil {
		return nil, fmt.Errorf("decompress payload: %w", err)
	}
	return &p, nil
}

// PayloadStats contains storage statistics for cached payloads.
type PayloadStats struct {
	TotalCount      int
	CompressedBytes int64
	RawBytes        int64
	OldestFetchedAt time.Time
	NewestFetchedAt time.Time
	CountByProvider map[string]int
}

// GetPayloadStats returns storage statistics for cached payloads.
func (s *Store) GetPayloadStats() (*PayloadStats, error) {
	stats := &PayloadStats{CountByProvider: make(map[string]int)}

	var oldest, newest sql.NullInt64
	row := s.db.QueryRow(`
		SELECT COUNT(*), COALESCE(SUM(LENGTH(payload_compressed)), 0), COALESCE(SUM(payload_size), 0),
		       MIN(fetched_at), MAX(fetched_at)
		FROM payload_cache
	`)
	if err := row.Scan(&stats.TotalCount, &stats.CompressedBytes, &stats.RawBytes, &oldest, &newest); err != nil {
		return nil, err
	}
	if oldest.Valid {
		stats.OldestFetchedAt = time.Unix(oldest.Int64, 0).UTC()
	}
	if newest.Valid {
		stats.NewestFetchedAt = time.Unix(newest.Int64, 0).UTC()
	}

	rows, err := s.db.Query(`SELECT provider, COUNT(*) FROM payload_cache GROUP BY provider`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var provider string
		var count int
		if err := rows.Scan(&provider, &count); err != nil {
			return nil, err
		}
		stats.CountByProvider[provider] = count
	}
	return stats, rows.Err()
}

// PrunePayloads deletes payloads fetched more than olderThan ago and returns
// the number removed.
func (s *Store) PrunePayloads(olderThan time.Duration) (int64, error) {
	cutoff := s.now().Add(-olderThan).UTC().Unix()
	result, err := s.db.Exec(`DELETE FROM payload_cache WHERE fetched_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
