package ingest

import (
	"context"
	"database/sql"
	"log"
	"time"

	"github.com/lox/cropwatch/internal/metrics"
	"github.com/lox/cropwatch/internal/store"
)

// DefaultCacheTTL is how long a stored payload is served before refetching.
const DefaultCacheTTL = time.Hour

// CachedFetcher serves provider payloads from the store when fresh and
// records every upstream fetch as an ingest run. A nil store disables both.
type CachedFetcher struct {
	store *store.Store
	ttl   time.Duration
}

func NewCachedFetcher(st *store.Store, ttl time.Duration) *CachedFetcher {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &CachedFetcher{store: st, ttl: ttl}
}

// Fetch returns the raw payload for q from p.
func (c *CachedFetcher) Fetch(ctx context.Context, p Provider, q Query) ([]byte, error) {
	key := q.CacheKey(p.Name())

	if c.store != nil {
		cached, err := c.store.GetPayload(key, c.ttl)
		if err != nil {
			log.Printf("cache: lookup %s: %v", key, err)
		} else if cached != nil {
			metrics.PayloadCacheLookups.WithLabelValues(p.Name(), "hit").Inc()
			return cached.Payload, nil
		}
		metrics.PayloadCacheLookups.WithLabelValues(p.Name(), "miss").Inc()
	}

	return c.fetchAndStore(ctx, p, q, key)
}

// Refresh fetches q from upstream regardless of what is cached.
func (c *CachedFetcher) Refresh(ctx context.Context, p Provider, q Query) ([]byte, error) {
	return c.fetchAndStore(ctx, p, q, q.CacheKey(p.Name()))
}

func (c *CachedFetcher) fetchAndStore(ctx context.Context, p Provider, q Query, key string) ([]byte, error) {
	var run *store.IngestRun
	if c.store != nil {
		var err error
		run, err = c.store.StartIngestRun(p.Name(), key)
		if err != nil {
			log.Printf("ingest: start run: %v", err)
		}
	}

	result, fetchErr := p.Fetch(ctx, q)
	if run != nil {
		if result != nil {
			if result.HTTPStatus > 0 {
				run.HTTPStatus = sql.NullInt64{Int64: int64(result.HTTPStatus), Valid: true}
			}
			run.ResponseSizeBytes = sql.NullInt64{Int64: int64(result.ResponseSize), Valid: true}
		}
		run.Success = fetchErr == nil
		if fetchErr != nil {
			run.ErrorMessage = sql.NullString{String: fetchErr.Error(), Valid: true}
		}
		if err := c.store.CompleteIngestRun(run); err != nil {
			log.Printf("ingest: complete run: %v", err)
		}
	}
	if fetchErr != nil {
		return nil, fetchErr
	}

	if c.store != nil {
		_, err := c.store.PutPayload(store.CachedPayload{
			Provider:   p.Name(),
			CacheKey:   key,
			Latitude:   q.Location.Latitude,
			Longitude:  q.Location.Longitude,
			RangeStart: formatDate(q.Start),
			RangeEnd:   formatDate(q.End),
			Payload:    result.Body,
		})
		if err != nil {
			log.Printf("cache: store %s: %v", key, err)
		}
	}
	return result.Body, nil
}
