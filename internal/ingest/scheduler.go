package ingest

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/lox/cropwatch/internal/metrics"
	"github.com/lox/cropwatch/internal/models"
	"github.com/lox/cropwatch/internal/store"
)

// Scheduler keeps the payload cache warm for watched locations and prunes
// old payloads once a day.
type Scheduler struct {
	store     *store.Store
	fetcher   *CachedFetcher
	providers Registry
	locations []models.Location
	loc       *time.Location

	warmInterval time.Duration
	retention    time.Duration
	pruneAt      string

	cron *gocron.Scheduler
}

func NewScheduler(st *store.Store, fetcher *CachedFetcher, providers Registry, locations []models.Location, loc *time.Location) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	return &Scheduler{
		store:        st,
		fetcher:      fetcher,
		providers:    providers,
		locations:    locations,
		loc:          loc,
		warmInterval: time.Hour,
		retention:    7 * 24 * time.Hour,
		pruneAt:      "03:00",
	}
}

// SetRetention changes how long cached payloads are kept.
func (s *Scheduler) SetRetention(d time.Duration) {
	if d > 0 {
		s.retention = d
	}
}

// Start registers the jobs and runs them in the background until ctx is
// done. The warm job runs immediately.
func (s *Scheduler) Start(ctx context.Context) error {
	s.cron = gocron.NewScheduler(s.loc)
	s.cron.SingletonModeAll()

	if _, err := s.cron.Every(s.warmInterval).Do(s.WarmCache, ctx); err != nil {
		return fmt.Errorf("schedule warm: %w", err)
	}
	if _, err := s.cron.Every(1).Day().At(s.pruneAt).Do(s.Prune); err != nil {
		return fmt.Errorf("schedule prune: %w", err)
	}

	s.cron.StartAsync()
	log.Printf("scheduler: started (warm every %s, prune daily at %s)", s.warmInterval, s.pruneAt)

	go func() {
		<-ctx.Done()
		log.Println("scheduler: shutting down")
		s.cron.Stop()
	}()
	return nil
}

// WarmCache refreshes the default window for every provider and location.
func (s *Scheduler) WarmCache(ctx context.Context) {
	for _, name := range s.providers.Names() {
		p := s.providers[name]
		for _, loc := range s.locations {
			if ctx.Err() != nil {
				return
			}
			body, err := s.fetcher.Refresh(ctx, p, Query{Location: loc})
			if err != nil {
				log.Printf("scheduler: warm %s %s: %v", name, loc, err)
				continue
			}
			log.Printf("scheduler: warmed %s %s (%d bytes)", name, loc, len(body))
		}
	}
}

// Prune deletes payloads older than the retention window.
func (s *Scheduler) Prune() {
	if s.store == nil {
		return
	}
	n, err := s.store.PrunePayloads(s.retention)
	if err != nil {
		log.Printf("scheduler: prune payloads: %v", err)
		return
	}
	metrics.PayloadsPruned.Add(float64(n))
	if n > 0 {
		log.Printf("scheduler: pruned %d payloads older than %s", n, s.retention)
	}
}
