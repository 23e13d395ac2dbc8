package store

import (
	"bytes"
	"database/sql"
	"testing"
	"time"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	store := New(db)
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return store
}

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func TestPutAndGetPayload(t *testing.T) {
	store := setupTestStore(t)

	payload := []byte(`{"daily":{"time":["2024-06-01"],"temperature_2m_max":[30]}}`)
	id, err := store.PutPayload(CachedPayload{
		Provider:   "open-meteo",
		CacheKey:   "open-meteo:12.9716,77.5946:2024-06-01:2024-06-07",
		Latitude:   12.9716,
		Longitude:  77.5946,
		RangeStart: "2024-06-01",
		RangeEnd:   "2024-06-07",
		Payload:    payload,
	})
	if err != nil {
		t.Fatalf("PutPayload: %v", err)
	}
	if id == 0 {
		t.Error("id should be set")
	}

	got, err := store.GetPayload("open-meteo:12.9716,77.5946:2024-06-01:2024-06-07", time.Hour)
	if err != nil {
		t.Fatalf("GetPayload: %v", err)
	}
	if got == nil {
		t.Fatal("GetPayload returned nil")
	}
	if !bytes.Equal(got.Payload, payload) {
		t.Errorf("Payload = %s, want %s", got.Payload, payload)
	}
	if got.Provider != "open-meteo" || got.RangeStart != "2024-06-01" {
		t.Errorf("metadata = %+v", got)
	}
	if got.PayloadSize != len(payload) {
		t.Errorf("PayloadSize = %d, want %d", got.PayloadSize, len(payload))
	}
	if len(got.PayloadHash) != 64 {
		t.Errorf("PayloadHash = %q, want sha256 hex", got.PayloadHash)
	}
}

func TestGetPayload_Miss(t *testing.T) {
	store := setupTestStore(t)

	got, err := store.GetPayload("nope", 0)
	if err != nil {
		t.Fatalf("GetPayload: %v", err)
	}
	if got != nil {
		t.Errorf("GetPayload = %+v, want nil", got)
	}
}

func TestGetPayload_Stale(t *testing.T) {
	store := setupTestStore(t)
	clock := &fakeClock{t: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
	store.SetClock(clock.now)

	if _, err := store.PutPayload(CachedPayload{Provider: "nasa-power", CacheKey: "k", Payload: []byte(`{}`)}); err != nil {
		t.Fatalf("PutPayload: %v", err)
	}

	clock.t = clock.t.Add(2 * time.Hour)
	got, err := store.GetPayload("k", time.Hour)
	if err != nil {
		t.Fatalf("GetPayload: %v", err)
	}
	if got != nil {
		t.Error("stale payload should be a miss")
	}

	got, err = store.GetPayload("k", 0)
	if err != nil {
		t.Fatalf("GetPayload any age: %v", err)
	}
	if got == nil {
		t.Error("zero maxAge should accept any age")
	}
}

func TestPutPayload_ReplacesKey(t *testing.T) {
	store := setupTestStore(t)

	if _, err := store.PutPayload(CachedPayload{Provider: "nasa-power", CacheKey: "other", Payload: []byte(`{}`)}); err != nil {
		t.Fatalf("PutPayload: %v", err)
	}

	var ids []int64
	for _, body := range []string{`{"v":1}`, `{"v":2}`} {
		id, err := store.PutPayload(CachedPayload{Provider: "open-meteo", CacheKey: "k", Payload: []byte(body)})
		if err != nil {
			t.Fatalf("PutPayload: %v", err)
		}
		ids = append(ids, id)
	}
	if ids[0] == 0 || ids[1] != ids[0] {
		t.Errorf("ids = %v, want the same non-zero id for a replaced key", ids)
	}

	got, err := store.GetPayload("k", 0)
	if err != nil || got == nil {
		t.Fatalf("GetPayload = %v, %v", got, err)
	}
	if string(got.Payload) != `{"v":2}` {
		t.Errorf("Payload = %s, want latest", got.Payload)
	}

	stats, err := store.GetPayloadStats()
	if err != nil {
		t.Fatalf("GetPayloadStats: %v", err)
	}
	if stats.TotalCount != 2 {
		t.Errorf("TotalCount = %d, want 2", stats.TotalCount)
	}
}

func TestPrunePayloads(t *testing.T) {
	store := setupTestStore(t)
	clock := &fakeClock{t: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)}
	store.SetClock(clock.now)

	if _, err := store.PutPayload(CachedPayload{Provider: "open-meteo", CacheKey: "old", Payload: []byte(`{}`)}); err != nil {
		t.Fatal(err)
	}
	clock.t = clock.t.AddDate(0, 0, 10)
	if _, err := store.PutPayload(CachedPayload{Provider: "nasa-power", CacheKey: "new", Payload: []byte(`{}`)}); err != nil {
		t.Fatal(err)
	}

	removed, err := store.PrunePayloads(7 * 24 * time.Hour)
	if err != nil {
		t.Fatalf("PrunePayloads: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}

	stats, err := store.GetPayloadStats()
	if err != nil {
		t.Fatalf("GetPayloadStats: %v", err)
	}
	if stats.TotalCount != 1 || stats.CountByProvider["nasa-power"] != 1 {
		t.Errorf("stats = %+v", stats)
	}
	if !stats.NewestFetchedAt.Equal(clock.t) {
		t.Errorf("NewestFetchedAt = %v, want %v", stats.NewestFetchedAt, clock.t)
	}
}

func TestIngestRun_StartAndComplete(t *testing.T) {
	store := setupTestStore(t)

	run, err := store.StartIngestRun("open-meteo", "open-meteo:1,2:a:b")
	if err != nil {
		t.Fatalf("StartIngestRun: %v", err)
	}
	if run.ID == 0 {
		t.Error("run.ID should be set")
	}
	if run.Provider != "open-meteo" {
		t.Errorf("run.Provider = %q, want 'open-meteo'", run.Provider)
	}

	run.HTTPStatus = sql.NullInt64{Int64: 200, Valid: true}
	run.ResponseSizeBytes = sql.NullInt64{Int64: 1024, Valid: true}
	run.Success = true

	if err := store.CompleteIngestRun(run); err != nil {
		t.Fatalf("CompleteIngestRun: %v", err)
	}

	health, err := store.GetIngestHealth(1)
	if err != nil {
		t.Fatalf("GetIngestHealth: %v", err)
	}
	if len(health) != 1 {
		t.Fatalf("len(health) = %d, want 1", len(health))
	}
	if health[0].Provider != "open-meteo" || health[0].SuccessRuns != 1 || health[0].TotalBytes != 1024 {
		t.Errorf("health = %+v", health[0])
	}
}

func TestIngestRun_GetRecentErrors(t *testing.T) {
	store := setupTestStore(t)

	run, err := store.StartIngestRun("nasa-power", "k")
	if err != nil {
		t.Fatal(err)
	}

	run.HTTPStatus = sql.NullInt64{Int64: 500, Valid: true}
	run.Success = false
	run.ErrorMessage = sql.NullString{String: "server error", Valid: true}
	if err := store.CompleteIngestRun(run); err != nil {
		t.Fatal(err)
	}

	errors, err := store.GetRecentIngestErrors(10)
	if err != nil {
		t.Fatalf("GetRecentIngestErrors: %v", err)
	}
	if len(errors) != 1 {
		t.Fatalf("len(errors) = %d, want 1", len(errors))
	}
	if errors[0].ErrorMessage.String != "server error" {
		t.Errorf("ErrorMessage = %q, want 'server error'", errors[0].ErrorMessage.String)
	}
	if !errors[0].FinishedAt.Valid {
		t.Error("FinishedAt should be set")
	}
}

func TestCompleteIngestRun_Nil(t *testing.T) {
	store := setupTestStore(t)
	if err := store.CompleteIngestRun(nil); err != nil {
		t.Errorf("CompleteIngestRun(nil) = %v", err)
	}
}

func TestMigrationVersion(t *testing.T) {
	store := setupTestStore(t)

	version, err := store.MigrationVersion()
	if err != nil {
		t.Fatalf("MigrationVersion: %v", err)
	}
	if version != len(migrations) {
		t.Errorf("MigrationVersion = %d, want %d", version, len(migrations))
	}

	if err := store.Migrate(); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}
}
