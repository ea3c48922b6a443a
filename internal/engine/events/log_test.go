package events

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"pulse/internal/platform/models"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	query := `
	CREATE TABLE system_events (
		id TEXT PRIMARY KEY,
		entity_type TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		event_data TEXT,
		security_level TEXT NOT NULL DEFAULT 'info',
		correlation_id TEXT NOT NULL DEFAULT '',
		trace_id TEXT NOT NULL DEFAULT '',
		source TEXT NOT NULL DEFAULT '',
		actor TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL
	);
	`
	if _, err := db.Exec(query); err != nil {
		t.Fatalf("Failed to create table: %v", err)
	}
	return db
}

func newTestLog(t *testing.T) *Log {
	t.Helper()
	return NewLog(NewRepository(setupTestDB(t)), Options{BufferSize: 100, BatchSize: 100, FlushInterval: time.Hour})
}

func TestEmitFlushQueryOrder(t *testing.T) {
	l := newTestLog(t)

	var ids []string
	for _, eventType := range []string{"created", "queued", "published"} {
		ids = append(ids, l.Emit(&models.SystemEvent{
			EntityType: "asset",
			EntityID:   "ast_1",
			EventType:  eventType,
		}))
	}
	l.Emit(&models.SystemEvent{EntityType: "asset", EntityID: "ast_other", EventType: "created"})

	if err := l.Flush(); err != nil {
		t.Fatalf("flush failed: %v", err)
	}

	evs, total, hasMore, err := l.Query(Filter{EntityType: "asset", EntityID: "ast_1"})
	if err != nil {
		t.Fatal(err)
	}
	if total != 3 || hasMore {
		t.Errorf("total = %d hasMore = %v, want 3 false", total, hasMore)
	}

	// Newest first: reverse of emission order
	want := []string{"published", "queued", "created"}
	for i, ev := range evs {
		if ev.EventType != want[i] {
			t.Errorf("event %d: type = %s, want %s", i, ev.EventType, want[i])
		}
	}
	if evs[2].ID != ids[0] {
		t.Errorf("oldest event id = %s, want %s", evs[2].ID, ids[0])
	}
}

func TestDuplicateEmitIsIdempotent(t *testing.T) {
	l := newTestLog(t)

	ev := &models.SystemEvent{ID: "evt_dup", EntityType: "asset", EntityID: "ast_1", EventType: "created"}
	l.Emit(ev)
	if err := l.Flush(); err != nil {
		t.Fatal(err)
	}

	// Re-delivery of the same event id is a no-op
	l.Emit(&models.SystemEvent{ID: "evt_dup", EntityType: "asset", EntityID: "ast_1", EventType: "created"})
	if err := l.Flush(); err != nil {
		t.Fatal(err)
	}

	_, total, _, err := l.Query(Filter{EntityID: "ast_1"})
	if err != nil {
		t.Fatal(err)
	}
	if total != 1 {
		t.Errorf("total = %d, want 1", total)
	}
}

func TestEmitBatch(t *testing.T) {
	l := newTestLog(t)

	ids := l.EmitBatch([]*models.SystemEvent{
		{EntityType: "asset", EntityID: "ast_1", EventType: "a"},
		{EntityType: "asset", EntityID: "ast_1", EventType: "b"},
	})
	if len(ids) != 2 || ids[0] == "" || ids[1] == "" {
		t.Fatalf("unexpected ids: %v", ids)
	}

	l.Flush()
	_, total, _, _ := l.Query(Filter{EntityID: "ast_1"})
	if total != 2 {
		t.Errorf("total = %d, want 2", total)
	}
}

type flakyStore struct {
	*Repository
	failures int
	inserts  int
}

func (s *flakyStore) InsertBatch(batch []*models.SystemEvent) error {
	s.inserts++
	if s.failures > 0 {
		s.failures--
		return errors.New("storage unavailable")
	}
	return s.Repository.InsertBatch(batch)
}

func TestFlushFailureRetriesBatch(t *testing.T) {
	store := &flakyStore{Repository: NewRepository(setupTestDB(t)), failures: 1}
	l := NewLog(store, Options{BufferSize: 10, FlushInterval: time.Hour})

	var delivered []*models.SystemEvent
	l.Subscribe(Filter{}, func(ev *models.SystemEvent) { delivered = append(delivered, ev) })

	l.Emit(&models.SystemEvent{EntityType: "asset", EntityID: "ast_1", EventType: "created"})

	if err := l.Flush(); err == nil {
		t.Fatal("expected first flush to fail")
	}
	if len(delivered) != 0 {
		t.Error("subscriber notified before commit")
	}

	// Batch stays buffered and commits on the next flush
	if err := l.Flush(); err != nil {
		t.Fatalf("second flush failed: %v", err)
	}
	if len(delivered) != 1 {
		t.Errorf("subscriber got %d events, want 1", len(delivered))
	}

	_, total, _, _ := l.Query(Filter{EntityID: "ast_1"})
	if total != 1 {
		t.Errorf("total = %d, want 1", total)
	}
}

func TestSubscribeFiltersAndUnsubscribe(t *testing.T) {
	l := newTestLog(t)

	var got []string
	unsub := l.Subscribe(Filter{EntityType: "destination"}, func(ev *models.SystemEvent) {
		got = append(got, ev.EventType)
	})

	l.Emit(&models.SystemEvent{EntityType: "destination", EntityID: "dst_1", EventType: "publishing_started"})
	l.Emit(&models.SystemEvent{EntityType: "asset", EntityID: "ast_1", EventType: "asset_status_changed"})
	l.Flush()

	if len(got) != 1 || got[0] != "publishing_started" {
		t.Errorf("subscriber got %v, want [publishing_started]", got)
	}

	unsub()
	l.Emit(&models.SystemEvent{EntityType: "destination", EntityID: "dst_1", EventType: "publishing_succeeded"})
	l.Flush()

	if len(got) != 1 {
		t.Errorf("unsubscribed callback still invoked: %v", got)
	}
}

func TestRunFlushesOnBatchCeiling(t *testing.T) {
	db := setupTestDB(t)
	l := NewLog(NewRepository(db), Options{BufferSize: 10, BatchSize: 2, FlushInterval: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)

	l.Emit(&models.SystemEvent{EntityType: "asset", EntityID: "ast_1", EventType: "a"})
	l.Emit(&models.SystemEvent{EntityType: "asset", EntityID: "ast_1", EventType: "b"})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		_, total, _, err := l.Query(Filter{EntityID: "ast_1"})
		if err == nil && total == 2 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Error("batch ceiling did not trigger a flush")
}

func TestQueryFilters(t *testing.T) {
	l := newTestLog(t)

	l.Emit(&models.SystemEvent{EntityType: "webhook_config", EntityID: "whc_1", EventType: "webhook_validation_failed", SecurityLevel: models.SecurityLevelCritical, CorrelationID: "corr_1", CreatedAt: 100})
	l.Emit(&models.SystemEvent{EntityType: "webhook_config", EntityID: "whc_1", EventType: "webhook_validation_succeeded", SecurityLevel: models.SecurityLevelInfo, CreatedAt: 200})
	l.Emit(&models.SystemEvent{EntityType: "destination", EntityID: "dst_1", EventType: "publishing_failed", SecurityLevel: models.SecurityLevelError, CorrelationID: "corr_1", CreatedAt: 300})
	l.Flush()

	evs, _, _, err := l.Query(Filter{MinSecurityLevel: models.SecurityLevelError})
	if err != nil {
		t.Fatal(err)
	}
	if len(evs) != 2 {
		t.Errorf("min level error: got %d events, want 2", len(evs))
	}

	evs, _, _, _ = l.Query(Filter{CorrelationID: "corr_1"})
	if len(evs) != 2 {
		t.Errorf("correlation filter: got %d events, want 2", len(evs))
	}

	evs, _, _, _ = l.Query(Filter{Since: 150, Until: 250})
	if len(evs) != 1 || evs[0].EventType != "webhook_validation_succeeded" {
		t.Errorf("date range filter: got %v", evs)
	}

	evs, total, hasMore, _ := l.Query(Filter{Limit: 1})
	if len(evs) != 1 || total != 3 || !hasMore {
		t.Errorf("pagination: len=%d total=%d hasMore=%v", len(evs), total, hasMore)
	}
}

func TestAggregate(t *testing.T) {
	l := newTestLog(t)

	l.Emit(&models.SystemEvent{EntityType: "destination", EntityID: "dst_1", EventType: "publishing_failed", CreatedAt: 100})
	l.Emit(&models.SystemEvent{EntityType: "destination", EntityID: "dst_2", EventType: "publishing_failed", CreatedAt: 300})
	l.Emit(&models.SystemEvent{EntityType: "asset", EntityID: "ast_1", EventType: "asset_status_changed", CreatedAt: 200})
	l.Flush()

	rollups, err := l.Aggregate(Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(rollups) != 2 {
		t.Fatalf("got %d rollups, want 2", len(rollups))
	}

	for _, ru := range rollups {
		if ru.EntityType == "destination" {
			if ru.Count != 2 || ru.FirstSeen != 100 || ru.LastSeen != 300 {
				t.Errorf("destination rollup: %+v", ru)
			}
		}
	}
}

func TestPurgeOlderThan(t *testing.T) {
	db := setupTestDB(t)
	now := time.Unix(1_000_000, 0)
	l := NewLog(NewRepository(db), Options{BufferSize: 10, FlushInterval: time.Hour, Now: func() time.Time { return now }})

	l.Emit(&models.SystemEvent{EntityType: "asset", EntityID: "ast_1", EventType: "old", CreatedAt: now.Add(-100 * 24 * time.Hour).Unix()})
	l.Emit(&models.SystemEvent{EntityType: "asset", EntityID: "ast_1", EventType: "recent", CreatedAt: now.Add(-time.Hour).Unix()})
	l.Flush()

	purged, err := l.PurgeOlderThan(90 * 24 * time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if purged != 1 {
		t.Errorf("purged %d, want 1", purged)
	}

	evs, _, _, _ := l.Query(Filter{EntityID: "ast_1"})
	if len(evs) != 1 || evs[0].EventType != "recent" {
		t.Errorf("remaining events: %v", evs)
	}
}
