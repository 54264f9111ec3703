package events

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/sqltj/oura-streaming/internal/db"
)

func openTestDB(t *testing.T) *db.Database {
	t.Helper()
	database, err := db.New(filepath.Join(t.TempDir(), "events-test"))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { _ = database.Close() })
	return database
}

func openTestStore(t *testing.T, opts StoreOptions) *Store {
	t.Helper()
	return NewStore(openTestDB(t), opts)
}

func TestAppendAssignsIDAndMonotonicReceivedAt(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := openTestStore(t, StoreOptions{})

	seen := map[string]bool{}
	var last time.Time
	for i := 0; i < 20; i++ {
		event, evicted, err := store.Append(ctx, Payload{DataType: "daily_sleep", EventType: EventTypeCreate})
		if err != nil {
			t.Fatalf("append: %v", err)
		}
		if len(evicted) != 0 {
			t.Fatalf("unexpected eviction without cap: %v", evicted)
		}
		if event.ID == "" || seen[event.ID] {
			t.Fatalf("expected unique non-empty id, got %q", event.ID)
		}
		seen[event.ID] = true
		if event.ReceivedAt.Before(last) {
			t.Fatalf("received_at went backwards: %v < %v", event.ReceivedAt, last)
		}
		last = event.ReceivedAt
	}
}

func TestAppendOrderingSurvivesReopen(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	database := openTestDB(t)

	// An already-stored event ahead of the current wall clock, as after a
	// restart with a regressed clock.
	ahead := time.Now().UTC().Add(time.Hour)
	row := db.EventRow{
		ID:         "stored-before-restart",
		ReceivedAt: ahead.UnixNano(),
		DataType:   "daily_sleep",
		EventType:  EventTypeCreate,
		Payload:    []byte(`{}`),
	}
	if err := database.InsertEvent(ctx, row); err != nil {
		t.Fatalf("insert event: %v", err)
	}

	store := NewStore(database, StoreOptions{})
	event, _, err := store.Append(ctx, Payload{DataType: "workout", EventType: EventTypeCreate})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if !event.ReceivedAt.After(ahead) {
		t.Fatalf("received_at regressed past stored events: %v <= %v", event.ReceivedAt, ahead)
	}

	list, err := store.Query(ctx, Filter{Limit: 10})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(list) != 2 || list[0].ID != event.ID || list[1].ID != "stored-before-restart" {
		t.Fatalf("unexpected order after reopen: %+v", list)
	}
}

func TestQueryReturnsNewestFirst(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := openTestStore(t, StoreOptions{})

	for i := 0; i < 10; i++ {
		if _, _, err := store.Append(ctx, Payload{DataType: "workout", EventType: EventTypeCreate}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	list, err := store.Query(ctx, Filter{Limit: 5})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(list) != 5 {
		t.Fatalf("expected 5 events, got %d", len(list))
	}
	for i := 1; i < len(list); i++ {
		if list[i].ReceivedAt.After(list[i-1].ReceivedAt) {
			t.Fatalf("events out of order at index %d", i)
		}
	}
}

func TestQueryFiltersByDataType(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := openTestStore(t, StoreOptions{})

	a, _, err := store.Append(ctx, Payload{DataType: "daily_sleep", EventType: EventTypeCreate})
	if err != nil {
		t.Fatalf("append A: %v", err)
	}
	b, _, err := store.Append(ctx, Payload{DataType: "daily_sleep", EventType: EventTypeCreate})
	if err != nil {
		t.Fatalf("append B: %v", err)
	}
	if _, _, err := store.Append(ctx, Payload{DataType: "workout", EventType: EventTypeCreate}); err != nil {
		t.Fatalf("append C: %v", err)
	}

	list, err := store.Query(ctx, Filter{DataType: "daily_sleep", Limit: 10})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 daily_sleep events, got %d", len(list))
	}
	if list[0].ID != b.ID || list[1].ID != a.ID {
		t.Fatalf("expected [B, A], got [%s, %s]", list[0].ID, list[1].ID)
	}
}

func TestQueryBeforeCursor(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := openTestStore(t, StoreOptions{})

	first, _, err := store.Append(ctx, Payload{DataType: "tag", EventType: EventTypeCreate})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	second, _, err := store.Append(ctx, Payload{DataType: "tag", EventType: EventTypeCreate})
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	list, err := store.Query(ctx, Filter{Limit: 10, Before: second.ReceivedAt})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(list) != 1 || list[0].ID != first.ID {
		t.Fatalf("expected only the first event before cursor, got %+v", list)
	}
}

func TestQueryClampsLimit(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := openTestStore(t, StoreOptions{})

	if _, err := store.Query(ctx, Filter{Limit: MaxQueryLimit * 10}); err != nil {
		t.Fatalf("query with oversized limit: %v", err)
	}
}

func TestAppendPreservesPayloadVerbatim(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := openTestStore(t, StoreOptions{})

	ts := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	raw := json.RawMessage(`{"score":87,"contributors":{"deep_sleep":70}}`)
	stored, _, err := store.Append(ctx, Payload{
		DataType:  "mystery_future_type",
		EventType: EventTypeUpdate,
		UserID:    "user-1",
		Timestamp: &ts,
		Data:      raw,
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	list, err := store.Query(ctx, Filter{Limit: 1})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	got := list[0]
	if got.ID != stored.ID || got.DataType != "mystery_future_type" || got.UserID != "user-1" {
		t.Fatalf("unexpected stored event: %+v", got)
	}
	if got.Timestamp == nil || !got.Timestamp.Equal(ts) {
		t.Fatalf("expected source timestamp %v, got %v", ts, got.Timestamp)
	}
	if string(got.Data) != string(raw) {
		t.Fatalf("payload not stored verbatim: %s", got.Data)
	}
}

func TestClearIsIdempotent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := openTestStore(t, StoreOptions{})

	for i := 0; i < 3; i++ {
		if _, _, err := store.Append(ctx, Payload{DataType: "sleep", EventType: EventTypeCreate}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	count, err := store.Clear(ctx)
	if err != nil {
		t.Fatalf("clear: %v", err)
	}
	if count != 3 {
		t.Fatalf("expected 3 cleared, got %d", count)
	}

	count, err = store.Clear(ctx)
	if err != nil {
		t.Fatalf("second clear: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected 0 cleared on second call, got %d", count)
	}
}

func TestPruneRemovesOnlyExpiredEvents(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	database := openTestDB(t)
	store := NewStore(database, StoreOptions{})

	now := time.Now().UTC()
	rows := []db.EventRow{
		{ID: "expired", ReceivedAt: now.Add(-40 * 24 * time.Hour).UnixNano(), DataType: "sleep", EventType: EventTypeCreate},
		{ID: "fresh", ReceivedAt: now.Add(-time.Hour).UnixNano(), DataType: "sleep", EventType: EventTypeCreate},
	}
	for _, row := range rows {
		if err := database.InsertEvent(ctx, row); err != nil {
			t.Fatalf("insert event %s: %v", row.ID, err)
		}
	}

	count, err := store.Prune(ctx, 30*24*time.Hour)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 pruned, got %d", count)
	}

	list, err := store.Query(ctx, Filter{Limit: 10})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(list) != 1 || list[0].ID != "fresh" {
		t.Fatalf("expected only the fresh event to remain, got %+v", list)
	}
}

func TestHardCapEvictsOldestFirst(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := openTestStore(t, StoreOptions{MaxEvents: 3})

	var ids []string
	var evictions []string
	for i := 0; i < 5; i++ {
		event, evicted, err := store.Append(ctx, Payload{DataType: "workout", EventType: EventTypeCreate})
		if err != nil {
			t.Fatalf("append: %v", err)
		}
		ids = append(ids, event.ID)
		evictions = append(evictions, evicted...)
	}

	if len(evictions) != 2 {
		t.Fatalf("expected 2 evicted ids, got %v", evictions)
	}
	if evictions[0] != ids[0] || evictions[1] != ids[1] {
		t.Fatalf("expected oldest-first eviction %v, got %v", ids[:2], evictions)
	}

	count, err := store.Count(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 3 {
		t.Fatalf("expected 3 events after cap enforcement, got %d", count)
	}
}
