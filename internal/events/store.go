package events

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sqltj/oura-streaming/internal/db"
)

const (
	// DefaultQueryLimit is applied when a query does not set a limit.
	DefaultQueryLimit = 50
	// MaxQueryLimit bounds the result size of a single query.
	MaxQueryLimit = 1000
)

// StoreOptions tune retention behaviour.
type StoreOptions struct {
	// MaxEvents is a hard cap on stored events; zero disables the cap.
	// Retention is primarily time-bounded via Prune, the cap only protects
	// against unbounded growth between prune passes.
	MaxEvents int64
}

// Store is the durable, bounded event store backed by SQLite.
type Store struct {
	database *db.Database
	opts     StoreOptions

	mu           sync.Mutex
	seeded       bool
	lastReceived int64
}

// NewStore creates a store over an open database.
func NewStore(database *db.Database, opts StoreOptions) *Store {
	return &Store{database: database, opts: opts}
}

// Filter selects a slice of event history.
type Filter struct {
	DataType string
	Limit    int
	Before   time.Time
}

// Append assigns an id and received-at to the payload, persists it and
// returns the stored record. When the hard cap is exceeded the oldest events
// are evicted and their ids returned so callers can reconcile.
func (s *Store) Append(ctx context.Context, payload Payload) (Event, []string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Seed the high-water mark from the newest stored event, so ordering
	// holds across restarts even when the wall clock stepped backwards in
	// between.
	if !s.seeded {
		latest, err := s.database.LatestEventReceivedAt(ctx)
		if err != nil {
			return Event{}, nil, fmt.Errorf("append event: %w", err)
		}
		s.lastReceived = latest
		s.seeded = true
	}

	now := time.Now().UTC().UnixNano()
	// received_at never goes backwards, even if the wall clock does.
	if now <= s.lastReceived {
		now = s.lastReceived + 1
	}

	event := Event{
		ID:         uuid.NewString(),
		ReceivedAt: time.Unix(0, now).UTC(),
		DataType:   payload.DataType,
		EventType:  payload.EventType,
		UserID:     payload.UserID,
		Timestamp:  payload.Timestamp,
		Data:       payload.Data,
	}

	if err := s.database.InsertEvent(ctx, eventToRow(event)); err != nil {
		return Event{}, nil, fmt.Errorf("append event: %w", err)
	}
	s.lastReceived = now

	// The event is committed at this point; cap enforcement failures must not
	// turn a successful append into an error.
	var evicted []string
	if s.opts.MaxEvents > 0 {
		count, err := s.database.CountEvents(ctx)
		if err != nil {
			slog.Warn("Failed to count events for cap enforcement", "error", err)
			return event, nil, nil
		}
		if excess := count - s.opts.MaxEvents; excess > 0 {
			evicted, err = s.database.EvictOldestEvents(ctx, excess)
			if err != nil {
				slog.Warn("Failed to evict events over cap", "error", err)
				return event, nil, nil
			}
		}
	}

	return event, evicted, nil
}

// Query returns stored events newest-first. The limit is clamped to
// MaxQueryLimit; a zero Before means no cursor.
func (s *Store) Query(ctx context.Context, filter Filter) ([]Event, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultQueryLimit
	}
	if limit > MaxQueryLimit {
		limit = MaxQueryLimit
	}

	params := db.ListEventsParams{
		DataType: filter.DataType,
		Limit:    int64(limit),
	}
	if !filter.Before.IsZero() {
		params.Before = filter.Before.UnixNano()
	}

	rows, err := s.database.ListEvents(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}

	out := make([]Event, 0, len(rows))
	for _, row := range rows {
		event, err := rowToEvent(row)
		if err != nil {
			return nil, err
		}
		out = append(out, event)
	}
	return out, nil
}

// Count returns the total number of stored events.
func (s *Store) Count(ctx context.Context) (int64, error) {
	return s.database.CountEvents(ctx)
}

// Prune deletes events older than the retention window and returns how many
// were removed.
func (s *Store) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan).UnixNano()
	return s.database.DeleteEventsBefore(ctx, cutoff)
}

// Clear deletes all events and returns the number removed.
func (s *Store) Clear(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.database.DeleteAllEvents(ctx)
}

func eventToRow(event Event) db.EventRow {
	row := db.EventRow{
		ID:         event.ID,
		ReceivedAt: event.ReceivedAt.UnixNano(),
		DataType:   event.DataType,
		EventType:  event.EventType,
		Payload:    event.Data,
	}
	if event.UserID != "" {
		row.UserID = sql.NullString{String: event.UserID, Valid: true}
	}
	if event.Timestamp != nil {
		row.SourceTimestamp = sql.NullString{String: event.Timestamp.UTC().Format(time.RFC3339Nano), Valid: true}
	}
	return row
}

func rowToEvent(row db.EventRow) (Event, error) {
	event := Event{
		ID:         row.ID,
		ReceivedAt: time.Unix(0, row.ReceivedAt).UTC(),
		DataType:   row.DataType,
		EventType:  row.EventType,
		Data:       row.Payload,
	}
	if row.UserID.Valid {
		event.UserID = row.UserID.String
	}
	if row.SourceTimestamp.Valid {
		ts, err := time.Parse(time.RFC3339Nano, row.SourceTimestamp.String)
		if err != nil {
			return Event{}, fmt.Errorf("parse source timestamp of event %s: %w", row.ID, err)
		}
		event.Timestamp = &ts
	}
	return event, nil
}
