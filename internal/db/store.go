package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// EventRow is the persisted shape of a webhook event. ReceivedAt is stored as
// unix nanoseconds so cursor comparisons stay index-friendly.
type EventRow struct {
	ID              string
	ReceivedAt      int64
	DataType        string
	EventType       string
	UserID          sql.NullString
	SourceTimestamp sql.NullString
	Payload         []byte
}

// ListEventsParams configures the event history query.
type ListEventsParams struct {
	DataType string
	Before   int64
	Limit    int64
}

// InsertEvent stores one event row.
func (c *Database) InsertEvent(ctx context.Context, row EventRow) error {
	defer observeQuery("insert_event", time.Now())
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO events (id, received_at, data_type, event_type, user_id, source_timestamp, payload)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		row.ID, row.ReceivedAt, row.DataType, row.EventType, row.UserID, row.SourceTimestamp, row.Payload,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// ListEvents returns events newest-first, optionally filtered by data type and
// bounded by a received-at cursor.
func (c *Database) ListEvents(ctx context.Context, params ListEventsParams) ([]EventRow, error) {
	defer observeQuery("list_events", time.Now())
	var (
		conditions []string
		args       []any
	)
	if params.DataType != "" {
		conditions = append(conditions, "data_type = ?")
		args = append(args, params.DataType)
	}
	if params.Before > 0 {
		conditions = append(conditions, "received_at < ?")
		args = append(args, params.Before)
	}

	query := "SELECT id, received_at, data_type, event_type, user_id, source_timestamp, payload FROM events"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY received_at DESC, id DESC LIMIT ?"
	args = append(args, params.Limit)

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []EventRow
	for rows.Next() {
		var row EventRow
		if err := rows.Scan(&row.ID, &row.ReceivedAt, &row.DataType, &row.EventType, &row.UserID, &row.SourceTimestamp, &row.Payload); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// CountEvents returns the total number of stored events.
func (c *Database) CountEvents(ctx context.Context) (int64, error) {
	defer observeQuery("count_events", time.Now())
	var count int64
	if err := c.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM events").Scan(&count); err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return count, nil
}

// LatestEventReceivedAt returns the received-at of the newest stored event, or
// zero when the store is empty.
func (c *Database) LatestEventReceivedAt(ctx context.Context) (int64, error) {
	defer observeQuery("latest_event", time.Now())
	var latest sql.NullInt64
	if err := c.db.QueryRowContext(ctx, "SELECT MAX(received_at) FROM events").Scan(&latest); err != nil {
		return 0, fmt.Errorf("latest event: %w", err)
	}
	return latest.Int64, nil
}

// DeleteEventsBefore removes events whose received-at precedes the cutoff and
// returns how many were removed.
func (c *Database) DeleteEventsBefore(ctx context.Context, cutoff int64) (int64, error) {
	defer observeQuery("delete_events_before", time.Now())
	result, err := c.db.ExecContext(ctx, "DELETE FROM events WHERE received_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete events before cutoff: %w", err)
	}
	return result.RowsAffected()
}

// DeleteAllEvents removes every stored event and returns the removed count.
func (c *Database) DeleteAllEvents(ctx context.Context) (int64, error) {
	defer observeQuery("delete_all_events", time.Now())
	result, err := c.db.ExecContext(ctx, "DELETE FROM events")
	if err != nil {
		return 0, fmt.Errorf("delete all events: %w", err)
	}
	return result.RowsAffected()
}

// EvictOldestEvents deletes the n oldest events and returns their ids in
// eviction order.
func (c *Database) EvictOldestEvents(ctx context.Context, n int64) ([]string, error) {
	defer observeQuery("evict_oldest_events", time.Now())
	if n <= 0 {
		return nil, nil
	}
	rows, err := c.db.QueryContext(ctx,
		`DELETE FROM events WHERE id IN
		   (SELECT id FROM events ORDER BY received_at ASC, id ASC LIMIT ?)
		 RETURNING id`, n)
	if err != nil {
		return nil, fmt.Errorf("evict oldest events: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan evicted id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// TokenRow is the persisted singleton OAuth token. ExpiresAt and UpdatedAt are
// unix seconds; ExpiresAt zero means the token carries no expiry.
type TokenRow struct {
	AccessToken  string
	TokenType    string
	RefreshToken sql.NullString
	Scope        sql.NullString
	ExpiresAt    int64
	UpdatedAt    int64
}

// GetOAuthToken fetches the current token. Returns sql.ErrNoRows when no token
// is stored.
func (c *Database) GetOAuthToken(ctx context.Context) (TokenRow, error) {
	defer observeQuery("get_oauth_token", time.Now())
	var row TokenRow
	err := c.db.QueryRowContext(ctx,
		"SELECT access_token, token_type, refresh_token, scope, expires_at, updated_at FROM oauth_tokens WHERE id = 1",
	).Scan(&row.AccessToken, &row.TokenType, &row.RefreshToken, &row.Scope, &row.ExpiresAt, &row.UpdatedAt)
	if err != nil {
		return TokenRow{}, err
	}
	return row, nil
}

// UpsertOAuthToken atomically replaces the current token.
func (c *Database) UpsertOAuthToken(ctx context.Context, row TokenRow) error {
	defer observeQuery("upsert_oauth_token", time.Now())
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO oauth_tokens (id, access_token, token_type, refresh_token, scope, expires_at, updated_at)
		 VALUES (1, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   access_token = excluded.access_token,
		   token_type = excluded.token_type,
		   refresh_token = excluded.refresh_token,
		   scope = excluded.scope,
		   expires_at = excluded.expires_at,
		   updated_at = excluded.updated_at`,
		row.AccessToken, row.TokenType, row.RefreshToken, row.Scope, row.ExpiresAt, row.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert oauth token: %w", err)
	}
	return nil
}

// DeleteOAuthToken removes the stored token.
func (c *Database) DeleteOAuthToken(ctx context.Context) error {
	defer observeQuery("delete_oauth_token", time.Now())
	if _, err := c.db.ExecContext(ctx, "DELETE FROM oauth_tokens WHERE id = 1"); err != nil {
		return fmt.Errorf("delete oauth token: %w", err)
	}
	return nil
}

// InsertOAuthState records a login-initiation state nonce.
func (c *Database) InsertOAuthState(ctx context.Context, state string, createdAt int64) error {
	defer observeQuery("insert_oauth_state", time.Now())
	if _, err := c.db.ExecContext(ctx,
		"INSERT INTO oauth_states (state, created_at) VALUES (?, ?)", state, createdAt,
	); err != nil {
		return fmt.Errorf("insert oauth state: %w", err)
	}
	return nil
}

// ConsumeOAuthState deletes the state nonce and returns its creation time.
// The second return value is false when the nonce was never issued or was
// already consumed.
func (c *Database) ConsumeOAuthState(ctx context.Context, state string) (int64, bool, error) {
	defer observeQuery("consume_oauth_state", time.Now())
	var createdAt int64
	err := c.db.QueryRowContext(ctx,
		"DELETE FROM oauth_states WHERE state = ? RETURNING created_at", state,
	).Scan(&createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("consume oauth state: %w", err)
	}
	return createdAt, true, nil
}

// DeleteExpiredOAuthStates removes state nonces created before the cutoff.
func (c *Database) DeleteExpiredOAuthStates(ctx context.Context, cutoff int64) (int64, error) {
	defer observeQuery("delete_expired_oauth_states", time.Now())
	result, err := c.db.ExecContext(ctx, "DELETE FROM oauth_states WHERE created_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete expired oauth states: %w", err)
	}
	return result.RowsAffected()
}
