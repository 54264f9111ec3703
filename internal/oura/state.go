package oura

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/sqltj/oura-streaming/internal/db"
)

// StateTTL is how long a login-initiation state nonce stays valid.
const StateTTL = 10 * time.Minute

// StateStore issues and consumes single-use CSRF state nonces for the OAuth2
// authorization flow.
type StateStore struct {
	database *db.Database
	ttl      time.Duration
}

// NewStateStore creates a store over an open database. A non-positive TTL
// falls back to StateTTL.
func NewStateStore(database *db.Database, ttl time.Duration) *StateStore {
	if ttl <= 0 {
		ttl = StateTTL
	}
	return &StateStore{database: database, ttl: ttl}
}

// Create issues a new state nonce and purges expired entries.
func (s *StateStore) Create(ctx context.Context) (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate state: %w", err)
	}
	state := base64.RawURLEncoding.EncodeToString(buf)

	now := time.Now().UTC()
	if err := s.database.InsertOAuthState(ctx, state, now.UnixNano()); err != nil {
		return "", err
	}
	if _, err := s.database.DeleteExpiredOAuthStates(ctx, now.Add(-s.ttl).UnixNano()); err != nil {
		return "", err
	}
	return state, nil
}

// Consume validates and deletes a state nonce. It returns false for a nonce
// that was never issued, was already consumed, or has expired. A second use
// of the same nonce always fails.
func (s *StateStore) Consume(ctx context.Context, state string, now time.Time) (bool, error) {
	createdAt, ok, err := s.database.ConsumeOAuthState(ctx, state)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	return now.Sub(time.Unix(0, createdAt)) < s.ttl, nil
}
