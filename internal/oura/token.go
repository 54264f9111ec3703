// Package oura manages the OAuth2 token lifecycle and outbound calls to the
// Oura cloud API.
package oura

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sqltj/oura-streaming/internal/db"
)

// ErrNoToken is returned when no bearer token is stored.
var ErrNoToken = errors.New("no token stored")

// Token is the current OAuth2 bearer credential. ExpiresAt is computed from a
// clock reading captured at exchange time; a zero ExpiresAt means the token
// carries no expiry.
type Token struct {
	AccessToken  string
	TokenType    string
	RefreshToken string
	Scope        string
	ExpiresAt    time.Time
}

// Expired reports whether the token is expired at the given instant. There is
// no clock-skew grace: now >= ExpiresAt is expired.
func (t Token) Expired(now time.Time) bool {
	if t.ExpiresAt.IsZero() {
		return false
	}
	return !now.Before(t.ExpiresAt)
}

// TokenStore persists the singleton bearer token so it survives restarts.
// Replacement is atomic: readers observe either the old or the new token.
type TokenStore struct {
	database *db.Database
}

// NewTokenStore creates a store over an open database.
func NewTokenStore(database *db.Database) *TokenStore {
	return &TokenStore{database: database}
}

// Current returns the stored token, or ErrNoToken when absent.
func (s *TokenStore) Current(ctx context.Context) (Token, error) {
	row, err := s.database.GetOAuthToken(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return Token{}, ErrNoToken
	}
	if err != nil {
		return Token{}, fmt.Errorf("load token: %w", err)
	}

	token := Token{
		AccessToken: row.AccessToken,
		TokenType:   row.TokenType,
	}
	if row.RefreshToken.Valid {
		token.RefreshToken = row.RefreshToken.String
	}
	if row.Scope.Valid {
		token.Scope = row.Scope.String
	}
	if row.ExpiresAt > 0 {
		token.ExpiresAt = time.Unix(row.ExpiresAt, 0).UTC()
	}
	return token, nil
}

// Save atomically replaces the current token.
func (s *TokenStore) Save(ctx context.Context, token Token) error {
	tokenType := token.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}
	row := db.TokenRow{
		AccessToken: token.AccessToken,
		TokenType:   tokenType,
		UpdatedAt:   time.Now().UTC().Unix(),
	}
	if token.RefreshToken != "" {
		row.RefreshToken = sql.NullString{String: token.RefreshToken, Valid: true}
	}
	if token.Scope != "" {
		row.Scope = sql.NullString{String: token.Scope, Valid: true}
	}
	if !token.ExpiresAt.IsZero() {
		row.ExpiresAt = token.ExpiresAt.UTC().Unix()
	}
	return s.database.UpsertOAuthToken(ctx, row)
}

// Clear removes the persisted token (logout).
func (s *TokenStore) Clear(ctx context.Context) error {
	return s.database.DeleteOAuthToken(ctx)
}
