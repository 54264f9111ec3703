package oura

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/sqltj/oura-streaming/internal/db"
)

func openTestDB(t *testing.T) *db.Database {
	t.Helper()
	database, err := db.New(filepath.Join(t.TempDir(), "oura-test"))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { _ = database.Close() })
	return database
}

func TestTokenStoreRoundtrip(t *testing.T) {
	t.Parallel()

	store := NewTokenStore(openTestDB(t))
	ctx := context.Background()

	if _, err := store.Current(ctx); !errors.Is(err, ErrNoToken) {
		t.Fatalf("expected ErrNoToken on empty store, got %v", err)
	}

	expires := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	saved := Token{
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		Scope:        "daily personal",
		ExpiresAt:    expires,
	}
	if err := store.Save(ctx, saved); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := store.Current(ctx)
	if err != nil {
		t.Fatalf("current: %v", err)
	}
	if got.AccessToken != "access-1" || got.RefreshToken != "refresh-1" || got.Scope != "daily personal" {
		t.Fatalf("unexpected token: %+v", got)
	}
	if got.TokenType != "Bearer" {
		t.Fatalf("expected default Bearer token type, got %q", got.TokenType)
	}
	if !got.ExpiresAt.Equal(expires) {
		t.Fatalf("expires mismatch: %s != %s", got.ExpiresAt, expires)
	}
}

func TestTokenStoreSaveReplaces(t *testing.T) {
	t.Parallel()

	store := NewTokenStore(openTestDB(t))
	ctx := context.Background()

	if err := store.Save(ctx, Token{AccessToken: "old", RefreshToken: "old-refresh"}); err != nil {
		t.Fatalf("save old: %v", err)
	}
	if err := store.Save(ctx, Token{AccessToken: "new"}); err != nil {
		t.Fatalf("save new: %v", err)
	}

	got, err := store.Current(ctx)
	if err != nil {
		t.Fatalf("current: %v", err)
	}
	if got.AccessToken != "new" {
		t.Fatalf("expected replacement token, got %+v", got)
	}
	if got.RefreshToken != "" {
		t.Fatalf("stale refresh token survived replacement: %+v", got)
	}
}

func TestTokenStoreClear(t *testing.T) {
	t.Parallel()

	store := NewTokenStore(openTestDB(t))
	ctx := context.Background()

	if err := store.Save(ctx, Token{AccessToken: "access"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.Clear(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, err := store.Current(ctx); !errors.Is(err, ErrNoToken) {
		t.Fatalf("expected ErrNoToken after clear, got %v", err)
	}

	// Clearing an empty store is a no-op.
	if err := store.Clear(ctx); err != nil {
		t.Fatalf("clear empty: %v", err)
	}
}

func TestTokenExpired(t *testing.T) {
	t.Parallel()

	now := time.Now()
	cases := []struct {
		name      string
		expiresAt time.Time
		want      bool
	}{
		{"no expiry", time.Time{}, false},
		{"future", now.Add(time.Second), false},
		{"exactly now", now, true},
		{"past", now.Add(-time.Second), true},
	}
	for _, tc := range cases {
		if got := (Token{ExpiresAt: tc.expiresAt}).Expired(now); got != tc.want {
			t.Fatalf("%s: Expired = %t, want %t", tc.name, got, tc.want)
		}
	}
}
