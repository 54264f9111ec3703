package oura

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// Scopes requested during authorization, covering all webhook data types.
var Scopes = []string{"personal", "daily", "heartrate", "workout", "session", "tag", "spo2"}

var (
	// ErrNotAuthenticated means no usable bearer token is available for an
	// outbound API call.
	ErrNotAuthenticated = errors.New("not authenticated")
	// ErrTokenExpired means the stored bearer token has expired.
	ErrTokenExpired = errors.New("token expired")
	// ErrNoRefreshToken means a refresh was requested but the stored token
	// has no refresh credential.
	ErrNoRefreshToken = errors.New("no refresh token available")
)

// ClientConfig holds the OAuth2 application credentials and endpoints.
type ClientConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	AuthURL      string
	TokenURL     string
	APIBaseURL   string
}

// Client performs the OAuth2 flows against the Oura authorization server and
// proxies authenticated API calls.
type Client struct {
	conf   *oauth2.Config
	cfg    ClientConfig
	tokens *TokenStore
	http   *http.Client
}

// NewClient creates a Client persisting tokens through the given store.
func NewClient(cfg ClientConfig, tokens *TokenStore) *Client {
	return &Client{
		conf: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:  cfg.AuthURL,
				TokenURL: cfg.TokenURL,
			},
		},
		cfg:    cfg,
		tokens: tokens,
		http:   &http.Client{Timeout: 15 * time.Second},
	}
}

// AuthURL returns the authorization page URL carrying the CSRF state.
func (c *Client) AuthURL(state string) string {
	return c.conf.AuthCodeURL(state)
}

// Exchange trades an authorization code for a bearer token and persists it.
func (c *Client) Exchange(ctx context.Context, code string) (Token, error) {
	// Capture the clock before the round trip so expiry math does not depend
	// on how long the exchange took.
	now := time.Now().UTC()
	tok, err := c.conf.Exchange(ctx, code)
	if err != nil {
		return Token{}, fmt.Errorf("exchange authorization code: %w", err)
	}
	return c.saveOAuth2Token(ctx, tok, now)
}

// Refresh obtains a fresh bearer token with the stored refresh credential.
func (c *Client) Refresh(ctx context.Context) (Token, error) {
	current, err := c.tokens.Current(ctx)
	if err != nil {
		return Token{}, err
	}
	if current.RefreshToken == "" {
		return Token{}, ErrNoRefreshToken
	}
	return c.RefreshWith(ctx, current.RefreshToken)
}

// RefreshWith obtains a bearer token from an explicitly provided refresh
// token. This is the bootstrap path for deployments that cannot complete the
// browser callback.
func (c *Client) RefreshWith(ctx context.Context, refreshToken string) (Token, error) {
	now := time.Now().UTC()
	source := c.conf.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	tok, err := source.Token()
	if err != nil {
		return Token{}, fmt.Errorf("refresh token: %w", err)
	}
	return c.saveOAuth2Token(ctx, tok, now)
}

func (c *Client) saveOAuth2Token(ctx context.Context, tok *oauth2.Token, issuedAt time.Time) (Token, error) {
	token := Token{
		AccessToken:  tok.AccessToken,
		TokenType:    tok.TokenType,
		RefreshToken: tok.RefreshToken,
	}
	if scope, ok := tok.Extra("scope").(string); ok {
		token.Scope = scope
	}
	if tok.ExpiresIn > 0 {
		token.ExpiresAt = issuedAt.Add(time.Duration(tok.ExpiresIn) * time.Second)
	} else if !tok.Expiry.IsZero() {
		token.ExpiresAt = tok.Expiry.UTC()
	}

	if err := c.tokens.Save(ctx, token); err != nil {
		return Token{}, err
	}
	return token, nil
}

// Authenticated reports whether a non-expired bearer token is stored.
func (c *Client) Authenticated(ctx context.Context) (bool, error) {
	token, err := c.tokens.Current(ctx)
	if errors.Is(err, ErrNoToken) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return !token.Expired(time.Now()), nil
}

// Tokens exposes the underlying token store.
func (c *Client) Tokens() *TokenStore {
	return c.tokens
}

func (c *Client) bearer(ctx context.Context) (Token, error) {
	token, err := c.tokens.Current(ctx)
	if errors.Is(err, ErrNoToken) {
		return Token{}, ErrNotAuthenticated
	}
	if err != nil {
		return Token{}, err
	}
	if token.Expired(time.Now()) {
		return Token{}, ErrTokenExpired
	}
	return token, nil
}

// ProxyResponse is a pass-through upstream API response.
type ProxyResponse struct {
	StatusCode int
	Body       json.RawMessage
}

// Subscription is the request body for creating a webhook subscription.
type Subscription struct {
	CallbackURL       string `json:"callback_url"`
	VerificationToken string `json:"verification_token"`
	DataType          string `json:"data_type"`
	EventType         string `json:"event_type"`
}

func (c *Client) subscriptionURL(id string) string {
	base := strings.TrimRight(c.cfg.APIBaseURL, "/") + "/webhook/subscription"
	if id != "" {
		base += "/" + url.PathEscape(id)
	}
	return base
}

// ListSubscriptions proxies the subscription listing call.
func (c *Client) ListSubscriptions(ctx context.Context) (ProxyResponse, error) {
	return c.proxy(ctx, http.MethodGet, c.subscriptionURL(""), nil)
}

// CreateSubscription proxies a subscription creation call.
func (c *Client) CreateSubscription(ctx context.Context, sub Subscription) (ProxyResponse, error) {
	if sub.EventType == "" {
		sub.EventType = "create"
	}
	body, err := json.Marshal(sub)
	if err != nil {
		return ProxyResponse{}, fmt.Errorf("encode subscription: %w", err)
	}
	return c.proxy(ctx, http.MethodPost, c.subscriptionURL(""), body)
}

// DeleteSubscription proxies a subscription deletion call.
func (c *Client) DeleteSubscription(ctx context.Context, id string) (ProxyResponse, error) {
	return c.proxy(ctx, http.MethodDelete, c.subscriptionURL(id), nil)
}

func (c *Client) proxy(ctx context.Context, method, requestURL string, body []byte) (ProxyResponse, error) {
	token, err := c.bearer(ctx)
	if err != nil {
		return ProxyResponse{}, err
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, requestURL, reader)
	if err != nil {
		return ProxyResponse{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)
	req.Header.Set("x-client-id", c.cfg.ClientID)
	req.Header.Set("x-client-secret", c.cfg.ClientSecret)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return ProxyResponse{}, fmt.Errorf("call oura api: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return ProxyResponse{}, fmt.Errorf("read oura api response: %w", err)
	}
	if !json.Valid(payload) {
		payload, _ = json.Marshal(map[string]string{"detail": strings.TrimSpace(string(payload))})
	}
	return ProxyResponse{StatusCode: resp.StatusCode, Body: payload}, nil
}

// FetchDocuments pulls usercollection documents of one data type over a date
// range. Used by the poller when webhook ingress is unavailable.
func (c *Client) FetchDocuments(ctx context.Context, dataType string, start, end time.Time) ([]json.RawMessage, error) {
	token, err := c.bearer(ctx)
	if err != nil {
		return nil, err
	}

	query := url.Values{}
	query.Set("start_date", start.Format("2006-01-02"))
	query.Set("end_date", end.Format("2006-01-02"))
	requestURL := fmt.Sprintf("%s/usercollection/%s?%s",
		strings.TrimRight(c.cfg.APIBaseURL, "/"), url.PathEscape(dataType), query.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s documents: %w", dataType, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("fetch %s documents: status=%s body=%s", dataType, resp.Status, strings.TrimSpace(string(payload)))
	}

	var envelope struct {
		Data []json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("decode %s documents: %w", dataType, err)
	}
	return envelope.Data, nil
}
