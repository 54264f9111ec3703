package routes

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/sqltj/oura-streaming/internal/oura"
)

// AuthRoutes registers the OAuth2 authorization endpoints.
type AuthRoutes struct {
	client *oura.Client
	states *oura.StateStore
}

// NewAuthRoutes constructs auth routes.
func NewAuthRoutes(client *oura.Client, states *oura.StateStore) *AuthRoutes {
	return &AuthRoutes{client: client, states: states}
}

// RegisterRoutes registers authentication routes on the server.
func (a *AuthRoutes) RegisterRoutes(s *echo.Echo) {
	s.GET("/auth/login", a.handleLogin)
	s.GET("/auth/callback", a.handleCallback)
	s.GET("/auth/status", a.handleStatus)
	s.POST("/auth/logout", a.handleLogout)
}

func (a *AuthRoutes) handleLogin(c echo.Context) error {
	state, err := a.states.Create(c.Request().Context())
	if err != nil {
		return err
	}
	return c.Redirect(http.StatusFound, a.client.AuthURL(state))
}

func (a *AuthRoutes) handleCallback(c echo.Context) error {
	code := c.QueryParam("code")
	state := c.QueryParam("state")
	if code == "" || state == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "missing_code_or_state"})
	}

	ctx := c.Request().Context()
	ok, err := a.states.Consume(ctx, state, time.Now())
	if err != nil {
		return err
	}
	if !ok {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid_state"})
	}

	token, err := a.client.Exchange(ctx, code)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "exchange_failed"})
	}

	response := map[string]any{
		"status":     "authenticated",
		"token_type": token.TokenType,
		"scope":      token.Scope,
	}
	if !token.ExpiresAt.IsZero() {
		response["expires_at"] = token.ExpiresAt.UTC().Format(time.RFC3339)
	}
	return c.JSON(http.StatusOK, response)
}

func (a *AuthRoutes) handleStatus(c echo.Context) error {
	ctx := c.Request().Context()
	token, err := a.client.Tokens().Current(ctx)
	if errors.Is(err, oura.ErrNoToken) {
		return c.JSON(http.StatusOK, map[string]any{"authenticated": false})
	}
	if err != nil {
		return err
	}

	expired := token.Expired(time.Now())
	return c.JSON(http.StatusOK, map[string]any{
		"authenticated": !expired,
		"token_expired": expired,
	})
}

func (a *AuthRoutes) handleLogout(c echo.Context) error {
	if err := a.client.Tokens().Clear(c.Request().Context()); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "logged_out"})
}
