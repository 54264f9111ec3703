package routes

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/sqltj/oura-streaming/internal/oura"
)

// SubscriptionRoutes proxies webhook subscription management to the Oura API.
type SubscriptionRoutes struct {
	client *oura.Client
}

// NewSubscriptionRoutes constructs subscription routes.
func NewSubscriptionRoutes(client *oura.Client) *SubscriptionRoutes {
	return &SubscriptionRoutes{client: client}
}

// RegisterRoutes registers subscription endpoints.
func (r *SubscriptionRoutes) RegisterRoutes(s *echo.Echo) {
	s.GET("/subscriptions", r.handleList)
	s.POST("/subscriptions", r.handleCreate)
	s.DELETE("/subscriptions/:id", r.handleDelete)
}

func (r *SubscriptionRoutes) handleList(c echo.Context) error {
	resp, err := r.client.ListSubscriptions(c.Request().Context())
	if err != nil {
		return authError(c, err)
	}
	return c.JSONBlob(resp.StatusCode, resp.Body)
}

func (r *SubscriptionRoutes) handleCreate(c echo.Context) error {
	var sub oura.Subscription
	if err := c.Bind(&sub); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid_body"})
	}

	resp, err := r.client.CreateSubscription(c.Request().Context(), sub)
	if err != nil {
		return authError(c, err)
	}
	// Upstream status and body are passed through for debuggability.
	return c.JSON(http.StatusOK, map[string]any{
		"oura_status_code": resp.StatusCode,
		"oura_response":    resp.Body,
	})
}

func (r *SubscriptionRoutes) handleDelete(c echo.Context) error {
	id := c.Param("id")
	resp, err := r.client.DeleteSubscription(c.Request().Context(), id)
	if err != nil {
		return authError(c, err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return c.JSONBlob(resp.StatusCode, resp.Body)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "deleted", "id": id})
}

func authError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, oura.ErrNotAuthenticated):
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "not_authenticated"})
	case errors.Is(err, oura.ErrTokenExpired):
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "token_expired"})
	default:
		return err
	}
}
