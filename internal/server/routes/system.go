package routes

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sqltj/oura-streaming/internal/events"
	"github.com/sqltj/oura-streaming/internal/oura"
)

// SystemRoutes registers the root index, health and metrics endpoints.
type SystemRoutes struct {
	store  *events.Store
	client *oura.Client
}

// NewSystemRoutes constructs system routes.
func NewSystemRoutes(store *events.Store, client *oura.Client) *SystemRoutes {
	return &SystemRoutes{store: store, client: client}
}

// RegisterRoutes registers system endpoints.
func (r *SystemRoutes) RegisterRoutes(s *echo.Echo) {
	s.GET("/", r.handleIndex)
	s.GET("/health", r.handleHealth)
	s.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
}

func (r *SystemRoutes) handleIndex(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"name":   "oura-streaming",
		"health": "/health",
		"endpoints": map[string]any{
			"auth": map[string]string{
				"login":    "GET /auth/login",
				"callback": "GET /auth/callback",
				"status":   "GET /auth/status",
				"logout":   "POST /auth/logout",
			},
			"webhooks": map[string]string{
				"verify":  "GET /webhooks?verification_token=...&challenge=...",
				"receive": "POST /webhooks",
				"events":  "GET /events",
				"clear":   "DELETE /events",
			},
			"realtime": map[string]string{
				"stream": "GET /events/stream",
			},
			"subscriptions": map[string]string{
				"list":   "GET /subscriptions",
				"create": "POST /subscriptions",
				"delete": "DELETE /subscriptions/:id",
			},
		},
	})
}

func (r *SystemRoutes) handleHealth(c echo.Context) error {
	ctx := c.Request().Context()
	count, err := r.store.Count(ctx)
	if err != nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "error": "store_unavailable"})
	}
	authenticated, err := r.client.Authenticated(ctx)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{
		"status":        "healthy",
		"authenticated": authenticated,
		"events_stored": count,
	})
}
