package routes

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/sqltj/oura-streaming/internal/events"
	"github.com/sqltj/oura-streaming/internal/webhook"
)

const (
	// SignatureHeader carries the HMAC signature of the raw request body.
	SignatureHeader = "X-Oura-Signature"
	maxPayloadBytes = 1 << 20
)

// WebhookRoutes registers webhook ingestion and event history endpoints.
type WebhookRoutes struct {
	verifier *webhook.Verifier
	pipeline *webhook.Pipeline
	store    *events.Store
}

// NewWebhookRoutes constructs webhook routes.
func NewWebhookRoutes(verifier *webhook.Verifier, pipeline *webhook.Pipeline, store *events.Store) *WebhookRoutes {
	return &WebhookRoutes{verifier: verifier, pipeline: pipeline, store: store}
}

// RegisterRoutes registers webhook endpoints.
func (w *WebhookRoutes) RegisterRoutes(s *echo.Echo) {
	s.GET("/webhooks", w.handleVerify)
	s.POST("/webhooks", w.handleReceive)
	s.GET("/events", w.handleListEvents)
	s.DELETE("/events", w.handleClearEvents)
}

// handleVerify answers the Oura endpoint-ownership handshake: the provided
// verification token must equal the configured secret and the challenge value
// is echoed back unchanged.
func (w *WebhookRoutes) handleVerify(c echo.Context) error {
	if !w.verifier.CheckChallenge(c.QueryParam("verification_token")) {
		return c.JSON(http.StatusForbidden, map[string]string{"error": "challenge_mismatch"})
	}
	return c.JSON(http.StatusOK, map[string]string{"challenge": c.QueryParam("challenge")})
}

func (w *WebhookRoutes) handleReceive(c echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxPayloadBytes))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "unreadable_body"})
	}

	receipt, err := w.pipeline.Handle(c.Request().Context(), body, c.Request().Header.Get(SignatureHeader))
	if err != nil {
		if errors.Is(err, webhook.ErrStoreUnavailable) {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "store_unavailable"})
		}
		return err
	}

	// Rejected notifications are still acknowledged with a 2xx; the sender's
	// retries cannot make them acceptable.
	response := map[string]any{"status": "received"}
	if receipt.EventID != "" {
		response["event_id"] = receipt.EventID
		response["data_type"] = receipt.DataType
		response["event_type"] = receipt.EventType
	}
	return c.JSON(http.StatusOK, response)
}

func (w *WebhookRoutes) handleListEvents(c echo.Context) error {
	filter := events.Filter{
		DataType: c.QueryParam("data_type"),
	}
	if raw := c.QueryParam("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid_limit"})
		}
		filter.Limit = limit
	}
	if raw := c.QueryParam("before"); raw != "" {
		before, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid_before"})
		}
		filter.Before = before
	}

	ctx := c.Request().Context()
	list, err := w.store.Query(ctx, filter)
	if err != nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "store_unavailable"})
	}
	total, err := w.store.Count(ctx)
	if err != nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "store_unavailable"})
	}

	return c.JSON(http.StatusOK, map[string]any{
		"count":        len(list),
		"total_stored": total,
		"events":       list,
	})
}

func (w *WebhookRoutes) handleClearEvents(c echo.Context) error {
	count, err := w.store.Clear(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "store_unavailable"})
	}
	return c.JSON(http.StatusOK, map[string]any{"status": "cleared", "count": count})
}
