package routes

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/sqltj/oura-streaming/internal/observability"
	"github.com/sqltj/oura-streaming/internal/stream"
)

const heartbeatInterval = 30 * time.Second

// StreamRoutes registers the live event stream endpoint.
type StreamRoutes struct {
	broadcaster *stream.Broadcaster
}

// NewStreamRoutes constructs stream routes.
func NewStreamRoutes(broadcaster *stream.Broadcaster) *StreamRoutes {
	return &StreamRoutes{broadcaster: broadcaster}
}

// RegisterRoutes registers stream endpoints.
func (r *StreamRoutes) RegisterRoutes(s *echo.Echo) {
	s.GET("/events/stream", r.handleStream)
}

// handleStream pushes one JSON-encoded event per server-sent-events message.
// Only events stored after the connection opened are delivered; history is
// served by GET /events.
func (r *StreamRoutes) handleStream(c echo.Context) error {
	header := c.Response().Header()
	header.Set(echo.HeaderContentType, "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set(echo.HeaderConnection, "keep-alive")
	c.Response().WriteHeader(http.StatusOK)
	c.Response().Flush()

	sub := r.broadcaster.Subscribe()
	defer r.broadcaster.Unsubscribe(sub)

	observability.StreamSubscribers.Inc()
	defer observability.StreamSubscribers.Dec()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-sub.Events():
			if !ok {
				return nil
			}
			data, err := json.Marshal(event)
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(c.Response(), "data: %s\n\n", data); err != nil {
				return nil
			}
			c.Response().Flush()
		case <-heartbeat.C:
			if _, err := fmt.Fprint(c.Response(), ": keep-alive\n\n"); err != nil {
				return nil
			}
			c.Response().Flush()
		}
	}
}
