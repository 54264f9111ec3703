// Package sink forwards stored events to a downstream collector endpoint.
package sink

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sqltj/oura-streaming/internal/events"
	"github.com/sqltj/oura-streaming/internal/observability"
)

const maxAttempts = 3

// Forwarder POSTs each stored event as JSON to a configured endpoint, signed
// with an HMAC-SHA256 of the body. Delivery is best-effort with bounded
// retry; failures are logged and counted, never propagated to ingest.
type Forwarder struct {
	Endpoint   string
	Token      string
	Secret     string
	Timeout    time.Duration
	HTTPClient *http.Client
	Log        *slog.Logger
}

// Ingest delivers one event downstream.
func (f *Forwarder) Ingest(ctx context.Context, event events.Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(time.Duration(1<<attempt) * time.Second):
			case <-ctx.Done():
				observability.SinkDeliveries.WithLabelValues("failure").Inc()
				return ctx.Err()
			}
		}
		if lastErr = f.deliver(ctx, body); lastErr == nil {
			observability.SinkDeliveries.WithLabelValues("success").Inc()
			return nil
		}
		f.logger().Warn("Sink delivery attempt failed",
			"event_id", event.ID, "attempt", attempt+1, "error", lastErr)
	}
	observability.SinkDeliveries.WithLabelValues("failure").Inc()
	return lastErr
}

func (f *Forwarder) deliver(ctx context.Context, body []byte) error {
	endpoint := strings.TrimSpace(f.Endpoint)
	if endpoint == "" {
		return fmt.Errorf("sink endpoint is required")
	}

	httpClient := f.HTTPClient
	if httpClient == nil {
		timeout := f.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if f.Token != "" {
		req.Header.Set("Authorization", "Bearer "+f.Token)
	}
	req.Header.Set("X-Webhook-Signature", sign(body, f.Secret))
	req.Header.Set("Content-Type", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("sink rejected event: status=%s body=%s", resp.Status, strings.TrimSpace(string(payload)))
	}
	return nil
}

func (f *Forwarder) logger() *slog.Logger {
	if f.Log != nil {
		return f.Log
	}
	return slog.Default()
}

func sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
