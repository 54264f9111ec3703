// Package poller pulls Oura documents over the REST API for deployments
// without public webhook ingress, feeding them into the same store and
// live stream as webhook ingestion.
package poller

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/sqltj/oura-streaming/internal/events"
	"github.com/sqltj/oura-streaming/internal/oura"
	"github.com/sqltj/oura-streaming/internal/stream"
)

// Options configure a Poller.
type Options struct {
	Interval time.Duration
	Lookback time.Duration
	// DataTypes to poll each cycle.
	DataTypes []string
	// BootstrapRefreshToken obtains a first access token when none is
	// stored, so polling can start without the browser callback.
	BootstrapRefreshToken string
}

// Poller periodically fetches usercollection documents and appends them as
// synthesized create events.
type Poller struct {
	client      *oura.Client
	store       *events.Store
	broadcaster *stream.Broadcaster
	opts        Options
	log         *slog.Logger
}

// New creates a Poller.
func New(client *oura.Client, store *events.Store, broadcaster *stream.Broadcaster, opts Options, log *slog.Logger) *Poller {
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Minute
	}
	if opts.Lookback <= 0 {
		opts.Lookback = 24 * time.Hour
	}
	if len(opts.DataTypes) == 0 {
		opts.DataTypes = []string{"daily_sleep"}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Poller{client: client, store: store, broadcaster: broadcaster, opts: opts, log: log}
}

// Run polls until the context is cancelled.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.opts.Interval)
	defer ticker.Stop()

	for {
		p.Cycle(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Cycle performs one poll pass. Cycles without a usable token are skipped;
// per-data-type fetch failures do not abort the pass.
func (p *Poller) Cycle(ctx context.Context) {
	p.ensureToken(ctx)

	until := time.Now().UTC()
	since := until.Add(-p.opts.Lookback)

	for _, dataType := range p.opts.DataTypes {
		records, err := p.client.FetchDocuments(ctx, dataType, since, until)
		if err != nil {
			if errors.Is(err, oura.ErrNotAuthenticated) || errors.Is(err, oura.ErrTokenExpired) {
				p.log.Debug("Skipping poll cycle without usable token")
				return
			}
			p.log.Warn("Poll fetch failed", "data_type", dataType, "error", err)
			continue
		}
		if len(records) == 0 {
			continue
		}

		data, err := json.Marshal(map[string]any{
			"source":  "poller",
			"records": records,
			"range":   []string{since.Format("2006-01-02"), until.Format("2006-01-02")},
		})
		if err != nil {
			p.log.Warn("Failed to encode polled records", "data_type", dataType, "error", err)
			continue
		}

		event, _, err := p.store.Append(ctx, events.Payload{
			DataType:  dataType,
			EventType: events.EventTypeCreate,
			Data:      data,
		})
		if err != nil {
			p.log.Warn("Failed to store polled event", "data_type", dataType, "error", err)
			continue
		}
		p.broadcaster.Publish(event)
		p.log.Info("Stored polled documents", "data_type", dataType, "records", len(records), "event_id", event.ID)
	}
}

func (p *Poller) ensureToken(ctx context.Context) {
	token, err := p.client.Tokens().Current(ctx)
	if errors.Is(err, oura.ErrNoToken) {
		if p.opts.BootstrapRefreshToken == "" {
			return
		}
		if _, err := p.client.RefreshWith(ctx, p.opts.BootstrapRefreshToken); err != nil {
			p.log.Warn("Poller bootstrap refresh failed", "error", err)
		}
		return
	}
	if err != nil {
		p.log.Warn("Failed to load token", "error", err)
		return
	}
	if token.Expired(time.Now()) {
		if _, err := p.client.Refresh(ctx); err != nil {
			p.log.Warn("Token refresh failed", "error", err)
		}
	}
}
