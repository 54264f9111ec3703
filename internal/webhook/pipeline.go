package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sqltj/oura-streaming/internal/events"
	"github.com/sqltj/oura-streaming/internal/observability"
	"github.com/sqltj/oura-streaming/internal/stream"
)

// ErrStoreUnavailable wraps persistence failures; it is the only pipeline
// outcome that surfaces as a non-2xx response to the sender.
var ErrStoreUnavailable = errors.New("event store unavailable")

// Sink receives every stored event after broadcast, e.g. a downstream
// warehouse forwarder. Delivery is best-effort and never affects ingest.
type Sink interface {
	Ingest(ctx context.Context, event events.Event) error
}

// Receipt summarizes how one inbound notification was processed.
type Receipt struct {
	EventID   string
	DataType  string
	EventType string
	Verified  bool
	Rejected  bool
	Reason    string
}

// Pipeline orchestrates verification, persistence and fan-out for inbound
// webhook calls.
type Pipeline struct {
	verifier    *Verifier
	store       *events.Store
	broadcaster *stream.Broadcaster
	sink        Sink
	log         *slog.Logger
}

// NewPipeline wires the ingest path. sink may be nil.
func NewPipeline(verifier *Verifier, store *events.Store, broadcaster *stream.Broadcaster, sink Sink, log *slog.Logger) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{
		verifier:    verifier,
		store:       store,
		broadcaster: broadcaster,
		sink:        sink,
		log:         log,
	}
}

// Handle processes one inbound POST body. Verification and parse failures are
// terminal but return a nil error: the sender still gets an acknowledgment,
// because webhook providers retry aggressively on non-2xx and a rejected
// notification will never become acceptable. Only persistence failure
// returns an error.
func (p *Pipeline) Handle(ctx context.Context, body []byte, signature string) (Receipt, error) {
	observability.EventsReceived.Inc()

	result, err := p.verifier.Verify(body, signature, time.Now())
	if err != nil {
		reason := rejectionReason(err)
		observability.EventsRejected.WithLabelValues(reason).Inc()
		p.log.Warn("Rejected webhook notification", "reason", reason)
		return Receipt{Rejected: true, Reason: reason}, nil
	}

	var payload events.Payload
	if err := json.Unmarshal(body, &payload); err != nil {
		observability.EventsRejected.WithLabelValues("malformed_payload").Inc()
		p.log.Warn("Rejected malformed webhook payload", "error", err)
		return Receipt{Verified: result.Verified, Rejected: true, Reason: "malformed_payload"}, nil
	}
	if err := payload.Validate(); err != nil {
		observability.EventsRejected.WithLabelValues("malformed_payload").Inc()
		p.log.Warn("Rejected invalid webhook payload", "error", err)
		return Receipt{Verified: result.Verified, Rejected: true, Reason: "malformed_payload"}, nil
	}

	event, evicted, err := p.store.Append(ctx, payload)
	if err != nil {
		return Receipt{}, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	observability.EventsStored.Inc()
	if len(evicted) > 0 {
		observability.EventsEvicted.Add(float64(len(evicted)))
		p.log.Info("Evicted events over store cap", "count", len(evicted))
	}

	// The response is decided by persistence; fan-out happens after the
	// commit and cannot fail the request.
	p.broadcaster.Publish(event)

	if p.sink != nil {
		go func() {
			if err := p.sink.Ingest(context.WithoutCancel(ctx), event); err != nil {
				p.log.Warn("Forward sink delivery failed", "event_id", event.ID, "error", err)
			}
		}()
	}

	if !result.Verified {
		p.log.Debug("Stored unverified event (no webhook secret configured)", "event_id", event.ID)
	}

	return Receipt{
		EventID:   event.ID,
		DataType:  event.DataType,
		EventType: event.EventType,
		Verified:  result.Verified,
	}, nil
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, ErrSignatureMissing):
		return "signature_missing"
	case errors.Is(err, ErrSignatureStale):
		return "signature_stale"
	default:
		return "signature_invalid"
	}
}
