package webhook

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/sqltj/oura-streaming/internal/db"
	"github.com/sqltj/oura-streaming/internal/events"
	"github.com/sqltj/oura-streaming/internal/stream"
)

type captureSink struct {
	delivered chan events.Event
}

func (s *captureSink) Ingest(_ context.Context, event events.Event) error {
	s.delivered <- event
	return nil
}

func newTestPipeline(t *testing.T, secret string, sink Sink) (*Pipeline, *events.Store, *stream.Broadcaster) {
	t.Helper()
	database, err := db.New(filepath.Join(t.TempDir(), "pipeline-test"))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { _ = database.Close() })

	store := events.NewStore(database, events.StoreOptions{})
	broadcaster := stream.New()
	t.Cleanup(broadcaster.Close)

	return NewPipeline(NewVerifier(secret, 0), store, broadcaster, sink, nil), store, broadcaster
}

func TestHandleStoresBroadcastsAndForwards(t *testing.T) {
	t.Parallel()

	sink := &captureSink{delivered: make(chan events.Event, 1)}
	pipeline, store, broadcaster := newTestPipeline(t, "secret", sink)
	sub := broadcaster.Subscribe()

	body := []byte(`{"data_type":"daily_sleep","event_type":"create","user_id":"user-1","data":{"score":88}}`)
	receipt, err := pipeline.Handle(context.Background(), body, hexSign("secret", body))
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if receipt.Rejected || !receipt.Verified {
		t.Fatalf("expected verified accepted receipt, got %+v", receipt)
	}
	if receipt.EventID == "" || receipt.DataType != "daily_sleep" || receipt.EventType != "create" {
		t.Fatalf("unexpected receipt: %+v", receipt)
	}

	count, err := store.Count(context.Background())
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 stored event, got %d", count)
	}

	select {
	case got := <-sub.Events():
		if got.ID != receipt.EventID {
			t.Fatalf("broadcast id mismatch: %s != %s", got.ID, receipt.EventID)
		}
	default:
		t.Fatal("expected broadcast delivery")
	}

	select {
	case got := <-sink.delivered:
		if got.ID != receipt.EventID {
			t.Fatalf("sink id mismatch: %s != %s", got.ID, receipt.EventID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected sink delivery")
	}
}

func TestHandleAcknowledgesRejectedSignature(t *testing.T) {
	t.Parallel()

	pipeline, store, _ := newTestPipeline(t, "secret", nil)

	body := []byte(`{"data_type":"daily_sleep","event_type":"create"}`)
	receipt, err := pipeline.Handle(context.Background(), body, hexSign("other-secret", body))
	if err != nil {
		t.Fatalf("rejection must not be an error: %v", err)
	}
	if !receipt.Rejected || receipt.Reason != "signature_invalid" {
		t.Fatalf("expected signature_invalid rejection, got %+v", receipt)
	}

	count, err := store.Count(context.Background())
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Fatalf("rejected notification must not be stored, got %d", count)
	}
}

func TestHandleRejectsMalformedPayload(t *testing.T) {
	t.Parallel()

	pipeline, store, _ := newTestPipeline(t, "secret", nil)

	for _, body := range [][]byte{
		[]byte(`not json`),
		[]byte(`{"event_type":"create"}`),
		[]byte(`{"data_type":"daily_sleep","event_type":"explode"}`),
	} {
		receipt, err := pipeline.Handle(context.Background(), body, hexSign("secret", body))
		if err != nil {
			t.Fatalf("rejection must not be an error: %v", err)
		}
		if !receipt.Rejected || receipt.Reason != "malformed_payload" {
			t.Fatalf("expected malformed_payload rejection, got %+v", receipt)
		}
	}

	count, err := store.Count(context.Background())
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Fatalf("malformed notifications must not be stored, got %d", count)
	}
}

func TestHandleStoresUnverifiedInInsecureMode(t *testing.T) {
	t.Parallel()

	pipeline, store, _ := newTestPipeline(t, "", nil)

	body := []byte(`{"data_type":"workout","event_type":"update"}`)
	receipt, err := pipeline.Handle(context.Background(), body, "")
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if receipt.Rejected || receipt.Verified {
		t.Fatalf("expected stored-but-unverified receipt, got %+v", receipt)
	}

	count, err := store.Count(context.Background())
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 stored event, got %d", count)
	}
}
