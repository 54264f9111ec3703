// Package stream implements the in-process fan-out of stored events to
// connected live clients.
package stream

import (
	"sync"

	"github.com/sqltj/oura-streaming/internal/events"
)

// DefaultBufferSize is the per-subscriber buffer used when none is configured.
const DefaultBufferSize = 16

// Broadcaster delivers each published event to every current subscriber.
// Delivery is best-effort per subscriber: a slow consumer only ever loses its
// own oldest buffered events, it never blocks the publisher or its peers.
type Broadcaster struct {
	mu         sync.Mutex
	subs       map[*Subscription]struct{}
	bufferSize int
	onDrop     func()
	closed     bool
}

// Option configures a Broadcaster.
type Option func(*Broadcaster)

// WithBufferSize sets the per-subscriber buffer capacity.
func WithBufferSize(n int) Option {
	return func(b *Broadcaster) {
		if n > 0 {
			b.bufferSize = n
		}
	}
}

// WithDropHook registers a callback invoked once per dropped event, used for
// overflow accounting.
func WithDropHook(fn func()) Option {
	return func(b *Broadcaster) {
		b.onDrop = fn
	}
}

// New creates a Broadcaster.
func New(opts ...Option) *Broadcaster {
	b := &Broadcaster{
		subs:       make(map[*Subscription]struct{}),
		bufferSize: DefaultBufferSize,
		onDrop:     func() {},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscription is one live client's receive handle. Events published before
// the subscription are never replayed.
type Subscription struct {
	ch chan events.Event
}

// Events returns the channel future events arrive on. The channel is closed
// by Unsubscribe or Broadcaster.Close.
func (s *Subscription) Events() <-chan events.Event {
	return s.ch
}

// Subscribe registers a new live client.
func (b *Broadcaster) Subscribe() *Subscription {
	sub := &Subscription{ch: make(chan events.Event, b.bufferSize)}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(sub.ch)
		return sub
	}
	b.subs[sub] = struct{}{}
	return sub
}

// Unsubscribe removes the subscription and closes its channel. It is
// idempotent and safe to call concurrently with Publish.
func (b *Broadcaster) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[sub]; !ok {
		return
	}
	delete(b.subs, sub)
	close(sub.ch)
}

// Publish delivers the event to every current subscriber. When a subscriber's
// buffer is full its oldest undelivered event is dropped to make room, so the
// publisher never waits.
func (b *Broadcaster) Publish(event events.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for sub := range b.subs {
		select {
		case sub.ch <- event:
			continue
		default:
		}
		// Buffer full: shed the oldest buffered event for this subscriber.
		select {
		case <-sub.ch:
			b.onDrop()
		default:
		}
		select {
		case sub.ch <- event:
		default:
			// Still no room; the event is lost for this subscriber only.
			b.onDrop()
		}
	}
}

// SubscriberCount reports the number of live subscriptions.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close terminates all subscriptions. Further publishes are no-ops and
// further subscribes receive an already-closed channel.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for sub := range b.subs {
		delete(b.subs, sub)
		close(sub.ch)
	}
}
