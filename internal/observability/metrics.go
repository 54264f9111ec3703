// Package observability exposes Prometheus metrics for the ingest path and
// the live stream.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsReceived counts inbound webhook notifications, accepted or not.
	EventsReceived = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "oura",
		Subsystem: "ingest",
		Name:      "events_received_total",
		Help:      "Webhook notifications received.",
	})

	// EventsRejected counts notifications rejected before persistence,
	// labelled by rejection reason.
	EventsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "oura",
		Subsystem: "ingest",
		Name:      "events_rejected_total",
		Help:      "Webhook notifications rejected before persistence.",
	}, []string{"reason"})

	// EventsStored counts successfully persisted events.
	EventsStored = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "oura",
		Subsystem: "ingest",
		Name:      "events_stored_total",
		Help:      "Events persisted to the store.",
	})

	// EventsEvicted counts events removed by the hard cap.
	EventsEvicted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "oura",
		Subsystem: "store",
		Name:      "events_evicted_total",
		Help:      "Events evicted oldest-first by the store cap.",
	})

	// BroadcastDropped counts events dropped from slow subscriber buffers.
	BroadcastDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "oura",
		Subsystem: "stream",
		Name:      "broadcast_dropped_total",
		Help:      "Events dropped due to per-subscriber buffer overflow.",
	})

	// StreamSubscribers tracks currently connected live-stream clients.
	StreamSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "oura",
		Subsystem: "stream",
		Name:      "subscribers",
		Help:      "Connected live-stream subscribers.",
	})

	// QueryDuration tracks SQLite query latency by query name.
	QueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "oura",
		Subsystem: "db",
		Name:      "query_duration_seconds",
		Help:      "SQLite query latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"query"})

	// SinkDeliveries counts forward-sink delivery attempts by outcome.
	SinkDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "oura",
		Subsystem: "sink",
		Name:      "deliveries_total",
		Help:      "Forward sink delivery attempts.",
	}, []string{"outcome"})
)
