package db

import (
	"time"

	"github.com/sqltj/oura-streaming/internal/observability"
)

// observeQuery records the latency of a named query. Callers defer it with a
// start time captured at method entry.
func observeQuery(name string, start time.Time) {
	observability.QueryDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
}
