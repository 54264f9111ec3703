package events

import (
	"encoding/json"
	"strings"
	"time"
)

// Event types reported by Oura webhook notifications.
const (
	EventTypeCreate = "create"
	EventTypeUpdate = "update"
	EventTypeDelete = "delete"
)

// DataTypes lists the data categories currently published by the Oura API v2
// webhook. Unknown values are still accepted and stored verbatim so new
// categories do not break ingestion.
var DataTypes = []string{
	"tag",
	"enhanced_tag",
	"workout",
	"session",
	"sleep",
	"daily_sleep",
	"daily_readiness",
	"daily_activity",
	"daily_spo2",
	"sleep_time",
	"rest_mode_period",
	"ring_configuration",
	"daily_stress",
	"daily_cycle_phases",
}

// KnownDataType reports whether value is one of the documented categories.
func KnownDataType(value string) bool {
	for _, dt := range DataTypes {
		if dt == value {
			return true
		}
	}
	return false
}

// Payload is the body of an inbound webhook notification. Timestamp is the
// sender's claim and is not trusted for ordering.
type Payload struct {
	DataType  string          `json:"data_type"`
	EventType string          `json:"event_type"`
	Data      json.RawMessage `json:"data,omitempty"`
	UserID    string          `json:"user_id,omitempty"`
	Timestamp *time.Time      `json:"timestamp,omitempty"`
}

// Validate checks the fields required to store a payload.
func (p Payload) Validate() error {
	if strings.TrimSpace(p.DataType) == "" {
		return ErrMissingDataType
	}
	switch p.EventType {
	case EventTypeCreate, EventTypeUpdate, EventTypeDelete:
		return nil
	default:
		return ErrUnknownEventType
	}
}

// Event is a stored notification. Records are immutable once written; the
// only mutations are bulk clear and age-based pruning.
type Event struct {
	ID         string          `json:"id"`
	ReceivedAt time.Time       `json:"received_at"`
	DataType   string          `json:"data_type"`
	EventType  string          `json:"event_type"`
	UserID     string          `json:"user_id,omitempty"`
	Timestamp  *time.Time      `json:"timestamp,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
}
