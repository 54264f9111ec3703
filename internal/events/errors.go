package events

import "errors"

var (
	// ErrMissingDataType is returned when a payload has no data_type.
	ErrMissingDataType = errors.New("missing data_type")
	// ErrUnknownEventType is returned for event types other than
	// create, update or delete.
	ErrUnknownEventType = errors.New("unknown event_type")
)
