package eventlog

import (
	"encoding/json"
	"time"
)

// EventType enum for event classification
type EventType uint8

const (
	EventTypeUnknown EventType = iota
	EventTypeViewOpen
	EventTypeViewClose
	EventTypeMessage // one feed message applied to a view
	EventTypeSyncLost
	EventTypeSyncRestored
)

// EventVersion for backwards compatibility in replay
const EventVersion uint8 = 1

// Event is the core event structure for the event log
type Event struct {
	Version   uint8           `json:"version"`   // Schema version
	Type      EventType       `json:"type"`      // Event type
	Timestamp int64           `json:"timestamp"` // Unix nano
	Sequence  uint64          `json:"sequence"`  // Monotonic sequence
	View      uint32          `json:"view"`      // Source view (for rate limiting)
	Payload   json.RawMessage `json:"payload"`   // JSON-encoded payload
}

// String returns human-readable event type
func (t EventType) String() string {
	switch t {
	case EventTypeViewOpen:
		return "view_open"
	case EventTypeViewClose:
		return "view_close"
	case EventTypeMessage:
		return "message"
	case EventTypeSyncLost:
		return "sync_lost"
	case EventTypeSyncRestored:
		return "sync_restored"
	default:
		return "unknown"
	}
}

// Time returns the event timestamp
func (e Event) Time() time.Time {
	return time.Unix(0, e.Timestamp)
}

// ViewOpenPayload records which feed a view was opened on
type ViewOpenPayload struct {
	URL string `json:"url"`
}

// EncodePayload marshals a payload to JSON bytes
func EncodePayload(payload interface{}) []byte {
	if raw, ok := payload.([]byte); ok {
		return raw
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil
	}
	return data
}

// NewEvent creates a new event stamped at now
func NewEvent(eventType EventType, now time.Time, view uint32, payload interface{}) Event {
	return Event{
		Version:   EventVersion,
		Type:      eventType,
		Timestamp: now.UnixNano(),
		View:      view,
		Payload:   EncodePayload(payload),
	}
}
