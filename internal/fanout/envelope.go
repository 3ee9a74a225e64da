package fanout

import (
	"encoding/json"
	"maps"
	"time"
)

// EventType is the type field of a pushed envelope.
type EventType string

// Event types pushed to clients.
const (
	TypeDeviceUpdate        EventType = "device_update"
	TypeBookingNotification EventType = "booking_notification"
	TypeLabUpdate           EventType = "lab_update"
	TypeLabResultUpdate     EventType = "lab_result_update"
	TypeNotification        EventType = "notification"
)

// Envelope is one pushed event. On the wire the payload fields sit at the
// top level next to type and timestamp: {type, ...payload, timestamp}.
type Envelope struct {
	Type      EventType
	Payload   map[string]any
	Timestamp time.Time
}

// NewEnvelope creates an envelope stamped with t.
func NewEnvelope(typ EventType, payload map[string]any, t time.Time) Envelope {
	return Envelope{Type: typ, Payload: payload, Timestamp: t}
}

// MarshalJSON flattens the payload. Payload keys named type or timestamp
// are overwritten by the envelope's own.
func (e Envelope) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(e.Payload)+2)
	maps.Copy(out, e.Payload)
	out["type"] = e.Type
	out["timestamp"] = e.Timestamp.UTC().Format(time.RFC3339Nano)
	return json.Marshal(out)
}
