package bridge

import (
	"encoding/json"

	"github.com/nerrad567/meshlab-core/internal/device"
)

// EventType is the closed set of bridge lifecycle events.
type EventType int

// Event types. EventUnknown covers names the bridge may add later.
const (
	EventUnknown EventType = iota
	EventDeviceJoined
	EventDeviceAnnounce
	EventDeviceInterview
	EventDeviceLeave
	EventBridgeOnline
	EventBridgeOffline
)

var eventNames = map[string]EventType{
	"device_joined":    EventDeviceJoined,
	"device_announce":  EventDeviceAnnounce,
	"device_interview": EventDeviceInterview,
	"device_leave":     EventDeviceLeave,
	"online":           EventBridgeOnline,
	"offline":          EventBridgeOffline,
}

// ParseEventType maps a bridge event name to its EventType.
func ParseEventType(name string) EventType {
	if t, ok := eventNames[name]; ok {
		return t
	}
	return EventUnknown
}

func (t EventType) String() string {
	switch t {
	case EventDeviceJoined:
		return "device_joined"
	case EventDeviceAnnounce:
		return "device_announce"
	case EventDeviceInterview:
		return "device_interview"
	case EventDeviceLeave:
		return "device_leave"
	case EventBridgeOnline:
		return "online"
	case EventBridgeOffline:
		return "offline"
	case EventUnknown:
		return "unknown"
	}
	return "unknown"
}

// InterviewStatus is the progress of a device interview.
type InterviewStatus int

// Interview statuses.
const (
	InterviewNone InterviewStatus = iota
	InterviewStarted
	InterviewSuccessful
	InterviewFailed
)

func parseInterviewStatus(s string) InterviewStatus {
	switch s {
	case "started":
		return InterviewStarted
	case "successful":
		return InterviewSuccessful
	case "failed":
		return InterviewFailed
	}
	return InterviewNone
}

func (s InterviewStatus) String() string {
	switch s {
	case InterviewStarted:
		return "started"
	case InterviewSuccessful:
		return "successful"
	case InterviewFailed:
		return "failed"
	case InterviewNone:
		return ""
	}
	return ""
}

// Event is a decoded bridge lifecycle event.
type Event struct {
	Type EventType
	// Name is the raw event name, kept for logging unknown events.
	Name         string
	IEEEAddress  string
	FriendlyName string
	Interview    InterviewStatus
	Supported    bool
	Definition   *device.Definition
}

// DeviceID returns the IEEE address, falling back to the friendly name.
func (e Event) DeviceID() string {
	if e.IEEEAddress != "" {
		return e.IEEEAddress
	}
	return e.FriendlyName
}

// rawEvent is the wire form. Newer bridges use "type", older ones "event_type".
type rawEvent struct {
	Type      string    `json:"type"`
	EventType string    `json:"event_type"`
	Data      eventData `json:"data"`
}

type eventData struct {
	IEEEAddress  string             `json:"ieee_address"`
	FriendlyName string             `json:"friendly_name"`
	Status       string             `json:"status"`
	Supported    bool               `json:"supported"`
	Definition   *device.Definition `json:"definition"`
}

func decodeEvent(payload []byte) (Event, error) {
	var raw rawEvent
	if err := json.Unmarshal(payload, &raw); err != nil {
		return Event{}, err
	}
	name := raw.Type
	if name == "" {
		name = raw.EventType
	}
	if name == "" {
		return Event{}, errMissingEventType
	}

	return Event{
		Type:         ParseEventType(name),
		Name:         name,
		IEEEAddress:  raw.Data.IEEEAddress,
		FriendlyName: raw.Data.FriendlyName,
		Interview:    parseInterviewStatus(raw.Data.Status),
		Supported:    raw.Data.Supported,
		Definition:   raw.Data.Definition,
	}, nil
}
