package bridge

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nerrad567/meshlab-core/internal/device"
	"github.com/nerrad567/meshlab-core/internal/infrastructure/mqtt"
)

// Message is one classified inbound bus message. The set of
// implementations is closed: every message is exactly one of the types
// below, and Feed.dispatch switches over all of them.
type Message interface {
	isMessage()
}

// DevicesSnapshot replaces the device map.
type DevicesSnapshot struct{ Devices []device.Record }

// GroupsSnapshot replaces the group map.
type GroupsSnapshot struct{ Groups []device.Group }

// NetworkSnapshot replaces the network info.
type NetworkSnapshot struct{ Info device.NetworkInfo }

// AvailabilityUpdate reports a device's reachability. Device is the topic
// segment, usually a friendly name.
type AvailabilityUpdate struct {
	Device    string
	Reachable bool
}

// StateUpdate carries a partial attribute map for one device or group.
type StateUpdate struct {
	Device     string
	Attributes map[string]any
}

// BridgeEvent is a lifecycle event (interview, join, leave, bridge online/offline).
type BridgeEvent struct{ Event Event }

// BridgeLog is a log line emitted by the bridge.
type BridgeLog struct {
	Level   string
	Message string
}

// Ignored is anything outside the topic contract, including our own
// command echoes and request/response traffic.
type Ignored struct{ Topic string }

func (DevicesSnapshot) isMessage()    {}
func (GroupsSnapshot) isMessage()     {}
func (NetworkSnapshot) isMessage()    {}
func (AvailabilityUpdate) isMessage() {}
func (StateUpdate) isMessage()        {}
func (BridgeEvent) isMessage()        {}
func (BridgeLog) isMessage()          {}
func (Ignored) isMessage()            {}

// Classify maps a topic and payload to exactly one Message. A decode
// failure returns an error wrapping ErrInvalidPayload; the caller drops
// the message and keeps whatever it had before.
func Classify(topics mqtt.Topics, topic string, payload []byte) (Message, error) {
	rest, ok := topics.Relative(topic)
	if !ok {
		return Ignored{Topic: topic}, nil
	}

	if bridgeTopic, ok := strings.CutPrefix(rest, "bridge/"); ok {
		return classifyBridge(topic, bridgeTopic, payload)
	}

	if name, ok := strings.CutSuffix(rest, "/availability"); ok {
		reachable, err := decodeAvailability(payload)
		if err != nil {
			return nil, invalid(topic, err)
		}
		return AvailabilityUpdate{Device: name, Reachable: reachable}, nil
	}

	if isCommandTopic(rest) {
		return Ignored{Topic: topic}, nil
	}

	// Retained state cleared by an empty publish.
	if len(bytes.TrimSpace(payload)) == 0 {
		return Ignored{Topic: topic}, nil
	}

	attrs, err := decodeObject(payload)
	if err != nil {
		return nil, invalid(topic, err)
	}
	return StateUpdate{Device: rest, Attributes: attrs}, nil
}

func classifyBridge(topic, name string, payload []byte) (Message, error) {
	switch name {
	case "devices":
		var devices []device.Record
		if err := decodeArray(payload, &devices); err != nil {
			return nil, invalid(topic, err)
		}
		return DevicesSnapshot{Devices: devices}, nil

	case "groups":
		var groups []device.Group
		if err := decodeArray(payload, &groups); err != nil {
			return nil, invalid(topic, err)
		}
		return GroupsSnapshot{Groups: groups}, nil

	case "info":
		var info device.NetworkInfo
		if err := decodeInto(payload, '{', &info); err != nil {
			return nil, invalid(topic, err)
		}
		return NetworkSnapshot{Info: info}, nil

	case "event":
		ev, err := decodeEvent(payload)
		if err != nil {
			return nil, invalid(topic, err)
		}
		return BridgeEvent{Event: ev}, nil

	case "state":
		state, err := decodeStateWord(payload)
		if err != nil {
			return nil, invalid(topic, err)
		}
		t := ParseEventType(state)
		if t != EventBridgeOnline && t != EventBridgeOffline {
			return nil, invalid(topic, fmt.Errorf("unknown bridge state %q", state))
		}
		return BridgeEvent{Event: Event{Type: t, Name: state}}, nil

	case "logging", "log":
		var line struct {
			Level   string `json:"level"`
			Message string `json:"message"`
		}
		if err := decodeInto(payload, '{', &line); err != nil {
			return nil, invalid(topic, err)
		}
		return BridgeLog{Level: line.Level, Message: line.Message}, nil
	}

	return Ignored{Topic: topic}, nil
}

func isCommandTopic(rest string) bool {
	return strings.HasSuffix(rest, "/set") ||
		strings.HasSuffix(rest, "/get") ||
		strings.Contains(rest, "/set/") ||
		strings.Contains(rest, "/get/")
}

func invalid(topic string, err error) error {
	return fmt.Errorf("%w on %s: %w", ErrInvalidPayload, topic, err)
}

// decodeArray refuses anything but a JSON array, so "null" or an object
// can never be mistaken for an empty snapshot.
func decodeArray(payload []byte, v any) error {
	return decodeInto(payload, '[', v)
}

func decodeInto(payload []byte, opener byte, v any) error {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || trimmed[0] != opener {
		return fmt.Errorf("expected JSON starting with %q", opener)
	}
	return json.Unmarshal(trimmed, v)
}

func decodeObject(payload []byte) (map[string]any, error) {
	var attrs map[string]any
	if err := decodeInto(payload, '{', &attrs); err != nil {
		return nil, err
	}
	return attrs, nil
}

// decodeStateWord accepts {"state":"online"} or a bare online/offline.
func decodeStateWord(payload []byte) (string, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var obj struct {
			State string `json:"state"`
		}
		if err := json.Unmarshal(trimmed, &obj); err != nil {
			return "", err
		}
		return strings.ToLower(obj.State), nil
	}
	word := strings.ToLower(strings.Trim(string(trimmed), `"`))
	if word == "" {
		return "", fmt.Errorf("empty state")
	}
	return word, nil
}

func decodeAvailability(payload []byte) (bool, error) {
	state, err := decodeStateWord(payload)
	if err != nil {
		return false, err
	}
	switch state {
	case "online":
		return true, nil
	case "offline":
		return false, nil
	}
	return false, fmt.Errorf("unknown availability %q", state)
}
