package mqtt

import (
	"fmt"
	"strings"
)

// DefaultBaseTopic is the bridge's conventional topic root.
const DefaultBaseTopic = "zigbee2mqtt"

// StatusPrefix roots the service's own retained status topic. It lives
// outside the bridge tree so the feed never sees its own announcements.
const StatusPrefix = "meshlab"

// Bridge request names accepted by BridgeRequest.
const (
	RequestDevices    = "devices"
	RequestGroups     = "groups"
	RequestInfo       = "info"
	RequestPermitJoin = "permit_join"
)

// Topics builds bridge topics under a base topic.
//
//	topics := mqtt.Topics{Base: "zigbee2mqtt"}
//	topics.DeviceSet("lamp-1") // "zigbee2mqtt/lamp-1/set"
type Topics struct {
	Base string
}

func (t Topics) base() string {
	if t.Base == "" {
		return DefaultBaseTopic
	}
	return strings.TrimSuffix(t.Base, "/")
}

// All returns the wildcard covering the whole bridge tree.
func (t Topics) All() string {
	return t.base() + "/#"
}

// BridgeDevices is the retained full device-list snapshot.
func (t Topics) BridgeDevices() string { return t.base() + "/bridge/devices" }

// BridgeGroups is the retained full group-list snapshot.
func (t Topics) BridgeGroups() string { return t.base() + "/bridge/groups" }

// BridgeInfo is the retained network/coordinator snapshot.
func (t Topics) BridgeInfo() string { return t.base() + "/bridge/info" }

// BridgeEvent carries interview and join/leave events.
func (t Topics) BridgeEvent() string { return t.base() + "/bridge/event" }

// BridgeState carries the bridge's own online/offline lifecycle.
func (t Topics) BridgeState() string { return t.base() + "/bridge/state" }

// BridgeLogging carries bridge log lines.
func (t Topics) BridgeLogging() string { return t.base() + "/bridge/logging" }

// BridgeRequest returns the topic for a bridge request such as RequestDevices.
//
// Example: zigbee2mqtt/bridge/request/permit_join
func (t Topics) BridgeRequest(name string) string {
	return fmt.Sprintf("%s/bridge/request/%s", t.base(), name)
}

// Device is the state topic of a device or group.
func (t Topics) Device(id string) string {
	return fmt.Sprintf("%s/%s", t.base(), id)
}

// DeviceSet is the command topic of a device or group.
func (t Topics) DeviceSet(id string) string {
	return fmt.Sprintf("%s/%s/set", t.base(), id)
}

// DeviceAvailability is the availability topic of a device.
func (t Topics) DeviceAvailability(id string) string {
	return fmt.Sprintf("%s/%s/availability", t.base(), id)
}

// Relative strips the base prefix, returning the remainder and whether the
// topic belonged to this base at all.
//
// Example: Relative("zigbee2mqtt/lamp-1/availability") = "lamp-1/availability", true
func (t Topics) Relative(topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, t.base()+"/")
	if !ok || rest == "" {
		return "", false
	}
	return rest, true
}

// StatusTopic returns the retained status topic of this service instance.
//
// Example: meshlab/meshlab-core/status
func StatusTopic(clientID string) string {
	return fmt.Sprintf("%s/%s/status", StatusPrefix, clientID)
}
