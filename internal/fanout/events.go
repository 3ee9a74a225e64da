package fanout

import (
	"context"
	"time"

	"github.com/nerrad567/meshlab-core/internal/auth"
	"github.com/nerrad567/meshlab-core/internal/booking"
	"github.com/nerrad567/meshlab-core/internal/device"
	"github.com/nerrad567/meshlab-core/internal/pairing"
)

// notifyTimeout bounds fan-out triggered from scheduler and feed callbacks,
// which carry no request context.
const notifyTimeout = 5 * time.Second

func (m *Manager) envelope(typ EventType, payload map[string]any) Envelope {
	return NewEnvelope(typ, payload, m.now().UTC())
}

// PublishBooking sends env to the device's subscribers, the requester and
// every privileged role. Returns the total number of deliveries.
func (m *Manager) PublishBooking(ctx context.Context, deviceID, userID string, env Envelope) int {
	data, err := env.MarshalJSON()
	if err != nil {
		m.log().Error("marshalling envelope", "type", env.Type, "error", err)
		return 0
	}

	n := m.publishData(ctx, KindDevice, deviceID, env.Type, data)
	n += m.publishData(ctx, KindUser, userID, env.Type, data)
	for _, role := range auth.PrivilegedRoles {
		n += m.publishData(ctx, KindRole, string(role), env.Type, data)
	}
	return n
}

// NotifyBooking implements booking.Notifier.
func (m *Manager) NotifyBooking(action booking.Action, b booking.Booking) {
	ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
	defer cancel()

	env := m.envelope(TypeBookingNotification, map[string]any{
		"action":     action,
		"booking_id": b.ID,
		"device_id":  b.DeviceID,
		"booking":    b,
	})
	m.PublishBooking(ctx, b.DeviceID, b.UserID, env)
}

// NotifyDeviceState implements bridge.Listener.
func (m *Manager) NotifyDeviceState(deviceID string, changed map[string]any, state device.State) {
	ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
	defer cancel()

	m.Publish(ctx, KindDevice, deviceID, m.envelope(TypeDeviceUpdate, map[string]any{
		"device_id":  deviceID,
		"state":      state.Attributes,
		"changed":    changed,
		"updated_at": state.UpdatedAt,
	}))
}

// NotifyAvailability implements bridge.Listener.
func (m *Manager) NotifyAvailability(deviceID string, availability device.Availability) {
	ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
	defer cancel()

	m.Publish(ctx, KindDevice, deviceID, m.envelope(TypeDeviceUpdate, map[string]any{
		"device_id":    deviceID,
		"availability": availability,
	}))
}

// NotifyDiscovered implements pairing.Notifier: privileged users are told
// a device is waiting for confirmation.
func (m *Manager) NotifyDiscovered(d pairing.Discovered) {
	ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
	defer cancel()

	env := m.envelope(TypeNotification, map[string]any{
		"level":   "info",
		"title":   "Device discovered",
		"message": d.FriendlyName + " is waiting for confirmation",
		"device":  d,
	})
	for _, role := range auth.PrivilegedRoles {
		m.Publish(ctx, KindRole, string(role), env)
	}
}

// PublishLabUpdate sends a lab_update to the lab's subscribers.
func (m *Manager) PublishLabUpdate(ctx context.Context, labID string, payload map[string]any) int {
	return m.Publish(ctx, KindLab, labID, m.envelope(TypeLabUpdate, withKey(payload, "lab_id", labID)))
}

// PublishLabResult sends a lab_result_update to the lab's subscribers and
// to the student the result belongs to, when given.
func (m *Manager) PublishLabResult(ctx context.Context, labID, userID string, payload map[string]any) int {
	env := m.envelope(TypeLabResultUpdate, withKey(payload, "lab_id", labID))
	n := m.Publish(ctx, KindLab, labID, env)
	if userID != "" {
		n += m.Publish(ctx, KindUser, userID, env)
	}
	return n
}

// Notify sends a free-form notification to one index entry.
func (m *Manager) Notify(ctx context.Context, kind Kind, key, level, title, message string) int {
	return m.Publish(ctx, kind, key, m.envelope(TypeNotification, map[string]any{
		"level":   level,
		"title":   title,
		"message": message,
	}))
}

func withKey(payload map[string]any, key string, value any) map[string]any {
	out := make(map[string]any, len(payload)+1)
	for k, v := range payload {
		out[k] = v
	}
	out[key] = value
	return out
}
