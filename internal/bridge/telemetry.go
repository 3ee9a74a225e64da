package bridge

import (
	"time"

	"github.com/nerrad567/meshlab-core/internal/device"
)

// TelemetrySink stores time series. *influxdb.Client implements it.
type TelemetrySink interface {
	WriteDeviceState(deviceID string, attrs map[string]any, at time.Time)
	WriteAvailability(deviceID string, reachable bool, at time.Time)
}

// TelemetryListener forwards state and availability changes to a sink.
// Only the attributes carried by each message are written, not the
// merged state, so unchanged readings are not duplicated.
type TelemetryListener struct {
	sink TelemetrySink
}

// NewTelemetryListener wraps sink as a feed Listener.
func NewTelemetryListener(sink TelemetrySink) *TelemetryListener {
	return &TelemetryListener{sink: sink}
}

// NotifyDeviceState implements Listener.
func (t *TelemetryListener) NotifyDeviceState(deviceID string, changed map[string]any, state device.State) {
	t.sink.WriteDeviceState(deviceID, changed, state.UpdatedAt)
}

// NotifyAvailability implements Listener.
func (t *TelemetryListener) NotifyAvailability(deviceID string, availability device.Availability) {
	t.sink.WriteAvailability(deviceID, availability.Reachable, availability.Since)
}
