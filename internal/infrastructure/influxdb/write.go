package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementDeviceState  = "device_state"
	MeasurementAvailability = "device_availability"
	MeasurementBooking      = "booking_event"
)

// WriteDeviceState records the numeric and boolean attributes of a state
// update. Strings, nested objects and arrays are skipped; an update with
// nothing numeric writes no point.
//
// Example:
//
//	client.WriteDeviceState("0x00124b0012345678", map[string]any{"temperature": 21.5, "state": "ON"}, now)
func (c *Client) WriteDeviceState(deviceID string, attrs map[string]any, at time.Time) {
	if !c.IsConnected() {
		return
	}
	if p := devicePoint(deviceID, attrs, at); p != nil {
		c.writeAPI.WritePoint(p)
	}
}

// WriteAvailability records a reachability transition.
func (c *Client) WriteAvailability(deviceID string, reachable bool, at time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(availabilityPoint(deviceID, reachable, at))
}

// WriteBookingEvent records a booking lifecycle action for utilisation reports.
func (c *Client) WriteBookingEvent(deviceID, action string, duration time.Duration, at time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(
		MeasurementBooking,
		map[string]string{"device_id": deviceID, "action": action},
		map[string]any{"duration_s": duration.Seconds()},
		at,
	))
}

// WritePoint writes a custom point stamped with the current time.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]any) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, time.Now()))
}

func devicePoint(deviceID string, attrs map[string]any, at time.Time) *write.Point {
	fields := numericFields(attrs)
	if len(fields) == 0 {
		return nil
	}
	return write.NewPoint(
		MeasurementDeviceState,
		map[string]string{"device_id": deviceID},
		fields,
		at,
	)
}

func availabilityPoint(deviceID string, reachable bool, at time.Time) *write.Point {
	return write.NewPoint(
		MeasurementAvailability,
		map[string]string{"device_id": deviceID},
		map[string]any{"reachable": reachable},
		at,
	)
}

// numericFields keeps the attributes InfluxDB can aggregate. JSON numbers
// arrive as float64; integer types are accepted for callers that build
// maps by hand.
func numericFields(attrs map[string]any) map[string]any {
	fields := make(map[string]any, len(attrs))
	for k, v := range attrs {
		switch n := v.(type) {
		case float64, float32, bool:
			fields[k] = n
		case int:
			fields[k] = int64(n)
		case int64:
			fields[k] = n
		}
	}
	return fields
}
