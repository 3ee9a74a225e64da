// Package influxdb is the optional telemetry sink for MeshLab Core.
//
// The bridge feed hands every device state update and availability flip
// to this package, which records the numeric attributes (temperature,
// battery, link quality, power) as time series. Booking lifecycle events
// are recorded too, so device utilisation can be charted per lab.
//
// Telemetry is best effort: writes are batched asynchronously and dropped
// when the client is disconnected. Nothing in the core reads it back.
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // run without telemetry
//	}
//	defer client.Close()
//
//	client.WriteDeviceState("0x00124b0012345678", map[string]any{"temperature": 21.5}, time.Now())
package influxdb
