// Package mqtt provides the broker connection used by the bridge feed.
//
// The mesh bridge publishes device snapshots, state and lifecycle events
// under a base topic (zigbee2mqtt by default) and accepts commands on
// "<base>/<device>/set". This package owns the paho session; topic
// classification lives in the bridge package.
//
//	MeshLab Core <-> MQTT Broker <-> Mesh Bridge <-> Devices
//
// # Connection behaviour
//
//   - Connect blocks and retries with a fixed delay until the session is up
//     or the context is cancelled.
//   - After the first session, paho's auto-reconnect handles drops and every
//     reconnect restores tracked subscriptions before the OnConnect callback.
//   - Publish never queues: offline publishes fail with ErrNotConnected.
//   - A retained Last Will on meshlab/<client_id>/status marks crashes.
//
// # Usage
//
//	client := mqtt.New(cfg.MQTT)
//	client.SetLogger(log)
//	topics := mqtt.Topics{Base: cfg.MQTT.BaseTopic}
//	_ = client.Subscribe(topics.All(), 1, handle)
//	if err := client.Connect(ctx); err != nil {
//	    return err
//	}
//	defer client.Close()
package mqtt
