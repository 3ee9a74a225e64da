// Package pairing runs the operator-initiated join window for the mesh.
//
// A Coordinator moves between two states:
//
//	Idle --Start(d)--> Active(expiresAt) --Stop / timer--> Idle
//
// While Active, successful device interviews reported by the bridge are
// collected as Discovered devices. The operator reviews them after the
// window closes and confirms each one, which succeeds once the device is
// present in the authoritative device cache.
//
// Only one window timer exists at a time. Start while Active is rejected,
// and every transition bumps a generation counter so a timer that fires
// after the window it belonged to has ended does nothing.
package pairing
