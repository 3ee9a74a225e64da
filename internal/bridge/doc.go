// Package bridge is the feed client between the mesh bridge and the core.
//
// It owns one long-lived bus session (through infrastructure/mqtt),
// subscribes to "<base>/#", and on every (re)connect asks the bridge for
// fresh device, group and network snapshots.
//
// Every inbound message is classified by topic into exactly one Message:
//
//	<base>/bridge/devices           DevicesSnapshot
//	<base>/bridge/groups            GroupsSnapshot
//	<base>/bridge/info              NetworkSnapshot
//	<base>/bridge/event|state       BridgeEvent
//	<base>/bridge/logging|log       BridgeLog
//	<base>/<device>/availability    AvailabilityUpdate
//	<base>/<device>                 StateUpdate
//	anything else                   Ignored
//
// Snapshots replace their cache domain wholesale; a payload that fails to
// decode is dropped and the previous snapshot stays in place.
//
// Outbound, SendCommand publishes to "<base>/<device>/set" and fails fast
// when the bus is down. The bus is fire-and-forget; the resulting state
// change arrives later as a StateUpdate.
package bridge
