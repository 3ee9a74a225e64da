// Package device holds the live mirror of the mesh network.
//
// The Cache keeps five independent maps, each behind its own RWMutex:
//
//	devices       replaced wholesale from <base>/bridge/devices
//	groups        replaced wholesale from <base>/bridge/groups (after reconciliation)
//	states        merged per message from <base>/<device>
//	availability  set per message from <base>/<device>/availability
//	network       replaced from <base>/bridge/info
//
// The bridge feed is the only writer. Snapshots are built before the
// write lock is taken, so the lock covers a single assignment. Readers
// always get deep copies and may mutate them freely.
//
// Nothing in the Cache is persisted: on restart it is rebuilt by asking
// the bridge for fresh snapshots. The one durable piece is GroupMeta,
// which keeps operator-edited group names and descriptions in SQLite;
// GroupDirectory merges it over each bridge group snapshot.
package device
