package device

import (
	"sort"
	"sync"
	"time"
)

// Logger defines the logging interface used by the device package.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// deviceSet is one immutable device snapshot plus its friendly-name index.
type deviceSet struct {
	byID   map[string]*Record
	byName map[string]string
}

// Cache is the in-memory mirror of everything the bridge reports.
//
// Each logical map has its own lock so a burst of state updates never
// blocks a device listing. Snapshots are built outside the lock and
// swapped in one assignment; readers see either the old snapshot or the
// new one, never a mix. Every read returns a deep copy.
//
// The bridge feed is the only writer. All methods are thread-safe.
type Cache struct {
	devices   *deviceSet
	devicesMu sync.RWMutex

	groups   map[int]*Group
	groupsMu sync.RWMutex

	states   map[string]*State
	statesMu sync.RWMutex

	availability   map[string]*Availability
	availabilityMu sync.RWMutex

	network   *NetworkInfo
	networkMu sync.RWMutex

	logger Logger
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{
		devices:      &deviceSet{byID: map[string]*Record{}, byName: map[string]string{}},
		groups:       make(map[int]*Group),
		states:       make(map[string]*State),
		availability: make(map[string]*Availability),
		logger:       noopLogger{},
	}
}

// SetLogger sets the logger for the cache.
func (c *Cache) SetLogger(logger Logger) {
	c.logger = logger
}

// ReplaceDevices swaps in a full device snapshot. Devices absent from
// records disappear; state and availability are kept, since the bridge
// may re-add a device in its next snapshot.
//
// State and availability that arrived before the snapshot are stored under
// the friendly name from the topic. They are moved to the device ID here,
// and the IDs that received entries this way are returned.
func (c *Cache) ReplaceDevices(records []Record) []string {
	next := &deviceSet{
		byID:   make(map[string]*Record, len(records)),
		byName: make(map[string]string, len(records)),
	}
	for i := range records {
		r := records[i].DeepCopy()
		if r.ID == "" {
			continue
		}
		next.byID[r.ID] = r
		if r.FriendlyName != "" {
			next.byName[r.FriendlyName] = r.ID
		}
	}

	c.devicesMu.Lock()
	c.devices = next
	c.devicesMu.Unlock()

	adopted := c.adoptNamedEntries(next.byName)
	c.logger.Debug("device snapshot replaced", "count", len(next.byID), "adopted", len(adopted))
	return adopted
}

// adoptNamedEntries moves state and availability keyed by a friendly name
// onto the matching device ID. When both keys hold an entry the newer one
// wins; for state the newer attributes are merged over the older ones.
func (c *Cache) adoptNamedEntries(byName map[string]string) []string {
	moved := make(map[string]struct{})

	c.statesMu.Lock()
	for name, id := range byName {
		early, ok := c.states[name]
		if !ok || name == id {
			continue
		}
		delete(c.states, name)
		current, ok := c.states[id]
		switch {
		case !ok:
			c.states[id] = early
		case early.UpdatedAt.After(current.UpdatedAt):
			c.states[id] = mergeStates(current, early)
		default:
			c.states[id] = mergeStates(early, current)
		}
		moved[id] = struct{}{}
	}
	c.statesMu.Unlock()

	c.availabilityMu.Lock()
	for name, id := range byName {
		early, ok := c.availability[name]
		if !ok || name == id {
			continue
		}
		delete(c.availability, name)
		if current, ok := c.availability[id]; !ok || early.Since.After(current.Since) {
			c.availability[id] = early
		}
		moved[id] = struct{}{}
	}
	c.availabilityMu.Unlock()

	out := make([]string, 0, len(moved))
	for id := range moved {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// mergeStates overlays newer on older. Neither argument is modified.
func mergeStates(older, newer *State) *State {
	merged := &State{
		Attributes: make(map[string]any, len(older.Attributes)+len(newer.Attributes)),
		UpdatedAt:  newer.UpdatedAt,
	}
	for k, v := range older.Attributes {
		merged.Attributes[k] = v
	}
	for k, v := range newer.Attributes {
		merged.Attributes[k] = v
	}
	return merged
}

// ReplaceGroups swaps in a full group snapshot.
func (c *Cache) ReplaceGroups(groups []Group) {
	next := make(map[int]*Group, len(groups))
	for i := range groups {
		next[groups[i].ID] = groups[i].DeepCopy()
	}

	c.groupsMu.Lock()
	c.groups = next
	c.groupsMu.Unlock()

	c.logger.Debug("group snapshot replaced", "count", len(next))
}

// SetNetworkInfo swaps in the bridge/coordinator snapshot.
func (c *Cache) SetNetworkInfo(info NetworkInfo) {
	next := info.DeepCopy()

	c.networkMu.Lock()
	c.network = next
	c.networkMu.Unlock()
}

// MergeState overwrites the given attributes of a device's state, leaving
// others untouched, and returns the merged result.
func (c *Cache) MergeState(id string, attrs map[string]any, at time.Time) State {
	c.statesMu.Lock()
	defer c.statesMu.Unlock()

	current, ok := c.states[id]
	merged := &State{Attributes: make(map[string]any, len(attrs)), UpdatedAt: at}
	if ok {
		for k, v := range current.Attributes {
			merged.Attributes[k] = v
		}
	}
	for k, v := range attrs {
		merged.Attributes[k] = deepCopyValue(v)
	}
	c.states[id] = merged

	return *merged.DeepCopy()
}

// SetAvailability records reachability. Since moves only when reachability
// flips; changed reports whether it did (a first report counts as a change).
func (c *Cache) SetAvailability(id string, reachable bool, at time.Time) (Availability, bool) {
	c.availabilityMu.Lock()
	defer c.availabilityMu.Unlock()

	current, ok := c.availability[id]
	if ok && current.Reachable == reachable {
		return *current, false
	}
	next := &Availability{Reachable: reachable, Since: at}
	c.availability[id] = next
	return *next, true
}

// ResolveID maps a friendly name to the device ID using the current
// snapshot. IDs and unknown names are returned unchanged.
func (c *Cache) ResolveID(nameOrID string) string {
	c.devicesMu.RLock()
	defer c.devicesMu.RUnlock()

	if _, ok := c.devices.byID[nameOrID]; ok {
		return nameOrID
	}
	if id, ok := c.devices.byName[nameOrID]; ok {
		return id
	}
	return nameOrID
}

// Device returns a copy of the record with the given ID or friendly name.
func (c *Cache) Device(nameOrID string) (*Record, error) {
	c.devicesMu.RLock()
	defer c.devicesMu.RUnlock()

	if r, ok := c.devices.byID[nameOrID]; ok {
		return r.DeepCopy(), nil
	}
	if id, ok := c.devices.byName[nameOrID]; ok {
		return c.devices.byID[id].DeepCopy(), nil
	}
	return nil, ErrDeviceNotFound
}

// HasDevice reports whether the current snapshot contains the device.
func (c *Cache) HasDevice(nameOrID string) bool {
	_, err := c.Device(nameOrID)
	return err == nil
}

// Devices returns copies of all records ordered by friendly name.
func (c *Cache) Devices() []Record {
	c.devicesMu.RLock()
	out := make([]Record, 0, len(c.devices.byID))
	for _, r := range c.devices.byID {
		out = append(out, *r.DeepCopy())
	}
	c.devicesMu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].FriendlyName != out[j].FriendlyName {
			return out[i].FriendlyName < out[j].FriendlyName
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// State returns a copy of the device's last-known state.
func (c *Cache) State(id string) (State, bool) {
	c.statesMu.RLock()
	defer c.statesMu.RUnlock()

	s, ok := c.states[id]
	if !ok {
		return State{}, false
	}
	return *s.DeepCopy(), true
}

// Availability returns the device's reachability.
func (c *Cache) Availability(id string) (Availability, bool) {
	c.availabilityMu.RLock()
	defer c.availabilityMu.RUnlock()

	a, ok := c.availability[id]
	if !ok {
		return Availability{}, false
	}
	return *a, true
}

// View combines the record, state and availability of one device.
func (c *Cache) View(nameOrID string) (*View, error) {
	r, err := c.Device(nameOrID)
	if err != nil {
		return nil, err
	}
	return c.view(*r), nil
}

// Views returns a View for every device, ordered by friendly name.
func (c *Cache) Views() []View {
	records := c.Devices()
	out := make([]View, 0, len(records))
	for _, r := range records {
		out = append(out, *c.view(r))
	}
	return out
}

func (c *Cache) view(r Record) *View {
	v := &View{Record: r}
	if s, ok := c.State(r.ID); ok {
		v.State = &s
	}
	if a, ok := c.Availability(r.ID); ok {
		v.Availability = &a
	}
	return v
}

// Groups returns copies of all groups ordered by ID.
func (c *Cache) Groups() []Group {
	c.groupsMu.RLock()
	out := make([]Group, 0, len(c.groups))
	for _, g := range c.groups {
		out = append(out, *g.DeepCopy())
	}
	c.groupsMu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Group returns a copy of one group.
func (c *Cache) Group(id int) (*Group, error) {
	c.groupsMu.RLock()
	defer c.groupsMu.RUnlock()

	g, ok := c.groups[id]
	if !ok {
		return nil, ErrGroupNotFound
	}
	return g.DeepCopy(), nil
}

// GroupByName returns a copy of the group with the given friendly name.
func (c *Cache) GroupByName(name string) (*Group, error) {
	c.groupsMu.RLock()
	defer c.groupsMu.RUnlock()

	for _, g := range c.groups {
		if g.FriendlyName == name {
			return g.DeepCopy(), nil
		}
	}
	return nil, ErrGroupNotFound
}

// PatchGroup replaces the cached name and description of a group,
// leaving membership alone.
func (c *Cache) PatchGroup(id int, name, description string) error {
	c.groupsMu.Lock()
	defer c.groupsMu.Unlock()

	current, ok := c.groups[id]
	if !ok {
		return ErrGroupNotFound
	}
	patched := current.DeepCopy()
	patched.FriendlyName = name
	patched.Description = description
	c.groups[id] = patched
	return nil
}

// NetworkInfo returns a copy of the last network snapshot.
func (c *Cache) NetworkInfo() (*NetworkInfo, bool) {
	c.networkMu.RLock()
	defer c.networkMu.RUnlock()

	if c.network == nil {
		return nil, false
	}
	return c.network.DeepCopy(), true
}

// Stats summarises the cache for health and monitoring endpoints.
type Stats struct {
	Devices     int `json:"devices"`
	Groups      int `json:"groups"`
	WithState   int `json:"with_state"`
	Reachable   int `json:"reachable"`
	Unreachable int `json:"unreachable"`
}

// Stats returns current cache counts.
func (c *Cache) Stats() Stats {
	var s Stats

	c.devicesMu.RLock()
	s.Devices = len(c.devices.byID)
	c.devicesMu.RUnlock()

	c.groupsMu.RLock()
	s.Groups = len(c.groups)
	c.groupsMu.RUnlock()

	c.statesMu.RLock()
	s.WithState = len(c.states)
	c.statesMu.RUnlock()

	c.availabilityMu.RLock()
	for _, a := range c.availability {
		if a.Reachable {
			s.Reachable++
		} else {
			s.Unreachable++
		}
	}
	c.availabilityMu.RUnlock()

	return s
}
