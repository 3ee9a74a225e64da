package device

import (
	"sort"
	"time"
)

// Device types as reported by the bridge.
const (
	TypeCoordinator = "Coordinator"
	TypeRouter      = "Router"
	TypeEndDevice   = "EndDevice"
)

// Record is a device as described by the bridge's device-list snapshot.
// ID is the stable IEEE network address; FriendlyName is operator-assigned
// and may change between snapshots.
type Record struct {
	ID                 string      `json:"ieee_address"`
	FriendlyName       string      `json:"friendly_name"`
	NetworkAddress     int         `json:"network_address"`
	Type               string      `json:"type"`
	Manufacturer       string      `json:"manufacturer,omitempty"`
	ModelID            string      `json:"model_id,omitempty"`
	PowerSource        string      `json:"power_source,omitempty"`
	Description        string      `json:"description,omitempty"`
	Supported          bool        `json:"supported"`
	Disabled           bool        `json:"disabled"`
	InterviewCompleted bool        `json:"interview_completed"`
	Interviewing       bool        `json:"interviewing"`
	Definition         *Definition `json:"definition,omitempty"`
}

// Definition describes a supported device model and what it exposes.
type Definition struct {
	Model       string   `json:"model"`
	Vendor      string   `json:"vendor"`
	Description string   `json:"description"`
	Exposes     []Expose `json:"exposes,omitempty"`
}

// Expose is one capability entry. Composite and specific exposes (light,
// switch, climate) nest their properties in Features.
type Expose struct {
	Type        string   `json:"type"`
	Name        string   `json:"name,omitempty"`
	Property    string   `json:"property,omitempty"`
	Description string   `json:"description,omitempty"`
	Access      int      `json:"access,omitempty"`
	Unit        string   `json:"unit,omitempty"`
	ValueMin    *float64 `json:"value_min,omitempty"`
	ValueMax    *float64 `json:"value_max,omitempty"`
	Values      []string `json:"values,omitempty"`
	Features    []Expose `json:"features,omitempty"`
}

// Access bits of an Expose.
const (
	AccessState = 1 << iota
	AccessSet
	AccessGet
)

// State is the last-known attribute map of a device.
type State struct {
	Attributes map[string]any `json:"attributes"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// Availability is a device's reachability and when it last changed.
type Availability struct {
	Reachable bool      `json:"reachable"`
	Since     time.Time `json:"since"`
}

// Group is a bridge group. Membership comes from the bridge; FriendlyName
// and Description are overridden by persisted GroupMeta.
type Group struct {
	ID           int           `json:"id"`
	FriendlyName string        `json:"friendly_name"`
	Description  string        `json:"description,omitempty"`
	Members      []GroupMember `json:"members"`
}

// GroupMember is one device endpoint in a group.
type GroupMember struct {
	IEEEAddress string `json:"ieee_address"`
	Endpoint    int    `json:"endpoint"`
}

// NetworkInfo is the bridge/coordinator snapshot.
type NetworkInfo struct {
	Version           string         `json:"version"`
	Commit            string         `json:"commit,omitempty"`
	Coordinator       Coordinator    `json:"coordinator"`
	Network           Network        `json:"network"`
	LogLevel          string         `json:"log_level,omitempty"`
	PermitJoin        bool           `json:"permit_join"`
	PermitJoinTimeout int            `json:"permit_join_timeout,omitempty"`
	Config            map[string]any `json:"config,omitempty"`
}

// Coordinator identifies the mesh coordinator radio.
type Coordinator struct {
	IEEEAddress string         `json:"ieee_address"`
	Type        string         `json:"type"`
	Meta        map[string]any `json:"meta,omitempty"`
}

// Network holds the radio parameters of the mesh.
type Network struct {
	Channel       int `json:"channel"`
	PanID         int `json:"pan_id"`
	ExtendedPanID any `json:"extended_pan_id"`
}

// View combines a record with its live state and availability.
type View struct {
	Record
	State        *State        `json:"state,omitempty"`
	Availability *Availability `json:"availability,omitempty"`
}

// DeepCopy creates a copy of the record with no shared slices or pointers.
func (r *Record) DeepCopy() *Record {
	if r == nil {
		return nil
	}
	cpy := *r
	if r.Definition != nil {
		def := *r.Definition
		def.Exposes = copyExposes(r.Definition.Exposes)
		cpy.Definition = &def
	}
	return &cpy
}

// Exposes returns the record's exposes, or nil for unsupported devices.
func (r *Record) Exposes() []Expose {
	if r.Definition == nil {
		return nil
	}
	return r.Definition.Exposes
}

// DeepCopy creates a copy of the state map, including nested values.
func (s *State) DeepCopy() *State {
	if s == nil {
		return nil
	}
	return &State{Attributes: deepCopyMap(s.Attributes), UpdatedAt: s.UpdatedAt}
}

// DeepCopy creates a copy of the group with its own member slice.
func (g *Group) DeepCopy() *Group {
	if g == nil {
		return nil
	}
	cpy := *g
	if g.Members != nil {
		cpy.Members = make([]GroupMember, len(g.Members))
		copy(cpy.Members, g.Members)
	}
	return &cpy
}

// DeepCopy creates a copy of the network info with its own maps.
func (n *NetworkInfo) DeepCopy() *NetworkInfo {
	if n == nil {
		return nil
	}
	cpy := *n
	cpy.Config = deepCopyMap(n.Config)
	cpy.Coordinator.Meta = deepCopyMap(n.Coordinator.Meta)
	return &cpy
}

func copyExposes(in []Expose) []Expose {
	if in == nil {
		return nil
	}
	out := make([]Expose, len(in))
	for i, e := range in {
		out[i] = e
		if e.ValueMin != nil {
			v := *e.ValueMin
			out[i].ValueMin = &v
		}
		if e.ValueMax != nil {
			v := *e.ValueMax
			out[i].ValueMax = &v
		}
		if e.Values != nil {
			out[i].Values = append([]string(nil), e.Values...)
		}
		out[i].Features = copyExposes(e.Features)
	}
	return out
}

// deepCopyMap creates a deep copy of a map[string]any.
func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	cpy := make(map[string]any, len(m))
	for k, v := range m {
		cpy[k] = deepCopyValue(v)
	}
	return cpy
}

// deepCopyValue recursively copies a value, handling nested maps and slices.
func deepCopyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return deepCopyMap(val)
	case []any:
		cpy := make([]any, len(val))
		for i, elem := range val {
			cpy[i] = deepCopyValue(elem)
		}
		return cpy
	default:
		// JSON primitives are safe to copy by value.
		return v
	}
}

// Capabilities summarises exposes into a sorted, de-duplicated list of
// property names, descending into composite features. Specific exposes
// (light, switch) contribute their type as well, so a dimmable bulb
// reads as [brightness light state].
func Capabilities(exposes []Expose) []string {
	seen := make(map[string]struct{})
	var walk func([]Expose)
	walk = func(list []Expose) {
		for _, e := range list {
			if len(e.Features) > 0 {
				if e.Type != "composite" && e.Type != "" {
					seen[e.Type] = struct{}{}
				}
				walk(e.Features)
				continue
			}
			switch {
			case e.Property != "":
				seen[e.Property] = struct{}{}
			case e.Name != "":
				seen[e.Name] = struct{}{}
			}
		}
	}
	walk(exposes)

	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
