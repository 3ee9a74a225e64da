package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/meshlab-core/internal/device"
	"github.com/nerrad567/meshlab-core/internal/infrastructure/mqtt"
)

// groupReconcileTimeout bounds the metadata lookup done per group snapshot.
const groupReconcileTimeout = 5 * time.Second

// Transport is the bus session the feed runs over. *mqtt.Client implements it.
type Transport interface {
	Connect(ctx context.Context) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Publish(topic string, payload []byte, qos byte, retained bool) error
	IsConnected() bool
	SetOnConnect(callback func())
}

// EventHandler receives bridge lifecycle events. The pairing coordinator
// implements it.
type EventHandler interface {
	HandleEvent(ev Event)
}

// Listener is told about state and availability changes after the cache
// has been updated. Implementations must not block.
type Listener interface {
	NotifyDeviceState(deviceID string, changed map[string]any, state device.State)
	NotifyAvailability(deviceID string, availability device.Availability)
}

// DeviceKeyMover is implemented by listeners that index clients by device.
// Keys taken from a friendly name before the device snapshot named it are
// moved to the device ID. aliases maps friendly name to ID.
type DeviceKeyMover interface {
	MoveDeviceKeys(aliases map[string]string)
}

// GroupReconciler merges persisted metadata into a group snapshot and
// writes the result to the cache. *device.GroupDirectory implements it.
type GroupReconciler interface {
	Reconcile(ctx context.Context, groups []device.Group) error
}

// Logger is the logging interface used by the feed.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Options configures a Feed.
type Options struct {
	BaseTopic string
	QoS       byte
}

// Feed owns the bridge's bus session. It classifies every inbound message
// and dispatches it to the device cache, the pairing coordinator and any
// listeners, and publishes commands and snapshot requests.
type Feed struct {
	transport Transport
	topics    mqtt.Topics
	qos       byte
	cache     *device.Cache
	now       func() time.Time

	mu          sync.RWMutex
	events      EventHandler
	groups      GroupReconciler
	listeners   []Listener
	logger      Logger
	bridgeUp    bool
	bridgeKnown bool
	lastSeenAt  time.Time

	received atomic.Uint64
	dropped  atomic.Uint64
}

// New creates a feed writing into cache.
func New(transport Transport, cache *device.Cache, opts Options) *Feed {
	return &Feed{
		transport: transport,
		topics:    mqtt.Topics{Base: opts.BaseTopic},
		qos:       opts.QoS,
		cache:     cache,
		now:       time.Now,
		logger:    noopLogger{},
	}
}

// SetLogger sets the logger for the feed.
func (f *Feed) SetLogger(logger Logger) {
	f.mu.Lock()
	f.logger = logger
	f.mu.Unlock()
}

// SetEventHandler routes bridge events to h.
func (f *Feed) SetEventHandler(h EventHandler) {
	f.mu.Lock()
	f.events = h
	f.mu.Unlock()
}

// SetGroupReconciler routes group snapshots through r instead of writing
// them to the cache directly.
func (f *Feed) SetGroupReconciler(r GroupReconciler) {
	f.mu.Lock()
	f.groups = r
	f.mu.Unlock()
}

// AddListener registers a state/availability listener.
func (f *Feed) AddListener(l Listener) {
	f.mu.Lock()
	f.listeners = append(f.listeners, l)
	f.mu.Unlock()
}

// Topics returns the topic builder for the feed's base topic.
func (f *Feed) Topics() mqtt.Topics {
	return f.topics
}

// Connect subscribes to the bridge tree and blocks until the session is
// up, retrying forever with the transport's fixed delay. It returns only
// on success or when ctx is cancelled. On every (re)connect the
// subscription is restored and fresh snapshots are requested.
func (f *Feed) Connect(ctx context.Context) error {
	f.transport.SetOnConnect(f.onConnect)

	if err := f.transport.Subscribe(f.topics.All(), f.qos, f.handleMessage); err != nil {
		return fmt.Errorf("subscribing to %s: %w", f.topics.All(), err)
	}

	if err := f.transport.Connect(ctx); err != nil {
		return err
	}
	f.log().Info("bridge feed connected", "base_topic", f.topics.All())
	return nil
}

func (f *Feed) onConnect() {
	f.requestSnapshots()
}

func (f *Feed) requestSnapshots() {
	for _, req := range []func() error{f.RequestDevices, f.RequestGroups, f.RequestNetworkInfo} {
		if err := req(); err != nil {
			f.log().Warn("snapshot request failed", "error", err)
		}
	}
}

// SendCommand publishes payload to "<base>/<target>/set". It never waits
// for the device; a disconnected bus fails fast with mqtt.ErrNotConnected.
func (f *Feed) SendCommand(ctx context.Context, target string, payload map[string]any) error {
	if target == "" {
		return ErrInvalidTarget
	}
	if len(payload) == 0 {
		return ErrInvalidCommand
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if !f.transport.IsConnected() {
		return mqtt.ErrNotConnected
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidCommand, err)
	}
	if err := f.transport.Publish(f.topics.DeviceSet(target), body, f.qos, false); err != nil {
		return fmt.Errorf("sending command to %s: %w", target, err)
	}
	return nil
}

// RequestDevices asks the bridge to republish its device list.
func (f *Feed) RequestDevices() error {
	return f.request(mqtt.RequestDevices, []byte(`{}`))
}

// RequestGroups asks the bridge to republish its group list.
func (f *Feed) RequestGroups() error {
	return f.request(mqtt.RequestGroups, []byte(`{}`))
}

// RequestNetworkInfo asks the bridge to republish its network info.
func (f *Feed) RequestNetworkInfo() error {
	return f.request(mqtt.RequestInfo, []byte(`{}`))
}

// PermitJoin opens the mesh to new devices for duration, or closes it
// when enable is false.
func (f *Feed) PermitJoin(ctx context.Context, enable bool, duration time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	body := map[string]any{"value": enable}
	if enable {
		body["time"] = int(math.Ceil(duration.Seconds()))
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	return f.request(mqtt.RequestPermitJoin, payload)
}

func (f *Feed) request(name string, payload []byte) error {
	if !f.transport.IsConnected() {
		return mqtt.ErrNotConnected
	}
	if err := f.transport.Publish(f.topics.BridgeRequest(name), payload, f.qos, false); err != nil {
		return fmt.Errorf("bridge request %s: %w", name, err)
	}
	return nil
}

// Status summarises the feed for health endpoints.
type Status struct {
	Connected  bool      `json:"connected"`
	BridgeUp   bool      `json:"bridge_online"`
	LastSeenAt time.Time `json:"last_message_at"`
	Received   uint64    `json:"messages_received"`
	Dropped    uint64    `json:"messages_dropped"`
}

// Status returns the current feed status.
func (f *Feed) Status() Status {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return Status{
		Connected:  f.transport.IsConnected(),
		BridgeUp:   f.bridgeUp,
		LastSeenAt: f.lastSeenAt,
		Received:   f.received.Load(),
		Dropped:    f.dropped.Load(),
	}
}

// handleMessage is the transport callback. A bad message is counted and
// logged; it never stops the feed.
func (f *Feed) handleMessage(topic string, payload []byte) error {
	f.received.Add(1)
	now := f.now()

	f.mu.Lock()
	f.lastSeenAt = now
	f.mu.Unlock()

	msg, err := Classify(f.topics, topic, payload)
	if err != nil {
		f.dropped.Add(1)
		f.log().Warn("dropping unparseable bridge message", "topic", topic, "error", err)
		return nil
	}
	f.dispatch(msg, now)
	return nil
}

func (f *Feed) dispatch(msg Message, now time.Time) {
	switch m := msg.(type) {
	case DevicesSnapshot:
		adopted := f.cache.ReplaceDevices(m.Devices)
		f.log().Info("device snapshot applied", "count", len(m.Devices), "adopted", len(adopted))
		f.announceAdopted(m.Devices, adopted)

	case GroupsSnapshot:
		f.applyGroups(m.Groups)

	case NetworkSnapshot:
		f.cache.SetNetworkInfo(m.Info)
		f.log().Debug("network info applied", "version", m.Info.Version)

	case AvailabilityUpdate:
		id := f.cache.ResolveID(m.Device)
		availability, changed := f.cache.SetAvailability(id, m.Reachable, now)
		if changed {
			for _, l := range f.snapshotListeners() {
				l.NotifyAvailability(id, availability)
			}
		}

	case StateUpdate:
		id := f.cache.ResolveID(m.Device)
		state := f.cache.MergeState(id, m.Attributes, now)
		for _, l := range f.snapshotListeners() {
			l.NotifyDeviceState(id, m.Attributes, state)
		}

	case BridgeEvent:
		f.applyEvent(m.Event)

	case BridgeLog:
		if m.Level == "error" {
			f.log().Warn("bridge error", "message", m.Message)
		} else {
			f.log().Debug("bridge log", "level", m.Level, "message", m.Message)
		}

	case Ignored:
		// Outside the topic contract.
	}
}

func (f *Feed) applyGroups(groups []device.Group) {
	f.mu.RLock()
	reconciler := f.groups
	f.mu.RUnlock()

	if reconciler == nil {
		f.cache.ReplaceGroups(groups)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), groupReconcileTimeout)
	defer cancel()
	if err := reconciler.Reconcile(ctx, groups); err != nil {
		// Membership still matters more than names; fall back to bridge names.
		f.log().Error("group reconciliation failed", "error", err)
		f.cache.ReplaceGroups(groups)
	}
}

func (f *Feed) applyEvent(ev Event) {
	switch ev.Type {
	case EventBridgeOnline, EventBridgeOffline:
		f.mu.Lock()
		wasDown := f.bridgeKnown && !f.bridgeUp
		f.bridgeKnown = true
		f.bridgeUp = ev.Type == EventBridgeOnline
		f.mu.Unlock()
		f.log().Info("bridge state", "state", ev.Name)
		// A bridge coming back from offline may have a different device list. Requests
		// wait on publish acks, which must not happen on the delivery goroutine.
		if ev.Type == EventBridgeOnline && wasDown {
			go f.requestSnapshots()
		}
	case EventUnknown:
		f.log().Debug("unhandled bridge event", "event", ev.Name)
	case EventDeviceJoined, EventDeviceAnnounce, EventDeviceInterview, EventDeviceLeave:
	}

	f.mu.RLock()
	handler := f.events
	f.mu.RUnlock()
	if handler != nil {
		handler.HandleEvent(ev)
	}
}

// announceAdopted moves name-keyed subscriptions onto device IDs and
// re-sends whatever arrived before the snapshot, now under the ID.
func (f *Feed) announceAdopted(records []device.Record, adopted []string) {
	listeners := f.snapshotListeners()

	aliases := make(map[string]string)
	for _, r := range records {
		if r.ID != "" && r.FriendlyName != "" && r.FriendlyName != r.ID {
			aliases[r.FriendlyName] = r.ID
		}
	}
	if len(aliases) > 0 {
		for _, l := range listeners {
			if mover, ok := l.(DeviceKeyMover); ok {
				mover.MoveDeviceKeys(aliases)
			}
		}
	}

	for _, id := range adopted {
		if a, ok := f.cache.Availability(id); ok {
			for _, l := range listeners {
				l.NotifyAvailability(id, a)
			}
		}
		if st, ok := f.cache.State(id); ok {
			for _, l := range listeners {
				l.NotifyDeviceState(id, st.Attributes, st)
			}
		}
	}
}

func (f *Feed) snapshotListeners() []Listener {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return append([]Listener(nil), f.listeners...)
}

func (f *Feed) log() Logger {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.logger
}

// IsNotConnected reports whether err means the bus is down.
func IsNotConnected(err error) bool {
	return errors.Is(err, mqtt.ErrNotConnected)
}
