package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/meshlab-core/internal/device"
	"github.com/nerrad567/meshlab-core/internal/infrastructure/mqtt"
)

type published struct {
	topic   string
	payload []byte
}

// fakeTransport records publishes and lets tests deliver messages.
type fakeTransport struct {
	mu         sync.Mutex
	connected  bool
	connectErr error
	handlers   map[string]mqtt.MessageHandler
	published  []published
	onConnect  func()
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{connected: true, handlers: make(map[string]mqtt.MessageHandler)}
}

func (t *fakeTransport) Connect(ctx context.Context) error {
	if t.connectErr != nil {
		return t.connectErr
	}
	t.mu.Lock()
	cb := t.onConnect
	t.mu.Unlock()
	if cb != nil {
		cb()
	}
	return nil
}

func (t *fakeTransport) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers[topic] = handler
	return nil
}

func (t *fakeTransport) Publish(topic string, payload []byte, _ byte, _ bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.connected {
		return mqtt.ErrNotConnected
	}
	t.published = append(t.published, published{topic: topic, payload: payload})
	return nil
}

func (t *fakeTransport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

func (t *fakeTransport) SetOnConnect(cb func()) {
	t.mu.Lock()
	t.onConnect = cb
	t.mu.Unlock()
}

func (t *fakeTransport) setConnected(v bool) {
	t.mu.Lock()
	t.connected = v
	t.mu.Unlock()
}

func (t *fakeTransport) deliver(t2 *testing.T, topic, payload string) {
	t2.Helper()
	t.mu.Lock()
	h := t.handlers["zigbee2mqtt/#"]
	t.mu.Unlock()
	if h == nil {
		t2.Fatal("no handler subscribed to zigbee2mqtt/#")
	}
	if err := h(topic, []byte(payload)); err != nil {
		t2.Fatalf("handler error = %v", err)
	}
}

func (t *fakeTransport) topics() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, len(t.published))
	for i, p := range t.published {
		out[i] = p.topic
	}
	return out
}

func (t *fakeTransport) last() published {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.published) == 0 {
		return published{}
	}
	return t.published[len(t.published)-1]
}

func (t *fakeTransport) reset() {
	t.mu.Lock()
	t.published = nil
	t.mu.Unlock()
}

type stateCall struct {
	id      string
	changed map[string]any
	state   device.State
}

type fakeListener struct {
	mu           sync.Mutex
	states       []stateCall
	availability []device.Availability
}

func (l *fakeListener) NotifyDeviceState(id string, changed map[string]any, state device.State) {
	l.mu.Lock()
	l.states = append(l.states, stateCall{id: id, changed: changed, state: state})
	l.mu.Unlock()
}

func (l *fakeListener) NotifyAvailability(_ string, a device.Availability) {
	l.mu.Lock()
	l.availability = append(l.availability, a)
	l.mu.Unlock()
}

type fakeEvents struct {
	mu     sync.Mutex
	events []Event
}

func (h *fakeEvents) HandleEvent(ev Event) {
	h.mu.Lock()
	h.events = append(h.events, ev)
	h.mu.Unlock()
}

type fakeReconciler struct {
	err    error
	called int
}

func (r *fakeReconciler) Reconcile(_ context.Context, _ []device.Group) error {
	r.called++
	return r.err
}

func newTestFeed(t *testing.T) (*Feed, *fakeTransport, *device.Cache) {
	t.Helper()
	transport := newFakeTransport()
	cache := device.NewCache()
	feed := New(transport, cache, Options{BaseTopic: "zigbee2mqtt", QoS: 1})
	feed.now = func() time.Time { return time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC) }
	if err := feed.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	transport.reset()
	return feed, transport, cache
}

const lampSnapshot = `[{"ieee_address":"0x00124b0001","friendly_name":"lamp","type":"Router"},
{"ieee_address":"0x00124b0002","friendly_name":"plug","type":"Router"}]`

func TestFeed_ConnectSubscribesAndRequestsSnapshots(t *testing.T) {
	transport := newFakeTransport()
	feed := New(transport, device.NewCache(), Options{})

	if err := feed.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if _, ok := transport.handlers["zigbee2mqtt/#"]; !ok {
		t.Errorf("handlers = %v, want zigbee2mqtt/#", transport.handlers)
	}

	want := []string{
		"zigbee2mqtt/bridge/request/devices",
		"zigbee2mqtt/bridge/request/groups",
		"zigbee2mqtt/bridge/request/info",
	}
	got := transport.topics()
	if len(got) != len(want) {
		t.Fatalf("published = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("published[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestFeed_ConnectError(t *testing.T) {
	transport := newFakeTransport()
	transport.connectErr = context.Canceled
	feed := New(transport, device.NewCache(), Options{})

	if err := feed.Connect(context.Background()); !errors.Is(err, context.Canceled) {
		t.Errorf("Connect() error = %v, want context.Canceled", err)
	}
}

func TestFeed_DeviceSnapshots(t *testing.T) {
	feed, transport, cache := newTestFeed(t)

	transport.deliver(t, "zigbee2mqtt/bridge/devices", lampSnapshot)
	if got := len(cache.Devices()); got != 2 {
		t.Fatalf("devices = %d, want 2", got)
	}

	// A malformed snapshot is dropped and the previous one kept.
	transport.deliver(t, "zigbee2mqtt/bridge/devices", `[{"ieee_address":`)
	if got := len(cache.Devices()); got != 2 {
		t.Errorf("devices after bad snapshot = %d, want 2", got)
	}
	if st := feed.Status(); st.Dropped != 1 || st.Received != 2 {
		t.Errorf("Status() = %+v, want 2 received and 1 dropped", st)
	}

	// An empty array is a real snapshot: the mesh is empty.
	transport.deliver(t, "zigbee2mqtt/bridge/devices", `[]`)
	if got := len(cache.Devices()); got != 0 {
		t.Errorf("devices after empty snapshot = %d, want 0", got)
	}
}

func TestFeed_StateUpdate(t *testing.T) {
	feed, transport, cache := newTestFeed(t)
	listener := &fakeListener{}
	feed.AddListener(listener)

	transport.deliver(t, "zigbee2mqtt/bridge/devices", lampSnapshot)
	transport.deliver(t, "zigbee2mqtt/lamp", `{"state":"ON","brightness":100}`)
	transport.deliver(t, "zigbee2mqtt/lamp", `{"brightness":200}`)

	state, ok := cache.State("0x00124b0001")
	if !ok {
		t.Fatal("State() missing for resolved ID")
	}
	if state.Attributes["state"] != "ON" || state.Attributes["brightness"] != 200.0 {
		t.Errorf("state = %v, want merged state ON/200", state.Attributes)
	}

	if len(listener.states) != 2 {
		t.Fatalf("listener calls = %d, want 2", len(listener.states))
	}
	second := listener.states[1]
	if second.id != "0x00124b0001" {
		t.Errorf("listener id = %q, want IEEE address", second.id)
	}
	if len(second.changed) != 1 || second.changed["brightness"] != 200.0 {
		t.Errorf("changed = %v, want only brightness", second.changed)
	}
	if second.state.Attributes["state"] != "ON" {
		t.Errorf("listener state = %v, want merged", second.state.Attributes)
	}
}

func TestFeed_StateForUnknownDeviceKeyedByTopic(t *testing.T) {
	_, transport, cache := newTestFeed(t)

	transport.deliver(t, "zigbee2mqtt/bench_group", `{"state":"OFF"}`)

	if _, ok := cache.State("bench_group"); !ok {
		t.Error("State(bench_group) missing, want raw name as key")
	}
}

// keyMovingListener records re-key requests alongside notifications.
type keyMovingListener struct {
	fakeListener
	aliases []map[string]string
}

func (l *keyMovingListener) MoveDeviceKeys(aliases map[string]string) {
	l.mu.Lock()
	l.aliases = append(l.aliases, aliases)
	l.mu.Unlock()
}

func TestFeed_RetainedMessagesBeforeSnapshot(t *testing.T) {
	feed, transport, cache := newTestFeed(t)
	listener := &keyMovingListener{}
	feed.AddListener(listener)

	// Retained messages replayed on connect may beat bridge/devices.
	transport.deliver(t, "zigbee2mqtt/lamp/availability", `{"state":"online"}`)
	transport.deliver(t, "zigbee2mqtt/lamp", `{"state":"ON"}`)
	transport.deliver(t, "zigbee2mqtt/bridge/devices", lampSnapshot)

	view, err := cache.View("lamp")
	if err != nil {
		t.Fatalf("View() error = %v", err)
	}
	if view.Availability == nil || !view.Availability.Reachable {
		t.Errorf("availability = %+v, want reachable", view.Availability)
	}
	if view.State == nil || view.State.Attributes["state"] != "ON" {
		t.Errorf("state = %+v, want ON", view.State)
	}
	if _, ok := cache.State("lamp"); ok {
		t.Error("state still keyed by friendly name")
	}

	if len(listener.aliases) != 1 || listener.aliases[0]["lamp"] != "0x00124b0001" {
		t.Errorf("aliases = %v, want lamp mapped to its IEEE address", listener.aliases)
	}
	// The first pair went out under the name, the replay under the ID.
	if len(listener.states) != 2 || listener.states[1].id != "0x00124b0001" {
		t.Fatalf("state notifications = %+v", listener.states)
	}
	if len(listener.availability) != 2 || !listener.availability[1].Reachable {
		t.Errorf("availability notifications = %+v", listener.availability)
	}

	// A later snapshot with nothing early to adopt replays nothing.
	transport.deliver(t, "zigbee2mqtt/bridge/devices", lampSnapshot)
	if len(listener.states) != 2 {
		t.Errorf("state notifications after second snapshot = %d, want 2", len(listener.states))
	}
}

func TestFeed_AvailabilityNotifiesOnChangeOnly(t *testing.T) {
	feed, transport, cache := newTestFeed(t)
	listener := &fakeListener{}
	feed.AddListener(listener)
	transport.deliver(t, "zigbee2mqtt/bridge/devices", lampSnapshot)

	transport.deliver(t, "zigbee2mqtt/lamp/availability", `{"state":"online"}`)
	transport.deliver(t, "zigbee2mqtt/lamp/availability", `{"state":"online"}`)
	transport.deliver(t, "zigbee2mqtt/lamp/availability", `offline`)

	if len(listener.availability) != 2 {
		t.Fatalf("availability notifications = %d, want 2", len(listener.availability))
	}
	if listener.availability[1].Reachable {
		t.Error("last notification reachable = true, want false")
	}
	a, ok := cache.Availability("0x00124b0001")
	if !ok || a.Reachable {
		t.Errorf("Availability() = %+v, %v, want unreachable", a, ok)
	}
}

func TestFeed_NetworkInfo(t *testing.T) {
	_, transport, cache := newTestFeed(t)

	transport.deliver(t, "zigbee2mqtt/bridge/info", `{"version":"1.40.0","permit_join":false}`)

	info, ok := cache.NetworkInfo()
	if !ok || info.Version != "1.40.0" {
		t.Errorf("NetworkInfo() = %+v, %v", info, ok)
	}
}

func TestFeed_Groups(t *testing.T) {
	const groups = `[{"id":3,"friendly_name":"bench","members":[]}]`

	t.Run("without reconciler", func(t *testing.T) {
		_, transport, cache := newTestFeed(t)
		transport.deliver(t, "zigbee2mqtt/bridge/groups", groups)
		if _, err := cache.Group(3); err != nil {
			t.Errorf("Group(3) error = %v", err)
		}
	})

	t.Run("reconciler owns the write", func(t *testing.T) {
		feed, transport, cache := newTestFeed(t)
		r := &fakeReconciler{}
		feed.SetGroupReconciler(r)
		transport.deliver(t, "zigbee2mqtt/bridge/groups", groups)
		if r.called != 1 {
			t.Errorf("reconciler called %d times, want 1", r.called)
		}
		if _, err := cache.Group(3); !errors.Is(err, device.ErrGroupNotFound) {
			t.Errorf("Group(3) error = %v, want ErrGroupNotFound", err)
		}
	})

	t.Run("reconciler failure falls back", func(t *testing.T) {
		feed, transport, cache := newTestFeed(t)
		feed.SetGroupReconciler(&fakeReconciler{err: errors.New("db locked")})
		transport.deliver(t, "zigbee2mqtt/bridge/groups", groups)
		if _, err := cache.Group(3); err != nil {
			t.Errorf("Group(3) error = %v", err)
		}
	})
}

func TestFeed_EventsRouted(t *testing.T) {
	feed, transport, _ := newTestFeed(t)
	handler := &fakeEvents{}
	feed.SetEventHandler(handler)

	transport.deliver(t, "zigbee2mqtt/bridge/event", `{"type":"device_joined","data":{"ieee_address":"0x9","friendly_name":"0x9"}}`)
	transport.deliver(t, "zigbee2mqtt/bridge/event", `{"type":"device_leave","data":{"ieee_address":"0x9"}}`)

	if len(handler.events) != 2 {
		t.Fatalf("events = %d, want 2", len(handler.events))
	}
	if handler.events[0].Type != EventDeviceJoined || handler.events[1].Type != EventDeviceLeave {
		t.Errorf("events = %+v", handler.events)
	}
}

func TestFeed_BridgeRestartRequestsSnapshots(t *testing.T) {
	feed, transport, _ := newTestFeed(t)

	// The retained state seen right after subscribing does not re-request.
	transport.deliver(t, "zigbee2mqtt/bridge/state", `{"state":"online"}`)
	if !feed.Status().BridgeUp {
		t.Error("BridgeUp = false after online")
	}
	transport.deliver(t, "zigbee2mqtt/bridge/state", `{"state":"offline"}`)
	if feed.Status().BridgeUp {
		t.Error("BridgeUp = true after offline")
	}
	if got := transport.topics(); len(got) != 0 {
		t.Fatalf("published = %v, want nothing yet", got)
	}

	transport.deliver(t, "zigbee2mqtt/bridge/state", `online`)

	deadline := time.Now().Add(2 * time.Second)
	for len(transport.topics()) < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("published = %v, want 3 snapshot requests", transport.topics())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestFeed_SendCommand(t *testing.T) {
	feed, transport, _ := newTestFeed(t)
	ctx := context.Background()

	if err := feed.SendCommand(ctx, "lamp", map[string]any{"state": "ON"}); err != nil {
		t.Fatalf("SendCommand() error = %v", err)
	}
	got := transport.last()
	if got.topic != "zigbee2mqtt/lamp/set" {
		t.Errorf("topic = %q, want zigbee2mqtt/lamp/set", got.topic)
	}
	var body map[string]any
	if err := json.Unmarshal(got.payload, &body); err != nil || body["state"] != "ON" {
		t.Errorf("payload = %s, err = %v", got.payload, err)
	}

	if err := feed.SendCommand(ctx, "", map[string]any{"state": "ON"}); !errors.Is(err, ErrInvalidTarget) {
		t.Errorf("empty target error = %v, want ErrInvalidTarget", err)
	}
	if err := feed.SendCommand(ctx, "lamp", nil); !errors.Is(err, ErrInvalidCommand) {
		t.Errorf("empty payload error = %v, want ErrInvalidCommand", err)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if err := feed.SendCommand(cancelled, "lamp", map[string]any{"state": "ON"}); !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled error = %v, want context.Canceled", err)
	}

	transport.setConnected(false)
	err := feed.SendCommand(ctx, "lamp", map[string]any{"state": "ON"})
	if !IsNotConnected(err) {
		t.Errorf("offline error = %v, want ErrNotConnected", err)
	}
}

func TestFeed_PermitJoin(t *testing.T) {
	feed, transport, _ := newTestFeed(t)
	ctx := context.Background()

	if err := feed.PermitJoin(ctx, true, 90*time.Second+time.Millisecond); err != nil {
		t.Fatalf("PermitJoin() error = %v", err)
	}
	got := transport.last()
	if got.topic != "zigbee2mqtt/bridge/request/permit_join" {
		t.Errorf("topic = %q", got.topic)
	}
	var body map[string]any
	if err := json.Unmarshal(got.payload, &body); err != nil {
		t.Fatalf("payload %s: %v", got.payload, err)
	}
	if body["value"] != true || body["time"] != 91.0 {
		t.Errorf("payload = %v, want value=true time=91", body)
	}

	if err := feed.PermitJoin(ctx, false, 0); err != nil {
		t.Fatalf("PermitJoin(false) error = %v", err)
	}
	if string(transport.last().payload) != `{"value":false}` {
		t.Errorf("close payload = %s", transport.last().payload)
	}

	transport.setConnected(false)
	if err := feed.RequestDevices(); !IsNotConnected(err) {
		t.Errorf("RequestDevices() offline error = %v", err)
	}
}

func TestTelemetryListener(t *testing.T) {
	sink := &fakeSink{}
	l := NewTelemetryListener(sink)
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	l.NotifyDeviceState("0x1", map[string]any{"temperature": 21.5}, device.State{
		Attributes: map[string]any{"temperature": 21.5, "humidity": 40.0},
		UpdatedAt:  at,
	})
	l.NotifyAvailability("0x1", device.Availability{Reachable: true, Since: at})

	if len(sink.states) != 1 || len(sink.states[0]) != 1 {
		t.Errorf("states = %v, want only the changed attribute", sink.states)
	}
	if len(sink.availability) != 1 || !sink.availability[0] {
		t.Errorf("availability = %v", sink.availability)
	}
}

type fakeSink struct {
	states       []map[string]any
	availability []bool
}

func (s *fakeSink) WriteDeviceState(_ string, attrs map[string]any, _ time.Time) {
	s.states = append(s.states, attrs)
}

func (s *fakeSink) WriteAvailability(_ string, reachable bool, _ time.Time) {
	s.availability = append(s.availability, reachable)
}
