package fanout

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/meshlab-core/internal/auth"
)

// Kind selects one of the four subscription indices.
type Kind string

// Subscription kinds.
const (
	KindUser   Kind = "user"
	KindRole   Kind = "role"
	KindDevice Kind = "device"
	KindLab    Kind = "lab"
)

// Conn is one live client connection. Send must not block: a connection
// that cannot take the message returns an error instead.
type Conn interface {
	ID() string
	Send(data []byte) error
	Close() error
}

// Logger is the logging interface used by the manager.
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

type subscriber struct {
	conn Conn
	user string
	role auth.Role
	// keys this connection appears under, per kind
	keys map[Kind]map[string]struct{}
}

// Manager is the connection registry plus its four indices.
//
// Thread Safety: all methods are safe for concurrent use. The registry and
// indices share one RWMutex; it is never held while sending.
type Manager struct {
	mu      sync.RWMutex
	conns   map[string]*subscriber
	indices map[Kind]map[string]map[string]struct{}
	closing bool

	inflight sync.WaitGroup
	now      func() time.Time
	logger   Logger
}

// NewManager creates an empty manager.
func NewManager() *Manager {
	m := &Manager{
		conns:   make(map[string]*subscriber),
		indices: make(map[Kind]map[string]map[string]struct{}, 4),
		now:     time.Now,
		logger:  noopLogger{},
	}
	for _, k := range []Kind{KindUser, KindRole, KindDevice, KindLab} {
		m.indices[k] = make(map[string]map[string]struct{})
	}
	return m
}

// SetLogger sets the logger for the manager.
func (m *Manager) SetLogger(logger Logger) {
	m.mu.Lock()
	m.logger = logger
	m.mu.Unlock()
}

// Register adds a connection and indexes it by user and role.
func (m *Manager) Register(conn Conn, userID string, role auth.Role) error {
	id := conn.ID()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closing {
		return ErrClosed
	}
	if _, ok := m.conns[id]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateConn, id)
	}
	sub := &subscriber{conn: conn, user: userID, role: role, keys: make(map[Kind]map[string]struct{})}
	m.conns[id] = sub
	if userID != "" {
		m.addLocked(sub, KindUser, userID)
	}
	if role != "" {
		m.addLocked(sub, KindRole, string(role))
	}
	m.logger.Debug("connection registered", "conn_id", id, "user_id", userID, "role", role, "connections", len(m.conns))
	return nil
}

// Subscribe inserts a registered connection into one index.
func (m *Manager) Subscribe(connID string, kind Kind, key string) error {
	if err := validKind(kind, key); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.conns[connID]
	if !ok {
		return ErrUnknownConn
	}
	m.addLocked(sub, kind, key)
	return nil
}

// Unsubscribe removes a connection from one index entry.
func (m *Manager) Unsubscribe(connID string, kind Kind, key string) error {
	if err := validKind(kind, key); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.conns[connID]
	if !ok {
		return ErrUnknownConn
	}
	m.removeLocked(sub, kind, key)
	return nil
}

// Disconnect removes a connection from the registry and from every index
// it appears in, then closes it. Unknown IDs are ignored.
func (m *Manager) Disconnect(connID string) {
	m.mu.Lock()
	sub, ok := m.conns[connID]
	if ok {
		for kind, keys := range sub.keys {
			for key := range keys {
				m.removeLocked(sub, kind, key)
			}
		}
		delete(m.conns, connID)
	}
	remaining := len(m.conns)
	logger := m.logger
	m.mu.Unlock()

	if !ok {
		return
	}
	if err := sub.conn.Close(); err != nil {
		logger.Debug("closing connection", "conn_id", connID, "error", err)
	}
	logger.Debug("connection removed", "conn_id", connID, "connections", remaining)
}

// MoveDeviceKeys implements bridge.DeviceKeyMover. Connections subscribed
// under a friendly name are re-indexed under the device ID it maps to.
func (m *Manager) MoveDeviceKeys(aliases map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	index := m.indices[KindDevice]
	moved := 0
	for name, id := range aliases {
		set, ok := index[name]
		if !ok || name == id {
			continue
		}
		connIDs := make([]string, 0, len(set))
		for connID := range set {
			connIDs = append(connIDs, connID)
		}
		for _, connID := range connIDs {
			sub := m.conns[connID]
			m.removeLocked(sub, KindDevice, name)
			m.addLocked(sub, KindDevice, id)
			moved++
		}
	}
	if moved > 0 {
		m.logger.Debug("device subscriptions re-keyed", "count", moved)
	}
}

func validKind(kind Kind, key string) error {
	switch kind {
	case KindUser, KindRole, KindDevice, KindLab:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidKind, kind)
	}
	if key == "" {
		return ErrEmptyKey
	}
	return nil
}

func (m *Manager) addLocked(sub *subscriber, kind Kind, key string) {
	index := m.indices[kind]
	set, ok := index[key]
	if !ok {
		set = make(map[string]struct{})
		index[key] = set
	}
	set[sub.conn.ID()] = struct{}{}

	keys, ok := sub.keys[kind]
	if !ok {
		keys = make(map[string]struct{})
		sub.keys[kind] = keys
	}
	keys[key] = struct{}{}
}

func (m *Manager) removeLocked(sub *subscriber, kind Kind, key string) {
	index := m.indices[kind]
	if set, ok := index[key]; ok {
		delete(set, sub.conn.ID())
		if len(set) == 0 {
			delete(index, key)
		}
	}
	if keys, ok := sub.keys[kind]; ok {
		delete(keys, key)
		if len(keys) == 0 {
			delete(sub.keys, kind)
		}
	}
}

// Publish delivers env to every connection in the kind index under key
// and returns how many deliveries succeeded. Each delivery is isolated: a
// failing connection is logged and disconnected after the loop, and the
// error never reaches the caller.
func (m *Manager) Publish(ctx context.Context, kind Kind, key string, env Envelope) int {
	data, err := json.Marshal(env)
	if err != nil {
		m.log().Error("marshalling envelope", "type", env.Type, "error", err)
		return 0
	}
	return m.publishData(ctx, kind, key, env.Type, data)
}

func (m *Manager) publishData(ctx context.Context, kind Kind, key string, typ EventType, data []byte) int {
	m.mu.RLock()
	if m.closing {
		m.mu.RUnlock()
		return 0
	}
	m.inflight.Add(1)
	defer m.inflight.Done()

	set := m.indices[kind][key]
	recipients := make([]Conn, 0, len(set))
	for id := range set {
		recipients = append(recipients, m.conns[id].conn)
	}
	logger := m.logger
	m.mu.RUnlock()

	delivered := 0
	var failed []string
	for _, conn := range recipients {
		if ctx.Err() != nil {
			break
		}
		if err := deliver(conn, data); err != nil {
			logger.Warn("delivery failed, dropping connection", "conn_id", conn.ID(), "type", typ, "error", err)
			failed = append(failed, conn.ID())
			continue
		}
		delivered++
	}

	for _, id := range failed {
		m.Disconnect(id)
	}
	if delivered > 0 {
		logger.Debug("event published", "type", typ, "kind", kind, "key", key, "recipients", delivered)
	}
	return delivered
}

// deliver isolates one send, including a panicking Conn.
func deliver(conn Conn, data []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("send panicked: %v", r)
		}
	}()
	return conn.Send(data)
}

// Close stops accepting publishes, waits for in-flight ones until ctx is
// done, then closes every connection.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	m.closing = true
	m.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		m.inflight.Wait()
		close(drained)
	}()

	var err error
	select {
	case <-drained:
	case <-ctx.Done():
		err = fmt.Errorf("draining publishes: %w", ctx.Err())
	}

	m.mu.RLock()
	ids := make([]string, 0, len(m.conns))
	for id := range m.conns {
		ids = append(ids, id)
	}
	m.mu.RUnlock()
	for _, id := range ids {
		m.Disconnect(id)
	}
	return err
}

// Stats counts connections and index entries.
type Stats struct {
	Connections int `json:"connections"`
	Users       int `json:"users"`
	Devices     int `json:"devices"`
	Labs        int `json:"labs"`
}

// Stats returns the current registry size.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Stats{
		Connections: len(m.conns),
		Users:       len(m.indices[KindUser]),
		Devices:     len(m.indices[KindDevice]),
		Labs:        len(m.indices[KindLab]),
	}
}

// Subscriptions returns the keys a connection is indexed under for kind.
func (m *Manager) Subscriptions(connID string, kind Kind) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sub, ok := m.conns[connID]
	if !ok {
		return nil
	}
	keys := make([]string, 0, len(sub.keys[kind]))
	for k := range sub.keys[kind] {
		keys = append(keys, k)
	}
	return keys
}

func (m *Manager) log() Logger {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.logger
}
