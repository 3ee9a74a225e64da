package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/meshlab-core/internal/audit"
	"github.com/nerrad567/meshlab-core/internal/auth"
	"github.com/nerrad567/meshlab-core/internal/booking"
	"github.com/nerrad567/meshlab-core/internal/bridge"
	"github.com/nerrad567/meshlab-core/internal/device"
	"github.com/nerrad567/meshlab-core/internal/fanout"
	"github.com/nerrad567/meshlab-core/internal/infrastructure/config"
	"github.com/nerrad567/meshlab-core/internal/infrastructure/database"
	"github.com/nerrad567/meshlab-core/internal/infrastructure/logging"
	"github.com/nerrad567/meshlab-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/meshlab-core/internal/pairing"
	"github.com/nerrad567/meshlab-core/migrations"
)

const testSecret = "test-secret-key-at-least-32-characters-long"

// sentCommand is one SendCommand call seen by fakeBus.
type sentCommand struct {
	Target  string
	Payload map[string]any
}

// fakeBus stands in for the bridge feed: it records commands and permit-join
// requests and can simulate the bus being down.
type fakeBus struct {
	mu       sync.Mutex
	offline  bool
	commands []sentCommand
	permits  []bool
	cache    *device.Cache
	// onRefresh runs when the coordinator asks for a fresh device snapshot.
	onRefresh func()
}

func (b *fakeBus) SendCommand(_ context.Context, target string, payload map[string]any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.offline {
		return mqtt.ErrNotConnected
	}
	b.commands = append(b.commands, sentCommand{Target: target, Payload: payload})
	return nil
}

func (b *fakeBus) Status() bridge.Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return bridge.Status{Connected: !b.offline, BridgeUp: !b.offline}
}

func (b *fakeBus) PermitJoin(_ context.Context, enable bool, _ time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.offline {
		return mqtt.ErrNotConnected
	}
	b.permits = append(b.permits, enable)
	return nil
}

func (b *fakeBus) RequestDevices() error {
	b.mu.Lock()
	refresh := b.onRefresh
	b.mu.Unlock()
	if refresh != nil {
		refresh()
	}
	return nil
}

func (b *fakeBus) setOffline(v bool) {
	b.mu.Lock()
	b.offline = v
	b.mu.Unlock()
}

func (b *fakeBus) sent() []sentCommand {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]sentCommand(nil), b.commands...)
}

// testEnv is a server wired to real domain components over a temp SQLite
// database, with only the bus faked.
type testEnv struct {
	srv       *Server
	cache     *device.Cache
	scheduler *booking.Scheduler
	repo      *booking.SQLiteRepository
	fanout    *fanout.Manager
	pairing   *pairing.Coordinator
	audit     *audit.SQLiteRepository
	bus       *fakeBus
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	db, err := database.Open(ctx, database.Config{Path: filepath.Join(t.TempDir(), "api.db")})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(ctx, migrations.FS); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}

	cache := device.NewCache()
	cache.ReplaceDevices([]device.Record{
		{ID: "0x01", FriendlyName: "bench_lamp", Type: "Router", Supported: true},
		{ID: "0x02", FriendlyName: "scope_plug", Type: "Router", Supported: true},
	})
	cache.ReplaceGroups([]device.Group{{ID: 1, FriendlyName: "bench_lights", Members: []device.GroupMember{{IEEEAddress: "0x01", Endpoint: 1}}}})

	repo := booking.NewSQLiteRepository(db.DB)
	scheduler := booking.NewScheduler(repo)
	scheduler.SetDeviceChecker(cache)

	manager := fanout.NewManager()
	scheduler.AddNotifier(manager)

	bus := &fakeBus{cache: cache}
	coordinator := pairing.NewCoordinator(bus, cache, pairing.Config{
		ConfirmWait:  200 * time.Millisecond,
		PollInterval: 5 * time.Millisecond,
	})
	t.Cleanup(coordinator.Close)

	auditRepo := audit.NewSQLiteRepository(db.DB)
	groups := device.NewGroupDirectory(device.NewSQLiteGroupMetaRepository(db.DB), cache)

	srv, err := New(Deps{
		Config: config.APIConfig{
			Host:     "127.0.0.1",
			Port:     0,
			Timeouts: config.APITimeoutConfig{Read: 5, Write: 5, Idle: 5},
		},
		WS:        config.WebSocketConfig{MaxMessageSize: 8192, PingInterval: 30, PongTimeout: 10},
		Security:  config.SecurityConfig{JWT: config.JWTConfig{Secret: testSecret}},
		LabID:     "lab-test",
		Logger:    logging.Nop(),
		Cache:     cache,
		Scheduler: scheduler,
		Fanout:    manager,
		Commander: bus,
		Pairing:   coordinator,
		Groups:    groups,
		AuditRepo: auditRepo,
		DB:        db,
		Version:   "test",
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	return &testEnv{
		srv:       srv,
		cache:     cache,
		scheduler: scheduler,
		repo:      repo,
		fanout:    manager,
		pairing:   coordinator,
		audit:     auditRepo,
		bus:       bus,
	}
}

func tokenFor(t *testing.T, userID string, role auth.Role, labs ...string) string {
	t.Helper()
	tok, err := auth.GenerateAccessToken(auth.Identity{UserID: userID, Role: role, Labs: labs}, testSecret, time.Hour)
	if err != nil {
		t.Fatalf("GenerateAccessToken: %v", err)
	}
	return tok
}

// do runs one request through the router. body may be nil, a string or a
// value to encode as JSON.
func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return v
}

func TestNew_RequiresDependencies(t *testing.T) {
	env := newTestEnv(t)
	base := Deps{
		Logger:    logging.Nop(),
		Cache:     env.cache,
		Scheduler: env.scheduler,
		Fanout:    env.fanout,
		Commander: env.bus,
		Security:  config.SecurityConfig{JWT: config.JWTConfig{Secret: testSecret}},
	}
	if _, err := New(base); err != nil {
		t.Fatalf("New(valid) error = %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Deps)
	}{
		{"no logger", func(d *Deps) { d.Logger = nil }},
		{"no cache", func(d *Deps) { d.Cache = nil }},
		{"no scheduler", func(d *Deps) { d.Scheduler = nil }},
		{"no fanout", func(d *Deps) { d.Fanout = nil }},
		{"no commander", func(d *Deps) { d.Commander = nil }},
		{"no secret", func(d *Deps) { d.Security.JWT.Secret = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := base
			tt.mutate(&d)
			if _, err := New(d); err == nil {
				t.Error("New() error = nil, want error")
			}
		})
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/v1/health", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	body := decode[map[string]any](t, w)
	if body["status"] != "ok" || body["version"] != "test" {
		t.Errorf("body = %v", body)
	}

	env.bus.setOffline(true)
	body = decode[map[string]any](t, env.do(t, http.MethodGet, "/api/v1/health", "", nil))
	if body["status"] != "degraded" {
		t.Errorf("status with bus down = %v, want degraded", body["status"])
	}
}

func TestRequestID(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/v1/health", "", nil)
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("X-Request-ID not generated")
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "client-123")
	rec := httptest.NewRecorder()
	env.srv.Handler().ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-ID"); got != "client-123" {
		t.Errorf("X-Request-ID = %q, want client-123", got)
	}
}

func TestCORS_Preflight(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/devices", nil)
	req.Header.Set("Origin", "http://lab.local")
	w := httptest.NewRecorder()
	env.srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://lab.local" {
		t.Errorf("Allow-Origin = %q", got)
	}
}

func TestAuth(t *testing.T) {
	env := newTestEnv(t)
	wrongSecret, err := auth.GenerateAccessToken(auth.Identity{UserID: "u1", Role: auth.RoleStudent}, "another-secret-that-is-long-enough!!", time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		path   string
		token  string
		header string
		want   int
	}{
		{"missing token", "/api/v1/devices", "", "", http.StatusUnauthorized},
		{"wrong secret", "/api/v1/devices", wrongSecret, "", http.StatusUnauthorized},
		{"not bearer", "/api/v1/devices", "", "Basic abc", http.StatusUnauthorized},
		{"query token ignored outside websocket", "/api/v1/devices?token=" + tokenFor(t, "u1", auth.RoleStudent), "", "", http.StatusUnauthorized},
		{"student reads devices", "/api/v1/devices", tokenFor(t, "u1", auth.RoleStudent), "", http.StatusOK},
		{"student cannot read audit", "/api/v1/audit", tokenFor(t, "u1", auth.RoleStudent), "", http.StatusForbidden},
		{"teacher cannot read audit", "/api/v1/audit", tokenFor(t, "t1", auth.RoleTeacher), "", http.StatusForbidden},
		{"admin reads audit", "/api/v1/audit", tokenFor(t, "a1", auth.RoleAdmin), "", http.StatusOK},
		{"student cannot pair", "/api/v1/pairing", tokenFor(t, "u1", auth.RoleStudent), "", http.StatusForbidden},
		{"admin reads metrics", "/api/v1/metrics", tokenFor(t, "a1", auth.RoleAdmin), "", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.token != "" {
				req.Header.Set("Authorization", "Bearer "+tt.token)
			}
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			env.srv.Handler().ServeHTTP(w, req)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d (body %s)", w.Code, tt.want, w.Body.String())
			}
		})
	}
}

func TestMe(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/v1/me", tokenFor(t, "u1", auth.RoleStudent, "lab-a"), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	me := decode[struct {
		UserID        string   `json:"user_id"`
		Role          string   `json:"role"`
		Labs          []string `json:"labs"`
		Permissions   []string `json:"permissions"`
		BookingScoped bool     `json:"booking_scoped"`
	}](t, w)
	if me.UserID != "u1" || me.Role != "student" || !me.BookingScoped {
		t.Errorf("me = %+v", me)
	}
	if len(me.Labs) != 1 || me.Labs[0] != "lab-a" {
		t.Errorf("labs = %v", me.Labs)
	}
	if len(me.Permissions) != 3 {
		t.Errorf("permissions = %v, want 3", me.Permissions)
	}
}

func TestNotFoundRoute(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodGet, "/api/v1/nope", tokenFor(t, "a1", auth.RoleAdmin), nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestStartAndClose(t *testing.T) {
	env := newTestEnv(t)

	if err := env.srv.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() before Start = nil, want error")
	}
	if err := env.srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if env.srv.Addr() == "" {
		t.Fatal("Addr() empty after Start")
	}

	resp, err := http.Get("http://" + env.srv.Addr() + "/api/v1/health")
	if err != nil {
		t.Fatalf("GET health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
	if err := env.srv.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	env.srv.auditLog(audit.ActionPairingStop, audit.EntityPairing, "", "a1", nil)
	if err := env.srv.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := env.srv.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}

	// Close flushes queued audit entries.
	got, err := env.audit.List(context.Background(), audit.Filter{Action: audit.ActionPairingStop})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if got.Total != 1 {
		t.Errorf("audit entries after Close = %d, want 1", got.Total)
	}
}
