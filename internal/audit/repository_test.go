package audit

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/meshlab-core/internal/infrastructure/database"
	"github.com/nerrad567/meshlab-core/migrations"
)

func setupAuditRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	ctx := context.Background()

	db, err := database.Open(ctx, database.Config{Path: filepath.Join(t.TempDir(), "audit.db")})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(ctx, migrations.FS); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return NewSQLiteRepository(db.DB)
}

func TestCreate_FillsDefaults(t *testing.T) {
	repo := setupAuditRepo(t)
	fixed := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return fixed }

	log := &AuditLog{Action: ActionBookingCreate, EntityType: EntityBooking, EntityID: "b1", UserID: "u1"}
	if err := repo.Create(context.Background(), log); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if !strings.HasPrefix(log.ID, "aud-") {
		t.Errorf("ID = %q, want aud- prefix", log.ID)
	}
	if !log.CreatedAt.Equal(fixed) {
		t.Errorf("CreatedAt = %v, want %v", log.CreatedAt, fixed)
	}
	if log.Source != "api" {
		t.Errorf("Source = %q, want api", log.Source)
	}
}

func TestList_FiltersAndOrder(t *testing.T) {
	repo := setupAuditRepo(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	entries := []struct {
		action, entityType, entityID, user string
	}{
		{ActionBookingCreate, EntityBooking, "b1", "u1"},
		{ActionDeviceCommand, EntityDevice, "0x1", "u1"},
		{ActionBookingCancel, EntityBooking, "b1", "u2"},
		{ActionPairingStart, EntityPairing, "", "admin"},
	}
	for i, e := range entries {
		step := time.Duration(i) * time.Minute
		repo.now = func() time.Time { return base.Add(step) }
		if err := repo.Record(ctx, e.action, e.entityType, e.entityID, e.user, map[string]any{"n": i}); err != nil {
			t.Fatalf("Record(%d) error = %v", i, err)
		}
	}

	tests := []struct {
		name   string
		filter Filter
		want   []string
	}{
		{"all newest first", Filter{}, []string{ActionPairingStart, ActionBookingCancel, ActionDeviceCommand, ActionBookingCreate}},
		{"by entity", Filter{EntityType: EntityBooking, EntityID: "b1"}, []string{ActionBookingCancel, ActionBookingCreate}},
		{"by user", Filter{UserID: "u1"}, []string{ActionDeviceCommand, ActionBookingCreate}},
		{"by action", Filter{Action: ActionPairingStart}, []string{ActionPairingStart}},
		{"page", Filter{Limit: 2, Offset: 1}, []string{ActionBookingCancel, ActionDeviceCommand}},
		{"no match", Filter{UserID: "nobody"}, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := repo.List(ctx, tt.filter)
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			if got.Logs == nil {
				t.Fatal("Logs is nil, want empty slice")
			}
			actions := make([]string, 0, len(got.Logs))
			for _, l := range got.Logs {
				actions = append(actions, l.Action)
			}
			if strings.Join(actions, ",") != strings.Join(tt.want, ",") {
				t.Errorf("actions = %v, want %v", actions, tt.want)
			}
		})
	}
}

func TestList_RoundTripsDetailsAndClampsLimit(t *testing.T) {
	repo := setupAuditRepo(t)
	ctx := context.Background()

	if err := repo.Record(ctx, ActionDeviceCommand, EntityDevice, "0x1", "u1", map[string]any{"state": "ON"}); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	got, err := repo.List(ctx, Filter{Limit: 10_000})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if got.Limit != maxLimit || got.Total != 1 {
		t.Errorf("Limit = %d Total = %d, want %d and 1", got.Limit, got.Total, maxLimit)
	}
	if got.Logs[0].Details["state"] != "ON" {
		t.Errorf("Details = %v", got.Logs[0].Details)
	}
	if got.Logs[0].EntityID != "0x1" || got.Logs[0].UserID != "u1" {
		t.Errorf("log = %+v", got.Logs[0])
	}
}
