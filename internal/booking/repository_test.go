package booking

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/nerrad567/meshlab-core/internal/infrastructure/database"
	"github.com/nerrad567/meshlab-core/migrations"
)

// setupBookingDB opens a migrated SQLite database in a temp dir.
func setupBookingDB(t *testing.T) *database.DB {
	t.Helper()
	ctx := context.Background()

	db, err := database.Open(ctx, database.Config{Path: filepath.Join(t.TempDir(), "meshlab.db")})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Migrate(ctx, migrations.FS); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return db
}

func at(hour, minute int) time.Time {
	return time.Date(2026, 3, 2, hour, minute, 0, 0, time.UTC)
}

func TestSQLiteRepository_InsertAndGet(t *testing.T) {
	repo := NewSQLiteRepository(setupBookingDB(t).DB)
	ctx := context.Background()

	b := &Booking{ID: "b1", DeviceID: "0x1", UserID: "u1", Start: at(10, 0), End: at(11, 0), Purpose: "lab 3"}
	if err := repo.InsertBooking(ctx, b); err != nil {
		t.Fatalf("InsertBooking() error = %v", err)
	}

	got, err := repo.GetBooking(ctx, "b1")
	if err != nil {
		t.Fatalf("GetBooking() error = %v", err)
	}
	if !got.Start.Equal(at(10, 0)) || !got.End.Equal(at(11, 0)) {
		t.Errorf("interval = [%v, %v)", got.Start, got.End)
	}
	if got.Status != StatusActive || got.Purpose != "lab 3" || got.CreatedAt.IsZero() {
		t.Errorf("GetBooking() = %+v", got)
	}

	if _, err := repo.GetBooking(ctx, "missing"); !errors.Is(err, ErrBookingNotFound) {
		t.Errorf("GetBooking(missing) error = %v, want ErrBookingNotFound", err)
	}
}

func TestSQLiteRepository_RejectsInvertedInterval(t *testing.T) {
	repo := NewSQLiteRepository(setupBookingDB(t).DB)

	err := repo.InsertBooking(context.Background(), &Booking{ID: "b1", DeviceID: "0x1", UserID: "u1", Start: at(11, 0), End: at(10, 0)})
	if err == nil {
		t.Error("InsertBooking() accepted start after end")
	}
}

func TestSQLiteRepository_ActiveForDeviceOrdered(t *testing.T) {
	repo := NewSQLiteRepository(setupBookingDB(t).DB)
	ctx := context.Background()

	for _, b := range []*Booking{
		{ID: "late", DeviceID: "0x1", UserID: "u1", Start: at(14, 0), End: at(15, 0)},
		{ID: "early", DeviceID: "0x1", UserID: "u2", Start: at(10, 0), End: at(11, 0)},
		{ID: "other", DeviceID: "0x2", UserID: "u1", Start: at(10, 0), End: at(11, 0)},
		{ID: "done", DeviceID: "0x1", UserID: "u1", Start: at(8, 0), End: at(9, 0), Status: StatusCompleted},
	} {
		if err := repo.InsertBooking(ctx, b); err != nil {
			t.Fatalf("InsertBooking(%s) error = %v", b.ID, err)
		}
	}

	got, err := repo.GetActiveBookingsForDevice(ctx, "0x1")
	if err != nil {
		t.Fatalf("GetActiveBookingsForDevice() error = %v", err)
	}
	if len(got) != 2 || got[0].ID != "early" || got[1].ID != "late" {
		t.Errorf("active = %+v, want [early late]", got)
	}

	mine, err := repo.GetBookingsForUser(ctx, "u1")
	if err != nil {
		t.Fatalf("GetBookingsForUser() error = %v", err)
	}
	if len(mine) != 3 || mine[0].ID != "late" {
		t.Errorf("user bookings = %d, first = %q", len(mine), mine[0].ID)
	}

	none, err := repo.GetActiveBookingsForDevice(ctx, "0x9")
	if err != nil || none == nil || len(none) != 0 {
		t.Errorf("no bookings = %#v, %v, want empty slice", none, err)
	}
}

func TestSQLiteRepository_UpdateFieldsCompareAndSwap(t *testing.T) {
	repo := NewSQLiteRepository(setupBookingDB(t).DB)
	ctx := context.Background()
	if err := repo.InsertBooking(ctx, &Booking{ID: "b1", DeviceID: "0x1", UserID: "u1", Start: at(10, 0), End: at(11, 0)}); err != nil {
		t.Fatal(err)
	}

	end := at(12, 0)
	purpose := "extended"
	ok, err := repo.UpdateBookingFields(ctx, "b1", StatusActive, Fields{End: &end, Purpose: &purpose})
	if err != nil || !ok {
		t.Fatalf("UpdateBookingFields() = %v, %v", ok, err)
	}

	completed := StatusCompleted
	if ok, err := repo.UpdateBookingFields(ctx, "b1", StatusActive, Fields{Status: &completed}); err != nil || !ok {
		t.Fatalf("complete = %v, %v", ok, err)
	}

	// Status has moved on; a second swap from active loses.
	cancelled := StatusCancelled
	ok, err = repo.UpdateBookingFields(ctx, "b1", StatusActive, Fields{Status: &cancelled})
	if err != nil || ok {
		t.Errorf("stale swap = %v, %v, want false, nil", ok, err)
	}

	got, _ := repo.GetBooking(ctx, "b1")
	if got.Status != StatusCompleted || !got.End.Equal(end) || got.Purpose != "extended" {
		t.Errorf("booking = %+v", got)
	}

	if _, err := repo.UpdateBookingFields(ctx, "missing", StatusActive, Fields{Status: &cancelled}); !errors.Is(err, ErrBookingNotFound) {
		t.Errorf("missing row error = %v, want ErrBookingNotFound", err)
	}
}

func TestSQLiteRepository_ListExpiredActive(t *testing.T) {
	repo := NewSQLiteRepository(setupBookingDB(t).DB)
	ctx := context.Background()
	for _, b := range []*Booking{
		{ID: "ended", DeviceID: "0x1", UserID: "u1", Start: at(9, 0), End: at(10, 0)},
		{ID: "boundary", DeviceID: "0x1", UserID: "u1", Start: at(10, 0), End: at(10, 30)},
		{ID: "running", DeviceID: "0x1", UserID: "u1", Start: at(10, 30), End: at(11, 0)},
		{ID: "cancelled", DeviceID: "0x2", UserID: "u1", Start: at(8, 0), End: at(9, 0), Status: StatusCancelled},
	} {
		if err := repo.InsertBooking(ctx, b); err != nil {
			t.Fatal(err)
		}
	}

	got, err := repo.ListExpiredActive(ctx, at(10, 30))
	if err != nil {
		t.Fatalf("ListExpiredActive() error = %v", err)
	}
	if len(got) != 2 || got[0].ID != "ended" || got[1].ID != "boundary" {
		t.Errorf("expired = %+v, want [ended boundary]", got)
	}
}

func TestFormatTimeOrdersAsText(t *testing.T) {
	a := formatTime(time.Date(2026, 3, 2, 9, 59, 59, 999_000_000, time.UTC))
	b := formatTime(time.Date(2026, 3, 2, 10, 0, 0, 0, time.FixedZone("CET", 3600)))
	if !(a > b) {
		// b is 09:00 UTC.
		t.Errorf("%q should sort after %q", a, b)
	}
	if len(a) != len(b) {
		t.Errorf("layout is not fixed width: %q vs %q", a, b)
	}
}
