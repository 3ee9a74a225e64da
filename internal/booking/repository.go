package booking

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// timeLayout is fixed width so text comparison in SQL matches time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Fields are the columns UpdateBookingFields may change; nil leaves a
// column as it is.
type Fields struct {
	Start   *time.Time
	End     *time.Time
	Purpose *string
	Status  *Status
}

// Repository persists bookings.
type Repository interface {
	GetBooking(ctx context.Context, id string) (*Booking, error)

	// GetActiveBookingsForDevice returns active bookings ordered by start.
	GetActiveBookingsForDevice(ctx context.Context, deviceID string) ([]Booking, error)

	// GetBookingsForUser returns all of a user's bookings, newest start first.
	GetBookingsForUser(ctx context.Context, userID string) ([]Booking, error)

	InsertBooking(ctx context.Context, b *Booking) error

	// UpdateBookingFields applies fields only if the row's status still
	// equals expected. It returns false when the row was not updated
	// because the status moved on, and ErrBookingNotFound if there is no row.
	UpdateBookingFields(ctx context.Context, id string, expected Status, fields Fields) (bool, error)

	// ListExpiredActive returns active bookings with end <= now.
	ListExpiredActive(ctx context.Context, now time.Time) ([]Booking, error)
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteRepository creates a repository over the bookings table.
//
// Security: Uses parameterised SQL queries to prevent injection.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db, now: time.Now}
}

const bookingColumns = `id, device_id, user_id, start_at, end_at, purpose, status, created_at, updated_at`

// GetBooking retrieves a booking by ID.
func (r *SQLiteRepository) GetBooking(ctx context.Context, id string) (*Booking, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = ?`, id)
	b, err := scanBooking(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrBookingNotFound
		}
		return nil, fmt.Errorf("querying booking: %w", err)
	}
	return b, nil
}

// GetActiveBookingsForDevice retrieves a device's active bookings.
func (r *SQLiteRepository) GetActiveBookingsForDevice(ctx context.Context, deviceID string) ([]Booking, error) {
	return r.query(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE device_id = ? AND status = 'active'
		ORDER BY start_at, id`, deviceID)
}

// GetBookingsForUser retrieves every booking a user made.
func (r *SQLiteRepository) GetBookingsForUser(ctx context.Context, userID string) ([]Booking, error) {
	return r.query(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE user_id = ?
		ORDER BY start_at DESC, id`, userID)
}

// ListExpiredActive retrieves active bookings whose end has passed.
func (r *SQLiteRepository) ListExpiredActive(ctx context.Context, now time.Time) ([]Booking, error) {
	return r.query(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE status = 'active' AND end_at <= ?
		ORDER BY end_at, id`, formatTime(now))
}

// InsertBooking stores a new booking. CreatedAt and UpdatedAt are set if zero.
func (r *SQLiteRepository) InsertBooking(ctx context.Context, b *Booking) error {
	now := r.now().UTC()
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	if b.UpdatedAt.IsZero() {
		b.UpdatedAt = b.CreatedAt
	}
	if b.Status == "" {
		b.Status = StatusActive
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO bookings (`+bookingColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID,
		b.DeviceID,
		b.UserID,
		formatTime(b.Start),
		formatTime(b.End),
		nullableString(b.Purpose),
		string(b.Status),
		formatTime(b.CreatedAt),
		formatTime(b.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting booking: %w", err)
	}
	return nil
}

// UpdateBookingFields performs a compare-and-swap update on status.
func (r *SQLiteRepository) UpdateBookingFields(ctx context.Context, id string, expected Status, fields Fields) (bool, error) {
	set := "updated_at = ?"
	args := []any{formatTime(r.now())}
	if fields.Start != nil {
		set += ", start_at = ?"
		args = append(args, formatTime(*fields.Start))
	}
	if fields.End != nil {
		set += ", end_at = ?"
		args = append(args, formatTime(*fields.End))
	}
	if fields.Purpose != nil {
		set += ", purpose = ?"
		args = append(args, nullableString(*fields.Purpose))
	}
	if fields.Status != nil {
		set += ", status = ?"
		args = append(args, string(*fields.Status))
	}
	args = append(args, id, string(expected))

	result, err := r.db.ExecContext(ctx,
		`UPDATE bookings SET `+set+` WHERE id = ? AND status = ?`, args...)
	if err != nil {
		return false, fmt.Errorf("updating booking: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking rows affected: %w", err)
	}
	if affected > 0 {
		return true, nil
	}

	var exists int
	err = r.db.QueryRowContext(ctx, `SELECT 1 FROM bookings WHERE id = ?`, id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, ErrBookingNotFound
	}
	if err != nil {
		return false, fmt.Errorf("querying booking: %w", err)
	}
	return false, nil
}

func (r *SQLiteRepository) query(ctx context.Context, query string, args ...any) ([]Booking, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying bookings: %w", err)
	}
	defer rows.Close()

	bookings := []Booking{}
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning booking: %w", err)
		}
		bookings = append(bookings, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating bookings: %w", err)
	}
	return bookings, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBooking(row rowScanner) (*Booking, error) {
	var (
		b                    Booking
		purpose              sql.NullString
		status               string
		start, end           string
		createdAt, updatedAt string
	)
	if err := row.Scan(&b.ID, &b.DeviceID, &b.UserID, &start, &end, &purpose, &status, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	b.Purpose = purpose.String
	b.Status = Status(status)

	for _, f := range []struct {
		dst *time.Time
		src string
		col string
	}{
		{&b.Start, start, "start_at"},
		{&b.End, end, "end_at"},
		{&b.CreatedAt, createdAt, "created_at"},
		{&b.UpdatedAt, updatedAt, "updated_at"},
	} {
		t, err := time.Parse(timeLayout, f.src)
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", f.col, err)
		}
		*f.dst = t
	}
	return &b, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// nullableString maps empty strings to NULL for optional TEXT columns.
func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
