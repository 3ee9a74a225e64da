package booking

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DeviceChecker reports whether a device exists. *device.Cache implements it.
type DeviceChecker interface {
	HasDevice(nameOrID string) bool
}

// Notifier is told about booking changes after they are persisted. It is
// called outside every scheduler lock and must not block.
type Notifier interface {
	NotifyBooking(action Action, b Booking)
}

// Logger is the logging interface used by the scheduler.
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

// Scheduler owns every device's reservation timeline.
//
// Thread Safety: all methods are safe for concurrent use. Writes that
// depend on a device's timeline hold that device's lock; reads do not.
type Scheduler struct {
	repo  Repository
	locks *keyedMutex
	now   func() time.Time

	mu        sync.RWMutex
	devices   DeviceChecker
	notifiers []Notifier
	logger    Logger
}

// NewScheduler creates a scheduler over repo.
func NewScheduler(repo Repository) *Scheduler {
	return &Scheduler{
		repo:   repo,
		locks:  newKeyedMutex(),
		now:    time.Now,
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the scheduler.
func (s *Scheduler) SetLogger(logger Logger) {
	s.mu.Lock()
	s.logger = logger
	s.mu.Unlock()
}

// SetDeviceChecker makes CreateBooking reject devices the checker does not know.
func (s *Scheduler) SetDeviceChecker(c DeviceChecker) {
	s.mu.Lock()
	s.devices = c
	s.mu.Unlock()
}

// AddNotifier registers a receiver for booking changes.
func (s *Scheduler) AddNotifier(n Notifier) {
	s.mu.Lock()
	s.notifiers = append(s.notifiers, n)
	s.mu.Unlock()
}

// IsAvailable reports whether no active booking on deviceID overlaps
// [start, end), ignoring the booking with ID excludeID.
func (s *Scheduler) IsAvailable(ctx context.Context, deviceID string, start, end time.Time, excludeID string) (bool, error) {
	conflict, err := s.findConflict(ctx, deviceID, start, end, excludeID)
	if err != nil {
		return false, err
	}
	return conflict == nil, nil
}

func (s *Scheduler) findConflict(ctx context.Context, deviceID string, start, end time.Time, excludeID string) (*Booking, error) {
	active, err := s.repo.GetActiveBookingsForDevice(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	for i := range active {
		if active[i].ID == excludeID {
			continue
		}
		if active[i].Overlaps(start, end) {
			return &active[i], nil
		}
	}
	return nil, nil
}

// CreateBooking reserves a device.
//
// Input is validated before any shared state is touched. The availability
// check and the insert then run under the device's lock, so of several
// concurrent requests for overlapping windows exactly one succeeds.
//
// Returns:
//   - ErrInvalidBooking if device or user is missing or purpose is too long
//   - ErrInvalidInterval if start >= end
//   - ErrStartInPast if start < now
//   - ErrUnknownDevice if a device checker is set and does not know the device
//   - *ConflictError if an active booking overlaps
func (s *Scheduler) CreateBooking(ctx context.Context, req CreateRequest) (*Booking, error) {
	now := s.now()
	req.Purpose = normalisePurpose(req.Purpose)
	if err := s.validateCreate(req, now); err != nil {
		return nil, err
	}

	b := &Booking{
		ID:        uuid.NewString(),
		DeviceID:  req.DeviceID,
		UserID:    req.UserID,
		Start:     req.Start.UTC(),
		End:       req.End.UTC(),
		Purpose:   req.Purpose,
		Status:    StatusActive,
		CreatedAt: now.UTC(),
		UpdatedAt: now.UTC(),
	}

	unlock := s.locks.lock(b.DeviceID)
	conflict, err := s.findConflict(ctx, b.DeviceID, b.Start, b.End, "")
	if err == nil && conflict != nil {
		err = &ConflictError{Existing: *conflict}
	}
	if err == nil {
		err = s.repo.InsertBooking(ctx, b)
	}
	unlock()
	if err != nil {
		return nil, err
	}

	s.log().Info("booking created", "booking_id", b.ID, "device_id", b.DeviceID, "user_id", b.UserID,
		"start", b.Start, "end", b.End)
	s.notify(ActionCreated, *b)
	return b, nil
}

func (s *Scheduler) validateCreate(req CreateRequest, now time.Time) error {
	if req.DeviceID == "" {
		return fmt.Errorf("%w: device_id is required", ErrInvalidBooking)
	}
	if req.UserID == "" {
		return fmt.Errorf("%w: user is required", ErrInvalidBooking)
	}
	if len(req.Purpose) > maxPurposeLength {
		return fmt.Errorf("%w: purpose exceeds %d characters", ErrInvalidBooking, maxPurposeLength)
	}
	if !req.Start.Before(req.End) {
		return ErrInvalidInterval
	}
	if req.Start.Before(now) {
		return ErrStartInPast
	}

	s.mu.RLock()
	devices := s.devices
	s.mu.RUnlock()
	if devices != nil && !devices.HasDevice(req.DeviceID) {
		return fmt.Errorf("%w: %s", ErrUnknownDevice, req.DeviceID)
	}
	return nil
}

// UpdateBooking edits an active booking owned by the actor, or any active
// booking when the actor is privileged. Moving the interval re-runs the
// availability check, excluding the booking itself, under the device lock.
func (s *Scheduler) UpdateBooking(ctx context.Context, id string, actor Actor, patch Patch) (*Booking, error) {
	if patch.empty() {
		return nil, fmt.Errorf("%w: nothing to update", ErrInvalidBooking)
	}
	if patch.Purpose != nil {
		p := normalisePurpose(*patch.Purpose)
		if len(p) > maxPurposeLength {
			return nil, fmt.Errorf("%w: purpose exceeds %d characters", ErrInvalidBooking, maxPurposeLength)
		}
		patch.Purpose = &p
	}

	current, err := s.repo.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.canManage(current) {
		return nil, ErrForbidden
	}

	unlock := s.locks.lock(current.DeviceID)
	updated, err := s.updateLocked(ctx, id, patch)
	unlock()
	if err != nil {
		return nil, err
	}

	s.log().Info("booking updated", "booking_id", id, "device_id", updated.DeviceID, "actor", actor.UserID)
	s.notify(ActionUpdated, *updated)
	return updated, nil
}

// updateLocked must be called with the booking's device lock held.
func (s *Scheduler) updateLocked(ctx context.Context, id string, patch Patch) (*Booking, error) {
	// Re-read under the lock: the sweeper or a cancel may have won.
	b, err := s.repo.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.Status != StatusActive {
		return nil, ErrNotActive
	}

	fields := Fields{Purpose: patch.Purpose}
	if patch.changesInterval() {
		now := s.now()
		start, end := b.Start, b.End
		if patch.Start != nil {
			start = patch.Start.UTC()
			if start.Before(now) && !start.Equal(b.Start) {
				return nil, ErrStartInPast
			}
			fields.Start = &start
		}
		if patch.End != nil {
			end = patch.End.UTC()
			fields.End = &end
		}
		if !start.Before(end) {
			return nil, ErrInvalidInterval
		}
		if !end.After(now) {
			return nil, ErrAlreadyEnded
		}

		conflict, err := s.findConflict(ctx, b.DeviceID, start, end, b.ID)
		if err != nil {
			return nil, err
		}
		if conflict != nil {
			return nil, &ConflictError{Existing: *conflict}
		}
		b.Start, b.End = start, end
	}
	if patch.Purpose != nil {
		b.Purpose = *patch.Purpose
	}

	ok, err := s.repo.UpdateBookingFields(ctx, id, StatusActive, fields)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotActive
	}
	b.UpdatedAt = s.now().UTC()
	return b, nil
}

// CancelBooking cancels an active booking that has not yet ended. The
// owner or a privileged actor may cancel.
func (s *Scheduler) CancelBooking(ctx context.Context, id string, actor Actor) (*Booking, error) {
	b, err := s.repo.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.canManage(b) {
		return nil, ErrForbidden
	}
	if b.Status != StatusActive {
		return nil, ErrNotActive
	}
	now := s.now()
	if !b.End.After(now) {
		return nil, ErrAlreadyEnded
	}

	cancelled := StatusCancelled
	ok, err := s.repo.UpdateBookingFields(ctx, id, StatusActive, Fields{Status: &cancelled})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotActive
	}
	b.Status = StatusCancelled
	b.UpdatedAt = now.UTC()

	s.log().Info("booking cancelled", "booking_id", id, "device_id", b.DeviceID, "actor", actor.UserID)
	s.notify(ActionCancelled, *b)
	return b, nil
}

// GetBooking returns one booking.
func (s *Scheduler) GetBooking(ctx context.Context, id string) (*Booking, error) {
	return s.repo.GetBooking(ctx, id)
}

// GetUserBookings returns every booking the user made.
func (s *Scheduler) GetUserBookings(ctx context.Context, userID string) ([]Booking, error) {
	return s.repo.GetBookingsForUser(ctx, userID)
}

// GetQueue returns the device's active bookings that have not ended,
// ascending by start.
func (s *Scheduler) GetQueue(ctx context.Context, deviceID string) ([]Booking, error) {
	active, err := s.repo.GetActiveBookingsForDevice(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	queue := make([]Booking, 0, len(active))
	for _, b := range active {
		if b.End.After(now) {
			queue = append(queue, b)
		}
	}
	sort.SliceStable(queue, func(i, j int) bool { return queue[i].Start.Before(queue[j].Start) })
	return queue, nil
}

// GetAvailability summarises a device at the current instant. The current
// booking is the one containing now; NextAvailable is its end, else the
// start of the earliest future booking, else nil.
func (s *Scheduler) GetAvailability(ctx context.Context, deviceID string) (*Availability, error) {
	queue, err := s.GetQueue(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	now := s.now()

	a := &Availability{DeviceID: deviceID, IsAvailable: true, QueueLength: len(queue)}
	for i := range queue {
		if queue[i].Contains(now) {
			current := queue[i]
			end := current.End
			a.IsAvailable = false
			a.CurrentBooking = &current
			a.NextAvailable = &end
			return a, nil
		}
	}
	if len(queue) > 0 {
		next := queue[0].Start
		a.NextAvailable = &next
	}
	return a, nil
}

// CurrentHolder returns the user holding the device right now, if any.
func (s *Scheduler) CurrentHolder(ctx context.Context, deviceID string) (string, bool, error) {
	a, err := s.GetAvailability(ctx, deviceID)
	if err != nil {
		return "", false, err
	}
	if a.CurrentBooking == nil {
		return "", false, nil
	}
	return a.CurrentBooking.UserID, true, nil
}

// SweepExpired completes every active booking whose end is at or before
// now. Each flip is a compare-and-swap from active under the device lock,
// so a concurrent edit or cancel is never overwritten. It returns how many
// bookings were completed; a second call right after changes nothing.
func (s *Scheduler) SweepExpired(ctx context.Context) (int, error) {
	now := s.now()
	expired, err := s.repo.ListExpiredActive(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("listing expired bookings: %w", err)
	}

	completed := 0
	for _, candidate := range expired {
		if err := ctx.Err(); err != nil {
			return completed, err
		}
		b, ok, err := s.complete(ctx, candidate, now)
		if err != nil {
			s.log().Warn("completing booking failed", "booking_id", candidate.ID, "error", err)
			continue
		}
		if ok {
			completed++
			s.notify(ActionCompleted, *b)
		}
	}
	if completed > 0 {
		s.log().Info("expired bookings completed", "count", completed)
	}
	return completed, nil
}

func (s *Scheduler) complete(ctx context.Context, candidate Booking, now time.Time) (*Booking, bool, error) {
	unlock := s.locks.lock(candidate.DeviceID)
	defer unlock()

	b, err := s.repo.GetBooking(ctx, candidate.ID)
	if err != nil {
		return nil, false, err
	}
	// An edit may have extended it since it was listed.
	if b.Status != StatusActive || b.End.After(now) {
		return nil, false, nil
	}

	done := StatusCompleted
	ok, err := s.repo.UpdateBookingFields(ctx, b.ID, StatusActive, Fields{Status: &done})
	if err != nil || !ok {
		return nil, false, err
	}
	b.Status = StatusCompleted
	b.UpdatedAt = now.UTC()
	return b, true, nil
}

// RunSweeper calls SweepExpired every interval until ctx is done. It sweeps
// once immediately so bookings that ended while the process was down are
// completed at startup.
func (s *Scheduler) RunSweeper(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := s.SweepExpired(ctx); err != nil && ctx.Err() == nil {
			s.log().Error("booking sweep failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) notify(action Action, b Booking) {
	s.mu.RLock()
	notifiers := append([]Notifier(nil), s.notifiers...)
	s.mu.RUnlock()
	for _, n := range notifiers {
		n.NotifyBooking(action, b)
	}
}

func (s *Scheduler) log() Logger {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.logger
}
