package pairing

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nerrad567/meshlab-core/internal/bridge"
	"github.com/nerrad567/meshlab-core/internal/device"
)

// Bridge is the part of the feed the coordinator drives. *bridge.Feed
// implements it.
type Bridge interface {
	PermitJoin(ctx context.Context, enable bool, duration time.Duration) error
	RequestDevices() error
}

// DeviceLookup answers whether the authoritative cache knows a device.
// *device.Cache implements it.
type DeviceLookup interface {
	Device(nameOrID string) (*device.Record, error)
}

// Notifier is told when a device is collected during a window.
type Notifier interface {
	NotifyDiscovered(d Discovered)
}

// Logger is the logging interface used by the coordinator.
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

type timer interface {
	Stop() bool
}

// Coordinator owns the pairing window state machine.
//
// Thread Safety: all methods are safe for concurrent use. No lock is held
// while publishing; instead a permit-join request in flight marks the
// coordinator as changing, and Start refuses to begin another until it
// lands, so the bridge sees opens and closes in order. HandleEvent never
// blocks on the bus, so it can run on the feed's delivery goroutine.
type Coordinator struct {
	bridge  Bridge
	devices DeviceLookup
	cfg     Config

	now       func() time.Time
	afterFunc func(d time.Duration, f func()) timer

	mu         sync.Mutex
	active     bool
	changing   bool
	closed     bool
	startedAt  time.Time
	expiresAt  time.Time
	timer      timer
	generation uint64
	discovered map[string]Discovered
	notifier   Notifier
	logger     Logger
}

// NewCoordinator creates an idle coordinator.
func NewCoordinator(b Bridge, devices DeviceLookup, cfg Config) *Coordinator {
	return &Coordinator{
		bridge:  b,
		devices: devices,
		cfg:     cfg.withDefaults(),
		now:     time.Now,
		afterFunc: func(d time.Duration, f func()) timer {
			return time.AfterFunc(d, f)
		},
		discovered: make(map[string]Discovered),
		logger:     noopLogger{},
	}
}

// SetLogger sets the logger for the coordinator.
func (c *Coordinator) SetLogger(logger Logger) {
	c.mu.Lock()
	c.logger = logger
	c.mu.Unlock()
}

// SetNotifier registers a receiver for discovered devices.
func (c *Coordinator) SetNotifier(n Notifier) {
	c.mu.Lock()
	c.notifier = n
	c.mu.Unlock()
}

// DefaultDuration is the window length used when a caller omits one.
func (c *Coordinator) DefaultDuration() time.Duration {
	return c.cfg.DefaultDuration
}

// Start opens a pairing window of the given length.
//
// The discovered set is cleared, the bridge is told to permit joins and a
// timer is armed that closes the window when it elapses.
//
// Returns:
//   - ErrInvalidDuration if duration is not in (0, MaxDuration]
//   - ErrPairingActive if a window is open, opening or closing
//   - ErrClosed after Close
//   - a wrapped bus error if the permit-join request could not be sent
func (c *Coordinator) Start(ctx context.Context, duration time.Duration) (Status, error) {
	if duration <= 0 || duration > c.cfg.MaxDuration {
		return Status{}, fmt.Errorf("%w: %s (max %s)", ErrInvalidDuration, duration, c.cfg.MaxDuration)
	}

	c.mu.Lock()
	switch {
	case c.closed:
		c.mu.Unlock()
		return Status{}, ErrClosed
	case c.active || c.changing:
		c.mu.Unlock()
		return Status{}, ErrPairingActive
	}
	c.changing = true
	c.mu.Unlock()

	err := c.bridge.PermitJoin(ctx, true, duration)

	now := c.now()
	c.mu.Lock()
	c.changing = false
	if err != nil {
		c.mu.Unlock()
		return Status{}, fmt.Errorf("opening pairing window: %w", err)
	}
	if c.closed {
		// The bridge's own permit-join timer ends the window on that side.
		c.mu.Unlock()
		return Status{}, ErrClosed
	}
	c.generation++
	gen := c.generation
	if c.timer != nil {
		c.timer.Stop()
	}
	c.active = true
	c.startedAt = now
	c.expiresAt = now.Add(duration)
	c.discovered = make(map[string]Discovered)
	c.timer = c.afterFunc(duration, func() { c.expire(gen) })
	logger := c.logger
	c.mu.Unlock()

	logger.Info("pairing started", "duration", duration, "expires_at", now.Add(duration))
	return c.Status(), nil
}

// Stop closes the window. It is idempotent: stopping an idle coordinator,
// or one whose window is still opening, does nothing. The discovered set is
// kept for review.
func (c *Coordinator) Stop(ctx context.Context) error {
	return c.stop(ctx, "stopped", 0)
}

// expire runs on the window timer. A timer from an earlier window finds a
// newer generation and does nothing.
func (c *Coordinator) expire(gen uint64) {
	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()

	if err := c.stop(ctx, "expired", gen); err != nil {
		c.log().Warn("closing expired pairing window", "error", err)
	}
}

// stop closes the current window. A non-zero gen limits it to that window.
func (c *Coordinator) stop(ctx context.Context, reason string, gen uint64) error {
	c.mu.Lock()
	if !c.active || (gen != 0 && gen != c.generation) {
		c.mu.Unlock()
		return nil
	}
	c.active = false
	c.changing = true
	c.generation++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	found := len(c.discovered)
	logger := c.logger
	c.mu.Unlock()

	logger.Info("pairing "+reason, "discovered", found)

	// The window is closed locally even when the bridge cannot be told;
	// the bridge's own permit-join timer ends it on that side.
	err := c.bridge.PermitJoin(ctx, false, 0)

	c.mu.Lock()
	c.changing = false
	c.mu.Unlock()

	if err != nil {
		return fmt.Errorf("closing pairing window: %w", err)
	}
	return nil
}

// HandleEvent implements bridge.EventHandler.
func (c *Coordinator) HandleEvent(ev bridge.Event) {
	c.mu.Lock()
	logger := c.logger
	id := ev.DeviceID()

	// A device that left is gone whether or not a window is open.
	if ev.Type == bridge.EventDeviceLeave {
		if _, ok := c.discovered[id]; ok {
			delete(c.discovered, id)
			c.mu.Unlock()
			logger.Info("discovered device left the network", "device_id", id)
			return
		}
		c.mu.Unlock()
		return
	}

	if !c.active {
		c.mu.Unlock()
		logger.Debug("bridge event outside pairing window", "event", ev.Name, "device_id", id)
		return
	}

	var added *Discovered
	switch ev.Type {
	case bridge.EventDeviceInterview:
		switch ev.Interview {
		case bridge.InterviewSuccessful:
			d := discoveredFrom(ev, c.now())
			c.discovered[d.ID] = d
			added = &d
		case bridge.InterviewStarted, bridge.InterviewFailed, bridge.InterviewNone:
			logger.Info("device interview", "device_id", id, "status", ev.Interview.String())
		}
	case bridge.EventDeviceJoined, bridge.EventDeviceAnnounce:
		logger.Info("device joining", "device_id", id, "event", ev.Name)
	case bridge.EventUnknown, bridge.EventDeviceLeave, bridge.EventBridgeOnline, bridge.EventBridgeOffline:
	}
	notifier := c.notifier
	c.mu.Unlock()

	if added != nil {
		logger.Info("device discovered", "device_id", added.ID, "model", added.Model, "supported", added.Supported)
		if notifier != nil {
			notifier.NotifyDiscovered(*added)
		}
	}
}

func discoveredFrom(ev bridge.Event, at time.Time) Discovered {
	d := Discovered{
		ID:           ev.DeviceID(),
		FriendlyName: ev.FriendlyName,
		Supported:    ev.Supported,
		Capabilities: []string{},
		DiscoveredAt: at,
	}
	if d.FriendlyName == "" {
		d.FriendlyName = d.ID
	}
	if def := ev.Definition; def != nil {
		d.Vendor = def.Vendor
		d.Model = def.Model
		d.Description = def.Description
		d.Capabilities = device.Capabilities(def.Exposes)
	}
	return d
}

// ConfirmDevice promotes a discovered device once the bridge lists it.
//
// It asks the bridge for a fresh device snapshot and polls the cache for up
// to the configured confirm wait. On success the device leaves the
// discovered set and its cache record is returned.
func (c *Coordinator) ConfirmDevice(ctx context.Context, id string) (*device.Record, error) {
	c.mu.Lock()
	_, ok := c.discovered[id]
	c.mu.Unlock()
	if !ok {
		return nil, ErrNotDiscovered
	}

	if err := c.bridge.RequestDevices(); err != nil {
		return nil, fmt.Errorf("refreshing device snapshot: %w", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, c.cfg.ConfirmWait)
	defer cancel()
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if rec, err := c.devices.Device(id); err == nil {
			c.mu.Lock()
			delete(c.discovered, id)
			logger := c.logger
			c.mu.Unlock()
			logger.Info("device confirmed", "device_id", id, "friendly_name", rec.FriendlyName)
			return rec, nil
		} else if !errors.Is(err, device.ErrDeviceNotFound) {
			return nil, err
		}

		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, ErrDeviceNotConfirmed
		case <-ticker.C:
		}
	}
}

// Discard drops a discovered device without confirming it.
func (c *Coordinator) Discard(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.discovered[id]; !ok {
		return ErrNotDiscovered
	}
	delete(c.discovered, id)
	return nil
}

// Status returns the current window and discovered devices, oldest first.
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := Status{Active: c.active, Discovered: make([]Discovered, 0, len(c.discovered))}
	if c.active {
		started, expires := c.startedAt, c.expiresAt
		st.StartedAt = &started
		st.ExpiresAt = &expires
		if remaining := expires.Sub(c.now()); remaining > 0 {
			st.Remaining = int(remaining.Round(time.Second) / time.Second)
		}
	}
	for _, d := range c.discovered {
		d.Capabilities = append([]string{}, d.Capabilities...)
		st.Discovered = append(st.Discovered, d)
	}
	sort.Slice(st.Discovered, func(i, j int) bool {
		a, b := st.Discovered[i], st.Discovered[j]
		if !a.DiscoveredAt.Equal(b.DiscoveredAt) {
			return a.DiscoveredAt.Before(b.DiscoveredAt)
		}
		return a.ID < b.ID
	})
	return st
}

// Close cancels the window timer without touching the bus. Used on shutdown;
// Start fails with ErrClosed afterwards.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.generation++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.active = false
}

func (c *Coordinator) log() Logger {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.logger
}
