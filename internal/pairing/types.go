package pairing

import "time"

// Discovered is a device that completed its interview during a pairing
// window and is waiting for operator confirmation.
type Discovered struct {
	ID           string    `json:"ieee_address"`
	FriendlyName string    `json:"friendly_name"`
	Vendor       string    `json:"vendor,omitempty"`
	Model        string    `json:"model,omitempty"`
	Description  string    `json:"description,omitempty"`
	Supported    bool      `json:"supported"`
	Capabilities []string  `json:"capabilities"`
	DiscoveredAt time.Time `json:"discovered_at"`
}

// Status is a point-in-time view of the coordinator.
type Status struct {
	Active     bool         `json:"active"`
	StartedAt  *time.Time   `json:"started_at,omitempty"`
	ExpiresAt  *time.Time   `json:"expires_at,omitempty"`
	Remaining  int          `json:"remaining_seconds"`
	Discovered []Discovered `json:"discovered"`
}

// Config bounds pairing windows and confirmation.
type Config struct {
	DefaultDuration time.Duration
	MaxDuration     time.Duration
	ConfirmWait     time.Duration
	PollInterval    time.Duration
}

const (
	defaultDuration     = 120 * time.Second
	defaultMaxDuration  = 254 * time.Second
	defaultConfirmWait  = 5 * time.Second
	defaultPollInterval = 250 * time.Millisecond

	// stopTimeout bounds the permit-join publish made when a window expires.
	stopTimeout = 10 * time.Second
)

func (c Config) withDefaults() Config {
	if c.DefaultDuration <= 0 {
		c.DefaultDuration = defaultDuration
	}
	if c.MaxDuration <= 0 {
		c.MaxDuration = defaultMaxDuration
	}
	if c.ConfirmWait <= 0 {
		c.ConfirmWait = defaultConfirmWait
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	return c
}
