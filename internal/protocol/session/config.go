package session

import "time"

// BackoffConfig shapes link-open retries. The delay doubles from InitialDelay
// up to MaxDelay, plus a random spread of up to MaxJitter.
type BackoffConfig struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	MaxJitter    time.Duration
}

// Config defines link and command timing defaults.
type Config struct {
	// AckTimeout is the protocol-level deadline for one request/ACK round trip.
	AckTimeout time.Duration
	// FollowUpTimeout bounds the wait for a status frame after the ACK of a blocking MFIO call.
	FollowUpTimeout time.Duration
	// PollInterval is how often monitored actions sample telemetry.
	PollInterval time.Duration
	// ActionStartWindow bounds CheckActionStarted.
	ActionStartWindow time.Duration
	LinkOpenAttempts  uint
	Backoff           BackoffConfig
}

func DefaultConfig() Config {
	return Config{
		AckTimeout:        time.Second,
		FollowUpTimeout:   5 * time.Second,
		PollInterval:      100 * time.Millisecond,
		ActionStartWindow: 2 * time.Second,
		LinkOpenAttempts:  5,
		Backoff: BackoffConfig{
			InitialDelay: 250 * time.Millisecond,
			MaxDelay:     5 * time.Second,
			MaxJitter:    100 * time.Millisecond,
		},
	}
}

// WithDefaults fills zero-valued fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.AckTimeout <= 0 {
		c.AckTimeout = d.AckTimeout
	}
	if c.FollowUpTimeout <= 0 {
		c.FollowUpTimeout = d.FollowUpTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.ActionStartWindow <= 0 {
		c.ActionStartWindow = d.ActionStartWindow
	}
	if c.LinkOpenAttempts == 0 {
		c.LinkOpenAttempts = d.LinkOpenAttempts
	}
	if c.Backoff.InitialDelay <= 0 {
		c.Backoff = d.Backoff
	}
	return c
}
