package correlator

import (
	"fmt"
	"time"
)

// Config controls event completion timing.
type Config struct {
	// EventTimeout is how long a key may stay idle before the sweep
	// force-closes its event. Matches auditd's end_of_event_timeout.
	EventTimeout time.Duration `yaml:"event_timeout"`

	// SweepInterval is how often the sweep scans for idle events.
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// DefaultConfig returns the auditd-compatible defaults.
func DefaultConfig() Config {
	return Config{
		EventTimeout:  2 * time.Second,
		SweepInterval: 500 * time.Millisecond,
	}
}

// Validate checks the configuration for usable values.
func (c Config) Validate() error {
	if c.EventTimeout <= 0 {
		return fmt.Errorf("event_timeout must be positive, got %v", c.EventTimeout)
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("sweep_interval must be positive, got %v", c.SweepInterval)
	}
	if c.SweepInterval > c.EventTimeout {
		return fmt.Errorf("sweep_interval %v exceeds event_timeout %v", c.SweepInterval, c.EventTimeout)
	}
	return nil
}
