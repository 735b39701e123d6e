package session

import "time"

const (
	// DefaultReconnectDelay applies after a retryable close of an
	// established or in-progress connection.
	DefaultReconnectDelay = 3 * time.Second
	// DefaultSetupRetryDelay applies when the transport fails to open.
	DefaultSetupRetryDelay = 5 * time.Second

	defaultEventBuffer = 256
)

// Config defines reconnect timing for the manager.
type Config struct {
	ReconnectDelay  time.Duration
	SetupRetryDelay time.Duration
	EventBuffer     int
}

func DefaultConfig() Config {
	return Config{
		ReconnectDelay:  DefaultReconnectDelay,
		SetupRetryDelay: DefaultSetupRetryDelay,
		EventBuffer:     defaultEventBuffer,
	}
}

// WithDefaults fills zero fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = d.ReconnectDelay
	}
	if c.SetupRetryDelay <= 0 {
		c.SetupRetryDelay = d.SetupRetryDelay
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = d.EventBuffer
	}
	return c
}
