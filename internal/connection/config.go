package connection

import (
	"time"

	"github.com/danmuck/mavwire/internal/protocol"
	"github.com/danmuck/mavwire/internal/signing"
)

// BackoffConfig defines reconnect retry behavior.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// Config defines link timeouts and reconnect policy.
type Config struct {
	ConnectTimeout time.Duration
	// ReadTimeout bounds one Recv call; Recv then fails with a timeout error
	// the caller may retry. Zero waits for the context only.
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Version      protocol.Version
	Backoff      BackoffConfig
	// MaxConnectAttempts of zero retries until the context ends.
	MaxConnectAttempts int

	Signer    protocol.Signer
	Validator signing.Validator
}

func DefaultConfig() Config {
	return Config{
		ConnectTimeout: 5 * time.Second,
		ReadTimeout:    100 * time.Millisecond,
		WriteTimeout:   time.Second,
		Version:        protocol.V2,
		Backoff: BackoffConfig{
			InitialDelay: 250 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     5 * time.Second,
			Jitter:       true,
		},
		MaxConnectAttempts: 5,
	}
}

// WithDefaults fills zero fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = def.ConnectTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.Version == 0 {
		c.Version = def.Version
	}
	if c.Backoff.InitialDelay <= 0 {
		c.Backoff = def.Backoff
	}
	return c
}
