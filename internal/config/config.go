// Package config loads mavctl settings from TOML. Keys that are absent keep
// their defaults.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/danmuck/mavwire/internal/connection"
	"github.com/danmuck/mavwire/internal/protocol"
	"github.com/danmuck/mavwire/internal/signing"
)

type LinkConfig struct {
	Address        string
	SystemID       uint8
	ComponentID    uint8
	Version        protocol.Version
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
}

type ReconnectConfig struct {
	Backoff     connection.BackoffConfig
	MaxAttempts int
}

type SigningConfig struct {
	// Key is 64 hex characters; Passphrase derives one when Key is empty.
	Key           string
	Passphrase    string
	LinkID        uint8
	SignOutgoing  bool
	Verify        bool
	AllowUnsigned bool
}

type MetricsConfig struct {
	Listen string
}

type CaptureConfig struct {
	Path string
}

type RelayConfig struct {
	Listen   string
	MaxPeers int
}

type Config struct {
	Link      LinkConfig
	Reconnect ReconnectConfig
	Signing   SigningConfig
	Metrics   MetricsConfig
	Capture   CaptureConfig
	Relay     RelayConfig
	LogLevel  string
}

func Default() Config {
	conn := connection.DefaultConfig()
	return Config{
		Link: LinkConfig{
			SystemID:       255,
			ComponentID:    190,
			Version:        protocol.V2,
			ConnectTimeout: conn.ConnectTimeout,
			ReadTimeout:    conn.ReadTimeout,
			WriteTimeout:   conn.WriteTimeout,
		},
		Reconnect: ReconnectConfig{
			Backoff:     conn.Backoff,
			MaxAttempts: conn.MaxConnectAttempts,
		},
		Signing:  SigningConfig{AllowUnsigned: true},
		Metrics:  MetricsConfig{Listen: "127.0.0.1:9464"},
		Relay:    RelayConfig{Listen: "127.0.0.1:5760", MaxPeers: 32},
		LogLevel: "info",
	}
}

type fileConfig struct {
	LogLevel string `toml:"log_level"`
	Link     struct {
		Address         string `toml:"address"`
		SystemID        int    `toml:"system_id"`
		ComponentID     int    `toml:"component_id"`
		ProtocolVersion string `toml:"protocol_version"`
		ConnectTimeout  string `toml:"connect_timeout"`
		ReadTimeout     string `toml:"read_timeout"`
		WriteTimeout    string `toml:"write_timeout"`
	} `toml:"link"`
	Reconnect struct {
		InitialDelay string  `toml:"initial_delay"`
		Multiplier   float64 `toml:"multiplier"`
		MaxDelay     string  `toml:"max_delay"`
		Jitter       bool    `toml:"jitter"`
		MaxAttempts  int     `toml:"max_attempts"`
	} `toml:"reconnect"`
	Signing struct {
		Key           string `toml:"key"`
		Passphrase    string `toml:"passphrase"`
		LinkID        int    `toml:"link_id"`
		SignOutgoing  bool   `toml:"sign_outgoing"`
		Verify        bool   `toml:"verify"`
		AllowUnsigned bool   `toml:"allow_unsigned"`
	} `toml:"signing"`
	Metrics struct {
		Listen string `toml:"listen"`
	} `toml:"metrics"`
	Capture struct {
		Path string `toml:"path"`
	} `toml:"capture"`
	Relay struct {
		Listen   string `toml:"listen"`
		MaxPeers int    `toml:"max_peers"`
	} `toml:"relay"`
}

// Load reads path over Default and validates the result.
func Load(path string) (Config, error) {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	cfg, err := apply(Default(), raw, meta)
	if err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	if err := Validate(cfg); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Decode is Load for an in-memory document.
func Decode(doc string) (Config, error) {
	var raw fileConfig
	meta, err := toml.Decode(doc, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("config parse failed: %w", err)
	}
	cfg, err := apply(Default(), raw, meta)
	if err != nil {
		return Config{}, err
	}
	return cfg, Validate(cfg)
}

func apply(cfg Config, raw fileConfig, meta toml.MetaData) (Config, error) {
	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}

	if meta.IsDefined("link", "address") {
		cfg.Link.Address = strings.TrimSpace(raw.Link.Address)
	}
	if meta.IsDefined("link", "system_id") {
		if raw.Link.SystemID < 1 || raw.Link.SystemID > 255 {
			return cfg, fmt.Errorf("link.system_id %d out of range 1..255", raw.Link.SystemID)
		}
		cfg.Link.SystemID = uint8(raw.Link.SystemID)
	}
	if meta.IsDefined("link", "component_id") {
		if raw.Link.ComponentID < 0 || raw.Link.ComponentID > 255 {
			return cfg, fmt.Errorf("link.component_id %d out of range 0..255", raw.Link.ComponentID)
		}
		cfg.Link.ComponentID = uint8(raw.Link.ComponentID)
	}
	if meta.IsDefined("link", "protocol_version") {
		v, err := protocol.ParseVersion(strings.TrimSpace(raw.Link.ProtocolVersion))
		if err != nil {
			return cfg, fmt.Errorf("link.protocol_version: %w", err)
		}
		cfg.Link.Version = v
	}
	durations := []struct {
		key  string
		raw  string
		dest *time.Duration
	}{
		{"connect_timeout", raw.Link.ConnectTimeout, &cfg.Link.ConnectTimeout},
		{"read_timeout", raw.Link.ReadTimeout, &cfg.Link.ReadTimeout},
		{"write_timeout", raw.Link.WriteTimeout, &cfg.Link.WriteTimeout},
	}
	for _, d := range durations {
		if !meta.IsDefined("link", d.key) {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return cfg, fmt.Errorf("parse link.%s: %w", d.key, err)
		}
		*d.dest = v
	}

	if meta.IsDefined("reconnect", "initial_delay") {
		v, err := time.ParseDuration(strings.TrimSpace(raw.Reconnect.InitialDelay))
		if err != nil {
			return cfg, fmt.Errorf("parse reconnect.initial_delay: %w", err)
		}
		cfg.Reconnect.Backoff.InitialDelay = v
	}
	if meta.IsDefined("reconnect", "max_delay") {
		v, err := time.ParseDuration(strings.TrimSpace(raw.Reconnect.MaxDelay))
		if err != nil {
			return cfg, fmt.Errorf("parse reconnect.max_delay: %w", err)
		}
		cfg.Reconnect.Backoff.MaxDelay = v
	}
	if meta.IsDefined("reconnect", "multiplier") {
		cfg.Reconnect.Backoff.Multiplier = raw.Reconnect.Multiplier
	}
	if meta.IsDefined("reconnect", "jitter") {
		cfg.Reconnect.Backoff.Jitter = raw.Reconnect.Jitter
	}
	if meta.IsDefined("reconnect", "max_attempts") {
		cfg.Reconnect.MaxAttempts = raw.Reconnect.MaxAttempts
	}

	if meta.IsDefined("signing", "key") {
		cfg.Signing.Key = strings.TrimSpace(raw.Signing.Key)
	}
	if meta.IsDefined("signing", "passphrase") {
		cfg.Signing.Passphrase = raw.Signing.Passphrase
	}
	if meta.IsDefined("signing", "link_id") {
		if raw.Signing.LinkID < 0 || raw.Signing.LinkID > 255 {
			return cfg, fmt.Errorf("signing.link_id %d out of range 0..255", raw.Signing.LinkID)
		}
		cfg.Signing.LinkID = uint8(raw.Signing.LinkID)
	}
	if meta.IsDefined("signing", "sign_outgoing") {
		cfg.Signing.SignOutgoing = raw.Signing.SignOutgoing
	}
	if meta.IsDefined("signing", "verify") {
		cfg.Signing.Verify = raw.Signing.Verify
	}
	if meta.IsDefined("signing", "allow_unsigned") {
		cfg.Signing.AllowUnsigned = raw.Signing.AllowUnsigned
	}

	if meta.IsDefined("metrics", "listen") {
		cfg.Metrics.Listen = strings.TrimSpace(raw.Metrics.Listen)
	}
	if meta.IsDefined("capture", "path") {
		cfg.Capture.Path = strings.TrimSpace(raw.Capture.Path)
	}
	if meta.IsDefined("relay", "listen") {
		cfg.Relay.Listen = strings.TrimSpace(raw.Relay.Listen)
	}
	if meta.IsDefined("relay", "max_peers") {
		cfg.Relay.MaxPeers = raw.Relay.MaxPeers
	}
	return cfg, nil
}

func Validate(cfg Config) error {
	if cfg.Link.Address != "" {
		if _, err := connection.ParseAddress(cfg.Link.Address); err != nil {
			return fmt.Errorf("link.address: %w", err)
		}
	}
	if cfg.Link.SystemID == 0 {
		return fmt.Errorf("link.system_id must be non-zero")
	}
	if cfg.Link.ReadTimeout < 0 || cfg.Link.WriteTimeout < 0 || cfg.Link.ConnectTimeout < 0 {
		return fmt.Errorf("link timeouts must not be negative")
	}
	if cfg.Reconnect.Backoff.Multiplier != 0 && cfg.Reconnect.Backoff.Multiplier < 1 {
		return fmt.Errorf("reconnect.multiplier must be >= 1")
	}
	if cfg.Signing.SignOutgoing || cfg.Signing.Verify {
		if _, err := cfg.Signing.ResolveKey(); err != nil {
			return fmt.Errorf("signing: %w", err)
		}
	}
	if cfg.Relay.MaxPeers < 0 {
		return fmt.Errorf("relay.max_peers must not be negative")
	}
	return nil
}

// ResolveKey returns the configured key, preferring Key over Passphrase.
func (s SigningConfig) ResolveKey() (signing.Key, error) {
	if s.Key != "" {
		return signing.ParseKey(s.Key)
	}
	if s.Passphrase != "" {
		return signing.KeyFromPassphrase(s.Passphrase), nil
	}
	return signing.Key{}, fmt.Errorf("key or passphrase required")
}
