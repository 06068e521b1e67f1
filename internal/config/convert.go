package config

import (
	"github.com/danmuck/mavwire/internal/connection"
	"github.com/danmuck/mavwire/internal/protocol"
	"github.com/danmuck/mavwire/internal/signing"
)

// ConnectionConfig builds link settings, including signer and verifier when
// signing is enabled.
func (c Config) ConnectionConfig() (connection.Config, error) {
	out := connection.Config{
		ConnectTimeout:     c.Link.ConnectTimeout,
		ReadTimeout:        c.Link.ReadTimeout,
		WriteTimeout:       c.Link.WriteTimeout,
		Version:            c.Link.Version,
		Backoff:            c.Reconnect.Backoff,
		MaxConnectAttempts: c.Reconnect.MaxAttempts,
	}
	if !c.Signing.SignOutgoing && !c.Signing.Verify {
		return out, nil
	}
	key, err := c.Signing.ResolveKey()
	if err != nil {
		return connection.Config{}, err
	}
	if c.Signing.SignOutgoing {
		out.Signer = signing.NewSigner(key, c.Signing.LinkID)
	}
	if c.Signing.Verify {
		out.Validator = signing.NewVerifier(key, c.Signing.AllowUnsigned)
	}
	return out, nil
}

// Header is the addressing stamped on messages this process sends.
func (c Config) Header() protocol.Header {
	return protocol.Header{SystemID: c.Link.SystemID, ComponentID: c.Link.ComponentID}
}
