package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/mavwire/internal/connection"
	"github.com/danmuck/mavwire/internal/protocol"
	"github.com/danmuck/mavwire/internal/testutil/testlog"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mavctl.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadKeepsDefaultsForMissingKeys(t *testing.T) {
	testlog.Start(t)
	path := writeConfig(t, `
[link]
address = "udpin:0.0.0.0:14550"
read_timeout = "250ms"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	def := Default()
	if cfg.Link.Address != "udpin:0.0.0.0:14550" {
		t.Fatalf("address=%q", cfg.Link.Address)
	}
	if cfg.Link.ReadTimeout != 250*time.Millisecond {
		t.Fatalf("read timeout=%s", cfg.Link.ReadTimeout)
	}
	if cfg.Link.WriteTimeout != def.Link.WriteTimeout || cfg.Link.SystemID != def.Link.SystemID {
		t.Fatalf("defaults not kept: %+v", cfg.Link)
	}
	if cfg.Reconnect != def.Reconnect || cfg.Relay != def.Relay {
		t.Fatalf("untouched sections changed")
	}
}

func TestLoadOverridesEverySection(t *testing.T) {
	testlog.Start(t)
	path := writeConfig(t, `
log_level = "debug"

[link]
address = "tcpout:127.0.0.1:5760"
system_id = 42
component_id = 1
protocol_version = "v1"

[reconnect]
initial_delay = "50ms"
multiplier = 3.0
max_delay = "2s"
jitter = false
max_attempts = 0

[signing]
key = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"
link_id = 3
sign_outgoing = true
verify = true
allow_unsigned = false

[metrics]
listen = ":9100"

[capture]
path = "frames.db"

[relay]
listen = ":5800"
max_peers = 4
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LogLevel != "debug" || cfg.Link.SystemID != 42 || cfg.Link.ComponentID != 1 {
		t.Fatalf("link/log mismatch: %+v level=%s", cfg.Link, cfg.LogLevel)
	}
	if cfg.Link.Version != protocol.V1 {
		t.Fatalf("version=%s", cfg.Link.Version)
	}
	want := connection.BackoffConfig{InitialDelay: 50 * time.Millisecond, Multiplier: 3, MaxDelay: 2 * time.Second}
	if cfg.Reconnect.Backoff != want || cfg.Reconnect.MaxAttempts != 0 {
		t.Fatalf("reconnect=%+v", cfg.Reconnect)
	}
	if !cfg.Signing.SignOutgoing || !cfg.Signing.Verify || cfg.Signing.AllowUnsigned || cfg.Signing.LinkID != 3 {
		t.Fatalf("signing=%+v", cfg.Signing)
	}
	if cfg.Metrics.Listen != ":9100" || cfg.Capture.Path != "frames.db" || cfg.Relay.Listen != ":5800" || cfg.Relay.MaxPeers != 4 {
		t.Fatalf("outer sections mismatch: %+v %+v %+v", cfg.Metrics, cfg.Capture, cfg.Relay)
	}

	conn, err := cfg.ConnectionConfig()
	if err != nil {
		t.Fatalf("connection config: %v", err)
	}
	if conn.Signer == nil || conn.Validator == nil {
		t.Fatalf("signing not wired: signer=%v validator=%v", conn.Signer, conn.Validator)
	}
	if conn.Version != protocol.V1 || conn.MaxConnectAttempts != 0 {
		t.Fatalf("connection config mismatch: %+v", conn)
	}
	if h := cfg.Header(); h.SystemID != 42 || h.ComponentID != 1 {
		t.Fatalf("header=%+v", h)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	testlog.Start(t)
	cases := []struct {
		name string
		body string
		want string
	}{
		{name: "bad duration", body: "[link]\nread_timeout = \"soon\"\n", want: "read_timeout"},
		{name: "system id range", body: "[link]\nsystem_id = 300\n", want: "system_id"},
		{name: "zero system id", body: "[link]\nsystem_id = 0\n", want: "system_id"},
		{name: "bad version", body: "[link]\nprotocol_version = \"v3\"\n", want: "protocol_version"},
		{name: "bad address", body: "[link]\naddress = \"carrier-pigeon:1\"\n", want: "link.address"},
		{name: "signing without key", body: "[signing]\nsign_outgoing = true\n", want: "signing"},
		{name: "short key", body: "[signing]\nverify = true\nkey = \"abcd\"\n", want: "signing"},
		{name: "multiplier", body: "[reconnect]\nmultiplier = 0.5\n", want: "multiplier"},
		{name: "syntax", body: "[link\n", want: "config load failed"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.body))
			if err == nil {
				t.Fatalf("expected error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	testlog.Start(t)
	if _, err := Load(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestPassphraseDerivesKey(t *testing.T) {
	testlog.Start(t)
	cfg, err := Decode("[signing]\npassphrase = \"hunter2\"\nsign_outgoing = true\n")
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	conn, err := cfg.ConnectionConfig()
	if err != nil {
		t.Fatalf("connection config: %v", err)
	}
	if conn.Signer == nil || conn.Validator != nil {
		t.Fatalf("expected signer only")
	}
}

func TestTemplatesLoad(t *testing.T) {
	testlog.Start(t)
	for _, kind := range []string{"link", "relay"} {
		path := filepath.Join(t.TempDir(), kind+".toml")
		if err := WriteTemplate(path, kind, false); err != nil {
			t.Fatalf("write %s template: %v", kind, err)
		}
		if err := WriteTemplate(path, kind, false); err == nil {
			t.Fatalf("expected refusal to overwrite %s", path)
		}
		if err := WriteTemplate(path, kind, true); err != nil {
			t.Fatalf("overwrite %s template: %v", kind, err)
		}
		if _, err := Load(path); err != nil {
			t.Fatalf("%s template does not load: %v", kind, err)
		}
	}
	if _, err := Template("ghost"); err == nil {
		t.Fatalf("expected unknown kind error")
	}
}
