package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "link":
		return linkTemplate, nil
	case "relay":
		return relayTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const linkTemplate = `log_level = "info"

[link]
address = "udpin:0.0.0.0:14550"
system_id = 255
component_id = 190
protocol_version = "v2"
connect_timeout = "5s"
read_timeout = "100ms"
write_timeout = "1s"

[reconnect]
initial_delay = "250ms"
multiplier = 2.0
max_delay = "5s"
jitter = true
max_attempts = 5

[signing]
passphrase = ""
link_id = 0
sign_outgoing = false
verify = false
allow_unsigned = true

[metrics]
listen = "127.0.0.1:9464"

[capture]
path = ""
`

const relayTemplate = `log_level = "info"

[link]
address = "tcpout:127.0.0.1:5760"
read_timeout = "1s"

[relay]
listen = "0.0.0.0:5761"
max_peers = 32

[metrics]
listen = "127.0.0.1:9464"

[capture]
path = "relay.db"
`
