package connection

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

type Kind int

const (
	KindTCPOut Kind = iota
	KindTCPIn
	KindUDPIn
	KindUDPOut
	KindSerial
)

var kindPrefixes = map[string]Kind{
	"tcpout": KindTCPOut,
	"tcpin":  KindTCPIn,
	"udpin":  KindUDPIn,
	"udpout": KindUDPOut,
	"serial": KindSerial,
}

func (k Kind) String() string {
	for prefix, kind := range kindPrefixes {
		if kind == k {
			return prefix
		}
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Address is a parsed link address such as "tcpout:10.0.0.2:5760" or
// "serial:/dev/ttyUSB0:57600".
type Address struct {
	Kind Kind
	// Target is host:port for network links and the device path for serial.
	Target string
	Baud   int
}

func (a Address) String() string {
	if a.Kind == KindSerial {
		return fmt.Sprintf("%s:%s:%d", a.Kind, a.Target, a.Baud)
	}
	return a.Kind.String() + ":" + a.Target
}

func ParseAddress(raw string) (Address, error) {
	prefix, rest, ok := strings.Cut(strings.TrimSpace(raw), ":")
	if !ok {
		return Address{}, fmt.Errorf("%w: %q", ErrUnsupportedAddress, raw)
	}
	kind, ok := kindPrefixes[prefix]
	if !ok {
		return Address{}, fmt.Errorf("%w: %q", ErrUnsupportedAddress, raw)
	}

	if kind == KindSerial {
		i := strings.LastIndex(rest, ":")
		if i <= 0 {
			return Address{}, fmt.Errorf("connection: serial address %q needs path:baud", raw)
		}
		baud, err := strconv.Atoi(rest[i+1:])
		if err != nil || baud <= 0 {
			return Address{}, fmt.Errorf("connection: serial address %q has invalid baud rate", raw)
		}
		return Address{Kind: kind, Target: rest[:i], Baud: baud}, nil
	}

	if _, _, err := net.SplitHostPort(rest); err != nil {
		return Address{}, fmt.Errorf("connection: address %q: %w", raw, err)
	}
	return Address{Kind: kind, Target: rest}, nil
}
