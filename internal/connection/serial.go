package connection

import (
	"time"

	"go.bug.st/serial"
)

type serialTimeoutError struct{}

func (serialTimeoutError) Error() string   { return "connection: serial read timeout" }
func (serialTimeoutError) Timeout() bool   { return true }
func (serialTimeoutError) Temporary() bool { return true }

// serialTransport maps deadlines onto the port's per-read timeout. Writes
// are not bounded.
type serialTransport struct {
	port serial.Port
	name string
}

func openSerial(name string, baud int) (transport, error) {
	port, err := serial.Open(name, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, err
	}
	return &serialTransport{port: port, name: name}, nil
}

// Read reports an elapsed timeout as a net.Error instead of (0, nil).
func (s *serialTransport) Read(p []byte) (int, error) {
	n, err := s.port.Read(p)
	if err == nil && n == 0 {
		return 0, serialTimeoutError{}
	}
	return n, err
}

func (s *serialTransport) Write(p []byte) (int, error) { return s.port.Write(p) }
func (s *serialTransport) Close() error                { return s.port.Close() }
func (s *serialTransport) RemoteAddr() string          { return s.name }

func (s *serialTransport) SetReadDeadline(t time.Time) error {
	if t.IsZero() {
		return s.port.SetReadTimeout(serial.NoTimeout)
	}
	d := time.Until(t)
	if d < time.Millisecond {
		d = time.Millisecond
	}
	return s.port.SetReadTimeout(d)
}

func (s *serialTransport) SetWriteDeadline(time.Time) error { return nil }
