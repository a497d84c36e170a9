// Package transport provides the byte-stream port the session drives:
// a local serial device or a serial-over-network tunnel. The session only
// sees bounded-timeout reads, writes and an explicit close.
package transport

import (
	"fmt"
	"strings"
	"time"
)

// Port is a half-duplex byte stream with bounded reads. Read returns
// n == 0 with a nil error when the timeout expires without data; any
// non-nil error is a transport fault and is not retried by the session.
type Port interface {
	Read(p []byte, timeout time.Duration) (int, error)
	Write(p []byte) (int, error)

	// SetSpeed reconfigures the line speed after baud negotiation.
	// A no-op for tunnels that hide the physical line.
	SetSpeed(baud uint) error

	Close() error
}

// Open connects to a meter address. Two forms are accepted: a network
// endpoint for an RFC2217-style tunnel ("tcp://host:port" or
// "rfc2217://host:port") and a local serial device path.
func Open(address string, baud uint) (Port, error) {
	switch {
	case strings.HasPrefix(address, "tcp://"):
		return dialTunnel(strings.TrimPrefix(address, "tcp://"))
	case strings.HasPrefix(address, "rfc2217://"):
		return dialTunnel(strings.TrimPrefix(address, "rfc2217://"))
	case strings.Contains(address, "://"):
		return nil, fmt.Errorf("transport: unsupported address scheme in %q", address)
	default:
		return openSerial(address, baud)
	}
}
