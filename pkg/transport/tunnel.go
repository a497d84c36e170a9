package transport

import (
	"fmt"
	"net"
	"time"

	log "github.com/sirupsen/logrus"
)

const dialTimeout = 10 * time.Second

// tunnelPort talks to a serial-over-network bridge. The bridge owns the
// physical line, so speed changes are a no-op here.
type tunnelPort struct {
	endpoint string
	conn     net.Conn
}

func dialTunnel(endpoint string) (*tunnelPort, error) {
	conn, err := net.DialTimeout("tcp", endpoint, dialTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to tunnel: %w", err)
	}
	log.Debugf("Connected to serial tunnel at %s", endpoint)
	return &tunnelPort{endpoint: endpoint, conn: conn}, nil
}

func (p *tunnelPort) Read(buf []byte, timeout time.Duration) (int, error) {
	if err := p.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return 0, fmt.Errorf("tunnel read: %w", err)
	}
	n, err := p.conn.Read(buf)
	if err != nil {
		if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			return n, nil
		}
		return n, fmt.Errorf("tunnel read: %w", err)
	}
	return n, nil
}

func (p *tunnelPort) Write(buf []byte) (int, error) {
	n, err := p.conn.Write(buf)
	if err != nil {
		return n, fmt.Errorf("tunnel write: %w", err)
	}
	return n, nil
}

func (p *tunnelPort) SetSpeed(uint) error {
	return nil
}

func (p *tunnelPort) Close() error {
	err := p.conn.Close()
	log.Debugf("Disconnected from serial tunnel at %s", p.endpoint)
	return err
}
