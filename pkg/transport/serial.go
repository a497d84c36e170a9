package transport

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/jacobsa/go-serial/serial"
	log "github.com/sirupsen/logrus"
)

// serialPort drives a local serial device at 7E1, the character framing
// IEC 62056-21 prescribes for mode C. Speed changes reopen the device,
// since the driver does not support changing the rate on the fly.
type serialPort struct {
	device string
	baud   uint

	mu   sync.Mutex
	port io.ReadWriteCloser
}

func openSerial(device string, baud uint) (*serialPort, error) {
	p := &serialPort{device: device, baud: baud}
	if err := p.open(); err != nil {
		return nil, err
	}
	log.Debugf("Connected to serial device %s at %d baud", device, baud)
	return p, nil
}

func (p *serialPort) open() error {
	options := serial.OpenOptions{
		PortName:              p.device,
		BaudRate:              p.baud,
		DataBits:              7,
		ParityMode:            serial.PARITY_EVEN,
		StopBits:              1,
		MinimumReadSize:       0,
		InterCharacterTimeout: 100,
	}

	port, err := serial.Open(options)
	if err != nil {
		return fmt.Errorf("failed to open serial device: %w", err)
	}
	p.port = port
	return nil
}

// Read polls the device until data arrives or the timeout expires.
// The driver returns short reads after its inter-character window, so a
// single call cannot honor the caller's deadline by itself.
func (p *serialPort) Read(buf []byte, timeout time.Duration) (int, error) {
	deadline := time.Now().Add(timeout)
	for {
		n, err := p.port.Read(buf)
		if n > 0 {
			return n, nil
		}
		if err != nil && err != io.EOF {
			return 0, fmt.Errorf("serial read: %w", err)
		}
		if time.Now().After(deadline) {
			return 0, nil
		}
	}
}

func (p *serialPort) Write(buf []byte) (int, error) {
	n, err := p.port.Write(buf)
	if err != nil {
		return n, fmt.Errorf("serial write: %w", err)
	}
	return n, nil
}

// SetSpeed reopens the device at the negotiated rate.
func (p *serialPort) SetSpeed(baud uint) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if baud == p.baud {
		return nil
	}
	if err := p.port.Close(); err != nil {
		return fmt.Errorf("serial reopen: %w", err)
	}
	p.baud = baud
	if err := p.open(); err != nil {
		return err
	}
	log.Debugf("Switched %s to %d baud", p.device, baud)
	return nil
}

func (p *serialPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	err := p.port.Close()
	log.Debugf("Disconnected from serial device %s", p.device)
	return err
}
