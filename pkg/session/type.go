package session

import (
	"fmt"
	"time"

	"github.com/nnemirovsky/goneva/pkg/obis"
)

// State is the explicit position of the session machine. Every operation
// checks it on entry and every exit path lands back on Ready or Closed.
type State int

const (
	Disconnected State = iota
	Handshaking
	BaudSwitch
	ProgrammingMode
	Ready
	AwaitingResponse
	Closed
)

var stateNames = [...]string{
	"Disconnected", "Handshaking", "BaudSwitch", "ProgrammingMode",
	"Ready", "AwaitingResponse", "Closed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

var (
	ErrHandshakeTimeout = fmt.Errorf("session: handshake timed out")
	ErrModeEntryTimeout = fmt.Errorf("session: programming mode entry timed out")
	ErrUnsupportedCode  = fmt.Errorf("session: OBIS code not supported by meter profile")
	ErrNotReady         = fmt.Errorf("session: not ready")
	ErrClosed           = fmt.Errorf("session: closed")

	errTimeout = fmt.Errorf("session: response timed out")
	errNAK     = fmt.Errorf("session: negative acknowledgement")
)

// ReadError reports a failed read with enough context to diagnose it:
// the requested code, the last raw payload (if any) and the cause.
type ReadError struct {
	Code    obis.Code
	Payload []byte
	Err     error
}

func (e *ReadError) Error() string {
	if len(e.Payload) > 0 {
		return fmt.Sprintf("session: read %s failed: %v (payload %q)", e.Code, e.Err, e.Payload)
	}
	return fmt.Sprintf("session: read %s failed: %v", e.Code, e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }

// Options tune one session. The zero value selects the documented
// defaults.
type Options struct {
	// Address is the meter bus address for the identification request,
	// usually empty on a point-to-point line.
	Address string

	// Password overrides the secret echoed in the meter's password
	// challenge. Most meters accept their own challenge value back.
	Password string

	// ModelHint forces a profile by name instead of matching the
	// identification string.
	ModelHint string

	// FallbackProfile selects the default profile when the
	// identification string matches no known model.
	FallbackProfile bool

	// Retries bounds re-sends for lossy-link faults. Default 3.
	Retries int

	// Timeout bounds each wait for a response. Default 3s.
	Timeout time.Duration

	// InitialBaud is the line speed for the identification exchange.
	// Default 300, per mode C.
	InitialBaud uint
}

const (
	defaultRetries = 3
	defaultTimeout = 3 * time.Second
	defaultBaud    = 300

	// Settling delay between the option message and the speed switch.
	baudSwitchDelay = 300 * time.Millisecond
)

func (o Options) withDefaults() Options {
	if o.Retries <= 0 {
		o.Retries = defaultRetries
	}
	if o.Timeout <= 0 {
		o.Timeout = defaultTimeout
	}
	if o.InitialBaud == 0 {
		o.InitialBaud = defaultBaud
	}
	return o
}
