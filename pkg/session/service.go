// Package session implements the IEC 62056-21 mode C session machine:
// identification handshake, baud/mode switch, password exchange and the
// checksum-verified command loop. One session owns one transport; all
// I/O is blocking with per-operation timeouts and a bounded retry count,
// so no operation can hang or leave the machine stuck mid-state.
package session

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/nnemirovsky/goneva/pkg/frame"
	"github.com/nnemirovsky/goneva/pkg/meter"
	"github.com/nnemirovsky/goneva/pkg/obis"
	"github.com/nnemirovsky/goneva/pkg/profile"
	"github.com/nnemirovsky/goneva/pkg/transport"
)

// Session is a live programming-mode connection to one meter.
type Session struct {
	mu    sync.Mutex
	port  transport.Port
	prof  *profile.Profile
	ident frame.Identification
	state State
	opts  Options

	// rxbuf holds bytes received past the last terminator, typically
	// the trailing check byte arriving in the same chunk as ETX.
	rxbuf []byte

	serialNum string

	// Tariff schedule numbers referenced by season and special day
	// schedules read so far; drives TariffSchedules.
	usedSkd map[int]bool
}

// Connect opens the transport for an address and runs the mode C
// handshake over it.
func Connect(address string, opts Options) (*Session, error) {
	opts = opts.withDefaults()
	port, err := transport.Open(address, opts.InitialBaud)
	if err != nil {
		return nil, err
	}
	return Establish(port, opts)
}

// Establish runs the handshake over an already-open port. On failure
// the port is released before returning, so a failed connect never
// leaks the transport.
func Establish(port transport.Port, opts Options) (*Session, error) {
	opts = opts.withDefaults()
	s := &Session{port: port, state: Disconnected, opts: opts, usedSkd: make(map[int]bool)}
	if err := s.handshake(); err != nil {
		s.release()
		return nil, err
	}
	log.Debugf("Session ready: %s (%s)", s.ident.Identifier, profile.ModelName(s.ident.Identifier))
	return s, nil
}

// State reports the machine's current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Profile reports the model profile selected during the handshake.
func (s *Session) Profile() *profile.Profile { return s.prof }

// Identification returns the device identifier from the handshake and
// the meter serial number, read once and cached.
func (s *Session) Identification() (device, serial string, err error) {
	if s.serialNum == "" {
		v, err := s.ReadNamed(profile.SerialNumber)
		if err != nil {
			return s.ident.Identifier, "", err
		}
		s.serialNum = v.(string)
	}
	return s.ident.Identifier, s.serialNum, nil
}

// ModelName returns the marketing name of the connected meter model.
func (s *Session) ModelName() string { return profile.ModelName(s.ident.Identifier) }

// handshake walks Disconnected → Handshaking → BaudSwitch →
// ProgrammingMode → Ready, with bounded retries on each inbound step.
func (s *Session) handshake() error {
	var lastErr error
	for attempt := 0; attempt < s.opts.Retries; attempt++ {
		s.setState(Handshaking)
		id, err := s.identify()
		if err != nil {
			if !errors.Is(err, errTimeout) && !errors.Is(err, frame.ErrFraming) {
				return err
			}
			lastErr = err
			log.Debugf("Handshake attempt %d/%d failed: %v", attempt+1, s.opts.Retries, err)
			continue
		}
		s.ident = id

		prof, err := profile.Select(id.Identifier, s.opts.ModelHint)
		if err != nil {
			if !s.opts.FallbackProfile {
				return err
			}
			prof = profile.Default()
		}
		s.prof = prof

		if err := s.switchBaud(id.BaudNum); err != nil {
			return err
		}
		return s.enterProgrammingMode(byte('0' + id.BaudNum))
	}
	return fmt.Errorf("%w: %v", ErrHandshakeTimeout, lastErr)
}

// identify sends the request message and parses the identification
// response.
func (s *Session) identify() (frame.Identification, error) {
	if err := s.send(frame.MakeIdentificationRequest(s.opts.Address)); err != nil {
		return frame.Identification{}, err
	}
	raw, err := s.recvUntil('\n')
	if err != nil {
		return frame.Identification{}, err
	}
	return frame.ParseIdentification(raw)
}

// switchBaud acknowledges the negotiated speed and reconfigures the
// line. The meter needs a settling delay before it answers at the new
// rate.
func (s *Session) switchBaud(baudNum int) error {
	s.setState(BaudSwitch)
	if err := s.send(frame.MakeOption(byte('0' + baudNum))); err != nil {
		return err
	}
	time.Sleep(baudSwitchDelay)
	if err := s.port.SetSpeed(frame.Baudrates[baudNum]); err != nil {
		return err
	}
	return nil
}

// enterProgrammingMode reads the password challenge and answers the
// comparison message. A silent meter gets the option message re-sent up
// to the retry bound; the comparison itself is retried on NAK or silence.
func (s *Session) enterProgrammingMode(baudChar byte) error {
	s.setState(ProgrammingMode)

	var raw []byte
	for attempt := 0; ; attempt++ {
		var err error
		raw, err = s.recvMessage()
		if err == nil {
			break
		}
		if !errors.Is(err, errTimeout) {
			return err
		}
		if attempt == s.opts.Retries-1 {
			return fmt.Errorf("%w: no password challenge", ErrModeEntryTimeout)
		}
		log.Debugf("No password challenge on attempt %d/%d, re-sending option", attempt+1, s.opts.Retries)
		if err := s.send(frame.MakeOption(baudChar)); err != nil {
			return err
		}
	}
	secret, err := frame.ParsePassword(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrModeEntryTimeout, err)
	}
	if s.opts.Password != "" {
		secret = []byte(s.opts.Password)
	}

	var lastErr error
	for attempt := 0; attempt < s.opts.Retries; attempt++ {
		if err := s.send(frame.MakeCommand('P', "", secret)); err != nil {
			return err
		}
		ack, err := s.recvByte()
		if err != nil {
			if !errors.Is(err, errTimeout) {
				return err
			}
			lastErr = err
			continue
		}
		switch ack {
		case frame.ACK:
			s.setState(Ready)
			return nil
		case frame.NAK:
			lastErr = errNAK
		default:
			lastErr = fmt.Errorf("unexpected mode entry reply 0x%02X", ack)
		}
		log.Debugf("Mode entry attempt %d/%d failed: %v", attempt+1, s.opts.Retries, lastErr)
	}
	return fmt.Errorf("%w: %v", ErrModeEntryTimeout, lastErr)
}

// Read requests one OBIS code and decodes the response into its
// quantity record. Framing and checksum faults are re-sent up to the
// retry bound; decode faults surface immediately, since a re-send
// cannot fix a malformed payload.
func (s *Session) Read(code obis.Code) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case Ready:
	case Closed:
		return nil, ErrClosed
	default:
		return nil, fmt.Errorf("%w: state %s", ErrNotReady, s.state)
	}

	entry, ok := s.prof.Lookup(code)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedCode, code)
	}

	s.setState(AwaitingResponse)
	var lastErr error
	var lastPayload []byte
	for attempt := 0; attempt < s.opts.Retries; attempt++ {
		if err := s.send(frame.MakeCommand(s.prof.ReadVerb, code.Packed(), nil)); err != nil {
			s.closeLocked()
			return nil, err
		}
		raw, err := s.recvMessage()
		if err != nil {
			if !errors.Is(err, errTimeout) {
				s.closeLocked()
				return nil, err
			}
			lastErr = err
			continue
		}
		if len(raw) == 1 && raw[0] == frame.NAK {
			lastErr = errNAK
			continue
		}
		lastPayload = raw

		msg, err := frame.ParseData(raw)
		if err != nil {
			if errors.Is(err, frame.ErrFraming) || errors.Is(err, frame.ErrChecksum) {
				lastErr = err
				log.Debugf("Read %s attempt %d/%d: %v", code, attempt+1, s.opts.Retries, err)
				continue
			}
			s.setState(Ready)
			return nil, &ReadError{Code: code, Payload: raw, Err: err}
		}

		s.setState(Ready)
		value, err := s.decode(entry, msg.Fields)
		if err != nil {
			return nil, &ReadError{Code: code, Payload: raw, Err: err}
		}
		return value, nil
	}

	s.setState(Ready)
	return nil, &ReadError{Code: code, Payload: lastPayload, Err: lastErr}
}

// ReadNamed resolves a named quantity against the profile and reads it.
func (s *Session) ReadNamed(name string) (any, error) {
	entry, ok := s.prof.ByName(name)
	if !ok {
		return nil, fmt.Errorf("%w: no quantity named %q", ErrUnsupportedCode, name)
	}
	return s.Read(entry.Code)
}

// decode routes the response fields to the decoder bound in the
// registry, applying the profile scale for the quantity class.
func (s *Session) decode(entry obis.Entry, fields []string) (any, error) {
	scalar := func() (string, error) {
		if len(fields) != 1 {
			return "", fmt.Errorf("%w: want one field, got %d", meter.ErrMalformedValue, len(fields))
		}
		return fields[0], nil
	}

	switch entry.Class {
	case obis.ClassText:
		return scalar()
	case obis.ClassEnergy:
		return meter.Energy(fields, s.prof.Scale(entry.Class))
	case obis.ClassVoltage, obis.ClassCurrent, obis.ClassPower, obis.ClassFrequency:
		f, err := scalar()
		if err != nil {
			return nil, err
		}
		return meter.Float(f, s.prof.Scale(entry.Class))
	case obis.ClassPowerFactor:
		f, err := scalar()
		if err != nil {
			return nil, err
		}
		return meter.PowerFactorRatio(f)
	case obis.ClassPowerFactorTagged:
		f, err := scalar()
		if err != nil {
			return nil, err
		}
		return meter.PowerFactorTagged(f)
	case obis.ClassTemperature:
		f, err := scalar()
		if err != nil {
			return nil, err
		}
		return meter.Temperature(f)
	case obis.ClassDate:
		f, err := scalar()
		if err != nil {
			return nil, err
		}
		return meter.Date(f)
	case obis.ClassTime:
		f, err := scalar()
		if err != nil {
			return nil, err
		}
		return meter.Clock(f)
	case obis.ClassDateTime:
		f, err := scalar()
		if err != nil {
			return nil, err
		}
		return meter.DateTime(f)
	case obis.ClassStatus:
		f, err := scalar()
		if err != nil {
			return nil, err
		}
		return meter.Status(f)
	case obis.ClassSeasonSchedule:
		skds, err := meter.SeasonSchedules(fields)
		if err != nil {
			return nil, err
		}
		for _, skd := range skds {
			s.usedSkd[skd.WeekdaySkd] = true
			s.usedSkd[skd.SaturdaySkd] = true
			s.usedSkd[skd.SundaySkd] = true
		}
		return skds, nil
	case obis.ClassSpecialDaySchedule:
		days, err := meter.SpecialDaySchedules(fields)
		if err != nil {
			return nil, err
		}
		for _, d := range days {
			s.usedSkd[d.Skd] = true
		}
		return days, nil
	case obis.ClassTariffSchedule:
		return meter.TariffScheduleParts(fields)
	default:
		return nil, fmt.Errorf("%w: no decoder for class %d", meter.ErrMalformedValue, entry.Class)
	}
}

// Close terminates the session and releases the transport. Safe to call
// in any state and after any error; the port is closed exactly once.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeLocked()
}

func (s *Session) closeLocked() error {
	if s.state == Closed {
		return nil
	}
	// Best effort: the meter drops the session on its own timeout if
	// the end message is lost.
	if s.state == Ready || s.state == AwaitingResponse {
		if _, err := s.port.Write(frame.MakeEnd()); err != nil {
			log.Debugf("End message not delivered: %v", err)
		}
	}
	return s.release()
}

func (s *Session) release() error {
	s.state = Closed
	return s.port.Close()
}

func (s *Session) setState(next State) {
	log.Debugf("Session state %s -> %s", s.state, next)
	s.state = next
}

// send writes a full message; a short or failed write is a transport
// fault and is not retried. Stale input from an abandoned exchange is
// dropped first so a late response cannot be taken for the new one.
func (s *Session) send(msg []byte) error {
	s.rxbuf = s.rxbuf[:0]
	log.Debugf("-> %q", msg)
	n, err := s.port.Write(msg)
	if err != nil {
		return err
	}
	if n != len(msg) {
		return fmt.Errorf("session: short write: %d of %d bytes", n, len(msg))
	}
	return nil
}

// recvMessage reads a framed response: bytes up to ETX plus the
// trailing check byte. A bare ACK/NAK is returned as-is.
func (s *Session) recvMessage() ([]byte, error) {
	raw, err := s.recvUntil(frame.ETX)
	if err != nil {
		return nil, err
	}
	if len(raw) == 1 && (raw[0] == frame.ACK || raw[0] == frame.NAK) {
		return raw, nil
	}
	bcc, err := s.recvByte()
	if err != nil {
		return nil, err
	}
	return append(raw, bcc), nil
}

// recvUntil accumulates bytes until the terminator arrives or the
// operation timeout expires. Bytes past the terminator stay buffered
// for the next receive. A lone ACK/NAK byte short-circuits, since
// those replies carry no terminator.
func (s *Session) recvUntil(term byte) ([]byte, error) {
	deadline := time.Now().Add(s.opts.Timeout)
	chunk := make([]byte, 64)
	for {
		if len(s.rxbuf) > 0 && (s.rxbuf[0] == frame.ACK || s.rxbuf[0] == frame.NAK) {
			out := []byte{s.rxbuf[0]}
			s.rxbuf = s.rxbuf[1:]
			log.Debugf("<- %q", out)
			return out, nil
		}
		if i := bytes.IndexByte(s.rxbuf, term); i >= 0 {
			out := append([]byte(nil), s.rxbuf[:i+1]...)
			s.rxbuf = s.rxbuf[i+1:]
			log.Debugf("<- %q", out)
			return out, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			if len(s.rxbuf) > 0 {
				return nil, fmt.Errorf("%w: partial response %q", errTimeout, s.rxbuf)
			}
			return nil, errTimeout
		}
		n, err := s.port.Read(chunk, remaining)
		if err != nil {
			return nil, err
		}
		s.rxbuf = append(s.rxbuf, chunk[:n]...)
	}
}

func (s *Session) recvByte() (byte, error) {
	deadline := time.Now().Add(s.opts.Timeout)
	one := make([]byte, 1)
	for {
		if len(s.rxbuf) > 0 {
			b := s.rxbuf[0]
			s.rxbuf = s.rxbuf[1:]
			return b, nil
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return 0, errTimeout
		}
		n, err := s.port.Read(one, remaining)
		if err != nil {
			return 0, err
		}
		s.rxbuf = append(s.rxbuf, one[:n]...)
	}
}
