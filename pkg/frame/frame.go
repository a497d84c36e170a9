// Package frame implements the IEC 62056-21 mode C message codec used by
// Neva MT meters: command framing, response parsing and the block check
// character. Byte layout must match the meter exactly or frames are
// silently dropped on the wire.
package frame

import (
	"bytes"
	"fmt"
	"strings"
)

const (
	SOH byte = 0x01
	STX byte = 0x02
	ETX byte = 0x03
	ACK byte = 0x06
	NAK byte = 0x15
)

var crlf = []byte{0x0D, 0x0A}

// Baudrates maps the identification baud character '0'..'5' to line speed.
var Baudrates = [6]uint{300, 600, 1200, 2400, 4800, 9600}

var (
	ErrFraming  = fmt.Errorf("frame: bad framing")
	ErrChecksum = fmt.Errorf("frame: checksum mismatch")
)

// BCC computes the block check character: XOR over every byte of the span.
// The span starts right after the leading SOH/STX and runs through ETX
// inclusive; the caller passes exactly that slice.
func BCC(span []byte) byte {
	var bcc byte
	for _, b := range span {
		bcc ^= b
	}
	return bcc
}

// MakeCommand builds a programming-mode command message:
// SOH <verb> '1' STX <packed-obis> '(' data ')' ETX BCC.
// verb is 'R' for reads, 'P' for the password comparison, 'W' for writes.
func MakeCommand(verb byte, packedOBIS string, data []byte) []byte {
	msg := make([]byte, 0, 8+len(packedOBIS)+len(data))
	msg = append(msg, SOH, verb, '1', STX)
	msg = append(msg, packedOBIS...)
	msg = append(msg, '(')
	msg = append(msg, data...)
	msg = append(msg, ')', ETX)
	msg = append(msg, BCC(msg[1:]))
	return msg
}

// MakeIdentificationRequest builds the mode C request message "/?<addr>!\r\n".
func MakeIdentificationRequest(address string) []byte {
	msg := make([]byte, 0, 5+len(address))
	msg = append(msg, '/', '?')
	msg = append(msg, address...)
	msg = append(msg, '!')
	return append(msg, crlf...)
}

// MakeOption builds the acknowledgement/option select message that switches
// the meter into programming mode at the negotiated speed: ACK '0' Z '1' CRLF.
func MakeOption(baudChar byte) []byte {
	return append([]byte{ACK, '0', baudChar, '1'}, crlf...)
}

// MakeEnd builds the session termination message SOH 'B' '0' ETX BCC.
func MakeEnd() []byte {
	msg := []byte{SOH, 'B', '0', ETX}
	return append(msg, BCC(msg[1:]))
}

// MakeData builds a data message STX <addr> '(' v1,v2,... ')' ETX BCC,
// the frame a meter answers read commands with. The codec emits it for
// round-trip verification and test doubles; real sessions only parse it.
func MakeData(address string, fields []string) []byte {
	msg := make([]byte, 0, 8+len(address))
	msg = append(msg, STX)
	msg = append(msg, address...)
	msg = append(msg, '(')
	msg = append(msg, strings.Join(fields, ",")...)
	msg = append(msg, ')', ETX)
	return append(msg, BCC(msg[1:]))
}

// DataMsg is a parsed data response: the echoed packed OBIS address and the
// comma separated value fields.
type DataMsg struct {
	Address string
	Fields  []string
}

// ParseData decodes a data response STX <addr> '(' v1,v2,... ')' ETX BCC.
// A missing delimiter fails with ErrFraming, a wrong trailing check byte
// with ErrChecksum.
func ParseData(raw []byte) (DataMsg, error) {
	if len(raw) < 5 || raw[0] != STX {
		return DataMsg{}, fmt.Errorf("%w: data message %q", ErrFraming, raw)
	}
	etx := bytes.LastIndexByte(raw, ETX)
	if etx < 0 || etx != len(raw)-2 {
		return DataMsg{}, fmt.Errorf("%w: data message %q", ErrFraming, raw)
	}
	if got, want := raw[len(raw)-1], BCC(raw[1:etx+1]); got != want {
		return DataMsg{}, fmt.Errorf("%w: got 0x%02X, want 0x%02X", ErrChecksum, got, want)
	}
	body := raw[1:etx]
	open := bytes.IndexByte(body, '(')
	if open < 0 || body[len(body)-1] != ')' {
		return DataMsg{}, fmt.Errorf("%w: data message %q", ErrFraming, raw)
	}
	msg := DataMsg{Address: string(body[:open])}
	if inner := body[open+1 : len(body)-1]; len(inner) > 0 {
		for _, f := range bytes.Split(inner, []byte{','}) {
			msg.Fields = append(msg.Fields, string(f))
		}
	}
	return msg, nil
}

// Identification is a parsed identification response "/VVVZident\r\n".
type Identification struct {
	Vendor     string
	BaudNum    int
	Identifier string
}

// ParseIdentification validates and splits the identification message.
// The vendor code is three letters (the third may be lowercase, flagging a
// 200 ms minimum reaction time), the baud character must be '0'..'5' and
// the identifier is 1..16 characters of [A-Z0-9.].
func ParseIdentification(raw []byte) (Identification, error) {
	if len(raw) < 8 || raw[0] != '/' || !bytes.HasSuffix(raw, crlf) {
		return Identification{}, fmt.Errorf("%w: identification %q", ErrFraming, raw)
	}
	vendor := raw[1:4]
	if !isUpper(vendor[0]) || !isUpper(vendor[1]) || !isLetter(vendor[2]) {
		return Identification{}, fmt.Errorf("%w: bad vendor code %q", ErrFraming, vendor)
	}
	baud := raw[4]
	if baud < '0' || baud > '5' {
		return Identification{}, fmt.Errorf("%w: bad baud character %q", ErrFraming, baud)
	}
	ident := raw[5 : len(raw)-2]
	if len(ident) < 1 || len(ident) > 16 {
		return Identification{}, fmt.Errorf("%w: identifier length %d", ErrFraming, len(ident))
	}
	for _, b := range ident {
		if !isUpper(b) && !isDigit(b) && b != '.' {
			return Identification{}, fmt.Errorf("%w: bad identifier %q", ErrFraming, ident)
		}
	}
	return Identification{
		Vendor:     string(vendor),
		BaudNum:    int(baud - '0'),
		Identifier: string(ident),
	}, nil
}

// ParsePassword decodes the password challenge SOH 'P' '0' STX '(' secret ')'
// ETX BCC sent by the meter right after the mode switch.
func ParsePassword(raw []byte) ([]byte, error) {
	if len(raw) < 8 || raw[0] != SOH || raw[1] != 'P' || raw[2] != '0' || raw[3] != STX {
		return nil, fmt.Errorf("%w: password message %q", ErrFraming, raw)
	}
	etx := bytes.LastIndexByte(raw, ETX)
	if etx != len(raw)-2 {
		return nil, fmt.Errorf("%w: password message %q", ErrFraming, raw)
	}
	if got, want := raw[len(raw)-1], BCC(raw[1:etx+1]); got != want {
		return nil, fmt.Errorf("%w: got 0x%02X, want 0x%02X", ErrChecksum, got, want)
	}
	body := raw[4:etx]
	if len(body) < 2 || body[0] != '(' || body[len(body)-1] != ')' {
		return nil, fmt.Errorf("%w: password message %q", ErrFraming, raw)
	}
	secret := make([]byte, len(body)-2)
	copy(secret, body[1:len(body)-1])
	return secret, nil
}

func isUpper(b byte) bool  { return b >= 'A' && b <= 'Z' }
func isLetter(b byte) bool { return isUpper(b) || (b >= 'a' && b <= 'z') }
func isDigit(b byte) bool  { return b >= '0' && b <= '9' }
