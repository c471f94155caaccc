// Package session implements the ISO 8327 session kernel (plus the duplex
// functional unit) that this client actually needs: CONNECT/ACCEPT
// handshake, and the combined GIVE-TOKENS+DATA-TRANSFER wrapper every
// later message rides on.
package session

import (
	"errors"
	"fmt"
)

// SPDUType is the one-byte session-protocol-data-unit type (SI) field.
type SPDUType byte

const (
	SessionSPDUTypeConnect     SPDUType = 0x0D
	SessionSPDUTypeAccept      SPDUType = 0x0E
	SessionSPDUTypeRefuse      SPDUType = 0x0C
	SessionSPDUTypeFinish      SPDUType = 0x09
	SessionSPDUTypeDisconnect  SPDUType = 0x0A
	SessionSPDUTypeNotFinished SPDUType = 0x08
	SessionSPDUTypeAbort       SPDUType = 0x19
	// SessionSPDUTypeGiveTokensData is the SI byte shared by the combined
	// GIVE-TOKENS+DATA-TRANSFER prelude "01 00 01 00" that carries every
	// post-handshake message; see BuildDataTransferWithTokens.
	SessionSPDUTypeGiveTokensData SPDUType = 0x01
)

// Parameter group identifiers (PGI) this client produces or understands.
const (
	piConnectAcceptItem = 0x05
	piProtocolOptions   = 0x13
	piVersionNumber     = 0x16
	piSessionUserReqs   = 0x14
	piCallingSessionSel = 0x33
	piCalledSessionSel  = 0x34
	piSessionUserData   = 0xC1
)

// Duplex is the only functional unit this client ever negotiates.
const Duplex uint16 = 0x0002

// SessionSPDU is a parsed CONNECT or ACCEPT SPDU.
type SessionSPDU struct {
	Type                   SPDUType
	Length                 int
	ProtocolOptions        byte
	ProtocolVersion        byte
	SessionRequirement     uint16
	CallingSessionSelector []byte
	CalledSessionSelector  []byte
	Data                   []byte
}

// BuildConnectSPDU builds a CONNECT SPDU: a Connect-Accept-Item
// (Protocol-Options=0, Version=2), Session-User-Requirements=Duplex
// (a little-endian flag word), the calling/called session selectors, and
// userData as the Session-user-data parameter.
func BuildConnectSPDU(callingSel, calledSel, userData []byte) []byte {
	spdu := []byte{byte(SessionSPDUTypeConnect)}

	totalLength := 8 + (2 + len(callingSel)) + (2 + len(calledSel)) + 4 + 2 + len(userData)
	spdu = appendParamLength(spdu, totalLength)

	// Connect-Accept-Item: Protocol-Options=0, Version-Number=2.
	spdu = append(spdu, piConnectAcceptItem, 0x06, piProtocolOptions, 0x01, 0x00, piVersionNumber, 0x01, 0x02)

	// Session-User-Requirements: Duplex, little-endian.
	spdu = append(spdu, piSessionUserReqs, 0x02, byte(Duplex&0xFF), byte(Duplex>>8))

	spdu = append(spdu, piCallingSessionSel, byte(len(callingSel)))
	spdu = append(spdu, callingSel...)

	spdu = append(spdu, piCalledSessionSel, byte(len(calledSel)))
	spdu = append(spdu, calledSel...)

	spdu = append(spdu, piSessionUserData)
	spdu = appendParamLength(spdu, len(userData))
	spdu = append(spdu, userData...)

	return spdu
}

// appendParamLength appends a session-protocol length field. Values up to
// 255 use the short form the protocol allows for all lengths this client
// ever produces; parsing accepts only the short form (see ParseSessionSPDU),
// which is all real IEDs in this corpus are observed to send.
func appendParamLength(buf []byte, n int) []byte {
	if n <= 0xFF {
		return append(buf, byte(n))
	}
	return append(buf, 0x82, byte(n>>8), byte(n&0xFF))
}

// ParseSessionSPDU decodes a CONNECT or ACCEPT SPDU (the only two shapes
// a client ever needs to parse into structured parameters; DATA messages
// are unwrapped by UnwrapDataSPDU instead, without this level of detail).
func ParseSessionSPDU(buf []byte) (*SessionSPDU, error) {
	if len(buf) < 2 {
		return nil, fmt.Errorf("session: SPDU too short: %d bytes", len(buf))
	}

	s := &SessionSPDU{Type: SPDUType(buf[0])}
	length := int(buf[1])
	s.Length = length

	pos := 2
	end := pos + length
	if end > len(buf) {
		return nil, fmt.Errorf("session: SPDU length %d exceeds buffer of %d bytes", length, len(buf))
	}

	for pos < end {
		pi := buf[pos]
		pos++
		if pos >= end {
			return nil, errors.New("session: truncated parameter group")
		}
		pl := int(buf[pos])
		pos++
		if pos+pl > end {
			return nil, fmt.Errorf("session: parameter 0x%02x overruns SPDU", pi)
		}
		val := buf[pos : pos+pl]
		pos += pl

		switch pi {
		case piConnectAcceptItem:
			if err := parseConnectAcceptItem(s, val); err != nil {
				return nil, err
			}
		case piSessionUserReqs:
			if pl != 2 {
				return nil, fmt.Errorf("session: session-user-requirements must be 2 bytes, got %d", pl)
			}
			s.SessionRequirement = uint16(val[0])<<8 | uint16(val[1])
		case piCallingSessionSel:
			s.CallingSessionSelector = append([]byte(nil), val...)
		case piCalledSessionSel:
			s.CalledSessionSelector = append([]byte(nil), val...)
		case piSessionUserData:
			s.Data = append([]byte(nil), val...)
		default:
			// Unknown PGIs are skipped for interoperability.
		}
	}

	if (s.Type == SessionSPDUTypeConnect || s.Type == SessionSPDUTypeAccept) &&
		s.ProtocolVersion&0x02 == 0 {
		return nil, fmt.Errorf("session: unsupported protocol version 0x%02x", s.ProtocolVersion)
	}

	return s, nil
}

func parseConnectAcceptItem(s *SessionSPDU, buf []byte) error {
	pos := 0
	for pos < len(buf) {
		pi := buf[pos]
		pos++
		if pos >= len(buf) {
			return errors.New("session: truncated connect-accept-item")
		}
		pl := int(buf[pos])
		pos++
		if pos+pl > len(buf) {
			return fmt.Errorf("session: connect-accept-item parameter 0x%02x overruns", pi)
		}
		val := buf[pos : pos+pl]
		pos += pl

		switch pi {
		case piProtocolOptions:
			if pl >= 1 {
				s.ProtocolOptions = val[0]
			}
		case piVersionNumber:
			if pl >= 1 {
				s.ProtocolVersion = val[0]
			}
		}
	}
	return nil
}

// BuildDataTransferWithTokens wraps payload in the combined GIVE-TOKENS +
// DATA-TRANSFER SPDU prelude ("01 00 01 00") that every post-handshake
// session message uses.
func BuildDataTransferWithTokens(payload []byte) []byte {
	out := make([]byte, 0, 4+len(payload))
	out = append(out, byte(SessionSPDUTypeGiveTokensData), 0x00, byte(SessionSPDUTypeGiveTokensData), 0x00)
	return append(out, payload...)
}

// UnwrapDataSPDU strips the GIVE-TOKENS+DATA-TRANSFER prelude from an
// inbound session message and returns the enclosed presentation-layer
// payload.
func UnwrapDataSPDU(buf []byte) ([]byte, error) {
	if len(buf) < 4 || buf[0] != 0x01 || buf[1] != 0x00 || buf[2] != 0x01 || buf[3] != 0x00 {
		return nil, fmt.Errorf("session: not a GIVE-TOKENS+DATA-TRANSFER SPDU: % x", buf)
	}
	return buf[4:], nil
}

// IsTerminating reports whether an SPDU type byte indicates the peer is
// ending the association (FINISH, DISCONNECT, ABORT, or REFUSE).
func IsTerminating(t byte) bool {
	switch SPDUType(t) {
	case SessionSPDUTypeFinish, SessionSPDUTypeDisconnect, SessionSPDUTypeAbort, SessionSPDUTypeRefuse:
		return true
	default:
		return false
	}
}
