// Package acse implements the ISO 8650 Association Control Service
// Element: the AARQ/AARE handshake that negotiates the MMS application
// context, after which the layer is a transparent pass-through.
package acse

import (
	"errors"
	"fmt"
)

const (
	TypeAARQ byte = 0x60
	TypeAARE byte = 0x61
)

// ResultAccepted is the AARE result value meaning the association was
// accepted.
const ResultAccepted = 0

// applicationContextNameMMS is the OID 1.0.9506.2.3, the only application
// context this client ever proposes.
var applicationContextNameMMS = []byte{0x28, 0xca, 0x22, 0x02, 0x03}

// Identity carries the AP-title/AE-qualifier pair ACSE needs for both
// ends of the association, already BER-encoded by the caller (the config
// layer) so this package stays free of OID string parsing.
type Identity struct {
	APTitle     []byte
	AEQualifier []byte
}

// BuildAARQ builds an Association-Request PDU: application-context-
// name=MMS, calling/called AP-title+AE-qualifier, and userData (the MMS
// Initiate-Request) wrapped as Association-data with indirect-reference 3.
func BuildAARQ(calling, called Identity, userData []byte) []byte {
	content := make([]byte, 0, 64+len(userData))
	content = append(content, 0xA1, byte(len(applicationContextNameMMS)+2))
	content = append(content, 0x06, byte(len(applicationContextNameMMS)))
	content = append(content, applicationContextNameMMS...)

	if len(called.APTitle) > 0 {
		content = append(content, 0xA2)
		content = appendLen(content, len(called.APTitle))
		content = append(content, called.APTitle...)
	}
	if len(called.AEQualifier) > 0 {
		content = append(content, 0xA3)
		content = appendLen(content, len(called.AEQualifier))
		content = append(content, called.AEQualifier...)
	}
	if len(calling.APTitle) > 0 {
		content = append(content, 0xA6)
		content = appendLen(content, len(calling.APTitle))
		content = append(content, calling.APTitle...)
	}
	if len(calling.AEQualifier) > 0 {
		content = append(content, 0xA7)
		content = appendLen(content, len(calling.AEQualifier))
		content = append(content, calling.AEQualifier...)
	}

	userInfo := buildUserInformation(userData)
	content = append(content, 0xBE)
	content = appendLen(content, len(userInfo))
	content = append(content, userInfo...)

	out := make([]byte, 0, len(content)+4)
	out = append(out, TypeAARQ)
	out = appendLen(out, len(content))
	return append(out, content...)
}

func buildUserInformation(userData []byte) []byte {
	encoding := make([]byte, 0, len(userData)+2)
	encoding = append(encoding, 0xA0)
	encoding = appendLen(encoding, len(userData))
	encoding = append(encoding, userData...)

	assocData := make([]byte, 0, len(encoding)+5)
	assocData = append(assocData, 0x02, 0x01, 0x03) // indirect-reference: 3
	assocData = append(assocData, encoding...)

	out := make([]byte, 0, len(assocData)+4)
	out = append(out, 0x28) // EXTERNAL (universal 8, constructed)
	out = appendLen(out, len(assocData))
	return append(out, assocData...)
}

func appendLen(buf []byte, n int) []byte {
	switch {
	case n < 128:
		return append(buf, byte(n))
	case n < 256:
		return append(buf, 0x81, byte(n))
	default:
		return append(buf, 0x82, byte(n>>8), byte(n&0xff))
	}
}

// ACSEPDU is a parsed AARQ or AARE.
type ACSEPDU struct {
	Type                   byte
	ApplicationContextName []byte
	Result                 *int
	ResultSourceDiagnostic []byte
	Data                   []byte // the association-data payload: the wrapped MMS PDU
}

// ParseACSEPDU decodes an AARQ or AARE PDU and extracts the enclosed
// association-data (the MMS PDU carried in user-information).
func ParseACSEPDU(buf []byte) (*ACSEPDU, error) {
	if len(buf) < 2 {
		return nil, fmt.Errorf("acse: PDU too short: %d bytes", len(buf))
	}
	if buf[0] != TypeAARQ && buf[0] != TypeAARE {
		return nil, fmt.Errorf("acse: unrecognized PDU tag 0x%02x", buf[0])
	}

	pdu := &ACSEPDU{Type: buf[0]}
	pos, length, err := decodeLength(buf, 1)
	if err != nil {
		return nil, fmt.Errorf("acse: failed to decode PDU length: %w", err)
	}
	end := pos + length
	if end > len(buf) {
		return nil, errors.New("acse: PDU length exceeds buffer")
	}

	for pos < end {
		tag := buf[pos]
		pos++
		newPos, l, err := decodeLength(buf, pos)
		if err != nil {
			return nil, fmt.Errorf("acse: failed to decode length for tag 0x%02x: %w", tag, err)
		}
		pos = newPos
		if pos+l > end {
			return nil, fmt.Errorf("acse: tag 0x%02x overruns PDU", tag)
		}
		val := buf[pos : pos+l]
		pos += l

		switch tag {
		case 0xA1: // application-context-name
			pdu.ApplicationContextName = extractOID(val)
		case 0xA2: // result (AARE)
			if v, ok := extractInt(val); ok {
				pdu.Result = &v
			}
		case 0xA3: // result-source-diagnostic (AARE)
			pdu.ResultSourceDiagnostic = append([]byte(nil), val...)
		case 0xBE: // user-information
			data, err := extractAssociationData(val)
			if err != nil {
				return nil, err
			}
			pdu.Data = data
		default:
			// AP-title/AE-qualifier fields and anything else are not
			// needed beyond the handshake itself.
		}
	}

	return pdu, nil
}

func extractOID(buf []byte) []byte {
	if len(buf) >= 2 && buf[0] == 0x06 {
		n := int(buf[1])
		if 2+n <= len(buf) {
			return append([]byte(nil), buf[2:2+n]...)
		}
	}
	return nil
}

func extractInt(buf []byte) (int, bool) {
	if len(buf) >= 2 && buf[0] == 0x02 {
		n := int(buf[1])
		if 2+n <= len(buf) && n > 0 {
			v := 0
			for _, b := range buf[2 : 2+n] {
				v = v<<8 | int(b)
			}
			return v, true
		}
	}
	return 0, false
}

func extractAssociationData(buf []byte) ([]byte, error) {
	if len(buf) < 2 || buf[0] != 0x28 {
		return nil, fmt.Errorf("acse: expected Association-data (0x28), got 0x%02x", buf[0])
	}
	pos, l, err := decodeLength(buf, 1)
	if err != nil {
		return nil, fmt.Errorf("acse: failed to decode association-data length: %w", err)
	}
	end := pos + l
	if end > len(buf) {
		return nil, errors.New("acse: association-data length exceeds buffer")
	}

	for pos < end {
		tag := buf[pos]
		pos++
		newPos, vl, err := decodeLength(buf, pos)
		if err != nil {
			return nil, fmt.Errorf("acse: failed to decode field length for tag 0x%02x: %w", tag, err)
		}
		pos = newPos
		val := buf[pos : pos+vl]
		pos += vl

		if tag == 0xA0 { // encoding: single-ASN1-type
			return append([]byte(nil), val...), nil
		}
		// tag == 0x02 (indirect-reference) is skipped; this client
		// always expects single-ASN1-type encoding.
	}
	return nil, errors.New("acse: association-data missing single-ASN1-type encoding")
}

func decodeLength(buf []byte, pos int) (newPos int, length int, err error) {
	if pos >= len(buf) {
		return 0, 0, errors.New("acse: truncated length")
	}
	b := buf[pos]
	pos++
	if b&0x80 == 0 {
		return pos, int(b), nil
	}
	n := int(b & 0x7f)
	if n == 0 || pos+n > len(buf) {
		return 0, 0, errors.New("acse: invalid long-form length")
	}
	length = 0
	for i := 0; i < n; i++ {
		length = length<<8 | int(buf[pos+i])
	}
	return pos + n, length, nil
}
