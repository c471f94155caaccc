// Package presentation implements the ISO 8823 presentation layer, normal
// mode: the CP/CPA connection handshake and the PDV wrapping every later
// message uses once the abstract/transfer syntax contexts are agreed.
package presentation

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/iec61850/mmsclient/ber"
)

// PresentationPDUType is the outer tag byte a presentation-connection PDU
// is encoded with. CP-type and CPA-PPDU share the same tag in this
// implementation, matching what every capture in this corpus shows.
type PresentationPDUType byte

const (
	CP  PresentationPDUType = 0x31
	CPA PresentationPDUType = 0x31
	// UserData is the [APPLICATION 1] user-data PDU that carries every
	// message after the CP/CPA handshake.
	UserData PresentationPDUType = 0x61
)

// PresentationContext is one entry of a presentation-context-definition-list:
// an abstract syntax (OID) paired with its (single) transfer syntax.
type PresentationContext struct {
	ID             byte
	AbstractSyntax []byte
	TransferSyntax []byte
}

// Context identifiers this client always uses.
const (
	ContextIDACSE = 1
	ContextIDMMS  = 3
)

var (
	oidACSE = []byte{0x52, 0x01, 0x00, 0x01}       // 2.2.1.0.1, id-as-acse
	oidMMS  = []byte{0x28, 0xca, 0x22, 0x02, 0x01} // 1.0.9506.2.1, mms-abstract-syntax-version1
	oidBER  = []byte{0x51, 0x01}                   // 2.1.1, basic-encoding
)

// PresentationDataValuesType enumerates how presentation-data-values is
// tagged; this client only ever produces/consumes single-ASN1-type.
const (
	PDVSingleASN1Type = 0
)

// appendBERLength appends a BER length field (short form under 128, long
// form otherwise), mirroring ber.EncodeLength's encoding but in
// append-style since the byte budget here isn't known up front.
func appendBERLength(buf []byte, n int) []byte {
	switch {
	case n < 128:
		return append(buf, byte(n))
	case n < 256:
		return append(buf, 0x81, byte(n))
	case n < 65536:
		return append(buf, 0x82, byte(n>>8), byte(n&0xff))
	default:
		return append(buf, 0x83, byte(n>>16), byte((n>>8)&0xff), byte(n&0xff))
	}
}

// PresentationPDU is a parsed CP-type or CPA-PPDU.
type PresentationPDU struct {
	Type                           PresentationPDUType
	ModeValue                      int
	CallingPresentationSelector    []byte
	CalledPresentationSelector     []byte
	RespondingPresentationSelector []byte
	ContextDefinitionList          []PresentationContext
	PresentationContextId          byte
	PresentationDataValuesType     int
	AcseContextId                  byte
	Data                           []byte
}

// BuildCPType builds a CP-type: mode-selector=normal-mode, protocol-version
// version-1, calling and called presentation selectors, a
// context-definition-list offering context 1 (ACSE) and context 3 (MMS),
// both with basic-encoding transfer syntax, and userData wrapped as the
// ACSE user-information on context 1.
func BuildCPType(callingSel, calledSel, userData []byte) []byte {
	contextList := buildContextDefinitionList()
	wrapped := wrapFullyEncodedData(ContextIDACSE, userData)

	normalModeParams := make([]byte, 0, 64)
	normalModeParams = append(normalModeParams, 0x80, 0x02, 0x07, 0x80) // protocol-version: {version-1}
	normalModeParams = append(normalModeParams, 0x81)
	normalModeParams = appendBERLength(normalModeParams, len(callingSel))
	normalModeParams = append(normalModeParams, callingSel...)

	normalModeParams = append(normalModeParams, 0x82)
	normalModeParams = appendBERLength(normalModeParams, len(calledSel))
	normalModeParams = append(normalModeParams, calledSel...)

	normalModeParams = append(normalModeParams, 0xA4)
	normalModeParams = appendBERLength(normalModeParams, len(contextList))
	normalModeParams = append(normalModeParams, contextList...)

	normalModeParams = append(normalModeParams, 0x61)
	normalModeParams = appendBERLength(normalModeParams, len(wrapped))
	normalModeParams = append(normalModeParams, wrapped...)

	content := make([]byte, 0, len(normalModeParams)+8)
	content = append(content, 0xA0, 0x03, 0x80, 0x01, 0x01)
	content = append(content, 0xA2)
	content = appendBERLength(content, len(normalModeParams))
	content = append(content, normalModeParams...)

	out := make([]byte, 0, len(content)+4)
	out = append(out, byte(CP))
	out = appendBERLength(out, len(content))
	return append(out, content...)
}

func buildContextDefinitionList() []byte {
	item1 := make([]byte, 0, 16)
	item1 = append(item1, 0x02, 0x01, ContextIDACSE)
	item1 = append(item1, 0x06, byte(len(oidACSE)))
	item1 = append(item1, oidACSE...)
	item1 = append(item1, 0x30, byte(2+len(oidBER)), 0x06, byte(len(oidBER)))
	item1 = append(item1, oidBER...)
	seq1 := append([]byte{0x30, byte(len(item1))}, item1...)

	item2 := make([]byte, 0, 16)
	item2 = append(item2, 0x02, 0x01, ContextIDMMS)
	item2 = append(item2, 0x06, byte(len(oidMMS)))
	item2 = append(item2, oidMMS...)
	item2 = append(item2, 0x30, byte(2+len(oidBER)), 0x06, byte(len(oidBER)))
	item2 = append(item2, oidBER...)
	seq2 := append([]byte{0x30, byte(len(item2))}, item2...)

	out := make([]byte, 0, len(seq1)+len(seq2))
	out = append(out, seq1...)
	out = append(out, seq2...)
	return out
}

// wrapFullyEncodedData wraps payload as the single-PDV fully-encoded-data
// structure used both for the ACSE user-information on CP and for every
// MMS message after association.
func wrapFullyEncodedData(contextID byte, payload []byte) []byte {
	pdv := make([]byte, 0, len(payload)+8)
	pdv = append(pdv, 0x02, 0x01, contextID)
	pdv = append(pdv, 0xA0)
	pdv = appendBERLength(pdv, len(payload))
	pdv = append(pdv, payload...)

	seq := make([]byte, 0, len(pdv)+4)
	seq = append(seq, 0x30)
	seq = appendBERLength(seq, len(pdv))
	return append(seq, pdv...)
}

// BuildUserData wraps an upper-layer (ACSE or MMS) payload as a
// fully-encoded-data user-data field, tagged Application 1, ready to be
// handed to the session layer as the data-transfer payload.
func BuildUserData(contextID byte, payload []byte) []byte {
	wrapped := wrapFullyEncodedData(contextID, payload)
	out := make([]byte, 0, len(wrapped)+4)
	out = append(out, 0x61)
	out = appendBERLength(out, len(wrapped))
	return append(out, wrapped...)
}

// ParsePresentationPDU decodes a CP-type, CPA-PPDU, or post-handshake
// user-data PDU.
func ParsePresentationPDU(buf []byte) (*PresentationPDU, error) {
	if len(buf) < 2 {
		return nil, fmt.Errorf("presentation: PDU too short: %d bytes", len(buf))
	}

	pdu := &PresentationPDU{Type: PresentationPDUType(buf[0])}
	if pdu.Type != CP && pdu.Type != UserData {
		return nil, fmt.Errorf("presentation: unrecognized PDU tag 0x%02x", buf[0])
	}

	pos, length, err := ber.DecodeLength(buf, 1, len(buf))
	if err != nil {
		return nil, fmt.Errorf("presentation: failed to decode PDU length: %w", err)
	}
	end := pos + length
	if end > len(buf) {
		return nil, errors.New("presentation: PDU length exceeds buffer")
	}

	// A user-data PDU's content is the fully-encoded-data SEQUENCE itself,
	// not the mode-selector/normal-mode-parameters wrapping of CP/CPA.
	if pdu.Type == UserData {
		if err := parseFullyEncodedData(pdu, buf[pos:end]); err != nil {
			return nil, err
		}
		if len(pdu.Data) == 0 {
			return nil, errors.New("presentation: user-data missing PDV")
		}
		return pdu, nil
	}

	for pos < end {
		tag := buf[pos]
		pos++
		newPos, l, err := ber.DecodeLength(buf, pos, end)
		if err != nil {
			return nil, fmt.Errorf("presentation: failed to decode length for tag 0x%02x: %w", tag, err)
		}
		pos = newPos
		if pos+l > end {
			return nil, fmt.Errorf("presentation: tag 0x%02x overruns PDU", tag)
		}
		val := buf[pos : pos+l]
		pos += l

		switch tag {
		case 0xA0: // mode-selector
			if err := parseModeSelector(pdu, val); err != nil {
				return nil, err
			}
		case 0xA2: // normal-mode-parameters
			if err := parseNormalModeParameters(pdu, val); err != nil {
				return nil, err
			}
		default:
			// tolerated for interoperability
		}
	}

	return pdu, nil
}

func parseModeSelector(pdu *PresentationPDU, buf []byte) error {
	if len(buf) < 3 || buf[0] != 0x80 {
		return errors.New("presentation: mode-selector missing mode-value")
	}
	l := int(buf[1])
	if 2+l > len(buf) {
		return errors.New("presentation: mode-value overruns mode-selector")
	}
	pdu.ModeValue = int(buf[2])
	return nil
}

func parseNormalModeParameters(pdu *PresentationPDU, buf []byte) error {
	pos := 0
	end := len(buf)
	for pos < end {
		tag := buf[pos]
		pos++
		newPos, l, err := ber.DecodeLength(buf, pos, end)
		if err != nil {
			return fmt.Errorf("presentation: failed to decode length for tag 0x%02x: %w", tag, err)
		}
		pos = newPos
		if pos+l > end {
			return fmt.Errorf("presentation: normal-mode-parameters tag 0x%02x overruns", tag)
		}
		val := buf[pos : pos+l]
		pos += l

		switch tag {
		case 0x81: // calling-presentation-selector
			pdu.CallingPresentationSelector = append([]byte(nil), val...)
		case 0x82: // called-presentation-selector
			pdu.CalledPresentationSelector = append([]byte(nil), val...)
		case 0x83: // responding-presentation-selector
			pdu.RespondingPresentationSelector = append([]byte(nil), val...)
		case 0xA4: // presentation-context-definition-list
			list, err := parseContextDefinitionList(val)
			if err != nil {
				return err
			}
			pdu.ContextDefinitionList = list
		case 0xA5: // presentation-context-definition-result-list (CPA)
			// Results don't carry context ids; the client already knows
			// which ids it proposed, so nothing further is extracted here.
		case 0x61: // user-data: fully-encoded-data
			if err := parseFullyEncodedData(pdu, val); err != nil {
				return err
			}
		default:
			// tolerated for interoperability
		}
	}
	return nil
}

func parseContextDefinitionList(buf []byte) ([]PresentationContext, error) {
	var list []PresentationContext
	pos := 0
	end := len(buf)
	for pos < end {
		if buf[pos] != 0x30 {
			return nil, fmt.Errorf("presentation: expected SEQUENCE in context-definition-list, got 0x%02x", buf[pos])
		}
		pos++
		newPos, l, err := ber.DecodeLength(buf, pos, end)
		if err != nil {
			return nil, fmt.Errorf("presentation: failed to decode context item length: %w", err)
		}
		pos = newPos
		item := buf[pos : pos+l]
		pos += l

		ctx, err := parseContextItem(item)
		if err != nil {
			return nil, err
		}
		list = append(list, ctx)
	}
	return list, nil
}

func parseContextItem(buf []byte) (PresentationContext, error) {
	var ctx PresentationContext
	pos := 0
	end := len(buf)
	for pos < end {
		tag := buf[pos]
		pos++
		newPos, l, err := ber.DecodeLength(buf, pos, end)
		if err != nil {
			return ctx, fmt.Errorf("presentation: failed to decode context-item field length: %w", err)
		}
		pos = newPos
		val := buf[pos : pos+l]
		pos += l

		switch tag {
		case 0x02: // presentation-context-identifier
			if len(val) >= 1 {
				ctx.ID = val[len(val)-1]
			}
		case 0x06: // abstract-syntax-name
			ctx.AbstractSyntax = append([]byte(nil), val...)
		case 0x30: // transfer-syntax-name-list (single entry expected)
			if len(val) >= 2 && val[0] == 0x06 {
				ctx.TransferSyntax = append([]byte(nil), val[2:]...)
			}
		}
	}
	return ctx, nil
}

func parseFullyEncodedData(pdu *PresentationPDU, buf []byte) error {
	if len(buf) < 2 || buf[0] != 0x30 {
		return fmt.Errorf("presentation: expected fully-encoded-data SEQUENCE, got 0x%02x", buf[0])
	}
	pos, l, err := ber.DecodeLength(buf, 1, len(buf))
	if err != nil {
		return fmt.Errorf("presentation: failed to decode fully-encoded-data length: %w", err)
	}
	end := pos + l
	if end > len(buf) {
		return errors.New("presentation: fully-encoded-data length exceeds buffer")
	}

	for pos < end {
		tag := buf[pos]
		pos++
		newPos, vl, err := ber.DecodeLength(buf, pos, end)
		if err != nil {
			return fmt.Errorf("presentation: failed to decode PDV field length: %w", err)
		}
		pos = newPos
		val := buf[pos : pos+vl]
		pos += vl

		switch tag {
		case 0x02: // presentation-context-identifier
			if len(val) >= 1 {
				pdu.PresentationContextId = val[len(val)-1]
			}
		case 0x06: // transfer-syntax-name, optional; only BER is admissible
			if !bytes.Equal(val, oidBER) {
				return fmt.Errorf("presentation: unsupported transfer syntax % x", val)
			}
		case 0xA0: // presentation-data-values: single-ASN1-type
			pdu.PresentationDataValuesType = PDVSingleASN1Type
			pdu.Data = append([]byte(nil), val...)
		}
	}
	return nil
}
