package mms

import (
	"errors"
	"fmt"

	"github.com/iec61850/mmsclient/ber"
)

// NameListScope selects the GetNameList-Request objectScope CHOICE: the
// whole VMD, one domain, or the calling application association.
type NameListScope int

const (
	ScopeVMD NameListScope = iota
	ScopeDomain
	ScopeAA
)

// GetNameListRequest encodes ISO/IEC 9506-2's GetNameList-Request: an
// ObjectClass tag, an objectScope, and an optional continueAfter
// identifier used to page through long lists.
type GetNameListRequest struct {
	InvokeID      uint32
	ObjectClass   ObjectClass
	Scope         NameListScope
	DomainID      string // used when Scope == ScopeDomain
	ContinueAfter string // "" means first page
}

// Bytes encodes the confirmed-RequestPDU carrying this GetNameList-Request,
// tag [1] per the ConfirmedServiceRequest CHOICE.
func (r *GetNameListRequest) Bytes() []byte {
	var content []byte

	// extendedObjectClass [0] CHOICE { objectClass [0] IMPLICIT INTEGER }
	objectClassContent := make([]byte, 8)
	n := ber.EncodeUInt32(uint32(r.ObjectClass), objectClassContent, 0)
	objectClass := appendTag(nil, 0xA0, appendTag(nil, 0x80, objectClassContent[:n]))
	content = append(content, objectClass...)

	var scope []byte
	switch r.Scope {
	case ScopeVMD:
		scope = appendTag(nil, 0xA1, []byte{0x80, 0x00})
	case ScopeDomain:
		scope = appendTag(nil, 0xA1, appendTag(nil, 0x81, []byte(r.DomainID)))
	case ScopeAA:
		scope = appendTag(nil, 0xA1, []byte{0x82, 0x00})
	}
	content = append(content, scope...)

	// continueAfter [2] IMPLICIT Identifier
	if r.ContinueAfter != "" {
		content = append(content, appendTag(nil, 0x82, []byte(r.ContinueAfter))...)
	}

	return wrapConfirmedRequest(r.InvokeID, appendTag(nil, 0xA1, content))
}

// GetNameListResponse is one page of identifiers plus whether another
// request with ContinueAfter=last identifier is needed.
type GetNameListResponse struct {
	Identifiers []string
	MoreFollows bool
}

// ParseGetNameListResponse decodes confirmedServiceResponse:getNameList [1].
func ParseGetNameListResponse(buffer []byte) (*GetNameListResponse, error) {
	pos, resp, err := unwrapConfirmedResponse(buffer, 0xA1)
	if err != nil {
		return nil, err
	}
	_ = pos

	out := &GetNameListResponse{MoreFollows: true}

	p := 0
	for p < len(resp) {
		tag := resp[p]
		p++
		newPos, length, err := decodeBERLength(resp, p)
		if err != nil {
			return nil, fmt.Errorf("mms: getNameList response: %w", err)
		}
		p = newPos
		if p+length > len(resp) {
			return nil, errors.New("mms: getNameList response field overruns buffer")
		}
		val := resp[p : p+length]
		p += length

		switch tag {
		case 0xA0: // listOfIdentifier
			ids, err := parseVisibleStringSequence(val)
			if err != nil {
				return nil, err
			}
			out.Identifiers = ids
		case 0x81: // moreFollows BOOLEAN
			out.MoreFollows = length > 0 && val[0] != 0
		}
	}

	return out, nil
}

func parseVisibleStringSequence(buf []byte) ([]string, error) {
	var out []string
	p := 0
	for p < len(buf) {
		if buf[p] != byte(ber.VisibleString) {
			return nil, fmt.Errorf("mms: expected VisibleString (0x1a), got 0x%02x", buf[p])
		}
		p++
		newPos, length, err := decodeBERLength(buf, p)
		if err != nil {
			return nil, err
		}
		p = newPos
		if p+length > len(buf) {
			return nil, errors.New("mms: VisibleString overruns buffer")
		}
		out = append(out, string(buf[p:p+length]))
		p += length
	}
	return out, nil
}

// decodeBERLength decodes a definite BER length at buf[pos], returning the
// position just past it.
func decodeBERLength(buf []byte, pos int) (newPos int, length int, err error) {
	if pos >= len(buf) {
		return 0, 0, errors.New("mms: truncated length")
	}
	b := buf[pos]
	pos++
	if b&0x80 == 0 {
		return pos, int(b), nil
	}
	n := int(b & 0x7f)
	if n == 0 || pos+n > len(buf) {
		return 0, 0, errors.New("mms: invalid long-form length")
	}
	length = 0
	for i := 0; i < n; i++ {
		length = length<<8 | int(buf[pos+i])
	}
	return pos + n, length, nil
}

// unwrapConfirmedResponse strips the confirmed-ResponsePDU envelope
// (invokeID + confirmedServiceResponse wrapper) and returns the bytes of
// the inner expectedTag value, tolerating the two shapes the existing
// ReadResponse parser already tolerates: a leading 0xA0/0xA1 wrapper or a
// bare invokeID+service pair.
func unwrapConfirmedResponse(buffer []byte, expectedTag byte) (int, []byte, error) {
	if len(buffer) < 2 {
		return 0, nil, errors.New("mms: response too short")
	}

	buf := buffer
	if buf[0] == 0xA0 || buf[0] == 0xA1 {
		pos, length, err := decodeBERLength(buf, 1)
		if err != nil {
			return 0, nil, err
		}
		end := pos + length
		if end > len(buf) {
			return 0, nil, errors.New("mms: response PDU length exceeds buffer")
		}
		buf = buf[pos:end]
	}

	p := 0
	if p >= len(buf) || buf[p] != byte(ber.Integer) {
		return 0, nil, fmt.Errorf("mms: expected invokeID INTEGER, got 0x%02x", safeByte(buf, p))
	}
	p++
	newPos, length, err := decodeBERLength(buf, p)
	if err != nil {
		return 0, nil, err
	}
	p = newPos + length

	if p >= len(buf) {
		return 0, nil, errors.New("mms: response missing confirmedServiceResponse")
	}
	tag := buf[p]
	p++
	newPos, length, err = decodeBERLength(buf, p)
	if err != nil {
		return 0, nil, err
	}
	p = newPos
	if p+length > len(buf) {
		return 0, nil, errors.New("mms: confirmedServiceResponse overruns buffer")
	}
	serviceContent := buf[p : p+length]

	if tag != expectedTag {
		return 0, nil, fmt.Errorf("mms: expected confirmedServiceResponse tag 0x%02x, got 0x%02x", expectedTag, tag)
	}

	return p + length, serviceContent, nil
}

func safeByte(buf []byte, pos int) byte {
	if pos < len(buf) {
		return buf[pos]
	}
	return 0
}
