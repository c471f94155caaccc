package mms

import (
	"fmt"

	"github.com/iec61850/mmsclient/ber"
)

// RejectPDU-Problem CHOICE tags (ISO/IEC 9506-2 Annex A), used only to
// describe a reject for logging/errors; this client never needs to act
// differently depending on which one fired.
var rejectProblemNames = map[byte]string{
	1: "confirmed-requestPDU",
	2: "confirmed-responsePDU",
	3: "confirmed-errorPDU",
	4: "unconfirmedPDU",
	5: "pdu",
	6: "cancel-requestPDU",
	7: "conclude-requestPDU",
	8: "cancel-responsePDU",
	9: "conclude-responsePDU",
}

// peekRejectInvokeID extracts the optional originalInvokeID [0] from a
// Reject-PDU (tag 0xA4), if present.
//
//	RejectPDU ::= SEQUENCE {
//	  originalInvokeID [0] IMPLICIT Unsigned32 OPTIONAL,
//	  problem CHOICE { ... }
//	}
func peekRejectInvokeID(buf []byte) (uint32, bool) {
	if len(buf) < 2 || buf[0] != pduReject {
		return 0, false
	}
	pos, length, err := decodeBERLength(buf, 1)
	if err != nil || pos+length > len(buf) {
		return 0, false
	}
	content := buf[pos : pos+length]
	if len(content) < 2 || content[0] != 0x80 {
		return 0, false
	}
	vPos, vLen, err := decodeBERLength(content, 1)
	if err != nil || vPos+vLen > len(content) {
		return 0, false
	}
	val := content[vPos : vPos+vLen]
	return ber.DecodeUint32(val, len(val), 0), true
}

// describeReject formats a Reject-PDU for logging and for the error
// surfaced to the caller of Dispatcher.Call.
func describeReject(buf []byte) string {
	if len(buf) < 2 || buf[0] != pduReject {
		return fmt.Sprintf("malformed reject PDU (tag 0x%02x)", safeByte(buf, 0))
	}
	pos, length, err := decodeBERLength(buf, 1)
	if err != nil || pos+length > len(buf) {
		return "malformed reject PDU"
	}
	content := buf[pos : pos+length]

	p := 0
	if p < len(content) && content[p] == 0x80 {
		p++
		newPos, l, err := decodeBERLength(content, p)
		if err != nil || newPos+l > len(content) {
			return "malformed reject PDU"
		}
		p = newPos + l
	}
	if p >= len(content) {
		return "reject PDU with no problem field"
	}
	tag := content[p]
	p++
	newPos, l, err := decodeBERLength(content, p)
	if err != nil || newPos+l > len(content) {
		return "malformed reject problem field"
	}
	val := content[newPos : newPos+l]

	name, ok := rejectProblemNames[tag&0x1f]
	if !ok {
		name = fmt.Sprintf("problem(0x%02x)", tag)
	}
	code := 0
	if len(val) > 0 {
		code = int(val[0])
	}
	return fmt.Sprintf("%s, code %d", name, code)
}

// ErrorClass is the outer CHOICE of a confirmed-ErrorPDU's ServiceError
// (ISO/IEC 9506-2 Annex A).
type ErrorClass int

const (
	ErrorClassVMDState ErrorClass = iota
	ErrorClassApplicationReference
	ErrorClassDefinition
	ErrorClassResource
	ErrorClassService
	ErrorClassServicePreempt
	ErrorClassTimeResolution
	ErrorClassAccess
	ErrorClassInitiate
	ErrorClassConclude
	ErrorClassCancel
	ErrorClassOthers
)

func (c ErrorClass) String() string {
	switch c {
	case ErrorClassVMDState:
		return "vmd-state"
	case ErrorClassApplicationReference:
		return "application-reference"
	case ErrorClassDefinition:
		return "definition"
	case ErrorClassResource:
		return "resource"
	case ErrorClassService:
		return "service"
	case ErrorClassServicePreempt:
		return "service-preempt"
	case ErrorClassTimeResolution:
		return "time-resolution"
	case ErrorClassAccess:
		return "access"
	case ErrorClassInitiate:
		return "initiate"
	case ErrorClassConclude:
		return "conclude"
	case ErrorClassCancel:
		return "cancel"
	default:
		return "others"
	}
}

// ServiceError is the decoded confirmed-ErrorPDU body (tag 0xA2): the
// service-level failure a server reports instead of a normal response.
// Distinct from a DataAccessError, which fails one item of an otherwise
// successful response.
type ServiceError struct {
	InvokeID    uint32
	ErrorClass  ErrorClass
	Code        int
	Description string
}

func (e *ServiceError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("mms: confirmed-error: %s/%d: %s", e.ErrorClass, e.Code, e.Description)
	}
	return fmt.Sprintf("mms: confirmed-error: %s/%d", e.ErrorClass, e.Code)
}

// ParseServiceError decodes a top-level confirmed-ErrorPDU (tag 0xA2).
//
//	confirmed-ErrorPDU ::= SEQUENCE {
//	  invokeID     [0] IMPLICIT Unsigned32,
//	  serviceError        ServiceError
//	}
//	ServiceError ::= SEQUENCE {
//	  errorClass [0] CHOICE { ... } INTEGER,
//	  additionalCode [1] INTEGER OPTIONAL,
//	  additionalDescription [2] VisibleString OPTIONAL
//	}
func ParseServiceError(buffer []byte) (*ServiceError, error) {
	if len(buffer) < 2 || buffer[0] != pduConfirmedError {
		return nil, fmt.Errorf("mms: expected confirmed-ErrorPDU (0x%02x), got 0x%02x", pduConfirmedError, safeByte(buffer, 0))
	}
	pos, length, err := decodeBERLength(buffer, 1)
	if err != nil || pos+length > len(buffer) {
		return nil, fmt.Errorf("mms: malformed confirmed-ErrorPDU")
	}
	content := buffer[pos : pos+length]

	out := &ServiceError{}
	p := 0
	if p >= len(content) || content[p] != byte(ber.Integer) {
		return nil, fmt.Errorf("mms: expected invokeID INTEGER, got 0x%02x", safeByte(content, p))
	}
	p++
	newPos, l, err := decodeBERLength(content, p)
	if err != nil || newPos+l > len(content) {
		return nil, fmt.Errorf("mms: invokeID overruns buffer")
	}
	out.InvokeID = ber.DecodeUint32(content[newPos:newPos+l], l, 0)
	p = newPos + l

	if p >= len(content) || content[p] != 0x30 {
		return nil, fmt.Errorf("mms: expected serviceError SEQUENCE (0x30), got 0x%02x", safeByte(content, p))
	}
	p++
	newPos, l, err = decodeBERLength(content, p)
	if err != nil || newPos+l > len(content) {
		return nil, fmt.Errorf("mms: serviceError overruns buffer")
	}
	serviceError := content[newPos : newPos+l]

	sp := 0
	for sp < len(serviceError) {
		tag := serviceError[sp]
		sp++
		sNewPos, sLen, err := decodeBERLength(serviceError, sp)
		if err != nil || sNewPos+sLen > len(serviceError) {
			return nil, fmt.Errorf("mms: serviceError field overruns buffer")
		}
		val := serviceError[sNewPos : sNewPos+sLen]
		sp = sNewPos + sLen

		switch tag {
		case 0xA0: // errorClass CHOICE, content is one context tag holding the code
			if len(val) >= 2 {
				out.ErrorClass = ErrorClass(val[0] & 0x1f)
				inner, innerLen, err := decodeBERLength(val, 1)
				if err == nil && inner+innerLen <= len(val) {
					out.Code = int(ber.DecodeUint32(val[inner:inner+innerLen], innerLen, 0))
				}
			}
		case 0x81: // additionalCode
			out.Code = int(ber.DecodeUint32(val, len(val), 0))
		case 0x82: // additionalDescription
			out.Description = string(val)
		}
	}

	return out, nil
}
