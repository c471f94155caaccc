package mms

import (
	"github.com/iec61850/mmsclient/ber"
)

// buildDomainSpecificObjectName encodes ObjectName ::= CHOICE { domain-specific
// [1] SEQUENCE { domainId Identifier, itemId Identifier } }, both identifiers
// as VisibleString (0x1A), the only ObjectName form this client ever sends.
// Every request builder in this package that names a domain-specific object
// uses it.
func buildDomainSpecificObjectName(domainID, itemID string) []byte {
	inner := make([]byte, 512)
	innerPos := 0
	innerPos = ber.EncodeStringWithTag(byte(ber.VisibleString), domainID, inner, innerPos)
	innerPos = ber.EncodeStringWithTag(byte(ber.VisibleString), itemID, inner, innerPos)
	domainSpecific := inner[:innerPos]

	outer := make([]byte, 512)
	outerPos := ber.EncodeTL(byte(ber.ContextSpecific1Constructed), uint32(len(domainSpecific)), outer, 0)
	copy(outer[outerPos:], domainSpecific)
	outerPos += len(domainSpecific)
	return outer[:outerPos]
}

// wrapConfirmedRequest wraps serviceContent (already tagged with its
// confirmedServiceRequest CHOICE tag) in the confirmed-RequestPDU envelope:
// invokeID as a plain INTEGER followed by the service content, per the real
// captures ReadRequest/GetVariableAccessAttributesRequest are built from.
func wrapConfirmedRequest(invokeID uint32, serviceContent []byte) []byte {
	intBuf := make([]byte, 8)
	intPos := ber.EncodeUInt32(invokeID, intBuf, 0)
	intValue := intBuf[:intPos]

	content := make([]byte, 0, 8+len(intValue)+len(serviceContent))
	content = append(content, byte(ber.Integer))
	content = appendLength(content, len(intValue))
	content = append(content, intValue...)
	content = append(content, serviceContent...)

	out := make([]byte, 0, len(content)+6)
	out = append(out, byte(ber.ContextSpecific0Constructed))
	out = appendLength(out, len(content))
	return append(out, content...)
}

// appendLength appends a BER definite length in short or long form.
func appendLength(buf []byte, n int) []byte {
	switch {
	case n < 128:
		return append(buf, byte(n))
	case n < 256:
		return append(buf, 0x81, byte(n))
	default:
		return append(buf, 0x82, byte(n>>8), byte(n&0xff))
	}
}

// appendTag appends a single-byte tag (number < 31, of any class and form)
// with its length and content.
func appendTag(buf []byte, tag byte, content []byte) []byte {
	buf = append(buf, tag)
	buf = appendLength(buf, len(content))
	return append(buf, content...)
}

// appendHighTag appends a multi-byte context-specific tag (service number
// >= 31, used by the MMS file services) with its length and content.
// tagNumber must be < 128 (true for every file-service tag this client uses).
func appendHighTag(buf []byte, constructed bool, tagNumber byte, content []byte) []byte {
	class := byte(0x80)
	if constructed {
		class |= 0x20
	}
	buf = append(buf, class|0x1F, tagNumber)
	buf = appendLength(buf, len(content))
	return append(buf, content...)
}
