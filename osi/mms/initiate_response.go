package mms

import (
	"errors"
	"fmt"
	"strings"

	"github.com/iec61850/mmsclient/ber"
)

// InitiateResponse holds the parameters an MMS server accepted in reply to
// an Initiate-RequestPDU.
type InitiateResponse struct {
	// LocalDetailCalled is the max PDU size the server is willing to
	// accept; optional, nil when the server omitted it.
	LocalDetailCalled                   *uint32
	NegotiatedMaxServOutstandingCalling uint32
	NegotiatedMaxServOutstandingCalled  uint32
	// NegotiatedDataStructureNestingLevel is optional; nil when omitted.
	NegotiatedDataStructureNestingLevel *uint32
	NegotiatedVersionNumber             uint32
	NegotiatedParameterCBB              []ParameterCBBBit
	ServicesSupportedCalled             []ServiceSupportedBit
}

// String implements fmt.Stringer, listing the set bits of NegotiatedParameterCBB
// and ServicesSupportedCalled by name.
func (r *InitiateResponse) String() string {
	var parts []string

	if r.LocalDetailCalled != nil {
		parts = append(parts, fmt.Sprintf("LocalDetailCalled:%d", *r.LocalDetailCalled))
	} else {
		parts = append(parts, "LocalDetailCalled:<nil>")
	}
	parts = append(parts, fmt.Sprintf("NegotiatedMaxServOutstandingCalling:%d", r.NegotiatedMaxServOutstandingCalling))
	parts = append(parts, fmt.Sprintf("NegotiatedMaxServOutstandingCalled:%d", r.NegotiatedMaxServOutstandingCalled))
	if r.NegotiatedDataStructureNestingLevel != nil {
		parts = append(parts, fmt.Sprintf("NegotiatedDataStructureNestingLevel:%d", *r.NegotiatedDataStructureNestingLevel))
	} else {
		parts = append(parts, "NegotiatedDataStructureNestingLevel:<nil>")
	}
	parts = append(parts, fmt.Sprintf("NegotiatedVersionNumber:%d", r.NegotiatedVersionNumber))

	bitNames := make([]string, len(r.NegotiatedParameterCBB))
	for i, bit := range r.NegotiatedParameterCBB {
		bitNames[i] = bit.String()
	}
	parts = append(parts, fmt.Sprintf("NegotiatedParameterCBB:[%s]", strings.Join(bitNames, " ")))

	serviceNames := make([]string, len(r.ServicesSupportedCalled))
	for i, bit := range r.ServicesSupportedCalled {
		serviceNames[i] = bit.String()
	}
	parts = append(parts, fmt.Sprintf("ServicesSupportedCalled:[%s]", strings.Join(serviceNames, " ")))

	return fmt.Sprintf("InitiateResponse{%s}", strings.Join(parts, " "))
}

// ParseInitiateResponse decodes an Initiate-ResponsePDU, tag [9] Application
// constructed:
//
//	a9 len - initiate-ResponsePDU
//	   80 len localDetailCalled (optional)
//	   81 len negotiatedMaxServOutstandingCalling
//	   82 len negotiatedMaxServOutstandingCalled
//	   83 len negotiatedDataStructureNestingLevel (optional)
//	   a4 len - mmsInitResponseDetail
//	      80 len negotiatedVersionNumber
//	      81 len negotiatedParameterCBB (BIT STRING)
//	      82 len servicesSupportedCalled (BIT STRING)
func ParseInitiateResponse(buffer []byte) (*InitiateResponse, error) {
	if len(buffer) == 0 {
		return nil, errors.New("empty buffer")
	}
	if buffer[0] != 0xA9 {
		return nil, fmt.Errorf("invalid tag: expected 0xA9, got 0x%02x", buffer[0])
	}

	response := &InitiateResponse{}
	bufPos := 1
	maxBufPos := len(buffer)

	newPos, length, err := ber.DecodeLength(buffer, bufPos, maxBufPos)
	if err != nil {
		return nil, fmt.Errorf("failed to decode length: %w", err)
	}
	bufPos = newPos
	if bufPos+length > maxBufPos {
		return nil, errors.New("invalid length: exceeds buffer size")
	}
	maxBufPos = bufPos + length

	for bufPos < maxBufPos {
		tag := buffer[bufPos]
		bufPos++

		newPos, length, err := ber.DecodeLength(buffer, bufPos, maxBufPos)
		if err != nil {
			return nil, fmt.Errorf("failed to decode length for tag 0x%02x: %w", tag, err)
		}
		bufPos = newPos
		if bufPos+length > maxBufPos {
			return nil, fmt.Errorf("invalid length for tag 0x%02x: exceeds buffer size", tag)
		}

		switch tag {
		case 0x80:
			value := ber.DecodeUint32(buffer, length, bufPos)
			response.LocalDetailCalled = &value
		case 0x81:
			response.NegotiatedMaxServOutstandingCalling = ber.DecodeUint32(buffer, length, bufPos)
		case 0x82:
			response.NegotiatedMaxServOutstandingCalled = ber.DecodeUint32(buffer, length, bufPos)
		case 0x83:
			value := ber.DecodeUint32(buffer, length, bufPos)
			response.NegotiatedDataStructureNestingLevel = &value
		case 0xA4:
			if err := parseMMSInitResponseDetail(buffer, bufPos, bufPos+length, response); err != nil {
				return nil, err
			}
		case 0x00:
			// indefinite length end tag, nothing to do
		default:
			// unknown tag, skip its content
		}
		bufPos += length
	}

	return response, nil
}

// parseMMSInitResponseDetail decodes the [A4] mmsInitResponseDetail content
// into the version number and the two negotiated capability bit strings.
func parseMMSInitResponseDetail(buffer []byte, start, end int, response *InitiateResponse) error {
	for start < end {
		detailTag := buffer[start]
		start++

		newPos, detailLength, err := ber.DecodeLength(buffer, start, end)
		if err != nil {
			return fmt.Errorf("failed to decode length for detail tag 0x%02x: %w", detailTag, err)
		}
		start = newPos
		if start+detailLength > end {
			return fmt.Errorf("invalid length for detail tag 0x%02x: exceeds buffer size", detailTag)
		}

		switch detailTag {
		case 0x80:
			response.NegotiatedVersionNumber = ber.DecodeUint32(buffer, detailLength, start)

		case 0x81:
			offsets, err := decodeBitString(buffer, start, detailLength, ProposedParameterCBBBitmaskSize, "negotiatedParameterCBB")
			if err != nil {
				return err
			}
			response.NegotiatedParameterCBB = make([]ParameterCBBBit, 0, len(offsets))
			for _, offset := range offsets {
				if offset <= uint(Cei) {
					response.NegotiatedParameterCBB = append(response.NegotiatedParameterCBB, ParameterCBBBit(offset))
				}
			}

		case 0x82:
			offsets, err := decodeBitString(buffer, start, detailLength, ServicesSupportedCallingBitmaskSize, "servicesSupportedCalled")
			if err != nil {
				return err
			}
			response.ServicesSupportedCalled = make([]ServiceSupportedBit, 0, len(offsets))
			for _, offset := range offsets {
				if offset <= uint(Cancel) {
					response.ServicesSupportedCalled = append(response.ServicesSupportedCalled, ServiceSupportedBit(offset))
				}
			}

		case 0x00:
			// indefinite length end tag, nothing to do
		default:
			// unknown tag, skip its content
		}
		start += detailLength
	}
	return nil
}

// decodeBitString reads a BIT STRING's leading unused-bits octet followed
// by its mask bytes, returning the offsets of the bits that are set.
func decodeBitString(buffer []byte, start, length, bitmaskSize int, name string) ([]uint, error) {
	if length < 1 {
		return nil, fmt.Errorf("invalid %s: missing padding byte", name)
	}
	paddingBits := buffer[start]
	bitmaskBytes := length - 1
	if bitmaskBytes == 0 {
		return nil, nil
	}
	bitmask := buffer[start+1 : start+1+bitmaskBytes]
	return ber.DecodeBitmaskFromBytes(bitmask, paddingBits, bitmaskSize), nil
}
