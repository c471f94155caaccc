package mms

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/iec61850/mmsclient/ber"
	"github.com/iec61850/mmsclient/osi/mms/variant"
)

// Data ::= CHOICE tag numbers (ISO/IEC 9506-2 Annex A), encoded as
// context-specific tags. Only the alternatives below are modeled; any other
// tag (binary-time, bcd, booleanArray, objId, mMSString, ...) is decoded
// into a variant.Unsupported holding its raw encoding, and encodeData
// writes such a value back out unchanged.
const (
	dataTagArray         byte = 0xA0 // [0] IMPLICIT SEQUENCE OF Data, constructed
	dataTagStructure     byte = 0xA1 // [1] IMPLICIT SEQUENCE OF Data, constructed
	dataTagBoolean       byte = 0x83 // [3] IMPLICIT BOOLEAN
	dataTagBitString     byte = 0x84 // [4] IMPLICIT BIT STRING
	dataTagInteger       byte = 0x85 // [5] IMPLICIT INTEGER
	dataTagFloatingPoint byte = 0x87 // [7] IMPLICIT FloatingPoint
	dataTagOctetString   byte = 0x89 // [9] IMPLICIT OCTET STRING
	dataTagVisibleString byte = 0x8A // [10] IMPLICIT VisibleString
	dataTagUTCTime       byte = 0x91 // [17] IMPLICIT UtcTime
)

// encodeData returns the BER encoding of a single Data value (the value
// half of Write-Request's listOfData, keyed to the same tag numbering Read
// decodes).
func encodeData(v *variant.Variant) ([]byte, error) {
	if v == nil {
		return nil, fmt.Errorf("mms: cannot encode nil Data value")
	}

	switch v.Type() {
	case variant.Bool:
		val := byte(0x00)
		if v.Bool() {
			val = 0xFF
		}
		return appendTag(nil, dataTagBoolean, []byte{val}), nil

	case variant.Int32:
		content := make([]byte, 8)
		n := ber.EncodeInt32(v.Int32(), content, 0)
		return appendTag(nil, dataTagInteger, content[:n]), nil

	case variant.Float32:
		bits := math.Float32bits(v.Float32())
		content := make([]byte, 5)
		content[0] = 0x08 // format: IEEE 754 single precision exponent width
		binary.BigEndian.PutUint32(content[1:], bits)
		return appendTag(nil, dataTagFloatingPoint, content), nil

	case variant.OctetString:
		return appendTag(nil, dataTagOctetString, v.OctetString()), nil

	case variant.VisibleString:
		return appendTag(nil, dataTagVisibleString, []byte(v.VisibleString())), nil

	case variant.BitString:
		bs := v.BitString()
		padding := (8 - bs.BitSize%8) % 8
		content := append([]byte{byte(padding)}, bs.Data...)
		return appendTag(nil, dataTagBitString, content), nil

	case variant.Structure, variant.Array:
		var content []byte
		for _, c := range v.Components() {
			enc, err := encodeData(c)
			if err != nil {
				return nil, err
			}
			content = append(content, enc...)
		}
		tag := dataTagStructure
		if v.Type() == variant.Array {
			tag = dataTagArray
		}
		return appendTag(nil, tag, content), nil

	case variant.Unsupported:
		u := v.Unsupported()
		return appendTag(nil, u.Tag, u.Raw), nil

	default:
		return nil, fmt.Errorf("mms: encoding Data of type %s is not supported", v.Type())
	}
}

// decodeData decodes a single tagged Data value (tag already stripped,
// val is its content), recursing into structure/array components. Shared
// by Read/GetDataValues decoding wherever a dataset or structured object
// is read. A tag this client has no dedicated representation for decodes
// to a variant.Unsupported value instead of failing the whole response.
func decodeData(tag byte, val []byte) (*variant.Variant, error) {
	switch tag {
	case dataTagFloatingPoint:
		value, err := parseFloatingPoint(val, len(val))
		if err != nil {
			return nil, err
		}
		return variant.NewFloat32Variant(value), nil

	case dataTagInteger:
		value, err := parseInteger(val, len(val))
		if err != nil {
			return nil, err
		}
		return variant.NewInt32Variant(value), nil

	case dataTagBitString:
		return parseBitString(val, len(val))

	case dataTagUTCTime:
		t, err := parseUTCTime(val, len(val))
		if err != nil {
			return nil, err
		}
		return variant.NewUTCTimeVariant(t), nil

	case dataTagBoolean:
		if len(val) < 1 {
			return nil, fmt.Errorf("mms: boolean Data value is empty")
		}
		return variant.NewBoolVariant(val[0] != 0), nil

	case dataTagOctetString:
		return variant.NewOctetStringVariant(val), nil

	case dataTagVisibleString:
		return variant.NewVisibleStringVariant(string(val)), nil

	case dataTagStructure, dataTagArray:
		components, err := decodeDataSequence(val)
		if err != nil {
			return nil, err
		}
		if tag == dataTagArray {
			return variant.NewArrayVariant(components), nil
		}
		return variant.NewStructureVariant(components), nil

	default:
		return variant.NewUnsupportedVariant(tag, val), nil
	}
}

// decodeDataSequence decodes a flat run of tagged Data values, as found
// inside a structure or array Data value.
func decodeDataSequence(buf []byte) ([]*variant.Variant, error) {
	var out []*variant.Variant
	pos := 0
	for pos < len(buf) {
		tag := buf[pos]
		pos++
		newPos, length, err := decodeBERLength(buf, pos)
		if err != nil {
			return nil, fmt.Errorf("mms: Data sequence: %w", err)
		}
		pos = newPos
		if pos+length > len(buf) {
			return nil, fmt.Errorf("mms: Data element tag 0x%02x overruns buffer", tag)
		}
		v, err := decodeData(tag, buf[pos:pos+length])
		if err != nil {
			return nil, err
		}
		out = append(out, v)
		pos += length
	}
	return out, nil
}
