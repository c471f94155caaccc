package mms

import (
	"errors"
	"fmt"

	"github.com/iec61850/mmsclient/ber"
)

// TypeSpecification represents an MMS TypeSpecification.
// Per ISO/IEC 9506-2, TypeSpecification is a CHOICE of:
// - structure (named components)
// - array
// - boolean
// - bit-string
// - integer
// - unsigned
// - floating-point
// - octet-string
// - visible-string
// - mmsString
// - utc-time
// - binary-time
type TypeSpecification struct {
	Type TypeSpecType
	// Structure holds the named components when Type is TypeSpecStructure.
	Structure *StructureTypeSpec
	// BitStringSize is the bit width when Type is TypeSpecBitString.
	BitStringSize int
	// IntegerSize is the bit width when Type is TypeSpecInteger.
	IntegerSize int
	// UnsignedSize is the bit width when Type is TypeSpecUnsigned.
	UnsignedSize int
	// FloatingPoint holds the exponent/format widths when Type is TypeSpecFloatingPoint.
	FloatingPoint *FloatingPointTypeSpec
	// OctetStringSize is the byte count when Type is TypeSpecOctetString.
	OctetStringSize int
	// VisibleStringSize is the max length when Type is TypeSpecVisibleString.
	VisibleStringSize int
	// Array holds the element count/type when Type is TypeSpecArray.
	Array *ArrayTypeSpec
}

// TypeSpecType is the CHOICE alternative a TypeSpecification carries.
type TypeSpecType int

const (
	TypeSpecStructure TypeSpecType = iota
	TypeSpecArray
	TypeSpecBoolean
	TypeSpecBitString
	TypeSpecInteger
	TypeSpecUnsigned
	TypeSpecFloatingPoint
	TypeSpecOctetString
	TypeSpecVisibleString
	TypeSpecMMSString
	TypeSpecUTCTime
	TypeSpecBinaryTime
)

// StructureTypeSpec is a structure's named components.
type StructureTypeSpec struct {
	Components []ComponentSpec
}

// ComponentSpec is one named component of a structure.
type ComponentSpec struct {
	Name string
	Type *TypeSpecification
}

// ArrayTypeSpec is an array's element count and element type.
type ArrayTypeSpec struct {
	ElementCount int
	ElementType  *TypeSpecification
}

// FloatingPointTypeSpec is a floating-point type's IEEE-754-ish layout.
type FloatingPointTypeSpec struct {
	ExponentWidth int
	FormatWidth   int
}

// VariableAccessAttributesResponse is an MMS GetVariableAccessAttributes-Response.
//
//	confirmed-ResponsePDU ::= SEQUENCE {
//	  invokeID            Unsigned32,       -- universal INTEGER (0x02)
//	  confirmedServiceResponse CHOICE {     -- untagged
//	    getVariableAccessAttributes [6] GetVariableAccessAttributes-Response
//	  }
//	}
//
//	GetVariableAccessAttributes-Response ::= SEQUENCE {
//	  mmsDeletable [0] IMPLICIT BOOLEAN,
//	  address [1] Address OPTIONAL,
//	  typeSpecification [2] TypeSpecification
//	}
//
// From a captured exchange:
// a1 82 01 0b - confirmed-ResponsePDU (context-specific 1, constructed, length 0x010b)
//
//	02 01 02 - invokeID (INTEGER, length 1, value 2)
//	a6 82 01 04 - confirmedServiceResponse: getVariableAccessAttributes (context-specific 6, constructed, length 0x0104)
//	  80 01 00 - mmsDeletable: false (tag 0x80, boolean, length 1, value 0x00)
//	  a2 81 fe - typeSpecification: structure (tag 0xa2), length 0xfe
//	     a2 81 fb - structure components (tag 0xa2), length 0xfb
//	        a1 81 f8 - component item (tag 0xa1, SEQUENCE), length 0xf8
//	           30 3c - SEQUENCE (tag 0x30), length 0x3c
//	              80 05 - componentName (tag 0x80, VisibleString), length 5
//	                 41 6e 49 6e 31 - "AnIn1"
//	               a1 33 - componentType: structure (tag 0xa1), length 0x33
type VariableAccessAttributesResponse struct {
	InvokeID          uint32
	MmsDeletable      bool
	TypeSpecification *TypeSpecification
}

// ParseGetVariableAccessAttributesResponse decodes a getVariableAccessAttributes
// reply from a BER-encoded buffer. Some servers omit the outer
// confirmed-ResponsePDU envelope once a connection is established, so this
// accepts three shapes:
//  1. standard: a1 (confirmed-ResponsePDU) + length + invokeID + confirmedServiceResponse
//  2. tagged a0 instead of a1, same layout
//  3. bare content: invokeID + confirmedServiceResponse with no outer tag
func ParseGetVariableAccessAttributesResponse(buffer []byte) (*VariableAccessAttributesResponse, error) {
	var response VariableAccessAttributesResponse
	if len(buffer) == 0 {
		return nil, errors.New("empty buffer")
	}

	var bufPos int
	var maxBufPos int

	if buffer[0] == 0xA0 || buffer[0] == 0xA1 {
		bufPos = 1
		maxBufPos = len(buffer)

		newPos, length, err := ber.DecodeLength(buffer, bufPos, maxBufPos)
		if err != nil {
			return nil, fmt.Errorf("failed to decode confirmed-ResponsePDU length: %w", err)
		}
		bufPos = newPos

		if bufPos+length > maxBufPos {
			return nil, errors.New("invalid length: exceeds buffer size")
		}

		maxBufPos = bufPos + length
	} else {
		bufPos = 0
		maxBufPos = len(buffer)
	}

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
		case 0x02: // invokeID (INTEGER)
			response.InvokeID = ber.DecodeUint32(buffer, length, bufPos)
			bufPos += length

		case 0xA6: // confirmedServiceResponse: getVariableAccessAttributes
			mmsDeletable, typeSpec, err := parseGetVariableAccessAttributesResponseContent(buffer[bufPos:bufPos+length], length)
			if err != nil {
				return nil, fmt.Errorf("failed to parse getVariableAccessAttributes response: %w", err)
			}
			response.MmsDeletable = mmsDeletable
			response.TypeSpecification = typeSpec
			return &response, nil

		default:
			bufPos += length
		}
	}

	return nil, errors.New("getVariableAccessAttributes response not found")
}

// parseGetVariableAccessAttributesResponseContent decodes mmsDeletable and
// typeSpecification out of a getVariableAccessAttributes response body.
func parseGetVariableAccessAttributesResponseContent(buffer []byte, maxLength int) (bool, *TypeSpecification, error) {
	bufPos := 0
	maxBufPos := len(buffer)
	if maxLength < maxBufPos {
		maxBufPos = maxLength
	}

	var mmsDeletable bool
	var typeSpec *TypeSpecification

	// Skip any wrapping SEQUENCE tags (0x30).
	for bufPos < maxBufPos && buffer[bufPos] == 0x30 {
		bufPos++
		newPos, seqLength, err := ber.DecodeLength(buffer, bufPos, maxBufPos)
		if err != nil {
			break
		}
		bufPos = newPos
		if bufPos+seqLength > maxBufPos {
			break
		}
	}

	for bufPos < maxBufPos {
		tagStart := bufPos
		tag := buffer[bufPos]
		bufPos++

		newPos, length, err := ber.DecodeLength(buffer, bufPos, maxBufPos)
		if err != nil {
			return false, nil, fmt.Errorf("failed to decode length for tag 0x%02x: %w", tag, err)
		}
		bufPos = newPos

		if bufPos+length > maxBufPos {
			return false, nil, fmt.Errorf("invalid length for tag 0x%02x: exceeds buffer size", tag)
		}

		switch tag {
		case 0x80: // mmsDeletable (BOOLEAN): 0x00 = false, 0xFF = true
			if length > 0 {
				mmsDeletable = buffer[bufPos] != 0x00
			}
			bufPos += length

		case 0xA1: // address, optional and unused
			bufPos += length

		case 0xA2: // typeSpecification: structure
			typeSpecEnd := bufPos + length
			if typeSpecEnd > len(buffer) {
				typeSpecEnd = len(buffer)
			}
			typeSpecBuf := buffer[tagStart:typeSpecEnd]
			var err error
			typeSpec, err = parseTypeSpecification(typeSpecBuf, len(typeSpecBuf))
			if err != nil {
				return false, nil, fmt.Errorf("failed to parse typeSpecification: %w", err)
			}
			if typeSpec != nil {
				return mmsDeletable, typeSpec, nil
			}

		default:
			// Might be a typeSpecification under a different tag; try it
			// before giving up on this field.
			typeSpecEnd := bufPos + length
			if typeSpecEnd > len(buffer) {
				typeSpecEnd = len(buffer)
			}
			typeSpecBuf := buffer[tagStart:typeSpecEnd]
			var err error
			typeSpec, err = parseTypeSpecification(typeSpecBuf, len(typeSpecBuf))
			if err == nil && typeSpec != nil {
				return mmsDeletable, typeSpec, nil
			}
			bufPos += length
		}
	}

	if typeSpec == nil {
		return false, nil, errors.New("typeSpecification not found in getVariableAccessAttributes response")
	}

	return mmsDeletable, typeSpec, nil
}

// parseTypeSpecification decodes a TypeSpecification CHOICE. The tag
// distinguishes the alternative:
//
//	structure: 0xa2 (or 0xa1 for a nested structure)
//	array: 0xa3
//	boolean: 0x84
//	bit-string: 0x85
//	integer: 0x86
//	unsigned: 0x87
//	floating-point: 0x88
//	octet-string: 0x89
//	visible-string: 0x8a
//	mmsString: 0x8b
//	utc-time: 0x8c
//	binary-time: 0x8d
func parseTypeSpecification(buffer []byte, maxLength int) (*TypeSpecification, error) {
	if len(buffer) == 0 {
		return nil, errors.New("empty buffer for TypeSpecification")
	}

	bufPos := 0
	maxBufPos := len(buffer)
	if maxLength < maxBufPos {
		maxBufPos = maxLength
	}

	if buffer[0] == 0xA2 || buffer[0] == 0xA1 {
		return parseStructureTypeSpec(buffer, maxLength)
	}

	tag := buffer[0]
	bufPos = 1

	newPos, length, err := ber.DecodeLength(buffer, bufPos, maxBufPos)
	if err != nil {
		return nil, fmt.Errorf("failed to decode TypeSpecification length: %w", err)
	}
	bufPos = newPos

	if bufPos+length > maxBufPos {
		return nil, fmt.Errorf("invalid TypeSpecification length: exceeds buffer size")
	}

	switch tag {
	case 0xA3: // array
		return parseArrayTypeSpec(buffer[bufPos:bufPos+length], length)

	case 0x84: // boolean
		return &TypeSpecification{Type: TypeSpecBoolean}, nil

	case 0x85: // bit-string
		bitSize := int(ber.DecodeUint32(buffer, length, bufPos))
		return &TypeSpecification{
			Type:          TypeSpecBitString,
			BitStringSize: bitSize,
		}, nil

	case 0x86: // integer
		intSize := int(ber.DecodeUint32(buffer, length, bufPos))
		return &TypeSpecification{
			Type:        TypeSpecInteger,
			IntegerSize: intSize,
		}, nil

	case 0x87: // unsigned
		unsignedSize := int(ber.DecodeUint32(buffer, length, bufPos))
		return &TypeSpecification{
			Type:         TypeSpecUnsigned,
			UnsignedSize: unsignedSize,
		}, nil

	case 0x88: // floating-point
		return parseFloatingPointTypeSpec(buffer[bufPos:bufPos+length], length)

	case 0x89: // octet-string
		octetSize := int(ber.DecodeUint32(buffer, length, bufPos))
		return &TypeSpecification{
			Type:            TypeSpecOctetString,
			OctetStringSize: octetSize,
		}, nil

	case 0x8A: // visible-string
		visibleSize := int(ber.DecodeUint32(buffer, length, bufPos))
		return &TypeSpecification{
			Type:              TypeSpecVisibleString,
			VisibleStringSize: visibleSize,
		}, nil

	case 0x8B: // mmsString
		return &TypeSpecification{Type: TypeSpecMMSString}, nil

	case 0x8C: // utc-time
		return &TypeSpecification{Type: TypeSpecUTCTime}, nil

	case 0x8D: // binary-time
		_ = int(buffer[bufPos]) // size is 4 or 6, unused for now
		return &TypeSpecification{Type: TypeSpecBinaryTime}, nil

	default:
		return nil, fmt.Errorf("unsupported TypeSpecification tag: 0x%02x", tag)
	}
}

// parseStructureTypeSpec decodes a structure's components:
//
//	structure [2] IMPLICIT SEQUENCE OF SEQUENCE {
//	  componentName VisibleString,
//	  componentType TypeSpecification
//	}
//
// Servers vary in how they wrap the component list (a bare sequence of
// 0x30 SEQUENCEs, or that sequence wrapped again in 0xa1/0xa2); this walks
// both shapes.
func parseStructureTypeSpec(buffer []byte, maxLength int) (*TypeSpecification, error) {
	bufPos := 0
	maxBufPos := len(buffer)
	if maxLength < maxBufPos {
		maxBufPos = maxLength
	}

	if buffer[0] == 0xA2 || buffer[0] == 0xA1 {
		bufPos = 1
		newPos, length, err := ber.DecodeLength(buffer, bufPos, maxBufPos)
		if err != nil {
			return nil, fmt.Errorf("failed to decode structure length: %w", err)
		}
		bufPos = newPos
		maxBufPos = bufPos + length
		if maxBufPos > len(buffer) {
			maxBufPos = len(buffer)
		}
	}

	var components []ComponentSpec

	for bufPos < maxBufPos {
		componentStart := bufPos
		tag := buffer[bufPos]
		bufPos++

		newPos, length, err := ber.DecodeLength(buffer, bufPos, maxBufPos)
		if err != nil {
			return nil, fmt.Errorf("failed to decode component sequence length: %w", err)
		}
		bufPos = newPos

		if bufPos+length > maxBufPos {
			return nil, fmt.Errorf("invalid component sequence length: exceeds buffer size")
		}

		if tag == 0xA2 || tag == 0xA1 {
			// Another wrapping layer around the component list; walk it,
			// since components may be nested in an extra a1 or run flat.
			subBufPos := bufPos
			subMaxBufPos := bufPos + length

			for subBufPos < subMaxBufPos {
				if subBufPos >= subMaxBufPos {
					break
				}

				nextTag := buffer[subBufPos]

				if nextTag == 0xA1 {
					tempPos := subBufPos + 1
					newPos, innerLength, err := ber.DecodeLength(buffer, tempPos, subMaxBufPos)
					if err != nil {
						break
					}
					tempPos = newPos
					innerEnd := tempPos + innerLength

					innerBufPos := tempPos
					for innerBufPos < innerEnd {
						if innerBufPos >= innerEnd {
							break
						}
						innerTag := buffer[innerBufPos]
						if innerTag == 0x30 {
							component, newInnerPos, err := parseComponent(buffer, innerBufPos, innerEnd)
							if err != nil {
								// Skip this component and keep scanning: step
								// past it using its own SEQUENCE length.
								tempPos := innerBufPos + 1
								if tempPos < innerEnd {
									newTempPos, seqLength, err := ber.DecodeLength(buffer, tempPos, innerEnd)
									if err == nil {
										innerBufPos = newTempPos + seqLength
										continue
									}
								}
								break
							}
							if component != nil {
								components = append(components, *component)
							}
							if newInnerPos <= innerBufPos {
								break
							}
							if newInnerPos >= innerEnd {
								break
							}
							innerBufPos = newInnerPos
						} else {
							break
						}
					}
					lengthBytesSize := newPos - (subBufPos + 1)
					subBufPos = subBufPos + 1 + lengthBytesSize + innerLength
				} else if nextTag == 0x30 {
					component, newSubBufPos, err := parseComponent(buffer, subBufPos, subMaxBufPos)
					if err != nil {
						break
					}
					if component != nil {
						components = append(components, *component)
					}
					if newSubBufPos <= subBufPos || newSubBufPos >= subMaxBufPos {
						break
					}
					subBufPos = newSubBufPos
				} else {
					break
				}
			}
			bufPos += length
		} else if tag == 0x30 {
			component, newBufPos, err := parseComponent(buffer, componentStart, maxBufPos)
			if err != nil {
				return nil, fmt.Errorf("failed to parse component: %w", err)
			}
			if component != nil {
				components = append(components, *component)
			}
			bufPos = newBufPos
		} else {
			return nil, fmt.Errorf("unexpected tag in structure components: 0x%02x", tag)
		}
	}

	return &TypeSpecification{
		Type: TypeSpecStructure,
		Structure: &StructureTypeSpec{
			Components: components,
		},
	}, nil
}

// parseComponent decodes one structure component (a SEQUENCE holding
// componentName and componentType), returning the component and the
// buffer position just past it.
func parseComponent(buffer []byte, bufPos, maxBufPos int) (*ComponentSpec, int, error) {
	if bufPos >= maxBufPos {
		return nil, bufPos, nil
	}

	tag := buffer[bufPos]
	bufPos++

	if tag != 0x30 && tag != 0xA1 {
		return nil, bufPos, fmt.Errorf("expected SEQUENCE or component item tag, got 0x%02x", tag)
	}

	newPos, length, err := ber.DecodeLength(buffer, bufPos, maxBufPos)
	if err != nil {
		return nil, bufPos, fmt.Errorf("failed to decode component length: %w", err)
	}
	bufPos = newPos

	if bufPos+length > maxBufPos {
		return nil, bufPos, fmt.Errorf("invalid component length: exceeds buffer size")
	}

	componentEnd := bufPos + length
	if componentEnd > maxBufPos {
		componentEnd = maxBufPos
	}
	var component ComponentSpec

	for bufPos < componentEnd {
		tagStart := bufPos
		tag := buffer[bufPos]
		bufPos++

		if bufPos >= componentEnd {
			break
		}

		newPos, fieldLength, err := ber.DecodeLength(buffer, bufPos, componentEnd)
		if err != nil {
			return nil, bufPos, fmt.Errorf("failed to decode field length in component: %w", err)
		}
		bufPos = newPos

		if bufPos+fieldLength > componentEnd {
			return nil, bufPos, fmt.Errorf("invalid field length in component: exceeds buffer size")
		}

		switch tag {
		case 0x80: // componentName (VisibleString)
			if bufPos+fieldLength > len(buffer) {
				return nil, bufPos, fmt.Errorf("componentName exceeds buffer")
			}
			component.Name = string(buffer[bufPos : bufPos+fieldLength])
			bufPos += fieldLength

		case 0xA1, 0xA2: // componentType: structure
			typeSpecEnd := bufPos + fieldLength
			if tagStart >= len(buffer) || typeSpecEnd > len(buffer) {
				bufPos += fieldLength
				continue
			}
			typeSpecBuf := buffer[tagStart:typeSpecEnd]
			typeSpec, err := parseTypeSpecification(typeSpecBuf, len(typeSpecBuf))
			if err != nil {
				// Leave the type unset and keep parsing the rest of the component.
				bufPos += fieldLength
				continue
			}
			component.Type = typeSpec
			bufPos = typeSpecEnd

		default:
			// Any other TypeSpecification alternative (boolean, bit-string, etc).
			if tagStart >= len(buffer) || bufPos+fieldLength > len(buffer) {
				bufPos += fieldLength
				continue
			}
			typeSpecBuf := buffer[tagStart : bufPos+fieldLength]
			typeSpec, err := parseTypeSpecification(typeSpecBuf, len(typeSpecBuf))
			if err == nil && typeSpec != nil {
				component.Type = typeSpec
			}
			bufPos += fieldLength
		}
	}

	return &component, componentEnd, nil
}

// parseArrayTypeSpec decodes an array's numberOfElements and elementType.
func parseArrayTypeSpec(buffer []byte, maxLength int) (*TypeSpecification, error) {
	bufPos := 0
	maxBufPos := len(buffer)
	if maxLength < maxBufPos {
		maxBufPos = maxLength
	}

	var elementCount int
	var elementType *TypeSpecification

	for bufPos < maxBufPos {
		tagStart := bufPos
		tag := buffer[bufPos]
		bufPos++

		if bufPos >= maxBufPos {
			break
		}

		newPos, length, err := ber.DecodeLength(buffer, bufPos, maxBufPos)
		if err != nil {
			return nil, fmt.Errorf("failed to decode array field length: %w", err)
		}
		bufPos = newPos

		if bufPos+length > maxBufPos {
			return nil, fmt.Errorf("invalid array field length: exceeds buffer size")
		}

		switch tag {
		case 0x02: // numberOfElements (INTEGER)
			elementCount = int(ber.DecodeUint32(buffer, length, bufPos))
			bufPos += length

		case 0xA1, 0xA2: // elementType
			if tagStart >= len(buffer) || maxBufPos > len(buffer) {
				return nil, fmt.Errorf("invalid buffer bounds for array elementType")
			}
			var err error
			elementType, err = parseTypeSpecification(buffer[tagStart:maxBufPos], maxBufPos-tagStart)
			if err != nil {
				return nil, fmt.Errorf("failed to parse array elementType: %w", err)
			}
			bufPos = maxBufPos

		default:
			bufPos += length
		}
	}

	if elementType == nil {
		return nil, errors.New("array elementType not found")
	}

	return &TypeSpecification{
		Type: TypeSpecArray,
		Array: &ArrayTypeSpec{
			ElementCount: elementCount,
			ElementType:  elementType,
		},
	}, nil
}

// parseFloatingPointTypeSpec decodes a floating-point type's two INTEGER
// fields: exponentwidth comes first, formatwidth second.
func parseFloatingPointTypeSpec(buffer []byte, maxLength int) (*TypeSpecification, error) {
	bufPos := 0
	maxBufPos := len(buffer)
	if maxLength < maxBufPos {
		maxBufPos = maxLength
	}

	var exponentWidth, formatWidth int

	for bufPos < maxBufPos {
		tag := buffer[bufPos]
		bufPos++

		newPos, length, err := ber.DecodeLength(buffer, bufPos, maxBufPos)
		if err != nil {
			return nil, fmt.Errorf("failed to decode floating-point field length: %w", err)
		}
		bufPos = newPos

		if bufPos+length > maxBufPos {
			return nil, fmt.Errorf("invalid floating-point field length: exceeds buffer size")
		}

		switch tag {
		case 0x02: // exponentwidth, then formatwidth
			value := int(ber.DecodeUint32(buffer, length, bufPos))
			if exponentWidth == 0 {
				exponentWidth = value
			} else {
				formatWidth = value
			}
			bufPos += length

		default:
			bufPos += length
		}
	}

	return &TypeSpecification{
		Type: TypeSpecFloatingPoint,
		FloatingPoint: &FloatingPointTypeSpec{
			ExponentWidth: exponentWidth,
			FormatWidth:   formatWidth,
		},
	}, nil
}
