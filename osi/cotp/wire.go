package cotp

import "fmt"

// TPKT is the 4-byte RFC 1006 header plus the COTP payload it carries. It is
// a pure decode of one on-the-wire frame, independent of connection state —
// used by the golden-vector tests in wire_test.go.
type TPKT struct {
	Version  byte
	Reserved byte
	Length   uint16
	Data     []byte
}

// ParseTPKT decodes a single TPKT-framed buffer.
func ParseTPKT(buf []byte) (*TPKT, error) {
	if len(buf) < 4 {
		return nil, fmt.Errorf("cotp: TPKT too short: %d bytes", len(buf))
	}
	if buf[0] != 0x03 {
		return nil, fmt.Errorf("cotp: invalid TPKT version: 0x%02x", buf[0])
	}
	if buf[1] != 0x00 {
		return nil, fmt.Errorf("cotp: invalid TPKT reserved byte: 0x%02x", buf[1])
	}

	length := uint16(buf[2])<<8 | uint16(buf[3])
	if int(length) != len(buf) {
		return nil, fmt.Errorf("cotp: TPKT length field %d does not match buffer length %d", length, len(buf))
	}

	return &TPKT{
		Version:  buf[0],
		Reserved: buf[1],
		Length:   length,
		Data:     buf[4:],
	}, nil
}

// EncodeTPKT prepends a TPKT header to payload.
func EncodeTPKT(payload []byte) []byte {
	length := len(payload) + 4
	out := make([]byte, 0, length)
	out = append(out, 0x03, 0x00, byte(length>>8), byte(length&0xff))
	return append(out, payload...)
}

// COTPType is the TPDU type byte of a COTP TPDU.
type COTPType byte

const (
	COTPTypeConnectionRequest COTPType = 0xE0
	COTPTypeConnectionConfirm COTPType = 0xD0
	COTPTypeData              COTPType = 0xF0
	COTPTypeDisconnectRequest COTPType = 0x80
	COTPTypeDisconnectConfirm COTPType = 0xC0
)

// COTP is a pure decode of one COTP TPDU (CR/CC or DT shape), independent
// of connection state.
type COTP struct {
	Length byte
	Type   COTPType

	// CR/CC fields
	DestRef            uint16
	SrcRef             uint16
	Class              byte
	ExtendedFormats    bool
	NoExplicitFlowCtrl bool
	ProtocolClass      byte
	TpduSize           byte
	DstTSAP            []byte
	SrcTSAP            []byte

	// DT fields
	Flags          byte
	IsLastDataUnit bool

	Data []byte
}

// ParseCOTP decodes one COTP TPDU body (the bytes following the TPKT
// header).
func ParseCOTP(buf []byte) (*COTP, error) {
	if len(buf) < 2 {
		return nil, fmt.Errorf("cotp: TPDU too short: %d bytes", len(buf))
	}

	c := &COTP{
		Length: buf[0],
		Type:   COTPType(buf[1]),
	}

	switch c.Type {
	case COTPTypeConnectionRequest, COTPTypeConnectionConfirm:
		if len(buf) < 7 {
			return nil, fmt.Errorf("cotp: CR/CC TPDU too short: %d bytes", len(buf))
		}
		c.DestRef = uint16(buf[2])<<8 | uint16(buf[3])
		c.SrcRef = uint16(buf[4])<<8 | uint16(buf[5])
		c.ProtocolClass = buf[6]
		c.Class = c.ProtocolClass >> 4
		c.ExtendedFormats = c.ProtocolClass&0x02 != 0
		c.NoExplicitFlowCtrl = c.ProtocolClass&0x01 != 0
		c.Data = []byte{}

		if err := parseCOTPOptions(c, buf[7:]); err != nil {
			return nil, err
		}

	case COTPTypeData:
		if len(buf) < 3 {
			return nil, fmt.Errorf("cotp: DT TPDU too short: %d bytes", len(buf))
		}
		c.Flags = buf[2]
		c.IsLastDataUnit = c.Flags&0x80 != 0
		c.Data = buf[3:]

	default:
		return nil, fmt.Errorf("cotp: unrecognized TPDU type 0x%02x", byte(c.Type))
	}

	return c, nil
}

func parseCOTPOptions(c *COTP, buf []byte) error {
	pos := 0
	for pos < len(buf) {
		if pos+1 >= len(buf) {
			return fmt.Errorf("cotp: truncated option at byte %d", pos)
		}
		tag := buf[pos]
		length := int(buf[pos+1])
		pos += 2
		if pos+length > len(buf) {
			return fmt.Errorf("cotp: option value overruns TPDU")
		}
		value := buf[pos : pos+length]
		pos += length

		switch tag {
		case 0xc0:
			if length != 1 {
				return fmt.Errorf("cotp: TPDU-size option must be 1 byte")
			}
			c.TpduSize = value[0]
		case 0xc1:
			c.SrcTSAP = value
		case 0xc2:
			c.DstTSAP = value
		default:
			// unrecognized options are tolerated for interoperability
		}
	}
	return nil
}
