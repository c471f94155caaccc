// Package cotp implements RFC 1006 TPKT framing over ISO 8073 class 0 COTP,
// the transport layer under the OSI stack used by this client.
package cotp

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/iec61850/mmsclient/logger"
)

const (
	tpktRFC1006HeaderSize = 4
	cotpDataHeaderSize    = 3
	cotpMaxTpduSize       = 8192
	cotpMinTpduSize       = 128

	defaultPayloadBufferSize   = 65531
	defaultReadBufferSize      = 65535
	defaultWriteBufferSize     = 8192
	defaultSocketExtBufferSize = 8192
)

type connectionOptions struct {
	payloadBufferSize   int
	readBufferSize      int
	writeBufferSize     int
	socketExtBufferSize int
	logger              logger.Logger
}

func defaultConnectionOptions() connectionOptions {
	return connectionOptions{
		payloadBufferSize:   defaultPayloadBufferSize,
		readBufferSize:      defaultReadBufferSize,
		writeBufferSize:     defaultWriteBufferSize,
		socketExtBufferSize: defaultSocketExtBufferSize,
		logger:              logger.Nop(),
	}
}

// ConnectionOption configures a Connection.
type ConnectionOption func(*connectionOptions)

func WithPayloadBufferSize(size int) ConnectionOption {
	return func(opts *connectionOptions) { opts.payloadBufferSize = size }
}

func WithReadBufferSize(size int) ConnectionOption {
	return func(opts *connectionOptions) { opts.readBufferSize = size }
}

func WithWriteBufferSize(size int) ConnectionOption {
	return func(opts *connectionOptions) { opts.writeBufferSize = size }
}

func WithSocketExtBufferSize(size int) ConnectionOption {
	return func(opts *connectionOptions) { opts.socketExtBufferSize = size }
}

func WithLogger(log logger.Logger) ConnectionOption {
	return func(opts *connectionOptions) { opts.logger = log }
}

// Indication is the outcome of parsing one incoming COTP message.
type Indication int

const (
	IndicationOK Indication = iota
	IndicationError
	IndicationConnect
	IndicationData
	IndicationDisconnect
	IndicationMoreFragmentsFollow
)

// TpktState is the progress of reading one TPKT-framed packet.
type TpktState int

const (
	TpktPacketComplete TpktState = iota
	TpktWaiting
	TpktError
)

// TSelector is an opaque transport selector, copied verbatim on the wire.
type TSelector struct {
	Value []byte
}

// Options holds the negotiable parameters of a COTP connection.
type Options struct {
	TSelSrc  TSelector
	TSelDst  TSelector
	TpduSize uint8 // stored as lg2(size)
}

// Connection is a single-owner COTP connection over a byte stream. Callers
// drive it through Connect once; afterwards Split returns independent
// ReadHalf/WriteHalf values for the dispatcher's two goroutines.
type Connection struct {
	state           int
	remoteRef       int
	localRef        int
	protocolClass   int
	conn            io.ReadWriteCloser
	options         Options
	isLastDataUnit  bool
	payload         []byte
	writeBuffer     []byte
	readBuffer      []byte
	packetSize      uint16
	socketExtBuffer []byte
	socketExtFill   int
	logger          logger.Logger
}

// NewConnection wraps a byte stream (TCP or TLS) in an unconnected COTP
// Connection; call Connect to perform the CR/CC handshake.
func NewConnection(conn io.ReadWriteCloser, opts ...ConnectionOption) *Connection {
	options := defaultConnectionOptions()
	for _, opt := range opts {
		opt(&options)
	}

	c := &Connection{
		state:           0,
		remoteRef:       -1,
		localRef:        1,
		protocolClass:   -1,
		conn:            conn,
		payload:         make([]byte, 0, options.payloadBufferSize),
		writeBuffer:     make([]byte, 0, options.writeBufferSize),
		readBuffer:      make([]byte, 0, options.readBufferSize),
		socketExtBuffer: make([]byte, 0, options.socketExtBufferSize),
		logger:          options.logger,
	}

	tsel := TSelector{Value: []byte{0, 1}}
	c.options.TSelSrc = tsel
	c.options.TSelDst = tsel

	c.SetTpduSize(cotpMaxTpduSize)

	return c
}

func (c *Connection) GetTpduSize() int { return 1 << c.options.TpduSize }

// SetTpduSize stores size as lg2(size). Out-of-range values are snapped
// into [128, 8192] rather than rejected.
func (c *Connection) SetTpduSize(tpduSize int) {
	if tpduSize > cotpMaxTpduSize {
		tpduSize = cotpMaxTpduSize
	}
	if tpduSize < cotpMinTpduSize {
		tpduSize = cotpMinTpduSize
	}

	newTpduSize := 1
	for (1 << newTpduSize) < tpduSize {
		newTpduSize++
	}
	if (1 << newTpduSize) > tpduSize {
		newTpduSize--
	}

	c.options.TpduSize = uint8(newTpduSize)
}

func (c *Connection) GetRemoteRef() int  { return c.remoteRef }
func (c *Connection) GetLocalRef() int   { return c.localRef }
func (c *Connection) GetPayload() []byte { return c.payload }
func (c *Connection) ResetPayload()      { c.payload = c.payload[:0] }

func (c *Connection) FlushBuffer() error {
	if c.socketExtFill > 0 {
		return c.flushBuffer()
	}
	return nil
}

func (c *Connection) writeRfc1006Header(length int) {
	c.writeBuffer = c.writeBuffer[:0]
	c.writeBuffer = append(c.writeBuffer, 0x03, 0x00, byte(length>>8), byte(length&0xff))
}

func (c *Connection) writeDataTpduHeader(isLastUnit bool) {
	c.writeBuffer = append(c.writeBuffer, 0x02, 0xf0)
	if isLastUnit {
		c.writeBuffer = append(c.writeBuffer, 0x80)
	} else {
		c.writeBuffer = append(c.writeBuffer, 0x00)
	}
}

func (c *Connection) writeOptions() {
	if c.options.TpduSize != 0 {
		c.writeBuffer = append(c.writeBuffer, 0xc0, 0x01, c.options.TpduSize)
	}
	if len(c.options.TSelDst.Value) > 0 {
		c.writeBuffer = append(c.writeBuffer, 0xc2, byte(len(c.options.TSelDst.Value)))
		c.writeBuffer = append(c.writeBuffer, c.options.TSelDst.Value...)
	}
	if len(c.options.TSelSrc.Value) > 0 {
		c.writeBuffer = append(c.writeBuffer, 0xc1, byte(len(c.options.TSelSrc.Value)))
		c.writeBuffer = append(c.writeBuffer, c.options.TSelSrc.Value...)
	}
}

func (c *Connection) getOptionsLength() int {
	length := 0
	if c.options.TpduSize != 0 {
		length += 3
	}
	if len(c.options.TSelDst.Value) > 0 {
		length += 2 + len(c.options.TSelDst.Value)
	}
	if len(c.options.TSelSrc.Value) > 0 {
		length += 2 + len(c.options.TSelSrc.Value)
	}
	return length
}

func (c *Connection) flushBuffer() error {
	if c.socketExtFill == 0 {
		return nil
	}

	n, err := c.conn.Write(c.socketExtBuffer[:c.socketExtFill])
	if err != nil {
		return err
	}

	if n < c.socketExtFill {
		copy(c.socketExtBuffer, c.socketExtBuffer[n:c.socketExtFill])
		c.socketExtFill -= n
	} else {
		c.socketExtFill = 0
	}

	return nil
}

func (c *Connection) sendBuffer() error {
	if err := c.flushBuffer(); err != nil {
		return err
	}

	if len(c.writeBuffer) == 0 {
		return nil
	}

	var n int
	var err error

	if c.socketExtFill == 0 {
		n, err = c.conn.Write(c.writeBuffer)
	} else {
		err = nil
		n = 0
	}

	if err != nil {
		return err
	}

	if n < len(c.writeBuffer) {
		remaining := c.writeBuffer[n:]
		if len(remaining)+c.socketExtFill > cap(c.socketExtBuffer) {
			return errors.New("cotp: socket extension buffer overflow")
		}
		c.socketExtBuffer = append(c.socketExtBuffer[:c.socketExtFill], remaining...)
		c.socketExtFill = len(c.socketExtBuffer)
	}

	c.writeBuffer = c.writeBuffer[:0]
	return nil
}

// IsoConnectionParameters are the peer-administered addressing parameters
// for a COTP association.
type IsoConnectionParameters struct {
	RemoteTSelector TSelector
	LocalTSelector  TSelector
}

func (c *Connection) sendConnectionRequestMessage(params *IsoConnectionParameters) error {
	c.options.TSelDst = params.RemoteTSelector
	c.options.TSelSrc = params.LocalTSelector

	optionsLength := c.getOptionsLength()
	cotpRequestSize := optionsLength + 6
	conRequestSize := cotpRequestSize + 5

	c.writeRfc1006Header(conRequestSize)
	c.writeBuffer = append(c.writeBuffer, byte(cotpRequestSize))
	c.writeBuffer = append(c.writeBuffer, 0xe0)
	c.writeBuffer = append(c.writeBuffer, 0x00, 0x00) // dst-ref=0
	c.writeBuffer = append(c.writeBuffer, byte(c.localRef>>8), byte(c.localRef&0xff))
	c.writeBuffer = append(c.writeBuffer, 0x00) // class 0

	c.writeOptions()

	c.logger.Debug("TX CR: % x", c.writeBuffer)

	return c.sendBuffer()
}

// parseOptions walks {tag,len,value} COTP option TLVs, tolerating and
// skipping unrecognized tags for interoperability.
func (c *Connection) parseOptions(buffer []byte) error {
	bufPos := 0

	for bufPos < len(buffer) {
		if bufPos+1 >= len(buffer) {
			return errors.New("cotp: invalid option: missing type or length")
		}

		optionType := buffer[bufPos]
		optionLen := int(buffer[bufPos+1])
		bufPos += 2

		if bufPos+optionLen > len(buffer) {
			return fmt.Errorf("cotp: option too long: optionLen=%d, remaining=%d", optionLen, len(buffer)-bufPos)
		}

		switch optionType {
		case 0xc0: // TPDU size
			if optionLen != 1 {
				return errors.New("cotp: invalid TPDU size option length")
			}
			c.SetTpduSize(1 << buffer[bufPos])
			bufPos++

		case 0xc1: // source T-selector
			if optionLen > 16 {
				return errors.New("cotp: t-selector too long")
			}
			c.options.TSelSrc.Value = append([]byte(nil), buffer[bufPos:bufPos+optionLen]...)
			bufPos += optionLen

		case 0xc2: // destination T-selector
			if optionLen > 16 {
				return errors.New("cotp: t-selector too long")
			}
			c.options.TSelDst.Value = append([]byte(nil), buffer[bufPos:bufPos+optionLen]...)
			bufPos += optionLen

		case 0xc6: // additional option selection — opaque, tolerated
			bufPos += optionLen

		default:
			bufPos += optionLen
		}
	}

	return nil
}

func (c *Connection) parseConnectConfirmTpdu(buffer []byte) error {
	if len(buffer) < 6 {
		return errors.New("cotp: connect confirm TPDU too short")
	}

	dstRef := int(buffer[0])<<8 | int(buffer[1])
	if dstRef != c.localRef {
		return fmt.Errorf("cotp: CC dst-ref %d does not match our src-ref %d", dstRef, c.localRef)
	}

	c.remoteRef = int(buffer[2])<<8 | int(buffer[3])
	c.protocolClass = int(buffer[4])

	return c.parseOptions(buffer[5:])
}

func (c *Connection) parseDataTpdu(buffer []byte) error {
	if len(buffer) < 1 {
		return errors.New("cotp: data TPDU too short")
	}

	flowControl := buffer[0]
	c.isLastDataUnit = (flowControl & 0x80) != 0

	return nil
}

func (c *Connection) addPayloadToBuffer(buffer []byte) error {
	if len(buffer) == 0 {
		return nil
	}
	if len(c.payload)+len(buffer) > cap(c.payload) {
		return errors.New("cotp: payload buffer overflow")
	}
	c.payload = append(c.payload, buffer...)
	return nil
}

func (c *Connection) parseCotpMessage() (Indication, error) {
	if len(c.readBuffer) < 4 {
		return IndicationError, errors.New("cotp: read buffer too short")
	}

	buffer := c.readBuffer[4:]
	tpduLength := len(c.readBuffer) - 4

	if len(buffer) < 2 {
		return IndicationError, errors.New("cotp: message too short")
	}

	lenField := int(buffer[0])
	if lenField > tpduLength {
		return IndicationError, fmt.Errorf("cotp: invalid length: len=%d, tpduLength=%d", lenField, tpduLength)
	}

	tpduType := buffer[1]

	switch tpduType {
	case 0xd0: // Connect Confirm
		if err := c.parseConnectConfirmTpdu(buffer[2:]); err != nil {
			return IndicationError, err
		}
		return IndicationConnect, nil

	case 0xf0: // Data
		if err := c.parseDataTpdu(buffer[2:]); err != nil {
			return IndicationError, err
		}

		payloadStart := 3
		if payloadStart > len(buffer) {
			return IndicationError, errors.New("cotp: data TPDU missing payload")
		}

		if err := c.addPayloadToBuffer(buffer[payloadStart:]); err != nil {
			return IndicationError, err
		}

		if c.isLastDataUnit {
			return IndicationData, nil
		}
		return IndicationMoreFragmentsFollow, nil

	case 0x80, 0xc0: // Disconnect Request / Confirm
		return IndicationDisconnect, nil

	default:
		return IndicationError, fmt.Errorf("cotp: unknown or unexpected TPDU type: 0x%02x", tpduType)
	}
}

func (c *Connection) parseIncomingMessage() (Indication, error) {
	if len(c.readBuffer) > 0 {
		c.logger.Debug("RX: % x", c.readBuffer)
	}

	indication, err := c.parseCotpMessage()
	c.readBuffer = c.readBuffer[:0]
	c.packetSize = 0
	return indication, err
}

// sendDataMessage segments payload into DTs of at most GetTpduSize()-3 bytes
// each and writes them in order, one write per DT; the DTs of one payload
// are not combined into a single write.
func (c *Connection) sendDataMessage(payload []byte) error {
	fragmentPayloadSize := c.GetTpduSize() - cotpDataHeaderSize

	fragments := 1
	if len(payload) > fragmentPayloadSize {
		fragments = len(payload) / fragmentPayloadSize
		if len(payload)%fragmentPayloadSize != 0 {
			fragments++
		}
	}

	currentBufPos := 0

	for fragments > 0 {
		var currentLimit int
		var lastUnit bool

		if fragments > 1 {
			currentLimit = currentBufPos + fragmentPayloadSize
			lastUnit = false
		} else {
			currentLimit = len(payload)
			lastUnit = true
		}

		payloadFragment := payload[currentBufPos:currentLimit]
		fragmentSize := 7 + len(payloadFragment)

		c.writeRfc1006Header(fragmentSize)
		c.writeDataTpduHeader(lastUnit)
		c.writeBuffer = append(c.writeBuffer, payloadFragment...)

		c.logger.Debug("TX DT (eot=%v): % x", lastUnit, c.writeBuffer)

		if err := c.sendBuffer(); err != nil {
			return fmt.Errorf("cotp: send fragment: %w", err)
		}

		currentBufPos = currentLimit
		fragments--
	}

	return nil
}

// readToTpktBuffer advances the read buffer by one blocking read, returning
// TpktPacketComplete once a full TPKT-framed TPDU is in c.readBuffer.
func (c *Connection) readToTpktBuffer(ctx context.Context) (TpktState, error) {
	if ctx.Err() != nil {
		return TpktError, ctx.Err()
	}

	bufPos := len(c.readBuffer)

	if bufPos < 4 {
		readBytes := make([]byte, 4-bufPos)
		n, err := io.ReadFull(c.conn, readBytes)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return TpktError, errors.New("cotp: socket closed")
			}
			return TpktError, fmt.Errorf("cotp: read error: %w", err)
		}

		c.readBuffer = append(c.readBuffer, readBytes[:n]...)
		bufPos = len(c.readBuffer)

		if c.readBuffer[0] != 0x03 || c.readBuffer[1] != 0x00 {
			return TpktError, errors.New("cotp: invalid TPKT header")
		}

		c.packetSize = uint16(c.readBuffer[2])<<8 | uint16(c.readBuffer[3])
		if int(c.packetSize) > cap(c.readBuffer) {
			return TpktError, fmt.Errorf("cotp: packet too large: %d bytes", c.packetSize)
		}
	}

	if bufPos >= int(c.packetSize) {
		return TpktPacketComplete, nil
	}

	readBytes := make([]byte, int(c.packetSize)-bufPos)
	n, err := io.ReadFull(c.conn, readBytes)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return TpktError, errors.New("cotp: socket closed")
		}
		return TpktError, fmt.Errorf("cotp: read error: %w", err)
	}

	c.readBuffer = append(c.readBuffer, readBytes[:n]...)
	return TpktPacketComplete, nil
}

func (c *Connection) readOnePacket(ctx context.Context) (Indication, error) {
	for {
		state, err := c.readToTpktBuffer(ctx)
		if err != nil {
			return IndicationError, err
		}
		if state == TpktPacketComplete {
			return c.parseIncomingMessage()
		}
	}
}

// Connect performs the CR/CC handshake: sends a CR TPDU
// with the configured TPDU size and t-selectors, reference fields dst_ref=0
// src_ref=1, and awaits a matching CC.
func Connect(ctx context.Context, conn io.ReadWriteCloser, params IsoConnectionParameters, tpduSize int, opts ...ConnectionOption) (*Connection, error) {
	c := NewConnection(conn, opts...)
	c.SetTpduSize(tpduSize)

	if err := c.sendConnectionRequestMessage(&params); err != nil {
		return nil, fmt.Errorf("cotp: send CR: %w", err)
	}

	indication, err := c.readOnePacket(ctx)
	if err != nil {
		return nil, fmt.Errorf("cotp: await CC: %w", err)
	}
	if indication != IndicationConnect {
		return nil, fmt.Errorf("cotp: expected CC, got indication %d", indication)
	}

	c.logger.Debug("CC received: remote_ref=%d protocol_class=%d", c.remoteRef, c.protocolClass)

	return c, nil
}

// SendData segments and writes payload as a DT sequence.
func (c *Connection) SendData(payload []byte) error {
	return c.sendDataMessage(payload)
}

// ReceiveData reads TPKTs until a DT with end-of-transmission=1 arrives,
// returning the concatenated DT bodies. Any non-DT TPDU on an
// established connection is a fatal framing error.
func (c *Connection) ReceiveData(ctx context.Context) ([]byte, error) {
	c.ResetPayload()

	for {
		state, err := c.readToTpktBuffer(ctx)
		if err != nil {
			return nil, err
		}
		if state != TpktPacketComplete {
			continue
		}

		indication, err := c.parseIncomingMessage()
		if err != nil {
			return nil, err
		}

		switch indication {
		case IndicationData:
			out := make([]byte, len(c.payload))
			copy(out, c.payload)
			c.ResetPayload()
			return out, nil
		case IndicationMoreFragmentsFollow:
			continue
		case IndicationDisconnect:
			return nil, errors.New("cotp: peer disconnected")
		default:
			return nil, fmt.Errorf("cotp: unexpected indication %d on established connection", indication)
		}
	}
}

// ReadHalf is the read-only view of a Connection handed to the dispatcher's
// reading goroutine after Split.
type ReadHalf struct{ c *Connection }

func (r *ReadHalf) ReceiveData(ctx context.Context) ([]byte, error) { return r.c.ReceiveData(ctx) }

// WriteHalf is the write-only view of a Connection handed to the
// dispatcher's writing goroutine after Split.
type WriteHalf struct{ c *Connection }

func (w *WriteHalf) SendData(payload []byte) error { return w.c.SendData(payload) }

// Split consumes the Connection into independently owned read and write
// halves; it must only be called once, after the
// handshake phase.
func (c *Connection) Split() (*ReadHalf, *WriteHalf) {
	return &ReadHalf{c: c}, &WriteHalf{c: c}
}

// Close closes the underlying byte stream.
func (c *Connection) Close() error {
	c.logger.Debug("closing connection: local_ref=%d remote_ref=%d", c.localRef, c.remoteRef)
	return c.conn.Close()
}
