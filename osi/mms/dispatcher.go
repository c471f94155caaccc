package mms

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/iec61850/mmsclient/ber"
	"github.com/iec61850/mmsclient/logger"
)

// requestQueueCapacity bounds how many confirmed requests may be queued
// (submitted but not yet written to the wire) before Call blocks, giving
// the association backpressure instead of an unbounded invoke-id map.
const requestQueueCapacity = 100

// Top-level MMS PDU tags (ISO/IEC 9506-2 Annex A), used by the dispatcher
// to decide what to do with an inbound SDU.
const (
	pduConfirmedRequest  byte = 0xA0
	pduConfirmedResponse byte = 0xA1
	pduConfirmedError    byte = 0xA2
	pduUnconfirmed       byte = 0xA3
	pduReject            byte = 0xA4
	pduInitiateRequest   byte = 0xA8
	pduInitiateResponse  byte = 0xA9
	pduInitiateError     byte = 0xAA
)

// ReportCallback receives every unconfirmed Information-Report the server
// sends while this association is open. It is
// invoked from the dispatcher's reader goroutine, so implementations must
// not block for long or call back into the Client synchronously.
type ReportCallback interface {
	OnReport(report *Report)
}

// ReportCallbackFunc adapts a plain function to ReportCallback.
type ReportCallbackFunc func(report *Report)

func (f ReportCallbackFunc) OnReport(report *Report) { f(report) }

// duplexReader is the read half a Dispatcher consumes. *cotp.ReadHalf
// satisfies it.
type duplexReader interface {
	ReceiveData(ctx context.Context) ([]byte, error)
}

// duplexWriter is the write half a Dispatcher consumes. *cotp.WriteHalf
// satisfies it.
type duplexWriter interface {
	SendData(payload []byte) error
}

// call is one confirmed request in flight.
type call struct {
	invokeID uint32
	pdu      []byte
	done     chan callResult
}

type callResult struct {
	response []byte
	err      error
}

// Dispatcher multiplexes confirmed MMS requests over one association:
// a writer goroutine drains the bounded request queue onto the wire in
// submission order, and a reader goroutine demultiplexes inbound SDUs by
// invoke id, completing whichever call they belong to regardless of wire
// arrival order. The pending
// map is guarded by a single mutex shared by both goroutines; no other
// state is shared.
type Dispatcher struct {
	read  duplexReader
	write duplexWriter
	log   logger.Logger

	reqCh  chan call
	doneCh chan struct{}
	wg     sync.WaitGroup

	onReport ReportCallback

	mu      sync.Mutex
	pending map[uint32]chan callResult

	closeOnce sync.Once
	closeMu   sync.Mutex
	closeErr  error
}

// NewDispatcher starts the dispatcher's reader and writer goroutines over
// an already-split connection. onReport may be nil, in which case
// unconfirmed Information-Reports are logged and discarded.
func NewDispatcher(read duplexReader, write duplexWriter, log logger.Logger, onReport ReportCallback) *Dispatcher {
	if log == nil {
		log = logger.Nop()
	}
	if onReport == nil {
		onReport = ReportCallbackFunc(func(*Report) {
			log.Debug("mms: no report callback set, discarding information report")
		})
	}

	d := &Dispatcher{
		read:     read,
		write:    write,
		log:      log,
		reqCh:    make(chan call, requestQueueCapacity),
		doneCh:   make(chan struct{}),
		onReport: onReport,
		pending:  make(map[uint32]chan callResult),
	}

	d.wg.Add(2)
	go d.writeLoop()
	go d.readLoop()

	return d
}

// Call submits a confirmed request under invokeID (already encoded into
// pdu by the caller) and blocks until its matching response arrives, ctx
// is done, or the dispatcher is closed.
func (d *Dispatcher) Call(ctx context.Context, invokeID uint32, pdu []byte) ([]byte, error) {
	done := make(chan callResult, 1)

	select {
	case d.reqCh <- call{invokeID: invokeID, pdu: pdu, done: done}:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-d.doneCh:
		return nil, d.closedErr()
	}

	select {
	case res := <-done:
		return res.response, res.err
	case <-ctx.Done():
		d.abandon(invokeID)
		return nil, ctx.Err()
	case <-d.doneCh:
		return nil, d.closedErr()
	}
}

// abandon silently drops a pending call's map entry when its caller has
// given up (ctx canceled); if the response shows up later it is discarded
// by readLoop instead of being delivered to a channel nobody reads.
func (d *Dispatcher) abandon(invokeID uint32) {
	d.mu.Lock()
	delete(d.pending, invokeID)
	d.mu.Unlock()
}

// Close stops both goroutines and fails every call still waiting on a
// response. Safe to call more than once; subsequent calls return the same
// error.
func (d *Dispatcher) Close() error {
	d.closeOnce.Do(func() {
		close(d.doneCh)
	})
	d.wg.Wait()
	return d.closedErr()
}

func (d *Dispatcher) closedErr() error {
	d.closeMu.Lock()
	defer d.closeMu.Unlock()
	if d.closeErr == nil {
		return errors.New("mms: dispatcher is closed")
	}
	return d.closeErr
}

// fail records the terminal error (e.g. a read/write error that broke the
// connection) and tears the dispatcher down.
func (d *Dispatcher) fail(err error) {
	d.closeMu.Lock()
	if d.closeErr == nil {
		d.closeErr = err
	}
	d.closeMu.Unlock()
	d.closeOnce.Do(func() {
		close(d.doneCh)
	})
}

// writeLoop drains reqCh and writes each request to the wire in submission
// order, registering it in the pending map beforehand so a response
// arriving before SendData even returns can still be matched.
func (d *Dispatcher) writeLoop() {
	defer d.wg.Done()

	for {
		select {
		case c := <-d.reqCh:
			d.mu.Lock()
			d.pending[c.invokeID] = c.done
			d.mu.Unlock()

			if err := d.write.SendData(c.pdu); err != nil {
				d.mu.Lock()
				delete(d.pending, c.invokeID)
				d.mu.Unlock()
				d.log.WithField("invoke_id", c.invokeID).Warn("mms: send request failed: %v", err)
				c.done <- callResult{err: fmt.Errorf("mms: send request: %w", err)}
			}

		case <-d.doneCh:
			d.drainPending()
			return
		}
	}
}

func (d *Dispatcher) drainPending() {
	d.mu.Lock()
	defer d.mu.Unlock()
	err := d.closedErr()
	for id, done := range d.pending {
		done <- callResult{err: err}
		delete(d.pending, id)
	}
}

// readLoop reads inbound SDUs until the connection fails or Close is
// called, routing each to whichever pending call it completes or to
// onReport for unconfirmed reports. A Reject or confirmed-error PDU whose
// invoke id matches nothing pending, or one referencing a service this
// client never sent, is logged and dropped.
func (d *Dispatcher) readLoop() {
	defer d.wg.Done()

	ctx, cancel := contextForDoneCh(d.doneCh)
	defer cancel()

	for {
		buf, err := d.read.ReceiveData(ctx)
		if err != nil {
			select {
			case <-d.doneCh:
				return
			default:
			}
			d.log.Warn("mms: read failed, closing dispatcher: %v", err)
			d.fail(fmt.Errorf("mms: connection read failed: %w", err))
			return
		}
		if len(buf) == 0 {
			continue
		}

		switch buf[0] {
		case pduConfirmedResponse, pduConfirmedError:
			invokeID, err := peekInvokeID(buf)
			if err != nil {
				d.log.Warn("mms: could not read invoke id from response: %v", err)
				continue
			}
			d.complete(invokeID, buf, nil)

		case pduUnconfirmed:
			report, err := ParseReport(buf)
			if err != nil {
				d.log.Warn("mms: failed to parse unconfirmed PDU: %v", err)
				continue
			}
			d.onReport.OnReport(report)

		case pduReject:
			invokeID, ok := peekRejectInvokeID(buf)
			if ok {
				d.complete(invokeID, nil, fmt.Errorf("mms: request rejected: %s", describeReject(buf)))
			} else {
				d.log.Warn("mms: received reject PDU with no original invoke id: %s", describeReject(buf))
			}

		default:
			d.log.Debug("mms: ignoring unexpected top-level PDU tag 0x%02x", buf[0])
		}
	}
}

func (d *Dispatcher) complete(invokeID uint32, response []byte, err error) {
	d.mu.Lock()
	done, ok := d.pending[invokeID]
	if ok {
		delete(d.pending, invokeID)
	}
	d.mu.Unlock()

	if !ok {
		d.log.WithField("invoke_id", invokeID).Debug("mms: no pending call, discarding")
		return
	}
	d.log.WithField("invoke_id", invokeID).Debug("mms: call completed")
	done <- callResult{response: response, err: err}
}

// peekInvokeID extracts the invokeID INTEGER that leads every
// confirmed-ResponsePDU and confirmed-ErrorPDU, without decoding the rest
// of the PDU.
func peekInvokeID(buf []byte) (uint32, error) {
	if len(buf) < 2 {
		return 0, errors.New("mms: PDU too short")
	}
	pos, length, err := decodeBERLength(buf, 1)
	if err != nil {
		return 0, err
	}
	if pos >= len(buf) || pos+length > len(buf) {
		return 0, errors.New("mms: PDU length exceeds buffer")
	}
	content := buf[pos : pos+length]

	if len(content) < 2 || content[0] != 0x02 {
		return 0, fmt.Errorf("mms: expected invokeID INTEGER, got 0x%02x", safeByte(content, 0))
	}
	vPos, vLen, err := decodeBERLength(content, 1)
	if err != nil {
		return 0, err
	}
	if vPos+vLen > len(content) {
		return 0, errors.New("mms: invokeID overruns buffer")
	}
	val := content[vPos : vPos+vLen]
	return ber.DecodeUint32(val, len(val), 0), nil
}

// contextForDoneCh returns a context that is canceled when doneCh closes,
// so a blocking ReceiveData can be interrupted by Dispatcher.Close.
func contextForDoneCh(doneCh <-chan struct{}) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-doneCh:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
