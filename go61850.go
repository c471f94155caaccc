// Package go61850 is the top-level MMS client facade: it drives the
// connect handshake through every OSI layer (TCP/TLS → COTP → Session →
// Presentation → ACSE → MMS Initiate), then hands the established
// association to an mms.Dispatcher and exposes the MMS operations an
// IEC 61850 client needs.
package go61850

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/iec61850/mmsclient/ber"
	"github.com/iec61850/mmsclient/config"
	"github.com/iec61850/mmsclient/logger"
	"github.com/iec61850/mmsclient/osi/acse"
	"github.com/iec61850/mmsclient/osi/cotp"
	"github.com/iec61850/mmsclient/osi/mms"
	"github.com/iec61850/mmsclient/osi/presentation"
	"github.com/iec61850/mmsclient/osi/session"
	"github.com/iec61850/mmsclient/transport"
)

// connSeq hands out a conn_id tag per Connect call so log lines from
// concurrent associations can be told apart.
var connSeq uint64

// Client is one established MMS association: the split COTP connection,
// the dispatcher multiplexing confirmed requests over it, and the invoke
// id counter every public operation draws from.
type Client struct {
	cfg        *config.Config
	logger     logger.Logger
	cotpConn   *cotp.Connection
	dispatcher *mms.Dispatcher
	initResp   *mms.InitiateResponse

	nextInvokeID uint32
}

// ClientOption configures Connect beyond what config.Config already
// carries (currently just the logger).
type ClientOption func(*clientOptions)

type clientOptions struct {
	logger logger.Logger
}

// WithLogger sets the Logger used by every layer of the association.
func WithLogger(l logger.Logger) ClientOption {
	return func(o *clientOptions) { o.logger = l }
}

// Connect dials cfg's endpoint and drives the full connect sequence:
// transport → COTP CR/CC → nested Session CONNECT / Presentation CP /
// ACSE AARQ / MMS Initiate-Request, then validates the negotiated
// Initiate-Response and starts the dispatcher. report
// may be nil; unconfirmed Information-Reports are then logged and
// dropped by the dispatcher.
func Connect(ctx context.Context, cfg *config.Config, report mms.ReportCallback, opts ...ClientOption) (*Client, error) {
	options := clientOptions{logger: logger.New("go61850")}
	for _, opt := range opts {
		opt(&options)
	}

	connID := atomic.AddUint64(&connSeq, 1)
	connLogger := options.logger.WithField("conn_id", connID)

	conn, err := transport.Dial(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("go61850: dial: %w", err)
	}

	cotpParams := cotp.IsoConnectionParameters{
		RemoteTSelector: cotp.TSelector{Value: cfg.RemoteTSelector},
		LocalTSelector:  cotp.TSelector{Value: cfg.LocalTSelector},
	}

	cotpConn, err := cotp.Connect(ctx, conn, cotpParams, int(cfg.TpduSize), cotp.WithLogger(connLogger.WithField("layer", "cotp")))
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("go61850: COTP connect: %w", err)
	}

	c := &Client{cfg: cfg, logger: connLogger, cotpConn: cotpConn}

	initResp, err := c.handshake(ctx)
	if err != nil {
		_ = cotpConn.Close()
		return nil, err
	}
	c.initResp = initResp

	readHalf, writeHalf := cotpConn.Split()
	c.dispatcher = mms.NewDispatcher(
		&mmsDuplexReader{read: readHalf, logger: connLogger.WithField("layer", "session")},
		&mmsDuplexWriter{write: writeHalf, logger: connLogger.WithField("layer", "session")},
		connLogger.WithField("layer", "mms"),
		report,
	)

	return c, nil
}

// handshake builds and sends the nested Initiate-Request (MMS → ACSE
// AARQ → Presentation CP → Session CONNECT), then parses and validates
// the mirrored response chain.
func (c *Client) handshake(ctx context.Context) (*mms.InitiateResponse, error) {
	initReq := mms.NewInitiateRequest(
		mms.WithLocalDetailCalling(uint32(c.cfg.MaxPDUSize)),
		mms.WithProposedMaxServOutstandingCalling(uint32(c.cfg.MaxServOutstandingCalling)),
		mms.WithProposedMaxServOutstandingCalled(uint32(c.cfg.MaxServOutstandingCalled)),
		mms.WithProposedDataStructureNestingLevel(uint32(c.cfg.DataStructureNestingLevel)),
		mms.WithProposedVersionNumber(1),
	)
	c.logger.Debug("go61850: MMS Initiate-Request: %s", initReq)

	acseLog := c.logger.WithField("layer", "acse")
	presLog := c.logger.WithField("layer", "presentation")
	sessLog := c.logger.WithField("layer", "session")

	calling, called := c.acseIdentities()
	aarq := acse.BuildAARQ(calling, called, initReq.Bytes())
	acseLog.Debug("AARQ: calling=%+v called=%+v", calling, called)

	cp := presentation.BuildCPType(c.cfg.LocalPSelector, c.cfg.RemotePSelector, aarq)
	presLog.Debug("CP-type: local_selector=% x remote_selector=% x", c.cfg.LocalPSelector, c.cfg.RemotePSelector)

	connectSPDU := session.BuildConnectSPDU(c.cfg.LocalSSelector, c.cfg.RemoteSSelector, cp)
	sessLog.Debug("CONNECT SPDU: local_selector=% x remote_selector=% x", c.cfg.LocalSSelector, c.cfg.RemoteSSelector)

	if err := c.cotpConn.SendData(connectSPDU); err != nil {
		return nil, fmt.Errorf("go61850: send Initiate handshake: %w", err)
	}

	raw, err := c.cotpConn.ReceiveData(ctx)
	if err != nil {
		return nil, fmt.Errorf("go61850: await Initiate handshake reply: %w", err)
	}

	sessionSPDU, err := session.ParseSessionSPDU(raw)
	if err != nil {
		return nil, fmt.Errorf("go61850: parse Session ACCEPT: %w", err)
	}
	if sessionSPDU.Type != session.SessionSPDUTypeAccept {
		return nil, fmt.Errorf("go61850: expected Session ACCEPT, got SPDU type 0x%02x", byte(sessionSPDU.Type))
	}
	sessLog.Debug("ACCEPT SPDU: type=%d length=%d", sessionSPDU.Type, sessionSPDU.Length)

	presPDU, err := presentation.ParsePresentationPDU(sessionSPDU.Data)
	if err != nil {
		return nil, fmt.Errorf("go61850: parse Presentation CPA: %w", err)
	}
	if presPDU.PresentationContextId != presentation.ContextIDACSE {
		return nil, fmt.Errorf("go61850: CPA user-data on unexpected context %d, expected ACSE (%d)", presPDU.PresentationContextId, presentation.ContextIDACSE)
	}
	presLog.Debug("CPA PDV: context_id=%d", presPDU.PresentationContextId)

	acsePDU, err := acse.ParseACSEPDU(presPDU.Data)
	if err != nil {
		return nil, fmt.Errorf("go61850: parse ACSE AARE: %w", err)
	}
	if acsePDU.Type != acse.TypeAARE {
		return nil, fmt.Errorf("go61850: expected AARE, got PDU tag 0x%02x", acsePDU.Type)
	}
	if acsePDU.Result == nil || *acsePDU.Result != acse.ResultAccepted {
		return nil, fmt.Errorf("go61850: association rejected: result=%v, diagnostic=% x", acsePDU.Result, acsePDU.ResultSourceDiagnostic)
	}
	acseLog.Debug("AARE: result=%v", *acsePDU.Result)

	initResp, err := mms.ParseInitiateResponse(acsePDU.Data)
	if err != nil {
		return nil, fmt.Errorf("go61850: parse MMS Initiate-Response: %w", err)
	}

	if err := c.validateInitiateResponse(initResp); err != nil {
		return nil, err
	}

	return initResp, nil
}

// validateInitiateResponse enforces the Initiate negotiation rules: any
// violation, or any PDU other than Initiate-Response at this point, is
// fatal.
func (c *Client) validateInitiateResponse(r *mms.InitiateResponse) error {
	if r.NegotiatedVersionNumber != 1 {
		return fmt.Errorf("go61850: negotiated MMS version %d, expected 1", r.NegotiatedVersionNumber)
	}
	if r.LocalDetailCalled != nil && *r.LocalDetailCalled < 64 {
		return fmt.Errorf("go61850: negotiated PDU size %d below minimum 64", *r.LocalDetailCalled)
	}
	if r.NegotiatedMaxServOutstandingCalled > uint32(c.cfg.MaxServOutstandingCalled) {
		return fmt.Errorf("go61850: negotiated outstanding-called window %d exceeds proposed %d", r.NegotiatedMaxServOutstandingCalled, c.cfg.MaxServOutstandingCalled)
	}
	if r.NegotiatedMaxServOutstandingCalling > uint32(c.cfg.MaxServOutstandingCalling) {
		return fmt.Errorf("go61850: negotiated outstanding-calling window %d exceeds proposed %d", r.NegotiatedMaxServOutstandingCalling, c.cfg.MaxServOutstandingCalling)
	}
	if r.NegotiatedDataStructureNestingLevel != nil && *r.NegotiatedDataStructureNestingLevel > uint32(c.cfg.DataStructureNestingLevel) {
		return fmt.Errorf("go61850: negotiated nesting level %d exceeds proposed %d", *r.NegotiatedDataStructureNestingLevel, c.cfg.DataStructureNestingLevel)
	}
	return nil
}

// acseIdentities builds the ACSE Identity pair from the configured
// AP-title/AE-qualifier, encoding each as the full field content ACSE's
// BuildAARQ expects. An absent AP-title yields a zero Identity, which
// BuildAARQ then omits from the AARQ entirely.
func (c *Client) acseIdentities() (calling, called acse.Identity) {
	calling = buildIdentity(c.cfg.LocalAPTitle, c.cfg.LocalAEQualifier)
	called = buildIdentity(c.cfg.RemoteAPTitle, c.cfg.RemoteAEQualifier)
	return calling, called
}

func buildIdentity(apTitleArcs []int, aeQualifier int) acse.Identity {
	if len(apTitleArcs) == 0 {
		return acse.Identity{}
	}

	oidBuf := make([]byte, 64)
	n, err := ber.EncodeOIDToBuffer(joinArcs(apTitleArcs), oidBuf, len(oidBuf))
	if err != nil {
		return acse.Identity{}
	}
	apTitle := append([]byte{byte(ber.ObjectIdentifier), byte(n)}, oidBuf[:n]...)

	qBuf := make([]byte, 8)
	qn := ber.EncodeInt32(int32(aeQualifier), qBuf, 0)
	aeQ := append([]byte{byte(ber.Integer), byte(qn)}, qBuf[:qn]...)

	return acse.Identity{APTitle: apTitle, AEQualifier: aeQ}
}

func joinArcs(arcs []int) string {
	out := ""
	for i, a := range arcs {
		if i > 0 {
			out += "."
		}
		out += fmt.Sprintf("%d", a)
	}
	return out
}

// InitiateResponse returns the negotiated parameters from the Initiate
// handshake.
func (c *Client) InitiateResponse() *mms.InitiateResponse { return c.initResp }

// Close tears down the dispatcher and the underlying connection. The
// association has no reconnection semantics: a closed Client must be
// discarded.
func (c *Client) Close() error {
	dispatchErr := c.dispatcher.Close()
	connErr := c.cotpConn.Close()
	if connErr != nil {
		return connErr
	}
	if dispatchErr != nil && dispatchErr.Error() != "mms: dispatcher is closed" {
		return dispatchErr
	}
	return nil
}

// nextID hands out invoke ids in strictly monotonic order starting at 0,
// with no reuse within the association.
func (c *Client) nextID() uint32 {
	return atomic.AddUint32(&c.nextInvokeID, 1) - 1
}

// mmsDuplexReader wraps a *cotp.ReadHalf, stripping the Session
// GIVE-TOKENS+DATA prelude and the Presentation PDV wrapper from every
// inbound SDU so the dispatcher only ever sees raw MMS PDU bytes.
type mmsDuplexReader struct {
	read   *cotp.ReadHalf
	logger logger.Logger
}

func (r *mmsDuplexReader) ReceiveData(ctx context.Context) ([]byte, error) {
	raw, err := r.read.ReceiveData(ctx)
	if err != nil {
		return nil, err
	}

	if len(raw) > 0 && session.IsTerminating(raw[0]) {
		return nil, fmt.Errorf("go61850: peer ended session (SPDU type 0x%02x)", raw[0])
	}

	sessionPayload, err := session.UnwrapDataSPDU(raw)
	if err != nil {
		return nil, fmt.Errorf("go61850: unwrap Session DATA: %w", err)
	}

	presPDU, err := presentation.ParsePresentationPDU(sessionPayload)
	if err != nil {
		return nil, fmt.Errorf("go61850: parse Presentation PDV: %w", err)
	}
	if presPDU.PresentationContextId != presentation.ContextIDMMS {
		return nil, fmt.Errorf("go61850: inbound PDV on unexpected context %d, expected MMS (%d)", presPDU.PresentationContextId, presentation.ContextIDMMS)
	}
	r.logger.Debug("RX Session DATA: %d bytes payload, context_id=%d", len(presPDU.Data), presPDU.PresentationContextId)

	return presPDU.Data, nil
}

// mmsDuplexWriter wraps a *cotp.WriteHalf, applying the Presentation PDV
// wrapper and Session GIVE-TOKENS+DATA prelude to every outbound MMS PDU.
type mmsDuplexWriter struct {
	write  *cotp.WriteHalf
	logger logger.Logger
}

func (w *mmsDuplexWriter) SendData(payload []byte) error {
	pdv := presentation.BuildUserData(presentation.ContextIDMMS, payload)
	w.logger.Debug("TX Session DATA: %d bytes payload", len(payload))
	return w.write.SendData(session.BuildDataTransferWithTokens(pdv))
}
