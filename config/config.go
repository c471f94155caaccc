// Package config collects every tunable of an MMS association into one
// validated value, built through functional options, so every layer
// (transport, COTP, Session, Presentation, ACSE, MMS) is configured from a
// single source instead of scattered constructor arguments.
package config

import (
	"errors"
	"fmt"
)

const (
	// maxSelectorLength is the longest T-SEL/S-SEL/P-SEL this client will
	// send; longer values are a configuration error.
	maxSelectorLength = 16

	minPDUSize  = 64
	minTpduSize = 128
	maxTpduSize = 8192
)

// TLS holds the optional transport-security material for the byte
// transport. The server certificate is verified unless DisableVerify is
// set, against the system roots or, when CAFile is given, against the
// certificates in CAFile; CertFile and KeyFile must be supplied together
// for mutual TLS, or not at all.
type TLS struct {
	CAFile        string
	CertFile      string
	KeyFile       string
	DisableVerify bool
}

// Config is the fully validated, immutable description of one MMS
// association, built by New from a set of Options.
type Config struct {
	Address string
	Port    int

	TLS *TLS

	LocalTSelector  []byte
	RemoteTSelector []byte
	LocalSSelector  []byte
	RemoteSSelector []byte
	LocalPSelector  []byte
	RemotePSelector []byte

	LocalAPTitle      []int
	LocalAEQualifier  int
	RemoteAPTitle     []int
	RemoteAEQualifier int

	MaxPDUSize                int
	MaxServOutstandingCalling int16
	MaxServOutstandingCalled  int16
	DataStructureNestingLevel int8
	TpduSize                  uint32
}

func defaultConfig() *Config {
	return &Config{
		Port:                      102,
		LocalTSelector:            []byte{0, 1},
		RemoteTSelector:           []byte{0, 1},
		LocalSSelector:            []byte{0, 1},
		RemoteSSelector:           []byte{0, 1},
		LocalPSelector:            []byte{0, 1},
		RemotePSelector:           []byte{0, 1},
		MaxPDUSize:                8192,
		MaxServOutstandingCalling: 10,
		MaxServOutstandingCalled:  10,
		DataStructureNestingLevel: 10,
		TpduSize:                  8192,
	}
}

// Option configures a Config. Construct a Config with New, never by
// literal initialization, so validation always runs.
type Option func(*Config)

func WithAddress(address string, port int) Option {
	return func(c *Config) {
		c.Address = address
		c.Port = port
	}
}

func WithTLS(tls TLS) Option {
	return func(c *Config) { c.TLS = &tls }
}

func WithTransportSelectors(local, remote []byte) Option {
	return func(c *Config) {
		c.LocalTSelector = local
		c.RemoteTSelector = remote
	}
}

func WithSessionSelectors(local, remote []byte) Option {
	return func(c *Config) {
		c.LocalSSelector = local
		c.RemoteSSelector = remote
	}
}

func WithPresentationSelectors(local, remote []byte) Option {
	return func(c *Config) {
		c.LocalPSelector = local
		c.RemotePSelector = remote
	}
}

func WithACSEIdentity(localAPTitle []int, localAEQualifier int, remoteAPTitle []int, remoteAEQualifier int) Option {
	return func(c *Config) {
		c.LocalAPTitle = localAPTitle
		c.LocalAEQualifier = localAEQualifier
		c.RemoteAPTitle = remoteAPTitle
		c.RemoteAEQualifier = remoteAEQualifier
	}
}

func WithMaxPDUSize(size int) Option {
	return func(c *Config) { c.MaxPDUSize = size }
}

func WithOutstandingWindows(calling, called int16) Option {
	return func(c *Config) {
		c.MaxServOutstandingCalling = calling
		c.MaxServOutstandingCalled = called
	}
}

func WithDataStructureNestingLevel(level int8) Option {
	return func(c *Config) { c.DataStructureNestingLevel = level }
}

func WithTpduSize(size uint32) Option {
	return func(c *Config) { c.TpduSize = size }
}

// New builds a Config from opts, applying every snapping/coercion rule the
// component layers themselves rely on and rejecting
// the configurations that have no sane wire representation.
func New(opts ...Option) (*Config, error) {
	c := defaultConfig()
	for _, opt := range opts {
		opt(c)
	}

	if c.Address == "" {
		return nil, errors.New("config: address is required")
	}

	if err := checkSelector("local_t_sel", c.LocalTSelector); err != nil {
		return nil, err
	}
	if err := checkSelector("remote_t_sel", c.RemoteTSelector); err != nil {
		return nil, err
	}
	if err := checkSelector("local_s_sel", c.LocalSSelector); err != nil {
		return nil, err
	}
	if err := checkSelector("remote_s_sel", c.RemoteSSelector); err != nil {
		return nil, err
	}
	if err := checkSelector("local_p_sel", c.LocalPSelector); err != nil {
		return nil, err
	}
	if err := checkSelector("remote_p_sel", c.RemotePSelector); err != nil {
		return nil, err
	}

	if c.TLS != nil {
		hasCert := c.TLS.CertFile != ""
		hasKey := c.TLS.KeyFile != ""
		if hasCert != hasKey {
			return nil, errors.New("config: TLS client cert and key must be supplied together or not at all")
		}
	}

	if c.MaxPDUSize < minPDUSize {
		return nil, fmt.Errorf("config: max_pdu_size must be >= %d, got %d", minPDUSize, c.MaxPDUSize)
	}

	c.TpduSize = snapTpduSize(c.TpduSize)

	return c, nil
}

func checkSelector(name string, sel []byte) error {
	if len(sel) > maxSelectorLength {
		return fmt.Errorf("config: %s too long: %d bytes (max %d)", name, len(sel), maxSelectorLength)
	}
	return nil
}

// snapTpduSize coerces size into [128, 8192], the same boundary rule COTP
// applies to the TPDU-size option.
func snapTpduSize(size uint32) uint32 {
	if size < minTpduSize {
		return minTpduSize
	}
	if size > maxTpduSize {
		return maxTpduSize
	}
	return size
}
