package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRequiresAddress(t *testing.T) {
	_, err := New()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "address is required")
}

func TestNewAppliesDefaults(t *testing.T) {
	c, err := New(WithAddress("192.168.1.10", 102))
	require.NoError(t, err)
	assert.Equal(t, 102, c.Port)
	assert.Equal(t, 8192, c.MaxPDUSize)
	assert.EqualValues(t, 10, c.MaxServOutstandingCalling)
	assert.EqualValues(t, 10, c.MaxServOutstandingCalled)
	assert.EqualValues(t, 10, c.DataStructureNestingLevel)
	assert.EqualValues(t, 8192, c.TpduSize)
}

func TestNewRejectsOversizedSelector(t *testing.T) {
	longSel := make([]byte, 17)
	_, err := New(
		WithAddress("192.168.1.10", 102),
		WithTransportSelectors(longSel, []byte{0, 1}),
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "local_t_sel too long")
}

func TestNewAcceptsSelectorAtExactLimit(t *testing.T) {
	sel := make([]byte, maxSelectorLength)
	_, err := New(
		WithAddress("192.168.1.10", 102),
		WithSessionSelectors(sel, sel),
	)
	assert.NoError(t, err)
}

func TestNewRejectsMismatchedTLSKeyCertPair(t *testing.T) {
	_, err := New(
		WithAddress("192.168.1.10", 102),
		WithTLS(TLS{CertFile: "client.pem"}),
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cert and key must be supplied together")

	_, err = New(
		WithAddress("192.168.1.10", 102),
		WithTLS(TLS{KeyFile: "client.key"}),
	)
	require.Error(t, err)
}

func TestNewAcceptsTLSWithBothOrNeither(t *testing.T) {
	_, err := New(
		WithAddress("192.168.1.10", 102),
		WithTLS(TLS{CertFile: "client.pem", KeyFile: "client.key"}),
	)
	assert.NoError(t, err)

	_, err = New(
		WithAddress("192.168.1.10", 102),
		WithTLS(TLS{CAFile: "ca.pem", DisableVerify: true}),
	)
	assert.NoError(t, err)
}

func TestNewRejectsPDUSizeBelowMinimum(t *testing.T) {
	_, err := New(
		WithAddress("192.168.1.10", 102),
		WithMaxPDUSize(63),
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_pdu_size must be >= 64")
}

func TestNewSnapsTpduSizeIntoRange(t *testing.T) {
	c, err := New(WithAddress("192.168.1.10", 102), WithTpduSize(1))
	require.NoError(t, err)
	assert.EqualValues(t, minTpduSize, c.TpduSize)

	c, err = New(WithAddress("192.168.1.10", 102), WithTpduSize(1<<20))
	require.NoError(t, err)
	assert.EqualValues(t, maxTpduSize, c.TpduSize)
}

func TestNewPreservesACSEIdentity(t *testing.T) {
	c, err := New(
		WithAddress("192.168.1.10", 102),
		WithACSEIdentity([]int{1, 1, 1, 999}, 1, []int{1, 1, 1, 998}, 2),
	)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 1, 1, 999}, c.LocalAPTitle)
	assert.Equal(t, 1, c.LocalAEQualifier)
	assert.Equal(t, []int{1, 1, 1, 998}, c.RemoteAPTitle)
	assert.Equal(t, 2, c.RemoteAEQualifier)
}
