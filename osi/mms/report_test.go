package mms

import (
	"math"
	"testing"

	"github.com/iec61850/mmsclient/osi/mms/variant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseReportWithVariableListName(t *testing.T) {
	// Information-report for named variable list LD0/DS1 carrying a boolean
	// and a floating-point access result.
	pdu := parseHexString(`
		a3 1e a0 1c a1 1a
		a1 0c a1 0a 1a 03 4c 44 30 1a 03 44 53 31
		a0 0a 83 01 01 87 05 08 3d a8 83 7c`)

	report, err := ParseReport(pdu)
	require.NoError(t, err)

	assert.Equal(t, "LD0/DS1", report.VariableListName)
	require.Len(t, report.Values, 2)

	require.True(t, report.Values[0].Success)
	assert.Equal(t, variant.Bool, report.Values[0].Value.Type())
	assert.True(t, report.Values[0].Value.Bool())

	require.True(t, report.Values[1].Success)
	assert.Equal(t, variant.Float32, report.Values[1].Value.Type())
	assert.InDelta(t, math.Float32frombits(0x3da8837c), report.Values[1].Value.Float32(), 1e-9)
}

func TestParseReportEmptyBody(t *testing.T) {
	report, err := ParseReport([]byte{0xA3, 0x04, 0xA0, 0x02, 0xA1, 0x00})
	require.NoError(t, err)
	assert.Empty(t, report.VariableListName)
	assert.Empty(t, report.Values)
}

func TestParseReportRejectsWrongPDU(t *testing.T) {
	_, err := ParseReport([]byte{0xA1, 0x02, 0xA0, 0x00})
	assert.Error(t, err)
}
