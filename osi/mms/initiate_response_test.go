package mms

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Golden vector: the initiate-ResponsePDU a libIEC61850 server answered the
// request in initiate_request_test.go with (outer layers stripped).
func TestParseInitiateResponseFromCapture(t *testing.T) {
	buf := parseHexString(`
		a9 26 80 03 00 fd e8 81 01 05 82 01 05 83 01 0a
		a4 16 80 01 01 81 03 05 f1 00 82 0c 03 ee 1c 00
		00 00 02 00 00 40 ed 18`)

	resp, err := ParseInitiateResponse(buf)
	require.NoError(t, err)

	require.NotNil(t, resp.LocalDetailCalled)
	assert.EqualValues(t, 65000, *resp.LocalDetailCalled)
	assert.EqualValues(t, 5, resp.NegotiatedMaxServOutstandingCalling)
	assert.EqualValues(t, 5, resp.NegotiatedMaxServOutstandingCalled)
	require.NotNil(t, resp.NegotiatedDataStructureNestingLevel)
	assert.EqualValues(t, 10, *resp.NegotiatedDataStructureNestingLevel)
	assert.EqualValues(t, 1, resp.NegotiatedVersionNumber)

	assert.Equal(t, []ParameterCBBBit{Str1, Str2, Vnam, Valt, Vlis}, resp.NegotiatedParameterCBB)

	assert.Contains(t, resp.ServicesSupportedCalled, GetNameList)
	assert.Contains(t, resp.ServicesSupportedCalled, Read)
	assert.Contains(t, resp.ServicesSupportedCalled, Write)
	assert.Contains(t, resp.ServicesSupportedCalled, InformationReport)
	assert.NotContains(t, resp.ServicesSupportedCalled, FileRename)
}

func TestParseInitiateResponseRejectsWrongTag(t *testing.T) {
	_, err := ParseInitiateResponse([]byte{0xA8, 0x02, 0x80, 0x00})
	assert.Error(t, err)
}
