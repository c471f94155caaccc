package mms

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetNameListRequestBytesVMDScope(t *testing.T) {
	req := &GetNameListRequest{
		InvokeID:    0,
		ObjectClass: ObjectClassDomain,
		Scope:       ScopeVMD,
	}

	// a0 0e - confirmed-RequestPDU
	//    02 01 00 - invokeID: 0
	//    a1 09 - getNameList
	//       a0 03 80 01 09 - extendedObjectClass: objectClass domain (9)
	//       a1 02 80 00 - objectScope: vmdSpecific
	expected := parseHexString("a0 0e 02 01 00 a1 09 a0 03 80 01 09 a1 02 80 00")
	assert.Equal(t, expected, req.Bytes())
}

func TestGetNameListRequestBytesDomainScopeWithContinueAfter(t *testing.T) {
	req := &GetNameListRequest{
		InvokeID:      7,
		ObjectClass:   ObjectClassNamedVariable,
		Scope:         ScopeDomain,
		DomainID:      "LD0",
		ContinueAfter: "LD1",
	}

	expected := parseHexString(
		"a0 16 02 01 07 a1 11" +
			" a0 03 80 01 00" + // objectClass namedVariable
			" a1 05 81 03 4c 44 30" + // domainSpecific "LD0"
			" 82 03 4c 44 31") // continueAfter "LD1"
	assert.Equal(t, expected, req.Bytes())
}

func TestParseGetNameListResponse(t *testing.T) {
	// listOfIdentifier {"LD0", "LD1"}, moreFollows true
	resp := parseHexString("a1 14 02 01 00 a1 0f a0 0a 1a 03 4c 44 30 1a 03 4c 44 31 81 01 ff")

	page, err := ParseGetNameListResponse(resp)
	require.NoError(t, err)
	assert.Equal(t, []string{"LD0", "LD1"}, page.Identifiers)
	assert.True(t, page.MoreFollows)
}

func TestParseGetNameListResponseMoreFollowsDefaultsTrue(t *testing.T) {
	// moreFollows omitted: ASN.1 DEFAULT TRUE applies.
	resp := parseHexString("a1 0c 02 01 00 a1 07 a0 05 1a 03 4c 44 32")

	page, err := ParseGetNameListResponse(resp)
	require.NoError(t, err)
	assert.Equal(t, []string{"LD2"}, page.Identifiers)
	assert.True(t, page.MoreFollows)
}

func TestParseGetNameListResponseLastPage(t *testing.T) {
	resp := parseHexString("a1 0f 02 01 01 a1 0a a0 05 1a 03 4c 44 32 81 01 00")

	page, err := ParseGetNameListResponse(resp)
	require.NoError(t, err)
	assert.Equal(t, []string{"LD2"}, page.Identifiers)
	assert.False(t, page.MoreFollows)
}

func TestParseGetNameListResponseRejectsWrongService(t *testing.T) {
	// confirmedServiceResponse tagged as read (a4) instead of getNameList.
	resp := parseHexString("a1 07 02 01 00 a4 02 a1 00")
	_, err := ParseGetNameListResponse(resp)
	assert.Error(t, err)
}
