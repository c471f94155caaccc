package mms

import (
	"fmt"

	"github.com/iec61850/mmsclient/ber"
)

// NamedVariable is one entry of a named variable list's listOfVariable,
// always a domain-specific ObjectName.
type NamedVariable struct {
	DomainID string
	ItemID   string
}

// DefineNamedVariableListRequest encodes confirmedServiceRequest [11]
// (0xAB): variableListName ObjectName, then listOfVariable [0] SEQUENCE OF
// SEQUENCE { variableSpecification }.
type DefineNamedVariableListRequest struct {
	ListDomainID string
	ListName     string
	Variables    []NamedVariable
}

func NewDefineNamedVariableListRequest(listDomainID, listName string, variables []NamedVariable) *DefineNamedVariableListRequest {
	return &DefineNamedVariableListRequest{ListDomainID: listDomainID, ListName: listName, Variables: variables}
}

func (r *DefineNamedVariableListRequest) Bytes(invokeID uint32) []byte {
	content := buildDomainSpecificObjectName(r.ListDomainID, r.ListName)

	var listOfVariable []byte
	for _, v := range r.Variables {
		name := buildDomainSpecificObjectName(v.DomainID, v.ItemID)
		variableSpec := appendTag(nil, 0xA0, name)
		listOfVariable = append(listOfVariable, appendTag(nil, 0x30, variableSpec)...)
	}

	content = appendTag(content, 0xA0, listOfVariable)
	return wrapConfirmedRequest(invokeID, appendTag(nil, 0xAB, content))
}

// ParseDefineNamedVariableListResponse decodes the (empty, unit-valued)
// confirmedServiceResponse:defineNamedVariableList response.
func ParseDefineNamedVariableListResponse(buffer []byte) error {
	_, _, err := unwrapConfirmedResponse(buffer, 0xAB)
	return err
}

// GetNamedVariableListAttributesRequest encodes confirmedServiceRequest
// [12] (0xAC): a single ObjectName naming the list.
type GetNamedVariableListAttributesRequest struct {
	DomainID string
	ItemID   string
}

func NewGetNamedVariableListAttributesRequest(domainID, itemID string) *GetNamedVariableListAttributesRequest {
	return &GetNamedVariableListAttributesRequest{DomainID: domainID, ItemID: itemID}
}

func (r *GetNamedVariableListAttributesRequest) Bytes(invokeID uint32) []byte {
	name := buildDomainSpecificObjectName(r.DomainID, r.ItemID)
	return wrapConfirmedRequest(invokeID, appendTag(nil, 0xAC, name))
}

// GetNamedVariableListAttributesResponse is the decoded confirmedServiceResponse
// [12]: mmsDeletable plus the list's member variable names.
type GetNamedVariableListAttributesResponse struct {
	MmsDeletable bool
	Variables    []NamedVariable
}

func ParseGetNamedVariableListAttributesResponse(buffer []byte) (*GetNamedVariableListAttributesResponse, error) {
	_, content, err := unwrapConfirmedResponse(buffer, 0xAC)
	if err != nil {
		return nil, err
	}

	out := &GetNamedVariableListAttributesResponse{}
	pos := 0
	for pos < len(content) {
		tag := content[pos]
		pos++
		newPos, length, err := decodeBERLength(content, pos)
		if err != nil {
			return nil, err
		}
		pos = newPos
		if pos+length > len(content) {
			return nil, fmt.Errorf("mms: getNamedVariableListAttributes response field overruns buffer")
		}
		val := content[pos : pos+length]
		pos += length

		switch tag {
		case 0x80: // mmsDeletable BOOLEAN
			out.MmsDeletable = length > 0 && val[0] != 0
		case 0xA1: // listOfVariable
			vars, err := parseNamedVariableSequence(val)
			if err != nil {
				return nil, err
			}
			out.Variables = vars
		}
	}

	return out, nil
}

// parseNamedVariableSequence decodes SEQUENCE OF SEQUENCE {
// variableSpecification } where every specification is a domain-specific
// ObjectName, the only form this client produces or expects back.
func parseNamedVariableSequence(buf []byte) ([]NamedVariable, error) {
	var out []NamedVariable
	pos := 0
	for pos < len(buf) {
		if buf[pos] != 0x30 {
			return nil, fmt.Errorf("mms: expected variable entry SEQUENCE (0x30), got 0x%02x", buf[pos])
		}
		pos++
		newPos, length, err := decodeBERLength(buf, pos)
		if err != nil {
			return nil, err
		}
		pos = newPos
		entry := buf[pos : pos+length]
		pos += length

		if len(entry) < 2 || entry[0] != 0xA0 {
			continue
		}
		specStart, specLen, err := decodeBERLength(entry, 1)
		if err != nil {
			return nil, err
		}
		spec := entry[specStart : specStart+specLen]

		if len(spec) < 2 || spec[0] != 0xA1 {
			continue // skip specifications this client doesn't decode (non domain-specific names)
		}
		nameStart, nameLen, err := decodeBERLength(spec, 1)
		if err != nil {
			return nil, err
		}
		domainSpecific := spec[nameStart : nameStart+nameLen]
		ids, err := parseVisibleStringSequence(domainSpecific)
		if err != nil {
			return nil, err
		}
		if len(ids) == 2 {
			out = append(out, NamedVariable{DomainID: ids[0], ItemID: ids[1]})
		}
	}
	return out, nil
}

// DeleteScope selects DeleteNamedVariableList-Request's scopeOfDelete.
type DeleteScope int

const (
	DeleteScopeSpecific DeleteScope = iota
	DeleteScopeAASpecific
	DeleteScopeDomain
	DeleteScopeVMD
)

// DeleteNamedVariableListRequest encodes confirmedServiceRequest [13]
// (0xAD).
type DeleteNamedVariableListRequest struct {
	Scope    DeleteScope
	Lists    []NamedVariable // used when Scope == DeleteScopeSpecific
	DomainID string          // used when Scope == DeleteScopeDomain
}

func (r *DeleteNamedVariableListRequest) Bytes(invokeID uint32) []byte {
	// scopeOfDelete [0], listOfName [1], domainName [2]
	content := appendTag(nil, 0x80, []byte{byte(r.Scope)})

	if len(r.Lists) > 0 {
		var names []byte
		for _, l := range r.Lists {
			names = append(names, buildDomainSpecificObjectName(l.DomainID, l.ItemID)...)
		}
		content = appendTag(content, 0xA1, names)
	}

	if r.DomainID != "" {
		content = appendTag(content, 0x82, []byte(r.DomainID))
	}

	return wrapConfirmedRequest(invokeID, appendTag(nil, 0xAD, content))
}

// DeleteNamedVariableListResponse reports how many lists matched the
// request's scope and how many were actually deleted.
type DeleteNamedVariableListResponse struct {
	NumberMatched uint32
	NumberDeleted uint32
}

func ParseDeleteNamedVariableListResponse(buffer []byte) (*DeleteNamedVariableListResponse, error) {
	_, content, err := unwrapConfirmedResponse(buffer, 0xAD)
	if err != nil {
		return nil, err
	}

	out := &DeleteNamedVariableListResponse{}
	pos := 0
	for pos < len(content) {
		tag := content[pos]
		pos++
		newPos, length, err := decodeBERLength(content, pos)
		if err != nil {
			return nil, err
		}
		pos = newPos
		val := content[pos : pos+length]
		pos += length

		switch tag {
		case 0x80:
			out.NumberMatched = ber.DecodeUint32(val, len(val), 0)
		case 0x81:
			out.NumberDeleted = ber.DecodeUint32(val, len(val), 0)
		}
	}

	return out, nil
}
