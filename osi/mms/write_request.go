package mms

import (
	"fmt"

	"github.com/iec61850/mmsclient/ber"
	"github.com/iec61850/mmsclient/osi/mms/variant"
)

// WriteItem is one (domain-specific object name, value) pair sent by a
// Write-Request. Read also only ever addresses domain-specific names, so
// Write mirrors that.
type WriteItem struct {
	DomainID string
	ItemID   string
	Value    *variant.Variant
}

// WriteRequest encodes ISO/IEC 9506-2's Write-Request: variableAccessSpecification
// [0] listOfVariable, followed by listOfData [1], a flat run of Data values in
// the same order as the variable list.
type WriteRequest struct {
	Items []WriteItem
}

// NewWriteRequest builds a WriteRequest writing a single named variable,
// the common case.
func NewWriteRequest(domainID, itemID string, value *variant.Variant) *WriteRequest {
	return &WriteRequest{Items: []WriteItem{{DomainID: domainID, ItemID: itemID, Value: value}}}
}

// Bytes encodes the confirmed-RequestPDU carrying this Write-Request under
// invokeID, tag [5] per the ConfirmedServiceRequest CHOICE.
func (r *WriteRequest) Bytes(invokeID uint32) ([]byte, error) {
	var listOfVariable []byte
	for _, item := range r.Items {
		name := buildDomainSpecificObjectName(item.DomainID, item.ItemID)
		variableSpec := appendTag(nil, 0xA0, name)
		listOfVariable = append(listOfVariable, variableSpec...)
	}
	accessSpec := appendTag(nil, 0xA0, appendTag(nil, 0x30, listOfVariable))

	var listOfData []byte
	for _, item := range r.Items {
		enc, err := encodeData(item.Value)
		if err != nil {
			return nil, err
		}
		listOfData = append(listOfData, enc...)
	}

	content := append(accessSpec, appendTag(nil, 0xA1, listOfData)...)
	return wrapConfirmedRequest(invokeID, appendTag(nil, 0xA5, content)), nil
}

// WriteResponse is one page of per-variable write outcomes, in the same
// order the request listed them. A successful write of an item carries no
// value; DataAccessError on failure.
type WriteResponse struct {
	Results []WriteResult
}

// WriteResult is one element of a Write-Response's listOfAccessResult.
type WriteResult struct {
	Success bool
	Error   *DataAccessError
}

// ParseWriteResponse decodes confirmedServiceResponse:write [5] (0xA5).
// Each element is either success NULL (0x80) or failure DataAccessError
// (0x81).
func ParseWriteResponse(buffer []byte) (*WriteResponse, error) {
	_, content, err := unwrapConfirmedResponse(buffer, 0xA5)
	if err != nil {
		return nil, err
	}

	out := &WriteResponse{}
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
			return nil, fmt.Errorf("mms: write response element overruns buffer")
		}
		val := content[pos : pos+length]
		pos += length

		switch tag {
		case 0x80: // success: NULL
			out.Results = append(out.Results, WriteResult{Success: true})
		case 0x81: // failure: DataAccessError
			code := DataAccessErrorCode(ber.DecodeUint32(val, len(val), 0))
			out.Results = append(out.Results, WriteResult{Error: &DataAccessError{ErrorCode: code}})
		}
	}

	return out, nil
}

// FirstError returns the first DataAccessError in the response, or nil if
// every item succeeded.
func (r *WriteResponse) FirstError() *DataAccessError {
	for _, res := range r.Results {
		if res.Error != nil {
			return res.Error
		}
	}
	return nil
}
