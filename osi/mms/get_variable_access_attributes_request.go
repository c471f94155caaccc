package mms

// GetVariableAccessAttributesRequest encodes ISO/IEC 9506-2's
// GetVariableAccessAttributes-Request: the name CHOICE alternative of a
// domain-specific ObjectName, tag [6] per the ConfirmedServiceRequest
// CHOICE.
type GetVariableAccessAttributesRequest struct {
	InvokeID uint32
	DomainID string
	ItemID   string
}

// NewGetVariableAccessAttributesRequest builds a request for one
// domain-specific variable. invokeID is left at 0; callers that go
// through Client.GetVariableAccessAttributes get one from the Client's
// invoke-id counter instead of this constructor's fixed value.
func NewGetVariableAccessAttributesRequest(domainID, itemID string) *GetVariableAccessAttributesRequest {
	return &GetVariableAccessAttributesRequest{DomainID: domainID, ItemID: itemID}
}

// Bytes encodes the confirmed-RequestPDU, from a captured exchange:
//
//	a0 26 - confirmed-RequestPDU
//	   02 01 02 - invokeID
//	   a6 21 - confirmedServiceRequest: getVariableAccessAttributes
//	      a0 1f - getVariableAccessAttributes: name
//	         a1 1d - name: domain-specific
//	            1a 11 "simpleIOGenericIO"  1a 08 "GGIO1$MX"
func (r *GetVariableAccessAttributesRequest) Bytes() []byte {
	name := buildDomainSpecificObjectName(r.DomainID, r.ItemID)
	request := appendTag(nil, 0xA0, name)
	return wrapConfirmedRequest(r.InvokeID, appendTag(nil, 0xA6, request))
}
