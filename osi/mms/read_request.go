package mms

// ReadItem is one domain-specific object name a Read-Request asks for.
// Read addresses names the same way Write does; unlike Write it carries
// no value, only the name.
type ReadItem struct {
	DomainID string
	ItemID   string
}

// ReadRequest encodes ISO/IEC 9506-2's Read-Request: variableAccessSpecification
// [0] listOfVariable, one VariableAccessSpecification per requested name.
// specificationWithResult [0] BOOLEAN DEFAULT FALSE is always left at its
// default and omitted from the encoding; some IEDs are known to misbehave
// when it is set.
type ReadRequest struct {
	InvokeID uint32
	Items    []ReadItem
}

// NewReadRequest builds a ReadRequest for a single named variable, the
// common case.
func NewReadRequest(invokeID uint32, domainID, itemID string) *ReadRequest {
	return NewReadRequestList(invokeID, []ReadItem{{DomainID: domainID, ItemID: itemID}})
}

// NewReadRequestList builds a ReadRequest addressing several named variables
// in a single confirmed service, exercising the same multi-result
// listOfAccessResult ParseReadResponse already decodes.
func NewReadRequestList(invokeID uint32, items []ReadItem) *ReadRequest {
	return &ReadRequest{InvokeID: invokeID, Items: items}
}

// Bytes encodes the confirmed-RequestPDU carrying this Read-Request, tag
// [4] per the ConfirmedServiceRequest CHOICE. Byte layout (single-item
// case, from a captured exchange):
//
//	a0 38 - confirmed-RequestPDU
//	   02 01 01 - invokeID
//	   a4 33 - confirmedServiceRequest: read
//	      a1 31 - Read-Request
//	         a0 2f - variableAccessSpecification: listOfVariable
//	            30 2d - SEQUENCE OF VariableAccessSpecification
//	               a0 2b - variableSpecification: name
//	                  a1 29 - name: domain-specific
//	                     1a 11 "simpleIOGenericIO"  1a 14 "GGIO1$MX$AnIn1$mag$f"
func (r *ReadRequest) Bytes() []byte {
	var listOfVariable []byte
	for _, item := range r.Items {
		name := buildDomainSpecificObjectName(item.DomainID, item.ItemID)
		listOfVariable = appendTag(listOfVariable, 0xA0, name)
	}
	accessSpec := appendTag(nil, 0xA0, appendTag(nil, 0x30, listOfVariable))
	readRequest := appendTag(nil, 0xA1, accessSpec)
	return wrapConfirmedRequest(r.InvokeID, appendTag(nil, 0xA4, readRequest))
}
