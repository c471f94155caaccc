package go61850

import (
	"context"
	"fmt"

	"github.com/iec61850/mmsclient/osi/mms"
	"github.com/iec61850/mmsclient/osi/mms/variant"
)

// call submits pdu under invokeID and, on success, rejects any
// confirmed-ErrorPDU by turning it into a Go error instead of handing the
// caller a response it would have to sniff the tag of.
func (c *Client) call(ctx context.Context, invokeID uint32, pdu []byte) ([]byte, error) {
	resp, err := c.dispatcher.Call(ctx, invokeID, pdu)
	if err != nil {
		return nil, err
	}
	if len(resp) > 0 && resp[0] == 0xA2 {
		if svcErr, perr := mms.ParseServiceError(resp); perr == nil {
			return nil, svcErr
		}
		return nil, fmt.Errorf("go61850: confirmed-error response")
	}
	return resp, nil
}

// GetNameList returns every identifier in scope, paging internally with continueAfter/moreFollows until the server
// reports no more remain.
func (c *Client) GetNameList(ctx context.Context, objectClass mms.ObjectClass, scope mms.NameListScope, domainID string) ([]string, error) {
	var out []string
	continueAfter := ""

	for {
		req := &mms.GetNameListRequest{
			InvokeID:      c.nextID(),
			ObjectClass:   objectClass,
			Scope:         scope,
			DomainID:      domainID,
			ContinueAfter: continueAfter,
		}

		resp, err := c.call(ctx, req.InvokeID, req.Bytes())
		if err != nil {
			return nil, fmt.Errorf("go61850: getNameList: %w", err)
		}

		page, err := mms.ParseGetNameListResponse(resp)
		if err != nil {
			return nil, fmt.Errorf("go61850: getNameList: parse response: %w", err)
		}

		out = append(out, page.Identifiers...)
		if !page.MoreFollows || len(page.Identifiers) == 0 {
			return out, nil
		}
		continueAfter = page.Identifiers[len(page.Identifiers)-1]
	}
}

// Read fetches one domain-specific variable's current value.
func (c *Client) Read(ctx context.Context, domainID, itemID string) (*mms.ReadResponse, error) {
	resp, err := c.ReadList(ctx, []mms.ReadItem{{DomainID: domainID, ItemID: itemID}})
	if err != nil {
		return nil, fmt.Errorf("go61850: read %s/%s: %w", domainID, itemID, err)
	}
	return resp, nil
}

// ReadList fetches several domain-specific variables in a single confirmed
// service, returning one AccessResult per item in request
// order. Read is the single-item special case of this.
func (c *Client) ReadList(ctx context.Context, items []mms.ReadItem) (*mms.ReadResponse, error) {
	req := mms.NewReadRequestList(c.nextID(), items)

	resp, err := c.call(ctx, req.InvokeID, req.Bytes())
	if err != nil {
		return nil, fmt.Errorf("go61850: readList: %w", err)
	}

	readResp, err := mms.ParseReadResponse(resp)
	if err != nil {
		return nil, fmt.Errorf("go61850: readList: parse response: %w", err)
	}
	return &readResp, nil
}

// Write sets one domain-specific variable's value.
func (c *Client) Write(ctx context.Context, domainID, itemID string, value *variant.Variant) (*mms.WriteResponse, error) {
	resp, err := c.WriteList(ctx, []mms.WriteItem{{DomainID: domainID, ItemID: itemID, Value: value}})
	if err != nil {
		return resp, fmt.Errorf("go61850: write %s/%s: %w", domainID, itemID, err)
	}
	return resp, nil
}

// WriteList sets several domain-specific variables in a single confirmed
// service, returning one WriteResult per item in request
// order. Write is the single-item special case of this.
func (c *Client) WriteList(ctx context.Context, items []mms.WriteItem) (*mms.WriteResponse, error) {
	req := &mms.WriteRequest{Items: items}
	invokeID := c.nextID()

	pdu, err := req.Bytes(invokeID)
	if err != nil {
		return nil, fmt.Errorf("go61850: writeList: encode request: %w", err)
	}

	resp, err := c.call(ctx, invokeID, pdu)
	if err != nil {
		return nil, fmt.Errorf("go61850: writeList: %w", err)
	}

	writeResp, err := mms.ParseWriteResponse(resp)
	if err != nil {
		return nil, fmt.Errorf("go61850: writeList: parse response: %w", err)
	}
	if failure := writeResp.FirstError(); failure != nil {
		return writeResp, fmt.Errorf("go61850: writeList: %s", failure)
	}
	return writeResp, nil
}

// GetVariableAccessAttributes fetches a domain-specific variable's type
// specification.
func (c *Client) GetVariableAccessAttributes(ctx context.Context, domainID, itemID string) (*mms.VariableAccessAttributesResponse, error) {
	req := &mms.GetVariableAccessAttributesRequest{
		InvokeID: c.nextID(),
		DomainID: domainID,
		ItemID:   itemID,
	}

	resp, err := c.call(ctx, req.InvokeID, req.Bytes())
	if err != nil {
		return nil, fmt.Errorf("go61850: getVariableAccessAttributes %s/%s: %w", domainID, itemID, err)
	}

	attrs, err := mms.ParseGetVariableAccessAttributesResponse(resp)
	if err != nil {
		return nil, fmt.Errorf("go61850: getVariableAccessAttributes %s/%s: parse response: %w", domainID, itemID, err)
	}
	return attrs, nil
}

// DefineNamedVariableList creates a named variable list a server can
// later report or a client can read as one unit.
func (c *Client) DefineNamedVariableList(ctx context.Context, listDomainID, listName string, variables []mms.NamedVariable) error {
	req := mms.NewDefineNamedVariableListRequest(listDomainID, listName, variables)
	invokeID := c.nextID()

	resp, err := c.call(ctx, invokeID, req.Bytes(invokeID))
	if err != nil {
		return fmt.Errorf("go61850: defineNamedVariableList %s/%s: %w", listDomainID, listName, err)
	}
	if err := mms.ParseDefineNamedVariableListResponse(resp); err != nil {
		return fmt.Errorf("go61850: defineNamedVariableList %s/%s: parse response: %w", listDomainID, listName, err)
	}
	return nil
}

// GetNamedVariableListAttributes fetches the member variables of a named
// variable list.
func (c *Client) GetNamedVariableListAttributes(ctx context.Context, domainID, itemID string) (*mms.GetNamedVariableListAttributesResponse, error) {
	req := mms.NewGetNamedVariableListAttributesRequest(domainID, itemID)
	invokeID := c.nextID()

	resp, err := c.call(ctx, invokeID, req.Bytes(invokeID))
	if err != nil {
		return nil, fmt.Errorf("go61850: getNamedVariableListAttributes %s/%s: %w", domainID, itemID, err)
	}

	attrs, err := mms.ParseGetNamedVariableListAttributesResponse(resp)
	if err != nil {
		return nil, fmt.Errorf("go61850: getNamedVariableListAttributes %s/%s: parse response: %w", domainID, itemID, err)
	}
	return attrs, nil
}

// DeleteNamedVariableList removes one or more named variable lists, or
// every list in a domain/the whole VMD/this AA's own lists, depending on
// scope.
func (c *Client) DeleteNamedVariableList(ctx context.Context, req *mms.DeleteNamedVariableListRequest) (*mms.DeleteNamedVariableListResponse, error) {
	invokeID := c.nextID()

	resp, err := c.call(ctx, invokeID, req.Bytes(invokeID))
	if err != nil {
		return nil, fmt.Errorf("go61850: deleteNamedVariableList: %w", err)
	}

	out, err := mms.ParseDeleteNamedVariableListResponse(resp)
	if err != nil {
		return nil, fmt.Errorf("go61850: deleteNamedVariableList: parse response: %w", err)
	}
	return out, nil
}

// FileOpen opens a file for sequential read starting at initialPosition,
// returning the file read state machine id subsequent FileRead/FileClose
// calls must use.
func (c *Client) FileOpen(ctx context.Context, fileName string, initialPosition uint32) (*mms.FileOpenResponse, error) {
	req := mms.NewFileOpenRequest(fileName)
	req.InitialPosition = initialPosition
	invokeID := c.nextID()

	resp, err := c.call(ctx, invokeID, req.Bytes(invokeID))
	if err != nil {
		return nil, fmt.Errorf("go61850: fileOpen %s: %w", fileName, err)
	}

	out, err := mms.ParseFileOpenResponse(resp)
	if err != nil {
		return nil, fmt.Errorf("go61850: fileOpen %s: parse response: %w", fileName, err)
	}
	return out, nil
}

// FileRead reads an opened file to completion, issuing as many FileRead
// calls as the server's MoreFollows flag demands.
func (c *Client) FileRead(ctx context.Context, frsmID uint32) ([]byte, error) {
	var data []byte

	for {
		req := &mms.FileReadRequest{FrsmID: frsmID}
		invokeID := c.nextID()

		resp, err := c.call(ctx, invokeID, req.Bytes(invokeID))
		if err != nil {
			return nil, fmt.Errorf("go61850: fileRead frsmId=%d: %w", frsmID, err)
		}

		page, err := mms.ParseFileReadResponse(resp)
		if err != nil {
			return nil, fmt.Errorf("go61850: fileRead frsmId=%d: parse response: %w", frsmID, err)
		}

		data = append(data, page.Data...)
		if !page.MoreFollows {
			return data, nil
		}
	}
}

// FileClose releases a file read state machine opened by FileOpen. Callers should call this even after FileRead or
// FileOpen fails partway through, to avoid leaking the server's frsmId.
func (c *Client) FileClose(ctx context.Context, frsmID uint32) error {
	req := &mms.FileCloseRequest{FrsmID: frsmID}
	invokeID := c.nextID()

	resp, err := c.call(ctx, invokeID, req.Bytes(invokeID))
	if err != nil {
		return fmt.Errorf("go61850: fileClose frsmId=%d: %w", frsmID, err)
	}
	if err := mms.ParseFileCloseResponse(resp); err != nil {
		return fmt.Errorf("go61850: fileClose frsmId=%d: parse response: %w", frsmID, err)
	}
	return nil
}

// FileDelete removes a file from the server's file store.
func (c *Client) FileDelete(ctx context.Context, fileName string) error {
	req := &mms.FileDeleteRequest{FileName: fileName}
	invokeID := c.nextID()

	resp, err := c.call(ctx, invokeID, req.Bytes(invokeID))
	if err != nil {
		return fmt.Errorf("go61850: fileDelete %s: %w", fileName, err)
	}
	if err := mms.ParseFileDeleteResponse(resp); err != nil {
		return fmt.Errorf("go61850: fileDelete %s: parse response: %w", fileName, err)
	}
	return nil
}

// FileDirectory lists every file matching fileSpecification (a glob-like
// file specification, or "" for the whole store), paging internally
// until the server reports no more entries.
func (c *Client) FileDirectory(ctx context.Context, fileSpecification string) ([]mms.FileDirectoryEntry, error) {
	var out []mms.FileDirectoryEntry
	continueAfter := ""

	for {
		req := &mms.FileDirectoryRequest{
			FileSpecification: fileSpecification,
			ContinueAfter:     continueAfter,
		}
		invokeID := c.nextID()

		resp, err := c.call(ctx, invokeID, req.Bytes(invokeID))
		if err != nil {
			return nil, fmt.Errorf("go61850: fileDirectory %q: %w", fileSpecification, err)
		}

		page, err := mms.ParseFileDirectoryResponse(resp)
		if err != nil {
			return nil, fmt.Errorf("go61850: fileDirectory %q: parse response: %w", fileSpecification, err)
		}

		out = append(out, page.Entries...)
		if !page.MoreFollows || len(page.Entries) == 0 {
			return out, nil
		}
		continueAfter = page.Entries[len(page.Entries)-1].FileName
	}
}
