package mms

import (
	"fmt"

	"github.com/iec61850/mmsclient/ber"
)

// File service tag numbers (ISO/IEC 9506-2 Annex A). All are >= 31 and
// require the high-tag-number form.
const (
	fileOpenTag      byte = 72
	fileReadTag      byte = 73
	fileCloseTag     byte = 74
	fileDeleteTag    byte = 76
	fileDirectoryTag byte = 77
)

// encodeFileName encodes FileName ::= SEQUENCE OF GraphicString. The whole
// path travels as a single GraphicString component, the way libIEC61850's
// servers and clients exchange it.
func encodeFileName(name string) []byte {
	return appendTag(nil, byte(ber.GraphicString), []byte(name))
}

// decodeFileName decodes the content of a FileName: one or more
// GraphicString components, joined with "/" when a server splits the path.
func decodeFileName(buf []byte) (string, error) {
	name := ""
	pos := 0
	for pos < len(buf) {
		if buf[pos] != byte(ber.GraphicString) {
			return "", fmt.Errorf("mms: expected GraphicString (0x19), got 0x%02x", buf[pos])
		}
		pos++
		newPos, length, err := decodeBERLength(buf, pos)
		if err != nil {
			return "", err
		}
		if newPos+length > len(buf) {
			return "", fmt.Errorf("mms: FileName component overruns buffer")
		}
		if name != "" {
			name += "/"
		}
		name += string(buf[newPos : newPos+length])
		pos = newPos + length
	}
	return name, nil
}

// FileOpenRequest encodes confirmedServiceRequest [72]: open a file for
// sequential read starting at InitialPosition.
type FileOpenRequest struct {
	FileName        string
	InitialPosition uint32
}

func NewFileOpenRequest(fileName string) *FileOpenRequest {
	return &FileOpenRequest{FileName: fileName}
}

func (r *FileOpenRequest) Bytes(invokeID uint32) []byte {
	posContent := make([]byte, 8)
	n := ber.EncodeUInt32(r.InitialPosition, posContent, 0)

	content := appendTag(nil, 0xA0, encodeFileName(r.FileName))
	content = append(content, appendTag(nil, 0x81, posContent[:n])...)
	return wrapConfirmedRequest(invokeID, appendHighTag(nil, true, fileOpenTag, content))
}

// FileOpenResponse is the decoded confirmedServiceResponse [72]: the
// file read state machine ID used by subsequent FileRead/FileClose calls,
// plus the file's size.
type FileOpenResponse struct {
	FrsmID     uint32
	SizeOfFile uint32
}

func ParseFileOpenResponse(buffer []byte) (*FileOpenResponse, error) {
	content, err := unwrapHighTagConfirmedResponse(buffer, true, fileOpenTag)
	if err != nil {
		return nil, err
	}

	out := &FileOpenResponse{}
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
			out.FrsmID = ber.DecodeUint32(val, len(val), 0)
		case 0xA1: // fileAttributes
			attrPos := 0
			for attrPos < len(val) {
				attrTag := val[attrPos]
				attrPos++
				attrNewPos, attrLength, err := decodeBERLength(val, attrPos)
				if err != nil {
					return nil, err
				}
				attrPos = attrNewPos
				attrVal := val[attrPos : attrPos+attrLength]
				attrPos += attrLength
				if attrTag == 0x80 {
					out.SizeOfFile = ber.DecodeUint32(attrVal, len(attrVal), 0)
				}
			}
		}
	}

	return out, nil
}

// unwrapHighTagConfirmedResponse strips the confirmed-ResponsePDU envelope
// and matches a confirmedServiceResponse tagged with a high (>=31) tag
// number, the form every file service response uses.
func unwrapHighTagConfirmedResponse(buffer []byte, constructed bool, tagNumber byte) ([]byte, error) {
	if len(buffer) < 2 {
		return nil, fmt.Errorf("mms: response too short")
	}

	buf := buffer
	if buf[0] == 0xA0 || buf[0] == 0xA1 {
		pos, length, err := decodeBERLength(buf, 1)
		if err != nil {
			return nil, err
		}
		if pos+length > len(buf) {
			return nil, fmt.Errorf("mms: response PDU length exceeds buffer")
		}
		buf = buf[pos : pos+length]
	}

	p := 0
	if p >= len(buf) || buf[p] != byte(ber.Integer) {
		return nil, fmt.Errorf("mms: expected invokeID INTEGER, got 0x%02x", safeByte(buf, p))
	}
	p++
	newPos, length, err := decodeBERLength(buf, p)
	if err != nil {
		return nil, err
	}
	p = newPos + length

	class := byte(0x80)
	if constructed {
		class |= 0x20
	}
	expectedLead := class | 0x1F
	if p+1 >= len(buf) || buf[p] != expectedLead || buf[p+1] != tagNumber {
		return nil, fmt.Errorf("mms: expected high-tag confirmedServiceResponse [%d], got 0x%02x 0x%02x", tagNumber, safeByte(buf, p), safeByte(buf, p+1))
	}
	p += 2
	newPos, length, err = decodeBERLength(buf, p)
	if err != nil {
		return nil, err
	}
	if newPos+length > len(buf) {
		return nil, fmt.Errorf("mms: confirmedServiceResponse overruns buffer")
	}
	return buf[newPos : newPos+length], nil
}

// FileReadRequest encodes confirmedServiceRequest [73]: read the next
// chunk of data from an open file's read state machine.
type FileReadRequest struct {
	FrsmID uint32
}

func (r *FileReadRequest) Bytes(invokeID uint32) []byte {
	content := make([]byte, 8)
	n := ber.EncodeUInt32(r.FrsmID, content, 0)
	return wrapConfirmedRequest(invokeID, appendHighTag(nil, false, fileReadTag, content[:n]))
}

// FileReadResponse is one chunk of file data plus whether more remain;
// FileRead keeps requesting chunks until MoreFollows is false.
type FileReadResponse struct {
	Data        []byte
	MoreFollows bool
}

func ParseFileReadResponse(buffer []byte) (*FileReadResponse, error) {
	content, err := unwrapHighTagConfirmedResponse(buffer, true, fileReadTag)
	if err != nil {
		return nil, err
	}

	out := &FileReadResponse{MoreFollows: true}
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
			out.Data = append([]byte(nil), val...)
		case 0x81:
			out.MoreFollows = len(val) > 0 && val[0] != 0
		}
	}

	return out, nil
}

// FileCloseRequest encodes confirmedServiceRequest [74].
type FileCloseRequest struct {
	FrsmID uint32
}

func (r *FileCloseRequest) Bytes(invokeID uint32) []byte {
	content := make([]byte, 8)
	n := ber.EncodeUInt32(r.FrsmID, content, 0)
	return wrapConfirmedRequest(invokeID, appendHighTag(nil, false, fileCloseTag, content[:n]))
}

// ParseFileCloseResponse decodes the (empty) confirmedServiceResponse [74].
func ParseFileCloseResponse(buffer []byte) error {
	_, err := unwrapHighTagConfirmedResponse(buffer, true, fileCloseTag)
	return err
}

// FileDeleteRequest encodes confirmedServiceRequest [76].
type FileDeleteRequest struct {
	FileName string
}

func (r *FileDeleteRequest) Bytes(invokeID uint32) []byte {
	return wrapConfirmedRequest(invokeID, appendHighTag(nil, true, fileDeleteTag, encodeFileName(r.FileName)))
}

// ParseFileDeleteResponse decodes the (empty) confirmedServiceResponse [76].
func ParseFileDeleteResponse(buffer []byte) error {
	_, err := unwrapHighTagConfirmedResponse(buffer, true, fileDeleteTag)
	return err
}

// FileDirectoryRequest encodes confirmedServiceRequest [77]. ContinueAfter
// pages through long directory listings the same way GetNameList does,
// using the previous page's last filename.
type FileDirectoryRequest struct {
	FileSpecification string
	ContinueAfter     string
}

func (r *FileDirectoryRequest) Bytes(invokeID uint32) []byte {
	var content []byte
	if r.FileSpecification != "" {
		content = appendTag(content, 0xA0, encodeFileName(r.FileSpecification))
	}
	if r.ContinueAfter != "" {
		content = appendTag(content, 0xA1, encodeFileName(r.ContinueAfter))
	}
	return wrapConfirmedRequest(invokeID, appendHighTag(nil, true, fileDirectoryTag, content))
}

// FileDirectoryEntry is one file listed by FileDirectory.
type FileDirectoryEntry struct {
	FileName   string
	SizeOfFile uint32
}

// FileDirectoryResponse is one page of directory entries.
type FileDirectoryResponse struct {
	Entries     []FileDirectoryEntry
	MoreFollows bool
}

func ParseFileDirectoryResponse(buffer []byte) (*FileDirectoryResponse, error) {
	content, err := unwrapHighTagConfirmedResponse(buffer, true, fileDirectoryTag)
	if err != nil {
		return nil, err
	}

	out := &FileDirectoryResponse{}
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
		case 0xA0: // listOfDirectoryEntry
			entries, err := parseDirectoryEntrySequence(val)
			if err != nil {
				return nil, err
			}
			out.Entries = entries
		case 0x81:
			out.MoreFollows = len(val) > 0 && val[0] != 0
		}
	}

	return out, nil
}

func parseDirectoryEntrySequence(buf []byte) ([]FileDirectoryEntry, error) {
	var out []FileDirectoryEntry
	pos := 0
	for pos < len(buf) {
		if buf[pos] != 0x30 {
			return nil, fmt.Errorf("mms: expected DirectoryEntry SEQUENCE (0x30), got 0x%02x", buf[pos])
		}
		pos++
		newPos, length, err := decodeBERLength(buf, pos)
		if err != nil {
			return nil, err
		}
		pos = newPos
		entryBuf := buf[pos : pos+length]
		pos += length

		entry := FileDirectoryEntry{}
		if len(entryBuf) < 2 || entryBuf[0] != 0xA0 {
			return nil, fmt.Errorf("mms: expected fileName [0] in DirectoryEntry, got 0x%02x", safeByte(entryBuf, 0))
		}
		namePos, nameLength, err := decodeBERLength(entryBuf, 1)
		if err != nil {
			return nil, err
		}
		if namePos+nameLength > len(entryBuf) {
			return nil, fmt.Errorf("mms: fileName overruns DirectoryEntry")
		}
		name, err := decodeFileName(entryBuf[namePos : namePos+nameLength])
		if err != nil {
			return nil, err
		}
		entry.FileName = name
		ePos := namePos + nameLength

		if ePos < len(entryBuf) && entryBuf[ePos] == 0xA1 {
			ePos++
			attrNewPos, attrLength, err := decodeBERLength(entryBuf, ePos)
			if err != nil {
				return nil, err
			}
			attrVal := entryBuf[attrNewPos : attrNewPos+attrLength]
			if len(attrVal) >= 2 && attrVal[0] == 0x80 {
				sizeNewPos, sizeLength, err := decodeBERLength(attrVal, 1)
				if err != nil {
					return nil, err
				}
				entry.SizeOfFile = ber.DecodeUint32(attrVal[sizeNewPos:sizeNewPos+sizeLength], sizeLength, 0)
			}
		}

		out = append(out, entry)
	}
	return out, nil
}
