package mms

import (
	"fmt"
)

// Report is a decoded unconfirmed Information-Report PDU (tag [3] / 0xA3):
// a list of (domain-specific name or named-variable-list, value) pairs a
// server pushes without a matching request, most commonly IEC 61850
// report-control-block data. Delivered via ReportCallback instead of as a
// Call response.
type Report struct {
	VariableListName string
	Values           []*AccessResult
}

// ParseReport decodes an unconfirmed-PDU carrying an information-report:
//
//	a3 len - unconfirmed-PDU
//	   a0 len - unconfirmedService: informationReport
//	      a1 len - Information-Report
//	         a0|a1 len - variableAccessSpecification (listOfVariable | variableListName)
//	         a0 len - listOfAccessResult
//
// listOfAccessResult is itself [0]-tagged, so the two a0 shapes are told
// apart by position, not tag.
func ParseReport(buffer []byte) (*Report, error) {
	if len(buffer) < 2 || buffer[0] != pduUnconfirmed {
		return nil, fmt.Errorf("mms: expected unconfirmed-PDU (0xA3), got 0x%02x", safeByte(buffer, 0))
	}
	pos, length, err := decodeBERLength(buffer, 1)
	if err != nil {
		return nil, err
	}
	if pos+length > len(buffer) {
		return nil, fmt.Errorf("mms: unconfirmed-PDU length exceeds buffer")
	}
	content := buffer[pos : pos+length]

	if len(content) < 2 || content[0] != 0xA0 {
		return nil, fmt.Errorf("mms: expected unconfirmedService (0xA0), got 0x%02x", safeByte(content, 0))
	}
	svcPos, svcLen, err := decodeBERLength(content, 1)
	if err != nil {
		return nil, err
	}
	if svcPos+svcLen > len(content) {
		return nil, fmt.Errorf("mms: unconfirmedService length exceeds buffer")
	}
	service := content[svcPos : svcPos+svcLen]

	if len(service) < 2 || service[0] != 0xA1 {
		return nil, fmt.Errorf("mms: expected information-report (0xA1), got 0x%02x", safeByte(service, 0))
	}
	repPos, repLen, err := decodeBERLength(service, 1)
	if err != nil {
		return nil, err
	}
	if repPos+repLen > len(service) {
		return nil, fmt.Errorf("mms: information-report length exceeds buffer")
	}
	report := service[repPos : repPos+repLen]

	out := &Report{}
	pos = 0

	// variableAccessSpecification: variableListName [1] carries the named
	// variable list being reported; listOfVariable [0] is accepted but not
	// expanded.
	if pos < len(report) {
		tag := report[pos]
		newPos, l, err := decodeBERLength(report, pos+1)
		if err != nil {
			return nil, err
		}
		if newPos+l > len(report) {
			return nil, fmt.Errorf("mms: variableAccessSpecification overruns buffer")
		}
		val := report[newPos : newPos+l]

		switch tag {
		case 0xA1: // variableListName: ObjectName
			out.VariableListName = parseReportListName(val)
		case 0xA0: // listOfVariable
		default:
			return nil, fmt.Errorf("mms: unexpected variableAccessSpecification tag 0x%02x", tag)
		}
		pos = newPos + l
	}

	if pos < len(report) {
		tag := report[pos]
		newPos, l, err := decodeBERLength(report, pos+1)
		if err != nil {
			return nil, err
		}
		if newPos+l > len(report) {
			return nil, fmt.Errorf("mms: listOfAccessResult overruns buffer")
		}
		if tag != 0xA0 {
			return nil, fmt.Errorf("mms: expected listOfAccessResult (0xA0), got 0x%02x", tag)
		}
		results, err := parseListOfAccessResult(report[newPos:newPos+l], l)
		if err != nil {
			return nil, err
		}
		for i := range results {
			out.Values = append(out.Values, &results[i])
		}
	}

	return out, nil
}

// parseReportListName extracts "domainId/itemId" from a variableListName's
// ObjectName when the report named a list domain-specifically; other name
// forms yield "".
func parseReportListName(buf []byte) string {
	if len(buf) < 2 || buf[0] != 0xA1 {
		return ""
	}
	nPos, nLen, err := decodeBERLength(buf, 1)
	if err != nil || nPos+nLen > len(buf) {
		return ""
	}
	ids, err := parseVisibleStringSequence(buf[nPos : nPos+nLen])
	if err != nil || len(ids) != 2 {
		return ""
	}
	return ids[0] + "/" + ids[1]
}
