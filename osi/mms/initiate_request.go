package mms

import (
	"fmt"
	"strings"

	"github.com/iec61850/mmsclient/ber"
)

// ServiceSupportedBit is a bit offset into the ServicesSupportedCalling
// BIT STRING, in the order defined by ISO/IEC 9506-2's ServiceSupportOptions.
type ServiceSupportedBit uint

const (
	Status ServiceSupportedBit = iota
	GetNameList
	Identify
	Rename
	Read
	Write
	GetVariableAccessAttributes
	DefineNamedVariable
	DefineScatteredAccess
	GetScatteredAccessAttributes
	DeleteVariableAccess
	DefineNamedVariableList
	GetNamedVariableListAttributes
	DeleteNamedVariableList
	DefineNamedType
	GetNamedTypeAttributes
	DeleteNamedType
	Input
	Output
	TakeControl
	RelinquishControl
	DefineSemaphore
	DeleteSemaphore
	ReportSemaphoreStatus
	ReportPoolSemaphoreStatus
	ReportSemaphoreEntryStatus
	InitiateDownloadSequence
	DownloadSegment
	TerminateDownloadSequence
	InitiateUploadSequence
	UploadSegment
	TerminateUploadSequence
	RequestDomainDownload
	RequestDomainUpload
	LoadDomainContent
	StoreDomainContent
	DeleteDomain
	GetDomainAttributes
	CreateProgramInvocation
	DeleteProgramInvocation
	Start
	Stop
	Resume
	Reset
	Kill
	GetProgramInvocationAttributes
	ObtainFile
	DefineEventCondition
	DeleteEventCondition
	GetEventConditionAttributes
	ReportEventConditionStatus
	AlterEventConditionMonitoring
	TriggerEvent
	DefineEventAction
	DeleteEventAction
	GetEventActionAttributes
	ReportActionStatus
	DefineEventEnrollment
	DeleteEventEnrollment
	AlterEventEnrollment
	ReportEventEnrollmentStatus
	GetEventEnrollmentAttributes
	AcknowledgeEventNotification
	GetAlarmSummary
	GetAlarmEnrollmentSummary
	ReadJournal
	WriteJournal
	InitializeJournal
	ReportJournalStatus
	CreateJournal
	DeleteJournal
	GetCapabilityList
	FileOpen
	FileRead
	FileClose
	FileRename
	FileDelete
	FileDirectory
	UnsolicitedStatus
	InformationReport
	EventNotification
	AttachToEventCondition
	AttachToSemaphore
	Conclude
	Cancel
)

var serviceSupportedBitNames = [...]string{
	"Status", "GetNameList", "Identify", "Rename", "Read", "Write",
	"GetVariableAccessAttributes", "DefineNamedVariable", "DefineScatteredAccess",
	"GetScatteredAccessAttributes", "DeleteVariableAccess", "DefineNamedVariableList",
	"GetNamedVariableListAttributes", "DeleteNamedVariableList", "DefineNamedType",
	"GetNamedTypeAttributes", "DeleteNamedType", "Input", "Output", "TakeControl",
	"RelinquishControl", "DefineSemaphore", "DeleteSemaphore", "ReportSemaphoreStatus",
	"ReportPoolSemaphoreStatus", "ReportSemaphoreEntryStatus", "InitiateDownloadSequence",
	"DownloadSegment", "TerminateDownloadSequence", "InitiateUploadSequence",
	"UploadSegment", "TerminateUploadSequence", "RequestDomainDownload",
	"RequestDomainUpload", "LoadDomainContent", "StoreDomainContent", "DeleteDomain",
	"GetDomainAttributes", "CreateProgramInvocation", "DeleteProgramInvocation",
	"Start", "Stop", "Resume", "Reset", "Kill", "GetProgramInvocationAttributes",
	"ObtainFile", "DefineEventCondition", "DeleteEventCondition",
	"GetEventConditionAttributes", "ReportEventConditionStatus",
	"AlterEventConditionMonitoring", "TriggerEvent", "DefineEventAction",
	"DeleteEventAction", "GetEventActionAttributes", "ReportActionStatus",
	"DefineEventEnrollment", "DeleteEventEnrollment", "AlterEventEnrollment",
	"ReportEventEnrollmentStatus", "GetEventEnrollmentAttributes",
	"AcknowledgeEventNotification", "GetAlarmSummary", "GetAlarmEnrollmentSummary",
	"ReadJournal", "WriteJournal", "InitializeJournal", "ReportJournalStatus",
	"CreateJournal", "DeleteJournal", "GetCapabilityList", "FileOpen", "FileRead",
	"FileClose", "FileRename", "FileDelete", "FileDirectory", "UnsolicitedStatus",
	"InformationReport", "EventNotification", "AttachToEventCondition",
	"AttachToSemaphore", "Conclude", "Cancel",
}

func (b ServiceSupportedBit) String() string {
	if int(b) < len(serviceSupportedBitNames) {
		return serviceSupportedBitNames[b]
	}
	return fmt.Sprintf("ServiceSupportedBit(%d)", b)
}

// ParameterCBBBit is a bit offset into the ProposedParameterCBB BIT STRING
// (the negotiated Conformance Building Blocks).
type ParameterCBBBit uint

const (
	Str1 ParameterCBBBit = iota
	Str2
	Vnam
	Valt
	Vadr
	Vsca
	Tpy
	Vlis
	Real
	SpareBit9
	Cei
)

var parameterCBBBitNames = [...]string{
	"Str1", "Str2", "Vnam", "Valt", "Vadr", "Vsca", "Tpy", "Vlis", "Real", "SpareBit9", "Cei",
}

func (b ParameterCBBBit) String() string {
	if int(b) < len(parameterCBBBitNames) {
		return parameterCBBBitNames[b]
	}
	return fmt.Sprintf("ParameterCBBBit(%d)", b)
}

const (
	// ServicesSupportedCallingBitmaskSize is the number of significant
	// bits in ServicesSupportedCalling: 85, encoded as 11 mask bytes with
	// 3 padding bits.
	ServicesSupportedCallingBitmaskSize = 85
	// ProposedParameterCBBBitmaskSize is the number of significant bits in
	// ProposedParameterCBB: 11, encoded as 2 mask bytes with 5 padding bits.
	ProposedParameterCBBBitmaskSize = 11
)

// InitiateRequest holds the parameters of an MMS Initiate-RequestPDU.
type InitiateRequest struct {
	LocalDetailCalling                uint32
	ProposedMaxServOutstandingCalling uint32
	ProposedMaxServOutstandingCalled  uint32
	ProposedDataStructureNestingLevel uint32
	ProposedVersionNumber             uint32
	ProposedParameterCBB              []ParameterCBBBit
	ServicesSupportedCalling          []ServiceSupportedBit
}

// InitiateRequestOption mutates an InitiateRequest being built by NewInitiateRequest.
type InitiateRequestOption func(*InitiateRequest)

// DefaultInitiateRequestParams returns the parameters libIEC61850 proposes
// by default, reused here so a bare NewInitiateRequest() interoperates with
// the servers this client was validated against.
func DefaultInitiateRequestParams() *InitiateRequest {
	return &InitiateRequest{
		LocalDetailCalling:                65000,
		ProposedMaxServOutstandingCalling: 5,
		ProposedMaxServOutstandingCalled:  5,
		ProposedDataStructureNestingLevel: 10,
		ProposedVersionNumber:             1,
		ProposedParameterCBB: []ParameterCBBBit{
			Str1, Str2, Vnam, Valt, Vlis,
		},
		ServicesSupportedCalling: []ServiceSupportedBit{
			Status, GetNameList, Identify, Read, Write, GetVariableAccessAttributes,
			DefineNamedVariableList, GetNamedVariableListAttributes, DeleteNamedVariableList,
			GetDomainAttributes, Kill, ReadJournal, WriteJournal, InitializeJournal,
			ReportJournalStatus, GetCapabilityList, FileOpen, FileRead, FileClose,
			FileDelete, FileDirectory, UnsolicitedStatus, InformationReport, Conclude, Cancel,
		},
	}
}

func WithLocalDetailCalling(size uint32) InitiateRequestOption {
	return func(p *InitiateRequest) { p.LocalDetailCalling = size }
}

func WithProposedMaxServOutstandingCalling(count uint32) InitiateRequestOption {
	return func(p *InitiateRequest) { p.ProposedMaxServOutstandingCalling = count }
}

func WithProposedMaxServOutstandingCalled(count uint32) InitiateRequestOption {
	return func(p *InitiateRequest) { p.ProposedMaxServOutstandingCalled = count }
}

func WithProposedDataStructureNestingLevel(level uint32) InitiateRequestOption {
	return func(p *InitiateRequest) { p.ProposedDataStructureNestingLevel = level }
}

func WithProposedVersionNumber(version uint32) InitiateRequestOption {
	return func(p *InitiateRequest) { p.ProposedVersionNumber = version }
}

func WithProposedParameterCBB(parameters []ParameterCBBBit) InitiateRequestOption {
	return func(p *InitiateRequest) { p.ProposedParameterCBB = parameters }
}

func WithServicesSupportedCalling(services []ServiceSupportedBit) InitiateRequestOption {
	return func(p *InitiateRequest) { p.ServicesSupportedCalling = services }
}

// String implements fmt.Stringer, listing the set bits of ProposedParameterCBB
// and ServicesSupportedCalling by name rather than as a raw bitmask.
func (r *InitiateRequest) String() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("LocalDetailCalling:%d", r.LocalDetailCalling))
	parts = append(parts, fmt.Sprintf("ProposedMaxServOutstandingCalling:%d", r.ProposedMaxServOutstandingCalling))
	parts = append(parts, fmt.Sprintf("ProposedMaxServOutstandingCalled:%d", r.ProposedMaxServOutstandingCalled))
	parts = append(parts, fmt.Sprintf("ProposedDataStructureNestingLevel:%d", r.ProposedDataStructureNestingLevel))
	parts = append(parts, fmt.Sprintf("ProposedVersionNumber:%d", r.ProposedVersionNumber))

	bitNames := make([]string, len(r.ProposedParameterCBB))
	for i, bit := range r.ProposedParameterCBB {
		bitNames[i] = bit.String()
	}
	parts = append(parts, fmt.Sprintf("ProposedParameterCBB:[%s]", strings.Join(bitNames, " ")))

	serviceNames := make([]string, len(r.ServicesSupportedCalling))
	for i, bit := range r.ServicesSupportedCalling {
		serviceNames[i] = bit.String()
	}
	parts = append(parts, fmt.Sprintf("ServicesSupportedCalling:[%s]", strings.Join(serviceNames, " ")))

	return fmt.Sprintf("InitiateRequest{%s}", strings.Join(parts, " "))
}

// NewInitiateRequest builds an InitiateRequest from libIEC61850's defaults,
// applying opts on top.
func NewInitiateRequest(opts ...InitiateRequestOption) *InitiateRequest {
	params := DefaultInitiateRequestParams()
	for _, opt := range opts {
		opt(params)
	}
	return params
}

// Bytes encodes the Initiate-RequestPDU, tag [8] Application constructed:
//
//	a8 len - initiate-RequestPDU
//	   80 len localDetailCalling
//	   81 len proposedMaxServOutstandingCalling
//	   82 len proposedMaxServOutstandingCalled
//	   83 len proposedDataStructureNestingLevel
//	   a4 len - mmsInitRequestDetail
//	      80 len proposedVersionNumber
//	      81 len proposedParameterCBB (BIT STRING)
//	      82 len servicesSupportedCalling (BIT STRING)
func (r *InitiateRequest) Bytes() []byte {
	content := r.buildInitiateRequestContent()
	return appendTag(nil, 0xA8, content)
}

func uintBytes(v uint32) []byte {
	buf := make([]byte, 8)
	n := ber.EncodeUInt32(v, buf, 0)
	return buf[:n]
}

func (r *InitiateRequest) buildInitiateRequestContent() []byte {
	var buf []byte
	buf = appendTag(buf, 0x80, uintBytes(r.LocalDetailCalling))
	buf = appendTag(buf, 0x81, uintBytes(r.ProposedMaxServOutstandingCalling))
	buf = appendTag(buf, 0x82, uintBytes(r.ProposedMaxServOutstandingCalled))
	buf = appendTag(buf, 0x83, uintBytes(r.ProposedDataStructureNestingLevel))
	buf = append(buf, r.buildMMSInitRequestDetail()...)
	return buf
}

// buildMMSInitRequestDetail encodes mmsInitRequestDetail: protocol version
// plus the two negotiated capability BIT STRINGs, each prefixed by its
// unused-bits-count octet per X.690 §8.6.
func (r *InitiateRequest) buildMMSInitRequestDetail() []byte {
	var detail []byte
	detail = appendTag(detail, 0x80, uintBytes(r.ProposedVersionNumber))

	paramCBB := ber.EncodeBitmaskFromOffsets(r.ProposedParameterCBB, ProposedParameterCBBBitmaskSize)
	detail = appendTag(detail, 0x81, paramCBB)

	services := ber.EncodeBitmaskFromOffsets(r.ServicesSupportedCalling, ServicesSupportedCallingBitmaskSize)
	detail = appendTag(detail, 0x82, services)

	return appendTag(nil, 0xA4, detail)
}
