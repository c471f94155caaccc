package mms

// ObjectClass enumerates the MMS object classes a GetNameList/DeleteObject
// request can target.
type ObjectClass uint8

const (
	ObjectClassNamedVariable ObjectClass = iota
	ObjectClassScatteredAccess
	ObjectClassNamedVariableList
	ObjectClassNamedType
	ObjectClassSemaphore
	ObjectClassEventCondition
	ObjectClassEventAction
	ObjectClassEventEnrollment
	ObjectClassJournal
	ObjectClassDomain
	ObjectClassProgramInvocation
	ObjectClassOperatorStation
	ObjectClassDataExchange
	ObjectClassAccessControlList
)

func (c ObjectClass) String() string {
	switch c {
	case ObjectClassNamedVariable:
		return "NamedVariable"
	case ObjectClassScatteredAccess:
		return "ScatteredAccess"
	case ObjectClassNamedVariableList:
		return "NamedVariableList"
	case ObjectClassNamedType:
		return "NamedType"
	case ObjectClassSemaphore:
		return "Semaphore"
	case ObjectClassEventCondition:
		return "EventCondition"
	case ObjectClassEventAction:
		return "EventAction"
	case ObjectClassEventEnrollment:
		return "EventEnrollment"
	case ObjectClassJournal:
		return "Journal"
	case ObjectClassDomain:
		return "Domain"
	case ObjectClassProgramInvocation:
		return "ProgramInvocation"
	case ObjectClassOperatorStation:
		return "OperatorStation"
	case ObjectClassDataExchange:
		return "DataExchange"
	case ObjectClassAccessControlList:
		return "AccessControlList"
	default:
		return "Unknown"
	}
}
