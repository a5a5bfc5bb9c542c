package protocol

// Code is a stable error code carried by the error event.
type Code int

const (
	CodeRequestQuota      Code = 100
	CodeJobQuota          Code = 101
	CodeProviderLost      Code = 103
	CodeProviderRerouted  Code = 104
	CodeAbortTerminal     Code = 105
	CodeAbortNotFound     Code = 106
	CodeAbortUnsupported  Code = 107
	CodeUnknownTask       Code = 108
	CodeAbortAccepted     Code = 109
	CodeAborted           Code = 110
	CodeMalformedResult   Code = 111
	CodeExecutionError    Code = 112
	CodeNoProvider        Code = 200
	CodeSkillConflict     Code = 201
	CodeSkillMissingName  Code = 202
	CodeSkillConfigAbsent Code = 203
	CodeAuthFailed        Code = 401
	CodeInternal          Code = 500
)

func (c Code) String() string {
	switch c {
	case CodeRequestQuota:
		return "request quota exceeded"
	case CodeJobQuota:
		return "job quota exceeded"
	case CodeProviderLost:
		return "provider disconnected"
	case CodeProviderRerouted:
		return "provider disconnected, rerouted"
	case CodeAbortTerminal:
		return "task already terminal"
	case CodeAbortNotFound:
		return "task not found"
	case CodeAbortUnsupported:
		return "skill does not support abort"
	case CodeUnknownTask:
		return "unknown task"
	case CodeAbortAccepted:
		return "task aborted by user"
	case CodeAborted:
		return "task aborted"
	case CodeMalformedResult:
		return "malformed result payload"
	case CodeExecutionError:
		return "execution error"
	case CodeNoProvider:
		return "no provider available"
	case CodeSkillConflict:
		return "conflicting skill config"
	case CodeSkillMissingName:
		return "skill name missing"
	case CodeSkillConfigAbsent:
		return "skill config not found"
	case CodeAuthFailed:
		return "signature verification failed"
	case CodeInternal:
		return "internal error"
	default:
		return "unknown"
	}
}
