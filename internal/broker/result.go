package broker

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/UKPLab/CARE-broker/internal/auth"
	"github.com/UKPLab/CARE-broker/internal/protocol"
	"github.com/UKPLab/CARE-broker/internal/skills"
	"github.com/UKPLab/CARE-broker/internal/tasks"
)

// Failure is an expected, client-visible outcome of an event. It becomes an
// error event with its code.
type Failure struct {
	Code   protocol.Code
	ID     json.RawMessage
	Detail json.RawMessage
}

func (f *Failure) Error() string {
	return fmt.Sprintf("code %d: %s", int(f.Code), f.Code)
}

// Result is what a Handler produces: success, a Failure, or an unexpected
// error reported as an internal error.
type Result struct {
	failure *Failure
	err     error
}

func OK() Result { return Result{} }

func Fail(code protocol.Code, id json.RawMessage) Result {
	return Result{failure: &Failure{Code: code, ID: id}}
}

// FromError maps the sentinel errors of the core packages to their codes.
// Anything else is kept as an unexpected error.
func FromError(err error, id json.RawMessage) Result {
	if err == nil {
		return OK()
	}
	var f *Failure
	if errors.As(err, &f) {
		return Result{failure: f}
	}
	if code, ok := codeFor(err); ok {
		return Fail(code, id)
	}
	return Result{err: err}
}

func (r Result) Failure() (*Failure, bool) { return r.failure, r.failure != nil }

func (r Result) Err() error { return r.err }

func codeFor(err error) (protocol.Code, bool) {
	switch {
	case errors.Is(err, auth.ErrQuotaExceeded):
		return protocol.CodeRequestQuota, true
	case errors.Is(err, auth.ErrInvalidSignature), errors.Is(err, auth.ErrInvalidKey):
		return protocol.CodeAuthFailed, true
	case errors.Is(err, skills.ErrConflict):
		return protocol.CodeSkillConflict, true
	case errors.Is(err, skills.ErrMissingName):
		return protocol.CodeSkillMissingName, true
	case errors.Is(err, tasks.ErrTaskNotFound):
		return protocol.CodeUnknownTask, true
	default:
		return 0, false
	}
}
