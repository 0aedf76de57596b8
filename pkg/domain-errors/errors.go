// Package domainerrors defines the coded errors services return across the
// command surface. Every code belongs to one error kind:
//
//   - KindValidation: malformed input, unknown ids, over-allocation. Rejected
//     synchronously and never partially applied.
//   - KindStateConflict: the operation is invalid for the aggregate's current
//     state. The error carries that state for caller diagnostics.
//   - KindConcurrency: optimistic-lock conflicts that survived the engine's
//     bounded internal retries.
//   - KindDependency: an external collaborator (ledger, evidence store) failed.
//   - KindAccess: the caller is not allowed to perform the operation.
//   - KindInternal: everything else.
//
// Business outcomes such as "threshold not met" are statuses, not errors.
package domainerrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code identifies a specific failure. Codes are stable strings returned to
// API clients in the "error" field.
type Code string

const (
	CodeBadRequest         Code = "bad_request"
	CodeValidation         Code = "validation_error"
	CodeInvariantViolation Code = "invariant_violation"
	CodeNotFound           Code = "not_found"
	CodePolicyNotFound     Code = "policy_not_found"
	CodeInvalidPass        Code = "invalid_pass"
	CodeOverAllocation     Code = "over_allocation"

	CodeConflict                  Code = "state_conflict"
	CodeProposalClosed            Code = "proposal_closed"
	CodeCannotCancelFullyReleased Code = "cannot_cancel_fully_released"
	CodeConsensusRequired         Code = "consensus_required"

	CodeConcurrency Code = "concurrency_conflict"
	CodeDependency  Code = "dependency_unavailable"
	CodeTimeout     Code = "timeout"

	CodeUnauthorized Code = "unauthorized"
	CodeForbidden    Code = "forbidden"

	CodeInternal Code = "internal_error"
)

// Kind groups codes by how the engine and its callers recover from them.
type Kind string

const (
	KindValidation    Kind = "validation"
	KindStateConflict Kind = "state_conflict"
	KindConcurrency   Kind = "concurrency_conflict"
	KindDependency    Kind = "external_dependency_failure"
	KindAccess        Kind = "access"
	KindInternal      Kind = "internal"
)

var codeKinds = map[Code]Kind{
	CodeBadRequest:                KindValidation,
	CodeValidation:                KindValidation,
	CodeInvariantViolation:        KindValidation,
	CodeNotFound:                  KindValidation,
	CodePolicyNotFound:            KindValidation,
	CodeInvalidPass:               KindValidation,
	CodeOverAllocation:            KindValidation,
	CodeConflict:                  KindStateConflict,
	CodeProposalClosed:            KindStateConflict,
	CodeCannotCancelFullyReleased: KindStateConflict,
	CodeConsensusRequired:         KindStateConflict,
	CodeConcurrency:               KindConcurrency,
	CodeDependency:                KindDependency,
	CodeTimeout:                   KindDependency,
	CodeUnauthorized:              KindAccess,
	CodeForbidden:                 KindAccess,
	CodeInternal:                  KindInternal,
}

// Kind returns the error kind of the code. Unknown codes are internal.
func (c Code) Kind() Kind {
	if k, ok := codeKinds[c]; ok {
		return k
	}
	return KindInternal
}

// Error is the coded error type.
type Error struct {
	Code    Code
	Message string
	// State is the current aggregate state for StateConflict errors.
	State string
	Err   error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a coded error.
func New(code Code, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

// Newf creates a coded error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying error.
func Wrap(err error, code Code, msg string) *Error {
	return &Error{Code: code, Message: msg, Err: err}
}

// Conflict builds a StateConflict error carrying the current state.
func Conflict(code Code, state string, msg string) *Error {
	return &Error{Code: code, Message: msg, State: state}
}

// As extracts the outermost coded error from err.
func As(err error) (*Error, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}

// HasCode reports whether err is a coded error with the given code.
func HasCode(err error, code Code) bool {
	de, ok := As(err)
	return ok && de.Code == code
}

// Is is an alias for HasCode, matching handler call sites.
func Is(err error, code Code) bool {
	return HasCode(err, code)
}

// KindOf returns the error kind of err, KindInternal for uncoded errors.
func KindOf(err error) Kind {
	if de, ok := As(err); ok {
		return de.Code.Kind()
	}
	return KindInternal
}

// ToHTTPStatus maps a code to the status returned by the command surface.
func ToHTTPStatus(code Code) int {
	switch code {
	case CodeNotFound, CodeInvalidPass:
		return http.StatusNotFound
	case CodePolicyNotFound, CodeOverAllocation, CodeValidation, CodeInvariantViolation:
		return http.StatusUnprocessableEntity
	case CodeBadRequest:
		return http.StatusBadRequest
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeTimeout:
		return http.StatusGatewayTimeout
	case CodeDependency:
		return http.StatusServiceUnavailable
	}
	switch code.Kind() {
	case KindStateConflict, KindConcurrency:
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}
