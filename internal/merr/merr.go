// Package merr defines the mediator's typed wrapper-error hierarchy,
// grounded on the teacher's internal/core/app/types AppError/ServiceError
// shape (Error()/Unwrap() over a Code/Op/Err triple).
package merr

import "fmt"

// Code is a closed set of operation-level error categories, distinct from
// (but mapped to, where relevant) a DIDComm Problem Report code.
type Code string

const (
	CodeConfig       Code = "config"
	CodeUnpack       Code = "unpack"
	CodePack         Code = "pack"
	CodeAuth         Code = "auth"
	CodeACL          Code = "acl"
	CodeStore        Code = "store"
	CodeRouting      Code = "routing"
	CodeInternal     Code = "internal"
)

// MediatorError is the wrapper-error type config loading and the forward
// handler's queueing step return on failure, carrying enough context
// to log without re-deriving it and, for DIDComm-facing failures, a
// ProblemCode the dispatch layer can hand back to the caller unchanged.
type MediatorError struct {
	Code        Code
	Op          string
	ProblemCode string
	Err         error
}

func (e *MediatorError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Code)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Code, e.Err)
}

func (e *MediatorError) Unwrap() error { return e.Err }

// Wrap builds a MediatorError, used at every internal package boundary
// the way the teacher's services wrap a lower-level error before
// returning it to a caller.
func Wrap(code Code, op string, err error) error {
	if err == nil {
		return nil
	}
	return &MediatorError{Code: code, Op: op, Err: err}
}

// WithProblemCode attaches a DIDComm Problem Report code to an error
// already wrapped by Wrap, letting the dispatch layer (internal/mediator)
// translate it without a second type switch.
func WithProblemCode(err error, problemCode string) error {
	if me, ok := err.(*MediatorError); ok {
		me.ProblemCode = problemCode
		return me
	}
	return &MediatorError{Code: CodeInternal, ProblemCode: problemCode, Err: err}
}
