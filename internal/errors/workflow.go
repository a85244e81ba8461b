package errors

import (
	stderrors "errors"
	"fmt"
)

// Code is a stable error identifier returned to callers.
type Code string

const (
	CodeTransition         Code = "TransitionError"
	CodeLockConflict       Code = "LockConflict"
	CodeLeaseExpired       Code = "LeaseExpired"
	CodeOwnerMismatch      Code = "OwnerMismatch"
	CodeVersionConflict    Code = "VersionConflict"
	CodeDraftConflict      Code = "DraftConflict"
	CodeValidation         Code = "ValidationError"
	CodeNoCorrectors       Code = "NoCorrectors"
	CodeFlattenFailed      Code = "FlattenFailed"
	CodeAlreadyGraded      Code = "AlreadyGraded"
	CodeNotFound           Code = "NotFound"
	CodeInvariantViolation Code = "InvariantViolation"
	CodeInternal           Code = "InternalError"
)

// WorkflowError is the error returned by every workflow operation.
type WorkflowError struct {
	Code          Code                   `json:"code"`
	Message       string                 `json:"message"`
	CorrelationID string                 `json:"correlation_id,omitempty"`
	Context       map[string]interface{} `json:"context,omitempty"`
	Err           error                  `json:"-"`
}

func (e *WorkflowError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *WorkflowError) Unwrap() error {
	return e.Err
}

// Is matches on code only, so errors.Is(err, ErrLockConflict) holds for
// any lock conflict regardless of message or context.
func (e *WorkflowError) Is(target error) bool {
	t, ok := target.(*WorkflowError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// With returns a copy carrying an extra context entry.
func (e *WorkflowError) With(key string, value interface{}) *WorkflowError {
	clone := *e
	clone.Context = make(map[string]interface{}, len(e.Context)+1)
	for k, v := range e.Context {
		clone.Context[k] = v
	}
	clone.Context[key] = value
	return &clone
}

var (
	ErrTransition         = &WorkflowError{Code: CodeTransition, Message: "illegal state transition"}
	ErrLockConflict       = &WorkflowError{Code: CodeLockConflict, Message: "copy is locked by another corrector"}
	ErrLeaseExpired       = &WorkflowError{Code: CodeLeaseExpired, Message: "lease expired or token invalid"}
	ErrOwnerMismatch      = &WorkflowError{Code: CodeOwnerMismatch, Message: "lease is owned by another corrector"}
	ErrVersionConflict    = &WorkflowError{Code: CodeVersionConflict, Message: "stale version"}
	ErrDraftConflict      = &WorkflowError{Code: CodeDraftConflict, Message: "draft is being edited from another session"}
	ErrValidation         = &WorkflowError{Code: CodeValidation, Message: "validation failed"}
	ErrNoCorrectors       = &WorkflowError{Code: CodeNoCorrectors, Message: "no eligible correctors"}
	ErrFlattenFailed      = &WorkflowError{Code: CodeFlattenFailed, Message: "flattening failed"}
	ErrAlreadyGraded      = &WorkflowError{Code: CodeAlreadyGraded, Message: "copy is already graded"}
	ErrNotFound           = &WorkflowError{Code: CodeNotFound, Message: "resource not found"}
	ErrInvariantViolation = &WorkflowError{Code: CodeInvariantViolation, Message: "invariant violation"}
	ErrInternal           = &WorkflowError{Code: CodeInternal, Message: "internal error"}
)

func New(code Code, message string) *WorkflowError {
	return &WorkflowError{Code: code, Message: message}
}

func Newf(code Code, format string, args ...interface{}) *WorkflowError {
	return &WorkflowError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code to an underlying cause.
func Wrap(code Code, err error, message string) *WorkflowError {
	return &WorkflowError{Code: code, Message: message, Err: err}
}

// CodeOf extracts the stable code of err. Validation error collections map
// to CodeValidation, anything unrecognised to CodeInternal.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var we *WorkflowError
	if stderrors.As(err, &we) {
		return we.Code
	}
	var ves ValidationErrors
	if stderrors.As(err, &ves) {
		return CodeValidation
	}
	var ve *ValidationError
	if stderrors.As(err, &ve) {
		return CodeValidation
	}
	return CodeInternal
}

// Normalize turns err into a WorkflowError stamped with correlationID.
func Normalize(err error, correlationID string) *WorkflowError {
	if err == nil {
		return nil
	}
	var we *WorkflowError
	if stderrors.As(err, &we) {
		clone := *we
		if clone.CorrelationID == "" {
			clone.CorrelationID = correlationID
		}
		return &clone
	}
	code := CodeOf(err)
	message := "internal error"
	if code == CodeValidation {
		message = "validation failed"
	}
	return &WorkflowError{Code: code, Message: message, CorrelationID: correlationID, Err: err}
}
