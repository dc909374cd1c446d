package utils

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures returned by the economy engines.
type ErrorKind string

const (
	KindValidation      ErrorKind = "validation"
	KindConflict        ErrorKind = "conflict"
	KindNotFound        ErrorKind = "not_found"
	KindOperationFailed ErrorKind = "operation_failed"
)

// Sentinels for errors.Is checks against an *EconomyError's kind.
var (
	ErrValidation      = errors.New("validation error")
	ErrConflict        = errors.New("conflict error")
	ErrNotFound        = errors.New("not found")
	ErrOperationFailed = errors.New("operation failed")
)

// Error codes carried by EconomyError.Code.
const (
	CodeNotActive       = "NOT_ACTIVE"
	CodeNotStarted      = "NOT_STARTED"
	CodeEnded           = "ENDED"
	CodeBidTooLow       = "BID_TOO_LOW"
	CodeSelfOutbid      = "SELF_OUTBID"
	CodeForbidden       = "FORBIDDEN"
	CodeNotExpired      = "NOT_EXPIRED"
	CodeInvalidState    = "INVALID_STATE"
	CodeInvalidInput    = "INVALID_INPUT"
	CodeNotFound        = "NOT_FOUND"
	CodeOperationFailed = "OPERATION_FAILED"
)

// EconomyError is the structured error returned to callers of the engines.
// Details carries enough state (current bid, minimum, status) for a caller to
// decide whether to retry.
type EconomyError struct {
	Kind    ErrorKind
	Code    string
	Message string
	Details map[string]any
	Err     error
}

func (e *EconomyError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *EconomyError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match an EconomyError against the kind sentinels.
func (e *EconomyError) Is(target error) bool {
	switch target {
	case ErrValidation:
		return e.Kind == KindValidation
	case ErrConflict:
		return e.Kind == KindConflict
	case ErrNotFound:
		return e.Kind == KindNotFound
	case ErrOperationFailed:
		return e.Kind == KindOperationFailed
	}
	return false
}

// WithDetail returns e after setting key in its details.
func (e *EconomyError) WithDetail(key string, value any) *EconomyError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

func Validation(code, format string, args ...any) *EconomyError {
	return &EconomyError{Kind: KindValidation, Code: code, Message: fmt.Sprintf(format, args...)}
}

func Conflict(code, format string, args ...any) *EconomyError {
	return &EconomyError{Kind: KindConflict, Code: code, Message: fmt.Sprintf(format, args...)}
}

func NotFound(entity string, id any) *EconomyError {
	return &EconomyError{
		Kind:    KindNotFound,
		Code:    CodeNotFound,
		Message: fmt.Sprintf("%s %v not found", entity, id),
		Details: map[string]any{"entity": entity, "id": id},
	}
}

// OperationFailed wraps an infrastructure failure that aborted a transaction.
func OperationFailed(err error) *EconomyError {
	return &EconomyError{
		Kind:    KindOperationFailed,
		Code:    CodeOperationFailed,
		Message: "operation failed and was rolled back",
		Err:     err,
	}
}

// AsEconomyError passes domain errors through and wraps anything else as
// OperationFailed.
func AsEconomyError(err error) error {
	if err == nil {
		return nil
	}
	var ee *EconomyError
	if errors.As(err, &ee) {
		return ee
	}
	return OperationFailed(err)
}

// KindOf reports the kind of err, or "" when err is not an EconomyError.
func KindOf(err error) ErrorKind {
	var ee *EconomyError
	if errors.As(err, &ee) {
		return ee.Kind
	}
	return ""
}

// CodeOf reports the code of err, or "" when err is not an EconomyError.
func CodeOf(err error) string {
	var ee *EconomyError
	if errors.As(err, &ee) {
		return ee.Code
	}
	return ""
}

// Warning is a non-fatal integrity finding returned alongside a successful
// result. It never aborts the operation that produced it.
type Warning struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

const (
	WarningTierCountMismatch = "TIER_COUNT_MISMATCH"
	WarningQuotaOverflow     = "QUOTA_OVERFLOW"
	WarningMissingScore      = "MISSING_SCORE"
	WarningPointerRepaired   = "POINTER_REPAIRED"
)
