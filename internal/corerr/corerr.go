// Package corerr defines the error taxonomy shared across the Dispatcher,
// Store, Bus, PubSub and HTTP layers: a coarse Kind that maps to an HTTP
// status, plus a finer Reason for the forbidden cases.
package corerr

import (
	"errors"
	"fmt"
)

// Kind discriminates the category of a CoreError.
type Kind int

// Recognized error kinds.
const (
	Internal Kind = iota
	Unauthenticated
	Forbidden
	NotFound
	Conflict
	Validation
	StoreUnavailable
	BusUnavailable
	PubSubUnavailable
)

// Reason is a finer-grained discriminator carried inside Forbidden errors.
type Reason string

// Recognized forbidden reasons.
const (
	ReasonNotAMember         Reason = "NotAMember"
	ReasonBlocked            Reason = "Blocked"
	ReasonBlockedByRecipient Reason = "BlockedByRecipient"
	ReasonSelfSend           Reason = "SelfSend"
)

// CoreError is the error type returned by every Dispatcher/Store operation.
type CoreError struct {
	Kind   Kind
	Reason Reason
	Err    error
}

func (e *CoreError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("%d: %v", e.Kind, e.Err)
}

// Unwrap allows errors.Is/As to reach the wrapped cause.
func (e *CoreError) Unwrap() error { return e.Err }

// New builds a plain CoreError of the given kind.
func New(kind Kind, err error) *CoreError {
	return &CoreError{Kind: kind, Err: err}
}

// Forbiddenf builds a Forbidden CoreError carrying reason.
func Forbiddenf(reason Reason, format string, args ...interface{}) *CoreError {
	return &CoreError{Kind: Forbidden, Reason: reason, Err: fmt.Errorf(format, args...)}
}

// NotFoundf builds a NotFound CoreError.
func NotFoundf(format string, args ...interface{}) *CoreError {
	return &CoreError{Kind: NotFound, Err: fmt.Errorf(format, args...)}
}

// Conflictf builds a Conflict CoreError.
func Conflictf(format string, args ...interface{}) *CoreError {
	return &CoreError{Kind: Conflict, Err: fmt.Errorf(format, args...)}
}

// Validationf builds a Validation CoreError.
func Validationf(format string, args ...interface{}) *CoreError {
	return &CoreError{Kind: Validation, Err: fmt.Errorf(format, args...)}
}

// KindOf extracts the Kind of err if it is (or wraps) a *CoreError, else Internal.
func KindOf(err error) Kind {
	var ce *CoreError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return Internal
}
