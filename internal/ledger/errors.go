package ledger

import (
	"errors"
	"fmt"
)

// Kind classifies why a call was rejected.
type Kind string

const (
	InvalidInput      Kind = "InvalidInput"
	InsufficientValue Kind = "InsufficientValue"
	Unauthorized      Kind = "Unauthorized"
	NothingToWithdraw Kind = "NothingToWithdraw"
	Overflow          Kind = "Overflow"
)

// Error is a rejected call. Every Error aborts the call with no state change.
type Error struct {
	Kind   Kind
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

// Is matches any *Error of the same Kind, so callers can compare against the
// sentinels below regardless of the reason text.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrEmptyMessage      = &Error{Kind: InvalidInput, Reason: "message cannot be empty"}
	ErrBelowMinimum      = &Error{Kind: InsufficientValue, Reason: "minimum donation not met"}
	ErrNotOwner          = &Error{Kind: Unauthorized, Reason: "only owner may withdraw"}
	ErrNothingToWithdraw = &Error{Kind: NothingToWithdraw, Reason: "no funds to withdraw"}
	ErrOverflow          = &Error{Kind: Overflow, Reason: "arithmetic overflow"}
)

// KindOf returns the Kind of err, or "" when err is not a ledger error.
func KindOf(err error) Kind {
	var le *Error
	if errors.As(err, &le) {
		return le.Kind
	}
	return ""
}
