// Package apperr carries the error taxonomy shared by every domain package.
// Callers classify failures with KindOf and decide whether a retry makes
// sense: a Conflict means refresh and try again, a Validation means fix the
// input first.
package apperr

import (
	"errors"
	"fmt"
)

// Kind labels an error with its place in the taxonomy.
type Kind int

const (
	// KindUnknown is the zero value for errors outside the taxonomy.
	KindUnknown Kind = iota
	// KindValidation covers malformed input: bad id, non-positive amount, invalid enum.
	KindValidation
	// KindNotFound covers references to entities that do not exist.
	KindNotFound
	// KindConflict covers preconditions violated at commit time: already
	// matched, offer consumed, concurrent writer won, duplicate active dispute.
	KindConflict
	// KindStateTransition covers transitions not valid from the current state.
	KindStateTransition
	// KindExternal covers payment-processor and notification-gateway failures.
	KindExternal
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindStateTransition:
		return "state_transition"
	case KindExternal:
		return "external"
	default:
		return "unknown"
	}
}

// Error is the taxonomy carrier. Domain packages usually expose sentinel
// errors built with New and wrap storage errors with Wrap.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is match any taxonomy error of the same kind, so sentinel
// values like match.ErrOfferUnavailable compare true against wrapped copies.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Kind == t.Kind && (t.Msg == "" || t.Msg == e.Msg)
}

// New builds a taxonomy error with a fixed message.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Newf builds a taxonomy error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a taxonomy kind to an underlying error.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf reports the taxonomy kind of err, or KindUnknown when err does not
// carry one anywhere in its chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsValidation reports whether err is a validation error.
func IsValidation(err error) bool { return KindOf(err) == KindValidation }

// IsNotFound reports whether err is a not-found error.
func IsNotFound(err error) bool { return KindOf(err) == KindNotFound }

// IsConflict reports whether err is a conflict error.
func IsConflict(err error) bool { return KindOf(err) == KindConflict }

// IsStateTransition reports whether err is an invalid state transition error.
func IsStateTransition(err error) bool { return KindOf(err) == KindStateTransition }

// IsExternal reports whether err is an external-service error.
func IsExternal(err error) bool { return KindOf(err) == KindExternal }
