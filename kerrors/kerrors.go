// Package kerrors implements the error taxonomy used across the
// indexer: a small set of typed sentinels wrapped with
// github.com/pkg/errors so callers keep a stack trace and cause chain
// while still being able to switch on the concrete kind.
package kerrors

import "github.com/pkg/errors"

// Kind classifies an error into one of a small set of domain categories.
type Kind int

const (
	KindValidation Kind = iota
	KindFunding
	KindChain
	KindOrderViolation
	KindRollbackRequired
	KindPersistence
	KindContract
	KindCursor
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindFunding:
		return "funding"
	case KindChain:
		return "chain"
	case KindOrderViolation:
		return "order_violation"
	case KindRollbackRequired:
		return "rollback_required"
	case KindPersistence:
		return "persistence"
	case KindContract:
		return "contract"
	case KindCursor:
		return "cursor"
	default:
		return "unknown"
	}
}

// Error is the concrete type every kerrors constructor returns.
type Error struct {
	Kind Kind
	msg  string
	err  error
}

func (e *Error) Error() string {
	if e.err != nil {
		return e.msg + ": " + e.err.Error()
	}
	return e.msg
}

func (e *Error) Cause() error { return e.err }
func (e *Error) Unwrap() error { return e.err }

func new_(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, msg: msg, err: errors.WithStack(err)}
}

func Validation(msg string, err error) *Error        { return new_(KindValidation, msg, err) }
func Funding(msg string, err error) *Error            { return new_(KindFunding, msg, err) }
func Chain(msg string, err error) *Error              { return new_(KindChain, msg, err) }
func OrderViolation(msg string, err error) *Error     { return new_(KindOrderViolation, msg, err) }
func RollbackRequired(msg string, err error) *Error   { return new_(KindRollbackRequired, msg, err) }
func Persistence(msg string, err error) *Error        { return new_(KindPersistence, msg, err) }
func Contract(msg string, err error) *Error           { return new_(KindContract, msg, err) }
func Cursor(msg string, err error) *Error             { return new_(KindCursor, msg, err) }

// Is reports whether err is a *Error of the given kind, unwrapping the
// cause chain built by errors.WithStack along the way.
func Is(err error, kind Kind) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			if e.Kind == kind {
				return true
			}
			err = e.err
			continue
		}
		cause := errors.Cause(err)
		if cause == err {
			return false
		}
		err = cause
	}
	return false
}

// Fatal reports whether this kind must abort the reactor's event loop
// rather than being logged and skipped.
func (k Kind) Fatal() bool {
	return k == KindOrderViolation
}

// Recoverable reports whether the reactor should trigger a rollback
// instead of treating the error as fatal.
func (k Kind) Recoverable() bool {
	return k == KindRollbackRequired
}
