package bridge

import (
	"errors"
	"fmt"

	"github.com/binbridge/binbridge/internal/engine"
	"github.com/binbridge/binbridge/internal/session"
)

// ErrorKind classifies a failed request.
type ErrorKind string

const (
	KindUnknownOperation  ErrorKind = "UnknownOperation"
	KindInvalidArgument   ErrorKind = "InvalidArgument"
	KindNotFound          ErrorKind = "NotFound"
	KindNotReady          ErrorKind = "NotReady"
	KindEngineFailure     ErrorKind = "EngineFailure"
	KindAlreadyTerminated ErrorKind = "AlreadyTerminated"
)

// Error is a classified bridge error.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Message == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

func newError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// InvalidArgument reports a malformed parameter.
func InvalidArgument(format string, args ...any) *Error {
	return newError(KindInvalidArgument, format, args...)
}

// NotFound reports a well-formed identifier that matches nothing.
func NotFound(format string, args ...any) *Error {
	return newError(KindNotFound, format, args...)
}

// NotReady reports that the session cannot serve the request yet (or any more).
func NotReady(format string, args ...any) *Error {
	return newError(KindNotReady, format, args...)
}

// EngineFailure wraps an engine error that has no more specific kind.
func EngineFailure(err error, format string, args ...any) *Error {
	e := newError(KindEngineFailure, format, args...)
	e.Err = err
	if err != nil {
		e.Message = fmt.Sprintf("%s: %v", e.Message, err)
	}
	return e
}

// classify maps any error onto a bridge error. Engine and session sentinels
// keep their meaning; everything else is an engine failure.
func classify(err error) *Error {
	if err == nil {
		return nil
	}

	var be *Error
	if errors.As(err, &be) {
		return be
	}

	switch {
	case errors.Is(err, session.ErrTerminated):
		return &Error{Kind: KindNotReady, Message: "session has been terminated", Err: err}
	case errors.Is(err, engine.ErrNoFile):
		return &Error{Kind: KindNotReady, Message: "no file is loaded", Err: err}
	case errors.Is(err, engine.ErrNotFound):
		return &Error{Kind: KindNotFound, Message: err.Error(), Err: err}
	default:
		return &Error{Kind: KindEngineFailure, Message: err.Error(), Err: err}
	}
}

// KindOf returns the kind of err, or "" for nil.
func KindOf(err error) ErrorKind {
	if be := classify(err); be != nil {
		return be.Kind
	}
	return ""
}
