// Package ioerr defines the error kinds shared by the cancellation and stream
// packages.
//
// Every error produced by this module carries exactly one [Kind] and a
// human-readable message. Callers are expected to branch on the kind, via
// [errors.Is] against the exported sentinels, or via [KindOf], and never parse
// the message.
package ioerr

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies an [Error].
type Kind int

const (
	// Failed is the generic kind, used when nothing more specific applies.
	Failed Kind = iota
	// Cancelled indicates the supplied cancellation token was observed
	// cancelled.
	Cancelled
	// UnexpectedEOF indicates a structured read required more bytes than the
	// stream could supply.
	UnexpectedEOF
	// InvalidEncoding indicates a UTF-8 validation step failed.
	InvalidEncoding
	// NotSupported indicates the operation is not implemented by the backend.
	NotSupported
	// Pending indicates an attempt to start a second outstanding operation on
	// the same stream.
	Pending
	// Closed indicates the stream has already been closed.
	Closed
	// InvalidArgument indicates a malformed request, e.g. a negative count.
	InvalidArgument
	// IO wraps a backend error, which remains reachable via [errors.Unwrap].
	IO
)

var (
	ErrFailed          = &Error{Kind: Failed}
	ErrCancelled       = &Error{Kind: Cancelled}
	ErrUnexpectedEOF   = &Error{Kind: UnexpectedEOF}
	ErrInvalidEncoding = &Error{Kind: InvalidEncoding}
	ErrNotSupported    = &Error{Kind: NotSupported}
	ErrPending         = &Error{Kind: Pending}
	ErrClosed          = &Error{Kind: Closed}
	ErrInvalidArgument = &Error{Kind: InvalidArgument}
	ErrIO              = &Error{Kind: IO}
)

// Error is the concrete error type returned by this module.
type Error struct {
	// Err is the underlying cause, if any.
	Err     error
	Message string
	Kind    Kind
}

// New returns an error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf is [New] with [fmt.Sprintf] formatting.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap returns an [IO] error wrapping err, or nil if err is nil. Errors that
// already carry a [Kind] are returned unchanged.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return &Error{Kind: IO, Message: message, Err: err}
}

// NewCancelled returns the canonical cancellation error.
func NewCancelled() *Error {
	return &Error{Kind: Cancelled, Message: "Operation was cancelled"}
}

// KindOf returns the kind of the first [Error] in err's chain, [Failed] if
// there is none, or -1 if err is nil.
func KindOf(err error) Kind {
	if err == nil {
		return -1
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Failed
}

func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return e.Message + ": " + e.Err.Error()
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return e.Err.Error()
	default:
		return e.Kind.String()
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is a bare sentinel (no message, no cause) of the
// same kind. Cancelled errors also match [context.Canceled].
func (e *Error) Is(target error) bool {
	if e.Kind == Cancelled && target == context.Canceled {
		return true
	}
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Message == "" && t.Err == nil
}

func (k Kind) String() string {
	switch k {
	case Failed:
		return "Operation failed"
	case Cancelled:
		return "Operation was cancelled"
	case UnexpectedEOF:
		return "Unexpected early end-of-stream"
	case InvalidEncoding:
		return "Invalid byte sequence in conversion input"
	case NotSupported:
		return "Operation not supported"
	case Pending:
		return "Stream has outstanding operation"
	case Closed:
		return "Stream is already closed"
	case InvalidArgument:
		return "Invalid argument"
	case IO:
		return "I/O error"
	default:
		return fmt.Sprintf("ioerr.Kind(%d)", int(k))
	}
}
