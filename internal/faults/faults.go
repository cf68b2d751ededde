// Package faults classifies failures of daemon calls and local I/O so callers can
// tell "the daemon does not know this job" apart from "the daemon cannot be reached".
package faults

import (
	"errors"
	"fmt"
)

// Kind is the category of a failure.
type Kind string

const (
	// KindTransport: daemon unreachable, refused, or timed out. Recovered by reconnecting.
	KindTransport Kind = "transport"
	// KindUnknownHandle: the daemon answered but no longer knows the handle.
	KindUnknownHandle Kind = "unknown_handle"
	// KindInvalidInput: the daemon rejected the request (malformed URI, duplicate task...).
	KindInvalidInput Kind = "invalid_input"
	// KindLocalIO: metadata file or persistent store failure on this machine.
	KindLocalIO Kind = "local_io"
)

// Error is a classified failure.
type Error struct {
	Kind    Kind
	Op      string // operation that failed, e.g. "aria2.tellStatus"
	Message string
	Code    int // remote fault code, 0 when not applicable
	Cause   error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Cause != nil {
		msg = e.Cause.Error()
	} else if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	if e.Op != "" {
		return fmt.Sprintf("%s (%s): %s", e.Op, e.Kind, msg)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

// Unwrap exposes the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Transport wraps a transport-level failure.
func Transport(op string, cause error) *Error {
	return &Error{Kind: KindTransport, Op: op, Cause: cause}
}

// UnknownHandle reports a fault for a handle the daemon does not recognize.
func UnknownHandle(op string, code int, message string) *Error {
	return &Error{Kind: KindUnknownHandle, Op: op, Code: code, Message: message}
}

// InvalidInput reports a fault the daemon raised against the request itself.
func InvalidInput(op string, code int, message string) *Error {
	return &Error{Kind: KindInvalidInput, Op: op, Code: code, Message: message}
}

// LocalIO wraps a local file or store failure.
func LocalIO(op string, cause error) *Error {
	return &Error{Kind: KindLocalIO, Op: op, Cause: cause}
}

// KindOf returns the kind of the first *Error in err's chain, or "" if there is none.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

func IsTransport(err error) bool     { return KindOf(err) == KindTransport }
func IsUnknownHandle(err error) bool { return KindOf(err) == KindUnknownHandle }
func IsInvalidInput(err error) bool  { return KindOf(err) == KindInvalidInput }
func IsLocalIO(err error) bool       { return KindOf(err) == KindLocalIO }
