package driver

import (
	"errors"
	"fmt"

	"github.com/luispater/anyWebDriver/internal/protocol"
)

// ErrorKind classifies driver failures.
type ErrorKind string

const (
	KindSessionStartFailure ErrorKind = "session_start_failure"
	KindInvalidSessionState ErrorKind = "invalid_session_state"
	KindNoSuchElement       ErrorKind = "no_such_element"
	KindNoSuchWindow        ErrorKind = "no_such_window"
	KindStaleElement        ErrorKind = "stale_element"
	KindInvalidArgument     ErrorKind = "invalid_argument"
	KindUnreachable         ErrorKind = "unreachable"
	KindTimeout             ErrorKind = "timeout"
	KindRemote              ErrorKind = "remote"
)

var (
	ErrSessionStartFailure = &Error{Kind: KindSessionStartFailure}
	ErrInvalidSessionState = &Error{Kind: KindInvalidSessionState}
	ErrNoSuchElement       = &Error{Kind: KindNoSuchElement}
	ErrNoSuchWindow        = &Error{Kind: KindNoSuchWindow}
	ErrStaleElement        = &Error{Kind: KindStaleElement}
	ErrInvalidArgument     = &Error{Kind: KindInvalidArgument}
	ErrUnreachable         = &Error{Kind: KindUnreachable}
	ErrTimeout             = &Error{Kind: KindTimeout}
)

// Error is a typed driver failure. Errors of the same Kind match with errors.Is.
type Error struct {
	Kind    ErrorKind
	Command protocol.Command
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Command != "" {
		msg = fmt.Sprintf("%s: %s", e.Command, msg)
	}
	if e.Message != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Message)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports kind equality so the exported sentinels work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func newError(kind ErrorKind, cmd protocol.Command, message string, err error) *Error {
	return &Error{Kind: kind, Command: cmd, Message: message, Err: err}
}

// KindOf returns the kind of a driver error, or "" for foreign errors.
func KindOf(err error) ErrorKind {
	var driverErr *Error
	if errors.As(err, &driverErr) {
		return driverErr.Kind
	}
	return ""
}

// IsRetryable reports whether the caller may retry an idempotent read.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// kindForCode maps a remote W3C error code onto the local taxonomy.
func kindForCode(cmd protocol.Command, code string) ErrorKind {
	switch code {
	case protocol.CodeSessionNotCreated:
		return KindSessionStartFailure
	case protocol.CodeInvalidSessionID:
		return KindInvalidSessionState
	case protocol.CodeNoSuchElement:
		return KindNoSuchElement
	case protocol.CodeNoSuchWindow:
		return KindNoSuchWindow
	case protocol.CodeStaleElement:
		return KindStaleElement
	case protocol.CodeTimeout:
		return KindTimeout
	case protocol.CodeInvalidArgument, protocol.CodeInvalidSelector:
		return KindInvalidArgument
	}
	if cmd == protocol.NewSession {
		return KindSessionStartFailure
	}
	return KindRemote
}
