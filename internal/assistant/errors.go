package assistant

import (
	"errors"
	"fmt"
)

// Kind classifies assistant failures. The loop treats every kind the same
// (fall back to DefaultSuggestion) but logs and counts them separately.
type Kind string

const (
	KindTimeout     Kind = "timeout"
	KindNonZeroExit Kind = "nonzero_exit"
	KindUnparseable Kind = "unparseable"
	KindUnavailable Kind = "unavailable"
	KindStart       Kind = "start"
	KindCanceled    Kind = "canceled"
)

// Sentinels for errors.Is.
var (
	ErrTimeout     = &Error{Kind: KindTimeout}
	ErrNonZeroExit = &Error{Kind: KindNonZeroExit}
	ErrUnparseable = &Error{Kind: KindUnparseable}
	ErrUnavailable = &Error{Kind: KindUnavailable}
)

// Error is returned by Client for every failed invocation.
type Error struct {
	Kind     Kind
	ExitCode int
	Stderr   string
	Err      error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindNonZeroExit:
		return fmt.Sprintf("assistant exited with code %d: %s", e.ExitCode, e.Stderr)
	case KindTimeout:
		return fmt.Sprintf("assistant timed out: %v", e.Err)
	default:
		if e.Err != nil {
			return fmt.Sprintf("assistant %s: %v", e.Kind, e.Err)
		}
		return "assistant " + string(e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches sentinels by kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the kind of an assistant error, or "" for other errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
