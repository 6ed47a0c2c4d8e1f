// Package status carries the structured call status surfaced to stream
// clients: a machine-readable code plus a human-readable detail string.
package status

import (
	"context"
	"errors"
	"fmt"

	"github.com/gorilla/websocket"
)

type Code string

const (
	CodeOK              Code = "ok"
	CodeInvalidArgument Code = "invalid_argument"
	CodeInternal        Code = "internal"
	CodeUnavailable     Code = "unavailable"
	CodeCancelled       Code = "cancelled"
)

// Error is the terminal status of a failed call.
type Error struct {
	Code   Code
	Detail string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Detail)
}

func Invalidf(format string, args ...any) *Error {
	return &Error{Code: CodeInvalidArgument, Detail: fmt.Sprintf(format, args...)}
}

func Internalf(format string, args ...any) *Error {
	return &Error{Code: CodeInternal, Detail: fmt.Sprintf(format, args...)}
}

func Unavailablef(format string, args ...any) *Error {
	return &Error{Code: CodeUnavailable, Detail: fmt.Sprintf(format, args...)}
}

// FromError maps an arbitrary error to a structured status. Already-structured
// errors pass through; cancellation keeps its own code; everything else is an
// internal fault.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return se
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &Error{Code: CodeCancelled, Detail: err.Error()}
	}
	return &Error{Code: CodeInternal, Detail: err.Error()}
}

// CloseCode maps a status code onto a websocket close code so non-JSON-aware
// clients still observe the failure class.
func CloseCode(c Code) int {
	switch c {
	case CodeInvalidArgument:
		return websocket.ClosePolicyViolation
	case CodeUnavailable:
		return websocket.CloseTryAgainLater
	case CodeCancelled:
		return websocket.CloseGoingAway
	default:
		return websocket.CloseInternalServerErr
	}
}
