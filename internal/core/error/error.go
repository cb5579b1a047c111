package errx

import (
	"errors"
	"fmt"
	"net/http"
)

const (
	// SystemErrorMessage is a user-facing fallback when internal errors occur.
	SystemErrorMessage = "internal server error"
	// RedisErrorMessage describes Redis related failures.
	RedisErrorMessage = "redis operation failed"
	// RedisNotFoundMessage describes a missing Redis key.
	RedisNotFoundMessage = "key not found"
)

// Sentinel errors for the conversation core. Callers branch on these with
// errors.Is; Error (below) carries them as the underlying cause so the
// HTTP status and safe message travel together.
var (
	// ErrNotFound reports an unknown session or goal id.
	ErrNotFound = errors.New("not found")
	// ErrInvalidConfig reports a goal registry that references undefined
	// targets. Fatal at load time.
	ErrInvalidConfig = errors.New("invalid goal config")
	// ErrSessionClosed reports a mutation attempted on a terminated session.
	ErrSessionClosed = errors.New("session closed")
	// ErrExternalCall reports a failed LLM or tool call. Recoverable: the
	// orchestrator retries a bounded number of times before degrading.
	ErrExternalCall = errors.New("external call failed")
	// ErrLoopGuard reports a forced fallback transition. It has a defined
	// recovery path and is logged as a warning, not an error.
	ErrLoopGuard = errors.New("loop guard exceeded")
)

// Error wraps an underlying error with an HTTP status and safe message.
type Error struct {
	Err     error
	Status  int
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

// Unwrap exposes the underlying error for errors.Is / errors.As support.
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a new Error with the provided information.
func New(err error, status int, message string) *Error {
	return &Error{
		Err:     err,
		Status:  status,
		Message: message,
	}
}

// NotFound wraps ErrNotFound with context about what was missing.
func NotFound(what, id string) *Error {
	return New(fmt.Errorf("%w: %s %q", ErrNotFound, what, id), http.StatusNotFound, fmt.Sprintf("%s not found", what))
}

// SessionClosed wraps ErrSessionClosed for the given session id.
func SessionClosed(sessionID string) *Error {
	return New(fmt.Errorf("%w: session %q", ErrSessionClosed, sessionID), http.StatusConflict, "session is closed")
}

// InvalidConfig wraps ErrInvalidConfig with the offending reference.
func InvalidConfig(format string, args ...any) *Error {
	return New(fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...)), http.StatusInternalServerError, "invalid goal configuration")
}

// ExternalCall wraps a failed LLM or tool invocation as retryable.
func ExternalCall(err error) *Error {
	if err == nil {
		return nil
	}
	return New(fmt.Errorf("%w: %v", ErrExternalCall, err), http.StatusBadGateway, "external call failed")
}

// IsRetryable reports whether the error is a transient external failure
// that the orchestrator may retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrExternalCall)
}

// Is reports whether the target matches the underlying error or the Error itself.
func (e *Error) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// As allows casting to Error or the wrapped error in a chain.
func (e *Error) As(target any) bool {
	if errors.As(e.Err, target) {
		return true
	}
	if t, ok := target.(**Error); ok {
		*t = e
		return true
	}
	return false
}
