package transport

import (
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Error is a structured failure from a chat API call.
type Error struct {
	Code       int
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("chat api: %s (code=%d status=%d): %v", e.Message, e.Code, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("chat api: %s (code=%d status=%d)", e.Message, e.Code, e.StatusCode)
}

func (e *Error) Unwrap() error { return e.Err }

// Temporary reports whether retrying the call can succeed. Server-side
// failures and rate limits are temporary; other 4xx are not.
func (e *Error) Temporary() bool {
	if e.StatusCode >= http.StatusInternalServerError {
		return true
	}
	if e.StatusCode == http.StatusTooManyRequests || e.StatusCode == http.StatusRequestTimeout {
		return true
	}
	if e.StatusCode == 0 {
		// No HTTP response at all: connectivity problem.
		return true
	}
	return false
}

// NewError builds a permanent validation-style failure.
func NewError(code, status int, message string) *Error {
	return &Error{Code: code, StatusCode: status, Message: message}
}

// WrapNetError marks a transport-level failure as temporary.
func WrapNetError(err error) *Error {
	return &Error{Message: "network error", Err: err}
}

// IsPermanent reports whether err can never succeed on retry. Plain
// non-transport errors (cancelled contexts aside) count as temporary so
// an unknown failure does not terminate a pending mutation.
func IsPermanent(err error) bool {
	var te *Error
	if errors.As(err, &te) {
		return !te.Temporary()
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return false
	}
	return false
}
