package backend

import (
	"errors"
	"fmt"
)

// NetworkError means the backend could not be reached at all: DNS failure,
// refused connection, broken transport.
type NetworkError struct {
	URL string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("backend unreachable (%s): %v", e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ServerError is a response the backend produced deliberately: a non-2xx
// status, or a mutation envelope with success=false. Message is safe to
// surface to the user verbatim.
type ServerError struct {
	Status  int
	Message string
}

func (e *ServerError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("backend error (status %d): %s", e.Status, e.Message)
	}
	return fmt.Sprintf("backend error (status %d)", e.Status)
}

// TimeoutError means the request exceeded its deadline before the backend
// answered.
type TimeoutError struct {
	URL string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("backend request timed out (%s)", e.URL)
}

// UserMessage returns a string suitable for direct display: the server's
// own message when present, else a generic fallback. Never a stack trace.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var se *ServerError
	if errors.As(err, &se) && se.Message != "" {
		return se.Message
	}
	return "Something went wrong. Please try again."
}
