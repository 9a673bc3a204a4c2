package gateway

import (
	"errors"
	"fmt"
	"net/http"
)

// StatusError is a non-2xx answer from the remote. The remote speaks the
// {"error": {"code", "message"}} envelope.
type StatusError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *StatusError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("remote returned %d", e.StatusCode)
	}
	return fmt.Sprintf("remote returned %d %s: %s", e.StatusCode, e.Code, e.Message)
}

// Temporary reports whether repeating the same request may succeed.
func (e *StatusError) Temporary() bool {
	return e.StatusCode >= http.StatusInternalServerError || e.StatusCode == http.StatusTooManyRequests
}

// IsStatus reports whether err carries a remote answer with the given code.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == code
}
