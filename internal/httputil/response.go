package httputil

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/bytedance/sonic"

	"feedsync/internal/model"
)

// Error codes of the local API
const (
	ErrCodeBadRequest    = "BAD_REQUEST"
	ErrCodeValidation    = "VALIDATION_FAILED"
	ErrCodeUnauthorized  = "UNAUTHORIZED"
	ErrCodeNotRegistered = "NOT_REGISTERED"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeConflict      = "CONFLICT"
	ErrCodeUpstream      = "UPSTREAM_UNAVAILABLE"
	ErrCodeInternal      = "INTERNAL_ERROR"
)

// MaxBodyBytes caps request bodies; a post image plus its base64 overhead fits.
const MaxBodyBytes = 16 << 20

// ErrorResponse represents the standard error response format
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains the error code and message
type ErrorDetail struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Field     string `json:"field,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if data != nil {
		// headers are already sent, nothing to report an encoding error to
		_ = sonic.ConfigDefault.NewEncoder(w).Encode(data)
	}
}

// DecodeJSON reads a JSON request body into v.
func DecodeJSON(r *http.Request, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, MaxBodyBytes))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if err := sonic.Unmarshal(body, v); err != nil {
		return fmt.Errorf("decode body: %w", err)
	}
	return nil
}

// WriteError writes an error response:
// {"error": {"code": "ERROR_CODE", "message": "Human readable message"}}
func WriteError(w http.ResponseWriter, status int, code string, message string) {
	WriteJSON(w, status, ErrorResponse{Error: ErrorDetail{Code: code, Message: message}})
}

// WriteDomainError maps err onto the API error taxonomy. ok is false when
// err matched nothing and a 500 was written.
func WriteDomainError(w http.ResponseWriter, err error) (ok bool) {
	var verr *model.ValidationError
	switch {
	case errors.As(err, &verr):
		WriteJSON(w, http.StatusBadRequest, ErrorResponse{Error: ErrorDetail{
			Code:    ErrCodeValidation,
			Message: verr.Error(),
			Field:   verr.Field,
		}})
	case errors.Is(err, model.ErrValidation):
		WriteError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
	case errors.Is(err, model.ErrNoIdentity):
		WriteUnauthorized(w, "No identity; sign in first")
	case errors.Is(err, model.ErrNotRegistered):
		WriteError(w, http.StatusForbidden, ErrCodeNotRegistered, "Create a profile first")
	case errors.Is(err, model.ErrAlreadyRegistered):
		WriteError(w, http.StatusConflict, ErrCodeConflict, err.Error())
	case errors.Is(err, model.ErrTransport):
		WriteBadGateway(w, err.Error())
	default:
		WriteInternalError(w, "Internal error")
		return false
	}
	return true
}

// Common error response helpers

// WriteBadRequest writes a 400 Bad Request error
func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// WriteUnauthorized writes a 401 Unauthorized error
func WriteUnauthorized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

// WriteNotFound writes a 404 Not Found error
func WriteNotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// WriteBadGateway writes a 502 for a failed remote call. The caller may retry.
func WriteBadGateway(w http.ResponseWriter, message string) {
	WriteJSON(w, http.StatusBadGateway, ErrorResponse{Error: ErrorDetail{
		Code:      ErrCodeUpstream,
		Message:   message,
		Retryable: true,
	}})
}

// WriteInternalError writes a 500 Internal Server Error
func WriteInternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}
