package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"ticket-resale/internal/services"
	"ticket-resale/internal/status"

	"github.com/pocketbase/pocketbase/core"
)

// ErrorBody is the envelope of every non-2xx response.
type ErrorBody struct {
	Message   string            `json:"message"`
	Error     string            `json:"error,omitempty"`
	Errors    map[string]string `json:"errors,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// StatusCode maps a service error onto its HTTP status.
func StatusCode(err error) int {
	switch {
	case errors.Is(err, status.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, status.ErrAuth):
		return http.StatusUnauthorized
	case errors.Is(err, status.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, status.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, status.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, status.ErrGateway):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

var messages = map[int]string{
	http.StatusBadRequest:          "Invalid request",
	http.StatusUnauthorized:        "Authentication required",
	http.StatusForbidden:           "Access denied",
	http.StatusNotFound:            "Resource not found",
	http.StatusConflict:            "Request conflicts with current state",
	http.StatusTooManyRequests:     "Too many requests",
	http.StatusBadGateway:          "Payment gateway error",
	http.StatusInternalServerError: "Internal server error",
}

func fail(e *core.RequestEvent, err error) error {
	code := StatusCode(err)
	body := ErrorBody{Message: messages[code], Timestamp: time.Now().UTC()}

	var verr *services.ValidationError
	switch {
	case errors.As(err, &verr):
		body.Message = "Validation failed"
		body.Errors = verr.Fields
	case code == http.StatusInternalServerError:
		slog.Error("request failed", "method", e.Request.Method, "path", e.Request.URL.Path, "error", err)
	default:
		body.Message = err.Error()
	}
	if code != http.StatusInternalServerError {
		body.Error = http.StatusText(code)
	}
	return e.JSON(code, body)
}

func failWith(e *core.RequestEvent, code int, message string) error {
	return e.JSON(code, ErrorBody{
		Message:   message,
		Error:     http.StatusText(code),
		Timestamp: time.Now().UTC(),
	})
}
