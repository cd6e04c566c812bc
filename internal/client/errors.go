package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"

	"ticket-resale/internal/status"

	"github.com/go-resty/resty/v2"
)

// APIError is a non-2xx answer from the backend. It unwraps to the status
// sentinel matching its code, so callers can use errors.Is.
type APIError struct {
	StatusCode int
	Message    string
	Kind       error
	Fields     map[string]string

	raw []byte
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error { return e.Kind }

func kindFor(code int) error {
	switch {
	case code == http.StatusBadRequest || code == http.StatusUnprocessableEntity:
		return status.ErrValidation
	case code == http.StatusUnauthorized:
		return status.ErrAuth
	case code == http.StatusForbidden:
		return status.ErrForbidden
	case code == http.StatusNotFound:
		return status.ErrNotFound
	case code == http.StatusConflict:
		return status.ErrConflict
	case code == http.StatusBadGateway:
		return status.ErrGateway
	case code == http.StatusTooManyRequests || code >= 500:
		return status.ErrTransientNetwork
	}
	return nil
}

func newAPIError(resp *resty.Response) *APIError {
	var body struct {
		Message string            `json:"message"`
		Error   string            `json:"error"`
		Errors  map[string]string `json:"errors"`
	}
	raw := resp.Body()
	_ = json.Unmarshal(raw, &body)

	msg := body.Message
	if msg == "" {
		msg = body.Error
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode())
	}
	return &APIError{
		StatusCode: resp.StatusCode(),
		Message:    msg,
		Kind:       kindFor(resp.StatusCode()),
		Fields:     body.Errors,
		raw:        raw,
	}
}

// AuthError is returned when the session could not be used. ForcedLogout
// means the refresh token was rejected and the session has been cleared.
type AuthError struct {
	ForcedLogout bool
	Message      string
}

func (e *AuthError) Error() string { return e.Message }

func (e *AuthError) Unwrap() []error {
	if e.ForcedLogout {
		return []error{status.ErrAuth, status.ErrForcedLogout}
	}
	return []error{status.ErrAuth}
}

// IsTransient reports whether err is worth retrying: transport failures,
// rate limiting and server-side errors.
func IsTransient(err error) bool {
	if errors.Is(err, status.ErrTransientNetwork) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500
	}
	return false
}
