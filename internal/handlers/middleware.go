package handlers

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"ticket-resale/internal/services"
	"ticket-resale/security"

	"github.com/google/uuid"
	"github.com/pocketbase/pocketbase/core"
)

const (
	headerRequestID      = "X-Request-ID"
	headerCallbackSecret = "X-Callback-Secret"
)

type userHandler func(e *core.RequestEvent, userID int64) error

type middleware struct {
	auth           *services.AuthService
	limiter        *security.RateLimiter
	callbackSecret string
}

// chain wraps h so that the first middleware listed runs first.
func (m *middleware) chain(h HandlerFunc, mws ...func(HandlerFunc) HandlerFunc) HandlerFunc {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

func (m *middleware) requestID(next HandlerFunc) HandlerFunc {
	return func(e *core.RequestEvent) error {
		id := e.Request.Header.Get(headerRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		e.Response.Header().Set(headerRequestID, id)
		return next(e)
	}
}

func (m *middleware) rateLimit(next HandlerFunc) HandlerFunc {
	return func(e *core.RequestEvent) error {
		if m.limiter == nil {
			return next(e)
		}
		if security.IsSuspiciousUserAgent(e.Request.UserAgent()) {
			return failWith(e, http.StatusForbidden, "Access denied")
		}
		ok, err := m.limiter.Allow(e.Request.Context(), e.RealIP())
		if err != nil {
			slog.Warn("rate limiter unavailable", "error", err)
		}
		if !ok {
			return failWith(e, http.StatusTooManyRequests, "Rate limit exceeded. Please try again later.")
		}
		return next(e)
	}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "Bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

func (m *middleware) requireAuth(next userHandler) HandlerFunc {
	return func(e *core.RequestEvent) error {
		token := bearerToken(e.Request)
		if token == "" {
			return failWith(e, http.StatusUnauthorized, "Missing bearer token")
		}
		userID, err := m.auth.Authenticate(token)
		if err != nil {
			return fail(e, err)
		}
		return next(e, userID)
	}
}

func (m *middleware) requireCallbackSecret(next HandlerFunc) HandlerFunc {
	return func(e *core.RequestEvent) error {
		if m.callbackSecret == "" {
			return next(e)
		}
		got := e.Request.Header.Get(headerCallbackSecret)
		if subtle.ConstantTimeCompare([]byte(got), []byte(m.callbackSecret)) != 1 {
			return failWith(e, http.StatusUnauthorized, "Invalid callback secret")
		}
		return next(e)
	}
}
