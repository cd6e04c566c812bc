package client

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"ticket-resale/internal/status"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// Session holds the credentials of one logged-in user. It is passed
// explicitly to every call; only the Refresher changes it.
type Session struct {
	mu           sync.RWMutex
	accessToken  string
	refreshToken string
	userID       int64
}

func NewSession(accessToken, refreshToken string) *Session {
	return &Session{accessToken: accessToken, refreshToken: refreshToken}
}

func (s *Session) AccessToken() string {
	if s == nil {
		return ""
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.accessToken
}

func (s *Session) RefreshToken() string {
	if s == nil {
		return ""
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.refreshToken
}

func (s *Session) UserID() int64 {
	if s == nil {
		return 0
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userID
}

func (s *Session) LoggedIn() bool {
	return s.AccessToken() != ""
}

func (s *Session) set(pair *TokenPair) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accessToken = pair.AccessToken
	s.refreshToken = pair.RefreshToken
	if pair.User != nil {
		s.userID = pair.User.ID
	}
}

func (s *Session) clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accessToken = ""
	s.refreshToken = ""
	s.userID = 0
}

// Refresher trades the refresh token for a new pair. Concurrent callers
// that saw the same stale token share a single refresh.
type Refresher struct {
	http   *resty.Client
	logger *zap.Logger
	mu     sync.Mutex
}

func (r *Refresher) Refresh(ctx context.Context, s *Session, stale string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current := s.AccessToken(); current != "" && current != stale {
		return nil
	}

	refreshToken := s.RefreshToken()
	if refreshToken == "" {
		s.clear()
		return &AuthError{ForcedLogout: true, Message: "session expired, please log in again"}
	}

	var pair TokenPair
	resp, err := r.http.R().
		SetContext(ctx).
		SetBody(map[string]string{"refresh_token": refreshToken}).
		SetResult(&pair).
		Post("/api/auth/refresh")
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("refresh session: %v: %w", err, status.ErrTransientNetwork)
	}
	if code := resp.StatusCode(); code == http.StatusTooManyRequests || code >= 500 {
		return fmt.Errorf("refresh session: server answered %d: %w", code, status.ErrTransientNetwork)
	}
	if resp.IsError() || pair.AccessToken == "" {
		r.logger.Warn("session refresh rejected, logging out", zap.Int("status", resp.StatusCode()))
		s.clear()
		return &AuthError{ForcedLogout: true, Message: "session expired, please log in again"}
	}

	s.set(&pair)
	r.logger.Debug("session refreshed")
	return nil
}
