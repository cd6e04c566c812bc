package services

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"ticket-resale/internal/status"
	"ticket-resale/internal/store"
	"ticket-resale/models"
	"ticket-resale/utils"
)

const minPasswordLength = 8

type AuthConfig struct {
	Secret     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

type AuthService struct {
	store store.Store
	cfg   AuthConfig
}

func NewAuthService(s store.Store, cfg AuthConfig) *AuthService {
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = 15 * time.Minute
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = 7 * 24 * time.Hour
	}
	return &AuthService{store: s, cfg: cfg}
}

type TokenPair struct {
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token"`
	TokenType    string       `json:"token_type"`
	ExpiresIn    int64        `json:"expires_in"`
	User         *models.User `json:"user,omitempty"`
}

type RegisterRequest struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Password string `json:"password"`
}

func (r *RegisterRequest) Validate() map[string]string {
	fields := map[string]string{}
	if _, err := mail.ParseAddress(strings.TrimSpace(r.Email)); err != nil {
		fields["email"] = "a valid email address is required"
	}
	if strings.TrimSpace(r.Name) == "" {
		fields["name"] = "name is required"
	}
	if len(r.Password) < minPasswordLength {
		fields["password"] = fmt.Sprintf("password must be at least %d characters", minPasswordLength)
	}
	return fields
}

func (s *AuthService) Register(ctx context.Context, req RegisterRequest) (*TokenPair, error) {
	if fields := req.Validate(); len(fields) > 0 {
		return nil, &ValidationError{Fields: fields}
	}

	hash, err := utils.GenerateHash(req.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := &models.User{
		Email:        strings.ToLower(strings.TrimSpace(req.Email)),
		Name:         strings.TrimSpace(req.Name),
		PasswordHash: hash,
		CreatedAt:    time.Now(),
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return nil, err
	}

	return s.issue(user)
}

func (s *AuthService) Login(ctx context.Context, email, password string) (*TokenPair, error) {
	user, err := s.store.GetUserByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		if errors.Is(err, status.ErrNotFound) {
			return nil, fmt.Errorf("invalid email or password: %w", status.ErrAuth)
		}
		return nil, err
	}
	if !utils.CompareHash(user.PasswordHash, password) {
		return nil, fmt.Errorf("invalid email or password: %w", status.ErrAuth)
	}
	return s.issue(user)
}

// Refresh trades a refresh token for a new pair. Access tokens are refused.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	claims, err := utils.ValidateToken(s.cfg.Secret, refreshToken, utils.TokenRefresh)
	if err != nil {
		return nil, fmt.Errorf("invalid refresh token: %v: %w", err, status.ErrAuth)
	}
	user, err := s.store.GetUser(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, status.ErrNotFound) {
			return nil, fmt.Errorf("user no longer exists: %w", status.ErrAuth)
		}
		return nil, err
	}
	return s.issue(user)
}

// Authenticate resolves a bearer access token to its user id.
func (s *AuthService) Authenticate(accessToken string) (int64, error) {
	claims, err := utils.ValidateToken(s.cfg.Secret, accessToken, utils.TokenAccess)
	if err != nil {
		return 0, fmt.Errorf("%v: %w", err, status.ErrAuth)
	}
	return claims.UserID, nil
}

func (s *AuthService) issue(user *models.User) (*TokenPair, error) {
	access, err := utils.CreateToken(s.cfg.Secret, user.ID, utils.TokenAccess, s.cfg.AccessTTL)
	if err != nil {
		return nil, err
	}
	refresh, err := utils.CreateToken(s.cfg.Secret, user.ID, utils.TokenRefresh, s.cfg.RefreshTTL)
	if err != nil {
		return nil, err
	}
	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresIn:    int64(s.cfg.AccessTTL.Seconds()),
		User:         user,
	}, nil
}
