package handlers

import (
	"net/http"

	"ticket-resale/internal/services"

	"github.com/pocketbase/pocketbase/core"
)

type AuthHandler struct {
	auth *services.AuthService
}

func (h *AuthHandler) Register(e *core.RequestEvent) error {
	var req services.RegisterRequest
	if err := e.BindBody(&req); err != nil {
		return failWith(e, http.StatusBadRequest, "Invalid request body")
	}

	pair, err := h.auth.Register(e.Request.Context(), req)
	if err != nil {
		return fail(e, err)
	}
	return e.JSON(http.StatusCreated, pair)
}

func (h *AuthHandler) Login(e *core.RequestEvent) error {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := e.BindBody(&req); err != nil {
		return failWith(e, http.StatusBadRequest, "Invalid request body")
	}

	pair, err := h.auth.Login(e.Request.Context(), req.Email, req.Password)
	if err != nil {
		return fail(e, err)
	}
	return e.JSON(http.StatusOK, pair)
}

func (h *AuthHandler) Refresh(e *core.RequestEvent) error {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := e.BindBody(&req); err != nil || req.RefreshToken == "" {
		return failWith(e, http.StatusBadRequest, "refresh_token is required")
	}

	pair, err := h.auth.Refresh(e.Request.Context(), req.RefreshToken)
	if err != nil {
		return fail(e, err)
	}
	return e.JSON(http.StatusOK, pair)
}
