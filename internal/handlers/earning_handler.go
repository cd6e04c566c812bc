package handlers

import (
	"net/http"

	"ticket-resale/internal/services"

	"github.com/pocketbase/pocketbase/core"
)

type EarningHandler struct {
	earnings *services.EarningService
}

func (h *EarningHandler) Summary(e *core.RequestEvent, userID int64) error {
	sum, err := h.earnings.Summary(e.Request.Context(), userID)
	if err != nil {
		return fail(e, err)
	}
	return e.JSON(http.StatusOK, sum)
}
