package handlers

import (
	"net/http"
	"strconv"

	"ticket-resale/internal/services"
	"ticket-resale/internal/services/gateway"
	"ticket-resale/models"

	"github.com/pocketbase/pocketbase/core"
)

type PaymentHandler struct {
	payments *services.PaymentService
}

func (h *PaymentHandler) Process(e *core.RequestEvent, userID int64) error {
	id, err := pathID(e, "id")
	if err != nil {
		return fail(e, err)
	}

	var req struct {
		PaymentData models.PaymentData `json:"payment_data"`
	}
	if e.Request.ContentLength != 0 {
		if err := e.BindBody(&req); err != nil {
			return failWith(e, http.StatusBadRequest, "Invalid request body")
		}
	}

	out, err := h.payments.Process(e.Request.Context(), userID, id, req.PaymentData)
	if err != nil {
		return fail(e, err)
	}
	return e.JSON(http.StatusOK, out)
}

func queryInt(e *core.RequestEvent, name string, def int) int {
	v, err := strconv.Atoi(e.Request.URL.Query().Get(name))
	if err != nil {
		return def
	}
	return v
}

func (h *PaymentHandler) History(e *core.RequestEvent, userID int64) error {
	limit := queryInt(e, "limit", services.DefaultHistoryLimit)
	offset := queryInt(e, "offset", 0)

	page, err := h.payments.History(e.Request.Context(), userID, limit, offset)
	if err != nil {
		return fail(e, err)
	}
	return e.JSON(http.StatusOK, page)
}

func (h *PaymentHandler) Statistics(e *core.RequestEvent, userID int64) error {
	st, err := h.payments.Statistics(e.Request.Context(), userID)
	if err != nil {
		return fail(e, err)
	}
	return e.JSON(http.StatusOK, st)
}

// MomoIPN receives the provider's payment result. The provider only needs
// a 204 to stop retrying.
func (h *PaymentHandler) MomoIPN(e *core.RequestEvent) error {
	var ipn gateway.IPN
	if err := e.BindBody(&ipn); err != nil {
		return failWith(e, http.StatusBadRequest, "Invalid request body")
	}
	if err := h.payments.HandleMomoIPN(e.Request.Context(), &ipn); err != nil {
		return fail(e, err)
	}
	return e.NoContent(http.StatusNoContent)
}
