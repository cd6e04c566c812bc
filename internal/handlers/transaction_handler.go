package handlers

import (
	"net/http"

	"ticket-resale/internal/services"
	"ticket-resale/models"

	"github.com/pocketbase/pocketbase/core"
)

type TransactionHandler struct {
	transactions *services.TransactionService
}

func (h *TransactionHandler) Preview(e *core.RequestEvent, userID int64) error {
	var req struct {
		TicketID int64 `json:"ticket_id"`
	}
	if err := e.BindBody(&req); err != nil {
		return failWith(e, http.StatusBadRequest, "Invalid request body")
	}

	quote, err := h.transactions.Preview(e.Request.Context(), userID, req.TicketID)
	if err != nil {
		return fail(e, err)
	}
	return e.JSON(http.StatusOK, quote)
}

// Buy answers 400 with the failed transaction when the payment is rejected
// so that the client can offer a retry.
func (h *TransactionHandler) Buy(e *core.RequestEvent, userID int64) error {
	var req services.BuyRequest
	if err := e.BindBody(&req); err != nil {
		return failWith(e, http.StatusBadRequest, "Invalid request body")
	}

	res, err := h.transactions.Buy(e.Request.Context(), userID, req)
	if err != nil {
		return fail(e, err)
	}
	if res.Status == models.TransactionFailed {
		return e.JSON(http.StatusBadRequest, res)
	}
	return e.JSON(http.StatusOK, res)
}

func (h *TransactionHandler) Initiate(e *core.RequestEvent, userID int64) error {
	var req services.InitiateRequest
	if err := e.BindBody(&req); err != nil {
		return failWith(e, http.StatusBadRequest, "Invalid request body")
	}

	res, err := h.transactions.Initiate(e.Request.Context(), userID, req)
	if err != nil {
		return fail(e, err)
	}
	return e.JSON(http.StatusCreated, res)
}

func (h *TransactionHandler) Status(e *core.RequestEvent, userID int64) error {
	id, err := pathID(e, "id")
	if err != nil {
		return fail(e, err)
	}
	view, err := h.transactions.Status(e.Request.Context(), userID, id)
	if err != nil {
		return fail(e, err)
	}
	return e.JSON(http.StatusOK, view)
}

func (h *TransactionHandler) List(e *core.RequestEvent, userID int64) error {
	list, err := h.transactions.List(e.Request.Context(), userID)
	if err != nil {
		return fail(e, err)
	}
	if list == nil {
		list = []*models.Transaction{}
	}
	return e.JSON(http.StatusOK, map[string]any{"transactions": list, "count": len(list)})
}

func (h *TransactionHandler) Detail(e *core.RequestEvent, userID int64) error {
	id, err := pathID(e, "id")
	if err != nil {
		return fail(e, err)
	}
	detail, err := h.transactions.Detail(e.Request.Context(), userID, id)
	if err != nil {
		return fail(e, err)
	}
	return e.JSON(http.StatusOK, detail)
}

func (h *TransactionHandler) Cancel(e *core.RequestEvent, userID int64) error {
	id, err := pathID(e, "id")
	if err != nil {
		return fail(e, err)
	}
	txn, err := h.transactions.Cancel(e.Request.Context(), userID, id)
	if err != nil {
		return fail(e, err)
	}
	return e.JSON(http.StatusOK, map[string]any{"message": "Transaction cancelled", "transaction": txn})
}

func (h *TransactionHandler) Callback(e *core.RequestEvent) error {
	var req services.CallbackRequest
	if err := e.BindBody(&req); err != nil {
		return failWith(e, http.StatusBadRequest, "Invalid request body")
	}

	txn, err := h.transactions.Callback(e.Request.Context(), req)
	if err != nil {
		return fail(e, err)
	}
	return e.JSON(http.StatusOK, map[string]any{"message": "Callback processed", "transaction": txn})
}
