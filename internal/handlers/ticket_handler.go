package handlers

import (
	"fmt"
	"net/http"
	"strconv"

	"ticket-resale/internal/services"
	"ticket-resale/internal/status"

	"github.com/pocketbase/pocketbase/core"
)

type TicketHandler struct {
	tickets *services.TicketService
}

func pathID(e *core.RequestEvent, name string) (int64, error) {
	raw := e.Request.PathValue(name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%s %q is not a valid id: %w", name, raw, status.ErrValidation)
	}
	return id, nil
}

// List returns the tickets other users have put up for sale.
func (h *TicketHandler) List(e *core.RequestEvent, userID int64) error {
	tickets, err := h.tickets.ListAvailable(e.Request.Context(), userID)
	if err != nil {
		return fail(e, err)
	}
	return e.JSON(http.StatusOK, map[string]any{"tickets": tickets, "count": len(tickets)})
}

func (h *TicketHandler) ListMine(e *core.RequestEvent, userID int64) error {
	tickets, err := h.tickets.ListOwned(e.Request.Context(), userID)
	if err != nil {
		return fail(e, err)
	}
	return e.JSON(http.StatusOK, map[string]any{"tickets": tickets, "count": len(tickets)})
}

func (h *TicketHandler) Get(e *core.RequestEvent, _ int64) error {
	id, err := pathID(e, "id")
	if err != nil {
		return fail(e, err)
	}
	ticket, err := h.tickets.Get(e.Request.Context(), id)
	if err != nil {
		return fail(e, err)
	}
	return e.JSON(http.StatusOK, ticket)
}

func (h *TicketHandler) Create(e *core.RequestEvent, userID int64) error {
	var in services.TicketInput
	if err := e.BindBody(&in); err != nil {
		return failWith(e, http.StatusBadRequest, "Invalid request body")
	}
	ticket, err := h.tickets.Create(e.Request.Context(), userID, in)
	if err != nil {
		return fail(e, err)
	}
	return e.JSON(http.StatusCreated, ticket)
}

func (h *TicketHandler) Update(e *core.RequestEvent, userID int64) error {
	id, err := pathID(e, "id")
	if err != nil {
		return fail(e, err)
	}
	var in services.TicketInput
	if err := e.BindBody(&in); err != nil {
		return failWith(e, http.StatusBadRequest, "Invalid request body")
	}
	ticket, err := h.tickets.Update(e.Request.Context(), userID, id, in)
	if err != nil {
		return fail(e, err)
	}
	return e.JSON(http.StatusOK, ticket)
}

func (h *TicketHandler) Delete(e *core.RequestEvent, userID int64) error {
	id, err := pathID(e, "id")
	if err != nil {
		return fail(e, err)
	}
	if err := h.tickets.Delete(e.Request.Context(), userID, id); err != nil {
		return fail(e, err)
	}
	return e.NoContent(http.StatusNoContent)
}
