package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type TicketStatus string

const (
	TicketAvailable TicketStatus = "available"
	TicketReserved  TicketStatus = "reserved"
	TicketSold      TicketStatus = "sold"
	TicketCancelled TicketStatus = "cancelled"
)

type Ticket struct {
	ID            int64           `json:"id"`
	EventName     string          `json:"event_name"`
	EventDate     time.Time       `json:"event_date"`
	Price         decimal.Decimal `json:"price"`
	Status        TicketStatus    `json:"status"`
	OwnerID       int64           `json:"owner_id"`
	PaymentMethod Method          `json:"payment_method,omitempty"`
	ContactInfo   string          `json:"contact_info,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Editable reports whether the seller may still change or delete the ticket.
func (t *Ticket) Editable() bool {
	return t.Status == TicketAvailable
}

// TicketSnapshot is the read-only view of a ticket returned with a quote.
type TicketSnapshot struct {
	ID        int64           `json:"id"`
	EventName string          `json:"event_name"`
	Price     decimal.Decimal `json:"price"`
	EventDate *time.Time      `json:"event_date"`
}

func (t *Ticket) Snapshot() TicketSnapshot {
	s := TicketSnapshot{
		ID:        t.ID,
		EventName: t.EventName,
		Price:     t.Price,
	}
	if !t.EventDate.IsZero() {
		d := t.EventDate
		s.EventDate = &d
	}
	return s
}
