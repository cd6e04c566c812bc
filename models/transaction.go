package models

import (
	"fmt"
	"time"

	"ticket-resale/internal/status"

	"github.com/shopspring/decimal"
)

type TransactionStatus string

const (
	TransactionPending   TransactionStatus = "pending"
	TransactionSuccess   TransactionStatus = "success"
	TransactionFailed    TransactionStatus = "failed"
	TransactionCancelled TransactionStatus = "cancelled"
)

// IsTerminal reports whether no further transition is allowed.
func (s TransactionStatus) IsTerminal() bool {
	switch s {
	case TransactionSuccess, TransactionFailed, TransactionCancelled:
		return true
	}
	return false
}

func (s TransactionStatus) Valid() bool {
	return s == TransactionPending || s.IsTerminal()
}

// CanTransition reports whether from -> to is a legal lifecycle step.
// Only pending may move, and only into a terminal status.
func CanTransition(from, to TransactionStatus) bool {
	return from == TransactionPending && to.IsTerminal()
}

type Transaction struct {
	ID            int64             `json:"transaction_id"`
	TicketID      int64             `json:"ticket_id"`
	BuyerID       int64             `json:"buyer_id"`
	SellerID      int64             `json:"seller_id"`
	PaymentMethod Method            `json:"payment_method"`
	Amount        decimal.Decimal   `json:"amount"`
	Status        TransactionStatus `json:"status"`
	Reference     string            `json:"reference,omitempty"`
	ErrorMessage  string            `json:"error_message,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	ResolvedAt    *time.Time        `json:"resolved_at,omitempty"`
}

// Resolve moves a pending transaction into a terminal status.
func (t *Transaction) Resolve(to TransactionStatus, at time.Time) error {
	if !CanTransition(t.Status, to) {
		return fmt.Errorf("transaction %d %s -> %s: %w", t.ID, t.Status, to, status.ErrInvalidTransition)
	}
	t.Status = to
	t.ResolvedAt = &at
	return nil
}

// Involves reports whether the user is the buyer or the seller.
func (t *Transaction) Involves(userID int64) bool {
	return t.BuyerID == userID || t.SellerID == userID
}
