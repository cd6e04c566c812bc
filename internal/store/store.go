// Package store persists the marketplace records. MemoryStore backs tests and
// single-process deployments; RedisStore is used whenever REDIS_URL is set.
package store

import (
	"context"
	"fmt"

	"ticket-resale/internal/status"
	"ticket-resale/models"
)

const (
	KindUser        = "user"
	KindTicket      = "ticket"
	KindTransaction = "transaction"
	KindPayment     = "payment"
	KindEarning     = "earning"
)

type TicketFilter struct {
	Status       models.TicketStatus
	OwnerID      int64
	ExcludeOwner int64
}

func (f TicketFilter) match(t *models.Ticket) bool {
	if f.Status != "" && t.Status != f.Status {
		return false
	}
	if f.OwnerID != 0 && t.OwnerID != f.OwnerID {
		return false
	}
	if f.ExcludeOwner != 0 && t.OwnerID == f.ExcludeOwner {
		return false
	}
	return true
}

// Store is the persistence contract of the backend services.
//
// Update* run fn against the current record and persist the result
// atomically; an error from fn aborts the write and is returned as is.
// Create* assign an id from NextID when the record has none.
// List* of transactions, payments and earnings return newest first.
type Store interface {
	NextID(ctx context.Context, kind string) (int64, error)

	CreateUser(ctx context.Context, u *models.User) error
	GetUser(ctx context.Context, id int64) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)

	CreateTicket(ctx context.Context, t *models.Ticket) error
	GetTicket(ctx context.Context, id int64) (*models.Ticket, error)
	UpdateTicket(ctx context.Context, id int64, fn func(*models.Ticket) error) (*models.Ticket, error)
	DeleteTicket(ctx context.Context, id int64) error
	ListTickets(ctx context.Context, filter TicketFilter) ([]*models.Ticket, error)

	// LockTicket marks the ticket as held by a non-terminal transaction.
	// It fails with status.ErrConflict while another transaction holds it.
	LockTicket(ctx context.Context, ticketID, transactionID int64) error
	UnlockTicket(ctx context.Context, ticketID int64) error

	CreateTransaction(ctx context.Context, t *models.Transaction) error
	GetTransaction(ctx context.Context, id int64) (*models.Transaction, error)
	UpdateTransaction(ctx context.Context, id int64, fn func(*models.Transaction) error) (*models.Transaction, error)
	ListTransactionsByUser(ctx context.Context, userID int64) ([]*models.Transaction, error)
	ListPendingTransactions(ctx context.Context) ([]*models.Transaction, error)

	CreatePayment(ctx context.Context, p *models.Payment) error
	GetPayment(ctx context.Context, id int64) (*models.Payment, error)
	UpdatePayment(ctx context.Context, id int64, fn func(*models.Payment) error) (*models.Payment, error)
	ListPaymentsByUser(ctx context.Context, userID int64) ([]*models.Payment, error)
	ListPaymentsByTransaction(ctx context.Context, transactionID int64) ([]*models.Payment, error)

	CreateEarning(ctx context.Context, e *models.Earning) error
	ListEarningsBySeller(ctx context.Context, sellerID int64) ([]*models.Earning, error)
}

func notFound(kind string, id any) error {
	return fmt.Errorf("%s %v: %w", kind, id, status.ErrNotFound)
}
