package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"ticket-resale/internal/status"
	"ticket-resale/internal/store"
	"ticket-resale/models"
	"ticket-resale/monitoring"

	"github.com/shopspring/decimal"
)

var errAlreadyResolved = errors.New("already resolved")

// settlement applies a terminal outcome to a transaction and everything
// hanging off it: the ticket, the ticket lock, the payments and the
// seller's earning. Every path that ends a transaction goes through it.
type settlement struct {
	store    store.Store
	notifier *Notifier
	rate     decimal.Decimal
	now      func() time.Time
}

type resolution struct {
	Status    models.TransactionStatus
	Reference string
	Message   string
	Source    string
}

// resolve returns the transaction and whether this call changed it. A
// repeat of the same terminal status is a no-op; a different terminal
// status fails with ErrConflict.
func (s *settlement) resolve(ctx context.Context, txnID int64, r resolution) (*models.Transaction, bool, error) {
	if !r.Status.IsTerminal() {
		return nil, false, invalid("status", fmt.Sprintf("%q is not a terminal status", r.Status))
	}

	now := s.now()
	txn, err := s.store.UpdateTransaction(ctx, txnID, func(t *models.Transaction) error {
		if t.Status == r.Status {
			return errAlreadyResolved
		}
		if err := t.Resolve(r.Status, now); err != nil {
			return fmt.Errorf("%w: %w", status.ErrConflict, err)
		}
		if r.Reference != "" {
			t.Reference = r.Reference
		}
		if r.Status != models.TransactionSuccess {
			t.ErrorMessage = r.Message
		}
		return nil
	})
	if errors.Is(err, errAlreadyResolved) {
		txn, err = s.store.GetTransaction(ctx, txnID)
		return txn, false, err
	}
	if err != nil {
		return nil, false, err
	}

	s.settleTicket(ctx, txn)
	s.settlePayments(ctx, txn, r.Reference, now)
	if txn.Status == models.TransactionSuccess {
		s.recordEarning(ctx, txn, now)
	}

	slog.Info("transaction resolved",
		"transaction_id", txn.ID,
		"ticket_id", txn.TicketID,
		"status", txn.Status,
		"source", r.Source,
	)
	monitoring.TrackTransaction(string(txn.PaymentMethod), string(txn.Status))
	monitoring.TrackResolution(txn.CreatedAt)
	s.notifier.TransactionResolved(txn)

	return txn, true, nil
}

func (s *settlement) settleTicket(ctx context.Context, txn *models.Transaction) {
	_, err := s.store.UpdateTicket(ctx, txn.TicketID, func(t *models.Ticket) error {
		switch txn.Status {
		case models.TransactionSuccess:
			t.Status = models.TicketSold
			t.OwnerID = txn.BuyerID
		default:
			if t.Status == models.TicketReserved {
				t.Status = models.TicketAvailable
			}
		}
		t.UpdatedAt = s.now()
		return nil
	})
	if err != nil {
		slog.Error("failed to settle ticket", "ticket_id", txn.TicketID, "transaction_id", txn.ID, "error", err)
	}

	if err := s.store.UnlockTicket(ctx, txn.TicketID); err != nil {
		slog.Error("failed to release ticket lock", "ticket_id", txn.TicketID, "error", err)
	}
}

func (s *settlement) settlePayments(ctx context.Context, txn *models.Transaction, reference string, now time.Time) {
	payments, err := s.store.ListPaymentsByTransaction(ctx, txn.ID)
	if err != nil {
		slog.Error("failed to load payments", "transaction_id", txn.ID, "error", err)
		return
	}

	target := models.PaymentStatusFor(txn.Status)
	for _, p := range payments {
		if p.Status != models.PaymentPending {
			continue
		}
		_, err := s.store.UpdatePayment(ctx, p.ID, func(p *models.Payment) error {
			if p.Status != models.PaymentPending {
				return nil
			}
			p.Status = target
			if reference != "" {
				p.Reference = reference
			}
			if target == models.PaymentSuccess {
				p.PaidAt = &now
			}
			return nil
		})
		if err != nil {
			slog.Error("failed to settle payment", "payment_id", p.ID, "error", err)
		}
	}
}

func (s *settlement) recordEarning(ctx context.Context, txn *models.Transaction, now time.Time) {
	b := models.CalculateEarnings(txn.Amount, s.rate)
	earning := &models.Earning{
		SellerID:      txn.SellerID,
		TransactionID: txn.ID,
		Gross:         b.TransactionAmount,
		Commission:    b.CommissionAmount,
		Net:           b.SellerEarnings,
		CreatedAt:     now,
	}
	if err := s.store.CreateEarning(ctx, earning); err != nil {
		slog.Error("failed to record earning", "transaction_id", txn.ID, "error", err)
	}
}
