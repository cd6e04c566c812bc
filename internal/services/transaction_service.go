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

type TransactionService struct {
	store     store.Store
	processor *Processor
	payments  *PaymentService
	settle    *settlement
	rate      decimal.Decimal
	now       func() time.Time
}

// NewTransactionService shares the processor and settlement of payments so
// that every resolution path behaves the same.
func NewTransactionService(s store.Store, payments *PaymentService) *TransactionService {
	return &TransactionService{
		store:     s,
		processor: payments.processor,
		payments:  payments,
		settle:    payments.settle,
		rate:      payments.settle.rate,
		now:       time.Now,
	}
}

// Quote is the read-only preview of a purchase.
type Quote struct {
	Ticket   models.TicketSnapshot    `json:"ticket"`
	Earnings models.EarningsBreakdown `json:"earnings_breakdown"`
	Methods  []models.Method          `json:"available_payment_methods"`
	Message  string                   `json:"message"`
}

func (s *TransactionService) Preview(ctx context.Context, buyerID, ticketID int64) (*Quote, error) {
	if ticketID <= 0 {
		return nil, invalid("ticket_id", "ticket_id must be a positive integer")
	}

	ticket, err := s.store.GetTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if err := checkPurchasable(ticket, buyerID); err != nil {
		return nil, err
	}

	return &Quote{
		Ticket:   ticket.Snapshot(),
		Earnings: models.CalculateEarnings(ticket.Price, s.rate),
		Methods:  s.processor.AvailableMethods(),
		Message:  "Transaction preview generated successfully",
	}, nil
}

func checkPurchasable(ticket *models.Ticket, buyerID int64) error {
	if ticket.Status != models.TicketAvailable {
		return fmt.Errorf("ticket %d is %s: %w", ticket.ID, ticket.Status, status.ErrConflict)
	}
	if ticket.OwnerID == buyerID {
		return invalid("ticket_id", "you cannot buy your own ticket")
	}
	return nil
}

type BuyRequest struct {
	TicketID      int64              `json:"ticket_id"`
	PaymentMethod models.Method      `json:"payment_method"`
	PaymentData   models.PaymentData `json:"payment_data"`
}

type BuyResult struct {
	Status           models.TransactionStatus `json:"status"`
	TransactionID    int64                    `json:"transaction_id"`
	PaymentID        int64                    `json:"payment_id"`
	TicketID         int64                    `json:"ticket_id,omitempty"`
	TotalAmount      *decimal.Decimal         `json:"total_amount,omitempty"`
	SellerEarnings   *decimal.Decimal         `json:"seller_earnings,omitempty"`
	CommissionAmount *decimal.Decimal         `json:"commission_amount,omitempty"`
	PaymentURL       string                   `json:"payment_url,omitempty"`
	Message          string                   `json:"message"`
}

// Buy reserves the ticket, opens a transaction and processes its payment in
// one call. A rejected payment is reported in the result, not as an error.
func (s *TransactionService) Buy(ctx context.Context, buyerID int64, req BuyRequest) (*BuyResult, error) {
	txn, payment, err := s.open(ctx, buyerID, req.TicketID, req.PaymentMethod)
	if err != nil {
		return nil, err
	}

	outcome, err := s.payments.process(ctx, payment, req.PaymentData)
	if err != nil {
		return nil, err
	}

	res := &BuyResult{
		TransactionID: txn.ID,
		PaymentID:     payment.ID,
		Message:       outcome.Message,
	}
	switch outcome.Status {
	case models.PaymentSuccess:
		b := models.CalculateEarnings(txn.Amount, s.rate)
		res.Status = models.TransactionSuccess
		res.TicketID = txn.TicketID
		res.TotalAmount = &b.TransactionAmount
		res.SellerEarnings = &b.SellerEarnings
		res.CommissionAmount = &b.CommissionAmount
		res.Message = "Ticket purchased successfully"
	case models.PaymentPending:
		res.Status = models.TransactionPending
		res.PaymentURL = outcome.PaymentURL
	default:
		res.Status = models.TransactionFailed
	}
	return res, nil
}

type InitiateRequest struct {
	TicketID      int64              `json:"ticket_id"`
	PaymentMethod models.Method      `json:"payment_method"`
	Amount        decimal.Decimal    `json:"amount"`
	PaymentData   models.PaymentData `json:"payment_data"`
}

type InitiateResult struct {
	TransactionID int64                    `json:"transaction_id"`
	PaymentID     int64                    `json:"payment_id"`
	Status        models.TransactionStatus `json:"status"`
	RedirectURL   string                   `json:"redirect_url"`
	Message       string                   `json:"message"`
}

// Initiate opens a pending transaction whose payment is executed later via
// the redirect URL.
func (s *TransactionService) Initiate(ctx context.Context, buyerID int64, req InitiateRequest) (*InitiateResult, error) {
	ticket, err := s.store.GetTicket(ctx, req.TicketID)
	if err != nil {
		return nil, err
	}
	if !req.Amount.Equal(ticket.Price) {
		return nil, invalid("amount", fmt.Sprintf("amount must equal the ticket price %s", ticket.Price.StringFixed(2)))
	}

	txn, payment, err := s.open(ctx, buyerID, req.TicketID, req.PaymentMethod)
	if err != nil {
		return nil, err
	}

	return &InitiateResult{
		TransactionID: txn.ID,
		PaymentID:     payment.ID,
		Status:        txn.Status,
		RedirectURL:   fmt.Sprintf("/api/payments/%d/process", payment.ID),
		Message:       "Transaction initiated",
	}, nil
}

// open validates the purchase, takes the ticket lock and creates the
// pending transaction with its primary payment.
func (s *TransactionService) open(ctx context.Context, buyerID, ticketID int64, method models.Method) (*models.Transaction, *models.Payment, error) {
	if ticketID <= 0 {
		return nil, nil, invalid("ticket_id", "ticket_id must be a positive integer")
	}
	method, _ = models.NormalizeMethod(method, nil)
	if !method.Canonical() {
		return nil, nil, invalid("payment_method", fmt.Sprintf("unsupported payment method %q", method))
	}
	if !s.processor.Supports(method) {
		return nil, nil, invalid("payment_method", fmt.Sprintf("payment method %q is not available", method))
	}

	ticket, err := s.store.GetTicket(ctx, ticketID)
	if err != nil {
		return nil, nil, err
	}
	if err := checkPurchasable(ticket, buyerID); err != nil {
		return nil, nil, err
	}

	txnID, err := s.store.NextID(ctx, store.KindTransaction)
	if err != nil {
		return nil, nil, err
	}
	if err := s.store.LockTicket(ctx, ticketID, txnID); err != nil {
		return nil, nil, err
	}

	now := s.now()
	ticket, err = s.store.UpdateTicket(ctx, ticketID, func(t *models.Ticket) error {
		if t.Status != models.TicketAvailable {
			return fmt.Errorf("ticket %d is %s: %w", t.ID, t.Status, status.ErrConflict)
		}
		t.Status = models.TicketReserved
		t.UpdatedAt = now
		return nil
	})
	if err != nil {
		if uerr := s.store.UnlockTicket(ctx, ticketID); uerr != nil {
			slog.Error("failed to release ticket lock", "ticket_id", ticketID, "error", uerr)
		}
		return nil, nil, err
	}

	txn := &models.Transaction{
		ID:            txnID,
		TicketID:      ticket.ID,
		BuyerID:       buyerID,
		SellerID:      ticket.OwnerID,
		PaymentMethod: method,
		Amount:        ticket.Price,
		Status:        models.TransactionPending,
		CreatedAt:     now,
	}
	if err := s.store.CreateTransaction(ctx, txn); err != nil {
		s.release(ctx, ticketID)
		return nil, nil, err
	}

	payment := &models.Payment{
		TransactionID: txn.ID,
		UserID:        buyerID,
		Method:        method,
		Amount:        txn.Amount,
		Status:        models.PaymentPending,
		Title:         fmt.Sprintf("Ticket #%d - %s", ticket.ID, ticket.EventName),
		CreatedAt:     now,
	}
	if err := s.store.CreatePayment(ctx, payment); err != nil {
		if _, _, rerr := s.settle.resolve(ctx, txn.ID, resolution{Status: models.TransactionFailed, Message: "payment record could not be created", Source: "initiate"}); rerr != nil {
			slog.Error("failed to fail transaction", "transaction_id", txn.ID, "error", rerr)
		}
		return nil, nil, err
	}

	slog.Info("transaction opened", "transaction_id", txn.ID, "ticket_id", ticket.ID, "buyer_id", buyerID, "method", method)
	monitoring.TrackTransaction(string(method), string(models.TransactionPending))
	return txn, payment, nil
}

func (s *TransactionService) release(ctx context.Context, ticketID int64) {
	_, err := s.store.UpdateTicket(ctx, ticketID, func(t *models.Ticket) error {
		if t.Status == models.TicketReserved {
			t.Status = models.TicketAvailable
		}
		return nil
	})
	if err != nil {
		slog.Error("failed to release ticket", "ticket_id", ticketID, "error", err)
	}
	if err := s.store.UnlockTicket(ctx, ticketID); err != nil {
		slog.Error("failed to release ticket lock", "ticket_id", ticketID, "error", err)
	}
}

type CallbackRequest struct {
	TransactionID        int64                    `json:"transaction_id"`
	Status               models.TransactionStatus `json:"status"`
	PaymentTransactionID string                   `json:"payment_transaction_id"`
	ErrorMessage         string                   `json:"error_message"`
}

// Callback applies a gateway result delivered out of band. Pending is
// acknowledged without change.
func (s *TransactionService) Callback(ctx context.Context, req CallbackRequest) (*models.Transaction, error) {
	if req.TransactionID <= 0 {
		return nil, invalid("transaction_id", "transaction_id is required")
	}
	if !req.Status.Valid() {
		return nil, invalid("status", fmt.Sprintf("unknown status %q", req.Status))
	}

	if req.Status == models.TransactionPending {
		monitoring.TrackCallback("generic", string(req.Status))
		return s.store.GetTransaction(ctx, req.TransactionID)
	}

	txn, _, err := s.settle.resolve(ctx, req.TransactionID, resolution{
		Status:    req.Status,
		Reference: req.PaymentTransactionID,
		Message:   req.ErrorMessage,
		Source:    "callback",
	})
	if err != nil {
		return nil, err
	}
	monitoring.TrackCallback("generic", string(req.Status))
	return txn, nil
}

// StatusView is what the status endpoint returns to a polling client.
type StatusView struct {
	*models.Transaction
	Earnings *models.EarningsBreakdown `json:"earnings,omitempty"`
}

func (s *TransactionService) Status(ctx context.Context, userID, txnID int64) (*StatusView, error) {
	txn, err := s.visible(ctx, userID, txnID)
	if err != nil {
		return nil, err
	}

	view := &StatusView{Transaction: txn}
	if txn.Status == models.TransactionSuccess {
		b := models.CalculateEarnings(txn.Amount, s.rate)
		view.Earnings = &b
	}
	return view, nil
}

func (s *TransactionService) visible(ctx context.Context, userID, txnID int64) (*models.Transaction, error) {
	txn, err := s.store.GetTransaction(ctx, txnID)
	if err != nil {
		return nil, err
	}
	if !txn.Involves(userID) {
		return nil, fmt.Errorf("transaction %d: %w", txnID, status.ErrForbidden)
	}
	return txn, nil
}

func (s *TransactionService) List(ctx context.Context, userID int64) ([]*models.Transaction, error) {
	return s.store.ListTransactionsByUser(ctx, userID)
}

type TransactionDetail struct {
	*models.Transaction
	Payments []*models.Payment `json:"payments"`
}

func (s *TransactionService) Detail(ctx context.Context, userID, txnID int64) (*TransactionDetail, error) {
	txn, err := s.visible(ctx, userID, txnID)
	if err != nil {
		return nil, err
	}
	payments, err := s.store.ListPaymentsByTransaction(ctx, txnID)
	if err != nil {
		return nil, err
	}
	return &TransactionDetail{Transaction: txn, Payments: payments}, nil
}

// Cancel lets the buyer abandon a pending transaction and release the ticket.
func (s *TransactionService) Cancel(ctx context.Context, userID, txnID int64) (*models.Transaction, error) {
	txn, err := s.visible(ctx, userID, txnID)
	if err != nil {
		return nil, err
	}
	if txn.BuyerID != userID {
		return nil, fmt.Errorf("only the buyer can cancel transaction %d: %w", txnID, status.ErrForbidden)
	}
	if txn.Status != models.TransactionPending {
		return nil, fmt.Errorf("transaction %d is already %s: %w", txnID, txn.Status, status.ErrConflict)
	}

	txn, _, err = s.settle.resolve(ctx, txnID, resolution{
		Status:  models.TransactionCancelled,
		Message: "cancelled by buyer",
		Source:  "buyer",
	})
	return txn, err
}

// ExpirePending cancels pending transactions created before now-ttl and
// returns how many were cancelled.
func (s *TransactionService) ExpirePending(ctx context.Context, ttl time.Duration) (int, error) {
	pending, err := s.store.ListPendingTransactions(ctx)
	if err != nil {
		return 0, err
	}

	cutoff := s.now().Add(-ttl)
	expired := 0
	for _, txn := range pending {
		if txn.CreatedAt.After(cutoff) {
			continue
		}
		_, changed, err := s.settle.resolve(ctx, txn.ID, resolution{
			Status:  models.TransactionCancelled,
			Message: "payment not completed in time",
			Source:  "reaper",
		})
		if err != nil {
			// resolved concurrently by a callback
			if errors.Is(err, status.ErrConflict) {
				continue
			}
			return expired, err
		}
		if changed {
			expired++
		}
	}
	return expired, nil
}

// CountPending implements monitoring.PendingCounter.
func (s *TransactionService) CountPending(ctx context.Context) (int, error) {
	pending, err := s.store.ListPendingTransactions(ctx)
	if err != nil {
		return 0, err
	}
	return len(pending), nil
}
