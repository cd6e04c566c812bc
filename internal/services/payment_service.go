package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"ticket-resale/internal/services/gateway"
	"ticket-resale/internal/status"
	"ticket-resale/internal/store"
	"ticket-resale/models"
	"ticket-resale/monitoring"

	"github.com/shopspring/decimal"
)

const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 100
)

// IPNVerifier checks the signature of a provider notification.
type IPNVerifier interface {
	VerifyIPN(n *gateway.IPN) bool
}

type PaymentService struct {
	store     store.Store
	processor *Processor
	settle    *settlement
	momo      IPNVerifier
}

func NewPaymentService(s store.Store, processor *Processor, notifier *Notifier, rate decimal.Decimal, momo IPNVerifier) *PaymentService {
	if rate.IsZero() {
		rate = models.DefaultCommissionRate
	}
	return &PaymentService{
		store:     s,
		processor: processor,
		settle:    &settlement{store: s, notifier: notifier, rate: rate, now: time.Now},
		momo:      momo,
	}
}

type ProcessOutcome struct {
	PaymentID     int64                `json:"payment_id"`
	TransactionID int64                `json:"transaction_id"`
	Status        models.PaymentStatus `json:"status"`
	Message       string               `json:"message"`
	Reference     string               `json:"transaction_reference,omitempty"`
	PaymentURL    string               `json:"payment_url,omitempty"`
}

// Process executes a pending payment owned by userID.
func (s *PaymentService) Process(ctx context.Context, userID, paymentID int64, data models.PaymentData) (*ProcessOutcome, error) {
	payment, err := s.store.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if payment.UserID != userID {
		return nil, fmt.Errorf("payment %d belongs to another user: %w", paymentID, status.ErrForbidden)
	}
	if payment.Status != models.PaymentPending {
		return nil, fmt.Errorf("payment is already %s: %w", payment.Status, status.ErrConflict)
	}
	return s.process(ctx, payment, data)
}

func (s *PaymentService) process(ctx context.Context, payment *models.Payment, data models.PaymentData) (*ProcessOutcome, error) {
	result, err := s.processor.Process(ctx, payment, data)
	if err != nil {
		slog.Error("payment processor error", "payment_id", payment.ID, "method", payment.Method, "error", err)
		result = failed("Payment processing failed")
	}
	monitoring.TrackPayment(string(payment.Method), string(result.Status))

	switch result.Status {
	case models.PaymentSuccess, models.PaymentFailed:
		to := models.TransactionSuccess
		if result.Status == models.PaymentFailed {
			to = models.TransactionFailed
		}
		_, _, err := s.settle.resolve(ctx, payment.TransactionID, resolution{
			Status:    to,
			Reference: result.Reference,
			Message:   result.Message,
			Source:    "process",
		})
		if err != nil {
			return nil, err
		}
	default:
		_, err := s.store.UpdatePayment(ctx, payment.ID, func(p *models.Payment) error {
			p.Reference = result.Reference
			p.PaymentURL = result.PaymentURL
			return nil
		})
		if err != nil {
			return nil, err
		}
		if result.Reference != "" {
			_, err := s.store.UpdateTransaction(ctx, payment.TransactionID, func(t *models.Transaction) error {
				if t.Status == models.TransactionPending {
					t.Reference = result.Reference
				}
				return nil
			})
			if err != nil {
				slog.Error("failed to record transaction reference", "transaction_id", payment.TransactionID, "error", err)
			}
		}
	}

	slog.Info("payment processed", "payment_id", payment.ID, "status", result.Status)
	return &ProcessOutcome{
		PaymentID:     payment.ID,
		TransactionID: payment.TransactionID,
		Status:        result.Status,
		Message:       result.Message,
		Reference:     result.Reference,
		PaymentURL:    result.PaymentURL,
	}, nil
}

// HandleMomoIPN settles the transaction behind a provider notification.
// Notifications for already settled transactions are acknowledged.
func (s *PaymentService) HandleMomoIPN(ctx context.Context, ipn *gateway.IPN) error {
	if s.momo == nil {
		return fmt.Errorf("momo gateway is not configured: %w", status.ErrNotFound)
	}
	if !s.momo.VerifyIPN(ipn) {
		monitoring.TrackCallback("momo", "invalid_signature")
		return invalid("signature", "invalid signature")
	}

	paymentID, err := ipn.PaymentID()
	if err != nil {
		return err
	}
	payment, err := s.store.GetPayment(ctx, paymentID)
	if err != nil {
		return err
	}

	to := models.TransactionFailed
	if ipn.Succeeded() {
		if paid := decimal.NewFromInt(ipn.Amount); !paid.Equal(payment.Amount) {
			slog.Error("momo ipn amount mismatch",
				"payment_id", paymentID, "expected", payment.Amount.String(), "paid", paid.String())
			monitoring.TrackCallback("momo", "amount_mismatch")
			return invalid("amount", "amount does not match payment")
		}
		to = models.TransactionSuccess
	}

	_, changed, err := s.settle.resolve(ctx, payment.TransactionID, resolution{
		Status:    to,
		Reference: strconv.FormatInt(ipn.TransID, 10),
		Message:   ipn.Message,
		Source:    "momo",
	})
	if errors.Is(err, status.ErrConflict) {
		slog.Warn("momo ipn for settled transaction ignored",
			"payment_id", paymentID, "transaction_id", payment.TransactionID, "result_code", ipn.ResultCode)
		monitoring.TrackCallback("momo", "ignored")
		return nil
	}
	if err != nil {
		return err
	}
	if !changed {
		slog.Info("duplicate momo ipn", "payment_id", paymentID)
	}
	monitoring.TrackCallback("momo", string(to))
	return nil
}

type PaymentHistory struct {
	Payments   []*models.Payment `json:"payments"`
	TotalCount int               `json:"total_count"`
	Limit      int               `json:"limit"`
	Offset     int               `json:"offset"`
	HasMore    bool              `json:"has_more"`
}

func (s *PaymentService) History(ctx context.Context, userID int64, limit, offset int) (*PaymentHistory, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}
	if offset < 0 {
		offset = 0
	}

	all, err := s.store.ListPaymentsByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	page := []*models.Payment{}
	if offset < len(all) {
		end := min(offset+limit, len(all))
		page = all[offset:end]
	}

	return &PaymentHistory{
		Payments:   page,
		TotalCount: len(all),
		Limit:      limit,
		Offset:     offset,
		HasMore:    offset+limit < len(all),
	}, nil
}

type MethodStats struct {
	Count       int             `json:"count"`
	TotalAmount decimal.Decimal `json:"total_amount"`
}

type PaymentStatistics struct {
	TotalPayments      int                           `json:"total_payments"`
	SuccessfulPayments int                           `json:"successful_payments"`
	FailedPayments     int                           `json:"failed_payments"`
	PendingPayments    int                           `json:"pending_payments"`
	CancelledPayments  int                           `json:"cancelled_payments"`
	TotalAmount        decimal.Decimal               `json:"total_amount"`
	SuccessRate        decimal.Decimal               `json:"success_rate"`
	ByMethod           map[models.Method]MethodStats `json:"by_method"`
}

func (s *PaymentService) Statistics(ctx context.Context, userID int64) (*PaymentStatistics, error) {
	payments, err := s.store.ListPaymentsByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	st := &PaymentStatistics{
		TotalPayments: len(payments),
		TotalAmount:   decimal.Zero,
		SuccessRate:   decimal.Zero,
		ByMethod:      map[models.Method]MethodStats{},
	}
	for _, p := range payments {
		switch p.Status {
		case models.PaymentSuccess:
			st.SuccessfulPayments++
			st.TotalAmount = st.TotalAmount.Add(p.Amount)

			ms := st.ByMethod[p.Method]
			ms.Count++
			ms.TotalAmount = ms.TotalAmount.Add(p.Amount)
			st.ByMethod[p.Method] = ms
		case models.PaymentFailed:
			st.FailedPayments++
		case models.PaymentPending:
			st.PendingPayments++
		case models.PaymentCancelled:
			st.CancelledPayments++
		}
	}
	if st.TotalPayments > 0 {
		st.SuccessRate = decimal.NewFromInt(int64(st.SuccessfulPayments)).
			Div(decimal.NewFromInt(int64(st.TotalPayments))).
			Round(4)
	}
	return st, nil
}
