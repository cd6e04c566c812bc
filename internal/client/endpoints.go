package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"ticket-resale/models"

	"github.com/shopspring/decimal"
)

type TokenPair struct {
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token"`
	TokenType    string       `json:"token_type"`
	ExpiresIn    int64        `json:"expires_in"`
	User         *models.User `json:"user,omitempty"`
}

// Login opens a new session.
func (c *Client) Login(ctx context.Context, email, password string) (*Session, error) {
	var pair TokenPair
	err := c.call(ctx, nil, "login", http.MethodPost, "/api/auth/login",
		map[string]string{"email": email, "password": password}, &pair)
	if err != nil {
		return nil, err
	}
	s := &Session{}
	s.set(&pair)
	return s, nil
}

func (c *Client) Register(ctx context.Context, email, name, password string) (*Session, error) {
	var pair TokenPair
	err := c.call(ctx, nil, "register", http.MethodPost, "/api/auth/register",
		map[string]string{"email": email, "name": name, "password": password}, &pair)
	if err != nil {
		return nil, err
	}
	s := &Session{}
	s.set(&pair)
	return s, nil
}

type Quote struct {
	Ticket   models.TicketSnapshot    `json:"ticket"`
	Earnings models.EarningsBreakdown `json:"earnings_breakdown"`
	Methods  []models.Method          `json:"available_payment_methods"`
	Message  string                   `json:"message"`
}

func (c *Client) Preview(ctx context.Context, s *Session, ticketID int64) (*Quote, error) {
	var q Quote
	err := c.call(ctx, s, "preview", http.MethodPost, "/api/transactions/preview-transaction",
		map[string]int64{"ticket_id": ticketID}, &q)
	if err != nil {
		return nil, err
	}
	return &q, nil
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

// Buy runs the combined purchase. The legacy Momo label is sent as Digital
// Wallet with wallet_type=momo. A payment the backend rejected comes back
// as a result with status failed, not as an error.
func (c *Client) Buy(ctx context.Context, s *Session, req BuyRequest) (*BuyResult, error) {
	req.PaymentMethod, req.PaymentData = models.NormalizeMethod(req.PaymentMethod, req.PaymentData)

	var res BuyResult
	err := c.call(ctx, s, "buy", http.MethodPost, "/api/transactions/buy-ticket", req, &res)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusBadRequest {
			var failed BuyResult
			if json.Unmarshal(apiErr.raw, &failed) == nil && failed.Status == models.TransactionFailed && failed.TransactionID > 0 {
				return &failed, nil
			}
		}
		return nil, err
	}
	return &res, nil
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

func (c *Client) Initiate(ctx context.Context, s *Session, req InitiateRequest) (*InitiateResult, error) {
	req.PaymentMethod, req.PaymentData = models.NormalizeMethod(req.PaymentMethod, req.PaymentData)

	var res InitiateResult
	if err := c.call(ctx, s, "initiate", http.MethodPost, "/api/transactions/initiate", req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

type ProcessResult struct {
	PaymentID     int64                `json:"payment_id"`
	TransactionID int64                `json:"transaction_id"`
	Status        models.PaymentStatus `json:"status"`
	Message       string               `json:"message"`
	Reference     string               `json:"transaction_reference,omitempty"`
	PaymentURL    string               `json:"payment_url,omitempty"`
}

func (c *Client) ProcessPayment(ctx context.Context, s *Session, paymentID int64, data models.PaymentData) (*ProcessResult, error) {
	var res ProcessResult
	path := fmt.Sprintf("/api/payments/%d/process", paymentID)
	if err := c.call(ctx, s, "process", http.MethodPost, path, map[string]any{"payment_data": data}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

type StatusView struct {
	models.Transaction
	Earnings *models.EarningsBreakdown `json:"earnings,omitempty"`
}

func (c *Client) TransactionStatus(ctx context.Context, s *Session, transactionID int64) (*StatusView, error) {
	var v StatusView
	path := fmt.Sprintf("/api/transactions/status/%d", transactionID)
	if err := c.call(ctx, s, "status", http.MethodGet, path, nil, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func (c *Client) ListTickets(ctx context.Context, s *Session) ([]models.Ticket, error) {
	var out struct {
		Tickets []models.Ticket `json:"tickets"`
	}
	if err := c.call(ctx, s, "tickets", http.MethodGet, "/api/tickets", nil, &out); err != nil {
		return nil, err
	}
	return out.Tickets, nil
}

type PaymentHistory struct {
	Payments   []models.Payment `json:"payments"`
	TotalCount int              `json:"total_count"`
	Limit      int              `json:"limit"`
	Offset     int              `json:"offset"`
	HasMore    bool             `json:"has_more"`
}

func (c *Client) PaymentHistory(ctx context.Context, s *Session, limit, offset int) (*PaymentHistory, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		q.Set("offset", strconv.Itoa(offset))
	}
	path := "/api/payments/history"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var h PaymentHistory
	if err := c.call(ctx, s, "history", http.MethodGet, path, nil, &h); err != nil {
		return nil, err
	}
	return &h, nil
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

func (c *Client) PaymentStatistics(ctx context.Context, s *Session) (*PaymentStatistics, error) {
	var st PaymentStatistics
	if err := c.call(ctx, s, "statistics", http.MethodGet, "/api/payments/statistics", nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}
