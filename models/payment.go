package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Method string

const (
	MethodCash          Method = "Cash"
	MethodBankTransfer  Method = "Bank Transfer"
	MethodDigitalWallet Method = "Digital Wallet"
	MethodCreditCard    Method = "Credit Card"

	// MethodMomo is the legacy alias still accepted on input.
	MethodMomo Method = "Momo"
)

// CanonicalMethods is the display order used by quotes and clients.
var CanonicalMethods = []Method{
	MethodCash,
	MethodBankTransfer,
	MethodDigitalWallet,
	MethodCreditCard,
}

func (m Method) Canonical() bool {
	for _, c := range CanonicalMethods {
		if m == c {
			return true
		}
	}
	return false
}

// Accepted reports whether the method is canonical or the legacy alias.
func (m Method) Accepted() bool {
	return m == MethodMomo || m.Canonical()
}

// Synchronous methods resolve inside the process call.
func (m Method) Synchronous() bool {
	return m == MethodCash || m == MethodBankTransfer || m == MethodCreditCard
}

const WalletMomo = "momo"

// PaymentData is method-specific pass-through configuration.
type PaymentData map[string]any

func (d PaymentData) String(key string) string {
	if d == nil {
		return ""
	}
	switch v := d[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case nil:
		return ""
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

func (d PaymentData) clone() PaymentData {
	out := make(PaymentData, len(d)+1)
	for k, v := range d {
		out[k] = v
	}
	return out
}

// NormalizeMethod maps the legacy Momo alias onto Digital Wallet with
// wallet_type=momo. The input map is never modified.
func NormalizeMethod(method Method, data PaymentData) (Method, PaymentData) {
	if method != MethodMomo {
		if data == nil {
			return method, PaymentData{}
		}
		return method, data
	}
	out := data.clone()
	out["wallet_type"] = WalletMomo
	return MethodDigitalWallet, out
}

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentSuccess   PaymentStatus = "success"
	PaymentFailed    PaymentStatus = "failed"
	PaymentCancelled PaymentStatus = "cancelled"
)

type Payment struct {
	ID            int64           `json:"payment_id"`
	TransactionID int64           `json:"transaction_id"`
	UserID        int64           `json:"user_id"`
	Method        Method          `json:"method"`
	Amount        decimal.Decimal `json:"amount"`
	Status        PaymentStatus   `json:"status"`
	Title         string          `json:"title"`
	Reference     string          `json:"transaction_reference,omitempty"`
	PaymentURL    string          `json:"payment_url,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	PaidAt        *time.Time      `json:"paid_at,omitempty"`
}

// PaymentStatusFor mirrors a transaction outcome onto its primary payment.
func PaymentStatusFor(s TransactionStatus) PaymentStatus {
	switch s {
	case TransactionSuccess:
		return PaymentSuccess
	case TransactionFailed:
		return PaymentFailed
	case TransactionCancelled:
		return PaymentCancelled
	}
	return PaymentPending
}
