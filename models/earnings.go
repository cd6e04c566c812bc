package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// DefaultCommissionRate is the platform cut applied when none is configured.
var DefaultCommissionRate = decimal.RequireFromString("0.05")

type EarningsBreakdown struct {
	TransactionAmount decimal.Decimal `json:"transaction_amount"`
	CommissionRate    decimal.Decimal `json:"platform_commission_rate"`
	CommissionAmount  decimal.Decimal `json:"commission_amount"`
	SellerEarnings    decimal.Decimal `json:"seller_earnings"`
}

// CalculateEarnings splits amount into commission and seller net. The
// commission is rounded to cents and the seller gets the exact remainder, so
// the two always sum to amount.
func CalculateEarnings(amount, rate decimal.Decimal) EarningsBreakdown {
	commission := amount.Mul(rate).Round(2)
	return EarningsBreakdown{
		TransactionAmount: amount,
		CommissionRate:    rate,
		CommissionAmount:  commission,
		SellerEarnings:    amount.Sub(commission),
	}
}

type Earning struct {
	ID            int64           `json:"id"`
	SellerID      int64           `json:"seller_id"`
	TransactionID int64           `json:"transaction_id"`
	Gross         decimal.Decimal `json:"gross_amount"`
	Commission    decimal.Decimal `json:"commission_amount"`
	Net           decimal.Decimal `json:"net_amount"`
	CreatedAt     time.Time       `json:"created_at"`
}
