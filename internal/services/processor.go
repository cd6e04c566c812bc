package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"ticket-resale/internal/services/gateway"
	"ticket-resale/models"
	"ticket-resale/utils"
)

// ProcessResult is what a method processor decided for one payment.
type ProcessResult struct {
	Status     models.PaymentStatus `json:"status"`
	Message    string               `json:"message"`
	Reference  string               `json:"transaction_reference,omitempty"`
	PaymentURL string               `json:"payment_url,omitempty"`
}

func failed(msg string) ProcessResult {
	return ProcessResult{Status: models.PaymentFailed, Message: msg}
}

// Processor executes a payment according to its method. Card details are
// only validated, never kept.
type Processor struct {
	gateways *gateway.Registry
	now      func() time.Time
}

func NewProcessor(gateways *gateway.Registry) *Processor {
	if gateways == nil {
		gateways = gateway.NewRegistry()
	}
	return &Processor{gateways: gateways, now: time.Now}
}

// AvailableMethods lists the methods this backend can settle, in display order.
func (p *Processor) AvailableMethods() []models.Method {
	out := make([]models.Method, 0, len(models.CanonicalMethods))
	for _, m := range models.CanonicalMethods {
		if m == models.MethodDigitalWallet && p.gateways.Empty() {
			continue
		}
		out = append(out, m)
	}
	return out
}

func (p *Processor) Supports(m models.Method) bool {
	for _, am := range p.AvailableMethods() {
		if am == m {
			return true
		}
	}
	return false
}

func (p *Processor) Process(ctx context.Context, payment *models.Payment, data models.PaymentData) (ProcessResult, error) {
	switch payment.Method {
	case models.MethodCash:
		return p.cash()
	case models.MethodBankTransfer:
		return p.bankTransfer(data), nil
	case models.MethodCreditCard:
		return p.creditCard(data)
	case models.MethodDigitalWallet:
		return p.digitalWallet(ctx, payment, data)
	}
	return ProcessResult{}, fmt.Errorf("unsupported payment method: %s", payment.Method)
}

func (p *Processor) cash() (ProcessResult, error) {
	ref, err := utils.GenerateReference("CASH")
	if err != nil {
		return ProcessResult{}, err
	}
	return ProcessResult{Status: models.PaymentSuccess, Message: "Cash payment confirmed", Reference: ref}, nil
}

func (p *Processor) bankTransfer(data models.PaymentData) ProcessResult {
	code := data.String("confirmation_code")
	if code == "" {
		return failed("Bank transfer requires a confirmation_code")
	}
	return ProcessResult{Status: models.PaymentSuccess, Message: "Bank transfer completed", Reference: code}
}

func (p *Processor) creditCard(data models.PaymentData) (ProcessResult, error) {
	if err := validateCard(data, p.now()); err != nil {
		return failed(err.Error()), nil
	}
	ref, err := utils.GenerateReference("CARD")
	if err != nil {
		return ProcessResult{}, err
	}
	return ProcessResult{Status: models.PaymentSuccess, Message: "Credit card payment completed", Reference: ref}, nil
}

func (p *Processor) digitalWallet(ctx context.Context, payment *models.Payment, data models.PaymentData) (ProcessResult, error) {
	walletType := strings.ToLower(data.String("wallet_type"))
	if walletType == "" {
		walletType = string(gateway.ProviderMomo)
	}

	gw, err := p.gateways.Get(gateway.Provider(walletType))
	if err != nil {
		slog.Warn("no gateway for wallet type, awaiting callback", "wallet_type", walletType, "payment_id", payment.ID)
		ref, err := utils.GenerateReference("WALLET")
		if err != nil {
			return ProcessResult{}, err
		}
		return ProcessResult{Status: models.PaymentPending, Message: "Digital wallet payment initiated", Reference: ref}, nil
	}

	order, err := gw.CreateOrder(ctx, &gateway.OrderRequest{
		PaymentID: payment.ID,
		Amount:    payment.Amount,
		OrderInfo: payment.Title,
		BankCode:  data.String("bank_code"),
		CardToken: data.String("card_token"),
	})
	if err != nil {
		slog.Error("gateway order failed", "payment_id", payment.ID, "wallet_type", walletType, "error", err)
		res := failed(err.Error())
		if order != nil {
			res.Reference = order.OrderID
			if order.Message != "" {
				res.Message = order.Message
			}
		}
		return res, nil
	}

	return ProcessResult{
		Status:     models.PaymentPending,
		Message:    "MoMo payment initiated successfully",
		Reference:  order.OrderID,
		PaymentURL: order.PayURL,
	}, nil
}

var (
	errCardNumber = errors.New("card_number is invalid")
	errCardExpiry = errors.New("card is expired or expiry date is invalid")
	errCardCVV    = errors.New("cvv must be 3 or 4 digits")
)

func validateCard(data models.PaymentData, now time.Time) error {
	number := strings.NewReplacer(" ", "", "-", "").Replace(data.String("card_number"))
	if len(number) < 13 || len(number) > 19 || !digitsOnly(number) || !luhnValid(number) {
		return errCardNumber
	}

	month, err := strconv.Atoi(data.String("expiry_month"))
	if err != nil || month < 1 || month > 12 {
		return errCardExpiry
	}
	year, err := strconv.Atoi(data.String("expiry_year"))
	if err != nil {
		return errCardExpiry
	}
	if year < 100 {
		year += 2000
	}
	// valid through the last day of the expiry month
	if now.After(time.Date(year, time.Month(month)+1, 1, 0, 0, 0, 0, now.Location())) {
		return errCardExpiry
	}

	cvv := data.String("cvv")
	if (len(cvv) != 3 && len(cvv) != 4) || !digitsOnly(cvv) {
		return errCardCVV
	}
	return nil
}

func digitsOnly(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

func luhnValid(number string) bool {
	sum := 0
	double := false
	for i := len(number) - 1; i >= 0; i-- {
		d := int(number[i] - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}
