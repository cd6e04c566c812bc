package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"ticket-resale/internal/status"
	"ticket-resale/utils"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
)

const (
	momoRequestType = "payWithATM"
	momoLang        = "vi"
)

type MomoConfig struct {
	PartnerCode string
	AccessKey   string
	SecretKey   string
	Endpoint    string // full create URL, e.g. https://test-payment.momo.vn/v2/gateway/api/create
	ReturnURL   string
	NotifyURL   string
	Timeout     time.Duration
}

type Momo struct {
	cfg     MomoConfig
	client  *resty.Client
	breaker *utils.CircuitBreaker
}

func NewMomo(cfg MomoConfig) *Momo {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Momo{
		cfg: cfg,
		client: resty.New().
			SetTimeout(cfg.Timeout).
			SetHeader("Content-Type", "application/json"),
		breaker: utils.NewCircuitBreaker("momo",
			utils.WithMinRequests(10),
			utils.WithStateChange(func(name string, from, to utils.State) {
				slog.Warn("circuit breaker state changed", "gateway", name, "from", from.String(), "to", to.String())
			}),
		),
	}
}

func (m *Momo) Provider() Provider { return ProviderMomo }

type momoCreateRequest struct {
	PartnerCode string `json:"partnerCode"`
	AccessKey   string `json:"accessKey"`
	RequestID   string `json:"requestId"`
	Amount      int64  `json:"amount"`
	OrderID     string `json:"orderId"`
	OrderInfo   string `json:"orderInfo"`
	RedirectURL string `json:"redirectUrl"`
	IpnURL      string `json:"ipnUrl"`
	ExtraData   string `json:"extraData"`
	RequestType string `json:"requestType"`
	BankCode    string `json:"bankCode,omitempty"`
	CardToken   string `json:"cardToken,omitempty"`
	Signature   string `json:"signature"`
	Lang        string `json:"lang"`
}

// signature string of a create request, in the provider's field order.
func (r *momoCreateRequest) rawSignature() string {
	raw := "accessKey=" + r.AccessKey +
		"&amount=" + strconv.FormatInt(r.Amount, 10) +
		"&extraData=" + r.ExtraData +
		"&ipnUrl=" + r.IpnURL +
		"&orderId=" + r.OrderID +
		"&orderInfo=" + r.OrderInfo +
		"&partnerCode=" + r.PartnerCode +
		"&redirectUrl=" + r.RedirectURL +
		"&requestId=" + r.RequestID +
		"&requestType=" + r.RequestType
	if r.BankCode != "" {
		raw += "&bankCode=" + r.BankCode
	}
	if r.CardToken != "" {
		raw += "&cardToken=" + r.CardToken
	}
	return raw
}

// VerifyCreateSignature checks a create request body the way the provider
// does. The sandbox uses it to reject tampered orders.
func VerifyCreateSignature(secretKey string, body map[string]any) bool {
	r := momoCreateRequest{
		PartnerCode: fmt.Sprint(body["partnerCode"]),
		AccessKey:   fmt.Sprint(body["accessKey"]),
		RequestID:   fmt.Sprint(body["requestId"]),
		OrderID:     fmt.Sprint(body["orderId"]),
		OrderInfo:   fmt.Sprint(body["orderInfo"]),
		RedirectURL: fmt.Sprint(body["redirectUrl"]),
		IpnURL:      fmt.Sprint(body["ipnUrl"]),
		ExtraData:   fmt.Sprint(body["extraData"]),
		RequestType: fmt.Sprint(body["requestType"]),
	}
	switch v := body["amount"].(type) {
	case float64:
		r.Amount = int64(v)
	case int64:
		r.Amount = v
	case int:
		r.Amount = int64(v)
	}
	if v, ok := body["bankCode"].(string); ok {
		r.BankCode = v
	}
	if v, ok := body["cardToken"].(string); ok {
		r.CardToken = v
	}
	sig, _ := body["signature"].(string)
	return sig != "" && utils.HmacEqual(utils.Hmac256(r.rawSignature(), secretKey), sig)
}

// OrderIDFor builds the provider order id of a payment.
func OrderIDFor(paymentID int64) string {
	return fmt.Sprintf("ORDER_%d_%s", paymentID, strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")))
}

func (m *Momo) CreateOrder(ctx context.Context, req *OrderRequest) (*Order, error) {
	// Momo amounts are whole VND.
	if !req.Amount.IsInteger() || !req.Amount.IsPositive() {
		return nil, fmt.Errorf("momo amount %s is not a positive whole number: %w", req.Amount, status.ErrValidation)
	}
	body := &momoCreateRequest{
		PartnerCode: m.cfg.PartnerCode,
		AccessKey:   m.cfg.AccessKey,
		RequestID:   uuid.NewString(),
		Amount:      req.Amount.IntPart(),
		OrderID:     OrderIDFor(req.PaymentID),
		OrderInfo:   req.OrderInfo,
		RedirectURL: m.cfg.ReturnURL,
		IpnURL:      m.cfg.NotifyURL,
		ExtraData:   strconv.FormatInt(req.PaymentID, 10),
		RequestType: momoRequestType,
		BankCode:    req.BankCode,
		CardToken:   req.CardToken,
		Lang:        momoLang,
	}
	body.Signature = utils.Hmac256(body.rawSignature(), m.cfg.SecretKey)

	slog.Info("creating momo order", "order_id", body.OrderID, "amount", body.Amount)

	var order Order
	if err := m.post(ctx, m.cfg.Endpoint, body, &order); err != nil {
		return nil, err
	}
	if order.ResultCode != 0 || order.PayURL == "" {
		msg := order.Message
		if msg == "" {
			msg = "MoMo payment initiation failed"
		}
		return &order, fmt.Errorf("momo order %s rejected (code %d): %s: %w", body.OrderID, order.ResultCode, msg, status.ErrGateway)
	}
	if order.OrderID == "" {
		order.OrderID = body.OrderID
	}
	if order.RequestID == "" {
		order.RequestID = body.RequestID
	}
	return &order, nil
}

type momoQueryRequest struct {
	PartnerCode string `json:"partnerCode"`
	AccessKey   string `json:"accessKey"`
	RequestID   string `json:"requestId"`
	OrderID     string `json:"orderId"`
	Signature   string `json:"signature"`
	Lang        string `json:"lang"`
}

func (m *Momo) QueryOrder(ctx context.Context, orderID, requestID string) (*OrderStatus, error) {
	raw := "accessKey=" + m.cfg.AccessKey +
		"&orderId=" + orderID +
		"&partnerCode=" + m.cfg.PartnerCode +
		"&requestId=" + requestID

	body := &momoQueryRequest{
		PartnerCode: m.cfg.PartnerCode,
		AccessKey:   m.cfg.AccessKey,
		RequestID:   requestID,
		OrderID:     orderID,
		Signature:   utils.Hmac256(raw, m.cfg.SecretKey),
		Lang:        momoLang,
	}

	var st OrderStatus
	if err := m.post(ctx, strings.Replace(m.cfg.Endpoint, "/create", "/query", 1), body, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (m *Momo) post(ctx context.Context, url string, body, result any) error {
	_, err := m.breaker.Execute(ctx, func() (any, error) {
		resp, err := m.client.R().
			SetContext(ctx).
			SetBody(body).
			SetResult(result).
			SetError(result).
			Post(url)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode() >= 500 {
			return nil, fmt.Errorf("momo responded %d", resp.StatusCode())
		}
		return resp, nil
	})
	if err != nil {
		if errors.Is(err, utils.ErrOpenState) || errors.Is(err, utils.ErrTooManyRequests) {
			return fmt.Errorf("momo unavailable: %v: %w", err, status.ErrGateway)
		}
		return fmt.Errorf("momo request failed: %v: %w", err, status.ErrGateway)
	}
	return nil
}

// IPN is the instant payment notification the provider posts to ipnUrl.
type IPN struct {
	PartnerCode  string `json:"partnerCode"`
	OrderID      string `json:"orderId"`
	RequestID    string `json:"requestId"`
	Amount       int64  `json:"amount"`
	OrderInfo    string `json:"orderInfo"`
	OrderType    string `json:"orderType"`
	TransID      int64  `json:"transId"`
	ResultCode   int    `json:"resultCode"`
	Message      string `json:"message"`
	PayType      string `json:"payType"`
	ResponseTime int64  `json:"responseTime"`
	ExtraData    string `json:"extraData"`
	Signature    string `json:"signature"`
}

// PaymentID returns the payment the order was created for.
func (n *IPN) PaymentID() (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(n.ExtraData), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("ipn extraData %q is not a payment id: %w", n.ExtraData, status.ErrValidation)
	}
	return id, nil
}

func (n *IPN) Succeeded() bool { return n.ResultCode == 0 }

func (n *IPN) rawSignature(accessKey string) string {
	return "accessKey=" + accessKey +
		"&amount=" + strconv.FormatInt(n.Amount, 10) +
		"&extraData=" + n.ExtraData +
		"&message=" + n.Message +
		"&orderId=" + n.OrderID +
		"&orderInfo=" + n.OrderInfo +
		"&orderType=" + n.OrderType +
		"&partnerCode=" + n.PartnerCode +
		"&payType=" + n.PayType +
		"&requestId=" + n.RequestID +
		"&responseTime=" + strconv.FormatInt(n.ResponseTime, 10) +
		"&resultCode=" + strconv.Itoa(n.ResultCode) +
		"&transId=" + strconv.FormatInt(n.TransID, 10)
}

// Sign fills the IPN signature with the partner credentials.
func (n *IPN) Sign(accessKey, secretKey string) {
	n.Signature = utils.Hmac256(n.rawSignature(accessKey), secretKey)
}

// VerifyIPN reports whether the notification was signed with our secret.
func (m *Momo) VerifyIPN(n *IPN) bool {
	if n.Signature == "" {
		return false
	}
	ok := utils.HmacEqual(utils.Hmac256(n.rawSignature(m.cfg.AccessKey), m.cfg.SecretKey), n.Signature)
	if !ok {
		slog.Warn("invalid momo ipn signature", "order_id", n.OrderID)
	}
	return ok
}
