// Package sandbox simulates the MoMo payment gateway: it accepts signed
// create/query requests, hosts a pay page and delivers signed IPNs back to
// the merchant, so the Digital Wallet flow can run without the provider.
package sandbox

import (
	"context"
	"fmt"
	"html/template"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"ticket-resale/internal/services/gateway"
	"ticket-resale/utils"

	"github.com/gin-gonic/gin"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// Result codes used by the provider.
const (
	CodeSuccess       = 0
	CodePending       = 1000
	CodeUserDeclined  = 1006
	CodeBadSignature  = 13
	CodeInvalidAmount = 22
	CodeDuplicate     = 41
	CodeUnknownOrder  = 42
)

type Config struct {
	PartnerCode string
	AccessKey   string
	SecretKey   string
	// PublicURL is where buyers reach this server, used to build payUrl.
	PublicURL string
}

type order struct {
	OrderID     string
	RequestID   string
	Amount      int64
	OrderInfo   string
	ExtraData   string
	IpnURL      string
	RedirectURL string
	ResultCode  int
	TransID     int64
	CreatedAt   time.Time
}

type Server struct {
	cfg    Config
	logger *zap.Logger
	client *resty.Client

	mu      sync.Mutex
	orders  map[string]*order
	transID int64
}

func NewServer(cfg Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		cfg:     cfg,
		logger:  logger,
		client:  resty.New().SetTimeout(10 * time.Second),
		orders:  make(map[string]*order),
		transID: time.Now().Unix() * 1000,
	}
}

func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.POST("/v2/gateway/api/create", s.handleCreate)
	r.POST("/v2/gateway/api/query", s.handleQuery)
	r.GET("/pay/:orderId", s.handlePayPage)
	r.POST("/pay/:orderId/complete", s.handleComplete)
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})
	return r
}

func (s *Server) reply(c *gin.Context, code int, resultCode int, message string, extra gin.H) {
	body := gin.H{
		"partnerCode":  s.cfg.PartnerCode,
		"resultCode":   resultCode,
		"message":      message,
		"responseTime": time.Now().UnixMilli(),
	}
	for k, v := range extra {
		body[k] = v
	}
	c.JSON(code, body)
}

func (s *Server) handleCreate(c *gin.Context) {
	var body map[string]any
	if err := c.ShouldBindJSON(&body); err != nil {
		s.logger.Warn("invalid create body", zap.Error(err))
		s.reply(c, http.StatusBadRequest, 20, "Bad format request.", nil)
		return
	}

	if !gateway.VerifyCreateSignature(s.cfg.SecretKey, body) || fmt.Sprint(body["partnerCode"]) != s.cfg.PartnerCode {
		s.logger.Warn("create rejected: bad signature", zap.Any("orderId", body["orderId"]))
		s.reply(c, http.StatusBadRequest, CodeBadSignature, "Merchant authentication failed.", nil)
		return
	}

	amount, _ := body["amount"].(float64)
	if amount < 1000 || amount > 50_000_000 {
		s.reply(c, http.StatusBadRequest, CodeInvalidAmount, "Invalid amount.", nil)
		return
	}

	o := &order{
		OrderID:     fmt.Sprint(body["orderId"]),
		RequestID:   fmt.Sprint(body["requestId"]),
		Amount:      int64(amount),
		OrderInfo:   fmt.Sprint(body["orderInfo"]),
		ExtraData:   fmt.Sprint(body["extraData"]),
		IpnURL:      fmt.Sprint(body["ipnUrl"]),
		RedirectURL: fmt.Sprint(body["redirectUrl"]),
		ResultCode:  CodePending,
		CreatedAt:   time.Now(),
	}

	s.mu.Lock()
	if _, exists := s.orders[o.OrderID]; exists {
		s.mu.Unlock()
		s.reply(c, http.StatusConflict, CodeDuplicate, "Duplicate orderId.", gin.H{"orderId": o.OrderID})
		return
	}
	s.orders[o.OrderID] = o
	s.mu.Unlock()

	s.logger.Info("order created", zap.String("orderId", o.OrderID), zap.Int64("amount", o.Amount))
	s.reply(c, http.StatusOK, CodeSuccess, "Successful.", gin.H{
		"orderId":   o.OrderID,
		"requestId": o.RequestID,
		"amount":    o.Amount,
		"payUrl":    strings.TrimRight(s.cfg.PublicURL, "/") + "/pay/" + o.OrderID,
	})
}

func (s *Server) handleQuery(c *gin.Context) {
	var req struct {
		PartnerCode string `json:"partnerCode"`
		AccessKey   string `json:"accessKey"`
		RequestID   string `json:"requestId"`
		OrderID     string `json:"orderId"`
		Signature   string `json:"signature"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		s.reply(c, http.StatusBadRequest, 20, "Bad format request.", nil)
		return
	}

	raw := "accessKey=" + req.AccessKey +
		"&orderId=" + req.OrderID +
		"&partnerCode=" + req.PartnerCode +
		"&requestId=" + req.RequestID
	if !utils.HmacEqual(utils.Hmac256(raw, s.cfg.SecretKey), req.Signature) {
		s.reply(c, http.StatusBadRequest, CodeBadSignature, "Merchant authentication failed.", nil)
		return
	}

	o, ok := s.order(req.OrderID)
	if !ok {
		s.reply(c, http.StatusOK, CodeUnknownOrder, "Order not found.", gin.H{"orderId": req.OrderID})
		return
	}
	s.reply(c, http.StatusOK, o.ResultCode, resultMessage(o.ResultCode), gin.H{
		"orderId":   o.OrderID,
		"requestId": req.RequestID,
		"amount":    o.Amount,
		"transId":   o.TransID,
	})
}

var payPage = template.Must(template.New("pay").Parse(`<!DOCTYPE html>
<html><head><title>MoMo Sandbox</title></head>
<body>
<h1>MoMo Sandbox</h1>
<p>{{.OrderInfo}}</p>
<p>Amount: {{.Amount}} VND</p>
<form method="post" action="/pay/{{.OrderID}}/complete?result=success"><button>Pay</button></form>
<form method="post" action="/pay/{{.OrderID}}/complete?result=declined"><button>Decline</button></form>
</body></html>`))

func (s *Server) handlePayPage(c *gin.Context) {
	o, ok := s.order(c.Param("orderId"))
	if !ok {
		c.String(http.StatusNotFound, "order not found")
		return
	}
	c.Status(http.StatusOK)
	c.Header("Content-Type", "text/html; charset=utf-8")
	if err := payPage.Execute(c.Writer, o); err != nil {
		s.logger.Error("render pay page", zap.Error(err))
	}
}

// handleComplete settles the order the way the buyer chose and notifies the
// merchant. Form posts from the pay page are redirected back to the merchant.
func (s *Server) handleComplete(c *gin.Context) {
	resultCode := CodeSuccess
	if c.Query("result") != "success" {
		resultCode = CodeUserDeclined
	}

	s.mu.Lock()
	o, ok := s.orders[c.Param("orderId")]
	if !ok {
		s.mu.Unlock()
		s.reply(c, http.StatusNotFound, CodeUnknownOrder, "Order not found.", nil)
		return
	}
	if o.ResultCode != CodePending {
		s.mu.Unlock()
		s.reply(c, http.StatusConflict, o.ResultCode, "Order already completed.", gin.H{"orderId": o.OrderID})
		return
	}
	o.ResultCode = resultCode
	s.transID++
	o.TransID = s.transID
	snapshot := *o
	s.mu.Unlock()

	ipn := s.ipnFor(&snapshot)
	if err := s.DeliverIPN(c.Request.Context(), snapshot.IpnURL, ipn); err != nil {
		s.logger.Error("ipn delivery failed", zap.String("orderId", snapshot.OrderID), zap.Error(err))
	}

	if c.ContentType() == "application/x-www-form-urlencoded" && snapshot.RedirectURL != "" {
		c.Redirect(http.StatusSeeOther, snapshot.RedirectURL+"?orderId="+snapshot.OrderID+"&resultCode="+strconv.Itoa(resultCode))
		return
	}
	s.reply(c, http.StatusOK, resultCode, resultMessage(resultCode), gin.H{
		"orderId": snapshot.OrderID,
		"transId": snapshot.TransID,
	})
}

func (s *Server) ipnFor(o *order) *gateway.IPN {
	ipn := &gateway.IPN{
		PartnerCode:  s.cfg.PartnerCode,
		OrderID:      o.OrderID,
		RequestID:    o.RequestID,
		Amount:       o.Amount,
		OrderInfo:    o.OrderInfo,
		OrderType:    "momo_wallet",
		TransID:      o.TransID,
		ResultCode:   o.ResultCode,
		Message:      resultMessage(o.ResultCode),
		PayType:      "napas",
		ResponseTime: time.Now().UnixMilli(),
		ExtraData:    o.ExtraData,
	}
	ipn.Sign(s.cfg.AccessKey, s.cfg.SecretKey)
	return ipn
}

// DeliverIPN posts a signed notification to the merchant's ipnUrl.
func (s *Server) DeliverIPN(ctx context.Context, url string, ipn *gateway.IPN) error {
	resp, err := s.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(ipn).
		Post(url)
	if err != nil {
		return err
	}
	if resp.IsError() {
		return fmt.Errorf("merchant answered %d: %s", resp.StatusCode(), resp.String())
	}
	s.logger.Info("ipn delivered", zap.String("orderId", ipn.OrderID), zap.Int("resultCode", ipn.ResultCode), zap.Int("status", resp.StatusCode()))
	return nil
}

func (s *Server) order(id string) (order, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return order{}, false
	}
	return *o, true
}

func resultMessage(code int) string {
	switch code {
	case CodeSuccess:
		return "Successful."
	case CodePending:
		return "Transaction initiated, waiting for user confirmation."
	case CodeUserDeclined:
		return "Transaction denied by user."
	}
	return "Transaction failed."
}
