// Package gateway talks to external wallet providers that settle payments
// asynchronously: the buyer is redirected to a hosted page and the provider
// reports the outcome later through a signed notification.
package gateway

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// Provider identifies a wallet, matching payment_data.wallet_type.
type Provider string

const (
	ProviderMomo Provider = "momo"
)

type OrderRequest struct {
	PaymentID int64
	Amount    decimal.Decimal
	OrderInfo string
	BankCode  string
	CardToken string
}

type Order struct {
	OrderID    string `json:"orderId"`
	RequestID  string `json:"requestId"`
	PayURL     string `json:"payUrl"`
	ResultCode int    `json:"resultCode"`
	Message    string `json:"message"`
}

type OrderStatus struct {
	OrderID    string `json:"orderId"`
	RequestID  string `json:"requestId"`
	TransID    int64  `json:"transId"`
	ResultCode int    `json:"resultCode"`
	Message    string `json:"message"`
}

// Paid reports whether the provider settled the order.
func (s *OrderStatus) Paid() bool { return s.ResultCode == 0 }

// Gateway is implemented by every wallet provider.
type Gateway interface {
	Provider() Provider

	// CreateOrder registers an order and returns the hosted payment URL.
	CreateOrder(ctx context.Context, req *OrderRequest) (*Order, error)

	// QueryOrder asks the provider for the current state of an order.
	QueryOrder(ctx context.Context, orderID, requestID string) (*OrderStatus, error)
}

// Registry holds the configured gateways keyed by provider.
type Registry struct {
	gateways map[Provider]Gateway
}

func NewRegistry(gateways ...Gateway) *Registry {
	r := &Registry{gateways: make(map[Provider]Gateway)}
	for _, g := range gateways {
		r.Register(g)
	}
	return r
}

func (r *Registry) Register(g Gateway) {
	r.gateways[g.Provider()] = g
}

func (r *Registry) Get(provider Provider) (Gateway, error) {
	g, ok := r.gateways[provider]
	if !ok {
		return nil, fmt.Errorf("unsupported wallet provider: %s", provider)
	}
	return g, nil
}

// Empty reports whether no gateway is configured, in which case wallet
// payments are not offered.
func (r *Registry) Empty() bool {
	return r == nil || len(r.gateways) == 0
}

func (r *Registry) Providers() []Provider {
	out := make([]Provider, 0, len(r.gateways))
	for p := range r.gateways {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
