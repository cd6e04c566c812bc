package services

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"ticket-resale/internal/services/gateway"
	"ticket-resale/internal/store"
	"ticket-resale/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type published struct {
	channel string
	message any
}

type recordingPublisher struct {
	mu   sync.Mutex
	sent []published
}

func (p *recordingPublisher) Publish(_ context.Context, channel string, message any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, published{channel: channel, message: message})
	return nil
}

func (p *recordingPublisher) channels() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.sent))
	for _, s := range p.sent {
		out = append(out, s.channel)
	}
	return out
}

type fakeGateway struct {
	mu       sync.Mutex
	order    *gateway.Order
	err      error
	requests []*gateway.OrderRequest
}

func (g *fakeGateway) Provider() gateway.Provider { return gateway.ProviderMomo }

func (g *fakeGateway) CreateOrder(_ context.Context, req *gateway.OrderRequest) (*gateway.Order, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.requests = append(g.requests, req)
	if g.err != nil {
		return g.order, g.err
	}
	if g.order != nil {
		return g.order, nil
	}
	return &gateway.Order{
		OrderID: gateway.OrderIDFor(req.PaymentID),
		PayURL:  "https://pay.example/" + req.OrderInfo,
	}, nil
}

func (g *fakeGateway) QueryOrder(context.Context, string, string) (*gateway.OrderStatus, error) {
	return &gateway.OrderStatus{}, nil
}

const (
	sellerID = int64(1)
	buyerID  = int64(2)
	otherID  = int64(3)
)

type fixture struct {
	store        *store.MemoryStore
	publisher    *recordingPublisher
	notifier     *Notifier
	gateway      *fakeGateway
	payments     *PaymentService
	transactions *TransactionService
	tickets      *TicketService
}

type fixtureOption func(*fixtureConfig)

type fixtureConfig struct {
	withGateway bool
	verifier    IPNVerifier
}

func withGateway() fixtureOption {
	return func(c *fixtureConfig) { c.withGateway = true }
}

func withVerifier(v IPNVerifier) fixtureOption {
	return func(c *fixtureConfig) { c.verifier = v }
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()

	var cfg fixtureConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	f := &fixture{
		store:     store.NewMemoryStore(),
		publisher: &recordingPublisher{},
		gateway:   &fakeGateway{},
	}
	f.notifier = NewNotifier(f.publisher, 64)
	f.notifier.Start(1)
	t.Cleanup(f.notifier.Shutdown)

	registry := gateway.NewRegistry()
	if cfg.withGateway {
		registry.Register(f.gateway)
	}

	f.payments = NewPaymentService(f.store, NewProcessor(registry), f.notifier, decimal.RequireFromString("0.05"), cfg.verifier)
	f.transactions = NewTransactionService(f.store, f.payments)
	f.tickets = NewTicketService(f.store)
	return f
}

func (f *fixture) ticket(t *testing.T, price string) *models.Ticket {
	t.Helper()
	tk := &models.Ticket{
		EventName: "Rock Night",
		EventDate: time.Now().Add(30 * 24 * time.Hour),
		Price:     decimal.RequireFromString(price),
		Status:    models.TicketAvailable,
		OwnerID:   sellerID,
	}
	require.NoError(t, f.store.CreateTicket(context.Background(), tk))
	return tk
}

func (f *fixture) mustTicket(t *testing.T, id int64) *models.Ticket {
	t.Helper()
	tk, err := f.store.GetTicket(context.Background(), id)
	require.NoError(t, err)
	return tk
}

func (f *fixture) mustTransaction(t *testing.T, id int64) *models.Transaction {
	t.Helper()
	txn, err := f.store.GetTransaction(context.Background(), id)
	require.NoError(t, err)
	return txn
}

func validCard() models.PaymentData {
	return models.PaymentData{
		"card_number":  "4111 1111 1111 1111",
		"expiry_month": "12",
		"expiry_year":  time.Now().Year() + 1,
		"cvv":          "123",
	}
}

var errStoreDown = errors.New("store unavailable")

// flakyStore fails the operations named in its fields.
type flakyStore struct {
	*store.MemoryStore
	failCreateTransaction bool
	failUnlock            bool
}

func (s *flakyStore) CreateTransaction(ctx context.Context, t *models.Transaction) error {
	if s.failCreateTransaction {
		return errStoreDown
	}
	return s.MemoryStore.CreateTransaction(ctx, t)
}

func (s *flakyStore) UnlockTicket(ctx context.Context, ticketID int64) error {
	if s.failUnlock {
		return errStoreDown
	}
	return s.MemoryStore.UnlockTicket(ctx, ticketID)
}

// captureLogs redirects the default slog logger for the rest of the test.
func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return &buf
}
