package purchase

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"ticket-resale/internal/client"
)

// fakeClock fires immediately and remembers every delay it was asked for.
type fakeClock struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.waits = append(c.waits, d)
	c.mu.Unlock()
	ch := make(chan time.Time, 1)
	ch <- time.Now()
	return ch
}

func (c *fakeClock) Waits() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.waits...)
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

// backend is a scripted marketplace. Poll answers are consumed in order;
// the last one repeats. An answer of "503" replies with a server error.
type backend struct {
	buyCode int
	buyBody map[string]any
	polls   []string

	statusCalls atomic.Int32
	ticketCalls atomic.Int32
	buyCalls    atomic.Int32
}

func (b *backend) start(t *testing.T) *client.Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(b.serve))
	t.Cleanup(srv.Close)
	return client.New(srv.URL)
}

func (b *backend) serve(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/api/transactions/preview-transaction":
		writeJSON(w, http.StatusOK, map[string]any{
			"ticket": map[string]any{"id": 42, "event_name": "Concert", "price": 150},
			"earnings_breakdown": map[string]any{
				"transaction_amount":       150,
				"platform_commission_rate": 0.05,
				"commission_amount":        7.5,
				"seller_earnings":          142.5,
			},
			"available_payment_methods": []string{"Cash", "Credit Card", "Digital Wallet"},
			"message":                   "Preview generated",
		})
	case r.URL.Path == "/api/transactions/buy-ticket":
		b.buyCalls.Add(1)
		code := b.buyCode
		if code == 0 {
			code = http.StatusOK
		}
		writeJSON(w, code, b.buyBody)
	case strings.HasPrefix(r.URL.Path, "/api/transactions/status/"):
		n := int(b.statusCalls.Add(1))
		answer := b.polls[min(n, len(b.polls))-1]
		if answer == "503" {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"message": "try later"})
			return
		}
		id, _ := strconv.Atoi(strings.TrimPrefix(r.URL.Path, "/api/transactions/status/"))
		body := map[string]any{"transaction_id": id, "ticket_id": 42, "status": answer, "amount": 150}
		if answer == "failed" {
			body["error_message"] = "Payment was declined by the wallet provider"
		}
		writeJSON(w, http.StatusOK, body)
	case r.URL.Path == "/api/tickets":
		b.ticketCalls.Add(1)
		writeJSON(w, http.StatusOK, map[string]any{"tickets": []any{}, "count": 0})
	default:
		http.NotFound(w, r)
	}
}

func pendingBuy(txnID int) map[string]any {
	return map[string]any{
		"status":         "pending",
		"transaction_id": txnID,
		"payment_id":     txnID + 100,
		"payment_url":    "https://pay.example/" + strconv.Itoa(txnID),
		"message":        "Complete the payment in your wallet",
	}
}

func repeat(s string, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = s
	}
	return out
}
