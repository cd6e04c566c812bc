package monitoring

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	transactionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transactions_total",
			Help: "Transactions by payment method and resulting status",
		},
		[]string{"method", "status"},
	)

	paymentsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payments_processed_total",
			Help: "Payment processor runs by method and outcome",
		},
		[]string{"method", "status"},
	)

	callbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "callbacks_total",
			Help: "Out-of-band gateway callbacks by source and status",
		},
		[]string{"source", "status"},
	)

	resolutionSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "transaction_resolution_seconds",
			Help:    "Time from transaction creation to terminal status",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 14),
		},
	)

	pendingTransactions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pending_transactions",
			Help: "Transactions currently waiting for a payment outcome",
		},
	)

	pollAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "status_poll_attempts_total",
			Help: "Client status poll attempts by observed outcome",
		},
		[]string{"outcome"},
	)

	purchaseOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "purchase_outcomes_total",
			Help: "Final views reached by the purchase flow",
		},
		[]string{"outcome"},
	)

	clientRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "client_requests_total",
			Help: "Client API calls by endpoint and HTTP status code",
		},
		[]string{"endpoint", "code"},
	)

	notificationsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "notifications_dropped_total",
			Help: "Notifications dropped because the publish queue was full",
		},
	)
)

func TrackTransaction(method, status string) {
	transactionsTotal.WithLabelValues(method, status).Inc()
}

func TrackPayment(method, status string) {
	paymentsProcessed.WithLabelValues(method, status).Inc()
}

func TrackCallback(source, status string) {
	callbacksTotal.WithLabelValues(source, status).Inc()
}

func TrackResolution(createdAt time.Time) {
	resolutionSeconds.Observe(time.Since(createdAt).Seconds())
}

func TrackPollAttempt(outcome string) {
	pollAttempts.WithLabelValues(outcome).Inc()
}

func TrackPurchaseOutcome(outcome string) {
	purchaseOutcomes.WithLabelValues(outcome).Inc()
}

// TrackClientRequest records a call; code 0 means the request never got a response.
func TrackClientRequest(endpoint string, code int) {
	clientRequests.WithLabelValues(endpoint, strconv.Itoa(code)).Inc()
}

func TrackNotificationDropped() {
	notificationsDropped.Inc()
}

// PendingCounter reports how many transactions are still pending.
type PendingCounter interface {
	CountPending(ctx context.Context) (int, error)
}

type Monitor struct {
	source   PendingCounter
	interval time.Duration
}

func NewMonitor(source PendingCounter, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Monitor{source: source, interval: interval}
}

// Run refreshes the gauges until ctx is done.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.collect(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.collect(ctx)
		}
	}
}

func (m *Monitor) collect(ctx context.Context) {
	n, err := m.source.CountPending(ctx)
	if err != nil {
		slog.Error("collect pending transactions", "error", err)
		return
	}
	pendingTransactions.Set(float64(n))
}
