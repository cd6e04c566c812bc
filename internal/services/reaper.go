package services

import (
	"context"
	"log/slog"
	"time"
)

// Reaper periodically cancels pending transactions older than ttl so that
// abandoned purchases release their tickets. A zero ttl disables it.
type Reaper struct {
	transactions *TransactionService
	ttl          time.Duration
	interval     time.Duration
}

func NewReaper(transactions *TransactionService, ttl, interval time.Duration) *Reaper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Reaper{transactions: transactions, ttl: ttl, interval: interval}
}

func (r *Reaper) Enabled() bool { return r.ttl > 0 }

func (r *Reaper) Run(ctx context.Context) {
	if !r.Enabled() {
		slog.Info("pending transaction reaper disabled")
		return
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

func (r *Reaper) sweep(ctx context.Context) {
	n, err := r.transactions.ExpirePending(ctx, r.ttl)
	if err != nil {
		slog.Error("reaper sweep failed", "error", err)
		return
	}
	if n > 0 {
		slog.Info("expired pending transactions", "count", n, "ttl", r.ttl)
	}
}
