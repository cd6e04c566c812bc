package purchase

import (
	"context"
	"fmt"
	"time"

	"ticket-resale/internal/client"
	"ticket-resale/internal/status"
	"ticket-resale/monitoring"

	"go.uber.org/zap"
)

const (
	DefaultPollInterval = 5 * time.Second
	DefaultMaxAttempts  = 60
)

// StatusSource answers status queries for one transaction.
type StatusSource interface {
	TransactionStatus(ctx context.Context, s *client.Session, transactionID int64) (*client.StatusView, error)
}

// Poller watches a pending transaction until it reaches a terminal status.
// Attempts never overlap: the next one is scheduled only after the previous
// response or error has been seen.
type Poller struct {
	source      StatusSource
	interval    time.Duration
	maxAttempts int
	after       func(time.Duration) <-chan time.Time
	logger      *zap.Logger
}

func NewPoller(source StatusSource, logger *zap.Logger) *Poller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Poller{
		source:      source,
		interval:    DefaultPollInterval,
		maxAttempts: DefaultMaxAttempts,
		after:       time.After,
		logger:      logger,
	}
}

// Poll returns the first terminal view. Transient failures count as an
// attempt and polling goes on. When the attempts run out the last view seen
// (possibly nil) is returned together with ErrPollTimeout.
func (p *Poller) Poll(ctx context.Context, s *client.Session, transactionID int64) (*client.StatusView, error) {
	var last *client.StatusView

	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return last, ctx.Err()
			case <-p.after(p.interval):
			}
		}
		if err := ctx.Err(); err != nil {
			return last, err
		}

		view, err := p.source.TransactionStatus(ctx, s, transactionID)
		if err != nil {
			if ctx.Err() != nil {
				return last, ctx.Err()
			}
			if client.IsTransient(err) {
				monitoring.TrackPollAttempt("transient")
				p.logger.Debug("status poll failed, retrying",
					zap.Int64("transaction_id", transactionID),
					zap.Int("attempt", attempt),
					zap.Error(err),
				)
				continue
			}
			monitoring.TrackPollAttempt("error")
			return last, err
		}

		last = view
		monitoring.TrackPollAttempt(string(view.Status))
		if view.Status.IsTerminal() {
			p.logger.Info("transaction resolved",
				zap.Int64("transaction_id", transactionID),
				zap.String("status", string(view.Status)),
				zap.Int("attempts", attempt),
			)
			return view, nil
		}
	}

	return last, fmt.Errorf("transaction %d still unresolved after %d attempts: %w",
		transactionID, p.maxAttempts, status.ErrPollTimeout)
}
