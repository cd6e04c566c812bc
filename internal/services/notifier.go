package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"ticket-resale/models"
	"ticket-resale/monitoring"

	pubnub "github.com/pubnub/go/v7"
)

// Publisher delivers a message to a realtime channel.
type Publisher interface {
	Publish(ctx context.Context, channel string, message any) error
}

type PubNubPublisher struct {
	pn *pubnub.PubNub
}

func NewPubNubPublisher(publishKey, subscribeKey, secretKey, userID string) *PubNubPublisher {
	cfg := pubnub.NewConfigWithUserId(pubnub.UserId(userID))
	cfg.PublishKey = publishKey
	cfg.SubscribeKey = subscribeKey
	cfg.SecretKey = secretKey

	return &PubNubPublisher{pn: pubnub.NewPubNub(cfg)}
}

func (p *PubNubPublisher) Publish(ctx context.Context, channel string, message any) error {
	_, st, err := p.pn.PublishWithContext(ctx).
		Channel(channel).
		Message(message).
		Execute()
	if err != nil {
		return fmt.Errorf("pubnub publish to %s (status %d): %w", channel, st.StatusCode, err)
	}
	return nil
}

// NopPublisher is used when no realtime keys are configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, string, any) error { return nil }

type notification struct {
	channel string
	message map[string]any
}

// Notifier publishes resolution events on a bounded worker pool. Submit
// never blocks the request path; jobs are dropped when the queue is full.
type Notifier struct {
	publisher Publisher
	jobs      chan notification
	timeout   time.Duration
	wg        sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

func NewNotifier(publisher Publisher, queueSize int) *Notifier {
	if queueSize <= 0 {
		queueSize = 1
	}
	return &Notifier{
		publisher: publisher,
		jobs:      make(chan notification, queueSize),
		timeout:   10 * time.Second,
	}
}

func (n *Notifier) Start(workerCount int) {
	if workerCount <= 0 {
		workerCount = 1
	}
	for i := 0; i < workerCount; i++ {
		n.wg.Add(1)
		go n.worker()
	}
}

func (n *Notifier) worker() {
	defer n.wg.Done()

	for job := range n.jobs {
		ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
		if err := n.publisher.Publish(ctx, job.channel, job.message); err != nil {
			slog.Error("notification publish failed", "channel", job.channel, "error", err)
		}
		cancel()
	}
}

func (n *Notifier) submit(job notification) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()

	if n.closed {
		slog.Warn("notifier stopped, dropping", "channel", job.channel)
		return false
	}
	select {
	case n.jobs <- job:
		return true
	default:
		monitoring.TrackNotificationDropped()
		slog.Warn("notification queue full, dropping", "channel", job.channel)
		return false
	}
}

// UserChannel is the realtime channel a user's client listens on.
func UserChannel(userID int64) string {
	return fmt.Sprintf("user-%d", userID)
}

// TransactionResolved tells the buyer (and the seller on success) that a
// transaction reached a terminal status.
func (n *Notifier) TransactionResolved(txn *models.Transaction) {
	if n == nil {
		return
	}
	msg := map[string]any{
		"type":           "transaction_resolved",
		"transaction_id": txn.ID,
		"ticket_id":      txn.TicketID,
		"status":         txn.Status,
	}
	n.submit(notification{channel: UserChannel(txn.BuyerID), message: msg})
	if txn.Status == models.TransactionSuccess {
		n.submit(notification{channel: UserChannel(txn.SellerID), message: map[string]any{
			"type":           "ticket_sold",
			"transaction_id": txn.ID,
			"ticket_id":      txn.TicketID,
		}})
	}
}

// Shutdown drains queued notifications and stops the workers. Later
// submissions are dropped.
func (n *Notifier) Shutdown() {
	n.mu.Lock()
	if !n.closed {
		n.closed = true
		close(n.jobs)
	}
	n.mu.Unlock()
	n.wg.Wait()
}
