package purchase

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"ticket-resale/internal/client"
	"ticket-resale/internal/status"
	"ticket-resale/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sourceFunc func(ctx context.Context, n int) (*client.StatusView, error)

type scriptedSource struct {
	calls atomic.Int32
	fn    sourceFunc
}

func (s *scriptedSource) TransactionStatus(ctx context.Context, _ *client.Session, _ int64) (*client.StatusView, error) {
	return s.fn(ctx, int(s.calls.Add(1)))
}

func view(st models.TransactionStatus) *client.StatusView {
	return &client.StatusView{Transaction: models.Transaction{ID: 7, Status: st}}
}

func newTestPoller(src StatusSource, clock *fakeClock) *Poller {
	p := NewPoller(src, nil)
	p.after = clock.After
	return p
}

func TestPoller_FirstAttemptImmediateThenFixedInterval(t *testing.T) {
	clock := &fakeClock{}
	src := &scriptedSource{fn: func(_ context.Context, n int) (*client.StatusView, error) {
		if n < 3 {
			return view(models.TransactionPending), nil
		}
		return view(models.TransactionFailed), nil
	}}

	got, err := newTestPoller(src, clock).Poll(context.Background(), nil, 7)
	require.NoError(t, err)

	assert.Equal(t, models.TransactionFailed, got.Status)
	assert.Equal(t, int32(3), src.calls.Load())
	assert.Equal(t, []time.Duration{5 * time.Second, 5 * time.Second}, clock.Waits())
}

func TestPoller_NetworkErrorCountsAsPending(t *testing.T) {
	clock := &fakeClock{}
	src := &scriptedSource{fn: func(_ context.Context, n int) (*client.StatusView, error) {
		switch n {
		case 1:
			return nil, &net.OpError{Op: "read", Net: "tcp", Err: errors.New("connection reset by peer")}
		case 2:
			return nil, &client.APIError{StatusCode: 503, Message: "unavailable", Kind: status.ErrTransientNetwork}
		}
		return view(models.TransactionSuccess), nil
	}}

	got, err := newTestPoller(src, clock).Poll(context.Background(), nil, 7)
	require.NoError(t, err)
	assert.Equal(t, models.TransactionSuccess, got.Status)
	assert.Equal(t, int32(3), src.calls.Load())
}

func TestPoller_GivesUpAfterMaxAttempts(t *testing.T) {
	clock := &fakeClock{}
	src := &scriptedSource{fn: func(context.Context, int) (*client.StatusView, error) {
		return view(models.TransactionPending), nil
	}}

	got, err := newTestPoller(src, clock).Poll(context.Background(), nil, 7)
	require.Error(t, err)

	assert.ErrorIs(t, err, status.ErrPollTimeout)
	assert.Equal(t, models.TransactionPending, got.Status)
	assert.Equal(t, int32(DefaultMaxAttempts), src.calls.Load())
	assert.Len(t, clock.Waits(), DefaultMaxAttempts-1)
	for _, d := range clock.Waits() {
		assert.Equal(t, DefaultPollInterval, d)
	}
}

func TestPoller_TransientErrorsStillBoundedByCeiling(t *testing.T) {
	clock := &fakeClock{}
	src := &scriptedSource{fn: func(context.Context, int) (*client.StatusView, error) {
		return nil, status.ErrTransientNetwork
	}}

	got, err := newTestPoller(src, clock).Poll(context.Background(), nil, 7)
	assert.Nil(t, got)
	assert.ErrorIs(t, err, status.ErrPollTimeout)
	assert.Equal(t, int32(DefaultMaxAttempts), src.calls.Load())
}

func TestPoller_AbortsOnPermanentError(t *testing.T) {
	clock := &fakeClock{}
	src := &scriptedSource{fn: func(_ context.Context, n int) (*client.StatusView, error) {
		if n == 1 {
			return view(models.TransactionPending), nil
		}
		return nil, &client.AuthError{ForcedLogout: true, Message: "session expired, please log in again"}
	}}

	_, err := newTestPoller(src, clock).Poll(context.Background(), nil, 7)
	assert.ErrorIs(t, err, status.ErrForcedLogout)
	assert.NotErrorIs(t, err, status.ErrPollTimeout)
	assert.Equal(t, int32(2), src.calls.Load())
}

func TestPoller_StopsWhenContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src := &scriptedSource{fn: func(context.Context, int) (*client.StatusView, error) {
		cancel()
		return view(models.TransactionPending), nil
	}}
	p := NewPoller(src, nil)
	p.after = func(time.Duration) <-chan time.Time { return nil }

	got, err := p.Poll(ctx, nil, 7)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, models.TransactionPending, got.Status)
	assert.Equal(t, int32(1), src.calls.Load())
}
