package monitoring

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

type fixedCounter struct {
	n   int
	err error
}

func (f fixedCounter) CountPending(context.Context) (int, error) { return f.n, f.err }

func TestMonitorCollect(t *testing.T) {
	NewMonitor(fixedCounter{n: 3}, time.Second).collect(context.Background())
	assert.Equal(t, float64(3), testutil.ToFloat64(pendingTransactions))

	// errors keep the last value
	NewMonitor(fixedCounter{err: errors.New("down")}, time.Second).collect(context.Background())
	assert.Equal(t, float64(3), testutil.ToFloat64(pendingTransactions))
}

func TestMonitorRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		NewMonitor(fixedCounter{n: 1}, time.Millisecond).Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("monitor did not stop")
	}
}

func TestTrackers(t *testing.T) {
	before := testutil.ToFloat64(transactionsTotal.WithLabelValues("Cash", "success"))
	TrackTransaction("Cash", "success")
	assert.Equal(t, before+1, testutil.ToFloat64(transactionsTotal.WithLabelValues("Cash", "success")))

	TrackClientRequest("buy-ticket", 0)
	assert.Equal(t, float64(1), testutil.ToFloat64(clientRequests.WithLabelValues("buy-ticket", "0")))
}
