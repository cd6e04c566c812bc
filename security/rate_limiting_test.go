package security

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllow_FirstRequestSetsWindow(t *testing.T) {
	db, mock := redismock.NewClientMock()
	limiter := NewRateLimiter(db, 2)
	ctx := context.Background()

	mock.ExpectIncr("ratelimit:10.0.0.1").SetVal(1)
	mock.ExpectExpire("ratelimit:10.0.0.1", time.Minute).SetVal(true)
	mock.ExpectIncr("ratelimit:10.0.0.1").SetVal(2)
	mock.ExpectIncr("ratelimit:10.0.0.1").SetVal(3)

	for i, want := range []bool{true, true, false} {
		ok, err := limiter.Allow(ctx, "10.0.0.1")
		require.NoError(t, err)
		assert.Equal(t, want, ok, "request %d", i+1)
	}
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAllow_FailsOpen(t *testing.T) {
	db, mock := redismock.NewClientMock()
	limiter := NewRateLimiter(db, 1)

	mock.ExpectIncr("ratelimit:user:7").SetErr(errors.New("connection refused"))

	ok, err := limiter.Allow(context.Background(), "user:7")
	assert.Error(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAllow_NilLimiter(t *testing.T) {
	var limiter *RateLimiter
	ok, err := limiter.Allow(context.Background(), "x")
	assert.NoError(t, err)
	assert.True(t, ok)
}

func TestIsSuspiciousUserAgent(t *testing.T) {
	assert.True(t, IsSuspiciousUserAgent("Googlebot/2.1"))
	assert.True(t, IsSuspiciousUserAgent("My-Scraper"))
	assert.False(t, IsSuspiciousUserAgent("Mozilla/5.0 (X11; Linux x86_64)"))
	assert.False(t, IsSuspiciousUserAgent(""))
}
