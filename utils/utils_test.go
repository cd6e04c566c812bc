package utils

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Circuit Breaker Tests

func failing() (any, error) { return nil, errors.New("failure") }

func TestCircuitBreaker_NewCircuitBreaker(t *testing.T) {
	cb := NewCircuitBreaker("momo")

	assert.Equal(t, "momo", cb.Name())
	assert.Equal(t, uint32(20), cb.minRequests)
	assert.Equal(t, 60*time.Second, cb.interval)
	assert.Equal(t, 30*time.Second, cb.timeout)
	assert.Equal(t, 0.6, cb.failureRatio)
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_ExecuteSuccess(t *testing.T) {
	cb := NewCircuitBreaker("test")

	result, err := cb.Execute(context.Background(), func() (any, error) {
		return "success", nil
	})

	assert.NoError(t, err)
	assert.Equal(t, "success", result)
	assert.Equal(t, StateClosed, cb.state)
	assert.Equal(t, uint32(1), cb.counts.Requests)
	assert.Equal(t, uint32(1), cb.counts.TotalSuccesses)
}

func TestCircuitBreaker_ExecuteFailure(t *testing.T) {
	cb := NewCircuitBreaker("test")
	expectedError := errors.New("test error")

	result, err := cb.Execute(context.Background(), func() (any, error) {
		return nil, expectedError
	})

	assert.Equal(t, expectedError, err)
	assert.Nil(t, result)
	assert.Equal(t, uint32(1), cb.counts.TotalFailures)
}

func TestCircuitBreaker_ClosedToOpen(t *testing.T) {
	var transitions []string
	cb := NewCircuitBreaker("test",
		WithMinRequests(5),
		WithFailureRatio(0.6),
		WithStateChange(func(_ string, from, to State) {
			transitions = append(transitions, from.String()+"->"+to.String())
		}),
	)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := cb.Execute(ctx, func() (any, error) { return "ok", nil })
		require.NoError(t, err)
	}
	for i := 0; i < 3; i++ {
		_, err := cb.Execute(ctx, failing)
		require.Error(t, err)
	}
	// 3/5 failures
	assert.Equal(t, StateOpen, cb.state)
	assert.Equal(t, []string{"closed->open"}, transitions)

	_, err := cb.Execute(ctx, func() (any, error) {
		t.Fatal("request executed while open")
		return nil, nil
	})
	assert.ErrorIs(t, err, ErrOpenState)
}

func TestCircuitBreaker_HalfOpenRecovery(t *testing.T) {
	cb := NewCircuitBreaker("test", WithMinRequests(2), WithFailureRatio(0.5), WithOpenTimeout(50*time.Millisecond))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		cb.Execute(ctx, failing)
	}
	require.Equal(t, StateOpen, cb.State())

	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, StateHalfOpen, cb.State())

	result, err := cb.Execute(ctx, func() (any, error) { return "recovered", nil })
	assert.NoError(t, err)
	assert.Equal(t, "recovered", result)
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker("test", WithMinRequests(2), WithFailureRatio(0.5), WithOpenTimeout(50*time.Millisecond))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		cb.Execute(ctx, failing)
	}
	time.Sleep(80 * time.Millisecond)

	_, err := cb.Execute(ctx, failing)
	assert.EqualError(t, err, "failure")
	assert.Equal(t, StateOpen, cb.State())
}

func TestCircuitBreaker_CancelledContextSkipsRequest(t *testing.T) {
	cb := NewCircuitBreaker("test")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := cb.Execute(ctx, func() (any, error) {
		t.Fatal("request executed with cancelled context")
		return nil, nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, uint32(0), cb.counts.Requests)
}

func TestCircuitBreaker_ConcurrentAccess(t *testing.T) {
	cb := NewCircuitBreaker("concurrent-test", WithMinRequests(1000))
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	successCount := 0

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			_, err := cb.Execute(ctx, func() (any, error) {
				if id%10 == 0 {
					return nil, errors.New("simulated failure")
				}
				return "success", nil
			})
			if err == nil {
				mu.Lock()
				successCount++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 90, successCount)
	assert.Equal(t, uint32(100), cb.counts.Requests)
}

func TestCircuitBreaker_PanicRecovery(t *testing.T) {
	cb := NewCircuitBreaker("panic-test")
	ctx := context.Background()

	assert.Panics(t, func() {
		cb.Execute(ctx, func() (any, error) {
			panic("test panic")
		})
	})

	result, err := cb.Execute(ctx, func() (any, error) {
		return "recovery", nil
	})
	assert.NoError(t, err)
	assert.Equal(t, "recovery", result)
}

func TestCircuitBreaker_ReadyToTrip(t *testing.T) {
	cb := NewCircuitBreaker("trip-test")

	tests := []struct {
		name         string
		requests     uint32
		failures     uint32
		minRequests  uint32
		failureRatio float64
		expected     bool
	}{
		{"not enough requests", 5, 5, 10, 0.5, false},
		{"high failure ratio", 10, 8, 10, 0.6, true},
		{"low failure ratio", 10, 3, 10, 0.6, false},
		{"exact threshold", 10, 6, 10, 0.6, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cb.minRequests = tt.minRequests
			cb.failureRatio = tt.failureRatio
			cb.counts.Requests = tt.requests
			cb.counts.TotalFailures = tt.failures

			assert.Equal(t, tt.expected, cb.readyToTrip())
		})
	}
}

// Redis Client Tests

func TestRedisHealthCheck_Success(t *testing.T) {
	db, mock := redismock.NewClientMock()
	mock.ExpectPing().SetVal("PONG")

	assert.NoError(t, RedisHealthCheck(context.Background(), db))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisHealthCheck_Failure(t *testing.T) {
	db, mock := redismock.NewClientMock()
	mock.ExpectPing().SetErr(errors.New("connection failed"))

	err := RedisHealthCheck(context.Background(), db)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis health check failed")
	assert.Contains(t, err.Error(), "connection failed")
	assert.NoError(t, mock.ExpectationsWereMet())
}

// Random / hash helpers

func TestGenerateReference(t *testing.T) {
	ref, err := GenerateReference("CASH")
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(ref, "CASH_"))
	assert.Len(t, ref, len("CASH_")+8)
	assert.Equal(t, strings.ToUpper(ref), ref)

	other, err := GenerateReference("CASH")
	require.NoError(t, err)
	assert.NotEqual(t, ref, other)
}

func TestPasswordHash(t *testing.T) {
	hash, err := GenerateHash("s3cret-pass")
	require.NoError(t, err)

	assert.NotEqual(t, "s3cret-pass", hash)
	assert.True(t, CompareHash(hash, "s3cret-pass"))
	assert.False(t, CompareHash(hash, "wrong"))
}

func TestHmac256(t *testing.T) {
	// well-known HMAC-SHA256 vector
	got := Hmac256("The quick brown fox jumps over the lazy dog", "key")
	assert.Equal(t, "f7bc83f430538424b13298e6aa6fb143ef4d59a14946175997479dbc2d1a3cd8", got)
	assert.True(t, HmacEqual(got, Hmac256("The quick brown fox jumps over the lazy dog", "key")))
	assert.False(t, HmacEqual(got, Hmac256("other", "key")))
}

// Benchmark Tests

func BenchmarkCircuitBreaker_Execute_Success(b *testing.B) {
	cb := NewCircuitBreaker("benchmark")
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		cb.Execute(ctx, func() (any, error) {
			return "success", nil
		})
	}
}

// JWT

func TestTokenRoundTrip(t *testing.T) {
	token, err := CreateToken("secret", 7, TokenAccess, time.Minute)
	require.NoError(t, err)

	claims, err := ValidateToken("secret", token, TokenAccess)
	require.NoError(t, err)
	assert.Equal(t, int64(7), claims.UserID)
	assert.Equal(t, "7", claims.Subject)
}

func TestTokenRejectsWrongTypeSecretAndExpiry(t *testing.T) {
	access, err := CreateToken("secret", 7, TokenAccess, time.Minute)
	require.NoError(t, err)

	_, err = ValidateToken("secret", access, TokenRefresh)
	assert.ErrorIs(t, err, ErrTokenType)

	_, err = ValidateToken("other", access, TokenAccess)
	assert.Error(t, err)

	expired, err := CreateToken("secret", 7, TokenAccess, -time.Minute)
	require.NoError(t, err)
	_, err = ValidateToken("secret", expired, TokenAccess)
	assert.Error(t, err)

	_, err = ValidateToken("secret", "", TokenAccess)
	assert.Error(t, err)
}
