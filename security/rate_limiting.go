package security

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateLimiter is a fixed-window request counter shared by every backend
// instance through Redis.
type RateLimiter struct {
	redis  redis.Cmdable
	limit  int64
	window time.Duration
}

func NewRateLimiter(redisClient redis.Cmdable, perMinute int) *RateLimiter {
	if perMinute <= 0 {
		perMinute = 120
	}
	return &RateLimiter{redis: redisClient, limit: int64(perMinute), window: time.Minute}
}

func rateKey(identifier string) string {
	return fmt.Sprintf("ratelimit:%s", identifier)
}

// Allow counts one request for identifier and reports whether it is still
// within the window limit. Redis errors fail open.
func (r *RateLimiter) Allow(ctx context.Context, identifier string) (bool, error) {
	if r == nil || r.redis == nil {
		return true, nil
	}

	key := rateKey(identifier)
	count, err := r.redis.Incr(ctx, key).Result()
	if err != nil {
		return true, err
	}
	if count == 1 {
		if err := r.redis.Expire(ctx, key, r.window).Err(); err != nil {
			return true, err
		}
	}
	return count <= r.limit, nil
}

// IsSuspiciousUserAgent flags obvious crawlers.
func IsSuspiciousUserAgent(ua string) bool {
	suspicious := []string{"bot", "crawler", "spider", "scraper"}
	ua = strings.ToLower(ua)
	for _, pattern := range suspicious {
		if strings.Contains(ua, pattern) {
			return true
		}
	}
	return false
}
