package middleware

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/transcribe/backend/internal/infrastructure/logger"
	"github.com/transcribe/backend/internal/interfaces/http/dto"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// DefaultRateLimiterCapacity bounds the number of tracked clients
const DefaultRateLimiterCapacity = 10000

// RateLimiter hands out one token bucket per client key. Buckets live in an
// expiring LRU so idle clients are forgotten without a cleanup goroutine.
type RateLimiter struct {
	buckets *expirable.LRU[string, *rate.Limiter]
	limit   int
	every   rate.Limit
}

// NewRateLimiter allows limit requests per window with bursts up to limit.
// limit must be positive.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		buckets: expirable.NewLRU[string, *rate.Limiter](DefaultRateLimiterCapacity, nil, 2*window),
		limit:   limit,
		every:   rate.Every(window / time.Duration(limit)),
	}
}

func (rl *RateLimiter) bucket(key string) *rate.Limiter {
	if b, ok := rl.buckets.Get(key); ok {
		return b
	}
	b := rate.NewLimiter(rl.every, rl.limit)
	// a concurrent first request may race here; the loser's bucket is
	// replaced and at most one extra request slips through
	rl.buckets.Add(key, b)
	return b
}

// Allow reports whether a request for key may proceed now
func (rl *RateLimiter) Allow(key string) bool {
	return rl.bucket(key).Allow()
}

// Remaining returns the whole tokens left for key
func (rl *RateLimiter) Remaining(key string) int {
	b, ok := rl.buckets.Peek(key)
	if !ok {
		return rl.limit
	}
	return int(math.Max(0, math.Floor(b.Tokens())))
}

// RetryAfter returns how long key has to wait for its next token
func (rl *RateLimiter) RetryAfter(key string) time.Duration {
	b, ok := rl.buckets.Peek(key)
	if !ok {
		return 0
	}
	r := b.Reserve()
	defer r.Cancel()
	return r.Delay()
}

// RateLimitKey keys authenticated requests by account and the rest by
// client IP
func RateLimitKey(c *gin.Context) string {
	if id, ok := GetAccountID(c); ok {
		return "account:" + id.String()
	}
	return "ip:" + c.ClientIP()
}

// RateLimit rejects requests beyond the limiter's rate with 429
func RateLimit(limiter *RateLimiter, keyFunc func(*gin.Context) string) gin.HandlerFunc {
	if keyFunc == nil {
		keyFunc = RateLimitKey
	}
	return func(c *gin.Context) {
		key := keyFunc(c)
		c.Header("X-RateLimit-Limit", strconv.Itoa(limiter.limit))

		if !limiter.Allow(key) {
			wait := limiter.RetryAfter(key)
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			c.Header("X-RateLimit-Remaining", "0")
			logger.GetGinLogger(c).Debug("Rate limit exceeded",
				zap.String("key", key),
				zap.Duration("retry_after", wait))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, dto.NewErrorResponse(
				dto.ErrCodeRateLimited,
				"Too many requests. Please try again later.",
				GetRequestID(c),
			))
			return
		}

		c.Header("X-RateLimit-Remaining", strconv.Itoa(limiter.Remaining(key)))
		c.Next()
	}
}
