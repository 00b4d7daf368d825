package middleware

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"junction-backend/internal/database"
	apperrors "junction-backend/pkg/errors"
	"junction-backend/pkg/logger"
	"junction-backend/pkg/response"
)

// RateLimiter is a fixed-window limiter keyed by user (or IP before auth)
type RateLimiter struct {
	client   *database.RedisClient
	prefix   string
	requests int
	window   time.Duration
	now      func() time.Time
}

// NewRateLimiter creates a new rate limiter.
// requests is the maximum number of requests allowed per window.
func NewRateLimiter(client *database.RedisClient, prefix string, requests int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		client:   client,
		prefix:   prefix,
		requests: requests,
		window:   window,
		now:      time.Now,
	}
}

// Middleware returns a Gin middleware for rate limiting
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		identifier := "ip:" + c.ClientIP()
		if userID, ok := UserID(c); ok {
			identifier = "user:" + userID
		}

		allowed, remaining, resetAt, err := rl.checkRateLimit(c.Request.Context(), identifier)
		if err != nil {
			// Fail-open while Redis is unavailable.
			logger.Debug("Rate limit check skipped", zap.String("identifier", identifier), zap.Error(err))
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(rl.requests))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(resetAt, 10))

		if !allowed {
			response.AppError(c, apperrors.RateLimitExceededError())
			c.Abort()
			return
		}

		c.Next()
	}
}

// checkRateLimit counts the request in the current window
func (rl *RateLimiter) checkRateLimit(ctx context.Context, identifier string) (bool, int, int64, error) {
	if rl.client == nil {
		return false, 0, 0, database.ErrRedisDegraded
	}
	windowSeconds := int64(rl.window / time.Second)
	if windowSeconds <= 0 {
		windowSeconds = 1
	}
	windowStart := rl.now().Unix() / windowSeconds * windowSeconds
	key := fmt.Sprintf("ratelimit:%s:%s:%d", rl.prefix, identifier, windowStart)

	count, err := rl.client.SafeIncr(ctx, key).Result()
	if err != nil {
		return false, 0, 0, fmt.Errorf("failed to increment rate limit: %w", err)
	}
	if count == 1 {
		if err := rl.client.SafeExpire(ctx, key, rl.window).Err(); err != nil {
			return false, 0, 0, fmt.Errorf("failed to set rate limit expiry: %w", err)
		}
	}

	remaining := rl.requests - int(count)
	if remaining < 0 {
		remaining = 0
	}

	return int(count) <= rl.requests, remaining, windowStart + windowSeconds, nil
}
