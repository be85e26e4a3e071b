package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// RateLimitMiddleware throttles callers with fixed windows counted in
// Redis, shared across instances. When Redis is unreachable it degrades to
// a process-local token bucket rather than failing open completely.
type RateLimitMiddleware struct {
	redisClient *redis.Client
	config      *RateLimitConfig
	fallback    *rate.Limiter
}

type RateLimitConfig struct {
	IPRequestsPerMinute   int
	UserRequestsPerMinute int
	// FundsRequestsPerMinute bounds the endpoints that move money.
	FundsRequestsPerMinute int
}

func NewRateLimitMiddleware(redisClient *redis.Client, config *RateLimitConfig) *RateLimitMiddleware {
	if config == nil {
		config = &RateLimitConfig{
			IPRequestsPerMinute:    120,
			UserRequestsPerMinute:  60,
			FundsRequestsPerMinute: 20,
		}
	}
	return &RateLimitMiddleware{
		redisClient: redisClient,
		config:      config,
		fallback:    rate.NewLimiter(rate.Every(time.Second), 50),
	}
}

// IPRateLimit throttles by client address, for unauthenticated endpoints.
func (r *RateLimitMiddleware) IPRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := fmt.Sprintf("ratelimit:ip:%s", c.ClientIP())
		r.enforce(c, key, r.config.IPRequestsPerMinute)
	}
}

// UserRateLimit throttles by authenticated user.
func (r *RateLimitMiddleware) UserRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := c.Get("user_id")
		if !ok {
			c.Next()
			return
		}
		key := fmt.Sprintf("ratelimit:user:%d", userID.(int64))
		r.enforce(c, key, r.config.UserRequestsPerMinute)
	}
}

// FundsRateLimit applies the tighter limit for fund-moving endpoints.
func (r *RateLimitMiddleware) FundsRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := c.Get("user_id")
		if !ok {
			c.Next()
			return
		}
		key := fmt.Sprintf("ratelimit:funds:%d", userID.(int64))
		r.enforce(c, key, r.config.FundsRequestsPerMinute)
	}
}

func (r *RateLimitMiddleware) enforce(c *gin.Context, key string, limit int) {
	ctx := c.Request.Context()

	count, err := r.redisClient.Incr(ctx, key).Result()
	if err != nil {
		if !r.fallback.Allow() {
			r.reject(c, limit)
			return
		}
		c.Next()
		return
	}
	if count == 1 {
		r.redisClient.Expire(ctx, key, time.Minute)
	}

	remaining := int64(limit) - count
	if remaining < 0 {
		remaining = 0
	}
	c.Header("X-RateLimit-Limit", fmt.Sprintf("%d", limit))
	c.Header("X-RateLimit-Remaining", fmt.Sprintf("%d", remaining))

	if count > int64(limit) {
		r.reject(c, limit)
		return
	}
	c.Next()
}

func (r *RateLimitMiddleware) reject(c *gin.Context, limit int) {
	c.Header("Retry-After", "60")
	c.JSON(http.StatusTooManyRequests, gin.H{
		"error": "rate limit exceeded",
		"limit": limit,
	})
	c.Abort()
}
