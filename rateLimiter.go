package main

import (
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/factory_backend/config"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// RateLimiter counts requests per client IP in fixed redis windows.
type RateLimiter struct {
	client *redis.Client
	limit  int64
	window time.Duration
}

func NewRateLimiter(client *redis.Client, limit int64, window time.Duration) *RateLimiter {
	return &RateLimiter{client: client, limit: limit, window: window}
}

// rateLimiterFromEnv returns nil unless RATE_LIMIT_ENABLED=true.
// RATE_LIMIT_MAX_REQUESTS (600) per RATE_LIMIT_WINDOW_SECONDS (60).
func rateLimiterFromEnv() *RateLimiter {
	if !strings.EqualFold(strings.TrimSpace(os.Getenv("RATE_LIMIT_ENABLED")), "true") {
		return nil
	}
	client := redis.NewClient(&redis.Options{Addr: os.Getenv("REDIS_ADDRESS")})
	limit := positiveIntEnv("RATE_LIMIT_MAX_REQUESTS", 600)
	window := positiveIntEnv("RATE_LIMIT_WINDOW_SECONDS", 60)
	return NewRateLimiter(client, limit, time.Duration(window)*time.Second)
}

func positiveIntEnv(key string, def int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

// Middleware lets the request through when redis is unreachable.
func (rl *RateLimiter) Middleware(c *gin.Context) {
	key := "ratelimit:" + c.ClientIP()
	ctx := c.Request.Context()

	pipe := rl.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, rl.window)
	if _, err := pipe.Exec(ctx); err != nil {
		config.LoggerFromContext(ctx).WithFields(logrus.Fields{"field": "ratelimit"}).
			WithError(err).Warn("rate limit check failed")
		c.Next()
		return
	}

	count := incr.Val()
	remaining := rl.limit - count
	if remaining < 0 {
		remaining = 0
	}
	c.Header("X-RateLimit-Limit", strconv.FormatInt(rl.limit, 10))
	c.Header("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))

	if count > rl.limit {
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error": "Rate limit exceeded. Try again in " + strconv.Itoa(int(rl.window.Seconds())) + " seconds",
		})
		return
	}
	c.Next()
}
