package middleware

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"launchpad/internal/db"
	"launchpad/internal/logging"

	"github.com/gin-gonic/gin"
)

// Class is one rate-limit bucket definition.
type Class struct {
	Name   string
	Max    int
	Window time.Duration
}

// The class table. The global class applies to every limited endpoint
// in addition to its own class; the tighter of the two wins.
var (
	ClassPrepare   = Class{"prepare", 10, time.Minute}
	ClassDeploy    = Class{"deploy", 5, time.Minute}
	ClassUpload    = Class{"upload", 3, time.Minute}
	ClassStatus    = Class{"status", 30, time.Minute}
	ClassSubdomain = Class{"subdomain", 20, time.Minute}
	ClassAuth      = Class{"auth", 10, 5 * time.Minute}
	ClassGlobal    = Class{"global", 100, time.Minute}
)

// RateLimiter enforces class-based token buckets in Redis so limits hold
// across replicas.
type RateLimiter struct {
	redis *db.RedisClient
}

// NewRateLimiter creates the limiter.
func NewRateLimiter(redis *db.RedisClient) *RateLimiter {
	return &RateLimiter{redis: redis}
}

// Limit returns middleware enforcing the class and the global class for
// the calling identity.
func (rl *RateLimiter) Limit(class Class) gin.HandlerFunc {
	return func(c *gin.Context) {
		caller := callerID(c)

		for _, cls := range []Class{class, ClassGlobal} {
			allowed, retryAfter, err := rl.take(c.Request.Context(), cls, caller)
			if err != nil {
				// The limiter never takes the platform down.
				logging.S().Warnw("rate limiter unavailable",
					"class", cls.Name, "error", err)
				continue
			}
			if !allowed {
				c.Header("Retry-After", strconv.Itoa(retryAfter))
				c.AbortWithStatusJSON(429, gin.H{
					"error": gin.H{
						"code":    "rate_limited",
						"message": fmt.Sprintf("too many requests; retry in %ds", retryAfter),
					},
				})
				return
			}
		}
		c.Next()
	}
}

// take increments the caller's window counter.
func (rl *RateLimiter) take(ctx context.Context, class Class, caller string) (bool, int, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	key := fmt.Sprintf("rl:%s:%s", class.Name, caller)
	client := rl.redis.Client()

	count, err := client.Incr(ctx, key).Result()
	if err != nil {
		return false, 0, err
	}
	if count == 1 {
		// TTL slightly past the window so abandoned buckets age out.
		client.Expire(ctx, key, class.Window+5*time.Second)
	}
	if count > int64(class.Max) {
		ttl, err := client.TTL(ctx, key).Result()
		if err != nil || ttl < 0 {
			ttl = class.Window
		}
		return false, int(ttl.Seconds()) + 1, nil
	}
	return true, 0, nil
}

// callerID keys buckets by authenticated user, else client IP.
func callerID(c *gin.Context) string {
	if v, ok := c.Get("user_id"); ok {
		return fmt.Sprintf("u:%v", v)
	}
	return "ip:" + c.ClientIP()
}
