package middleware

import (
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// WebhookGuard is an in-process limiter in front of the webhook
// endpoints. Push deliveries are not keyed per-caller, so a plain token
// bucket absorbs redelivery storms without touching Redis.
func WebhookGuard(perSecond float64, burst int) gin.HandlerFunc {
	limiter := rate.NewLimiter(rate.Limit(perSecond), burst)
	return func(c *gin.Context) {
		if !limiter.Allow() {
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(429, gin.H{
				"error": gin.H{"code": "rate_limited", "message": "webhook burst exceeded"},
			})
			return
		}
		c.Next()
	}
}
