package middleware

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"golang.org/x/time/rate"

	"github.com/vhvplatform/go-notification-dispatch/internal/metrics"
)

// OrgRateLimiter manages API rate limiters per organization
type OrgRateLimiter struct {
	limiters map[string]*rate.Limiter
	mu       sync.RWMutex
	rate     rate.Limit
	burst    int
}

// NewOrgRateLimiter creates a new per-organization API rate limiter
func NewOrgRateLimiter(rps float64, burst int) *OrgRateLimiter {
	return &OrgRateLimiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     rate.Limit(rps),
		burst:    burst,
	}
}

// GetLimiter returns the rate limiter for a specific organization
func (rl *OrgRateLimiter) GetLimiter(orgID string) *rate.Limiter {
	rl.mu.RLock()
	limiter, exists := rl.limiters[orgID]
	rl.mu.RUnlock()

	if !exists {
		rl.mu.Lock()
		// Double-check after acquiring write lock
		limiter, exists = rl.limiters[orgID]
		if !exists {
			limiter = rate.NewLimiter(rl.rate, rl.burst)
			rl.limiters[orgID] = limiter
		}
		rl.mu.Unlock()
	}

	return limiter
}

// RateLimitMiddleware creates a rate limiting middleware keyed by org_id
func RateLimitMiddleware(rl *OrgRateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Query parameter first, it doesn't consume the body
		orgID := c.Query("org_id")

		if orgID == "" {
			var req struct {
				OrgID string `json:"org_id"`
			}
			// ShouldBindBodyWith allows binding without consuming the body
			if err := c.ShouldBindBodyWith(&req, binding.JSON); err == nil {
				orgID = req.OrgID
			}
		}

		// If still empty, allow through (will fail validation later)
		if orgID == "" {
			c.Next()
			return
		}

		limiter := rl.GetLimiter(orgID)

		if !limiter.Allow() {
			metrics.APIRateLimited.WithLabelValues(orgID).Inc()
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error": "Rate limit exceeded. Please try again later.",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}
