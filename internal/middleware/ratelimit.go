package middleware

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// clientLimiters 按客户端 IP 维护令牌桶。条目只增不减：
// 客户端基数有限，过期回收不值得加锁复杂度。
type clientLimiters struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
}

func (cl *clientLimiters) get(key string) *rate.Limiter {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	if l, ok := cl.limiters[key]; ok {
		return l
	}
	l := rate.NewLimiter(cl.rps, cl.burst)
	cl.limiters[key] = l
	return l
}

// RateLimitMiddleware throttles per client IP. Applies to the
// trade-writing routes only; reads are unthrottled.
func RateLimitMiddleware(rps float64, burst int) gin.HandlerFunc {
	cl := &clientLimiters{
		limiters: make(map[string]*rate.Limiter),
		rps:      rate.Limit(rps),
		burst:    burst,
	}
	return func(c *gin.Context) {
		if !cl.get(c.ClientIP()).Allow() {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":       "rate limit exceeded",
				"retry_after": "1s",
			})
			c.Abort()
			return
		}
		c.Next()
	}
}
