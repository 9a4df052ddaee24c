package api

import (
	"net/http"
	"sync/atomic"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/nghyane/copilot-gateway/internal/config"
	log "github.com/nghyane/copilot-gateway/internal/logging"
)

// RateLimiter throttles completion requests with a token bucket. The limit
// can be swapped at runtime when the config reloads.
type RateLimiter struct {
	limiter atomic.Pointer[rate.Limiter]
	wait    atomic.Bool
}

func NewRateLimiter(cfg config.RateLimitConfig) *RateLimiter {
	r := &RateLimiter{}
	r.Update(cfg)
	return r
}

// Update replaces the bucket. A non-positive rate disables limiting.
func (r *RateLimiter) Update(cfg config.RateLimitConfig) {
	r.wait.Store(cfg.Wait)
	if cfg.RequestsPerSecond <= 0 {
		r.limiter.Store(nil)
		return
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	r.limiter.Store(rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst))
}

func (r *RateLimiter) Enabled() bool {
	return r.limiter.Load() != nil
}

// Middleware blocks until a token is available in wait mode, otherwise it
// rejects with 429. onReject may be nil.
func (r *RateLimiter) Middleware(onReject func()) gin.HandlerFunc {
	return func(c *gin.Context) {
		l := r.limiter.Load()
		if l == nil {
			c.Next()
			return
		}
		if r.wait.Load() {
			if err := l.Wait(c.Request.Context()); err != nil {
				log.Debugf("rate limit wait aborted: %v", err)
				if onReject != nil {
					onReject()
				}
				abortWithError(c, http.StatusTooManyRequests, "Rate limit exceeded")
				return
			}
			c.Next()
			return
		}
		if !l.Allow() {
			if onReject != nil {
				onReject()
			}
			abortWithError(c, http.StatusTooManyRequests, "Rate limit exceeded")
			return
		}
		c.Next()
	}
}
