// Package ratelimit throttles API callers with a token bucket per caller.
package ratelimit

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/clearhold/clearhold/internal/auth"
)

// staleAfter is how long an idle bucket survives before cleanup.
const staleAfter = 5 * time.Minute

// Limiter hands out tokens at a fixed per-second rate with a burst
// allowance, one bucket per caller.
type Limiter struct {
	rps   float64
	burst float64
	now   func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket
	stop    chan struct{}
}

type bucket struct {
	tokens float64
	filled time.Time
}

// New creates a limiter allowing rps sustained requests per second per
// caller, with bursts up to twice that.
func New(rps int) *Limiter {
	if rps <= 0 {
		rps = 1
	}
	l := &Limiter{
		rps:     float64(rps),
		burst:   float64(2 * rps),
		now:     time.Now,
		buckets: make(map[string]*bucket),
		stop:    make(chan struct{}),
	}
	go l.reap()
	return l
}

// Stop halts the background cleanup.
func (l *Limiter) Stop() {
	close(l.stop)
}

// Allow takes one token from the caller's bucket, reporting whether the
// request may proceed.
func (l *Limiter) Allow(key string) bool {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		l.buckets[key] = &bucket{tokens: l.burst - 1, filled: now}
		return true
	}

	b.tokens += now.Sub(b.filled).Seconds() * l.rps
	if b.tokens > l.burst {
		b.tokens = l.burst
	}
	b.filled = now

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

func (l *Limiter) reap() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			cutoff := l.now().Add(-staleAfter)
			l.mu.Lock()
			for key, b := range l.buckets {
				if b.filled.Before(cutoff) {
					delete(l.buckets, key)
				}
			}
			l.mu.Unlock()
		case <-l.stop:
			return
		}
	}
}

// Middleware throttles by authenticated principal when one is set, falling
// back to client IP for unauthenticated routes.
func (l *Limiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := auth.Caller(c)
		if key == "" {
			key = c.ClientIP()
		}
		if !l.Allow(key) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":   "rate_limited",
				"message": "Too many requests, slow down",
			})
			return
		}
		c.Next()
	}
}
