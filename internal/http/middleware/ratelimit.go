// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file throttles each kiosk terminal with its own token bucket. A cache
// miss on a membership lookup costs a CRM call, so one stuck barcode scanner
// must not be able to spend the CRM quota of the whole site. Requests that
// never passed KioskIdentity are bucketed by client IP instead.
package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const (
	// Buckets idle for longer than bucketIdleTTL are forgotten.
	bucketIdleTTL = 10 * time.Minute
	// The bucket map is swept at most once per sweepInterval.
	sweepInterval = time.Minute
)

// keyFunc maps a request to the identity its bucket is keyed by.
type keyFunc func(*gin.Context) string

// KeyByKioskOrIP keys buckets by "kiosk:<id>", or "ip:<addr>" when the
// request carries no kiosk identity.
func KeyByKioskOrIP() keyFunc {
	return func(c *gin.Context) string {
		if id := KioskID(c); id != "" {
			return "kiosk:" + id
		}
		return "ip:" + c.ClientIP()
	}
}

type terminalBucket struct {
	lim  *rate.Limiter
	seen time.Time
}

// RateLimiter holds one token bucket per terminal. Safe for concurrent use.
type RateLimiter struct {
	limit rate.Limit
	burst int
	keyFn keyFunc
	now   func() time.Time

	mu        sync.Mutex
	buckets   map[string]*terminalBucket
	nextSweep time.Time
}

// NewRateLimiter allows rps requests per second per terminal with the given
// burst; a burst below 1 is raised to 1.
func NewRateLimiter(rps float64, burst int, keyFn keyFunc) *RateLimiter {
	return &RateLimiter{
		limit:   rate.Limit(rps),
		burst:   max(1, burst),
		keyFn:   keyFn,
		now:     time.Now,
		buckets: make(map[string]*terminalBucket),
	}
}

// bucket returns the limiter for key, creating it on first use. Idle buckets
// are swept before the lookup, so a long-idle terminal starts with a full
// bucket again.
func (rl *RateLimiter) bucket(key string) *rate.Limiter {
	now := rl.now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if !now.Before(rl.nextSweep) {
		for k, b := range rl.buckets {
			if now.Sub(b.seen) >= bucketIdleTTL {
				delete(rl.buckets, k)
			}
		}
		rl.nextSweep = now.Add(sweepInterval)
	}

	b, ok := rl.buckets[key]
	if !ok {
		b = &terminalBucket{lim: rate.NewLimiter(rl.limit, rl.burst)}
		rl.buckets[key] = b
	}
	b.seen = now
	return b.lim
}

// tracked is the number of live buckets.
func (rl *RateLimiter) tracked() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.buckets)
}

// IsRateBypass reports whether IdempotencyValidator recognised this request
// as a replay. Replays are answered from stored state and cost no tokens.
func IsRateBypass(c *gin.Context) bool {
	b, _ := c.Value(ctxKeyRateBypass).(bool)
	return b
}

// Handler rejects requests over the terminal's budget with 429, a
// Retry-After header and the standard error envelope.
func (rl *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if IsRateBypass(c) || rl.bucket(rl.keyFn(c)).Allow() {
			c.Next()
			return
		}

		rateLimited.WithLabelValues(kioskLabel(c)).Inc()
		c.Header("Retry-After", strconv.Itoa(rl.retryAfter()))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"request_id": RequestIDFrom(c),
			"kiosk_id":   KioskID(c),
			"code":       "too_many_requests",
			"message":    "too many requests from this kiosk, try again shortly",
			"retryable":  true,
		})
	}
}

// retryAfter is the whole number of seconds until one token is replenished,
// never less than 1.
func (rl *RateLimiter) retryAfter() int {
	if rl.limit <= 0 {
		return 1
	}
	return max(1, int(math.Ceil(1/float64(rl.limit))))
}
