package middleware

import (
	"encoding/json"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// RateLimiter keeps one token bucket per peer address. Buckets idle for
// longer than idleTTL are swept by a background goroutine until Stop.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	idleTTL time.Duration
	now     func() time.Time
	stop    chan struct{}
	once    sync.Once
}

type bucket struct {
	tokens float64
	seen   time.Time
}

func NewRateLimiter(cleanupInterval time.Duration) *RateLimiter {
	rl := &RateLimiter{
		buckets: make(map[string]*bucket),
		idleTTL: 2 * cleanupInterval,
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	if cleanupInterval > 0 {
		go rl.sweepEvery(cleanupInterval)
	}
	return rl
}

// Stop ends the sweeper. It is safe to call more than once.
func (rl *RateLimiter) Stop() {
	rl.once.Do(func() { close(rl.stop) })
}

// Limit admits limit requests per window from each peer address, refilling
// continuously. A non-positive limit or window disables it.
func (rl *RateLimiter) Limit(limit int, window time.Duration) Middleware {
	return func(next http.Handler) http.Handler {
		if limit <= 0 || window <= 0 {
			return next
		}
		perSecond := float64(limit) / window.Seconds()
		retryAfter := strconv.Itoa(int(math.Ceil(1 / perSecond)))

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !rl.take(clientIP(r), float64(limit), perSecond) {
				w.Header().Set("Retry-After", retryAfter)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": "rate limit exceeded"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP drops the port so that every connection of one peer shares a
// bucket.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (rl *RateLimiter) take(key string, capacity, perSecond float64) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{tokens: capacity, seen: now}
		rl.buckets[key] = b
	}
	b.tokens = math.Min(capacity, b.tokens+now.Sub(b.seen).Seconds()*perSecond)
	b.seen = now

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

func (rl *RateLimiter) sweep() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := rl.now()
	for key, b := range rl.buckets {
		if now.Sub(b.seen) > rl.idleTTL {
			delete(rl.buckets, key)
		}
	}
}

func (rl *RateLimiter) sweepEvery(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-rl.stop:
			return
		case <-ticker.C:
			rl.sweep()
		}
	}
}
