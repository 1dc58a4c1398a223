package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestLimiter(t *testing.T) (*RateLimiter, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	rl := NewRateLimiter(0)
	rl.idleTTL = 10 * time.Minute
	rl.now = clock.now
	t.Cleanup(rl.Stop)
	return rl, clock
}

func hit(h http.Handler, addr string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/share/s1/sync/incremental", nil)
	req.RemoteAddr = addr
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
}

func TestRateLimiter_BurstThenBlock(t *testing.T) {
	rl, _ := newTestLimiter(t)
	h := rl.Limit(5, time.Minute)(okHandler())

	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusOK, hit(h, "10.0.0.1:4000").Code, "request %d", i)
	}

	rec := hit(h, "10.0.0.1:4000")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "12", rec.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"error":"rate limit exceeded"}`, rec.Body.String())
}

func TestRateLimiter_PeersIndependent(t *testing.T) {
	rl, _ := newTestLimiter(t)
	h := rl.Limit(1, time.Minute)(okHandler())

	assert.Equal(t, http.StatusOK, hit(h, "10.0.0.1:4000").Code)
	assert.Equal(t, http.StatusOK, hit(h, "10.0.0.2:4000").Code)
	assert.Equal(t, http.StatusTooManyRequests, hit(h, "10.0.0.1:4000").Code)
}

func TestRateLimiter_PortsShareBucket(t *testing.T) {
	rl, _ := newTestLimiter(t)
	h := rl.Limit(1, time.Minute)(okHandler())

	assert.Equal(t, http.StatusOK, hit(h, "10.0.0.4:1000").Code)
	rec := hit(h, "10.0.0.4:2000")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
}

func TestRateLimiter_Refill(t *testing.T) {
	rl, clock := newTestLimiter(t)
	h := rl.Limit(60, time.Minute)(okHandler())

	for i := 0; i < 60; i++ {
		hit(h, "10.0.0.3:1")
	}
	assert.Equal(t, http.StatusTooManyRequests, hit(h, "10.0.0.3:1").Code)

	clock.advance(time.Second)
	assert.Equal(t, http.StatusOK, hit(h, "10.0.0.3:1").Code)
	assert.Equal(t, http.StatusTooManyRequests, hit(h, "10.0.0.3:1").Code)

	// Refill never exceeds the burst size.
	clock.advance(time.Hour)
	for i := 0; i < 60; i++ {
		assert.Equal(t, http.StatusOK, hit(h, "10.0.0.3:1").Code)
	}
	assert.Equal(t, http.StatusTooManyRequests, hit(h, "10.0.0.3:1").Code)
}

func TestRateLimiter_Disabled(t *testing.T) {
	rl, _ := newTestLimiter(t)

	for _, h := range []http.Handler{
		rl.Limit(0, time.Minute)(okHandler()),
		rl.Limit(5, 0)(okHandler()),
	} {
		for i := 0; i < 10; i++ {
			assert.Equal(t, http.StatusOK, hit(h, "10.0.0.5:1").Code)
		}
	}
}

func TestRateLimiter_SweepDropsIdleBuckets(t *testing.T) {
	rl, clock := newTestLimiter(t)
	h := rl.Limit(1, time.Minute)(okHandler())

	hit(h, "10.0.0.6:1")
	hit(h, "10.0.0.7:1")
	clock.advance(5 * time.Minute)
	hit(h, "10.0.0.7:1")
	clock.advance(6 * time.Minute)

	rl.sweep()

	rl.mu.Lock()
	defer rl.mu.Unlock()
	assert.NotContains(t, rl.buckets, "10.0.0.6")
	assert.Contains(t, rl.buckets, "10.0.0.7")
}

func TestRateLimiter_StopTwice(t *testing.T) {
	rl := NewRateLimiter(time.Minute)
	rl.Stop()
	assert.NotPanics(t, rl.Stop)
}
