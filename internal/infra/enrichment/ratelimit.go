package enrichment

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"
)

const (
	// rateLimitedPause applies when a 429 carries no usable Retry-After.
	rateLimitedPause = 5 * time.Second
	maxPause         = 2 * time.Minute
)

// rateLimiter hands out request slots at least interval apart. A caller
// reserves its slot and sleeps without holding the lock, so a cancelled
// caller never delays the others.
type rateLimiter struct {
	mu       sync.Mutex
	interval time.Duration
	next     time.Time // earliest free slot
	now      func() time.Time
}

func newRateLimiter(requestsPerSecond int) *rateLimiter {
	if requestsPerSecond <= 0 {
		requestsPerSecond = 1
	}
	return &rateLimiter{
		interval: time.Second / time.Duration(requestsPerSecond),
		now:      time.Now,
	}
}

// reserve claims the next slot and returns how long to wait for it.
func (r *rateLimiter) reserve() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	slot := r.next
	if slot.Before(now) {
		slot = now
	}
	r.next = slot.Add(r.interval)
	return slot.Sub(now)
}

// Wait blocks until the caller's slot comes up.
func (r *rateLimiter) Wait(ctx context.Context) error {
	d := r.reserve()
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// pause moves the next free slot at least d into the future.
func (r *rateLimiter) pause(d time.Duration) {
	d = min(d, maxPause)
	r.mu.Lock()
	defer r.mu.Unlock()
	if until := r.now().Add(d); until.After(r.next) {
		r.next = until
	}
}

// observe pauses the limiter when the service said to slow down.
func (r *rateLimiter) observe(resp *http.Response) {
	if resp.StatusCode != http.StatusTooManyRequests && resp.StatusCode != http.StatusServiceUnavailable {
		return
	}
	d, ok := retryAfter(resp.Header, r.now())
	if !ok {
		if resp.StatusCode != http.StatusTooManyRequests {
			return
		}
		d = rateLimitedPause
	}
	r.pause(d)
}

// retryAfter parses a Retry-After header given in seconds or as an HTTP date.
func retryAfter(h http.Header, now time.Time) (time.Duration, bool) {
	v := h.Get("Retry-After")
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0, false
		}
		return time.Duration(secs) * time.Second, true
	}
	if t, err := http.ParseTime(v); err == nil {
		return max(t.Sub(now), 0), true
	}
	return 0, false
}
