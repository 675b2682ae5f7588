package enrichment

import (
	"context"
	"net/http"
	"testing"
	"time"
)

func fakeClockLimiter(rps int) (*rateLimiter, *time.Time) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	r := newRateLimiter(rps)
	r.now = func() time.Time { return now }
	return r, &now
}

func TestRateLimiter_ReservesConsecutiveSlots(t *testing.T) {
	r, now := fakeClockLimiter(4)

	for i, want := range []time.Duration{0, 250 * time.Millisecond, 500 * time.Millisecond} {
		if got := r.reserve(); got != want {
			t.Errorf("reservation %d waits %v, want %v", i, got, want)
		}
	}

	// an idle limiter does not bank slots
	*now = now.Add(time.Minute)
	if got := r.reserve(); got != 0 {
		t.Errorf("after idling, wait = %v, want 0", got)
	}
}

func TestRateLimiter_Pause(t *testing.T) {
	r, _ := fakeClockLimiter(1)

	r.pause(10 * time.Second)
	if got := r.reserve(); got != 10*time.Second {
		t.Errorf("wait after pause = %v, want 10s", got)
	}

	r.pause(time.Hour)
	if got := r.reserve(); got != maxPause {
		t.Errorf("pause should be capped at %v, got %v", maxPause, got)
	}
}

func TestRateLimiter_ObserveRetryAfter(t *testing.T) {
	tests := []struct {
		name   string
		status int
		header string
		want   time.Duration
	}{
		{"ok response ignored", http.StatusOK, "30", 0},
		{"429 with seconds", http.StatusTooManyRequests, "30", 30 * time.Second},
		{"429 without header", http.StatusTooManyRequests, "", rateLimitedPause},
		{"429 with garbage", http.StatusTooManyRequests, "soon", rateLimitedPause},
		{"503 with http date", http.StatusServiceUnavailable, "Thu, 01 Jan 2026 12:01:00 GMT", time.Minute},
		{"503 without header", http.StatusServiceUnavailable, "", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _ := fakeClockLimiter(1)
			resp := &http.Response{StatusCode: tt.status, Header: http.Header{}}
			if tt.header != "" {
				resp.Header.Set("Retry-After", tt.header)
			}

			r.observe(resp)
			if got := r.reserve(); got != tt.want {
				t.Errorf("wait = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRateLimiter_CancelledWaitReturnsPromptly(t *testing.T) {
	r := newRateLimiter(1)
	r.pause(time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	if err := r.Wait(ctx); err == nil {
		t.Fatal("expected context error")
	}
	if time.Since(start) > time.Second {
		t.Error("Wait ignored cancellation")
	}
}
