package webhooks

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func failing(status int) Outcome { return Outcome{Status: status, Err: "HTTP 503"} }

func TestBestEffortOnceNeverRetries(t *testing.T) {
	calls := 0
	out, n := BestEffortOnce{}.Execute(context.Background(), func(ctx context.Context, attempt int) Outcome {
		calls++
		return failing(503)
	})
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, n)
	assert.False(t, out.Success())
}

func TestRetryWithBackoffDelays(t *testing.T) {
	var slept []time.Duration
	p := NewRetryWithBackoff(3, 2*time.Second)
	p.Sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	var seen []int
	out, n := p.Execute(context.Background(), func(ctx context.Context, attempt int) Outcome {
		seen = append(seen, attempt)
		return failing(503)
	})
	assert.Equal(t, 3, n)
	assert.Equal(t, []int{1, 2, 3}, seen)
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, slept)
	assert.Equal(t, "HTTP 503", out.Err)
}

func TestRetryWithBackoffStopsOnSuccess(t *testing.T) {
	p := NewRetryWithBackoff(3, time.Second)
	p.Sleep = func(context.Context, time.Duration) error { return nil }
	out, n := p.Execute(context.Background(), func(ctx context.Context, attempt int) Outcome {
		if attempt == 2 {
			return Outcome{Status: 200}
		}
		return failing(503)
	})
	assert.Equal(t, 2, n)
	assert.True(t, out.Success())
}

func TestRetryWithBackoffStopsWhenCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := NewRetryWithBackoff(5, time.Hour)
	calls := 0
	_, n := p.Execute(ctx, func(ctx context.Context, attempt int) Outcome {
		calls++
		cancel()
		return failing(503)
	})
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, n)
}

func TestRetryWithBackoffDelayIsCapped(t *testing.T) {
	p := NewRetryWithBackoff(50, 10*time.Minute)
	assert.Equal(t, 10*time.Minute, p.Delay(1))
	assert.Equal(t, 40*time.Minute, p.Delay(3))
	assert.Equal(t, time.Hour, p.Delay(30))
}

func TestOutcomeLabel(t *testing.T) {
	assert.Equal(t, "success", Outcome{Status: 204}.Label())
	assert.Equal(t, "timeout", Outcome{Err: "timeout after 1s", TimedOut: true}.Label())
	assert.Equal(t, "transport_error", Outcome{Err: "refused"}.Label())
	assert.Equal(t, "http_error", Outcome{Status: 302, Err: "HTTP 302"}.Label())
	assert.Equal(t, "timeout after 30s", timeoutMessage(30*time.Second))
	assert.Equal(t, "timeout after 1.5s", timeoutMessage(1500*time.Millisecond))
}
