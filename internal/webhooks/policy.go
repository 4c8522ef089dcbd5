package webhooks

import (
	"context"
	"time"
)

// AttemptFunc performs attempt number n (1-based).
type AttemptFunc func(ctx context.Context, n int) Outcome

// DeliveryPolicy decides how many times a single destination is tried.
type DeliveryPolicy interface {
	Execute(ctx context.Context, attempt AttemptFunc) (Outcome, int)
}

// BestEffortOnce tries exactly once. Fan-out deliveries use it.
type BestEffortOnce struct{}

func (BestEffortOnce) Execute(ctx context.Context, attempt AttemptFunc) (Outcome, int) {
	return attempt(ctx, 1), 1
}

// RetryWithBackoff retries until the first success or MaxAttempts, waiting
// BaseDelay, 2*BaseDelay, 4*BaseDelay... between attempts.
type RetryWithBackoff struct {
	MaxAttempts int
	BaseDelay   time.Duration
	// Sleep waits d or returns ctx.Err(); nil uses a timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

func NewRetryWithBackoff(maxAttempts int, baseDelay time.Duration) RetryWithBackoff {
	return RetryWithBackoff{MaxAttempts: maxAttempts, BaseDelay: baseDelay}
}

// Delay is the wait after failed attempt n.
func (p RetryWithBackoff) Delay(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	if n > 11 {
		n = 11
	}
	d := p.BaseDelay * time.Duration(1<<(n-1))
	if d > time.Hour {
		d = time.Hour
	}
	return d
}

func (p RetryWithBackoff) Execute(ctx context.Context, attempt AttemptFunc) (Outcome, int) {
	max := p.MaxAttempts
	if max < 1 {
		max = 1
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}
	var out Outcome
	for n := 1; ; n++ {
		out = attempt(ctx, n)
		if out.Success() || n >= max {
			return out, n
		}
		if err := sleep(ctx, p.Delay(n)); err != nil {
			return out, n
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
