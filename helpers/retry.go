package helpers

import (
	"context"
	"time"

	"github.com/juju/errors"
)

// RetryPolicy repeats an operation with Backoff delays in between.
// MaxAttempts=0 means retry until success or context cancel.
type RetryPolicy struct {
	Backoff
	MaxAttempts int
}

func FixedRetry(delay time.Duration, maxAttempts int) *RetryPolicy {
	return &RetryPolicy{Backoff: FixedBackoff(delay), MaxAttempts: maxAttempts}
}

func (p *RetryPolicy) Unbounded() bool { return p.MaxAttempts <= 0 }

// Do calls op until it returns nil.
// Returns last op error annotated with attempt count when MaxAttempts is exhausted,
// or context error when ctx is done first.
func (p *RetryPolicy) Do(ctx context.Context, op func(attempt int) error) error {
	p.Reset()
	var err error
	for attempt := 1; ; attempt++ {
		if err = op(attempt); err == nil {
			return nil
		}
		if !p.Unbounded() && attempt >= p.MaxAttempts {
			return errors.Annotatef(err, "gave up after attempts=%d", attempt)
		}
		if e := SleepContext(ctx, p.Failure()); e != nil {
			return e
		}
	}
}

// SleepContext returns ctx.Err() if ctx is done before d passed.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
