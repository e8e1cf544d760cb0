package resilience

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Verdict tells the retry driver what to do with an attempt's result.
type Verdict int

const (
	// Done means the attempt produced a usable value.
	Done Verdict = iota
	// Retry means the attempt failed in a way that may succeed if repeated.
	Retry
	// Fail means the attempt failed and repeating it cannot help.
	Fail
)

func (v Verdict) String() string {
	switch v {
	case Done:
		return "done"
	case Retry:
		return "retry"
	case Fail:
		return "fail"
	default:
		return "unknown"
	}
}

// Outcome is the explicit result of one attempt. Failure policy lives in the
// verdict, so it can be tested without any I/O.
type Outcome[T any] struct {
	Value   T
	Verdict Verdict
	Err     error
	// Wait overrides Policy.Delay before the next attempt when positive.
	// A zero Wait on a Retry verdict uses the policy delay; use RetryNow to
	// repeat immediately.
	Wait time.Duration
	now  bool
}

// Ok wraps a successful value.
func Ok[T any](v T) Outcome[T] {
	return Outcome[T]{Value: v, Verdict: Done}
}

// Retryable marks err as worth another attempt after the policy delay.
func Retryable[T any](err error) Outcome[T] {
	return Outcome[T]{Verdict: Retry, Err: err}
}

// RetryAfter marks err as worth another attempt after wait.
func RetryAfter[T any](err error, wait time.Duration) Outcome[T] {
	return Outcome[T]{Verdict: Retry, Err: err, Wait: wait}
}

// RetryNow marks err as worth another attempt with no delay.
func RetryNow[T any](err error) Outcome[T] {
	return Outcome[T]{Verdict: Retry, Err: err, now: true}
}

// Fatal stops the driver and surfaces err.
func Fatal[T any](err error) Outcome[T] {
	return Outcome[T]{Verdict: Fail, Err: err}
}

// Policy bounds a retry loop.
type Policy struct {
	// MaxAttempts is the total number of attempts including the first.
	// Values below 1 mean a single attempt.
	MaxAttempts int

	// Delay is the fixed pause between attempts.
	Delay time.Duration

	// OnRetry is called before each pause with the 1-based attempt that
	// just failed.
	OnRetry func(attempt int, err error)
}

// Drive calls fn until it returns Done or Fail, the attempt budget runs out,
// or ctx is cancelled. fn receives the 1-based attempt number. When the
// budget is exhausted the last attempt's error is returned unchanged.
func Drive[T any](ctx context.Context, p Policy, fn func(ctx context.Context, attempt int) Outcome[T]) (T, error) {
	var zero T
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		out := fn(ctx, attempt)
		switch out.Verdict {
		case Done:
			return out.Value, nil
		case Fail:
			return zero, out.Err
		}
		lastErr = out.Err

		if ctx.Err() != nil || attempt == maxAttempts {
			break
		}

		if p.OnRetry != nil {
			p.OnRetry(attempt, lastErr)
		}

		wait := p.Delay
		if out.Wait > 0 {
			wait = out.Wait
		}
		if out.now {
			wait = 0
		}
		if err := sleep(ctx, wait); err != nil {
			return zero, lastErr
		}
	}

	return zero, lastErr
}

// Do retries fn on any error other than context cancellation.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	_, err := Drive(ctx, p, func(ctx context.Context, _ int) Outcome[struct{}] {
		err := fn(ctx)
		switch {
		case err == nil:
			return Ok(struct{}{})
		case ctx.Err() != nil:
			return Fatal[struct{}](err)
		default:
			return Retryable[struct{}](err)
		}
	})
	return err
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// RetryLogger returns an OnRetry callback that logs each retry attempt.
func RetryLogger(service, operation string) func(int, error) {
	return func(attempt int, err error) {
		zap.L().Warn("retrying operation",
			zap.String("service", service),
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}
}
