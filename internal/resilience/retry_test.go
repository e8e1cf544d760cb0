package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDrive_DoneOnFirstAttempt(t *testing.T) {
	var calls int
	v, err := Drive(context.Background(), Policy{MaxAttempts: 3}, func(_ context.Context, attempt int) Outcome[string] {
		calls++
		return Ok("page")
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != "page" {
		t.Errorf("expected value %q, got %q", "page", v)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestDrive_RetryThenDone(t *testing.T) {
	var attempts []int
	v, err := Drive(context.Background(), Policy{MaxAttempts: 3, Delay: time.Millisecond}, func(_ context.Context, attempt int) Outcome[int] {
		attempts = append(attempts, attempt)
		if attempt < 3 {
			return Retryable[int](errors.New("not yet"))
		}
		return Ok(42)
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 42 {
		t.Errorf("expected 42, got %d", v)
	}
	if len(attempts) != 3 || attempts[0] != 1 || attempts[2] != 3 {
		t.Errorf("expected attempts [1 2 3], got %v", attempts)
	}
}

func TestDrive_ExhaustedReturnsLastError(t *testing.T) {
	first := errors.New("first")
	last := errors.New("last")
	var calls int
	_, err := Drive(context.Background(), Policy{MaxAttempts: 2}, func(_ context.Context, attempt int) Outcome[int] {
		calls++
		if attempt == 1 {
			return RetryNow[int](first)
		}
		return RetryNow[int](last)
	})
	if !errors.Is(err, last) {
		t.Errorf("expected last error, got %v", err)
	}
	if calls != 2 {
		t.Errorf("expected 2 calls, got %d", calls)
	}
}

func TestDrive_FatalStopsImmediately(t *testing.T) {
	boom := errors.New("bad request")
	var calls int
	_, err := Drive(context.Background(), Policy{MaxAttempts: 5}, func(_ context.Context, _ int) Outcome[int] {
		calls++
		return Fatal[int](boom)
	})
	if !errors.Is(err, boom) {
		t.Errorf("expected fatal error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestDrive_ZeroAttemptsMeansOne(t *testing.T) {
	var calls int
	_, _ = Drive(context.Background(), Policy{}, func(_ context.Context, _ int) Outcome[int] {
		calls++
		return RetryNow[int](errors.New("x"))
	})
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestDrive_OnRetryCalledBetweenAttempts(t *testing.T) {
	var seen []int
	p := Policy{
		MaxAttempts: 3,
		OnRetry:     func(attempt int, _ error) { seen = append(seen, attempt) },
	}
	_, _ = Drive(context.Background(), p, func(_ context.Context, _ int) Outcome[int] {
		return RetryNow[int](errors.New("x"))
	})
	if len(seen) != 2 || seen[0] != 1 || seen[1] != 2 {
		t.Errorf("expected OnRetry for attempts [1 2], got %v", seen)
	}
}

func TestDrive_RetryAfterOverridesDelay(t *testing.T) {
	start := time.Now()
	_, _ = Drive(context.Background(), Policy{MaxAttempts: 2, Delay: time.Hour}, func(_ context.Context, _ int) Outcome[int] {
		return RetryAfter[int](errors.New("x"), 5*time.Millisecond)
	})
	if time.Since(start) > time.Second {
		t.Error("RetryAfter wait should override the policy delay")
	}
}

func TestDrive_ContextCancelledDuringWait(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	var calls int
	start := time.Now()
	_, err := Drive(ctx, Policy{MaxAttempts: 5, Delay: time.Minute}, func(_ context.Context, _ int) Outcome[int] {
		calls++
		return Retryable[int](errors.New("slow"))
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("expected 1 call before cancellation, got %d", calls)
	}
	if time.Since(start) > 5*time.Second {
		t.Error("cancellation should interrupt the wait")
	}
}

func TestDo_RetriesUntilSuccess(t *testing.T) {
	var calls int
	err := Do(context.Background(), Policy{MaxAttempts: 3}, func(_ context.Context) error {
		calls++
		if calls < 2 {
			return errors.New("deadlock detected")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 2 {
		t.Errorf("expected 2 calls, got %d", calls)
	}
}

func TestDo_StopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls int
	err := Do(ctx, Policy{MaxAttempts: 3}, func(_ context.Context) error {
		calls++
		cancel()
		return context.Canceled
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestFixedPolicy(t *testing.T) {
	p := FixedPolicy(0, -1)
	if p.MaxAttempts != 3 || p.Delay != time.Second {
		t.Errorf("expected defaults 3/1s, got %d/%s", p.MaxAttempts, p.Delay)
	}

	p = FixedPolicy(5, 250)
	if p.MaxAttempts != 5 || p.Delay != 250*time.Millisecond {
		t.Errorf("expected 5/250ms, got %d/%s", p.MaxAttempts, p.Delay)
	}
}

func TestVerdict_String(t *testing.T) {
	cases := map[Verdict]string{Done: "done", Retry: "retry", Fail: "fail", Verdict(9): "unknown"}
	for v, want := range cases {
		if v.String() != want {
			t.Errorf("Verdict(%d).String() = %q, want %q", int(v), v.String(), want)
		}
	}
}
