package policy

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastPolicy(attempts int) RetryPolicy {
	return RetryPolicy{MaxAttempts: attempts, Delay: time.Millisecond, Backoff: BackoffFixed}
}

func TestDo_SucceedsFirstAttempt(t *testing.T) {
	calls := 0
	attempts, err := Do(context.Background(), fastPolicy(3), func(ctx context.Context, attempt int) error {
		calls++
		return nil
	}, nil)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if attempts != 1 || calls != 1 {
		t.Errorf("expected 1 attempt, got %d (calls %d)", attempts, calls)
	}
}

func TestDo_RetriesUntilSuccess(t *testing.T) {
	var retried []int
	attempts, err := Do(context.Background(), fastPolicy(3), func(ctx context.Context, attempt int) error {
		if attempt < 3 {
			return errors.New("flaky")
		}
		return nil
	}, func(attempt int, err error) {
		retried = append(retried, attempt)
	})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
	if len(retried) != 2 || retried[0] != 1 || retried[1] != 2 {
		t.Errorf("unexpected retry hooks: %v", retried)
	}
}

func TestDo_ExhaustedReturnsLastError(t *testing.T) {
	last := errors.New("attempt 3 failed")
	attempts, err := Do(context.Background(), fastPolicy(3), func(ctx context.Context, attempt int) error {
		if attempt == 3 {
			return last
		}
		return errors.New("earlier failure")
	}, nil)

	if !errors.Is(err, last) {
		t.Errorf("expected last error, got %v", err)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
}

func TestDo_PermanentStopsImmediately(t *testing.T) {
	fatal := errors.New("fatal")
	attempts, err := Do(context.Background(), fastPolicy(5), func(ctx context.Context, attempt int) error {
		return Permanent(fatal)
	}, nil)

	if !errors.Is(err, fatal) {
		t.Errorf("expected fatal error, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", attempts)
	}
	if !IsPermanent(Permanent(fatal)) || IsPermanent(fatal) {
		t.Error("IsPermanent mismatch")
	}
}

func TestDo_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	attempts, err := Do(ctx, fastPolicy(3), func(ctx context.Context, attempt int) error {
		return nil
	}, nil)

	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if attempts != 0 {
		t.Errorf("fn must not run on cancelled context, got %d attempts", attempts)
	}
}

func TestDo_CancelDuringDelay(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := RetryPolicy{MaxAttempts: 3, Delay: time.Hour}

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := Do(ctx, p, func(ctx context.Context, attempt int) error {
		return errors.New("fail")
	}, nil)

	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Error("Do ignored cancellation during delay")
	}
}

func TestDefault(t *testing.T) {
	p := Default()
	if p.MaxAttempts != 3 || p.Delay != 3*time.Second || p.Backoff != BackoffFixed {
		t.Errorf("unexpected default policy: %+v", p)
	}
}

func TestPollUntil(t *testing.T) {
	calls := 0
	err := PollUntil(context.Background(), time.Millisecond, time.Second, func(ctx context.Context) (bool, error) {
		calls++
		return calls >= 3, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 checks, got %d", calls)
	}
}

func TestPollUntil_Timeout(t *testing.T) {
	err := PollUntil(context.Background(), time.Millisecond, 20*time.Millisecond, func(ctx context.Context) (bool, error) {
		return false, nil
	})
	if !errors.Is(err, ErrPollTimeout) {
		t.Errorf("expected ErrPollTimeout, got %v", err)
	}
}

func TestSleep_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := Sleep(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
