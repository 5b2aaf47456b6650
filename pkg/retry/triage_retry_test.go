package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func recordingPolicy(waits *[]time.Duration) Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   5 * time.Second,
		Multiplier:  2,
		Wait: func(_ context.Context, d time.Duration) error {
			*waits = append(*waits, d)
			return nil
		},
	}
}

func TestDoSucceedsAfterTransientFailures(t *testing.T) {
	var waits []time.Duration
	calls := 0

	got, attempts, err := Do(context.Background(), recordingPolicy(&waits), func(_ context.Context, attempt int) (string, error) {
		calls++
		if attempt < 3 {
			return "", errors.New("503")
		}
		return "ok", nil
	})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "ok" || attempts != 3 || calls != 3 {
		t.Errorf("expected ok after 3 attempts, got %q after %d (calls=%d)", got, attempts, calls)
	}
	if len(waits) != 2 || waits[0] != 5*time.Second || waits[1] != 10*time.Second {
		t.Errorf("expected backoff [5s 10s], got %v", waits)
	}
}

func TestDoExhausts(t *testing.T) {
	var waits []time.Duration
	cause := errors.New("connection reset")

	_, attempts, err := Do(context.Background(), recordingPolicy(&waits), func(context.Context, int) (int, error) {
		return 0, cause
	})

	var exhausted *ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("expected ExhaustedError, got %v", err)
	}
	if attempts != 3 || exhausted.Attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
	if !errors.Is(err, cause) {
		t.Error("expected exhausted error to wrap the last cause")
	}
	if len(waits) != 2 {
		t.Errorf("expected no wait after the final attempt, got %v", waits)
	}
}

func TestDoStopsOnPermanent(t *testing.T) {
	var waits []time.Duration
	cause := errors.New("blocked")
	calls := 0

	_, attempts, err := Do(context.Background(), recordingPolicy(&waits), func(context.Context, int) (int, error) {
		calls++
		return 0, Permanent(cause)
	})

	if !errors.Is(err, cause) {
		t.Fatalf("expected the permanent cause, got %v", err)
	}
	if IsPermanent(err) {
		t.Error("returned error should be unwrapped from the permanent marker")
	}
	if attempts != 1 || calls != 1 || len(waits) != 0 {
		t.Errorf("expected a single attempt with no waits, got attempts=%d calls=%d waits=%v", attempts, calls, waits)
	}
}

func TestDoHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := Policy{MaxAttempts: 5, BaseDelay: time.Hour, Multiplier: 2}
	_, attempts, err := Do(ctx, p, func(context.Context, int) (int, error) {
		return 0, errors.New("fail")
	})

	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("expected to stop after the first attempt, got %d", attempts)
	}
}

func TestDelay(t *testing.T) {
	p := Policy{BaseDelay: time.Second, Multiplier: 3, MaxDelay: 5 * time.Second}

	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{1, time.Second},
		{2, 3 * time.Second},
		{3, 5 * time.Second},
	}

	for _, tt := range tests {
		if got := p.Delay(tt.attempt); got != tt.expected {
			t.Errorf("attempt %d: expected %v, got %v", tt.attempt, tt.expected, got)
		}
	}
}
