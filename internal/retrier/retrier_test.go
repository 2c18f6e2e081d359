package retrier

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func noSleep(delays *[]time.Duration) func(ctx context.Context, d time.Duration) error {
	return func(ctx context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return nil
	}
}

func TestDoRetriesTransientWithExponentialDelays(t *testing.T) {
	var delays []time.Duration
	p := New(time.Second, 2, 30*time.Second, 5, 0, nil).WithSleep(noSleep(&delays))

	calls := 0
	err := p.Do(context.Background(), "op", func(ctx context.Context) error {
		calls++
		return Transient("server error", nil)
	})
	if err == nil {
		t.Fatalf("expected failure after exhausting attempts")
	}
	if calls != 5 {
		t.Fatalf("expected 5 attempts, got %d", calls)
	}
	expected := []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second}
	if fmt.Sprint(delays) != fmt.Sprint(expected) {
		t.Fatalf("unexpected delays: %v", delays)
	}
}

func TestDoCapsDelay(t *testing.T) {
	p := New(time.Second, 2, 30*time.Second, 10, 0, nil)
	if d := p.Delay(8); d != 30*time.Second {
		t.Fatalf("expected capped delay 30s, got %s", d)
	}
}

func TestDoStopsOnPermanent(t *testing.T) {
	var delays []time.Duration
	p := New(time.Second, 2, 30*time.Second, 5, 0, nil).WithSleep(noSleep(&delays))

	calls := 0
	err := p.Do(context.Background(), "op", func(ctx context.Context) error {
		calls++
		return Permanent("bad credentials", nil)
	})
	if err == nil {
		t.Fatalf("expected error")
	}
	if calls != 1 {
		t.Fatalf("permanent errors must not be retried, got %d calls", calls)
	}
	if len(delays) != 0 {
		t.Fatalf("no backoff expected, got %v", delays)
	}
}

func TestDoSucceedsAfterTransientFailures(t *testing.T) {
	var delays []time.Duration
	p := New(time.Second, 2, 30*time.Second, 5, 0, nil).WithSleep(noSleep(&delays))

	calls := 0
	err := p.Do(context.Background(), "op", func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return Transient("rate limited", nil)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
}

func TestDoAppliesPerCallTimeout(t *testing.T) {
	p := New(time.Millisecond, 2, time.Millisecond, 2, 10*time.Millisecond, nil)

	calls := 0
	err := p.Do(context.Background(), "op", func(ctx context.Context) error {
		calls++
		<-ctx.Done()
		return ctx.Err()
	})
	if err == nil {
		t.Fatalf("expected timeout error")
	}
	if calls != 2 {
		t.Fatalf("timeouts are transient and should be retried, got %d calls", calls)
	}
}

func TestDoRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := New(time.Second, 2, 30*time.Second, 5, 0, nil).WithSleep(func(ctx context.Context, d time.Duration) error {
		return ctx.Err()
	})

	calls := 0
	err := p.Do(ctx, "op", func(ctx context.Context) error {
		calls++
		cancel()
		return Transient("flaky", nil)
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected single attempt, got %d", calls)
	}
}

func TestClassify(t *testing.T) {
	if Classify(Transient("x", nil)) != ClassTransient {
		t.Fatalf("transient misclassified")
	}
	if Classify(Permanent("x", nil)) != ClassPermanent {
		t.Fatalf("permanent misclassified")
	}
	if Classify(context.DeadlineExceeded) != ClassTransient {
		t.Fatalf("deadline should be transient")
	}
	if Classify(errors.New("malformed payload")) != ClassPermanent {
		t.Fatalf("unknown errors default to permanent")
	}
	if Classify(fmt.Errorf("call failed: %w", Transient("throttled", nil))) != ClassTransient {
		t.Fatalf("wrapped transient misclassified")
	}
}

func TestFromHTTPStatus(t *testing.T) {
	for _, code := range []int{429, 500, 502, 503, 504} {
		if Classify(FromHTTPStatus(code, "busy")) != ClassTransient {
			t.Fatalf("status %d should be transient", code)
		}
	}
	for _, code := range []int{400, 401, 403, 404, 422} {
		if Classify(FromHTTPStatus(code, "nope")) != ClassPermanent {
			t.Fatalf("status %d should be permanent", code)
		}
	}
}
