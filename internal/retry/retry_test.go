package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"testing"
	"time"
)

// newTestExecutor returns an executor whose sleeps are recorded instead
// of performed.
func newTestExecutor(t *testing.T, config Config) (*Executor, *[]time.Duration) {
	t.Helper()
	e := NewExecutor(config, log.New(io.Discard, "", 0))
	delays := &[]time.Duration{}
	e.sleep = func(ctx context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return ctx.Err()
	}
	return e, delays
}

func TestDoSucceedsFirstAttempt(t *testing.T) {
	e, delays := newTestExecutor(t, Config{})
	calls := 0
	err := e.Do(context.Background(), "op", func(ctx context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("Do returned error: %v", err)
	}
	if calls != 1 {
		t.Errorf("fn called %d times, want 1", calls)
	}
	if len(*delays) != 0 {
		t.Errorf("unexpected waits: %v", *delays)
	}
}

func TestDoRetriesTransientThenSucceeds(t *testing.T) {
	e, delays := newTestExecutor(t, Config{})
	calls := 0
	err := e.Do(context.Background(), "op", func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return Transient(errors.New("connection reset"))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do returned error: %v", err)
	}
	if calls != 3 {
		t.Errorf("fn called %d times, want 3", calls)
	}
	want := []time.Duration{1 * time.Second, 2 * time.Second}
	if len(*delays) != len(want) {
		t.Fatalf("waits = %v, want %v", *delays, want)
	}
	for i := range want {
		if (*delays)[i] != want[i] {
			t.Errorf("wait %d = %s, want %s", i, (*delays)[i], want[i])
		}
	}
}

func TestDoExhaustsAttemptBudget(t *testing.T) {
	e, delays := newTestExecutor(t, Config{})
	calls := 0
	err := e.Do(context.Background(), "update", func(ctx context.Context) error {
		calls++
		return Transient(errors.New("timeout"))
	})
	if err == nil {
		t.Fatal("Do should fail once the attempt budget is exhausted")
	}
	if calls != 3 {
		t.Errorf("fn called %d times, want exactly 3", calls)
	}
	// Two waits between three attempts, doubling from the initial delay.
	want := []time.Duration{1 * time.Second, 2 * time.Second}
	if len(*delays) != len(want) || (*delays)[0] != want[0] || (*delays)[1] != want[1] {
		t.Errorf("waits = %v, want %v", *delays, want)
	}
}

func TestDoDelayCapsAtMaxDelay(t *testing.T) {
	e, delays := newTestExecutor(t, Config{
		MaxAttempts:  6,
		InitialDelay: 1 * time.Second,
		Multiplier:   2.0,
		MaxDelay:     4 * time.Second,
	})
	err := e.Do(context.Background(), "op", func(ctx context.Context) error {
		return Transient(errors.New("flaky"))
	})
	if err == nil {
		t.Fatal("Do should fail after budget exhaustion")
	}
	want := []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second, 4 * time.Second, 4 * time.Second}
	if len(*delays) != len(want) {
		t.Fatalf("waits = %v, want %v", *delays, want)
	}
	for i := range want {
		if (*delays)[i] != want[i] {
			t.Errorf("wait %d = %s, want %s", i, (*delays)[i], want[i])
		}
	}
	// Delays grow strictly until the cap, then hold.
	for i := 1; i < len(*delays); i++ {
		if (*delays)[i] < (*delays)[i-1] {
			t.Errorf("delay decreased at step %d: %v", i, *delays)
		}
	}
}

func TestDoPermanentFailsImmediately(t *testing.T) {
	e, delays := newTestExecutor(t, Config{})
	calls := 0
	authErr := Permanent(errors.New("401 unauthorized"))
	err := e.Do(context.Background(), "fetch", func(ctx context.Context) error {
		calls++
		return authErr
	})
	if !errors.Is(err, authErr) {
		t.Fatalf("Do returned %v, want the permanent error", err)
	}
	if calls != 1 {
		t.Errorf("fn called %d times, want 1 (no retry on permanent)", calls)
	}
	if len(*delays) != 0 {
		t.Errorf("unexpected waits: %v", *delays)
	}
}

func TestDoConnectivityFailsImmediately(t *testing.T) {
	e, delays := newTestExecutor(t, Config{})
	calls := 0
	err := e.Do(context.Background(), "ping", func(ctx context.Context) error {
		calls++
		return Connectivity(errors.New("dial tcp: no route to host"))
	})
	if err == nil {
		t.Fatal("Do should surface connectivity failures")
	}
	if Classify(err) != KindConnectivity {
		t.Errorf("returned error lost its connectivity tag: %v", err)
	}
	if calls != 1 {
		t.Errorf("fn called %d times, want 1 (connectivity aborts the cycle, no retry)", calls)
	}
	if len(*delays) != 0 {
		t.Errorf("unexpected waits: %v", *delays)
	}
}

func TestDoRateLimitedDoesNotConsumeBudget(t *testing.T) {
	e, delays := newTestExecutor(t, Config{MaxAttempts: 3})
	calls := 0
	err := e.Do(context.Background(), "put", func(ctx context.Context) error {
		calls++
		switch calls {
		case 1, 2:
			return RateLimited(errors.New("429 too many requests"), 7*time.Second)
		case 3, 4:
			return Transient(errors.New("timeout"))
		default:
			return nil
		}
	})
	if err != nil {
		t.Fatalf("Do returned error: %v", err)
	}
	// Two rate-limit waits plus two transient retries still fit in a
	// three-attempt budget because throttling is not an attempt.
	if calls != 5 {
		t.Errorf("fn called %d times, want 5", calls)
	}
	want := []time.Duration{7 * time.Second, 7 * time.Second, 1 * time.Second, 2 * time.Second}
	if len(*delays) != len(want) {
		t.Fatalf("waits = %v, want %v", *delays, want)
	}
	for i := range want {
		if (*delays)[i] != want[i] {
			t.Errorf("wait %d = %s, want %s", i, (*delays)[i], want[i])
		}
	}
}

func TestDoRateLimitedDefaultDelay(t *testing.T) {
	e, delays := newTestExecutor(t, Config{RateLimitDelay: 15 * time.Second})
	calls := 0
	err := e.Do(context.Background(), "put", func(ctx context.Context) error {
		calls++
		if calls == 1 {
			return RateLimited(errors.New("429"), 0)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do returned error: %v", err)
	}
	if len(*delays) != 1 || (*delays)[0] != 15*time.Second {
		t.Errorf("waits = %v, want [15s]", *delays)
	}
}

func TestDoContextCancelDuringWait(t *testing.T) {
	e := NewExecutor(Config{}, log.New(io.Discard, "", 0))
	ctx, cancel := context.WithCancel(context.Background())
	e.sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}
	err := e.Do(ctx, "op", func(ctx context.Context) error {
		return Transient(errors.New("flaky"))
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Do returned %v, want context.Canceled", err)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"tagged transient", Transient(errors.New("x")), KindTransient},
		{"tagged permanent", Permanent(errors.New("x")), KindPermanent},
		{"tagged rate-limited", RateLimited(errors.New("x"), time.Second), KindRateLimited},
		{"tagged connectivity", Connectivity(errors.New("x")), KindConnectivity},
		{"wrapped tag survives", fmt.Errorf("put: %w", Permanent(errors.New("403"))), KindPermanent},
		{"context canceled", context.Canceled, KindPermanent},
		{"context deadline", context.DeadlineExceeded, KindPermanent},
		{"untagged defaults to transient", errors.New("mystery"), KindTransient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRetryAfterHint(t *testing.T) {
	err := fmt.Errorf("put: %w", RateLimited(errors.New("429"), 42*time.Second))
	if got := RetryAfterHint(err); got != 42*time.Second {
		t.Errorf("RetryAfterHint = %v, want 42s", got)
	}
	if got := RetryAfterHint(errors.New("plain")); got != 0 {
		t.Errorf("RetryAfterHint on untagged = %v, want 0", got)
	}
}

func TestErrorString(t *testing.T) {
	e := &Error{Kind: KindRateLimited, Err: errors.New("too many requests")}
	if e.Error() != "rate-limited: too many requests" {
		t.Errorf("Error() = %q", e.Error())
	}
	if Kind(99).String() != "kind(99)" {
		t.Errorf("unknown kind String() = %q", Kind(99).String())
	}
}
