package retry

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Config controls the retry policy for a single remote operation.
type Config struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int

	// InitialDelay is the wait before the second attempt.
	InitialDelay time.Duration

	// Multiplier scales the delay after each transient failure.
	Multiplier float64

	// MaxDelay caps the per-wait delay.
	MaxDelay time.Duration

	// RateLimitDelay is the wait applied to rate-limited failures when
	// the server did not request a specific delay.
	RateLimitDelay time.Duration
}

// DefaultConfig returns the retry policy used when none is configured:
// 3 attempts, 1s initial delay doubling per failure, capped at 10s.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:    3,
		InitialDelay:   1 * time.Second,
		Multiplier:     2.0,
		MaxDelay:       10 * time.Second,
		RateLimitDelay: 30 * time.Second,
	}
}

// Executor runs remote operations under the configured retry policy.
// It is safe to reuse across operations; each Do call gets a fresh
// backoff schedule and attempt budget.
type Executor struct {
	config Config
	logger *log.Logger

	// sleep is replaced in tests to observe delays without waiting.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewExecutor creates an Executor with the given policy. A nil logger
// defaults to stderr. Zero-valued config fields fall back to defaults.
func NewExecutor(config Config, logger *log.Logger) *Executor {
	if logger == nil {
		logger = log.New(os.Stderr, "[retry] ", log.LstdFlags)
	}
	def := DefaultConfig()
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = def.MaxAttempts
	}
	if config.InitialDelay <= 0 {
		config.InitialDelay = def.InitialDelay
	}
	if config.Multiplier <= 1 {
		config.Multiplier = def.Multiplier
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = def.MaxDelay
	}
	if config.RateLimitDelay <= 0 {
		config.RateLimitDelay = def.RateLimitDelay
	}
	return &Executor{
		config: config,
		logger: logger,
		sleep:  sleepContext,
	}
}

// Do runs fn until it succeeds, fails permanently, or exhausts the
// attempt budget. Rate-limited failures wait the server-requested delay
// and do not consume an attempt. Connectivity failures return
// immediately like permanent ones; the caller aborts the cycle on those.
// The name labels log lines only.
func (e *Executor) Do(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	schedule := e.newSchedule()

	attempt := 1
	for {
		err := fn(ctx)
		if err == nil {
			return nil
		}

		switch Classify(err) {
		case KindPermanent, KindConnectivity:
			return err

		case KindRateLimited:
			delay := RetryAfterHint(err)
			if delay <= 0 {
				delay = e.config.RateLimitDelay
			}
			e.logger.Printf("WARNING: %s rate-limited, waiting %s (attempt budget unchanged): %v", name, delay, err)
			if werr := e.sleep(ctx, delay); werr != nil {
				return werr
			}
			continue

		default: // transient
			if attempt >= e.config.MaxAttempts {
				return fmt.Errorf("%s failed after %d attempts: %w", name, attempt, err)
			}
			delay := schedule.NextBackOff()
			if delay == backoff.Stop {
				delay = e.config.MaxDelay
			}
			e.logger.Printf("WARNING: %s failed (attempt %d/%d), retrying in %s: %v", name, attempt, e.config.MaxAttempts, delay, err)
			if werr := e.sleep(ctx, delay); werr != nil {
				return werr
			}
			attempt++
		}
	}
}

// newSchedule builds the deterministic exponential delay sequence:
// InitialDelay, ×Multiplier per failure, capped at MaxDelay.
func (e *Executor) newSchedule() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.config.InitialDelay
	b.Multiplier = e.config.Multiplier
	b.MaxInterval = e.config.MaxDelay
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
