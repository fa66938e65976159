// Package retry classifies remote-operation failures and executes
// operations under a bounded exponential-backoff policy.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Kind partitions remote failures by how the executor must react.
type Kind int

const (
	// KindTransient failures (timeouts, connection resets, 5xx) are
	// retried with exponential backoff until the attempt budget runs out.
	KindTransient Kind = iota

	// KindPermanent failures (authentication, optimistic-concurrency
	// conflicts, malformed requests) are never retried.
	KindPermanent

	// KindRateLimited failures are retried after the server-requested
	// delay without consuming the attempt budget.
	KindRateLimited

	// KindConnectivity failures mean the remote store is unreachable.
	// They are raised by the connectivity probe before any task is
	// processed and abort the whole cycle.
	KindConnectivity
)

// String returns a human-readable name for the failure kind.
func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindPermanent:
		return "permanent"
	case KindRateLimited:
		return "rate-limited"
	case KindConnectivity:
		return "connectivity"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Error tags an underlying failure with its classification. The wire
// client produces tagged errors; the executor only ever reads the tag.
type Error struct {
	Kind Kind

	// RetryAfter is the server-requested wait for rate-limited failures.
	// Zero means the caller's configured default applies.
	RetryAfter time.Duration

	Err error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.String() + " error"
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Transient wraps err as a retryable failure.
func Transient(err error) error {
	return &Error{Kind: KindTransient, Err: err}
}

// Permanent wraps err as a failure that must never be retried.
func Permanent(err error) error {
	return &Error{Kind: KindPermanent, Err: err}
}

// RateLimited wraps err as a server-throttled failure. retryAfter is the
// delay the server requested, or zero when it sent none.
func RateLimited(err error, retryAfter time.Duration) error {
	return &Error{Kind: KindRateLimited, RetryAfter: retryAfter, Err: err}
}

// Connectivity wraps err as an unreachable-remote failure.
func Connectivity(err error) error {
	return &Error{Kind: KindConnectivity, Err: err}
}

// Classify extracts the failure kind from an error chain. Untagged
// errors classify as transient so that unexpected network-level failures
// still get the retry budget; context cancellation classifies as
// permanent because the cycle is shutting down.
func Classify(err error) Kind {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindPermanent
	}
	return KindTransient
}

// RetryAfterHint returns the server-requested delay carried by a
// rate-limited error, or zero when the chain carries none.
func RetryAfterHint(err error) time.Duration {
	var re *Error
	if errors.As(err, &re) {
		return re.RetryAfter
	}
	return 0
}
