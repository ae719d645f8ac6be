// Package retry classifies stage failures as transient or permanent and
// computes the exponential backoff schedule for transient ones, using
// cenkalti/backoff/v4 the same way the reference HTTP client in this
// corpus backs off on 5xx/timeout responses.
package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// MaxAttempts is the maximum number of times a stage is attempted (the
// initial call plus up to three retries) before the task is left parked on
// its *_ERROR status for operator attention.
const MaxAttempts = 4

const (
	baseInterval = 60 // seconds
	maxInterval  = 3600
)

// Temporary is implemented by errors that know their own retryability
// (e.g. pkg/execstep's exit-code mapping, pkg/planningsync's HTTP errors).
// Classify consults it before falling back to the generic network/context
// heuristics.
type Temporary interface {
	Temporary() bool
}

// Classify reports whether err should be retried. nil is never transient
// (there's nothing to retry). Errors that implement Temporary are trusted
// outright; otherwise a deadline/timeout is treated as transient and
// everything else as permanent, mirroring the conservative default of
// treating an unclassified failure as a real error rather than silently
// retrying it forever.
func Classify(err error) bool {
	if err == nil {
		return false
	}

	var temp Temporary
	if errors.As(err, &temp) {
		return temp.Temporary()
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	return false
}

// DefaultQuotaBackoff is the fixed delay before retrying a QuotaExhausted
// failure when the service didn't tell us when its quota resets.
const DefaultQuotaBackoff = time.Hour

// QuotaExhausted marks a stage failure caused by hitting an external
// service's quota or rate limit. It is always retryable, but on a long,
// mostly-fixed delay rather than the ordinary exponential schedule -
// retrying within a minute would just hit the same exhausted quota again.
type QuotaExhausted struct {
	Service    string
	RetryAfter time.Duration // zero means "unknown, use DefaultQuotaBackoff"
	Err        error
}

func (e *QuotaExhausted) Error() string {
	return fmt.Sprintf("%s: quota exhausted: %v", e.Service, e.Err)
}

func (e *QuotaExhausted) Unwrap() error { return e.Err }

// Temporary marks QuotaExhausted retryable, satisfying Classify via the
// Temporary interface.
func (e *QuotaExhausted) Temporary() bool { return true }

// BackoffFor returns the delay before retry attempt n, special-casing
// QuotaExhausted to its own (or the default) fixed delay instead of
// NextBackoff's exponential schedule.
func BackoffFor(err error, attempt int) (time.Duration, error) {
	var quota *QuotaExhausted
	if errors.As(err, &quota) {
		if quota.RetryAfter > 0 {
			return quota.RetryAfter, nil
		}
		return DefaultQuotaBackoff, nil
	}
	return NextBackoff(attempt)
}

// NextBackoff returns the delay to wait before retry attempt n (1-indexed:
// the delay before the first retry, after the initial attempt failed).
// Exponential growth from a 60s base, capped at 3600s, with multiplicative
// jitter in [0.75, 1.25] applied by backoff.ExponentialBackOff with a
// RandomizationFactor of 0.25.
func NextBackoff(attempt int) (time.Duration, error) {
	if attempt < 1 {
		return 0, fmt.Errorf("retry: attempt must be >= 1, got %d", attempt)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = baseInterval * time.Second
	b.MaxInterval = maxInterval * time.Second
	b.Multiplier = 2.0
	b.RandomizationFactor = 0.25
	b.MaxElapsedTime = 0 // never stop offering a next interval
	b.Reset()            // restart the schedule from the 60s InitialInterval set above

	var d time.Duration
	for i := 0; i < attempt; i++ {
		d = b.NextBackOff()
	}
	return d, nil
}
