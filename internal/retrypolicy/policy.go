// Package retrypolicy decides whether a failed attempt should be retried
// and, if so, after how long. Grounded on
// original_source/twitter_blocker/retry.py's RetryManager.should_retry (rule
// ladder) and AdaptiveBackoffStrategy.calculate_backoff_delay (delay
// formula).
package retrypolicy

import (
	"math"
	"time"

	"github.com/book000/twitter-bulk-blocker/internal/domain"
)

// MaxRetries is RetryManager.MAX_RETRIES from the original implementation.
const MaxRetries = 10

const baseDelaySeconds = 30.0

var typeMultiplier = map[domain.ErrorKind]float64{
	domain.KindRateLimit:         2.0,
	domain.KindAuthRequired:      1.5,
	domain.KindPermissionDenied:  1.0,
	domain.KindAccountRestricted: 3.0,
	domain.KindHeaderIssue:       0.5,
	domain.KindUnknownForbidden:  2.5,
	domain.KindAntiBot:           3.0,
	domain.KindIPBlocked:         4.0,
}

// retryableKinds is rule 5 of §4.D: kinds that are retried absent a
// terminal availability or severe-priority override.
var retryableKinds = map[domain.ErrorKind]bool{
	domain.KindRateLimit:        true,
	domain.KindAuthRequired:     true,
	domain.KindPermissionDenied: true,
	domain.KindHeaderIssue:      true,
	domain.KindUnknownForbidden: true,
	domain.KindAntiBot:          true,
	domain.KindServerError:      true,
	domain.KindTimeout:          true,
}

// severeTerminalKinds is rule 4: retryable-looking kinds that are not
// retried once the classifier has marked them as priority-3 severe.
var severeTerminalKinds = map[domain.ErrorKind]bool{
	domain.KindAccountRestricted: true,
	domain.KindIPBlocked:         true,
}

// Decision is the result of should-retry evaluation.
type Decision struct {
	Retry     bool
	Permanent bool
	Delay     time.Duration
}

// Input bundles everything the rule ladder and delay formula need.
type Input struct {
	Availability domain.Availability
	Kind         domain.ErrorKind
	Priority     domain.Priority
	RetryCount   int
	// ResetAt is the server-provided rate-limit reset time, if any
	// (rate_limit only). Zero means "not provided".
	ResetAt time.Time
}

// Evaluate runs the rule ladder (§4.D rules 1-6) and, when retry is
// indicated, computes the backoff delay.
func Evaluate(in Input, window *Window, now time.Time) Decision {
	switch {
	case in.RetryCount >= MaxRetries:
		return Decision{Retry: false}
	case in.Availability.Terminal():
		return Decision{Retry: false, Permanent: true}
	case in.Availability == domain.AvailabilityUnavailable:
		return Decision{Retry: true, Delay: Delay(in, window, now)}
	case severeTerminalKinds[in.Kind] && in.Priority == domain.PrioritySevere:
		return Decision{Retry: false}
	case retryableKinds[in.Kind]:
		return Decision{Retry: true, Delay: Delay(in, window, now)}
	default:
		return Decision{Retry: false}
	}
}

// Delay computes the backoff delay for a retryable attempt, per §4.D's
// formula, with the rate_limit reset-time override applied last.
func Delay(in Input, window *Window, now time.Time) time.Duration {
	base := typeMultiplier[in.Kind]
	if base == 0 {
		base = 1.0
	}

	exponential := math.Min(math.Pow(2, float64(in.RetryCount)), 8)

	successRate := 0.5
	if window != nil {
		successRate = window.SuccessRate(in.Kind, now)
	}
	successMultiplier := 1.0
	switch {
	case successRate < 0.3:
		successMultiplier = 2.0
	case successRate < 0.5:
		successMultiplier = 1.5
	case successRate > 0.8:
		successMultiplier = 0.8
	}

	total := baseDelaySeconds * base * exponential * successMultiplier

	minDelay := 10.0
	if in.Kind == domain.KindHeaderIssue {
		minDelay = 5.0
	}
	maxDelay := 600.0
	if in.Kind == domain.KindIPBlocked || in.Kind == domain.KindAccountRestricted {
		maxDelay = 1800.0
	}

	clamped := math.Max(minDelay, math.Min(total, maxDelay))
	delay := time.Duration(clamped) * time.Second

	if in.Kind == domain.KindRateLimit && !in.ResetAt.IsZero() {
		if override := rateLimitOverride(in.ResetAt, now); override > delay {
			delay = override
		}
	}

	return delay
}

// rateLimitOverride computes the reset-aware delay from §4.D: effective
// delay is max(60, min(reset-now+10, 900)) seconds.
func rateLimitOverride(resetAt, now time.Time) time.Duration {
	secs := resetAt.Sub(now).Seconds() + 10
	secs = math.Max(60, math.Min(secs, 900))
	return time.Duration(secs) * time.Second
}
