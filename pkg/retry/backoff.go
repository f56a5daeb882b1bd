package retry

import (
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// newBackOff builds the exponential schedule for a policy. Randomization is
// disabled: the delay before attempt n is exactly
// min(initial * multiplier^(n-2), max) for n >= 2.
func newBackOff(policy Policy) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = policy.InitialInterval
	exp.MaxInterval = policy.MaxInterval
	exp.Multiplier = policy.Multiplier
	exp.RandomizationFactor = 0
	exp.MaxElapsedTime = 0
	return exp
}

// NextDelay computes the sleep that follows the given failed attempt.
func NextDelay(attempt int, policy Policy) time.Duration {
	duration := float64(policy.InitialInterval) * math.Pow(policy.Multiplier, float64(attempt-1))
	if duration > float64(policy.MaxInterval) {
		return policy.MaxInterval
	}
	return time.Duration(duration)
}
