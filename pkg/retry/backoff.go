package retry

import (
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ExponentialBackoff never gives up on its own; callers bound it with
// backoff.WithMaxRetries or a context. jitter is the randomization factor.
func ExponentialBackoff(initialInterval, maxInterval time.Duration, multiplier, jitter float64) *backoff.ExponentialBackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = initialInterval
	exp.MaxInterval = maxInterval
	exp.Multiplier = multiplier
	exp.RandomizationFactor = jitter
	exp.MaxElapsedTime = 0
	exp.Reset()
	return exp
}

func ExponentialBackoffWithMaxElapsed(initialInterval, maxInterval, maxElapsed time.Duration, multiplier float64) *backoff.ExponentialBackOff {
	exp := ExponentialBackoff(initialInterval, maxInterval, multiplier, 0)
	exp.MaxElapsedTime = maxElapsed
	return exp
}

// CalculateBackoffDuration returns initialInterval*multiplier^attempt capped at maxInterval.
func CalculateBackoffDuration(attempt int, initialInterval time.Duration, multiplier float64, maxInterval time.Duration) time.Duration {
	duration := float64(initialInterval) * math.Pow(multiplier, float64(attempt))
	if duration > float64(maxInterval) {
		return maxInterval
	}
	return time.Duration(duration)
}
