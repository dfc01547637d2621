package utils

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// NewExponentialBackoff builds the retry schedule for a failed fetch.
// maxRetries of zero means the operation runs exactly once.
func NewExponentialBackoff(initial, max time.Duration, maxRetries int) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initial
	b.MaxInterval = max
	b.MaxElapsedTime = 0 // bounded by maxRetries instead
	b.Multiplier = 2.0
	b.RandomizationFactor = 0.1
	if maxRetries < 0 {
		maxRetries = 0
	}
	return backoff.WithMaxRetries(b, uint64(maxRetries))
}
