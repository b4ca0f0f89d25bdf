package intents

import (
	"time"

	"github.com/tillpoint/terminal-core/pkg/db/models"
)

const (
	backoffBase       = 15 * time.Second
	backoffMultiplier = 2
	backoffMax        = 120 * time.Second
	maxRetries        = 10
)

// Delay returns the wait required before the next reconciliation attempt.
// Doubles from the base up to the cap: 15s, 30s, 60s, 120s, 120s, ...
func Delay(attempts int) time.Duration {
	if attempts <= 0 {
		return 0
	}
	delay := backoffBase
	for i := 1; i < attempts; i++ {
		delay *= backoffMultiplier
		if delay >= backoffMax {
			return backoffMax
		}
	}
	if delay > backoffMax {
		return backoffMax
	}
	return delay
}

// RetryEligible reports whether the intent's backoff window has elapsed.
func RetryEligible(intent models.PaymentIntent, now time.Time) bool {
	if intent.LastAttempt == nil {
		return true
	}
	return now.Sub(*intent.LastAttempt) >= Delay(intent.Attempts)
}
