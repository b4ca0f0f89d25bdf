package intents

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/tillpoint/terminal-core/pkg/db/models"
)

func TestDelayDoublesAndCaps(t *testing.T) {
	cases := []struct {
		attempts int
		want     time.Duration
	}{
		{0, 0},
		{1, 15 * time.Second},
		{2, 30 * time.Second},
		{3, 60 * time.Second},
		{4, 120 * time.Second},
		{5, 120 * time.Second},
		{10, 120 * time.Second},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Delay(tc.attempts), "attempts=%d", tc.attempts)
	}
}

func TestDelayIsMonotone(t *testing.T) {
	prev := Delay(0)
	for attempts := 1; attempts <= 12; attempts++ {
		current := Delay(attempts)
		assert.GreaterOrEqual(t, current, prev, "attempts=%d", attempts)
		prev = current
	}
}

func TestRetryEligible(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	fresh := models.PaymentIntent{Attempts: 0}
	assert.True(t, RetryEligible(fresh, now), "never-attempted intent is eligible")

	attempted := now.Add(-10 * time.Second)
	inWindow := models.PaymentIntent{Attempts: 1, LastAttempt: &attempted}
	assert.False(t, RetryEligible(inWindow, now), "backoff window still open")

	elapsed := now.Add(-15 * time.Second)
	pastWindow := models.PaymentIntent{Attempts: 1, LastAttempt: &elapsed}
	assert.True(t, RetryEligible(pastWindow, now), "backoff window elapsed")

	capped := now.Add(-121 * time.Second)
	manyAttempts := models.PaymentIntent{Attempts: 8, LastAttempt: &capped}
	assert.True(t, RetryEligible(manyAttempts, now), "capped delay elapsed")
}
