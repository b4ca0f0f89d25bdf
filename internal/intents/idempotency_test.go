package intents

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewIdempotencyKeyComponents(t *testing.T) {
	createdAt := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	key := NewIdempotencyKey("till-7", "order-42", 2500, createdAt)

	assert.True(t, strings.HasPrefix(key, "till-7-order-42-2500-"), "key=%s", key)
	assert.Contains(t, key, "1772357400000", "unix milli timestamp embedded")
}

func TestNewIdempotencyKeyUnique(t *testing.T) {
	createdAt := time.Now().UTC()
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		key := NewIdempotencyKey("till-7", "order-42", 2500, createdAt)
		assert.False(t, seen[key], "duplicate key %s", key)
		seen[key] = true
	}
}

func TestNewIdempotencyKeyNoOrder(t *testing.T) {
	key := NewIdempotencyKey("till-7", "", 100, time.Now())
	assert.Contains(t, key, "-noorder-")
}
