package intents

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// NewIdempotencyKey derives the deduplication token for one payment attempt
// from the terminal, order, amount in minor units, creation instant, and a
// random suffix. The suffix keeps keys globally unique even under clock skew
// or an app restart that replays the same terminal/order/amount tuple.
func NewIdempotencyKey(terminalID, orderRef string, amountCents int, createdAt time.Time) string {
	suffix := make([]byte, 4)
	// rand.Read cannot fail on supported platforms.
	_, _ = rand.Read(suffix)
	if orderRef == "" {
		orderRef = "noorder"
	}
	return fmt.Sprintf("%s-%s-%d-%d-%s",
		terminalID,
		orderRef,
		amountCents,
		createdAt.UnixMilli(),
		hex.EncodeToString(suffix),
	)
}
