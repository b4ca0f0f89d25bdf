package enums

// ReconcileOutcome is the per-transaction result returned by the
// reconciliation endpoint.
type ReconcileOutcome string

const (
	// ReconcileOutcomeSynced means the server applied the transaction.
	ReconcileOutcomeSynced ReconcileOutcome = "synced"
	// ReconcileOutcomeDuplicateIgnored means the server already applied the
	// idempotency key. Treated identically to synced.
	ReconcileOutcomeDuplicateIgnored ReconcileOutcome = "duplicate_ignored"
	// ReconcileOutcomeFailed keeps the intent on the backoff/retry path.
	ReconcileOutcomeFailed ReconcileOutcome = "failed"
)

// String implements fmt.Stringer.
func (o ReconcileOutcome) String() string {
	return string(o)
}

// IsApplied reports whether the outcome finalizes the capture locally.
func (o ReconcileOutcome) IsApplied() bool {
	return o == ReconcileOutcomeSynced || o == ReconcileOutcomeDuplicateIgnored
}
