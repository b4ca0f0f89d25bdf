package enums

import "fmt"

// IntentStatus tracks the lifecycle of a local payment intent.
type IntentStatus string

const (
	IntentStatusCreated        IntentStatus = "intent_created"
	IntentStatusTokenizing     IntentStatus = "tokenizing"
	IntentStatusTokenReceived  IntentStatus = "token_received"
	IntentStatusAuthorizing    IntentStatus = "authorizing"
	IntentStatusAuthorized     IntentStatus = "authorized"
	IntentStatusCapturePending IntentStatus = "capture_pending"
	IntentStatusCaptured       IntentStatus = "captured"
	IntentStatusDeclined       IntentStatus = "declined"
	IntentStatusFailed         IntentStatus = "failed"
	IntentStatusVoided         IntentStatus = "voided"
	IntentStatusReconciled     IntentStatus = "reconciled"
)

var validIntentStatuses = []IntentStatus{
	IntentStatusCreated,
	IntentStatusTokenizing,
	IntentStatusTokenReceived,
	IntentStatusAuthorizing,
	IntentStatusAuthorized,
	IntentStatusCapturePending,
	IntentStatusCaptured,
	IntentStatusDeclined,
	IntentStatusFailed,
	IntentStatusVoided,
	IntentStatusReconciled,
}

// String implements fmt.Stringer.
func (s IntentStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known IntentStatus.
func (s IntentStatus) IsValid() bool {
	for _, candidate := range validIntentStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the status ends the intent lifecycle. Terminal
// intents are never re-authorized.
func (s IntentStatus) IsTerminal() bool {
	switch s {
	case IntentStatusCaptured, IntentStatusDeclined, IntentStatusVoided, IntentStatusFailed, IntentStatusReconciled:
		return true
	default:
		return false
	}
}

// IsRetryEligible reports whether a pending reconciliation cycle may pick up
// an intent in this status.
func (s IntentStatus) IsRetryEligible() bool {
	return s == IntentStatusCapturePending || s == IntentStatusAuthorized
}

// ParseIntentStatus converts raw input into an IntentStatus.
func ParseIntentStatus(value string) (IntentStatus, error) {
	for _, candidate := range validIntentStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid intent status %q", value)
}
