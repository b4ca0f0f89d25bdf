package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/tillpoint/terminal-core/pkg/enums"
)

// StatusChange is one append-only entry in an intent's audit trail.
type StatusChange struct {
	Status    enums.IntentStatus `json:"status"`
	Timestamp time.Time          `json:"timestamp"`
	Details   string             `json:"details,omitempty"`
}

// PaymentIntent is the unit of payment reliability: the local record of "we
// are about to attempt a payment", created and persisted before any network
// call so a crash mid-transaction still has a recoverable trail.
type PaymentIntent struct {
	ID             uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	IdempotencyKey string    `gorm:"column:idempotency_key;uniqueIndex;not null"`

	OrderID      *uuid.UUID `gorm:"column:order_id;type:uuid;index"`
	LocalOrderID *uuid.UUID `gorm:"column:local_order_id;type:uuid;index"`
	TerminalID   string     `gorm:"column:terminal_id;not null"`
	EmployeeID   *uuid.UUID `gorm:"column:employee_id;type:uuid"`

	AmountCents   int `gorm:"column:amount_cents;not null"`
	TipCents      int `gorm:"column:tip_cents;not null;default:0"`
	SubtotalCents int `gorm:"column:subtotal_cents;not null"`

	Method               enums.PaymentMethod `gorm:"column:method;not null;default:'card'"`
	CardToken            *string             `gorm:"column:card_token"`
	CardBrand            *string             `gorm:"column:card_brand"`
	CardLast4            *string             `gorm:"column:card_last4"`
	GatewayTransactionID *string             `gorm:"column:gateway_transaction_id"`
	AuthorizationCode    *string             `gorm:"column:authorization_code"`
	ServerPaymentID      *string             `gorm:"column:server_payment_id"`

	Status        enums.IntentStatus `gorm:"column:status;not null;default:'intent_created';index:idx_payment_intents_status"`
	StatusHistory []StatusChange     `gorm:"column:status_history;serializer:json"`

	IsOfflineCapture    bool       `gorm:"column:is_offline_capture;not null;default:false"`
	OfflineCapturedAt   *time.Time `gorm:"column:offline_captured_at"`
	NeedsReconciliation bool       `gorm:"column:needs_reconciliation;not null;default:false;index"`

	Attempts    int        `gorm:"column:attempts;not null;default:0"`
	LastAttempt *time.Time `gorm:"column:last_attempt"`
	LastError   *string    `gorm:"column:last_error"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime;index"`
}

// TableName implements the gorm naming override.
func (PaymentIntent) TableName() string { return "payment_intents" }
