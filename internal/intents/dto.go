package intents

import (
	"time"

	"github.com/google/uuid"

	"github.com/tillpoint/terminal-core/pkg/db/models"
	"github.com/tillpoint/terminal-core/pkg/enums"
)

// IntentView is the wire shape of a payment intent on the local ops surface.
// The raw card token never leaves the store.
type IntentView struct {
	ID                   uuid.UUID              `json:"id"`
	IdempotencyKey       string                 `json:"idempotency_key"`
	OrderID              *uuid.UUID             `json:"order_id,omitempty"`
	LocalOrderID         *uuid.UUID             `json:"local_order_id,omitempty"`
	TerminalID           string                 `json:"terminal_id"`
	EmployeeID           *uuid.UUID             `json:"employee_id,omitempty"`
	AmountCents          int                    `json:"amount_cents"`
	TipCents             int                    `json:"tip_cents"`
	SubtotalCents        int                    `json:"subtotal_cents"`
	Method               enums.PaymentMethod    `json:"method"`
	CardBrand            *string                `json:"card_brand,omitempty"`
	CardLast4            *string                `json:"card_last4,omitempty"`
	GatewayTransactionID *string                `json:"gateway_transaction_id,omitempty"`
	AuthorizationCode    *string                `json:"authorization_code,omitempty"`
	ServerPaymentID      *string                `json:"server_payment_id,omitempty"`
	Status               enums.IntentStatus     `json:"status"`
	StatusHistory        []models.StatusChange  `json:"status_history,omitempty"`
	IsOfflineCapture     bool                   `json:"is_offline_capture"`
	OfflineCapturedAt    *time.Time             `json:"offline_captured_at,omitempty"`
	NeedsReconciliation  bool                   `json:"needs_reconciliation"`
	Attempts             int                    `json:"attempts"`
	LastAttempt          *time.Time             `json:"last_attempt,omitempty"`
	LastError            *string                `json:"last_error,omitempty"`
	CreatedAt            time.Time              `json:"created_at"`
	UpdatedAt            time.Time              `json:"updated_at"`
}

// NewIntentView maps a stored intent onto its wire shape.
func NewIntentView(intent models.PaymentIntent) IntentView {
	return IntentView{
		ID:                   intent.ID,
		IdempotencyKey:       intent.IdempotencyKey,
		OrderID:              intent.OrderID,
		LocalOrderID:         intent.LocalOrderID,
		TerminalID:           intent.TerminalID,
		EmployeeID:           intent.EmployeeID,
		AmountCents:          intent.AmountCents,
		TipCents:             intent.TipCents,
		SubtotalCents:        intent.SubtotalCents,
		Method:               intent.Method,
		CardBrand:            intent.CardBrand,
		CardLast4:            intent.CardLast4,
		GatewayTransactionID: intent.GatewayTransactionID,
		AuthorizationCode:    intent.AuthorizationCode,
		ServerPaymentID:      intent.ServerPaymentID,
		Status:               intent.Status,
		StatusHistory:        intent.StatusHistory,
		IsOfflineCapture:     intent.IsOfflineCapture,
		OfflineCapturedAt:    intent.OfflineCapturedAt,
		NeedsReconciliation:  intent.NeedsReconciliation,
		Attempts:             intent.Attempts,
		LastAttempt:          intent.LastAttempt,
		LastError:            intent.LastError,
		CreatedAt:            intent.CreatedAt,
		UpdatedAt:            intent.UpdatedAt,
	}
}

// NewIntentViews maps a list of stored intents onto their wire shapes.
func NewIntentViews(rows []models.PaymentIntent) []IntentView {
	out := make([]IntentView, 0, len(rows))
	for _, row := range rows {
		out = append(out, NewIntentView(row))
	}
	return out
}
