package payments

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tillpoint/terminal-core/internal/intents"
	"github.com/tillpoint/terminal-core/internal/transport"
	"github.com/tillpoint/terminal-core/pkg/db/models"
	"github.com/tillpoint/terminal-core/pkg/enums"
	pkgerrors "github.com/tillpoint/terminal-core/pkg/errors"
	"github.com/tillpoint/terminal-core/pkg/logger"
)

// intentManager is the lifecycle surface the processor drives.
type intentManager interface {
	CreateIntent(ctx context.Context, params intents.CreateIntentParams) (*models.PaymentIntent, error)
	MarkTokenizing(ctx context.Context, id uuid.UUID) error
	MarkAuthorizing(ctx context.Context, id uuid.UUID) error
	RecordAuthorization(ctx context.Context, id uuid.UUID, result intents.AuthResult) error
	MarkForOfflineCapture(ctx context.Context, id uuid.UUID) error
	RecordCapture(ctx context.Context, id uuid.UUID, serverPaymentID string) error
	RecordFailure(ctx context.Context, id uuid.UUID, reason string) error
	MarkVoided(ctx context.Context, id uuid.UUID, reason string) error
}

// ProcessorParams configure the sale-flow processor.
type ProcessorParams struct {
	Logger    *logger.Logger
	Intents   intentManager
	Transport transport.Transport
	Store     intentStore
}

type intentStore interface {
	Get(ctx context.Context, id uuid.UUID) (*models.PaymentIntent, error)
}

// Processor runs a payment end to end: intent first, then the reader, then
// the recorded outcome. The intent row is the source of truth at every step;
// the processor never talks to the reader before the intent is on disk.
type Processor struct {
	logg      *logger.Logger
	intents   intentManager
	transport transport.Transport
	store     intentStore
}

// NewProcessor builds the processor.
func NewProcessor(params ProcessorParams) (*Processor, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Intents == nil {
		return nil, fmt.Errorf("intent manager required")
	}
	if params.Transport == nil {
		return nil, fmt.Errorf("transport required")
	}
	if params.Store == nil {
		return nil, fmt.Errorf("intent store required")
	}
	return &Processor{
		logg:      params.Logger,
		intents:   params.Intents,
		transport: params.Transport,
		store:     params.Store,
	}, nil
}

// ChargeParams are the inputs for one sale.
type ChargeParams struct {
	ReaderID     string
	TerminalID   string
	OrderID      *uuid.UUID
	LocalOrderID *uuid.UUID
	EmployeeID   *uuid.UUID
	Amount       decimal.Decimal
	Tip          decimal.Decimal
	Method       enums.PaymentMethod
}

// Charge runs the sale flow. The returned intent reflects the final state:
// captured on success, declined or failed on a terminal outcome, and
// capture_pending when the network dropped and the payment went
// store-and-forward. The error mirrors the terminal outcomes; a queued
// offline capture is not an error.
func (p *Processor) Charge(ctx context.Context, params ChargeParams) (*models.PaymentIntent, error) {
	intent, err := p.intents.CreateIntent(ctx, intents.CreateIntentParams{
		TerminalID:   params.TerminalID,
		OrderID:      params.OrderID,
		LocalOrderID: params.LocalOrderID,
		EmployeeID:   params.EmployeeID,
		Amount:       params.Amount,
		Tip:          params.Tip,
		Method:       params.Method,
	})
	if err != nil {
		return nil, err
	}
	ctx = p.logg.WithIntentID(ctx, intent.ID.String())

	if params.Method != enums.PaymentMethodCard {
		// Non-card tenders settle locally and ride the reconciliation
		// batch like any offline capture.
		if err := p.intents.MarkForOfflineCapture(ctx, intent.ID); err != nil {
			return nil, err
		}
		if err := p.intents.RecordCapture(ctx, intent.ID, ""); err != nil {
			return nil, err
		}
		return p.store.Get(ctx, intent.ID)
	}

	if err := p.chargeCard(ctx, intent, params); err != nil {
		final, getErr := p.store.Get(ctx, intent.ID)
		if getErr != nil {
			return nil, getErr
		}
		return final, err
	}
	return p.store.Get(ctx, intent.ID)
}

func (p *Processor) chargeCard(ctx context.Context, intent *models.PaymentIntent, params ChargeParams) error {
	if err := p.intents.MarkTokenizing(ctx, intent.ID); err != nil {
		return err
	}
	if err := p.intents.MarkAuthorizing(ctx, intent.ID); err != nil {
		return err
	}

	result, saleErr := p.transport.Sale(ctx, transport.TxRequest{
		ReaderID:       params.ReaderID,
		AmountCents:    intent.AmountCents,
		TipCents:       intent.TipCents,
		ReferenceID:    intent.ID.String(),
		IdempotencyKey: intent.IdempotencyKey,
	})
	if saleErr != nil {
		return p.recordSaleError(ctx, intent, saleErr)
	}

	if !result.Approved {
		if err := p.intents.RecordAuthorization(ctx, intent.ID, intents.AuthResult{
			Approved:      false,
			DeclineReason: result.DeclineReason,
		}); err != nil {
			return err
		}
		return pkgerrors.New(pkgerrors.CodeDeclined, result.DeclineReason)
	}

	if err := p.intents.RecordAuthorization(ctx, intent.ID, intents.AuthResult{
		Approved:             true,
		AuthorizationCode:    result.AuthorizationCode,
		GatewayTransactionID: result.GatewayTransactionID,
		CardToken:            result.CardToken,
		CardBrand:            result.CardBrand,
		CardLast4:            result.CardLast4,
	}); err != nil {
		return err
	}
	if err := p.intents.RecordCapture(ctx, intent.ID, result.GatewayTransactionID); err != nil {
		return err
	}
	p.logg.Info(ctx, "sale captured")
	return nil
}

// recordSaleError routes a transport failure into the lifecycle: declines
// are terminal, network failures go store-and-forward, everything else
// (device faults, a degraded reader, unknowns) fails the intent.
func (p *Processor) recordSaleError(ctx context.Context, intent *models.PaymentIntent, saleErr error) error {
	typed := pkgerrors.As(saleErr)
	if typed != nil && typed.Code() == pkgerrors.CodeDeclined {
		if err := p.intents.RecordAuthorization(ctx, intent.ID, intents.AuthResult{
			Approved:      false,
			DeclineReason: typed.Message(),
		}); err != nil {
			return err
		}
		return saleErr
	}

	if pkgerrors.IsRetryable(saleErr) {
		if err := p.intents.MarkForOfflineCapture(ctx, intent.ID); err != nil {
			return err
		}
		p.logg.Warn(ctx, "network unavailable, sale queued for reconciliation")
		return nil
	}

	if err := p.intents.RecordFailure(ctx, intent.ID, saleErr.Error()); err != nil {
		return err
	}
	return saleErr
}

// Void cancels an intent, reversing the gateway transaction when one exists.
func (p *Processor) Void(ctx context.Context, id uuid.UUID, readerID, reason string) error {
	intent, err := p.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if intent.GatewayTransactionID != nil {
		if _, err := p.transport.Void(ctx, readerID, *intent.GatewayTransactionID); err != nil {
			return err
		}
	}
	return p.intents.MarkVoided(ctx, id, reason)
}
