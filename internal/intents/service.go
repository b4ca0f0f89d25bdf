package intents

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"

	"github.com/tillpoint/terminal-core/internal/reconcile"
	"github.com/tillpoint/terminal-core/pkg/db/models"
	"github.com/tillpoint/terminal-core/pkg/enums"
	pkgerrors "github.com/tillpoint/terminal-core/pkg/errors"
	"github.com/tillpoint/terminal-core/pkg/logger"
	"github.com/tillpoint/terminal-core/pkg/metrics"
)

const defaultBatchSize = 50

// ReconcileInterval is the fixed cadence of the reconciliation driver.
const ReconcileInterval = 15 * time.Second

// store is the repository surface the manager depends on.
type store interface {
	Create(ctx context.Context, intent *models.PaymentIntent) error
	Get(ctx context.Context, id uuid.UUID) (*models.PaymentIntent, error)
	Save(ctx context.Context, intent *models.PaymentIntent) error
	ListRetryEligible(ctx context.Context, limit int) ([]models.PaymentIntent, error)
}

// ManagerParams configure the payment intent manager.
type ManagerParams struct {
	Logger *logger.Logger
	Store  store
	// Reconciler may be nil on offline-only deployments; pending intents
	// then accumulate until a cloud endpoint is configured.
	Reconciler reconcile.Submitter
	Metrics    *metrics.PaymentMetrics
	BatchSize  int
}

// Manager drives a local payment through its lifecycle, persisting every
// transition before and after each network call so a crash anywhere leaves a
// recoverable trail.
type Manager struct {
	logg       *logger.Logger
	store      store
	reconciler reconcile.Submitter
	metrics    *metrics.PaymentMetrics
	batchSize  int
	validate   *validator.Validate
	now        func() time.Time

	// generation sequences driver invocations; inFlight is the busy flag
	// keeping overlapping timer/online-event triggers from double-submitting
	// a batch.
	generation atomic.Int64
	inFlight   atomic.Bool
}

// NewManager builds the payment intent manager.
func NewManager(params ManagerParams) (*Manager, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Store == nil {
		return nil, fmt.Errorf("store required")
	}
	batchSize := params.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &Manager{
		logg:       params.Logger,
		store:      params.Store,
		reconciler: params.Reconciler,
		metrics:    params.Metrics,
		batchSize:  batchSize,
		validate:   validator.New(),
		now:        time.Now,
	}, nil
}

// CreateIntentParams are the inputs for a new payment intent. Monetary
// amounts arrive as decimals from the caller and are stored in minor units.
type CreateIntentParams struct {
	TerminalID   string `validate:"required"`
	OrderID      *uuid.UUID
	LocalOrderID *uuid.UUID
	EmployeeID   *uuid.UUID
	Amount       decimal.Decimal
	Tip          decimal.Decimal
	Method       enums.PaymentMethod `validate:"required"`
}

// CreateIntent persists a new intent before any network request is made.
// It fails only on validation or local-storage I/O error.
func (m *Manager) CreateIntent(ctx context.Context, params CreateIntentParams) (*models.PaymentIntent, error) {
	if err := m.validate.Struct(params); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid intent params")
	}
	if !params.Method.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid payment method %q", params.Method))
	}
	if params.Amount.IsNegative() || params.Tip.IsNegative() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amounts must be non-negative")
	}
	if params.Tip.GreaterThan(params.Amount) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tip cannot exceed amount")
	}

	now := m.now().UTC()
	amountCents := int(params.Amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart())
	tipCents := int(params.Tip.Mul(decimal.NewFromInt(100)).Round(0).IntPart())

	orderRef := ""
	if params.OrderID != nil {
		orderRef = params.OrderID.String()
	} else if params.LocalOrderID != nil {
		orderRef = params.LocalOrderID.String()
	}

	intent := &models.PaymentIntent{
		ID:             uuid.New(),
		IdempotencyKey: NewIdempotencyKey(params.TerminalID, orderRef, amountCents, now),
		OrderID:        params.OrderID,
		LocalOrderID:   params.LocalOrderID,
		TerminalID:     params.TerminalID,
		EmployeeID:     params.EmployeeID,
		AmountCents:    amountCents,
		TipCents:       tipCents,
		SubtotalCents:  amountCents - tipCents,
		Method:         params.Method,
		Status:         enums.IntentStatusCreated,
		StatusHistory: []models.StatusChange{{
			Status:    enums.IntentStatusCreated,
			Timestamp: now,
		}},
	}

	if err := m.store.Create(ctx, intent); err != nil {
		return nil, fmt.Errorf("persist intent: %w", err)
	}

	logCtx := m.logg.WithIntentID(ctx, intent.ID.String())
	m.logg.Info(logCtx, "payment intent created")
	return intent, nil
}

// MarkTokenizing transitions the intent into tokenizing.
func (m *Manager) MarkTokenizing(ctx context.Context, id uuid.UUID) error {
	return m.mutate(ctx, id, func(intent *models.PaymentIntent) error {
		return m.transition(intent, enums.IntentStatusTokenizing, "")
	})
}

// RecordToken stores the card token returned by the reader.
func (m *Manager) RecordToken(ctx context.Context, id uuid.UUID, token, brand, last4 string) error {
	return m.mutate(ctx, id, func(intent *models.PaymentIntent) error {
		if err := m.transition(intent, enums.IntentStatusTokenReceived, ""); err != nil {
			return err
		}
		if token != "" {
			intent.CardToken = &token
		}
		if brand != "" {
			intent.CardBrand = &brand
		}
		if last4 != "" {
			intent.CardLast4 = &last4
		}
		return nil
	})
}

// MarkAuthorizing increments the attempt counter and stamps the attempt time
// before the authorization goes out.
func (m *Manager) MarkAuthorizing(ctx context.Context, id uuid.UUID) error {
	return m.mutate(ctx, id, func(intent *models.PaymentIntent) error {
		if err := m.transition(intent, enums.IntentStatusAuthorizing, ""); err != nil {
			return err
		}
		now := m.now().UTC()
		intent.Attempts++
		intent.LastAttempt = &now
		return nil
	})
}

// AuthResult is the authorization outcome recorded on the intent.
type AuthResult struct {
	Approved             bool
	DeclineReason        string
	AuthorizationCode    string
	GatewayTransactionID string
	CardToken            string
	CardBrand            string
	CardLast4            string
}

// RecordAuthorization stores the gateway outcome: authorized on approval,
// declined (terminal) on rejection.
func (m *Manager) RecordAuthorization(ctx context.Context, id uuid.UUID, result AuthResult) error {
	return m.mutate(ctx, id, func(intent *models.PaymentIntent) error {
		if !result.Approved {
			return m.transition(intent, enums.IntentStatusDeclined, result.DeclineReason)
		}
		if err := m.transition(intent, enums.IntentStatusAuthorized, ""); err != nil {
			return err
		}
		if result.AuthorizationCode != "" {
			intent.AuthorizationCode = &result.AuthorizationCode
		}
		if result.GatewayTransactionID != "" {
			intent.GatewayTransactionID = &result.GatewayTransactionID
		}
		if result.CardToken != "" {
			intent.CardToken = &result.CardToken
		}
		if result.CardBrand != "" {
			intent.CardBrand = &result.CardBrand
		}
		if result.CardLast4 != "" {
			intent.CardLast4 = &result.CardLast4
		}
		return nil
	})
}

// MarkForOfflineCapture queues the intent for store-and-forward: the
// authorization succeeded logically but the network dropped before capture
// could be confirmed with the server.
func (m *Manager) MarkForOfflineCapture(ctx context.Context, id uuid.UUID) error {
	return m.mutate(ctx, id, func(intent *models.PaymentIntent) error {
		if err := m.transition(intent, enums.IntentStatusCapturePending, "offline capture, awaiting reconciliation"); err != nil {
			return err
		}
		now := m.now().UTC()
		intent.IsOfflineCapture = true
		intent.OfflineCapturedAt = &now
		intent.NeedsReconciliation = true
		return nil
	})
}

// RecordCapture finalizes the payment. Repeated calls for an already
// captured intent are no-ops, keeping capture at-most-once.
func (m *Manager) RecordCapture(ctx context.Context, id uuid.UUID, serverPaymentID string) error {
	return m.mutate(ctx, id, func(intent *models.PaymentIntent) error {
		if intent.Status == enums.IntentStatusCaptured {
			return nil
		}
		if err := m.transition(intent, enums.IntentStatusCaptured, ""); err != nil {
			return err
		}
		if serverPaymentID != "" {
			intent.ServerPaymentID = &serverPaymentID
		}
		mode := "online"
		if intent.IsOfflineCapture {
			mode = "offline"
		}
		m.metrics.IncCapture(mode)
		return nil
	})
}

// RecordFailure moves the intent to the terminal failed state and flags it
// for manual reconciliation so it is never silently discarded.
func (m *Manager) RecordFailure(ctx context.Context, id uuid.UUID, reason string) error {
	return m.mutate(ctx, id, func(intent *models.PaymentIntent) error {
		if err := m.transition(intent, enums.IntentStatusFailed, reason); err != nil {
			return err
		}
		intent.LastError = &reason
		intent.NeedsReconciliation = true
		return nil
	})
}

// MarkVoided cancels the intent. Terminal.
func (m *Manager) MarkVoided(ctx context.Context, id uuid.UUID, reason string) error {
	return m.mutate(ctx, id, func(intent *models.PaymentIntent) error {
		return m.transition(intent, enums.IntentStatusVoided, reason)
	})
}

// MarkReconciled records that an operator verified the captured payment
// against a bank settlement record.
func (m *Manager) MarkReconciled(ctx context.Context, id uuid.UUID) error {
	return m.mutate(ctx, id, func(intent *models.PaymentIntent) error {
		if intent.Status != enums.IntentStatusCaptured {
			return pkgerrors.New(pkgerrors.CodeStateConflict,
				fmt.Sprintf("cannot reconcile intent in status %s", intent.Status))
		}
		intent.Status = enums.IntentStatusReconciled
		intent.StatusHistory = append(intent.StatusHistory, models.StatusChange{
			Status:    enums.IntentStatusReconciled,
			Timestamp: m.now().UTC(),
		})
		intent.NeedsReconciliation = false
		return nil
	})
}

// Run drives ProcessPendingIntents on its fixed interval until the context
// ends. Network-restored events reach the same driver through TriggerNow on
// the admin surface or a direct call.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(ReconcileInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.ProcessPendingIntents(ctx); err != nil {
				m.logg.Warn(m.logg.WithField(ctx, "error", err.Error()), "reconciliation cycle finished with errors")
			}
		}
	}
}

// ProcessPendingIntents is the periodic reconciliation driver, invoked every
// cycle and on network-restored events. Overlapping invocations return
// immediately: the busy flag is the lock, the generation counter sequences
// triggers for the audit log.
func (m *Manager) ProcessPendingIntents(ctx context.Context) error {
	generation := m.generation.Add(1)
	if !m.inFlight.CompareAndSwap(false, true) {
		return nil
	}
	defer m.inFlight.Store(false)

	if m.reconciler == nil {
		return nil
	}

	candidates, err := m.store.ListRetryEligible(ctx, m.batchSize)
	if err != nil {
		return fmt.Errorf("list pending intents: %w", err)
	}

	now := m.now().UTC()
	var errs []error
	batch := make([]reconcile.Transaction, 0, len(candidates))
	submitted := make([]models.PaymentIntent, 0, len(candidates))

	for _, intent := range candidates {
		if intent.Attempts >= maxRetries {
			reason := fmt.Sprintf("reconciliation failed after %d attempts", intent.Attempts)
			if intent.LastError != nil {
				reason = fmt.Sprintf("%s: %s", reason, *intent.LastError)
			}
			if err := m.RecordFailure(ctx, intent.ID, reason); err != nil {
				errs = append(errs, err)
			}
			m.metrics.IncRetryExhausted()
			continue
		}
		if !RetryEligible(intent, now) {
			continue
		}

		// Stamp the attempt before the network call so a crash mid-submit
		// still honors the backoff window on restart.
		intent.Attempts++
		attemptAt := now
		intent.LastAttempt = &attemptAt
		if err := m.store.Save(ctx, &intent); err != nil {
			errs = append(errs, fmt.Errorf("stamp attempt on %s: %w", intent.ID, err))
			continue
		}

		batch = append(batch, m.toTransaction(intent))
		submitted = append(submitted, intent)
	}

	if len(batch) == 0 {
		return multierr.Combine(errs...)
	}

	logCtx := m.logg.WithFields(ctx, map[string]any{
		"generation": generation,
		"batch_size": len(batch),
	})
	m.logg.Info(logCtx, "submitting reconciliation batch")
	m.metrics.IncReconcileBatch()

	results, err := m.reconciler.SubmitBatch(ctx, batch)
	if err != nil {
		// Transport failure: every submitted intent keeps its stamped
		// attempt and waits out its backoff window.
		m.logg.Warn(m.logg.WithField(ctx, "error", err.Error()), "reconciliation batch submit failed")
		msg := err.Error()
		for _, intent := range submitted {
			intent.LastError = &msg
			if saveErr := m.store.Save(ctx, &intent); saveErr != nil {
				errs = append(errs, saveErr)
			}
		}
		return multierr.Combine(errs...)
	}

	for _, result := range results {
		if err := m.applyResult(ctx, result); err != nil {
			errs = append(errs, err)
		}
	}
	return multierr.Combine(errs...)
}

func (m *Manager) applyResult(ctx context.Context, result reconcile.Result) error {
	id, err := uuid.Parse(result.ID)
	if err != nil {
		return fmt.Errorf("reconcile result has invalid id %q: %w", result.ID, err)
	}
	m.metrics.IncReconcileResult(result.Status.String())

	// duplicate_ignored means the server already applied this idempotency
	// key; it drives the exact same local transition as synced.
	if result.Status.IsApplied() {
		return m.RecordCapture(ctx, id, result.ServerID)
	}

	return m.mutate(ctx, id, func(intent *models.PaymentIntent) error {
		msg := result.Error
		if msg == "" {
			msg = "reconciliation rejected"
		}
		intent.LastError = &msg
		intent.StatusHistory = append(intent.StatusHistory, models.StatusChange{
			Status:    intent.Status,
			Timestamp: m.now().UTC(),
			Details:   fmt.Sprintf("reconciliation attempt %d failed: %s", intent.Attempts, msg),
		})
		if intent.Attempts >= maxRetries {
			reason := fmt.Sprintf("reconciliation failed after %d attempts: %s", intent.Attempts, msg)
			if err := m.transition(intent, enums.IntentStatusFailed, reason); err != nil {
				return err
			}
			intent.LastError = &reason
			intent.NeedsReconciliation = true
			m.metrics.IncRetryExhausted()
		}
		return nil
	})
}

func (m *Manager) toTransaction(intent models.PaymentIntent) reconcile.Transaction {
	tx := reconcile.Transaction{
		LocalID:        intent.ID.String(),
		IdempotencyKey: intent.IdempotencyKey,
		Amount:         intent.AmountCents,
		TipAmount:      intent.TipCents,
		Method:         intent.Method,
		TerminalID:     intent.TerminalID,
		Timestamp:      intent.CreatedAt,
	}
	if intent.OrderID != nil {
		tx.OrderID = intent.OrderID.String()
	}
	if intent.LocalOrderID != nil {
		tx.LocalOrderID = intent.LocalOrderID.String()
	}
	if intent.EmployeeID != nil {
		tx.EmployeeID = intent.EmployeeID.String()
	}
	if intent.CardToken != nil {
		tx.GatewayToken = *intent.CardToken
	}
	if intent.CardBrand != nil {
		tx.CardBrand = *intent.CardBrand
	}
	if intent.CardLast4 != nil {
		tx.CardLast4 = *intent.CardLast4
	}
	if intent.AuthorizationCode != nil {
		tx.AuthCode = *intent.AuthorizationCode
	}
	if intent.GatewayTransactionID != nil {
		tx.GatewayTransactionID = *intent.GatewayTransactionID
	}
	return tx
}

// mutate loads, applies, and saves one intent. Errors out of fn skip the save.
func (m *Manager) mutate(ctx context.Context, id uuid.UUID, fn func(*models.PaymentIntent) error) error {
	intent, err := m.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := fn(intent); err != nil {
		return err
	}
	return m.store.Save(ctx, intent)
}

// transition enforces the lifecycle invariant: terminal intents are never
// re-entered, and every change lands in the append-only history first.
func (m *Manager) transition(intent *models.PaymentIntent, to enums.IntentStatus, details string) error {
	if intent.Status.IsTerminal() {
		return pkgerrors.New(pkgerrors.CodeStateConflict,
			fmt.Sprintf("intent %s is %s and cannot transition to %s", intent.ID, intent.Status, to))
	}
	intent.Status = to
	intent.StatusHistory = append(intent.StatusHistory, models.StatusChange{
		Status:    to,
		Timestamp: m.now().UTC(),
		Details:   details,
	})
	return nil
}
