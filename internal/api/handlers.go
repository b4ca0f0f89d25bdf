package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tillpoint/terminal-core/internal/api/responses"
	"github.com/tillpoint/terminal-core/internal/intents"
	"github.com/tillpoint/terminal-core/internal/payments"
	"github.com/tillpoint/terminal-core/internal/reader"
	"github.com/tillpoint/terminal-core/internal/transport"
	"github.com/tillpoint/terminal-core/pkg/db/models"
	"github.com/tillpoint/terminal-core/pkg/enums"
	pkgerrors "github.com/tillpoint/terminal-core/pkg/errors"
	"github.com/tillpoint/terminal-core/pkg/logger"
)

const defaultListLimit = 100

type intentLister interface {
	Get(ctx context.Context, id uuid.UUID) (*models.PaymentIntent, error)
	ListRetryEligible(ctx context.Context, limit int) ([]models.PaymentIntent, error)
	ListNeedsReconciliation(ctx context.Context, limit int) ([]models.PaymentIntent, error)
}

type charger interface {
	Charge(ctx context.Context, params payments.ChargeParams) (*models.PaymentIntent, error)
	Void(ctx context.Context, id uuid.UUID, readerID, reason string) error
}

type pendingProcessor interface {
	ProcessPendingIntents(ctx context.Context) error
}

type syncTrigger interface {
	TriggerNow()
	Watermarks() map[string]time.Time
}

type pinVerifier interface {
	VerifyPIN(ctx context.Context, employeeID uuid.UUID, pin string) (*models.Employee, error)
}

type handlers struct {
	logg       *logger.Logger
	terminalID string
	gate       *reader.Gate
	transport  transport.Transport
	intents    intentLister
	processor  pendingProcessor
	charger    charger
	employees  pinVerifier
	downstream syncTrigger
}

func (h *handlers) healthz(w http.ResponseWriter, _ *http.Request) {
	responses.WriteSuccess(w, map[string]string{
		"status":   "ok",
		"terminal": h.terminalID,
	})
}

func (h *handlers) readerHealth(w http.ResponseWriter, r *http.Request) {
	readerID := chi.URLParam(r, "readerID")
	responses.WriteSuccess(w, h.gate.Health(readerID))
}

func (h *handlers) readerList(w http.ResponseWriter, _ *http.Request) {
	responses.WriteSuccess(w, h.gate.Records())
}

// readerReset is the operator recovery path: a manual pad reset that, on
// success, returns the reader to healthy.
func (h *handlers) readerReset(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	readerID := chi.URLParam(r, "readerID")
	if err := h.transport.PadReset(ctx, readerID); err != nil {
		responses.WriteError(ctx, h.logg, w, err)
		return
	}
	responses.WriteSuccess(w, h.gate.Health(readerID))
}

func (h *handlers) intentGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := uuid.Parse(chi.URLParam(r, "intentID"))
	if err != nil {
		responses.WriteError(ctx, h.logg, w, pkgerrors.New(pkgerrors.CodeValidation, "invalid intent id"))
		return
	}
	intent, err := h.intents.Get(ctx, id)
	if err != nil {
		responses.WriteError(ctx, h.logg, w, err)
		return
	}
	responses.WriteSuccess(w, intents.NewIntentView(*intent))
}

func (h *handlers) intentsPending(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rows, err := h.intents.ListRetryEligible(ctx, defaultListLimit)
	if err != nil {
		responses.WriteError(ctx, h.logg, w, err)
		return
	}
	responses.WriteSuccess(w, intents.NewIntentViews(rows))
}

func (h *handlers) intentsNeedsReconciliation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rows, err := h.intents.ListNeedsReconciliation(ctx, defaultListLimit)
	if err != nil {
		responses.WriteError(ctx, h.logg, w, err)
		return
	}
	responses.WriteSuccess(w, intents.NewIntentViews(rows))
}

func (h *handlers) intentsProcess(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := h.processor.ProcessPendingIntents(ctx); err != nil {
		responses.WriteError(ctx, h.logg, w, err)
		return
	}
	responses.WriteSuccessStatus(w, http.StatusAccepted, map[string]string{"status": "processed"})
}

func (h *handlers) syncTrigger(w http.ResponseWriter, r *http.Request) {
	if h.downstream == nil {
		responses.WriteError(r.Context(), h.logg, w,
			pkgerrors.New(pkgerrors.CodeStateConflict, "terminal is running offline-only; no cloud store configured"))
		return
	}
	h.downstream.TriggerNow()
	responses.WriteSuccessStatus(w, http.StatusAccepted, map[string]string{"status": "triggered"})
}

func (h *handlers) syncWatermarks(w http.ResponseWriter, r *http.Request) {
	if h.downstream == nil {
		responses.WriteError(r.Context(), h.logg, w,
			pkgerrors.New(pkgerrors.CodeStateConflict, "terminal is running offline-only; no cloud store configured"))
		return
	}
	responses.WriteSuccess(w, h.downstream.Watermarks())
}

type chargeRequest struct {
	ReaderID     string          `json:"readerId"`
	OrderID      string          `json:"orderId,omitempty"`
	LocalOrderID string          `json:"localOrderId,omitempty"`
	EmployeeID   string          `json:"employeeId,omitempty"`
	Amount       decimal.Decimal `json:"amount"`
	Tip          decimal.Decimal `json:"tip"`
	Method       string          `json:"method"`
}

func (h *handlers) charge(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req chargeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		responses.WriteError(ctx, h.logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid request body"))
		return
	}
	method, err := enums.ParsePaymentMethod(req.Method)
	if err != nil {
		responses.WriteError(ctx, h.logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid payment method"))
		return
	}

	params := payments.ChargeParams{
		ReaderID:   req.ReaderID,
		TerminalID: h.terminalID,
		Amount:     req.Amount,
		Tip:        req.Tip,
		Method:     method,
	}
	if params.OrderID, err = parseOptionalUUID(req.OrderID); err != nil {
		responses.WriteError(ctx, h.logg, w, pkgerrors.New(pkgerrors.CodeValidation, "invalid order id"))
		return
	}
	if params.LocalOrderID, err = parseOptionalUUID(req.LocalOrderID); err != nil {
		responses.WriteError(ctx, h.logg, w, pkgerrors.New(pkgerrors.CodeValidation, "invalid local order id"))
		return
	}
	if params.EmployeeID, err = parseOptionalUUID(req.EmployeeID); err != nil {
		responses.WriteError(ctx, h.logg, w, pkgerrors.New(pkgerrors.CodeValidation, "invalid employee id"))
		return
	}

	intent, chargeErr := h.charger.Charge(ctx, params)
	if chargeErr != nil && intent == nil {
		responses.WriteError(ctx, h.logg, w, chargeErr)
		return
	}
	if chargeErr != nil {
		// Terminal outcome with a persisted trail: return the intent so the
		// caller sees the decline or failure alongside its final state.
		typed := pkgerrors.As(chargeErr)
		if typed == nil {
			typed = pkgerrors.Wrap(pkgerrors.CodeInternal, chargeErr, "charge failed")
		}
		responses.WriteSuccessStatus(w, http.StatusUnprocessableEntity, map[string]any{
			"intent": intents.NewIntentView(*intent),
			"error":  typed.Message(),
			"code":   string(typed.Code()),
		})
		return
	}
	responses.WriteSuccessStatus(w, http.StatusCreated, intents.NewIntentView(*intent))
}

type voidRequest struct {
	ReaderID string `json:"readerId"`
	Reason   string `json:"reason"`
}

func (h *handlers) void(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := uuid.Parse(chi.URLParam(r, "intentID"))
	if err != nil {
		responses.WriteError(ctx, h.logg, w, pkgerrors.New(pkgerrors.CodeValidation, "invalid intent id"))
		return
	}
	var req voidRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		responses.WriteError(ctx, h.logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid request body"))
		return
	}
	if err := h.charger.Void(ctx, id, req.ReaderID, req.Reason); err != nil {
		responses.WriteError(ctx, h.logg, w, err)
		return
	}
	intent, err := h.intents.Get(ctx, id)
	if err != nil {
		responses.WriteError(ctx, h.logg, w, err)
		return
	}
	responses.WriteSuccess(w, intents.NewIntentView(*intent))
}

type verifyPINRequest struct {
	PIN string `json:"pin"`
}

func (h *handlers) verifyPIN(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := uuid.Parse(chi.URLParam(r, "employeeID"))
	if err != nil {
		responses.WriteError(ctx, h.logg, w, pkgerrors.New(pkgerrors.CodeValidation, "invalid employee id"))
		return
	}
	var req verifyPINRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		responses.WriteError(ctx, h.logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid request body"))
		return
	}
	employee, err := h.employees.VerifyPIN(ctx, id, req.PIN)
	if err != nil {
		responses.WriteError(ctx, h.logg, w, err)
		return
	}
	responses.WriteSuccess(w, map[string]any{
		"id":   employee.ID,
		"name": employee.Name,
		"role": employee.Role,
	})
}

func parseOptionalUUID(value string) (*uuid.UUID, error) {
	if value == "" {
		return nil, nil
	}
	parsed, err := uuid.Parse(value)
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}
