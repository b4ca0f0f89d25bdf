package intents

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tillpoint/terminal-core/pkg/db"
	"github.com/tillpoint/terminal-core/pkg/db/models"
	"github.com/tillpoint/terminal-core/pkg/enums"
	pkgerrors "github.com/tillpoint/terminal-core/pkg/errors"
)

// Repository persists payment intents in the embedded local store. The store
// must be queryable by status even fully offline, so every lookup the manager
// needs is backed by an index.
type Repository struct {
	db *gorm.DB
}

// NewRepository constructs a Repository backed by the provided GORM connection.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) conn(ctx context.Context) *gorm.DB {
	if ctx == nil {
		return r.db
	}
	return r.db.WithContext(ctx)
}

// Create inserts the intent. Must succeed before any network call is made.
func (r *Repository) Create(ctx context.Context, intent *models.PaymentIntent) error {
	err := r.conn(ctx).Create(intent).Error
	if db.IsUniqueViolation(err, "idempotency_key") {
		return pkgerrors.Wrap(pkgerrors.CodeStateConflict, err,
			"an intent with this idempotency key already exists")
	}
	return err
}

// Get loads one intent by local id.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (*models.PaymentIntent, error) {
	var intent models.PaymentIntent
	err := r.conn(ctx).First(&intent, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment intent not found")
	}
	if err != nil {
		return nil, err
	}
	return &intent, nil
}

// Save persists the full intent row.
func (r *Repository) Save(ctx context.Context, intent *models.PaymentIntent) error {
	return r.conn(ctx).Save(intent).Error
}

// ListRetryEligible returns intents awaiting reconciliation: capture_pending
// plus authorized-without-capture, oldest first.
func (r *Repository) ListRetryEligible(ctx context.Context, limit int) ([]models.PaymentIntent, error) {
	var rows []models.PaymentIntent
	err := r.conn(ctx).
		Where("status IN ?", []enums.IntentStatus{enums.IntentStatusCapturePending, enums.IntentStatusAuthorized}).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// ListByStatus returns intents in the given status, newest first.
func (r *Repository) ListByStatus(ctx context.Context, status enums.IntentStatus, limit int) ([]models.PaymentIntent, error) {
	var rows []models.PaymentIntent
	err := r.conn(ctx).
		Where("status = ?", status).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// ListNeedsReconciliation returns intents flagged for end-of-day manual
// verification against bank statements.
func (r *Repository) ListNeedsReconciliation(ctx context.Context, limit int) ([]models.PaymentIntent, error) {
	var rows []models.PaymentIntent
	err := r.conn(ctx).
		Where("needs_reconciliation = ?", true).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// DeleteCapturedBefore removes captured and reconciled intents older than the
// cutoff. The retention sweep runs it on a daily cadence.
func (r *Repository) DeleteCapturedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.conn(ctx).
		Where("status IN ?", []enums.IntentStatus{enums.IntentStatusCaptured, enums.IntentStatusReconciled}).
		Where("updated_at < ?", cutoff).
		Delete(&models.PaymentIntent{})
	return result.RowsAffected, result.Error
}
