package intents

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tillpoint/terminal-core/internal/reconcile"
	"github.com/tillpoint/terminal-core/pkg/db/models"
	"github.com/tillpoint/terminal-core/pkg/enums"
	pkgerrors "github.com/tillpoint/terminal-core/pkg/errors"
	"github.com/tillpoint/terminal-core/pkg/logger"
	"github.com/tillpoint/terminal-core/pkg/metrics"
)

type fakeStore struct {
	rows    map[uuid.UUID]*models.PaymentIntent
	listErr error
	lists   int
}

func newFakeStore() *fakeStore {
	return &fakeStore{rows: make(map[uuid.UUID]*models.PaymentIntent)}
}

func (f *fakeStore) Create(_ context.Context, intent *models.PaymentIntent) error {
	copied := *intent
	if copied.CreatedAt.IsZero() {
		copied.CreatedAt = time.Now().UTC()
	}
	f.rows[intent.ID] = &copied
	return nil
}

func (f *fakeStore) Get(_ context.Context, id uuid.UUID) (*models.PaymentIntent, error) {
	row, ok := f.rows[id]
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment intent not found")
	}
	copied := *row
	return &copied, nil
}

func (f *fakeStore) Save(_ context.Context, intent *models.PaymentIntent) error {
	copied := *intent
	f.rows[intent.ID] = &copied
	return nil
}

func (f *fakeStore) ListRetryEligible(_ context.Context, limit int) ([]models.PaymentIntent, error) {
	f.lists++
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []models.PaymentIntent
	for _, row := range f.rows {
		if row.Status == enums.IntentStatusCapturePending || row.Status == enums.IntentStatusAuthorized {
			out = append(out, *row)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type fakeSubmitter struct {
	batches [][]reconcile.Transaction
	results func(batch []reconcile.Transaction) []reconcile.Result
	err     error
}

func (f *fakeSubmitter) SubmitBatch(_ context.Context, batch []reconcile.Transaction) ([]reconcile.Result, error) {
	f.batches = append(f.batches, batch)
	if f.err != nil {
		return nil, f.err
	}
	if f.results == nil {
		return nil, nil
	}
	return f.results(batch), nil
}

func syncedAll(batch []reconcile.Transaction) []reconcile.Result {
	results := make([]reconcile.Result, 0, len(batch))
	for _, tx := range batch {
		results = append(results, reconcile.Result{
			ID:       tx.LocalID,
			Status:   enums.ReconcileOutcomeSynced,
			ServerID: "srv-" + tx.LocalID[:8],
		})
	}
	return results
}

func newTestManager(t *testing.T, store *fakeStore, submitter reconcile.Submitter) *Manager {
	t.Helper()
	manager, err := NewManager(ManagerParams{
		Logger:     logger.New(logger.Options{ServiceName: "test"}),
		Store:      store,
		Reconciler: submitter,
		Metrics:    metrics.NewPaymentMetrics(nil),
	})
	require.NoError(t, err)
	return manager
}

func createTestIntent(t *testing.T, manager *Manager, amount, tip string) *models.PaymentIntent {
	t.Helper()
	intent, err := manager.CreateIntent(context.Background(), CreateIntentParams{
		TerminalID: "till-7",
		Amount:     decimal.RequireFromString(amount),
		Tip:        decimal.RequireFromString(tip),
		Method:     enums.PaymentMethodCard,
	})
	require.NoError(t, err)
	return intent
}

func TestCreateIntentPersistsBeforeNetwork(t *testing.T) {
	store := newFakeStore()
	manager := newTestManager(t, store, &fakeSubmitter{})

	intent := createTestIntent(t, manager, "30.00", "5.00")

	stored, err := store.Get(context.Background(), intent.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.IntentStatusCreated, stored.Status)
	assert.Equal(t, 3000, stored.AmountCents)
	assert.Equal(t, 500, stored.TipCents)
	assert.Equal(t, 2500, stored.SubtotalCents)
	assert.NotEmpty(t, stored.IdempotencyKey)
	require.Len(t, stored.StatusHistory, 1)
	assert.Equal(t, enums.IntentStatusCreated, stored.StatusHistory[0].Status)
}

func TestCreateIntentValidation(t *testing.T) {
	manager := newTestManager(t, newFakeStore(), &fakeSubmitter{})
	ctx := context.Background()

	_, err := manager.CreateIntent(ctx, CreateIntentParams{
		Amount: decimal.RequireFromString("10.00"),
		Method: enums.PaymentMethodCard,
	})
	require.Error(t, err, "terminal id required")

	_, err = manager.CreateIntent(ctx, CreateIntentParams{
		TerminalID: "till-7",
		Amount:     decimal.RequireFromString("-1.00"),
		Method:     enums.PaymentMethodCard,
	})
	require.Error(t, err, "negative amount rejected")

	_, err = manager.CreateIntent(ctx, CreateIntentParams{
		TerminalID: "till-7",
		Amount:     decimal.RequireFromString("5.00"),
		Tip:        decimal.RequireFromString("6.00"),
		Method:     enums.PaymentMethodCard,
	})
	require.Error(t, err, "tip above amount rejected")

	_, err = manager.CreateIntent(ctx, CreateIntentParams{
		TerminalID: "till-7",
		Amount:     decimal.RequireFromString("5.00"),
		Method:     enums.PaymentMethod("bitcoin"),
	})
	require.Error(t, err, "unknown method rejected")
}

func TestOfflineCaptureReconciles(t *testing.T) {
	store := newFakeStore()
	submitter := &fakeSubmitter{results: syncedAll}
	manager := newTestManager(t, store, submitter)
	ctx := context.Background()

	intent := createTestIntent(t, manager, "30.00", "5.00")
	require.NoError(t, manager.MarkTokenizing(ctx, intent.ID))
	require.NoError(t, manager.MarkAuthorizing(ctx, intent.ID))
	require.NoError(t, manager.MarkForOfflineCapture(ctx, intent.ID))

	queued, err := store.Get(ctx, intent.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.IntentStatusCapturePending, queued.Status)
	assert.True(t, queued.IsOfflineCapture)
	assert.True(t, queued.NeedsReconciliation)
	require.NotNil(t, queued.OfflineCapturedAt)

	// Age the attempt stamp so the backoff window is open.
	old := time.Now().Add(-time.Minute).UTC()
	queued.LastAttempt = &old
	require.NoError(t, store.Save(ctx, queued))

	require.NoError(t, manager.ProcessPendingIntents(ctx))
	require.Len(t, submitter.batches, 1)
	require.Len(t, submitter.batches[0], 1)
	assert.Equal(t, queued.IdempotencyKey, submitter.batches[0][0].IdempotencyKey)
	assert.Equal(t, 3000, submitter.batches[0][0].Amount)

	final, err := store.Get(ctx, intent.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.IntentStatusCaptured, final.Status)
	require.NotNil(t, final.ServerPaymentID)
	assert.True(t, final.NeedsReconciliation, "stays flagged until end-of-day verification")
}

func TestDuplicateIgnoredMatchesSynced(t *testing.T) {
	store := newFakeStore()
	submitter := &fakeSubmitter{results: func(batch []reconcile.Transaction) []reconcile.Result {
		results := make([]reconcile.Result, 0, len(batch))
		for _, tx := range batch {
			results = append(results, reconcile.Result{
				ID:     tx.LocalID,
				Status: enums.ReconcileOutcomeDuplicateIgnored,
			})
		}
		return results
	}}
	manager := newTestManager(t, store, submitter)
	ctx := context.Background()

	intent := createTestIntent(t, manager, "12.00", "0")
	require.NoError(t, manager.MarkForOfflineCapture(ctx, intent.ID))

	require.NoError(t, manager.ProcessPendingIntents(ctx))

	final, err := store.Get(ctx, intent.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.IntentStatusCaptured, final.Status,
		"duplicate_ignored drives the same transition as synced")
}

func TestCaptureIsAtMostOnce(t *testing.T) {
	store := newFakeStore()
	manager := newTestManager(t, store, &fakeSubmitter{})
	ctx := context.Background()

	intent := createTestIntent(t, manager, "10.00", "0")
	require.NoError(t, manager.MarkForOfflineCapture(ctx, intent.ID))
	require.NoError(t, manager.RecordCapture(ctx, intent.ID, "srv-1"))
	require.NoError(t, manager.RecordCapture(ctx, intent.ID, "srv-2"), "repeat capture is a no-op")

	final, err := store.Get(ctx, intent.ID)
	require.NoError(t, err)
	require.NotNil(t, final.ServerPaymentID)
	assert.Equal(t, "srv-1", *final.ServerPaymentID)

	captures := 0
	for _, change := range final.StatusHistory {
		if change.Status == enums.IntentStatusCaptured {
			captures++
		}
	}
	assert.Equal(t, 1, captures)
}

func TestTerminalIntentNeverReauthorized(t *testing.T) {
	store := newFakeStore()
	manager := newTestManager(t, store, &fakeSubmitter{})
	ctx := context.Background()

	intent := createTestIntent(t, manager, "10.00", "0")
	require.NoError(t, manager.RecordAuthorization(ctx, intent.ID, AuthResult{
		Approved:      false,
		DeclineReason: "insufficient funds",
	}))

	err := manager.MarkAuthorizing(ctx, intent.ID)
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeStateConflict, typed.Code())
}

func TestRetryExhaustionFails(t *testing.T) {
	store := newFakeStore()
	submitter := &fakeSubmitter{}
	manager := newTestManager(t, store, submitter)
	ctx := context.Background()

	intent := createTestIntent(t, manager, "10.00", "0")
	require.NoError(t, manager.MarkForOfflineCapture(ctx, intent.ID))

	row, err := store.Get(ctx, intent.ID)
	require.NoError(t, err)
	row.Attempts = 10
	require.NoError(t, store.Save(ctx, row))

	require.NoError(t, manager.ProcessPendingIntents(ctx))
	assert.Empty(t, submitter.batches, "exhausted intent is not resubmitted")

	final, err := store.Get(ctx, intent.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.IntentStatusFailed, final.Status)
	require.NotNil(t, final.LastError)
	assert.Contains(t, *final.LastError, "10 attempts")
	assert.True(t, final.NeedsReconciliation, "failed intents remain visible, never dropped")
}

func TestBackoffGatesResubmission(t *testing.T) {
	store := newFakeStore()
	submitter := &fakeSubmitter{results: syncedAll}
	manager := newTestManager(t, store, submitter)
	ctx := context.Background()

	intent := createTestIntent(t, manager, "10.00", "0")
	require.NoError(t, manager.MarkForOfflineCapture(ctx, intent.ID))

	row, err := store.Get(ctx, intent.ID)
	require.NoError(t, err)
	justNow := time.Now().UTC()
	row.Attempts = 1
	row.LastAttempt = &justNow
	require.NoError(t, store.Save(ctx, row))

	require.NoError(t, manager.ProcessPendingIntents(ctx))
	assert.Empty(t, submitter.batches, "intent inside its backoff window is skipped")
}

func TestTransportFailureKeepsIntentPending(t *testing.T) {
	store := newFakeStore()
	submitter := &fakeSubmitter{err: errors.New("connection refused")}
	manager := newTestManager(t, store, submitter)
	ctx := context.Background()

	intent := createTestIntent(t, manager, "10.00", "0")
	require.NoError(t, manager.MarkForOfflineCapture(ctx, intent.ID))

	require.NoError(t, manager.ProcessPendingIntents(ctx))
	require.Len(t, submitter.batches, 1)

	row, err := store.Get(ctx, intent.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.IntentStatusCapturePending, row.Status)
	assert.Equal(t, 1, row.Attempts, "attempt stamped before the network call")
	require.NotNil(t, row.LastAttempt)
	require.NotNil(t, row.LastError)
}

func TestOverlappingDriversCollapse(t *testing.T) {
	store := newFakeStore()
	manager := newTestManager(t, store, &fakeSubmitter{})

	manager.inFlight.Store(true)
	require.NoError(t, manager.ProcessPendingIntents(context.Background()))
	assert.Zero(t, store.lists, "busy driver skips the cycle entirely")
	manager.inFlight.Store(false)

	require.NoError(t, manager.ProcessPendingIntents(context.Background()))
	assert.Equal(t, 1, store.lists)
}

func TestServerFailureCountsTowardExhaustion(t *testing.T) {
	store := newFakeStore()
	submitter := &fakeSubmitter{results: func(batch []reconcile.Transaction) []reconcile.Result {
		results := make([]reconcile.Result, 0, len(batch))
		for _, tx := range batch {
			results = append(results, reconcile.Result{
				ID:     tx.LocalID,
				Status: enums.ReconcileOutcomeFailed,
				Error:  "amount mismatch",
			})
		}
		return results
	}}
	manager := newTestManager(t, store, submitter)
	ctx := context.Background()

	intent := createTestIntent(t, manager, "10.00", "0")
	require.NoError(t, manager.MarkForOfflineCapture(ctx, intent.ID))

	require.NoError(t, manager.ProcessPendingIntents(ctx))

	row, err := store.Get(ctx, intent.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.IntentStatusCapturePending, row.Status, "still pending under the retry budget")
	require.NotNil(t, row.LastError)
	assert.Contains(t, *row.LastError, "amount mismatch")

	// Drive the attempt counter to the budget; the next rejection is final.
	row.Attempts = 9
	old := time.Now().Add(-3 * time.Minute).UTC()
	row.LastAttempt = &old
	require.NoError(t, store.Save(ctx, row))

	require.NoError(t, manager.ProcessPendingIntents(ctx))
	final, err := store.Get(ctx, intent.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.IntentStatusFailed, final.Status)
	require.NotNil(t, final.LastError)
	assert.Contains(t, *final.LastError, "10 attempts")
}

func TestMarkReconciledClearsFlag(t *testing.T) {
	store := newFakeStore()
	manager := newTestManager(t, store, &fakeSubmitter{})
	ctx := context.Background()

	intent := createTestIntent(t, manager, "10.00", "0")
	require.NoError(t, manager.MarkForOfflineCapture(ctx, intent.ID))
	require.NoError(t, manager.RecordCapture(ctx, intent.ID, "srv-1"))
	require.NoError(t, manager.MarkReconciled(ctx, intent.ID))

	final, err := store.Get(ctx, intent.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.IntentStatusReconciled, final.Status)
	assert.False(t, final.NeedsReconciliation)
}
