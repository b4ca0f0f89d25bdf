package sync

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/tillpoint/terminal-core/pkg/logger"
	"github.com/tillpoint/terminal-core/pkg/metrics"
)

func openTestDB(t *testing.T, name string) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{SkipDefaultTransaction: true})
	require.NoError(t, err)
	return db
}

func execAll(t *testing.T, db *gorm.DB, statements ...string) {
	t.Helper()
	for _, statement := range statements {
		require.NoError(t, db.Exec(statement).Error)
	}
}

const localSyncLogDDL = `
CREATE TABLE IF NOT EXISTS sync_logs (
  id TEXT PRIMARY KEY,
  direction TEXT NOT NULL,
  table_name TEXT NOT NULL,
  synced INTEGER NOT NULL DEFAULT 0,
  conflicts INTEGER NOT NULL DEFAULT 0,
  last_error TEXT,
  started_at DATETIME NOT NULL,
  duration_ns INTEGER NOT NULL DEFAULT 0,
  created_at DATETIME
);`

func setupDownstreamDBs(t *testing.T, suffix string) (local, cloud *gorm.DB) {
	t.Helper()
	local = openTestDB(t, "dslocal"+suffix)
	cloud = openTestDB(t, "dscloud"+suffix)

	execAll(t, local,
		`CREATE TABLE IF NOT EXISTS menu_items (
  id TEXT PRIMARY KEY,
  name TEXT,
  category TEXT,
  price_cents INTEGER,
  available INTEGER,
  modifiers TEXT,
  created_at DATETIME,
  updated_at DATETIME,
  synced_at DATETIME
);`,
		`CREATE TABLE IF NOT EXISTS employees (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  role TEXT,
  pin_hash TEXT,
  active INTEGER,
  created_at DATETIME,
  updated_at DATETIME,
  synced_at DATETIME
);`,
		`CREATE TABLE IF NOT EXISTS venue_settings (
  id TEXT PRIMARY KEY,
  key TEXT,
  value TEXT,
  created_at DATETIME,
  updated_at DATETIME,
  synced_at DATETIME
);`,
		localSyncLogDDL,
	)
	execAll(t, cloud,
		`CREATE TABLE IF NOT EXISTS menu_items (
  id TEXT PRIMARY KEY,
  name TEXT,
  category TEXT,
  price_cents INTEGER,
  available INTEGER,
  modifiers TEXT,
  created_at DATETIME,
  updated_at DATETIME
);`,
		`CREATE TABLE IF NOT EXISTS employees (
  id TEXT PRIMARY KEY,
  name TEXT,
  role TEXT,
  pin_hash TEXT,
  active INTEGER,
  created_at DATETIME,
  updated_at DATETIME
);`,
		`CREATE TABLE IF NOT EXISTS venue_settings (
  id TEXT PRIMARY KEY,
  key TEXT,
  value TEXT,
  created_at DATETIME,
  updated_at DATETIME
);`,
	)
	return local, cloud
}

func newDownstreamForTest(t *testing.T, local, cloud *gorm.DB) *Downstream {
	t.Helper()
	worker, err := NewDownstream(DownstreamParams{
		Local:   local,
		Cloud:   cloud,
		Logger:  logger.New(logger.Options{ServiceName: "test"}),
		Metrics: metrics.NewSyncMetrics(nil),
	})
	require.NoError(t, err)
	return worker
}

func TestApplyBatchFreezesWatermarkOnFailure(t *testing.T) {
	t1 := time.Date(2026, 3, 1, 10, 0, 1, 0, time.UTC)
	t2 := time.Date(2026, 3, 1, 10, 0, 2, 0, time.UTC)
	t3 := time.Date(2026, 3, 1, 10, 0, 3, 0, time.UTC)
	rows := []map[string]any{
		{"id": "1", "updated_at": t1},
		{"id": "2", "updated_at": t2},
		{"id": "3", "updated_at": t3},
	}

	synced, conflicts, mark, firstErr := applyBatch(rows, time.Time{}, func(row map[string]any) error {
		if row["id"] == "2" {
			return errors.New("constraint violation")
		}
		return nil
	})

	assert.Equal(t, 2, synced, "rows after the failure are still attempted")
	assert.Equal(t, 1, conflicts)
	require.Error(t, firstErr)
	assert.Equal(t, t1, mark, "mark stops at the last contiguous success")
}

func TestApplyBatchAdvancesThroughCleanRun(t *testing.T) {
	t1 := time.Date(2026, 3, 1, 10, 0, 1, 0, time.UTC)
	t2 := time.Date(2026, 3, 1, 10, 0, 2, 0, time.UTC)
	rows := []map[string]any{
		{"id": "1", "updated_at": t1},
		{"id": "2", "updated_at": t2},
	}
	synced, conflicts, mark, firstErr := applyBatch(rows, time.Time{}, func(map[string]any) error { return nil })
	assert.Equal(t, 2, synced)
	assert.Zero(t, conflicts)
	assert.NoError(t, firstErr)
	assert.Equal(t, t2, mark)
}

func TestDownstreamCycleAppliesRows(t *testing.T) {
	local, cloud := setupDownstreamDBs(t, "apply")
	worker := newDownstreamForTest(t, local, cloud)
	ctx := context.Background()

	execAll(t, cloud,
		`INSERT INTO menu_items (id, name, category, price_cents, available, modifiers, created_at, updated_at)
 VALUES ('11111111-1111-1111-1111-111111111111', 'Espresso', 'drinks', 350, 1, '[]',
 '2026-03-01 09:00:00+00:00', '2026-03-01 10:00:00+00:00');`,
		`INSERT INTO menu_items (id, name, category, price_cents, available, modifiers, created_at, updated_at)
 VALUES ('22222222-2222-2222-2222-222222222222', 'Croissant', 'food', 420, 0, '[]',
 '2026-03-01 09:00:00+00:00', '2026-03-01 10:00:05+00:00');`,
	)

	require.NoError(t, worker.RunCycle(ctx))

	var count int64
	require.NoError(t, local.Table("menu_items").Count(&count).Error)
	assert.EqualValues(t, 2, count)

	var stamped int64
	require.NoError(t, local.Table("menu_items").Where("synced_at IS NOT NULL").Count(&stamped).Error)
	assert.EqualValues(t, 2, stamped, "replicated rows carry a synced_at stamp")

	marks := worker.Watermarks()
	assert.Equal(t, time.Date(2026, 3, 1, 10, 0, 5, 0, time.UTC), marks["menu_items"].UTC())

	// Re-running with no new cloud rows is a no-op.
	require.NoError(t, worker.RunCycle(ctx))
	require.NoError(t, local.Table("menu_items").Count(&count).Error)
	assert.EqualValues(t, 2, count)
}

func TestDownstreamWatermarkFreezesOnRowFailure(t *testing.T) {
	local, cloud := setupDownstreamDBs(t, "freeze")
	worker := newDownstreamForTest(t, local, cloud)
	ctx := context.Background()

	// Row 2 violates the local NOT NULL on name; rows straddle it.
	execAll(t, cloud,
		`INSERT INTO employees (id, name, role, pin_hash, active, created_at, updated_at)
 VALUES ('aaaaaaaa-0000-0000-0000-000000000001', 'Ana', 'cashier', '', 1,
 '2026-03-01 09:00:00+00:00', '2026-03-01 10:00:01+00:00');`,
		`INSERT INTO employees (id, name, role, pin_hash, active, created_at, updated_at)
 VALUES ('aaaaaaaa-0000-0000-0000-000000000002', NULL, 'cashier', '', 1,
 '2026-03-01 09:00:00+00:00', '2026-03-01 10:00:02+00:00');`,
		`INSERT INTO employees (id, name, role, pin_hash, active, created_at, updated_at)
 VALUES ('aaaaaaaa-0000-0000-0000-000000000003', 'Cole', 'manager', '', 1,
 '2026-03-01 09:00:00+00:00', '2026-03-01 10:00:03+00:00');`,
	)

	err := worker.RunCycle(ctx)
	require.Error(t, err, "row failure surfaces in the cycle result")

	var count int64
	require.NoError(t, local.Table("employees").Count(&count).Error)
	assert.EqualValues(t, 2, count, "rows around the failure still applied")

	marks := worker.Watermarks()
	assert.Equal(t, time.Date(2026, 3, 1, 10, 0, 1, 0, time.UTC), marks["employees"].UTC(),
		"mark frozen at the last contiguous success")

	// The cloud side fixes the row; the next cycle re-fetches from the frozen
	// mark and the idempotent upsert absorbs the re-applied row 3.
	execAll(t, cloud,
		`UPDATE employees SET name = 'Bea' WHERE id = 'aaaaaaaa-0000-0000-0000-000000000002';`)

	require.NoError(t, worker.RunCycle(ctx))
	require.NoError(t, local.Table("employees").Count(&count).Error)
	assert.EqualValues(t, 3, count)
	marks = worker.Watermarks()
	assert.Equal(t, time.Date(2026, 3, 1, 10, 0, 3, 0, time.UTC), marks["employees"].UTC())
}

func TestDownstreamSeedsMarksFromLocalState(t *testing.T) {
	local, cloud := setupDownstreamDBs(t, "seed")

	execAll(t, local,
		`INSERT INTO venue_settings (id, key, value, created_at, updated_at, synced_at)
 VALUES ('33333333-3333-3333-3333-333333333333', 'tax_rate', '0.0825',
 '2026-02-01 09:00:00+00:00', '2026-02-15 10:00:00+00:00', '2026-02-15 10:00:01+00:00');`,
	)
	// A cloud row older than the local high-water mark must not be re-pulled.
	execAll(t, cloud,
		`INSERT INTO venue_settings (id, key, value, created_at, updated_at)
 VALUES ('44444444-4444-4444-4444-444444444444', 'currency', 'USD',
 '2026-01-01 09:00:00+00:00', '2026-01-01 09:00:00+00:00');`,
	)

	worker := newDownstreamForTest(t, local, cloud)
	require.NoError(t, worker.RunCycle(context.Background()))

	var count int64
	require.NoError(t, local.Table("venue_settings").Count(&count).Error)
	assert.EqualValues(t, 1, count, "stale cloud row below the seeded mark is skipped")
}

func TestTriggerNowCoalesces(t *testing.T) {
	local, cloud := setupDownstreamDBs(t, "trigger")
	worker := newDownstreamForTest(t, local, cloud)

	worker.TriggerNow()
	worker.TriggerNow()
	worker.TriggerNow()
	assert.Len(t, worker.trigger, 1, "pending triggers collapse into one")
}

func TestBusyFlagSkipsOverlappingCycle(t *testing.T) {
	local, cloud := setupDownstreamDBs(t, "busy")
	worker := newDownstreamForTest(t, local, cloud)

	worker.busy.Store(true)
	require.NoError(t, worker.RunCycle(context.Background()))
	assert.False(t, worker.initialized, "skipped cycle never touched the store")
	worker.busy.Store(false)

	require.NoError(t, worker.RunCycle(context.Background()))
	assert.True(t, worker.initialized)
}
