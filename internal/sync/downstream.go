package sync

import (
	"context"
	"database/sql"
	"fmt"
	gosync "sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/tillpoint/terminal-core/pkg/enums"
	"github.com/tillpoint/terminal-core/pkg/logger"
	"github.com/tillpoint/terminal-core/pkg/metrics"
)

// DownstreamInterval is the fixed cadence of the cloud-to-local pull.
const DownstreamInterval = 15 * time.Second

// DownstreamParams configure the downstream replication worker.
type DownstreamParams struct {
	Local     *gorm.DB
	Cloud     *gorm.DB
	Logger    *logger.Logger
	Metrics   *metrics.SyncMetrics
	BatchSize int
}

// Downstream pulls cloud-authoritative rows into the embedded store. Each
// table carries a high-water mark: the updated_at of the newest row applied
// through an unbroken run of successes. A failed row freezes the mark, so
// everything from the failure onward is re-fetched next cycle and the
// idempotent upsert absorbs the re-applies.
type Downstream struct {
	local     *gorm.DB
	cloud     *gorm.DB
	logg      *logger.Logger
	metrics   *metrics.SyncMetrics
	batchSize int
	now       func() time.Time

	mu          gosync.Mutex
	marks       map[string]time.Time
	initialized bool

	trigger chan struct{}
	busy    atomic.Bool
}

// NewDownstream builds the downstream worker.
func NewDownstream(params DownstreamParams) (*Downstream, error) {
	if params.Local == nil {
		return nil, fmt.Errorf("local db required")
	}
	if params.Cloud == nil {
		return nil, fmt.Errorf("cloud db required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	batchSize := params.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Downstream{
		local:     params.Local,
		cloud:     params.Cloud,
		logg:      params.Logger,
		metrics:   params.Metrics,
		batchSize: batchSize,
		now:       time.Now,
		marks:     make(map[string]time.Time),
		trigger:   make(chan struct{}, 1),
	}, nil
}

// TriggerNow schedules an immediate cycle, coalescing with any trigger
// already pending. Called on network-restored events.
func (d *Downstream) TriggerNow() {
	select {
	case d.trigger <- struct{}{}:
	default:
	}
}

// Run drives the worker on its fixed interval, plus any immediate triggers,
// until the context ends.
func (d *Downstream) Run(ctx context.Context) {
	ticker := time.NewTicker(DownstreamInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-d.trigger:
		}
		if err := d.RunCycle(ctx); err != nil {
			d.logg.Warn(d.logg.WithField(ctx, "error", err.Error()), "downstream cycle finished with errors")
		}
	}
}

// RunCycle replicates one batch for every downstream table. Overlapping
// invocations (timer versus trigger versus an operator poke over the admin
// surface) collapse into one: the busy flag turns the extras into no-ops.
func (d *Downstream) RunCycle(ctx context.Context) error {
	if !d.busy.CompareAndSwap(false, true) {
		return nil
	}
	defer d.busy.Store(false)

	if err := d.ensureMarks(ctx); err != nil {
		return err
	}

	startedAt := d.now().UTC()
	var errs []error
	for _, spec := range DownstreamTables() {
		synced, conflicts, firstErr := d.syncTable(ctx, spec)
		d.metrics.AddSynced(enums.SyncDirectionDownstream.String(), spec.Name, synced)
		d.metrics.AddConflicts(enums.SyncDirectionDownstream.String(), spec.Name, conflicts)
		if firstErr != nil {
			errs = append(errs, fmt.Errorf("table %s: %w", spec.Name, firstErr))
		}
		if synced > 0 || conflicts > 0 {
			logCtx := d.logg.WithFields(ctx, map[string]any{
				"table":     spec.Name,
				"synced":    synced,
				"conflicts": conflicts,
			})
			d.logg.Info(logCtx, "downstream table replicated")
			if err := recordCycle(ctx, d.local, enums.SyncDirectionDownstream, spec.Name,
				synced, conflicts, firstErr, startedAt, d.now().UTC()); err != nil {
				errs = append(errs, fmt.Errorf("record sync log for %s: %w", spec.Name, err))
			}
		}
	}
	d.metrics.ObserveCycle(enums.SyncDirectionDownstream.String(), d.now().UTC().Sub(startedAt))
	return multierr.Combine(errs...)
}

// Watermarks returns a snapshot of the per-table high-water marks.
func (d *Downstream) Watermarks() map[string]time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]time.Time, len(d.marks))
	for table, mark := range d.marks {
		out[table] = mark
	}
	return out
}

// ensureMarks seeds the watermarks from the newest locally applied row per
// table, so a restart resumes where replication left off instead of
// re-pulling history.
func (d *Downstream) ensureMarks(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.initialized {
		return nil
	}
	for _, spec := range DownstreamTables() {
		var raw sql.NullString
		err := d.local.WithContext(ctx).
			Raw(fmt.Sprintf("SELECT MAX(updated_at) FROM %s", spec.Name)).
			Scan(&raw).Error
		if err != nil {
			return fmt.Errorf("seed watermark for %s: %w", spec.Name, err)
		}
		mark := time.Time{}
		if raw.Valid && raw.String != "" {
			parsed, err := parseTimestamp(raw.String)
			if err != nil {
				return fmt.Errorf("seed watermark for %s: %w", spec.Name, err)
			}
			mark = parsed
		}
		d.marks[spec.Name] = mark
	}
	d.initialized = true
	return nil
}

func (d *Downstream) syncTable(ctx context.Context, spec TableSpec) (synced, conflicts int, firstErr error) {
	d.mu.Lock()
	mark := d.marks[spec.Name]
	d.mu.Unlock()

	var rows []map[string]any
	err := d.cloud.WithContext(ctx).
		Table(spec.Name).
		Where("updated_at > ?", mark).
		Order("updated_at ASC").
		Limit(d.batchSize).
		Find(&rows).Error
	if err != nil {
		return 0, 0, fmt.Errorf("fetch changed rows: %w", err)
	}

	// Local writes also stamp synced_at so operators can tell a replicated
	// row from one awaiting its first pull.
	columns := append(append([]Column{}, spec.Columns...), Column{Name: "synced_at", Kind: KindTimestamp})
	statement := upsertSQL(spec.Name, columns)

	var newMark time.Time
	synced, conflicts, newMark, firstErr = applyBatch(rows, mark, func(row map[string]any) error {
		return d.applyRow(ctx, statement, spec, row)
	})
	if firstErr != nil {
		logCtx := d.logg.WithFields(ctx, map[string]any{
			"table": spec.Name,
			"error": firstErr.Error(),
		})
		d.logg.Warn(logCtx, "downstream rows failed, watermark frozen at last contiguous success")
	}

	d.mu.Lock()
	d.marks[spec.Name] = newMark
	d.mu.Unlock()
	return synced, conflicts, firstErr
}

// applyBatch applies ordered rows and advances the high-water mark only
// through the unbroken prefix of successes. Rows after the first failure are
// still attempted, but the mark freezes so they are re-fetched next cycle.
func applyBatch(rows []map[string]any, mark time.Time, apply func(map[string]any) error) (synced, conflicts int, newMark time.Time, firstErr error) {
	newMark = mark
	contiguous := true
	for _, row := range rows {
		if err := apply(row); err != nil {
			conflicts++
			contiguous = false
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		synced++
		if contiguous {
			if ts, err := normalize(KindTimestamp, row["updated_at"]); err == nil {
				if updatedAt, ok := ts.(time.Time); ok && updatedAt.After(newMark) {
					newMark = updatedAt
				}
			}
		}
	}
	return synced, conflicts, newMark, firstErr
}

func (d *Downstream) applyRow(ctx context.Context, statement string, spec TableSpec, row map[string]any) error {
	args, err := bindRow(spec.Columns, row, dialectSQLite)
	if err != nil {
		return err
	}
	args = append(args, d.now().UTC())
	if err := d.local.WithContext(ctx).Exec(statement, args...).Error; err != nil {
		return fmt.Errorf("local upsert: %w", err)
	}
	return nil
}
