package sync

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/tillpoint/terminal-core/pkg/enums"
	"github.com/tillpoint/terminal-core/pkg/logger"
	"github.com/tillpoint/terminal-core/pkg/metrics"
)

// UpstreamInterval is the fixed cadence of the local-to-cloud push.
const UpstreamInterval = 5 * time.Second

// UpstreamParams configure the upstream replication worker.
type UpstreamParams struct {
	Local     *gorm.DB
	Cloud     *gorm.DB
	Logger    *logger.Logger
	Metrics   *metrics.SyncMetrics
	BatchSize int
}

// Upstream pushes venue-authoritative rows to the cloud. A row is dirty when
// its updated_at has moved past its synced_at stamp; the stamp only advances
// after the cloud write is confirmed, so a crash between the two replays the
// row through the idempotent upsert.
type Upstream struct {
	local     *gorm.DB
	cloud     *gorm.DB
	logg      *logger.Logger
	metrics   *metrics.SyncMetrics
	batchSize int
	now       func() time.Time
}

// NewUpstream builds the upstream worker.
func NewUpstream(params UpstreamParams) (*Upstream, error) {
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
	return &Upstream{
		local:     params.Local,
		cloud:     params.Cloud,
		logg:      params.Logger,
		metrics:   params.Metrics,
		batchSize: batchSize,
		now:       time.Now,
	}, nil
}

// Run drives the worker on its fixed interval until the context ends.
func (u *Upstream) Run(ctx context.Context) {
	ticker := time.NewTicker(UpstreamInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := u.RunCycle(ctx); err != nil {
				u.logg.Warn(u.logg.WithField(ctx, "error", err.Error()), "upstream cycle finished with errors")
			}
		}
	}
}

// RunCycle replicates one batch for every upstream table. Per-row failures
// are isolated: they are counted and logged, and the cycle moves on.
func (u *Upstream) RunCycle(ctx context.Context) error {
	startedAt := u.now().UTC()
	var errs []error
	for _, spec := range UpstreamTables() {
		synced, conflicts, firstErr := u.syncTable(ctx, spec)
		u.metrics.AddSynced(enums.SyncDirectionUpstream.String(), spec.Name, synced)
		u.metrics.AddConflicts(enums.SyncDirectionUpstream.String(), spec.Name, conflicts)
		if firstErr != nil {
			errs = append(errs, fmt.Errorf("table %s: %w", spec.Name, firstErr))
		}
		if synced > 0 || conflicts > 0 {
			logCtx := u.logg.WithFields(ctx, map[string]any{
				"table":     spec.Name,
				"synced":    synced,
				"conflicts": conflicts,
			})
			u.logg.Info(logCtx, "upstream table replicated")
			if err := recordCycle(ctx, u.local, enums.SyncDirectionUpstream, spec.Name,
				synced, conflicts, firstErr, startedAt, u.now().UTC()); err != nil {
				errs = append(errs, fmt.Errorf("record sync log for %s: %w", spec.Name, err))
			}
		}
	}
	u.metrics.ObserveCycle(enums.SyncDirectionUpstream.String(), u.now().UTC().Sub(startedAt))
	return multierr.Combine(errs...)
}

func (u *Upstream) syncTable(ctx context.Context, spec TableSpec) (synced, conflicts int, firstErr error) {
	var rows []map[string]any
	err := u.local.WithContext(ctx).
		Table(spec.Name).
		Where("updated_at > COALESCE(synced_at, ?)", time.Unix(0, 0).UTC()).
		Order("updated_at ASC").
		Limit(u.batchSize).
		Find(&rows).Error
	if err != nil {
		return 0, 0, fmt.Errorf("list dirty rows: %w", err)
	}

	statement := upsertSQL(spec.Name, spec.Columns)
	for _, row := range rows {
		if err := u.pushRow(ctx, spec, statement, row); err != nil {
			conflicts++
			if firstErr == nil {
				firstErr = err
			}
			logCtx := u.logg.WithFields(ctx, map[string]any{
				"table": spec.Name,
				"row":   fmt.Sprint(row["id"]),
				"error": err.Error(),
			})
			u.logg.Warn(logCtx, "upstream row failed, continuing")
			continue
		}
		synced++
	}
	return synced, conflicts, firstErr
}

func (u *Upstream) pushRow(ctx context.Context, spec TableSpec, statement string, row map[string]any) error {
	args, err := bindRow(spec.Columns, row, dialectPostgres)
	if err != nil {
		return err
	}
	if err := u.cloud.WithContext(ctx).Exec(statement, args...).Error; err != nil {
		return fmt.Errorf("cloud upsert: %w", err)
	}
	// Stamp only after the cloud write is confirmed. Local edits landing
	// after this stamp carry a newer updated_at and stay dirty.
	err = u.local.WithContext(ctx).
		Table(spec.Name).
		Where("id = ?", row["id"]).
		Update("synced_at", u.now().UTC()).Error
	if err != nil {
		return fmt.Errorf("stamp synced_at: %w", err)
	}
	return nil
}
