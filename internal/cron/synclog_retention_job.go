package cron

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/tillpoint/terminal-core/pkg/db/models"
	"github.com/tillpoint/terminal-core/pkg/logger"
)

const syncLogRetentionDays = 7

// SyncLogRetentionJobParams configure the replication-audit sweep.
type SyncLogRetentionJobParams struct {
	Logger    *logger.Logger
	DB        *gorm.DB
	Retention int
}

// NewSyncLogRetentionJob builds the job that prunes old replication audit
// rows so the embedded store does not grow unbounded on a busy venue.
func NewSyncLogRetentionJob(params SyncLogRetentionJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("db required")
	}
	retention := params.Retention
	if retention <= 0 {
		retention = syncLogRetentionDays
	}
	return &syncLogRetentionJob{
		logg:      params.Logger,
		db:        params.DB,
		retention: retention,
		now:       time.Now,
	}, nil
}

type syncLogRetentionJob struct {
	logg      *logger.Logger
	db        *gorm.DB
	retention int
	now       func() time.Time
}

func (j *syncLogRetentionJob) Name() string { return "synclog-retention" }

func (j *syncLogRetentionJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-time.Duration(j.retention) * 24 * time.Hour)
	result := j.db.WithContext(ctx).
		Where("created_at < ?", cutoff).
		Delete(&models.SyncLog{})
	if result.Error != nil {
		return fmt.Errorf("sync log retention: %w", result.Error)
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"cutoff":         cutoff,
		"retention_days": j.retention,
		"rows_deleted":   result.RowsAffected,
	})
	j.logg.Info(logCtx, "replication audit cleanup complete")
	return nil
}
