package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/tillpoint/terminal-core/pkg/logger"
)

const intentRetentionDays = 30

// IntentRetentionJobParams configure the settled-intent sweep.
type IntentRetentionJobParams struct {
	Logger     *logger.Logger
	Repository intentRetentionRepo
	Retention  int
}

type intentRetentionRepo interface {
	DeleteCapturedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// NewIntentRetentionJob builds the job that prunes captured and reconciled
// intents past the retention window. Pending, failed, and declined intents
// are never pruned; they stay visible until an operator resolves them.
func NewIntentRetentionJob(params IntentRetentionJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Repository == nil {
		return nil, fmt.Errorf("intent repository required")
	}
	retention := params.Retention
	if retention <= 0 {
		retention = intentRetentionDays
	}
	return &intentRetentionJob{
		logg:      params.Logger,
		repo:      params.Repository,
		retention: retention,
		now:       time.Now,
	}, nil
}

type intentRetentionJob struct {
	logg      *logger.Logger
	repo      intentRetentionRepo
	retention int
	now       func() time.Time
}

func (j *intentRetentionJob) Name() string { return "intent-retention" }

func (j *intentRetentionJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-time.Duration(j.retention) * 24 * time.Hour)
	deleted, err := j.repo.DeleteCapturedBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("intent retention: %w", err)
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"cutoff":         cutoff,
		"retention_days": j.retention,
		"rows_deleted":   deleted,
	})
	j.logg.Info(logCtx, "settled intent cleanup complete")
	return nil
}
