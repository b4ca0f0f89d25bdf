package sync

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tillpoint/terminal-core/pkg/db/models"
	"github.com/tillpoint/terminal-core/pkg/enums"
)

// recordCycle writes the per-table audit row for one replication pass. Audit
// failures are reported to the caller but never abort replication.
func recordCycle(
	ctx context.Context,
	local *gorm.DB,
	direction enums.SyncDirection,
	table string,
	synced, conflicts int,
	firstErr error,
	startedAt, finishedAt time.Time,
) error {
	entry := models.SyncLog{
		ID:        uuid.New(),
		Direction: direction,
		Table:     table,
		Synced:    synced,
		Conflicts: conflicts,
		StartedAt: startedAt,
		Duration:  finishedAt.Sub(startedAt),
	}
	if firstErr != nil {
		msg := firstErr.Error()
		entry.LastError = &msg
	}
	return local.WithContext(ctx).Create(&entry).Error
}
