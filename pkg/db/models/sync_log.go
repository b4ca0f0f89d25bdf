package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/tillpoint/terminal-core/pkg/enums"
)

// SyncLog records one replication cycle per table for local troubleshooting.
type SyncLog struct {
	ID        uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	Direction enums.SyncDirection `gorm:"column:direction;not null"`
	Table     string              `gorm:"column:table_name;not null"`
	Synced    int                 `gorm:"column:synced;not null;default:0"`
	Conflicts int                 `gorm:"column:conflicts;not null;default:0"`
	LastError *string             `gorm:"column:last_error"`
	StartedAt time.Time           `gorm:"column:started_at;not null"`
	Duration  time.Duration       `gorm:"column:duration_ns;not null;default:0"`
	CreatedAt time.Time           `gorm:"column:created_at;autoCreateTime;index"`
}

// TableName implements the gorm naming override.
func (SyncLog) TableName() string { return "sync_logs" }
