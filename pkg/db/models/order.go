package models

import (
	"time"

	"github.com/google/uuid"
)

// Order is a venue-authoritative row pushed upstream. Orders created while
// offline carry only a local id until the cloud assigns one.
type Order struct {
	ID           uuid.UUID  `gorm:"column:id;type:uuid;primaryKey"`
	CloudOrderID *uuid.UUID `gorm:"column:cloud_order_id;type:uuid;index"`
	TerminalID   string     `gorm:"column:terminal_id;not null"`
	EmployeeID   *uuid.UUID `gorm:"column:employee_id;type:uuid"`
	Status       string     `gorm:"column:status;not null;default:'open'"`
	TotalCents   int        `gorm:"column:total_cents;not null;default:0"`
	TipCents     int        `gorm:"column:tip_cents;not null;default:0"`
	Items        string     `gorm:"column:items;type:text"`
	Discounts    string     `gorm:"column:discounts;type:text"`
	ClosedAt     *time.Time `gorm:"column:closed_at"`
	CreatedAt    time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time  `gorm:"column:updated_at;autoUpdateTime;index"`
	SyncedAt     *time.Time `gorm:"column:synced_at;index"`
}

// TableName implements the gorm naming override.
func (Order) TableName() string { return "orders" }

// Shift is a venue-authoritative employee shift record pushed upstream.
type Shift struct {
	ID         uuid.UUID  `gorm:"column:id;type:uuid;primaryKey"`
	EmployeeID uuid.UUID  `gorm:"column:employee_id;type:uuid;not null"`
	TerminalID string     `gorm:"column:terminal_id;not null"`
	OpenedAt   time.Time  `gorm:"column:opened_at;not null"`
	ClosedAt   *time.Time `gorm:"column:closed_at"`
	CashCents  int        `gorm:"column:cash_cents;not null;default:0"`
	CreatedAt  time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time  `gorm:"column:updated_at;autoUpdateTime;index"`
	SyncedAt   *time.Time `gorm:"column:synced_at;index"`
}

// TableName implements the gorm naming override.
func (Shift) TableName() string { return "shifts" }
