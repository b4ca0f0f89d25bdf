package models

import (
	"time"

	"github.com/google/uuid"
)

// MenuItem is cloud-authoritative and replicated downstream so the terminal
// can keep selling with no network.
type MenuItem struct {
	ID         uuid.UUID  `gorm:"column:id;type:uuid;primaryKey"`
	Name       string     `gorm:"column:name;not null"`
	Category   string     `gorm:"column:category"`
	PriceCents int        `gorm:"column:price_cents;not null"`
	Available  bool       `gorm:"column:available;not null;default:true"`
	Modifiers  string     `gorm:"column:modifiers;type:text"`
	CreatedAt  time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time  `gorm:"column:updated_at;autoUpdateTime;index"`
	SyncedAt   *time.Time `gorm:"column:synced_at"`
}

// TableName implements the gorm naming override.
func (MenuItem) TableName() string { return "menu_items" }

// Employee is cloud-authoritative. The PIN hash rides the downstream sync so
// verification works fully offline.
type Employee struct {
	ID        uuid.UUID  `gorm:"column:id;type:uuid;primaryKey"`
	Name      string     `gorm:"column:name;not null"`
	Role      string     `gorm:"column:role;not null;default:'cashier'"`
	PinHash   string     `gorm:"column:pin_hash"`
	Active    bool       `gorm:"column:active;not null;default:true"`
	CreatedAt time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time  `gorm:"column:updated_at;autoUpdateTime;index"`
	SyncedAt  *time.Time `gorm:"column:synced_at"`
}

// TableName implements the gorm naming override.
func (Employee) TableName() string { return "employees" }

// VenueSetting is a cloud-authoritative key/value configuration row.
type VenueSetting struct {
	ID        uuid.UUID  `gorm:"column:id;type:uuid;primaryKey"`
	Key       string     `gorm:"column:key;uniqueIndex;not null"`
	Value     string     `gorm:"column:value;type:text"`
	CreatedAt time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time  `gorm:"column:updated_at;autoUpdateTime;index"`
	SyncedAt  *time.Time `gorm:"column:synced_at"`
}

// TableName implements the gorm naming override.
func (VenueSetting) TableName() string { return "venue_settings" }
