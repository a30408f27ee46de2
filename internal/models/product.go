package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// OriginSystem records which side last authored a product's values.
type OriginSystem string

const (
	OriginLocal OriginSystem = "local"
	OriginOdoo  OriginSystem = "odoo"
)

// SyncDirection of a sync attempt
type SyncDirection string

const (
	DirectionPush SyncDirection = "push"
	DirectionPull SyncDirection = "pull"
)

// Product is the local catalog record kept in price parity with Odoo
type Product struct {
	ID            uint            `gorm:"primaryKey" json:"id"`
	SKU           string          `gorm:"column:sku;type:varchar(100);uniqueIndex;not null" json:"sku"`
	Name          string          `gorm:"type:varchar(255)" json:"name"`
	CostPrice     decimal.Decimal `gorm:"type:numeric(12,2);not null;default:0" json:"cost_price"`
	MarkupPercent decimal.Decimal `gorm:"type:numeric(12,2);not null;default:0" json:"markup_percent"`
	SalePrice     decimal.Decimal `gorm:"type:numeric(12,2);not null;default:0" json:"sale_price"`
	Currency      string          `gorm:"type:varchar(3);not null" json:"currency"`

	OriginSystem      OriginSystem      `gorm:"type:varchar(20);not null;default:'local';index" json:"origin_system"`
	LastSyncStatus    SyncStatus        `gorm:"type:varchar(20);not null;default:'never';index" json:"last_sync_status"`
	LastSyncDirection *SyncDirection    `gorm:"type:varchar(10)" json:"last_sync_direction"`
	LastSyncedAt      *time.Time        `gorm:"index" json:"last_synced_at"`
	LastSyncPayload   datatypes.JSONMap `json:"last_sync_payload"`
	LastSyncMessage   string            `gorm:"type:varchar(500)" json:"last_sync_message"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Product) TableName() string { return "products" }

// Direction returns the last sync direction or "" when the product never synced.
func (p Product) Direction() SyncDirection {
	if p.LastSyncDirection == nil {
		return ""
	}
	return *p.LastSyncDirection
}

// SetDirection stores a copy of d as the last sync direction.
func (p *Product) SetDirection(d SyncDirection) {
	p.LastSyncDirection = &d
}
