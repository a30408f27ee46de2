package models

import (
	"time"

	"gorm.io/datatypes"
)

// LogStatus is the outcome of one sync attempt
type LogStatus string

const (
	LogSuccess LogStatus = "success"
	LogFailed  LogStatus = "failed"
)

// Operation names what a sync attempt did
type Operation string

const (
	OperationCostUpdate   Operation = "cost_update"
	OperationImportCreate Operation = "import_create"
	OperationImportUpdate Operation = "import_update"
	OperationImportTouch  Operation = "import_touch"
)

// SyncLog is the immutable audit row written for every push attempt and every
// pulled record. ProductID stays nil when the product no longer exists.
type SyncLog struct {
	ID        uint              `gorm:"primaryKey" json:"id"`
	ProductID *uint             `gorm:"index" json:"product_id"`
	SKU       string            `gorm:"column:sku;type:varchar(100);not null;index" json:"sku"`
	Status    LogStatus         `gorm:"type:varchar(20);not null;index" json:"status"`
	Direction SyncDirection     `gorm:"type:varchar(10);not null;default:'push';index" json:"direction"`
	Operation Operation         `gorm:"type:varchar(30);not null;default:'cost_update';index" json:"operation"`
	Payload   datatypes.JSONMap `json:"payload"`
	Response  datatypes.JSONMap `json:"response"`
	Message   string            `gorm:"type:varchar(500)" json:"message"`
	CreatedAt time.Time         `gorm:"index" json:"created_at"`
}

func (SyncLog) TableName() string { return "sync_logs" }
