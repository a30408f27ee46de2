// Package audit writes and reads the sync log. Rows are only ever inserted.
package audit

import (
	"context"
	"fmt"

	"github.com/xelth-com/odoopricesync/internal/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Entry is one sync attempt to record
type Entry struct {
	ProductID *uint
	SKU       string
	Status    models.LogStatus
	Direction models.SyncDirection
	Operation models.Operation
	Payload   map[string]interface{}
	Response  map[string]interface{}
	Message   string
}

// Recorder appends to and queries the sync log
type Recorder struct {
	db *gorm.DB
}

func NewRecorder(db *gorm.DB) *Recorder {
	return &Recorder{db: db}
}

// Record inserts e and returns the stored row
func (r *Recorder) Record(ctx context.Context, e Entry) (*models.SyncLog, error) {
	row := &models.SyncLog{
		ProductID: e.ProductID,
		SKU:       e.SKU,
		Status:    e.Status,
		Direction: e.Direction,
		Operation: e.Operation,
		Payload:   datatypes.JSONMap(e.Payload),
		Response:  datatypes.JSONMap(e.Response),
		Message:   e.Message,
	}
	if row.Direction == "" {
		row.Direction = models.DirectionPush
	}
	if row.Operation == "" {
		row.Operation = models.OperationCostUpdate
	}

	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		return nil, fmt.Errorf("failed to write sync log for %s: %w", e.SKU, err)
	}
	return row, nil
}

// LogFilter narrows List. Zero values match everything.
type LogFilter struct {
	SKU       string
	ProductID uint
	Status    models.LogStatus
	Direction models.SyncDirection
	Operation models.Operation
	Limit     int
	Offset    int
}

// List returns matching log rows, newest first
func (r *Recorder) List(ctx context.Context, f LogFilter) ([]models.SyncLog, int64, error) {
	q := r.db.WithContext(ctx).Model(&models.SyncLog{})
	if f.SKU != "" {
		q = q.Where("sku = ?", f.SKU)
	}
	if f.ProductID != 0 {
		q = q.Where("product_id = ?", f.ProductID)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.Direction != "" {
		q = q.Where("direction = ?", f.Direction)
	}
	if f.Operation != "" {
		q = q.Where("operation = ?", f.Operation)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count sync logs: %w", err)
	}

	if f.Offset > 0 {
		q = q.Offset(f.Offset)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}

	var rows []models.SyncLog
	if err := q.Order("created_at DESC").Order("id DESC").Find(&rows).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list sync logs: %w", err)
	}
	return rows, total, nil
}
