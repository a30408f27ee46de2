// Package catalog is the local product write path. Every price change goes
// through Store.Save, which applies the pricing rule, tracks whether the change
// needs to reach Odoo and hands the push to the dispatcher.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/xelth-com/odoopricesync/internal/dispatch"
	"github.com/xelth-com/odoopricesync/internal/models"
	"github.com/xelth-com/odoopricesync/internal/pricing"
	"gorm.io/gorm"
)

const pendingMessage = "Awaiting push to Odoo."

var (
	ErrProductNotFound = errors.New("product not found")
	ErrDuplicateSKU    = errors.New("sku already exists")
	ErrInvalidProduct  = errors.New("invalid product")
)

var currencyCode = regexp.MustCompile(`^[A-Z]{3}$`)

// syncColumns are the bookkeeping columns written by MarkSyncState
var syncColumns = []string{
	"origin_system",
	"last_sync_status",
	"last_sync_direction",
	"last_synced_at",
	"last_sync_payload",
	"last_sync_message",
	"updated_at",
}

// Store persists products
type Store struct {
	db              *gorm.DB
	dispatcher      dispatch.Dispatcher
	defaultCurrency string
}

// NewStore creates a store. A nil dispatcher disables push triggers.
func NewStore(db *gorm.DB, dispatcher dispatch.Dispatcher, defaultCurrency string) *Store {
	if defaultCurrency == "" {
		defaultCurrency = "USD"
	}
	return &Store{db: db, dispatcher: dispatcher, defaultCurrency: strings.ToUpper(defaultCurrency)}
}

// DefaultCurrency is the currency applied when a product carries none.
func (s *Store) DefaultCurrency() string {
	return s.defaultCurrency
}

type saveOptions struct {
	skipSync   bool
	saleDriven bool
}

// SaveOption customises a single Save call
type SaveOption func(*saveOptions)

// WithoutSync saves without marking the product pending or dispatching a push.
// Pull imports and sync bookkeeping use it so they never trigger a push.
func WithoutSync() SaveOption {
	return func(o *saveOptions) { o.skipSync = true }
}

// SaleDriven makes the sale price the driving input even when it did not
// change, so the markup is always derived from cost and sale.
func SaleDriven() SaveOption {
	return func(o *saveOptions) { o.saleDriven = true }
}

// Save validates, prices and persists p. A create, or an update that changes
// cost, markup, sale price or currency, marks p pending and dispatches exactly
// one push after the row is written.
func (s *Store) Save(ctx context.Context, p *models.Product, opts ...SaveOption) error {
	var o saveOptions
	for _, opt := range opts {
		opt(&o)
	}

	p.SKU = strings.TrimSpace(p.SKU)
	if p.SKU == "" {
		return fmt.Errorf("%w: sku is required", ErrInvalidProduct)
	}
	if p.CostPrice.IsNegative() {
		return fmt.Errorf("%w: cost price must not be negative", ErrInvalidProduct)
	}

	var existing *models.Product
	if p.ID != 0 {
		row, err := s.Find(ctx, p.ID)
		if err != nil {
			return err
		}
		existing = row
	}

	if err := s.ensureUniqueSKU(ctx, p); err != nil {
		return err
	}

	// The sale price drives when the caller moved it away from the stored value
	saleDriven := !p.SalePrice.IsZero()
	if existing != nil {
		saleDriven = !pricing.EqualRounded(p.SalePrice, existing.SalePrice)
	}
	if o.saleDriven {
		saleDriven = true
	}

	// an entered markup must not be negative; one derived from a sale below
	// cost may be, and survives later cost edits
	markupEntered := existing == nil || !pricing.EqualRounded(p.MarkupPercent, existing.MarkupPercent)
	if !saleDriven && markupEntered && p.MarkupPercent.IsNegative() {
		return fmt.Errorf("%w: markup must not be negative", ErrInvalidProduct)
	}

	prices := pricing.Apply(p.CostPrice, p.MarkupPercent, p.SalePrice, saleDriven)
	if prices.Sale.IsNegative() {
		return fmt.Errorf("%w: sale price must not be negative", ErrInvalidProduct)
	}

	currency := pricing.NormalizeCurrency(p.Currency, s.defaultCurrency)
	if !currencyCode.MatchString(currency) {
		return fmt.Errorf("%w: currency %q is not a 3-letter code", ErrInvalidProduct, currency)
	}
	p.CostPrice, p.MarkupPercent, p.SalePrice = prices.Cost, prices.Markup, prices.Sale
	p.Currency = currency

	if p.OriginSystem == "" {
		p.OriginSystem = models.OriginLocal
	}
	if p.LastSyncStatus == "" {
		p.LastSyncStatus = models.StatusNever
	}
	if existing != nil && p.CreatedAt.IsZero() {
		p.CreatedAt = existing.CreatedAt
	}

	trigger := !o.skipSync && priceFieldsChanged(existing, p)
	if trigger {
		next, err := models.Transition(p.LastSyncStatus, models.EventLocalChange)
		if err != nil {
			return err
		}
		p.LastSyncStatus = next
		p.SetDirection(models.DirectionPush)
		p.LastSyncMessage = pendingMessage
	}

	if err := s.db.WithContext(ctx).Save(p).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("%w: %s", ErrDuplicateSKU, p.SKU)
		}
		return fmt.Errorf("failed to save product %s: %w", p.SKU, err)
	}

	if trigger && s.dispatcher != nil {
		if err := s.dispatcher.Enqueue(ctx, p.ID); err != nil {
			return fmt.Errorf("product %s saved but push dispatch failed: %w", p.SKU, err)
		}
		log.Debug().Str("sku", p.SKU).Uint("product_id", p.ID).Msg("push dispatched")
	}

	return nil
}

func priceFieldsChanged(existing, p *models.Product) bool {
	if existing == nil {
		return true
	}
	return !existing.CostPrice.Equal(p.CostPrice) ||
		!existing.MarkupPercent.Equal(p.MarkupPercent) ||
		!existing.SalePrice.Equal(p.SalePrice) ||
		existing.Currency != p.Currency
}

func (s *Store) ensureUniqueSKU(ctx context.Context, p *models.Product) error {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.Product{}).
		Where("sku = ? AND id <> ?", p.SKU, p.ID).
		Count(&count).Error
	if err != nil {
		return fmt.Errorf("failed to check sku %s: %w", p.SKU, err)
	}
	if count > 0 {
		return fmt.Errorf("%w: %s", ErrDuplicateSKU, p.SKU)
	}
	return nil
}

// MarkSyncState writes only the sync bookkeeping columns of p. Prices are not
// touched and no push is triggered.
func (s *Store) MarkSyncState(ctx context.Context, p *models.Product) error {
	if p.ID == 0 {
		return fmt.Errorf("%w: cannot mark unsaved product %s", ErrInvalidProduct, p.SKU)
	}
	err := s.db.WithContext(ctx).Model(p).Select(syncColumns).Updates(p).Error
	if err != nil {
		return fmt.Errorf("failed to update sync state of %s: %w", p.SKU, err)
	}
	return nil
}

// Find loads a product by id
func (s *Store) Find(ctx context.Context, id uint) (*models.Product, error) {
	var p models.Product
	if err := s.db.WithContext(ctx).First(&p, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: id %d", ErrProductNotFound, id)
		}
		return nil, err
	}
	return &p, nil
}

// FindBySKU loads a product by sku
func (s *Store) FindBySKU(ctx context.Context, sku string) (*models.Product, error) {
	var p models.Product
	if err := s.db.WithContext(ctx).Where("sku = ?", strings.TrimSpace(sku)).First(&p).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: sku %s", ErrProductNotFound, sku)
		}
		return nil, err
	}
	return &p, nil
}

// ProductFilter narrows List
type ProductFilter struct {
	IDs         []uint
	SKUs        []string
	SKULike     string
	CostMin     *decimal.Decimal
	CostMax     *decimal.Decimal
	UpdatedFrom *time.Time
	UpdatedTo   *time.Time
	Status      models.SyncStatus
	Origin      models.OriginSystem
	// RecentFirst orders by updated_at desc instead of sku
	RecentFirst bool
	Limit       int
	Offset      int
}

func (s *Store) query(ctx context.Context, f ProductFilter) *gorm.DB {
	q := s.db.WithContext(ctx).Model(&models.Product{})
	if len(f.IDs) > 0 {
		q = q.Where("id IN ?", f.IDs)
	}
	if len(f.SKUs) > 0 {
		q = q.Where("sku IN ?", f.SKUs)
	}
	if f.SKULike != "" {
		q = q.Where("sku LIKE ?", "%"+strings.TrimSpace(f.SKULike)+"%")
	}
	if f.CostMin != nil {
		q = q.Where("cost_price >= ?", *f.CostMin)
	}
	if f.CostMax != nil {
		q = q.Where("cost_price <= ?", *f.CostMax)
	}
	if f.UpdatedFrom != nil {
		q = q.Where("updated_at >= ?", *f.UpdatedFrom)
	}
	if f.UpdatedTo != nil {
		q = q.Where("updated_at <= ?", *f.UpdatedTo)
	}
	if f.Status != "" {
		q = q.Where("last_sync_status = ?", f.Status)
	}
	if f.Origin != "" {
		q = q.Where("origin_system = ?", f.Origin)
	}
	return q
}

// List returns products matching f
func (s *Store) List(ctx context.Context, f ProductFilter) ([]models.Product, error) {
	q := s.query(ctx, f)
	if f.RecentFirst {
		q = q.Order("updated_at DESC").Order("sku")
	} else {
		q = q.Order("sku")
	}
	if f.Offset > 0 {
		q = q.Offset(f.Offset)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}

	var products []models.Product
	if err := q.Find(&products).Error; err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	return products, nil
}

// Count returns the number of products matching f, ignoring paging
func (s *Store) Count(ctx context.Context, f ProductFilter) (int64, error) {
	var n int64
	if err := s.query(ctx, f).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("failed to count products: %w", err)
	}
	return n, nil
}

// LastPulledAt returns the newest last_synced_at among Odoo-authored products,
// or nil when nothing has been imported yet.
func (s *Store) LastPulledAt(ctx context.Context) (*time.Time, error) {
	var p models.Product
	err := s.db.WithContext(ctx).
		Where("origin_system = ? AND last_synced_at IS NOT NULL", models.OriginOdoo).
		Order("last_synced_at DESC").
		First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return p.LastSyncedAt, nil
}

// AdjustCost changes the cost of every listed product by percent (negative to
// decrease). Each product is saved on its own, so each dispatches its own push.
func (s *Store) AdjustCost(ctx context.Context, ids []uint, percent decimal.Decimal) ([]models.Product, error) {
	products, err := s.List(ctx, ProductFilter{IDs: ids})
	if err != nil {
		return nil, err
	}

	for i := range products {
		p := &products[i]
		p.CostPrice = pricing.AdjustCost(p.CostPrice, percent)
		if err := s.Save(ctx, p); err != nil {
			return products[:i], err
		}
	}
	return products, nil
}
