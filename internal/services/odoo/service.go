package odoo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/xelth-com/odoopricesync/internal/audit"
	"github.com/xelth-com/odoopricesync/internal/catalog"
	"github.com/xelth-com/odoopricesync/internal/dispatch"
	"github.com/xelth-com/odoopricesync/internal/models"
	"github.com/xelth-com/odoopricesync/internal/pricing"
)

const (
	msgPushing       = "Pushing product to Odoo..."
	msgPushed        = "Odoo product cost updated."
	msgPushFailed    = "Odoo product cost update failed."
	msgImported      = "Imported from Odoo."
	msgImportCreated = "Product created from Odoo."
	msgImportUpdated = "Product updated from Odoo."
	msgImportTouched = "Product already up to date."
	msgMissing       = "Product not found for sync."
)

// SyncService pushes local prices to Odoo and imports Odoo products. Every
// attempt leaves one sync log row behind.
type SyncService struct {
	client       SyncClient
	store        *catalog.Store
	audit        *audit.Recorder
	now          func() time.Time
	pullInterval time.Duration

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// Option configures a SyncService
type Option func(*SyncService)

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(s *SyncService) { s.now = now }
}

// WithPullInterval enables the scheduled pull started by Start
func WithPullInterval(d time.Duration) Option {
	return func(s *SyncService) { s.pullInterval = d }
}

// NewSyncService creates a new synchronization service
func NewSyncService(client SyncClient, store *catalog.Store, recorder *audit.Recorder, opts ...Option) *SyncService {
	s := &SyncService{
		client: client,
		store:  store,
		audit:  recorder,
		now:    time.Now,
		stop:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Client returns the remote client in use
func (s *SyncService) Client() SyncClient {
	return s.client
}

// PushResult is the per-product line of a bulk push
type PushResult struct {
	ProductID uint             `json:"product_id"`
	SKU       string           `json:"sku"`
	Status    models.LogStatus `json:"status"`
	Message   string           `json:"message"`
}

// PushSummary aggregates a bulk push
type PushSummary struct {
	Total   int          `json:"total"`
	Success int          `json:"success"`
	Failed  int          `json:"failed"`
	Results []PushResult `json:"results"`
}

// PullError is a record a pull could not import
type PullError struct {
	SKU     string `json:"sku"`
	Message string `json:"message"`
}

// PullSummary aggregates a pull
type PullSummary struct {
	Fetched   int         `json:"fetched"`
	Created   int         `json:"created"`
	Updated   int         `json:"updated"`
	Unchanged int         `json:"unchanged"`
	Errors    []PullError `json:"errors"`
}

func pushPayload(p *models.Product) map[string]interface{} {
	return map[string]interface{}{
		"sku":            p.SKU,
		"cost_price":     pricing.Round(p.CostPrice).InexactFloat64(),
		"sale_price":     pricing.Round(p.SalePrice).InexactFloat64(),
		"markup_percent": pricing.Round(p.MarkupPercent).InexactFloat64(),
		"currency":       p.Currency,
	}
}

func transition(p *models.Product, event models.SyncEvent) error {
	next, err := models.Transition(p.LastSyncStatus, event)
	if err != nil {
		return fmt.Errorf("product %s: %w", p.SKU, err)
	}
	p.LastSyncStatus = next
	return nil
}

// Push sends p's prices to Odoo. A remote rejection is returned as a failed
// Response with a nil error; a transport or authentication failure is
// recorded and then returned.
func (s *SyncService) Push(ctx context.Context, p *models.Product) (*Response, error) {
	payload := pushPayload(p)

	if err := transition(p, models.EventPushStarted); err != nil {
		return nil, err
	}
	p.SetDirection(models.DirectionPush)
	p.LastSyncMessage = msgPushing
	if err := s.store.MarkSyncState(ctx, p); err != nil {
		// the state is unknown, but the attempt is still logged
		s.recordFailedAttempt(ctx, p, payload, err)
		return nil, err
	}

	resp, err := s.client.UpdateCost(ctx, p.SKU, p.CostPrice, p.SalePrice, p.Currency)
	if err != nil {
		s.recordPushException(ctx, p, payload, err)
		return nil, err
	}

	status := models.LogFailed
	event := models.EventPushFailed
	fallback := msgPushFailed
	if resp.OK {
		status, event, fallback = models.LogSuccess, models.EventPushSucceeded, msgPushed
	}

	id := p.ID
	_, logErr := s.audit.Record(ctx, audit.Entry{
		ProductID: &id,
		SKU:       p.SKU,
		Status:    status,
		Direction: models.DirectionPush,
		Operation: models.OperationCostUpdate,
		Payload:   payload,
		Response:  resp.Response,
		Message:   resp.Message,
	})
	if logErr != nil {
		// a product must not stay in processing because the log is down
		log.Error().Err(logErr).Str("sku", p.SKU).Msg("failed to write push log")
	}

	if err := transition(p, event); err != nil {
		return resp, err
	}
	if resp.OK {
		now := s.now().UTC()
		p.OriginSystem = models.OriginLocal
		p.LastSyncedAt = &now
	}
	p.SetDirection(models.DirectionPush)
	p.LastSyncMessage = fallback
	if resp.Message != "" {
		p.LastSyncMessage = resp.Message
	}
	// {request, response}
	p.LastSyncPayload = map[string]interface{}{
		"request":  payload,
		"response": resp.Response,
	}
	if err := s.store.MarkSyncState(ctx, p); err != nil {
		return resp, err
	}

	logger := log.With().Str("sku", p.SKU).Uint("product_id", p.ID).Logger()
	if resp.OK {
		logger.Info().Msg("pushed product to odoo")
	} else {
		logger.Warn().Str("message", resp.Message).Msg("odoo rejected product push")
	}
	if logErr != nil {
		return resp, fmt.Errorf("record push of %s: %w", p.SKU, logErr)
	}
	return resp, nil
}

func exceptionResponse(cause error) map[string]interface{} {
	return map[string]interface{}{
		"exception": fmt.Sprintf("%T", cause),
		"message":   cause.Error(),
	}
}

// recordFailedAttempt writes the failed log row of a push that failed
// before or while reaching Odoo
func (s *SyncService) recordFailedAttempt(ctx context.Context, p *models.Product, payload map[string]interface{}, cause error) {
	var productID *uint
	if p.ID != 0 {
		id := p.ID
		productID = &id
	}
	if _, err := s.audit.Record(ctx, audit.Entry{
		ProductID: productID,
		SKU:       p.SKU,
		Status:    models.LogFailed,
		Direction: models.DirectionPush,
		Operation: models.OperationCostUpdate,
		Payload:   payload,
		Response:  exceptionResponse(cause),
		Message:   cause.Error(),
	}); err != nil {
		log.Error().Err(err).Str("sku", p.SKU).Msg("failed to write push failure log")
	}
}

func (s *SyncService) recordPushException(ctx context.Context, p *models.Product, payload map[string]interface{}, cause error) {
	kind := fmt.Sprintf("%T", cause)
	log.Error().Err(cause).Str("sku", p.SKU).Msg("odoo sync failed")

	s.recordFailedAttempt(ctx, p, payload, cause)

	if err := transition(p, models.EventPushFailed); err != nil {
		log.Error().Err(err).Msg("unexpected sync state")
		return
	}
	p.SetDirection(models.DirectionPush)
	p.LastSyncMessage = cause.Error()
	// {request, exception: {type, message}}
	p.LastSyncPayload = map[string]interface{}{
		"request": payload,
		"exception": map[string]interface{}{
			"type":    kind,
			"message": cause.Error(),
		},
	}
	if err := s.store.MarkSyncState(ctx, p); err != nil {
		log.Error().Err(err).Str("sku", p.SKU).Msg("failed to store push failure state")
	}
}

// PushByID loads and pushes one product. A product that no longer exists is
// logged as a failed sync and is not an error.
func (s *SyncService) PushByID(ctx context.Context, id uint) (*Response, error) {
	p, err := s.store.Find(ctx, id)
	if errors.Is(err, catalog.ErrProductNotFound) {
		log.Warn().Uint("product_id", id).Msg("product vanished before push")
		_, err := s.audit.Record(ctx, audit.Entry{
			SKU:       fmt.Sprintf("missing-%d", id),
			Status:    models.LogFailed,
			Direction: models.DirectionPush,
			Operation: models.OperationCostUpdate,
			Payload:   map[string]interface{}{"product_id": id},
			Response:  map[string]interface{}{},
			Message:   msgMissing,
		})
		return nil, err
	}
	if err != nil {
		return nil, err
	}
	return s.Push(ctx, p)
}

// HandlePush is the dispatch handler. Remote rejections are returned as
// ErrPushRejected so the queue retries them.
func (s *SyncService) HandlePush(ctx context.Context, job dispatch.Job) error {
	resp, err := s.PushByID(ctx, job.ProductID)
	if err != nil {
		return err
	}
	if resp != nil && !resp.OK {
		return fmt.Errorf("%w: %s", ErrPushRejected, resp.Message)
	}
	return nil
}

// PushProducts pushes each product in order. One failure never stops the batch.
func (s *SyncService) PushProducts(ctx context.Context, products []models.Product) PushSummary {
	summary := PushSummary{Results: []PushResult{}}

	for i := range products {
		p := &products[i]
		summary.Total++

		result := PushResult{ProductID: p.ID, SKU: p.SKU, Status: models.LogFailed}
		resp, err := s.Push(ctx, p)
		switch {
		case err != nil:
			summary.Failed++
			result.Message = err.Error()
		case resp.OK:
			summary.Success++
			result.Status = models.LogSuccess
			result.Message = resp.Message
		default:
			summary.Failed++
			result.Message = resp.Message
		}
		summary.Results = append(summary.Results, result)
	}

	return summary
}

// PushAll pushes every product matching f
func (s *SyncService) PushAll(ctx context.Context, f catalog.ProductFilter) (PushSummary, error) {
	products, err := s.store.List(ctx, f)
	if err != nil {
		return PushSummary{}, err
	}
	return s.PushProducts(ctx, products), nil
}

// Pull imports remote products. A failing record is logged and reported in
// Errors; only a failed fetch aborts the pull.
func (s *SyncService) Pull(ctx context.Context, filters FetchFilters, opts FetchOptions) (PullSummary, error) {
	records, err := s.client.FetchProducts(ctx, filters, opts)
	if err != nil {
		return PullSummary{}, fmt.Errorf("fetch odoo products: %w", err)
	}

	summary := PullSummary{Fetched: len(records), Errors: []PullError{}}
	for _, rec := range records {
		outcome, err := s.importRecord(ctx, rec)
		if err != nil {
			log.Error().Err(err).Str("sku", rec.SKU).Msg("odoo import failed")
			s.recordImportFailure(ctx, rec, err)
			summary.Errors = append(summary.Errors, PullError{SKU: strings.TrimSpace(rec.SKU), Message: err.Error()})
			continue
		}
		switch outcome {
		case models.OperationImportCreate:
			summary.Created++
		case models.OperationImportUpdate:
			summary.Updated++
		default:
			summary.Unchanged++
		}
	}

	log.Info().
		Int("fetched", summary.Fetched).
		Int("created", summary.Created).
		Int("updated", summary.Updated).
		Int("unchanged", summary.Unchanged).
		Int("errors", len(summary.Errors)).
		Msg("odoo pull finished")
	return summary, nil
}

func (s *SyncService) importRecord(ctx context.Context, rec RemoteRecord) (models.Operation, error) {
	sku := strings.TrimSpace(rec.SKU)
	if sku == "" {
		return "", ErrMissingSKU
	}

	cost := pricing.Round(rec.CostPrice)
	sale := pricing.Round(rec.SalePrice)
	markup := pricing.ComputeMarkupFromSale(cost, sale)
	currency := pricing.NormalizeCurrency(rec.Currency, s.store.DefaultCurrency())
	name := rec.Name

	existing, err := s.store.FindBySKU(ctx, sku)
	if err != nil && !errors.Is(err, catalog.ErrProductNotFound) {
		return "", err
	}

	p := &models.Product{SKU: sku}
	operation, message := models.OperationImportCreate, msgImportCreated
	if existing != nil {
		p = existing
		operation, message = models.OperationImportTouch, msgImportTouched
		if differs(existing, name, cost, markup, sale, currency) {
			operation, message = models.OperationImportUpdate, msgImportUpdated
		}
	}

	if err := transition(p, models.EventPullImported); err != nil {
		return "", err
	}
	now := s.now().UTC()
	p.Name = name
	p.CostPrice, p.MarkupPercent, p.SalePrice = cost, markup, sale
	p.Currency = currency
	p.OriginSystem = models.OriginOdoo
	p.SetDirection(models.DirectionPull)
	p.LastSyncedAt = &now
	p.LastSyncMessage = msgImported
	p.LastSyncPayload = rec.Snapshot()

	if err := s.store.Save(ctx, p, catalog.WithoutSync(), catalog.SaleDriven()); err != nil {
		return "", err
	}

	id := p.ID
	if _, err := s.audit.Record(ctx, audit.Entry{
		ProductID: &id,
		SKU:       p.SKU,
		Status:    models.LogSuccess,
		Direction: models.DirectionPull,
		Operation: operation,
		Payload:   map[string]interface{}{"record": rec.Snapshot()},
		Response:  map[string]interface{}{},
		Message:   message,
	}); err != nil {
		return "", err
	}
	return operation, nil
}

// differs compares the imported fields, prices at two decimals
func differs(p *models.Product, name string, cost, markup, sale decimal.Decimal, currency string) bool {
	return p.Name != name ||
		!pricing.EqualRounded(p.CostPrice, cost) ||
		!pricing.EqualRounded(p.MarkupPercent, markup) ||
		!pricing.EqualRounded(p.SalePrice, sale) ||
		p.Currency != currency
}

func (s *SyncService) recordImportFailure(ctx context.Context, rec RemoteRecord, cause error) {
	sku := strings.TrimSpace(rec.SKU)
	entry := audit.Entry{
		SKU:       sku,
		Status:    models.LogFailed,
		Direction: models.DirectionPull,
		Operation: models.OperationImportCreate,
		Payload:   map[string]interface{}{"record": rec.Snapshot()},
		Response:  exceptionResponse(cause),
		Message:   cause.Error(),
	}
	if sku != "" {
		if existing, err := s.store.FindBySKU(ctx, sku); err == nil {
			id := existing.ID
			entry.ProductID = &id
			entry.Operation = models.OperationImportUpdate
		}
	}
	if _, err := s.audit.Record(ctx, entry); err != nil {
		log.Error().Err(err).Str("sku", sku).Msg("failed to write import failure log")
	}
}

// Start runs a pull every pull interval until ctx ends or Stop is called.
// Each run imports what changed in Odoo since the newest imported product.
func (s *SyncService) Start(ctx context.Context) {
	if s.pullInterval <= 0 {
		log.Info().Msg("scheduled odoo pull disabled")
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		log.Info().Dur("interval", s.pullInterval).Str("client", s.client.Name()).Msg("scheduled odoo pull started")

		ticker := time.NewTicker(s.pullInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.scheduledPull(ctx)
			case <-ctx.Done():
				return
			case <-s.stop:
				log.Info().Msg("scheduled odoo pull stopped")
				return
			}
		}
	}()
}

func (s *SyncService) scheduledPull(ctx context.Context) {
	since, err := s.store.LastPulledAt(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to read last pull time")
		return
	}
	if _, err := s.Pull(ctx, FetchFilters{UpdatedAfter: since}, FetchOptions{}); err != nil {
		log.Error().Err(err).Msg("scheduled odoo pull failed")
	}
}

// Stop halts the scheduled pull and waits for a running one to finish
func (s *SyncService) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	s.wg.Wait()
}
