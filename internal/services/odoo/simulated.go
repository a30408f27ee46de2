package odoo

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/xelth-com/odoopricesync/internal/catalog"
	"github.com/xelth-com/odoopricesync/internal/models"
	"github.com/xelth-com/odoopricesync/internal/pricing"
)

// CatalogReader is the slice of the local store the simulator mirrors
type CatalogReader interface {
	List(ctx context.Context, f catalog.ProductFilter) ([]models.Product, error)
}

// SimulatedClient stands in for Odoo during development. Pushes take a random
// delay and fail at a fixed rate; fetches mirror the local catalog, or return
// a small synthetic catalog when the local one has nothing to offer.
type SimulatedClient struct {
	catalog     CatalogReader
	currency    string
	failureRate float64
	minDelay    time.Duration
	maxDelay    time.Duration
	now         func() time.Time

	mu  sync.Mutex
	rnd *rand.Rand
}

// SimulatedOption tunes a SimulatedClient
type SimulatedOption func(*SimulatedClient)

// WithFailureRate sets the share of pushes that fail, between 0 and 1
func WithFailureRate(rate float64) SimulatedOption {
	return func(c *SimulatedClient) { c.failureRate = rate }
}

// WithDelay sets the range of the artificial push latency
func WithDelay(from, to time.Duration) SimulatedOption {
	return func(c *SimulatedClient) {
		if to < from {
			to = from
		}
		c.minDelay, c.maxDelay = from, to
	}
}

// WithRand replaces the random source
func WithRand(r *rand.Rand) SimulatedOption {
	return func(c *SimulatedClient) { c.rnd = r }
}

func NewSimulatedClient(reader CatalogReader, currency string, opts ...SimulatedOption) *SimulatedClient {
	c := &SimulatedClient{
		catalog:     reader,
		currency:    pricing.NormalizeCurrency(currency, "USD"),
		failureRate: 0.1,
		minDelay:    150 * time.Millisecond,
		maxDelay:    300 * time.Millisecond,
		now:         time.Now,
		rnd:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *SimulatedClient) Name() string { return "simulated" }

func (c *SimulatedClient) roll() (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delay := c.minDelay
	if span := c.maxDelay - c.minDelay; span > 0 {
		delay += time.Duration(c.rnd.Int63n(int64(span) + 1))
	}
	return delay, c.rnd.Float64() < c.failureRate
}

func (c *SimulatedClient) UpdateCost(ctx context.Context, sku string, cost, sale decimal.Decimal, currency string) (*Response, error) {
	delay, fail := c.roll()
	if delay > 0 {
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	payload := map[string]interface{}{
		"reference":  sku,
		"cost":       cost.InexactFloat64(),
		"sale_price": sale.InexactFloat64(),
		"currency":   currency,
		"request_id": uuid.NewString(),
	}

	if fail {
		return &Response{
			OK:      false,
			Payload: payload,
			Response: map[string]interface{}{
				"status": "error",
				"code":   500,
				"detail": "Simulated Odoo failure.",
			},
			Message: "Simulated Odoo failure.",
		}, nil
	}

	return &Response{
		OK:      true,
		Payload: payload,
		Response: map[string]interface{}{
			"status":    "success",
			"synced_at": c.now().UTC().Format(time.RFC3339),
		},
		Message: "Odoo cost updated.",
	}, nil
}

func (c *SimulatedClient) FetchProducts(ctx context.Context, filters FetchFilters, opts FetchOptions) ([]RemoteRecord, error) {
	skus := cleanSKUs(filters.SKUs)

	products, err := c.catalog.List(ctx, catalog.ProductFilter{
		SKUs:        skus,
		UpdatedFrom: filters.UpdatedAfter,
		UpdatedTo:   filters.UpdatedBefore,
		RecentFirst: true,
		Limit:       opts.Limit,
		Offset:      opts.Offset,
	})
	if err != nil {
		return nil, err
	}

	if len(products) == 0 && len(skus) == 0 {
		limit := opts.Limit
		if limit == 0 {
			limit = 5
		}
		return c.syntheticCatalog(limit), nil
	}

	records := make([]RemoteRecord, 0, len(products))
	for _, p := range products {
		records = append(records, c.mirror(p))
	}
	return records, nil
}

func (c *SimulatedClient) mirror(p models.Product) RemoteRecord {
	c.mu.Lock()
	qty := float64(5 + c.rnd.Intn(196))
	c.mu.Unlock()

	return RemoteRecord{
		ProductID:    10000 + int64(p.ID),
		TemplateID:   20000 + int64(p.ID),
		SKU:          p.SKU,
		Name:         p.Name,
		CostPrice:    p.CostPrice,
		SalePrice:    p.SalePrice,
		QtyAvailable: &qty,
		Currency:     pricing.NormalizeCurrency(p.Currency, c.currency),
		WriteDate:    p.UpdatedAt.UTC().Format(odooTimeLayout),
		Raw:          map[string]interface{}{"mirrored_from_local": true},
	}
}

// syntheticCatalog returns ODOO-0001.. with between 1 and 10 entries
func (c *SimulatedClient) syntheticCatalog(limit int) []RemoteRecord {
	count := limit
	if count < 1 {
		count = 1
	}
	if count > 10 {
		count = 10
	}

	now := c.now().UTC()
	step := decimal.RequireFromString("1.5")
	records := make([]RemoteRecord, 0, count)
	for i := 1; i <= count; i++ {
		cost := decimal.NewFromInt(10).Add(step.Mul(decimal.NewFromInt(int64(i))))
		qty := float64(120 - 3*i)
		if qty < 0 {
			qty = 0
		}
		records = append(records, RemoteRecord{
			ProductID:    50000 + int64(i),
			TemplateID:   60000 + int64(i),
			SKU:          fmt.Sprintf("ODOO-%04d", i),
			Name:         fmt.Sprintf("Remote product %d", i),
			CostPrice:    pricing.Round(cost),
			SalePrice:    pricing.Round(cost.Mul(decimal.RequireFromString("1.2"))),
			QtyAvailable: &qty,
			Currency:     c.currency,
			WriteDate:    now.Add(-time.Duration(i) * time.Minute).Format(odooTimeLayout),
			Raw:          map[string]interface{}{"origin": "fake_odoo_catalog"},
		})
	}
	return records
}
