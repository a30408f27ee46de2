package catalog

import (
	"context"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xelth-com/odoopricesync/internal/config"
	"github.com/xelth-com/odoopricesync/internal/database"
	"github.com/xelth-com/odoopricesync/internal/models"
)

type recordingDispatcher struct {
	mu  sync.Mutex
	ids []uint
}

func (d *recordingDispatcher) Enqueue(_ context.Context, id uint) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ids = append(d.ids, id)
	return nil
}

func (d *recordingDispatcher) reset() {
	d.mu.Lock()
	d.ids = nil
	d.mu.Unlock()
}

func (d *recordingDispatcher) enqueued() []uint {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]uint(nil), d.ids...)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newTestStore(t *testing.T) (*Store, *recordingDispatcher) {
	t.Helper()

	db, err := database.Connect(config.DatabaseConfig{Driver: "sqlite", Path: ":memory:", Alter: true})
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { _ = db.Close() })

	d := &recordingDispatcher{}
	return NewStore(db.DB, d, "usd"), d
}

func seed(t *testing.T, s *Store, sku, cost, markup string) *models.Product {
	t.Helper()
	p := &models.Product{SKU: sku, Name: sku, CostPrice: dec(cost), MarkupPercent: dec(markup)}
	require.NoError(t, s.Save(context.Background(), p))
	return p
}

func TestSave_CreateComputesSaleAndDispatches(t *testing.T) {
	s, d := newTestStore(t)

	p := seed(t, s, " SKU-1 ", "10", "20")

	assert.Equal(t, "SKU-1", p.SKU)
	assert.True(t, dec("12").Equal(p.SalePrice), "sale %s", p.SalePrice)
	assert.Equal(t, "USD", p.Currency)
	assert.Equal(t, models.OriginLocal, p.OriginSystem)
	assert.Equal(t, models.StatusPending, p.LastSyncStatus)
	assert.Equal(t, models.DirectionPush, p.Direction())
	assert.Equal(t, pendingMessage, p.LastSyncMessage)
	assert.Equal(t, []uint{p.ID}, d.enqueued())
}

func TestSave_CreateWithSaleDerivesMarkup(t *testing.T) {
	s, _ := newTestStore(t)

	p := &models.Product{SKU: "SKU-2", CostPrice: dec("10"), MarkupPercent: dec("99"), SalePrice: dec("15")}
	require.NoError(t, s.Save(context.Background(), p))

	assert.True(t, dec("50").Equal(p.MarkupPercent), "markup %s", p.MarkupPercent)
	assert.True(t, dec("15").Equal(p.SalePrice))
}

func TestSave_SaleOnlyChangeUpdatesMarkup(t *testing.T) {
	s, d := newTestStore(t)
	ctx := context.Background()
	seed(t, s, "SKU-1", "10", "20")
	d.reset()

	p, err := s.FindBySKU(ctx, "SKU-1")
	require.NoError(t, err)
	p.SalePrice = dec("13")
	require.NoError(t, s.Save(ctx, p))

	reloaded, err := s.Find(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, dec("30").Equal(reloaded.MarkupPercent), "markup %s", reloaded.MarkupPercent)
	assert.True(t, dec("13").Equal(reloaded.SalePrice))
	assert.True(t, dec("10").Equal(reloaded.CostPrice))
	assert.Len(t, d.enqueued(), 1)
}

func TestSave_CostChangeRecomputesSale(t *testing.T) {
	s, d := newTestStore(t)
	ctx := context.Background()
	seed(t, s, "SKU-1", "10", "20")
	d.reset()

	p, err := s.FindBySKU(ctx, "SKU-1")
	require.NoError(t, err)
	p.CostPrice = dec("20")
	require.NoError(t, s.Save(ctx, p))

	assert.True(t, dec("24").Equal(p.SalePrice), "sale %s", p.SalePrice)
	assert.True(t, dec("20").Equal(p.MarkupPercent))
	assert.Equal(t, []uint{p.ID}, d.enqueued())
}

func TestSave_RelevantChangeSetsPendingFromSuccess(t *testing.T) {
	s, d := newTestStore(t)
	ctx := context.Background()
	p := seed(t, s, "SKU-1", "10", "20")

	p.LastSyncStatus = models.StatusSuccess
	p.LastSyncMessage = "Odoo product cost updated."
	require.NoError(t, s.MarkSyncState(ctx, p))
	d.reset()

	p.MarkupPercent = dec("25")
	require.NoError(t, s.Save(ctx, p))

	reloaded, err := s.Find(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, reloaded.LastSyncStatus)
	assert.Equal(t, pendingMessage, reloaded.LastSyncMessage)
	assert.True(t, dec("12.5").Equal(reloaded.SalePrice))
	assert.Len(t, d.enqueued(), 1)
}

func TestSave_NameOnlyChangeDoesNotDispatch(t *testing.T) {
	s, d := newTestStore(t)
	ctx := context.Background()
	p := seed(t, s, "SKU-1", "10", "20")
	d.reset()

	p.Name = "Renamed"
	require.NoError(t, s.Save(ctx, p))

	assert.Empty(t, d.enqueued())
	reloaded, err := s.Find(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", reloaded.Name)
}

func TestSave_CurrencyChangeDispatches(t *testing.T) {
	s, d := newTestStore(t)
	ctx := context.Background()
	p := seed(t, s, "SKU-1", "10", "20")
	d.reset()

	p.Currency = "eur"
	require.NoError(t, s.Save(ctx, p))

	assert.Equal(t, "EUR", p.Currency)
	assert.Len(t, d.enqueued(), 1)
}

func TestSave_WithoutSync(t *testing.T) {
	s, d := newTestStore(t)
	ctx := context.Background()

	p := &models.Product{SKU: "ODOO-0001", CostPrice: dec("10"), SalePrice: dec("12"), OriginSystem: models.OriginOdoo}
	require.NoError(t, s.Save(ctx, p, WithoutSync()))

	assert.Empty(t, d.enqueued())
	assert.Equal(t, models.StatusNever, p.LastSyncStatus)
	assert.Equal(t, models.OriginOdoo, p.OriginSystem)

	p.CostPrice = dec("11")
	require.NoError(t, s.Save(ctx, p, WithoutSync()))
	assert.Empty(t, d.enqueued())
}

func TestSave_Validation(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	err := s.Save(ctx, &models.Product{SKU: "  "})
	assert.ErrorIs(t, err, ErrInvalidProduct)

	err = s.Save(ctx, &models.Product{SKU: "NEG", CostPrice: dec("-1")})
	assert.ErrorIs(t, err, ErrInvalidProduct)

	err = s.Save(ctx, &models.Product{SKU: "LOW", CostPrice: dec("10"), MarkupPercent: dec("-150")})
	assert.ErrorIs(t, err, ErrInvalidProduct)

	err = s.Save(ctx, &models.Product{SKU: "NEGM", CostPrice: dec("10"), MarkupPercent: dec("-50")})
	assert.ErrorIs(t, err, ErrInvalidProduct)

	for _, code := range []string{"euros", "E1R", "EU"} {
		p := &models.Product{SKU: "CUR", CostPrice: dec("10"), Currency: code}
		err = s.Save(ctx, p)
		assert.ErrorIs(t, err, ErrInvalidProduct, code)
		assert.Zero(t, p.ID, code)
	}

	count, err := s.Count(ctx, ProductFilter{})
	require.NoError(t, err)
	assert.Zero(t, count)

	err = s.Save(ctx, &models.Product{ID: 999, SKU: "GHOST"})
	assert.ErrorIs(t, err, ErrProductNotFound)
}

func TestSave_BelowCostSaleKeepsDerivedMarkup(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	p := &models.Product{SKU: "CLEAR", CostPrice: dec("10"), SalePrice: dec("8")}
	require.NoError(t, s.Save(ctx, p))
	assert.Equal(t, "-20", p.MarkupPercent.String())

	// a later cost-only edit keeps the stored negative markup and still saves
	p.CostPrice = dec("5")
	require.NoError(t, s.Save(ctx, p))
	assert.Equal(t, "4", p.SalePrice.String())
}

func TestSave_DuplicateSKU(t *testing.T) {
	s, d := newTestStore(t)
	seed(t, s, "SKU-1", "10", "20")
	d.reset()

	err := s.Save(context.Background(), &models.Product{SKU: "SKU-1", CostPrice: dec("5")})
	assert.ErrorIs(t, err, ErrDuplicateSKU)
	assert.Empty(t, d.enqueued())
}

func TestMarkSyncState_LeavesPricesAlone(t *testing.T) {
	s, d := newTestStore(t)
	ctx := context.Background()
	p := seed(t, s, "SKU-1", "10", "20")
	d.reset()

	p.CostPrice = dec("99")
	p.LastSyncStatus = models.StatusProcessing
	p.LastSyncMessage = "Pushing product to Odoo..."
	require.NoError(t, s.MarkSyncState(ctx, p))

	reloaded, err := s.Find(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, dec("10").Equal(reloaded.CostPrice))
	assert.Equal(t, models.StatusProcessing, reloaded.LastSyncStatus)
	assert.Empty(t, d.enqueued())

	assert.ErrorIs(t, s.MarkSyncState(ctx, &models.Product{SKU: "X"}), ErrInvalidProduct)
}

func TestList_Filters(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	a := seed(t, s, "SKU-A", "5", "10")
	seed(t, s, "SKU-B", "15", "10")
	seed(t, s, "OTHER-C", "25", "10")

	got, err := s.List(ctx, ProductFilter{SKULike: "SKU-"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "SKU-A", got[0].SKU)

	costMin := dec("10")
	got, err = s.List(ctx, ProductFilter{CostMin: &costMin})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = s.List(ctx, ProductFilter{IDs: []uint{a.ID}})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, a.ID, got[0].ID)

	n, err := s.Count(ctx, ProductFilter{Status: models.StatusPending, Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	got, err = s.List(ctx, ProductFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "SKU-A", got[0].SKU)
}

func TestAdjustCost(t *testing.T) {
	s, d := newTestStore(t)
	ctx := context.Background()
	a := seed(t, s, "SKU-A", "10", "20")
	b := seed(t, s, "SKU-B", "3", "0")
	d.reset()

	got, err := s.AdjustCost(ctx, []uint{a.ID, b.ID}, dec("10"))
	require.NoError(t, err)
	require.Len(t, got, 2)

	reloaded, err := s.Find(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, dec("11").Equal(reloaded.CostPrice))
	assert.True(t, dec("13.2").Equal(reloaded.SalePrice))
	assert.ElementsMatch(t, []uint{a.ID, b.ID}, d.enqueued())

	_, err = s.AdjustCost(ctx, []uint{b.ID}, dec("-200"))
	require.NoError(t, err)
	reloaded, err = s.Find(ctx, b.ID)
	require.NoError(t, err)
	assert.True(t, reloaded.CostPrice.IsZero())
}

func TestLastPulledAt(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	at, err := s.LastPulledAt(ctx)
	require.NoError(t, err)
	assert.Nil(t, at)
}

func TestSave_SaleDrivenKeepsSale(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	p := seed(t, s, "SKU-1", "3", "0")

	// sale equals the stored value, so without SaleDriven it would follow cost
	p.CostPrice = dec("7")
	p.SalePrice = dec("3")
	require.NoError(t, s.Save(ctx, p, WithoutSync(), SaleDriven()))

	assert.True(t, dec("3").Equal(p.SalePrice), "sale %s", p.SalePrice)
	assert.True(t, dec("-57.14").Equal(p.MarkupPercent), "markup %s", p.MarkupPercent)
}
