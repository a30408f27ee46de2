package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xelth-com/odoopricesync/internal/audit"
	"github.com/xelth-com/odoopricesync/internal/catalog"
	"github.com/xelth-com/odoopricesync/internal/config"
	"github.com/xelth-com/odoopricesync/internal/database"
	"github.com/xelth-com/odoopricesync/internal/services/odoo"
	"github.com/xelth-com/odoopricesync/internal/utils"
)

func newTestRouter(t *testing.T, secret string) *Router {
	t.Helper()

	db, err := database.Connect(config.DatabaseConfig{Driver: "sqlite", Path: ":memory:", Alter: true})
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { _ = db.Close() })

	store := catalog.NewStore(db.DB, nil, "USD")
	recorder := audit.NewRecorder(db.DB)
	client := odoo.NewSimulatedClient(store, "USD", odoo.WithFailureRate(0), odoo.WithDelay(0, 0))
	svc := odoo.NewSyncService(client, store, recorder)

	return NewRouter(Deps{Store: store, Sync: svc, Audit: recorder, Dispatch: "inline", JWTSecret: secret})
}

func do(t *testing.T, h http.Handler, method, path string, body interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var out map[string]interface{}
	if rec.Body.Len() > 0 && rec.Header().Get("Content-Type") == "application/json" {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func createProduct(t *testing.T, h http.Handler, sku, cost, markup string) uint {
	t.Helper()
	rec, out := do(t, h, http.MethodPost, "/api/products", map[string]string{
		"sku": sku, "name": sku, "cost_price": cost, "markup_percent": markup,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return uint(out["id"].(float64))
}

func TestHealthAndStatus(t *testing.T) {
	h := newTestRouter(t, "")

	rec, out := do(t, h, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", out["status"])

	rec, out = do(t, h, http.MethodGet, "/api/status", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "simulated", out["client"])
	assert.Equal(t, "inline", out["dispatch"])
	assert.Contains(t, out, "build")
}

func TestCreateAndUpdateProduct(t *testing.T) {
	h := newTestRouter(t, "")

	rec, out := do(t, h, http.MethodPost, "/api/products", map[string]string{
		"sku": "SKU-1001", "name": "Eco Water Bottle", "cost_price": "4.50", "markup_percent": "20", "currency": "eur",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "5.4", out["sale_price"])
	assert.Equal(t, "EUR", out["currency"])
	assert.Equal(t, "pending", out["last_sync_status"])
	id := uint(out["id"].(float64))

	rec, out = do(t, h, http.MethodPut, "/api/products/"+itoa(id), map[string]string{"sale_price": "6.75"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "50", out["markup_percent"])
	assert.Equal(t, "4.5", out["cost_price"])

	rec, out = do(t, h, http.MethodGet, "/api/products/"+itoa(id), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Eco Water Bottle", out["name"])
}

func TestProductErrors(t *testing.T) {
	h := newTestRouter(t, "")
	createProduct(t, h, "SKU-1", "10", "20")

	rec, _ := do(t, h, http.MethodPost, "/api/products", map[string]string{"sku": "SKU-1", "cost_price": "1"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec, _ = do(t, h, http.MethodPost, "/api/products", map[string]string{"name": "no sku"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec, _ = do(t, h, http.MethodPost, "/api/products", map[string]string{"sku": "SKU-2", "cost_price": "1", "currency": "euros"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec, _ = do(t, h, http.MethodPost, "/api/products", map[string]string{"sku": "SKU-3", "cost_price": "1", "markup_percent": "-10"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec, _ = do(t, h, http.MethodPost, "/api/products", map[string]string{"colour": "red"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(t, h, http.MethodGet, "/api/products/999", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = do(t, h, http.MethodGet, "/api/products?cost_min=abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListProducts(t *testing.T) {
	h := newTestRouter(t, "")
	createProduct(t, h, "SKU-1", "5", "20")
	createProduct(t, h, "SKU-2", "15", "20")
	createProduct(t, h, "OTHER", "25", "20")

	rec, out := do(t, h, http.MethodGet, "/api/products?sku=SKU&cost_min=10", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, out["total"])
	items := out["items"].([]interface{})
	require.Len(t, items, 1)
	assert.Equal(t, "SKU-2", items[0].(map[string]interface{})["sku"])

	rec, out = do(t, h, http.MethodGet, "/api/products?limit=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 3, out["total"])
	assert.Len(t, out["items"], 1)
}

func TestPushEndpoints(t *testing.T) {
	h := newTestRouter(t, "")
	a := createProduct(t, h, "SKU-1", "10", "20")
	createProduct(t, h, "SKU-2", "10", "20")

	rec, out := do(t, h, http.MethodPost, "/api/products/"+itoa(a)+"/push", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, true, out["ok"])

	_, out = do(t, h, http.MethodGet, "/api/products/"+itoa(a), nil)
	assert.Equal(t, "success", out["last_sync_status"])

	rec, out = do(t, h, http.MethodPost, "/api/products/push", map[string]interface{}{"all": true, "status": "pending"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.EqualValues(t, 1, out["total"])
	assert.EqualValues(t, 1, out["success"])

	rec, _ = do(t, h, http.MethodPost, "/api/products/push", map[string]interface{}{})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec, _ = do(t, h, http.MethodPost, "/api/products/999/push", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, out = do(t, h, http.MethodGet, "/api/sync/logs?direction=push", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 2, out["total"])
}

func TestAdjustCost(t *testing.T) {
	h := newTestRouter(t, "")
	a := createProduct(t, h, "SKU-1", "10", "20")

	rec, out := do(t, h, http.MethodPost, "/api/products/adjust-cost", map[string]interface{}{"ids": []uint{a}, "percent": -10})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.EqualValues(t, 1, out["updated"])

	_, out = do(t, h, http.MethodGet, "/api/products/"+itoa(a), nil)
	assert.Equal(t, "9", out["cost_price"])
	assert.Equal(t, "10.8", out["sale_price"])

	rec, _ = do(t, h, http.MethodPost, "/api/products/adjust-cost", map[string]interface{}{"percent": 5})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestPullAndLogs(t *testing.T) {
	h := newTestRouter(t, "")

	rec, out := do(t, h, http.MethodPost, "/api/sync/pull", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.EqualValues(t, 5, out["fetched"])
	assert.EqualValues(t, 5, out["created"])

	rec, out = do(t, h, http.MethodPost, "/api/sync/pull", map[string]interface{}{"skus": []string{"ODOO-0001"}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, out["unchanged"])

	rec, out = do(t, h, http.MethodGet, "/api/sync/logs?operation=import_create&limit=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 5, out["total"])
	assert.Len(t, out["items"], 2)

	rec, out = do(t, h, http.MethodGet, "/api/products?origin=odoo", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 5, out["total"])
}

func TestAuthRequiredWhenSecretSet(t *testing.T) {
	h := newTestRouter(t, "top-secret")

	rec, _ := do(t, h, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = do(t, h, http.MethodGet, "/api/status", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	token, err := utils.GenerateToken("test", "top-secret", time.Minute)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/api/status", nil).WithContext(context.Background())
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}
