package handlers

import (
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xelth-com/odoopricesync/internal/catalog"
	"github.com/xelth-com/odoopricesync/internal/models"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// productInput is the writable part of a product. Omitted fields keep their
// stored value on update.
type productInput struct {
	SKU           *string          `json:"sku"`
	Name          *string          `json:"name"`
	CostPrice     *decimal.Decimal `json:"cost_price"`
	MarkupPercent *decimal.Decimal `json:"markup_percent"`
	SalePrice     *decimal.Decimal `json:"sale_price"`
	Currency      *string          `json:"currency"`
}

func (in productInput) apply(p *models.Product) {
	if in.SKU != nil {
		p.SKU = *in.SKU
	}
	if in.Name != nil {
		p.Name = *in.Name
	}
	if in.CostPrice != nil {
		p.CostPrice = *in.CostPrice
	}
	if in.MarkupPercent != nil {
		p.MarkupPercent = *in.MarkupPercent
	}
	if in.SalePrice != nil {
		p.SalePrice = *in.SalePrice
	}
	if in.Currency != nil {
		p.Currency = *in.Currency
	}
}

func parseDecimalParam(req *http.Request, key string) (*decimal.Decimal, error) {
	v := req.URL.Query().Get(key)
	if v == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func parseTimeParam(req *http.Request, key string) (*time.Time, error) {
	v := req.URL.Query().Get(key)
	if v == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, v); err == nil {
			return &t, nil
		}
	}
	return nil, &time.ParseError{Layout: time.RFC3339, Value: v}
}

func productFilterFrom(req *http.Request) (catalog.ProductFilter, error) {
	q := req.URL.Query()
	f := catalog.ProductFilter{
		SKULike:     q.Get("sku"),
		Status:      models.SyncStatus(q.Get("status")),
		Origin:      models.OriginSystem(q.Get("origin")),
		RecentFirst: q.Get("sort") == "recent",
		Limit:       queryInt(req, "limit", defaultPageSize),
		Offset:      queryInt(req, "offset", 0),
	}
	if f.Limit == 0 || f.Limit > maxPageSize {
		f.Limit = maxPageSize
	}

	var err error
	if f.CostMin, err = parseDecimalParam(req, "cost_min"); err != nil {
		return f, err
	}
	if f.CostMax, err = parseDecimalParam(req, "cost_max"); err != nil {
		return f, err
	}
	if f.UpdatedFrom, err = parseTimeParam(req, "updated_from"); err != nil {
		return f, err
	}
	if f.UpdatedTo, err = parseTimeParam(req, "updated_to"); err != nil {
		return f, err
	}
	return f, nil
}

// listProducts returns a page of products
func (r *Router) listProducts(w http.ResponseWriter, req *http.Request) {
	f, err := productFilterFrom(req)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid filter: "+err.Error())
		return
	}

	products, err := r.store.List(req.Context(), f)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	total, err := r.store.Count(req.Context(), f)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"items": products,
		"total": total,
	})
}

// getProduct returns a single product
func (r *Router) getProduct(w http.ResponseWriter, req *http.Request) {
	p, err := r.store.Find(req.Context(), pathID(req))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

// createProduct saves a new local product, which schedules its first push
func (r *Router) createProduct(w http.ResponseWriter, req *http.Request) {
	var in productInput
	if err := decodeJSON(req, &in); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid payload")
		return
	}

	var p models.Product
	in.apply(&p)
	if err := r.store.Save(req.Context(), &p); err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, p)
}

// updateProduct applies a partial update
func (r *Router) updateProduct(w http.ResponseWriter, req *http.Request) {
	var in productInput
	if err := decodeJSON(req, &in); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid payload")
		return
	}

	p, err := r.store.Find(req.Context(), pathID(req))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	in.apply(p)
	if err := r.store.Save(req.Context(), p); err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

type adjustCostRequest struct {
	IDs     []uint          `json:"ids"`
	Percent decimal.Decimal `json:"percent"`
}

// adjustCost raises or lowers the cost of the listed products by a percentage
func (r *Router) adjustCost(w http.ResponseWriter, req *http.Request) {
	var in adjustCostRequest
	if err := decodeJSON(req, &in); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid payload")
		return
	}
	if len(in.IDs) == 0 {
		respondError(w, http.StatusUnprocessableEntity, "ids must not be empty")
		return
	}

	products, err := r.store.AdjustCost(req.Context(), in.IDs, in.Percent)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"items":   products,
		"updated": len(products),
	})
}
