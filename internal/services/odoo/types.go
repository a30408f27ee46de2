// Package odoo talks to the Odoo ERP and reconciles its product prices with
// the local catalog.
package odoo

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrNotConfigured  = errors.New("odoo client is not configured")
	ErrAuthentication = errors.New("odoo authentication failed")
	ErrPushRejected   = errors.New("odoo rejected the push")
	ErrMissingSKU     = errors.New("fetched product is missing a SKU")
)

// Odoo's datetime format for domain filters and write_date
const odooTimeLayout = "2006-01-02 15:04:05"

// SyncClient is the remote side of a sync
type SyncClient interface {
	// UpdateCost writes cost (and sale price when positive) for sku. A remote
	// rejection comes back as Response{OK: false} with a nil error.
	UpdateCost(ctx context.Context, sku string, cost, sale decimal.Decimal, currency string) (*Response, error)
	FetchProducts(ctx context.Context, filters FetchFilters, opts FetchOptions) ([]RemoteRecord, error)
	// Name identifies the variant in status output
	Name() string
}

// Response is the outcome of one UpdateCost call
type Response struct {
	OK       bool                   `json:"ok"`
	Payload  map[string]interface{} `json:"payload"`
	Response map[string]interface{} `json:"response"`
	Message  string                 `json:"message"`
}

// FetchFilters select remote products. Zero values are ignored.
type FetchFilters struct {
	SKUs          []string   `json:"skus"`
	UpdatedAfter  *time.Time `json:"updated_after"`
	UpdatedBefore *time.Time `json:"updated_before"`
}

// FetchOptions page and shape a fetch
type FetchOptions struct {
	Limit  int      `json:"limit"`
	Offset int      `json:"offset"`
	Fields []string `json:"fields"`
	Order  string   `json:"order"`
}

// RemoteRecord is one product as reported by Odoo
type RemoteRecord struct {
	ProductID    int64
	TemplateID   int64
	SKU          string
	Name         string
	CostPrice    decimal.Decimal
	SalePrice    decimal.Decimal
	QtyAvailable *float64
	Currency     string
	WriteDate    string
	Raw          map[string]interface{}
}

// Snapshot is the record as stored in product and sync log payloads
func (r RemoteRecord) Snapshot() map[string]interface{} {
	snap := map[string]interface{}{
		"product_id":          r.ProductID,
		"product_template_id": r.TemplateID,
		"sku":                 r.SKU,
		"name":                r.Name,
		"cost_price":          r.CostPrice.InexactFloat64(),
		"sale_price":          r.SalePrice.InexactFloat64(),
		"currency":            r.Currency,
		"write_date":          r.WriteDate,
		"raw":                 r.Raw,
	}
	if r.QtyAvailable != nil {
		snap["qty_available"] = *r.QtyAvailable
	} else {
		snap["qty_available"] = nil
	}
	if r.WriteDate == "" {
		snap["write_date"] = nil
	}
	return snap
}

var skuSeparators = regexp.MustCompile(`[\s,]+`)

// ParseSKUs splits a free-form list on whitespace and commas
func ParseSKUs(s string) []string {
	var out []string
	for _, sku := range skuSeparators.Split(s, -1) {
		if sku = strings.TrimSpace(sku); sku != "" {
			out = append(out, sku)
		}
	}
	return out
}

func cleanSKUs(skus []string) []string {
	var out []string
	for _, sku := range skus {
		out = append(out, ParseSKUs(sku)...)
	}
	return out
}
