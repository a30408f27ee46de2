package odoo

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"reflect"
	"sync"
	"time"

	"github.com/kolo/xmlrpc"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/xelth-com/odoopricesync/internal/config"
	"github.com/xelth-com/odoopricesync/internal/pricing"
)

var defaultFetchFields = []string{
	"id",
	"product_tmpl_id",
	"default_code",
	"name",
	"standard_price",
	"list_price",
	"qty_available",
	"currency_id",
	"write_date",
}

// Client is the XML-RPC Odoo client. The user id is fetched on first use and
// reused for the lifetime of the client.
type Client struct {
	commonURL string
	objectURL string
	database  string
	username  string
	secret    string
	currency  string
	timeout   time.Duration
	transport http.RoundTripper

	mu  sync.Mutex
	uid int64
}

// NewClient validates cfg and builds a client. No remote call is made.
func NewClient(cfg config.OdooConfig) (*Client, error) {
	switch {
	case cfg.URL == "":
		return nil, fmt.Errorf("%w: ODOO_URL is not set", ErrNotConfigured)
	case cfg.Database == "":
		return nil, fmt.Errorf("%w: ODOO_DB is not set", ErrNotConfigured)
	case cfg.Username == "":
		return nil, fmt.Errorf("%w: ODOO_USERNAME is not set", ErrNotConfigured)
	case cfg.Secret() == "":
		return nil, fmt.Errorf("%w: either ODOO_API_KEY or ODOO_PASSWORD must be set", ErrNotConfigured)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	return &Client{
		commonURL: fmt.Sprintf("%s/xmlrpc/2/common", cfg.URL),
		objectURL: fmt.Sprintf("%s/xmlrpc/2/object", cfg.URL),
		database:  cfg.Database,
		username:  cfg.Username,
		secret:    cfg.Secret(),
		currency:  pricing.NormalizeCurrency(cfg.Currency, "USD"),
		timeout:   timeout,
		transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           (&net.Dialer{Timeout: timeout}).DialContext,
			TLSHandshakeTimeout:   timeout,
			ResponseHeaderTimeout: timeout,
			MaxIdleConns:          10,
			IdleConnTimeout:       90 * time.Second,
		},
	}, nil
}

func (c *Client) Name() string { return "odoo" }

// contextTransport binds every request of one call to the call's context
type contextTransport struct {
	ctx  context.Context
	base http.RoundTripper
}

func (t contextTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	return t.base.RoundTrip(req.WithContext(t.ctx))
}

// call runs one XML-RPC method. service is "common" or "object".
func (c *Client) call(ctx context.Context, service, method string, args []interface{}, reply interface{}) error {
	url := c.objectURL
	if service == "common" {
		url = c.commonURL
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	rpc, err := xmlrpc.NewClient(url, contextTransport{ctx: ctx, base: c.transport})
	if err != nil {
		return fmt.Errorf("failed to create XML-RPC client: %w", err)
	}
	defer rpc.Close()

	log.Debug().Str("service", service).Str("method", method).Interface("args", redactArgs(args)).Msg("odoo rpc")

	if err := rpc.Call(method, args, reply); err != nil {
		log.Error().Err(err).
			Str("service", service).
			Str("method", method).
			Interface("args", redactArgs(args)).
			Msg("odoo rpc failed")
		return fmt.Errorf("odoo %s.%s: %w", service, method, err)
	}
	return nil
}

// redactArgs masks the secret, which is the third positional argument of
// both login/authenticate and execute_kw.
func redactArgs(args []interface{}) []interface{} {
	out := make([]interface{}, len(args))
	copy(out, args)
	if len(out) > 2 {
		out[2] = "***"
	}
	return out
}

func (c *Client) authenticate(ctx context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.uid != 0 {
		return c.uid, nil
	}

	var login interface{}
	err := c.call(ctx, "common", "login", []interface{}{c.database, c.username, c.secret}, &login)
	if err == nil {
		if uid, ok := toInt64(login); ok && uid > 0 {
			log.Debug().Int64("uid", uid).Msg("odoo login succeeded")
			c.uid = uid
			return uid, nil
		}
		log.Debug().Interface("response", login).Msg("odoo login returned no user")
	} else {
		// some Odoo versions drop login; authenticate still works
		log.Debug().Err(err).Msg("odoo login failed, falling back to authenticate")
	}

	var auth interface{}
	args := []interface{}{c.database, c.username, c.secret, map[string]interface{}{}}
	if err := c.call(ctx, "common", "authenticate", args, &auth); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrAuthentication, err)
	}
	uid, ok := toInt64(auth)
	if !ok || uid <= 0 {
		log.Warn().Interface("login_response", login).Interface("authenticate_response", auth).Msg("odoo authentication failed")
		return 0, fmt.Errorf("%w: verify credentials or API key", ErrAuthentication)
	}

	log.Debug().Int64("uid", uid).Msg("odoo authenticate succeeded")
	c.uid = uid
	return uid, nil
}

// executeKw calls model.method through object.execute_kw
func (c *Client) executeKw(ctx context.Context, model, method string, args []interface{}, kwargs map[string]interface{}, reply interface{}) error {
	uid, err := c.authenticate(ctx)
	if err != nil {
		return err
	}

	params := []interface{}{c.database, uid, c.secret, model, method, args}
	if len(kwargs) > 0 {
		params = append(params, kwargs)
	}
	return c.call(ctx, "object", "execute_kw", params, reply)
}

// readRows runs a read-style method and decodes the rows into result. raw
// receives the undecoded rows when non-nil.
func (c *Client) readRows(ctx context.Context, model, method string, args []interface{}, kwargs map[string]interface{}, result interface{}, raw *[]map[string]interface{}) error {
	var rows []map[string]interface{}
	if err := c.executeKw(ctx, model, method, args, kwargs, &rows); err != nil {
		return err
	}

	jsonData, err := json.Marshal(rows)
	if err != nil {
		return fmt.Errorf("failed to marshal raw result: %w", err)
	}
	if err := json.Unmarshal(jsonData, result); err != nil {
		return fmt.Errorf("failed to decode %s %s result: %w", model, method, err)
	}
	if raw != nil {
		*raw = rows
	}
	return nil
}

type variantRow struct {
	ID       int64      `json:"id"`
	Template Many2One   `json:"product_tmpl_id"`
	Name     OdooString `json:"name"`
}

type templatePrices struct {
	StandardPrice OdooFloat `json:"standard_price"`
	ListPrice     OdooFloat `json:"list_price"`
}

type productRow struct {
	ID            int64      `json:"id"`
	Template      Many2One   `json:"product_tmpl_id"`
	DefaultCode   OdooString `json:"default_code"`
	Name          OdooString `json:"name"`
	StandardPrice OdooFloat  `json:"standard_price"`
	ListPrice     OdooFloat  `json:"list_price"`
	QtyAvailable  *OdooFloat `json:"qty_available"`
	Currency      Many2One   `json:"currency_id"`
	WriteDate     OdooString `json:"write_date"`
}

// findVariant returns the variant carrying sku, or nil when Odoo has none
func (c *Client) findVariant(ctx context.Context, sku string) (*variantRow, error) {
	var ids []int64
	domain := []interface{}{[]interface{}{"default_code", "=", sku}}
	if err := c.executeKw(ctx, "product.product", "search", []interface{}{domain}, map[string]interface{}{"limit": 1}, &ids); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	var rows []variantRow
	fields := map[string]interface{}{"fields": []string{"id", "product_tmpl_id", "name"}}
	if err := c.readRows(ctx, "product.product", "read", []interface{}{ids}, fields, &rows, nil); err != nil {
		return nil, err
	}
	if len(rows) == 0 || rows[0].Template.ID == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// UpdateCost writes standard_price (and list_price when sale is positive) to
// the template of sku, mirrors the cost onto the variant and reads the
// template back to confirm.
func (c *Client) UpdateCost(ctx context.Context, sku string, cost, sale decimal.Decimal, currency string) (*Response, error) {
	cost, sale = pricing.Round(cost), pricing.Round(sale)

	variant, err := c.findVariant(ctx, sku)
	if err != nil {
		return nil, err
	}
	if variant == nil {
		return &Response{
			OK: false,
			Payload: map[string]interface{}{
				"sku":        sku,
				"cost_price": cost.InexactFloat64(),
				"sale_price": sale.InexactFloat64(),
				"currency":   currency,
			},
			Response: map[string]interface{}{},
			Message:  fmt.Sprintf("Product with SKU %s not found in Odoo.", sku),
		}, nil
	}

	update := map[string]interface{}{"standard_price": cost.InexactFloat64()}
	if sale.IsPositive() {
		update["list_price"] = sale.InexactFloat64()
	}

	var written bool
	args := []interface{}{[]int64{variant.Template.ID}, update}
	if err := c.executeKw(ctx, "product.template", "write", args, nil, &written); err != nil {
		return nil, err
	}
	if !written {
		return nil, fmt.Errorf("odoo template write operation failed for %s", sku)
	}

	var variantWritten bool
	args = []interface{}{[]int64{variant.ID}, map[string]interface{}{"standard_price": cost.InexactFloat64()}}
	if err := c.executeKw(ctx, "product.product", "write", args, nil, &variantWritten); err != nil {
		return nil, err
	}

	var confirmed []templatePrices
	fields := map[string]interface{}{"fields": []string{"standard_price", "list_price"}}
	if err := c.readRows(ctx, "product.template", "read", []interface{}{[]int64{variant.Template.ID}}, fields, &confirmed, nil); err != nil {
		return nil, err
	}

	response := map[string]interface{}{
		"status":                   "success",
		"product_id":               variant.ID,
		"product_template_id":      variant.Template.ID,
		"confirmed_standard_price": nil,
		"confirmed_list_price":     nil,
	}
	if len(confirmed) > 0 {
		if confirmed[0].StandardPrice.Set {
			response["confirmed_standard_price"] = confirmed[0].StandardPrice.Value
		}
		if confirmed[0].ListPrice.Set {
			response["confirmed_list_price"] = confirmed[0].ListPrice.Value
		}
	}

	return &Response{
		OK: true,
		Payload: map[string]interface{}{
			"product_id":          variant.ID,
			"product_template_id": variant.Template.ID,
			"updated":             update,
		},
		Response: response,
		Message:  "Odoo product cost updated.",
	}, nil
}

func buildDomain(f FetchFilters) []interface{} {
	domain := []interface{}{}
	if skus := cleanSKUs(f.SKUs); len(skus) > 0 {
		domain = append(domain, []interface{}{"default_code", "in", skus})
	}
	if f.UpdatedAfter != nil {
		domain = append(domain, []interface{}{"write_date", ">=", f.UpdatedAfter.UTC().Format(odooTimeLayout)})
	}
	if f.UpdatedBefore != nil {
		domain = append(domain, []interface{}{"write_date", "<=", f.UpdatedBefore.UTC().Format(odooTimeLayout)})
	}
	return domain
}

// FetchProducts runs a paged search_read on product.product
func (c *Client) FetchProducts(ctx context.Context, filters FetchFilters, opts FetchOptions) ([]RemoteRecord, error) {
	fields := opts.Fields
	if len(fields) == 0 {
		fields = defaultFetchFields
	}
	kwargs := map[string]interface{}{"fields": fields}
	if opts.Limit > 0 {
		kwargs["limit"] = opts.Limit
	}
	if opts.Offset > 0 {
		kwargs["offset"] = opts.Offset
	}
	kwargs["order"] = "write_date desc"
	if opts.Order != "" {
		kwargs["order"] = opts.Order
	}

	var rows []productRow
	var raw []map[string]interface{}
	if err := c.readRows(ctx, "product.product", "search_read", []interface{}{buildDomain(filters)}, kwargs, &rows, &raw); err != nil {
		return nil, err
	}

	records := make([]RemoteRecord, 0, len(rows))
	for i, row := range rows {
		records = append(records, c.mapRow(row, raw[i]))
	}
	return records, nil
}

func (c *Client) mapRow(row productRow, raw map[string]interface{}) RemoteRecord {
	currency := currencyFromLabel(row.Currency.Name)
	if currency == "" {
		currency = c.currency
	}

	rec := RemoteRecord{
		ProductID:  row.ID,
		TemplateID: row.Template.ID,
		SKU:        row.DefaultCode.String(),
		Name:       row.Name.String(),
		CostPrice:  decimal.NewFromFloat(row.StandardPrice.Value),
		SalePrice:  decimal.NewFromFloat(row.ListPrice.Value),
		Currency:   currency,
		WriteDate:  row.WriteDate.String(),
		Raw:        raw,
	}
	if row.QtyAvailable != nil {
		qty := row.QtyAvailable.Value
		rec.QtyAvailable = &qty
	}
	return rec
}

// toInt64 converts a decoded XML-RPC value to int64
func toInt64(v interface{}) (int64, bool) {
	if v == nil {
		return 0, false
	}
	val := reflect.ValueOf(v)
	switch val.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return val.Int(), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return int64(val.Uint()), true
	case reflect.Float32, reflect.Float64:
		return int64(val.Float()), true
	}
	return 0, false
}
