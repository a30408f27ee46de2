// Package pricing holds the cost/markup/sale arithmetic shared by the catalog
// write path and the Odoo import.
package pricing

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Places is the precision every persisted price field is rounded to.
const Places = 2

var hundred = decimal.NewFromInt(100)

// Prices is a rounded (cost, markup, sale) triple ready for persistence.
type Prices struct {
	Cost   decimal.Decimal
	Markup decimal.Decimal
	Sale   decimal.Decimal
}

// Round rounds half away from zero to two decimals.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(Places)
}

// ComputeFromMarkup returns cost * (1 + markup/100), rounded.
func ComputeFromMarkup(cost, markupPercent decimal.Decimal) decimal.Decimal {
	factor := decimal.NewFromInt(1).Add(markupPercent.Div(hundred))
	return Round(cost.Mul(factor))
}

// ComputeMarkupFromSale derives the markup percent from cost and sale price.
// A zero or negative cost yields a zero markup.
func ComputeMarkupFromSale(cost, salePrice decimal.Decimal) decimal.Decimal {
	if !cost.IsPositive() {
		return decimal.Zero
	}
	return Round(salePrice.Sub(cost).Div(cost).Mul(hundred))
}

// Apply enforces the save-time rule: when saleDriven the markup follows the
// sale price, otherwise the sale price follows cost and markup.
func Apply(cost, markup, sale decimal.Decimal, saleDriven bool) Prices {
	cost = Round(cost)
	if saleDriven {
		sale = Round(sale)
		return Prices{Cost: cost, Markup: ComputeMarkupFromSale(cost, sale), Sale: sale}
	}
	markup = Round(markup)
	return Prices{Cost: cost, Markup: markup, Sale: ComputeFromMarkup(cost, markup)}
}

// AdjustCost moves cost by percent (negative to decrease), never below zero.
func AdjustCost(cost, percent decimal.Decimal) decimal.Decimal {
	multiplier := decimal.NewFromInt(1).Add(percent.Div(hundred))
	adjusted := Round(cost.Mul(multiplier))
	if adjusted.IsNegative() {
		return decimal.Zero
	}
	return adjusted
}

// EqualRounded compares two amounts at persistence precision.
func EqualRounded(a, b decimal.Decimal) bool {
	return Round(a).Equal(Round(b))
}

// NormalizeCurrency uppercases a currency code, falling back when empty.
func NormalizeCurrency(code, fallback string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		code = strings.ToUpper(strings.TrimSpace(fallback))
	}
	return code
}
