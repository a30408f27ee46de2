package pricing

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestComputeFromMarkup(t *testing.T) {
	cases := []struct {
		cost, markup, want string
	}{
		{"10", "50", "15"},
		{"5", "20", "6"},
		{"4.50", "120", "9.9"},
		{"28.25", "70", "48.03"},
		{"0", "80", "0"},
		{"12.345", "0", "12.35"},
	}
	for _, tc := range cases {
		got := ComputeFromMarkup(d(tc.cost), d(tc.markup))
		assert.True(t, got.Equal(d(tc.want)), "cost=%s markup=%s got=%s want=%s", tc.cost, tc.markup, got, tc.want)
	}
}

func TestComputeFromMarkup_RoundsAndIsMonotonic(t *testing.T) {
	costs := []string{"0", "0.01", "1.99", "10", "10.005", "250.75"}
	markups := []string{"0", "0.5", "12.5", "33.33", "100", "250"}

	for i, c := range costs {
		for j, m := range markups {
			got := ComputeFromMarkup(d(c), d(m))
			assert.LessOrEqual(t, -got.Exponent(), int32(Places), "more than two decimals for %s/%s", c, m)

			if i > 0 {
				prev := ComputeFromMarkup(d(costs[i-1]), d(m))
				assert.True(t, got.GreaterThanOrEqual(prev), "not monotonic in cost at %s/%s", c, m)
			}
			if j > 0 {
				prev := ComputeFromMarkup(d(c), d(markups[j-1]))
				assert.True(t, got.GreaterThanOrEqual(prev), "not monotonic in markup at %s/%s", c, m)
			}
		}
	}
}

func TestComputeMarkupFromSale(t *testing.T) {
	assert.True(t, ComputeMarkupFromSale(d("10"), d("15")).Equal(d("50")))
	assert.True(t, ComputeMarkupFromSale(d("20"), d("30")).Equal(d("50")))
	assert.True(t, ComputeMarkupFromSale(d("12.50"), d("18")).Equal(d("44")))
	assert.True(t, ComputeMarkupFromSale(d("10"), d("8")).Equal(d("-20")))
	assert.True(t, ComputeMarkupFromSale(d("0"), d("15")).IsZero())
}

func TestMarkupRoundTrip(t *testing.T) {
	for _, c := range []string{"1", "4.5", "9.4", "18.9", "77.77", "1000"} {
		// sale is rounded to a cent, so the recovered markup drifts by at most half a cent over cost
		tolerance := d("0.5").Div(d(c)).Add(d("0.01"))
		for _, m := range []string{"0", "10", "33.33", "85", "120"} {
			sale := ComputeFromMarkup(d(c), d(m))
			back := ComputeMarkupFromSale(d(c), sale)
			assert.True(t, back.Sub(d(m)).Abs().LessThanOrEqual(tolerance), "cost=%s markup=%s back=%s", c, m, back)
		}
	}
}

func TestApply(t *testing.T) {
	t.Run("markup driven recomputes sale", func(t *testing.T) {
		p := Apply(d("10.004"), d("50"), d("99"), false)
		assert.True(t, p.Cost.Equal(d("10")))
		assert.True(t, p.Markup.Equal(d("50")))
		assert.True(t, p.Sale.Equal(d("15")))
	})

	t.Run("sale driven recomputes markup and keeps cost", func(t *testing.T) {
		p := Apply(d("10"), d("50"), d("20"), true)
		assert.True(t, p.Cost.Equal(d("10")))
		assert.True(t, p.Markup.Equal(d("100")))
		assert.True(t, p.Sale.Equal(d("20")))
	})

	t.Run("sale driven with zero cost", func(t *testing.T) {
		p := Apply(d("0"), d("0"), d("15"), true)
		assert.True(t, p.Markup.IsZero())
		assert.True(t, p.Sale.Equal(d("15")))
	})
}

func TestAdjustCost(t *testing.T) {
	assert.True(t, AdjustCost(d("10"), d("10")).Equal(d("11")))
	assert.True(t, AdjustCost(d("10"), d("-25")).Equal(d("7.5")))
	assert.True(t, AdjustCost(d("10"), d("-150")).IsZero())
}

func TestNormalizeCurrency(t *testing.T) {
	assert.Equal(t, "EUR", NormalizeCurrency(" eur ", "USD"))
	assert.Equal(t, "USD", NormalizeCurrency("", "usd"))
}
