package models

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func TestPriceFromMargin(t *testing.T) {
	cases := []struct {
		cost     string
		margin   string
		expected string
	}{
		{"100", "20", "125"},
		{"100", "0", "100"},
		{"100", "-5", "100"},
		{"56", "30", "80"},
		{"0", "50", "0"},
	}
	for _, c := range cases {
		got, err := PriceFromMargin(dec(c.cost), dec(c.margin))
		if err != nil {
			t.Fatalf("PriceFromMargin(%s, %s): %v", c.cost, c.margin, err)
		}
		if !got.Equal(dec(c.expected)) {
			t.Fatalf("PriceFromMargin(%s, %s) = %s, expected %s", c.cost, c.margin, got, c.expected)
		}
	}

	for _, margin := range []string{"100", "120"} {
		_, err := PriceFromMargin(dec("10"), dec(margin))
		var invalid *InvalidMarginError
		if !errors.As(err, &invalid) {
			t.Fatalf("margin %s: expected InvalidMarginError, got %v", margin, err)
		}
	}
}

func TestImpliedMarginRoundTrip(t *testing.T) {
	cost := dec("73.15")
	tolerance := dec("0.000001")
	for m := int64(0); m < 100; m += 7 {
		margin := decimal.NewFromInt(m)
		price, err := PriceFromMargin(cost, margin)
		if err != nil {
			t.Fatalf("margin %d: %v", m, err)
		}
		if got := ImpliedMargin(cost, price); got.Sub(margin).Abs().GreaterThan(tolerance) {
			t.Fatalf("margin %d came back as %s", m, got)
		}
	}
	if !ImpliedMargin(dec("10"), decimal.Zero).IsZero() {
		t.Fatalf("zero price should imply a zero margin")
	}
}

func TestComputeCost(t *testing.T) {
	lines := []InstanceComponent{
		{Quantity: dec("4.4"), UnitCost: dec("5")},
		{Quantity: dec("1.7"), UnitCost: dec("20")},
		{Quantity: dec("0"), UnitCost: dec("99")},
	}
	if got := ComputeCost(lines); !got.Equal(dec("56")) {
		t.Fatalf("ComputeCost = %s, expected 56", got)
	}
	if !ComputeCost(nil).IsZero() {
		t.Fatalf("empty BOM should cost 0")
	}
}
