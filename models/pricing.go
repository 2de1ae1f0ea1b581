package models

import (
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const pricePlaces = 2

// scale of the budget_items margin and amount columns
const (
	marginPlaces = 2
	amountPlaces = 4
)

var hundred = decimal.NewFromInt(100)

// ComputeCost is the cost of one unit: sum of quantity * unit cost.
func ComputeCost(lines []InstanceComponent) decimal.Decimal {
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.Total())
	}
	return total
}

// PriceFromMargin marks cost up so that margin% of the price is profit.
// Margins of 0 or below leave the price at cost.
func PriceFromMargin(cost, margin decimal.Decimal) (decimal.Decimal, error) {
	if margin.GreaterThanOrEqual(hundred) {
		return decimal.Zero, &InvalidMarginError{Margin: margin}
	}
	if !margin.IsPositive() {
		return cost, nil
	}
	return cost.Div(decimal.NewFromInt(1).Sub(margin.Div(hundred))), nil
}

// ImpliedMargin is the margin% a price carries over cost.
func ImpliedMargin(cost, price decimal.Decimal) decimal.Decimal {
	if price.IsZero() {
		return decimal.Zero
	}
	return price.Sub(cost).Div(price).Mul(hundred)
}

// RecalculateItemPrice sets the item's unit price from its instance's BOM
// and margin, and saves it. Items without an instance are left alone.
func RecalculateItemPrice(tx *gorm.DB, item *BudgetItem) error {
	if item.InstanceId == nil {
		return nil
	}
	var lines []InstanceComponent
	if err := tx.Where("instance_id = ?", *item.InstanceId).Find(&lines).Error; err != nil {
		return err
	}
	price, err := PriceFromMargin(ComputeCost(lines), item.Margin)
	if err != nil {
		return err
	}
	item.UnitPrice = price.Round(pricePlaces)
	item.Total = item.LineTotal()
	return tx.Model(item).Updates(map[string]interface{}{
		"unit_price": item.UnitPrice,
		"total":      item.Total,
	}).Error
}
