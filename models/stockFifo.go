package models

import (
	"sort"

	"github.com/shopspring/decimal"
)

// ledger quantities and costs are stored as decimal(20,4)
const stockPlaces = 4

// StockQuantity rounds q to the scale the ledger stores. Every quantity must
// pass through it before it touches a batch, or the batch and its movements
// are rounded apart by the database.
func StockQuantity(q decimal.Decimal) decimal.Decimal {
	return q.Round(stockPlaces)
}

type FifoAllocation struct {
	BatchId  int             `json:"batch_id"`
	Quantity decimal.Decimal `json:"quantity"`
	UnitCost decimal.Decimal `json:"unit_cost"`
}

type FifoPlan struct {
	Allocations []FifoAllocation `json:"allocations"`
	Allocated   decimal.Decimal  `json:"allocated"`
	Shortfall   decimal.Decimal  `json:"shortfall"`
}

// Cost of the allocated quantity at batch costs.
func (p FifoPlan) Cost() decimal.Decimal {
	total := decimal.Zero
	for _, a := range p.Allocations {
		total = total.Add(a.Quantity.Mul(a.UnitCost))
	}
	return total
}

// PlanFifo takes qty from the oldest batches first (entry date, then id).
// Batches with nothing left are skipped. The input slice is not modified.
func PlanFifo(batches []StockBatch, qty decimal.Decimal) FifoPlan {
	plan := FifoPlan{Allocated: decimal.Zero, Shortfall: decimal.Zero}
	if !qty.IsPositive() {
		return plan
	}

	ordered := append([]StockBatch(nil), batches...)
	sort.SliceStable(ordered, func(i, j int) bool {
		if !ordered[i].EntryDate.Equal(ordered[j].EntryDate) {
			return ordered[i].EntryDate.Before(ordered[j].EntryDate)
		}
		return ordered[i].ID < ordered[j].ID
	})

	outstanding := qty
	for _, b := range ordered {
		if !outstanding.IsPositive() {
			break
		}
		if !b.CurrentQty.IsPositive() {
			continue
		}
		take := decimal.Min(b.CurrentQty, outstanding)
		plan.Allocations = append(plan.Allocations, FifoAllocation{BatchId: b.ID, Quantity: take, UnitCost: b.UnitCost})
		plan.Allocated = plan.Allocated.Add(take)
		outstanding = outstanding.Sub(take)
	}
	plan.Shortfall = outstanding
	return plan
}

// AvailableQuantity sums what is left across batches.
func AvailableQuantity(batches []StockBatch) decimal.Decimal {
	total := decimal.Zero
	for _, b := range batches {
		if b.CurrentQty.IsPositive() {
			total = total.Add(b.CurrentQty)
		}
	}
	return total
}
