package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/mmdatafocus/factory_backend/config"
	"github.com/mmdatafocus/factory_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const stockLockTTL = 15 * time.Second

func stockLockKey(itemId int) string {
	return fmt.Sprintf("lock:stock_item:%d", itemId)
}

// lockStockItemBestEffort takes the redis lock of the item when redis is up.
// Failing to get it is logged and ignored: the batch row locks taken inside
// the transaction still serialize writers.
func lockStockItemBestEffort(ctx context.Context, itemId int) func() {
	lock, err := config.ObtainRedisLock(ctx, stockLockKey(itemId), stockLockTTL)
	if err != nil {
		fields := logrus.Fields{"field_group": "stock", "stock_item_id": itemId}
		if errors.Is(err, redislock.ErrNotObtained) {
			config.LoggerFromContext(ctx).WithFields(fields).Warn("stock item lock busy; relying on row locks")
		} else {
			config.LoggerFromContext(ctx).WithFields(fields).WithError(err).Warn("stock item lock failed; relying on row locks")
		}
		return func() {}
	}
	if lock == nil {
		return func() {}
	}
	return func() {
		if err := lock.Release(context.Background()); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			config.LoggerFromContext(ctx).WithFields(logrus.Fields{"field_group": "stock", "stock_item_id": itemId}).
				WithError(err).Warn("stock item lock release failed")
		}
	}
}

// lockStockItemRows locks the item row, then its batches, oldest first.
func lockStockItemRows(tx *gorm.DB, itemId int) (*StockItem, []StockBatch, error) {
	var item StockItem
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&item, itemId).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, utils.ErrorRecordNotFound
		}
		return nil, nil, err
	}
	var batches []StockBatch
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("stock_item_id = ?", itemId).
		Order("entry_date ASC, id ASC").
		Find(&batches).Error
	if err != nil {
		return nil, nil, err
	}
	return &item, batches, nil
}

func batchBalance(tx *gorm.DB, itemId int) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := tx.Model(&StockBatch{}).Select("COALESCE(SUM(current_qty), 0)").
		Where("stock_item_id = ?", itemId).Row().Scan(&total)
	if err != nil {
		return decimal.Zero, err
	}
	return total, nil
}

// applyFifo decrements the planned batches and writes one movement per batch.
func applyFifo(tx *gorm.DB, itemId int, plan FifoPlan, kind StockMovementKind, actor Actor, consumedItemId *int, note *string) ([]StockMovement, error) {
	movements := make([]StockMovement, 0, len(plan.Allocations))
	for _, a := range plan.Allocations {
		err := tx.Model(&StockBatch{}).Where("id = ?", a.BatchId).
			UpdateColumn("current_qty", gorm.Expr("current_qty - ?", a.Quantity)).Error
		if err != nil {
			return nil, err
		}
		movement := StockMovement{
			BatchId:         a.BatchId,
			StockItemId:     itemId,
			Quantity:        a.Quantity.Neg(),
			Kind:            kind,
			UnitCost:        a.UnitCost,
			ResponsibleId:   actor.Id,
			ResponsibleName: actor.Name,
			ConsumedItemId:  consumedItemId,
			Note:            note,
		}
		if err := tx.Create(&movement).Error; err != nil {
			return nil, err
		}
		movements = append(movements, movement)
	}
	return movements, nil
}

// ConsumeStock takes qty of the item out of stock, oldest batches first,
// inside tx. Nothing is written when the item does not have qty available.
// With a nil tx the consumption runs in its own transaction.
func ConsumeStock(ctx context.Context, tx *gorm.DB, itemId int, qty decimal.Decimal, actor Actor, consumedItemId *int) ([]StockMovement, error) {
	qty = StockQuantity(qty)
	if !qty.IsPositive() {
		return nil, ErrQuantityNotPositive
	}
	ctx, span := tracer.Start(ctx, "ConsumeStock")
	span.SetAttributes(attribute.Int("stock_item_id", itemId), attribute.String("quantity", qty.String()))
	defer span.End()

	if tx == nil {
		release := lockStockItemBestEffort(ctx, itemId)
		defer release()
		var movements []StockMovement
		err := config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var err error
			movements, err = consumeStockTx(ctx, tx, itemId, qty, actor, consumedItemId)
			return err
		})
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
		return movements, nil
	}
	movements, err := consumeStockTx(ctx, tx, itemId, qty, actor, consumedItemId)
	if err != nil {
		span.RecordError(err)
	}
	return movements, err
}

func consumeStockTx(ctx context.Context, tx *gorm.DB, itemId int, qty decimal.Decimal, actor Actor, consumedItemId *int) ([]StockMovement, error) {
	item, batches, err := lockStockItemRows(tx, itemId)
	if err != nil {
		return nil, err
	}
	available := AvailableQuantity(batches)
	if available.LessThan(qty) {
		return nil, &InsufficientStockError{StockItemId: itemId, ItemName: item.Name, Available: available, Requested: qty}
	}

	plan := PlanFifo(batches, qty)
	movements, err := applyFifo(tx, itemId, plan, StockMovementOutput, actor, consumedItemId, nil)
	if err != nil {
		return nil, err
	}
	refId := 0
	if consumedItemId != nil {
		refId = *consumedItemId
	}
	if err := writeStockEvent(ctx, tx, itemId, StockEventConsumption, refId, actor, movements); err != nil {
		return nil, err
	}
	return movements, nil
}

type AdjustmentResult struct {
	StockItemId int             `json:"stock_item_id"`
	Previous    decimal.Decimal `json:"previous"`
	Counted     decimal.Decimal `json:"counted"`
	Difference  decimal.Decimal `json:"difference"`
	Shortfall   decimal.Decimal `json:"shortfall"`
	Movements   []StockMovement `json:"movements"`
	Message     string          `json:"message"`
}

// AdjustStock brings the item's balance to a physical count. A surplus is
// booked as a new zero cost batch; a deficit is taken FIFO as far as the
// batches allow and whatever could not be taken is reported as Shortfall.
// Batches never go below zero, even for a count below zero.
func AdjustStock(ctx context.Context, itemId int, newPhysicalQty decimal.Decimal, actor Actor, justification string) (*AdjustmentResult, error) {
	newPhysicalQty = StockQuantity(newPhysicalQty)
	ctx, span := tracer.Start(ctx, "AdjustStock")
	span.SetAttributes(attribute.Int("stock_item_id", itemId), attribute.String("counted", newPhysicalQty.String()))
	defer span.End()

	release := lockStockItemBestEffort(ctx, itemId)
	defer release()

	var note *string
	if justification != "" {
		note = &justification
	}

	result := &AdjustmentResult{StockItemId: itemId, Counted: newPhysicalQty, Shortfall: decimal.Zero}
	err := config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		_, batches, err := lockStockItemRows(tx, itemId)
		if err != nil {
			return err
		}
		result.Previous = AvailableQuantity(batches)
		result.Difference = newPhysicalQty.Sub(result.Previous)

		switch {
		case result.Difference.IsZero():
			result.Message = "stock already matches the count; nothing to adjust"
			return nil

		case result.Difference.IsPositive():
			batch := StockBatch{
				StockItemId: itemId,
				InitialQty:  result.Difference,
				UnitCost:    decimal.Zero,
				EntryDate:   time.Now(),
			}
			if err := tx.Omit("StockItem").Create(&batch).Error; err != nil {
				return err
			}
			movement := StockMovement{
				BatchId:         batch.ID,
				StockItemId:     itemId,
				Quantity:        result.Difference,
				Kind:            StockMovementAdjustPositive,
				ResponsibleId:   actor.Id,
				ResponsibleName: actor.Name,
				Note:            note,
			}
			if err := tx.Create(&movement).Error; err != nil {
				return err
			}
			result.Movements = []StockMovement{movement}
			result.Message = fmt.Sprintf("added %s", result.Difference.String())

		default:
			plan := PlanFifo(batches, result.Difference.Neg())
			movements, err := applyFifo(tx, itemId, plan, StockMovementAdjustNegative, actor, nil, note)
			if err != nil {
				return err
			}
			result.Movements = movements
			result.Shortfall = plan.Shortfall
			result.Message = fmt.Sprintf("removed %s", plan.Allocated.String())
			if plan.Shortfall.IsPositive() {
				result.Message += fmt.Sprintf("; %s could not be removed", plan.Shortfall.String())
			}
		}
		return writeStockEvent(ctx, tx, itemId, StockEventAdjustment, firstMovementId(result.Movements), actor, result.Movements)
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return result, nil
}

func firstMovementId(movements []StockMovement) int {
	if len(movements) == 0 {
		return 0
	}
	return movements[0].ID
}

type NewStockReceipt struct {
	StockItemId int             `json:"stock_item_id" validate:"required"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitCost    decimal.Decimal `json:"unit_cost"`
	EntryDate   *time.Time      `json:"entry_date"`
	Note        *string         `json:"note"`
}

// ReceiveStock books a purchase: a new batch and its ENTRADA movement.
func ReceiveStock(ctx context.Context, input *NewStockReceipt, actor Actor) (*StockBatch, error) {
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	quantity := StockQuantity(input.Quantity)
	unitCost := StockQuantity(input.UnitCost)
	if !quantity.IsPositive() {
		return nil, ErrQuantityNotPositive
	}
	if unitCost.IsNegative() {
		return nil, &ValidationError{Field: "unit_cost", Message: "must not be negative"}
	}
	ctx, span := tracer.Start(ctx, "ReceiveStock")
	span.SetAttributes(attribute.Int("stock_item_id", input.StockItemId))
	defer span.End()

	release := lockStockItemBestEffort(ctx, input.StockItemId)
	defer release()

	batch := StockBatch{
		StockItemId: input.StockItemId,
		InitialQty:  quantity,
		UnitCost:    unitCost,
	}
	if input.EntryDate != nil {
		batch.EntryDate = *input.EntryDate
	}
	err := config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, _, err := lockStockItemRows(tx, input.StockItemId); err != nil {
			return err
		}
		if err := tx.Omit("StockItem").Create(&batch).Error; err != nil {
			return err
		}
		movement := StockMovement{
			BatchId:         batch.ID,
			StockItemId:     input.StockItemId,
			Quantity:        quantity,
			Kind:            StockMovementEntry,
			UnitCost:        unitCost,
			ResponsibleId:   actor.Id,
			ResponsibleName: actor.Name,
			Note:            input.Note,
		}
		if err := tx.Create(&movement).Error; err != nil {
			return err
		}
		return writeStockEvent(ctx, tx, input.StockItemId, StockEventReceipt, batch.ID, actor, []StockMovement{movement})
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return &batch, nil
}

type StockBalanceResult struct {
	StockItemId   int             `json:"stock_item_id"`
	Available     decimal.Decimal `json:"available"`
	OpenBatches   int             `json:"open_batches"`
	InventoryCost decimal.Decimal `json:"inventory_cost"`
}

// StockBalance is the quantity left across the item's batches and what it
// cost at batch prices.
func StockBalance(ctx context.Context, itemId int) (*StockBalanceResult, error) {
	if err := utils.ValidateResourceId[StockItem](ctx, itemId); err != nil {
		return nil, err
	}
	var batches []StockBatch
	db := config.GetDB()
	if err := db.WithContext(ctx).Where("stock_item_id = ? AND current_qty > 0", itemId).Find(&batches).Error; err != nil {
		return nil, err
	}
	result := &StockBalanceResult{StockItemId: itemId, Available: AvailableQuantity(batches), InventoryCost: decimal.Zero}
	for _, b := range batches {
		result.OpenBatches++
		result.InventoryCost = result.InventoryCost.Add(b.CurrentQty.Mul(b.UnitCost))
	}
	return result, nil
}

type BatchDrift struct {
	BatchId       int             `json:"batch_id"`
	CurrentQty    decimal.Decimal `json:"current_qty"`
	MovementTotal decimal.Decimal `json:"movement_total"`
}

type StockReconciliation struct {
	StockItemId   int             `json:"stock_item_id"`
	BatchTotal    decimal.Decimal `json:"batch_total"`
	MovementTotal decimal.Decimal `json:"movement_total"`
	Difference    decimal.Decimal `json:"difference"`
	Drifts        []BatchDrift    `json:"drifts"`
}

func (r StockReconciliation) Consistent() bool {
	return r.Difference.IsZero() && len(r.Drifts) == 0
}

// ReconcileStockItem checks that every batch's current quantity equals the
// sum of its movements.
func ReconcileStockItem(ctx context.Context, itemId int) (*StockReconciliation, error) {
	if err := utils.ValidateResourceId[StockItem](ctx, itemId); err != nil {
		return nil, err
	}
	db := config.GetDB().WithContext(ctx)

	var batches []StockBatch
	if err := db.Where("stock_item_id = ?", itemId).Order("entry_date, id").Find(&batches).Error; err != nil {
		return nil, err
	}
	var sums []batchMovementTotal
	if err := db.Model(&StockMovement{}).Select("batch_id, SUM(quantity) AS total").
		Where("stock_item_id = ?", itemId).Group("batch_id").Scan(&sums).Error; err != nil {
		return nil, err
	}
	return reconcile(itemId, batches, sums), nil
}

type batchMovementTotal struct {
	BatchId int
	Total   decimal.Decimal
}

func reconcile(itemId int, batches []StockBatch, sums []batchMovementTotal) *StockReconciliation {
	byBatch := make(map[int]decimal.Decimal, len(sums))
	result := &StockReconciliation{StockItemId: itemId, BatchTotal: decimal.Zero, MovementTotal: decimal.Zero, Drifts: []BatchDrift{}}
	for _, s := range sums {
		byBatch[s.BatchId] = s.Total
		result.MovementTotal = result.MovementTotal.Add(s.Total)
	}
	for _, b := range batches {
		result.BatchTotal = result.BatchTotal.Add(b.CurrentQty)
		if moved := byBatch[b.ID]; !moved.Equal(b.CurrentQty) {
			result.Drifts = append(result.Drifts, BatchDrift{BatchId: b.ID, CurrentQty: b.CurrentQty, MovementTotal: moved})
		}
	}
	result.Difference = result.BatchTotal.Sub(result.MovementTotal)
	return result
}
