package models

import (
	"context"
	"encoding/json"
	"time"

	"github.com/mmdatafocus/factory_backend/config"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type StockEventReferenceType string

const (
	StockEventReceipt     StockEventReferenceType = "RECEIPT"
	StockEventConsumption StockEventReferenceType = "CONSUMPTION"
	StockEventAdjustment  StockEventReferenceType = "ADJUSTMENT"
)

// StockEventRecord is the outbox row of a committed ledger transaction.
// Publishing happens after commit via the dispatcher.
type StockEventRecord struct {
	ID               int                     `gorm:"primary_key;index:idx_stock_outbox_dispatch,priority:3" json:"id"`
	StockItemId      int                     `gorm:"index;not null" json:"stock_item_id"`
	ReferenceType    StockEventReferenceType `gorm:"type:enum('RECEIPT','CONSUMPTION','ADJUSTMENT');not null" json:"reference_type"`
	ReferenceId      int                     `json:"reference_id"`
	OccurredAt       time.Time               `gorm:"index;not null" json:"occurred_at"`
	Payload          []byte                  `gorm:"type:blob" json:"payload"`
	PublishStatus    string                  `gorm:"size:20;index;not null;default:'PENDING';index:idx_stock_outbox_dispatch,priority:1" json:"publish_status"` // PENDING|PROCESSING|SENT|FAILED|DEAD
	PublishedAt      *time.Time              `gorm:"index" json:"published_at"`
	PubSubMessageId  *string                 `gorm:"size:255" json:"pubsub_message_id"`
	PublishAttempts  int                     `gorm:"not null;default:0" json:"publish_attempts"`
	NextAttemptAt    *time.Time              `gorm:"index;index:idx_stock_outbox_dispatch,priority:2" json:"next_attempt_at"`
	LockedAt         *time.Time              `gorm:"index" json:"locked_at"`
	LockedBy         *string                 `gorm:"size:100" json:"locked_by"`
	LastPublishError *string                 `gorm:"type:text" json:"last_publish_error"`
	CorrelationId    string                  `gorm:"size:64;index" json:"correlation_id"`
	CreatedAt        time.Time               `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time               `gorm:"autoUpdateTime" json:"updated_at"`
}

type stockEventPayload struct {
	StockItemId int                  `json:"stock_item_id"`
	Actor       Actor                `json:"actor"`
	Balance     decimal.Decimal      `json:"balance"`
	Movements   []stockEventMovement `json:"movements"`
}

type stockEventMovement struct {
	Id       int               `json:"id"`
	BatchId  int               `json:"batch_id"`
	Kind     StockMovementKind `json:"kind"`
	Quantity decimal.Decimal   `json:"quantity"`
	UnitCost decimal.Decimal   `json:"unit_cost"`
}

func ConvertToStockEventMessage(record StockEventRecord) config.StockEventMessage {
	return config.StockEventMessage{
		ID:            record.ID,
		StockItemId:   record.StockItemId,
		ReferenceType: string(record.ReferenceType),
		ReferenceId:   record.ReferenceId,
		OccurredAt:    record.OccurredAt,
		Payload:       json.RawMessage(record.Payload),
		CorrelationId: record.CorrelationId,
	}
}

// writeStockEvent adds the outbox row for movements inside the ledger
// transaction. It does nothing unless stock events are enabled.
func writeStockEvent(ctx context.Context, tx *gorm.DB, itemId int, refType StockEventReferenceType, refId int, actor Actor, movements []StockMovement) error {
	if !config.StockEventsEnabled() || len(movements) == 0 {
		return nil
	}

	balance, err := batchBalance(tx, itemId)
	if err != nil {
		return err
	}
	payload := stockEventPayload{StockItemId: itemId, Actor: actor, Balance: balance}
	for _, m := range movements {
		payload.Movements = append(payload.Movements, stockEventMovement{
			Id:       m.ID,
			BatchId:  m.BatchId,
			Kind:     m.Kind,
			Quantity: m.Quantity,
			UnitCost: m.UnitCost,
		})
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	record := StockEventRecord{
		StockItemId:   itemId,
		ReferenceType: refType,
		ReferenceId:   refId,
		OccurredAt:    time.Now().UTC(),
		Payload:       data,
		PublishStatus: OutboxPublishStatusPending,
		CorrelationId: correlationIdFromContextOrNew(ctx),
	}
	return tx.Create(&record).Error
}
