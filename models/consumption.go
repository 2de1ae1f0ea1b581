package models

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mmdatafocus/factory_backend/config"
	"github.com/mmdatafocus/factory_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Workstation struct {
	ID         int             `gorm:"primary_key" json:"id"`
	Name       string          `gorm:"uniqueIndex;size:100;not null" json:"name"`
	HourlyCost decimal.Decimal `gorm:"type:decimal(10,2);default:0" json:"hourly_cost"`
}

type Operator struct {
	ID   int    `gorm:"primary_key" json:"id"`
	Name string `gorm:"uniqueIndex;size:100;not null" json:"name"`
}

// WorkOrder is the consumption sheet of one job, filled over several days.
type WorkOrder struct {
	ID               int             `gorm:"primary_key" json:"id"`
	Reference        string          `gorm:"uniqueIndex;size:100;not null" json:"reference"`
	StartDate        time.Time       `gorm:"type:date;not null" json:"start_date"`
	ExpectedDelivery time.Time       `gorm:"type:date;not null" json:"expected_delivery"`
	ResponsibleId    int             `gorm:"index" json:"responsible_id"`
	ResponsibleName  string          `gorm:"size:100" json:"responsible_name"`
	Status           WorkOrderStatus `gorm:"type:enum('planejada','em_andamento','concluida','cancelada');default:planejada" json:"status"`
	ConsumedItems    []ConsumedItem  `gorm:"foreignKey:WorkOrderId" json:"consumed_items,omitempty"`
	CreatedAt        time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type ConsumedItem struct {
	ID                  int             `gorm:"primary_key" json:"id"`
	WorkOrderId         int             `gorm:"index;not null" json:"work_order_id"`
	ConsumedOn          time.Time       `gorm:"type:date;not null" json:"consumed_on"`
	StockItemId         int             `gorm:"index;not null" json:"stock_item_id"`
	StockItem           *StockItem      `json:"stock_item,omitempty"`
	DetailedDescription *string         `gorm:"size:255" json:"detailed_description"`
	Quantity            decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"quantity"`
	Unit                string          `gorm:"size:10" json:"unit"`
	Movements           []StockMovement `gorm:"foreignKey:ConsumedItemId" json:"movements,omitempty"`
	CreatedAt           time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

type WorkSession struct {
	ID            int          `gorm:"primary_key" json:"id"`
	WorkstationId int          `gorm:"index;not null" json:"workstation_id"`
	Workstation   *Workstation `json:"workstation,omitempty"`
	OperatorId    int          `gorm:"index;not null" json:"operator_id"`
	Operator      *Operator    `json:"operator,omitempty"`
	WorkOrderId   *int         `gorm:"index" json:"work_order_id"`
	WorkOrder     *WorkOrder   `json:"work_order,omitempty"`
	Operation     string       `gorm:"type:text" json:"operation"`
	StartedAt     time.Time    `gorm:"index;not null" json:"started_at"`
	EndedAt       *time.Time   `json:"ended_at"`
}

// Hours worked; open sessions count nothing.
func (s WorkSession) Hours() decimal.Decimal {
	if s.EndedAt == nil {
		return decimal.Zero
	}
	return decimal.NewFromFloat(s.EndedAt.Sub(s.StartedAt).Hours()).Round(4)
}

type NewWorkstation struct {
	Name       string          `json:"name" validate:"required,max=100"`
	HourlyCost decimal.Decimal `json:"hourly_cost"`
}

func CreateWorkstation(ctx context.Context, input *NewWorkstation) (*Workstation, error) {
	input.Name = strings.TrimSpace(input.Name)
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	if input.HourlyCost.IsNegative() {
		return nil, &ValidationError{Field: "hourly_cost", Message: "must not be negative"}
	}
	if err := utils.ValidateUnique[Workstation](ctx, "name", input.Name, 0); err != nil {
		return nil, err
	}
	ws := Workstation{Name: input.Name, HourlyCost: input.HourlyCost}
	if err := config.GetDB().WithContext(ctx).Create(&ws).Error; err != nil {
		return nil, err
	}
	return &ws, nil
}

func CreateOperator(ctx context.Context, name string) (*Operator, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, &ValidationError{Field: "name", Message: "is required"}
	}
	if err := utils.ValidateUnique[Operator](ctx, "name", name, 0); err != nil {
		return nil, err
	}
	op := Operator{Name: name}
	if err := config.GetDB().WithContext(ctx).Create(&op).Error; err != nil {
		return nil, err
	}
	return &op, nil
}

type NewWorkOrder struct {
	Reference        string    `json:"reference" validate:"required,max=100"`
	StartDate        time.Time `json:"start_date" validate:"required"`
	ExpectedDelivery time.Time `json:"expected_delivery" validate:"required"`
}

func CreateWorkOrder(ctx context.Context, input *NewWorkOrder) (*WorkOrder, error) {
	input.Reference = strings.TrimSpace(input.Reference)
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	if input.ExpectedDelivery.Before(input.StartDate) {
		return nil, &ValidationError{Field: "expected_delivery", Message: "must not be before the start date"}
	}
	if err := utils.ValidateUnique[WorkOrder](ctx, "reference", input.Reference, 0); err != nil {
		return nil, err
	}
	actor := ActorFromContext(ctx)
	order := WorkOrder{
		Reference:        input.Reference,
		StartDate:        input.StartDate,
		ExpectedDelivery: input.ExpectedDelivery,
		ResponsibleId:    actor.Id,
		ResponsibleName:  actor.Name,
		Status:           WorkOrderStatusPlanned,
	}
	if err := config.GetDB().WithContext(ctx).Create(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func UpdateWorkOrderStatus(ctx context.Context, id int, status WorkOrderStatus) (*WorkOrder, error) {
	var order WorkOrder
	err := config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&order, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return utils.ErrorRecordNotFound
			}
			return err
		}
		if order.Status == status {
			return nil
		}
		if !order.Status.CanMoveTo(status) {
			return &ValidationError{Field: "status", Message: fmt.Sprintf("cannot move from %s to %s", order.Status, status)}
		}
		order.Status = status
		return tx.Model(&order).Update("status", status).Error
	})
	if err != nil {
		return nil, err
	}
	return &order, nil
}

type NewConsumedItem struct {
	WorkOrderId         int             `json:"work_order_id" validate:"required"`
	ConsumedOn          *time.Time      `json:"consumed_on"`
	StockItemId         int             `json:"stock_item_id" validate:"required"`
	DetailedDescription *string         `json:"detailed_description" validate:"omitempty,max=255"`
	Quantity            decimal.Decimal `json:"quantity"`
	Unit                string          `json:"unit" validate:"max=10"`
}

// RecordConsumption books material used on a work order and takes it out of
// stock in the same transaction; insufficient stock rolls both back.
func RecordConsumption(ctx context.Context, input *NewConsumedItem) (*ConsumedItem, error) {
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	quantity := StockQuantity(input.Quantity)
	if !quantity.IsPositive() {
		return nil, ErrQuantityNotPositive
	}
	actor := ActorFromContext(ctx)

	release := lockStockItemBestEffort(ctx, input.StockItemId)
	defer release()

	var consumed ConsumedItem
	err := config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var order WorkOrder
		if err := tx.Clauses(clause.Locking{Strength: "SHARE"}).First(&order, input.WorkOrderId).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return utils.NotFound("work order")
			}
			return err
		}
		if !order.Status.AcceptsConsumption() {
			return &ValidationError{Field: "work_order_id", Message: fmt.Sprintf("work order %s is %s", order.Reference, order.Status)}
		}
		item, err := utils.FetchModelTx[StockItem](tx, input.StockItemId)
		if err != nil {
			return err
		}

		consumed = ConsumedItem{
			WorkOrderId:         order.ID,
			ConsumedOn:          time.Now(),
			StockItemId:         item.ID,
			DetailedDescription: input.DetailedDescription,
			Quantity:            quantity,
			Unit:                input.Unit,
		}
		if input.ConsumedOn != nil {
			consumed.ConsumedOn = *input.ConsumedOn
		}
		if consumed.Unit == "" {
			consumed.Unit = string(item.Unit)
		}
		if err := tx.Omit("StockItem", "Movements").Create(&consumed).Error; err != nil {
			return err
		}

		movements, err := ConsumeStock(ctx, tx, item.ID, quantity, actor, &consumed.ID)
		if err != nil {
			return err
		}
		consumed.StockItem = item
		consumed.Movements = movements
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &consumed, nil
}

type NewWorkSession struct {
	WorkstationId int        `json:"workstation_id" validate:"required"`
	OperatorId    int        `json:"operator_id" validate:"required"`
	WorkOrderId   *int       `json:"work_order_id"`
	Operation     string     `json:"operation" validate:"required"`
	StartedAt     *time.Time `json:"started_at"`
}

func StartWorkSession(ctx context.Context, input *NewWorkSession) (*WorkSession, error) {
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	if err := utils.ValidateResourceId[Workstation](ctx, input.WorkstationId); err != nil {
		return nil, utils.NotFound("workstation")
	}
	if err := utils.ValidateResourceId[Operator](ctx, input.OperatorId); err != nil {
		return nil, utils.NotFound("operator")
	}
	if input.WorkOrderId != nil {
		if err := utils.ValidateResourceId[WorkOrder](ctx, *input.WorkOrderId); err != nil {
			return nil, utils.NotFound("work order")
		}
	}
	session := WorkSession{
		WorkstationId: input.WorkstationId,
		OperatorId:    input.OperatorId,
		WorkOrderId:   input.WorkOrderId,
		Operation:     input.Operation,
		StartedAt:     time.Now(),
	}
	if input.StartedAt != nil {
		session.StartedAt = *input.StartedAt
	}
	if err := config.GetDB().WithContext(ctx).Create(&session).Error; err != nil {
		return nil, err
	}
	return &session, nil
}

func CloseWorkSession(ctx context.Context, id int, endedAt time.Time) (*WorkSession, error) {
	session, err := utils.FetchModel[WorkSession](ctx, id)
	if err != nil {
		return nil, err
	}
	if session.EndedAt != nil {
		return nil, &ValidationError{Field: "ended_at", Message: "session already closed"}
	}
	if !endedAt.After(session.StartedAt) {
		return nil, &ValidationError{Field: "ended_at", Message: "must be after the start"}
	}
	session.EndedAt = &endedAt
	if err := config.GetDB().WithContext(ctx).Model(session).Update("ended_at", endedAt).Error; err != nil {
		return nil, err
	}
	return session, nil
}
