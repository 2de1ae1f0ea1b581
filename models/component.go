package models

import (
	"context"
	"strings"

	"github.com/mmdatafocus/factory_backend/config"
	"github.com/mmdatafocus/factory_backend/utils"
	"github.com/shopspring/decimal"
)

// Component is both the generic part named by template rules and the real
// part chosen by configurations.
type Component struct {
	ID       int             `gorm:"primary_key" json:"id"`
	Name     string          `gorm:"index;size:255;not null" json:"name"`
	UnitCost decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"unit_cost"`
	Unit     string          `gorm:"size:20;not null" json:"unit"`
}

type NewComponent struct {
	Name     string          `json:"name" validate:"required,max=255"`
	UnitCost decimal.Decimal `json:"unit_cost"`
	Unit     string          `json:"unit" validate:"required,max=20"`
}

func (input *NewComponent) validate() error {
	input.Name = strings.TrimSpace(input.Name)
	if err := utils.ValidateStruct(input); err != nil {
		return err
	}
	if input.UnitCost.IsNegative() {
		return &ValidationError{Field: "unit_cost", Message: "must not be negative"}
	}
	return nil
}

func CreateComponent(ctx context.Context, input *NewComponent) (*Component, error) {
	if err := input.validate(); err != nil {
		return nil, err
	}
	component := Component{Name: input.Name, UnitCost: input.UnitCost, Unit: input.Unit}
	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&component).Error; err != nil {
		return nil, err
	}
	return &component, nil
}

// UpdateComponent changes name, unit and current cost. Existing BOM lines keep
// the cost snapshotted when they were expanded.
func UpdateComponent(ctx context.Context, id int, input *NewComponent) (*Component, error) {
	if err := input.validate(); err != nil {
		return nil, err
	}
	component, err := utils.FetchModel[Component](ctx, id)
	if err != nil {
		return nil, err
	}
	db := config.GetDB()
	err = db.WithContext(ctx).Model(component).Updates(map[string]interface{}{
		"Name":     input.Name,
		"UnitCost": input.UnitCost,
		"Unit":     input.Unit,
	}).Error
	if err != nil {
		return nil, err
	}
	if err := utils.RemoveRedisItem[Component](ctx, id); err != nil {
		return nil, err
	}
	if err := invalidateTemplatesUsingComponent(ctx, id); err != nil {
		return nil, err
	}
	return component, nil
}
