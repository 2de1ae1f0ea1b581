package models

import (
	"context"
	"strings"

	"github.com/mmdatafocus/factory_backend/config"
	"github.com/mmdatafocus/factory_backend/utils"
)

type Attribute struct {
	ID   int           `gorm:"primary_key" json:"id"`
	Name string        `gorm:"size:100;not null" json:"name"`
	Type AttributeType `gorm:"type:enum('num','str','choice');not null" json:"type"`
}

type NewAttribute struct {
	Name string        `json:"name" validate:"required,max=100"`
	Type AttributeType `json:"type" validate:"required"`
}

func CreateAttribute(ctx context.Context, input *NewAttribute) (*Attribute, error) {
	input.Name = strings.TrimSpace(input.Name)
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	if !input.Type.IsValid() {
		return nil, &ValidationError{Field: "type", Message: "invalid attribute type"}
	}

	attribute := Attribute{Name: input.Name, Type: input.Type}
	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&attribute).Error; err != nil {
		return nil, err
	}
	return &attribute, nil
}

func GetAttributes(ctx context.Context) ([]*Attribute, error) {
	return utils.FetchAllModels[Attribute](ctx, "name")
}
