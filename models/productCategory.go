package models

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mmdatafocus/factory_backend/config"
	"github.com/mmdatafocus/factory_backend/utils"
)

type ProductCategory struct {
	ID          int       `gorm:"primary_key" json:"id"`
	Name        string    `gorm:"uniqueIndex;size:100;not null" json:"name"`
	Description string    `gorm:"type:text" json:"description"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewProductCategory struct {
	Name        string `json:"name" validate:"required,max=100"`
	Description string `json:"description"`
}

// validate input for both create & update. (id = 0 for create)
func (input *NewProductCategory) validate(ctx context.Context, id int) error {
	input.Name = strings.TrimSpace(input.Name)
	if err := utils.ValidateStruct(input); err != nil {
		return err
	}
	// name
	if err := utils.ValidateUnique[ProductCategory](ctx, "name", input.Name, id); err != nil {
		return err
	}
	return nil
}

func CreateProductCategory(ctx context.Context, input *NewProductCategory) (*ProductCategory, error) {

	if err := input.validate(ctx, 0); err != nil {
		return nil, err
	}

	category := ProductCategory{
		Name:        input.Name,
		Description: input.Description,
	}

	db := config.GetDB()
	err := db.WithContext(ctx).Create(&category).Error
	if err != nil {
		return nil, err
	}

	return &category, nil
}

func UpdateProductCategory(ctx context.Context, id int, input *NewProductCategory) (*ProductCategory, error) {

	if err := input.validate(ctx, id); err != nil {
		return nil, err
	}

	category, err := utils.FetchModel[ProductCategory](ctx, id)
	if err != nil {
		return nil, err
	}

	db := config.GetDB()
	err = db.WithContext(ctx).Model(category).Updates(map[string]interface{}{
		"Name":        input.Name,
		"Description": input.Description,
	}).Error
	if err != nil {
		return nil, err
	}
	return category, nil
}

func DeleteProductCategory(ctx context.Context, id int) (*ProductCategory, error) {

	db := config.GetDB()
	result, err := utils.FetchModel[ProductCategory](ctx, id)
	if err != nil {
		return nil, err
	}

	// templates keep their category
	count, err := utils.ResourceCountWhere[ProductTemplate](ctx, "category_id = ?", id)
	if err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, &ValidationError{Field: "id", Message: fmt.Sprintf("category %s is used by %d product template(s)", result.Name, count)}
	}

	err = db.WithContext(ctx).Delete(result).Error
	if err != nil {
		return nil, err
	}

	return result, nil
}

func GetProductCategories(ctx context.Context, name *string) ([]*ProductCategory, error) {

	db := config.GetDB()
	var results []*ProductCategory

	dbCtx := db.WithContext(ctx)
	if name != nil && strings.TrimSpace(*name) != "" {
		dbCtx = dbCtx.Where("name LIKE ?", "%"+strings.TrimSpace(*name)+"%")
	}
	err := dbCtx.Order("name").Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}
