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

// StockCategory groups stock items, e.g. Raw material > Panels > MDF. Code
// is the prefix of its items' internal codes.
type StockCategory struct {
	ID        int       `gorm:"primary_key" json:"id"`
	Name      string    `gorm:"uniqueIndex:idx_stock_category_name_parent;size:100;not null" json:"name"`
	ParentId  *int      `gorm:"uniqueIndex:idx_stock_category_name_parent" json:"parent_id"`
	Code      *string   `gorm:"uniqueIndex;size:10" json:"code"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type StockItem struct {
	ID           int            `gorm:"primary_key" json:"id"`
	CategoryId   int            `gorm:"uniqueIndex:idx_stock_item_category_seq;not null" json:"category_id"`
	Category     *StockCategory `json:"category,omitempty"`
	Name         string         `gorm:"index;size:255;not null" json:"name"`
	Description  string         `gorm:"type:text" json:"description"`
	SupplierSku  string         `gorm:"size:100" json:"supplier_sku"`
	InternalSeq  int            `gorm:"uniqueIndex:idx_stock_item_category_seq;not null" json:"internal_seq"`
	InternalCode string         `gorm:"uniqueIndex;size:20;not null" json:"internal_code"`
	Unit         StockUnit      `gorm:"type:enum('un','m','m2','m3','kg','L');default:un" json:"unit"`
	WidthMm      *int           `json:"width_mm"`
	HeightMm     *int           `json:"height_mm"`
	ThicknessMm  *int           `json:"thickness_mm"`
	CreatedAt    time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

// StockBatch is one receipt of an item. InitialQty never changes after
// creation; CurrentQty is what is left of it.
type StockBatch struct {
	ID          int             `gorm:"primary_key" json:"id"`
	StockItemId int             `gorm:"index:idx_stock_batch_fifo,priority:1;not null" json:"stock_item_id"`
	StockItem   *StockItem      `json:"stock_item,omitempty"`
	InitialQty  decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"initial_qty"`
	CurrentQty  decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"current_qty"`
	UnitCost    decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"unit_cost"`
	EntryDate   time.Time       `gorm:"index:idx_stock_batch_fifo,priority:2;not null" json:"entry_date"`
	CreatedAt   time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

// StockMovement is an append-only ledger entry. Quantity is signed: positive
// for ENTRADA and AJUSTE_POSITIVO, negative otherwise.
type StockMovement struct {
	ID              int               `gorm:"primary_key" json:"id"`
	BatchId         int               `gorm:"index;not null" json:"batch_id"`
	StockItemId     int               `gorm:"index;not null" json:"stock_item_id"`
	Quantity        decimal.Decimal   `gorm:"type:decimal(20,4);not null" json:"quantity"`
	Kind            StockMovementKind `gorm:"type:enum('ENTRADA','SAIDA','AJUSTE_POSITIVO','AJUSTE_NEGATIVO');not null" json:"kind"`
	UnitCost        decimal.Decimal   `gorm:"type:decimal(20,4);default:0" json:"unit_cost"`
	ResponsibleId   int               `gorm:"index" json:"responsible_id"`
	ResponsibleName string            `gorm:"size:100" json:"responsible_name"`
	ConsumedItemId  *int              `gorm:"index" json:"consumed_item_id"`
	Note            *string           `gorm:"type:text" json:"note"`
	CreatedAt       time.Time         `gorm:"autoCreateTime;index" json:"created_at"`
}

func (b *StockBatch) BeforeCreate(tx *gorm.DB) error {
	b.InitialQty = StockQuantity(b.InitialQty)
	b.UnitCost = StockQuantity(b.UnitCost)
	if !b.InitialQty.IsPositive() {
		return ErrQuantityNotPositive
	}
	b.CurrentQty = b.InitialQty
	if b.EntryDate.IsZero() {
		b.EntryDate = time.Now()
	}
	return nil
}

func (m *StockMovement) BeforeCreate(tx *gorm.DB) error {
	if !m.Kind.IsValid() {
		return fmt.Errorf("invalid stock movement kind %q", m.Kind)
	}
	m.Quantity = StockQuantity(m.Quantity)
	m.UnitCost = StockQuantity(m.UnitCost)
	if m.Quantity.IsZero() {
		return errors.New("stock movement quantity must not be zero")
	}
	if m.Kind.IsInbound() != m.Quantity.IsPositive() {
		return fmt.Errorf("stock movement %s has quantity %s with the wrong sign", m.Kind, m.Quantity.String())
	}
	return nil
}

func (m *StockMovement) BeforeUpdate(tx *gorm.DB) error {
	return ErrImmutableMovement
}

func (m *StockMovement) BeforeDelete(tx *gorm.DB) error {
	return ErrImmutableMovement
}

// Value of the movement at its batch cost; negative for outbound movements.
func (m StockMovement) Value() decimal.Decimal {
	return m.Quantity.Mul(m.UnitCost)
}

type NewStockCategory struct {
	Name     string  `json:"name" validate:"required,max=100"`
	ParentId *int    `json:"parent_id"`
	Code     *string `json:"code" validate:"omitempty,max=10"`
}

func (input *NewStockCategory) validate(ctx context.Context, id int) error {
	input.Name = strings.TrimSpace(input.Name)
	if input.Code != nil {
		code := strings.ToUpper(strings.TrimSpace(*input.Code))
		input.Code = &code
		if code == "" {
			input.Code = nil
		}
	}
	if err := utils.ValidateStruct(input); err != nil {
		return err
	}
	if input.ParentId != nil {
		if err := utils.ValidateResourceId[StockCategory](ctx, *input.ParentId); err != nil {
			return utils.NotFound("parent category")
		}
		if err := utils.ValidateUnique[StockCategory](ctx, "name", input.Name, id, "parent_id = ?", *input.ParentId); err != nil {
			return err
		}
	} else if err := utils.ValidateUnique[StockCategory](ctx, "name", input.Name, id, "parent_id IS NULL"); err != nil {
		return err
	}
	if input.Code != nil {
		if err := utils.ValidateUnique[StockCategory](ctx, "code", *input.Code, id); err != nil {
			return err
		}
	}
	return nil
}

func CreateStockCategory(ctx context.Context, input *NewStockCategory) (*StockCategory, error) {
	if err := input.validate(ctx, 0); err != nil {
		return nil, err
	}
	category := StockCategory{Name: input.Name, ParentId: input.ParentId, Code: input.Code}
	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&category).Error; err != nil {
		return nil, err
	}
	return &category, nil
}

func UpdateStockCategory(ctx context.Context, id int, input *NewStockCategory) (*StockCategory, error) {
	if err := input.validate(ctx, id); err != nil {
		return nil, err
	}
	category, err := utils.FetchModel[StockCategory](ctx, id)
	if err != nil {
		return nil, err
	}

	db := config.GetDB()
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if input.ParentId != nil {
			if err := checkStockCategoryParent(tx, id, *input.ParentId); err != nil {
				return err
			}
		}
		return tx.Model(category).Updates(map[string]interface{}{
			"name":      input.Name,
			"parent_id": input.ParentId,
			"code":      input.Code,
		}).Error
	})
	if err != nil {
		return nil, err
	}
	return category, nil
}

// the new parent may not be the category itself or one of its descendants
func checkStockCategoryParent(tx *gorm.DB, id int, parentId int) error {
	seen := map[int]bool{}
	for current := &parentId; current != nil; {
		if *current == id {
			return &InvalidParentError{ItemId: id, ParentId: parentId, Reason: "category would become its own ancestor"}
		}
		if seen[*current] {
			break
		}
		seen[*current] = true
		var parent StockCategory
		if err := tx.Select("id", "parent_id").First(&parent, *current).Error; err != nil {
			return err
		}
		current = parent.ParentId
	}
	return nil
}

// StockCategoryPath is the category chain from the root, e.g. "Raw material > Panels".
func StockCategoryPath(ctx context.Context, id int) (string, error) {
	db := config.GetDB()
	var names []string
	seen := map[int]bool{}
	for current := &id; current != nil && !seen[*current]; {
		seen[*current] = true
		var category StockCategory
		if err := db.WithContext(ctx).First(&category, *current).Error; err != nil {
			return "", err
		}
		names = append([]string{category.Name}, names...)
		current = category.ParentId
	}
	return strings.Join(names, " > "), nil
}

type NewStockItem struct {
	CategoryId  int       `json:"category_id" validate:"required"`
	Name        string    `json:"name" validate:"required,max=255"`
	Description string    `json:"description"`
	SupplierSku string    `json:"supplier_sku" validate:"max=100"`
	Unit        StockUnit `json:"unit"`
	WidthMm     *int      `json:"width_mm" validate:"omitempty,min=0"`
	HeightMm    *int      `json:"height_mm" validate:"omitempty,min=0"`
	ThicknessMm *int      `json:"thickness_mm" validate:"omitempty,min=0"`
}

func stockItemCode(prefix string, seq int) string {
	return fmt.Sprintf("%s-%04d", prefix, seq)
}

// CreateStockItem assigns the next internal code of the category
// ({prefix}-{n:04d}) under a lock on the category row.
func CreateStockItem(ctx context.Context, input *NewStockItem) (*StockItem, error) {
	input.Name = strings.TrimSpace(input.Name)
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	if input.Unit == "" {
		input.Unit = StockUnitPiece
	}
	if !input.Unit.IsValid() {
		return nil, &ValidationError{Field: "unit", Message: "invalid unit"}
	}

	item := StockItem{
		CategoryId:  input.CategoryId,
		Name:        input.Name,
		Description: input.Description,
		SupplierSku: input.SupplierSku,
		Unit:        input.Unit,
		WidthMm:     input.WidthMm,
		HeightMm:    input.HeightMm,
		ThicknessMm: input.ThicknessMm,
	}

	db := config.GetDB()
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var category StockCategory
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&category, input.CategoryId).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return utils.NotFound("stock category")
			}
			return err
		}
		if category.Code == nil || *category.Code == "" {
			return &ValidationError{Field: "category_id", Message: "category " + category.Name + " has no code"}
		}

		var last struct{ Seq *int }
		if err := tx.Model(&StockItem{}).Select("MAX(internal_seq) AS seq").
			Where("category_id = ?", category.ID).Scan(&last).Error; err != nil {
			return err
		}
		item.InternalSeq = 1
		if last.Seq != nil {
			item.InternalSeq = *last.Seq + 1
		}
		item.InternalCode = stockItemCode(*category.Code, item.InternalSeq)
		item.Category = &category
		return tx.Omit("Category").Create(&item).Error
	})
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func GetStockItems(ctx context.Context, categoryId *int, name *string) ([]*StockItem, error) {
	db := config.GetDB()
	var results []*StockItem
	dbCtx := db.WithContext(ctx).Preload("Category")
	if categoryId != nil && *categoryId > 0 {
		dbCtx = dbCtx.Where("category_id = ?", *categoryId)
	}
	if name != nil && *name != "" {
		dbCtx = dbCtx.Where("name LIKE ? OR internal_code LIKE ?", "%"+*name+"%", "%"+*name+"%")
	}
	if err := dbCtx.Order("name").Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func GetStockMovements(ctx context.Context, stockItemId int) ([]*StockMovement, error) {
	db := config.GetDB()
	var results []*StockMovement
	err := db.WithContext(ctx).Where("stock_item_id = ?", stockItemId).Order("created_at, id").Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}
