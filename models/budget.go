package models

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/mmdatafocus/factory_backend/config"
	"github.com/mmdatafocus/factory_backend/utils"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Budget struct {
	ID            int          `gorm:"primary_key" json:"id"`
	LegacyCode    string       `gorm:"uniqueIndex:idx_budget_code_version;size:100;not null" json:"legacy_code"`
	Version       int          `gorm:"uniqueIndex:idx_budget_code_version;not null;default:1" json:"version"`
	BaseVersion   int          `gorm:"not null;default:1" json:"base_version"`
	ClientName    *string      `gorm:"size:255" json:"client_name"`
	ClientType    *string      `gorm:"size:10" json:"client_type"`
	ClientCode    *string      `gorm:"size:50" json:"client_code"`
	RequestDate   *time.Time   `gorm:"type:date" json:"request_date"`
	AgentCode     *string      `gorm:"size:50" json:"agent_code"`
	CreatedById   int          `gorm:"index" json:"created_by_id"`
	CreatedByName string       `gorm:"size:100" json:"created_by_name"`
	Items         []BudgetItem `gorm:"foreignKey:BudgetId" json:"items,omitempty"`
	CreatedAt     time.Time    `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time    `gorm:"autoUpdateTime" json:"updated_at"`
}

// BudgetItem is a line of a budget. It points at an instance, at a
// configuration (a grouping line) or at nothing (a manual line); see Target.
type BudgetItem struct {
	ID                int                   `gorm:"primary_key" json:"id"`
	BudgetId          int                   `gorm:"index;not null" json:"budget_id"`
	ParentId          *int                  `gorm:"index" json:"parent_id"`
	ManualCode        *string               `gorm:"size:50" json:"manual_code"`
	ManualDescription *string               `gorm:"type:text" json:"manual_description"`
	ConfigurationId   *int                  `gorm:"index" json:"configuration_id"`
	Configuration     *ProductConfiguration `json:"configuration,omitempty"`
	InstanceId        *int                  `gorm:"index" json:"instance_id"`
	Instance          *ProductInstance      `json:"instance,omitempty"`
	Quantity          int                   `gorm:"not null;default:1" json:"quantity"`
	UnitPrice         decimal.Decimal       `gorm:"type:decimal(20,4);default:0" json:"unit_price"`
	Margin            decimal.Decimal       `gorm:"type:decimal(5,2);default:0" json:"margin"`
	Total             decimal.Decimal       `gorm:"type:decimal(20,4);default:0" json:"total"`
	CreatedAt         time.Time             `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time             `gorm:"autoUpdateTime" json:"updated_at"`
}

func (item *BudgetItem) LineTotal() decimal.Decimal {
	return item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity)))
}

// BeforeSave keeps Total = UnitPrice * Quantity and rejects lines that could
// not be priced.
func (item *BudgetItem) BeforeSave(tx *gorm.DB) error {
	if item.Quantity <= 0 {
		return &ValidationError{Field: "quantity", Message: "must be greater than zero"}
	}
	item.UnitPrice = item.UnitPrice.Round(amountPlaces)
	item.Margin = item.Margin.Round(marginPlaces)
	if item.UnitPrice.IsNegative() {
		return &ValidationError{Field: "unit_price", Message: "must not be negative"}
	}
	if item.Margin.GreaterThanOrEqual(hundred) {
		return &InvalidMarginError{Margin: item.Margin}
	}
	if item.InstanceId != nil && item.ConfigurationId != nil {
		return &ValidationError{Field: "target", Message: "a line points at an instance or a configuration, not both"}
	}
	item.Total = item.LineTotal()
	if tx != nil && tx.Statement != nil && tx.Statement.Schema != nil {
		tx.Statement.SetColumn("UnitPrice", item.UnitPrice)
		tx.Statement.SetColumn("Margin", item.Margin)
		tx.Statement.SetColumn("Total", item.Total)
	}
	return nil
}

type LineItemKind string

const (
	LineItemInstance      LineItemKind = "instance"
	LineItemConfiguration LineItemKind = "configuration"
	LineItemManual        LineItemKind = "manual"
)

// LineItemTarget says what a budget line prices. Exactly one of Instance
// and Configuration is set for the matching kind; manual lines carry text.
type LineItemTarget struct {
	Kind            LineItemKind
	InstanceId      int
	Instance        *ProductInstance
	ConfigurationId int
	Configuration   *ProductConfiguration
	Code            string
	Description     string
}

func (item *BudgetItem) Target() LineItemTarget {
	switch {
	case item.InstanceId != nil:
		return LineItemTarget{Kind: LineItemInstance, InstanceId: *item.InstanceId, Instance: item.Instance}
	case item.ConfigurationId != nil:
		return LineItemTarget{Kind: LineItemConfiguration, ConfigurationId: *item.ConfigurationId, Configuration: item.Configuration}
	default:
		return LineItemTarget{
			Kind:        LineItemManual,
			Code:        utils.DerefString(item.ManualCode),
			Description: utils.DerefString(item.ManualDescription),
		}
	}
}

/* legacy code */

var (
	legacyCodePattern = regexp.MustCompile(`^(EP|PC)(\d+)-(\d{6})\.(\d+)-([A-Z]+)_V(\d+)$`)
	versionSuffix     = regexp.MustCompile(`_V\d+`)
)

// LegacyCode is the metadata packed into codes like EP107-250625.80-ELLA_V2.
type LegacyCode struct {
	Code        string
	ClientType  string
	ClientCode  string
	ClientName  string
	RequestDate time.Time
	AgentCode   string
	Version     int
}

func ParseLegacyCode(code string) (*LegacyCode, error) {
	code = strings.TrimSpace(code)
	m := legacyCodePattern.FindStringSubmatch(code)
	if m == nil {
		return nil, &LegacyCodeError{Code: code, Reason: "expected a code like EP107-250625.80-ELLA_V2"}
	}
	date, err := time.Parse("020106", m[3])
	if err != nil {
		return nil, &LegacyCodeError{Code: code, Reason: fmt.Sprintf("bad request date %s", m[3])}
	}
	version, err := strconv.Atoi(m[6])
	if err != nil || version <= 0 {
		return nil, &LegacyCodeError{Code: code, Reason: "bad version"}
	}
	return &LegacyCode{
		Code:        code,
		ClientType:  m[1],
		ClientCode:  m[2],
		ClientName:  "Cliente " + m[2],
		RequestDate: date,
		AgentCode:   m[4] + "-" + m[5],
		Version:     version,
	}, nil
}

// legacyCodeForVersion replaces the _Vn suffix with version.
func legacyCodeForVersion(code string, version int) string {
	return versionSuffix.ReplaceAllString(code, fmt.Sprintf("_V%d", version))
}

type NewBudget struct {
	LegacyCode string `json:"legacy_code" validate:"required,max=100"`
}

func CreateBudget(ctx context.Context, input *NewBudget) (*Budget, error) {
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	parsed, err := ParseLegacyCode(input.LegacyCode)
	if err != nil {
		return nil, err
	}
	count, err := utils.ResourceCountWhere[Budget](ctx, "legacy_code = ? AND version = ?", parsed.Code, parsed.Version)
	if err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, fmt.Errorf("%w legacy_code: budget %s version %d already exists", utils.ErrorDuplicate, parsed.Code, parsed.Version)
	}

	actor := ActorFromContext(ctx)
	budget := Budget{
		LegacyCode:    parsed.Code,
		Version:       parsed.Version,
		BaseVersion:   parsed.Version,
		ClientName:    &parsed.ClientName,
		ClientType:    &parsed.ClientType,
		ClientCode:    &parsed.ClientCode,
		RequestDate:   &parsed.RequestDate,
		AgentCode:     &parsed.AgentCode,
		CreatedById:   actor.Id,
		CreatedByName: actor.Name,
	}
	if err := config.GetDB().WithContext(ctx).Create(&budget).Error; err != nil {
		return nil, err
	}
	return &budget, nil
}

type UpdateBudgetInput struct {
	ClientName *string `json:"client_name" validate:"omitempty,max=255"`
	AgentCode  *string `json:"agent_code" validate:"omitempty,max=50"`
}

func UpdateBudget(ctx context.Context, id int, input *UpdateBudgetInput) (*Budget, error) {
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	budget, err := utils.FetchModel[Budget](ctx, id)
	if err != nil {
		return nil, err
	}
	updates := map[string]interface{}{}
	if input.ClientName != nil {
		updates["client_name"] = *input.ClientName
	}
	if input.AgentCode != nil {
		updates["agent_code"] = *input.AgentCode
	}
	if len(updates) == 0 {
		return budget, nil
	}
	if err := config.GetDB().WithContext(ctx).Model(budget).Updates(updates).Error; err != nil {
		return nil, err
	}
	return utils.FetchModel[Budget](ctx, id)
}

func GetBudgets(ctx context.Context, legacyCode *string) ([]*Budget, error) {
	db := config.GetDB()
	var results []*Budget
	dbCtx := db.WithContext(ctx)
	if legacyCode != nil && *legacyCode != "" {
		dbCtx = dbCtx.Where("legacy_code LIKE ?", "%"+*legacyCode+"%")
	}
	if err := dbCtx.Order("created_at").Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

// everything the projection, descriptions and exports read
var budgetItemPreloads = []string{
	"Configuration.Template.Category",
	"Configuration.Template.Components.Component",
	"Configuration.Choices.Component",
	"Configuration.Choices.TemplateComponent.Component",
	"Instance.Configuration.Template.Category",
	"Instance.Configuration.Choices.Component",
	"Instance.Configuration.Choices.TemplateComponent.Component",
	"Instance.Attributes.TemplateAttribute.Attribute",
	"Instance.Components.Component",
}

// LoadBudget returns the budget with its items, in id order, fully preloaded.
func LoadBudget(ctx context.Context, id int) (*Budget, error) {
	return loadBudget(config.GetDB().WithContext(ctx), id)
}

func loadBudget(tx *gorm.DB, id int) (*Budget, error) {
	var budget Budget
	q := tx.Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") })
	for _, p := range budgetItemPreloads {
		q = q.Preload("Items." + p)
	}
	if err := q.First(&budget, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &budget, nil
}

func lockBudget(tx *gorm.DB, id int) (*Budget, error) {
	var budget Budget
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&budget, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &budget, nil
}

// checkParent validates parentId for itemId (0 for a new item): same budget,
// not the item itself and not one of its descendants.
func checkParent(tx *gorm.DB, budgetId int, itemId int, parentId int) error {
	if itemId != 0 && parentId == itemId {
		return &InvalidParentError{ItemId: itemId, ParentId: parentId, Reason: "an item cannot be its own parent"}
	}
	seen := map[int]bool{}
	current := parentId
	for {
		var parent BudgetItem
		if err := tx.Select("id", "budget_id", "parent_id").First(&parent, current).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return &InvalidParentError{ItemId: itemId, ParentId: parentId, Reason: "parent not found"}
			}
			return err
		}
		if parent.BudgetId != budgetId {
			return &InvalidParentError{ItemId: itemId, ParentId: parentId, Reason: "parent belongs to another budget"}
		}
		if itemId != 0 && parent.ID == itemId {
			return &InvalidParentError{ItemId: itemId, ParentId: parentId, Reason: "parent is a descendant of the item"}
		}
		seen[parent.ID] = true
		if parent.ParentId == nil || seen[*parent.ParentId] {
			return nil
		}
		current = *parent.ParentId
	}
}

// PricingInput is shared by the add operations. A nil UnitPrice on an
// instance line means price it from BOM cost and margin.
type PricingInput struct {
	Quantity  int              `json:"quantity" validate:"required,gt=0"`
	UnitPrice *decimal.Decimal `json:"unit_price"`
	Margin    decimal.Decimal  `json:"margin"`
	ParentId  *int             `json:"parent_id"`
}

// normalize rounds margin and price to the scale they are stored with, so
// the price computed here is the one that lands in the row.
func (p *PricingInput) normalize() {
	p.Margin = p.Margin.Round(marginPlaces)
	if p.UnitPrice != nil {
		price := p.UnitPrice.Round(amountPlaces)
		p.UnitPrice = &price
	}
}

func (p PricingInput) validate() error {
	if err := utils.ValidateStruct(p); err != nil {
		return err
	}
	if p.Margin.GreaterThanOrEqual(hundred) {
		return &InvalidMarginError{Margin: p.Margin}
	}
	if p.UnitPrice != nil && p.UnitPrice.IsNegative() {
		return &ValidationError{Field: "unit_price", Message: "must not be negative"}
	}
	return nil
}

type NewInstanceItem struct {
	PricingInput
	ConfigurationId int                    `json:"configuration_id" validate:"required"`
	Attributes      []NewInstanceAttribute `json:"attributes" validate:"dive"`
}

type ItemResult struct {
	Item     *BudgetItem `json:"item"`
	Warnings []string    `json:"warnings"`
}

// AddInstanceItem creates an instance of the configuration with the given
// attribute values, expands its BOM and adds it to the budget, all in one
// transaction.
func AddInstanceItem(ctx context.Context, budgetId int, input *NewInstanceItem) (*ItemResult, error) {
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	input.PricingInput.normalize()
	if err := input.PricingInput.validate(); err != nil {
		return nil, err
	}
	ctx, span := tracer.Start(ctx, "AddInstanceItem")
	span.SetAttributes(attribute.Int("budget_id", budgetId), attribute.Int("configuration_id", input.ConfigurationId))
	defer span.End()

	result := &ItemResult{}
	err := config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		budget, err := lockBudget(tx, budgetId)
		if err != nil {
			return err
		}
		if input.ParentId != nil {
			if err := checkParent(tx, budget.ID, 0, *input.ParentId); err != nil {
				return err
			}
		}
		cfg, err := loadConfiguration(ctx, tx, input.ConfigurationId)
		if err != nil {
			if errors.Is(err, utils.ErrorRecordNotFound) {
				return utils.NotFound("product configuration")
			}
			return err
		}
		values, err := buildInstanceAttributes(cfg.Template, input.Attributes)
		if err != nil {
			return err
		}

		var itemCount int64
		if err := tx.Model(&BudgetItem{}).Where("budget_id = ?", budget.ID).Count(&itemCount).Error; err != nil {
			return err
		}
		instance := ProductInstance{
			ConfigurationId: cfg.ID,
			Code:            instanceCode(cfg.Name, budget.ID, int(itemCount)+1),
			Quantity:        1,
		}
		if err := createInstance(tx, &instance, values); err != nil {
			return err
		}

		expansion, err := ExpandInstance(cfg, &instance)
		if err != nil {
			return err
		}
		if err := ReplaceInstanceComponents(tx, &instance, expansion.Lines); err != nil {
			return err
		}

		item := BudgetItem{
			BudgetId:   budget.ID,
			ParentId:   input.ParentId,
			InstanceId: &instance.ID,
			Quantity:   input.Quantity,
			Margin:     input.Margin,
		}
		if input.UnitPrice != nil {
			item.UnitPrice = *input.UnitPrice
		} else {
			price, err := PriceFromMargin(ComputeCost(instance.Components), input.Margin)
			if err != nil {
				return err
			}
			item.UnitPrice = price.Round(pricePlaces)
		}
		if err := tx.Omit("Instance", "Configuration").Create(&item).Error; err != nil {
			return err
		}
		instance.Configuration = cfg
		item.Instance = &instance
		result.Item = &item
		result.Warnings = expansion.Warnings
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return result, nil
}

func createInstance(tx *gorm.DB, instance *ProductInstance, values []InstanceAttribute) error {
	if err := tx.Omit("Attributes", "Components", "Configuration").Create(instance).Error; err != nil {
		return err
	}
	for i := range values {
		values[i].InstanceId = instance.ID
		if err := tx.Omit("TemplateAttribute").Create(&values[i]).Error; err != nil {
			return err
		}
	}
	instance.Attributes = values
	return nil
}

type NewConfigurationItem struct {
	PricingInput
	ConfigurationId int     `json:"configuration_id" validate:"required"`
	ManualCode      *string `json:"manual_code" validate:"omitempty,max=50"`
}

// AddConfigurationItem adds a grouping line pointing at a configuration.
func AddConfigurationItem(ctx context.Context, budgetId int, input *NewConfigurationItem) (*BudgetItem, error) {
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	input.PricingInput.normalize()
	if err := input.PricingInput.validate(); err != nil {
		return nil, err
	}
	var item BudgetItem
	err := config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		budget, err := lockBudget(tx, budgetId)
		if err != nil {
			return err
		}
		if input.ParentId != nil {
			if err := checkParent(tx, budget.ID, 0, *input.ParentId); err != nil {
				return err
			}
		}
		if _, err := utils.FetchModelTx[ProductConfiguration](tx, input.ConfigurationId); err != nil {
			return utils.NotFound("product configuration")
		}
		item = BudgetItem{
			BudgetId:        budget.ID,
			ParentId:        input.ParentId,
			ConfigurationId: &input.ConfigurationId,
			ManualCode:      input.ManualCode,
			Quantity:        input.Quantity,
			Margin:          input.Margin,
		}
		if input.UnitPrice != nil {
			item.UnitPrice = *input.UnitPrice
		}
		return tx.Omit("Instance", "Configuration").Create(&item).Error
	})
	if err != nil {
		return nil, err
	}
	return &item, nil
}

type NewManualItem struct {
	PricingInput
	ManualCode  *string `json:"manual_code" validate:"omitempty,max=50"`
	Description string  `json:"description"`
}

func AddManualItem(ctx context.Context, budgetId int, input *NewManualItem) (*BudgetItem, error) {
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	input.PricingInput.normalize()
	if err := input.PricingInput.validate(); err != nil {
		return nil, err
	}
	var item BudgetItem
	err := config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		budget, err := lockBudget(tx, budgetId)
		if err != nil {
			return err
		}
		if input.ParentId != nil {
			if err := checkParent(tx, budget.ID, 0, *input.ParentId); err != nil {
				return err
			}
		}
		item = BudgetItem{
			BudgetId:   budget.ID,
			ParentId:   input.ParentId,
			ManualCode: input.ManualCode,
			Quantity:   input.Quantity,
			Margin:     input.Margin,
		}
		if d := strings.TrimSpace(input.Description); d != "" {
			item.ManualDescription = &d
		}
		if input.UnitPrice != nil {
			item.UnitPrice = *input.UnitPrice
		}
		return tx.Omit("Instance", "Configuration").Create(&item).Error
	})
	if err != nil {
		return nil, err
	}
	return &item, nil
}

type UpdateBudgetItemInput struct {
	Quantity  *int             `json:"quantity" validate:"omitempty,gt=0"`
	UnitPrice *decimal.Decimal `json:"unit_price"`
	Margin    *decimal.Decimal `json:"margin"`
}

// UpdateBudgetItem changes quantity, price or margin. A new margin without a
// price on an instance line reprices it from BOM cost.
func UpdateBudgetItem(ctx context.Context, itemId int, input *UpdateBudgetItemInput) (*BudgetItem, error) {
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	var item BudgetItem
	err := config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&item, itemId).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return utils.ErrorRecordNotFound
			}
			return err
		}
		if input.Quantity != nil {
			item.Quantity = *input.Quantity
		}
		if input.Margin != nil {
			item.Margin = input.Margin.Round(marginPlaces)
		}
		if input.UnitPrice != nil {
			item.UnitPrice = input.UnitPrice.Round(amountPlaces)
		}
		if err := tx.Omit("Instance", "Configuration").Save(&item).Error; err != nil {
			return err
		}
		if input.Margin != nil && input.UnitPrice == nil {
			return RecalculateItemPrice(tx, &item)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// SetBudgetItemParent moves the item under parentId, or to the top with nil.
func SetBudgetItemParent(ctx context.Context, itemId int, parentId *int) (*BudgetItem, error) {
	var item BudgetItem
	err := config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&item, itemId).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return utils.ErrorRecordNotFound
			}
			return err
		}
		if parentId != nil {
			if err := checkParent(tx, item.BudgetId, item.ID, *parentId); err != nil {
				return err
			}
		}
		item.ParentId = parentId
		return tx.Model(&item).UpdateColumn("parent_id", parentId).Error
	})
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// DeleteBudgetItem removes the item, its descendants and the instances they own.
func DeleteBudgetItem(ctx context.Context, itemId int) error {
	return config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var root BudgetItem
		if err := tx.First(&root, itemId).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return utils.ErrorRecordNotFound
			}
			return err
		}
		var items []BudgetItem
		if err := tx.Where("budget_id = ?", root.BudgetId).Find(&items).Error; err != nil {
			return err
		}
		doomed := descendantIds(items, root.ID)

		var instanceIds []int
		for _, it := range items {
			if doomed[it.ID] && it.InstanceId != nil {
				instanceIds = append(instanceIds, *it.InstanceId)
			}
		}
		ids := make([]int, 0, len(doomed))
		for id := range doomed {
			ids = append(ids, id)
		}
		if err := tx.Where("id IN ?", ids).Delete(&BudgetItem{}).Error; err != nil {
			return err
		}
		if len(instanceIds) > 0 {
			if err := tx.Where("instance_id IN ?", instanceIds).Delete(&InstanceComponent{}).Error; err != nil {
				return err
			}
			if err := tx.Where("instance_id IN ?", instanceIds).Delete(&InstanceAttribute{}).Error; err != nil {
				return err
			}
			if err := tx.Where("id IN ?", instanceIds).Delete(&ProductInstance{}).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// descendantIds returns rootId and every item below it.
func descendantIds(items []BudgetItem, rootId int) map[int]bool {
	children := map[int][]int{}
	for _, it := range items {
		if it.ParentId != nil {
			children[*it.ParentId] = append(children[*it.ParentId], it.ID)
		}
	}
	result := map[int]bool{}
	queue := []int{rootId}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if result[id] {
			continue
		}
		result[id] = true
		queue = append(queue, children[id]...)
	}
	return result
}

// UpdateInstanceAttributes changes attribute values of an instance line,
// re-expands its BOM (replacing the old lines) and reprices the item.
// Values not mentioned keep their current value; an empty value clears it.
func UpdateInstanceAttributes(ctx context.Context, itemId int, inputs []NewInstanceAttribute) (*ItemResult, error) {
	ctx, span := tracer.Start(ctx, "UpdateInstanceAttributes")
	span.SetAttributes(attribute.Int("budget_item_id", itemId))
	defer span.End()

	result := &ItemResult{}
	err := config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var item BudgetItem
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&item, itemId).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return utils.ErrorRecordNotFound
			}
			return err
		}
		target := item.Target()
		switch target.Kind {
		case LineItemInstance:
		case LineItemConfiguration, LineItemManual:
			return &ValidationError{Field: "item", Message: "only instance lines have attributes"}
		}

		instance, err := utils.FetchModelTx[ProductInstance](tx, target.InstanceId, "Attributes")
		if err != nil {
			return err
		}
		cfg, err := loadConfiguration(ctx, tx, instance.ConfigurationId)
		if err != nil {
			return err
		}

		merged := map[int]NewInstanceAttribute{}
		order := []int{}
		for _, a := range instance.Attributes {
			merged[a.TemplateAttributeId] = NewInstanceAttribute{TemplateAttributeId: a.TemplateAttributeId, TextValue: a.TextValue, NumValue: a.NumValue}
			order = append(order, a.TemplateAttributeId)
		}
		for _, in := range inputs {
			if _, ok := merged[in.TemplateAttributeId]; !ok {
				order = append(order, in.TemplateAttributeId)
			}
			merged[in.TemplateAttributeId] = in
		}
		combined := make([]NewInstanceAttribute, 0, len(order))
		for _, id := range order {
			combined = append(combined, merged[id])
		}
		values, err := buildInstanceAttributes(cfg.Template, combined)
		if err != nil {
			return err
		}

		if err := tx.Where("instance_id = ?", instance.ID).Delete(&InstanceAttribute{}).Error; err != nil {
			return err
		}
		for i := range values {
			values[i].InstanceId = instance.ID
			if err := tx.Omit("TemplateAttribute").Create(&values[i]).Error; err != nil {
				return err
			}
		}
		instance.Attributes = values

		expansion, err := ExpandInstance(cfg, instance)
		if err != nil {
			return err
		}
		if err := ReplaceInstanceComponents(tx, instance, expansion.Lines); err != nil {
			return err
		}
		if err := RecalculateItemPrice(tx, &item); err != nil {
			return err
		}
		instance.Configuration = cfg
		item.Instance = instance
		result.Item = &item
		result.Warnings = expansion.Warnings
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return result, nil
}

type UpdateInstanceComponentInput struct {
	Quantity            *decimal.Decimal `json:"quantity"`
	UnitCost            *decimal.Decimal `json:"unit_cost"`
	DetailedDescription *string          `json:"detailed_description"`
}

// UpdateInstanceComponent edits one BOM line by hand and reprices the items
// of its instance.
func UpdateInstanceComponent(ctx context.Context, lineId int, input *UpdateInstanceComponentInput) (*InstanceComponent, error) {
	if input.Quantity != nil && input.Quantity.IsNegative() {
		return nil, &ValidationError{Field: "quantity", Message: "must not be negative"}
	}
	if input.UnitCost != nil && input.UnitCost.IsNegative() {
		return nil, &ValidationError{Field: "unit_cost", Message: "must not be negative"}
	}
	var line InstanceComponent
	err := config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&line, lineId).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return utils.ErrorRecordNotFound
			}
			return err
		}
		updates := map[string]interface{}{}
		if input.Quantity != nil {
			line.Quantity = input.Quantity.Round(quantityPlaces)
			updates["quantity"] = line.Quantity
		}
		if input.UnitCost != nil {
			line.UnitCost = *input.UnitCost
			updates["unit_cost"] = line.UnitCost
		}
		if input.DetailedDescription != nil {
			line.DetailedDescription = input.DetailedDescription
			updates["detailed_description"] = *input.DetailedDescription
		}
		if len(updates) == 0 {
			return nil
		}
		if err := tx.Model(&line).Updates(updates).Error; err != nil {
			return err
		}

		var items []BudgetItem
		if err := tx.Where("instance_id = ?", line.InstanceId).Find(&items).Error; err != nil {
			return err
		}
		for i := range items {
			if err := RecalculateItemPrice(tx, &items[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &line, nil
}

// VersionBudget copies the budget into version+1. Instance lines get their
// own copy of configuration, instance, attribute values and BOM;
// configuration lines get their own configuration; manual lines are copied.
// Parent links are remapped onto the copies.
func VersionBudget(ctx context.Context, budgetId int) (*Budget, error) {
	ctx, span := tracer.Start(ctx, "VersionBudget")
	span.SetAttributes(attribute.Int("budget_id", budgetId))
	defer span.End()

	actor := ActorFromContext(ctx)
	var created *Budget
	err := config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := lockBudget(tx, budgetId); err != nil {
			return err
		}
		source, err := loadBudget(tx, budgetId)
		if err != nil {
			return err
		}

		version := source.Version + 1
		code := legacyCodeForVersion(source.LegacyCode, version)
		var exists int64
		if err := tx.Model(&Budget{}).Where("legacy_code = ? AND version = ?", code, version).Count(&exists).Error; err != nil {
			return err
		}
		if exists > 0 {
			return fmt.Errorf("%w version: budget %s version %d already exists", utils.ErrorDuplicate, code, version)
		}

		next := Budget{
			LegacyCode:    code,
			Version:       version,
			BaseVersion:   source.BaseVersion,
			ClientName:    source.ClientName,
			ClientType:    source.ClientType,
			ClientCode:    source.ClientCode,
			RequestDate:   source.RequestDate,
			AgentCode:     source.AgentCode,
			CreatedById:   actor.Id,
			CreatedByName: actor.Name,
		}
		if err := tx.Omit("Items").Create(&next).Error; err != nil {
			return err
		}

		// lines sharing a configuration keep sharing its copy, so the new
		// version groups the same way
		clones := map[int]*ProductConfiguration{}
		cloneOnce := func(cfg *ProductConfiguration) (*ProductConfiguration, error) {
			if clone, ok := clones[cfg.ID]; ok {
				return clone, nil
			}
			clone, err := cloneConfiguration(tx, cfg)
			if err != nil {
				return nil, err
			}
			clones[cfg.ID] = clone
			return clone, nil
		}

		newIds := make(map[int]int, len(source.Items))
		for i := range source.Items {
			original := &source.Items[i]
			copied := BudgetItem{
				BudgetId:          next.ID,
				ManualCode:        original.ManualCode,
				ManualDescription: original.ManualDescription,
				Quantity:          original.Quantity,
				UnitPrice:         original.UnitPrice,
				Margin:            original.Margin,
			}

			target := original.Target()
			switch target.Kind {
			case LineItemInstance:
				if target.Instance == nil || target.Instance.Configuration == nil {
					return fmt.Errorf("budget item %d: instance not loaded", original.ID)
				}
				cfg, err := cloneOnce(target.Instance.Configuration)
				if err != nil {
					return err
				}
				instance, err := cloneInstance(tx, target.Instance, cfg, instanceCode(cfg.Name, next.ID, original.ID))
				if err != nil {
					return err
				}
				copied.InstanceId = &instance.ID
			case LineItemConfiguration:
				if target.Configuration == nil {
					return fmt.Errorf("budget item %d: configuration not loaded", original.ID)
				}
				cfg, err := cloneOnce(target.Configuration)
				if err != nil {
					return err
				}
				copied.ConfigurationId = &cfg.ID
			case LineItemManual:
			}

			if err := tx.Omit("Instance", "Configuration").Create(&copied).Error; err != nil {
				return err
			}
			newIds[original.ID] = copied.ID
		}

		// parents may come after their children in id order, so link afterwards
		for _, original := range source.Items {
			if original.ParentId == nil {
				continue
			}
			parent, ok := newIds[*original.ParentId]
			if !ok {
				continue
			}
			if err := tx.Model(&BudgetItem{}).Where("id = ?", newIds[original.ID]).
				UpdateColumn("parent_id", parent).Error; err != nil {
				return err
			}
		}

		created, err = loadBudget(tx, next.ID)
		return err
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return created, nil
}
