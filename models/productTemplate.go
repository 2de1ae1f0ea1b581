package models

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mmdatafocus/factory_backend/config"
	"github.com/mmdatafocus/factory_backend/formula"
	"github.com/mmdatafocus/factory_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type ProductTemplate struct {
	ID                          int                 `gorm:"primary_key" json:"id"`
	CategoryId                  int                 `gorm:"index;not null" json:"category_id"`
	Category                    *ProductCategory    `json:"category,omitempty"`
	Name                        string              `gorm:"size:255;not null" json:"name"`
	Unit                        string              `gorm:"size:20;default:un" json:"unit"`
	InstanceDescriptionTemplate string              `gorm:"type:text" json:"instance_description_template"`
	Attributes                  []TemplateAttribute `gorm:"foreignKey:TemplateId" json:"attributes"`
	Components                  []TemplateComponent `gorm:"foreignKey:TemplateId" json:"components"`
	CreatedAt                   time.Time           `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt                   time.Time           `gorm:"autoUpdateTime" json:"updated_at"`
}

// TemplateAttribute is an attribute rule: which attribute an instance of the
// template must (or may) carry, and where it is listed.
type TemplateAttribute struct {
	ID          int        `gorm:"primary_key" json:"id"`
	TemplateId  int        `gorm:"uniqueIndex:idx_template_attribute;not null" json:"template_id"`
	AttributeId int        `gorm:"uniqueIndex:idx_template_attribute;not null" json:"attribute_id"`
	Attribute   *Attribute `json:"attribute,omitempty"`
	IsRequired  *bool      `gorm:"not null;default:true" json:"is_required"`
	Sequence    int        `gorm:"default:0" json:"sequence"`
}

// TemplateComponent is a component rule. Quantity is
// (fixed + formula) * (1 + loss factor).
type TemplateComponent struct {
	ID                 int                `gorm:"primary_key" json:"id"`
	TemplateId         int                `gorm:"uniqueIndex:idx_template_component;not null" json:"template_id"`
	ComponentId        int                `gorm:"uniqueIndex:idx_template_component;not null" json:"component_id"`
	Component          *Component         `json:"component,omitempty"`
	FixedQuantity      *decimal.Decimal   `gorm:"type:decimal(20,4)" json:"fixed_quantity"`
	RelatedAttributeId *int               `gorm:"index" json:"related_attribute_id"`
	RelatedAttribute   *TemplateAttribute `gorm:"foreignKey:RelatedAttributeId" json:"related_attribute,omitempty"`
	Formula            string             `gorm:"type:text" json:"formula"`
	LossFactor         decimal.Decimal    `gorm:"type:decimal(10,4);default:0" json:"loss_factor"`
	Sequence           int                `gorm:"default:0" json:"sequence"`
}

var templatePreloads = []string{
	"Category", "Attributes.Attribute", "Components.Component", "Components.RelatedAttribute.Attribute",
}

type NewTemplateAttribute struct {
	AttributeId int   `json:"attribute_id" validate:"required"`
	IsRequired  *bool `json:"is_required"`
	Sequence    int   `json:"sequence"`
}

type NewTemplateComponent struct {
	ComponentId      int              `json:"component_id" validate:"required"`
	FixedQuantity    *decimal.Decimal `json:"fixed_quantity"`
	RelatedAttribute *int             `json:"related_attribute_id"` // attribute id, resolved to its rule
	Formula          string           `json:"formula"`
	LossFactor       decimal.Decimal  `json:"loss_factor"`
	Sequence         int              `json:"sequence"`
}

type NewProductTemplate struct {
	CategoryId                  int                    `json:"category_id" validate:"required"`
	Name                        string                 `json:"name" validate:"required,max=255"`
	Unit                        string                 `json:"unit" validate:"omitempty,max=20"`
	InstanceDescriptionTemplate string                 `json:"instance_description_template"`
	Attributes                  []NewTemplateAttribute `json:"attributes" validate:"dive"`
	Components                  []NewTemplateComponent `json:"components" validate:"dive"`
}

func (input *NewProductTemplate) validate(ctx context.Context) error {
	input.Name = strings.TrimSpace(input.Name)
	if err := utils.ValidateStruct(input); err != nil {
		return err
	}
	if err := utils.ValidateResourceId[ProductCategory](ctx, input.CategoryId); err != nil {
		return utils.NotFound("product category")
	}

	attributeIds := make([]int, 0, len(input.Attributes))
	seen := map[int]bool{}
	for _, a := range input.Attributes {
		if seen[a.AttributeId] {
			return &ValidationError{Field: "attributes", Message: "attribute listed twice"}
		}
		seen[a.AttributeId] = true
		attributeIds = append(attributeIds, a.AttributeId)
	}
	if err := utils.ValidateResourcesId[Attribute](ctx, attributeIds); err != nil {
		return utils.NotFound("attribute")
	}
	var attributes []Attribute
	if len(attributeIds) > 0 {
		if err := config.GetDB().WithContext(ctx).Where("id IN ?", attributeIds).Find(&attributes).Error; err != nil {
			return err
		}
	}
	identifiers := make(map[string]bool, len(attributes))
	for _, a := range attributes {
		identifiers[NormalizeAttributeName(a.Name)] = true
	}

	componentIds := make([]int, 0, len(input.Components))
	seenComponent := map[int]bool{}
	for _, c := range input.Components {
		if seenComponent[c.ComponentId] {
			return &ValidationError{Field: "components", Message: "component listed twice"}
		}
		seenComponent[c.ComponentId] = true
		componentIds = append(componentIds, c.ComponentId)
		if c.RelatedAttribute != nil && !seen[*c.RelatedAttribute] {
			return &ValidationError{Field: "related_attribute_id", Message: "must be one of the template attributes"}
		}
		if c.LossFactor.IsNegative() {
			return &ValidationError{Field: "loss_factor", Message: "must not be negative"}
		}
		if err := checkRuleFormula(c.Formula, identifiers, c.RelatedAttribute != nil); err != nil {
			return err
		}
	}
	if err := utils.ValidateResourcesId[Component](ctx, componentIds); err != nil {
		return utils.NotFound("component")
	}
	return nil
}

// checkRuleFormula compiles a component rule's formula and checks that it
// only reads the template's attributes, plus valor_atributo when the rule
// has a related attribute. An empty formula is fine.
func checkRuleFormula(raw string, identifiers map[string]bool, hasRelated bool) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	expr, err := formula.Compile(raw)
	if err != nil {
		return err
	}
	for _, name := range expr.Variables() {
		if identifiers[name] || (hasRelated && name == relatedAttributeVariable) {
			continue
		}
		return &ValidationError{Field: "formula", Message: fmt.Sprintf("%q reads %q, which is not an attribute of the template", raw, name)}
	}
	return nil
}

func CreateProductTemplate(ctx context.Context, input *NewProductTemplate) (*ProductTemplate, error) {

	if err := input.validate(ctx); err != nil {
		return nil, err
	}

	template := ProductTemplate{
		CategoryId:                  input.CategoryId,
		Name:                        input.Name,
		Unit:                        input.Unit,
		InstanceDescriptionTemplate: input.InstanceDescriptionTemplate,
	}
	if template.Unit == "" {
		template.Unit = "un"
	}

	db := config.GetDB()
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&template).Error; err != nil {
			return err
		}

		ruleByAttribute := make(map[int]int, len(input.Attributes))
		for _, a := range input.Attributes {
			rule := TemplateAttribute{
				TemplateId:  template.ID,
				AttributeId: a.AttributeId,
				IsRequired:  a.IsRequired,
				Sequence:    a.Sequence,
			}
			if rule.IsRequired == nil {
				rule.IsRequired = utils.NewTrue()
			}
			if err := tx.Create(&rule).Error; err != nil {
				return err
			}
			ruleByAttribute[a.AttributeId] = rule.ID
			template.Attributes = append(template.Attributes, rule)
		}

		for _, c := range input.Components {
			rule := TemplateComponent{
				TemplateId:    template.ID,
				ComponentId:   c.ComponentId,
				FixedQuantity: c.FixedQuantity,
				Formula:       strings.TrimSpace(c.Formula),
				LossFactor:    c.LossFactor,
				Sequence:      c.Sequence,
			}
			if c.RelatedAttribute != nil {
				ruleId := ruleByAttribute[*c.RelatedAttribute]
				rule.RelatedAttributeId = &ruleId
			}
			if err := tx.Create(&rule).Error; err != nil {
				return err
			}
			template.Components = append(template.Components, rule)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &template, nil
}

func GetProductTemplate(ctx context.Context, id int) (*ProductTemplate, error) {
	return GetResource[ProductTemplate](ctx, id, templatePreloads...)
}

func GetProductTemplates(ctx context.Context, categoryId *int) ([]*ProductTemplate, error) {
	db := config.GetDB()
	var results []*ProductTemplate
	dbCtx := db.WithContext(ctx).Preload("Category")
	if categoryId != nil && *categoryId > 0 {
		dbCtx = dbCtx.Where("category_id = ?", *categoryId)
	}
	if err := dbCtx.Order("name").Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

// rules in declared order: sequence, then id
func (t *ProductTemplate) OrderedComponents() []TemplateComponent {
	rules := append([]TemplateComponent(nil), t.Components...)
	sortBySequence(rules, func(r TemplateComponent) (int, int) { return r.Sequence, r.ID })
	return rules
}

func (t *ProductTemplate) OrderedAttributes() []TemplateAttribute {
	rules := append([]TemplateAttribute(nil), t.Attributes...)
	sortBySequence(rules, func(r TemplateAttribute) (int, int) { return r.Sequence, r.ID })
	return rules
}

func (r TemplateAttribute) AttributeName() string {
	if r.Attribute == nil {
		return ""
	}
	return r.Attribute.Name
}

func (r TemplateComponent) ComponentName() string {
	if r.Component == nil {
		return ""
	}
	return r.Component.Name
}
