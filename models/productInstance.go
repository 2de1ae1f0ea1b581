package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ProductInstance is one concrete product of a configuration with its own
// attribute values and bill of materials.
type ProductInstance struct {
	ID              int                   `gorm:"primary_key" json:"id"`
	ConfigurationId int                   `gorm:"index;not null" json:"configuration_id"`
	Configuration   *ProductConfiguration `json:"configuration,omitempty"`
	Code            string                `gorm:"index;size:255;not null" json:"code"`
	Quantity        int                   `gorm:"not null;default:1" json:"quantity"`
	Attributes      []InstanceAttribute   `gorm:"foreignKey:InstanceId" json:"attributes"`
	Components      []InstanceComponent   `gorm:"foreignKey:InstanceId" json:"components"`
	CreatedAt       time.Time             `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time             `gorm:"autoUpdateTime" json:"updated_at"`
}

type InstanceAttribute struct {
	ID                  int                `gorm:"primary_key" json:"id"`
	InstanceId          int                `gorm:"uniqueIndex:idx_instance_attribute;not null" json:"instance_id"`
	TemplateAttributeId int                `gorm:"uniqueIndex:idx_instance_attribute;not null" json:"template_attribute_id"`
	TemplateAttribute   *TemplateAttribute `json:"template_attribute,omitempty"`
	TextValue           *string            `gorm:"type:text" json:"text_value"`
	NumValue            *decimal.Decimal   `gorm:"type:decimal(20,4)" json:"num_value"`
}

// InstanceComponent is a BOM line. UnitCost is a snapshot taken when the line
// was expanded.
type InstanceComponent struct {
	ID                  int             `gorm:"primary_key" json:"id"`
	InstanceId          int             `gorm:"uniqueIndex:idx_instance_component;not null" json:"instance_id"`
	ComponentId         int             `gorm:"uniqueIndex:idx_instance_component;not null" json:"component_id"`
	Component           *Component      `json:"component,omitempty"`
	Quantity            decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"quantity"`
	UnitCost            decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"unit_cost"`
	DetailedDescription *string         `gorm:"type:text" json:"detailed_description"`
}

type NewInstanceAttribute struct {
	TemplateAttributeId int              `json:"template_attribute_id" validate:"required"`
	TextValue           *string          `json:"text_value"`
	NumValue            *decimal.Decimal `json:"num_value"`
}

var instancePreloads = []string{
	"Attributes.TemplateAttribute.Attribute",
	"Components.Component",
}

func (c InstanceComponent) Total() decimal.Decimal {
	return c.Quantity.Mul(c.UnitCost)
}

func (c InstanceComponent) Description() string {
	if c.DetailedDescription != nil && *c.DetailedDescription != "" {
		return *c.DetailedDescription
	}
	if c.Component != nil {
		return c.Component.Name
	}
	return ""
}

// buildInstanceAttributes checks the values against the template's attribute
// rules. Values for unknown rules are rejected; required rules must be given.
func buildInstanceAttributes(template *ProductTemplate, inputs []NewInstanceAttribute) ([]InstanceAttribute, error) {
	rules := make(map[int]*TemplateAttribute, len(template.Attributes))
	for i := range template.Attributes {
		rules[template.Attributes[i].ID] = &template.Attributes[i]
	}

	given := map[int]bool{}
	values := make([]InstanceAttribute, 0, len(inputs))
	for _, in := range inputs {
		rule, ok := rules[in.TemplateAttributeId]
		if !ok {
			return nil, &ValidationError{Field: "template_attribute_id", Message: fmt.Sprintf("%d is not an attribute of template %s", in.TemplateAttributeId, template.Name)}
		}
		if given[rule.ID] {
			return nil, &ValidationError{Field: "attributes", Message: rule.AttributeName() + " given twice"}
		}
		value, err := coerceAttributeInput(rule, in)
		if err != nil {
			return nil, err
		}
		if value.isEmpty() {
			continue
		}
		given[rule.ID] = true
		value.TemplateAttribute = rule
		values = append(values, value)
	}

	for _, rule := range template.OrderedAttributes() {
		if rule.IsRequired != nil && *rule.IsRequired && !given[rule.ID] {
			return nil, &ValidationError{Field: "attributes", Message: rule.AttributeName() + " is required"}
		}
	}
	return values, nil
}

func coerceAttributeInput(rule *TemplateAttribute, in NewInstanceAttribute) (InstanceAttribute, error) {
	value := InstanceAttribute{TemplateAttributeId: rule.ID}
	if in.NumValue != nil && in.TextValue != nil && strings.TrimSpace(*in.TextValue) != "" {
		return value, &ValidationError{Field: rule.AttributeName(), Message: "give either a number or a text, not both"}
	}

	isNumeric := rule.Attribute != nil && rule.Attribute.Type == AttributeTypeNumeric
	switch {
	case isNumeric && in.NumValue != nil:
		num := *in.NumValue
		value.NumValue = &num
	case isNumeric && in.TextValue != nil:
		text := strings.TrimSpace(*in.TextValue)
		if text == "" {
			break
		}
		num, ok := ParseDecimalText(text)
		if !ok {
			return value, &ValidationError{Field: rule.AttributeName(), Message: fmt.Sprintf("%q is not a number", text)}
		}
		value.NumValue = &num
	case in.TextValue != nil:
		text := strings.TrimSpace(*in.TextValue)
		if text != "" {
			value.TextValue = &text
		}
	case in.NumValue != nil:
		text := in.NumValue.String()
		value.TextValue = &text
	}
	return value, nil
}

func (v InstanceAttribute) isEmpty() bool {
	return v.NumValue == nil && (v.TextValue == nil || *v.TextValue == "")
}

// ReplaceInstanceComponents swaps the instance's BOM for lines inside tx.
func ReplaceInstanceComponents(tx *gorm.DB, instance *ProductInstance, lines []InstanceComponent) error {
	if err := tx.Where("instance_id = ?", instance.ID).Delete(&InstanceComponent{}).Error; err != nil {
		return err
	}
	for i := range lines {
		lines[i].ID = 0
		lines[i].InstanceId = instance.ID
	}
	if len(lines) > 0 {
		if err := tx.Omit("Component").Create(&lines).Error; err != nil {
			return err
		}
	}
	instance.Components = lines
	return nil
}

func instanceCode(configurationName string, budgetId int, n int) string {
	return fmt.Sprintf("%s-%d-%d", configurationName, budgetId, n)
}

// cloneInstance copies instance, attribute values and BOM lines onto cfg.
func cloneInstance(tx *gorm.DB, source *ProductInstance, cfg *ProductConfiguration, code string) (*ProductInstance, error) {
	clone := ProductInstance{
		ConfigurationId: cfg.ID,
		Code:            code,
		Quantity:        source.Quantity,
	}
	if err := tx.Omit("Attributes", "Components", "Configuration").Create(&clone).Error; err != nil {
		return nil, err
	}

	for _, a := range source.Attributes {
		value := InstanceAttribute{
			InstanceId:          clone.ID,
			TemplateAttributeId: a.TemplateAttributeId,
			TextValue:           a.TextValue,
			NumValue:            a.NumValue,
		}
		if err := tx.Omit("TemplateAttribute").Create(&value).Error; err != nil {
			return nil, err
		}
		value.TemplateAttribute = a.TemplateAttribute
		clone.Attributes = append(clone.Attributes, value)
	}

	lines := make([]InstanceComponent, 0, len(source.Components))
	for _, c := range source.Components {
		lines = append(lines, InstanceComponent{
			ComponentId:         c.ComponentId,
			Component:           c.Component,
			Quantity:            c.Quantity,
			UnitCost:            c.UnitCost,
			DetailedDescription: c.DetailedDescription,
		})
	}
	if err := ReplaceInstanceComponents(tx, &clone, lines); err != nil {
		return nil, err
	}
	clone.Configuration = cfg
	return &clone, nil
}
