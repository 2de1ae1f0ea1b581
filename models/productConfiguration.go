package models

import (
	"context"
	"strings"
	"time"

	"github.com/mmdatafocus/factory_backend/config"
	"github.com/mmdatafocus/factory_backend/utils"
	"gorm.io/gorm"
)

// ProductConfiguration fixes which real component stands in for each
// generic component rule of a template.
type ProductConfiguration struct {
	ID                  int               `gorm:"primary_key" json:"id"`
	TemplateId          int               `gorm:"index;not null" json:"template_id"`
	Template            *ProductTemplate  `json:"template,omitempty"`
	Name                string            `gorm:"size:255;not null" json:"name"`
	DescriptionTemplate string            `gorm:"type:text" json:"description_template"`
	Choices             []ComponentChoice `gorm:"foreignKey:ConfigurationId" json:"choices"`
	CreatedAt           time.Time         `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time         `gorm:"autoUpdateTime" json:"updated_at"`
}

type ComponentChoice struct {
	ID                  int                `gorm:"primary_key" json:"id"`
	ConfigurationId     int                `gorm:"uniqueIndex:idx_configuration_rule;not null" json:"configuration_id"`
	TemplateComponentId int                `gorm:"uniqueIndex:idx_configuration_rule;not null" json:"template_component_id"`
	TemplateComponent   *TemplateComponent `json:"template_component,omitempty"`
	ComponentId         int                `gorm:"index;not null" json:"component_id"`
	Component           *Component         `json:"component,omitempty"`
	CustomDescription   *string            `gorm:"type:text" json:"custom_description"`
}

type NewComponentChoice struct {
	TemplateComponentId int     `json:"template_component_id" validate:"required"`
	ComponentId         int     `json:"component_id" validate:"required"`
	CustomDescription   *string `json:"custom_description"`
}

type NewProductConfiguration struct {
	TemplateId          int                  `json:"template_id" validate:"required"`
	Name                string               `json:"name" validate:"required,max=255"`
	DescriptionTemplate string               `json:"description_template"`
	Choices             []NewComponentChoice `json:"choices" validate:"dive"`
}

// preloads needed to expand or describe a configuration
var configurationPreloads = []string{
	"Choices.Component",
	"Choices.TemplateComponent.Component",
}

func (input *NewProductConfiguration) validate(ctx context.Context) error {
	input.Name = strings.TrimSpace(input.Name)
	if err := utils.ValidateStruct(input); err != nil {
		return err
	}
	if err := utils.ValidateResourceId[ProductTemplate](ctx, input.TemplateId); err != nil {
		return utils.NotFound("product template")
	}
	// names are unique per template when authored; budget versions clone with the same name
	if err := utils.ValidateUnique[ProductConfiguration](ctx, "name", input.Name, 0, "template_id = ?", input.TemplateId); err != nil {
		return err
	}

	componentIds := make([]int, 0, len(input.Choices))
	seen := map[int]bool{}
	for _, c := range input.Choices {
		if seen[c.TemplateComponentId] {
			return &DuplicateChoiceError{TemplateComponentId: c.TemplateComponentId}
		}
		seen[c.TemplateComponentId] = true
		componentIds = append(componentIds, c.ComponentId)
	}
	if err := utils.ValidateResourcesId[Component](ctx, componentIds); err != nil {
		return utils.NotFound("component")
	}
	if len(seen) > 0 {
		ruleIds := make([]int, 0, len(seen))
		for id := range seen {
			ruleIds = append(ruleIds, id)
		}
		count, err := utils.ResourceCountWhere[TemplateComponent](ctx, "template_id = ? AND id IN ?", input.TemplateId, ruleIds)
		if err != nil {
			return err
		}
		if count != int64(len(ruleIds)) {
			return &ValidationError{Field: "template_component_id", Message: "rule does not belong to the template"}
		}
	}
	return nil
}

func CreateProductConfiguration(ctx context.Context, input *NewProductConfiguration) (*ProductConfiguration, error) {

	if err := input.validate(ctx); err != nil {
		return nil, err
	}

	cfg := ProductConfiguration{
		TemplateId:          input.TemplateId,
		Name:                input.Name,
		DescriptionTemplate: input.DescriptionTemplate,
	}
	for _, c := range input.Choices {
		cfg.Choices = append(cfg.Choices, ComponentChoice{
			TemplateComponentId: c.TemplateComponentId,
			ComponentId:         c.ComponentId,
			CustomDescription:   c.CustomDescription,
		})
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&cfg).Error; err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SetComponentChoice adds a choice for a rule that has none yet.
func SetComponentChoice(ctx context.Context, configurationId int, input *NewComponentChoice) (*ComponentChoice, error) {
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	cfg, err := utils.FetchModel[ProductConfiguration](ctx, configurationId)
	if err != nil {
		return nil, err
	}
	count, err := utils.ResourceCountWhere[TemplateComponent](ctx, "template_id = ? AND id = ?", cfg.TemplateId, input.TemplateComponentId)
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, &ValidationError{Field: "template_component_id", Message: "rule does not belong to the template"}
	}
	if err := utils.ValidateResourceId[Component](ctx, input.ComponentId); err != nil {
		return nil, utils.NotFound("component")
	}

	choice := ComponentChoice{
		ConfigurationId:     configurationId,
		TemplateComponentId: input.TemplateComponentId,
		ComponentId:         input.ComponentId,
		CustomDescription:   input.CustomDescription,
	}
	db := config.GetDB()
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing int64
		if err := tx.Model(&ComponentChoice{}).
			Where("configuration_id = ? AND template_component_id = ?", configurationId, input.TemplateComponentId).
			Count(&existing).Error; err != nil {
			return err
		}
		if existing > 0 {
			return &DuplicateChoiceError{ConfigurationId: configurationId, TemplateComponentId: input.TemplateComponentId}
		}
		return tx.Create(&choice).Error
	})
	if err != nil {
		return nil, err
	}
	return &choice, nil
}

// LoadConfiguration returns the configuration with its template rules and
// choices, ready for expansion.
func LoadConfiguration(ctx context.Context, id int) (*ProductConfiguration, error) {
	return loadConfiguration(ctx, config.GetDB().WithContext(ctx), id)
}

func loadConfiguration(ctx context.Context, tx *gorm.DB, id int) (*ProductConfiguration, error) {
	cfg, err := utils.FetchModelTx[ProductConfiguration](tx, id, configurationPreloads...)
	if err != nil {
		return nil, err
	}
	cfg.Template, err = GetProductTemplate(ctx, cfg.TemplateId)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// ChoiceFor returns the choice made for the rule, or nil.
func (c *ProductConfiguration) ChoiceFor(ruleId int) *ComponentChoice {
	for i := range c.Choices {
		if c.Choices[i].TemplateComponentId == ruleId {
			return &c.Choices[i]
		}
	}
	return nil
}

// cloneConfiguration copies the configuration and its choices inside tx.
func cloneConfiguration(tx *gorm.DB, source *ProductConfiguration) (*ProductConfiguration, error) {
	clone := ProductConfiguration{
		TemplateId:          source.TemplateId,
		Name:                source.Name,
		DescriptionTemplate: source.DescriptionTemplate,
	}
	for _, c := range source.Choices {
		clone.Choices = append(clone.Choices, ComponentChoice{
			TemplateComponentId: c.TemplateComponentId,
			ComponentId:         c.ComponentId,
			CustomDescription:   c.CustomDescription,
		})
	}
	if err := tx.Create(&clone).Error; err != nil {
		return nil, err
	}
	return &clone, nil
}
