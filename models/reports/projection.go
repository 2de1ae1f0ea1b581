package reports

import (
	"fmt"
	"strconv"

	"github.com/mmdatafocus/factory_backend/models"
	"github.com/mmdatafocus/factory_backend/utils"
	"github.com/shopspring/decimal"
)

// ReportLine is one priced row of a budget report.
type ReportLine struct {
	Code        string             `json:"code"`
	ItemId      int                `json:"item_id"`
	Description string             `json:"description"`
	Unit        string             `json:"unit"`
	Quantity    int                `json:"quantity"`
	UnitPrice   decimal.Decimal    `json:"unit_price"`
	Total       decimal.Decimal    `json:"total"`
	Item        *models.BudgetItem `json:"-"`
}

type ConfigurationNode struct {
	Code            string                       `json:"code"`
	ConfigurationId int                          `json:"configuration_id"`
	Description     string                       `json:"description"`
	Line            *ReportLine                  `json:"line,omitempty"`
	Instances       []*ReportLine                `json:"instances"`
	Configuration   *models.ProductConfiguration `json:"-"`
}

type CategoryNode struct {
	Code           string               `json:"code"`
	CategoryId     int                  `json:"category_id"`
	Name           string               `json:"name"`
	Configurations []*ConfigurationNode `json:"configurations"`
}

type BudgetHierarchy struct {
	Categories  []*CategoryNode `json:"categories"`
	ManualLines []*ReportLine   `json:"manual_lines"`
	GrandTotal  decimal.Decimal `json:"grand_total"`
	Warnings    []string        `json:"warnings"`
}

const uncategorized = "Uncategorized"

// HierarchyForBudget builds the hierarchy of a budget loaded by LoadBudget.
func HierarchyForBudget(budget *models.Budget) *BudgetHierarchy {
	items := make([]*models.BudgetItem, len(budget.Items))
	for i := range budget.Items {
		items[i] = &budget.Items[i]
	}
	return BuildBudgetHierarchy(items)
}

// BuildBudgetHierarchy groups items into category, configuration and
// instance levels. Codes follow first-seen order of the input, which callers
// pass in item id order.
func BuildBudgetHierarchy(items []*models.BudgetItem) *BudgetHierarchy {
	h := &BudgetHierarchy{GrandTotal: decimal.Zero}
	categories := map[int]*CategoryNode{}
	configurations := map[int]*ConfigurationNode{}

	node := func(cfg *models.ProductConfiguration) *ConfigurationNode {
		if n, ok := configurations[cfg.ID]; ok {
			return n
		}
		categoryId, categoryName := 0, uncategorized
		if cfg.Template != nil && cfg.Template.Category != nil {
			categoryId, categoryName = cfg.Template.Category.ID, cfg.Template.Category.Name
		}
		cat, ok := categories[categoryId]
		if !ok {
			cat = &CategoryNode{
				Code:       strconv.Itoa(len(h.Categories) + 1),
				CategoryId: categoryId,
				Name:       categoryName,
			}
			categories[categoryId] = cat
			h.Categories = append(h.Categories, cat)
		}
		n := &ConfigurationNode{
			Code:            fmt.Sprintf("%s.%d", cat.Code, len(cat.Configurations)+1),
			ConfigurationId: cfg.ID,
			Description:     RenderConfigurationDescription(cfg),
			Configuration:   cfg,
		}
		cat.Configurations = append(cat.Configurations, n)
		configurations[cfg.ID] = n
		return n
	}

	var manual []*models.BudgetItem
	for _, item := range items {
		h.GrandTotal = h.GrandTotal.Add(item.Total)
		target := item.Target()
		switch target.Kind {
		case models.LineItemInstance:
			if target.Instance == nil || target.Instance.Configuration == nil {
				h.Warnings = append(h.Warnings, fmt.Sprintf("item %d: instance %d not loaded", item.ID, target.InstanceId))
				manual = append(manual, item)
				continue
			}
			n := node(target.Instance.Configuration)
			line := newReportLine(item, RenderInstanceDescription(target.Instance), templateUnit(target.Instance.Configuration))
			line.Code = fmt.Sprintf("%s.%d", n.Code, len(n.Instances)+1)
			n.Instances = append(n.Instances, line)
		case models.LineItemConfiguration:
			if target.Configuration == nil {
				h.Warnings = append(h.Warnings, fmt.Sprintf("item %d: configuration %d not loaded", item.ID, target.ConfigurationId))
				manual = append(manual, item)
				continue
			}
			n := node(target.Configuration)
			if n.Line != nil {
				h.Warnings = append(h.Warnings, fmt.Sprintf("item %d: configuration %s already has a line; listed with manual items", item.ID, target.Configuration.Name))
				manual = append(manual, item)
				continue
			}
			line := newReportLine(item, n.Description, templateUnit(target.Configuration))
			line.Code = n.Code
			n.Line = line
		case models.LineItemManual:
			manual = append(manual, item)
		}
	}

	next := len(h.Categories)
	for _, item := range manual {
		next++
		line := newReportLine(item, DetailedItemDescription(item, false), "un")
		line.Code = strconv.Itoa(next)
		h.ManualLines = append(h.ManualLines, line)
	}
	return h
}

func newReportLine(item *models.BudgetItem, description string, unit string) *ReportLine {
	return &ReportLine{
		ItemId:      item.ID,
		Description: description,
		Unit:        unit,
		Quantity:    item.Quantity,
		UnitPrice:   item.UnitPrice,
		Total:       item.Total,
		Item:        item,
	}
}

func templateUnit(cfg *models.ProductConfiguration) string {
	if cfg.Template == nil || cfg.Template.Unit == "" {
		return "un"
	}
	return cfg.Template.Unit
}

// AggregatedComponent is one row of the production sheet: a component summed
// over every instance under a configuration.
type AggregatedComponent struct {
	Name        string          `json:"name"`
	Unit        string          `json:"unit"`
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
}

// AggregateComponents sums qty x item quantity per (name, unit, detailed
// description), keeping first-seen order.
func AggregateComponents(n *ConfigurationNode) []*AggregatedComponent {
	type key struct{ name, unit, description string }
	index := map[key]*AggregatedComponent{}
	var result []*AggregatedComponent
	for _, line := range n.Instances {
		if line.Item == nil || line.Item.Instance == nil {
			continue
		}
		multiplier := decimal.NewFromInt(int64(line.Item.Quantity))
		for _, c := range line.Item.Instance.Components {
			k := key{name: componentName(c), description: utils.DerefString(c.DetailedDescription)}
			if c.Component != nil {
				k.unit = c.Component.Unit
			}
			agg, ok := index[k]
			if !ok {
				agg = &AggregatedComponent{Name: k.name, Unit: k.unit, Description: k.description, Quantity: decimal.Zero}
				index[k] = agg
				result = append(result, agg)
			}
			agg.Quantity = agg.Quantity.Add(c.Quantity.Mul(multiplier))
		}
	}
	return result
}
