package reports

import (
	"fmt"
	"strings"

	"github.com/mmdatafocus/factory_backend/models"
	"github.com/shopspring/decimal"
)

// renderTemplate substitutes {{ name }} and {{ group.name }} placeholders.
// Unknown names render empty; anything malformed is a TemplateRenderError.
func renderTemplate(tpl string, vars map[string]any) (string, error) {
	var b strings.Builder
	rest := tpl
	for {
		open := strings.Index(rest, "{{")
		block := strings.Index(rest, "{%")
		if block >= 0 && (open < 0 || block < open) {
			return "", &models.TemplateRenderError{Template: tpl, Reason: "block tags are not supported"}
		}
		if open < 0 {
			if strings.Contains(rest, "}}") {
				return "", &models.TemplateRenderError{Template: tpl, Reason: "unexpected }}"}
			}
			b.WriteString(rest)
			return b.String(), nil
		}
		b.WriteString(rest[:open])
		rest = rest[open+2:]
		end := strings.Index(rest, "}}")
		if end < 0 {
			return "", &models.TemplateRenderError{Template: tpl, Reason: "unclosed {{"}
		}
		path := strings.TrimSpace(rest[:end])
		rest = rest[end+2:]
		if strings.Contains(path, "{{") {
			return "", &models.TemplateRenderError{Template: tpl, Reason: "nested {{"}
		}
		if !validPath(path) {
			return "", &models.TemplateRenderError{Template: tpl, Reason: fmt.Sprintf("invalid placeholder %q", path)}
		}
		b.WriteString(lookup(vars, strings.Split(path, ".")))
	}
}

func validPath(path string) bool {
	if path == "" {
		return false
	}
	for _, part := range strings.Split(path, ".") {
		if part == "" {
			return false
		}
		for _, r := range part {
			if !(r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')) {
				return false
			}
		}
	}
	return true
}

func lookup(vars map[string]any, parts []string) string {
	var current any = vars
	for _, part := range parts {
		m, ok := current.(map[string]any)
		if !ok {
			return ""
		}
		if current, ok = m[part]; !ok {
			return ""
		}
	}
	switch v := current.(type) {
	case nil:
		return ""
	case string:
		return v
	case decimal.Decimal:
		return formatNumber(v)
	case map[string]any:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// integral values print without decimals
func formatNumber(d decimal.Decimal) string {
	if d.IsInteger() {
		return d.Truncate(0).String()
	}
	return d.String()
}

// RenderInstanceDescription describes an instance line from its template's
// instance description and attribute values. Failures are returned inline.
func RenderInstanceDescription(instance *models.ProductInstance) string {
	if instance == nil || instance.Configuration == nil || instance.Configuration.Template == nil {
		return "[ERROR IN INSTANCE TEMPLATE: instance not loaded]"
	}
	tpl := instance.Configuration.Template.InstanceDescriptionTemplate
	if strings.TrimSpace(tpl) == "" || !strings.Contains(tpl, "{{") {
		return attributeSummary(instance.Attributes)
	}

	vars := map[string]any{}
	for _, a := range instance.Attributes {
		if a.TemplateAttribute == nil || a.TemplateAttribute.Attribute == nil {
			continue
		}
		name := models.NormalizeAttributeName(a.TemplateAttribute.Attribute.Name)
		if name == "" {
			continue
		}
		if a.TemplateAttribute.Attribute.Type == models.AttributeTypeNumeric {
			if a.NumValue != nil {
				vars[name] = *a.NumValue
			}
			continue
		}
		if a.TextValue != nil {
			vars[name] = *a.TextValue
		}
	}
	out, err := renderTemplate(tpl, vars)
	if err != nil {
		return fmt.Sprintf("[ERROR IN INSTANCE TEMPLATE: %s]", err.Error())
	}
	return out
}

// attributeSummary is "<texts> (WxH)mm" built from the attribute values.
func attributeSummary(values []models.InstanceAttribute) string {
	texts, numbers := attributeParts(values)
	description := strings.Join(texts, " ")
	if len(numbers) > 0 {
		description += fmt.Sprintf(" (%s)mm", strings.Join(numbers, "x"))
	}
	return strings.TrimSpace(description)
}

// numeric values are cast to integers
func attributeParts(values []models.InstanceAttribute) (texts []string, numbers []string) {
	for _, a := range values {
		if a.TemplateAttribute == nil || a.TemplateAttribute.Attribute == nil {
			continue
		}
		if a.TemplateAttribute.Attribute.Type == models.AttributeTypeNumeric {
			if a.NumValue != nil {
				numbers = append(numbers, a.NumValue.Truncate(0).String())
			}
			continue
		}
		if a.TextValue != nil && strings.TrimSpace(*a.TextValue) != "" {
			texts = append(texts, *a.TextValue)
		}
	}
	return texts, numbers
}

// RenderConfigurationDescription fills {{ componentes.<component> }} with the
// chosen component of each rule.
func RenderConfigurationDescription(cfg *models.ProductConfiguration) string {
	if cfg == nil {
		return "[ERROR IN CONFIGURATION TEMPLATE: configuration not loaded]"
	}
	tpl := cfg.DescriptionTemplate
	if strings.TrimSpace(tpl) == "" || !strings.Contains(tpl, "{{") {
		return cfg.Name
	}
	components := map[string]any{}
	for _, choice := range cfg.Choices {
		if choice.TemplateComponent == nil || choice.TemplateComponent.Component == nil {
			continue
		}
		key := models.NormalizeAttributeName(choice.TemplateComponent.Component.Name)
		if key == "" {
			continue
		}
		if choice.CustomDescription != nil && *choice.CustomDescription != "" {
			components[key] = *choice.CustomDescription
		} else if choice.Component != nil {
			components[key] = choice.Component.Name
		}
	}
	out, err := renderTemplate(tpl, map[string]any{"componentes": components})
	if err != nil {
		return fmt.Sprintf("[ERROR IN CONFIGURATION TEMPLATE: %s]", err.Error())
	}
	return out
}

// DetailedItemDescription is the long text of a line: name, attribute suffix
// and component list. Unit costs are left out on the production sheet.
func DetailedItemDescription(item *models.BudgetItem, withCosts bool) string {
	var name string
	var b strings.Builder

	target := item.Target()
	switch target.Kind {
	case models.LineItemInstance:
		instance := target.Instance
		if instance == nil || instance.Configuration == nil {
			name = fmt.Sprintf("Instance %d", target.InstanceId)
			break
		}
		name = instance.Configuration.Name
		texts, numbers := attributeParts(instance.Attributes)
		if len(texts) > 0 {
			name += " - " + strings.Join(texts, " ")
		}
		if len(numbers) > 0 {
			name += fmt.Sprintf(" (%s)mm", strings.Join(numbers, "x"))
		}
		b.WriteString("\n--- Components ---\n")
		for _, line := range instance.Components {
			unit := ""
			if line.Component != nil {
				unit = line.Component.Unit
			}
			b.WriteString(fmt.Sprintf("- %s: %s %s", componentName(line), line.Quantity.String(), unit))
			if withCosts {
				b.WriteString(fmt.Sprintf(" (Unit cost: %s)", line.UnitCost.StringFixed(4)))
			}
			b.WriteString("\n")
			if line.DetailedDescription != nil && *line.DetailedDescription != "" {
				b.WriteString("  Details: " + *line.DetailedDescription + "\n")
			}
		}
	case models.LineItemConfiguration:
		cfg := target.Configuration
		if cfg == nil {
			name = fmt.Sprintf("Configuration %d", target.ConfigurationId)
			break
		}
		name = cfg.Name
		if cfg.Template != nil {
			b.WriteString("\n--- Components (default) ---\n")
			for _, rule := range cfg.Template.OrderedComponents() {
				chosen := rule.ComponentName()
				if choice := cfg.ChoiceFor(rule.ID); choice != nil && choice.Component != nil {
					chosen = choice.Component.Name
				}
				qty := "Variable"
				if rule.FixedQuantity != nil {
					qty = rule.FixedQuantity.String()
				}
				unit := ""
				if rule.Component != nil {
					unit = rule.Component.Unit
				}
				b.WriteString(fmt.Sprintf("- %s: %s %s\n", chosen, qty, unit))
			}
		}
	case models.LineItemManual:
		name = target.Description
		if name == "" {
			name = "Generic budget item"
		}
	}

	if item.ManualCode != nil && *item.ManualCode != "" {
		name = *item.ManualCode + " - " + name
	}
	return name + b.String()
}

func componentName(line models.InstanceComponent) string {
	if line.Component != nil {
		return line.Component.Name
	}
	return fmt.Sprintf("component %d", line.ComponentId)
}
