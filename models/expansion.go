package models

import (
	"errors"
	"fmt"

	"github.com/mmdatafocus/factory_backend/formula"
	"github.com/shopspring/decimal"
)

// variable bound to the related attribute's value when a rule names one
const relatedAttributeVariable = "valor_atributo"

const quantityPlaces = 4

type ExpansionResult struct {
	Lines    []InstanceComponent `json:"lines"`
	Warnings []string            `json:"warnings"`
}

// ExpandInstance computes the bill of materials of instance from the rules of
// cfg's template and cfg's component choices. cfg must carry its template (with
// attribute and component rules) and its choices with real components;
// instance must carry its attribute values with their rules.
//
// Rule problems (bad formula, missing choice, negative result) become warnings
// and the rest of the BOM is still produced. An attribute name collision is an
// error.
func ExpandInstance(cfg *ProductConfiguration, instance *ProductInstance) (*ExpansionResult, error) {
	if cfg == nil || cfg.Template == nil {
		return nil, errors.New("configuration template not loaded")
	}
	vars, err := ResolveAttributes(instance.Attributes)
	if err != nil {
		return nil, err
	}

	result := &ExpansionResult{Warnings: []string{}}
	lineIndex := map[int]int{} // component id -> index in result.Lines

	for _, rule := range cfg.Template.OrderedComponents() {
		qty, warnings := ruleQuantity(rule, instance, vars)
		result.Warnings = append(result.Warnings, warnings...)

		choice := cfg.ChoiceFor(rule.ID)
		if choice == nil || choice.Component == nil {
			missing := &MissingComponentChoiceError{ConfigurationName: cfg.Name, ComponentName: rule.ComponentName()}
			result.Warnings = append(result.Warnings, missing.Error())
			continue
		}

		if i, ok := lineIndex[choice.ComponentId]; ok {
			result.Lines[i].Quantity = result.Lines[i].Quantity.Add(qty)
			continue
		}

		description := choice.Component.Name
		if choice.CustomDescription != nil && *choice.CustomDescription != "" {
			description = *choice.CustomDescription
		}
		lineIndex[choice.ComponentId] = len(result.Lines)
		result.Lines = append(result.Lines, InstanceComponent{
			InstanceId:          instance.ID,
			ComponentId:         choice.ComponentId,
			Component:           choice.Component,
			Quantity:            qty,
			UnitCost:            choice.Component.UnitCost,
			DetailedDescription: &description,
		})
	}

	for i := range result.Lines {
		result.Lines[i].Quantity = result.Lines[i].Quantity.Round(quantityPlaces)
	}
	return result, nil
}

// ruleQuantity is (formula + fixed) * (1 + loss), never negative.
func ruleQuantity(rule TemplateComponent, instance *ProductInstance, vars formula.Vars) (decimal.Decimal, []string) {
	var warnings []string
	qty := decimal.Zero

	if rule.Formula != "" {
		scope := vars
		if rule.RelatedAttributeId != nil {
			scope = make(formula.Vars, len(vars)+1)
			for k, v := range vars {
				scope[k] = v
			}
			scope[relatedAttributeVariable] = relatedAttributeValue(*rule.RelatedAttributeId, instance)
		}
		v, err := formula.Evaluate(rule.Formula, scope)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("component %s: %v; using 0", rule.ComponentName(), err))
		} else {
			qty = v
		}
	}

	if rule.FixedQuantity != nil {
		qty = qty.Add(*rule.FixedQuantity)
	}
	qty = qty.Mul(decimal.NewFromInt(1).Add(rule.LossFactor))

	if qty.IsNegative() {
		warnings = append(warnings, fmt.Sprintf("component %s: quantity %s is negative; using 0", rule.ComponentName(), qty.String()))
		qty = decimal.Zero
	}
	return qty, warnings
}

// value of the related attribute rule, 0 when the instance has none
func relatedAttributeValue(ruleId int, instance *ProductInstance) formula.Value {
	for _, a := range instance.Attributes {
		if a.TemplateAttributeId != ruleId {
			continue
		}
		if v, ok := a.FormulaValue(); ok {
			return v
		}
	}
	return formula.NumberFromInt(0)
}
