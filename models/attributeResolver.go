package models

import (
	"regexp"
	"sort"
	"strings"
	"unicode"

	"github.com/mmdatafocus/factory_backend/formula"
	"github.com/shopspring/decimal"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var nonIdentifierRun = regexp.MustCompile(`[^a-z0-9]+`)

// NormalizeAttributeName turns a display name such as "Altura (mm)" into the
// identifier formulas use ("altura_mm").
func NormalizeAttributeName(name string) string {
	return strings.Trim(nonIdentifierRun.ReplaceAllString(stripAccents(strings.ToLower(name)), "_"), "_")
}

func stripAccents(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// ParseDecimalText accepts both "1.5" and "1,5".
func ParseDecimalText(s string) (decimal.Decimal, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(strings.Replace(s, ",", ".", 1))
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

// ResolveAttributes builds the formula variables of an instance. The
// attribute rules (and their attributes) must be preloaded.
func ResolveAttributes(values []InstanceAttribute) (formula.Vars, error) {
	if err := checkAttributeCollisions(values); err != nil {
		return nil, err
	}

	vars := formula.Vars{}
	for _, v := range values {
		if v.TemplateAttribute == nil || v.TemplateAttribute.Attribute == nil {
			continue
		}
		identifier := NormalizeAttributeName(v.TemplateAttribute.Attribute.Name)
		if identifier == "" {
			continue
		}
		value, ok := v.FormulaValue()
		if !ok {
			continue
		}
		vars[identifier] = value
	}
	return vars, nil
}

func checkAttributeCollisions(values []InstanceAttribute) error {
	names := map[string][]string{}
	for _, v := range values {
		if v.TemplateAttribute == nil || v.TemplateAttribute.Attribute == nil {
			continue
		}
		name := v.TemplateAttribute.Attribute.Name
		identifier := NormalizeAttributeName(name)
		if identifier == "" {
			continue
		}
		names[identifier] = append(names[identifier], name)
	}

	identifiers := make([]string, 0, len(names))
	for identifier := range names {
		identifiers = append(identifiers, identifier)
	}
	sort.Strings(identifiers)
	for _, identifier := range identifiers {
		if len(names[identifier]) > 1 {
			return &AttributeCollisionError{Identifier: identifier, Names: names[identifier]}
		}
	}
	return nil
}

// FormulaValue is the value the attribute contributes to formulas. Numeric
// attributes give their number; text values that read as a number are
// coerced. Empty values contribute nothing.
func (v InstanceAttribute) FormulaValue() (formula.Value, bool) {
	if v.NumValue != nil {
		return formula.Number(*v.NumValue), true
	}
	if v.TextValue == nil {
		return formula.Value{}, false
	}
	text := strings.TrimSpace(*v.TextValue)
	if text == "" {
		return formula.Value{}, false
	}
	if d, ok := ParseDecimalText(text); ok {
		return formula.Number(d), true
	}
	return formula.Text(text), true
}
