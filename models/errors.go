package models

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrImmutableMovement   = errors.New("stock movements are append-only")
	ErrQuantityNotPositive = errors.New("quantity must be greater than zero")
)

// MissingComponentChoiceError is raised when a configuration has no real
// component for one of its template's component rules.
type MissingComponentChoiceError struct {
	ConfigurationName string
	ComponentName     string
}

func (e *MissingComponentChoiceError) Error() string {
	return fmt.Sprintf("no real component chosen for %s in configuration %s", e.ComponentName, e.ConfigurationName)
}

type InsufficientStockError struct {
	StockItemId int
	ItemName    string
	Available   decimal.Decimal
	Requested   decimal.Decimal
}

func (e *InsufficientStockError) Error() string {
	name := e.ItemName
	if name == "" {
		name = fmt.Sprintf("item %d", e.StockItemId)
	}
	return fmt.Sprintf("insufficient stock for %s: available %s, requested %s", name, e.Available.String(), e.Requested.String())
}

type InvalidMarginError struct {
	Margin decimal.Decimal
}

func (e *InvalidMarginError) Error() string {
	return fmt.Sprintf("margin %s%% is invalid: must be below 100", e.Margin.String())
}

// DuplicateChoiceError: a configuration already has a choice for the rule.
type DuplicateChoiceError struct {
	ConfigurationId     int
	TemplateComponentId int
}

func (e *DuplicateChoiceError) Error() string {
	return fmt.Sprintf("configuration %d already has a choice for component rule %d", e.ConfigurationId, e.TemplateComponentId)
}

// AttributeCollisionError: two attribute names normalize to the same identifier.
type AttributeCollisionError struct {
	Identifier string
	Names      []string
}

func (e *AttributeCollisionError) Error() string {
	return fmt.Sprintf("attributes %s all resolve to %q", strings.Join(e.Names, ", "), e.Identifier)
}

type InvalidParentError struct {
	ItemId   int
	ParentId int
	Reason   string
}

func (e *InvalidParentError) Error() string {
	return fmt.Sprintf("item %d cannot have parent %d: %s", e.ItemId, e.ParentId, e.Reason)
}

type LegacyCodeError struct {
	Code   string
	Reason string
}

func (e *LegacyCodeError) Error() string {
	return fmt.Sprintf("legacy code %q: %s", e.Code, e.Reason)
}

// ValidationError wraps input problems surfaced to the caller as-is.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

// TemplateRenderError: a description template references something unknown
// or is malformed.
type TemplateRenderError struct {
	Template string
	Reason   string
}

func (e *TemplateRenderError) Error() string {
	return fmt.Sprintf("description template %q: %s", e.Template, e.Reason)
}
