package models

import (
	"errors"
	"strings"
	"testing"
)

type doorFixture struct {
	cfg      *ProductConfiguration
	instance *ProductInstance
}

var (
	genericHinge = &Component{ID: 1, Name: "Hinge", Unit: "un"}
	genericLock  = &Component{ID: 2, Name: "Lock", Unit: "un"}
	genericBoard = &Component{ID: 3, Name: "Board", Unit: "m2"}

	steelHinge = &Component{ID: 10, Name: "Steel hinge 3in", Unit: "un", UnitCost: dec("5")}
	mdfBoard   = &Component{ID: 12, Name: "MDF 18mm", Unit: "m2", UnitCost: dec("20")}
)

// Door template: hinges by height, a lock with no choice, a board sized by
// the related width attribute.
func newDoorFixture() doorFixture {
	alturaRule := TemplateAttribute{ID: 101, TemplateId: 1, AttributeId: 1, Attribute: &Attribute{ID: 1, Name: "Altura", Type: AttributeTypeNumeric}, Sequence: 1}
	larguraRule := TemplateAttribute{ID: 102, TemplateId: 1, AttributeId: 2, Attribute: &Attribute{ID: 2, Name: "Largura", Type: AttributeTypeNumeric}, Sequence: 2}

	template := &ProductTemplate{
		ID:         1,
		Name:       "Door",
		Attributes: []TemplateAttribute{alturaRule, larguraRule},
		Components: []TemplateComponent{
			{ID: 201, TemplateId: 1, ComponentId: 1, Component: genericHinge, Formula: "math.ceil(altura / 1200) * 2", LossFactor: dec("0.1"), Sequence: 1},
			{ID: 202, TemplateId: 1, ComponentId: 2, Component: genericLock, FixedQuantity: decPtr("1"), Sequence: 2},
			{ID: 203, TemplateId: 1, ComponentId: 3, Component: genericBoard, Formula: "valor_atributo / 1000 * 2", RelatedAttributeId: intPtr(102), Sequence: 3},
		},
	}
	cfg := &ProductConfiguration{
		ID:         7,
		TemplateId: 1,
		Template:   template,
		Name:       "Door standard",
		Choices: []ComponentChoice{
			{ID: 1, ConfigurationId: 7, TemplateComponentId: 201, ComponentId: 10, Component: steelHinge},
			{ID: 2, ConfigurationId: 7, TemplateComponentId: 203, ComponentId: 12, Component: mdfBoard, CustomDescription: strPtr("MDF white")},
		},
	}
	instance := &ProductInstance{
		ID:              3,
		ConfigurationId: 7,
		Attributes: []InstanceAttribute{
			{TemplateAttributeId: 101, TemplateAttribute: &template.Attributes[0], NumValue: decPtr("2000")},
			{TemplateAttributeId: 102, TemplateAttribute: &template.Attributes[1], NumValue: decPtr("850")},
		},
	}
	return doorFixture{cfg: cfg, instance: instance}
}

func TestExpandInstanceDoor(t *testing.T) {
	f := newDoorFixture()
	result, err := ExpandInstance(f.cfg, f.instance)
	if err != nil {
		t.Fatalf("ExpandInstance: %v", err)
	}
	if len(result.Lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(result.Lines))
	}

	hinge := result.Lines[0]
	if hinge.ComponentId != 10 || !hinge.Quantity.Equal(dec("4.4")) || !hinge.UnitCost.Equal(dec("5")) {
		t.Fatalf("unexpected hinge line %+v", hinge)
	}
	if hinge.Description() != "Steel hinge 3in" {
		t.Fatalf("hinge description = %q", hinge.Description())
	}
	board := result.Lines[1]
	if board.ComponentId != 12 || !board.Quantity.Equal(dec("1.7")) || board.Description() != "MDF white" {
		t.Fatalf("unexpected board line %+v", board)
	}

	if len(result.Warnings) != 1 || !strings.Contains(result.Warnings[0], "Lock") {
		t.Fatalf("expected one warning naming Lock, got %v", result.Warnings)
	}
	if !ComputeCost(result.Lines).Equal(dec("56")) {
		t.Fatalf("cost = %s", ComputeCost(result.Lines))
	}
}

func TestExpandInstanceIsRepeatable(t *testing.T) {
	f := newDoorFixture()
	first, err := ExpandInstance(f.cfg, f.instance)
	if err != nil {
		t.Fatalf("ExpandInstance: %v", err)
	}
	second, err := ExpandInstance(f.cfg, f.instance)
	if err != nil {
		t.Fatalf("ExpandInstance: %v", err)
	}
	for i := range first.Lines {
		if !first.Lines[i].Quantity.Equal(second.Lines[i].Quantity) {
			t.Fatalf("line %d differs between runs", i)
		}
	}
}

func TestExpandInstanceRuleProblems(t *testing.T) {
	f := newDoorFixture()
	rules := f.cfg.Template.Components
	rules[0].Formula = "folhas * 2"
	rules[0].FixedQuantity = decPtr("1")
	rules[2].Formula = "0 - valor_atributo"

	result, err := ExpandInstance(f.cfg, f.instance)
	if err != nil {
		t.Fatalf("ExpandInstance: %v", err)
	}
	// fixed quantity survives a failing formula
	if !result.Lines[0].Quantity.Equal(dec("1.1")) {
		t.Fatalf("hinge quantity = %s, expected 1.1", result.Lines[0].Quantity)
	}
	if !result.Lines[1].Quantity.IsZero() {
		t.Fatalf("negative quantity should clamp to 0, got %s", result.Lines[1].Quantity)
	}
	if len(result.Warnings) != 3 {
		t.Fatalf("expected 3 warnings, got %v", result.Warnings)
	}
	if !strings.Contains(result.Warnings[0], "Hinge") || !strings.Contains(result.Warnings[0], "folhas * 2") || !strings.HasSuffix(result.Warnings[0], "using 0") {
		t.Fatalf("unexpected formula warning %q", result.Warnings[0])
	}
}

func TestExpandInstanceMissingRelatedValue(t *testing.T) {
	f := newDoorFixture()
	f.instance.Attributes = f.instance.Attributes[:1]
	f.cfg.Template.Components[2].FixedQuantity = decPtr("0.5")

	result, err := ExpandInstance(f.cfg, f.instance)
	if err != nil {
		t.Fatalf("ExpandInstance: %v", err)
	}
	if !result.Lines[1].Quantity.Equal(dec("0.5")) {
		t.Fatalf("missing related value should count as 0, got %s", result.Lines[1].Quantity)
	}
}

func TestExpandInstanceMergesDuplicateComponents(t *testing.T) {
	f := newDoorFixture()
	f.cfg.Choices = append(f.cfg.Choices, ComponentChoice{ID: 3, ConfigurationId: 7, TemplateComponentId: 202, ComponentId: 10, Component: steelHinge})

	result, err := ExpandInstance(f.cfg, f.instance)
	if err != nil {
		t.Fatalf("ExpandInstance: %v", err)
	}
	if len(result.Lines) != 2 {
		t.Fatalf("expected merged lines, got %d", len(result.Lines))
	}
	if !result.Lines[0].Quantity.Equal(dec("5.4")) {
		t.Fatalf("merged hinge quantity = %s, expected 5.4", result.Lines[0].Quantity)
	}
	if len(result.Warnings) != 0 {
		t.Fatalf("unexpected warnings %v", result.Warnings)
	}
}

func TestExpandInstanceCollisionIsFatal(t *testing.T) {
	f := newDoorFixture()
	f.instance.Attributes = append(f.instance.Attributes, attributeValue(103, "ALTURA", AttributeTypeNumeric, nil, decPtr("1")))

	_, err := ExpandInstance(f.cfg, f.instance)
	var collision *AttributeCollisionError
	if !errors.As(err, &collision) {
		t.Fatalf("expected AttributeCollisionError, got %v", err)
	}
}

func TestExpandInstanceNeedsTemplate(t *testing.T) {
	f := newDoorFixture()
	f.cfg.Template = nil
	if _, err := ExpandInstance(f.cfg, f.instance); err == nil {
		t.Fatalf("expected error without template")
	}
}
