package models

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func strPtr(s string) *string {
	return &s
}

func intPtr(i int) *int {
	return &i
}

func attributeValue(ruleId int, name string, typ AttributeType, text *string, num *decimal.Decimal) InstanceAttribute {
	return InstanceAttribute{
		TemplateAttributeId: ruleId,
		TemplateAttribute: &TemplateAttribute{
			ID:        ruleId,
			Attribute: &Attribute{ID: ruleId, Name: name, Type: typ},
		},
		TextValue: text,
		NumValue:  num,
	}
}

func TestNormalizeAttributeName(t *testing.T) {
	cases := []struct {
		in       string
		expected string
	}{
		{"Altura", "altura"},
		{"Altura (mm)", "altura_mm"},
		{"Número de Folhas", "numero_de_folhas"},
		{"  Cor  ", "cor"},
		{"Espessura-Vidro", "espessura_vidro"},
		{"Ação__Especial!!", "acao_especial"},
		{"Coração", "coracao"},
		{"!!!", ""},
	}
	for _, c := range cases {
		if got := NormalizeAttributeName(c.in); got != c.expected {
			t.Fatalf("NormalizeAttributeName(%q) = %q, expected %q", c.in, got, c.expected)
		}
	}
}

func TestParseDecimalText(t *testing.T) {
	cases := []struct {
		in       string
		expected string
		ok       bool
	}{
		{"1.5", "1.5", true},
		{"1,5", "1.5", true},
		{" 2000 ", "2000", true},
		{"branco", "0", false},
		{"", "0", false},
		{"1,5,5", "0", false},
	}
	for _, c := range cases {
		got, ok := ParseDecimalText(c.in)
		if ok != c.ok {
			t.Fatalf("ParseDecimalText(%q) ok = %v", c.in, ok)
		}
		if ok && !got.Equal(dec(c.expected)) {
			t.Fatalf("ParseDecimalText(%q) = %s, expected %s", c.in, got, c.expected)
		}
	}
}

func TestResolveAttributes(t *testing.T) {
	vars, err := ResolveAttributes([]InstanceAttribute{
		attributeValue(1, "Altura", AttributeTypeNumeric, nil, decPtr("2000")),
		attributeValue(2, "Número de Folhas", AttributeTypeChoice, strPtr("2"), nil),
		attributeValue(3, "Espessura", AttributeTypeText, strPtr("2,5"), nil),
		attributeValue(4, "Cor", AttributeTypeText, strPtr("branco"), nil),
		attributeValue(5, "Observação", AttributeTypeText, strPtr("   "), nil),
		attributeValue(6, "Largura", AttributeTypeNumeric, nil, nil),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	numbers := map[string]string{"altura": "2000", "numero_de_folhas": "2", "espessura": "2.5"}
	for name, expected := range numbers {
		d, ok := vars[name].Decimal()
		if !ok || !d.Equal(dec(expected)) {
			t.Fatalf("%s = %v, expected %s", name, vars[name], expected)
		}
	}
	if !vars["cor"].IsText() || vars["cor"].String() != "branco" {
		t.Fatalf("cor = %v", vars["cor"])
	}
	if _, ok := vars["observacao"]; ok {
		t.Fatalf("blank value should be skipped")
	}
	if _, ok := vars["largura"]; ok {
		t.Fatalf("missing value should be skipped")
	}
}

func TestResolveAttributesCollision(t *testing.T) {
	_, err := ResolveAttributes([]InstanceAttribute{
		attributeValue(1, "Largura", AttributeTypeNumeric, nil, decPtr("850")),
		attributeValue(2, "largura", AttributeTypeNumeric, nil, nil),
	})
	var collision *AttributeCollisionError
	if !errors.As(err, &collision) {
		t.Fatalf("expected AttributeCollisionError, got %v", err)
	}
	if collision.Identifier != "largura" || len(collision.Names) != 2 {
		t.Fatalf("unexpected collision %+v", collision)
	}
}
