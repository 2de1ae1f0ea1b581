package formula

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func num(s string) Value {
	return Number(decimal.RequireFromString(s))
}

func TestEvaluateArithmetic(t *testing.T) {
	vars := Vars{
		"altura":  num("2000"),
		"largura": num("850"),
		"folhas":  num("2"),
		"cor":     Text("branco"),
	}
	cases := []struct {
		in       string
		expected string
	}{
		{"1 + 2 * 3", "7"},
		{"(1 + 2) * 3", "9"},
		{"math.ceil(altura / 1200) * 2", "4"},
		{"ceil(altura / 1200) * 2", "4"},
		{"math.floor(altura / 1200)", "1"},
		{"altura * largura / 1000000", "1.7"},
		{"2 ** 3 ** 2", "512"},
		{"-2 ** 2", "-4"},
		{"2 ^ 10", "1024"},
		{"7 // 2", "3"},
		{"-7 // 2", "-4"},
		{"7 % 3", "1"},
		{"-7 % 3", "2"},
		{"max(folhas, 3, 1)", "3"},
		{"min(folhas, 3)", "2"},
		{"abs(-1.5)", "1.5"},
		{"round(2.5)", "2"},
		{"round(1.2345, 2)", "1.23"},
		{"math.sqrt(16)", "4"},
		{"pow(2, -1)", "0.5"},
		{"altura > 1800", "1"},
		{"altura > 1800 and folhas == 2", "1"},
		{"not folhas == 2", "0"},
		{"4 if altura > 2100 else 3", "3"},
		{"cor == 'branco'", "1"},
		{"cor != \"preto\"", "1"},
		{"0 or folhas", "2"},
		{"0.5 + 1e2", "100.5"},
	}
	for _, c := range cases {
		got, err := Evaluate(c.in, vars)
		if err != nil {
			t.Fatalf("Evaluate(%q) unexpected error: %v", c.in, err)
		}
		if !got.Equal(decimal.RequireFromString(c.expected)) {
			t.Fatalf("Evaluate(%q) = %s, expected %s", c.in, got, c.expected)
		}
	}
}

func TestEvaluateFailures(t *testing.T) {
	vars := Vars{"altura": num("2000"), "cor": Text("branco")}
	cases := []string{
		"",
		"altura +",
		"largura * 2",
		"altura / 0",
		"altura % 0",
		"cor * 2",
		"cor",
		"math.log(altura)",
		"os.system('ls')",
		"altura.__class__",
		"math.ceil",
		"__import__('os')",
		"ceil(1, 2)",
		"sqrt(-1)",
		"(1 + 2",
		"'unterminated",
		"1 if altura",
		"altura < cor",
		"0 ** -1",
		"altura; 1",
	}
	for _, in := range cases {
		_, err := Evaluate(in, vars)
		if err == nil {
			t.Fatalf("Evaluate(%q) expected error", in)
		}
		var fe *FormulaError
		if !errors.As(err, &fe) {
			t.Fatalf("Evaluate(%q) expected *FormulaError, got %T", in, err)
		}
		if fe.RawFormula != in {
			t.Fatalf("Evaluate(%q) raw formula = %q", in, fe.RawFormula)
		}
	}
}

func TestCompiledExpressionIsReusable(t *testing.T) {
	expr, err := Compile("math.ceil(altura / 1200) * 2")
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	for i := 0; i < 3; i++ {
		got, err := expr.Eval(Vars{"altura": num("2000")})
		if err != nil {
			t.Fatalf("eval: %v", err)
		}
		if !got.Equal(decimal.NewFromInt(4)) {
			t.Fatalf("run %d: got %s", i, got)
		}
	}
	got, err := expr.Eval(Vars{"altura": num("2500")})
	if err != nil {
		t.Fatalf("eval: %v", err)
	}
	if !got.Equal(decimal.NewFromInt(6)) {
		t.Fatalf("got %s, expected 6", got)
	}
}

func TestVariables(t *testing.T) {
	expr, err := Compile("math.ceil(altura / 1200) * folhas + valor_atributo if altura > 0 else largura")
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	got := expr.Variables()
	expected := []string{"altura", "folhas", "largura", "valor_atributo"}
	if len(got) != len(expected) {
		t.Fatalf("got %v, expected %v", got, expected)
	}
	for i := range expected {
		if got[i] != expected[i] {
			t.Fatalf("got %v, expected %v", got, expected)
		}
	}
}

func TestEvaluateBoundsWork(t *testing.T) {
	ok := []struct {
		in       string
		expected string
	}{
		{"round(1.23456, 28)", "1.23456"},
		{"round(1234, -2)", "1200"},
		{"10 ** 30", "1000000000000000000000000000000"},
		{"0.5 ** 1000", "0"},
		{"1e-40 + 1", "1"},
	}
	for _, c := range ok {
		got, err := Evaluate(c.in, nil)
		if err != nil {
			t.Fatalf("Evaluate(%q) unexpected error: %v", c.in, err)
		}
		if !got.Equal(decimal.RequireFromString(c.expected)) {
			t.Fatalf("Evaluate(%q) = %s, expected %s", c.in, got, c.expected)
		}
	}

	// fraction digits are capped, so nested powers stay cheap
	if _, err := Evaluate("pow(pow(0.9999, 1024), 1024)", nil); err != nil {
		t.Fatalf("nested power: %v", err)
	}

	for _, in := range []string{
		"round(1, 10000000)",
		"round(1, 29)",
		"round(1, -29)",
		"10 ** 1000",
		"2 ** 1024",
		"(10 ** 30) * (10 ** 30)",
		"pow(1.5, 1000)",
		"1e60",
		"1e10000000 + 1",
		"0.5 ** -1000",
		"max(10 ** 35, 1) * 10 ** 10",
	} {
		_, err := Evaluate(in, nil)
		var fe *FormulaError
		if !errors.As(err, &fe) {
			t.Fatalf("Evaluate(%q) expected *FormulaError, got %v", in, err)
		}
	}
}
