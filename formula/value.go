package formula

import (
	"github.com/shopspring/decimal"
)

// Value is a formula operand: a decimal number or a piece of text.
type Value struct {
	num    decimal.Decimal
	text   string
	isText bool
}

// Vars is the flat variable context a formula is evaluated against.
type Vars map[string]Value

func Number(d decimal.Decimal) Value {
	return Value{num: d}
}

func NumberFromInt(i int64) Value {
	return Value{num: decimal.NewFromInt(i)}
}

func Text(s string) Value {
	return Value{text: s, isText: true}
}

func boolValue(b bool) Value {
	if b {
		return Value{num: decimal.NewFromInt(1)}
	}
	return Value{num: decimal.Zero}
}

func (v Value) IsText() bool {
	return v.isText
}

// Decimal returns the numeric value; ok is false for text.
func (v Value) Decimal() (decimal.Decimal, bool) {
	if v.isText {
		return decimal.Zero, false
	}
	return v.num, true
}

func (v Value) String() string {
	if v.isText {
		return v.text
	}
	return v.num.String()
}

func (v Value) truthy() bool {
	if v.isText {
		return v.text != ""
	}
	return !v.num.IsZero()
}

func (v Value) kind() string {
	if v.isText {
		return "text"
	}
	return "number"
}
