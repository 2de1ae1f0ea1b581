package formula

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// Expr is a compiled formula. It holds no mutable state and can be shared.
type Expr struct {
	raw  string
	root node
}

// Compile parses raw into an expression tree.
func Compile(raw string) (*Expr, error) {
	root, err := parse(strings.TrimSpace(raw))
	if err != nil {
		if fe, ok := err.(*FormulaError); ok {
			fe.RawFormula = raw
		}
		return nil, err
	}
	return &Expr{raw: raw, root: root}, nil
}

// Evaluate compiles and evaluates raw against vars in one step.
func Evaluate(raw string, vars Vars) (decimal.Decimal, error) {
	expr, err := Compile(raw)
	if err != nil {
		return decimal.Zero, err
	}
	return expr.Eval(vars)
}

func (e *Expr) Raw() string {
	return e.raw
}

// Eval returns the numeric result of the expression.
func (e *Expr) Eval(vars Vars) (decimal.Decimal, error) {
	v, err := e.root.eval(&evalContext{raw: e.raw, vars: vars})
	if err != nil {
		return decimal.Zero, err
	}
	d, ok := v.Decimal()
	if !ok {
		return decimal.Zero, newError(e.raw, "result %q is not numeric", v.String())
	}
	return d, nil
}

// Variables lists the variable names the expression reads, sorted.
func (e *Expr) Variables() []string {
	seen := map[string]bool{}
	collectVariables(e.root, seen)
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type evalContext struct {
	raw  string
	vars Vars
}

func (c *evalContext) fail(format string, args ...any) error {
	return newError(c.raw, format, args...)
}

type node interface {
	eval(c *evalContext) (Value, error)
}

type literalNode struct {
	value Value
}

func (n literalNode) eval(*evalContext) (Value, error) {
	return n.value, nil
}

type identNode struct {
	name string
}

func (n identNode) eval(c *evalContext) (Value, error) {
	v, ok := c.vars[n.name]
	if !ok {
		return Value{}, c.fail("undefined variable %q", n.name)
	}
	return v, nil
}

type unaryNode struct {
	op      string
	operand node
}

func (n unaryNode) eval(c *evalContext) (Value, error) {
	v, err := n.operand.eval(c)
	if err != nil {
		return Value{}, err
	}
	if n.op == "not" {
		return boolValue(!v.truthy()), nil
	}
	d, ok := v.Decimal()
	if !ok {
		return Value{}, c.fail("unary %s on text %q", n.op, v.String())
	}
	if n.op == "-" {
		return Number(d.Neg()), nil
	}
	return Number(d), nil
}

type logicalNode struct {
	and         bool
	left, right node
}

// and/or return the deciding operand, as in the formula authors' environment
func (n logicalNode) eval(c *evalContext) (Value, error) {
	left, err := n.left.eval(c)
	if err != nil {
		return Value{}, err
	}
	if n.and != left.truthy() {
		return left, nil
	}
	return n.right.eval(c)
}

type conditionalNode struct {
	cond, then, otherwise node
}

func (n conditionalNode) eval(c *evalContext) (Value, error) {
	cond, err := n.cond.eval(c)
	if err != nil {
		return Value{}, err
	}
	if cond.truthy() {
		return n.then.eval(c)
	}
	return n.otherwise.eval(c)
}

type binaryNode struct {
	op          string
	left, right node
}

func (n binaryNode) eval(c *evalContext) (Value, error) {
	left, err := n.left.eval(c)
	if err != nil {
		return Value{}, err
	}
	right, err := n.right.eval(c)
	if err != nil {
		return Value{}, err
	}

	switch n.op {
	case "==", "!=", "<", "<=", ">", ">=":
		return compareValues(c, n.op, left, right)
	}

	a, aok := left.Decimal()
	b, bok := right.Decimal()
	if !aok || !bok {
		return Value{}, c.fail("operator %s needs numbers, got %s and %s", n.op, left.kind(), right.kind())
	}

	var r decimal.Decimal
	switch n.op {
	case "+":
		r = a.Add(b)
	case "-":
		r = a.Sub(b)
	case "*":
		r = a.Mul(b)
	case "/":
		if b.IsZero() {
			return Value{}, c.fail("division by zero")
		}
		r = a.Div(b)
	case "//":
		if b.IsZero() {
			return Value{}, c.fail("division by zero")
		}
		r = a.Div(b).Floor()
	case "%":
		if b.IsZero() {
			return Value{}, c.fail("modulo by zero")
		}
		// result takes the divisor's sign
		r = a.Sub(b.Mul(a.Div(b).Floor()))
	case "**":
		r, err = power(c, a, b)
		if err != nil {
			return Value{}, err
		}
	default:
		return Value{}, c.fail("unknown operator %s", n.op)
	}
	r, err = c.bound(r)
	if err != nil {
		return Value{}, err
	}
	return Number(r), nil
}

// limits on every number a formula handles: integer digits fail the formula,
// extra fraction digits are rounded away
const (
	maxIntegerDigits  = 40
	maxFractionDigits = 28
)

// magnitude is the number of integer digits of d, give or take one.
func magnitude(d decimal.Decimal) int {
	bits := d.Coefficient().BitLen()
	if bits == 0 {
		return 0
	}
	return int(float64(bits)*math.Log10(2)) + 1 + int(d.Exponent())
}

func checkRange(raw string, d decimal.Decimal) (decimal.Decimal, error) {
	if magnitude(d) > maxIntegerDigits {
		return decimal.Zero, newError(raw, "number out of range (more than %d digits)", maxIntegerDigits)
	}
	if d.Exponent() < -maxFractionDigits {
		d = d.Round(maxFractionDigits)
	}
	return d, nil
}

func (c *evalContext) bound(d decimal.Decimal) (decimal.Decimal, error) {
	return checkRange(c.raw, d)
}

func compareValues(c *evalContext, op string, left, right Value) (Value, error) {
	if left.IsText() != right.IsText() {
		switch op {
		case "==":
			return boolValue(false), nil
		case "!=":
			return boolValue(true), nil
		}
		return Value{}, c.fail("cannot compare %s with %s", left.kind(), right.kind())
	}
	var cmp int
	if left.IsText() {
		cmp = strings.Compare(left.text, right.text)
	} else {
		cmp = left.num.Cmp(right.num)
	}
	switch op {
	case "==":
		return boolValue(cmp == 0), nil
	case "!=":
		return boolValue(cmp != 0), nil
	case "<":
		return boolValue(cmp < 0), nil
	case "<=":
		return boolValue(cmp <= 0), nil
	case ">":
		return boolValue(cmp > 0), nil
	default:
		return boolValue(cmp >= 0), nil
	}
}

const maxIntegerExponent = 1024

func power(c *evalContext, base, exp decimal.Decimal) (decimal.Decimal, error) {
	if exp.IsInteger() && exp.Abs().LessThanOrEqual(decimal.NewFromInt(maxIntegerExponent)) {
		n := exp.IntPart()
		if n < 0 && base.IsZero() {
			return decimal.Zero, c.fail("division by zero")
		}
		result := decimal.NewFromInt(1)
		b := base
		var err error
		for k := absInt64(n); k > 0; {
			if k&1 == 1 {
				if result, err = c.bound(result.Mul(b)); err != nil {
					return decimal.Zero, err
				}
			}
			if k >>= 1; k == 0 {
				break
			}
			if b, err = c.bound(b.Mul(b)); err != nil {
				return decimal.Zero, err
			}
		}
		if n < 0 {
			if result.IsZero() {
				return decimal.Zero, c.fail("%s ** %s is out of range", base, exp)
			}
			return decimal.NewFromInt(1).Div(result), nil
		}
		return result, nil
	}
	bf, _ := base.Float64()
	ef, _ := exp.Float64()
	r := math.Pow(bf, ef)
	if math.IsNaN(r) || math.IsInf(r, 0) {
		return decimal.Zero, c.fail("%s ** %s is not a real number", base, exp)
	}
	return decimal.NewFromFloat(r), nil
}

func absInt64(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}

type callNode struct {
	name string
	fn   function
	args []node
}

func (n callNode) eval(c *evalContext) (Value, error) {
	args := make([]decimal.Decimal, 0, len(n.args))
	for _, a := range n.args {
		v, err := a.eval(c)
		if err != nil {
			return Value{}, err
		}
		d, ok := v.Decimal()
		if !ok {
			return Value{}, c.fail("%s() needs numbers, got text %q", n.name, v.String())
		}
		args = append(args, d)
	}
	r, err := n.fn.call(c, args)
	if err != nil {
		return Value{}, err
	}
	if r, err = c.bound(r); err != nil {
		return Value{}, err
	}
	return Number(r), nil
}

type function struct {
	minArgs int
	maxArgs int // -1 = variadic
	call    func(c *evalContext, args []decimal.Decimal) (decimal.Decimal, error)
}

func (f function) arity() string {
	switch {
	case f.maxArgs < 0:
		return fmt.Sprintf("at least %d arguments", f.minArgs)
	case f.minArgs == f.maxArgs:
		return fmt.Sprintf("%d arguments", f.minArgs)
	default:
		return fmt.Sprintf("%d to %d arguments", f.minArgs, f.maxArgs)
	}
}

func unary(f func(decimal.Decimal) decimal.Decimal) function {
	return function{minArgs: 1, maxArgs: 1, call: func(_ *evalContext, args []decimal.Decimal) (decimal.Decimal, error) {
		return f(args[0]), nil
	}}
}

// the whitelist; nothing else is callable
var functions = map[string]function{
	"ceil":  unary(decimal.Decimal.Ceil),
	"floor": unary(decimal.Decimal.Floor),
	"trunc": unary(func(d decimal.Decimal) decimal.Decimal { return d.Truncate(0) }),
	"abs":   unary(decimal.Decimal.Abs),
	"round": {minArgs: 1, maxArgs: 2, call: func(c *evalContext, args []decimal.Decimal) (decimal.Decimal, error) {
		places := int32(0)
		if len(args) == 2 {
			if !args[1].IsInteger() {
				return decimal.Zero, c.fail("round() digits must be an integer")
			}
			if args[1].Abs().GreaterThan(decimal.NewFromInt(maxFractionDigits)) {
				return decimal.Zero, c.fail("round() digits must be between -%d and %d", maxFractionDigits, maxFractionDigits)
			}
			places = int32(args[1].IntPart())
		}
		return args[0].RoundBank(places), nil
	}},
	"min": {minArgs: 1, maxArgs: -1, call: func(_ *evalContext, args []decimal.Decimal) (decimal.Decimal, error) {
		return decimal.Min(args[0], args[1:]...), nil
	}},
	"max": {minArgs: 1, maxArgs: -1, call: func(_ *evalContext, args []decimal.Decimal) (decimal.Decimal, error) {
		return decimal.Max(args[0], args[1:]...), nil
	}},
	"sqrt": {minArgs: 1, maxArgs: 1, call: func(c *evalContext, args []decimal.Decimal) (decimal.Decimal, error) {
		if args[0].IsNegative() {
			return decimal.Zero, c.fail("sqrt of negative number")
		}
		f, _ := args[0].Float64()
		return decimal.NewFromFloat(math.Sqrt(f)), nil
	}},
	"pow": {minArgs: 2, maxArgs: 2, call: func(c *evalContext, args []decimal.Decimal) (decimal.Decimal, error) {
		return power(c, args[0], args[1])
	}},
}

func collectVariables(n node, seen map[string]bool) {
	switch t := n.(type) {
	case identNode:
		seen[t.name] = true
	case unaryNode:
		collectVariables(t.operand, seen)
	case binaryNode:
		collectVariables(t.left, seen)
		collectVariables(t.right, seen)
	case logicalNode:
		collectVariables(t.left, seen)
		collectVariables(t.right, seen)
	case conditionalNode:
		collectVariables(t.cond, seen)
		collectVariables(t.then, seen)
		collectVariables(t.otherwise, seen)
	case callNode:
		for _, a := range t.args {
			collectVariables(a, seen)
		}
	}
}
