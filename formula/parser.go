package formula

import (
	"github.com/shopspring/decimal"
)

// binding powers, lowest first
const (
	precLowest = iota
	precConditional
	precOr
	precAnd
	precNot
	precCompare
	precSum
	precProduct
	precPrefix
	precPower
)

var infixPrecedence = map[string]int{
	"if":  precConditional,
	"or":  precOr,
	"||":  precOr,
	"and": precAnd,
	"&&":  precAnd,
	"==":  precCompare,
	"!=":  precCompare,
	"<":   precCompare,
	"<=":  precCompare,
	">":   precCompare,
	">=":  precCompare,
	"+":   precSum,
	"-":   precSum,
	"*":   precProduct,
	"/":   precProduct,
	"//":  precProduct,
	"%":   precProduct,
	"**":  precPower,
	"^":   precPower,
}

// names reachable behind the "math." prefix besides the functions
var mathConstants = map[string]decimal.Decimal{
	"pi": decimal.RequireFromString("3.14159265358979323846"),
	"e":  decimal.RequireFromString("2.71828182845904523536"),
}

type parser struct {
	raw    string
	tokens []token
	pos    int
}

func parse(raw string) (node, error) {
	tokens, err := tokenize(raw)
	if err != nil {
		return nil, err
	}
	p := &parser{raw: raw, tokens: tokens}
	if p.peek().kind == tokEOF {
		return nil, newError(raw, "empty formula")
	}
	root, err := p.parseExpression(precLowest)
	if err != nil {
		return nil, err
	}
	if tok := p.peek(); tok.kind != tokEOF {
		return nil, newError(raw, "unexpected %q at position %d", tok.text, tok.pos)
	}
	return root, nil
}

func (p *parser) peek() token {
	return p.tokens[p.pos]
}

func (p *parser) next() token {
	tok := p.tokens[p.pos]
	if tok.kind != tokEOF {
		p.pos++
	}
	return tok
}

func (p *parser) expect(kind tokenKind, text string) error {
	tok := p.next()
	if tok.kind != kind {
		if tok.kind == tokEOF {
			return newError(p.raw, "expected %q but formula ended", text)
		}
		return newError(p.raw, "expected %q at position %d, got %q", text, tok.pos, tok.text)
	}
	return nil
}

func (p *parser) parseExpression(minPrec int) (node, error) {
	left, err := p.parsePrefix()
	if err != nil {
		return nil, err
	}
	for {
		tok := p.peek()
		if tok.kind != tokOperator {
			return left, nil
		}
		prec, ok := infixPrecedence[tok.text]
		if !ok || prec <= minPrec {
			return left, nil
		}
		p.next()
		left, err = p.parseInfix(tok, prec, left)
		if err != nil {
			return nil, err
		}
	}
}

func (p *parser) parsePrefix() (node, error) {
	tok := p.next()
	switch tok.kind {
	case tokNumber:
		d, err := decimal.NewFromString(tok.text)
		if err != nil {
			return nil, newError(p.raw, "invalid number %q", tok.text)
		}
		if d, err = checkRange(p.raw, d); err != nil {
			return nil, err
		}
		return literalNode{value: Number(d)}, nil
	case tokString:
		return literalNode{value: Text(tok.text)}, nil
	case tokIdent:
		return p.parseIdentifier(tok)
	case tokLParen:
		inner, err := p.parseExpression(precLowest)
		if err != nil {
			return nil, err
		}
		if err := p.expect(tokRParen, ")"); err != nil {
			return nil, err
		}
		return inner, nil
	case tokOperator:
		switch tok.text {
		case "-", "+":
			operand, err := p.parseExpression(precPrefix)
			if err != nil {
				return nil, err
			}
			return unaryNode{op: tok.text, operand: operand}, nil
		case "not", "!":
			operand, err := p.parseExpression(precNot)
			if err != nil {
				return nil, err
			}
			return unaryNode{op: "not", operand: operand}, nil
		}
	case tokEOF:
		return nil, newError(p.raw, "unexpected end of formula")
	}
	return nil, newError(p.raw, "unexpected %q at position %d", tok.text, tok.pos)
}

func (p *parser) parseInfix(tok token, prec int, left node) (node, error) {
	switch tok.text {
	case "if":
		cond, err := p.parseExpression(precConditional)
		if err != nil {
			return nil, err
		}
		if next := p.next(); next.kind != tokOperator || next.text != "else" {
			return nil, newError(p.raw, "conditional without else")
		}
		// right-associative: a if x else b if y else c
		otherwise, err := p.parseExpression(precConditional - 1)
		if err != nil {
			return nil, err
		}
		return conditionalNode{cond: cond, then: left, otherwise: otherwise}, nil
	case "**", "^":
		right, err := p.parseExpression(prec - 1)
		if err != nil {
			return nil, err
		}
		return binaryNode{op: "**", left: left, right: right}, nil
	case "or", "||":
		right, err := p.parseExpression(prec)
		if err != nil {
			return nil, err
		}
		return logicalNode{and: false, left: left, right: right}, nil
	case "and", "&&":
		right, err := p.parseExpression(prec)
		if err != nil {
			return nil, err
		}
		return logicalNode{and: true, left: left, right: right}, nil
	}
	right, err := p.parseExpression(prec)
	if err != nil {
		return nil, err
	}
	return binaryNode{op: tok.text, left: left, right: right}, nil
}

// identifier, math.<name>, or a call
func (p *parser) parseIdentifier(tok token) (node, error) {
	name := tok.text
	qualified := false
	if p.peek().kind == tokDot {
		if name != "math" {
			return nil, newError(p.raw, "attribute access on %q is not allowed", name)
		}
		p.next()
		member := p.next()
		if member.kind != tokIdent {
			return nil, newError(p.raw, "expected name after \"math.\"")
		}
		if p.peek().kind == tokDot {
			return nil, newError(p.raw, "attribute access on \"math.%s\" is not allowed", member.text)
		}
		name = member.text
		qualified = true
	}

	if p.peek().kind == tokLParen {
		p.next()
		fn, ok := functions[name]
		if !ok {
			return nil, newError(p.raw, "unknown function %q", name)
		}
		args, err := p.parseArguments()
		if err != nil {
			return nil, err
		}
		if len(args) < fn.minArgs || (fn.maxArgs >= 0 && len(args) > fn.maxArgs) {
			return nil, newError(p.raw, "%s() takes %s, got %d", name, fn.arity(), len(args))
		}
		return callNode{name: name, fn: fn, args: args}, nil
	}

	if qualified {
		if c, ok := mathConstants[name]; ok {
			return literalNode{value: Number(c)}, nil
		}
		if _, ok := functions[name]; ok {
			return nil, newError(p.raw, "math.%s must be called", name)
		}
		return nil, newError(p.raw, "unknown name \"math.%s\"", name)
	}
	if name == "math" {
		return nil, newError(p.raw, "\"math\" is a namespace, not a value")
	}
	return identNode{name: name}, nil
}

func (p *parser) parseArguments() ([]node, error) {
	var args []node
	if p.peek().kind == tokRParen {
		p.next()
		return args, nil
	}
	for {
		arg, err := p.parseExpression(precLowest)
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
		tok := p.next()
		switch tok.kind {
		case tokComma:
			continue
		case tokRParen:
			return args, nil
		case tokEOF:
			return nil, newError(p.raw, "unclosed call")
		default:
			return nil, newError(p.raw, "unexpected %q in argument list", tok.text)
		}
	}
}
