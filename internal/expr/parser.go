package expr

import (
	"fmt"
)

// Binding powers, lowest first.
const (
	bpNone = iota
	bpConditional
	bpOr
	bpAnd
	bpNot
	bpCompare
	bpSum
	bpProduct
	bpUnary
	bpPostfix
)

var infixPower = map[string]int{
	"if":  bpConditional,
	"or":  bpOr,
	"||":  bpOr,
	"and": bpAnd,
	"&&":  bpAnd,
	"<":   bpCompare,
	"<=":  bpCompare,
	">":   bpCompare,
	">=":  bpCompare,
	"==":  bpCompare,
	"!=":  bpCompare,
	"+":   bpSum,
	"-":   bpSum,
	"*":   bpProduct,
	"/":   bpProduct,
	"%":   bpProduct,
	"[":   bpPostfix,
}

type parser struct {
	tokens    []token
	pos       int
	inputName string
	maxInput  int
}

func parse(src, inputName string) (node, int, error) {
	tokens, err := lex(src)
	if err != nil {
		return nil, 0, err
	}

	p := &parser{tokens: tokens, inputName: inputName, maxInput: -1}
	n, err := p.expression(bpNone)
	if err != nil {
		return nil, 0, err
	}
	if tok := p.peek(); tok.typ != tokEOF {
		return nil, 0, p.errorf(tok, "unexpected %s", tok)
	}
	return n, p.maxInput, nil
}

func (p *parser) peek() token {
	return p.tokens[p.pos]
}

func (p *parser) next() token {
	tok := p.tokens[p.pos]
	if tok.typ != tokEOF {
		p.pos++
	}
	return tok
}

func (p *parser) expect(text string) error {
	tok := p.next()
	if (tok.typ != tokOp && tok.typ != tokIdent) || tok.text != text {
		return p.errorf(tok, "expected %q, got %s", text, tok)
	}
	return nil
}

func (p *parser) errorf(tok token, format string, args ...any) error {
	return fmt.Errorf("%w: %s at %d", ErrSyntax, fmt.Sprintf(format, args...), tok.pos)
}

// expression parses operators binding tighter than minPower.
func (p *parser) expression(minPower int) (node, error) {
	left, err := p.prefix()
	if err != nil {
		return nil, err
	}

	for {
		tok := p.peek()
		if tok.typ != tokOp && tok.typ != tokIdent {
			return left, nil
		}
		power, ok := infixPower[tok.text]
		if !ok || power <= minPower {
			return left, nil
		}
		p.next()

		switch tok.text {
		case "[":
			index, err := p.expression(bpNone)
			if err != nil {
				return nil, err
			}
			if err := p.expect("]"); err != nil {
				return nil, err
			}
			left = &indexNode{target: left, index: index}

		case "if":
			cond, err := p.expression(bpConditional)
			if err != nil {
				return nil, err
			}
			if err := p.expect("else"); err != nil {
				return nil, err
			}
			// right associative: a if x else b if y else c
			otherwise, err := p.expression(bpConditional - 1)
			if err != nil {
				return nil, err
			}
			left = &conditionalNode{cond: cond, then: left, otherwise: otherwise}

		case "and", "&&", "or", "||":
			right, err := p.expression(power)
			if err != nil {
				return nil, err
			}
			left = &logicalNode{and: tok.text == "and" || tok.text == "&&", left: left, right: right}

		default:
			right, err := p.expression(power)
			if err != nil {
				return nil, err
			}
			left = &binaryNode{op: tok.text, left: left, right: right}
		}
	}
}

func (p *parser) prefix() (node, error) {
	tok := p.next()

	switch tok.typ {
	case tokNumber:
		return &literalNode{value: tok.num}, nil

	case tokString:
		return &literalNode{value: tok.text}, nil

	case tokOp:
		switch tok.text {
		case "(":
			inner, err := p.expression(bpNone)
			if err != nil {
				return nil, err
			}
			if err := p.expect(")"); err != nil {
				return nil, err
			}
			return inner, nil
		case "-":
			operand, err := p.expression(bpUnary)
			if err != nil {
				return nil, err
			}
			return &negateNode{operand: operand}, nil
		case "!":
			operand, err := p.expression(bpUnary)
			if err != nil {
				return nil, err
			}
			return &notNode{operand: operand}, nil
		}

	case tokIdent:
		return p.identifier(tok)
	}

	return nil, p.errorf(tok, "unexpected %s", tok)
}

func (p *parser) identifier(tok token) (node, error) {
	switch tok.text {
	case "True", "true":
		return &literalNode{value: true}, nil
	case "False", "false":
		return &literalNode{value: false}, nil
	case "None", "nil":
		return &literalNode{value: nil}, nil
	case "not":
		operand, err := p.expression(bpNot)
		if err != nil {
			return nil, err
		}
		return &notNode{operand: operand}, nil
	case p.inputName:
		return p.input(tok)
	}

	if fn, ok := builtins[tok.text]; ok {
		return p.call(tok, fn)
	}
	return nil, p.errorf(tok, "unknown name %s", tok)
}

// input parses ch[i]; the input vector cannot be used bare.
func (p *parser) input(tok token) (node, error) {
	if err := p.expect("["); err != nil {
		return nil, err
	}
	index, err := p.expression(bpNone)
	if err != nil {
		return nil, err
	}
	if err := p.expect("]"); err != nil {
		return nil, err
	}

	if neg, ok := index.(*negateNode); ok {
		if _, constant := neg.operand.(*literalNode); constant {
			return nil, p.errorf(tok, "input index must be a non-negative integer")
		}
	}
	if lit, ok := index.(*literalNode); ok {
		i, isInt := lit.value.(int)
		if !isInt || i < 0 {
			return nil, p.errorf(tok, "input index must be a non-negative integer")
		}
		if i > p.maxInput {
			p.maxInput = i
		}
	}
	return &inputNode{index: index}, nil
}

func (p *parser) call(tok token, fn builtin) (node, error) {
	if err := p.expect("("); err != nil {
		return nil, err
	}

	var args []node
	if next := p.peek(); next.typ == tokOp && next.text == ")" {
		p.next()
	} else {
		for {
			arg, err := p.expression(bpNone)
			if err != nil {
				return nil, err
			}
			args = append(args, arg)

			sep := p.next()
			if sep.typ == tokOp && sep.text == ")" {
				break
			}
			if sep.typ != tokOp || sep.text != "," {
				return nil, p.errorf(sep, "expected \",\" or \")\", got %s", sep)
			}
		}
	}

	if len(args) < fn.minArgs || (fn.maxArgs >= 0 && len(args) > fn.maxArgs) {
		return nil, p.errorf(tok, "%s takes %s, got %d", tok.text, fn.arity(), len(args))
	}
	return &callNode{name: tok.text, fn: fn, args: args}, nil
}
