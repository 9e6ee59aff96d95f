package expr

import (
	"fmt"
	"math"
	"strings"

	"cncpanel/internal/channel"

	"github.com/google/go-cmp/cmp"
)

type node interface {
	eval(inputs []any) (any, error)
	kind() Kind
}

type literalNode struct {
	value any
}

func (n *literalNode) eval([]any) (any, error) { return n.value, nil }
func (n *literalNode) kind() Kind               { return kindOf(n.value) }

type inputNode struct {
	index node
}

func (n *inputNode) eval(inputs []any) (any, error) {
	iv, err := n.index.eval(inputs)
	if err != nil {
		return nil, err
	}
	i, ok := asInt(iv)
	if !ok {
		return nil, fmt.Errorf("%w: input index must be an integer, got %T", ErrType, iv)
	}
	if i < 0 || i >= len(inputs) {
		return nil, fmt.Errorf("%w: input %d out of range, %d inputs", ErrEval, i, len(inputs))
	}
	return inputs[i], nil
}

func (n *inputNode) kind() Kind { return KindUnknown }

type indexNode struct {
	target node
	index  node
}

func (n *indexNode) eval(inputs []any) (any, error) {
	target, err := n.target.eval(inputs)
	if err != nil {
		return nil, err
	}
	iv, err := n.index.eval(inputs)
	if err != nil {
		return nil, err
	}
	i, ok := asInt(iv)
	if !ok {
		return nil, fmt.Errorf("%w: index must be an integer, got %T", ErrType, iv)
	}

	if s, ok := target.(string); ok {
		r := []rune(s)
		if i < 0 {
			i += len(r)
		}
		if i < 0 || i >= len(r) {
			return nil, fmt.Errorf("%w: string index %d out of range", ErrEval, i)
		}
		return string(r[i]), nil
	}

	v, err := channel.Element(target, i)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEval, err)
	}
	return v, nil
}

func (n *indexNode) kind() Kind { return KindUnknown }

type negateNode struct {
	operand node
}

func (n *negateNode) eval(inputs []any) (any, error) {
	v, err := n.operand.eval(inputs)
	if err != nil {
		return nil, err
	}
	if i, ok := asInt(v); ok {
		return -i, nil
	}
	if f, ok := asFloat(v); ok {
		return -f, nil
	}
	return nil, fmt.Errorf("%w: cannot negate %T", ErrType, v)
}

func (n *negateNode) kind() Kind { return KindNumber }

type notNode struct {
	operand node
}

func (n *notNode) eval(inputs []any) (any, error) {
	v, err := n.operand.eval(inputs)
	if err != nil {
		return nil, err
	}
	return !Truthy(v), nil
}

func (n *notNode) kind() Kind { return KindBool }

// logicalNode short-circuits and always yields a bool.
type logicalNode struct {
	and         bool
	left, right node
}

func (n *logicalNode) eval(inputs []any) (any, error) {
	l, err := n.left.eval(inputs)
	if err != nil {
		return nil, err
	}
	if n.and && !Truthy(l) {
		return false, nil
	}
	if !n.and && Truthy(l) {
		return true, nil
	}
	r, err := n.right.eval(inputs)
	if err != nil {
		return nil, err
	}
	return Truthy(r), nil
}

func (n *logicalNode) kind() Kind { return KindBool }

type conditionalNode struct {
	cond, then, otherwise node
}

func (n *conditionalNode) eval(inputs []any) (any, error) {
	c, err := n.cond.eval(inputs)
	if err != nil {
		return nil, err
	}
	if Truthy(c) {
		return n.then.eval(inputs)
	}
	return n.otherwise.eval(inputs)
}

func (n *conditionalNode) kind() Kind {
	a, b := n.then.kind(), n.otherwise.kind()
	if a == b {
		return a
	}
	return KindUnknown
}

type binaryNode struct {
	op          string
	left, right node
}

func (n *binaryNode) eval(inputs []any) (any, error) {
	l, err := n.left.eval(inputs)
	if err != nil {
		return nil, err
	}
	r, err := n.right.eval(inputs)
	if err != nil {
		return nil, err
	}

	switch n.op {
	case "==":
		return equal(l, r), nil
	case "!=":
		return !equal(l, r), nil
	case "<", "<=", ">", ">=":
		return compare(n.op, l, r)
	case "+":
		if ls, ok := l.(string); ok {
			if rs, ok := r.(string); ok {
				return ls + rs, nil
			}
		}
		return arithmetic(n.op, l, r)
	default:
		return arithmetic(n.op, l, r)
	}
}

func (n *binaryNode) kind() Kind {
	switch n.op {
	case "==", "!=", "<", "<=", ">", ">=":
		return KindBool
	case "+":
		l, r := n.left.kind(), n.right.kind()
		if l == KindString && r == KindString {
			return KindString
		}
		if l == KindNumber && r == KindNumber {
			return KindNumber
		}
		return KindUnknown
	default:
		return KindNumber
	}
}

type callNode struct {
	name string
	fn   builtin
	args []node
}

func (n *callNode) eval(inputs []any) (any, error) {
	args := make([]any, len(n.args))
	for i, a := range n.args {
		v, err := a.eval(inputs)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}
	v, err := n.fn.call(args)
	if err != nil {
		return nil, fmt.Errorf("%s(): %w", n.name, err)
	}
	return v, nil
}

func (n *callNode) kind() Kind { return n.fn.result }

// asInt accepts integer types and bools, like Python's int subclassing.
func asInt(v any) (int, bool) {
	switch x := v.(type) {
	case int:
		return x, true
	case int64:
		return int(x), true
	case int32:
		return int(x), true
	case uint32:
		return int(x), true
	case uint64:
		return int(x), true
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

func asFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	}
	if i, ok := asInt(v); ok {
		return float64(i), true
	}
	return 0, false
}

func isNumber(v any) bool {
	_, ok := asFloat(v)
	return ok
}

func equal(l, r any) bool {
	if isNumber(l) && isNumber(r) {
		lf, _ := asFloat(l)
		rf, _ := asFloat(r)
		return lf == rf
	}
	return cmp.Equal(l, r)
}

func compare(op string, l, r any) (any, error) {
	var c int
	switch {
	case isNumber(l) && isNumber(r):
		lf, _ := asFloat(l)
		rf, _ := asFloat(r)
		switch {
		case lf < rf:
			c = -1
		case lf > rf:
			c = 1
		}
	default:
		ls, lok := l.(string)
		rs, rok := r.(string)
		if !lok || !rok {
			return nil, fmt.Errorf("%w: cannot compare %T %s %T", ErrType, l, op, r)
		}
		c = strings.Compare(ls, rs)
	}

	switch op {
	case "<":
		return c < 0, nil
	case "<=":
		return c <= 0, nil
	case ">":
		return c > 0, nil
	default:
		return c >= 0, nil
	}
}

// arithmetic keeps integers integral except for true division, and takes
// the sign of the divisor for %.
func arithmetic(op string, l, r any) (any, error) {
	li, lInt := asInt(l)
	ri, rInt := asInt(r)
	if lInt && rInt && op != "/" {
		switch op {
		case "+":
			return li + ri, nil
		case "-":
			return li - ri, nil
		case "*":
			return li * ri, nil
		case "%":
			if ri == 0 {
				return nil, fmt.Errorf("%w: modulo by zero", ErrEval)
			}
			m := li % ri
			if m != 0 && (m < 0) != (ri < 0) {
				m += ri
			}
			return m, nil
		}
	}

	lf, lok := asFloat(l)
	rf, rok := asFloat(r)
	if !lok || !rok {
		return nil, fmt.Errorf("%w: unsupported operands %T %s %T", ErrType, l, op, r)
	}

	switch op {
	case "+":
		return lf + rf, nil
	case "-":
		return lf - rf, nil
	case "*":
		return lf * rf, nil
	case "/":
		if rf == 0 {
			return nil, fmt.Errorf("%w: division by zero", ErrEval)
		}
		return lf / rf, nil
	case "%":
		if rf == 0 {
			return nil, fmt.Errorf("%w: modulo by zero", ErrEval)
		}
		m := math.Mod(lf, rf)
		if m != 0 && (m < 0) != (rf < 0) {
			m += rf
		}
		return m, nil
	}
	return nil, fmt.Errorf("%w: unknown operator %s", ErrSyntax, op)
}
