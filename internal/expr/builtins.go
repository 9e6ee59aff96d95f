package expr

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	"cncpanel/internal/channel"
)

// builtin is a whitelisted function callable from an expression.
type builtin struct {
	minArgs int
	maxArgs int // -1 for variadic
	result  Kind
	call    func(args []any) (any, error)
}

func (b builtin) arity() string {
	switch {
	case b.maxArgs < 0:
		return fmt.Sprintf("at least %d arguments", b.minArgs)
	case b.minArgs == b.maxArgs:
		return fmt.Sprintf("%d arguments", b.minArgs)
	default:
		return fmt.Sprintf("%d to %d arguments", b.minArgs, b.maxArgs)
	}
}

var builtins = map[string]builtin{
	"abs":     {1, 1, KindNumber, builtinAbs},
	"min":     {1, -1, KindUnknown, func(args []any) (any, error) { return extreme(args, "<") }},
	"max":     {1, -1, KindUnknown, func(args []any) (any, error) { return extreme(args, ">") }},
	"round":   {1, 2, KindNumber, builtinRound},
	"int":     {1, 1, KindNumber, builtinInt},
	"float":   {1, 1, KindNumber, builtinFloat},
	"str":     {1, 1, KindString, func(args []any) (any, error) { return channel.FormatValue(args[0]), nil }},
	"bool":    {1, 1, KindBool, func(args []any) (any, error) { return Truthy(args[0]), nil }},
	"len":     {1, 1, KindNumber, builtinLen},
	"tan":     {1, 1, KindNumber, floatFunc(math.Tan)},
	"radians": {1, 1, KindNumber, floatFunc(func(deg float64) float64 { return deg * math.Pi / 180 })},
}

// floatFunc adapts a float function of one argument.
func floatFunc(fn func(float64) float64) func(args []any) (any, error) {
	return func(args []any) (any, error) {
		f, ok := asFloat(args[0])
		if !ok {
			return nil, fmt.Errorf("%w: bad operand %T", ErrType, args[0])
		}
		return fn(f), nil
	}
}

func builtinAbs(args []any) (any, error) {
	if i, ok := asInt(args[0]); ok {
		if i < 0 {
			return -i, nil
		}
		return i, nil
	}
	if f, ok := asFloat(args[0]); ok {
		return math.Abs(f), nil
	}
	return nil, fmt.Errorf("%w: bad operand %T", ErrType, args[0])
}

// extreme returns the smallest or largest argument. A single tuple
// argument is expanded.
func extreme(args []any, op string) (any, error) {
	if len(args) == 1 {
		n := tupleLen(args[0])
		if n < 0 {
			return nil, fmt.Errorf("%w: %T is not iterable", ErrType, args[0])
		}
		expanded := make([]any, n)
		for i := range expanded {
			expanded[i], _ = channel.Element(args[0], i)
		}
		args = expanded
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("%w: empty sequence", ErrEval)
	}

	best := args[0]
	for _, v := range args[1:] {
		better, err := compare(op, v, best)
		if err != nil {
			return nil, err
		}
		if better.(bool) {
			best = v
		}
	}
	return best, nil
}

// builtinRound rounds half to even; with a digit count the result is a float.
func builtinRound(args []any) (any, error) {
	f, ok := asFloat(args[0])
	if !ok {
		return nil, fmt.Errorf("%w: bad operand %T", ErrType, args[0])
	}
	if len(args) == 1 {
		return int(math.RoundToEven(f)), nil
	}
	digits, ok := asInt(args[1])
	if !ok {
		return nil, fmt.Errorf("%w: digits must be an integer", ErrType)
	}
	scale := math.Pow(10, float64(digits))
	return math.RoundToEven(f*scale) / scale, nil
}

func builtinInt(args []any) (any, error) {
	switch x := args[0].(type) {
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(x))
		if err != nil {
			return nil, fmt.Errorf("%w: invalid literal %q", ErrEval, x)
		}
		return n, nil
	}
	if i, ok := asInt(args[0]); ok {
		return i, nil
	}
	if f, ok := asFloat(args[0]); ok {
		return int(f), nil
	}
	return nil, fmt.Errorf("%w: cannot convert %T", ErrType, args[0])
}

func builtinFloat(args []any) (any, error) {
	if s, ok := args[0].(string); ok {
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid literal %q", ErrEval, s)
		}
		return f, nil
	}
	if f, ok := asFloat(args[0]); ok {
		return f, nil
	}
	return nil, fmt.Errorf("%w: cannot convert %T", ErrType, args[0])
}

func builtinLen(args []any) (any, error) {
	if s, ok := args[0].(string); ok {
		return utf8.RuneCountInString(s), nil
	}
	if n := tupleLen(args[0]); n >= 0 {
		return n, nil
	}
	return nil, fmt.Errorf("%w: %T has no length", ErrType, args[0])
}

// tupleLen returns the length of a tuple value, or -1.
func tupleLen(v any) int {
	switch x := v.(type) {
	case []any:
		return len(x)
	case []float64:
		return len(x)
	case []int:
		return len(x)
	case []bool:
		return len(x)
	case []string:
		return len(x)
	}
	return -1
}
