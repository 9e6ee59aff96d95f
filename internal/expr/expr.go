// Package expr implements the small expression language used by widget
// rules. Expressions are parsed into a tree and evaluated against a vector
// of channel values; only literals, operators, indexing and a fixed set of
// functions are available.
//
//	ch[0] and not ch[1]
//	"Homed" if ch[0] else "Not homed"
//	round(ch[0][2], 3) * 25.4
package expr

import (
	"errors"
	"fmt"

	"cncpanel/internal/channel"

	lru "github.com/hashicorp/golang-lru/v2"
)

var (
	// ErrSyntax is returned for expressions that do not parse.
	ErrSyntax = errors.New("syntax error")

	// ErrType is returned when an operation gets operands of the wrong type.
	ErrType = errors.New("type error")

	// ErrEval is returned for other evaluation failures such as division by
	// zero or an index out of range.
	ErrEval = errors.New("evaluation error")
)

// DefaultInputName is the name of the input vector.
const DefaultInputName = "ch"

// DefaultCacheSize bounds the number of compiled programs kept.
const DefaultCacheSize = 256

// Kind is the statically inferred result kind of an expression.
type Kind int

const (
	KindUnknown Kind = iota
	KindBool
	KindNumber
	KindString
)

func (k Kind) String() string {
	switch k {
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	default:
		return "unknown"
	}
}

// KindOf returns the kind of a runtime value.
func KindOf(v any) Kind {
	return kindOf(v)
}

func kindOf(v any) Kind {
	switch v.(type) {
	case bool:
		return KindBool
	case string:
		return KindString
	case nil:
		return KindUnknown
	}
	if isNumber(v) {
		return KindNumber
	}
	return KindUnknown
}

// Truthy follows Python truthiness.
func Truthy(v any) bool {
	return channel.Truthy(v)
}

// Program is a compiled expression. It is immutable and safe to share.
type Program struct {
	source   string
	root     node
	maxInput int
}

// Source returns the expression text.
func (p *Program) Source() string { return p.source }

// Kind returns the inferred result kind, KindUnknown when it depends on
// the inputs.
func (p *Program) Kind() Kind { return p.root.kind() }

// Inputs returns how many inputs the expression addresses with literal
// indices: one more than the highest literal index used.
func (p *Program) Inputs() int { return p.maxInput + 1 }

// Eval evaluates the program against the input vector.
func (p *Program) Eval(inputs []any) (any, error) {
	return p.root.eval(inputs)
}

// Compiler compiles expressions and caches the results.
type Compiler struct {
	inputName string
	cache     *lru.Cache[string, *Program]
}

// NewCompiler creates a compiler whose input vector is called inputName.
func NewCompiler(inputName string, cacheSize int) (*Compiler, error) {
	if inputName == "" {
		inputName = DefaultInputName
	}
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	if _, reserved := builtins[inputName]; reserved {
		return nil, fmt.Errorf("input name %q shadows a function", inputName)
	}

	cache, err := lru.New[string, *Program](cacheSize)
	if err != nil {
		return nil, err
	}
	return &Compiler{inputName: inputName, cache: cache}, nil
}

// Compile parses src, returning a cached program when src was compiled before.
func (c *Compiler) Compile(src string) (*Program, error) {
	if p, ok := c.cache.Get(src); ok {
		return p, nil
	}

	root, maxInput, err := parse(src, c.inputName)
	if err != nil {
		return nil, fmt.Errorf("%q: %w", src, err)
	}

	p := &Program{source: src, root: root, maxInput: maxInput}
	c.cache.Add(src, p)
	return p, nil
}

// Cached returns the number of programs in the cache.
func (c *Compiler) Cached() int {
	return c.cache.Len()
}

var defaultCompiler = func() *Compiler {
	c, err := NewCompiler(DefaultInputName, DefaultCacheSize)
	if err != nil {
		panic(err)
	}
	return c
}()

// Compile compiles src with the default compiler.
func Compile(src string) (*Program, error) {
	return defaultCompiler.Compile(src)
}

// Eval compiles and evaluates src in one step.
func Eval(src string, inputs ...any) (any, error) {
	p, err := Compile(src)
	if err != nil {
		return nil, err
	}
	return p.Eval(inputs)
}
