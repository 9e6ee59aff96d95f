package expr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEval(t *testing.T) {
	tests := []struct {
		name   string
		src    string
		inputs []any
		want   any
	}{
		{"and true", "ch[0] and ch[1]", []any{true, true}, true},
		{"and false", "ch[0] and ch[1]", []any{true, false}, false},
		{"and yields bool", "ch[0] and ch[1]", []any{1, "x"}, true},
		{"c style", "ch[0] && !ch[1]", []any{true, false}, true},
		{"or", "ch[0] or ch[1]", []any{false, 0}, false},
		{"not is loose", "not ch[0] == 1", []any{1}, false},
		{"bang is tight", "!ch[0] == false", []any{1}, true},
		{"precedence", "1 + 2 * 3", nil, 7},
		{"parens", "(1 + 2) * 3", nil, 9},
		{"true division", "7 / 2", nil, 3.5},
		{"int modulo", "-7 % 3", nil, 2},
		{"float modulo", "7.5 % 2", nil, 1.5},
		{"unary minus", "-ch[0] + 1", []any{4}, -3},
		{"mixed", "ch[0] * 2", []any{1.25}, 2.5},
		{"bool arithmetic", "True + True", nil, 2},
		{"comparison", "ch[0] >= 10", []any{10.0}, true},
		{"int float equal", "ch[0] == 1", []any{1.0}, true},
		{"string compare", "'abc' < \"abd\"", nil, true},
		{"string concat", "'G' + str(ch[0])", []any{54}, "G54"},
		{"string equality", "ch[0] == 'On'", []any{"On"}, true},
		{"none", "ch[0] == None", []any{nil}, true},
		{"conditional", "'Homed' if ch[0] else 'Not homed'", []any{false}, "Not homed"},
		{"nested conditional", "'a' if ch[0] > 1 else 'b' if ch[0] > 0 else 'c'", []any{1}, "b"},
		{"conditional binds loosest", "1 if ch[0] or ch[1] else 2", []any{false, true}, 1},
		{"tuple index", "ch[0][2]", []any{[]any{1.0, 2.0, 3.0}}, 3.0},
		{"negative index", "ch[0][-1]", []any{[]any{1, 2, 3}}, 3},
		{"string index", "ch[0][0]", []any{"Hello"}, "H"},
		{"abs", "abs(-3)", nil, 3},
		{"min", "min(3, 1.5, 2)", nil, 1.5},
		{"max tuple", "max(ch[0])", []any{[]any{1, 9, 4}}, 9},
		{"round half even", "round(2.5)", nil, 2},
		{"round digits", "round(1.23456, 2)", nil, 1.23},
		{"int", "int('12') + int(3.9)", nil, 15},
		{"float", "float('2.5')", nil, 2.5},
		{"bool", "bool(ch[0])", []any{""}, false},
		{"len", "len(ch[0]) == 3", []any{[]any{1, 2, 3}}, true},
		{"exponent literal", "1e3", nil, 1000.0},
		{"trig", "tan(radians(ch[0]))", []any{0}, 0.0},
		{"escaped quote", `'it\'s'`, nil, "it's"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := Compile(tt.src)
			require.NoError(t, err)
			got, err := p.Eval(tt.inputs)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCompile_SyntaxErrors(t *testing.T) {
	tests := []string{
		"",
		"ch[0] and",
		"(1 + 2",
		"ch",
		"ch[-1]",
		"ch[1.5]",
		"__import__('os')",
		"open('x')",
		"ch[0].real",
		"1 if ch[0]",
		"max()",
		"round(1, 2, 3)",
		"'unterminated",
		"1 2",
		"ch[0] @ 2",
		"lambda: 1",
	}

	for _, src := range tests {
		t.Run(src, func(t *testing.T) {
			_, err := Compile(src)
			assert.ErrorIs(t, err, ErrSyntax)
		})
	}
}

func TestEval_RuntimeErrors(t *testing.T) {
	tests := []struct {
		src    string
		inputs []any
		want   error
	}{
		{"ch[2]", []any{1, 2}, ErrEval},
		{"1 / ch[0]", []any{0}, ErrEval},
		{"ch[0] % 0", []any{5}, ErrEval},
		{"ch[0][5]", []any{[]any{1}}, ErrEval},
		{"ch[0] - 'x'", []any{1}, ErrType},
		{"ch[0] < 'x'", []any{1}, ErrType},
		{"-ch[0]", []any{"x"}, ErrType},
		{"abs(ch[0])", []any{"x"}, ErrType},
		{"int(ch[0])", []any{"twelve"}, ErrEval},
	}

	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			p, err := Compile(tt.src)
			require.NoError(t, err)
			_, err = p.Eval(tt.inputs)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestProgram_Kind(t *testing.T) {
	tests := []struct {
		src  string
		want Kind
	}{
		{"ch[0] and ch[1]", KindBool},
		{"not ch[0]", KindBool},
		{"ch[0] > 3", KindBool},
		{"bool(ch[0])", KindBool},
		{"ch[0] * 2", KindNumber},
		{"1 + 2", KindNumber},
		{"round(ch[0], 2)", KindNumber},
		{"'a' + 'b'", KindString},
		{"str(ch[0])", KindString},
		{"'on' if ch[0] else 'off'", KindString},
		{"'on' if ch[0] else 0", KindUnknown},
		{"ch[0]", KindUnknown},
		{"ch[0] + ch[1]", KindUnknown},
		{"max(ch[0], ch[1])", KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			p, err := Compile(tt.src)
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.Kind())
		})
	}
}

func TestProgram_Inputs(t *testing.T) {
	p, err := Compile("ch[0] and ch[3]")
	require.NoError(t, err)
	assert.Equal(t, 4, p.Inputs())

	p, err = Compile("1 + 1")
	require.NoError(t, err)
	assert.Equal(t, 0, p.Inputs())
}

func TestCompiler(t *testing.T) {
	c, err := NewCompiler("v", 2)
	require.NoError(t, err)

	p, err := c.Compile("v[0] + 1")
	require.NoError(t, err)
	got, err := p.Eval([]any{1})
	require.NoError(t, err)
	assert.Equal(t, 2, got)

	_, err = c.Compile("ch[0]")
	assert.ErrorIs(t, err, ErrSyntax)

	again, err := c.Compile("v[0] + 1")
	require.NoError(t, err)
	assert.Same(t, p, again)

	_, _ = c.Compile("v[1]")
	_, _ = c.Compile("v[2]")
	assert.Equal(t, 2, c.Cached())

	_, err = NewCompiler("max", 0)
	assert.Error(t, err)
}

func TestTruthy(t *testing.T) {
	assert.False(t, Truthy(nil))
	assert.False(t, Truthy(0))
	assert.False(t, Truthy(0.0))
	assert.False(t, Truthy(""))
	assert.False(t, Truthy([]any{}))
	assert.True(t, Truthy("0"))
	assert.True(t, Truthy(-1))
	assert.True(t, Truthy([]any{false}))
}

func TestEvalHelper(t *testing.T) {
	got, err := Eval("ch[0] + ch[1]", 2, 3)
	require.NoError(t, err)
	assert.Equal(t, 5, got)
}
