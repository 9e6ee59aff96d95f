package channel

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestParseQuery(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		args    []string
		kwargs  map[string]string
		wantErr bool
	}{
		{name: "empty", raw: ""},
		{name: "flag", raw: "string", args: []string{"string"}},
		{name: "kwarg", raw: "anum=0", kwargs: map[string]string{"anum": "0"}},
		{name: "mixed", raw: "text&anum=2&format=%H", args: []string{"text"}, kwargs: map[string]string{"anum": "2", "format": "%H"}},
		{name: "empty tokens ignored", raw: "&&string&", args: []string{"string"}},
		{name: "missing key", raw: "=3", wantErr: true},
		{name: "missing value", raw: "anum=", wantErr: true},
		{name: "double equals", raw: "a=b=c", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := ParseQuery(tt.raw)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrMalformedQuery)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.args, q.Args)
			assert.Equal(t, tt.kwargs, q.Kwargs)
		})
	}
}

func TestQuery_StringIsCanonical(t *testing.T) {
	q, err := ParseQuery("str&b=2&a=1")
	require.NoError(t, err)
	assert.Equal(t, "str&a=1&b=2", q.String())
	assert.True(t, q.WantsString())
	assert.Equal(t, "a=1&b=2", q.WithoutStringFlag().String())
}

func TestChannel_ValueAndString(t *testing.T) {
	c := New("position", WithType(TypeTuple), WithValue([]float64{1.5, 2, -3}))

	v, err := c.Value(Query{})
	require.NoError(t, err)
	assert.Equal(t, []float64{1.5, 2, -3}, v)

	v, err = c.Value(Query{Kwargs: map[string]string{"index": "2"}})
	require.NoError(t, err)
	assert.Equal(t, -3.0, v)

	_, err = c.Value(Query{Kwargs: map[string]string{"index": "9"}})
	assert.ErrorIs(t, err, ErrBadIndex)

	s, err := c.String(Query{})
	require.NoError(t, err)
	assert.Equal(t, "(1.5, 2, -3)", s)
}

func TestChannel_ValueSelectsByAxisNumber(t *testing.T) {
	c := New("gcodes", WithType(TypeTuple), WithValue([]any{0, 800, -1}))

	v, err := c.Value(Query{Kwargs: map[string]string{"anum": "1"}})
	require.NoError(t, err)
	assert.Equal(t, 800, v)

	s, err := c.String(Query{Kwargs: map[string]string{"anum": "1"}})
	require.NoError(t, err)
	assert.Equal(t, "800", s)

	_, err = c.Value(Query{Kwargs: map[string]string{"anum": "3"}})
	assert.ErrorIs(t, err, ErrBadIndex)

	_, err = c.Value(Query{Kwargs: map[string]string{"anum": "x"}})
	assert.ErrorIs(t, err, ErrBadIndex)

	v, err = c.Value(Query{Kwargs: map[string]string{"index": "2", "anum": "0"}})
	require.NoError(t, err)
	assert.Equal(t, -1, v, "index takes precedence")
}

func TestChannel_CustomAccessors(t *testing.T) {
	states := map[int]string{1: "ESTOP", 2: "ESTOP_RESET", 4: "ON"}

	c := New("task_state",
		WithValue(4),
		WithGetter(func(c *Channel, q Query) (any, error) {
			return c.Raw().(int) * 10, nil
		}),
		WithFormatter(func(c *Channel, q Query) (string, error) {
			return states[c.Raw().(int)], nil
		}),
	)

	v, err := c.Value(Query{})
	require.NoError(t, err)
	assert.Equal(t, 40, v)

	s, err := c.String(Query{})
	require.NoError(t, err)
	assert.Equal(t, "ON", s)

	acc := c.Accessor(Query{Args: []string{"text"}})
	got, err := acc()
	require.NoError(t, err)
	assert.Equal(t, "ON", got)
}

func TestChannel_NotifyDeliversPerQuery(t *testing.T) {
	c := New("task_state", WithFormatter(func(c *Channel, q Query) (string, error) {
		if c.Raw() == 4 {
			return "ON", nil
		}
		return "OFF", nil
	}))

	var raw, text []any
	c.Notify(func(v any) { raw = append(raw, v) }, Query{})
	c.Notify(func(v any) { text = append(text, v) }, Query{Args: []string{"string"}})

	c.Update(4)
	c.Update(1)

	assert.Equal(t, []any{4, 1}, raw)
	assert.Equal(t, []any{"ON", "OFF"}, text)
}

func TestChannel_SubscriberIsolation(t *testing.T) {
	c := New("feed_override", WithLogger(zap.NewNop()))

	var before, after []any
	c.Notify(func(v any) { before = append(before, v) }, Query{})
	c.Notify(func(v any) { panic("bad subscriber") }, Query{})
	c.Notify(func(v any) { after = append(after, v) }, Query{})

	assert.NotPanics(t, func() { c.Update(1.25) })
	assert.Equal(t, []any{1.25}, before)
	assert.Equal(t, []any{1.25}, after)
}

func TestChannel_Cancel(t *testing.T) {
	c := New("estop")

	calls := 0
	sub := c.Notify(func(v any) { calls++ }, Query{})
	c.Update(true)

	sub.Cancel()
	sub.Cancel()
	c.Update(false)

	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, c.Subscribers())
}

func TestChannel_CancelDuringFire(t *testing.T) {
	c := New("estop")

	var second int
	var first *Subscription
	first = c.Notify(func(v any) { first.Cancel() }, Query{})
	c.Notify(func(v any) { second++ }, Query{})

	c.Update(true)
	c.Update(false)

	assert.Equal(t, 2, second)
	assert.Equal(t, 1, c.Subscribers())
}

func TestChannel_Set(t *testing.T) {
	t.Run("read only", func(t *testing.T) {
		c := New("homed")
		err := c.Set(true)
		assert.ErrorIs(t, err, ErrNotSettable)
	})

	t.Run("settable stores and fires", func(t *testing.T) {
		c := New("jog_speed", WithSettable(), WithValue(10.0))
		var got []any
		c.Notify(func(v any) { got = append(got, v) }, Query{})

		require.NoError(t, c.Set(10.0))
		require.NoError(t, c.Set(20.0))

		assert.Equal(t, []any{10.0, 20.0}, got)
		assert.Equal(t, 20.0, c.Raw())
	})

	t.Run("setter decides what is stored", func(t *testing.T) {
		var sent []any
		c := New("feed_override", WithValue(1.0), WithSetter(func(c *Channel, v any) error {
			sent = append(sent, v)
			return nil
		}))

		var got []any
		c.Notify(func(v any) { got = append(got, v) }, Query{})

		require.NoError(t, c.Set(1.5))
		assert.Equal(t, []any{1.5}, sent)
		assert.Equal(t, []any{1.0}, got)
		assert.Equal(t, 1.0, c.Raw())
	})

	t.Run("setter error", func(t *testing.T) {
		boom := errors.New("boom")
		c := New("spindle", WithSetter(func(c *Channel, v any) error { return boom }))
		calls := 0
		c.Notify(func(v any) { calls++ }, Query{})

		err := c.Set(1)
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, 0, calls)
	})
}

func TestFormatValue(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{nil, ""},
		{true, "true"},
		{42, "42"},
		{0.1, "0.1"},
		{"abc", "abc"},
		{[]any{1, "x", false}, "(1, x, false)"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatValue(tt.in))
	}
}

func TestTruthy(t *testing.T) {
	assert.False(t, Truthy(nil))
	assert.False(t, Truthy(0))
	assert.False(t, Truthy(0.0))
	assert.False(t, Truthy(""))
	assert.False(t, Truthy([]float64{}))
	assert.True(t, Truthy(1))
	assert.True(t, Truthy("x"))
	assert.True(t, Truthy([]bool{false}))
}
