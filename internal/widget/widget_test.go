package widget

import (
	"errors"
	"testing"

	"cncpanel/internal/channel"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRuleProperties(t *testing.T) {
	tests := []struct {
		target RuleTarget
		want   []string
	}{
		{NewLabel("status", ""), []string{"Enable", "Style Class", "Text", "Visible"}},
		{NewButton("power", "Power"), []string{"Checked", "Enable", "Style Class", "Text", "Visible"}},
		{NewLED("estop"), []string{"Enable", "On", "Style Class", "Visible"}},
		{NewNumber("feed"), []string{"Enable", "Style Class", "Value", "Visible"}},
	}

	for _, tt := range tests {
		t.Run(tt.target.WidgetName(), func(t *testing.T) {
			assert.Equal(t, tt.want, PropertyNames(tt.target))
		})
	}

	_, err := Property(NewLED("estop"), "Text")
	assert.Error(t, err)
}

func TestRuleProperty_Apply(t *testing.T) {
	b := NewButton("cycle-start", "Start")
	changes := 0
	b.OnChange(func() { changes++ })

	props := b.RuleProperties()
	props["Enable"].Apply(false)
	props["Enable"].Apply(false)
	props["Text"].Apply(42)
	props["Style Class"].Apply("warning")

	snap := b.Snapshot()
	assert.False(t, snap.Enabled)
	assert.Equal(t, "42", snap.Text)
	assert.Equal(t, "warning", snap.StyleClass)
	assert.Equal(t, 3, changes, "unchanged values do not notify")
}

func TestButton_Toggle(t *testing.T) {
	b := NewButton("mist", "Mist")
	var got []any
	b.OnValueChanged(func(v any) { got = append(got, v) })

	b.Toggle()
	b.Toggle()
	b.SetEnabled(false)
	b.Toggle()

	assert.Equal(t, []any{true, false}, got)
	assert.False(t, b.Snapshot().Checked)
}

func TestBind_OneWay(t *testing.T) {
	ch := channel.New("task_state", channel.WithValue(4), channel.WithFormatter(
		func(c *channel.Channel, q channel.Query) (string, error) {
			if c.Raw() == 4 {
				return "On", nil
			}
			return "Off", nil
		}))
	label := NewLabel("state", "")

	q, err := channel.ParseQuery("text")
	require.NoError(t, err)
	b := Bind(ch, ch.Accessor(q), label, nil)
	require.NotNil(t, b)
	assert.Equal(t, "On", label.Snapshot().Text)

	ch.Update(3)
	assert.Equal(t, "Off", label.Snapshot().Text)

	b.Close()
	ch.Update(4)
	assert.Equal(t, "Off", label.Snapshot().Text)
	assert.Equal(t, 0, ch.Subscribers())
}

func TestBind_TwoWay(t *testing.T) {
	var writes []any
	ch := channel.New("flood", channel.WithValue(false), channel.WithSetter(func(c *channel.Channel, v any) error {
		writes = append(writes, v)
		c.Store(v)
		return nil
	}))
	button := NewButton("flood", "Flood")

	b := Bind(ch, ch.Accessor(channel.Query{}), button, nil)
	require.NotNil(t, b)

	button.Toggle()
	assert.Equal(t, []any{true}, writes)
	assert.Equal(t, true, ch.Raw())
	assert.True(t, button.Snapshot().Checked)

	// Channel changes reach the widget without being written back
	ch.Update(false)
	assert.False(t, button.Snapshot().Checked)
	assert.Len(t, writes, 1)
}

func TestBind_ReadOnlyChannel(t *testing.T) {
	ch := channel.New("feed", channel.WithValue(1.0))
	n := NewNumber("feed")

	Bind(ch, ch.Accessor(channel.Query{}), n, nil)
	assert.Equal(t, 1.0, n.Snapshot().Value)

	n.Enter(2.0)
	assert.Equal(t, 1.0, ch.Raw(), "read-only channel is not written")
}

func TestBind_SetterError(t *testing.T) {
	ch := channel.New("speed", channel.WithValue(0.0), channel.WithSetter(func(c *channel.Channel, v any) error {
		return errors.New("rejected")
	}))
	n := NewNumber("speed")
	Bind(ch, ch.Accessor(channel.Query{}), n, nil)

	assert.NotPanics(t, func() { n.Enter(5) })
	assert.Equal(t, 0.0, ch.Raw())
}

func TestBind_Unbindable(t *testing.T) {
	ch := channel.New("x")
	assert.Nil(t, Bind(ch, ch.Accessor(channel.Query{}), struct{}{}, nil))
	assert.Nil(t, Bind(nil, nil, NewLED("x"), nil))
}
