package panel

import (
	"strings"
	"testing"

	"cncpanel/internal/channel"
	"cncpanel/internal/config"
	"cncpanel/internal/rules"
	"cncpanel/internal/widget"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeResolver map[string]*channel.Channel

func (f fakeResolver) Resolve(url string) (*channel.Channel, channel.Accessor) {
	name, rawQuery, _ := strings.Cut(url, "?")
	ch, ok := f[name]
	if !ok {
		return nil, nil
	}
	q, err := channel.ParseQuery(rawQuery)
	if err != nil {
		return nil, nil
	}
	return ch, ch.Accessor(q)
}

type machine struct {
	res   fakeResolver
	on    *channel.Channel
	flood *channel.Channel
	feed  *channel.Channel
	pos   *channel.Channel
}

func newMachine() *machine {
	m := &machine{
		on:    channel.New("on", channel.WithType(channel.TypeBool), channel.WithValue(false)),
		flood: channel.New("flood", channel.WithType(channel.TypeBool), channel.WithValue(false), channel.WithSettable()),
		feed:  channel.New("feed", channel.WithType(channel.TypeFloat), channel.WithValue(100.0), channel.WithSettable()),
		pos:   channel.New("position", channel.WithType(channel.TypeTuple), channel.WithValue([]any{1.0, 2.0, 3.0})),
	}
	m.res = fakeResolver{
		"status:on":       m.on,
		"status:flood":    m.flood,
		"settings:feed":   m.feed,
		"status:position": m.pos,
	}
	return m
}

var testLayout = config.PanelConfig{
	Title: "Mill",
	Widgets: []config.WidgetConfig{
		{Name: "power", Type: "led", Channel: "status:on"},
		{Name: "flood", Type: "button", Text: "Flood", Channel: "status:flood",
			Rules: `[{"property": "Enable", "expression": "ch[0]",
			          "channels": [{"url": "status:on", "trigger": true}]}]`},
		{Name: "feed", Type: "number", Channel: "settings:feed"},
		{Name: "x", Type: "label", Channel: "status:position?index=0"},
	},
}

func build(t *testing.T, m *machine) *Panel {
	t.Helper()
	p, err := Build(testLayout, m.res, rules.NewEngine(m.res), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(p.Close)
	return p
}

func key(s string) tea.KeyMsg {
	switch s {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "up":
		return tea.KeyMsg{Type: tea.KeyUp}
	case "down":
		return tea.KeyMsg{Type: tea.KeyDown}
	case "ctrl+c":
		return tea.KeyMsg{Type: tea.KeyCtrlC}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func press(m Model, keys ...string) Model {
	for _, k := range keys {
		next, _ := m.Update(key(k))
		m = next.(Model)
	}
	return m
}

func TestBuild(t *testing.T) {
	m := newMachine()
	p := build(t, m)

	require.Len(t, p.Items, 4)
	assert.Equal(t, "Mill", p.Title)

	x := p.Items[3].Control.Snapshot()
	assert.Equal(t, "1", x.Text, "label shows the queried tuple element")

	flood := p.Items[1].Control.Snapshot()
	assert.False(t, flood.Enabled, "rule disables flood while the machine is off")

	m.on.Update(true)
	assert.True(t, p.Items[0].Control.Snapshot().On)
	assert.True(t, p.Items[1].Control.Snapshot().Enabled)

	m.pos.Update([]any{-7.5, 2.0, 3.0})
	assert.Equal(t, "-7.5", p.Items[3].Control.Snapshot().Text)
}

func TestBuild_Errors(t *testing.T) {
	m := newMachine()
	layout := config.PanelConfig{Widgets: []config.WidgetConfig{
		{Name: "gone", Type: "led", Channel: "status:missing"},
		{Name: "bad", Type: "slider"},
		{Name: "norules", Type: "label", Rules: `[{"property": "Text", "expression": "1", "channels": []}]`},
	}}

	p, err := Build(layout, m.res, rules.NewEngine(m.res), nil)
	require.Error(t, err)
	defer p.Close()

	assert.Contains(t, err.Error(), "cannot bind status:missing")
	assert.Contains(t, err.Error(), `unknown type "slider"`)
	assert.Contains(t, err.Error(), "norules")
	assert.Len(t, p.Items, 2, "widgets with bad channels or rules are still shown")
}

func TestPanel_ChangesCoalesce(t *testing.T) {
	m := newMachine()
	p := build(t, m)

	// drain anything raised while building
	select {
	case <-p.Changes():
	default:
	}

	m.on.Update(true)
	m.pos.Update([]any{9.0, 0.0, 0.0})

	select {
	case <-p.Changes():
	default:
		t.Fatal("expected a change signal")
	}
	select {
	case <-p.Changes():
		t.Fatal("bursts must coalesce into one signal")
	default:
	}
}

func TestPanel_Close(t *testing.T) {
	m := newMachine()
	p, err := Build(testLayout, m.res, rules.NewEngine(m.res), nil)
	require.NoError(t, err)

	assert.Equal(t, 2, m.on.Subscribers(), "led binding and flood rule")
	p.Close()
	assert.Equal(t, 0, m.on.Subscribers())
	assert.Equal(t, 0, m.pos.Subscribers())
}

func TestModel_Navigation(t *testing.T) {
	m := newMachine()
	model := NewModel(build(t, m), nil)

	assert.Equal(t, "power", model.current().Config.Name)

	model = press(model, "down", "j")
	assert.Equal(t, "feed", model.current().Config.Name)

	model = press(model, "j", "j", "j")
	assert.Equal(t, "x", model.current().Config.Name, "selection stops at the last widget")

	model = press(model, "up", "k", "k", "k", "k")
	assert.Equal(t, "power", model.current().Config.Name)
}

func TestModel_ToggleButton(t *testing.T) {
	m := newMachine()
	p := build(t, m)

	var posted int
	model := NewModel(p, func(fn func()) {
		posted++
		fn()
	})
	model = press(model, "j")

	model = press(model, "enter")
	assert.False(t, m.flood.Raw().(bool), "disabled buttons ignore presses")

	m.on.Update(true)
	model = press(model, "enter")
	assert.True(t, m.flood.Raw().(bool))
	model = press(model, " ")
	assert.False(t, m.flood.Raw().(bool))
	assert.Equal(t, 3, posted)

	// enter on a widget that is not a button does nothing
	press(model, "k", "enter")
	assert.Equal(t, 3, posted)
}

func TestModel_AdjustNumber(t *testing.T) {
	m := newMachine()
	model := NewModel(build(t, m), nil)
	model = press(model, "j", "j")

	model = press(model, "+", "+", "=")
	assert.Equal(t, 103.0, m.feed.Raw())
	press(model, "-")
	assert.Equal(t, 102.0, m.feed.Raw())
}

func TestModel_Quit(t *testing.T) {
	model := NewModel(build(t, newMachine()), nil)

	for _, k := range []string{"q", "ctrl+c"} {
		_, cmd := model.Update(key(k))
		require.NotNil(t, cmd, k)
		assert.IsType(t, tea.QuitMsg{}, cmd(), k)
	}

	_, cmd := model.Update(key("x"))
	assert.Nil(t, cmd)
}

func TestModel_Refresh(t *testing.T) {
	m := newMachine()
	p := build(t, m)
	model := NewModel(p, nil)

	m.on.Update(true)
	msg := model.Init()()
	assert.IsType(t, refreshMsg{}, msg)

	_, cmd := model.Update(msg)
	assert.NotNil(t, cmd, "keeps listening after a refresh")
}

func TestModel_View(t *testing.T) {
	m := newMachine()
	p := build(t, m)
	model := NewModel(p, nil)

	view := model.View()
	assert.Contains(t, view, "Mill")
	assert.Contains(t, view, "▸ power")
	assert.Contains(t, view, "○")
	assert.Contains(t, view, "[ ] Flood")
	assert.Contains(t, view, "100")

	m.on.Update(true)
	m.flood.Update(true)
	view = model.View()
	assert.Contains(t, view, "●")
	assert.Contains(t, view, "[x] Flood")

	p.Items[3].Control.(*widget.Label).SetVisible(false)
	assert.NotContains(t, model.View(), " x ")
}
