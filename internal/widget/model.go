package widget

import (
	"sync"

	"cncpanel/internal/channel"
)

// Snapshot is a copy of a model widget's display state.
type Snapshot struct {
	Name       string
	Type       string
	Enabled    bool
	Visible    bool
	StyleClass string
	Text       string
	Checked    bool
	On         bool
	Value      float64
}

// Base holds the properties every model widget has. Model widgets are safe
// for concurrent use; change callbacks run outside the lock.
type Base struct {
	mu        sync.RWMutex
	state     Snapshot
	onChange  []func()
	listeners []func(any)
}

func (b *Base) init(name, typ string) {
	b.state = Snapshot{Name: name, Type: typ, Enabled: true, Visible: true}
}

// WidgetName returns the widget name.
func (b *Base) WidgetName() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state.Name
}

// Snapshot returns a copy of the display state.
func (b *Base) Snapshot() Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// OnChange registers fn to run after any display property changes.
func (b *Base) OnChange(fn func()) {
	b.mu.Lock()
	b.onChange = append(b.onChange, fn)
	b.mu.Unlock()
}

// OnValueChanged registers fn to run when the operator changes the value.
func (b *Base) OnValueChanged(fn func(v any)) {
	b.mu.Lock()
	b.listeners = append(b.listeners, fn)
	b.mu.Unlock()
}

// update applies edit and runs the change callbacks if anything changed.
func (b *Base) update(edit func(s *Snapshot)) {
	b.mu.Lock()
	before := b.state
	edit(&b.state)
	changed := before != b.state
	callbacks := append([]func(){}, b.onChange...)
	b.mu.Unlock()

	if !changed {
		return
	}
	for _, fn := range callbacks {
		fn()
	}
}

// emit runs the value listeners.
func (b *Base) emit(v any) {
	b.mu.RLock()
	listeners := append([]func(any){}, b.listeners...)
	b.mu.RUnlock()

	for _, fn := range listeners {
		fn(v)
	}
}

// SetEnabled enables or disables the widget.
func (b *Base) SetEnabled(enabled bool) {
	b.update(func(s *Snapshot) { s.Enabled = enabled })
}

// SetVisible shows or hides the widget.
func (b *Base) SetVisible(visible bool) {
	b.update(func(s *Snapshot) { s.Visible = visible })
}

// SetStyleClass sets the style class used when rendering.
func (b *Base) SetStyleClass(class string) {
	b.update(func(s *Snapshot) { s.StyleClass = class })
}

// RuleProperties returns the properties shared by every widget.
func (b *Base) RuleProperties() map[string]RuleProperty {
	return map[string]RuleProperty{
		"Enable":      {Kind: KindBool, Apply: func(v any) { b.SetEnabled(channel.Truthy(v)) }},
		"Visible":     {Kind: KindBool, Apply: func(v any) { b.SetVisible(channel.Truthy(v)) }},
		"Style Class": {Kind: KindString, Apply: func(v any) { b.SetStyleClass(channel.FormatValue(v)) }},
	}
}

// Label shows text.
type Label struct {
	Base
}

// NewLabel creates a label.
func NewLabel(name, text string) *Label {
	l := &Label{}
	l.init(name, "label")
	l.state.Text = text
	return l
}

// SetText sets the label text.
func (l *Label) SetText(text string) {
	l.update(func(s *Snapshot) { s.Text = text })
}

// SetValue shows a channel value as text.
func (l *Label) SetValue(v any) {
	l.SetText(channel.FormatValue(v))
}

// RuleProperties adds Text to the base properties.
func (l *Label) RuleProperties() map[string]RuleProperty {
	props := l.Base.RuleProperties()
	props["Text"] = RuleProperty{Kind: KindString, Apply: func(v any) { l.SetText(channel.FormatValue(v)) }}
	return props
}

// Button is a push button that can be checkable.
type Button struct {
	Base
}

// NewButton creates a button.
func NewButton(name, text string) *Button {
	b := &Button{}
	b.init(name, "button")
	b.state.Text = text
	return b
}

// SetText sets the caption.
func (b *Button) SetText(text string) {
	b.update(func(s *Snapshot) { s.Text = text })
}

// SetChecked sets the checked state without notifying value listeners.
func (b *Button) SetChecked(checked bool) {
	b.update(func(s *Snapshot) { s.Checked = checked })
}

// SetValue checks the button when the value is truthy.
func (b *Button) SetValue(v any) {
	b.SetChecked(channel.Truthy(v))
}

// Toggle is the operator pressing the button. Disabled buttons ignore it.
func (b *Button) Toggle() {
	snap := b.Snapshot()
	if !snap.Enabled {
		return
	}
	b.SetChecked(!snap.Checked)
	b.emit(!snap.Checked)
}

// RuleProperties adds Text and Checked to the base properties.
func (b *Button) RuleProperties() map[string]RuleProperty {
	props := b.Base.RuleProperties()
	props["Text"] = RuleProperty{Kind: KindString, Apply: func(v any) { b.SetText(channel.FormatValue(v)) }}
	props["Checked"] = RuleProperty{Kind: KindBool, Apply: func(v any) { b.SetChecked(channel.Truthy(v)) }}
	return props
}

// LED is an on/off indicator.
type LED struct {
	Base
}

// NewLED creates an indicator.
func NewLED(name string) *LED {
	l := &LED{}
	l.init(name, "led")
	return l
}

// SetOn lights the indicator.
func (l *LED) SetOn(on bool) {
	l.update(func(s *Snapshot) { s.On = on })
}

// SetValue lights the indicator when the value is truthy.
func (l *LED) SetValue(v any) {
	l.SetOn(channel.Truthy(v))
}

// RuleProperties adds On to the base properties.
func (l *LED) RuleProperties() map[string]RuleProperty {
	props := l.Base.RuleProperties()
	props["On"] = RuleProperty{Kind: KindBool, Apply: func(v any) { l.SetOn(channel.Truthy(v)) }}
	return props
}

// Number displays and edits a numeric value.
type Number struct {
	Base
}

// NewNumber creates a numeric display.
func NewNumber(name string) *Number {
	n := &Number{}
	n.init(name, "number")
	return n
}

// SetNumber sets the displayed value.
func (n *Number) SetNumber(f float64) {
	n.update(func(s *Snapshot) { s.Value = f })
}

// SetValue displays a channel value. Non-numeric values are ignored.
func (n *Number) SetValue(v any) {
	if f, err := channel.ToFloat(v); err == nil {
		n.SetNumber(f)
	}
}

// Enter is the operator typing a new value.
func (n *Number) Enter(f float64) {
	if !n.Snapshot().Enabled {
		return
	}
	n.SetNumber(f)
	n.emit(f)
}

// RuleProperties adds Value to the base properties.
func (n *Number) RuleProperties() map[string]RuleProperty {
	props := n.Base.RuleProperties()
	props["Value"] = RuleProperty{Kind: KindNumber, Apply: func(v any) { n.SetValue(v) }}
	return props
}

var (
	_ RuleTarget    = (*Label)(nil)
	_ ValueSetter   = (*Label)(nil)
	_ RuleTarget    = (*Button)(nil)
	_ ValueSetter   = (*Button)(nil)
	_ ValueNotifier = (*Button)(nil)
	_ RuleTarget    = (*LED)(nil)
	_ ValueSetter   = (*LED)(nil)
	_ RuleTarget    = (*Number)(nil)
	_ ValueSetter   = (*Number)(nil)
	_ ValueNotifier = (*Number)(nil)
)
