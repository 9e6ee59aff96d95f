// Package widget defines what a panel control has to offer to be driven by
// channels: a table of rule properties and, optionally, the settable value
// and change notification capabilities used by Bind. It also carries a few
// headless model widgets that the terminal panel renders.
package widget

import (
	"fmt"
	"sort"
)

// Kind is the value type a rule property accepts.
type Kind int

const (
	// KindNone accepts any value.
	KindNone Kind = iota
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
		return "any"
	}
}

// RuleProperty is one entry of a widget's rule property table.
type RuleProperty struct {
	Kind  Kind
	Apply func(v any)
}

// RuleTarget is a widget whose properties can be driven by rules.
type RuleTarget interface {
	WidgetName() string
	RuleProperties() map[string]RuleProperty
}

// ValueSetter is a widget that displays a channel value.
type ValueSetter interface {
	SetValue(v any)
}

// ValueNotifier is a widget whose value the operator can change.
type ValueNotifier interface {
	OnValueChanged(fn func(v any))
}

// PropertyNames returns the sorted rule property names of a target.
func PropertyNames(t RuleTarget) []string {
	props := t.RuleProperties()
	names := make([]string, 0, len(props))
	for name := range props {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Property looks up a rule property by its design-time name.
func Property(t RuleTarget, name string) (RuleProperty, error) {
	prop, ok := t.RuleProperties()[name]
	if !ok {
		return RuleProperty{}, fmt.Errorf("%s has no rule property %q", t.WidgetName(), name)
	}
	return prop, nil
}
