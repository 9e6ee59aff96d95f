// Package rules binds widget rule properties to expressions over channel
// values. A rule lists the channels it reads; those marked as triggers
// re-run the expression when they change.
package rules

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNoTrigger is returned for rules without a trigger channel.
	ErrNoTrigger = errors.New("rule has no trigger channel")

	// ErrKindMismatch is returned when an expression result cannot drive
	// the rule property.
	ErrKindMismatch = errors.New("expression kind does not match property")

	// ErrUnresolved is returned when a rule channel cannot be resolved.
	ErrUnresolved = errors.New("channel unavailable")

	// ErrUnknownProperty is returned when the widget has no such rule property.
	ErrUnknownProperty = errors.New("unknown rule property")
)

// ChannelRef is one channel read by a rule.
type ChannelRef struct {
	URL     string `json:"url"`
	Trigger bool   `json:"trigger"`
}

// Rule is one entry of a widget's rules property.
type Rule struct {
	Name       string       `json:"name"`
	Property   string       `json:"property"`
	Expression string       `json:"expression"`
	Channels   []ChannelRef `json:"channels"`
}

// Parse decodes a rules JSON array. Blank input means no rules.
func Parse(data string) ([]Rule, error) {
	if strings.TrimSpace(data) == "" {
		return nil, nil
	}

	var rules []Rule
	if err := json.Unmarshal([]byte(data), &rules); err != nil {
		return nil, fmt.Errorf("failed to parse rules: %w", err)
	}
	return rules, nil
}

// Marshal encodes rules the way design-time editors store them.
func Marshal(rules []Rule) (string, error) {
	if rules == nil {
		rules = []Rule{}
	}
	data, err := json.MarshalIndent(rules, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode rules: %w", err)
	}
	return string(data), nil
}

// label names a rule in logs and errors.
func (r Rule) label() string {
	if r.Name != "" {
		return r.Name
	}
	return r.Property
}
