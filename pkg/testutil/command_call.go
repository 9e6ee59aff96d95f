package testutil

import "time"

// CommandCall records a command for testing/verification
type CommandCall struct {
	Timestamp time.Time
	Name      string
	Args      []any
}

// FilterCommands filters commands by name
func FilterCommands(calls []CommandCall, name string) []CommandCall {
	var filtered []CommandCall
	for _, call := range calls {
		if call.Name == name {
			filtered = append(filtered, call)
		}
	}
	return filtered
}

// FindCommand returns the most recent command with the given name, or nil
func FindCommand(calls []CommandCall, name string) *CommandCall {
	for i := len(calls) - 1; i >= 0; i-- {
		if calls[i].Name == name {
			call := calls[i]
			return &call
		}
	}
	return nil
}
