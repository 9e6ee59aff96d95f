// Package plugin provides the data plugin contract, an embeddable base that
// implements channel lookup, the process-wide plugin registry and the
// provider factories used to build plugins from configuration.
package plugin

import "cncpanel/internal/channel"

// Plugin is the contract every data plugin implements. A plugin owns a set
// of channels under a protocol name and is initialised once and terminated
// once by the registry.
type Plugin interface {
	// Protocol returns the URL protocol the plugin serves, e.g. "status".
	Protocol() string

	// Initialise starts polling or any other background activity.
	Initialise() error

	// Terminate stops all activity. It is called in reverse registration order.
	Terminate() error

	// Channel resolves an "item?query" string to a channel and a bound accessor.
	// Unknown items and malformed queries return (nil, nil).
	Channel(item string) (*channel.Channel, channel.Accessor)

	// Channels returns every channel the plugin currently exposes.
	Channels() map[string]*channel.Channel
}

// Forcer is an optional interface for plugins that can re-emit every channel
// with its cached value.
type Forcer interface {
	ForceUpdate()
}

// Stater is an optional interface for plugins that report a lifecycle state.
type Stater interface {
	State() State
}

// State is the lifecycle state of a polling plugin.
type State int

const (
	StateUninitialised State = iota
	StatePolling
	StateStopped
)

func (s State) String() string {
	switch s {
	case StatePolling:
		return "polling"
	case StateStopped:
		return "stopped"
	default:
		return "uninitialised"
	}
}

// Factory creates a plugin from its configuration options. Factories are
// registered by provider name and called during application startup.
type Factory func(ctx *Context, opts Options) (Plugin, error)
