package hal

import (
	"time"

	"cncpanel/pkg/plugin"
)

func init() {
	plugin.RegisterProvider(plugin.ProviderInfo{
		Name:        Protocol,
		Description: "HAL pin sampler backed by the halcmd tool",
		Priority:    plugin.PriorityDefault,
		Factory:     createPlugin,
	})
}

// options are the YAML options of the hal provider
type options struct {
	CycleTime  time.Duration `yaml:"cycle_time"`
	Command    string        `yaml:"command"`
	SetCommand string        `yaml:"set_command"`
	LockFile   *string       `yaml:"lock_file"`
}

// createPlugin creates a hal plugin from the plugin context.
func createPlugin(ctx *plugin.Context, opts plugin.Options) (plugin.Plugin, error) {
	var o options
	if err := opts.Decode(&o); err != nil {
		return nil, err
	}

	pluginOpts := []Option{
		WithCycleTime(o.CycleTime),
		WithShowCommand(o.Command),
		WithSetCommand(o.SetCommand),
		WithLogger(ctx.Logger.Named(Protocol)),
		WithClock(ctx.Clock),
		WithLoop(ctx.Loop),
		WithMetrics(ctx.Metrics),
		WithReadOnly(ctx.ReadOnly),
	}
	if o.LockFile != nil {
		pluginOpts = append(pluginOpts, WithLockFile(*o.LockFile))
	}

	return New(pluginOpts...)
}
