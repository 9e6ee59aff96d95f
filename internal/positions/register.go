package positions

import (
	"fmt"

	"cncpanel/pkg/plugin"
)

func init() {
	plugin.RegisterProvider(plugin.ProviderInfo{
		Name:        Protocol,
		Description: "Relative, absolute and distance-to-go axis positions",
		Priority:    plugin.PriorityDefault,
		Factory:     createPlugin,
	})
}

// options are the YAML options of the position provider
type options struct {
	Status          string `yaml:"status"`
	ReportActualPos bool   `yaml:"report_actual_pos"`
	UseProgramUnits *bool  `yaml:"use_program_units"`
	MetricFormat    string `yaml:"metric_format"`
	ImperialFormat  string `yaml:"imperial_format"`
	Axes            string `yaml:"axes"`
}

// createPlugin creates a position plugin reading the status plugin built
// before it.
func createPlugin(ctx *plugin.Context, opts plugin.Options) (plugin.Plugin, error) {
	var o options
	if err := opts.Decode(&o); err != nil {
		return nil, err
	}
	if o.Status == "" {
		o.Status = "status"
	}

	source, ok := ctx.Built(o.Status)
	if !ok {
		return nil, fmt.Errorf("position plugin requires the %s plugin to be configured before it", o.Status)
	}

	pluginOpts := []Option{
		WithLogger(ctx.Logger.Named(Protocol)),
		WithMetrics(ctx.Metrics),
		WithActualPosition(o.ReportActualPos),
		WithFormats(o.MetricFormat, o.ImperialFormat),
		WithAxes(o.Axes),
	}
	if o.UseProgramUnits != nil {
		pluginOpts = append(pluginOpts, WithProgramUnits(*o.UseProgramUnits))
	}

	return New(source, pluginOpts...)
}
