// Package positions implements the position data plugin. It derives the
// relative, absolute and distance-to-go axis positions from the status
// channels and reports them in program or machine units.
package positions

import (
	"fmt"
	"math"
	"strings"

	"cncpanel/internal/channel"
	"cncpanel/internal/linuxcnc"
	"cncpanel/internal/metrics"
	"cncpanel/pkg/plugin"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"
)

// Protocol is the URL protocol served by the plugin.
const Protocol = "position"

// Default display formats.
const (
	DefaultMetricFormat   = "%9.3f"
	DefaultImperialFormat = "%8.4f"
)

// NumAxes is the length of every position tuple.
const NumAxes = 9

const axisLetters = "xyzabcuvw"

const mmPerInch = 25.4

// rotary marks the axes that are never unit converted.
var rotary = [NumAxes]bool{3: true, 4: true, 5: true}

// Source is the plugin the status channels are read from.
type Source interface {
	Channel(item string) (*channel.Channel, channel.Accessor)
}

// Option configures a Plugin.
type Option func(*Plugin)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Plugin) { p.logger = l }
}

// WithMetrics records updates.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Plugin) { p.metrics = m }
}

// WithActualPosition reports the actual instead of the commanded position.
func WithActualPosition(actual bool) Option {
	return func(p *Plugin) { p.actual = actual }
}

// WithProgramUnits converts positions to the active program units when
// they differ from the machine units. Enabled by default.
func WithProgramUnits(use bool) Option {
	return func(p *Plugin) { p.programUnits = use }
}

// WithFormats sets the printf formats used for metric and imperial text.
// Empty strings keep the defaults.
func WithFormats(metric, imperial string) Option {
	return func(p *Plugin) {
		if metric != "" {
			p.metricFormat = metric
		}
		if imperial != "" {
			p.imperialFormat = imperial
		}
	}
}

// WithAxes limits the relative position to the given axis letters, e.g.
// "xyz". Other axes report zero.
func WithAxes(letters string) Option {
	return func(p *Plugin) { p.axisLetters = letters }
}

// Plugin is the position data plugin.
type Plugin struct {
	*plugin.DataPlugin

	source  Source
	logger  *zap.Logger
	metrics *metrics.Metrics

	actual         bool
	programUnits   bool
	metricFormat   string
	imperialFormat string
	axisLetters    string
	axes           []int

	rel *channel.Channel
	abs *channel.Channel
	dtg *channel.Channel

	inputs map[string]*channel.Channel
	subs   []*channel.Subscription
	metric bool
}

// New creates the plugin and declares the rel, abs and dtg channels.
func New(source Source, opts ...Option) (*Plugin, error) {
	if source == nil {
		return nil, fmt.Errorf("position plugin requires a status source")
	}

	p := &Plugin{
		source:         source,
		programUnits:   true,
		metricFormat:   DefaultMetricFormat,
		imperialFormat: DefaultImperialFormat,
		inputs:         make(map[string]*channel.Channel),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = zap.NewNop()
	}

	for _, f := range []string{p.metricFormat, p.imperialFormat} {
		if out := fmt.Sprintf(f, 1.0); strings.Contains(out, "%!") {
			return nil, fmt.Errorf("invalid position format %q", f)
		}
	}

	axes, err := parseAxes(p.axisLetters)
	if err != nil {
		return nil, err
	}
	p.axes = axes

	p.DataPlugin = plugin.NewDataPlugin(Protocol, p.logger, p.metrics)
	p.rel = p.newChannel("rel", "Relative Position")
	p.abs = p.newChannel("abs", "Absolute Position")
	p.dtg = p.newChannel("dtg", "Distance To Go")
	for _, ch := range []*channel.Channel{p.rel, p.abs, p.dtg} {
		if err := p.AddChannel(ch); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func parseAxes(letters string) ([]int, error) {
	if letters == "" {
		letters = axisLetters
	}
	var axes []int
	for _, r := range strings.ToLower(letters) {
		anum := strings.IndexRune(axisLetters, r)
		if anum < 0 {
			return nil, fmt.Errorf("unknown axis %q", r)
		}
		axes = append(axes, anum)
	}
	return axes, nil
}

func (p *Plugin) newChannel(name, description string) *channel.Channel {
	return channel.New(name,
		channel.WithType(channel.TypeTuple),
		channel.WithDescription(description),
		channel.WithValue(make([]any, NumAxes)),
		channel.WithFormatter(p.format),
		channel.WithLogger(p.logger),
		channel.WithMetrics(p.metrics))
}

// positionField is the status channel the absolute position comes from
func (p *Plugin) positionField() string {
	if p.actual {
		return "actual_position"
	}
	return "position"
}

// Initialise computes the first values and subscribes to the status
// channels they depend on.
func (p *Plugin) Initialise() error {
	fields := []string{p.positionField(), "dtg", "g5x_offset", "g92_offset", "tool_offset", "rotation_xy", "program_units", "linear_units"}
	for _, name := range fields {
		ch, _ := p.source.Channel(name)
		if ch == nil {
			return fmt.Errorf("position plugin: status channel %q not found", name)
		}
		p.inputs[name] = ch
	}

	tuples := p.compute()
	p.rel.Store(tuples[0])
	p.abs.Store(tuples[1])
	p.dtg.Store(tuples[2])

	for _, name := range fields {
		p.subs = append(p.subs, p.inputs[name].Notify(func(any) { p.update() }, channel.Query{}))
	}

	p.SetState(plugin.StatePolling)
	p.logger.Info("Position plugin ready",
		zap.String("source", p.positionField()),
		zap.Bool("program_units", p.programUnits),
		zap.Ints("axes", p.axes))
	return nil
}

// Terminate cancels the status subscriptions. It is safe to call more
// than once.
func (p *Plugin) Terminate() error {
	for _, sub := range p.subs {
		sub.Cancel()
	}
	p.subs = nil
	p.SetState(plugin.StateStopped)
	return nil
}

// update recomputes the tuples and notifies the ones that changed
func (p *Plugin) update() {
	tuples := p.compute()
	updates := 0
	for i, ch := range []*channel.Channel{p.rel, p.abs, p.dtg} {
		if cmp.Equal(ch.Raw(), tuples[i]) {
			continue
		}
		ch.Update(tuples[i])
		updates++
	}
	p.metrics.RecordUpdates(Protocol, updates)
}

// compute returns the rel, abs and dtg tuples for the current status
func (p *Plugin) compute() [3][]any {
	pos := p.vector(p.positionField())
	dtg := p.vector("dtg")
	g5x := p.vector("g5x_offset")
	g92 := p.vector("g92_offset")
	tool := p.vector("tool_offset")

	var rel [NumAxes]float64
	for _, a := range p.axes {
		rel[a] = pos[a] - g5x[a] - tool[a]
	}

	if rot, _ := channel.ToFloat(p.inputs["rotation_xy"].Raw()); rot != 0 {
		t := -rot * math.Pi / 180
		x := rel[0]*math.Cos(t) - rel[1]*math.Sin(t)
		y := rel[0]*math.Sin(t) + rel[1]*math.Cos(t)
		rel[0], rel[1] = x, y
	}

	for _, a := range p.axes {
		rel[a] -= g92[a]
	}

	machineMetric := p.machineMetric()
	programMetric := p.programMetric()
	p.metric = machineMetric
	if p.programUnits {
		p.metric = programMetric
		if programMetric != machineMetric {
			factor := mmPerInch
			if machineMetric {
				factor = 1 / mmPerInch
			}
			convert(&pos, factor)
			convert(&rel, factor)
			convert(&dtg, factor)
		}
	}

	return [3][]any{tuple(rel), tuple(pos), tuple(dtg)}
}

// machineMetric reads linear_units, the machine units per millimetre
func (p *Plugin) machineMetric() bool {
	units, err := channel.ToFloat(p.inputs["linear_units"].Raw())
	if err != nil || units == 0 {
		return true
	}
	return units > 0.5
}

func (p *Plugin) programMetric() bool {
	units, err := channel.ToInt(p.inputs["program_units"].Raw())
	if err != nil {
		return p.machineMetric()
	}
	return units != linuxcnc.UnitsInches
}

// vector reads a status tuple, treating missing elements as zero
func (p *Plugin) vector(name string) [NumAxes]float64 {
	var out [NumAxes]float64
	raw := p.inputs[name].Raw()
	for i := range out {
		v, err := channel.Element(raw, i)
		if err != nil {
			break
		}
		out[i], _ = channel.ToFloat(v)
	}
	return out
}

func convert(v *[NumAxes]float64, factor float64) {
	for i := range v {
		if !rotary[i] {
			v[i] *= factor
		}
	}
}

func tuple(v [NumAxes]float64) []any {
	out := make([]any, NumAxes)
	for i, f := range v {
		out[i] = f
	}
	return out
}

// format renders one axis with the format of the current units, or the
// whole tuple when no axis is selected.
func (p *Plugin) format(c *channel.Channel, q channel.Query) (string, error) {
	f := p.imperialFormat
	if p.metric {
		f = p.metricFormat
	}

	_, ok, err := q.Int("anum")
	if err != nil {
		return "", err
	}
	if ok {
		v, err := c.Value(q)
		if err != nil {
			return "", err
		}
		n, _ := channel.ToFloat(v)
		return fmt.Sprintf(f, n), nil
	}

	raw, _ := c.Raw().([]any)
	parts := make([]string, len(raw))
	for i, v := range raw {
		n, _ := channel.ToFloat(v)
		parts[i] = strings.TrimSpace(fmt.Sprintf(f, n))
	}
	return "(" + strings.Join(parts, ", ") + ")", nil
}

// Units returns the units the positions are reported in, "mm" or "in"
func (p *Plugin) Units() string {
	if p.metric {
		return "mm"
	}
	return "in"
}

var _ plugin.Plugin = (*Plugin)(nil)
