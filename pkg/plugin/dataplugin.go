package plugin

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"cncpanel/internal/channel"
	"cncpanel/internal/metrics"

	"go.uber.org/zap"
)

// axisLetters maps axis letters to axis numbers for the "axis" query key.
const axisLetters = "xyzabcuvw"

// DataPlugin is an embeddable base implementing channel bookkeeping and the
// item?query lookup shared by every data plugin.
type DataPlugin struct {
	protocol string
	logger   *zap.Logger
	metrics  *metrics.Metrics

	mu       sync.RWMutex
	channels map[string]*channel.Channel
	order    []string
	state    State
}

// NewDataPlugin creates the base for a plugin serving protocol.
func NewDataPlugin(protocol string, logger *zap.Logger, m *metrics.Metrics) *DataPlugin {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DataPlugin{
		protocol: protocol,
		logger:   logger,
		metrics:  m,
		channels: make(map[string]*channel.Channel),
	}
}

// Protocol returns the protocol name.
func (p *DataPlugin) Protocol() string { return p.protocol }

// Logger returns the plugin logger.
func (p *DataPlugin) Logger() *zap.Logger { return p.logger }

// Metrics returns the plugin instruments, possibly nil.
func (p *DataPlugin) Metrics() *metrics.Metrics { return p.metrics }

// Initialise marks the plugin as polling. Plugins with background work
// override it.
func (p *DataPlugin) Initialise() error {
	p.SetState(StatePolling)
	return nil
}

// Terminate marks the plugin as stopped.
func (p *DataPlugin) Terminate() error {
	p.SetState(StateStopped)
	return nil
}

// State returns the lifecycle state.
func (p *DataPlugin) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// SetState updates the lifecycle state and its gauge.
func (p *DataPlugin) SetState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
	p.metrics.RecordPluginState(p.protocol, int(s))
}

// AddChannel registers a channel. Names must be unique within the plugin.
func (p *DataPlugin) AddChannel(ch *channel.Channel) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.channels[ch.Name()]; exists {
		return fmt.Errorf("%s: duplicate channel %q", p.protocol, ch.Name())
	}
	p.channels[ch.Name()] = ch
	p.order = append(p.order, ch.Name())
	return nil
}

// Lookup returns a channel by exact name.
func (p *DataPlugin) Lookup(name string) (*channel.Channel, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ch, ok := p.channels[name]
	return ch, ok
}

// Channels returns a copy of the channel map.
func (p *DataPlugin) Channels() map[string]*channel.Channel {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make(map[string]*channel.Channel, len(p.channels))
	for k, v := range p.channels {
		out[k] = v
	}
	return out
}

// Names returns channel names in the order they were added.
func (p *DataPlugin) Names() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]string, len(p.order))
	copy(out, p.order)
	return out
}

// SortedNames returns channel names sorted alphabetically.
func (p *DataPlugin) SortedNames() []string {
	names := p.Names()
	sort.Strings(names)
	return names
}

// Channel resolves "name?query". The query is parsed, an "axis" key is
// normalised to "anum", and the accessor selects the string form when the
// first flag is string, text or str.
func (p *DataPlugin) Channel(item string) (*channel.Channel, channel.Accessor) {
	name, rawQuery, _ := strings.Cut(item, "?")

	ch, ok := p.Lookup(name)
	if !ok {
		p.logger.Warn("Unknown channel",
			zap.String("protocol", p.protocol),
			zap.String("channel", name))
		return nil, nil
	}

	q, err := channel.ParseQuery(rawQuery)
	if err == nil {
		q, err = NormaliseAxis(q)
	}
	if err != nil {
		p.logger.Warn("Invalid channel query",
			zap.String("protocol", p.protocol),
			zap.String("channel", name),
			zap.String("query", rawQuery),
			zap.Error(err))
		return nil, nil
	}

	return ch, ch.Accessor(q)
}

// NormaliseAxis replaces an "axis" key given as a number or one of the
// letters xyzabcuvw with the equivalent "anum" key.
func NormaliseAxis(q channel.Query) (channel.Query, error) {
	axis, ok := q.Get("axis")
	if !ok {
		return q, nil
	}

	anum, err := strconv.Atoi(axis)
	if err != nil {
		anum = strings.Index(axisLetters, strings.ToLower(axis))
		if anum < 0 || len(axis) != 1 {
			return q, fmt.Errorf("%w: unknown axis %q", channel.ErrBadIndex, axis)
		}
	}

	return q.Without("axis").With("anum", strconv.Itoa(anum)), nil
}
