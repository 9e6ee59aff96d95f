// Package status implements the status data plugin: it polls the
// machine-control daemon, keeps a shadow copy of the last snapshot and
// turns field-level differences into channel updates.
package status

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"cncpanel/internal/channel"
	"cncpanel/internal/clock"
	"cncpanel/internal/linuxcnc"
	"cncpanel/internal/loop"
	"cncpanel/internal/metrics"
	"cncpanel/pkg/plugin"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"
)

// Protocol is the URL protocol served by the plugin.
const Protocol = "status"

// DefaultCycleTime is the poll interval used when none is configured.
const DefaultCycleTime = 75 * time.Millisecond

// DefaultMaxRecentFiles bounds the recent_files channel.
const DefaultMaxRecentFiles = 10

const pollTimeout = time.Second

// namespace holds the values the plugin persists between runs
const namespace = "status"

// blacklist holds snapshot attributes that are not data.
var blacklist = map[string]bool{
	"axis":               true,
	"joint":              true,
	"spindle":            true,
	"acceleration":       true,
	"max_acceleration":   true,
	"kinematics_type":    true,
	"axis_mask":          true,
	"cycle_time":         true,
	"echo_serial_number": true,
	"id":                 true,
	"poll":               true,
	"command":            true,
	"debug":              true,
}

// Option configures a Plugin.
type Option func(*Plugin)

// WithCycleTime sets the poll interval.
func WithCycleTime(d time.Duration) Option {
	return func(p *Plugin) {
		if d > 0 {
			p.cycle = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Plugin) { p.logger = l }
}

// WithClock sets the clock driving the poll timer.
func WithClock(c clock.Clock) Option {
	return func(p *Plugin) { p.clock = c }
}

// WithLoop sets the event loop ticks run on.
func WithLoop(l *loop.Loop) Option {
	return func(p *Plugin) { p.loop = l }
}

// WithMetrics records ticks and updates.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Plugin) { p.metrics = m }
}

// WithReadOnly rejects writes through settable channels.
func WithReadOnly(readOnly bool) Option {
	return func(p *Plugin) { p.readOnly = readOnly }
}

// WithStore persists the recent files list between runs.
func WithStore(s plugin.Store) Option {
	return func(p *Plugin) { p.store = s }
}

// WithMaxRecentFiles sets how many loaded programs recent_files remembers.
func WithMaxRecentFiles(n int) Option {
	return func(p *Plugin) {
		if n > 0 {
			p.maxRecent = n
		}
	}
}

// WithNumJoints limits how many joints get per-joint channels. Counts
// above the supported maximum are capped.
func WithNumJoints(n int) Option {
	return func(p *Plugin) {
		if n >= 0 {
			p.numJoints = min(n, linuxcnc.MaxJoints)
		}
	}
}

// WithNumSpindles limits how many spindles get per-spindle channels.
func WithNumSpindles(n int) Option {
	return func(p *Plugin) {
		if n >= 0 {
			p.numSpindles = min(n, linuxcnc.MaxSpindles)
		}
	}
}

// Plugin is the status data plugin.
type Plugin struct {
	*plugin.DataPlugin

	source    linuxcnc.Source
	commander linuxcnc.Commander
	errSource linuxcnc.ErrorSource
	store     plugin.Store

	logger   *zap.Logger
	clock    clock.Clock
	loop     *loop.Loop
	metrics  *metrics.Metrics
	cycle    time.Duration
	readOnly bool

	numJoints   int
	numSpindles int

	ctx    context.Context
	cancel context.CancelFunc
	timer  *loop.Timer

	// fields are the tracked snapshot attributes, sorted.
	fields []string
	cache  map[string]any

	jointFields   []string
	spindleFields []string
	joints        []map[string]any
	spindles      []map[string]any

	derived []derivedChannel
	failed  bool

	errorCh   *channel.Channel
	messageCh *channel.Channel
	recentCh  *channel.Channel
	recent    []string
	maxRecent int
}

// derivedChannel is a channel computed from other fields after every tick.
type derivedChannel struct {
	ch      *channel.Channel
	compute func() any
}

// New creates the plugin and declares its channels. Attributes are
// discovered once, here; fields the source starts reporting later are
// never observed.
func New(source linuxcnc.Source, opts ...Option) (*Plugin, error) {
	if source == nil {
		return nil, fmt.Errorf("status plugin requires a source")
	}

	p := &Plugin{
		source:      source,
		cycle:       DefaultCycleTime,
		cache:       make(map[string]any),
		numJoints:   linuxcnc.MaxJoints,
		numSpindles: linuxcnc.MaxSpindles,
		maxRecent:   DefaultMaxRecentFiles,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = zap.NewNop()
	}
	if p.clock == nil {
		p.clock = clock.NewReal()
	}
	if c, ok := source.(linuxcnc.Commander); ok {
		p.commander = c
	}
	if e, ok := source.(linuxcnc.ErrorSource); ok {
		p.errSource = e
	}
	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.DataPlugin = plugin.NewDataPlugin(Protocol, p.logger, p.metrics)

	if err := p.declareStatic(); err != nil {
		return nil, err
	}

	for _, name := range source.FieldNames() {
		if blacklist[name] {
			continue
		}
		p.fields = append(p.fields, name)
		if _, exists := p.Lookup(name); exists {
			continue
		}
		if err := p.AddChannel(p.newChannel(name, channel.WithType(typeHint(name)))); err != nil {
			return nil, err
		}
	}
	sort.Strings(p.fields)

	return p, nil
}

func (p *Plugin) newChannel(name string, opts ...channel.Option) *channel.Channel {
	base := []channel.Option{channel.WithLogger(p.logger), channel.WithMetrics(p.metrics)}
	return channel.New(name, append(base, opts...)...)
}

// Initialise performs the first refresh, populating every channel without
// notifying, and starts the poll timer.
func (p *Plugin) Initialise() error {
	if p.loop == nil {
		return fmt.Errorf("status plugin requires an event loop")
	}
	p.restoreRecentFiles()

	snap, err := p.refresh()
	if err != nil {
		p.fail(err)
		return nil
	}

	for _, name := range p.fields {
		v, ok := snap.Fields[name]
		if !ok {
			continue
		}
		p.cache[name] = v
		if ch, ok := p.Lookup(name); ok {
			ch.Store(v)
		}
	}

	if err := p.declareIndexed(snap); err != nil {
		return err
	}

	for _, d := range p.derived {
		d.ch.Store(d.compute())
	}
	if file, ok := snap.Fields["file"].(string); ok && file != "" {
		p.addRecentFile(file, false)
	}

	p.timer = p.loop.NewTimer(p.clock, p.cycle, p.Tick)
	p.timer.Start()
	p.SetState(plugin.StatePolling)

	p.logger.Info("Status plugin polling",
		zap.Duration("cycle_time", p.cycle),
		zap.Int("fields", len(p.fields)),
		zap.Int("joints", len(p.joints)),
		zap.Int("spindles", len(p.spindles)))
	return nil
}

// Terminate stops the poll timer and saves the recent files list. It is
// safe to call more than once.
func (p *Plugin) Terminate() error {
	if p.timer != nil {
		p.timer.Stop()
	}
	p.cancel()
	p.SetState(plugin.StateStopped)
	return p.saveRecentFiles()
}

// Tick refreshes the snapshot and emits one update per changed field. It
// must run on the event loop.
func (p *Plugin) Tick() {
	if p.failed {
		return
	}
	start := p.clock.Now()

	snap, err := p.refresh()
	if err != nil {
		p.fail(err)
		return
	}

	updates := 0
	for _, name := range p.fields {
		v, ok := snap.Fields[name]
		if !ok {
			continue
		}
		if cmp.Equal(p.cache[name], v) {
			continue
		}
		p.cache[name] = v
		if ch, ok := p.Lookup(name); ok {
			p.emit(ch, v)
			updates++
		}
		if file, ok := v.(string); ok && name == "file" && file != "" {
			p.addRecentFile(file, true)
			updates++
		}
	}

	updates += p.pollErrors()

	updates += p.diffTable("joint", p.joints, snap.Joints, p.jointFields)
	updates += p.diffTable("spindle", p.spindles, snap.Spindles, p.spindleFields)

	for _, d := range p.derived {
		v := d.compute()
		if cmp.Equal(d.ch.Raw(), v) {
			continue
		}
		p.emit(d.ch, v)
		updates++
	}

	p.metrics.RecordUpdates(Protocol, updates)
	p.metrics.RecordTick(Protocol, p.clock.Since(start))
}

// diffTable compares per-index records and emits "<prefix>.<n>.<field>"
// updates. Records beyond the tracked count are ignored.
func (p *Plugin) diffTable(prefix string, cached, fresh []map[string]any, fields []string) int {
	updates := 0
	for i := range cached {
		if i >= len(fresh) {
			break
		}
		for _, field := range fields {
			v, ok := fresh[i][field]
			if !ok || cmp.Equal(cached[i][field], v) {
				continue
			}
			cached[i][field] = v
			if ch, ok := p.Lookup(indexedName(prefix, i, field)); ok {
				p.emit(ch, v)
				updates++
			}
		}
	}
	return updates
}

// emit updates one channel. A panic raised while updating is logged and
// does not abort the rest of the tick.
func (p *Plugin) emit(ch *channel.Channel, v any) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Panic while updating channel",
				zap.String("channel", ch.Name()),
				zap.Any("panic", r))
		}
	}()
	p.logger.Debug("Channel changed",
		zap.String("channel", ch.Name()),
		zap.Any("value", v))
	ch.Update(v)
}

// ForceUpdate re-emits every channel with its cached value.
func (p *Plugin) ForceUpdate() {
	for _, name := range p.SortedNames() {
		if ch, ok := p.Lookup(name); ok {
			p.emit(ch, ch.Raw())
		}
	}
}

func (p *Plugin) refresh() (*linuxcnc.Snapshot, error) {
	ctx, cancel := context.WithTimeout(p.ctx, pollTimeout)
	defer cancel()
	return p.source.Poll(ctx)
}

// fail stops polling for good. It is logged once.
func (p *Plugin) fail(err error) {
	if p.failed {
		return
	}
	p.failed = true
	if p.timer != nil {
		p.timer.Stop()
	}
	p.SetState(plugin.StateStopped)
	p.metrics.RecordRefreshFailure(Protocol)
	p.logger.Warn("Status refresh failed, polling stopped until restart", zap.Error(err))
}

// declareIndexed creates the per-joint and per-spindle channels for the
// tables present in the first snapshot.
func (p *Plugin) declareIndexed(snap *linuxcnc.Snapshot) error {
	p.joints = copyTable(snap.Joints, p.numJoints)
	p.spindles = copyTable(snap.Spindles, p.numSpindles)
	if len(p.joints) > 0 {
		p.jointFields = sortedKeys(p.joints[0])
	}
	if len(p.spindles) > 0 {
		p.spindleFields = sortedKeys(p.spindles[0])
	}

	add := func(prefix string, table []map[string]any, fields []string) error {
		for i, rec := range table {
			for _, field := range fields {
				name := indexedName(prefix, i, field)
				if _, exists := p.Lookup(name); exists {
					continue
				}
				ch := p.newChannel(name, channel.WithValue(rec[field]), channel.WithType(channel.TypeOf(rec[field])))
				if err := p.AddChannel(ch); err != nil {
					return err
				}
			}
		}
		return nil
	}

	if err := add("joint", p.joints, p.jointFields); err != nil {
		return err
	}
	return add("spindle", p.spindles, p.spindleFields)
}

func copyTable(table []map[string]any, max int) []map[string]any {
	if len(table) > max {
		table = table[:max]
	}
	out := make([]map[string]any, len(table))
	for i, rec := range table {
		out[i] = make(map[string]any, len(rec))
		for k, v := range rec {
			out[i][k] = v
		}
	}
	return out
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func indexedName(prefix string, i int, field string) string {
	return prefix + "." + strconv.Itoa(i) + "." + field
}

// Cached returns the shadow value of a tracked field.
func (p *Plugin) Cached(name string) (any, bool) {
	v, ok := p.cache[name]
	return v, ok
}

// CycleTime returns the poll interval.
func (p *Plugin) CycleTime() time.Duration {
	return p.cycle
}

var _ plugin.Plugin = (*Plugin)(nil)
var _ plugin.Forcer = (*Plugin)(nil)
