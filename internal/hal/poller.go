package hal

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"cncpanel/internal/channel"
	"cncpanel/internal/clock"
	"cncpanel/internal/loop"
	"cncpanel/internal/metrics"
	"cncpanel/pkg/plugin"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"
)

// Protocol is the URL protocol served by the plugin
const Protocol = "hal"

// DefaultCycleTime is the sample interval used when none is configured
const DefaultCycleTime = 100 * time.Millisecond

// DefaultLockFile exists while the machine controller is running
const DefaultLockFile = "/tmp/linuxcnc.lock"

const commandTimeout = 2 * time.Second

// snapshot is one sample of every pin. It is never modified once published.
type snapshot struct {
	pins map[string]Pin
	err  error
}

// Option configures a Poller
type Option func(*Poller)

// WithCycleTime sets the sample interval
func WithCycleTime(d time.Duration) Option {
	return func(p *Poller) {
		if d > 0 {
			p.cycle = d
		}
	}
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(p *Poller) { p.logger = l }
}

// WithClock sets the clock driving both the sampler and the UI timer
func WithClock(c clock.Clock) Option {
	return func(p *Poller) { p.clock = c }
}

// WithLoop sets the event loop ticks run on
func WithLoop(l *loop.Loop) Option {
	return func(p *Poller) { p.loop = l }
}

// WithMetrics records ticks and updates
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Poller) { p.metrics = m }
}

// WithRunner replaces the command runner
func WithRunner(r Runner) Option {
	return func(p *Poller) { p.runner = r }
}

// WithShowCommand sets the command line that dumps every pin
func WithShowCommand(line string) Option {
	return func(p *Poller) {
		if line != "" {
			p.showLine = line
		}
	}
}

// WithSetCommand sets the command line prefix used to write a pin
func WithSetCommand(line string) Option {
	return func(p *Poller) {
		if line != "" {
			p.setLine = line
		}
	}
}

// WithLockFile sets the file whose presence means the controller is
// running. An empty path disables the check.
func WithLockFile(path string) Option {
	return func(p *Poller) { p.lockFile = path }
}

// WithReadOnly rejects pin writes
func WithReadOnly(readOnly bool) Option {
	return func(p *Poller) { p.readOnly = readOnly }
}

// Poller is the hal data plugin. A background goroutine samples the pins
// every cycle; the loop timer only diffs the latest sample.
type Poller struct {
	*plugin.DataPlugin

	logger   *zap.Logger
	clock    clock.Clock
	loop     *loop.Loop
	metrics  *metrics.Metrics
	runner   Runner
	cycle    time.Duration
	readOnly bool

	showLine string
	setLine  string
	showArgv []string
	setArgv  []string
	lockFile string

	ctx    context.Context
	cancel context.CancelFunc
	timer  *loop.Timer
	wg     sync.WaitGroup

	mu     sync.Mutex
	latest *snapshot

	// sampler state, owned by whichever goroutine is sampling
	alive bool

	// event loop state
	seen   *snapshot
	failed bool

	background bool
}

// New creates the plugin. No command runs until Initialise.
func New(opts ...Option) (*Poller, error) {
	p := &Poller{
		cycle:      DefaultCycleTime,
		showLine:   DefaultShowCommand,
		setLine:    DefaultSetCommand,
		lockFile:   DefaultLockFile,
		runner:     ExecRunner{},
		background: true,
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

	var err error
	if p.showArgv, err = SplitCommand(p.showLine); err != nil {
		return nil, err
	}
	if p.setArgv, err = SplitCommand(p.setLine); err != nil {
		return nil, err
	}

	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.DataPlugin = plugin.NewDataPlugin(Protocol, p.logger, p.metrics)
	return p, nil
}

// Initialise takes the first sample synchronously, creates a channel for
// every pin in it and starts the sampler and the UI timer.
func (p *Poller) Initialise() error {
	if p.loop == nil {
		return fmt.Errorf("hal plugin requires an event loop")
	}

	err := p.Sample(p.ctx)
	p.seen = p.snapshot()
	if err != nil {
		p.fail(err)
		return nil
	}

	for _, name := range sortedPins(p.seen.pins) {
		if _, exists := p.Lookup(name); !exists {
			p.addPin(name)
		}
	}

	p.timer = p.loop.NewTimer(p.clock, p.cycle, p.Tick)
	p.timer.Start()
	if p.background {
		p.wg.Add(1)
		go p.run(p.ctx)
	}
	p.SetState(plugin.StatePolling)

	p.logger.Info("HAL plugin polling",
		zap.Duration("cycle_time", p.cycle),
		zap.Strings("command", p.showArgv),
		zap.Int("pins", len(p.seen.pins)))
	return nil
}

// Terminate stops the timer and waits for the sampler to exit
func (p *Poller) Terminate() error {
	if p.timer != nil {
		p.timer.Stop()
	}
	p.cancel()
	p.wg.Wait()
	p.SetState(plugin.StateStopped)
	return nil
}

// run samples every cycle until ctx is cancelled or a sample fails
func (p *Poller) run(ctx context.Context) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.clock.After(p.cycle):
		}

		if err := p.Sample(ctx); err != nil {
			return
		}
	}
}

// Sample runs the show command once and publishes the result. While the
// lock file is missing it publishes an empty sample instead.
func (p *Poller) Sample(ctx context.Context) error {
	if p.lockFile != "" {
		if _, err := os.Stat(p.lockFile); err != nil {
			if p.alive {
				p.logger.Info("Machine controller stopped", zap.String("lock_file", p.lockFile))
			}
			p.alive = false
			p.publish(&snapshot{pins: map[string]Pin{}})
			return nil
		}
		if !p.alive {
			p.logger.Info("Machine controller running", zap.String("lock_file", p.lockFile))
		}
		p.alive = true
	}

	out, err := p.runner.Run(ctx, p.showArgv)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	var pins map[string]Pin
	if err == nil {
		pins, err = ParseShowPin(bytes.NewReader(out))
	}
	if err != nil {
		p.publish(&snapshot{err: err})
		return err
	}

	p.publish(&snapshot{pins: pins})
	return nil
}

func (p *Poller) publish(s *snapshot) {
	p.mu.Lock()
	p.latest = s
	p.mu.Unlock()
}

func (p *Poller) snapshot() *snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.latest
}

// pin returns a pin from the latest sample
func (p *Poller) pin(name string) (Pin, bool) {
	s := p.snapshot()
	if s == nil {
		return Pin{}, false
	}
	pin, ok := s.pins[name]
	return pin, ok
}

// Tick diffs the latest sample against the channel values. It must run on
// the event loop and never runs a command itself.
func (p *Poller) Tick() {
	if p.failed {
		return
	}

	s := p.snapshot()
	if s == nil || s == p.seen {
		return
	}
	p.seen = s

	if s.err != nil {
		p.fail(s.err)
		return
	}

	start := p.clock.Now()
	updates := 0
	for _, name := range sortedPins(s.pins) {
		ch, ok := p.Lookup(name)
		if !ok {
			continue
		}
		v := s.pins[name].Value
		if cmp.Equal(ch.Raw(), v) {
			continue
		}
		p.emit(ch, v)
		updates++
	}

	p.metrics.RecordUpdates(Protocol, updates)
	p.metrics.RecordTick(Protocol, p.clock.Since(start))
}

func (p *Poller) emit(ch *channel.Channel, v any) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Panic while updating pin",
				zap.String("pin", ch.Name()),
				zap.Any("panic", r))
		}
	}()
	p.logger.Debug("Pin changed",
		zap.String("pin", ch.Name()),
		zap.Any("value", v))
	ch.Update(v)
}

// ForceUpdate re-emits every pin channel with its cached value
func (p *Poller) ForceUpdate() {
	for _, name := range p.SortedNames() {
		if ch, ok := p.Lookup(name); ok {
			p.emit(ch, ch.Raw())
		}
	}
}

func (p *Poller) fail(err error) {
	if p.failed {
		return
	}
	p.failed = true
	if p.timer != nil {
		p.timer.Stop()
	}
	p.cancel()
	p.SetState(plugin.StateStopped)
	p.metrics.RecordRefreshFailure(Protocol)
	p.logger.Warn("HAL command failed, polling stopped until restart",
		zap.Strings("command", p.showArgv),
		zap.Error(err))
}

// Channel resolves "pin.name?query", creating the pin channel on first use.
// A pin missing from the latest sample still gets a channel; it fills in
// once the pin shows up.
func (p *Poller) Channel(item string) (*channel.Channel, channel.Accessor) {
	name, _, _ := strings.Cut(item, "?")
	if name != "" {
		if _, exists := p.Lookup(name); !exists {
			p.addPin(name)
		}
	}
	return p.DataPlugin.Channel(item)
}

func (p *Poller) addPin(name string) {
	pin, known := p.pin(name)

	opts := []channel.Option{
		channel.WithLogger(p.logger),
		channel.WithMetrics(p.metrics),
		channel.WithType(pin.ChannelType()),
		channel.WithValue(pin.Value),
	}
	if !known || pin.Settable() {
		opts = append(opts, channel.WithSetter(p.setPin(name)))
	}
	if known {
		opts = append(opts, channel.WithDescription(fmt.Sprintf("HAL %s %s pin", pin.Type, pin.Direction)))
	} else {
		p.logger.Debug("Creating channel for pin not yet sampled", zap.String("pin", name))
	}

	if err := p.AddChannel(channel.New(name, opts...)); err != nil {
		p.logger.Debug("Pin channel already exists", zap.String("pin", name))
	}
}

// setPin writes a pin with the set command. The channel value is not
// stored; it arrives with a later sample.
func (p *Poller) setPin(name string) channel.Setter {
	return func(c *channel.Channel, v any) error {
		if p.readOnly {
			return fmt.Errorf("read-only mode, not setting pin %s", name)
		}

		pin, ok := p.pin(name)
		if !ok {
			return fmt.Errorf("pin %s not sampled: %w", name, channel.ErrNotSettable)
		}
		if !pin.Settable() {
			return fmt.Errorf("pin %s is %s: %w", name, pin.Direction, channel.ErrNotSettable)
		}

		value, err := FormatValue(pin.Type, v)
		if err != nil {
			return err
		}

		argv := make([]string, 0, len(p.setArgv)+2)
		argv = append(argv, p.setArgv...)
		argv = append(argv, name, value)

		ctx, cancel := context.WithTimeout(p.ctx, commandTimeout)
		defer cancel()
		if _, err := p.runner.Run(ctx, argv); err != nil {
			return err
		}

		p.logger.Debug("Pin set", zap.String("pin", name), zap.String("value", value))
		return nil
	}
}

// CycleTime returns the sample interval
func (p *Poller) CycleTime() time.Duration {
	return p.cycle
}

func sortedPins(pins map[string]Pin) []string {
	names := make([]string, 0, len(pins))
	for name := range pins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

var _ plugin.Plugin = (*Poller)(nil)
var _ plugin.Forcer = (*Poller)(nil)
