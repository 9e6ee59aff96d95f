// Package datetime serves the wall clock under the "clock" protocol. The
// time channel ticks every second; the date channel changes at midnight.
package datetime

import (
	"fmt"
	"time"

	"cncpanel/internal/channel"
	"cncpanel/internal/clock"
	"cncpanel/internal/loop"
	"cncpanel/internal/metrics"
	"cncpanel/pkg/plugin"

	"go.uber.org/zap"
)

const (
	// Protocol is the URL protocol served by the plugin
	Protocol = "clock"

	// DefaultInterval is how often the time channel updates
	DefaultInterval = time.Second

	// DefaultTimeFormat renders the time channel as text
	DefaultTimeFormat = "%I:%M:%S %p"

	// DefaultDateFormat renders the date channel
	DefaultDateFormat = "%x"
)

// Option configures a Plugin
type Option func(*Plugin)

// WithInterval sets the update interval
func WithInterval(d time.Duration) Option {
	return func(p *Plugin) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(p *Plugin) { p.logger = l }
}

// WithClock sets the time source
func WithClock(c clock.Clock) Option {
	return func(p *Plugin) { p.clock = c }
}

// WithLoop sets the event loop the updates run on
func WithLoop(l *loop.Loop) Option {
	return func(p *Plugin) { p.loop = l }
}

// WithMetrics sets the metrics instruments
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Plugin) { p.metrics = m }
}

// Plugin is the clock data plugin
type Plugin struct {
	*plugin.DataPlugin

	interval time.Duration
	logger   *zap.Logger
	clock    clock.Clock
	loop     *loop.Loop
	metrics  *metrics.Metrics
	timer    *loop.Timer

	time *channel.Channel
	date *channel.Channel
}

// New creates a clock plugin
func New(opts ...Option) (*Plugin, error) {
	p := &Plugin{interval: DefaultInterval}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = zap.NewNop()
	}
	if p.clock == nil {
		p.clock = clock.NewReal()
	}
	p.DataPlugin = plugin.NewDataPlugin(Protocol, p.logger, p.metrics)

	now := p.clock.Now()
	p.time = channel.New("time",
		channel.WithType(channel.TypeAny),
		channel.WithValue(now),
		channel.WithDescription("The current date and time, updated every second"),
		channel.WithFormatter(func(c *channel.Channel, q channel.Query) (string, error) {
			t, ok := c.Raw().(time.Time)
			if !ok {
				return "", fmt.Errorf("time channel holds %T", c.Raw())
			}
			return Strftime(t, formatOf(q, DefaultTimeFormat)), nil
		}),
		channel.WithLogger(p.logger),
		channel.WithMetrics(p.metrics))

	p.date = channel.New("date",
		channel.WithType(channel.TypeString),
		channel.WithValue(Strftime(now, DefaultDateFormat)),
		channel.WithDescription("The current date"),
		channel.WithGetter(func(c *channel.Channel, q channel.Query) (any, error) {
			if _, ok := q.Get("format"); !ok {
				return c.Raw(), nil
			}
			t, _ := p.time.Raw().(time.Time)
			return Strftime(t, formatOf(q, DefaultDateFormat)), nil
		}),
		channel.WithLogger(p.logger),
		channel.WithMetrics(p.metrics))

	for _, ch := range []*channel.Channel{p.time, p.date} {
		if err := p.AddChannel(ch); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func formatOf(q channel.Query, fallback string) string {
	if f, ok := q.Get("format"); ok {
		return f
	}
	return fallback
}

// Initialise starts the update timer
func (p *Plugin) Initialise() error {
	if p.loop == nil {
		return fmt.Errorf("clock plugin requires an event loop")
	}

	p.timer = p.loop.NewTimer(p.clock, p.interval, p.Tick)
	p.timer.Start()
	p.SetState(plugin.StatePolling)
	return nil
}

// Terminate stops the update timer. It is safe to call more than once.
func (p *Plugin) Terminate() error {
	if p.timer != nil {
		p.timer.Stop()
	}
	p.SetState(plugin.StateStopped)
	return nil
}

// Tick publishes the current time, and the date when it has changed.
// Runs on the loop goroutine.
func (p *Plugin) Tick() {
	start := p.clock.Now()
	updates := 1

	p.time.Update(start)
	if date := Strftime(start, DefaultDateFormat); date != p.date.Raw() {
		p.date.Update(date)
		updates++
	}

	p.metrics.RecordTick(Protocol, p.clock.Since(start))
	p.metrics.RecordUpdates(Protocol, updates)
}

// Interval returns the update interval
func (p *Plugin) Interval() time.Duration {
	return p.interval
}
