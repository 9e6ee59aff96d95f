package hal

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"cncpanel/internal/channel"
	"cncpanel/internal/clock"
	"cncpanel/internal/loop"
	"cncpanel/internal/metrics"
	"cncpanel/pkg/plugin"

	prom "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// fakeRunner answers the show command with canned output and records
// every other command.
type fakeRunner struct {
	mu    sync.Mutex
	out   string
	err   error
	shows int
	calls [][]string
}

func (f *fakeRunner) Run(ctx context.Context, argv []string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if strings.Join(argv, " ") == DefaultShowCommand {
		f.shows++
		if f.err != nil {
			return nil, f.err
		}
		return []byte(f.out), nil
	}
	f.calls = append(f.calls, argv)
	return nil, nil
}

func (f *fakeRunner) set(out string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.out = out
}

func (f *fakeRunner) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeRunner) commands() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]string(nil), f.calls...)
}

func (f *fakeRunner) showCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.shows
}

type harness struct {
	poller *Poller
	runner *fakeRunner
	loop   *loop.Loop
	clock  *clock.Mock
}

// newHarness builds a poller without the background sampler; tests call
// sample to stand in for it.
func newHarness(t *testing.T, out string, opts ...Option) *harness {
	t.Helper()
	r := &fakeRunner{out: out}
	l := loop.New(zap.NewNop(), 0)
	c := clock.NewMock(time.Unix(0, 0))

	opts = append([]Option{WithRunner(r), WithLoop(l), WithClock(c), WithLockFile("")}, opts...)
	p, err := New(opts...)
	require.NoError(t, err)
	p.background = false

	require.NoError(t, p.Initialise())
	t.Cleanup(func() { p.Terminate() })

	return &harness{poller: p, runner: r, loop: l, clock: c}
}

// sample takes one background sample and runs one UI tick
func (h *harness) sample(t *testing.T) {
	t.Helper()
	h.poller.Sample(context.Background())
	h.clock.Advance(h.poller.CycleTime())
	h.loop.Drain()
}

func pinLine(dir, typ, value, name string) string {
	return "    34  " + typ + "  " + dir + "  " + value + "  " + name + "\n"
}

func TestPoller_ChannelsForFirstSample(t *testing.T) {
	h := newHarness(t, showPinOutput)

	for _, name := range []string{"halui.machine.is-on", "halui.machine.on", "spindle.0.speed-in"} {
		_, ok := h.poller.Lookup(name)
		assert.True(t, ok, name)
	}

	isOn, _ := h.poller.Lookup("halui.machine.is-on")
	assert.Equal(t, true, isOn.Raw())
	assert.Equal(t, channel.TypeBool, isOn.Type())
	assert.False(t, isOn.Settable())

	machineOn, _ := h.poller.Lookup("halui.machine.on")
	assert.True(t, machineOn.Settable())
	assert.Equal(t, plugin.StatePolling, h.poller.State())
}

func TestPoller_TickDiffsLatestSample(t *testing.T) {
	h := newHarness(t,
		pinLine("OUT", "bit", "FALSE", "a.led")+
			pinLine("OUT", "float", "0", "b.speed")+
			pinLine("OUT", "s32", "1", "c.count"))

	var log []string
	for name, ch := range h.poller.Channels() {
		name := name
		ch.Notify(func(v any) { log = append(log, name+"="+channel.FormatValue(v)) }, channel.Query{})
	}

	h.runner.set(pinLine("OUT", "bit", "TRUE", "a.led") +
		pinLine("OUT", "float", "0", "b.speed") +
		pinLine("OUT", "s32", "2", "c.count"))
	h.sample(t)
	assert.Equal(t, []string{"a.led=true", "c.count=2"}, log)

	// The same sample again changes nothing
	h.sample(t)
	assert.Len(t, log, 2)

	// Ticks without a new sample never run the command
	shows := h.runner.showCount()
	h.clock.Advance(h.poller.CycleTime())
	h.loop.Drain()
	assert.Equal(t, shows, h.runner.showCount())
}

func TestPoller_CreateOnLookup(t *testing.T) {
	h := newHarness(t, pinLine("OUT", "bit", "TRUE", "halui.machine.is-on"))

	ch, acc := h.poller.Channel("halui.machine.is-on?text")
	require.NotNil(t, ch)
	v, err := acc()
	require.NoError(t, err)
	assert.Equal(t, "true", v)

	// Unknown pins get a channel that fills in once the pin is sampled
	late, acc := h.poller.Channel("motion.in-position")
	require.NotNil(t, late)
	v, err = acc()
	require.NoError(t, err)
	assert.Nil(t, v)

	var got []any
	late.Notify(func(v any) { got = append(got, v) }, channel.Query{})

	h.runner.set(pinLine("OUT", "bit", "TRUE", "halui.machine.is-on") +
		pinLine("OUT", "bit", "TRUE", "motion.in-position"))
	h.sample(t)
	assert.Equal(t, []any{true}, got)
}

func TestPoller_SetPin(t *testing.T) {
	out := pinLine("IN", "float", "0", "spindle.0.speed-in") +
		pinLine("OUT", "bit", "FALSE", "halui.machine.is-on")

	t.Run("writes with setp", func(t *testing.T) {
		h := newHarness(t, out)
		ch, _ := h.poller.Lookup("spindle.0.speed-in")
		require.NoError(t, ch.Set(1200))
		assert.Equal(t, [][]string{{"halcmd", "setp", "spindle.0.speed-in", "1200"}}, h.runner.commands())
		assert.Equal(t, 0.0, ch.Raw(), "value arrives with the next sample")
	})

	t.Run("output pin", func(t *testing.T) {
		h := newHarness(t, out)
		ch, _ := h.poller.Lookup("halui.machine.is-on")
		assert.ErrorIs(t, ch.Set(true), channel.ErrNotSettable)
	})

	t.Run("unsampled pin", func(t *testing.T) {
		h := newHarness(t, out)
		ch, _ := h.poller.Channel("not.there")
		assert.ErrorIs(t, ch.Set(true), channel.ErrNotSettable)
		assert.Empty(t, h.runner.commands())
	})

	t.Run("read only", func(t *testing.T) {
		h := newHarness(t, out, WithReadOnly(true))
		ch, _ := h.poller.Lookup("spindle.0.speed-in")
		assert.Error(t, ch.Set(1))
		assert.Empty(t, h.runner.commands())
	})

	t.Run("custom set command", func(t *testing.T) {
		h := newHarness(t, out, WithSetCommand("sudo halcmd setp"))
		ch, _ := h.poller.Lookup("spindle.0.speed-in")
		require.NoError(t, ch.Set("2.5"))
		assert.Equal(t, [][]string{{"sudo", "halcmd", "setp", "spindle.0.speed-in", "2.5"}}, h.runner.commands())
	})
}

func TestPoller_CommandFailureIsTerminal(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	m := metrics.New()
	h := newHarness(t, pinLine("OUT", "bit", "FALSE", "a.led"), WithLogger(zap.New(core)), WithMetrics(m))

	led, _ := h.poller.Lookup("a.led")
	var got []any
	led.Notify(func(v any) { got = append(got, v) }, channel.Query{})

	h.runner.fail(errors.New("halcmd: exit status 1"))
	h.sample(t)
	assert.Equal(t, plugin.StateStopped, h.poller.State())

	h.runner.fail(nil)
	h.runner.set(pinLine("OUT", "bit", "TRUE", "a.led"))
	for i := 0; i < 3; i++ {
		h.sample(t)
	}

	assert.Empty(t, got)
	assert.Equal(t, false, led.Raw())
	assert.Equal(t, 1, logs.FilterMessage("HAL command failed, polling stopped until restart").Len())
	assert.Equal(t, 1.0, prom.ToFloat64(m.RefreshFailures.WithLabelValues(Protocol)))
}

func TestPoller_LockFile(t *testing.T) {
	lock := filepath.Join(t.TempDir(), "linuxcnc.lock")
	h := newHarness(t, pinLine("OUT", "bit", "TRUE", "a.led"), WithLockFile(lock))

	// Not running: no command, no pins, no channels
	assert.Equal(t, 0, h.runner.showCount())
	assert.Empty(t, h.poller.Channels())

	led, _ := h.poller.Channel("a.led")
	var got []any
	led.Notify(func(v any) { got = append(got, v) }, channel.Query{})

	require.NoError(t, os.WriteFile(lock, nil, 0o644))
	h.sample(t)
	assert.Equal(t, 1, h.runner.showCount())
	assert.Equal(t, []any{true}, got)

	// Stopping again keeps the last value
	require.NoError(t, os.Remove(lock))
	h.sample(t)
	assert.Equal(t, []any{true}, got)
	assert.Equal(t, true, led.Raw())
	assert.Equal(t, plugin.StatePolling, h.poller.State())
}

func TestPoller_BackgroundSampler(t *testing.T) {
	r := &fakeRunner{out: pinLine("OUT", "s32", "1", "c.count")}
	l := loop.New(zap.NewNop(), 0)

	p, err := New(WithRunner(r), WithLoop(l), WithLockFile(""), WithCycleTime(5*time.Millisecond))
	require.NoError(t, err)
	require.NoError(t, p.Initialise())

	count, _ := p.Lookup("c.count")
	var mu sync.Mutex
	var got []any
	count.Notify(func(v any) {
		mu.Lock()
		got = append(got, v)
		mu.Unlock()
	}, channel.Query{})

	r.set(pinLine("OUT", "s32", "7", "c.count"))

	assert.Eventually(t, func() bool {
		l.Drain()
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1 && got[0] == int64(7)
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, p.Terminate())
	shows := r.showCount()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, shows, r.showCount(), "sampler stops on terminate")
}

func TestNew_InvalidCommand(t *testing.T) {
	_, err := New(WithShowCommand(`halcmd "unterminated`))
	assert.Error(t, err)
}
