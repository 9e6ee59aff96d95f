package testutil

import (
	"fmt"
	"time"

	"cncpanel/internal/channel"
	"cncpanel/internal/clock"
	"cncpanel/internal/linuxcnc"
	"cncpanel/internal/loop"
	"cncpanel/internal/metrics"
	"cncpanel/internal/persist"
	"cncpanel/internal/resolver"
	"cncpanel/internal/rules"
	"cncpanel/pkg/plugin"

	// Providers the harness can build
	_ "cncpanel/internal/datetime"
	_ "cncpanel/internal/positions"
	_ "cncpanel/internal/settings"
	_ "cncpanel/internal/status"

	"go.uber.org/zap"
)

// DefaultCycleTime is the status poll interval used by the harness
const DefaultCycleTime = 100 * time.Millisecond

// TestEnv wires a mock status bridge, a connected client, the event loop
// and a set of data plugins together. The loop is not running: tests drive
// it with Advance or Until, so every channel update happens on the test
// goroutine.
//
// Example usage:
//
//	env, err := testutil.NewTestEnv(linuxcnc.DefaultStat())
//	if err != nil {
//	    t.Fatal(err)
//	}
//	defer env.Cleanup()
//
//	env.Server.Update(func(s *linuxcnc.Stat) { s.TaskState = 4 })
//	env.Until(func() bool { return env.Value("status:on") == true }, time.Second)
type TestEnv struct {
	Server   *MockStatusServer
	Client   *linuxcnc.Client
	Loop     *loop.Loop
	Clock    *clock.Mock
	Metrics  *metrics.Metrics
	Store    *persist.Store
	Registry *plugin.Registry
	Resolver *resolver.Resolver
	Rules    *rules.Engine
	Logger   *zap.Logger

	CycleTime time.Duration
}

// NewTestEnv starts a mock bridge serving initial and builds the given
// plugins against it. Without specs only the status plugin is built.
func NewTestEnv(initial linuxcnc.Stat, specs ...plugin.Spec) (*TestEnv, error) {
	logger, _ := zap.NewDevelopment()

	if len(specs) == 0 {
		specs = []plugin.Spec{{Provider: "status"}}
	}
	specs = withCycleTime(specs, DefaultCycleTime)

	e := &TestEnv{
		Server:    NewMockStatusServer(initial, logger.Named("bridge")),
		Loop:      loop.New(logger.Named("loop"), 0),
		Clock:     clock.NewMock(time.Date(2024, 3, 5, 14, 0, 0, 0, time.UTC)),
		Metrics:   metrics.New(),
		Registry:  plugin.NewRegistry(logger.Named("plugins")),
		Logger:    logger,
		CycleTime: DefaultCycleTime,
	}

	e.Client = linuxcnc.NewClient(e.Server.URL(), logger.Named("linuxcnc"))
	if err := e.Client.Connect(); err != nil {
		e.Server.Stop()
		return nil, fmt.Errorf("failed to connect client: %w", err)
	}

	store, err := persist.Open(":memory:", logger.Named("persist"))
	if err != nil {
		e.Cleanup()
		return nil, err
	}
	e.Store = store

	ctx := plugin.NewContext(logger, e.Loop, e.Clock, e.Metrics)
	ctx.Machine = e.Client
	ctx.Store = store

	plugins, err := plugin.Build(ctx, specs)
	if err != nil {
		e.Cleanup()
		return nil, err
	}
	for _, p := range plugins {
		if err := e.Registry.Register(p); err != nil {
			e.Cleanup()
			return nil, err
		}
	}
	if err := e.Registry.InitialiseAll(); err != nil {
		e.Cleanup()
		return nil, fmt.Errorf("failed to initialise plugins: %w", err)
	}

	e.Resolver = resolver.New(e.Registry, logger.Named("resolver"))
	e.Rules = rules.NewEngine(e.Resolver, rules.WithLogger(logger.Named("rules")), rules.WithMetrics(e.Metrics))
	return e, nil
}

// withCycleTime gives status plugins the harness cycle time unless their
// options set one
func withCycleTime(specs []plugin.Spec, d time.Duration) []plugin.Spec {
	out := make([]plugin.Spec, len(specs))
	for i, s := range specs {
		opts := plugin.Options{}
		for k, v := range s.Options {
			opts[k] = v
		}
		if _, ok := opts["cycle_time"]; !ok && s.Provider == "status" {
			opts["cycle_time"] = d.String()
		}
		out[i] = plugin.Spec{Provider: s.Provider, Options: opts}
	}
	return out
}

// Advance moves the mock clock forward and runs everything that became due
func (e *TestEnv) Advance(d time.Duration) int {
	e.Clock.Advance(d)
	return e.Loop.Drain()
}

// Until polls one cycle at a time until cond holds or timeout passes in
// real time. The bridge pushes status asynchronously, so a change made on
// the server takes a few cycles to reach the channels.
func (e *TestEnv) Until(cond func() bool, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		e.Advance(e.CycleTime)
		if cond() {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// Value resolves url and returns its current value, or nil when it cannot
// be resolved or read
func (e *TestEnv) Value(url string) any {
	_, acc := e.Resolver.Resolve(url)
	if acc == nil {
		return nil
	}
	v, err := acc()
	if err != nil {
		return nil
	}
	return v
}

// Channel resolves url, returning nil when it does not exist
func (e *TestEnv) Channel(url string) *channel.Channel {
	ch, _ := e.Resolver.Resolve(url)
	return ch
}

// Cleanup stops all components in the correct order.
// Always call this in a defer after creating the TestEnv.
func (e *TestEnv) Cleanup() {
	if e.Registry != nil {
		e.Registry.TerminateAll()
	}
	if e.Client != nil {
		e.Client.Disconnect()
	}
	if e.Server != nil {
		e.Server.Stop()
	}
	if e.Store != nil {
		e.Store.Close()
	}
}

// GetCommands returns all commands received by the mock bridge.
// Useful for asserting that setters sent the expected commands.
func (e *TestEnv) GetCommands() []CommandCall {
	return e.Server.Commands()
}

// ClearCommands clears the recorded commands.
func (e *TestEnv) ClearCommands() {
	e.Server.ClearCommands()
}
