package plugin

import (
	"errors"
	"testing"

	"cncpanel/internal/channel"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// mockPlugin implements the Plugin interface for testing
type mockPlugin struct {
	*DataPlugin
	log          *[]string
	initErr      error
	terminateErr error
}

func newMockPlugin(protocol string, log *[]string) *mockPlugin {
	return &mockPlugin{DataPlugin: NewDataPlugin(protocol, nil, nil), log: log}
}

func (m *mockPlugin) Initialise() error {
	if m.log != nil {
		*m.log = append(*m.log, "init:"+m.Protocol())
	}
	return m.initErr
}

func (m *mockPlugin) Terminate() error {
	if m.log != nil {
		*m.log = append(*m.log, "term:"+m.Protocol())
	}
	return m.terminateErr
}

func TestRegistry_Register(t *testing.T) {
	tests := []struct {
		name        string
		plugin      Plugin
		wantErr     bool
		errContains string
	}{
		{
			name:    "valid registration",
			plugin:  newMockPlugin("status", nil),
			wantErr: false,
		},
		{
			name:        "empty protocol",
			plugin:      newMockPlugin("", nil),
			wantErr:     true,
			errContains: "protocol cannot be empty",
		},
		{
			name:        "nil plugin",
			plugin:      nil,
			wantErr:     true,
			errContains: "cannot be nil",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			registry := NewRegistry(zap.NewNop())
			err := registry.Register(tt.plugin)

			if tt.wantErr {
				assert.Error(t, err)
				if tt.errContains != "" {
					assert.Contains(t, err.Error(), tt.errContains)
				}
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRegistry_ReplaceWarns(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	registry := NewRegistry(zap.New(core))

	first := newMockPlugin("status", nil)
	second := newMockPlugin("status", nil)
	require.NoError(t, registry.Register(newMockPlugin("hal", nil)))
	require.NoError(t, registry.Register(first))
	require.NoError(t, registry.Register(second))

	got, ok := registry.Get("status")
	require.True(t, ok)
	assert.Same(t, second, got)
	assert.Equal(t, []string{"hal", "status"}, registry.Protocols())
	assert.Equal(t, 1, logs.FilterMessage("Replacing data plugin").Len())
}

func TestRegistry_LifecycleOrder(t *testing.T) {
	var log []string
	registry := NewRegistry(zap.NewNop())

	registry.Register(newMockPlugin("status", &log))
	registry.Register(newMockPlugin("hal", &log))
	registry.Register(newMockPlugin("settings", &log))

	require.NoError(t, registry.InitialiseAll())
	require.NoError(t, registry.TerminateAll())

	assert.Equal(t, []string{
		"init:status", "init:hal", "init:settings",
		"term:settings", "term:hal", "term:status",
	}, log)
}

func TestRegistry_InitialiseStopsAtFirstError(t *testing.T) {
	var log []string
	registry := NewRegistry(zap.NewNop())

	failing := newMockPlugin("hal", &log)
	failing.initErr = errors.New("halcmd missing")

	registry.Register(newMockPlugin("status", &log))
	registry.Register(failing)
	registry.Register(newMockPlugin("settings", &log))

	err := registry.InitialiseAll()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to initialise plugin hal")
	assert.Equal(t, []string{"init:status", "init:hal"}, log)
}

func TestRegistry_TerminateIsolatesFailures(t *testing.T) {
	var log []string
	registry := NewRegistry(zap.NewNop())

	bad := newMockPlugin("hal", &log)
	bad.terminateErr = errors.New("stuck")

	registry.Register(newMockPlugin("status", &log))
	registry.Register(bad)
	registry.Register(newMockPlugin("settings", &log))

	err := registry.TerminateAll()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hal: stuck")
	assert.Equal(t, []string{"term:settings", "term:hal", "term:status"}, log)
}

func TestRegistry_Clear(t *testing.T) {
	registry := NewRegistry(nil)
	registry.Register(newMockPlugin("test", nil))

	assert.Len(t, registry.List(), 1)

	registry.Clear()

	assert.Len(t, registry.List(), 0)
	_, ok := registry.Get("test")
	assert.False(t, ok)
}

func TestGlobalRegistry(t *testing.T) {
	ClearGlobal()
	defer ClearGlobal()

	var log []string
	require.NoError(t, Register(newMockPlugin("global", &log)))

	p, ok := Get("global")
	require.True(t, ok)
	assert.Equal(t, "global", p.Protocol())
	assert.Len(t, List(), 1)

	require.NoError(t, InitialiseAll())
	require.NoError(t, TerminateAll())
	assert.Equal(t, []string{"init:global", "term:global"}, log)
}

func TestProviders_Register(t *testing.T) {
	tests := []struct {
		name        string
		info        ProviderInfo
		wantErr     bool
		errContains string
	}{
		{
			name: "valid registration",
			info: ProviderInfo{
				Name:    "status",
				Factory: func(ctx *Context, opts Options) (Plugin, error) { return newMockPlugin("status", nil), nil },
			},
		},
		{
			name:        "empty name",
			info:        ProviderInfo{Factory: func(ctx *Context, opts Options) (Plugin, error) { return nil, nil }},
			wantErr:     true,
			errContains: "name cannot be empty",
		},
		{
			name:        "nil factory",
			info:        ProviderInfo{Name: "status"},
			wantErr:     true,
			errContains: "factory cannot be nil",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			providers := NewProviders()
			err := providers.Register(tt.info)
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errContains)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestProviders_PriorityOverride(t *testing.T) {
	providers := NewProviders()

	require.NoError(t, providers.Register(ProviderInfo{
		Name:        "status",
		Description: "Bundled status plugin",
		Priority:    PriorityOverride,
		Factory:     func(ctx *Context, opts Options) (Plugin, error) { return newMockPlugin("high", nil), nil },
	}))
	require.NoError(t, providers.Register(ProviderInfo{
		Name:        "status",
		Description: "Lower priority",
		Priority:    PriorityDefault,
		Factory:     func(ctx *Context, opts Options) (Plugin, error) { return newMockPlugin("low", nil), nil },
	}))

	info := providers.Get("status")
	require.NotNil(t, info)
	assert.Equal(t, "Bundled status plugin", info.Description)
	assert.Nil(t, providers.Get("nonexistent"))
}

func TestProviders_Build(t *testing.T) {
	providers := NewProviders()

	type clockOptions struct {
		Format string `yaml:"format"`
	}

	var decoded clockOptions
	providers.Register(ProviderInfo{
		Name: "clock",
		Factory: func(ctx *Context, opts Options) (Plugin, error) {
			if err := opts.Decode(&decoded); err != nil {
				return nil, err
			}
			return newMockPlugin("clock", nil), nil
		},
	})
	providers.Register(ProviderInfo{
		Name: "status",
		Factory: func(ctx *Context, opts Options) (Plugin, error) {
			return newMockPlugin("status", nil), nil
		},
	})

	plugins, err := providers.Build(nil, []Spec{
		{Provider: "status"},
		{Provider: "clock", Options: Options{"format": "%H:%M"}},
	})
	require.NoError(t, err)
	require.Len(t, plugins, 2)
	assert.Equal(t, "status", plugins[0].Protocol())
	assert.Equal(t, "clock", plugins[1].Protocol())
	assert.Equal(t, "%H:%M", decoded.Format)
	assert.Equal(t, []string{"clock", "status"}, providers.Names())
}

func TestProviders_BuildSeesEarlierPlugins(t *testing.T) {
	providers := NewProviders()
	providers.Register(ProviderInfo{
		Name:    "status",
		Factory: func(ctx *Context, opts Options) (Plugin, error) { return newMockPlugin("status", nil), nil },
	})

	var seen Plugin
	providers.Register(ProviderInfo{
		Name: "position",
		Factory: func(ctx *Context, opts Options) (Plugin, error) {
			status, ok := ctx.Built("status")
			if !ok {
				return nil, errors.New("status plugin must come first")
			}
			seen = status
			return newMockPlugin("position", nil), nil
		},
	})

	ctx := NewContext(nil, nil, nil, nil)
	_, err := providers.Build(ctx, []Spec{{Provider: "position"}})
	assert.ErrorContains(t, err, "status plugin must come first")

	plugins, err := providers.Build(ctx, []Spec{{Provider: "status"}, {Provider: "position"}})
	require.NoError(t, err)
	assert.Same(t, plugins[0], seen)
}

func TestProviders_BuildErrorCleanup(t *testing.T) {
	providers := NewProviders()

	var log []string
	providers.Register(ProviderInfo{
		Name:    "first",
		Factory: func(ctx *Context, opts Options) (Plugin, error) { return newMockPlugin("first", &log), nil },
	})
	providers.Register(ProviderInfo{
		Name:    "second",
		Factory: func(ctx *Context, opts Options) (Plugin, error) { return nil, errors.New("creation failed") },
	})

	plugins, err := providers.Build(nil, []Spec{{Provider: "first"}, {Provider: "second"}})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to create plugin second")
	assert.Nil(t, plugins)
	assert.Equal(t, []string{"term:first"}, log)

	_, err = providers.Build(nil, []Spec{{Provider: "missing"}})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown plugin provider")
}

func TestDataPlugin_Channel(t *testing.T) {
	p := NewDataPlugin("status", zap.NewNop(), nil)
	homed := channel.New("homed",
		channel.WithValue([]any{true, false, true}),
		channel.WithGetter(func(c *channel.Channel, q channel.Query) (any, error) {
			anum, ok, err := q.Int("anum")
			if err != nil || !ok {
				return c.Raw(), err
			}
			return channel.Element(c.Raw(), anum)
		}),
	)
	require.NoError(t, p.AddChannel(homed))
	assert.Error(t, p.AddChannel(channel.New("homed")))

	tests := []struct {
		name   string
		item   string
		want   any
		exists bool
	}{
		{name: "plain", item: "homed", want: []any{true, false, true}, exists: true},
		{name: "anum", item: "homed?anum=1", want: false, exists: true},
		{name: "axis letter", item: "homed?axis=z", want: true, exists: true},
		{name: "axis number", item: "homed?axis=0", want: true, exists: true},
		{name: "string flag", item: "homed?string&anum=0", want: "true", exists: true},
		{name: "unknown channel", item: "nothing"},
		{name: "bad axis", item: "homed?axis=q"},
		{name: "malformed query", item: "homed?anum="},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch, acc := p.Channel(tt.item)
			if !tt.exists {
				assert.Nil(t, ch)
				assert.Nil(t, acc)
				return
			}
			require.NotNil(t, ch)
			require.NotNil(t, acc)
			got, err := acc()
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDataPlugin_State(t *testing.T) {
	p := NewDataPlugin("clock", nil, nil)
	assert.Equal(t, StateUninitialised, p.State())

	require.NoError(t, p.Initialise())
	assert.Equal(t, StatePolling, p.State())

	require.NoError(t, p.Terminate())
	assert.Equal(t, StateStopped, p.State())
	assert.Equal(t, "stopped", p.State().String())
}
