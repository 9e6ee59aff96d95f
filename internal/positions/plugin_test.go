package positions

import (
	"testing"

	"cncpanel/internal/channel"
	"cncpanel/internal/linuxcnc"
	"cncpanel/pkg/plugin"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeStatus serves the status channels the plugin reads
type fakeStatus struct {
	*plugin.DataPlugin
}

func newFakeStatus(t *testing.T) *fakeStatus {
	t.Helper()
	s := &fakeStatus{DataPlugin: plugin.NewDataPlugin("status", zap.NewNop(), nil)}
	values := map[string]any{
		"position":        vec(),
		"actual_position": vec(),
		"dtg":             vec(),
		"g5x_offset":      vec(),
		"g92_offset":      vec(),
		"tool_offset":     vec(),
		"rotation_xy":     0.0,
		"program_units":   linuxcnc.UnitsMM,
		"linear_units":    1.0,
	}
	for name, v := range values {
		require.NoError(t, s.AddChannel(channel.New(name, channel.WithValue(v))))
	}
	return s
}

// set updates a status channel the way the status plugin does
func (s *fakeStatus) set(name string, v any) {
	ch, _ := s.Lookup(name)
	ch.Update(v)
}

func vec(values ...float64) []any {
	out := make([]any, NumAxes)
	for i := range out {
		out[i] = 0.0
		if i < len(values) {
			out[i] = values[i]
		}
	}
	return out
}

func newPlugin(t *testing.T, status *fakeStatus, opts ...Option) *Plugin {
	t.Helper()
	p, err := New(status, opts...)
	require.NoError(t, err)
	require.NoError(t, p.Initialise())
	t.Cleanup(func() { p.Terminate() })
	return p
}

func value(t *testing.T, p *Plugin, item string) any {
	t.Helper()
	_, acc := p.Channel(item)
	require.NotNil(t, acc, item)
	v, err := acc()
	require.NoError(t, err, item)
	return v
}

func TestPlugin_RelativeAbsoluteAndDistanceToGo(t *testing.T) {
	status := newFakeStatus(t)
	status.set("position", vec(10, 20, 30))
	status.set("g5x_offset", vec(1, 2, 3))
	status.set("tool_offset", vec(0, 0, 5))
	status.set("g92_offset", vec(0.5, 0, 0))
	status.set("dtg", vec(4, 0, -1))

	p := newPlugin(t, status)

	assert.Equal(t, vec(10, 20, 30), value(t, p, "abs"))
	assert.Equal(t, vec(8.5, 18, 22), value(t, p, "rel"))
	assert.Equal(t, 22.0, value(t, p, "rel?axis=z"))
	assert.Equal(t, 4.0, value(t, p, "dtg?anum=0"))
	assert.Equal(t, "    8.500", value(t, p, "rel?string&axis=x"))
	assert.Equal(t, "mm", p.Units())
}

func TestPlugin_UpdatesFollowStatus(t *testing.T) {
	status := newFakeStatus(t)
	p := newPlugin(t, status)

	rel, _ := p.Lookup("rel")
	dtg, _ := p.Lookup("dtg")
	var rels, dtgs []any
	rel.Notify(func(v any) { rels = append(rels, v) }, channel.Query{Kwargs: map[string]string{"anum": "0"}})
	dtg.Notify(func(v any) { dtgs = append(dtgs, v) }, channel.Query{})

	status.set("position", vec(5))
	status.set("g5x_offset", vec(2))
	status.set("tool_offset", vec())

	assert.Equal(t, []any{5.0, 3.0}, rels, "unchanged results do not notify")
	assert.Empty(t, dtgs)

	require.NoError(t, p.Terminate())
	status.set("position", vec(7))
	assert.Len(t, rels, 2, "terminated plugins stop following")
}

func TestPlugin_Rotation(t *testing.T) {
	status := newFakeStatus(t)
	status.set("position", vec(1, 0, 0))
	status.set("rotation_xy", 90.0)

	p := newPlugin(t, status)
	rel := value(t, p, "rel").([]any)

	assert.InDelta(t, 0.0, rel[0], 1e-9)
	assert.InDelta(t, -1.0, rel[1], 1e-9)
	assert.Equal(t, vec(1, 0, 0), value(t, p, "abs"), "absolute position is not rotated")
}

func TestPlugin_Units(t *testing.T) {
	t.Run("imperial program on metric machine", func(t *testing.T) {
		status := newFakeStatus(t)
		status.set("position", vec(25.4, 0, 0, 90))
		status.set("program_units", linuxcnc.UnitsInches)

		p := newPlugin(t, status)
		abs := value(t, p, "abs").([]any)
		assert.InDelta(t, 1.0, abs[0], 1e-9)
		assert.Equal(t, 90.0, abs[3], "rotary axes are not converted")
		assert.Equal(t, "  1.0000", value(t, p, "abs?str&axis=x"))
		assert.Equal(t, "in", p.Units())
	})

	t.Run("metric program on imperial machine", func(t *testing.T) {
		status := newFakeStatus(t)
		status.set("position", vec(1))
		status.set("linear_units", 1/25.4)

		p := newPlugin(t, status)
		assert.InDelta(t, 25.4, value(t, p, "abs?axis=x"), 1e-9)
	})

	t.Run("machine units", func(t *testing.T) {
		status := newFakeStatus(t)
		status.set("position", vec(25.4))
		status.set("program_units", linuxcnc.UnitsInches)

		p := newPlugin(t, status, WithProgramUnits(false), WithFormats("%.1f", ""))
		assert.Equal(t, 25.4, value(t, p, "abs?axis=x"))
		assert.Equal(t, "25.4", value(t, p, "abs?string&axis=x"))
		assert.Equal(t, "mm", p.Units())
	})
}

func TestPlugin_Options(t *testing.T) {
	t.Run("actual position", func(t *testing.T) {
		status := newFakeStatus(t)
		status.set("position", vec(1))
		status.set("actual_position", vec(1.002))

		p := newPlugin(t, status, WithActualPosition(true))
		assert.Equal(t, 1.002, value(t, p, "abs?axis=x"))
	})

	t.Run("configured axes", func(t *testing.T) {
		status := newFakeStatus(t)
		status.set("position", vec(1, 2, 3))

		p := newPlugin(t, status, WithAxes("XZ"))
		assert.Equal(t, vec(1, 0, 3), value(t, p, "rel"))
	})

	t.Run("invalid", func(t *testing.T) {
		status := newFakeStatus(t)
		_, err := New(status, WithAxes("xq"))
		assert.Error(t, err)
		_, err = New(status, WithFormats("%d%d", ""))
		assert.Error(t, err)
		_, err = New(nil)
		assert.Error(t, err)
	})
}

func TestPlugin_MissingStatusChannel(t *testing.T) {
	status := &fakeStatus{DataPlugin: plugin.NewDataPlugin("status", zap.NewNop(), nil)}
	p, err := New(status)
	require.NoError(t, err)
	assert.ErrorContains(t, p.Initialise(), `"position" not found`)
}

func TestPlugin_EmptyStatus(t *testing.T) {
	status := newFakeStatus(t)
	for _, name := range []string{"position", "dtg", "linear_units", "program_units"} {
		ch, _ := status.Lookup(name)
		ch.Store(nil)
	}

	p := newPlugin(t, status)
	assert.Equal(t, vec(), value(t, p, "abs"))
	assert.Equal(t, "mm", p.Units())
}

func TestCreatePlugin_RequiresStatus(t *testing.T) {
	ctx := plugin.NewContext(zap.NewNop(), nil, nil, nil)
	_, err := createPlugin(ctx, nil)
	assert.ErrorContains(t, err, "requires the status plugin")
}
