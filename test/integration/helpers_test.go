// Package integration runs the data plugins, resolver, rules and panel
// against a mock status bridge.
package integration

import (
	"testing"
	"time"

	"cncpanel/internal/config"
	"cncpanel/internal/linuxcnc"
	"cncpanel/internal/panel"
	"cncpanel/pkg/plugin"
	"cncpanel/pkg/testutil"

	"github.com/stretchr/testify/require"
)

const settle = 2 * time.Second

func setupTest(t *testing.T, specs ...plugin.Spec) *testutil.TestEnv {
	t.Helper()
	env, err := testutil.NewTestEnv(linuxcnc.DefaultStat(), specs...)
	require.NoError(t, err)
	t.Cleanup(env.Cleanup)
	return env
}

func buildPanel(t *testing.T, env *testutil.TestEnv, widgets ...config.WidgetConfig) *panel.Panel {
	t.Helper()
	p, err := panel.Build(config.PanelConfig{Title: "test", Widgets: widgets}, env.Resolver, env.Rules, env.Logger)
	require.NoError(t, err)
	t.Cleanup(p.Close)
	return p
}

func find(p *panel.Panel, name string) panel.Control {
	for _, item := range p.Items {
		if item.Config.Name == name {
			return item.Control
		}
	}
	return nil
}
