package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Record(t *testing.T) {
	m := New()

	m.RecordTick("status", 2*time.Millisecond)
	m.RecordTick("status", 3*time.Millisecond)
	m.RecordUpdates("status", 4)
	m.RecordUpdates("status", 0)
	m.RecordSubscriberFailure("task_state")
	m.RecordRefreshFailure("hal")
	m.RecordPluginState("status", 2)
	m.RecordRuleEvaluation("ok")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.TicksTotal.WithLabelValues("status")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.ChannelUpdates.WithLabelValues("status")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SubscriberFailures.WithLabelValues("task_state")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RefreshFailures.WithLabelValues("hal")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.PluginState.WithLabelValues("status")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RuleEvaluations.WithLabelValues("ok")))

	families, err := m.Registry().Gather()
	assert.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.RecordTick("status", time.Millisecond)
		m.RecordUpdates("status", 1)
		m.RecordSubscriberFailure("x")
		m.RecordRefreshFailure("status")
		m.RecordPluginState("status", 1)
		m.RecordRuleEvaluation("error")
	})
	assert.Nil(t, m.Registry())
}
