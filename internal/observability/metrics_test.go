package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsAreIsolatedPerInstance(t *testing.T) {
	a := NewMetrics()
	b := NewMetrics()

	a.SessionCounter.WithLabelValues("started").Inc()
	a.SessionCounter.WithLabelValues("started").Inc()
	b.SessionCounter.WithLabelValues("started").Inc()

	assert.Equal(t, float64(2), testutil.ToFloat64(a.SessionCounter.WithLabelValues("started")))
	assert.Equal(t, float64(1), testutil.ToFloat64(b.SessionCounter.WithLabelValues("started")))
}

func TestRegistryGathersCollectors(t *testing.T) {
	m := NewMetrics()
	m.IterationCounter.Inc()
	m.ActiveSessions.Set(3)
	m.ToolExecutionCounter.WithLabelValues("lookup", "success").Inc()

	families, err := m.Registry().Gather()
	require.NoError(t, err)

	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["strix_loop_iterations_total"])
	assert.True(t, names["strix_active_sessions"])
	assert.True(t, names["strix_tool_executions_total"])
}
