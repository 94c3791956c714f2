package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestCollectorRecordsNodeMetrics(t *testing.T) {
	t.Parallel()
	registry := prometheus.NewRegistry()
	c := NewCollector("taskflow", registry, zap.NewNop())

	c.RecordNodeExecution("normal", "success", 25*time.Millisecond)
	c.RecordNodeExecution("normal", "rejected", 10*time.Millisecond)
	c.RecordRetry("normal")
	c.RecordGuardrailRejection("draft")
	c.RecordHandoff("resolved")
	c.RecordRun("pipeline", "completed", time.Second, 7)

	assert.InDelta(t, 1, testutil.ToFloat64(
		c.nodeExecutionsTotal.WithLabelValues("normal", "success")), 1e-9)
	assert.InDelta(t, 1, testutil.ToFloat64(
		c.nodeExecutionsTotal.WithLabelValues("normal", "rejected")), 1e-9)
	assert.InDelta(t, 1, testutil.ToFloat64(
		c.nodeRetriesTotal.WithLabelValues("normal")), 1e-9)
	assert.InDelta(t, 1, testutil.ToFloat64(
		c.guardrailRejections.WithLabelValues("draft")), 1e-9)
	assert.InDelta(t, 1, testutil.ToFloat64(
		c.handoffsTotal.WithLabelValues("resolved")), 1e-9)
	assert.InDelta(t, 1, testutil.ToFloat64(
		c.runsTotal.WithLabelValues("completed")), 1e-9)

	// All metric families are registered under the namespace.
	families, err := registry.Gather()
	require.NoError(t, err)
	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["taskflow_node_executions_total"])
	assert.True(t, names["taskflow_run_duration_seconds"])
	assert.True(t, names["taskflow_run_steps"])
}

func TestCollectorNilReceiverIsSafe(t *testing.T) {
	t.Parallel()
	var c *Collector
	c.RecordNodeExecution("normal", "success", time.Millisecond)
	c.RecordRetry("normal")
	c.RecordGuardrailRejection("draft")
	c.RecordHandoff("resolved")
	c.RecordRun("pipeline", "completed", time.Second, 1)
}
