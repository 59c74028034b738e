package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/XXueTu/graph_automation/domain/execution"
	"github.com/XXueTu/graph_automation/domain/workflow"
)

func publish(t *testing.T, c *Collector, eventType string, data map[string]interface{}) {
	t.Helper()
	run := execution.NewRun("run-1", workflow.NewDefinition("wf", "wf"), "start", nil, time.Now())
	require.NoError(t, c.HandleEvent(execution.NewRunEvent(eventType, run, "node", data, time.Now())))
}

func TestEventsUpdateCounters(t *testing.T) {
	c := NewCollector()
	publish(t, c, execution.EventRunStarted, nil)
	publish(t, c, execution.EventNodeSucceeded, map[string]interface{}{"kind": "action"})
	publish(t, c, execution.EventRetryScheduled, map[string]interface{}{"kind": "action"})
	publish(t, c, execution.EventRunCompleted, map[string]interface{}{"duration": 1.5})
	publish(t, c, execution.EventRunFailed, nil)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.runsStarted))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.nodeExecutions.WithLabelValues("action", "succeeded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.nodeExecutions.WithLabelValues("action", "failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.retriesScheduled.WithLabelValues("action")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.runsFinished.WithLabelValues("completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.runsFinished.WithLabelValues("failed")))
}

func TestHandlerExposesMetrics(t *testing.T) {
	c := NewCollector()
	c.TriggerFired("webhook")
	c.ObserveStep("advanced", 20*time.Millisecond)
	c.SetQueueDepth(3)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `automation_trigger_matches_total{type="webhook"} 1`))
	assert.True(t, strings.Contains(body, "automation_scheduler_queue_depth 3"))
	assert.True(t, strings.Contains(body, "automation_step_duration_seconds_count{outcome=\"advanced\"} 1"))
}
