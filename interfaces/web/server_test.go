package web_test

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/XXueTu/graph_automation/application"
	"github.com/XXueTu/graph_automation/domain/execution"
	"github.com/XXueTu/graph_automation/domain/scheduler"
	"github.com/XXueTu/graph_automation/domain/trigger"
	"github.com/XXueTu/graph_automation/infrastructure/actions"
	"github.com/XXueTu/graph_automation/infrastructure/metrics"
	"github.com/XXueTu/graph_automation/infrastructure/persistence/memory"
	"github.com/XXueTu/graph_automation/infrastructure/rowstore"
	"github.com/XXueTu/graph_automation/interfaces/web"
	"github.com/XXueTu/graph_automation/types"
)

const recordWorkflow = `{
  "id": "wf-close",
  "name": "close task",
  "nodes": [
    {"id": "start", "kind": "trigger", "trigger": {"type": "record_event", "record": {"table_id": "tasks", "events": ["updated"]}}},
    {"id": "close", "kind": "action", "action": {"type": "status_change", "params": {"status": "Closed"}}}
  ],
  "edges": [{"source": "start", "target": "close"}]
}`

const webhookWorkflow = `
id: wf-orders
name: orders
nodes:
  - id: hook
    kind: trigger
    trigger:
      type: webhook
      webhook:
        path: orders/new
        auth:
          method: api_key
          keys: [secret-key]
        field_mapping:
          order_id: body.id
  - id: mark
    kind: action
    action:
      type: status_change
      params:
        table_id: orders
        row_id: "{{ order_id }}"
        status: Received
edges:
  - {source: hook, target: mark}
`

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	clock := types.SystemClock{}
	rows := rowstore.NewMemoryStore()
	runs := memory.NewRunRepository()
	records := memory.NewRecordStore()
	defs := memory.NewWorkflowRepository()
	sched := scheduler.NewScheduler(memory.NewSchedulerStore(), clock, scheduler.DefaultConfig(), nil)
	registry := actions.NewRegistry(actions.Deps{Rows: rows})
	triggers := trigger.NewRegistry()

	services := web.Services{
		Workflows: application.NewWorkflowService(defs, triggers, registry.Types(), clock, nil),
		Triggers: application.NewTriggerService(application.TriggerDeps{
			Matcher:   trigger.NewMatcher(triggers, rows, memory.NewDedupeStore(), nil, clock, nil),
			Runs:      runs,
			Scheduler: sched,
			Clock:     clock,
		}),
		Runs: application.NewRunService(application.RunDeps{
			Runs: runs, Records: records, Definitions: defs, Scheduler: sched, Clock: clock,
		}),
		Metrics: metrics.NewCollector().Handler(),
	}
	server := httptest.NewServer(web.NewServer(services, web.Config{}, nil).Handler())
	t.Cleanup(server.Close)
	return server
}

func do(t *testing.T, method, url, body string, headers map[string]string) (*http.Response, map[string]interface{}) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), method, url, strings.NewReader(body))
	require.NoError(t, err)
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	decoded := map[string]interface{}{}
	if strings.HasPrefix(strings.TrimSpace(buf.String()), "{") {
		require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	}
	return resp, decoded
}

func TestHealth(t *testing.T) {
	server := newTestServer(t)
	resp, body := do(t, http.MethodGet, server.URL+"/api/v1/health", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestPublishAndValidateWorkflow(t *testing.T) {
	server := newTestServer(t)

	resp, body := do(t, http.MethodPost, server.URL+"/api/v1/workflows/validate", `{"id":"wf-empty","nodes":[],"edges":[]}`, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, body["valid"])
	assert.NotEmpty(t, body["errors"])

	resp, body = do(t, http.MethodPost, server.URL+"/api/v1/workflows", `{"id":"wf-empty","nodes":[],"edges":[]}`, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.NotEmpty(t, body["errors"])

	resp, _ = do(t, http.MethodPost, server.URL+"/api/v1/workflows", `{not json`, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = do(t, http.MethodPost, server.URL+"/api/v1/workflows", recordWorkflow, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, float64(1), body["version"])

	resp, body = do(t, http.MethodGet, server.URL+"/api/v1/workflows/wf-close", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "published", body["status"])

	resp, _ = do(t, http.MethodGet, server.URL+"/api/v1/workflows/wf-close?version=7", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = do(t, http.MethodGet, server.URL+"/api/v1/workflows/wf-missing", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRecordEventAndRunAdministration(t *testing.T) {
	server := newTestServer(t)
	resp, _ := do(t, http.MethodPost, server.URL+"/api/v1/workflows", recordWorkflow, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, _ = do(t, http.MethodPost, server.URL+"/automation/events", `{"table_id":"tasks"}`, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body := do(t, http.MethodPost, server.URL+"/automation/events",
		`{"table_id":"tasks","row_id":"row-1","kind":"updated","row":{"Status":"Open"}}`, nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, float64(1), body["matched"])
	ids := body["run_ids"].([]interface{})
	require.Len(t, ids, 1)
	runID := ids[0].(string)

	resp, body = do(t, http.MethodGet, server.URL+"/api/v1/runs/"+runID, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, string(execution.StatusPending), body["status"])

	resp, _ = do(t, http.MethodGet, server.URL+"/api/v1/runs/"+runID+"/records", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = do(t, http.MethodGet, server.URL+"/api/v1/runs?status=sleeping", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = do(t, http.MethodGet, server.URL+"/api/v1/runs?limit=abc", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = do(t, http.MethodGet, server.URL+"/api/v1/runs?status=pending&workflow_id=wf-close", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = do(t, http.MethodPost, server.URL+"/api/v1/runs/"+runID+"/retry", "", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode, "only failed runs are retryable")

	resp, body = do(t, http.MethodPost, server.URL+"/api/v1/runs/"+runID+"/cancel", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, string(execution.StatusCancelled), body["status"])

	resp, _ = do(t, http.MethodPost, server.URL+"/api/v1/runs/missing/cancel", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, _ = do(t, http.MethodGet, server.URL+"/api/v1/runs/missing/records", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestWebhookIngress(t *testing.T) {
	server := newTestServer(t)
	resp, _ := do(t, http.MethodPost, server.URL+"/api/v1/workflows", webhookWorkflow, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	hook := server.URL + "/automation/webhooks/orders/new"
	payload := `{"id":"order-9"}`

	resp, _ = do(t, http.MethodPost, hook, payload, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = do(t, http.MethodPost, hook, payload, map[string]string{"X-API-Key": "wrong"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = do(t, http.MethodGet, hook, "", map[string]string{"X-API-Key": "secret-key"})
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	resp, _ = do(t, http.MethodPost, server.URL+"/automation/webhooks/unknown", payload, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body := do(t, http.MethodPost, hook, payload, map[string]string{"X-API-Key": "secret-key"})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, true, body["accepted"])
	runID, _ := body["run_id"].(string)
	require.NotEmpty(t, runID)

	resp, body = do(t, http.MethodGet, server.URL+"/api/v1/runs/"+runID, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	runContext := body["context"].(map[string]interface{})
	assert.Equal(t, "order-9", runContext["order_id"])
}

func TestTickAndMetrics(t *testing.T) {
	server := newTestServer(t)

	resp, body := do(t, http.MethodPost, server.URL+"/automation/ticks", `{"now":"`+time.Now().UTC().Format(time.RFC3339)+`","window":"1h"}`, nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, float64(0), body["matched"])

	resp, _ = do(t, http.MethodPost, server.URL+"/automation/ticks", "", nil)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp, _ = do(t, http.MethodGet, server.URL+"/metrics", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = do(t, http.MethodGet, server.URL+"/api/v1/nowhere", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
