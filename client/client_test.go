package client_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/XXueTu/graph_automation/client"
	"github.com/XXueTu/graph_automation/domain/execution"
	"github.com/XXueTu/graph_automation/domain/trigger"
	"github.com/XXueTu/graph_automation/domain/workflow"
	"github.com/XXueTu/graph_automation/engine"
)

const definition = `
id: wf-notify
name: notify on create
nodes:
  - id: start
    kind: trigger
    trigger:
      type: record_event
      record:
        table_id: tasks
        events: [created]
  - id: notify
    kind: action
    action:
      type: notification
      params:
        to: team
        message: "new task {{ Name }}"
edges:
  - {source: start, target: notify}
`

func newClient(t *testing.T) *client.Client {
	t.Helper()
	cfg := engine.DefaultConfig()
	cfg.Triggers.TickInterval = 0
	e, err := engine.NewEngine(context.Background(), cfg, engine.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })

	server := httptest.NewServer(e.Handler())
	t.Cleanup(server.Close)
	return client.NewClient(server.URL+"/", 0)
}

func TestClientRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := newClient(t)

	validation, err := c.ValidateWorkflow(ctx, []byte(definition))
	require.NoError(t, err)
	assert.True(t, validation.Valid)

	def, err := c.PublishWorkflow(ctx, []byte(definition))
	require.NoError(t, err)
	assert.Equal(t, "wf-notify", def.ID)
	assert.Equal(t, 1, def.Version)

	workflows, err := c.ListWorkflows(ctx)
	require.NoError(t, err)
	assert.Len(t, workflows, 1)

	result, err := c.SendEvent(ctx, trigger.RecordEvent{
		TableID: "tasks", RowID: "row-1", Kind: workflow.ChangeCreated,
		Row: map[string]interface{}{"Name": "Write docs"},
	})
	require.NoError(t, err)
	require.Equal(t, 1, result.Matched)
	runID := result.RunIDs[0]

	run, err := c.GetRun(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, "wf-notify", run.WorkflowID)
	assert.Equal(t, "Write docs", run.Context["Name"])

	runs, err := c.ListRuns(ctx, client.ListOptions{WorkflowID: "wf-notify", Limit: 10})
	require.NoError(t, err)
	assert.Len(t, runs, 1)

	records, err := c.GetRecords(ctx, runID)
	require.NoError(t, err)
	assert.Empty(t, records, "no worker running")

	cancelled, err := c.CancelRun(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, execution.StatusCancelled, cancelled.Status)

	ticked, err := c.Tick(ctx, trigger.Tick{})
	require.NoError(t, err)
	assert.Zero(t, ticked.Matched)
}

func TestClientErrors(t *testing.T) {
	ctx := context.Background()
	c := newClient(t)

	_, err := c.GetRun(ctx, "missing")
	var apiErr *client.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)

	_, err = c.PublishWorkflow(ctx, []byte(`{"id":"wf-empty","nodes":[],"edges":[]}`))
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnprocessableEntity, apiErr.StatusCode)
	assert.NotEmpty(t, apiErr.Errors)

	_, err = c.ListRuns(ctx, client.ListOptions{Status: "sleeping"})
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
}
