package actions_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/XXueTu/graph_automation/domain/action"
	"github.com/XXueTu/graph_automation/domain/execution"
	"github.com/XXueTu/graph_automation/domain/record"
	"github.com/XXueTu/graph_automation/domain/retry"
	"github.com/XXueTu/graph_automation/domain/scheduler"
	"github.com/XXueTu/graph_automation/domain/workflow"
	"github.com/XXueTu/graph_automation/infrastructure/actions"
	"github.com/XXueTu/graph_automation/infrastructure/notification"
	"github.com/XXueTu/graph_automation/infrastructure/persistence/memory"
	"github.com/XXueTu/graph_automation/infrastructure/rowstore"
	"github.com/XXueTu/graph_automation/types"
)

func fastWebhook() actions.WebhookConfig {
	return actions.WebhookConfig{
		Timeout:        2 * time.Second,
		MaxRetries:     0,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     time.Millisecond,
	}
}

func request(params map[string]interface{}) action.Request {
	return action.Request{
		RunID:   "run-1",
		NodeID:  "node-1",
		Attempt: 1,
		Params:  params,
		Context: map[string]interface{}{
			"trigger": map[string]interface{}{"table_id": "tasks", "row_id": "row-1"},
		},
	}
}

func TestWebhookActionSuccess(t *testing.T) {
	var got map[string]interface{}
	var idempotencyKey string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		idempotencyKey = r.Header.Get("Idempotency-Key")
		data, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(data, &got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"accepted":true}`))
	}))
	defer server.Close()

	result, err := actions.NewWebhookAction(fastWebhook(), nil).Execute(context.Background(), request(map[string]interface{}{
		"url":  server.URL,
		"body": map[string]interface{}{"task": "Ship"},
	}))
	require.NoError(t, err)
	assert.Equal(t, 200, result.Output["status_code"])
	assert.Equal(t, map[string]interface{}{"accepted": true}, result.Output["body"])
	assert.Equal(t, "Ship", got["task"])
	assert.Equal(t, "run-1:node-1", idempotencyKey)
}

func TestWebhookActionClassifiesStatus(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		if r.URL.Path == "/bad" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	config := fastWebhook()
	config.MaxRetries = 2
	webhook := actions.NewWebhookAction(config, nil)

	_, err := webhook.Execute(context.Background(), request(map[string]interface{}{"url": server.URL + "/down"}))
	require.Error(t, err)
	assert.True(t, action.IsTransientError(err))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls), "one try plus two internal retries")

	atomic.StoreInt32(&calls, 0)
	_, err = webhook.Execute(context.Background(), request(map[string]interface{}{"url": server.URL + "/bad"}))
	require.Error(t, err)
	assert.True(t, action.IsFatalError(err))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	_, err = webhook.Execute(context.Background(), request(map[string]interface{}{}))
	assert.True(t, action.IsFatalError(err))
}

func TestNotificationAction(t *testing.T) {
	inbox := notification.NewInbox()
	router := notification.NewRouter().Handle(notification.ChannelInApp, inbox)
	notify := actions.NewNotificationAction(router)

	result, err := notify.Execute(context.Background(), request(map[string]interface{}{
		"channel": "in_app",
		"to":      "ada, grace",
		"subject": "Task done",
		"message": "Ship it is done",
	}))
	require.NoError(t, err)
	assert.Equal(t, 2, result.Output["recipients"])
	require.Len(t, inbox.Messages("grace"), 1)
	assert.Equal(t, "Ship it is done", inbox.Messages("grace")[0].Body)

	_, err = notify.Execute(context.Background(), request(map[string]interface{}{
		"channel": "email", "to": "ada", "message": "x",
	}))
	require.Error(t, err)
	assert.True(t, action.IsFatalError(err))
	assert.ErrorIs(t, err, notification.ErrUnknownChannel)
}

type downDispatcher struct{}

func (downDispatcher) Dispatch(ctx context.Context, msg notification.Message) error {
	return notification.ErrUnavailable
}

func TestNotificationUnavailableIsTransient(t *testing.T) {
	notify := actions.NewNotificationAction(downDispatcher{})
	_, err := notify.Execute(context.Background(), request(map[string]interface{}{"to": "ada", "message": "x"}))
	require.Error(t, err)
	assert.True(t, action.IsTransientError(err))
}

func TestFieldUpdateDefaultsToTriggerRow(t *testing.T) {
	rows := rowstore.NewMemoryStore()
	rows.PutRow("tasks", "row-1", map[string]interface{}{"Name": "Ship", "Status": "Todo"})
	update := actions.NewFieldUpdateAction(rows)

	result, err := update.Execute(context.Background(), request(map[string]interface{}{
		"fields": map[string]interface{}{"Owner": "ada"},
	}))
	require.NoError(t, err)
	assert.Equal(t, "ada", result.Output["Owner"])
	assert.Equal(t, "row-1", result.Output["row_id"])

	row, err := rows.GetRow(context.Background(), "tasks", "row-1")
	require.NoError(t, err)
	assert.Equal(t, "ada", row["Owner"])
	assert.Equal(t, "Ship", row["Name"])

	_, err = update.Execute(context.Background(), request(map[string]interface{}{
		"row_id": "missing", "fields": map[string]interface{}{"Owner": "ada"},
	}))
	assert.True(t, action.IsFatalError(err))
	assert.ErrorIs(t, err, rowstore.ErrRowNotFound)

	_, err = update.Execute(context.Background(), request(map[string]interface{}{}))
	assert.True(t, action.IsFatalError(err))
}

func TestStatusChangeIsIdempotent(t *testing.T) {
	rows := rowstore.NewMemoryStore()
	rows.PutRow("tasks", "row-1", map[string]interface{}{"Status": "Todo"})
	change := actions.NewStatusChangeAction(rows)
	params := map[string]interface{}{"status": "Done"}

	first, err := change.Execute(context.Background(), request(params))
	require.NoError(t, err)
	second, err := change.Execute(context.Background(), request(params))
	require.NoError(t, err)
	assert.Equal(t, first.Output, second.Output)

	row, err := rows.GetRow(context.Background(), "tasks", "row-1")
	require.NoError(t, err)
	assert.Equal(t, "Done", row["Status"])

	_, err = change.Execute(context.Background(), request(map[string]interface{}{}))
	assert.True(t, action.IsFatalError(err))
}

func TestRegistryTypes(t *testing.T) {
	registry := actions.NewRegistry(actions.Deps{Webhook: fastWebhook()})
	assert.Equal(t, []string{actions.TypeWebhook}, registry.Types())

	registry = actions.NewRegistry(actions.Deps{
		Notifications: notification.NewRouter(),
		Rows:          rowstore.NewMemoryStore(),
		Webhook:       fastWebhook(),
	})
	assert.Equal(t, []string{
		actions.TypeFieldUpdate, actions.TypeNotification, actions.TypeStatusChange, actions.TypeWebhook,
	}, registry.Types())
}

// 目标不可达、最多两次尝试：两条失败记录后运行失败
func TestUnreachableWebhookFailsRunAfterTwoAttempts(t *testing.T) {
	ctx := context.Background()
	server := httptest.NewServer(http.NotFoundHandler())
	unreachable := server.URL
	server.Close()

	clock := types.NewManualClock(time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC))
	runs := memory.NewRunRepository()
	records := memory.NewRecordStore()
	defs := memory.NewWorkflowRepository()
	sched := scheduler.NewScheduler(memory.NewSchedulerStore(), clock, scheduler.DefaultConfig(), nil)
	executor := execution.NewExecutor(execution.ExecutorDeps{
		Runs:        runs,
		Records:     records,
		Definitions: defs,
		Scheduler:   sched,
		Actions:     actions.NewRegistry(actions.Deps{Webhook: fastWebhook()}),
		Leases:      execution.NewLeaseManager(runs, 30*time.Second, clock, nil),
		Clock:       clock,
	}, execution.ExecutorConfig{WorkerID: "worker-test", LeaseRetryDelay: time.Second})

	def, err := workflow.NewBuilder("wf-hook").
		Trigger("start", workflow.TriggerConfig{
			Type:   workflow.TriggerRecordEvent,
			Record: &workflow.RecordTrigger{TableID: "tasks"},
		}).
		Action("call", actions.TypeWebhook, map[string]interface{}{"url": unreachable + "/hook"}).
		Connect("start", "call").
		SetRetry("call", retry.NewPolicy(2, time.Second, 2, 0)).
		Build()
	require.NoError(t, err)
	def.MarkPublished(1, clock.Now())
	require.NoError(t, defs.Save(ctx, def))

	run := execution.NewRun("run-hook", def, "start", nil, clock.Now())
	require.NoError(t, runs.Create(ctx, run))
	require.NoError(t, sched.EnqueueNow(ctx, run.ID, "start", 1, scheduler.ReasonStart))

	drain := func() {
		for i := 0; i < 20; i++ {
			claim, err := sched.TryDequeue(ctx)
			require.NoError(t, err)
			if claim == nil {
				return
			}
			_, err = executor.Step(ctx, claim.Item)
			require.NoError(t, err)
			require.NoError(t, sched.Ack(ctx, claim))
		}
	}

	drain()
	current, err := runs.FindByID(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, execution.StatusRunning, current.Status)
	assert.Equal(t, 2, current.CurrentAttempt)

	clock.Advance(time.Second)
	drain()

	current, err = runs.FindByID(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, execution.StatusFailed, current.Status)
	assert.Equal(t, "call", current.FailedNodeID)
	assert.NotEmpty(t, current.LastError)

	recs, err := records.ListForRun(ctx, run.ID)
	require.NoError(t, err)
	var failed []*record.NodeExecutionRecord
	for _, rec := range recs {
		if rec.NodeID == "call" {
			failed = append(failed, rec)
		}
	}
	require.Len(t, failed, 2)
	for i, rec := range failed {
		assert.Equal(t, record.StatusFailed, rec.Status)
		assert.Equal(t, i+1, rec.Attempt)
	}
	assert.NotNil(t, failed[0].RetryAt)
	assert.Nil(t, failed[1].RetryAt)
}
