package engine

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/XXueTu/graph_automation/domain/execution"
	"github.com/XXueTu/graph_automation/domain/trigger"
	"github.com/XXueTu/graph_automation/domain/workflow"
	"github.com/XXueTu/graph_automation/infrastructure/rowstore"
	"github.com/XXueTu/graph_automation/types"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestLoadConfigMergesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "automation.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
storage:
  driver: badger
  badger:
    dir: /var/lib/automation
workers:
  count: 8
retry:
  action:
    max_attempts: 5
    base_delay: 2s
    backoff_multiplier: 2
logging:
  format: json
`), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, DriverBadger, cfg.Storage.Driver)
	assert.Equal(t, "/var/lib/automation", cfg.Storage.Badger.Dir)
	assert.Equal(t, 8, cfg.Workers.Count)
	assert.Equal(t, 500*time.Millisecond, cfg.Workers.PollInterval.Std(), "default kept")
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, 5, cfg.Retry["action"].MaxAttempts)
	assert.Equal(t, 3, cfg.Retry["default"].MaxAttempts, "default policy merged in")
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestApplyEnvOverrides(t *testing.T) {
	env := map[string]string{
		"AUTOMATION_STORAGE_DRIVER": "mysql",
		"AUTOMATION_MYSQL_DSN":      "user:pass@tcp(localhost:3306)/automation",
		"AUTOMATION_WORKERS":        "2",
		"AUTOMATION_TICK_INTERVAL":  "30s",
	}
	lookup := func(key string) (string, bool) {
		value, ok := env[key]
		return value, ok
	}

	cfg := DefaultConfig()
	require.NoError(t, cfg.ApplyEnv(lookup))
	assert.Equal(t, DriverMySQL, cfg.Storage.Driver)
	assert.Equal(t, 2, cfg.Workers.Count)
	assert.Equal(t, 30*time.Second, cfg.Triggers.TickInterval.Std())
	assert.NoError(t, cfg.Validate())

	env["AUTOMATION_WORKERS"] = "many"
	assert.Error(t, DefaultConfig().ApplyEnv(lookup))
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown driver", func(c *Config) { c.Storage.Driver = "redis" }},
		{"badger without dir", func(c *Config) { c.Storage.Driver = DriverBadger; c.Storage.Badger.Dir = "" }},
		{"mysql without dsn", func(c *Config) { c.Storage.Driver = DriverMySQL }},
		{"no workers", func(c *Config) { c.Workers.Count = 0 }},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }},
		{"lease not longer than action timeout", func(c *Config) { c.Workers.LeaseTTL = c.Workers.ActionTimeout }},
		{"visibility shorter than lease", func(c *Config) { c.Workers.Visibility = types.Duration(40 * time.Second) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
	assert.NoError(t, DefaultConfig().Validate())
}

func testConfig() *Config {
	cfg := DefaultConfig()
	cfg.Workers.Count = 2
	cfg.Workers.PollInterval = types.Duration(10 * time.Millisecond)
	cfg.Triggers.TickInterval = 0
	return cfg
}

func closeOnDone(t *testing.T) *workflow.Definition {
	t.Helper()
	def, err := workflow.NewBuilder("wf-close").
		Trigger("start", workflow.TriggerConfig{
			Type:   workflow.TriggerRecordEvent,
			Record: &workflow.RecordTrigger{TableID: "tasks"},
		}).
		Action("close", "status_change", map[string]interface{}{"status": "Closed"}).
		Action("notify", "notification", map[string]interface{}{"to": "ops", "message": "{{ Name }} closed"}).
		Connect("start", "close").
		Connect("close", "notify").
		Build()
	require.NoError(t, err)
	return def
}

func TestEngineRunsWorkflowEndToEnd(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rows := rowstore.NewMemoryStore()
	rows.PutRow("tasks", "row-1", map[string]interface{}{"Name": "Ship", "Status": "Done"})
	e, err := NewEngine(ctx, testConfig(), WithRowStore(rows), WithLogger(quietLogger()))
	require.NoError(t, err)
	defer e.Close()

	_, err = e.Workflows.PublishWorkflow(ctx, closeOnDone(t))
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- e.RunWorkers(ctx) }()

	runs, err := e.Triggers.HandleRecordEvent(ctx, trigger.RecordEvent{
		TableID: "tasks", RowID: "row-1", Kind: workflow.ChangeUpdated,
		Row: map[string]interface{}{"Name": "Ship", "Status": "Done"},
	})
	require.NoError(t, err)
	require.Len(t, runs, 1)

	require.Eventually(t, func() bool {
		run, err := e.Runs.GetRun(ctx, runs[0].ID)
		return err == nil && run.Status == execution.StatusCompleted
	}, 5*time.Second, 10*time.Millisecond)

	row, err := rows.GetRow(ctx, "tasks", "row-1")
	require.NoError(t, err)
	assert.Equal(t, "Closed", row["Status"])

	inbox := e.Inbox.Messages("ops")
	require.Len(t, inbox, 1)
	assert.Equal(t, "Ship closed", inbox[0].Body)

	e.Events.Wait()
	recorder := httptest.NewRecorder()
	e.Handler().ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.True(t, strings.Contains(recorder.Body.String(), "automation_runs_started_total"))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("engine did not stop")
	}
}

func TestEngineRestoresTriggersFromBadger(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.Storage.Driver = DriverBadger
	cfg.Storage.Badger.Dir = t.TempDir()

	first, err := NewEngine(ctx, cfg, WithLogger(quietLogger()))
	require.NoError(t, err)
	_, err = first.Workflows.PublishWorkflow(ctx, closeOnDone(t))
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := NewEngine(ctx, cfg, WithLogger(quietLogger()))
	require.NoError(t, err)
	defer second.Close()

	def, err := second.Workflows.GetWorkflow(ctx, "wf-close")
	require.NoError(t, err)
	assert.Equal(t, 1, def.Version)

	runs, err := second.Triggers.HandleRecordEvent(ctx, trigger.RecordEvent{TableID: "tasks", RowID: "row-9", Kind: workflow.ChangeCreated})
	require.NoError(t, err)
	assert.Len(t, runs, 1, "trigger registered again on startup")
}
