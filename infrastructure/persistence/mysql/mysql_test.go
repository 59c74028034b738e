package mysql

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/XXueTu/graph_automation/infrastructure/persistence/storetest"
)

// 设置 AUTOMATION_TEST_MYSQL_DSN 后运行，例如 root:pass@tcp(localhost:3306)/automation_test
func openTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("AUTOMATION_TEST_MYSQL_DSN")
	if dsn == "" {
		t.Skip("跳过测试，未设置 AUTOMATION_TEST_MYSQL_DSN")
	}
	store, err := Open(context.Background(), Config{DSN: dsn}, nil)
	if err != nil {
		t.Skipf("跳过测试，无法连接数据库: %v", err)
	}
	for _, table := range []string{"workflow_definitions", "workflow_runs", "node_execution_records", "scheduled_work", "trigger_dedupe"} {
		_, err := store.DB().Exec("TRUNCATE TABLE " + table)
		require.NoError(t, err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestWorkflowRepository(t *testing.T) {
	storetest.WorkflowRepository(t, NewWorkflowRepository(openTestStore(t)))
}

func TestRunRepository(t *testing.T) {
	storetest.RunRepository(t, NewRunRepository(openTestStore(t)))
}

func TestRecordStore(t *testing.T) {
	storetest.RecordStore(t, NewRecordStore(openTestStore(t)))
}

func TestSchedulerStore(t *testing.T) {
	storetest.SchedulerStore(t, NewSchedulerStore(openTestStore(t)))
}

func TestDedupeStore(t *testing.T) {
	storetest.DedupeStore(t, NewDedupeStore(openTestStore(t)))
}

func TestOpenRejectsBadDSN(t *testing.T) {
	_, err := Open(context.Background(), Config{DSN: "not a dsn"}, nil)
	require.Error(t, err)
	assert.True(t, IsMySQLError(err))
}
