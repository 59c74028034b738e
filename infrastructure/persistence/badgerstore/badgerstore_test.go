package badgerstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/XXueTu/graph_automation/domain/scheduler"
	"github.com/XXueTu/graph_automation/infrastructure/persistence/badgerstore"
	"github.com/XXueTu/graph_automation/infrastructure/persistence/storetest"
)

func newInMemory(t *testing.T) *badgerstore.Store {
	t.Helper()
	opts := badger.DefaultOptions("").WithInMemory(true).WithLoggingLevel(badger.ERROR)
	db, err := badger.Open(opts)
	require.NoError(t, err)
	store := badgerstore.NewStore(db, nil)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestWorkflowRepository(t *testing.T) {
	storetest.WorkflowRepository(t, badgerstore.NewWorkflowRepository(newInMemory(t)))
}

func TestRunRepository(t *testing.T) {
	storetest.RunRepository(t, badgerstore.NewRunRepository(newInMemory(t)))
}

func TestRecordStore(t *testing.T) {
	storetest.RecordStore(t, badgerstore.NewRecordStore(newInMemory(t)))
}

func TestSchedulerStore(t *testing.T) {
	storetest.SchedulerStore(t, badgerstore.NewSchedulerStore(newInMemory(t)))
}

func TestDedupeStore(t *testing.T) {
	storetest.DedupeStore(t, badgerstore.NewDedupeStore(newInMemory(t), 0))
}

// 进程重启后挂起的工作项仍在
func TestScheduledWorkSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	resumeAt := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	store, err := badgerstore.Open(badgerstore.Config{Dir: dir, SyncWrites: true}, nil)
	require.NoError(t, err)
	require.NoError(t, badgerstore.NewSchedulerStore(store).Put(ctx,
		scheduler.NewWorkItem("run-1", "wait", 1, resumeAt, scheduler.ReasonResume)))
	require.NoError(t, store.Close())

	reopened, err := badgerstore.Open(badgerstore.Config{Dir: dir}, nil)
	require.NoError(t, err)
	defer reopened.Close()
	sched := badgerstore.NewSchedulerStore(reopened)

	early, err := sched.ClaimDue(ctx, resumeAt.Add(-time.Minute), "w1", time.Minute, 10)
	require.NoError(t, err)
	assert.Empty(t, early)

	due, err := sched.ClaimDue(ctx, resumeAt, "w1", time.Minute, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "wait", due[0].Item.NodeID)
	assert.Equal(t, scheduler.ReasonResume, due[0].Item.Reason)
}

func TestOpenRequiresDir(t *testing.T) {
	_, err := badgerstore.Open(badgerstore.Config{}, nil)
	require.Error(t, err)
	assert.True(t, badgerstore.IsBadgerError(err))
}
