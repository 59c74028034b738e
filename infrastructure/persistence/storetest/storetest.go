// Package storetest 存储实现的通用一致性测试，内存、Badger、MySQL 实现共用
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/XXueTu/graph_automation/domain/execution"
	"github.com/XXueTu/graph_automation/domain/record"
	"github.com/XXueTu/graph_automation/domain/scheduler"
	"github.com/XXueTu/graph_automation/domain/trigger"
	"github.com/XXueTu/graph_automation/domain/workflow"
)

var base = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

// Definition 测试用最小合法定义
func Definition(t *testing.T, id string) *workflow.Definition {
	t.Helper()
	def, err := workflow.NewBuilder(id).
		SetName(id).
		Trigger("start", workflow.TriggerConfig{
			Type:   workflow.TriggerRecordEvent,
			Record: &workflow.RecordTrigger{TableID: "tasks"},
		}).
		Action("notify", "notification", map[string]interface{}{"message": "hi {{ name }}"}).
		Connect("start", "notify").
		Build()
	require.NoError(t, err)
	def.MarkPublished(1, base)
	return def
}

// WorkflowRepository 定义仓储一致性
func WorkflowRepository(t *testing.T, repo workflow.Repository) {
	ctx := context.Background()

	_, err := repo.FindByID(ctx, "wf-missing")
	assert.ErrorIs(t, err, workflow.ErrDefinitionNotFound)

	v1 := Definition(t, "wf-store")
	require.NoError(t, repo.Save(ctx, v1))
	assert.Error(t, repo.Save(ctx, v1), "same version saved twice")

	v2 := Definition(t, "wf-store")
	v2.MarkPublished(2, base.Add(time.Hour))
	v2.Name = "second"
	require.NoError(t, repo.Save(ctx, v2))

	found, err := repo.FindByID(ctx, "wf-store")
	require.NoError(t, err)
	assert.Equal(t, 2, found.Version)
	assert.Equal(t, "second", found.Name)

	old, err := repo.FindVersion(ctx, "wf-store", 1)
	require.NoError(t, err)
	assert.Equal(t, "wf-store", old.Name)
	node, ok := old.Node("notify")
	require.True(t, ok)
	assert.Equal(t, "hi {{ name }}", node.Action.Params["message"])

	_, err = repo.FindVersion(ctx, "wf-store", 9)
	assert.ErrorIs(t, err, workflow.ErrDefinitionNotFound)

	require.NoError(t, repo.Save(ctx, Definition(t, "wf-other")))
	all, err := repo.FindAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	for _, def := range all {
		if def.ID == "wf-store" {
			assert.Equal(t, 2, def.Version)
		}
	}
}

// RunRepository 运行仓储一致性：乐观锁与过滤分页
func RunRepository(t *testing.T, repo execution.Repository) {
	ctx := context.Background()
	def := Definition(t, "wf-runs")

	_, err := repo.FindByID(ctx, "missing")
	assert.ErrorIs(t, err, execution.ErrRunNotFound)

	run := execution.NewRun("run-1", def, "start", map[string]interface{}{"name": "ada"}, base)
	require.NoError(t, repo.Create(ctx, run))

	stale, err := repo.FindByID(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "ada", stale.Context["name"])

	require.NoError(t, run.Start(base.Add(time.Second)))
	require.NoError(t, repo.Save(ctx, run))
	assert.Equal(t, int64(1), run.Version)

	require.NoError(t, stale.Cancel(base))
	err = repo.Save(ctx, stale)
	assert.ErrorIs(t, err, execution.ErrVersionConflict)

	found, err := repo.FindByID(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, execution.StatusRunning, found.Status)
	assert.Equal(t, int64(1), found.Version)

	for i, id := range []string{"run-2", "run-3"} {
		r := execution.NewRun(id, def, "start", nil, base.Add(time.Duration(i+1)*time.Minute))
		require.NoError(t, repo.Create(ctx, r))
	}

	pending, err := repo.List(ctx, execution.ListFilter{Status: execution.StatusPending})
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "run-3", pending[0].ID, "newest first")

	page, err := repo.List(ctx, execution.ListFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "run-2", page[0].ID)

	byWorkflow, err := repo.List(ctx, execution.ListFilter{WorkflowID: "wf-none"})
	require.NoError(t, err)
	assert.Empty(t, byWorkflow)
}

// RecordStore 执行日志一致性：幂等追加与排序
func RecordStore(t *testing.T, store record.Store) {
	ctx := context.Background()
	rec := func(node string, attempt int, started time.Time, status record.Status) *record.NodeExecutionRecord {
		return &record.NodeExecutionRecord{
			RunID: "run-1", WorkflowID: "wf", NodeID: node, NodeKind: workflow.KindAction,
			Attempt: attempt, StartedAt: started, FinishedAt: started.Add(time.Second), Status: status,
			Output: map[string]interface{}{"ok": true},
		}
	}

	inserted, err := store.Append(ctx, rec("notify", 1, base.Add(time.Minute), record.StatusFailed))
	require.NoError(t, err)
	assert.True(t, inserted)

	duplicate := rec("notify", 1, base.Add(time.Minute), record.StatusSucceeded)
	inserted, err = store.Append(ctx, duplicate)
	require.NoError(t, err)
	assert.False(t, inserted)

	_, err = store.Append(ctx, rec("notify", 2, base.Add(2*time.Minute), record.StatusSucceeded))
	require.NoError(t, err)
	_, err = store.Append(ctx, rec("start", 1, base, record.StatusSucceeded))
	require.NoError(t, err)

	got, err := store.Get(ctx, "run-1", "notify", 1)
	require.NoError(t, err)
	assert.Equal(t, record.StatusFailed, got.Status)
	assert.Equal(t, true, got.Output["ok"])

	_, err = store.Get(ctx, "run-1", "notify", 3)
	assert.ErrorIs(t, err, record.ErrRecordNotFound)

	list, err := store.ListForRun(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "start", list[0].NodeID)
	assert.Equal(t, 1, list[1].Attempt)
	assert.Equal(t, 2, list[2].Attempt)

	deleted, err := store.DeleteBefore(ctx, base.Add(90*time.Second))
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)
	list, err = store.ListForRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

// SchedulerStore 调度存储一致性：到期领取、可见性超时、覆盖写
func SchedulerStore(t *testing.T, store scheduler.Store) {
	ctx := context.Background()
	visibility := time.Minute

	require.NoError(t, store.Put(ctx, scheduler.NewWorkItem("run-1", "a", 1, base.Add(time.Second), scheduler.ReasonStart)))
	require.NoError(t, store.Put(ctx, scheduler.NewWorkItem("run-2", "a", 1, base, scheduler.ReasonStart)))
	require.NoError(t, store.Put(ctx, scheduler.NewWorkItem("run-3", "a", 1, base.Add(time.Hour), scheduler.ReasonRetry)))
	// 重复入队幂等
	require.NoError(t, store.Put(ctx, scheduler.NewWorkItem("run-2", "a", 1, base, scheduler.ReasonStart)))

	n, err := store.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	next, ok, err := store.NextReadyAt(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, next.Equal(base))

	claims, err := store.ClaimDue(ctx, base.Add(time.Second), "w1", visibility, 10)
	require.NoError(t, err)
	require.Len(t, claims, 2)
	assert.Equal(t, "run-2", claims[0].Item.RunID, "earliest first")
	assert.Equal(t, "run-1", claims[1].Item.RunID)

	again, err := store.ClaimDue(ctx, base.Add(time.Second), "w2", visibility, 10)
	require.NoError(t, err)
	assert.Empty(t, again, "claimed items are invisible")

	require.NoError(t, store.Ack(ctx, claims[0]))

	// 领取超时回到就绪集合
	requeued, err := store.RequeueExpired(ctx, base.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, requeued)
	reclaimed, err := store.ClaimDue(ctx, base.Add(2*time.Minute), "w2", visibility, 10)
	require.NoError(t, err)
	require.Len(t, reclaimed, 1)
	assert.Equal(t, "run-1", reclaimed[0].Item.RunID)

	// 旧领取的确认不删除已被他人领取的项
	require.NoError(t, store.Ack(ctx, claims[1]))
	n, err = store.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// 领取期间被覆盖写：确认只释放领取
	require.NoError(t, store.Put(ctx, scheduler.NewWorkItem("run-1", "a", 1, base.Add(10*time.Minute), scheduler.ReasonBusy)))
	require.NoError(t, store.Ack(ctx, reclaimed[0]))
	n, err = store.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// Release 推迟就绪时间
	due, err := store.ClaimDue(ctx, base.Add(10*time.Minute), "w3", visibility, 1)
	require.NoError(t, err)
	require.Len(t, due, 1)
	require.NoError(t, store.Release(ctx, due[0], base.Add(20*time.Minute)))
	empty, err := store.ClaimDue(ctx, base.Add(15*time.Minute), "w3", visibility, 10)
	require.NoError(t, err)
	assert.Empty(t, empty)
	later, err := store.ClaimDue(ctx, base.Add(2*time.Hour), "w3", visibility, 10)
	require.NoError(t, err)
	assert.Len(t, later, 2)
}

// DedupeStore 去重键一致性
func DedupeStore(t *testing.T, store trigger.DedupeStore) {
	ctx := context.Background()
	key := trigger.DedupeKey("wf/start", "row-1", base)

	ok, err := store.Reserve(ctx, key, base)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.Reserve(ctx, key, base.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = store.Reserve(ctx, trigger.DedupeKey("wf/start", "row-2", base), base)
	require.NoError(t, err)
	assert.True(t, ok)

	// 归还后可再次占用，归还不存在的键不报错
	require.NoError(t, store.Release(ctx, key))
	ok, err = store.Reserve(ctx, key, base.Add(2*time.Hour))
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, store.Release(ctx, trigger.DedupeKey("wf/start", "row-9", base)))
}
