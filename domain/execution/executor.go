package execution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/XXueTu/graph_automation/domain/action"
	"github.com/XXueTu/graph_automation/domain/expression"
	"github.com/XXueTu/graph_automation/domain/record"
	"github.com/XXueTu/graph_automation/domain/retry"
	"github.com/XXueTu/graph_automation/domain/scheduler"
	"github.com/XXueTu/graph_automation/domain/workflow"
	"github.com/XXueTu/graph_automation/types"
)

// errAbandoned 运行在步骤执行期间被取消
var errAbandoned = errors.New("run cancelled during step")

// RowFetcher 读取最新行数据，条件延迟复查时使用
type RowFetcher interface {
	GetRow(ctx context.Context, tableID, rowID string) (map[string]interface{}, error)
}

// Outcome 单步执行结果
type Outcome string

const (
	OutcomeAdvanced       Outcome = "advanced"
	OutcomeCompleted      Outcome = "completed"
	OutcomeFailed         Outcome = "failed"
	OutcomeSuspended      Outcome = "suspended"
	OutcomeRetryScheduled Outcome = "retry_scheduled"
	OutcomeCancelled      Outcome = "cancelled"
	OutcomeSkipped        Outcome = "skipped"
	OutcomeBusy           Outcome = "busy"
	OutcomeStale          Outcome = "stale"
	OutcomeReplayed       Outcome = "replayed"
)

// StepResult 单步执行结果
type StepResult struct {
	Outcome Outcome
	RunID   string
	NodeID  string
	Attempt int
}

// ExecutorConfig 执行器配置
type ExecutorConfig struct {
	WorkerID             string
	LeaseRetryDelay      time.Duration
	DefaultActionTimeout time.Duration
	// MaxActionTimeout 节点超时上限，不超过租约时长
	MaxActionTimeout time.Duration
	RetryDefaults    retry.Defaults
}

// ExecutorDeps 执行器依赖
type ExecutorDeps struct {
	Runs        Repository
	Records     record.Store
	Definitions workflow.Repository
	Scheduler   *scheduler.Scheduler
	Actions     *action.Registry
	Leases      *LeaseManager
	Evaluator   *expression.Evaluator
	Rows        RowFetcher
	Events      EventPublisher
	Clock       types.Clock
	Logger      *slog.Logger
}

// Executor 运行执行器：每次推进一个节点
// 写入顺序：执行记录 -> 运行状态（乐观锁） -> 下一工作项
type Executor struct {
	deps   ExecutorDeps
	config ExecutorConfig
	logger *slog.Logger
}

// NewExecutor 创建执行器
func NewExecutor(deps ExecutorDeps, config ExecutorConfig) *Executor {
	if deps.Clock == nil {
		deps.Clock = types.SystemClock{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Evaluator == nil {
		deps.Evaluator = expression.NewEvaluator(expression.WithClock(deps.Clock), expression.WithLogger(deps.Logger))
	}
	if config.WorkerID == "" {
		config.WorkerID = deps.Scheduler.Owner()
	}
	if config.LeaseRetryDelay <= 0 {
		config.LeaseRetryDelay = time.Second
	}
	if config.DefaultActionTimeout <= 0 {
		config.DefaultActionTimeout = 30 * time.Second
	}
	return &Executor{
		deps:   deps,
		config: config,
		logger: deps.Logger.With("component", "executor", "worker", config.WorkerID),
	}
}

// stepState 单步执行的上下文
type stepState struct {
	run  *Run
	def  *workflow.Definition
	node *workflow.Node
	item scheduler.WorkItem
	now  time.Time
	// lease 本步持有的租约令牌
	lease string
}

// Step 执行一个工作项
func (e *Executor) Step(ctx context.Context, item scheduler.WorkItem) (StepResult, error) {
	result := StepResult{RunID: item.RunID, NodeID: item.NodeID, Attempt: item.Attempt}

	run, err := e.deps.Runs.FindByID(ctx, item.RunID)
	if err != nil {
		if errors.Is(err, ErrRunNotFound) {
			e.logger.Warn("work item for unknown run dropped", "run_id", item.RunID)
			result.Outcome = OutcomeSkipped
			return result, nil
		}
		return result, err
	}
	if run.Status.IsTerminal() {
		result.Outcome = terminalOutcome(run.Status)
		return result, nil
	}

	lease := e.leaseToken()
	run, err = e.deps.Leases.Acquire(ctx, item.RunID, lease)
	if err != nil {
		if errors.Is(err, ErrLeaseHeld) {
			at := e.deps.Clock.Now().Add(e.config.LeaseRetryDelay)
			if err := e.deps.Scheduler.EnqueueAt(ctx, at, item.RunID, item.NodeID, item.Attempt, scheduler.ReasonBusy); err != nil {
				return result, err
			}
			result.Outcome = OutcomeBusy
			return result, nil
		}
		return result, err
	}
	if run.Status.IsTerminal() {
		result.Outcome = terminalOutcome(run.Status)
		return result, nil
	}

	outcome, err := e.step(ctx, run, item, lease)
	if err != nil {
		if errors.Is(err, errAbandoned) {
			result.Outcome = OutcomeCancelled
			return result, nil
		}
		if relErr := e.deps.Leases.Release(ctx, run.ID, lease); relErr != nil {
			e.logger.Warn("lease release failed", "run_id", run.ID, "error", relErr)
		}
		return result, err
	}
	result.Outcome = outcome
	return result, nil
}

// leaseToken 每次执行步骤使用独立令牌，同进程内的重复投递也互相排斥
func (e *Executor) leaseToken() string {
	return e.config.WorkerID + "/" + uuid.NewString()
}

func terminalOutcome(status Status) Outcome {
	if status == StatusCancelled {
		return OutcomeCancelled
	}
	return OutcomeSkipped
}

func (e *Executor) step(ctx context.Context, run *Run, item scheduler.WorkItem, lease string) (Outcome, error) {
	now := e.deps.Clock.Now()

	if item.NodeID != run.CurrentNodeID || item.Attempt != run.CurrentAttempt {
		return e.reassert(ctx, run, item, lease)
	}

	def, err := e.deps.Definitions.FindVersion(ctx, run.WorkflowID, run.WorkflowVersion)
	if err != nil {
		if errors.Is(err, workflow.ErrDefinitionNotFound) {
			return e.failWithoutRecord(ctx, run, item.NodeID, fmt.Sprintf("workflow %s v%d not found", run.WorkflowID, run.WorkflowVersion))
		}
		return "", err
	}
	node, ok := def.Node(item.NodeID)
	if !ok {
		return e.failWithoutRecord(ctx, run, item.NodeID, fmt.Sprintf("node %s not found in workflow %s", item.NodeID, def.ID))
	}

	st := &stepState{run: run, def: def, node: node, item: item, now: now, lease: lease}

	existing, err := e.deps.Records.Get(ctx, run.ID, node.ID, item.Attempt)
	if err == nil {
		return e.replay(ctx, st, existing)
	}
	if !errors.Is(err, record.ErrRecordNotFound) {
		return "", err
	}

	if run.Status == StatusPending {
		if err := run.Start(now); err != nil {
			return "", err
		}
		e.publish(EventRunStarted, run, node.ID, nil)
	}

	switch node.Kind {
	case workflow.KindTrigger:
		return e.stepTrigger(ctx, st)
	case workflow.KindAction:
		return e.stepAction(ctx, st)
	case workflow.KindBranch:
		return e.stepBranch(ctx, st)
	case workflow.KindDelay:
		return e.stepDelay(ctx, st)
	default:
		return e.failNode(ctx, st, now, action.NewFatalErrorf("unknown_kind", "unknown node kind %q", node.Kind), retry.NoRetry())
	}
}

// reassert 过期工作项：运行已推进，只重新确认运行当前的待处理工作
func (e *Executor) reassert(ctx context.Context, run *Run, item scheduler.WorkItem, lease string) (Outcome, error) {
	e.logger.Info("stale work item", "run_id", run.ID, "item_node", item.NodeID, "item_attempt", item.Attempt,
		"current_node", run.CurrentNodeID, "current_attempt", run.CurrentAttempt)

	at := e.deps.Clock.Now()
	if run.NextReadyAt != nil {
		at = *run.NextReadyAt
	}
	if err := e.deps.Scheduler.EnqueueAt(ctx, at, run.ID, run.CurrentNodeID, run.CurrentAttempt, scheduler.ReasonReassert); err != nil {
		return "", err
	}
	if err := e.deps.Leases.Release(ctx, run.ID, lease); err != nil {
		return "", err
	}
	return OutcomeStale, nil
}

// replay 记录已存在：复用记录结果，不再次调用动作
func (e *Executor) replay(ctx context.Context, st *stepState, rec *record.NodeExecutionRecord) (Outcome, error) {
	run := st.run
	e.logger.Info("replaying recorded step", "run_id", run.ID, "node_id", rec.NodeID, "attempt", rec.Attempt, "status", rec.Status)

	switch rec.Status {
	case record.StatusSucceeded:
		if run.Status == StatusPending {
			_ = run.Start(st.now)
		}
		if run.Status == StatusSuspended {
			if err := run.Resume(st.now); err != nil {
				return "", err
			}
		}
		if len(rec.Output) > 0 {
			if err := run.MergeContext(map[string]interface{}{st.node.ID: rec.Output}); err != nil {
				return "", err
			}
		}
		if _, err := e.advance(ctx, st, rec.Branch); err != nil {
			return "", err
		}
		return OutcomeReplayed, nil
	case record.StatusFailed:
		if rec.RetryAt != nil {
			if err := run.ScheduleRetry(rec.Attempt+1, *rec.RetryAt, rec.Error, st.now); err != nil {
				return "", err
			}
			if err := e.save(ctx, run); err != nil {
				return "", err
			}
			if err := e.deps.Scheduler.EnqueueAt(ctx, *rec.RetryAt, run.ID, st.node.ID, rec.Attempt+1, scheduler.ReasonRetry); err != nil {
				return "", err
			}
			return OutcomeReplayed, nil
		}
		if err := run.Fail(st.node.ID, rec.Error, st.now); err != nil {
			return "", err
		}
		if err := e.save(ctx, run); err != nil {
			return "", err
		}
		e.publish(EventRunFailed, run, st.node.ID, map[string]interface{}{"error": rec.Error})
		return OutcomeReplayed, nil
	}

	return e.advance(ctx, st, "")
}

func (e *Executor) stepTrigger(ctx context.Context, st *stepState) (Outcome, error) {
	rec := e.newRecord(st, st.now)
	rec.Status = record.StatusSucceeded
	rec.FinishedAt = e.deps.Clock.Now()
	if err := e.appendRecord(ctx, rec); err != nil {
		return "", err
	}
	e.publish(EventNodeSucceeded, st.run, st.node.ID, map[string]interface{}{"kind": string(st.node.Kind)})
	return e.advance(ctx, st, "")
}

func (e *Executor) stepAction(ctx context.Context, st *stepState) (Outcome, error) {
	node := st.node
	policy := e.config.RetryDefaults.For(string(node.Kind), node.Retry)
	started := st.now

	vars := e.vars(st.run)
	params, err := e.deps.Evaluator.RenderParams(node.Action.Params, vars)
	if err != nil {
		return e.failNode(ctx, st, started, action.WrapFatal("template", err, "render params"), policy)
	}

	act, ok := e.deps.Actions.Get(node.Action.Type)
	if !ok {
		return e.failNode(ctx, st, started, action.NewFatalErrorf("unknown_action", "action type %q is not registered", node.Action.Type), policy)
	}

	timeout := node.Action.Timeout.Std()
	if timeout <= 0 {
		timeout = e.config.DefaultActionTimeout
	}
	if limit := e.config.MaxActionTimeout; limit > 0 && timeout > limit {
		e.logger.Warn("action timeout capped", "run_id", st.run.ID, "node_id", node.ID, "timeout", timeout, "limit", limit)
		timeout = limit
	}
	req := action.Request{
		RunID:      st.run.ID,
		WorkflowID: st.run.WorkflowID,
		NodeID:     node.ID,
		Attempt:    st.item.Attempt,
		Params:     params,
		Context:    vars,
		Timeout:    timeout,
	}

	res, err := e.invoke(ctx, act, req)
	if err != nil {
		return e.failNode(ctx, st, started, err, policy)
	}

	rec := e.newRecord(st, started)
	rec.Status = record.StatusSucceeded
	rec.Output = res.Output
	rec.FinishedAt = e.deps.Clock.Now()
	if err := e.appendRecord(ctx, rec); err != nil {
		return "", err
	}
	if len(res.Output) > 0 {
		if err := st.run.MergeContext(map[string]interface{}{node.ID: res.Output}); err != nil {
			return "", err
		}
	}
	e.publish(EventNodeSucceeded, st.run, node.ID, map[string]interface{}{
		"kind":     string(node.Kind),
		"action":   node.Action.Type,
		"attempt":  st.item.Attempt,
		"duration": rec.Duration().Seconds(),
	})
	return e.advance(ctx, st, "")
}

// invoke 调用动作，panic 视为不可重试错误
func (e *Executor) invoke(ctx context.Context, act action.Action, req action.Request) (res action.Result, err error) {
	callCtx, cancel := context.WithTimeout(ctx, req.Timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("action panicked", "run_id", req.RunID, "node_id", req.NodeID, "panic", r)
			err = action.NewFatalErrorf("panic", "action panicked: %v", r)
		}
	}()
	return act.Execute(callCtx, req)
}

func (e *Executor) stepBranch(ctx context.Context, st *stepState) (Outcome, error) {
	cfg := st.node.Branch
	vars := e.vars(st.run)

	var (
		matched bool
		err     error
	)
	if cfg.Condition != nil {
		matched, err = e.deps.Evaluator.EvaluateGroup(*cfg.Condition, vars)
	} else {
		matched, err = e.deps.Evaluator.EvaluateBool(cfg.Expression, vars)
	}
	if err != nil {
		return e.failNode(ctx, st, st.now, action.WrapFatal("expression", err, "evaluate branch"), retry.NoRetry())
	}

	label := workflow.LabelFalse
	if matched {
		label = workflow.LabelTrue
	}

	rec := e.newRecord(st, st.now)
	rec.Status = record.StatusSucceeded
	rec.Branch = label
	rec.Output = map[string]interface{}{"result": matched}
	rec.FinishedAt = e.deps.Clock.Now()
	if err := e.appendRecord(ctx, rec); err != nil {
		return "", err
	}
	if err := st.run.MergeContext(map[string]interface{}{st.node.ID: rec.Output}); err != nil {
		return "", err
	}
	e.publish(EventNodeSucceeded, st.run, st.node.ID, map[string]interface{}{"kind": string(st.node.Kind), "branch": label})
	return e.advance(ctx, st, label)
}

func (e *Executor) stepDelay(ctx context.Context, st *stepState) (Outcome, error) {
	run := st.run
	cfg := st.node.Delay
	now := st.now
	s := run.Suspension

	if run.Status != StatusSuspended || s == nil || s.NodeID != st.node.ID {
		return e.enterDelay(ctx, st)
	}

	if now.Before(s.ResumeAt) {
		if err := e.deps.Scheduler.EnqueueAt(ctx, s.ResumeAt, run.ID, st.node.ID, st.item.Attempt, scheduler.ReasonResume); err != nil {
			return "", err
		}
		if err := e.deps.Leases.Release(ctx, run.ID, st.lease); err != nil {
			return "", err
		}
		return OutcomeSuspended, nil
	}

	if cfg.Mode != workflow.DelayCondition {
		return e.resolveDelay(ctx, st)
	}

	met, err := e.delayConditionMet(ctx, st)
	if err != nil {
		return e.failNode(ctx, st, now, action.WrapFatal("expression", err, "evaluate delay condition"), retry.NoRetry())
	}
	if met {
		return e.resolveDelay(ctx, st)
	}
	if s.Deadline != nil && !now.Before(*s.Deadline) {
		return e.failNode(ctx, st, now, &TimeoutError{NodeID: st.node.ID, Waited: cfg.MaxWait.String()}, retry.NoRetry())
	}

	next := now.Add(cfg.CheckInterval.Std())
	if s.Deadline != nil && next.After(*s.Deadline) {
		next = *s.Deadline
	}
	updated := *s
	updated.ResumeAt = next
	updated.Checks++
	if err := run.Suspend(updated, now); err != nil {
		return "", err
	}
	if err := e.save(ctx, run); err != nil {
		return "", err
	}
	if err := e.deps.Scheduler.EnqueueAt(ctx, next, run.ID, st.node.ID, st.item.Attempt, scheduler.ReasonRecheck); err != nil {
		return "", err
	}
	return OutcomeSuspended, nil
}

// enterDelay 首次到达延迟节点：计算恢复条件并挂起，不写执行记录
func (e *Executor) enterDelay(ctx context.Context, st *stepState) (Outcome, error) {
	run := st.run
	cfg := st.node.Delay
	now := st.now
	suspension := Suspension{NodeID: st.node.ID, Mode: cfg.Mode}
	reason := scheduler.ReasonResume

	switch cfg.Mode {
	case workflow.DelayDuration:
		suspension.ResumeAt = now.Add(cfg.Duration.Std())
	case workflow.DelayUntil:
		rendered, err := e.deps.Evaluator.Render(cfg.Until, e.vars(run))
		if err != nil {
			return e.failNode(ctx, st, now, action.WrapFatal("template", err, "render delay target"), retry.NoRetry())
		}
		target, ok := expression.ParseTime(rendered)
		if !ok {
			return e.failNode(ctx, st, now, action.NewFatalErrorf("invalid_time", "delay target %q is not a time", rendered), retry.NoRetry())
		}
		suspension.ResumeAt = target.UTC()
		if suspension.ResumeAt.Before(now) {
			suspension.ResumeAt = now
		}
	case workflow.DelayCondition:
		met, err := e.delayConditionMet(ctx, st)
		if err != nil {
			return e.failNode(ctx, st, now, action.WrapFatal("expression", err, "evaluate delay condition"), retry.NoRetry())
		}
		if met {
			return e.resolveDelay(ctx, st)
		}
		deadline := now.Add(cfg.MaxWait.Std())
		suspension.Deadline = &deadline
		suspension.ResumeAt = now.Add(cfg.CheckInterval.Std())
		if suspension.ResumeAt.After(deadline) {
			suspension.ResumeAt = deadline
		}
		reason = scheduler.ReasonRecheck
	default:
		return e.failNode(ctx, st, now, action.NewFatalErrorf("invalid_delay", "unknown delay mode %q", cfg.Mode), retry.NoRetry())
	}

	if err := run.Suspend(suspension, now); err != nil {
		return "", err
	}
	if err := e.save(ctx, run); err != nil {
		return "", err
	}
	if err := e.deps.Scheduler.EnqueueAt(ctx, suspension.ResumeAt, run.ID, st.node.ID, st.item.Attempt, reason); err != nil {
		return "", err
	}
	e.publish(EventRunSuspended, run, st.node.ID, map[string]interface{}{
		"mode":      string(cfg.Mode),
		"resume_at": suspension.ResumeAt,
	})
	return OutcomeSuspended, nil
}

// resolveDelay 延迟结束：写成功记录并继续
func (e *Executor) resolveDelay(ctx context.Context, st *stepState) (Outcome, error) {
	run := st.run
	started := run.UpdatedAt
	if run.Suspension == nil {
		started = st.now
	}
	if run.Status == StatusSuspended {
		if err := run.Resume(st.now); err != nil {
			return "", err
		}
		e.publish(EventRunResumed, run, st.node.ID, nil)
	}

	rec := e.newRecord(st, started)
	rec.Status = record.StatusSucceeded
	rec.FinishedAt = st.now
	rec.Output = map[string]interface{}{"resumed_at": st.now.Format(time.RFC3339)}
	if err := e.appendRecord(ctx, rec); err != nil {
		return "", err
	}
	if err := run.MergeContext(map[string]interface{}{st.node.ID: rec.Output}); err != nil {
		return "", err
	}
	e.publish(EventNodeSucceeded, run, st.node.ID, map[string]interface{}{"kind": string(st.node.Kind)})
	return e.advance(ctx, st, "")
}

func (e *Executor) delayConditionMet(ctx context.Context, st *stepState) (bool, error) {
	cfg := st.node.Delay
	vars := e.vars(st.run)
	if cfg.RefreshRow {
		if row, ok := e.refreshRow(ctx, st.run); ok {
			vars["row"] = row
		}
	}
	if cfg.Condition != nil {
		return e.deps.Evaluator.EvaluateGroup(*cfg.Condition, vars)
	}
	return e.deps.Evaluator.EvaluateBool(cfg.Expression, vars)
}

// refreshRow 按触发元数据重新读取行，读取失败时沿用旧快照
func (e *Executor) refreshRow(ctx context.Context, run *Run) (map[string]interface{}, bool) {
	if e.deps.Rows == nil {
		return nil, false
	}
	tableID, _ := expression.Lookup(run.Context, "trigger.table_id")
	rowID, _ := expression.Lookup(run.Context, "trigger.row_id")
	if expression.IsEmpty(tableID) || expression.IsEmpty(rowID) {
		return nil, false
	}
	row, err := e.deps.Rows.GetRow(ctx, expression.Stringify(tableID), expression.Stringify(rowID))
	if err != nil {
		e.logger.Warn("row refresh failed, using snapshot", "run_id", run.ID, "error", err)
		return nil, false
	}
	return row, true
}

// failNode 节点失败：可重试且有剩余次数时安排重试，否则运行失败
func (e *Executor) failNode(ctx context.Context, st *stepState, started time.Time, cause error, policy retry.Policy) (Outcome, error) {
	run := st.run
	attempt := st.item.Attempt
	class := policy.Classify(cause)
	now := e.deps.Clock.Now()

	rec := e.newRecord(st, started)
	rec.Status = record.StatusFailed
	rec.Error = cause.Error()
	rec.ErrorClass = string(class)
	rec.FinishedAt = now

	if class == retry.ClassRetryable && policy.CanRetry(attempt) {
		retryAt := now.Add(policy.Delay(attempt))
		rec.RetryAt = &retryAt
		if err := e.appendRecord(ctx, rec); err != nil {
			return "", err
		}
		if err := run.ScheduleRetry(attempt+1, retryAt, cause.Error(), now); err != nil {
			return "", err
		}
		if err := e.save(ctx, run); err != nil {
			return "", err
		}
		if err := e.deps.Scheduler.EnqueueAt(ctx, retryAt, run.ID, st.node.ID, attempt+1, scheduler.ReasonRetry); err != nil {
			return "", err
		}
		e.logger.Info("node failed, retry scheduled", "run_id", run.ID, "node_id", st.node.ID, "attempt", attempt, "retry_at", retryAt, "error", cause)
		e.publish(EventRetryScheduled, run, st.node.ID, map[string]interface{}{
			"kind":     string(st.node.Kind),
			"attempt":  attempt,
			"retry_at": retryAt,
			"error":    cause.Error(),
		})
		return OutcomeRetryScheduled, nil
	}

	if err := e.appendRecord(ctx, rec); err != nil {
		return "", err
	}
	if err := run.Fail(st.node.ID, cause.Error(), now); err != nil {
		return "", err
	}
	if err := e.save(ctx, run); err != nil {
		return "", err
	}
	e.logger.Warn("run failed", "run_id", run.ID, "node_id", st.node.ID, "attempt", attempt, "class", class, "error", cause)
	e.publish(EventNodeFailed, run, st.node.ID, map[string]interface{}{"kind": string(st.node.Kind), "error": cause.Error()})
	e.publish(EventRunFailed, run, st.node.ID, map[string]interface{}{"error": cause.Error()})
	return OutcomeFailed, nil
}

// failWithoutRecord 定义缺失等无法执行节点的情况
func (e *Executor) failWithoutRecord(ctx context.Context, run *Run, nodeID, message string) (Outcome, error) {
	if err := run.Fail(nodeID, message, e.deps.Clock.Now()); err != nil {
		return "", err
	}
	if err := e.save(ctx, run); err != nil {
		return "", err
	}
	e.logger.Error("run failed", "run_id", run.ID, "node_id", nodeID, "error", message)
	e.publish(EventRunFailed, run, nodeID, map[string]interface{}{"error": message})
	return OutcomeFailed, nil
}

// advance 沿出边推进；没有后继时运行完成
func (e *Executor) advance(ctx context.Context, st *stepState, label string) (Outcome, error) {
	run := st.run
	now := e.deps.Clock.Now()

	next, ok := st.def.Next(st.node.ID, label)
	if !ok {
		if err := run.Complete(now); err != nil {
			return "", err
		}
		if err := e.save(ctx, run); err != nil {
			return "", err
		}
		e.publish(EventRunCompleted, run, st.node.ID, map[string]interface{}{
			"duration": now.Sub(run.CreatedAt).Seconds(),
		})
		return OutcomeCompleted, nil
	}

	if err := run.MoveTo(next, now); err != nil {
		return "", err
	}
	if err := e.save(ctx, run); err != nil {
		return "", err
	}
	if err := e.deps.Scheduler.EnqueueNow(ctx, run.ID, next, 1, scheduler.ReasonAdvance); err != nil {
		return "", err
	}
	return OutcomeAdvanced, nil
}

// save 清除租约并条件保存；冲突时若运行已取消则放弃本步
func (e *Executor) save(ctx context.Context, run *Run) error {
	run.ClearLease()
	err := e.deps.Runs.Save(ctx, run)
	if err == nil || !errors.Is(err, ErrVersionConflict) {
		return err
	}

	latest, findErr := e.deps.Runs.FindByID(ctx, run.ID)
	if findErr != nil {
		return findErr
	}
	if latest.Status == StatusCancelled {
		e.logger.Info("run cancelled while stepping, abandoning", "run_id", run.ID)
		return errAbandoned
	}
	return err
}

func (e *Executor) appendRecord(ctx context.Context, rec *record.NodeExecutionRecord) error {
	inserted, err := e.deps.Records.Append(ctx, rec)
	if err != nil {
		return err
	}
	if !inserted {
		e.logger.Debug("record already present", "key", rec.Key())
	}
	return nil
}

func (e *Executor) newRecord(st *stepState, started time.Time) *record.NodeExecutionRecord {
	return &record.NodeExecutionRecord{
		RunID:      st.run.ID,
		WorkflowID: st.run.WorkflowID,
		NodeID:     st.node.ID,
		NodeKind:   st.node.Kind,
		Attempt:    st.item.Attempt,
		StartedAt:  started,
	}
}

// vars 模板与表达式的变量视图：运行上下文加运行元数据
func (e *Executor) vars(run *Run) map[string]interface{} {
	vars := make(map[string]interface{}, len(run.Context)+1)
	for key, value := range run.Context {
		vars[key] = value
	}
	if _, ok := vars["run"]; !ok {
		vars["run"] = map[string]interface{}{
			"id":          run.ID,
			"workflow_id": run.WorkflowID,
			"attempt":     run.CurrentAttempt,
			"retry_of":    run.RetryOf,
		}
	}
	return vars
}

func (e *Executor) publish(eventType string, run *Run, nodeID string, data map[string]interface{}) {
	if e.deps.Events == nil {
		return
	}
	if err := e.deps.Events.Publish(NewRunEvent(eventType, run, nodeID, data, e.deps.Clock.Now())); err != nil {
		e.logger.Warn("event publish failed", "type", eventType, "run_id", run.ID, "error", err)
	}
}
