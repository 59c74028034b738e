package application

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/XXueTu/graph_automation/domain/execution"
	"github.com/XXueTu/graph_automation/domain/record"
	"github.com/XXueTu/graph_automation/domain/scheduler"
	"github.com/XXueTu/graph_automation/domain/workflow"
	"github.com/XXueTu/graph_automation/types"
)

const (
	// cancelAttempts 取消时版本冲突的重试次数
	cancelAttempts = 5
	// recoverPageSize 恢复待处理运行时的分页大小
	recoverPageSize = 200
)

// RunService 运行管理：列表、详情、执行记录、取消、人工重试、记录清理
type RunService struct {
	runRepo      execution.Repository
	recordStore  record.Store
	workflowRepo workflow.Repository
	scheduler    *scheduler.Scheduler
	eventPub     execution.EventPublisher
	clock        types.Clock
	logger       *slog.Logger
}

// RunDeps 运行服务依赖
type RunDeps struct {
	Runs        execution.Repository
	Records     record.Store
	Definitions workflow.Repository
	Scheduler   *scheduler.Scheduler
	Events      execution.EventPublisher
	Clock       types.Clock
	Logger      *slog.Logger
}

// NewRunService 创建运行服务
func NewRunService(deps RunDeps) *RunService {
	if deps.Clock == nil {
		deps.Clock = types.SystemClock{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &RunService{
		runRepo:      deps.Runs,
		recordStore:  deps.Records,
		workflowRepo: deps.Definitions,
		scheduler:    deps.Scheduler,
		eventPub:     deps.Events,
		clock:        deps.Clock,
		logger:       deps.Logger.With("component", "run-service"),
	}
}

// ListRuns 按状态过滤列出运行
func (s *RunService) ListRuns(ctx context.Context, filter execution.ListFilter) ([]*execution.Run, error) {
	if filter.Status != "" {
		if _, ok := execution.ParseStatus(string(filter.Status)); !ok {
			return nil, WrapApplicationError(ErrInvalidRequest, "unknown status %q", filter.Status)
		}
	}
	if filter.Limit < 0 || filter.Offset < 0 {
		return nil, WrapApplicationError(ErrInvalidRequest, "limit and offset must not be negative")
	}
	return s.runRepo.List(ctx, filter)
}

// GetRun 获取运行
func (s *RunService) GetRun(ctx context.Context, id string) (*execution.Run, error) {
	return s.runRepo.FindByID(ctx, id)
}

// GetRecords 运行的全部节点执行记录
func (s *RunService) GetRecords(ctx context.Context, id string) ([]*record.NodeExecutionRecord, error) {
	if _, err := s.runRepo.FindByID(ctx, id); err != nil {
		return nil, err
	}
	return s.recordStore.ListForRun(ctx, id)
}

// CancelRun 取消运行，已取消时幂等返回
// 已排队的工作项保留，执行器读到取消状态后丢弃
func (s *RunService) CancelRun(ctx context.Context, id string) (*execution.Run, error) {
	for i := 0; i < cancelAttempts; i++ {
		run, err := s.runRepo.FindByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if run.Status == execution.StatusCancelled {
			return run, nil
		}
		now := s.clock.Now()
		if err := run.Cancel(now); err != nil {
			return nil, WrapApplicationError(err, "cancel run %s (%s)", id, run.Status)
		}
		err = s.runRepo.Save(ctx, run)
		if errors.Is(err, execution.ErrVersionConflict) {
			s.logger.Debug("cancel raced with executor, retrying", "run_id", id)
			continue
		}
		if err != nil {
			return nil, WrapApplicationError(err, "save run %s", id)
		}
		s.publish(execution.EventRunCancelled, run, nil)
		s.logger.Info("run cancelled", "run_id", id)
		return run, nil
	}
	return nil, WrapApplicationError(execution.ErrVersionConflict, "cancel run %s", id)
}

// RetryRun 人工重试失败的运行，返回新运行
func (s *RunService) RetryRun(ctx context.Context, id string) (*execution.Run, error) {
	failed, err := s.runRepo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if failed.Status != execution.StatusFailed {
		return nil, WrapApplicationError(ErrNotRetryable, "run %s is %s", id, failed.Status)
	}
	if _, err := s.workflowRepo.FindVersion(ctx, failed.WorkflowID, failed.WorkflowVersion); err != nil {
		return nil, WrapApplicationError(err, "load workflow of run %s", id)
	}

	retried, err := execution.NewRetryRun(uuid.NewString(), failed, s.clock.Now())
	if err != nil {
		return nil, WrapApplicationError(ErrNotRetryable, "%v", err)
	}
	if err := s.runRepo.Create(ctx, retried); err != nil {
		return nil, WrapApplicationError(err, "create retry of %s", id)
	}
	if err := s.scheduler.EnqueueNow(ctx, retried.ID, retried.CurrentNodeID, 1, scheduler.ReasonManual); err != nil {
		s.logger.Warn("enqueue failed, retry left for recovery", "run_id", retried.ID, "error", err)
	}

	s.publish(execution.EventRunCreated, retried, map[string]interface{}{"retry_of": id})
	s.logger.Info("run retried", "run_id", retried.ID, "retry_of", id, "node_id", retried.CurrentNodeID)
	return retried, nil
}

// RecoverPending 为就绪时间早于 olderThan 且无人持有租约的待处理运行重新入队
// 入队幂等，已排队的运行只会覆盖为同一工作项
func (s *RunService) RecoverPending(ctx context.Context, olderThan time.Duration) (int, error) {
	if olderThan <= 0 {
		return 0, WrapApplicationError(ErrInvalidRequest, "recovery age must be positive")
	}
	now := s.clock.Now()
	cutoff := now.Add(-olderThan)
	recovered := 0
	for offset := 0; ; offset += recoverPageSize {
		runs, err := s.runRepo.List(ctx, execution.ListFilter{Status: execution.StatusPending, Limit: recoverPageSize, Offset: offset})
		if err != nil {
			return recovered, WrapApplicationError(err, "list pending runs")
		}
		for _, run := range runs {
			if run.NextReadyAt == nil || run.NextReadyAt.After(cutoff) || run.LeaseHeldByOther("", now) {
				continue
			}
			if err := s.scheduler.EnqueueAt(ctx, *run.NextReadyAt, run.ID, run.CurrentNodeID, run.CurrentAttempt, scheduler.ReasonReassert); err != nil {
				return recovered, WrapApplicationError(err, "re-enqueue run %s", run.ID)
			}
			recovered++
		}
		if len(runs) < recoverPageSize {
			break
		}
	}
	if recovered > 0 {
		s.logger.Info("pending runs re-enqueued", "count", recovered)
	}
	return recovered, nil
}

// PurgeRecords 删除保留期之前结束的执行记录
func (s *RunService) PurgeRecords(ctx context.Context, retention time.Duration) (int, error) {
	if retention <= 0 {
		return 0, WrapApplicationError(ErrInvalidRequest, "retention must be positive")
	}
	cutoff := s.clock.Now().Add(-retention)
	deleted, err := s.recordStore.DeleteBefore(ctx, cutoff)
	if err != nil {
		return 0, WrapApplicationError(err, "purge records before %s", cutoff.Format(time.RFC3339))
	}
	s.logger.Info("records purged", "count", deleted, "before", cutoff)
	return deleted, nil
}

func (s *RunService) publish(eventType string, run *execution.Run, data map[string]interface{}) {
	if s.eventPub == nil {
		return
	}
	if err := s.eventPub.Publish(execution.NewRunEvent(eventType, run, run.CurrentNodeID, data, s.clock.Now())); err != nil {
		s.logger.Warn("publish event failed", "event", eventType, "error", err)
	}
}
