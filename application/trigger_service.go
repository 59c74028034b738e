package application

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/XXueTu/graph_automation/domain/execution"
	"github.com/XXueTu/graph_automation/domain/scheduler"
	"github.com/XXueTu/graph_automation/domain/trigger"
	"github.com/XXueTu/graph_automation/types"
)

// TriggerService 触发入口：匹配触发器，为每个匹配创建运行并入队
type TriggerService struct {
	matcher   *trigger.Matcher
	runRepo   execution.Repository
	scheduler *scheduler.Scheduler
	eventPub  execution.EventPublisher
	observer  Observer
	clock     types.Clock
	logger    *slog.Logger
}

// TriggerDeps 触发服务依赖
type TriggerDeps struct {
	Matcher   *trigger.Matcher
	Runs      execution.Repository
	Scheduler *scheduler.Scheduler
	Events    execution.EventPublisher
	Observer  Observer
	Clock     types.Clock
	Logger    *slog.Logger
}

// NewTriggerService 创建触发服务
func NewTriggerService(deps TriggerDeps) *TriggerService {
	if deps.Observer == nil {
		deps.Observer = nopObserver{}
	}
	if deps.Clock == nil {
		deps.Clock = types.SystemClock{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &TriggerService{
		matcher:   deps.Matcher,
		runRepo:   deps.Runs,
		scheduler: deps.Scheduler,
		eventPub:  deps.Events,
		observer:  deps.Observer,
		clock:     deps.Clock,
		logger:    deps.Logger.With("component", "trigger-service"),
	}
}

// HandleRecordEvent 行变更事件
func (s *TriggerService) HandleRecordEvent(ctx context.Context, event trigger.RecordEvent) ([]*execution.Run, error) {
	matches, err := s.matcher.MatchRecordEvent(ctx, event)
	if err != nil {
		return nil, err
	}
	return s.startRuns(ctx, matches)
}

// HandleTick 日期触发时钟
// 部分触发器失败时仍为其余匹配启动运行，返回已启动的运行和合并后的错误
func (s *TriggerService) HandleTick(ctx context.Context, tick trigger.Tick) ([]*execution.Run, error) {
	matches, matchErr := s.matcher.MatchTick(ctx, tick)
	runs, err := s.startRuns(ctx, matches)
	return runs, errors.Join(matchErr, err)
}

// HandleWebhook 入站 Webhook，条件不满足时返回 nil 运行
func (s *TriggerService) HandleWebhook(ctx context.Context, req trigger.WebhookRequest) (*execution.Run, error) {
	match, err := s.matcher.MatchWebhook(ctx, req)
	if err != nil || match == nil {
		return nil, err
	}
	runs, err := s.startRuns(ctx, []trigger.Match{*match})
	if err != nil || len(runs) == 0 {
		return nil, err
	}
	return runs[0], nil
}

// startRuns 创建运行并入队第一个工作项，单个失败不影响其余匹配
func (s *TriggerService) startRuns(ctx context.Context, matches []trigger.Match) ([]*execution.Run, error) {
	runs := make([]*execution.Run, 0, len(matches))
	var firstErr error
	for _, match := range matches {
		run, err := s.startRun(ctx, match)
		if err != nil {
			s.logger.Error("start run failed", "trigger_id", match.TriggerID, "error", err)
			if releaseErr := s.matcher.ReleaseMatch(ctx, match); releaseErr != nil {
				s.logger.Error("release dedupe key failed", "key", match.DedupeKey, "error", releaseErr)
			}
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		runs = append(runs, run)
	}
	if len(runs) == 0 && firstErr != nil {
		return nil, firstErr
	}
	return runs, nil
}

func (s *TriggerService) startRun(ctx context.Context, match trigger.Match) (*execution.Run, error) {
	now := s.clock.Now()
	run := execution.NewRun(uuid.NewString(), match.Definition, match.TriggerNodeID, match.InitialContext, now)
	if err := s.runRepo.Create(ctx, run); err != nil {
		return nil, WrapApplicationError(err, "create run for %s", match.TriggerID)
	}
	// 运行已持久化，入队失败由待处理运行恢复补齐
	if err := s.scheduler.EnqueueNow(ctx, run.ID, run.CurrentNodeID, run.CurrentAttempt, scheduler.ReasonStart); err != nil {
		s.logger.Warn("enqueue failed, run left for recovery", "run_id", run.ID, "error", err)
	}

	triggerType := ""
	if node, ok := match.Definition.Node(match.TriggerNodeID); ok && node.Trigger != nil {
		triggerType = string(node.Trigger.Type)
	}
	s.observer.TriggerFired(triggerType)
	if s.eventPub != nil {
		_ = s.eventPub.Publish(execution.NewRunEvent(execution.EventRunCreated, run, run.CurrentNodeID,
			map[string]interface{}{"trigger_id": match.TriggerID, "trigger_type": triggerType}, now))
	}
	s.logger.Info("run created", "run_id", run.ID, "workflow_id", run.WorkflowID, "version", run.WorkflowVersion, "trigger_id", match.TriggerID)
	return run, nil
}
