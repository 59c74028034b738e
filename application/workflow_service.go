package application

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/XXueTu/graph_automation/domain/trigger"
	"github.com/XXueTu/graph_automation/domain/workflow"
	"github.com/XXueTu/graph_automation/types"
)

// WorkflowService 工作流应用服务：校验、发布版本、注册触发器
type WorkflowService struct {
	workflowRepo workflow.Repository
	registry     trigger.Registry
	actionTypes  []string
	clock        types.Clock
	logger       *slog.Logger
	publishMutex sync.Mutex
}

// NewWorkflowService 创建工作流服务
// actionTypes 为空时不校验动作类型
func NewWorkflowService(workflowRepo workflow.Repository, registry trigger.Registry, actionTypes []string, clock types.Clock, logger *slog.Logger) *WorkflowService {
	if clock == nil {
		clock = types.SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WorkflowService{
		workflowRepo: workflowRepo,
		registry:     registry,
		actionTypes:  actionTypes,
		clock:        clock,
		logger:       logger.With("component", "workflow-service"),
	}
}

// ValidateWorkflow 验证工作流，返回全部结构错误
func (s *WorkflowService) ValidateWorkflow(def *workflow.Definition) error {
	var opts []workflow.ValidateOption
	if len(s.actionTypes) > 0 {
		opts = append(opts, workflow.WithActionTypes(s.actionTypes))
	}
	if errs := workflow.Validate(def, opts...); len(errs) > 0 {
		return &workflow.ValidationError{Errors: errs}
	}
	return nil
}

// PublishWorkflow 发布工作流：校验通过后分配下一个版本并替换触发器
func (s *WorkflowService) PublishWorkflow(ctx context.Context, def *workflow.Definition) (*workflow.Definition, error) {
	if err := s.ValidateWorkflow(def); err != nil {
		return nil, err
	}

	s.publishMutex.Lock()
	defer s.publishMutex.Unlock()

	version := 1
	latest, err := s.workflowRepo.FindByID(ctx, def.ID)
	switch {
	case err == nil:
		version = latest.Version + 1
	case !errors.Is(err, workflow.ErrDefinitionNotFound):
		return nil, WrapApplicationError(err, "load workflow %s", def.ID)
	}

	published, err := def.Clone()
	if err != nil {
		return nil, WrapApplicationError(err, "copy workflow %s", def.ID)
	}
	published.MarkPublished(version, s.clock.Now())

	reg, err := trigger.NewRegistration(published)
	if err != nil {
		return nil, err
	}
	if reg.Config.Type == workflow.TriggerWebhook && reg.Config.Webhook != nil {
		if existing, ok := s.registry.Webhook(reg.Config.Webhook.Path); ok && existing.Definition.ID != def.ID {
			return nil, trigger.WrapTriggerError(trigger.ErrPathConflict, "webhook path %q is used by workflow %s",
				reg.Config.Webhook.Path, existing.Definition.ID)
		}
	}

	if err := s.workflowRepo.Save(ctx, published); err != nil {
		return nil, WrapApplicationError(err, "save workflow %s version %d", def.ID, version)
	}
	if err := s.registry.Register(ctx, reg); err != nil {
		return nil, err
	}

	s.logger.Info("workflow published", "workflow_id", def.ID, "version", version, "trigger", reg.Config.Type)
	return published, nil
}

// LoadTriggers 启动时为每个工作流的最新版本注册触发器
func (s *WorkflowService) LoadTriggers(ctx context.Context) (int, error) {
	defs, err := s.workflowRepo.FindAll(ctx)
	if err != nil {
		return 0, WrapApplicationError(err, "list workflows")
	}
	loaded := 0
	for _, def := range defs {
		reg, err := trigger.NewRegistration(def)
		if err != nil {
			s.logger.Warn("skip workflow without trigger", "workflow_id", def.ID, "error", err)
			continue
		}
		if err := s.registry.Register(ctx, reg); err != nil {
			s.logger.Warn("register trigger failed", "workflow_id", def.ID, "error", err)
			continue
		}
		loaded++
	}
	return loaded, nil
}

// GetWorkflow 获取工作流最新版本
func (s *WorkflowService) GetWorkflow(ctx context.Context, id string) (*workflow.Definition, error) {
	return s.workflowRepo.FindByID(ctx, id)
}

// GetWorkflowVersion 获取指定版本
func (s *WorkflowService) GetWorkflowVersion(ctx context.Context, id string, version int) (*workflow.Definition, error) {
	return s.workflowRepo.FindVersion(ctx, id, version)
}

// ListWorkflows 列出所有工作流
func (s *WorkflowService) ListWorkflows(ctx context.Context) ([]*workflow.Definition, error) {
	return s.workflowRepo.FindAll(ctx)
}
