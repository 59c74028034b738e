// Package engine 组装存储、调度、执行器与 HTTP 层
package engine

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/XXueTu/graph_automation/application"
	"github.com/XXueTu/graph_automation/domain/action"
	"github.com/XXueTu/graph_automation/domain/execution"
	"github.com/XXueTu/graph_automation/domain/expression"
	"github.com/XXueTu/graph_automation/domain/retry"
	"github.com/XXueTu/graph_automation/domain/scheduler"
	"github.com/XXueTu/graph_automation/domain/trigger"
	"github.com/XXueTu/graph_automation/infrastructure/actions"
	"github.com/XXueTu/graph_automation/infrastructure/eventbus"
	"github.com/XXueTu/graph_automation/infrastructure/metrics"
	"github.com/XXueTu/graph_automation/infrastructure/notification"
	"github.com/XXueTu/graph_automation/infrastructure/rowstore"
	"github.com/XXueTu/graph_automation/interfaces/web"
	"github.com/XXueTu/graph_automation/types"
)

// Engine 自动化执行引擎
type Engine struct {
	config *Config
	logger *slog.Logger
	clock  types.Clock
	stores *stores

	Rows      rowstore.Store
	Inbox     *notification.Inbox
	Actions   *action.Registry
	Events    *eventbus.EventBus
	Metrics   *metrics.Collector
	Scheduler *scheduler.Scheduler
	Executor  *execution.Executor
	Workflows *application.WorkflowService
	Triggers  *application.TriggerService
	Runs      *application.RunService

	pool   *application.WorkerPool
	server *web.Server
}

type options struct {
	clock   types.Clock
	logger  *slog.Logger
	rows    rowstore.Store
	actions map[string]action.Action
}

// Option 引擎配置选项
type Option func(*options)

// WithClock 设置时钟
func WithClock(clock types.Clock) Option {
	return func(o *options) {
		o.clock = clock
	}
}

// WithLogger 设置日志器
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithRowStore 设置行存储，优先于配置
func WithRowStore(rows rowstore.Store) Option {
	return func(o *options) {
		o.rows = rows
	}
}

// WithAction 注册额外动作，同名覆盖内置动作
func WithAction(actionType string, a action.Action) Option {
	return func(o *options) {
		if o.actions == nil {
			o.actions = make(map[string]action.Action)
		}
		o.actions[actionType] = a
	}
}

// NewEngine 创建引擎实例并恢复已发布工作流的触发器
func NewEngine(ctx context.Context, cfg *Config, opts ...Option) (*Engine, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.clock == nil {
		o.clock = types.SystemClock{}
	}
	if o.logger == nil {
		o.logger = cfg.NewLogger()
	}
	logger := o.logger

	st, err := openStores(ctx, cfg.Storage, logger.With("component", "storage"))
	if err != nil {
		return nil, err
	}

	e := &Engine{config: cfg, logger: logger.With("component", "engine"), clock: o.clock, stores: st}

	e.Rows = o.rows
	if e.Rows == nil {
		e.Rows = newRowStore(cfg.Actions.RowStore)
	}
	e.Inbox = notification.NewInbox()
	e.Actions = buildActions(cfg, e.Rows, e.Inbox, o.actions, logger)
	e.Events = eventbus.NewEventBus(eventbus.WithLogger(logger))
	e.Metrics = metrics.NewCollector()
	if err := e.Metrics.Subscribe(e.Events); err != nil {
		_ = st.close()
		return nil, err
	}

	e.Scheduler = scheduler.NewScheduler(st.scheduled, o.clock, scheduler.Config{
		PollInterval: cfg.Workers.PollInterval.Std(),
		Visibility:   cfg.Workers.Visibility.Std(),
	}, logger)
	evaluator := expression.NewEvaluator(expression.WithClock(o.clock), expression.WithLogger(logger))

	e.Executor = execution.NewExecutor(execution.ExecutorDeps{
		Runs:        st.runs,
		Records:     st.records,
		Definitions: st.definitions,
		Scheduler:   e.Scheduler,
		Actions:     e.Actions,
		Leases:      execution.NewLeaseManager(st.runs, cfg.Workers.LeaseTTL.Std(), o.clock, logger),
		Evaluator:   evaluator,
		Rows:        e.Rows,
		Events:      e.Events,
		Clock:       o.clock,
		Logger:      logger,
	}, execution.ExecutorConfig{
		WorkerID:             "worker-" + uuid.NewString()[:8],
		LeaseRetryDelay:      cfg.Workers.LeaseRetryDelay.Std(),
		DefaultActionTimeout: cfg.Workers.ActionTimeout.Std(),
		MaxActionTimeout:     cfg.Workers.LeaseTTL.Std() - cfg.Workers.LeaseRetryDelay.Std(),
		RetryDefaults:        retry.Defaults(cfg.Retry),
	})

	registry := trigger.NewRegistry()
	e.Workflows = application.NewWorkflowService(st.definitions, registry, e.Actions.Types(), o.clock, logger)
	e.Triggers = application.NewTriggerService(application.TriggerDeps{
		Matcher:   trigger.NewMatcher(registry, e.Rows, st.dedupe, evaluator, o.clock, logger),
		Runs:      st.runs,
		Scheduler: e.Scheduler,
		Events:    e.Events,
		Observer:  e.Metrics,
		Clock:     o.clock,
		Logger:    logger,
	})
	e.Runs = application.NewRunService(application.RunDeps{
		Runs:        st.runs,
		Records:     st.records,
		Definitions: st.definitions,
		Scheduler:   e.Scheduler,
		Events:      e.Events,
		Clock:       o.clock,
		Logger:      logger,
	})

	e.pool = application.NewWorkerPool(e.Scheduler, e.Executor, e.Metrics, application.WorkerPoolConfig{
		Workers:      cfg.Workers.Count,
		ReapInterval: cfg.Workers.ReapInterval.Std(),
		ErrorBackoff: cfg.Workers.ErrorBackoff.Std(),
	}, logger)
	e.server = web.NewServer(web.Services{
		Workflows: e.Workflows,
		Triggers:  e.Triggers,
		Runs:      e.Runs,
		Metrics:   e.Metrics.Handler(),
	}, web.Config{
		Addr:            cfg.HTTP.Addr,
		MaxBodyBytes:    cfg.HTTP.MaxBodyBytes,
		ReadTimeout:     cfg.HTTP.ReadTimeout.Std(),
		WriteTimeout:    cfg.HTTP.WriteTimeout.Std(),
		ShutdownTimeout: cfg.HTTP.ShutdownTimeout.Std(),
	}, logger)

	loaded, err := e.Workflows.LoadTriggers(ctx)
	if err != nil {
		_ = st.close()
		return nil, err
	}
	e.logger.Info("engine ready", "storage", cfg.Storage.Driver, "workflows", loaded, "actions", e.Actions.Types())
	return e, nil
}

// Handler HTTP 根处理器
func (e *Engine) Handler() http.Handler {
	return e.server.Handler()
}

// Run 运行工作者、HTTP 服务与后台任务，直到 ctx 取消
func (e *Engine) Run(ctx context.Context) error {
	return e.run(ctx, true)
}

// RunWorkers 只运行工作者与后台任务，不监听端口
func (e *Engine) RunWorkers(ctx context.Context) error {
	return e.run(ctx, false)
}

func (e *Engine) run(ctx context.Context, serve bool) error {
	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error { return e.pool.Run(ctx) })
	if serve {
		group.Go(func() error { return e.server.Start(ctx) })
	}
	if interval := e.config.Triggers.TickInterval.Std(); interval > 0 {
		group.Go(func() error {
			e.every(ctx, interval, e.tick)
			return nil
		})
	}
	if e.config.Records.Retention > 0 && e.config.Records.PurgeInterval > 0 {
		group.Go(func() error {
			e.every(ctx, e.config.Records.PurgeInterval.Std(), e.purge)
			return nil
		})
	}
	if e.config.Workers.RecoverInterval > 0 && e.config.Workers.RecoverAfter > 0 {
		group.Go(func() error {
			e.every(ctx, e.config.Workers.RecoverInterval.Std(), e.recoverPending)
			return nil
		})
	}
	if e.stores.badger != nil && e.config.Storage.Badger.GCInterval > 0 {
		group.Go(func() error {
			e.every(ctx, e.config.Storage.Badger.GCInterval.Std(), func(context.Context) {
				e.stores.badger.RunGC(0.5)
			})
			return nil
		})
	}
	err := group.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Tick 触发一次日期匹配
func (e *Engine) Tick(ctx context.Context) ([]*execution.Run, error) {
	return e.Triggers.HandleTick(ctx, trigger.Tick{Now: e.clock.Now(), Window: e.config.Triggers.TickWindow})
}

func (e *Engine) tick(ctx context.Context) {
	runs, err := e.Tick(ctx)
	if err != nil {
		e.logger.Error("date tick failed", "error", err, "started", len(runs))
	}
	if len(runs) > 0 {
		e.logger.Info("date tick started runs", "count", len(runs))
	}
}

func (e *Engine) purge(ctx context.Context) {
	if _, err := e.Runs.PurgeRecords(ctx, e.config.Records.Retention.Std()); err != nil {
		e.logger.Error("record purge failed", "error", err)
	}
}

func (e *Engine) recoverPending(ctx context.Context) {
	if _, err := e.Runs.RecoverPending(ctx, e.config.Workers.RecoverAfter.Std()); err != nil {
		e.logger.Error("pending run recovery failed", "error", err)
	}
}

func (e *Engine) every(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}

// Close 等待事件处理完毕并关闭存储
func (e *Engine) Close() error {
	e.Events.Wait()
	return e.stores.close()
}

func newRowStore(cfg RowStoreConfig) rowstore.Store {
	if cfg.URL == "" {
		return rowstore.NewMemoryStore()
	}
	return rowstore.NewHTTPStore(rowstore.HTTPConfig{
		BaseURL: cfg.URL,
		Token:   cfg.Token,
		Timeout: cfg.Timeout.Std(),
	})
}

func buildActions(cfg *Config, rows rowstore.Store, inbox *notification.Inbox, extra map[string]action.Action, logger *slog.Logger) *action.Registry {
	timeout := cfg.Actions.NotifyTimeout.Std()
	router := notification.NewRouter().
		Handle(notification.ChannelInApp, inbox).
		Handle(notification.ChannelWebhook, notification.NewWebhookDispatcher(cfg.Actions.NotifyURL, timeout))
	if cfg.Actions.SMTP.Enabled() {
		router.Handle(notification.ChannelEmail, notification.NewEmailDispatcher(cfg.Actions.SMTP))
	}
	if cfg.Actions.ChatURL != "" {
		router.Handle(notification.ChannelChat, notification.NewChatDispatcher(cfg.Actions.ChatURL, timeout))
	}

	builtin := actions.NewRegistry(actions.Deps{
		Notifications: router,
		Rows:          rows,
		Webhook: actions.WebhookConfig{
			Timeout:        cfg.Actions.Webhook.Timeout.Std(),
			MaxRetries:     cfg.Actions.Webhook.MaxRetries,
			InitialBackoff: cfg.Actions.Webhook.InitialBackoff.Std(),
			MaxBackoff:     cfg.Actions.Webhook.MaxBackoff.Std(),
		},
		Logger: logger,
	})
	if len(extra) == 0 {
		return builtin
	}
	merged := make(map[string]action.Action, len(extra)+4)
	for _, actionType := range builtin.Types() {
		a, _ := builtin.Get(actionType)
		merged[actionType] = a
	}
	for actionType, a := range extra {
		merged[actionType] = a
	}
	return action.NewRegistry(merged)
}
