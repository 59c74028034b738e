package application

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/XXueTu/graph_automation/domain/execution"
	"github.com/XXueTu/graph_automation/domain/scheduler"
)

// Stepper 执行单个工作项
type Stepper interface {
	Step(ctx context.Context, item scheduler.WorkItem) (execution.StepResult, error)
}

// WorkerPoolConfig 工作池配置
type WorkerPoolConfig struct {
	Workers      int
	ReapInterval time.Duration
	ErrorBackoff time.Duration
}

// DefaultWorkerPoolConfig 默认工作池配置
func DefaultWorkerPoolConfig() WorkerPoolConfig {
	return WorkerPoolConfig{
		Workers:      4,
		ReapInterval: 10 * time.Second,
		ErrorBackoff: time.Second,
	}
}

// WorkerPool N 个工作线程循环 领取 -> 执行 -> 确认，另有回收线程处理超时领取
type WorkerPool struct {
	scheduler *scheduler.Scheduler
	executor  Stepper
	observer  Observer
	config    WorkerPoolConfig
	logger    *slog.Logger
}

// NewWorkerPool 创建工作池
func NewWorkerPool(sched *scheduler.Scheduler, executor Stepper, observer Observer, config WorkerPoolConfig, logger *slog.Logger) *WorkerPool {
	defaults := DefaultWorkerPoolConfig()
	if config.Workers <= 0 {
		config.Workers = defaults.Workers
	}
	if config.ReapInterval <= 0 {
		config.ReapInterval = defaults.ReapInterval
	}
	if config.ErrorBackoff <= 0 {
		config.ErrorBackoff = defaults.ErrorBackoff
	}
	if observer == nil {
		observer = nopObserver{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WorkerPool{
		scheduler: sched,
		executor:  executor,
		observer:  observer,
		config:    config,
		logger:    logger.With("component", "worker-pool"),
	}
}

// Run 阻塞运行直到 ctx 结束
func (p *WorkerPool) Run(ctx context.Context) error {
	group, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.config.Workers; i++ {
		worker := i
		group.Go(func() error {
			return p.work(ctx, worker)
		})
	}
	group.Go(func() error {
		return p.reap(ctx)
	})

	p.logger.Info("worker pool started", "workers", p.config.Workers)
	err := group.Wait()
	p.logger.Info("worker pool stopped")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (p *WorkerPool) work(ctx context.Context, worker int) error {
	logger := p.logger.With("worker", worker)
	for {
		claim, err := p.scheduler.DequeueReady(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			logger.Warn("dequeue failed", "error", err)
			if !sleep(ctx, p.config.ErrorBackoff) {
				return nil
			}
			continue
		}
		p.process(ctx, logger, claim)
	}
}

// process 执行并确认；执行器返回基础设施错误时释放领取，工作项保持排队
func (p *WorkerPool) process(ctx context.Context, logger *slog.Logger, claim *scheduler.Claim) {
	started := time.Now()
	result, err := p.executor.Step(ctx, claim.Item)
	if err != nil {
		p.observer.ObserveStep("error", time.Since(started))
		logger.Error("step failed", "item", claim.Item.ID, "run_id", claim.Item.RunID, "error", err)
		if releaseErr := p.scheduler.Release(context.WithoutCancel(ctx), claim, p.scheduler.Now().Add(p.config.ErrorBackoff)); releaseErr != nil {
			logger.Warn("release failed, claim will expire", "item", claim.Item.ID, "error", releaseErr)
		}
		return
	}
	p.observer.ObserveStep(string(result.Outcome), time.Since(started))
	logger.Debug("step done", "item", claim.Item.ID, "outcome", result.Outcome)

	if err := p.scheduler.Ack(context.WithoutCancel(ctx), claim); err != nil {
		logger.Warn("ack failed, claim will expire", "item", claim.Item.ID, "error", err)
	}
}

func (p *WorkerPool) reap(ctx context.Context) error {
	ticker := time.NewTicker(p.config.ReapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := p.scheduler.RequeueExpired(ctx); err != nil {
				p.logger.Warn("requeue expired claims failed", "error", err)
			}
			if depth, err := p.scheduler.Len(ctx); err == nil {
				p.observer.SetQueueDepth(depth)
			}
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
