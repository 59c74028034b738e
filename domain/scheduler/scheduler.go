package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/XXueTu/graph_automation/types"
)

// ErrUnavailable 调度存储不可用，工作项保持排队，调用方退避
var ErrUnavailable = errors.New("scheduler store unavailable")

// Reason 入队原因
type Reason string

const (
	ReasonStart    Reason = "start"    // 新运行
	ReasonAdvance  Reason = "advance"  // 推进到下一节点
	ReasonRetry    Reason = "retry"    // 退避重试
	ReasonResume   Reason = "resume"   // 延迟到期
	ReasonRecheck  Reason = "recheck"  // 条件延迟复查
	ReasonBusy     Reason = "busy"     // 租约被占用，稍后再试
	ReasonReassert Reason = "reassert" // 重新确认待处理工作
	ReasonManual   Reason = "manual"   // 人工重试
)

// WorkItem 调度工作项，按 (run, node, attempt) 唯一
type WorkItem struct {
	ID         string    `json:"id"`
	RunID      string    `json:"run_id"`
	NodeID     string    `json:"node_id"`
	Attempt    int       `json:"attempt"`
	ReadyAt    time.Time `json:"ready_at"`
	Reason     Reason    `json:"reason"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// ItemID 构造工作项ID
func ItemID(runID, nodeID string, attempt int) string {
	return fmt.Sprintf("%s/%s/%06d", runID, nodeID, attempt)
}

// NewWorkItem 创建工作项
func NewWorkItem(runID, nodeID string, attempt int, readyAt time.Time, reason Reason) WorkItem {
	return WorkItem{
		ID:      ItemID(runID, nodeID, attempt),
		RunID:   runID,
		NodeID:  nodeID,
		Attempt: attempt,
		ReadyAt: readyAt.UTC(),
		Reason:  reason,
	}
}

// Claim 已领取的工作项，可见性超时后回到就绪集合
type Claim struct {
	Item      WorkItem  `json:"item"`
	ClaimID   string    `json:"claim_id"`
	Owner     string    `json:"owner"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Store 调度存储
type Store interface {
	// Put 写入工作项，同ID覆盖（包括已领取的项），重复写入幂等
	Put(ctx context.Context, item WorkItem) error

	// ClaimDue 领取到期的工作项
	ClaimDue(ctx context.Context, now time.Time, owner string, visibility time.Duration, limit int) ([]Claim, error)

	// Ack 确认完成；工作项在领取后被覆盖时只释放领取
	Ack(ctx context.Context, claim Claim) error

	// Release 放弃领取，工作项在 readyAt 重新就绪
	Release(ctx context.Context, claim Claim, readyAt time.Time) error

	// RequeueExpired 将领取超时的工作项放回就绪集合
	RequeueExpired(ctx context.Context, now time.Time) (int, error)

	// NextReadyAt 最早的就绪时间
	NextReadyAt(ctx context.Context) (time.Time, bool, error)

	// Len 排队与领取中的工作项总数
	Len(ctx context.Context) (int, error)
}

// Config 调度配置
type Config struct {
	PollInterval time.Duration
	Visibility   time.Duration
}

// DefaultConfig 默认调度配置
func DefaultConfig() Config {
	return Config{
		PollInterval: 500 * time.Millisecond,
		Visibility:   time.Minute,
	}
}

// Scheduler 持久化调度器
// 延迟与退避都表现为未来的工作项，工作线程从不睡眠等待
type Scheduler struct {
	store  Store
	clock  types.Clock
	config Config
	owner  string
	wake   chan struct{}
	logger *slog.Logger
}

// NewScheduler 创建调度器
func NewScheduler(store Store, clock types.Clock, config Config, logger *slog.Logger) *Scheduler {
	if clock == nil {
		clock = types.SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultConfig().PollInterval
	}
	if config.Visibility <= 0 {
		config.Visibility = DefaultConfig().Visibility
	}
	return &Scheduler{
		store:  store,
		clock:  clock,
		config: config,
		owner:  "scheduler-" + uuid.NewString(),
		wake:   make(chan struct{}, 1),
		logger: logger.With("component", "scheduler"),
	}
}

// Owner 领取者标识
func (s *Scheduler) Owner() string { return s.owner }

// Now 调度时钟的当前时间
func (s *Scheduler) Now() time.Time { return s.clock.Now() }

// EnqueueNow 立即就绪
func (s *Scheduler) EnqueueNow(ctx context.Context, runID, nodeID string, attempt int, reason Reason) error {
	return s.EnqueueAt(ctx, s.clock.Now(), runID, nodeID, attempt, reason)
}

// EnqueueAt 在指定时间就绪
func (s *Scheduler) EnqueueAt(ctx context.Context, at time.Time, runID, nodeID string, attempt int, reason Reason) error {
	item := NewWorkItem(runID, nodeID, attempt, at, reason)
	item.EnqueuedAt = s.clock.Now()
	if err := s.store.Put(ctx, item); err != nil {
		return fmt.Errorf("%w: enqueue %s: %v", ErrUnavailable, item.ID, err)
	}
	s.logger.Debug("work item enqueued", "item", item.ID, "ready_at", item.ReadyAt, "reason", reason)
	if !at.After(s.clock.Now()) {
		s.notify()
	}
	return nil
}

// TryDequeue 非阻塞领取一个到期工作项，没有时返回 nil
func (s *Scheduler) TryDequeue(ctx context.Context) (*Claim, error) {
	claims, err := s.store.ClaimDue(ctx, s.clock.Now(), s.owner, s.config.Visibility, 1)
	if err != nil {
		return nil, fmt.Errorf("%w: claim: %v", ErrUnavailable, err)
	}
	if len(claims) == 0 {
		return nil, nil
	}
	return &claims[0], nil
}

// DequeueReady 阻塞直到领取到一个工作项或 ctx 结束
func (s *Scheduler) DequeueReady(ctx context.Context) (*Claim, error) {
	for {
		claim, err := s.TryDequeue(ctx)
		if err != nil {
			return nil, err
		}
		if claim != nil {
			return claim, nil
		}

		wait := s.config.PollInterval
		if next, ok, err := s.store.NextReadyAt(ctx); err == nil && ok {
			if until := next.Sub(s.clock.Now()); until < wait {
				wait = until
			}
		}
		if wait < time.Millisecond {
			wait = time.Millisecond
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-s.wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// Ack 确认工作项完成
func (s *Scheduler) Ack(ctx context.Context, claim *Claim) error {
	if err := s.store.Ack(ctx, *claim); err != nil {
		return fmt.Errorf("%w: ack %s: %v", ErrUnavailable, claim.Item.ID, err)
	}
	return nil
}

// Release 放弃领取，在 at 时刻重新就绪
func (s *Scheduler) Release(ctx context.Context, claim *Claim, at time.Time) error {
	if err := s.store.Release(ctx, *claim, at); err != nil {
		return fmt.Errorf("%w: release %s: %v", ErrUnavailable, claim.Item.ID, err)
	}
	if !at.After(s.clock.Now()) {
		s.notify()
	}
	return nil
}

// RequeueExpired 回收超时的领取
func (s *Scheduler) RequeueExpired(ctx context.Context) (int, error) {
	n, err := s.store.RequeueExpired(ctx, s.clock.Now())
	if err != nil {
		return 0, fmt.Errorf("%w: requeue: %v", ErrUnavailable, err)
	}
	if n > 0 {
		s.logger.Info("expired claims requeued", "count", n)
		s.notify()
	}
	return n, nil
}

// Len 工作项总数
func (s *Scheduler) Len(ctx context.Context) (int, error) {
	return s.store.Len(ctx)
}

func (s *Scheduler) notify() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}
