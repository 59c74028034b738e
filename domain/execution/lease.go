package execution

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/XXueTu/graph_automation/types"
)

// LeaseManager 运行级租约，基于仓储乐观锁实现
// 同一时刻只有一个工作线程推进某个运行
type LeaseManager struct {
	runs   Repository
	ttl    time.Duration
	clock  types.Clock
	logger *slog.Logger
}

// NewLeaseManager 创建租约管理器
func NewLeaseManager(runs Repository, ttl time.Duration, clock types.Clock, logger *slog.Logger) *LeaseManager {
	if clock == nil {
		clock = types.SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LeaseManager{
		runs:   runs,
		ttl:    ttl,
		clock:  clock,
		logger: logger.With("component", "lease-manager"),
	}
}

// TTL 租约时长
func (m *LeaseManager) TTL() time.Duration { return m.ttl }

// Acquire 获取运行租约，返回已写入租约的最新运行
// 其他持有者未过期时返回 ErrLeaseHeld；终态运行直接返回不加租约
func (m *LeaseManager) Acquire(ctx context.Context, runID, owner string) (*Run, error) {
	run, err := m.runs.FindByID(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.Status.IsTerminal() {
		return run, nil
	}

	now := m.clock.Now()
	if run.LeaseHeldByOther(owner, now) {
		return nil, ErrLeaseHeld
	}

	expires := now.Add(m.ttl)
	run.LeaseOwner = owner
	run.LeaseExpiresAt = &expires
	if err := m.runs.Save(ctx, run); err != nil {
		if errors.Is(err, ErrVersionConflict) {
			return nil, ErrLeaseHeld
		}
		return nil, err
	}
	return run, nil
}

// Release 释放租约，仅在仍由 owner 持有时生效
func (m *LeaseManager) Release(ctx context.Context, runID, owner string) error {
	for attempt := 0; attempt < 3; attempt++ {
		run, err := m.runs.FindByID(ctx, runID)
		if err != nil {
			if errors.Is(err, ErrRunNotFound) {
				return nil
			}
			return err
		}
		if run.LeaseOwner != owner {
			return nil
		}
		run.ClearLease()
		err = m.runs.Save(ctx, run)
		if err == nil || !errors.Is(err, ErrVersionConflict) {
			return err
		}
	}
	m.logger.Warn("lease release gave up after conflicts", "run_id", runID, "owner", owner)
	return nil
}
