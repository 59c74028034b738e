package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/XXueTu/graph_automation/domain/scheduler"
)

type scheduledEntry struct {
	item  scheduler.WorkItem
	claim *scheduler.Claim
}

// schedulerStore 内存调度存储，进程退出即丢失，用于测试与单机开发
type schedulerStore struct {
	entries map[string]*scheduledEntry
	mutex   sync.Mutex
}

// NewSchedulerStore 创建内存调度存储
func NewSchedulerStore() scheduler.Store {
	return &schedulerStore{
		entries: make(map[string]*scheduledEntry),
	}
}

// Put 覆盖同ID工作项，并使旧领取失效
func (s *schedulerStore) Put(ctx context.Context, item scheduler.WorkItem) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.entries[item.ID] = &scheduledEntry{item: item}
	return nil
}

func (s *schedulerStore) ClaimDue(ctx context.Context, now time.Time, owner string, visibility time.Duration, limit int) ([]scheduler.Claim, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	due := make([]*scheduledEntry, 0)
	for _, entry := range s.entries {
		if entry.claim == nil && !entry.item.ReadyAt.After(now) {
			due = append(due, entry)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if !due[i].item.ReadyAt.Equal(due[j].item.ReadyAt) {
			return due[i].item.ReadyAt.Before(due[j].item.ReadyAt)
		}
		return due[i].item.ID < due[j].item.ID
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	claims := make([]scheduler.Claim, 0, len(due))
	for _, entry := range due {
		claim := scheduler.Claim{
			Item:      entry.item,
			ClaimID:   uuid.NewString(),
			Owner:     owner,
			ExpiresAt: now.Add(visibility),
		}
		entry.claim = &claim
		claims = append(claims, claim)
	}
	return claims, nil
}

func (s *schedulerStore) Ack(ctx context.Context, claim scheduler.Claim) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	entry, exists := s.entries[claim.Item.ID]
	if exists && entry.claim != nil && entry.claim.ClaimID == claim.ClaimID {
		delete(s.entries, claim.Item.ID)
	}
	return nil
}

func (s *schedulerStore) Release(ctx context.Context, claim scheduler.Claim, readyAt time.Time) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	entry, exists := s.entries[claim.Item.ID]
	if exists && entry.claim != nil && entry.claim.ClaimID == claim.ClaimID {
		entry.claim = nil
		entry.item.ReadyAt = readyAt.UTC()
	}
	return nil
}

func (s *schedulerStore) RequeueExpired(ctx context.Context, now time.Time) (int, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	requeued := 0
	for _, entry := range s.entries {
		if entry.claim != nil && !entry.claim.ExpiresAt.After(now) {
			entry.claim = nil
			requeued++
		}
	}
	return requeued, nil
}

func (s *schedulerStore) NextReadyAt(ctx context.Context) (time.Time, bool, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	var (
		next  time.Time
		found bool
	)
	for _, entry := range s.entries {
		if entry.claim != nil {
			continue
		}
		if !found || entry.item.ReadyAt.Before(next) {
			next = entry.item.ReadyAt
			found = true
		}
	}
	return next, found, nil
}

func (s *schedulerStore) Len(ctx context.Context) (int, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return len(s.entries), nil
}
