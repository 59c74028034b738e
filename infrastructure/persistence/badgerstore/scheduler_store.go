package badgerstore

import (
	"context"
	"errors"
	"time"

	"github.com/dgraph-io/badger/v3"
	"github.com/google/uuid"

	"github.com/XXueTu/graph_automation/domain/scheduler"
)

type scheduledEntry struct {
	Item  scheduler.WorkItem `json:"item"`
	Claim *scheduler.Claim   `json:"claim,omitempty"`
}

// schedulerStore 持久化调度存储
// sched:item:{id} 保存工作项，未领取的项在 sched:ready:{readyAt}:{id} 有索引，
// 已领取的项在 sched:claim:{expiresAt}:{id} 有索引
type schedulerStore struct {
	store *Store
}

// NewSchedulerStore 创建调度存储
func NewSchedulerStore(store *Store) scheduler.Store {
	return &schedulerStore{store: store}
}

func (s *schedulerStore) Put(ctx context.Context, item scheduler.WorkItem) error {
	err := s.store.update(func(txn *badger.Txn) error {
		if err := s.dropIndex(txn, item.ID); err != nil {
			return err
		}
		return s.putReady(txn, scheduledEntry{Item: item})
	})
	if err != nil {
		return s.unavailable(err, "put work item %s", item.ID)
	}
	return nil
}

func (s *schedulerStore) ClaimDue(ctx context.Context, now time.Time, owner string, visibility time.Duration, limit int) ([]scheduler.Claim, error) {
	var claims []scheduler.Claim
	err := s.store.update(func(txn *badger.Txn) error {
		claims = claims[:0]
		ids, err := dueIDs(txn, prefixSchedReady, now, limit)
		if err != nil {
			return err
		}
		for _, id := range ids {
			var entry scheduledEntry
			if err := getJSON(txn, prefixSchedItem+id, &entry); err != nil {
				if errors.Is(err, badger.ErrKeyNotFound) {
					continue
				}
				return err
			}
			if err := txn.Delete([]byte(timeKey(prefixSchedReady, entry.Item.ReadyAt, id))); err != nil {
				return err
			}
			claim := scheduler.Claim{
				Item:      entry.Item,
				ClaimID:   uuid.NewString(),
				Owner:     owner,
				ExpiresAt: now.Add(visibility).UTC(),
			}
			entry.Claim = &claim
			if err := setJSON(txn, prefixSchedItem+id, entry); err != nil {
				return err
			}
			if err := txn.Set([]byte(timeKey(prefixSchedClaim, claim.ExpiresAt, id)), nil); err != nil {
				return err
			}
			claims = append(claims, claim)
		}
		return nil
	})
	if err != nil {
		return nil, s.unavailable(err, "claim due work")
	}
	return claims, nil
}

func (s *schedulerStore) Ack(ctx context.Context, claim scheduler.Claim) error {
	err := s.store.update(func(txn *badger.Txn) error {
		entry, ok, err := claimedEntry(txn, claim)
		if err != nil || !ok {
			return err
		}
		if err := txn.Delete([]byte(timeKey(prefixSchedClaim, entry.Claim.ExpiresAt, claim.Item.ID))); err != nil {
			return err
		}
		return txn.Delete([]byte(prefixSchedItem + claim.Item.ID))
	})
	if err != nil {
		return s.unavailable(err, "ack work item %s", claim.Item.ID)
	}
	return nil
}

func (s *schedulerStore) Release(ctx context.Context, claim scheduler.Claim, readyAt time.Time) error {
	err := s.store.update(func(txn *badger.Txn) error {
		entry, ok, err := claimedEntry(txn, claim)
		if err != nil || !ok {
			return err
		}
		if err := txn.Delete([]byte(timeKey(prefixSchedClaim, entry.Claim.ExpiresAt, claim.Item.ID))); err != nil {
			return err
		}
		entry.Claim = nil
		entry.Item.ReadyAt = readyAt.UTC()
		return s.putReady(txn, entry)
	})
	if err != nil {
		return s.unavailable(err, "release work item %s", claim.Item.ID)
	}
	return nil
}

func (s *schedulerStore) RequeueExpired(ctx context.Context, now time.Time) (int, error) {
	requeued := 0
	err := s.store.update(func(txn *badger.Txn) error {
		requeued = 0
		ids, err := dueIDs(txn, prefixSchedClaim, now, 0)
		if err != nil {
			return err
		}
		for _, id := range ids {
			var entry scheduledEntry
			if err := getJSON(txn, prefixSchedItem+id, &entry); err != nil {
				if errors.Is(err, badger.ErrKeyNotFound) {
					continue
				}
				return err
			}
			if entry.Claim == nil {
				continue
			}
			if err := txn.Delete([]byte(timeKey(prefixSchedClaim, entry.Claim.ExpiresAt, id))); err != nil {
				return err
			}
			entry.Claim = nil
			if err := s.putReady(txn, entry); err != nil {
				return err
			}
			requeued++
		}
		return nil
	})
	if err != nil {
		return 0, s.unavailable(err, "requeue expired claims")
	}
	return requeued, nil
}

func (s *schedulerStore) NextReadyAt(ctx context.Context) (time.Time, bool, error) {
	var (
		next  time.Time
		found bool
	)
	err := s.store.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(prefixSchedReady)
		it := txn.NewIterator(opts)
		defer it.Close()

		it.Rewind()
		if !it.Valid() {
			return nil
		}
		at, _, err := parseTimeKey(prefixSchedReady, it.Item().Key())
		if err != nil {
			return err
		}
		next, found = at, true
		return nil
	})
	if err != nil {
		return time.Time{}, false, s.unavailable(err, "read next ready time")
	}
	return next, found, nil
}

func (s *schedulerStore) Len(ctx context.Context) (int, error) {
	count := 0
	err := s.store.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(prefixSchedItem)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			count++
		}
		return nil
	})
	if err != nil {
		return 0, s.unavailable(err, "count work items")
	}
	return count, nil
}

func (s *schedulerStore) putReady(txn *badger.Txn, entry scheduledEntry) error {
	if err := setJSON(txn, prefixSchedItem+entry.Item.ID, entry); err != nil {
		return err
	}
	return txn.Set([]byte(timeKey(prefixSchedReady, entry.Item.ReadyAt, entry.Item.ID)), nil)
}

// dropIndex 删除已有工作项的就绪或领取索引
func (s *schedulerStore) dropIndex(txn *badger.Txn, id string) error {
	var entry scheduledEntry
	if err := getJSON(txn, prefixSchedItem+id, &entry); err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		return err
	}
	if entry.Claim != nil {
		return txn.Delete([]byte(timeKey(prefixSchedClaim, entry.Claim.ExpiresAt, id)))
	}
	return txn.Delete([]byte(timeKey(prefixSchedReady, entry.Item.ReadyAt, id)))
}

func (s *schedulerStore) unavailable(err error, format string, args ...interface{}) error {
	s.store.logger.Warn("scheduler store error", "error", err)
	return WrapBadgerError(errors.Join(scheduler.ErrUnavailable, err), format, args...)
}

// claimedEntry 读取仍由该领取持有的工作项
func claimedEntry(txn *badger.Txn, claim scheduler.Claim) (scheduledEntry, bool, error) {
	var entry scheduledEntry
	if err := getJSON(txn, prefixSchedItem+claim.Item.ID, &entry); err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return entry, false, nil
		}
		return entry, false, err
	}
	if entry.Claim == nil || entry.Claim.ClaimID != claim.ClaimID {
		return entry, false, nil
	}
	return entry, true, nil
}

// dueIDs 按时间索引顺序收集不晚于 now 的ID
func dueIDs(txn *badger.Txn, prefix string, now time.Time, limit int) ([]string, error) {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = []byte(prefix)
	it := txn.NewIterator(opts)
	defer it.Close()

	ids := make([]string, 0)
	for it.Rewind(); it.Valid(); it.Next() {
		at, id, err := parseTimeKey(prefix, it.Item().Key())
		if err != nil {
			return nil, err
		}
		if at.After(now) {
			break
		}
		ids = append(ids, id)
		if limit > 0 && len(ids) >= limit {
			break
		}
	}
	return ids, nil
}
