package badgerstore

import (
	"context"
	"time"

	"github.com/dgraph-io/badger/v3"

	"github.com/XXueTu/graph_automation/domain/trigger"
)

// dedupeStore 日期触发去重键，可设置过期时间
type dedupeStore struct {
	store *Store
	ttl   time.Duration
}

// NewDedupeStore 创建去重存储，ttl 为 0 时永久保留
func NewDedupeStore(store *Store, ttl time.Duration) trigger.DedupeStore {
	return &dedupeStore{store: store, ttl: ttl}
}

func (s *dedupeStore) Reserve(ctx context.Context, key string, at time.Time) (bool, error) {
	reserved := false
	err := s.store.update(func(txn *badger.Txn) error {
		reserved = false
		found, err := exists(txn, prefixDedupe+key)
		if err != nil || found {
			return err
		}
		entry := badger.NewEntry([]byte(prefixDedupe+key), []byte(at.UTC().Format(time.RFC3339Nano)))
		if s.ttl > 0 {
			entry = entry.WithTTL(s.ttl)
		}
		if err := txn.SetEntry(entry); err != nil {
			return err
		}
		reserved = true
		return nil
	})
	if err != nil {
		return false, WrapBadgerError(err, "reserve dedupe key %s", key)
	}
	return reserved, nil
}

func (s *dedupeStore) Release(ctx context.Context, key string) error {
	err := s.store.update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(prefixDedupe + key))
	})
	if err != nil {
		return WrapBadgerError(err, "release dedupe key %s", key)
	}
	return nil
}
