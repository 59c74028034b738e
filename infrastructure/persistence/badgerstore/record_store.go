package badgerstore

import (
	"context"
	"errors"
	"time"

	"github.com/dgraph-io/badger/v3"
	json "github.com/goccy/go-json"

	"github.com/XXueTu/graph_automation/domain/record"
)

const deleteBatchSize = 1000

// recordStore 执行记录按 rec:{run}/{node}/{attempt} 存储，只追加
type recordStore struct {
	store *Store
}

// NewRecordStore 创建执行记录存储
func NewRecordStore(store *Store) record.Store {
	return &recordStore{store: store}
}

func recordKey(runID, nodeID string, attempt int) string {
	return prefixRecord + record.Key(runID, nodeID, attempt)
}

func (s *recordStore) Append(ctx context.Context, rec *record.NodeExecutionRecord) (bool, error) {
	inserted := false
	err := s.store.update(func(txn *badger.Txn) error {
		inserted = false
		key := recordKey(rec.RunID, rec.NodeID, rec.Attempt)
		found, err := exists(txn, key)
		if err != nil || found {
			return err
		}
		if err := setJSON(txn, key, rec); err != nil {
			return err
		}
		inserted = true
		return nil
	})
	if err != nil {
		return false, WrapBadgerError(err, "append record %s", rec.Key())
	}
	return inserted, nil
}

func (s *recordStore) Get(ctx context.Context, runID, nodeID string, attempt int) (*record.NodeExecutionRecord, error) {
	var rec record.NodeExecutionRecord
	err := s.store.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, recordKey(runID, nodeID, attempt), &rec)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, WrapBadgerError(record.ErrRecordNotFound, "record %s", record.Key(runID, nodeID, attempt))
	}
	if err != nil {
		return nil, WrapBadgerError(err, "get record %s", record.Key(runID, nodeID, attempt))
	}
	return &rec, nil
}

func (s *recordStore) ListForRun(ctx context.Context, runID string) ([]*record.NodeExecutionRecord, error) {
	prefix := []byte(prefixRecord + runID + "/")
	records := make([]*record.NodeExecutionRecord, 0)
	err := s.store.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var rec record.NodeExecutionRecord
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return err
			}
			if rec.RunID == runID {
				records = append(records, &rec)
			}
		}
		return nil
	})
	if err != nil {
		return nil, WrapBadgerError(err, "list records of run %s", runID)
	}
	record.Sort(records)
	return records, nil
}

// DeleteBefore 先只读扫描收集键，再分批删除
func (s *recordStore) DeleteBefore(ctx context.Context, before time.Time) (int, error) {
	keys := make([][]byte, 0)
	err := s.store.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefixRecord)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var rec record.NodeExecutionRecord
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return err
			}
			if rec.FinishedAt.Before(before) {
				keys = append(keys, it.Item().KeyCopy(nil))
			}
		}
		return nil
	})
	if err != nil {
		return 0, WrapBadgerError(err, "scan records")
	}

	for start := 0; start < len(keys); start += deleteBatchSize {
		end := start + deleteBatchSize
		if end > len(keys) {
			end = len(keys)
		}
		batch := keys[start:end]
		if err := s.store.update(func(txn *badger.Txn) error {
			for _, key := range batch {
				if err := txn.Delete(key); err != nil {
					return err
				}
			}
			return nil
		}); err != nil {
			return start, WrapBadgerError(err, "delete records")
		}
	}
	s.store.logger.Debug("records purged", "count", len(keys), "before", before)
	return len(keys), nil
}
