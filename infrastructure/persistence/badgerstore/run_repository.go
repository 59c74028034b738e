package badgerstore

import (
	"context"
	"errors"

	"github.com/dgraph-io/badger/v3"

	"github.com/XXueTu/graph_automation/domain/execution"
)

// runRepository 运行按 run:{id} 存储，创建时间索引与状态索引用于倒序列表
type runRepository struct {
	store *Store
}

// NewRunRepository 创建运行仓储
func NewRunRepository(store *Store) execution.Repository {
	return &runRepository{store: store}
}

func createdIndexKey(run *execution.Run) string {
	return timeKey(prefixRunCreated, run.CreatedAt, run.ID)
}

func statusIndexKey(status execution.Status, run *execution.Run) string {
	return timeKey(prefixRunStatus+string(status)+":", run.CreatedAt, run.ID)
}

func (r *runRepository) Create(ctx context.Context, run *execution.Run) error {
	return r.store.update(func(txn *badger.Txn) error {
		found, err := exists(txn, prefixRun+run.ID)
		if err != nil {
			return WrapBadgerError(err, "check run %s", run.ID)
		}
		if found {
			return NewBadgerErrorf("run %s already exists", run.ID)
		}
		if err := setJSON(txn, prefixRun+run.ID, run); err != nil {
			return WrapBadgerError(err, "create run %s", run.ID)
		}
		if err := txn.Set([]byte(createdIndexKey(run)), nil); err != nil {
			return err
		}
		return txn.Set([]byte(statusIndexKey(run.Status, run)), nil)
	})
}

func (r *runRepository) Save(ctx context.Context, run *execution.Run) error {
	err := r.store.update(func(txn *badger.Txn) error {
		var current execution.Run
		if err := getJSON(txn, prefixRun+run.ID, &current); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return WrapBadgerError(execution.ErrRunNotFound, "run %s", run.ID)
			}
			return WrapBadgerError(err, "load run %s", run.ID)
		}
		if current.Version != run.Version {
			return WrapBadgerError(execution.ErrVersionConflict, "run %s at version %d, saving %d", run.ID, current.Version, run.Version)
		}

		next := *run
		next.Version++
		if err := setJSON(txn, prefixRun+run.ID, &next); err != nil {
			return WrapBadgerError(err, "save run %s", run.ID)
		}
		if current.Status != next.Status {
			if err := txn.Delete([]byte(statusIndexKey(current.Status, &current))); err != nil {
				return err
			}
			if err := txn.Set([]byte(statusIndexKey(next.Status, &next)), nil); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	run.Version++
	return nil
}

func (r *runRepository) FindByID(ctx context.Context, id string) (*execution.Run, error) {
	var run execution.Run
	err := r.store.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, prefixRun+id, &run)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, WrapBadgerError(execution.ErrRunNotFound, "run %s", id)
	}
	if err != nil {
		return nil, WrapBadgerError(err, "find run %s", id)
	}
	return &run, nil
}

// List 逆序扫描索引，按工作流过滤后分页
func (r *runRepository) List(ctx context.Context, filter execution.ListFilter) ([]*execution.Run, error) {
	prefix := prefixRunCreated
	if filter.Status != "" {
		prefix = prefixRunStatus + string(filter.Status) + ":"
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	runs := make([]*execution.Run, 0)
	err := r.store.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Reverse = true
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		skipped := 0
		for it.Seek(append([]byte(prefix), 0xFF)); it.Valid(); it.Next() {
			_, id, err := parseTimeKey(prefix, it.Item().Key())
			if err != nil {
				return err
			}
			var run execution.Run
			if err := getJSON(txn, prefixRun+id, &run); err != nil {
				if errors.Is(err, badger.ErrKeyNotFound) {
					continue
				}
				return err
			}
			if filter.WorkflowID != "" && run.WorkflowID != filter.WorkflowID {
				continue
			}
			if skipped < offset {
				skipped++
				continue
			}
			runs = append(runs, &run)
			if filter.Limit > 0 && len(runs) >= filter.Limit {
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return nil, WrapBadgerError(err, "list runs")
	}
	return runs, nil
}
