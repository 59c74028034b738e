package badgerstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dgraph-io/badger/v3"
	json "github.com/goccy/go-json"

	"github.com/XXueTu/graph_automation/domain/workflow"
)

// workflowRepository 定义按 def:{id}:{version} 存储，版本定宽以便逆序取最新
type workflowRepository struct {
	store *Store
}

// NewWorkflowRepository 创建工作流定义仓储
func NewWorkflowRepository(store *Store) workflow.Repository {
	return &workflowRepository{store: store}
}

func definitionKey(id string, version int) string {
	return fmt.Sprintf("%s%s:%010d", prefixDefinition, id, version)
}

func (r *workflowRepository) Save(ctx context.Context, def *workflow.Definition) error {
	key := definitionKey(def.ID, def.Version)
	return r.store.update(func(txn *badger.Txn) error {
		found, err := exists(txn, key)
		if err != nil {
			return WrapBadgerError(err, "check workflow %s version %d", def.ID, def.Version)
		}
		if found {
			return NewBadgerErrorf("workflow %s version %d already exists", def.ID, def.Version)
		}
		if err := setJSON(txn, key, def); err != nil {
			return WrapBadgerError(err, "save workflow %s version %d", def.ID, def.Version)
		}
		return nil
	})
}

func (r *workflowRepository) FindByID(ctx context.Context, id string) (*workflow.Definition, error) {
	var def *workflow.Definition
	err := r.store.db.View(func(txn *badger.Txn) error {
		found, err := latestDefinition(txn, prefixDefinition+id+":")
		def = found
		return err
	})
	if err != nil {
		return nil, WrapBadgerError(err, "find workflow %s", id)
	}
	if def == nil {
		return nil, WrapBadgerError(workflow.ErrDefinitionNotFound, "workflow %s", id)
	}
	return def, nil
}

func (r *workflowRepository) FindVersion(ctx context.Context, id string, version int) (*workflow.Definition, error) {
	var def workflow.Definition
	err := r.store.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, definitionKey(id, version), &def)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, WrapBadgerError(workflow.ErrDefinitionNotFound, "workflow %s version %d", id, version)
	}
	if err != nil {
		return nil, WrapBadgerError(err, "find workflow %s version %d", id, version)
	}
	return &def, nil
}

func (r *workflowRepository) FindAll(ctx context.Context) ([]*workflow.Definition, error) {
	ids := make([]string, 0)
	err := r.store.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(prefixDefinition)
		it := txn.NewIterator(opts)
		defer it.Close()

		seen := make(map[string]bool)
		for it.Rewind(); it.Valid(); it.Next() {
			rest := strings.TrimPrefix(string(it.Item().Key()), prefixDefinition)
			idx := strings.LastIndex(rest, ":")
			if idx < 0 {
				continue
			}
			id := rest[:idx]
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
		return nil
	})
	if err != nil {
		return nil, WrapBadgerError(err, "list workflows")
	}

	defs := make([]*workflow.Definition, 0, len(ids))
	for _, id := range ids {
		def, err := r.FindByID(ctx, id)
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, nil
}

// latestDefinition 逆序迭代前缀，第一个即最新版本
func latestDefinition(txn *badger.Txn, prefix string) (*workflow.Definition, error) {
	opts := badger.DefaultIteratorOptions
	opts.Reverse = true
	opts.Prefix = []byte(prefix)
	it := txn.NewIterator(opts)
	defer it.Close()

	it.Seek(append([]byte(prefix), 0xFF))
	if !it.Valid() {
		return nil, nil
	}
	var def workflow.Definition
	if err := it.Item().Value(func(val []byte) error {
		return json.Unmarshal(val, &def)
	}); err != nil {
		return nil, err
	}
	return &def, nil
}
