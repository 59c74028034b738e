package mysql

import (
	"context"
	"database/sql"
	"time"

	"github.com/XXueTu/graph_automation/domain/trigger"
)

// dedupeStore MySQL去重键存储
type dedupeStore struct {
	db *sql.DB
}

// NewDedupeStore 创建MySQL去重键存储
func NewDedupeStore(store *Store) trigger.DedupeStore {
	return &dedupeStore{db: store.db}
}

// Reserve 首次占用返回 true
func (s *dedupeStore) Reserve(ctx context.Context, key string, at time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx, `INSERT IGNORE INTO trigger_dedupe (dedupe_key, reserved_at) VALUES (?, ?)`, key, at.UTC())
	if err != nil {
		return false, WrapMySQLError(err, "reserve dedupe key %s", key)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, WrapMySQLError(err, "reserve dedupe key %s", key)
	}
	return affected == 1, nil
}

// Release 删除键
func (s *dedupeStore) Release(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM trigger_dedupe WHERE dedupe_key = ?`, key); err != nil {
		return WrapMySQLError(err, "release dedupe key %s", key)
	}
	return nil
}
