package mysql

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/XXueTu/graph_automation/domain/scheduler"
)

// schedulerStore MySQL调度存储
// 领取使用 FOR UPDATE SKIP LOCKED，多个工作进程可以并发领取而不互相阻塞
type schedulerStore struct {
	db *sql.DB
}

// NewSchedulerStore 创建MySQL调度存储
func NewSchedulerStore(store *Store) scheduler.Store {
	return &schedulerStore{db: store.db}
}

// Put 写入工作项，覆盖时清除领取
func (s *schedulerStore) Put(ctx context.Context, item scheduler.WorkItem) error {
	enqueuedAt := item.EnqueuedAt
	if enqueuedAt.IsZero() {
		enqueuedAt = time.Now()
	}
	query := `INSERT INTO scheduled_work (item_id, run_id, node_id, attempt, reason, ready_at, enqueued_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?)
			  ON DUPLICATE KEY UPDATE
			  reason = VALUES(reason), ready_at = VALUES(ready_at), enqueued_at = VALUES(enqueued_at),
			  claim_id = NULL, claim_owner = NULL, claim_expires_at = NULL`
	_, err := s.db.ExecContext(ctx, query, item.ID, item.RunID, item.NodeID, item.Attempt,
		string(item.Reason), item.ReadyAt.UTC(), enqueuedAt.UTC())
	if err != nil {
		return unavailable(err, "put work item %s", item.ID)
	}
	return nil
}

// ClaimDue 领取到期的工作项
func (s *schedulerStore) ClaimDue(ctx context.Context, now time.Time, owner string, visibility time.Duration, limit int) ([]scheduler.Claim, error) {
	if limit <= 0 {
		limit = 100
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, unavailable(err, "begin claim")
	}
	defer tx.Rollback()

	query := `SELECT item_id, run_id, node_id, attempt, reason, ready_at, enqueued_at FROM scheduled_work
			  WHERE claim_id IS NULL AND ready_at <= ?
			  ORDER BY ready_at, item_id LIMIT ? FOR UPDATE SKIP LOCKED`
	rows, err := tx.QueryContext(ctx, query, now.UTC(), limit)
	if err != nil {
		return nil, unavailable(err, "select due work")
	}
	items := make([]scheduler.WorkItem, 0)
	for rows.Next() {
		var (
			item   scheduler.WorkItem
			reason string
		)
		if err := rows.Scan(&item.ID, &item.RunID, &item.NodeID, &item.Attempt, &reason, &item.ReadyAt, &item.EnqueuedAt); err != nil {
			rows.Close()
			return nil, unavailable(err, "scan due work")
		}
		item.Reason = scheduler.Reason(reason)
		items = append(items, item)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, unavailable(err, "select due work")
	}

	expiresAt := now.Add(visibility).UTC()
	claims := make([]scheduler.Claim, 0, len(items))
	for _, item := range items {
		claim := scheduler.Claim{Item: item, ClaimID: uuid.NewString(), Owner: owner, ExpiresAt: expiresAt}
		_, err := tx.ExecContext(ctx,
			`UPDATE scheduled_work SET claim_id = ?, claim_owner = ?, claim_expires_at = ? WHERE item_id = ?`,
			claim.ClaimID, owner, expiresAt, item.ID)
		if err != nil {
			return nil, unavailable(err, "claim work item %s", item.ID)
		}
		claims = append(claims, claim)
	}
	if err := tx.Commit(); err != nil {
		return nil, unavailable(err, "commit claim")
	}
	return claims, nil
}

// Ack 确认完成，只删除仍由该领取持有的项
func (s *schedulerStore) Ack(ctx context.Context, claim scheduler.Claim) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM scheduled_work WHERE item_id = ? AND claim_id = ?`, claim.Item.ID, claim.ClaimID)
	if err != nil {
		return unavailable(err, "ack work item %s", claim.Item.ID)
	}
	return nil
}

// Release 放弃领取
func (s *schedulerStore) Release(ctx context.Context, claim scheduler.Claim, readyAt time.Time) error {
	query := `UPDATE scheduled_work SET claim_id = NULL, claim_owner = NULL, claim_expires_at = NULL, ready_at = ?
			  WHERE item_id = ? AND claim_id = ?`
	if _, err := s.db.ExecContext(ctx, query, readyAt.UTC(), claim.Item.ID, claim.ClaimID); err != nil {
		return unavailable(err, "release work item %s", claim.Item.ID)
	}
	return nil
}

// RequeueExpired 将领取超时的工作项放回就绪集合
func (s *schedulerStore) RequeueExpired(ctx context.Context, now time.Time) (int, error) {
	query := `UPDATE scheduled_work SET claim_id = NULL, claim_owner = NULL, claim_expires_at = NULL
			  WHERE claim_id IS NOT NULL AND claim_expires_at <= ?`
	result, err := s.db.ExecContext(ctx, query, now.UTC())
	if err != nil {
		return 0, unavailable(err, "requeue expired claims")
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, unavailable(err, "requeue expired claims")
	}
	return int(affected), nil
}

// NextReadyAt 最早的就绪时间
func (s *schedulerStore) NextReadyAt(ctx context.Context) (time.Time, bool, error) {
	var next sql.NullTime
	err := s.db.QueryRowContext(ctx, `SELECT MIN(ready_at) FROM scheduled_work WHERE claim_id IS NULL`).Scan(&next)
	if err != nil {
		return time.Time{}, false, unavailable(err, "read next ready time")
	}
	if !next.Valid {
		return time.Time{}, false, nil
	}
	return next.Time.UTC(), true, nil
}

// Len 工作项总数
func (s *schedulerStore) Len(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM scheduled_work`).Scan(&count); err != nil {
		return 0, unavailable(err, "count work items")
	}
	return count, nil
}

func unavailable(err error, format string, args ...interface{}) error {
	return WrapMySQLError(errors.Join(scheduler.ErrUnavailable, err), format, args...)
}
