package mysql

import (
	"context"
	"database/sql"
	"errors"
	"time"

	json "github.com/goccy/go-json"

	"github.com/XXueTu/graph_automation/domain/record"
)

// recordStore MySQL执行记录存储，INSERT IGNORE 保证幂等追加
type recordStore struct {
	db *sql.DB
}

// NewRecordStore 创建MySQL执行记录存储
func NewRecordStore(store *Store) record.Store {
	return &recordStore{db: store.db}
}

// Append 追加记录
func (s *recordStore) Append(ctx context.Context, rec *record.NodeExecutionRecord) (bool, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return false, WrapMySQLError(err, "encode record %s", rec.Key())
	}

	query := `INSERT IGNORE INTO node_execution_records
			  (run_id, node_id, attempt, workflow_id, status, data, started_at, finished_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	result, err := s.db.ExecContext(ctx, query, rec.RunID, rec.NodeID, rec.Attempt, rec.WorkflowID,
		string(rec.Status), string(data), rec.StartedAt.UTC(), rec.FinishedAt.UTC())
	if err != nil {
		return false, WrapMySQLError(err, "append record %s", rec.Key())
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, WrapMySQLError(err, "append record %s", rec.Key())
	}
	return affected == 1, nil
}

// Get 读取单条记录
func (s *recordStore) Get(ctx context.Context, runID, nodeID string, attempt int) (*record.NodeExecutionRecord, error) {
	var data string
	query := `SELECT data FROM node_execution_records WHERE run_id = ? AND node_id = ? AND attempt = ?`
	err := s.db.QueryRowContext(ctx, query, runID, nodeID, attempt).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, WrapMySQLError(record.ErrRecordNotFound, "record %s", record.Key(runID, nodeID, attempt))
	}
	if err != nil {
		return nil, WrapMySQLError(err, "get record %s", record.Key(runID, nodeID, attempt))
	}
	var rec record.NodeExecutionRecord
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, WrapMySQLError(err, "decode record %s", record.Key(runID, nodeID, attempt))
	}
	return &rec, nil
}

// ListForRun 列出运行的全部记录
func (s *recordStore) ListForRun(ctx context.Context, runID string) ([]*record.NodeExecutionRecord, error) {
	query := `SELECT data FROM node_execution_records WHERE run_id = ? ORDER BY started_at, attempt, node_id`
	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, WrapMySQLError(err, "list records of run %s", runID)
	}
	defer rows.Close()

	records := make([]*record.NodeExecutionRecord, 0)
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, WrapMySQLError(err, "scan record")
		}
		var rec record.NodeExecutionRecord
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			return nil, WrapMySQLError(err, "decode record")
		}
		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, WrapMySQLError(err, "list records of run %s", runID)
	}
	record.Sort(records)
	return records, nil
}

// DeleteBefore 删除早于指定时间结束的记录
func (s *recordStore) DeleteBefore(ctx context.Context, before time.Time) (int, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM node_execution_records WHERE finished_at < ?`, before.UTC())
	if err != nil {
		return 0, WrapMySQLError(err, "delete records")
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, WrapMySQLError(err, "delete records")
	}
	return int(affected), nil
}
