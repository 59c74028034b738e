package mysql

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/XXueTu/graph_automation/domain/execution"
)

// noLimit MySQL 只有 OFFSET 时需要的上限
const noLimit = "18446744073709551615"

// runRepository MySQL运行仓储，Save 以 version 列做条件更新
type runRepository struct {
	db *sql.DB
}

// NewRunRepository 创建MySQL运行仓储
func NewRunRepository(store *Store) execution.Repository {
	return &runRepository{db: store.db}
}

// Create 新建运行
func (r *runRepository) Create(ctx context.Context, run *execution.Run) error {
	data, err := json.Marshal(run)
	if err != nil {
		return WrapMySQLError(err, "encode run %s", run.ID)
	}

	query := `INSERT INTO workflow_runs (run_id, workflow_id, workflow_version, status, data, version, created_at, updated_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = r.db.ExecContext(ctx, query, run.ID, run.WorkflowID, run.WorkflowVersion, string(run.Status),
		string(data), run.Version, run.CreatedAt.UTC(), run.UpdatedAt.UTC())
	if isDuplicate(err) {
		return NewMySQLErrorf("run %s already exists", run.ID)
	}
	if err != nil {
		return WrapMySQLError(err, "create run %s", run.ID)
	}
	return nil
}

// Save 条件更新运行
func (r *runRepository) Save(ctx context.Context, run *execution.Run) error {
	next := *run
	next.Version++
	data, err := json.Marshal(&next)
	if err != nil {
		return WrapMySQLError(err, "encode run %s", run.ID)
	}

	query := `UPDATE workflow_runs SET status = ?, data = ?, version = version + 1, updated_at = ?
			  WHERE run_id = ? AND version = ?`
	result, err := r.db.ExecContext(ctx, query, string(run.Status), string(data), run.UpdatedAt.UTC(), run.ID, run.Version)
	if err != nil {
		return WrapMySQLError(err, "save run %s", run.ID)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return WrapMySQLError(err, "save run %s", run.ID)
	}
	if affected == 0 {
		var version int64
		err := r.db.QueryRowContext(ctx, `SELECT version FROM workflow_runs WHERE run_id = ?`, run.ID).Scan(&version)
		if errors.Is(err, sql.ErrNoRows) {
			return WrapMySQLError(execution.ErrRunNotFound, "run %s", run.ID)
		}
		if err != nil {
			return WrapMySQLError(err, "save run %s", run.ID)
		}
		return WrapMySQLError(execution.ErrVersionConflict, "run %s at version %d, saving %d", run.ID, version, run.Version)
	}
	run.Version++
	return nil
}

// FindByID 根据ID查找运行
func (r *runRepository) FindByID(ctx context.Context, id string) (*execution.Run, error) {
	var data string
	err := r.db.QueryRowContext(ctx, `SELECT data FROM workflow_runs WHERE run_id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, WrapMySQLError(execution.ErrRunNotFound, "run %s", id)
	}
	if err != nil {
		return nil, WrapMySQLError(err, "find run %s", id)
	}
	var run execution.Run
	if err := json.Unmarshal([]byte(data), &run); err != nil {
		return nil, WrapMySQLError(err, "decode run %s", id)
	}
	return &run, nil
}

// List 按创建时间倒序列出运行
func (r *runRepository) List(ctx context.Context, filter execution.ListFilter) ([]*execution.Run, error) {
	var (
		conditions []string
		args       []interface{}
	)
	if filter.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.WorkflowID != "" {
		conditions = append(conditions, "workflow_id = ?")
		args = append(args, filter.WorkflowID)
	}

	query := "SELECT data FROM workflow_runs"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at DESC, run_id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	} else if filter.Offset > 0 {
		query += " LIMIT " + noLimit
	}
	if filter.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, filter.Offset)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, WrapMySQLError(err, "list runs")
	}
	defer rows.Close()

	runs := make([]*execution.Run, 0)
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, WrapMySQLError(err, "scan run")
		}
		var run execution.Run
		if err := json.Unmarshal([]byte(data), &run); err != nil {
			return nil, WrapMySQLError(err, "decode run")
		}
		runs = append(runs, &run)
	}
	if err := rows.Err(); err != nil {
		return nil, WrapMySQLError(err, "list runs")
	}
	return runs, nil
}
