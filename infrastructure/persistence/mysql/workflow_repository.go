package mysql

import (
	"context"
	"database/sql"
	"errors"

	json "github.com/goccy/go-json"

	"github.com/XXueTu/graph_automation/domain/workflow"
)

// workflowRepository MySQL工作流定义仓储
type workflowRepository struct {
	db *sql.DB
}

// NewWorkflowRepository 创建MySQL工作流定义仓储
func NewWorkflowRepository(store *Store) workflow.Repository {
	return &workflowRepository{db: store.db}
}

// Save 保存一个版本
func (r *workflowRepository) Save(ctx context.Context, def *workflow.Definition) error {
	data, err := json.Marshal(def)
	if err != nil {
		return WrapMySQLError(err, "encode workflow %s", def.ID)
	}

	query := `INSERT INTO workflow_definitions (workflow_id, version, name, definition, published_at, created_at)
			  VALUES (?, ?, ?, ?, ?, ?)`
	_, err = r.db.ExecContext(ctx, query, def.ID, def.Version, def.Name, string(data), def.PublishedAt, def.CreatedAt.UTC())
	if isDuplicate(err) {
		return NewMySQLErrorf("workflow %s version %d already exists", def.ID, def.Version)
	}
	if err != nil {
		return WrapMySQLError(err, "save workflow %s version %d", def.ID, def.Version)
	}
	return nil
}

// FindByID 查找最新版本
func (r *workflowRepository) FindByID(ctx context.Context, id string) (*workflow.Definition, error) {
	query := `SELECT definition FROM workflow_definitions WHERE workflow_id = ? ORDER BY version DESC LIMIT 1`
	return r.scanOne(r.db.QueryRowContext(ctx, query, id), "workflow %s", id)
}

// FindVersion 查找指定版本
func (r *workflowRepository) FindVersion(ctx context.Context, id string, version int) (*workflow.Definition, error) {
	query := `SELECT definition FROM workflow_definitions WHERE workflow_id = ? AND version = ?`
	return r.scanOne(r.db.QueryRowContext(ctx, query, id, version), "workflow %s version %d", id, version)
}

// FindAll 每个工作流的最新版本
func (r *workflowRepository) FindAll(ctx context.Context) ([]*workflow.Definition, error) {
	query := `SELECT d.definition FROM workflow_definitions d
			  JOIN (SELECT workflow_id, MAX(version) AS version FROM workflow_definitions GROUP BY workflow_id) latest
			  ON d.workflow_id = latest.workflow_id AND d.version = latest.version
			  ORDER BY d.workflow_id`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, WrapMySQLError(err, "list workflows")
	}
	defer rows.Close()

	defs := make([]*workflow.Definition, 0)
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, WrapMySQLError(err, "scan workflow")
		}
		var def workflow.Definition
		if err := json.Unmarshal([]byte(data), &def); err != nil {
			return nil, WrapMySQLError(err, "decode workflow")
		}
		defs = append(defs, &def)
	}
	if err := rows.Err(); err != nil {
		return nil, WrapMySQLError(err, "list workflows")
	}
	return defs, nil
}

func (r *workflowRepository) scanOne(row *sql.Row, format string, args ...interface{}) (*workflow.Definition, error) {
	var data string
	if err := row.Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, WrapMySQLError(workflow.ErrDefinitionNotFound, format, args...)
		}
		return nil, WrapMySQLError(err, format, args...)
	}
	var def workflow.Definition
	if err := json.Unmarshal([]byte(data), &def); err != nil {
		return nil, WrapMySQLError(err, format, args...)
	}
	return &def, nil
}
