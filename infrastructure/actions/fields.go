package actions

import (
	"context"
	"errors"
	"strings"

	"github.com/XXueTu/graph_automation/domain/action"
	"github.com/XXueTu/graph_automation/domain/expression"
	"github.com/XXueTu/graph_automation/infrastructure/rowstore"
)

type rowTarget struct {
	TableID string `json:"table_id"`
	RowID   string `json:"row_id"`
}

type fieldUpdateParams struct {
	rowTarget
	Fields map[string]interface{} `json:"fields"`
}

type statusChangeParams struct {
	rowTarget
	Field  string      `json:"field"`
	Status interface{} `json:"status"`
}

// FieldUpdateAction 回写行字段，重复执行结果相同
type FieldUpdateAction struct {
	rows rowstore.Store
}

// NewFieldUpdateAction 创建字段更新动作
func NewFieldUpdateAction(rows rowstore.Store) *FieldUpdateAction {
	return &FieldUpdateAction{rows: rows}
}

func (a *FieldUpdateAction) Execute(ctx context.Context, req action.Request) (action.Result, error) {
	var params fieldUpdateParams
	if err := action.DecodeParams(req.Params, &params); err != nil {
		return action.Result{}, err
	}
	if len(params.Fields) == 0 {
		return action.Result{}, action.NewFatalError("invalid_params", "field_update needs at least one field")
	}
	return writeRow(ctx, a.rows, params.rowTarget, req.Context, params.Fields)
}

// StatusChangeAction 设置行的状态字段
type StatusChangeAction struct {
	rows rowstore.Store
}

// NewStatusChangeAction 创建状态变更动作
func NewStatusChangeAction(rows rowstore.Store) *StatusChangeAction {
	return &StatusChangeAction{rows: rows}
}

func (a *StatusChangeAction) Execute(ctx context.Context, req action.Request) (action.Result, error) {
	var params statusChangeParams
	if err := action.DecodeParams(req.Params, &params); err != nil {
		return action.Result{}, err
	}
	if params.Field == "" {
		params.Field = "Status"
	}
	if expression.IsEmpty(params.Status) {
		return action.Result{}, action.NewFatalError("invalid_params", "status_change needs a status")
	}
	return writeRow(ctx, a.rows, params.rowTarget, req.Context, map[string]interface{}{params.Field: params.Status})
}

// writeRow 未指定目标行时使用触发行
func writeRow(ctx context.Context, rows rowstore.Store, target rowTarget, vars map[string]interface{}, fields map[string]interface{}) (action.Result, error) {
	if target.TableID == "" {
		if v, ok := expression.Lookup(vars, "trigger.table_id"); ok {
			target.TableID = expression.Stringify(v)
		}
	}
	if target.RowID == "" {
		if v, ok := expression.Lookup(vars, "trigger.row_id"); ok {
			target.RowID = expression.Stringify(v)
		}
	}
	if target.TableID == "" || target.RowID == "" {
		return action.Result{}, action.NewFatalError("invalid_params", "no target row: set table_id and row_id")
	}

	if err := rows.UpdateRow(ctx, target.TableID, target.RowID, fields); err != nil {
		switch {
		case errors.Is(err, rowstore.ErrUnavailable), errors.Is(err, context.DeadlineExceeded):
			return action.Result{}, action.WrapTransient("row_store_unavailable", err, "update row")
		case errors.Is(err, rowstore.ErrRowNotFound):
			return action.Result{}, action.WrapFatal("row_not_found", err, "update row")
		default:
			return action.Result{}, action.WrapFatal("row_store", err, "update row")
		}
	}

	output := make(map[string]interface{}, len(fields)+2)
	for key, value := range fields {
		output[key] = value
	}
	output["table_id"] = target.TableID
	output["row_id"] = target.RowID
	return action.Result{Output: output}, nil
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
