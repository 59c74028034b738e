// Package rowstore 外部行数据存储的适配器
package rowstore

import (
	"context"
	"errors"

	"github.com/XXueTu/graph_automation/domain/trigger"
)

// ErrRowNotFound 行不存在
var ErrRowNotFound = errors.New("row not found")

// Store 行数据存储：触发器扫描、延迟条件复查、字段回写共用
type Store interface {
	// GetRow 读取一行
	GetRow(ctx context.Context, tableID, rowID string) (map[string]interface{}, error)

	// ListRows 列出表中全部行
	ListRows(ctx context.Context, tableID string) ([]trigger.Row, error)

	// UpdateRow 合并写入字段
	UpdateRow(ctx context.Context, tableID, rowID string, fields map[string]interface{}) error
}
