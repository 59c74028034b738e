package record

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/XXueTu/graph_automation/domain/workflow"
)

// ErrRecordNotFound 记录不存在
var ErrRecordNotFound = errors.New("node execution record not found")

// Status 节点执行结果
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

// NodeExecutionRecord 节点执行审计记录，按 (run, node, attempt) 唯一，只追加
type NodeExecutionRecord struct {
	RunID      string                 `json:"run_id"`
	WorkflowID string                 `json:"workflow_id"`
	NodeID     string                 `json:"node_id"`
	NodeKind   workflow.NodeKind      `json:"node_kind"`
	Attempt    int                    `json:"attempt"`
	StartedAt  time.Time              `json:"started_at"`
	FinishedAt time.Time              `json:"finished_at"`
	Status     Status                 `json:"status"`
	Error      string                 `json:"error,omitempty"`
	ErrorClass string                 `json:"error_class,omitempty"`
	Branch     string                 `json:"branch,omitempty"`
	RetryAt    *time.Time             `json:"retry_at,omitempty"`
	Output     map[string]interface{} `json:"output,omitempty"`
}

// Key 记录唯一键
func (r *NodeExecutionRecord) Key() string {
	return Key(r.RunID, r.NodeID, r.Attempt)
}

// Duration 执行耗时
func (r *NodeExecutionRecord) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Key 构造记录唯一键
func Key(runID, nodeID string, attempt int) string {
	return fmt.Sprintf("%s/%s/%06d", runID, nodeID, attempt)
}

// Store 执行日志存储
type Store interface {
	// Append 追加记录，键已存在时不写入并返回 false
	Append(ctx context.Context, rec *NodeExecutionRecord) (bool, error)

	// Get 读取单条记录
	Get(ctx context.Context, runID, nodeID string, attempt int) (*NodeExecutionRecord, error)

	// ListForRun 按开始时间与尝试次数排序列出运行的全部记录
	ListForRun(ctx context.Context, runID string) ([]*NodeExecutionRecord, error)

	// DeleteBefore 删除早于指定时间结束的记录，供保留期清理使用
	DeleteBefore(ctx context.Context, before time.Time) (int, error)
}

// Sort 按 (started_at, attempt, node_id) 排序
func Sort(records []*NodeExecutionRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if !a.StartedAt.Equal(b.StartedAt) {
			return a.StartedAt.Before(b.StartedAt)
		}
		if a.Attempt != b.Attempt {
			return a.Attempt < b.Attempt
		}
		return a.NodeID < b.NodeID
	})
}
