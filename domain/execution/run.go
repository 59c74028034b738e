package execution

import (
	"time"

	json "github.com/goccy/go-json"

	"github.com/XXueTu/graph_automation/domain/workflow"
)

// Status 运行状态
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSuspended Status = "suspended"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// IsTerminal 是否为终态，终态不可再变更
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// ParseStatus 解析状态字符串
func ParseStatus(raw string) (Status, bool) {
	switch s := Status(raw); s {
	case StatusPending, StatusRunning, StatusSuspended, StatusCompleted, StatusFailed, StatusCancelled:
		return s, true
	}
	return "", false
}

// Suspension 挂起信息：恢复时间、条件延迟的截止时间
type Suspension struct {
	NodeID   string             `json:"node_id"`
	Mode     workflow.DelayMode `json:"mode"`
	ResumeAt time.Time          `json:"resume_at"`
	Deadline *time.Time         `json:"deadline,omitempty"`
	Checks   int                `json:"checks,omitempty"`
}

// Run 工作流运行聚合根
type Run struct {
	ID              string                 `json:"id"`
	WorkflowID      string                 `json:"workflow_id"`
	WorkflowVersion int                    `json:"workflow_version"`
	TriggerID       string                 `json:"trigger_id"`
	Status          Status                 `json:"status"`
	CurrentNodeID   string                 `json:"current_node_id"`
	CurrentAttempt  int                    `json:"current_attempt"`
	NextReadyAt     *time.Time             `json:"next_ready_at,omitempty"`
	Context         map[string]interface{} `json:"context"`
	Attempts        map[string]int         `json:"attempts"`
	Suspension      *Suspension            `json:"suspension,omitempty"`
	LastError       string                 `json:"last_error,omitempty"`
	FailedNodeID    string                 `json:"failed_node_id,omitempty"`
	RetryOf         string                 `json:"retry_of,omitempty"`
	CreatedAt       time.Time              `json:"created_at"`
	UpdatedAt       time.Time              `json:"updated_at"`
	ResumedAt       *time.Time             `json:"resumed_at,omitempty"`
	FinishedAt      *time.Time             `json:"finished_at,omitempty"`
	LeaseOwner      string                 `json:"lease_owner,omitempty"`
	LeaseExpiresAt  *time.Time             `json:"lease_expires_at,omitempty"`
	Version         int64                  `json:"version"`
}

// NewRun 创建待执行的运行，定位在触发器节点第 1 次尝试
func NewRun(id string, def *workflow.Definition, triggerNodeID string, initial map[string]interface{}, now time.Time) *Run {
	ready := now
	run := &Run{
		ID:              id,
		WorkflowID:      def.ID,
		WorkflowVersion: def.Version,
		TriggerID:       triggerNodeID,
		Status:          StatusPending,
		CurrentNodeID:   triggerNodeID,
		CurrentAttempt:  1,
		NextReadyAt:     &ready,
		Context:         make(map[string]interface{}, len(initial)),
		Attempts:        map[string]int{triggerNodeID: 1},
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	for key, value := range initial {
		run.Context[key] = value
	}
	return run
}

// NewRetryRun 人工重试：新运行从失败节点的第 1 次尝试开始，沿用失败运行的上下文
// 失败运行本身保持不变
func NewRetryRun(id string, failed *Run, now time.Time) (*Run, error) {
	if failed.Status != StatusFailed {
		return nil, NewExecutionErrorf("run %s is %s, only failed runs can be retried", failed.ID, failed.Status)
	}
	source, err := failed.Clone()
	if err != nil {
		return nil, err
	}
	nodeID := source.FailedNodeID
	if nodeID == "" {
		nodeID = source.CurrentNodeID
	}
	ready := now
	return &Run{
		ID:              id,
		WorkflowID:      source.WorkflowID,
		WorkflowVersion: source.WorkflowVersion,
		TriggerID:       source.TriggerID,
		Status:          StatusPending,
		CurrentNodeID:   nodeID,
		CurrentAttempt:  1,
		NextReadyAt:     &ready,
		Context:         source.Context,
		Attempts:        map[string]int{nodeID: 1},
		RetryOf:         failed.ID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

// Start pending -> running
func (r *Run) Start(now time.Time) error {
	if r.Status == StatusRunning {
		return nil
	}
	if r.Status != StatusPending {
		return NewTransitionError(r.Status, StatusRunning)
	}
	r.Status = StatusRunning
	r.UpdatedAt = now
	return nil
}

// MoveTo 推进到下一节点的第 1 次尝试
func (r *Run) MoveTo(nodeID string, now time.Time) error {
	if r.Status.IsTerminal() {
		return ErrTerminalState
	}
	ready := now
	r.CurrentNodeID = nodeID
	r.CurrentAttempt = 1
	r.NextReadyAt = &ready
	r.Attempts[nodeID] = 1
	r.UpdatedAt = now
	return nil
}

// ScheduleRetry 在 at 时刻重试当前节点
func (r *Run) ScheduleRetry(attempt int, at time.Time, lastError string, now time.Time) error {
	if r.Status.IsTerminal() {
		return ErrTerminalState
	}
	ready := at
	r.CurrentAttempt = attempt
	r.NextReadyAt = &ready
	r.Attempts[r.CurrentNodeID] = attempt
	r.LastError = lastError
	r.UpdatedAt = now
	return nil
}

// Suspend running -> suspended
func (r *Run) Suspend(s Suspension, now time.Time) error {
	if r.Status != StatusRunning && r.Status != StatusSuspended {
		return NewTransitionError(r.Status, StatusSuspended)
	}
	ready := s.ResumeAt
	r.Status = StatusSuspended
	r.Suspension = &s
	r.NextReadyAt = &ready
	r.UpdatedAt = now
	return nil
}

// Resume suspended -> running
func (r *Run) Resume(now time.Time) error {
	if r.Status != StatusSuspended {
		return NewTransitionError(r.Status, StatusRunning)
	}
	resumed := now
	r.Status = StatusRunning
	r.Suspension = nil
	r.ResumedAt = &resumed
	r.UpdatedAt = now
	return nil
}

// Complete -> completed
func (r *Run) Complete(now time.Time) error {
	if r.Status.IsTerminal() {
		return ErrTerminalState
	}
	r.finish(StatusCompleted, now)
	return nil
}

// Fail -> failed
func (r *Run) Fail(nodeID, message string, now time.Time) error {
	if r.Status.IsTerminal() {
		return ErrTerminalState
	}
	r.FailedNodeID = nodeID
	r.LastError = message
	r.finish(StatusFailed, now)
	return nil
}

// Cancel -> cancelled
func (r *Run) Cancel(now time.Time) error {
	if r.Status.IsTerminal() {
		return ErrTerminalState
	}
	r.finish(StatusCancelled, now)
	return nil
}

func (r *Run) finish(status Status, now time.Time) {
	finished := now
	r.Status = status
	r.FinishedAt = &finished
	r.NextReadyAt = nil
	r.Suspension = nil
	r.UpdatedAt = now
}

// MergeContext 追加上下文，已存在的键保持不变
func (r *Run) MergeContext(values map[string]interface{}) error {
	if r.Context == nil {
		r.Context = make(map[string]interface{}, len(values))
	}
	for key, value := range values {
		if _, exists := r.Context[key]; !exists {
			r.Context[key] = value
		}
	}
	return nil
}

// HoldsLease owner 是否持有未过期的租约
func (r *Run) HoldsLease(owner string, now time.Time) bool {
	return r.LeaseOwner == owner && r.LeaseExpiresAt != nil && r.LeaseExpiresAt.After(now)
}

// LeaseHeldByOther 是否被其他持有者占用
func (r *Run) LeaseHeldByOther(owner string, now time.Time) bool {
	return r.LeaseOwner != "" && r.LeaseOwner != owner && r.LeaseExpiresAt != nil && r.LeaseExpiresAt.After(now)
}

// ClearLease 清除租约字段
func (r *Run) ClearLease() {
	r.LeaseOwner = ""
	r.LeaseExpiresAt = nil
}

// Clone 深拷贝
func (r *Run) Clone() (*Run, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	var out Run
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	if out.Context == nil {
		out.Context = map[string]interface{}{}
	}
	if out.Attempts == nil {
		out.Attempts = map[string]int{}
	}
	return &out, nil
}
