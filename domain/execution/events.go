package execution

import "time"

// 事件类型
const (
	EventRunCreated     = "run.created"
	EventRunStarted     = "run.started"
	EventRunSuspended   = "run.suspended"
	EventRunResumed     = "run.resumed"
	EventRunCompleted   = "run.completed"
	EventRunFailed      = "run.failed"
	EventRunCancelled   = "run.cancelled"
	EventNodeSucceeded  = "node.succeeded"
	EventNodeFailed     = "node.failed"
	EventRetryScheduled = "node.retry_scheduled"
)

// Event 执行事件
type Event struct {
	eventType  string
	runID      string
	workflowID string
	nodeID     string
	data       map[string]interface{}
	timestamp  time.Time
}

// NewRunEvent 创建运行事件
func NewRunEvent(eventType string, run *Run, nodeID string, data map[string]interface{}, at time.Time) *Event {
	if data == nil {
		data = make(map[string]interface{})
	}
	return &Event{
		eventType:  eventType,
		runID:      run.ID,
		workflowID: run.WorkflowID,
		nodeID:     nodeID,
		data:       data,
		timestamp:  at,
	}
}

// Event getter methods
func (e *Event) Type() string                 { return e.eventType }
func (e *Event) RunID() string                { return e.runID }
func (e *Event) WorkflowID() string           { return e.workflowID }
func (e *Event) NodeID() string               { return e.nodeID }
func (e *Event) Data() map[string]interface{} { return e.data }
func (e *Event) Timestamp() time.Time         { return e.timestamp }

// EventPublisher 事件发布器接口
type EventPublisher interface {
	// Publish 发布事件
	Publish(event *Event) error
}

// EventHandler 事件处理器
type EventHandler func(event *Event) error

// EventSubscriber 事件订阅器接口
type EventSubscriber interface {
	// Subscribe 订阅事件
	Subscribe(eventType string, handler EventHandler) error
}
