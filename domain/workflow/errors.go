package workflow

import (
	"errors"
	"fmt"
	"strings"
)

// ErrDefinitionNotFound 定义不存在
var ErrDefinitionNotFound = errors.New("workflow definition not found")

// WorkflowError 工作流领域错误
type WorkflowError struct {
	message string
	cause   error
}

func (e *WorkflowError) Error() string {
	if e.cause != nil {
		return e.message + ": " + e.cause.Error()
	}
	return e.message
}

func (e *WorkflowError) Unwrap() error {
	return e.cause
}

// NewWorkflowError 创建工作流错误
func NewWorkflowError(message string) *WorkflowError {
	return &WorkflowError{message: message}
}

// NewWorkflowErrorf 创建格式化工作流错误
func NewWorkflowErrorf(format string, args ...interface{}) *WorkflowError {
	return &WorkflowError{message: fmt.Sprintf(format, args...)}
}

// NewWorkflowErrorWrap 包装底层错误
func NewWorkflowErrorWrap(cause error, message string) *WorkflowError {
	return &WorkflowError{message: message, cause: cause}
}

// IsWorkflowError 判断是否为工作流错误
func IsWorkflowError(err error) bool {
	var target *WorkflowError
	return errors.As(err, &target)
}

// ErrorCode 结构错误代码
type ErrorCode string

const (
	CodeMissingTrigger     ErrorCode = "missing_trigger"
	CodeDuplicateTrigger   ErrorCode = "duplicate_trigger"
	CodeTriggerHasIncoming ErrorCode = "trigger_has_incoming"
	CodeBranchOutputs      ErrorCode = "branch_outputs"
	CodeTooManyOutputs     ErrorCode = "too_many_outputs"
	CodeInvalidEdgeLabel   ErrorCode = "invalid_edge_label"
	CodeCycle              ErrorCode = "cycle"
	CodeDanglingEdge       ErrorCode = "dangling_edge"
	CodeUnreachableNode    ErrorCode = "unreachable_node"
	CodeDuplicateNode      ErrorCode = "duplicate_node"
	CodeInvalidNode        ErrorCode = "invalid_node"
	CodeMissingConfig      ErrorCode = "missing_config"
)

// StructuralError 图结构缺陷，发布时拒绝
type StructuralError struct {
	Code    ErrorCode `json:"code"`
	NodeID  string    `json:"node_id,omitempty"`
	Message string    `json:"message"`
}

func (e *StructuralError) Error() string {
	if e.NodeID != "" {
		return fmt.Sprintf("%s (node %s): %s", e.Code, e.NodeID, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func newStructuralError(code ErrorCode, nodeID, format string, args ...interface{}) *StructuralError {
	return &StructuralError{Code: code, NodeID: nodeID, Message: fmt.Sprintf(format, args...)}
}

// ValidationError 聚合全部结构错误
type ValidationError struct {
	Errors []*StructuralError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Errors))
	for _, se := range e.Errors {
		parts = append(parts, se.Error())
	}
	return "workflow validation failed: " + strings.Join(parts, "; ")
}

// HasCode 是否包含指定代码的错误
func (e *ValidationError) HasCode(code ErrorCode) bool {
	for _, se := range e.Errors {
		if se.Code == code {
			return true
		}
	}
	return false
}

// AsValidationError 提取聚合校验错误
func AsValidationError(err error) (*ValidationError, bool) {
	var target *ValidationError
	ok := errors.As(err, &target)
	return target, ok
}
