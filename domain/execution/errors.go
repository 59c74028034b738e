package execution

import (
	"errors"
	"fmt"

	"github.com/XXueTu/graph_automation/domain/retry"
)

var (
	// ErrRunNotFound 运行不存在
	ErrRunNotFound = errors.New("workflow run not found")
	// ErrTerminalState 终态运行不可变更
	ErrTerminalState = errors.New("workflow run is in a terminal state")
	// ErrVersionConflict 乐观锁冲突
	ErrVersionConflict = errors.New("workflow run version conflict")
	// ErrLeaseHeld 租约被其他工作线程持有
	ErrLeaseHeld = errors.New("workflow run lease is held by another worker")
)

// ExecutionError 执行领域错误
type ExecutionError struct {
	message string
	cause   error
}

func (e *ExecutionError) Error() string {
	if e.cause != nil {
		return e.message + ": " + e.cause.Error()
	}
	return e.message
}

func (e *ExecutionError) Unwrap() error {
	return e.cause
}

// NewExecutionError 创建执行错误
func NewExecutionError(message string) *ExecutionError {
	return &ExecutionError{message: message}
}

// NewExecutionErrorf 创建格式化执行错误
func NewExecutionErrorf(format string, args ...interface{}) *ExecutionError {
	return &ExecutionError{message: fmt.Sprintf(format, args...)}
}

// WrapExecutionError 包装底层错误
func WrapExecutionError(cause error, format string, args ...interface{}) *ExecutionError {
	return &ExecutionError{message: fmt.Sprintf(format, args...), cause: cause}
}

// IsExecutionError 判断是否为执行错误
func IsExecutionError(err error) bool {
	var target *ExecutionError
	return errors.As(err, &target)
}

// NewTransitionError 非法状态迁移
func NewTransitionError(from, to Status) *ExecutionError {
	cause := error(nil)
	if from.IsTerminal() {
		cause = ErrTerminalState
	}
	return &ExecutionError{message: fmt.Sprintf("invalid transition %s -> %s", from, to), cause: cause}
}

// TimeoutError 条件延迟超过最长等待时间，不可重试
type TimeoutError struct {
	NodeID string
	Waited string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("delay %s timed out after %s", e.NodeID, e.Waited)
}

// Code 错误码
func (e *TimeoutError) Code() string { return "delay_timeout" }

// Class 错误分类
func (e *TimeoutError) Class() retry.Class { return retry.ClassFatal }
