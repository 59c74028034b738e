package trigger

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound 没有注册该路径的 Webhook 触发器
	ErrNotFound = errors.New("webhook trigger not found")
	// ErrMethodNotAllowed 请求方法不被允许
	ErrMethodNotAllowed = errors.New("webhook method not allowed")
	// ErrUnauthorized 缺少认证信息
	ErrUnauthorized = errors.New("webhook credentials missing")
	// ErrForbidden 认证信息错误
	ErrForbidden = errors.New("webhook credentials rejected")
	// ErrPathConflict Webhook 路径已被其他工作流占用
	ErrPathConflict = errors.New("webhook path already registered")
)

// TriggerError 触发器领域错误
type TriggerError struct {
	message string
	cause   error
}

func (e *TriggerError) Error() string {
	if e.cause != nil {
		return e.message + ": " + e.cause.Error()
	}
	return e.message
}

func (e *TriggerError) Unwrap() error {
	return e.cause
}

// NewTriggerError 创建触发器错误
func NewTriggerError(message string) *TriggerError {
	return &TriggerError{message: message}
}

// NewTriggerErrorf 创建格式化触发器错误
func NewTriggerErrorf(format string, args ...interface{}) *TriggerError {
	return &TriggerError{message: fmt.Sprintf(format, args...)}
}

// WrapTriggerError 包装底层错误
func WrapTriggerError(cause error, format string, args ...interface{}) *TriggerError {
	return &TriggerError{message: fmt.Sprintf(format, args...), cause: cause}
}

// IsTriggerError 判断是否为触发器错误
func IsTriggerError(err error) bool {
	var target *TriggerError
	return errors.As(err, &target)
}
