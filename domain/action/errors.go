package action

import (
	"errors"
	"fmt"

	"github.com/XXueTu/graph_automation/domain/retry"
)

// TransientError 可重试错误，如网络失败、限流、5xx
type TransientError struct {
	code    string
	message string
	cause   error
}

func (e *TransientError) Error() string {
	if e.cause != nil {
		return e.message + ": " + e.cause.Error()
	}
	return e.message
}

func (e *TransientError) Unwrap() error { return e.cause }

// Code 错误码
func (e *TransientError) Code() string { return e.code }

// Class 错误分类
func (e *TransientError) Class() retry.Class { return retry.ClassRetryable }

// NewTransientError 创建可重试错误
func NewTransientError(code, message string) *TransientError {
	return &TransientError{code: code, message: message}
}

// NewTransientErrorf 创建格式化可重试错误
func NewTransientErrorf(code, format string, args ...interface{}) *TransientError {
	return &TransientError{code: code, message: fmt.Sprintf(format, args...)}
}

// WrapTransient 包装为可重试错误
func WrapTransient(code string, cause error, message string) *TransientError {
	return &TransientError{code: code, message: message, cause: cause}
}

// IsTransientError 判断是否为可重试错误
func IsTransientError(err error) bool {
	var target *TransientError
	return errors.As(err, &target)
}

// FatalError 不可重试错误，如参数无效、4xx
type FatalError struct {
	code    string
	message string
	cause   error
}

func (e *FatalError) Error() string {
	if e.cause != nil {
		return e.message + ": " + e.cause.Error()
	}
	return e.message
}

func (e *FatalError) Unwrap() error { return e.cause }

// Code 错误码
func (e *FatalError) Code() string { return e.code }

// Class 错误分类
func (e *FatalError) Class() retry.Class { return retry.ClassFatal }

// NewFatalError 创建不可重试错误
func NewFatalError(code, message string) *FatalError {
	return &FatalError{code: code, message: message}
}

// NewFatalErrorf 创建格式化不可重试错误
func NewFatalErrorf(code, format string, args ...interface{}) *FatalError {
	return &FatalError{code: code, message: fmt.Sprintf(format, args...)}
}

// WrapFatal 包装为不可重试错误
func WrapFatal(code string, cause error, message string) *FatalError {
	return &FatalError{code: code, message: message, cause: cause}
}

// IsFatalError 判断是否为不可重试错误
func IsFatalError(err error) bool {
	var target *FatalError
	return errors.As(err, &target)
}
