package application

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidRequest 请求参数错误
	ErrInvalidRequest = errors.New("invalid request")
	// ErrNotRetryable 只有失败的运行可以人工重试
	ErrNotRetryable = errors.New("run is not retryable")
)

// ApplicationError 应用层错误
type ApplicationError struct {
	message string
	cause   error
}

func (e *ApplicationError) Error() string {
	if e.cause != nil {
		return e.message + ": " + e.cause.Error()
	}
	return e.message
}

func (e *ApplicationError) Unwrap() error {
	return e.cause
}

// NewApplicationError 创建应用错误
func NewApplicationError(message string) *ApplicationError {
	return &ApplicationError{message: message}
}

// NewApplicationErrorf 创建格式化应用错误
func NewApplicationErrorf(format string, args ...interface{}) *ApplicationError {
	return &ApplicationError{message: fmt.Sprintf(format, args...)}
}

// WrapApplicationError 包装下层错误，保留 errors.Is 判断
func WrapApplicationError(cause error, format string, args ...interface{}) *ApplicationError {
	return &ApplicationError{message: fmt.Sprintf(format, args...), cause: cause}
}

// IsApplicationError 判断是否为应用错误
func IsApplicationError(err error) bool {
	var target *ApplicationError
	return errors.As(err, &target)
}
