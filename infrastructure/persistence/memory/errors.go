package memory

import (
	"errors"
	"fmt"
)

// RepositoryError 仓储错误
type RepositoryError struct {
	message string
	cause   error
}

func (e *RepositoryError) Error() string {
	if e.cause != nil {
		return e.message + ": " + e.cause.Error()
	}
	return e.message
}

func (e *RepositoryError) Unwrap() error {
	return e.cause
}

// NewRepositoryError 创建仓储错误
func NewRepositoryError(message string) *RepositoryError {
	return &RepositoryError{message: message}
}

// NewRepositoryErrorf 创建格式化仓储错误
func NewRepositoryErrorf(format string, args ...interface{}) *RepositoryError {
	return &RepositoryError{message: fmt.Sprintf(format, args...)}
}

// WrapRepositoryError 包装领域哨兵错误，调用方用 errors.Is 判断
func WrapRepositoryError(cause error, format string, args ...interface{}) *RepositoryError {
	return &RepositoryError{message: fmt.Sprintf(format, args...), cause: cause}
}

// IsRepositoryError 判断是否为仓储错误
func IsRepositoryError(err error) bool {
	var target *RepositoryError
	return errors.As(err, &target)
}
