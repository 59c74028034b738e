package expression

import (
	"errors"
	"fmt"
)

// ErrMissingRequired 必填模板变量无法解析
var ErrMissingRequired = errors.New("required template variable is missing")

// ExpressionError 表达式求值错误
type ExpressionError struct {
	message string
	cause   error
}

func (e *ExpressionError) Error() string {
	if e.cause != nil {
		return e.message + ": " + e.cause.Error()
	}
	return e.message
}

func (e *ExpressionError) Unwrap() error {
	return e.cause
}

// NewExpressionError 创建表达式错误
func NewExpressionError(message string) *ExpressionError {
	return &ExpressionError{message: message}
}

// NewExpressionErrorf 创建格式化表达式错误
func NewExpressionErrorf(format string, args ...interface{}) *ExpressionError {
	return &ExpressionError{message: fmt.Sprintf(format, args...)}
}

// WrapExpressionError 包装底层错误
func WrapExpressionError(cause error, format string, args ...interface{}) *ExpressionError {
	return &ExpressionError{message: fmt.Sprintf(format, args...), cause: cause}
}

// IsExpressionError 判断是否为表达式错误
func IsExpressionError(err error) bool {
	var target *ExpressionError
	return errors.As(err, &target)
}
