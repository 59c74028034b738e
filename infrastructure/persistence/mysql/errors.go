package mysql

import (
	"errors"
	"fmt"

	driver "github.com/go-sql-driver/mysql"
)

// 驱动错误码
const (
	errDuplicateEntry = 1062
)

// MySQLError MySQL错误
type MySQLError struct {
	message string
	cause   error
}

func (e *MySQLError) Error() string {
	if e.cause != nil {
		return e.message + ": " + e.cause.Error()
	}
	return e.message
}

func (e *MySQLError) Unwrap() error {
	return e.cause
}

// NewMySQLError 创建MySQL错误
func NewMySQLError(message string) *MySQLError {
	return &MySQLError{message: message}
}

// NewMySQLErrorf 创建格式化MySQL错误
func NewMySQLErrorf(format string, args ...interface{}) *MySQLError {
	return &MySQLError{message: fmt.Sprintf(format, args...)}
}

// WrapMySQLError 包装驱动或领域错误
func WrapMySQLError(cause error, format string, args ...interface{}) *MySQLError {
	return &MySQLError{message: fmt.Sprintf(format, args...), cause: cause}
}

// IsMySQLError 判断是否为MySQL错误
func IsMySQLError(err error) bool {
	var target *MySQLError
	return errors.As(err, &target)
}

// isDuplicate 主键或唯一键冲突
func isDuplicate(err error) bool {
	var driverErr *driver.MySQLError
	return errors.As(err, &driverErr) && driverErr.Number == errDuplicateEntry
}
