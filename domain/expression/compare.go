package expression

import (
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
)

// Operator 比较运算符
type Operator string

const (
	OpEquals         Operator = "equals"
	OpNotEquals      Operator = "not_equals"
	OpGreaterThan    Operator = "greater_than"
	OpGreaterOrEqual Operator = "greater_or_equal"
	OpLessThan       Operator = "less_than"
	OpLessOrEqual    Operator = "less_or_equal"
	OpContains       Operator = "contains"
	OpNotContains    Operator = "not_contains"
	OpStartsWith     Operator = "starts_with"
	OpEndsWith       Operator = "ends_with"
	OpIsEmpty        Operator = "is_empty"
	OpIsNotEmpty     Operator = "is_not_empty"
)

var operatorAliases = map[string]Operator{
	"==": OpEquals, "eq": OpEquals, "equals": OpEquals,
	"!=": OpNotEquals, "neq": OpNotEquals, "not_equals": OpNotEquals,
	">": OpGreaterThan, "gt": OpGreaterThan, "greater_than": OpGreaterThan,
	">=": OpGreaterOrEqual, "gte": OpGreaterOrEqual, "greater_or_equal": OpGreaterOrEqual,
	"<": OpLessThan, "lt": OpLessThan, "less_than": OpLessThan,
	"<=": OpLessOrEqual, "lte": OpLessOrEqual, "less_or_equal": OpLessOrEqual,
	"contains": OpContains, "not_contains": OpNotContains,
	"starts_with": OpStartsWith, "ends_with": OpEndsWith,
	"is_empty": OpIsEmpty, "is_not_empty": OpIsNotEmpty,
}

// ParseOperator 解析运算符，接受符号与名称两种写法
func ParseOperator(raw string) (Operator, error) {
	op, ok := operatorAliases[strings.ToLower(strings.TrimSpace(raw))]
	if !ok {
		return "", NewExpressionErrorf("unknown operator %q", raw)
	}
	return op, nil
}

// Compare 按运算符比较两个值
func Compare(left interface{}, op Operator, right interface{}) (bool, error) {
	switch op {
	case OpEquals:
		return equal(left, right), nil
	case OpNotEquals:
		return !equal(left, right), nil
	case OpGreaterThan, OpGreaterOrEqual, OpLessThan, OpLessOrEqual:
		cmp, ok := order(left, right)
		if !ok {
			return false, nil
		}
		switch op {
		case OpGreaterThan:
			return cmp > 0, nil
		case OpGreaterOrEqual:
			return cmp >= 0, nil
		case OpLessThan:
			return cmp < 0, nil
		default:
			return cmp <= 0, nil
		}
	case OpContains:
		return contains(left, right), nil
	case OpNotContains:
		return !contains(left, right), nil
	case OpStartsWith:
		return left != nil && strings.HasPrefix(Stringify(left), Stringify(right)), nil
	case OpEndsWith:
		return left != nil && strings.HasSuffix(Stringify(left), Stringify(right)), nil
	case OpIsEmpty:
		return IsEmpty(left), nil
	case OpIsNotEmpty:
		return !IsEmpty(left), nil
	}
	return false, NewExpressionErrorf("unknown operator %q", op)
}

func equal(left, right interface{}) bool {
	if left == nil || right == nil {
		return IsEmpty(left) && IsEmpty(right)
	}
	if lb, ok := left.(bool); ok {
		rb, ok := toBool(right)
		return ok && lb == rb
	}
	if rb, ok := right.(bool); ok {
		lb, ok := toBool(left)
		return ok && lb == rb
	}
	if ln, ok := toNumber(left); ok {
		if rn, ok := toNumber(right); ok {
			return ln == rn
		}
	}
	if lt, ok := toTime(left); ok {
		if rt, ok := toTime(right); ok {
			return lt.Equal(rt)
		}
	}
	return Stringify(left) == Stringify(right)
}

// order 返回 -1/0/1；无法比较时 ok 为 false
func order(left, right interface{}) (int, bool) {
	if left == nil || right == nil {
		return 0, false
	}
	if ln, ok := toNumber(left); ok {
		if rn, ok := toNumber(right); ok {
			switch {
			case ln < rn:
				return -1, true
			case ln > rn:
				return 1, true
			default:
				return 0, true
			}
		}
	}
	if lt, ok := toTime(left); ok {
		if rt, ok := toTime(right); ok {
			switch {
			case lt.Before(rt):
				return -1, true
			case lt.After(rt):
				return 1, true
			default:
				return 0, true
			}
		}
	}
	return strings.Compare(Stringify(left), Stringify(right)), true
}

func contains(container, item interface{}) bool {
	switch v := container.(type) {
	case nil:
		return false
	case string:
		return strings.Contains(v, Stringify(item))
	case []interface{}:
		for _, elem := range v {
			if equal(elem, item) {
				return true
			}
		}
		return false
	case map[string]interface{}:
		_, ok := v[Stringify(item)]
		return ok
	}

	rv := reflect.ValueOf(container)
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		for i := 0; i < rv.Len(); i++ {
			if equal(rv.Index(i).Interface(), item) {
				return true
			}
		}
		return false
	}
	return strings.Contains(Stringify(container), Stringify(item))
}

// IsEmpty 空值判断：nil、空白字符串、空集合
func IsEmpty(value interface{}) bool {
	switch v := value.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(v) == ""
	case []interface{}:
		return len(v) == 0
	case map[string]interface{}:
		return len(v) == 0
	}
	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Slice, reflect.Map, reflect.Array:
		return rv.Len() == 0
	case reflect.Ptr, reflect.Interface:
		return rv.IsNil()
	}
	return false
}

// Truthy 值的布尔解释
func Truthy(value interface{}) bool {
	switch v := value.(type) {
	case nil:
		return false
	case bool:
		return v
	case string:
		s := strings.TrimSpace(strings.ToLower(v))
		return s != "" && s != "false" && s != "0"
	}
	if n, ok := toNumber(value); ok {
		return n != 0
	}
	return !IsEmpty(value)
}

func toBool(value interface{}) (bool, bool) {
	switch v := value.(type) {
	case bool:
		return v, true
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		return b, err == nil
	}
	return false, false
}

func toNumber(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int8:
		return float64(v), true
	case int16:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint8:
		return float64(v), true
	case uint16:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

var timeLayouts = []string{
	time.RFC3339Nano, time.RFC3339,
	"2006-01-02T15:04:05", "2006-01-02 15:04:05",
	"2006-01-02T15:04", "2006-01-02 15:04",
	"2006-01-02",
}

func toTime(value interface{}) (time.Time, bool) {
	switch v := value.(type) {
	case time.Time:
		return v, true
	case *time.Time:
		if v == nil {
			return time.Time{}, false
		}
		return *v, true
	case string:
		return ParseTime(v)
	}
	return time.Time{}, false
}

// ParseTime 解析 RFC3339 或日期字符串
func ParseTime(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// ToTime 将任意值转换为时间
func ToTime(value interface{}) (time.Time, bool) {
	return toTime(value)
}

// Stringify 值的字符串形式，模板渲染使用
func Stringify(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case time.Time:
		return v.Format(time.RFC3339)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprintf("%d", v)
	case json.Number:
		return v.String()
	case fmt.Stringer:
		return v.String()
	}

	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Map, reflect.Slice, reflect.Array, reflect.Struct:
		data, err := json.Marshal(value)
		if err == nil {
			return string(data)
		}
	}
	return fmt.Sprintf("%v", value)
}
