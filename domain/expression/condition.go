package expression

import (
	"strings"
)

// Combinator 条件组合方式
type Combinator string

const (
	CombinatorAnd Combinator = "and"
	CombinatorOr  Combinator = "or"
)

// Condition 单个字段条件
type Condition struct {
	Field    string      `json:"field" yaml:"field"`
	Operator string      `json:"operator" yaml:"operator"`
	Value    interface{} `json:"value,omitempty" yaml:"value,omitempty"`
}

// Group 条件组，可嵌套
type Group struct {
	Combinator Combinator  `json:"combinator,omitempty" yaml:"combinator,omitempty"`
	Conditions []Condition `json:"conditions,omitempty" yaml:"conditions,omitempty"`
	Groups     []Group     `json:"groups,omitempty" yaml:"groups,omitempty"`
}

// IsEmpty 组内没有任何条件
func (g Group) IsEmpty() bool {
	return len(g.Conditions) == 0 && len(g.Groups) == 0
}

// Validate 校验运算符与组合方式
func (g Group) Validate() error {
	switch Combinator(strings.ToLower(string(g.Combinator))) {
	case "", CombinatorAnd, CombinatorOr:
	default:
		return NewExpressionErrorf("unknown combinator %q", g.Combinator)
	}
	for _, c := range g.Conditions {
		if strings.TrimSpace(c.Field) == "" {
			return NewExpressionError("condition field is required")
		}
		if _, err := ParseOperator(c.Operator); err != nil {
			return err
		}
	}
	for _, sub := range g.Groups {
		if err := sub.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// EvaluateGroup 使用默认求值器计算条件组
func EvaluateGroup(g Group, vars map[string]interface{}) (bool, error) {
	return defaultEvaluator.EvaluateGroup(g, vars)
}

// EvaluateCondition 计算单个条件
func (e *Evaluator) EvaluateCondition(c Condition, vars map[string]interface{}) (bool, error) {
	op, err := ParseOperator(c.Operator)
	if err != nil {
		return false, err
	}

	left, err := e.fieldValue(c.Field, vars)
	if err != nil {
		return false, err
	}
	right, err := e.RenderValue(c.Value, vars)
	if err != nil {
		return false, err
	}
	return Compare(left, op, right)
}

// EvaluateGroup 计算条件组，空组为真
func (e *Evaluator) EvaluateGroup(g Group, vars map[string]interface{}) (bool, error) {
	if g.IsEmpty() {
		return true, nil
	}
	or := strings.EqualFold(string(g.Combinator), string(CombinatorOr))

	for _, c := range g.Conditions {
		ok, err := e.EvaluateCondition(c, vars)
		if err != nil {
			return false, err
		}
		if or && ok {
			return true, nil
		}
		if !or && !ok {
			return false, nil
		}
	}
	for _, sub := range g.Groups {
		ok, err := e.EvaluateGroup(sub, vars)
		if err != nil {
			return false, err
		}
		if or && ok {
			return true, nil
		}
		if !or && !ok {
			return false, nil
		}
	}
	return !or, nil
}

// fieldValue 字段可以写成路径或 {{ 路径 }}
func (e *Evaluator) fieldValue(field string, vars map[string]interface{}) (interface{}, error) {
	field = strings.TrimSpace(field)
	if m := templatePattern.FindStringSubmatch(field); m != nil && m[0] == field {
		return e.resolve(m[1], vars)
	}
	value, _ := Lookup(vars, field)
	return value, nil
}
