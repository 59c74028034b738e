package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/XXueTu/graph_automation/types"
)

// Class 错误分类
type Class string

const (
	ClassRetryable Class = "retryable" // 可重试
	ClassFatal     Class = "fatal"     // 不可重试
)

// Classified 自带分类的错误
type Classified interface {
	Class() Class
}

// Coded 带错误码的错误，用于匹配策略规则
type Coded interface {
	Code() string
}

// Rule 错误码到分类的映射
type Rule struct {
	Code  string `json:"code" yaml:"code"`
	Class Class  `json:"class" yaml:"class"`
}

// Policy 节点重试策略
type Policy struct {
	MaxAttempts       int            `json:"max_attempts" yaml:"max_attempts"`
	BaseDelay         types.Duration `json:"base_delay" yaml:"base_delay"`
	BackoffMultiplier float64        `json:"backoff_multiplier" yaml:"backoff_multiplier"`
	MaxDelay          types.Duration `json:"max_delay,omitempty" yaml:"max_delay,omitempty"`
	Rules             []Rule         `json:"rules,omitempty" yaml:"rules,omitempty"`
}

// NewPolicy 创建重试策略
func NewPolicy(maxAttempts int, baseDelay time.Duration, backoffMultiplier float64, maxDelay time.Duration) Policy {
	return Policy{
		MaxAttempts:       maxAttempts,
		BaseDelay:         types.Duration(baseDelay),
		BackoffMultiplier: backoffMultiplier,
		MaxDelay:          types.Duration(maxDelay),
	}
}

// DefaultPolicy 默认重试策略：3 次尝试，1s 起步，翻倍退避，最长 30s
func DefaultPolicy() Policy {
	return NewPolicy(3, time.Second, 2.0, 30*time.Second)
}

// NoRetry 只尝试一次
func NoRetry() Policy {
	return NewPolicy(1, 0, 1, 0)
}

// Validate 校验策略
func (p Policy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be >= 1, got %d", p.MaxAttempts)
	}
	if p.BaseDelay < 0 || p.MaxDelay < 0 {
		return errors.New("retry delays must not be negative")
	}
	if p.BackoffMultiplier != 0 && p.BackoffMultiplier < 1 {
		return fmt.Errorf("backoff_multiplier must be >= 1, got %v", p.BackoffMultiplier)
	}
	for _, rule := range p.Rules {
		if rule.Class != ClassRetryable && rule.Class != ClassFatal {
			return fmt.Errorf("rule for code %q has unknown class %q", rule.Code, rule.Class)
		}
	}
	return nil
}

// CanRetry 第 attempt 次失败后是否还有尝试次数
func (p Policy) CanRetry(attempt int) bool {
	return attempt < p.MaxAttempts
}

// Delay 第 attempt 次失败后到下一次尝试的退避时间
// base × multiplier^(attempt-1)，超过 MaxDelay 时截断
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	multiplier := p.BackoffMultiplier
	if multiplier == 0 {
		multiplier = 1
	}

	delay := time.Duration(float64(p.BaseDelay.Std()) * math.Pow(multiplier, float64(attempt-1)))
	if p.MaxDelay > 0 && delay > p.MaxDelay.Std() {
		delay = p.MaxDelay.Std()
	}
	return delay
}

// Classify 对错误分类：先匹配错误码规则，再看错误自带分类，其余视为不可重试
func (p Policy) Classify(err error) Class {
	if err == nil {
		return ""
	}

	var coded Coded
	if errors.As(err, &coded) {
		for _, rule := range p.Rules {
			if rule.Code == coded.Code() {
				return rule.Class
			}
		}
	}

	var classified Classified
	if errors.As(err, &classified) {
		return classified.Class()
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ClassRetryable
	}
	return ClassFatal
}

// Defaults 各节点类型的默认策略
type Defaults map[string]Policy

// For 返回节点的有效策略，节点覆盖优先
func (d Defaults) For(kind string, override *Policy) Policy {
	if override != nil {
		return *override
	}
	if policy, ok := d[kind]; ok {
		return policy
	}
	if policy, ok := d["default"]; ok {
		return policy
	}
	return DefaultPolicy()
}
