package workflow

import (
	"github.com/XXueTu/graph_automation/domain/expression"
)

// TriggerType 触发器类型
type TriggerType string

const (
	TriggerRecordEvent TriggerType = "record_event"
	TriggerDate        TriggerType = "date"
	TriggerWebhook     TriggerType = "webhook"
)

// ChangeKind 行变更类型
type ChangeKind string

const (
	ChangeCreated ChangeKind = "created"
	ChangeUpdated ChangeKind = "updated"
	ChangeDeleted ChangeKind = "deleted"
)

// DateMode 日期触发方式
type DateMode string

const (
	DateReached    DateMode = "date_reached"
	DateDaysBefore DateMode = "days_before"
	DateDaysAfter  DateMode = "days_after"
	DateRecurring  DateMode = "recurring"
)

// WebhookAuthMethod Webhook 认证方式
type WebhookAuthMethod string

const (
	AuthNone      WebhookAuthMethod = "none"
	AuthAPIKey    WebhookAuthMethod = "api_key"
	AuthBearer    WebhookAuthMethod = "bearer"
	AuthSignature WebhookAuthMethod = "signature"
)

// RecordTrigger 行事件触发
type RecordTrigger struct {
	TableID     string            `json:"table_id" yaml:"table_id"`
	Events      []ChangeKind      `json:"events" yaml:"events"`
	WatchFields []string          `json:"watch_fields,omitempty" yaml:"watch_fields,omitempty"`
	Conditions  *expression.Group `json:"conditions,omitempty" yaml:"conditions,omitempty"`
}

// DateTrigger 日期触发
type DateTrigger struct {
	TableID    string            `json:"table_id,omitempty" yaml:"table_id,omitempty"`
	DateField  string            `json:"date_field,omitempty" yaml:"date_field,omitempty"`
	Mode       DateMode          `json:"mode" yaml:"mode"`
	Days       int               `json:"days,omitempty" yaml:"days,omitempty"`
	Cron       string            `json:"cron,omitempty" yaml:"cron,omitempty"`
	Conditions *expression.Group `json:"conditions,omitempty" yaml:"conditions,omitempty"`
}

// WebhookAuth Webhook 认证配置
type WebhookAuth struct {
	Method WebhookAuthMethod `json:"method" yaml:"method"`
	Header string            `json:"header,omitempty" yaml:"header,omitempty"`
	Keys   []string          `json:"keys,omitempty" yaml:"keys,omitempty"`
	Secret string            `json:"secret,omitempty" yaml:"secret,omitempty"`
}

// WebhookTrigger 入站 Webhook 触发
type WebhookTrigger struct {
	Path         string            `json:"path" yaml:"path"`
	Methods      []string          `json:"methods,omitempty" yaml:"methods,omitempty"`
	Auth         WebhookAuth       `json:"auth" yaml:"auth"`
	FieldMapping map[string]string `json:"field_mapping,omitempty" yaml:"field_mapping,omitempty"`
}

// TriggerConfig 触发器节点配置
// Condition 是条件包装：为假时不创建运行
type TriggerConfig struct {
	Type      TriggerType       `json:"type" yaml:"type"`
	Record    *RecordTrigger    `json:"record,omitempty" yaml:"record,omitempty"`
	Date      *DateTrigger      `json:"date,omitempty" yaml:"date,omitempty"`
	Webhook   *WebhookTrigger   `json:"webhook,omitempty" yaml:"webhook,omitempty"`
	Condition *expression.Group `json:"condition,omitempty" yaml:"condition,omitempty"`
}

// AllowsChange 行事件触发是否关心该变更
func (r *RecordTrigger) AllowsChange(kind ChangeKind) bool {
	if len(r.Events) == 0 {
		return true
	}
	for _, allowed := range r.Events {
		if allowed == kind {
			return true
		}
	}
	return false
}

// WatchesAny 变更字段与关注字段是否有交集，关注列表为空表示任意字段
func (r *RecordTrigger) WatchesAny(changed []string) bool {
	if len(r.WatchFields) == 0 {
		return true
	}
	for _, field := range changed {
		for _, watched := range r.WatchFields {
			if field == watched {
				return true
			}
		}
	}
	return false
}
