// Package actions 内置动作：通知、出站 Webhook、字段回写、状态变更
package actions

import (
	"log/slog"

	"github.com/XXueTu/graph_automation/domain/action"
	"github.com/XXueTu/graph_automation/infrastructure/notification"
	"github.com/XXueTu/graph_automation/infrastructure/rowstore"
)

// 内置动作类型
const (
	TypeNotification = "notification"
	TypeWebhook      = "webhook"
	TypeFieldUpdate  = "field_update"
	TypeStatusChange = "status_change"
)

// Deps 内置动作依赖
type Deps struct {
	Notifications notification.Dispatcher
	Rows          rowstore.Store
	Webhook       WebhookConfig
	Logger        *slog.Logger
}

// NewRegistry 构建内置动作注册表，缺少依赖的动作不注册
func NewRegistry(deps Deps) *action.Registry {
	registered := map[string]action.Action{
		TypeWebhook: NewWebhookAction(deps.Webhook, deps.Logger),
	}
	if deps.Notifications != nil {
		registered[TypeNotification] = NewNotificationAction(deps.Notifications)
	}
	if deps.Rows != nil {
		registered[TypeFieldUpdate] = NewFieldUpdateAction(deps.Rows)
		registered[TypeStatusChange] = NewStatusChangeAction(deps.Rows)
	}
	return action.NewRegistry(registered)
}
