package actions

import (
	"context"
	"errors"
	"time"

	"github.com/XXueTu/graph_automation/domain/action"
	"github.com/XXueTu/graph_automation/infrastructure/notification"
)

type notificationParams struct {
	Channel string                 `json:"channel"`
	To      interface{}            `json:"to"`
	Subject string                 `json:"subject"`
	Message string                 `json:"message"`
	URL     string                 `json:"url"`
	Data    map[string]interface{} `json:"data"`
}

// NotificationAction 通过外部渠道发送通知
type NotificationAction struct {
	dispatcher notification.Dispatcher
}

// NewNotificationAction 创建通知动作
func NewNotificationAction(dispatcher notification.Dispatcher) *NotificationAction {
	return &NotificationAction{dispatcher: dispatcher}
}

func (a *NotificationAction) Execute(ctx context.Context, req action.Request) (action.Result, error) {
	var params notificationParams
	if err := action.DecodeParams(req.Params, &params); err != nil {
		return action.Result{}, err
	}
	if params.Channel == "" {
		params.Channel = string(notification.ChannelInApp)
	}

	msg := notification.Message{
		Channel: notification.Channel(params.Channel),
		To:      recipients(params.To),
		Subject: params.Subject,
		Body:    params.Message,
		URL:     params.URL,
		Data:    params.Data,
	}
	if err := a.dispatcher.Dispatch(ctx, msg); err != nil {
		return action.Result{}, classifyNotification(err)
	}

	return action.Result{Output: map[string]interface{}{
		"channel":    params.Channel,
		"recipients": len(msg.To),
		"sent_at":    time.Now().UTC().Format(time.RFC3339),
	}}, nil
}

func classifyNotification(err error) error {
	switch {
	case errors.Is(err, notification.ErrUnavailable), errors.Is(err, context.DeadlineExceeded):
		return action.WrapTransient("channel_unavailable", err, "notification delivery failed")
	case errors.Is(err, notification.ErrUnknownChannel):
		return action.WrapFatal("unknown_channel", err, "notification delivery failed")
	default:
		return action.WrapFatal("rejected", err, "notification delivery failed")
	}
}

// recipients 接受字符串、逗号分隔字符串或数组
func recipients(raw interface{}) []string {
	switch v := raw.(type) {
	case nil:
		return nil
	case string:
		return splitList(v)
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, splitList(s)...)
			}
		}
		return out
	}
	return nil
}
