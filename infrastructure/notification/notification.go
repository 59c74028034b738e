// Package notification 通知投递渠道
package notification

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Channel 通知渠道
type Channel string

const (
	ChannelEmail   Channel = "email"
	ChannelInApp   Channel = "in_app"
	ChannelWebhook Channel = "webhook"
	ChannelChat    Channel = "chat"
)

var (
	// ErrUnknownChannel 渠道未配置
	ErrUnknownChannel = errors.New("notification channel not configured")
	// ErrUnavailable 渠道暂时不可用，可重试
	ErrUnavailable = errors.New("notification channel unavailable")
	// ErrRejected 渠道拒绝了消息，重试无意义
	ErrRejected = errors.New("notification rejected")
)

// Message 通知消息
type Message struct {
	Channel Channel                `json:"channel"`
	To      []string               `json:"to,omitempty"`
	Subject string                 `json:"subject,omitempty"`
	Body    string                 `json:"body"`
	URL     string                 `json:"url,omitempty"`
	Data    map[string]interface{} `json:"data,omitempty"`
}

// Dispatcher 通知投递
type Dispatcher interface {
	Dispatch(ctx context.Context, msg Message) error
}

// Router 按渠道分发
type Router struct {
	channels map[Channel]Dispatcher
	mutex    sync.RWMutex
}

// NewRouter 创建渠道路由
func NewRouter() *Router {
	return &Router{channels: make(map[Channel]Dispatcher)}
}

// Handle 注册渠道
func (r *Router) Handle(channel Channel, dispatcher Dispatcher) *Router {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.channels[channel] = dispatcher
	return r
}

// Channels 已配置的渠道
func (r *Router) Channels() []Channel {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	out := make([]Channel, 0, len(r.channels))
	for channel := range r.channels {
		out = append(out, channel)
	}
	return out
}

// Dispatch 投递到消息指定的渠道
func (r *Router) Dispatch(ctx context.Context, msg Message) error {
	r.mutex.RLock()
	dispatcher, exists := r.channels[msg.Channel]
	r.mutex.RUnlock()
	if !exists {
		return fmt.Errorf("%w: %q", ErrUnknownChannel, msg.Channel)
	}
	return dispatcher.Dispatch(ctx, msg)
}
