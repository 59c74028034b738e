package eventbus

import (
	"log/slog"
	"sync"

	"github.com/XXueTu/graph_automation/domain/execution"
)

// AllEvents 订阅全部事件类型
const AllEvents = "*"

// EventBus 事件总线实现
type EventBus struct {
	handlers    map[string][]execution.EventHandler
	synchronous bool
	logger      *slog.Logger
	inflight    sync.WaitGroup
	mutex       sync.RWMutex
}

// Option 事件总线选项
type Option func(*EventBus)

// WithSynchronous 在发布者的 goroutine 中调用处理器
func WithSynchronous() Option {
	return func(eb *EventBus) { eb.synchronous = true }
}

// WithLogger 设置日志
func WithLogger(logger *slog.Logger) Option {
	return func(eb *EventBus) { eb.logger = logger }
}

// NewEventBus 创建事件总线
func NewEventBus(opts ...Option) *EventBus {
	eb := &EventBus{
		handlers: make(map[string][]execution.EventHandler),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(eb)
	}
	eb.logger = eb.logger.With("component", "eventbus")
	return eb
}

// Publish 发布事件，处理器错误只记录日志
func (eb *EventBus) Publish(event *execution.Event) error {
	eb.mutex.RLock()
	handlers := make([]execution.EventHandler, 0, len(eb.handlers[event.Type()])+len(eb.handlers[AllEvents]))
	handlers = append(handlers, eb.handlers[event.Type()]...)
	handlers = append(handlers, eb.handlers[AllEvents]...)
	eb.mutex.RUnlock()

	if len(handlers) == 0 {
		return nil
	}

	if eb.synchronous {
		eb.dispatch(event, handlers)
		return nil
	}

	eb.inflight.Add(1)
	go func() {
		defer eb.inflight.Done()
		eb.dispatch(event, handlers)
	}()
	return nil
}

func (eb *EventBus) dispatch(event *execution.Event, handlers []execution.EventHandler) {
	for _, handler := range handlers {
		if err := handler(event); err != nil {
			eb.logger.Warn("event handler failed", "event", event.Type(), "run_id", event.RunID(), "error", err)
		}
	}
}

// Subscribe 订阅事件，eventType 为 AllEvents 时接收全部事件
func (eb *EventBus) Subscribe(eventType string, handler execution.EventHandler) error {
	eb.mutex.Lock()
	defer eb.mutex.Unlock()
	eb.handlers[eventType] = append(eb.handlers[eventType], handler)
	return nil
}

// Unsubscribe 移除该事件类型的全部处理器
func (eb *EventBus) Unsubscribe(eventType string) {
	eb.mutex.Lock()
	defer eb.mutex.Unlock()
	delete(eb.handlers, eventType)
}

// Wait 等待异步处理器执行完毕
func (eb *EventBus) Wait() {
	eb.inflight.Wait()
}
