package action

import (
	"context"
	"sort"
	"time"
)

// Request 动作调用请求，Params 已完成模板渲染
type Request struct {
	RunID      string
	WorkflowID string
	NodeID     string
	Attempt    int
	Params     map[string]interface{}
	Context    map[string]interface{}
	Timeout    time.Duration
}

// Result 动作输出，合并进运行上下文的节点命名空间
type Result struct {
	Output map[string]interface{}
}

// Action 动作实现
// 失败时返回 TransientError 或 FatalError，其余错误按不可重试处理
type Action interface {
	Execute(ctx context.Context, req Request) (Result, error)
}

// Func 函数适配器
type Func func(ctx context.Context, req Request) (Result, error)

// Execute 调用函数
func (f Func) Execute(ctx context.Context, req Request) (Result, error) {
	return f(ctx, req)
}

// Registry 动作注册表，启动时构建，之后只读
type Registry struct {
	actions map[string]Action
}

// NewRegistry 创建动作注册表
func NewRegistry(actions map[string]Action) *Registry {
	copied := make(map[string]Action, len(actions))
	for name, a := range actions {
		copied[name] = a
	}
	return &Registry{actions: copied}
}

// Get 按类型取动作
func (r *Registry) Get(actionType string) (Action, bool) {
	a, ok := r.actions[actionType]
	return a, ok
}

// Types 已注册的类型
func (r *Registry) Types() []string {
	names := make([]string, 0, len(r.actions))
	for name := range r.actions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
