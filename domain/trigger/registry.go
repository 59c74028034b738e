package trigger

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/XXueTu/graph_automation/domain/workflow"
)

// Registration 已注册的触发器：工作流最新发布版本及其触发器节点
type Registration struct {
	Definition *workflow.Definition
	NodeID     string
	Config     *workflow.TriggerConfig
}

// ID 触发器ID，跨版本稳定，用于去重键
func (r Registration) ID() string {
	return r.Definition.ID + "/" + r.NodeID
}

// NewRegistration 从已发布定义构造注册项
func NewRegistration(def *workflow.Definition) (Registration, error) {
	node, ok := def.TriggerNode()
	if !ok || node.Trigger == nil {
		return Registration{}, NewTriggerErrorf("workflow %s has no trigger node", def.ID)
	}
	return Registration{Definition: def, NodeID: node.ID, Config: node.Trigger}, nil
}

// Registry 触发器注册表
type Registry interface {
	// Register 注册或替换工作流的触发器
	Register(ctx context.Context, reg Registration) error

	// Unregister 移除工作流的触发器
	Unregister(workflowID string)

	// List 按类型列出触发器，类型为空表示全部
	List(triggerType workflow.TriggerType) []Registration

	// Webhook 按路径查找 Webhook 触发器
	Webhook(path string) (Registration, bool)
}

// registry 内存注册表实现
type registry struct {
	byWorkflow map[string]Registration
	webhooks   map[string]string
	mutex      sync.RWMutex
}

// NewRegistry 创建触发器注册表
func NewRegistry() Registry {
	return &registry{
		byWorkflow: make(map[string]Registration),
		webhooks:   make(map[string]string),
	}
}

// NormalizePath 统一 Webhook 路径格式
func NormalizePath(path string) string {
	return strings.Trim(strings.TrimSpace(path), "/")
}

func (r *registry) Register(ctx context.Context, reg Registration) error {
	if reg.Definition == nil || reg.Config == nil {
		return NewTriggerError("registration requires a definition and trigger config")
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	workflowID := reg.Definition.ID
	var path string
	if reg.Config.Type == workflow.TriggerWebhook && reg.Config.Webhook != nil {
		path = NormalizePath(reg.Config.Webhook.Path)
		if owner, exists := r.webhooks[path]; exists && owner != workflowID {
			return WrapTriggerError(ErrPathConflict, "path %q is owned by workflow %s", path, owner)
		}
	}

	r.removeLocked(workflowID)
	r.byWorkflow[workflowID] = reg
	if path != "" {
		r.webhooks[path] = workflowID
	}
	return nil
}

func (r *registry) Unregister(workflowID string) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.removeLocked(workflowID)
}

func (r *registry) removeLocked(workflowID string) {
	old, exists := r.byWorkflow[workflowID]
	if !exists {
		return
	}
	if old.Config.Type == workflow.TriggerWebhook && old.Config.Webhook != nil {
		delete(r.webhooks, NormalizePath(old.Config.Webhook.Path))
	}
	delete(r.byWorkflow, workflowID)
}

func (r *registry) List(triggerType workflow.TriggerType) []Registration {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	regs := make([]Registration, 0, len(r.byWorkflow))
	for _, reg := range r.byWorkflow {
		if triggerType == "" || reg.Config.Type == triggerType {
			regs = append(regs, reg)
		}
	}
	sort.Slice(regs, func(i, j int) bool { return regs[i].Definition.ID < regs[j].Definition.ID })
	return regs
}

func (r *registry) Webhook(path string) (Registration, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	workflowID, exists := r.webhooks[NormalizePath(path)]
	if !exists {
		return Registration{}, false
	}
	reg, exists := r.byWorkflow[workflowID]
	return reg, exists
}
