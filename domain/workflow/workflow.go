package workflow

import (
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"gopkg.in/yaml.v3"

	"github.com/XXueTu/graph_automation/domain/expression"
	"github.com/XXueTu/graph_automation/domain/retry"
	"github.com/XXueTu/graph_automation/types"
)

// NodeKind 节点类型
type NodeKind string

const (
	KindTrigger NodeKind = "trigger"
	KindAction  NodeKind = "action"
	KindBranch  NodeKind = "branch"
	KindDelay   NodeKind = "delay"
)

// Status 工作流定义状态
type Status string

const (
	StatusDraft     Status = "draft"
	StatusPublished Status = "published"
)

// 分支出边标签
const (
	LabelTrue  = "true"
	LabelFalse = "false"
)

// Edge 有向边
type Edge struct {
	Source string `json:"source" yaml:"source"`
	Target string `json:"target" yaml:"target"`
	Label  string `json:"label,omitempty" yaml:"label,omitempty"`
}

// ActionConfig 动作节点配置，参数中的字符串可包含模板
type ActionConfig struct {
	Type    string                 `json:"type" yaml:"type"`
	Params  map[string]interface{} `json:"params,omitempty" yaml:"params,omitempty"`
	Timeout types.Duration         `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// BranchConfig 分支节点配置，表达式与条件组二选一
type BranchConfig struct {
	Expression string            `json:"expression,omitempty" yaml:"expression,omitempty"`
	Condition  *expression.Group `json:"condition,omitempty" yaml:"condition,omitempty"`
}

// DelayMode 延迟方式
type DelayMode string

const (
	DelayDuration  DelayMode = "duration"  // 固定时长
	DelayUntil     DelayMode = "until"     // 直到某个时间点
	DelayCondition DelayMode = "condition" // 直到条件成立
)

// DelayConfig 延迟节点配置
type DelayConfig struct {
	Mode          DelayMode         `json:"mode" yaml:"mode"`
	Duration      types.Duration    `json:"duration,omitempty" yaml:"duration,omitempty"`
	Until         string            `json:"until,omitempty" yaml:"until,omitempty"`
	Expression    string            `json:"expression,omitempty" yaml:"expression,omitempty"`
	Condition     *expression.Group `json:"condition,omitempty" yaml:"condition,omitempty"`
	CheckInterval types.Duration    `json:"check_interval,omitempty" yaml:"check_interval,omitempty"`
	MaxWait       types.Duration    `json:"max_wait,omitempty" yaml:"max_wait,omitempty"`
	RefreshRow    bool              `json:"refresh_row,omitempty" yaml:"refresh_row,omitempty"`
}

// Node 图节点，按 Kind 使用对应配置
type Node struct {
	ID      string         `json:"id" yaml:"id"`
	Name    string         `json:"name,omitempty" yaml:"name,omitempty"`
	Kind    NodeKind       `json:"kind" yaml:"kind"`
	Trigger *TriggerConfig `json:"trigger,omitempty" yaml:"trigger,omitempty"`
	Action  *ActionConfig  `json:"action,omitempty" yaml:"action,omitempty"`
	Branch  *BranchConfig  `json:"branch,omitempty" yaml:"branch,omitempty"`
	Delay   *DelayConfig   `json:"delay,omitempty" yaml:"delay,omitempty"`
	Retry   *retry.Policy  `json:"retry,omitempty" yaml:"retry,omitempty"`
}

// Definition 工作流定义聚合根，发布后同一版本不可变
type Definition struct {
	ID          string     `json:"id" yaml:"id"`
	Version     int        `json:"version" yaml:"version"`
	Name        string     `json:"name" yaml:"name"`
	Description string     `json:"description,omitempty" yaml:"description,omitempty"`
	Status      Status     `json:"status" yaml:"status"`
	Nodes       []*Node    `json:"nodes" yaml:"nodes"`
	Edges       []Edge     `json:"edges" yaml:"edges"`
	CreatedAt   time.Time  `json:"created_at" yaml:"created_at"`
	PublishedAt *time.Time `json:"published_at,omitempty" yaml:"published_at,omitempty"`
}

// NewDefinition 创建草稿定义
func NewDefinition(id, name string) *Definition {
	return &Definition{
		ID:        id,
		Name:      name,
		Status:    StatusDraft,
		Nodes:     make([]*Node, 0),
		Edges:     make([]Edge, 0),
		CreatedAt: time.Now().UTC(),
	}
}

// Node 按ID查找节点
func (d *Definition) Node(id string) (*Node, bool) {
	for _, node := range d.Nodes {
		if node.ID == id {
			return node, true
		}
	}
	return nil, false
}

// TriggerNode 返回第一个触发器节点
func (d *Definition) TriggerNode() (*Node, bool) {
	for _, node := range d.Nodes {
		if node.Kind == KindTrigger {
			return node, true
		}
	}
	return nil, false
}

// Outgoing 节点的全部出边
func (d *Definition) Outgoing(id string) []Edge {
	edges := make([]Edge, 0, 2)
	for _, edge := range d.Edges {
		if edge.Source == id {
			edges = append(edges, edge)
		}
	}
	return edges
}

// Next 按标签找后继节点，非分支节点传空标签
func (d *Definition) Next(id, label string) (string, bool) {
	for _, edge := range d.Edges {
		if edge.Source != id {
			continue
		}
		if label == "" || edge.Label == label {
			return edge.Target, true
		}
	}
	return "", false
}

// IsPublished 是否已发布
func (d *Definition) IsPublished() bool {
	return d.Status == StatusPublished
}

// MarkPublished 标记为已发布
func (d *Definition) MarkPublished(version int, at time.Time) {
	d.Version = version
	d.Status = StatusPublished
	published := at
	d.PublishedAt = &published
}

// Clone 深拷贝定义
func (d *Definition) Clone() (*Definition, error) {
	data, err := json.Marshal(d)
	if err != nil {
		return nil, err
	}
	var out Definition
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ParseDefinition 解析 JSON 或 YAML 格式的定义
func ParseDefinition(data []byte) (*Definition, error) {
	var def Definition
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "{") {
		if err := json.Unmarshal(data, &def); err != nil {
			return nil, NewWorkflowErrorWrap(err, "invalid definition json")
		}
	} else {
		if err := yaml.Unmarshal(data, &def); err != nil {
			return nil, NewWorkflowErrorWrap(err, "invalid definition yaml")
		}
	}
	if def.Status == "" {
		def.Status = StatusDraft
	}
	return &def, nil
}
