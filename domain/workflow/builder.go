package workflow

import (
	"github.com/XXueTu/graph_automation/domain/expression"
	"github.com/XXueTu/graph_automation/domain/retry"
)

// Builder 工作流定义构建器
type Builder interface {
	SetName(name string) Builder
	SetDescription(description string) Builder
	Trigger(nodeID string, cfg TriggerConfig) Builder
	Action(nodeID, actionType string, params map[string]interface{}) Builder
	Branch(nodeID, expr string) Builder
	BranchGroup(nodeID string, group expression.Group) Builder
	Delay(nodeID string, cfg DelayConfig) Builder
	Connect(from, to string) Builder
	ConnectLabel(from, label, to string) Builder
	SetRetry(nodeID string, policy retry.Policy) Builder
	Build() (*Definition, error)
}

// builder 工作流构建器实现
type builder struct {
	definition *Definition
}

// NewBuilder 创建工作流构建器
func NewBuilder(id string) Builder {
	return &builder{
		definition: NewDefinition(id, ""),
	}
}

func (b *builder) SetName(name string) Builder {
	b.definition.Name = name
	return b
}

func (b *builder) SetDescription(description string) Builder {
	b.definition.Description = description
	return b
}

func (b *builder) Trigger(nodeID string, cfg TriggerConfig) Builder {
	b.addNode(&Node{ID: nodeID, Kind: KindTrigger, Trigger: &cfg})
	return b
}

func (b *builder) Action(nodeID, actionType string, params map[string]interface{}) Builder {
	b.addNode(&Node{ID: nodeID, Kind: KindAction, Action: &ActionConfig{Type: actionType, Params: params}})
	return b
}

func (b *builder) Branch(nodeID, expr string) Builder {
	b.addNode(&Node{ID: nodeID, Kind: KindBranch, Branch: &BranchConfig{Expression: expr}})
	return b
}

func (b *builder) BranchGroup(nodeID string, group expression.Group) Builder {
	b.addNode(&Node{ID: nodeID, Kind: KindBranch, Branch: &BranchConfig{Condition: &group}})
	return b
}

func (b *builder) Delay(nodeID string, cfg DelayConfig) Builder {
	b.addNode(&Node{ID: nodeID, Kind: KindDelay, Delay: &cfg})
	return b
}

func (b *builder) Connect(from, to string) Builder {
	b.definition.Edges = append(b.definition.Edges, Edge{Source: from, Target: to})
	return b
}

func (b *builder) ConnectLabel(from, label, to string) Builder {
	b.definition.Edges = append(b.definition.Edges, Edge{Source: from, Label: label, Target: to})
	return b
}

func (b *builder) SetRetry(nodeID string, policy retry.Policy) Builder {
	if node, ok := b.definition.Node(nodeID); ok {
		node.Retry = &policy
	}
	return b
}

func (b *builder) Build() (*Definition, error) {
	if errs := Validate(b.definition); errs != nil {
		return nil, &ValidationError{Errors: errs}
	}
	return b.definition, nil
}

func (b *builder) addNode(node *Node) {
	node.Name = node.ID
	b.definition.Nodes = append(b.definition.Nodes, node)
}
