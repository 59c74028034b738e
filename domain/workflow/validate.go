package workflow

import (
	"strings"

	"github.com/robfig/cron/v3"
)

// ValidateOption 校验选项
type ValidateOption func(*validateOptions)

type validateOptions struct {
	actionTypes map[string]struct{}
}

// WithActionTypes 限定允许的动作类型
func WithActionTypes(types []string) ValidateOption {
	return func(o *validateOptions) {
		o.actionTypes = make(map[string]struct{}, len(types))
		for _, t := range types {
			o.actionTypes[t] = struct{}{}
		}
	}
}

// Validate 校验定义的结构，无错误时返回 nil
// 只在发布时调用，运行中不再重复校验
func Validate(def *Definition, opts ...ValidateOption) []*StructuralError {
	options := &validateOptions{}
	for _, opt := range opts {
		opt(options)
	}

	var errs []*StructuralError
	nodes := make(map[string]*Node, len(def.Nodes))
	triggers := make([]string, 0, 1)

	for _, node := range def.Nodes {
		if node == nil || strings.TrimSpace(node.ID) == "" {
			errs = append(errs, newStructuralError(CodeInvalidNode, "", "node id is required"))
			continue
		}
		if _, exists := nodes[node.ID]; exists {
			errs = append(errs, newStructuralError(CodeDuplicateNode, node.ID, "node id is used more than once"))
			continue
		}
		nodes[node.ID] = node
		if node.Kind == KindTrigger {
			triggers = append(triggers, node.ID)
		}
		errs = append(errs, validateNodeConfig(node, options)...)
	}

	switch {
	case len(triggers) == 0:
		errs = append(errs, newStructuralError(CodeMissingTrigger, "", "workflow has no trigger node"))
	case len(triggers) > 1:
		for _, id := range triggers[1:] {
			errs = append(errs, newStructuralError(CodeDuplicateTrigger, id, "workflow must have exactly one trigger, found %d", len(triggers)))
		}
	}

	outgoing := make(map[string][]Edge, len(nodes))
	for _, edge := range def.Edges {
		_, srcOK := nodes[edge.Source]
		target, dstOK := nodes[edge.Target]
		if !srcOK || !dstOK {
			errs = append(errs, newStructuralError(CodeDanglingEdge, edge.Source, "edge %s -> %s references an unknown node", edge.Source, edge.Target))
			continue
		}
		if target.Kind == KindTrigger {
			errs = append(errs, newStructuralError(CodeTriggerHasIncoming, target.ID, "trigger node has an incoming edge from %s", edge.Source))
		}
		outgoing[edge.Source] = append(outgoing[edge.Source], edge)
	}

	for _, node := range def.Nodes {
		if node == nil || nodes[node.ID] != node {
			continue
		}
		errs = append(errs, validateOutputs(node, outgoing[node.ID])...)
	}

	if cycleAt := findCycle(def.Nodes, nodes, outgoing); cycleAt != "" {
		errs = append(errs, newStructuralError(CodeCycle, cycleAt, "graph contains a cycle through this node"))
	}

	if len(triggers) > 0 {
		reached := reachable(triggers[0], outgoing)
		for _, node := range def.Nodes {
			if node == nil || nodes[node.ID] != node || node.Kind == KindTrigger {
				continue
			}
			if !reached[node.ID] {
				errs = append(errs, newStructuralError(CodeUnreachableNode, node.ID, "node is not reachable from the trigger"))
			}
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return errs
}

func validateOutputs(node *Node, edges []Edge) []*StructuralError {
	var errs []*StructuralError
	if node.Kind == KindBranch {
		seen := map[string]int{}
		for _, edge := range edges {
			seen[edge.Label]++
		}
		if len(edges) != 2 || seen[LabelTrue] != 1 || seen[LabelFalse] != 1 {
			errs = append(errs, newStructuralError(CodeBranchOutputs, node.ID, "branch needs exactly one 'true' and one 'false' edge"))
		}
		return errs
	}

	if len(edges) > 1 {
		errs = append(errs, newStructuralError(CodeTooManyOutputs, node.ID, "%s node has %d outgoing edges", node.Kind, len(edges)))
	}
	for _, edge := range edges {
		if edge.Label != "" {
			errs = append(errs, newStructuralError(CodeInvalidEdgeLabel, node.ID, "label %q is only valid on branch edges", edge.Label))
		}
	}
	return errs
}

// findCycle 三色 DFS，返回环上的一个节点
func findCycle(order []*Node, nodes map[string]*Node, outgoing map[string][]Edge) string {
	const (
		white = iota
		grey
		black
	)
	color := make(map[string]int, len(nodes))

	var visit func(id string) string
	visit = func(id string) string {
		color[id] = grey
		for _, edge := range outgoing[id] {
			switch color[edge.Target] {
			case grey:
				return edge.Target
			case white:
				if at := visit(edge.Target); at != "" {
					return at
				}
			}
		}
		color[id] = black
		return ""
	}

	for _, node := range order {
		if node == nil || nodes[node.ID] != node {
			continue
		}
		if color[node.ID] == white {
			if at := visit(node.ID); at != "" {
				return at
			}
		}
	}
	return ""
}

func reachable(start string, outgoing map[string][]Edge) map[string]bool {
	seen := map[string]bool{start: true}
	queue := []string{start}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, edge := range outgoing[id] {
			if !seen[edge.Target] {
				seen[edge.Target] = true
				queue = append(queue, edge.Target)
			}
		}
	}
	return seen
}

// validateNodeConfig 校验节点类型与配置是否匹配
func validateNodeConfig(node *Node, options *validateOptions) []*StructuralError {
	var errs []*StructuralError
	missing := func(format string, args ...interface{}) {
		errs = append(errs, newStructuralError(CodeMissingConfig, node.ID, format, args...))
	}

	switch node.Kind {
	case KindTrigger:
		validateTriggerConfig(node.Trigger, missing)
	case KindAction:
		switch {
		case node.Action == nil || strings.TrimSpace(node.Action.Type) == "":
			missing("action node needs an action type")
		case options.actionTypes != nil:
			if _, ok := options.actionTypes[node.Action.Type]; !ok {
				missing("unknown action type %q", node.Action.Type)
			}
		}
	case KindBranch:
		switch {
		case node.Branch == nil || (strings.TrimSpace(node.Branch.Expression) == "" && node.Branch.Condition == nil):
			missing("branch node needs an expression or condition")
		case node.Branch.Condition != nil:
			if err := node.Branch.Condition.Validate(); err != nil {
				missing("invalid branch condition: %v", err)
			}
		}
	case KindDelay:
		validateDelayConfig(node.Delay, missing)
	default:
		errs = append(errs, newStructuralError(CodeInvalidNode, node.ID, "unknown node kind %q", node.Kind))
	}

	if node.Retry != nil {
		if err := node.Retry.Validate(); err != nil {
			missing("invalid retry policy: %v", err)
		}
	}
	return errs
}

func validateTriggerConfig(cfg *TriggerConfig, missing func(string, ...interface{})) {
	if cfg == nil {
		missing("trigger node needs a trigger config")
		return
	}
	if cfg.Condition != nil {
		if err := cfg.Condition.Validate(); err != nil {
			missing("invalid trigger condition: %v", err)
		}
	}

	switch cfg.Type {
	case TriggerRecordEvent:
		if cfg.Record == nil || cfg.Record.TableID == "" {
			missing("record trigger needs a table id")
			return
		}
		for _, kind := range cfg.Record.Events {
			if kind != ChangeCreated && kind != ChangeUpdated && kind != ChangeDeleted {
				missing("unknown change kind %q", kind)
			}
		}
		if cfg.Record.Conditions != nil {
			if err := cfg.Record.Conditions.Validate(); err != nil {
				missing("invalid record conditions: %v", err)
			}
		}
	case TriggerDate:
		d := cfg.Date
		if d == nil {
			missing("date trigger needs a date config")
			return
		}
		switch d.Mode {
		case DateReached, DateDaysBefore, DateDaysAfter:
			if d.TableID == "" || d.DateField == "" {
				missing("date trigger needs a table id and date field")
			}
			if d.Mode != DateReached && d.Days <= 0 {
				missing("%s needs a positive day count", d.Mode)
			}
		case DateRecurring:
			if _, err := cron.ParseStandard(d.Cron); err != nil {
				missing("invalid cron expression %q: %v", d.Cron, err)
			}
		default:
			missing("unknown date mode %q", d.Mode)
		}
	case TriggerWebhook:
		w := cfg.Webhook
		if w == nil || strings.Trim(w.Path, "/ ") == "" {
			missing("webhook trigger needs a path")
			return
		}
		switch w.Auth.Method {
		case "", AuthNone:
		case AuthAPIKey:
			if len(w.Auth.Keys) == 0 {
				missing("api_key auth needs at least one key")
			}
		case AuthBearer, AuthSignature:
			if w.Auth.Secret == "" {
				missing("%s auth needs a secret", w.Auth.Method)
			}
		default:
			missing("unknown webhook auth method %q", w.Auth.Method)
		}
	default:
		missing("unknown trigger type %q", cfg.Type)
	}
}

func validateDelayConfig(cfg *DelayConfig, missing func(string, ...interface{})) {
	if cfg == nil {
		missing("delay node needs a delay config")
		return
	}
	switch cfg.Mode {
	case DelayDuration:
		if cfg.Duration <= 0 {
			missing("duration delay needs a positive duration")
		}
	case DelayUntil:
		if strings.TrimSpace(cfg.Until) == "" {
			missing("until delay needs a target time")
		}
	case DelayCondition:
		if strings.TrimSpace(cfg.Expression) == "" && cfg.Condition == nil {
			missing("condition delay needs an expression or condition")
		}
		if cfg.Condition != nil {
			if err := cfg.Condition.Validate(); err != nil {
				missing("invalid delay condition: %v", err)
			}
		}
		if cfg.CheckInterval <= 0 {
			missing("condition delay needs a positive check interval")
		}
		if cfg.MaxWait <= 0 {
			missing("condition delay needs a positive max wait")
		}
	default:
		missing("unknown delay mode %q", cfg.Mode)
	}
}
