package trigger

import (
	"context"
	"log/slog"
	"time"

	"github.com/XXueTu/graph_automation/domain/expression"
	"github.com/XXueTu/graph_automation/domain/workflow"
	"github.com/XXueTu/graph_automation/types"
)

// RecordEvent 外部推送的行变更事件
type RecordEvent struct {
	TableID       string                 `json:"table_id"`
	RowID         string                 `json:"row_id"`
	Kind          workflow.ChangeKind    `json:"kind"`
	ChangedFields []string               `json:"changed_fields,omitempty"`
	Row           map[string]interface{} `json:"row"`
}

// Tick 周期性调度时钟信号
type Tick struct {
	Now    time.Time      `json:"now"`
	Window types.Duration `json:"window"`
}

// Row 行数据
type Row struct {
	ID     string
	Fields map[string]interface{}
}

// RowSource 外部行数据源，日期触发器按表扫描
type RowSource interface {
	ListRows(ctx context.Context, tableID string) ([]Row, error)
}

// DedupeStore 日期触发去重键存储
type DedupeStore interface {
	// Reserve 键不存在时写入并返回 true
	Reserve(ctx context.Context, key string, at time.Time) (bool, error)
	// Release 运行未能创建时归还键，允许下一次时钟信号重新触发
	Release(ctx context.Context, key string) error
}

// Match 匹配结果：要启动的工作流及初始上下文
type Match struct {
	Definition     *workflow.Definition
	TriggerNodeID  string
	TriggerID      string
	InitialContext map[string]interface{}
	// DedupeKey 日期触发占用的去重键，其他触发类型为空
	DedupeKey string
}

// Matcher 触发器匹配器
type Matcher struct {
	registry  Registry
	rows      RowSource
	dedupe    DedupeStore
	evaluator *expression.Evaluator
	clock     types.Clock
	logger    *slog.Logger
}

// NewMatcher 创建匹配器
func NewMatcher(registry Registry, rows RowSource, dedupe DedupeStore, evaluator *expression.Evaluator, clock types.Clock, logger *slog.Logger) *Matcher {
	if clock == nil {
		clock = types.SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if evaluator == nil {
		evaluator = expression.NewEvaluator(expression.WithClock(clock), expression.WithLogger(logger))
	}
	return &Matcher{
		registry:  registry,
		rows:      rows,
		dedupe:    dedupe,
		evaluator: evaluator,
		clock:     clock,
		logger:    logger.With("component", "trigger-matcher"),
	}
}

// MatchRecordEvent 匹配行事件触发器
func (m *Matcher) MatchRecordEvent(ctx context.Context, event RecordEvent) ([]Match, error) {
	var matches []Match
	for _, reg := range m.registry.List(workflow.TriggerRecordEvent) {
		cfg := reg.Config.Record
		if cfg == nil || cfg.TableID != event.TableID || !cfg.AllowsChange(event.Kind) {
			continue
		}
		if event.Kind == workflow.ChangeUpdated && !cfg.WatchesAny(event.ChangedFields) {
			continue
		}

		initial := seedRow(event.Row)
		initial["trigger"] = m.meta(reg, map[string]interface{}{
			"table_id":       event.TableID,
			"row_id":         event.RowID,
			"event":          string(event.Kind),
			"changed_fields": stringsToAny(event.ChangedFields),
		})

		ok, err := m.passes(reg, cfg.Conditions, initial)
		if err != nil {
			return nil, err
		}
		if ok {
			matches = append(matches, newMatch(reg, initial))
		}
	}
	return matches, nil
}

// ReleaseMatch 归还匹配占用的去重键
func (m *Matcher) ReleaseMatch(ctx context.Context, match Match) error {
	if m.dedupe == nil || match.DedupeKey == "" {
		return nil
	}
	if err := m.dedupe.Release(ctx, match.DedupeKey); err != nil {
		return WrapTriggerError(err, "release dedupe key %s", match.DedupeKey)
	}
	return nil
}

// passes 依次检查触发器自身条件和条件包装
func (m *Matcher) passes(reg Registration, conditions *expression.Group, vars map[string]interface{}) (bool, error) {
	for _, group := range []*expression.Group{conditions, reg.Config.Condition} {
		if group == nil || group.IsEmpty() {
			continue
		}
		ok, err := m.evaluator.EvaluateGroup(*group, vars)
		if err != nil {
			return false, WrapTriggerError(err, "evaluate conditions of %s", reg.ID())
		}
		if !ok {
			m.logger.Debug("trigger conditions not met", "trigger_id", reg.ID())
			return false, nil
		}
	}
	return true, nil
}

func (m *Matcher) meta(reg Registration, extra map[string]interface{}) map[string]interface{} {
	meta := map[string]interface{}{
		"id":          reg.ID(),
		"type":        string(reg.Config.Type),
		"workflow_id": reg.Definition.ID,
		"fired_at":    m.clock.Now().Format(time.RFC3339),
	}
	for key, value := range extra {
		meta[key] = value
	}
	return meta
}

func newMatch(reg Registration, initial map[string]interface{}) Match {
	return Match{
		Definition:     reg.Definition,
		TriggerNodeID:  reg.NodeID,
		TriggerID:      reg.ID(),
		InitialContext: initial,
	}
}

// seedRow 行快照放在 row 下，同时展开到顶层便于模板引用
func seedRow(row map[string]interface{}) map[string]interface{} {
	initial := make(map[string]interface{}, len(row)+2)
	for key, value := range row {
		initial[key] = value
	}
	snapshot := make(map[string]interface{}, len(row))
	for key, value := range row {
		snapshot[key] = value
	}
	initial["row"] = snapshot
	return initial
}

func stringsToAny(values []string) []interface{} {
	out := make([]interface{}, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}
