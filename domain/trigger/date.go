package trigger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/XXueTu/graph_automation/domain/expression"
	"github.com/XXueTu/graph_automation/domain/workflow"
)

// DefaultTickWindow 未指定窗口时的时钟粒度
const DefaultTickWindow = time.Hour

// DedupeKey 日期触发去重键 (trigger id, row id, boundary)
func DedupeKey(triggerID, rowID string, boundary time.Time) string {
	return fmt.Sprintf("%s|%s|%s", triggerID, rowID, boundary.UTC().Format(time.RFC3339))
}

// inWindow boundary <= now < boundary + window
func inWindow(boundary, now time.Time, window time.Duration) bool {
	return !now.Before(boundary) && now.Before(boundary.Add(window))
}

// Boundary 计算日期触发的边界时间
func Boundary(cfg *workflow.DateTrigger, value time.Time) time.Time {
	days := time.Duration(cfg.Days) * 24 * time.Hour
	switch cfg.Mode {
	case workflow.DateDaysBefore:
		return value.Add(-days)
	case workflow.DateDaysAfter:
		return value.Add(days)
	default:
		return value
	}
}

// MatchTick 匹配日期触发器，每个 (触发器, 行, 边界) 只触发一次。
// 单个触发器失败时记录日志并继续，返回已收集的匹配和合并后的错误。
func (m *Matcher) MatchTick(ctx context.Context, tick Tick) ([]Match, error) {
	now := tick.Now
	if now.IsZero() {
		now = m.clock.Now()
	}
	now = now.UTC()
	window := tick.Window.Std()
	if window <= 0 {
		window = DefaultTickWindow
	}

	var (
		matches []Match
		errs    []error
	)
	for _, reg := range m.registry.List(workflow.TriggerDate) {
		cfg := reg.Config.Date
		if cfg == nil {
			continue
		}

		var (
			found []Match
			err   error
		)
		if cfg.Mode == workflow.DateRecurring {
			found, err = m.matchRecurring(ctx, reg, now, window)
		} else {
			found, err = m.matchDateField(ctx, reg, now, window)
		}
		matches = append(matches, found...)
		if err != nil {
			m.logger.Error("date trigger failed", "trigger_id", reg.ID(), "error", err)
			errs = append(errs, err)
		}
	}
	return matches, errors.Join(errs...)
}

func (m *Matcher) matchDateField(ctx context.Context, reg Registration, now time.Time, window time.Duration) ([]Match, error) {
	cfg := reg.Config.Date
	rows, err := m.listRows(ctx, cfg.TableID)
	if err != nil {
		return nil, err
	}

	var (
		matches []Match
		errs    []error
	)
	for _, row := range rows {
		raw, ok := expression.Lookup(row.Fields, cfg.DateField)
		if !ok || expression.IsEmpty(raw) {
			continue
		}
		value, ok := expression.ToTime(raw)
		if !ok {
			m.logger.Warn("date field is not a time", "trigger_id", reg.ID(), "row_id", row.ID, "field", cfg.DateField)
			continue
		}
		boundary := Boundary(cfg, value.UTC())
		if !inWindow(boundary, now, window) {
			continue
		}
		match, ok, err := m.fireDate(ctx, reg, row, boundary)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			matches = append(matches, match)
		}
	}
	return matches, errors.Join(errs...)
}

func (m *Matcher) matchRecurring(ctx context.Context, reg Registration, now time.Time, window time.Duration) ([]Match, error) {
	cfg := reg.Config.Date
	schedule, err := cron.ParseStandard(cfg.Cron)
	if err != nil {
		return nil, WrapTriggerError(err, "parse cron %q of %s", cfg.Cron, reg.ID())
	}
	slot := schedule.Next(now.Add(-window)).UTC()
	if slot.After(now) {
		return nil, nil
	}

	if cfg.TableID == "" {
		match, ok, err := m.fireDate(ctx, reg, Row{}, slot)
		if err != nil || !ok {
			return nil, err
		}
		return []Match{match}, nil
	}

	rows, err := m.listRows(ctx, cfg.TableID)
	if err != nil {
		return nil, err
	}
	var (
		matches []Match
		errs    []error
	)
	for _, row := range rows {
		match, ok, err := m.fireDate(ctx, reg, row, slot)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			matches = append(matches, match)
		}
	}
	return matches, errors.Join(errs...)
}

// fireDate 检查条件并占用去重键
func (m *Matcher) fireDate(ctx context.Context, reg Registration, row Row, boundary time.Time) (Match, bool, error) {
	cfg := reg.Config.Date
	initial := seedRow(row.Fields)
	initial["trigger"] = m.meta(reg, map[string]interface{}{
		"table_id": cfg.TableID,
		"row_id":   row.ID,
		"mode":     string(cfg.Mode),
		"boundary": boundary.Format(time.RFC3339),
	})

	ok, err := m.passes(reg, cfg.Conditions, initial)
	if err != nil || !ok {
		return Match{}, false, err
	}

	match := newMatch(reg, initial)
	if m.dedupe != nil {
		key := DedupeKey(reg.ID(), row.ID, boundary)
		reserved, err := m.dedupe.Reserve(ctx, key, m.clock.Now())
		if err != nil {
			return Match{}, false, WrapTriggerError(err, "reserve dedupe key %s", key)
		}
		if !reserved {
			m.logger.Debug("date trigger already fired", "key", key)
			return Match{}, false, nil
		}
		match.DedupeKey = key
	}
	return match, true, nil
}

func (m *Matcher) listRows(ctx context.Context, tableID string) ([]Row, error) {
	if m.rows == nil {
		return nil, NewTriggerErrorf("no row source configured for table %s", tableID)
	}
	rows, err := m.rows.ListRows(ctx, tableID)
	if err != nil {
		return nil, WrapTriggerError(err, "list rows of %s", tableID)
	}
	return rows, nil
}
