package trigger

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/XXueTu/graph_automation/domain/expression"
	"github.com/XXueTu/graph_automation/domain/workflow"
	"github.com/XXueTu/graph_automation/types"
)

type mapDedupe struct {
	keys  map[string]time.Time
	mutex sync.Mutex
}

func (d *mapDedupe) Reserve(ctx context.Context, key string, at time.Time) (bool, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if _, exists := d.keys[key]; exists {
		return false, nil
	}
	d.keys[key] = at
	return true, nil
}

func (d *mapDedupe) Release(ctx context.Context, key string) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	delete(d.keys, key)
	return nil
}

type staticRows map[string][]Row

func (s staticRows) ListRows(ctx context.Context, tableID string) ([]Row, error) {
	return s[tableID], nil
}

// brokenRows 指定表读取失败的行数据源
type brokenRows struct {
	staticRows
	broken map[string]bool
}

func (b *brokenRows) ListRows(ctx context.Context, tableID string) ([]Row, error) {
	if b.broken[tableID] {
		return nil, errors.New("row store unavailable")
	}
	return b.staticRows.ListRows(ctx, tableID)
}

func definition(t *testing.T, id string, cfg workflow.TriggerConfig) *workflow.Definition {
	t.Helper()
	def, err := workflow.NewBuilder(id).
		Trigger("start", cfg).
		Action("notify", "notification", nil).
		Connect("start", "notify").
		Build()
	require.NoError(t, err)
	return def
}

func register(t *testing.T, reg Registry, def *workflow.Definition) {
	t.Helper()
	r, err := NewRegistration(def)
	require.NoError(t, err)
	require.NoError(t, reg.Register(context.Background(), r))
}

func newTestMatcher(reg Registry, rows RowSource, clock types.Clock) *Matcher {
	return NewMatcher(reg, rows, &mapDedupe{keys: map[string]time.Time{}}, nil, clock, nil)
}

func TestMatchRecordEvent(t *testing.T) {
	reg := NewRegistry()
	register(t, reg, definition(t, "wf-done", workflow.TriggerConfig{
		Type: workflow.TriggerRecordEvent,
		Record: &workflow.RecordTrigger{
			TableID:     "tasks",
			Events:      []workflow.ChangeKind{workflow.ChangeUpdated},
			WatchFields: []string{"Status"},
			Conditions: &expression.Group{Conditions: []expression.Condition{
				{Field: "Status", Operator: "equals", Value: "Done"},
			}},
		},
	}))
	register(t, reg, definition(t, "wf-created", workflow.TriggerConfig{
		Type:   workflow.TriggerRecordEvent,
		Record: &workflow.RecordTrigger{TableID: "tasks", Events: []workflow.ChangeKind{workflow.ChangeCreated}},
	}))
	m := newTestMatcher(reg, nil, nil)
	ctx := context.Background()

	matches, err := m.MatchRecordEvent(ctx, RecordEvent{
		TableID: "tasks", RowID: "r1", Kind: workflow.ChangeUpdated,
		ChangedFields: []string{"Status"},
		Row:           map[string]interface{}{"Status": "Done", "Title": "write docs"},
	})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "wf-done", matches[0].Definition.ID)
	assert.Equal(t, "start", matches[0].TriggerNodeID)
	assert.Equal(t, "write docs", matches[0].InitialContext["Title"])
	rowID, _ := expression.Lookup(matches[0].InitialContext, "trigger.row_id")
	assert.Equal(t, "r1", rowID)

	// 变更字段不在关注列表
	matches, err = m.MatchRecordEvent(ctx, RecordEvent{
		TableID: "tasks", RowID: "r1", Kind: workflow.ChangeUpdated,
		ChangedFields: []string{"Title"},
		Row:           map[string]interface{}{"Status": "Done"},
	})
	require.NoError(t, err)
	assert.Empty(t, matches)

	// 条件不满足
	matches, err = m.MatchRecordEvent(ctx, RecordEvent{
		TableID: "tasks", RowID: "r1", Kind: workflow.ChangeUpdated,
		ChangedFields: []string{"Status"},
		Row:           map[string]interface{}{"Status": "Open"},
	})
	require.NoError(t, err)
	assert.Empty(t, matches)

	// 其他表
	matches, err = m.MatchRecordEvent(ctx, RecordEvent{TableID: "orders", RowID: "o1", Kind: workflow.ChangeCreated})
	require.NoError(t, err)
	assert.Empty(t, matches)

	matches, err = m.MatchRecordEvent(ctx, RecordEvent{TableID: "tasks", RowID: "r2", Kind: workflow.ChangeCreated})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "wf-created", matches[0].Definition.ID)
}

func TestConditionalTriggerWrapping(t *testing.T) {
	reg := NewRegistry()
	register(t, reg, definition(t, "wf-vip", workflow.TriggerConfig{
		Type:   workflow.TriggerRecordEvent,
		Record: &workflow.RecordTrigger{TableID: "customers"},
		Condition: &expression.Group{
			Combinator: expression.CombinatorOr,
			Conditions: []expression.Condition{
				{Field: "tier", Operator: "equals", Value: "gold"},
				{Field: "spend", Operator: "greater_than", Value: 1000},
			},
		},
	}))
	m := newTestMatcher(reg, nil, nil)

	matches, err := m.MatchRecordEvent(context.Background(), RecordEvent{
		TableID: "customers", RowID: "c1", Kind: workflow.ChangeCreated,
		Row: map[string]interface{}{"tier": "silver", "spend": 1500},
	})
	require.NoError(t, err)
	assert.Len(t, matches, 1)

	matches, err = m.MatchRecordEvent(context.Background(), RecordEvent{
		TableID: "customers", RowID: "c2", Kind: workflow.ChangeCreated,
		Row: map[string]interface{}{"tier": "silver", "spend": 10},
	})
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestMatchTickFiresOncePerBoundary(t *testing.T) {
	reg := NewRegistry()
	register(t, reg, definition(t, "wf-remind", workflow.TriggerConfig{
		Type: workflow.TriggerDate,
		Date: &workflow.DateTrigger{TableID: "invoices", DateField: "due", Mode: workflow.DateDaysBefore, Days: 3},
	}))
	rows := staticRows{"invoices": {
		{ID: "inv-1", Fields: map[string]interface{}{"due": "2024-06-04"}},
		{ID: "inv-2", Fields: map[string]interface{}{"due": "2024-06-20"}},
		{ID: "inv-3", Fields: map[string]interface{}{"due": ""}},
	}}
	m := newTestMatcher(reg, rows, nil)
	ctx := context.Background()

	tick := Tick{Now: time.Date(2024, 6, 1, 0, 30, 0, 0, time.UTC), Window: types.Duration(time.Hour)}
	matches, err := m.MatchTick(ctx, tick)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	rowID, _ := expression.Lookup(matches[0].InitialContext, "trigger.row_id")
	assert.Equal(t, "inv-1", rowID)

	// 同一窗口重复的时钟信号不再触发
	matches, err = m.MatchTick(ctx, tick)
	require.NoError(t, err)
	assert.Empty(t, matches)

	// 窗口之外
	matches, err = m.MatchTick(ctx, Tick{Now: time.Date(2024, 6, 1, 2, 0, 0, 0, time.UTC), Window: types.Duration(time.Hour)})
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestMatchTickIsolatesFailingTrigger(t *testing.T) {
	reg := NewRegistry()
	register(t, reg, definition(t, "wf-a", workflow.TriggerConfig{
		Type: workflow.TriggerDate,
		Date: &workflow.DateTrigger{TableID: "invoices", DateField: "due", Mode: workflow.DateDaysBefore, Days: 3},
	}))
	register(t, reg, definition(t, "wf-b", workflow.TriggerConfig{
		Type: workflow.TriggerDate,
		Date: &workflow.DateTrigger{TableID: "orders", DateField: "ship_by", Mode: workflow.DateReached},
	}))
	rows := &brokenRows{
		staticRows: staticRows{
			"invoices": {{ID: "inv-1", Fields: map[string]interface{}{"due": "2024-06-04"}}},
			"orders":   {{ID: "ord-1", Fields: map[string]interface{}{"ship_by": "2024-06-01"}}},
		},
		broken: map[string]bool{"orders": true},
	}
	m := newTestMatcher(reg, rows, nil)
	ctx := context.Background()
	tick := Tick{Now: time.Date(2024, 6, 1, 0, 30, 0, 0, time.UTC), Window: types.Duration(time.Hour)}

	matches, err := m.MatchTick(ctx, tick)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "orders")
	require.Len(t, matches, 1)
	assert.Equal(t, "wf-a", matches[0].Definition.ID)
	assert.NotEmpty(t, matches[0].DedupeKey)

	// 恢复后只补触发失败的触发器
	rows.broken["orders"] = false
	matches, err = m.MatchTick(ctx, tick)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "wf-b", matches[0].Definition.ID)

	// 归还去重键后可再次触发
	require.NoError(t, m.ReleaseMatch(ctx, matches[0]))
	matches, err = m.MatchTick(ctx, tick)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "wf-b", matches[0].Definition.ID)
}

func TestMatchTickRecurring(t *testing.T) {
	reg := NewRegistry()
	register(t, reg, definition(t, "wf-daily", workflow.TriggerConfig{
		Type: workflow.TriggerDate,
		Date: &workflow.DateTrigger{Mode: workflow.DateRecurring, Cron: "0 9 * * *"},
	}))
	m := newTestMatcher(reg, nil, nil)
	ctx := context.Background()
	window := types.Duration(time.Hour)

	matches, err := m.MatchTick(ctx, Tick{Now: time.Date(2024, 6, 1, 8, 30, 0, 0, time.UTC), Window: window})
	require.NoError(t, err)
	assert.Empty(t, matches)

	matches, err = m.MatchTick(ctx, Tick{Now: time.Date(2024, 6, 1, 9, 15, 0, 0, time.UTC), Window: window})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	boundary, _ := expression.Lookup(matches[0].InitialContext, "trigger.boundary")
	assert.Equal(t, "2024-06-01T09:00:00Z", boundary)

	matches, err = m.MatchTick(ctx, Tick{Now: time.Date(2024, 6, 1, 9, 45, 0, 0, time.UTC), Window: window})
	require.NoError(t, err)
	assert.Empty(t, matches)

	matches, err = m.MatchTick(ctx, Tick{Now: time.Date(2024, 6, 2, 9, 0, 0, 0, time.UTC), Window: window})
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}

func webhookDefinition(t *testing.T, id string, auth workflow.WebhookAuth, mapping map[string]string) *workflow.Definition {
	return definition(t, id, workflow.TriggerConfig{
		Type: workflow.TriggerWebhook,
		Webhook: &workflow.WebhookTrigger{
			Path:         "/orders/" + id,
			Methods:      []string{http.MethodPost},
			Auth:         auth,
			FieldMapping: mapping,
		},
	})
}

func TestMatchWebhookAuth(t *testing.T) {
	reg := NewRegistry()
	register(t, reg, webhookDefinition(t, "open", workflow.WebhookAuth{Method: workflow.AuthNone}, map[string]string{"order_id": "body.order.id"}))
	register(t, reg, webhookDefinition(t, "keyed", workflow.WebhookAuth{Method: workflow.AuthAPIKey, Keys: []string{"k-1"}}, nil))
	register(t, reg, webhookDefinition(t, "signed", workflow.WebhookAuth{Method: workflow.AuthSignature, Secret: "s3cret"}, nil))
	register(t, reg, webhookDefinition(t, "jwt", workflow.WebhookAuth{Method: workflow.AuthBearer, Secret: "jwt-secret"}, nil))
	m := newTestMatcher(reg, nil, nil)
	ctx := context.Background()
	body := []byte(`{"order":{"id":"A-1"}}`)

	request := func(path string, headers http.Header) WebhookRequest {
		if headers == nil {
			headers = http.Header{}
		}
		return WebhookRequest{Path: path, Method: http.MethodPost, Headers: headers, Body: body}
	}

	match, err := m.MatchWebhook(ctx, request("orders/open", nil))
	require.NoError(t, err)
	require.NotNil(t, match)
	assert.Equal(t, "A-1", match.InitialContext["order_id"])

	_, err = m.MatchWebhook(ctx, request("orders/unknown", nil))
	assert.ErrorIs(t, err, ErrNotFound)

	get := request("orders/open", nil)
	get.Method = http.MethodGet
	_, err = m.MatchWebhook(ctx, get)
	assert.ErrorIs(t, err, ErrMethodNotAllowed)

	_, err = m.MatchWebhook(ctx, request("orders/keyed", nil))
	assert.ErrorIs(t, err, ErrUnauthorized)
	_, err = m.MatchWebhook(ctx, request("orders/keyed", http.Header{"X-Api-Key": {"wrong"}}))
	assert.ErrorIs(t, err, ErrForbidden)
	match, err = m.MatchWebhook(ctx, request("orders/keyed", http.Header{"X-Api-Key": {"k-1"}}))
	require.NoError(t, err)
	assert.NotNil(t, match.InitialContext["payload"])

	_, err = m.MatchWebhook(ctx, request("orders/signed", http.Header{"X-Signature": {"sha256=00"}}))
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = m.MatchWebhook(ctx, request("orders/signed", http.Header{"X-Signature": {"sha256=" + Sign("s3cret", body)}}))
	assert.NoError(t, err)

	_, err = m.MatchWebhook(ctx, request("orders/jwt", nil))
	assert.ErrorIs(t, err, ErrUnauthorized)
	bad, err := NewBearerToken("other", "svc", time.Minute)
	require.NoError(t, err)
	_, err = m.MatchWebhook(ctx, request("orders/jwt", http.Header{"Authorization": {"Bearer " + bad}}))
	assert.ErrorIs(t, err, ErrForbidden)
	good, err := NewBearerToken("jwt-secret", "svc", time.Minute)
	require.NoError(t, err)
	match, err = m.MatchWebhook(ctx, request("orders/jwt", http.Header{"Authorization": {"Bearer " + good}}))
	require.NoError(t, err)
	sub, _ := expression.Lookup(match.InitialContext, "trigger.claims.sub")
	assert.Equal(t, "svc", sub)
}

func TestRegistryPathConflict(t *testing.T) {
	reg := NewRegistry()
	a := definition(t, "a", workflow.TriggerConfig{Type: workflow.TriggerWebhook, Webhook: &workflow.WebhookTrigger{Path: "hooks/x"}})
	b := definition(t, "b", workflow.TriggerConfig{Type: workflow.TriggerWebhook, Webhook: &workflow.WebhookTrigger{Path: "/hooks/x/"}})
	register(t, reg, a)

	r, err := NewRegistration(b)
	require.NoError(t, err)
	assert.ErrorIs(t, reg.Register(context.Background(), r), ErrPathConflict)

	// 同一工作流重新注册新版本
	register(t, reg, a)
	reg.Unregister("a")
	assert.NoError(t, reg.Register(context.Background(), r))
	_, ok := reg.Webhook("hooks/x")
	assert.True(t, ok)
}
