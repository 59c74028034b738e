package workflow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/XXueTu/graph_automation/domain/retry"
	"github.com/XXueTu/graph_automation/types"
)

func recordTrigger() TriggerConfig {
	return TriggerConfig{
		Type:   TriggerRecordEvent,
		Record: &RecordTrigger{TableID: "orders", Events: []ChangeKind{ChangeCreated}},
	}
}

func codes(errs []*StructuralError) []ErrorCode {
	out := make([]ErrorCode, 0, len(errs))
	for _, e := range errs {
		out = append(out, e.Code)
	}
	return out
}

func TestBuilderValidDefinition(t *testing.T) {
	def, err := NewBuilder("wf-orders").
		SetName("orders").
		Trigger("start", recordTrigger()).
		Branch("is_big", "{{ trigger.row.amount }} > 100").
		Action("notify", "notification", map[string]interface{}{"message": "big order"}).
		Delay("wait", DelayConfig{Mode: DelayDuration, Duration: types.Duration(time.Hour)}).
		Action("tag", "field_update", map[string]interface{}{"field": "size"}).
		Connect("start", "is_big").
		ConnectLabel("is_big", LabelTrue, "notify").
		ConnectLabel("is_big", LabelFalse, "wait").
		Connect("wait", "tag").
		SetRetry("notify", retry.NewPolicy(2, time.Second, 2, 0)).
		Build()
	require.NoError(t, err)

	trigger, ok := def.TriggerNode()
	require.True(t, ok)
	assert.Equal(t, "start", trigger.ID)

	next, ok := def.Next("is_big", LabelFalse)
	require.True(t, ok)
	assert.Equal(t, "wait", next)

	_, ok = def.Next("notify", "")
	assert.False(t, ok)

	node, ok := def.Node("notify")
	require.True(t, ok)
	require.NotNil(t, node.Retry)
	assert.Equal(t, 2, node.Retry.MaxAttempts)
}

func TestValidateDefectClasses(t *testing.T) {
	action := func(id string) *Node {
		return &Node{ID: id, Kind: KindAction, Action: &ActionConfig{Type: "notification"}}
	}
	trigger := func(id string) *Node {
		cfg := recordTrigger()
		return &Node{ID: id, Kind: KindTrigger, Trigger: &cfg}
	}
	branch := func(id string) *Node {
		return &Node{ID: id, Kind: KindBranch, Branch: &BranchConfig{Expression: "true"}}
	}

	cases := []struct {
		name string
		def  *Definition
		want ErrorCode
	}{
		{
			name: "missing trigger",
			def:  &Definition{Nodes: []*Node{action("a")}},
			want: CodeMissingTrigger,
		},
		{
			name: "duplicate trigger",
			def:  &Definition{Nodes: []*Node{trigger("t1"), trigger("t2")}},
			want: CodeDuplicateTrigger,
		},
		{
			name: "trigger with incoming edge",
			def: &Definition{
				Nodes: []*Node{trigger("t"), action("a")},
				Edges: []Edge{{Source: "t", Target: "a"}, {Source: "a", Target: "t"}},
			},
			want: CodeTriggerHasIncoming,
		},
		{
			name: "branch with one output",
			def: &Definition{
				Nodes: []*Node{trigger("t"), branch("b"), action("a")},
				Edges: []Edge{{Source: "t", Target: "b"}, {Source: "b", Label: LabelTrue, Target: "a"}},
			},
			want: CodeBranchOutputs,
		},
		{
			name: "branch with two true outputs",
			def: &Definition{
				Nodes: []*Node{trigger("t"), branch("b"), action("a"), action("c")},
				Edges: []Edge{
					{Source: "t", Target: "b"},
					{Source: "b", Label: LabelTrue, Target: "a"},
					{Source: "b", Label: LabelTrue, Target: "c"},
				},
			},
			want: CodeBranchOutputs,
		},
		{
			name: "action with two outputs",
			def: &Definition{
				Nodes: []*Node{trigger("t"), action("a"), action("b"), action("c")},
				Edges: []Edge{{Source: "t", Target: "a"}, {Source: "a", Target: "b"}, {Source: "a", Target: "c"}},
			},
			want: CodeTooManyOutputs,
		},
		{
			name: "label on non branch edge",
			def: &Definition{
				Nodes: []*Node{trigger("t"), action("a")},
				Edges: []Edge{{Source: "t", Label: LabelTrue, Target: "a"}},
			},
			want: CodeInvalidEdgeLabel,
		},
		{
			name: "cycle",
			def: &Definition{
				Nodes: []*Node{trigger("t"), action("a"), action("b")},
				Edges: []Edge{{Source: "t", Target: "a"}, {Source: "a", Target: "b"}, {Source: "b", Target: "a"}},
			},
			want: CodeCycle,
		},
		{
			name: "dangling edge",
			def: &Definition{
				Nodes: []*Node{trigger("t"), action("a")},
				Edges: []Edge{{Source: "t", Target: "a"}, {Source: "a", Target: "ghost"}},
			},
			want: CodeDanglingEdge,
		},
		{
			name: "unreachable node",
			def: &Definition{
				Nodes: []*Node{trigger("t"), action("a"), action("orphan")},
				Edges: []Edge{{Source: "t", Target: "a"}},
			},
			want: CodeUnreachableNode,
		},
		{
			name: "duplicate node id",
			def: &Definition{
				Nodes: []*Node{trigger("t"), action("a"), action("a")},
				Edges: []Edge{{Source: "t", Target: "a"}},
			},
			want: CodeDuplicateNode,
		},
		{
			name: "action without type",
			def: &Definition{
				Nodes: []*Node{trigger("t"), {ID: "a", Kind: KindAction}},
				Edges: []Edge{{Source: "t", Target: "a"}},
			},
			want: CodeMissingConfig,
		},
		{
			name: "bad cron",
			def: &Definition{
				Nodes: []*Node{{ID: "t", Kind: KindTrigger, Trigger: &TriggerConfig{
					Type: TriggerDate, Date: &DateTrigger{Mode: DateRecurring, Cron: "every day"},
				}}},
			},
			want: CodeMissingConfig,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			errs := Validate(tc.def)
			require.NotEmpty(t, errs)
			assert.Contains(t, codes(errs), tc.want)
		})
	}
}

func TestValidateActionTypes(t *testing.T) {
	cfg := recordTrigger()
	def := &Definition{
		Nodes: []*Node{
			{ID: "t", Kind: KindTrigger, Trigger: &cfg},
			{ID: "a", Kind: KindAction, Action: &ActionConfig{Type: "teleport"}},
		},
		Edges: []Edge{{Source: "t", Target: "a"}},
	}
	assert.Nil(t, Validate(def))
	errs := Validate(def, WithActionTypes([]string{"notification"}))
	assert.Equal(t, []ErrorCode{CodeMissingConfig}, codes(errs))
}

func TestBuildReturnsValidationError(t *testing.T) {
	_, err := NewBuilder("wf").Action("a", "notification", nil).Build()
	require.Error(t, err)
	verr, ok := AsValidationError(err)
	require.True(t, ok)
	assert.True(t, verr.HasCode(CodeMissingTrigger))
}

func TestParseDefinitionYAML(t *testing.T) {
	data := []byte(`
id: wf-welcome
name: welcome
nodes:
  - id: hook
    kind: trigger
    trigger:
      type: webhook
      webhook:
        path: signup
        methods: [POST]
        auth:
          method: api_key
          header: X-Api-Key
          keys: [k1]
        field_mapping:
          email: body.user.email
  - id: wait
    kind: delay
    delay:
      mode: duration
      duration: 2h
  - id: mail
    kind: action
    action:
      type: notification
      params:
        channel: email
        to: "{{ email }}"
    retry:
      max_attempts: 4
      base_delay: 1s
      backoff_multiplier: 2
edges:
  - {source: hook, target: wait}
  - {source: wait, target: mail}
`)
	def, err := ParseDefinition(data)
	require.NoError(t, err)
	assert.Equal(t, StatusDraft, def.Status)
	assert.Nil(t, Validate(def))

	wait, ok := def.Node("wait")
	require.True(t, ok)
	assert.Equal(t, 2*time.Hour, wait.Delay.Duration.Std())

	mail, _ := def.Node("mail")
	assert.Equal(t, 4, mail.Retry.MaxAttempts)
	assert.Equal(t, "{{ email }}", mail.Action.Params["to"])

	hook, _ := def.Node("hook")
	assert.Equal(t, "body.user.email", hook.Trigger.Webhook.FieldMapping["email"])

	clone, err := def.Clone()
	require.NoError(t, err)
	assert.Equal(t, def.ID, clone.ID)
	assert.Len(t, clone.Nodes, 3)
}

func TestParseDefinitionJSON(t *testing.T) {
	def, err := ParseDefinition([]byte(`{"id":"wf","nodes":[{"id":"t","kind":"trigger","trigger":{"type":"date","date":{"mode":"recurring","cron":"0 9 * * 1"}}}],"edges":[]}`))
	require.NoError(t, err)
	assert.Nil(t, Validate(def))

	_, err = ParseDefinition([]byte(`{"id":`))
	assert.True(t, IsWorkflowError(err))
}

func TestRecordTriggerFilters(t *testing.T) {
	r := &RecordTrigger{Events: []ChangeKind{ChangeUpdated}, WatchFields: []string{"status"}}
	assert.True(t, r.AllowsChange(ChangeUpdated))
	assert.False(t, r.AllowsChange(ChangeCreated))
	assert.True(t, r.WatchesAny([]string{"owner", "status"}))
	assert.False(t, r.WatchesAny([]string{"owner"}))
}
