package expression

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/XXueTu/graph_automation/types"
)

func sampleVars() map[string]interface{} {
	return map[string]interface{}{
		"row": map[string]interface{}{
			"name":     "Ada",
			"status":   "Done",
			"amount":   150,
			"score":    "42",
			"archived": false,
			"notes":    "",
			"tags":     []interface{}{"vip", "beta"},
			"due":      "2024-01-01T00:00:00Z",
			"items": []interface{}{
				map[string]interface{}{"name": "first"},
				map[string]interface{}{"name": "second"},
			},
		},
		"check_status": map[string]interface{}{"status_code": 200},
	}
}

func TestLookup(t *testing.T) {
	vars := sampleVars()

	v, ok := Lookup(vars, "row.items[1].name")
	require.True(t, ok)
	assert.Equal(t, "second", v)

	v, ok = Lookup(vars, "row.items.0.name")
	require.True(t, ok)
	assert.Equal(t, "first", v)

	_, ok = Lookup(vars, "row.missing.deep")
	assert.False(t, ok)

	_, ok = Lookup(vars, "row.items.9")
	assert.False(t, ok)
}

func TestEvaluateComparisons(t *testing.T) {
	clock := types.NewManualClock(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))
	e := NewEvaluator(WithClock(clock))
	vars := sampleVars()

	cases := []struct {
		expr string
		want bool
	}{
		{`{{ row.amount }} > 100`, true},
		{`row.amount <= 100`, false},
		{`row.score == 42`, true},
		{`row.status == "Done" AND NOT row.archived`, true},
		{`row.status != 'Done' || row.amount >= 150`, true},
		{`(row.status == "Open" or row.amount == 1) and row.name == "Ada"`, false},
		{`row.tags contains "vip"`, true},
		{`row.tags not contains "alpha"`, true},
		{`row.name starts_with "A" && row.name ends_with "da"`, true},
		{`row.notes is empty`, true},
		{`row.name is not empty`, true},
		{`row.missing is empty`, true},
		{`row.due < now()`, true},
		{`check_status.status_code == 200`, true},
		{`-5 < row.amount`, true},
		{`!(row.amount > 10)`, false},
	}

	for _, tc := range cases {
		got, err := e.EvaluateBool(tc.expr, vars)
		require.NoError(t, err, tc.expr)
		assert.Equal(t, tc.want, got, tc.expr)
	}
}

func TestEvaluateErrors(t *testing.T) {
	vars := sampleVars()
	for _, expr := range []string{
		`row.amount ==`,
		`(row.amount == 1`,
		`row.amount == 1 row.name`,
		`row.name is "x"`,
		`"unterminated`,
		`{{ row.name`,
		``,
	} {
		_, err := Evaluate(expr, vars)
		assert.Error(t, err, expr)
		assert.True(t, IsExpressionError(err), expr)
	}
}

func TestRender(t *testing.T) {
	vars := sampleVars()

	out, err := Render("Hello {{ row.name }}, total {{row.amount}}", vars)
	require.NoError(t, err)
	assert.Equal(t, "Hello Ada, total 150", out)

	out, err = Render("Missing [{{ row.nope }}]", vars)
	require.NoError(t, err)
	assert.Equal(t, "Missing []", out)

	out, err = Render("{{ row.nope | default:'n/a' }} {{ row.name | upper }}", vars)
	require.NoError(t, err)
	assert.Equal(t, "n/a ADA", out)

	_, err = Render("{{ row.nope | required }}", vars)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMissingRequired))

	out, err = Render("{{ row.due | date:'2006/01/02' }}", vars)
	require.NoError(t, err)
	assert.Equal(t, "2024/01/01", out)
}

func TestRenderValueKeepsType(t *testing.T) {
	vars := sampleVars()
	params := map[string]interface{}{
		"amount":  "{{ row.amount }}",
		"message": "Order for {{ row.name }}",
		"list":    []interface{}{"{{ row.status }}", 3},
	}

	rendered, err := NewEvaluator().RenderParams(params, vars)
	require.NoError(t, err)
	assert.Equal(t, 150, rendered["amount"])
	assert.Equal(t, "Order for Ada", rendered["message"])
	assert.Equal(t, []interface{}{"Done", 3}, rendered["list"])
}

func TestEvaluateGroup(t *testing.T) {
	vars := sampleVars()
	group := Group{
		Combinator: CombinatorAnd,
		Conditions: []Condition{
			{Field: "row.status", Operator: "equals", Value: "Done"},
		},
		Groups: []Group{{
			Combinator: CombinatorOr,
			Conditions: []Condition{
				{Field: "row.amount", Operator: ">", Value: 1000},
				{Field: "{{ row.tags }}", Operator: "contains", Value: "vip"},
			},
		}},
	}

	ok, err := EvaluateGroup(group, vars)
	require.NoError(t, err)
	assert.True(t, ok)

	group.Conditions[0].Value = "Open"
	ok, err = EvaluateGroup(group, vars)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = EvaluateGroup(Group{}, vars)
	require.NoError(t, err)
	assert.True(t, ok)

	assert.Error(t, Group{Conditions: []Condition{{Field: "x", Operator: "like"}}}.Validate())
	assert.Error(t, Group{Combinator: "xor"}.Validate())
}
