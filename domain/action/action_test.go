package action

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/XXueTu/graph_automation/domain/retry"
)

func TestRegistry(t *testing.T) {
	noop := Func(func(ctx context.Context, req Request) (Result, error) {
		return Result{Output: map[string]interface{}{"node": req.NodeID}}, nil
	})
	reg := NewRegistry(map[string]Action{"webhook": noop, "notification": noop})

	assert.Equal(t, []string{"notification", "webhook"}, reg.Types())

	a, ok := reg.Get("webhook")
	require.True(t, ok)
	res, err := a.Execute(context.Background(), Request{NodeID: "n1"})
	require.NoError(t, err)
	assert.Equal(t, "n1", res.Output["node"])

	_, ok = reg.Get("teleport")
	assert.False(t, ok)
}

func TestErrorClassification(t *testing.T) {
	policy := retry.DefaultPolicy()

	transient := WrapTransient("http_503", errors.New("unavailable"), "call failed")
	assert.Equal(t, retry.ClassRetryable, policy.Classify(fmt.Errorf("ctx: %w", transient)))
	assert.True(t, IsTransientError(transient))
	assert.Equal(t, "call failed: unavailable", transient.Error())

	fatal := NewFatalErrorf("http_400", "bad request %d", 400)
	assert.Equal(t, retry.ClassFatal, policy.Classify(fatal))
	assert.True(t, IsFatalError(fatal))

	policy.Rules = []retry.Rule{{Code: "http_400", Class: retry.ClassRetryable}}
	assert.Equal(t, retry.ClassRetryable, policy.Classify(fatal))
}

func TestDecodeParams(t *testing.T) {
	var p struct {
		URL     string            `json:"url"`
		Headers map[string]string `json:"headers"`
	}
	err := DecodeParams(map[string]interface{}{
		"url":     "http://example.test",
		"headers": map[string]interface{}{"X-Trace": "1"},
	}, &p)
	require.NoError(t, err)
	assert.Equal(t, "http://example.test", p.URL)
	assert.Equal(t, "1", p.Headers["X-Trace"])

	var bad struct {
		URL int `json:"url"`
	}
	err = DecodeParams(map[string]interface{}{"url": "x"}, &bad)
	assert.True(t, IsFatalError(err))
}
