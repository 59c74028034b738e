package eventbus

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/XXueTu/graph_automation/domain/execution"
	"github.com/XXueTu/graph_automation/domain/workflow"
)

func event(t *testing.T, eventType string) *execution.Event {
	t.Helper()
	def := workflow.NewDefinition("wf", "wf")
	run := execution.NewRun("run-1", def, "start", nil, time.Now())
	return execution.NewRunEvent(eventType, run, "start", nil, time.Now())
}

func TestPublishSynchronous(t *testing.T) {
	bus := NewEventBus(WithSynchronous())
	var got []string
	require.NoError(t, bus.Subscribe(execution.EventRunCompleted, func(e *execution.Event) error {
		got = append(got, "typed:"+e.Type())
		return nil
	}))
	require.NoError(t, bus.Subscribe(AllEvents, func(e *execution.Event) error {
		got = append(got, "all:"+e.Type())
		return errors.New("ignored")
	}))

	require.NoError(t, bus.Publish(event(t, execution.EventRunCompleted)))
	require.NoError(t, bus.Publish(event(t, execution.EventRunStarted)))
	assert.Equal(t, []string{"typed:run.completed", "all:run.completed", "all:run.started"}, got)

	bus.Unsubscribe(AllEvents)
	require.NoError(t, bus.Publish(event(t, execution.EventRunStarted)))
	assert.Len(t, got, 3)
}

func TestPublishAsync(t *testing.T) {
	bus := NewEventBus()
	var (
		mu    sync.Mutex
		count int
	)
	require.NoError(t, bus.Subscribe(execution.EventRunFailed, func(e *execution.Event) error {
		mu.Lock()
		count++
		mu.Unlock()
		return nil
	}))
	for i := 0; i < 5; i++ {
		require.NoError(t, bus.Publish(event(t, execution.EventRunFailed)))
	}
	bus.Wait()
	assert.Equal(t, 5, count)
}
