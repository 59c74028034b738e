package memory

import (
	"testing"

	"github.com/XXueTu/graph_automation/infrastructure/persistence/storetest"
)

func TestWorkflowRepository(t *testing.T) {
	storetest.WorkflowRepository(t, NewWorkflowRepository())
}

func TestRunRepository(t *testing.T) {
	storetest.RunRepository(t, NewRunRepository())
}

func TestRecordStore(t *testing.T) {
	storetest.RecordStore(t, NewRecordStore())
}

func TestSchedulerStore(t *testing.T) {
	storetest.SchedulerStore(t, NewSchedulerStore())
}

func TestDedupeStore(t *testing.T) {
	storetest.DedupeStore(t, NewDedupeStore())
}
