package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/XXueTu/graph_automation/domain/execution"
	"github.com/XXueTu/graph_automation/domain/record"
	"github.com/XXueTu/graph_automation/domain/scheduler"
	"github.com/XXueTu/graph_automation/domain/trigger"
	"github.com/XXueTu/graph_automation/domain/workflow"
	"github.com/XXueTu/graph_automation/infrastructure/persistence/badgerstore"
	"github.com/XXueTu/graph_automation/infrastructure/persistence/memory"
	"github.com/XXueTu/graph_automation/infrastructure/persistence/mysql"
)

// stores 按驱动打开的持久化实现
type stores struct {
	definitions workflow.Repository
	runs        execution.Repository
	records     record.Store
	scheduled   scheduler.Store
	dedupe      trigger.DedupeStore
	badger      *badgerstore.Store
	close       func() error
}

func openStores(ctx context.Context, cfg StorageConfig, logger *slog.Logger) (*stores, error) {
	switch cfg.Driver {
	case DriverMemory:
		return &stores{
			definitions: memory.NewWorkflowRepository(),
			runs:        memory.NewRunRepository(),
			records:     memory.NewRecordStore(),
			scheduled:   memory.NewSchedulerStore(),
			dedupe:      memory.NewDedupeStore(),
			close:       func() error { return nil },
		}, nil
	case DriverBadger:
		store, err := badgerstore.Open(badgerstore.Config{
			Dir:        cfg.Badger.Dir,
			SyncWrites: cfg.Badger.SyncWrites,
		}, logger)
		if err != nil {
			return nil, err
		}
		return &stores{
			definitions: badgerstore.NewWorkflowRepository(store),
			runs:        badgerstore.NewRunRepository(store),
			records:     badgerstore.NewRecordStore(store),
			scheduled:   badgerstore.NewSchedulerStore(store),
			dedupe:      badgerstore.NewDedupeStore(store, cfg.DedupeTTL.Std()),
			badger:      store,
			close:       store.Close,
		}, nil
	case DriverMySQL:
		store, err := mysql.Open(ctx, mysql.Config{
			DSN:             cfg.MySQL.DSN,
			MaxOpenConns:    cfg.MySQL.MaxOpenConns,
			MaxIdleConns:    cfg.MySQL.MaxIdleConns,
			ConnMaxLifetime: cfg.MySQL.ConnMaxLifetime.Std(),
		}, logger)
		if err != nil {
			return nil, err
		}
		return &stores{
			definitions: mysql.NewWorkflowRepository(store),
			runs:        mysql.NewRunRepository(store),
			records:     mysql.NewRecordStore(store),
			scheduled:   mysql.NewSchedulerStore(store),
			dedupe:      mysql.NewDedupeStore(store),
			close:       store.Close,
		}, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}
