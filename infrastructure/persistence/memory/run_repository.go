package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/XXueTu/graph_automation/domain/execution"
)

// runRepository 内存运行仓储，Save 按 Version 做条件更新
type runRepository struct {
	runs  map[string]*execution.Run
	mutex sync.RWMutex
}

// NewRunRepository 创建内存运行仓储
func NewRunRepository() execution.Repository {
	return &runRepository{
		runs: make(map[string]*execution.Run),
	}
}

func (r *runRepository) Create(ctx context.Context, run *execution.Run) error {
	stored, err := run.Clone()
	if err != nil {
		return NewRepositoryErrorf("clone run %s: %v", run.ID, err)
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, exists := r.runs[run.ID]; exists {
		return NewRepositoryErrorf("run %s already exists", run.ID)
	}
	r.runs[run.ID] = stored
	return nil
}

func (r *runRepository) Save(ctx context.Context, run *execution.Run) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	current, exists := r.runs[run.ID]
	if !exists {
		return WrapRepositoryError(execution.ErrRunNotFound, "run %s", run.ID)
	}
	if current.Version != run.Version {
		return WrapRepositoryError(execution.ErrVersionConflict, "run %s at version %d, saving %d", run.ID, current.Version, run.Version)
	}

	run.Version++
	stored, err := run.Clone()
	if err != nil {
		run.Version--
		return NewRepositoryErrorf("clone run %s: %v", run.ID, err)
	}
	r.runs[run.ID] = stored
	return nil
}

func (r *runRepository) FindByID(ctx context.Context, id string) (*execution.Run, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	run, exists := r.runs[id]
	if !exists {
		return nil, WrapRepositoryError(execution.ErrRunNotFound, "run %s", id)
	}
	return run.Clone()
}

func (r *runRepository) List(ctx context.Context, filter execution.ListFilter) ([]*execution.Run, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	matched := make([]*execution.Run, 0)
	for _, run := range r.runs {
		if filter.Status != "" && run.Status != filter.Status {
			continue
		}
		if filter.WorkflowID != "" && run.WorkflowID != filter.WorkflowID {
			continue
		}
		matched = append(matched, run)
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID > matched[j].ID
	})

	page := paginate(len(matched), filter.Offset, filter.Limit)
	out := make([]*execution.Run, 0, page.end-page.start)
	for _, run := range matched[page.start:page.end] {
		clone, err := run.Clone()
		if err != nil {
			return nil, err
		}
		out = append(out, clone)
	}
	return out, nil
}

type window struct{ start, end int }

func paginate(total, offset, limit int) window {
	if offset < 0 {
		offset = 0
	}
	if offset > total {
		offset = total
	}
	end := total
	if limit > 0 && offset+limit < total {
		end = offset + limit
	}
	return window{start: offset, end: end}
}
