package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/XXueTu/graph_automation/domain/workflow"
)

// workflowRepository 内存工作流定义仓储，按 (id, version) 存储
type workflowRepository struct {
	versions map[string]map[int]*workflow.Definition
	mutex    sync.RWMutex
}

// NewWorkflowRepository 创建内存工作流仓储
func NewWorkflowRepository() workflow.Repository {
	return &workflowRepository{
		versions: make(map[string]map[int]*workflow.Definition),
	}
}

// Save 保存一个版本
func (r *workflowRepository) Save(ctx context.Context, def *workflow.Definition) error {
	stored, err := def.Clone()
	if err != nil {
		return NewRepositoryErrorf("clone definition %s: %v", def.ID, err)
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	byVersion, exists := r.versions[def.ID]
	if !exists {
		byVersion = make(map[int]*workflow.Definition)
		r.versions[def.ID] = byVersion
	}
	if _, exists := byVersion[def.Version]; exists {
		return NewRepositoryErrorf("workflow %s version %d already exists", def.ID, def.Version)
	}
	byVersion[def.Version] = stored
	return nil
}

// FindByID 查找最新版本
func (r *workflowRepository) FindByID(ctx context.Context, id string) (*workflow.Definition, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	def := latest(r.versions[id])
	if def == nil {
		return nil, WrapRepositoryError(workflow.ErrDefinitionNotFound, "workflow %s", id)
	}
	return def.Clone()
}

// FindVersion 查找指定版本
func (r *workflowRepository) FindVersion(ctx context.Context, id string, version int) (*workflow.Definition, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	def, exists := r.versions[id][version]
	if !exists {
		return nil, WrapRepositoryError(workflow.ErrDefinitionNotFound, "workflow %s version %d", id, version)
	}
	return def.Clone()
}

// FindAll 每个工作流的最新版本
func (r *workflowRepository) FindAll(ctx context.Context) ([]*workflow.Definition, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	defs := make([]*workflow.Definition, 0, len(r.versions))
	for _, byVersion := range r.versions {
		def, err := latest(byVersion).Clone()
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].ID < defs[j].ID })
	return defs, nil
}

func latest(byVersion map[int]*workflow.Definition) *workflow.Definition {
	var found *workflow.Definition
	for version, def := range byVersion {
		if found == nil || version > found.Version {
			found = def
		}
	}
	return found
}
