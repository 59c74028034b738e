package execution

import "context"

// ListFilter 运行列表过滤条件
type ListFilter struct {
	Status     Status
	WorkflowID string
	Limit      int
	Offset     int
}

// Repository 运行仓储
// Save 使用 Version 做乐观锁：存储中的版本与 run.Version 不一致时返回 ErrVersionConflict，
// 成功后 run.Version 加一
type Repository interface {
	// Create 新建运行
	Create(ctx context.Context, run *Run) error

	// Save 条件更新运行
	Save(ctx context.Context, run *Run) error

	// FindByID 根据ID查找运行
	FindByID(ctx context.Context, id string) (*Run, error)

	// List 按创建时间倒序列出运行
	List(ctx context.Context, filter ListFilter) ([]*Run, error)
}
