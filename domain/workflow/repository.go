package workflow

import "context"

// Repository 工作流定义仓储，按 (id, version) 存储
type Repository interface {
	// Save 保存一个已发布版本，同一版本重复保存返回错误
	Save(ctx context.Context, def *Definition) error

	// FindByID 查找最新版本
	FindByID(ctx context.Context, id string) (*Definition, error)

	// FindVersion 查找指定版本
	FindVersion(ctx context.Context, id string, version int) (*Definition, error)

	// FindAll 列出每个工作流的最新版本
	FindAll(ctx context.Context) ([]*Definition, error)
}
