package repository

import (
	"context"

	"gorm.io/gorm"
)

// Repository 所有 Repository 的聚合入口
type Repository struct {
	Task        TaskRepository
	Developer   DeveloperRepository
	ImportBatch ImportBatchRepository

	db *gorm.DB
}

// NewRepository 创建 Repository 聚合
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{
		Task:        NewTaskRepo(db),
		Developer:   NewDeveloperRepo(db),
		ImportBatch: NewImportBatchRepo(db),
		db:          db,
	}
}

// Ping 数据库健康检查；测试中以 mock 构造的聚合没有连接，直接返回 nil
func (r *Repository) Ping(ctx context.Context) error {
	if r.db == nil {
		return nil
	}
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
