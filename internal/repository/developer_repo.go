package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"tfs-insight/backend/internal/model"
)

// DeveloperRepository 开发者档案数据访问接口
type DeveloperRepository interface {
	// Upsert 按工号插入或覆盖
	Upsert(ctx context.Context, devs []model.Developer) error
	List(ctx context.Context, offset, limit int) ([]model.Developer, int64, error)
	ListAll(ctx context.Context) ([]model.Developer, error)
	DeleteAll(ctx context.Context) (int64, error)
}

type developerRepo struct {
	db *gorm.DB
}

// NewDeveloperRepo 创建 DeveloperRepository 实例
func NewDeveloperRepo(db *gorm.DB) DeveloperRepository {
	return &developerRepo{db: db}
}

func (r *developerRepo) Upsert(ctx context.Context, devs []model.Developer) error {
	if len(devs) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "employee_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "title", "total_hours", "task_count", "updated_at"}),
		}).
		CreateInBatches(devs, 200).Error
}

func (r *developerRepo) List(ctx context.Context, offset, limit int) ([]model.Developer, int64, error) {
	var devs []model.Developer
	var total int64

	db := r.db.WithContext(ctx).Model(&model.Developer{})
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := db.Order("total_hours DESC, name ASC").
		Offset(offset).
		Limit(limit).
		Find(&devs).Error
	return devs, total, err
}

func (r *developerRepo) ListAll(ctx context.Context) ([]model.Developer, error) {
	var devs []model.Developer
	err := r.db.WithContext(ctx).Order("name ASC").Find(&devs).Error
	return devs, err
}

func (r *developerRepo) DeleteAll(ctx context.Context) (int64, error) {
	result := r.db.WithContext(ctx).
		Session(&gorm.Session{AllowGlobalUpdate: true}).
		Delete(&model.Developer{})
	return result.RowsAffected, result.Error
}
