package repository

import (
	"context"

	"gorm.io/gorm"

	"tfs-insight/backend/internal/model"
)

// ImportBatchRepository 导入批次日志数据访问接口
type ImportBatchRepository interface {
	Create(ctx context.Context, batch *model.ImportBatch) error
	Update(ctx context.Context, batch *model.ImportBatch) error
	GetByID(ctx context.Context, id string) (*model.ImportBatch, error)
	List(ctx context.Context, offset, limit int) ([]model.ImportBatch, int64, error)
}

type importBatchRepo struct {
	db *gorm.DB
}

// NewImportBatchRepo 创建 ImportBatchRepository 实例
func NewImportBatchRepo(db *gorm.DB) ImportBatchRepository {
	return &importBatchRepo{db: db}
}

func (r *importBatchRepo) Create(ctx context.Context, batch *model.ImportBatch) error {
	return r.db.WithContext(ctx).Create(batch).Error
}

func (r *importBatchRepo) Update(ctx context.Context, batch *model.ImportBatch) error {
	return r.db.WithContext(ctx).Save(batch).Error
}

func (r *importBatchRepo) GetByID(ctx context.Context, id string) (*model.ImportBatch, error) {
	var batch model.ImportBatch
	err := r.db.WithContext(ctx).
		Where("import_id = ?", id).
		First(&batch).Error
	if err != nil {
		return nil, err
	}
	return &batch, nil
}

func (r *importBatchRepo) List(ctx context.Context, offset, limit int) ([]model.ImportBatch, int64, error) {
	var batches []model.ImportBatch
	var total int64

	db := r.db.WithContext(ctx).Model(&model.ImportBatch{})
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	// 列表不返回 issues 明细
	err := db.Omit("issues").
		Order("started_at DESC").
		Offset(offset).
		Limit(limit).
		Find(&batches).Error
	return batches, total, err
}
