package repository

import (
	"context"
	"encoding/json"
	"strings"

	"gorm.io/gorm"

	"tfs-insight/backend/internal/model"
	pkgerrors "tfs-insight/backend/pkg/errors"
)

// TaskFilter 任务列表筛选条件；nil 表示不筛选
type TaskFilter struct {
	Developer    string
	HasEstimate  *bool
	HasQuality   *bool
	IDNotEntered *bool
	Query        string
}

// TaskRepository 任务数据访问接口
type TaskRepository interface {
	GetByTfsID(ctx context.Context, tfsID int64) (*model.Task, error)
	Create(ctx context.Context, task *model.Task) error
	// Update 带版本校验的全量更新，版本不一致返回 ErrOptimisticLock
	Update(ctx context.Context, task *model.Task) error
	Delete(ctx context.Context, tfsID int64) error
	DeleteAll(ctx context.Context) (int64, error)
	List(ctx context.Context, filter TaskFilter, offset, limit int) ([]model.Task, int64, error)
	ListAll(ctx context.Context) ([]model.Task, error)
	// ExistingTfsIDs 返回 ids 中已存在的集合
	ExistingTfsIDs(ctx context.Context, ids []int64) (map[int64]bool, error)

	// ── 引擎候选集 ──

	// ListEstimateCandidates 实际工时 >0 且无估算
	ListEstimateCandidates(ctx context.Context) ([]model.Task, error)
	// ListQualityCandidates 实际工时 >0、估算 >0 且无质量分；limit ≤0 不限制
	ListQualityCandidates(ctx context.Context, limit int) ([]model.Task, error)
	// ListLowEstimates 估算低于 ceil(实际工时)
	ListLowEstimates(ctx context.Context) ([]model.Task, error)

	// MergeInto 在同一事务中更新 dst 并删除 src
	MergeInto(ctx context.Context, src, dst *model.Task) error
}

// taskRepo TaskRepository 的 GORM 实现
type taskRepo struct {
	db *gorm.DB
}

// NewTaskRepo 创建 TaskRepository 实例
func NewTaskRepo(db *gorm.DB) TaskRepository {
	return &taskRepo{db: db}
}

func (r *taskRepo) GetByTfsID(ctx context.Context, tfsID int64) (*model.Task, error) {
	var task model.Task
	err := r.db.WithContext(ctx).
		Where("tfs_id = ?", tfsID).
		First(&task).Error
	if err != nil {
		return nil, err
	}
	return &task, nil
}

func (r *taskRepo) Create(ctx context.Context, task *model.Task) error {
	return r.db.WithContext(ctx).Create(task).Error
}

func (r *taskRepo) Update(ctx context.Context, task *model.Task) error {
	return updateWithVersion(r.db.WithContext(ctx), task)
}

func updateWithVersion(db *gorm.DB, task *model.Task) error {
	oldVersion := task.Version
	result := db.
		Model(&model.Task{}).
		Where("task_id = ? AND version = ?", task.TaskID, oldVersion).
		Updates(map[string]interface{}{
			"tfs_id":              task.TfsID,
			"id_kind":             task.IDKind,
			"original_tfs_id":     task.OriginalTfsID,
			"id_not_entered":      task.IDNotEntered,
			"title":               task.Title,
			"application":         task.Application,
			"matter_number":       task.MatterNumber,
			"estimated":           task.Estimated,
			"estimate_source":     task.EstimateSource,
			"estimate_group":      task.EstimateGroup,
			"quality":             task.Quality,
			"time_entries":        task.TimeEntries,
			"total_actual_hours":  task.TotalActualHours,
			"developer_breakdown": task.DeveloperBreakdown,
			"breakdown_by_date":   task.BreakdownByDate,
			"last_import_id":      task.LastImportID,
			"version":             oldVersion + 1,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return pkgerrors.ErrOptimisticLock
	}
	task.Version = oldVersion + 1
	return nil
}

func (r *taskRepo) Delete(ctx context.Context, tfsID int64) error {
	result := r.db.WithContext(ctx).
		Where("tfs_id = ?", tfsID).
		Delete(&model.Task{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// DeleteAll 物理删除全部任务（导入时 clear_existing）
func (r *taskRepo) DeleteAll(ctx context.Context) (int64, error) {
	result := r.db.WithContext(ctx).
		Session(&gorm.Session{AllowGlobalUpdate: true}).
		Unscoped().
		Delete(&model.Task{})
	return result.RowsAffected, result.Error
}

func (r *taskRepo) List(ctx context.Context, filter TaskFilter, offset, limit int) ([]model.Task, int64, error) {
	var tasks []model.Task
	var total int64

	db := r.db.WithContext(ctx).Model(&model.Task{})
	db, err := applyTaskFilter(db, filter)
	if err != nil {
		return nil, 0, err
	}

	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err = db.Order("tfs_id DESC").
		Offset(offset).
		Limit(limit).
		Find(&tasks).Error
	return tasks, total, err
}

func applyTaskFilter(db *gorm.DB, f TaskFilter) (*gorm.DB, error) {
	if f.Developer != "" {
		// developer_breakdown 为 [{"developer": "...", "hours": n}] 数组，使用 JSONB 包含查询
		probe, err := json.Marshal([]map[string]string{{"developer": f.Developer}})
		if err != nil {
			return nil, err
		}
		db = db.Where("developer_breakdown @> ?::jsonb", string(probe))
	}
	if f.HasEstimate != nil {
		if *f.HasEstimate {
			db = db.Where("estimated IS NOT NULL")
		} else {
			db = db.Where("estimated IS NULL")
		}
	}
	if f.HasQuality != nil {
		if *f.HasQuality {
			db = db.Where("quality IS NOT NULL")
		} else {
			db = db.Where("quality IS NULL")
		}
	}
	if f.IDNotEntered != nil {
		db = db.Where("id_not_entered = ?", *f.IDNotEntered)
	}
	if q := strings.TrimSpace(f.Query); q != "" {
		db = db.Where("title ILIKE ?", "%"+q+"%")
	}
	return db, nil
}

func (r *taskRepo) ListAll(ctx context.Context) ([]model.Task, error) {
	var tasks []model.Task
	err := r.db.WithContext(ctx).
		Order("tfs_id DESC").
		Find(&tasks).Error
	return tasks, err
}

func (r *taskRepo) ExistingTfsIDs(ctx context.Context, ids []int64) (map[int64]bool, error) {
	out := make(map[int64]bool)
	// PostgreSQL 参数上限 65535，分批查询
	const chunk = 5000
	for start := 0; start < len(ids); start += chunk {
		end := start + chunk
		if end > len(ids) {
			end = len(ids)
		}
		var found []int64
		err := r.db.WithContext(ctx).
			Model(&model.Task{}).
			Where("tfs_id IN ?", ids[start:end]).
			Pluck("tfs_id", &found).Error
		if err != nil {
			return nil, err
		}
		for _, id := range found {
			out[id] = true
		}
	}
	return out, nil
}

func (r *taskRepo) ListEstimateCandidates(ctx context.Context) ([]model.Task, error) {
	var tasks []model.Task
	err := r.db.WithContext(ctx).
		Where("total_actual_hours > 0 AND estimated IS NULL").
		Order("tfs_id DESC").
		Find(&tasks).Error
	return tasks, err
}

func (r *taskRepo) ListQualityCandidates(ctx context.Context, limit int) ([]model.Task, error) {
	var tasks []model.Task
	db := r.db.WithContext(ctx).
		Where("total_actual_hours > 0 AND estimated > 0 AND quality IS NULL").
		Order("tfs_id DESC")
	if limit > 0 {
		db = db.Limit(limit)
	}
	err := db.Find(&tasks).Error
	return tasks, err
}

func (r *taskRepo) ListLowEstimates(ctx context.Context) ([]model.Task, error) {
	var tasks []model.Task
	err := r.db.WithContext(ctx).
		Where("estimated IS NOT NULL AND estimated < CEIL(total_actual_hours)").
		Order("tfs_id DESC").
		Find(&tasks).Error
	return tasks, err
}

func (r *taskRepo) MergeInto(ctx context.Context, src, dst *model.Task) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 先删除 src，避免 dst 更新时与 src 的 tfs_id 冲突
		if err := tx.Where("task_id = ?", src.TaskID).Delete(&model.Task{}).Error; err != nil {
			return err
		}
		return updateWithVersion(tx, dst)
	})
}
