package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"tfs-insight/backend/internal/dto"
	"tfs-insight/backend/internal/model"
	"tfs-insight/backend/internal/reconcile"
	"tfs-insight/backend/internal/repository"
	pkgerrors "tfs-insight/backend/pkg/errors"
)

// ── 任务模块业务错误 ──

var (
	ErrTaskNotFound   = errors.New("任务不存在")
	ErrTaskIDConflict = errors.New("目标任务 ID 已存在，如需合并请设置 merge=true")
)

// EstimateSourceManual 手工编辑的估算
const EstimateSourceManual = "manual"

// TaskService 任务业务接口
type TaskService interface {
	List(ctx context.Context, req *dto.TaskListRequest) ([]dto.TaskSummaryResponse, int64, error)
	Get(ctx context.Context, tfsID int64) (*dto.TaskDetailResponse, error)
	Update(ctx context.Context, tfsID int64, req *dto.UpdateTaskRequest) (*dto.TaskDetailResponse, error)
	Delete(ctx context.Context, tfsID int64) error
}

type taskService struct {
	repo   *repository.Repository
	locker TaskLocker
	logger *zap.Logger
}

// NewTaskService 创建 TaskService 实例
func NewTaskService(repo *repository.Repository, locker TaskLocker, logger *zap.Logger) TaskService {
	return &taskService{repo: repo, locker: locker, logger: logger}
}

// ────────────────────── List ──────────────────────

func (s *taskService) List(ctx context.Context, req *dto.TaskListRequest) ([]dto.TaskSummaryResponse, int64, error) {
	filter := repository.TaskFilter{
		Developer:    strings.TrimSpace(req.Developer),
		HasEstimate:  req.HasEstimate,
		HasQuality:   req.HasQuality,
		IDNotEntered: req.IDNotEntered,
		Query:        req.Query,
	}
	tasks, total, err := s.repo.Task.List(ctx, filter, req.GetOffset(), req.GetPageSize())
	if err != nil {
		s.logger.Error("查询任务列表失败", zap.Error(err))
		return nil, 0, err
	}

	list := make([]dto.TaskSummaryResponse, 0, len(tasks))
	for i := range tasks {
		list = append(list, toTaskSummary(&tasks[i]))
	}
	return list, total, nil
}

// ────────────────────── Get ──────────────────────

func (s *taskService) Get(ctx context.Context, tfsID int64) (*dto.TaskDetailResponse, error) {
	task, err := s.repo.Task.GetByTfsID(ctx, tfsID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTaskNotFound
		}
		s.logger.Error("查询任务失败", zap.Int64("tfs_id", tfsID), zap.Error(err))
		return nil, err
	}
	return toTaskDetail(task), nil
}

// ────────────────────── Update ──────────────────────

func (s *taskService) Update(ctx context.Context, tfsID int64, req *dto.UpdateTaskRequest) (*dto.TaskDetailResponse, error) {
	if req.NewTfsID != nil && *req.NewTfsID != tfsID {
		return s.changeID(ctx, tfsID, *req.NewTfsID, req)
	}

	unlock, err := s.locker.Lock(ctx, tfsID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	task, err := s.load(ctx, tfsID, req.Version)
	if err != nil {
		return nil, err
	}
	applyManualEdits(task, req)

	if err := s.repo.Task.Update(ctx, task); err != nil {
		if !errors.Is(err, pkgerrors.ErrOptimisticLock) {
			s.logger.Error("更新任务失败", zap.Int64("tfs_id", tfsID), zap.Error(err))
		}
		return nil, err
	}
	return toTaskDetail(task), nil
}

// load 读取任务并校验客户端持有的版本
func (s *taskService) load(ctx context.Context, tfsID int64, version int) (*model.Task, error) {
	task, err := s.repo.Task.GetByTfsID(ctx, tfsID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTaskNotFound
		}
		return nil, err
	}
	if task.Version != version {
		return nil, pkgerrors.ErrOptimisticLock
	}
	return task, nil
}

func applyManualEdits(task *model.Task, req *dto.UpdateTaskRequest) {
	if req.Title != nil {
		task.Title = strings.TrimSpace(*req.Title)
	}
	if req.Application != nil {
		task.Application = strings.TrimSpace(*req.Application)
	}
	if req.Estimated != nil {
		v := *req.Estimated
		task.Estimated = &v
		task.EstimateSource = EstimateSourceManual
		task.EstimateGroup = ""
	}
	if req.Quality != nil {
		q := *req.Quality
		task.Quality = &q
	}
}

// changeID 修改任务 ID；目标已存在时仅在 merge=true 时合并时间条目
func (s *taskService) changeID(ctx context.Context, fromID, toID int64, req *dto.UpdateTaskRequest) (*dto.TaskDetailResponse, error) {
	unlock, err := lockPair(ctx, s.locker, fromID, toID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	src, err := s.load(ctx, fromID, req.Version)
	if err != nil {
		return nil, err
	}

	dst, err := s.repo.Task.GetByTfsID(ctx, toID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	if dst == nil {
		applyManualEdits(src, req)
		src.TfsID = toID
		src.IDKind = reconcile.KeyRecovered.String()
		src.OriginalTfsID = nil
		src.IDNotEntered = false
		src.Title = strings.TrimSpace(strings.TrimPrefix(src.Title, reconcile.NotEnteredMarker))
		if err := s.repo.Task.Update(ctx, src); err != nil {
			s.logger.Error("修改任务 ID 失败", zap.Int64("from", fromID), zap.Int64("to", toID), zap.Error(err))
			return nil, err
		}
		s.logger.Info("任务 ID 已修改", zap.Int64("from", fromID), zap.Int64("to", toID))
		return toTaskDetail(src), nil
	}

	if !req.Merge {
		return nil, ErrTaskIDConflict
	}

	mergeTasks(dst, src)
	applyManualEdits(dst, req)
	if err := s.repo.Task.MergeInto(ctx, src, dst); err != nil {
		s.logger.Error("合并任务失败", zap.Int64("from", fromID), zap.Int64("to", toID), zap.Error(err))
		return nil, err
	}
	s.logger.Info("任务已合并", zap.Int64("from", fromID), zap.Int64("to", toID))
	return toTaskDetail(dst), nil
}

// mergeTasks 将 src 的时间条目并入 dst 并重新汇总；dst 已有的估算/质量优先
func mergeTasks(dst, src *model.Task) {
	entries := append(append([]reconcile.TimeEntry{}, dst.Entries()...), src.Entries()...)
	total, bd, byDate := reconcile.Rollup(entries)
	dst.TimeEntries = datatypes.NewJSONType(entries)
	dst.TotalActualHours = total
	dst.DeveloperBreakdown = datatypes.NewJSONType(bd)
	dst.BreakdownByDate = datatypes.NewJSONType(byDate)

	if dst.Estimated == nil && src.Estimated != nil {
		v := *src.Estimated
		dst.Estimated = &v
		dst.EstimateSource = src.EstimateSource
		dst.EstimateGroup = src.EstimateGroup
	}
	if dst.Quality == nil && src.Quality != nil {
		q := *src.Quality
		dst.Quality = &q
	}
	if dst.Title == "" {
		dst.Title = src.Title
	}
	if dst.MatterNumber == "" {
		dst.MatterNumber = src.MatterNumber
	}
}

// ────────────────────── Delete ──────────────────────

func (s *taskService) Delete(ctx context.Context, tfsID int64) error {
	unlock, err := s.locker.Lock(ctx, tfsID)
	if err != nil {
		return err
	}
	defer unlock()

	if err := s.repo.Task.Delete(ctx, tfsID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrTaskNotFound
		}
		s.logger.Error("删除任务失败", zap.Int64("tfs_id", tfsID), zap.Error(err))
		return err
	}
	s.logger.Info("任务已删除", zap.Int64("tfs_id", tfsID))
	return nil
}

// ── 转换 ──

func toTaskSummary(t *model.Task) dto.TaskSummaryResponse {
	return dto.TaskSummaryResponse{
		TfsID:            t.TfsID,
		IDKind:           t.IDKind,
		OriginalTfsID:    t.OriginalTfsID,
		IDNotEntered:     t.IDNotEntered,
		Title:            t.Title,
		Application:      t.Application,
		PrimaryDeveloper: t.PrimaryDeveloper(),
		Estimated:        t.Estimated,
		EstimateSource:   t.EstimateSource,
		Quality:          t.Quality,
		TotalActualHours: t.TotalActualHours,
		EntryCount:       len(t.Entries()),
		Version:          t.Version,
		UpdatedAt:        t.UpdatedAt.Format(time.RFC3339),
	}
}

func toTaskDetail(t *model.Task) *dto.TaskDetailResponse {
	entries := t.Entries()
	if entries == nil {
		entries = []reconcile.TimeEntry{}
	}
	bd := t.Breakdown()
	if bd == nil {
		bd = reconcile.Breakdown{}
	}
	byDate := t.BreakdownByDate.Data()
	if byDate == nil {
		byDate = reconcile.DateBreakdown{}
	}
	return &dto.TaskDetailResponse{
		TaskSummaryResponse: toTaskSummary(t),
		MatterNumber:        t.MatterNumber,
		EstimateGroup:       t.EstimateGroup,
		TimeEntries:         entries,
		DeveloperBreakdown:  bd,
		BreakdownByDate:     byDate,
		CreatedAt:           t.CreatedAt.Format(time.RFC3339),
	}
}
