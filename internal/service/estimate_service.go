package service

import (
	"context"
	"errors"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"tfs-insight/backend/internal/dto"
	"tfs-insight/backend/internal/model"
	"tfs-insight/backend/internal/reconcile"
	"tfs-insight/backend/internal/repository"
	"tfs-insight/backend/pkg/metrics"
)

// ── 估算模块业务错误 ──

var (
	ErrInvalidGroupBy = errors.New("group_by 只能为 developer 或 matter")
)

// engineWorkers 引擎回写的并发度（任务之间无共享状态）
const engineWorkers = 4

// EstimateService 估算业务接口
type EstimateService interface {
	// Calculate 为无估算且有实际工时的任务计算钟形曲线估算并回写
	Calculate(ctx context.Context, groupBy string) (*dto.EstimateResult, error)
	// Preview 与 Calculate 相同的统计，不写库
	Preview(ctx context.Context, groupBy string) (*dto.EstimateResult, error)
	// FixLow 将低于 ceil(实际工时) 的估算上调，可重复执行
	FixLow(ctx context.Context) (*dto.FixLowResult, error)
	FixLowPreview(ctx context.Context) (*dto.FixLowResult, error)
}

type estimateService struct {
	repo   *repository.Repository
	locker TaskLocker
	logger *zap.Logger
}

// NewEstimateService 创建 EstimateService 实例
func NewEstimateService(repo *repository.Repository, locker TaskLocker, logger *zap.Logger) EstimateService {
	return &estimateService{repo: repo, locker: locker, logger: logger}
}

func (s *estimateService) plan(ctx context.Context, groupBy string) (reconcile.EstimatePlan, error) {
	by, err := reconcile.ParseGroupBy(groupBy)
	if err != nil {
		return reconcile.EstimatePlan{}, ErrInvalidGroupBy
	}
	tasks, err := s.repo.Task.ListEstimateCandidates(ctx)
	if err != nil {
		s.logger.Error("查询估算候选任务失败", zap.Error(err))
		return reconcile.EstimatePlan{}, err
	}
	cands := make([]reconcile.EstimateCandidate, 0, len(tasks))
	for i := range tasks {
		cands = append(cands, reconcile.EstimateCandidate{
			TaskID:       tasks[i].TfsID,
			ActualHours:  tasks[i].TotalActualHours,
			Breakdown:    tasks[i].Breakdown(),
			MatterNumber: tasks[i].MatterNumber,
		})
	}
	return reconcile.PlanEstimates(cands, by), nil
}

func toEstimateResult(p reconcile.EstimatePlan) *dto.EstimateResult {
	groups := p.Groups
	if groups == nil {
		groups = []reconcile.GroupStats{}
	}
	return &dto.EstimateResult{
		GroupBy:    string(p.GroupBy),
		GroupCount: len(groups),
		Groups:     groups,
	}
}

// ────────────────────── Preview ──────────────────────

func (s *estimateService) Preview(ctx context.Context, groupBy string) (*dto.EstimateResult, error) {
	p, err := s.plan(ctx, groupBy)
	if err != nil {
		return nil, err
	}
	out := toEstimateResult(p)
	out.Tasks = p.Tasks
	return out, nil
}

// ────────────────────── Calculate ──────────────────────

func (s *estimateService) Calculate(ctx context.Context, groupBy string) (*dto.EstimateResult, error) {
	p, err := s.plan(ctx, groupBy)
	if err != nil {
		return nil, err
	}

	var updated, failed atomic.Int64
	g := new(errgroup.Group)
	g.SetLimit(engineWorkers)
	for _, te := range p.Tasks {
		g.Go(func() error {
			ok, err := s.applyEstimate(ctx, te)
			switch {
			case err != nil:
				failed.Add(1)
				s.logger.Error("回写估算失败", zap.Int64("tfs_id", te.TaskID), zap.Error(err))
			case ok:
				updated.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	out := toEstimateResult(p)
	out.UpdatedCount = int(updated.Load())
	out.FailedCount = int(failed.Load())
	metrics.ObserveEngineUpdates("estimate", out.UpdatedCount)

	s.logger.Info("估算计算完成",
		zap.String("group_by", out.GroupBy),
		zap.Int("groups", out.GroupCount),
		zap.Int("updated", out.UpdatedCount),
		zap.Int("failed", out.FailedCount),
	)
	return out, nil
}

// applyEstimate 锁内重新读取，期间已被设置估算的任务跳过
func (s *estimateService) applyEstimate(ctx context.Context, te reconcile.TaskEstimate) (bool, error) {
	return s.withTask(ctx, te.TaskID, func(task *model.Task) bool {
		if task.Estimated != nil {
			return false
		}
		v := te.Estimate
		task.Estimated = &v
		task.EstimateSource = reconcile.EstimateSourceBellCurve
		task.EstimateGroup = te.GroupKey
		return true
	})
}

// withTask 在任务锁内加载任务，mutate 返回 true 时写回
func (s *estimateService) withTask(ctx context.Context, tfsID int64, mutate func(*model.Task) bool) (bool, error) {
	return withLockedTask(ctx, s.repo, s.locker, tfsID, mutate)
}

func withLockedTask(ctx context.Context, repo *repository.Repository, locker TaskLocker, tfsID int64, mutate func(*model.Task) bool) (bool, error) {
	unlock, err := locker.Lock(ctx, tfsID)
	if err != nil {
		return false, err
	}
	defer unlock()

	task, err := repo.Task.GetByTfsID(ctx, tfsID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, err
	}
	if !mutate(task) {
		return false, nil
	}
	if err := repo.Task.Update(ctx, task); err != nil {
		return false, err
	}
	return true, nil
}

// ────────────────────── FixLow ──────────────────────

func (s *estimateService) lowEstimates(ctx context.Context) ([]dto.LowEstimate, error) {
	tasks, err := s.repo.Task.ListLowEstimates(ctx)
	if err != nil {
		s.logger.Error("查询低估任务失败", zap.Error(err))
		return nil, err
	}
	out := make([]dto.LowEstimate, 0, len(tasks))
	for i := range tasks {
		t := &tasks[i]
		if t.Estimated == nil {
			continue
		}
		v, changed := reconcile.FixLowEstimate(*t.Estimated, t.TotalActualHours)
		if !changed {
			continue
		}
		out = append(out, dto.LowEstimate{
			TfsID:       t.TfsID,
			Title:       t.Title,
			Estimated:   *t.Estimated,
			ActualHours: t.TotalActualHours,
			NewEstimate: v,
		})
	}
	return out, nil
}

func (s *estimateService) FixLowPreview(ctx context.Context) (*dto.FixLowResult, error) {
	low, err := s.lowEstimates(ctx)
	if err != nil {
		return nil, err
	}
	return &dto.FixLowResult{Tasks: low}, nil
}

func (s *estimateService) FixLow(ctx context.Context) (*dto.FixLowResult, error) {
	low, err := s.lowEstimates(ctx)
	if err != nil {
		return nil, err
	}

	var fixed, failed atomic.Int64
	g := new(errgroup.Group)
	g.SetLimit(engineWorkers)
	for _, le := range low {
		g.Go(func() error {
			ok, err := s.withTask(ctx, le.TfsID, func(task *model.Task) bool {
				if task.Estimated == nil {
					return false
				}
				v, changed := reconcile.FixLowEstimate(*task.Estimated, task.TotalActualHours)
				if !changed {
					return false
				}
				task.Estimated = &v
				task.EstimateSource = reconcile.EstimateSourceLowFix
				return true
			})
			switch {
			case err != nil:
				failed.Add(1)
				s.logger.Error("修正低估失败", zap.Int64("tfs_id", le.TfsID), zap.Error(err))
			case ok:
				fixed.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	out := &dto.FixLowResult{FixedCount: int(fixed.Load()), FailedCount: int(failed.Load())}
	metrics.ObserveEngineUpdates("fix_low", out.FixedCount)
	s.logger.Info("低估修正完成", zap.Int("fixed", out.FixedCount), zap.Int("failed", out.FailedCount))
	return out, nil
}
