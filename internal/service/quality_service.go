package service

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"tfs-insight/backend/internal/dto"
	"tfs-insight/backend/internal/model"
	"tfs-insight/backend/internal/reconcile"
	"tfs-insight/backend/internal/repository"
	"tfs-insight/backend/pkg/metrics"
)

// QualityService 质量评分业务接口
type QualityService interface {
	// Calculate 为有实际工时、估算 >0 且无质量分的任务按偏差打分并回写
	Calculate(ctx context.Context) (*dto.QualityResult, error)
	// Preview 最多返回 50 个候选及全部候选的预测分布
	Preview(ctx context.Context) (*dto.QualityPreview, error)
}

type qualityService struct {
	repo   *repository.Repository
	locker TaskLocker
	logger *zap.Logger
}

// NewQualityService 创建 QualityService 实例
func NewQualityService(repo *repository.Repository, locker TaskLocker, logger *zap.Logger) QualityService {
	return &qualityService{repo: repo, locker: locker, logger: logger}
}

func (s *qualityService) score(ctx context.Context) ([]reconcile.QualityScore, error) {
	tasks, err := s.repo.Task.ListQualityCandidates(ctx, 0)
	if err != nil {
		s.logger.Error("查询质量候选任务失败", zap.Error(err))
		return nil, err
	}
	cands := make([]reconcile.QualityCandidate, 0, len(tasks))
	for i := range tasks {
		if tasks[i].Estimated == nil {
			continue
		}
		cands = append(cands, reconcile.QualityCandidate{
			TaskID:      tasks[i].TfsID,
			Title:       tasks[i].Title,
			ActualHours: tasks[i].TotalActualHours,
			Estimated:   *tasks[i].Estimated,
		})
	}
	return reconcile.ScoreTasks(cands), nil
}

func (s *qualityService) Preview(ctx context.Context) (*dto.QualityPreview, error) {
	scores, err := s.score(ctx)
	if err != nil {
		return nil, err
	}
	listed := scores
	if len(listed) > reconcile.QualityPreviewLimit {
		listed = listed[:reconcile.QualityPreviewLimit]
	}
	return &dto.QualityPreview{
		CandidateCount: len(scores),
		Candidates:     listed,
		Histogram:      reconcile.ScoreHistogram(scores),
	}, nil
}

func (s *qualityService) Calculate(ctx context.Context) (*dto.QualityResult, error) {
	scores, err := s.score(ctx)
	if err != nil {
		return nil, err
	}

	var (
		updated, failed atomic.Int64
		mu              sync.Mutex
		applied         []reconcile.QualityScore
	)
	g := new(errgroup.Group)
	g.SetLimit(engineWorkers)
	for _, sc := range scores {
		g.Go(func() error {
			ok, err := withLockedTask(ctx, s.repo, s.locker, sc.TaskID, func(task *model.Task) bool {
				// 锁内重新校验：期间已被打分或估算被改动则跳过
				if task.Quality != nil || task.Estimated == nil || *task.Estimated != sc.Estimated {
					return false
				}
				q := sc.Score
				task.Quality = &q
				return true
			})
			switch {
			case err != nil:
				failed.Add(1)
				s.logger.Error("回写质量分失败", zap.Int64("tfs_id", sc.TaskID), zap.Error(err))
			case ok:
				updated.Add(1)
				mu.Lock()
				applied = append(applied, sc)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	out := &dto.QualityResult{
		UpdatedCount: int(updated.Load()),
		FailedCount:  int(failed.Load()),
		Histogram:    reconcile.ScoreHistogram(applied),
	}
	metrics.ObserveEngineUpdates("quality", out.UpdatedCount)
	s.logger.Info("质量评分完成", zap.Int("updated", out.UpdatedCount), zap.Int("failed", out.FailedCount))
	return out, nil
}
