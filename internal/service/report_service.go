package service

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"tfs-insight/backend/internal/dto"
	"tfs-insight/backend/internal/reconcile"
	"tfs-insight/backend/internal/repository"
)

// ReportService 汇总报表
type ReportService interface {
	Summary(ctx context.Context) (*dto.SummaryReport, error)
	Developers(ctx context.Context) ([]dto.DeveloperReport, error)
}

type reportService struct {
	repo   *repository.Repository
	logger *zap.Logger
}

// NewReportService 创建 ReportService 实例
func NewReportService(repo *repository.Repository, logger *zap.Logger) ReportService {
	return &reportService{repo: repo, logger: logger}
}

func (s *reportService) Summary(ctx context.Context) (*dto.SummaryReport, error) {
	tasks, err := s.repo.Task.ListAll(ctx)
	if err != nil {
		s.logger.Error("查询任务失败", zap.Error(err))
		return nil, err
	}

	rep := &dto.SummaryReport{
		TaskCount:        len(tasks),
		QualityHistogram: map[int]int{1: 0, 2: 0, 3: 0, 4: 0, 5: 0},
	}
	var actual, estimated, pairedActual, pairedEstimate decimal.Decimal
	qualitySum := 0
	for i := range tasks {
		t := &tasks[i]
		if t.IDKind == reconcile.KeyPlaceholder.String() {
			rep.PlaceholderCount++
		}
		if t.IDNotEntered {
			rep.IDNotEnteredCount++
		}
		actual = actual.Add(decimal.NewFromFloat(t.TotalActualHours))
		if t.Estimated != nil {
			rep.EstimatedCount++
			estimated = estimated.Add(decimal.NewFromFloat(*t.Estimated))
			if t.TotalActualHours > 0 && *t.Estimated > 0 {
				pairedActual = pairedActual.Add(decimal.NewFromFloat(t.TotalActualHours))
				pairedEstimate = pairedEstimate.Add(decimal.NewFromFloat(*t.Estimated))
			}
		}
		if t.Quality != nil {
			rep.QualityCount++
			rep.QualityHistogram[*t.Quality]++
			qualitySum += *t.Quality
		}
	}

	rep.TotalActualHours = actual.Round(2).InexactFloat64()
	rep.TotalEstimated = estimated.Round(2).InexactFloat64()
	if rep.TaskCount > 0 {
		rep.EstimateCoverage = ratio(rep.EstimatedCount, rep.TaskCount)
		rep.QualityCoverage = ratio(rep.QualityCount, rep.TaskCount)
	}
	if rep.QualityCount > 0 {
		rep.AverageQuality = ratio(qualitySum, rep.QualityCount)
	}
	if pairedEstimate.IsPositive() {
		rep.EstimatedVsActual = pairedActual.DivRound(pairedEstimate, 4).InexactFloat64()
	}
	return rep, nil
}

func (s *reportService) Developers(ctx context.Context) ([]dto.DeveloperReport, error) {
	tasks, err := s.repo.Task.ListAll(ctx)
	if err != nil {
		s.logger.Error("查询任务失败", zap.Error(err))
		return nil, err
	}

	type acc struct {
		hours      decimal.Decimal
		tasks      int
		primary    int
		scored     int
		qualitySum int
	}
	byDev := make(map[string]*acc)
	get := func(dev string) *acc {
		a, ok := byDev[dev]
		if !ok {
			a = &acc{}
			byDev[dev] = a
		}
		return a
	}

	for i := range tasks {
		t := &tasks[i]
		for _, dh := range t.Breakdown() {
			a := get(dh.Developer)
			a.hours = a.hours.Add(decimal.NewFromFloat(dh.Hours))
			a.tasks++
		}
		// 质量分归属于主开发者
		if dev := t.PrimaryDeveloper(); dev != "" {
			a := get(dev)
			a.primary++
			if t.Quality != nil {
				a.scored++
				a.qualitySum += *t.Quality
			}
		}
	}

	out := make([]dto.DeveloperReport, 0, len(byDev))
	for dev, a := range byDev {
		r := dto.DeveloperReport{
			Developer:    dev,
			TotalHours:   a.hours.Round(2).InexactFloat64(),
			TaskCount:    a.tasks,
			PrimaryCount: a.primary,
			ScoredCount:  a.scored,
		}
		if a.scored > 0 {
			r.AverageQuality = ratio(a.qualitySum, a.scored)
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TotalHours != out[j].TotalHours {
			return out[i].TotalHours > out[j].TotalHours
		}
		return out[i].Developer < out[j].Developer
	})
	return out, nil
}

// ratio 保留 4 位小数
func ratio(num, den int) float64 {
	return decimal.NewFromInt(int64(num)).DivRound(decimal.NewFromInt(int64(den)), 4).InexactFloat64()
}
