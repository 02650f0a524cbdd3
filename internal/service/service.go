package service

import (
	"go.uber.org/zap"

	"tfs-insight/backend/config"
	"tfs-insight/backend/internal/repository"
)

// Service 所有 Service 的聚合入口
type Service struct {
	Import    ImportService
	Task      TaskService
	Developer DeveloperService
	Estimate  EstimateService
	Quality   QualityService
	Report    ReportService
	Export    ExportService
}

// NewService 创建 Service 聚合
// locker 为 nil 时使用进程内任务锁
func NewService(
	cfg *config.Config,
	repo *repository.Repository,
	locker TaskLocker,
	logger *zap.Logger,
) *Service {
	if locker == nil {
		locker = NewLocalTaskLocker()
	}
	return &Service{
		Import:    NewImportService(&cfg.Reconcile, repo, locker, logger),
		Task:      NewTaskService(repo, locker, logger),
		Developer: NewDeveloperService(repo, logger),
		Estimate:  NewEstimateService(repo, locker, logger),
		Quality:   NewQualityService(repo, locker, logger),
		Report:    NewReportService(repo, logger),
		Export:    NewExportService(repo, logger),
	}
}
