package handler

import "tfs-insight/backend/internal/service"

// Handler 所有 Handler 的聚合入口
type Handler struct {
	Import    *ImportHandler
	Task      *TaskHandler
	Developer *DeveloperHandler
	Engine    *EngineHandler
	Report    *ReportHandler
	Export    *ExportHandler
}

// NewHandler 创建 Handler 聚合
func NewHandler(svc *service.Service) *Handler {
	return &Handler{
		Import:    NewImportHandler(svc.Import),
		Task:      NewTaskHandler(svc.Task),
		Developer: NewDeveloperHandler(svc.Developer),
		Engine:    NewEngineHandler(svc.Estimate, svc.Quality),
		Report:    NewReportHandler(svc.Report),
		Export:    NewExportHandler(svc.Export),
	}
}
