package handler

import (
	"github.com/gin-gonic/gin"

	"tfs-insight/backend/internal/service"
	"tfs-insight/backend/pkg/response"
)

// ReportHandler 报表 HTTP 处理器
type ReportHandler struct {
	reportSvc service.ReportService
}

// NewReportHandler 创建 ReportHandler
func NewReportHandler(reportSvc service.ReportService) *ReportHandler {
	return &ReportHandler{reportSvc: reportSvc}
}

// Summary GET /api/v1/reports/summary
func (h *ReportHandler) Summary(c *gin.Context) {
	rep, err := h.reportSvc.Summary(c.Request.Context())
	if err != nil {
		response.InternalError(c)
		return
	}
	response.OK(c, rep)
}

// Developers GET /api/v1/reports/developers
func (h *ReportHandler) Developers(c *gin.Context) {
	list, err := h.reportSvc.Developers(c.Request.Context())
	if err != nil {
		response.InternalError(c)
		return
	}
	response.OK(c, gin.H{"list": list})
}
