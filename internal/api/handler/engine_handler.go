package handler

import (
	"errors"

	"github.com/gin-gonic/gin"

	"tfs-insight/backend/internal/dto"
	"tfs-insight/backend/internal/service"
	"tfs-insight/backend/pkg/response"
)

// EngineHandler 估算与质量评分 HTTP 处理器
type EngineHandler struct {
	estimateSvc service.EstimateService
	qualitySvc  service.QualityService
}

// NewEngineHandler 创建 EngineHandler
func NewEngineHandler(estimateSvc service.EstimateService, qualitySvc service.QualityService) *EngineHandler {
	return &EngineHandler{estimateSvc: estimateSvc, qualitySvc: qualitySvc}
}

// CalculateEstimates 按分组重算估算
// POST /api/v1/estimates/calculate  body: {"group_by": "developer" | "matter"}
func (h *EngineHandler) CalculateEstimates(c *gin.Context) {
	var req dto.CalculateEstimatesRequest
	// 空 body 视为默认分组
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, 22001, "group_by 只能为 developer 或 matter")
			return
		}
	}

	result, err := h.estimateSvc.Calculate(c.Request.Context(), req.GroupBy)
	if err != nil {
		handleEngineError(c, err)
		return
	}
	response.OK(c, result)
}

// PreviewEstimates GET /api/v1/estimates/preview?group_by=
func (h *EngineHandler) PreviewEstimates(c *gin.Context) {
	var req dto.CalculateEstimatesRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BadRequest(c, 22001, "group_by 只能为 developer 或 matter")
		return
	}

	result, err := h.estimateSvc.Preview(c.Request.Context(), req.GroupBy)
	if err != nil {
		handleEngineError(c, err)
		return
	}
	response.OK(c, result)
}

// FixLowEstimates POST /api/v1/estimates/fix-low
func (h *EngineHandler) FixLowEstimates(c *gin.Context) {
	result, err := h.estimateSvc.FixLow(c.Request.Context())
	if err != nil {
		handleEngineError(c, err)
		return
	}
	response.OK(c, result)
}

// PreviewFixLow GET /api/v1/estimates/fix-low/preview
func (h *EngineHandler) PreviewFixLow(c *gin.Context) {
	result, err := h.estimateSvc.FixLowPreview(c.Request.Context())
	if err != nil {
		handleEngineError(c, err)
		return
	}
	response.OK(c, result)
}

// CalculateQuality POST /api/v1/quality/calculate
func (h *EngineHandler) CalculateQuality(c *gin.Context) {
	result, err := h.qualitySvc.Calculate(c.Request.Context())
	if err != nil {
		handleEngineError(c, err)
		return
	}
	response.OK(c, result)
}

// PreviewQuality GET /api/v1/quality/preview
func (h *EngineHandler) PreviewQuality(c *gin.Context) {
	result, err := h.qualitySvc.Preview(c.Request.Context())
	if err != nil {
		handleEngineError(c, err)
		return
	}
	response.OK(c, result)
}

func handleEngineError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidGroupBy):
		response.BadRequest(c, 22001, "group_by 只能为 developer 或 matter")
	default:
		response.InternalError(c)
	}
}
