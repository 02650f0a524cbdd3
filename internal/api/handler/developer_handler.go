package handler

import (
	"github.com/gin-gonic/gin"

	"tfs-insight/backend/internal/dto"
	"tfs-insight/backend/internal/service"
	"tfs-insight/backend/pkg/response"
)

// DeveloperHandler 开发者档案 HTTP 处理器
type DeveloperHandler struct {
	devSvc service.DeveloperService
}

// NewDeveloperHandler 创建 DeveloperHandler
func NewDeveloperHandler(devSvc service.DeveloperService) *DeveloperHandler {
	return &DeveloperHandler{devSvc: devSvc}
}

// ListDevelopers GET /api/v1/developers
func (h *DeveloperHandler) ListDevelopers(c *gin.Context) {
	var req dto.PaginationRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BadRequest(c, 10001, "参数校验失败")
		return
	}

	list, total, err := h.devSvc.List(c.Request.Context(), &req)
	if err != nil {
		response.InternalError(c)
		return
	}
	response.OKPage(c, list, total, req.GetPage(), req.GetPageSize())
}
