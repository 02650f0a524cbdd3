package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"tfs-insight/backend/internal/dto"
	"tfs-insight/backend/internal/service"
	"tfs-insight/backend/pkg/response"
)

// ImportHandler 导入模块 HTTP 处理器
type ImportHandler struct {
	importSvc service.ImportService
}

// NewImportHandler 创建 ImportHandler
func NewImportHandler(importSvc service.ImportService) *ImportHandler {
	return &ImportHandler{importSvc: importSvc}
}

// Import 上传工时表并导入
// POST /api/v1/imports  multipart/form-data: file, clear_existing, policy
func (h *ImportHandler) Import(c *gin.Context) {
	var req dto.ImportRequest
	if err := c.ShouldBind(&req); err != nil {
		badUpload(c, err, "参数校验失败")
		return
	}

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		badUpload(c, err, "请上传 Excel 文件（字段名 file）")
		return
	}
	defer file.Close()

	result, err := h.importSvc.Import(c.Request.Context(), file, header.Filename, &req)
	if err != nil {
		if result != nil {
			response.ErrorWithData(c, http.StatusInternalServerError, 20006, err.Error(), result)
			return
		}
		handleImportError(c, err)
		return
	}
	response.Created(c, result)
}

// Preview 只解析与计算，不写库
// POST /api/v1/imports/preview
func (h *ImportHandler) Preview(c *gin.Context) {
	var req dto.ImportRequest
	if err := c.ShouldBind(&req); err != nil {
		badUpload(c, err, "参数校验失败")
		return
	}

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		badUpload(c, err, "请上传 Excel 文件（字段名 file）")
		return
	}
	defer file.Close()

	preview, err := h.importSvc.Preview(c.Request.Context(), file, header.Filename, &req)
	if err != nil {
		handleImportError(c, err)
		return
	}
	response.OK(c, preview)
}

// ListImports 导入历史
// GET /api/v1/imports
func (h *ImportHandler) ListImports(c *gin.Context) {
	var req dto.PaginationRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BadRequest(c, 10001, "参数校验失败")
		return
	}

	list, total, err := h.importSvc.List(c.Request.Context(), &req)
	if err != nil {
		response.InternalError(c)
		return
	}
	response.OKPage(c, list, total, req.GetPage(), req.GetPageSize())
}

// GetImport 单次导入详情（含问题列表）
// GET /api/v1/imports/:id
func (h *ImportHandler) GetImport(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		response.BadRequest(c, 10001, "导入ID不能为空")
		return
	}

	batch, err := h.importSvc.GetByID(c.Request.Context(), id)
	if err != nil {
		handleImportError(c, err)
		return
	}
	response.OK(c, batch)
}

// badUpload 缺少文件字段或请求体超限
func badUpload(c *gin.Context, err error, msg string) {
	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) {
		response.Error(c, http.StatusRequestEntityTooLarge, 10005, "请求体过大")
		return
	}
	response.BadRequest(c, 20000, msg)
}

// handleImportError 统一处理导入模块业务错误
func handleImportError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrImportUnreadable):
		response.ErrorWithDetails(c, http.StatusBadRequest, 20001, "无法解析 Excel 文件", err.Error())
	case errors.Is(err, service.ErrImportSheetMissing):
		response.Unprocessable(c, 20002, "缺少必要的工作表", err.Error())
	case errors.Is(err, service.ErrImportBadHeader):
		response.Unprocessable(c, 20003, "表头与约定列名不一致", err.Error())
	case errors.Is(err, service.ErrImportNoData):
		response.Unprocessable(c, 20004, "工时表无数据行", err.Error())
	case errors.Is(err, service.ErrImportInvalidArg):
		response.BadRequest(c, 20005, "无效的分组策略")
	case errors.Is(err, service.ErrImportNotFound):
		response.NotFound(c, 20007, "导入记录不存在")
	default:
		response.InternalError(c)
	}
}
