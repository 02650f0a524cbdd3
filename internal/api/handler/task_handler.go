package handler

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"

	"tfs-insight/backend/internal/dto"
	"tfs-insight/backend/internal/service"
	pkgerrors "tfs-insight/backend/pkg/errors"
	"tfs-insight/backend/pkg/response"
)

// TaskHandler 任务模块 HTTP 处理器
type TaskHandler struct {
	taskSvc service.TaskService
}

// NewTaskHandler 创建 TaskHandler
func NewTaskHandler(taskSvc service.TaskService) *TaskHandler {
	return &TaskHandler{taskSvc: taskSvc}
}

// ListTasks 任务列表
// GET /api/v1/tasks?developer=&has_estimate=&has_quality=&id_not_entered=&q=
func (h *TaskHandler) ListTasks(c *gin.Context) {
	var req dto.TaskListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BadRequest(c, 10001, "参数校验失败")
		return
	}

	list, total, err := h.taskSvc.List(c.Request.Context(), &req)
	if err != nil {
		response.InternalError(c)
		return
	}
	response.OKPage(c, list, total, req.GetPage(), req.GetPageSize())
}

// GetTask 任务详情
// GET /api/v1/tasks/:tfs_id
func (h *TaskHandler) GetTask(c *gin.Context) {
	tfsID, ok := parseTfsID(c)
	if !ok {
		return
	}

	task, err := h.taskSvc.Get(c.Request.Context(), tfsID)
	if err != nil {
		handleTaskError(c, err)
		return
	}
	response.OK(c, task)
}

// UpdateTask 手工编辑任务
// PUT /api/v1/tasks/:tfs_id
func (h *TaskHandler) UpdateTask(c *gin.Context) {
	tfsID, ok := parseTfsID(c)
	if !ok {
		return
	}

	var req dto.UpdateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, 10001, "参数校验失败")
		return
	}

	task, err := h.taskSvc.Update(c.Request.Context(), tfsID, &req)
	if err != nil {
		handleTaskError(c, err)
		return
	}
	response.OK(c, task)
}

// DeleteTask 删除任务
// DELETE /api/v1/tasks/:tfs_id
func (h *TaskHandler) DeleteTask(c *gin.Context) {
	tfsID, ok := parseTfsID(c)
	if !ok {
		return
	}

	if err := h.taskSvc.Delete(c.Request.Context(), tfsID); err != nil {
		handleTaskError(c, err)
		return
	}
	response.OK(c, nil)
}

// parseTfsID 占位任务的 tfs_id 为负数，同样合法
func parseTfsID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("tfs_id"), 10, 64)
	if err != nil || id == 0 {
		response.BadRequest(c, 10001, "无效的任务ID")
		return 0, false
	}
	return id, true
}

// handleTaskError 统一处理任务模块业务错误
func handleTaskError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrTaskNotFound):
		response.NotFound(c, 21001, "任务不存在")
	case errors.Is(err, service.ErrTaskIDConflict):
		response.Conflict(c, 21002, "目标任务 ID 已存在，如需合并请设置 merge=true")
	case errors.Is(err, pkgerrors.ErrOptimisticLock):
		response.Conflict(c, 21003, "任务已被其他操作修改，请刷新后重试")
	case errors.Is(err, pkgerrors.ErrLockBusy):
		response.Conflict(c, 21004, "任务正在被其他操作更新，请稍后重试")
	default:
		response.InternalError(c)
	}
}
