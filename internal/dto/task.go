package dto

import "tfs-insight/backend/internal/reconcile"

// ── 任务模块 DTO ──

// TaskListRequest 任务列表查询参数
type TaskListRequest struct {
	PaginationRequest
	Developer    string `form:"developer"      binding:"omitempty,max=128"`
	HasEstimate  *bool  `form:"has_estimate"`
	HasQuality   *bool  `form:"has_quality"`
	IDNotEntered *bool  `form:"id_not_entered"`
	Query        string `form:"q"              binding:"omitempty,max=100"`
}

// UpdateTaskRequest 手工编辑任务
// NewTfsID 修改任务 ID；与已有任务冲突时需 Merge=true 才会合并
type UpdateTaskRequest struct {
	Version     int      `json:"version"     binding:"required,min=1"`
	Title       *string  `json:"title"       binding:"omitempty,max=255"`
	Application *string  `json:"application" binding:"omitempty,max=128"`
	Estimated   *float64 `json:"estimated"   binding:"omitempty,min=0"`
	Quality     *int     `json:"quality"     binding:"omitempty,min=1,max=5"`
	NewTfsID    *int64   `json:"new_tfs_id"  binding:"omitempty,min=1"`
	Merge       bool     `json:"merge"`
}

// TaskSummaryResponse 列表项
type TaskSummaryResponse struct {
	TfsID            int64    `json:"tfs_id"`
	IDKind           string   `json:"id_kind"`
	OriginalTfsID    *int64   `json:"original_tfs_id,omitempty"`
	IDNotEntered     bool     `json:"id_not_entered"`
	Title            string   `json:"title"`
	Application      string   `json:"application,omitempty"`
	PrimaryDeveloper string   `json:"primary_developer,omitempty"`
	Estimated        *float64 `json:"estimated"`
	EstimateSource   string   `json:"estimate_source,omitempty"`
	Quality          *int     `json:"quality"`
	TotalActualHours float64  `json:"total_actual_hours"`
	EntryCount       int      `json:"entry_count"`
	Version          int      `json:"version"`
	UpdatedAt        string   `json:"updated_at"`
}

// TaskDetailResponse 任务详情
type TaskDetailResponse struct {
	TaskSummaryResponse
	MatterNumber       string                  `json:"matter_number,omitempty"`
	EstimateGroup      string                  `json:"estimate_group,omitempty"`
	TimeEntries        []reconcile.TimeEntry   `json:"time_entries"`
	DeveloperBreakdown reconcile.Breakdown     `json:"developer_breakdown"`
	BreakdownByDate    reconcile.DateBreakdown `json:"breakdown_by_date"`
	CreatedAt          string                  `json:"created_at"`
}

// ── 开发者 ──

// DeveloperResponse 开发者档案
type DeveloperResponse struct {
	EmployeeID string  `json:"employee_id"`
	Name       string  `json:"name"`
	Title      string  `json:"title,omitempty"`
	TotalHours float64 `json:"total_hours"`
	TaskCount  int     `json:"task_count"`
}
