package dto

import (
	"tfs-insight/backend/internal/model"
	"tfs-insight/backend/internal/reconcile"
)

// ── 导入模块 DTO ──

// ImportRequest multipart 表单字段（文件字段名 file）
type ImportRequest struct {
	ClearExisting bool   `form:"clear_existing"`
	Policy        string `form:"policy" binding:"omitempty,oneof=developer_split simple orphan_per_row"`
}

// ImportResult import(rows, metadataRows, clearExisting) 的结果
type ImportResult struct {
	ImportID       string                    `json:"import_id"`
	Status         string                    `json:"status"`
	Policy         string                    `json:"policy"`
	ImportedCount  int                       `json:"imported_count"`
	UpdatedCount   int                       `json:"updated_count"`
	DeveloperCount int                       `json:"developer_count"`
	FailedCount    int                       `json:"failed_count"`
	MetadataRows   int                       `json:"metadata_rows"`
	Grouping       reconcile.GroupingSummary `json:"grouping"`
	Issues         []model.ImportIssue       `json:"issues"`
}

// ImportPreviewTask 预览中的单个合并后任务
type ImportPreviewTask struct {
	TfsID            int64              `json:"tfs_id"`
	IDKind           string             `json:"id_kind"`
	OriginalTfsID    *int64             `json:"original_tfs_id,omitempty"`
	IDNotEntered     bool               `json:"id_not_entered"`
	Title            string             `json:"title"`
	Estimated        *float64           `json:"estimated"`
	Quality          *int               `json:"quality"`
	TotalActualHours float64            `json:"total_actual_hours"`
	EntryCount       int                `json:"entry_count"`
	Breakdown        map[string]float64 `json:"developer_breakdown"`
	Exists           bool               `json:"exists"`
}

// ImportPreview 只读预览：与导入相同的计算，不写库
type ImportPreview struct {
	Policy          string                    `json:"policy"`
	Grouping        reconcile.GroupingSummary `json:"grouping"`
	TaskCount       int                       `json:"task_count"`
	NewCount        int                       `json:"new_count"`
	ExistingCount   int                       `json:"existing_count"`
	DeveloperCount  int                       `json:"developer_count"`
	MetadataMatched int                       `json:"metadata_matched"`
	Standalone      int                       `json:"standalone"`
	DroppedMetadata int                       `json:"dropped_metadata"`
	Tasks           []ImportPreviewTask       `json:"tasks"`
	Issues          []model.ImportIssue       `json:"issues"`
}
