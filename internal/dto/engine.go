package dto

import "tfs-insight/backend/internal/reconcile"

// ── 估算 / 质量 DTO ──

// CalculateEstimatesRequest POST /estimates/calculate
type CalculateEstimatesRequest struct {
	GroupBy string `json:"group_by" form:"group_by" binding:"omitempty,oneof=developer matter"`
}

// EstimateResult calculateEstimates 的结果（预览时 UpdatedCount 为 0）
type EstimateResult struct {
	GroupBy      string                   `json:"group_by"`
	UpdatedCount int                      `json:"updated_count"`
	GroupCount   int                      `json:"group_count"`
	Groups       []reconcile.GroupStats   `json:"groups"`
	Tasks        []reconcile.TaskEstimate `json:"tasks,omitempty"`
	FailedCount  int                      `json:"failed_count,omitempty"`
}

// LowEstimate 估算低于实际工时的任务
type LowEstimate struct {
	TfsID       int64   `json:"tfs_id"`
	Title       string  `json:"title"`
	Estimated   float64 `json:"estimated"`
	ActualHours float64 `json:"actual_hours"`
	NewEstimate float64 `json:"new_estimate"`
}

// FixLowResult fixLowEstimates 的结果
type FixLowResult struct {
	FixedCount  int           `json:"fixed_count"`
	FailedCount int           `json:"failed_count,omitempty"`
	Tasks       []LowEstimate `json:"tasks,omitempty"`
}

// QualityResult calculateQuality 的结果
type QualityResult struct {
	UpdatedCount int         `json:"updated_count"`
	FailedCount  int         `json:"failed_count,omitempty"`
	Histogram    map[int]int `json:"histogram"`
}

// QualityPreview 最多 50 个候选及预测分布
type QualityPreview struct {
	CandidateCount int                      `json:"candidate_count"`
	Candidates     []reconcile.QualityScore `json:"candidates"`
	Histogram      map[int]int              `json:"histogram"`
}
