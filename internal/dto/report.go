package dto

// ── 报表 DTO ──

// SummaryReport 全局汇总
type SummaryReport struct {
	TaskCount         int         `json:"task_count"`
	PlaceholderCount  int         `json:"placeholder_count"`
	IDNotEnteredCount int         `json:"id_not_entered_count"`
	TotalActualHours  float64     `json:"total_actual_hours"`
	TotalEstimated    float64     `json:"total_estimated"`
	EstimatedCount    int         `json:"estimated_count"`
	QualityCount      int         `json:"quality_count"`
	EstimateCoverage  float64     `json:"estimate_coverage"`
	QualityCoverage   float64     `json:"quality_coverage"`
	AverageQuality    float64     `json:"average_quality"`
	QualityHistogram  map[int]int `json:"quality_histogram"`
	// EstimatedVsActual 同时有估算与实际工时的任务：实际/估算 之比
	EstimatedVsActual float64 `json:"estimated_vs_actual"`
}

// DeveloperReport 单个开发者的汇总
type DeveloperReport struct {
	Developer      string  `json:"developer"`
	TotalHours     float64 `json:"total_hours"`
	TaskCount      int     `json:"task_count"`
	PrimaryCount   int     `json:"primary_count"`
	ScoredCount    int     `json:"scored_count"`
	AverageQuality float64 `json:"average_quality"`
}
