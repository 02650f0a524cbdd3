package model

import (
	"gorm.io/datatypes"

	"tfs-insight/backend/internal/reconcile"
)

// Task 对账后的任务：对应 tasks
// TfsID 为正数表示从叙述/元数据中恢复的真实 ID，负数为系统生成的占位 ID
type Task struct {
	TaskID             string                                      `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"task_id"`
	TfsID              int64                                       `gorm:"not null"                                       json:"tfs_id"`
	IDKind             string                                      `gorm:"type:varchar(16);not null;default:recovered"    json:"id_kind"`
	OriginalTfsID      *int64                                      `json:"original_tfs_id,omitempty"`
	IDNotEntered       bool                                        `gorm:"not null;default:false"                         json:"id_not_entered"`
	Title              string                                      `gorm:"type:varchar(255);not null;default:''"          json:"title"`
	Application        string                                      `gorm:"type:varchar(128);not null;default:''"          json:"application,omitempty"`
	MatterNumber       string                                      `gorm:"type:varchar(64);not null;default:''"           json:"matter_number,omitempty"`
	Estimated          *float64                                    `json:"estimated"`
	EstimateSource     string                                      `gorm:"type:varchar(32);not null;default:''"           json:"estimate_source,omitempty"`
	EstimateGroup      string                                      `gorm:"type:varchar(128);not null;default:''"          json:"estimate_group,omitempty"`
	Quality            *int                                        `gorm:"type:smallint"                                  json:"quality"`
	TimeEntries        datatypes.JSONType[[]reconcile.TimeEntry]   `gorm:"not null"                                       json:"time_entries"`
	TotalActualHours   float64                                     `gorm:"not null;default:0"                             json:"total_actual_hours"`
	DeveloperBreakdown datatypes.JSONType[reconcile.Breakdown]     `gorm:"not null"                                       json:"developer_breakdown"`
	BreakdownByDate    datatypes.JSONType[reconcile.DateBreakdown] `gorm:"not null"                                       json:"breakdown_by_date"`
	LastImportID       *string                                     `gorm:"type:uuid"                                      json:"last_import_id,omitempty"`
	VersionedModel
}

// TableName 指定表名
func (Task) TableName() string { return "tasks" }

// Key 还原为流水线中的任务键
func (t *Task) Key() reconcile.TaskKey {
	return reconcile.TaskKey{Kind: reconcile.ParseKeyKind(t.IDKind), ID: t.TfsID, OriginalID: t.OriginalTfsID}
}

// Entries 解包时间条目
func (t *Task) Entries() []reconcile.TimeEntry { return t.TimeEntries.Data() }

// Breakdown 解包开发者工时分布
func (t *Task) Breakdown() reconcile.Breakdown { return t.DeveloperBreakdown.Data() }

// PrimaryDeveloper 工时最多的开发者；没有时间条目时为空
func (t *Task) PrimaryDeveloper() string {
	dev, _ := t.Breakdown().Primary()
	return dev
}

// ApplyCanonical 用合并结果覆盖派生字段
// 估算/质量只在合并结果给出值时覆盖，已有数据不会被空值抹掉
func (t *Task) ApplyCanonical(c reconcile.CanonicalTask) {
	t.TfsID = c.Key.ID
	t.IDKind = c.Key.Kind.String()
	t.OriginalTfsID = c.Key.OriginalID
	t.IDNotEntered = c.IDNotEntered
	t.Title = c.Title
	if c.MatterNumber != "" {
		t.MatterNumber = c.MatterNumber
	}
	entries := c.Entries
	if entries == nil {
		entries = []reconcile.TimeEntry{}
	}
	t.TimeEntries = datatypes.NewJSONType(entries)
	t.TotalActualHours = c.TotalActualHours
	bd := c.Breakdown
	if bd == nil {
		bd = reconcile.Breakdown{}
	}
	t.DeveloperBreakdown = datatypes.NewJSONType(bd)
	byDate := c.BreakdownByDate
	if byDate == nil {
		byDate = reconcile.DateBreakdown{}
	}
	t.BreakdownByDate = datatypes.NewJSONType(byDate)

	if c.Estimated != nil {
		v := *c.Estimated
		t.Estimated = &v
		t.EstimateSource = reconcile.EstimateSourceMetadata
		t.EstimateGroup = ""
	}
	if c.Quality != nil {
		v := *c.Quality
		t.Quality = &v
	}
}
