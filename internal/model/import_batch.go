package model

import (
	"time"

	"gorm.io/datatypes"
)

// 导入批次状态
const (
	ImportStatusRunning   = "running"
	ImportStatusCompleted = "completed"
	ImportStatusPartial   = "partial"
	ImportStatusFailed    = "failed"
)

// ImportIssue 单行解析或单任务写入的问题
type ImportIssue struct {
	Sheet   string `json:"sheet,omitempty"`
	Row     int    `json:"row,omitempty"`
	TfsID   int64  `json:"tfs_id,omitempty"`
	Message string `json:"message"`
}

// ImportBatch 导入批次日志：对应 import_batches
type ImportBatch struct {
	ImportID      string                            `gorm:"type:uuid;primaryKey"               json:"import_id"`
	FileName      string                            `gorm:"type:varchar(255);not null"         json:"file_name"`
	Policy        string                            `gorm:"type:varchar(32);not null"          json:"policy"`
	ClearExisting bool                              `gorm:"not null;default:false"             json:"clear_existing"`
	Status        string                            `gorm:"type:varchar(16);not null"          json:"status"`
	TotalRows     int                               `gorm:"not null;default:0"                 json:"total_rows"`
	KeptRows      int                               `gorm:"not null;default:0"                 json:"kept_rows"`
	SkippedRows   int                               `gorm:"not null;default:0"                 json:"skipped_rows"`
	TasksCreated  int                               `gorm:"not null;default:0"                 json:"imported_count"`
	TasksUpdated  int                               `gorm:"not null;default:0"                 json:"updated_count"`
	Developers    int                               `gorm:"not null;default:0"                 json:"developer_count"`
	TasksFailed   int                               `gorm:"not null;default:0"                 json:"failed_count"`
	MetadataRows  int                               `gorm:"not null;default:0"                 json:"metadata_rows"`
	Issues        datatypes.JSONType[[]ImportIssue] `gorm:"not null"                           json:"issues"`
	ErrorMessage  string                            `gorm:"type:text;not null;default:''"      json:"error_message,omitempty"`
	StartedAt     time.Time                         `gorm:"not null"                           json:"started_at"`
	FinishedAt    *time.Time                        `json:"finished_at,omitempty"`
	CreatedAt     time.Time                         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName 指定表名
func (ImportBatch) TableName() string { return "import_batches" }
