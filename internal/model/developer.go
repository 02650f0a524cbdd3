package model

// Developer 开发者档案：对应 developers，每次导入后按工号 upsert
type Developer struct {
	EmployeeID string  `gorm:"type:varchar(64);primaryKey"           json:"employee_id"`
	Name       string  `gorm:"type:varchar(128);not null;default:''" json:"name"`
	Title      string  `gorm:"type:varchar(128);not null;default:''" json:"title,omitempty"`
	TotalHours float64 `gorm:"not null;default:0"                    json:"total_hours"`
	TaskCount  int     `gorm:"not null;default:0"                    json:"task_count"`
	BaseModel
}

// TableName 指定表名
func (Developer) TableName() string { return "developers" }
