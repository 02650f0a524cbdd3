// Package reconcile 工时表与任务元数据的对账流水线。
//
// 纯函数实现，不做任何 I/O：
//
//	原始工时行 → 活动过滤 → 叙述 ID 提取 → 分组为草稿任务 → 合并元数据 → 规范任务
//
// 估算（中位数/MAD）与质量评分（偏差分档）同样在此包中以纯计算形式提供，
// 由 service 层负责读取与持久化。
package reconcile

import (
	"strings"
	"time"
)

// DateLayout 工时日期统一格式（仅日期）
const DateLayout = "2006-01-02"

// RawTimeLogRow "3e" 工作表中的一行原始工时
type RawTimeLogRow struct {
	Row              int // 源文件行号（1 起，含表头），用于错误定位
	TimekeeperNumber string
	FirstName        string
	LastName         string
	Title            string
	WorkDate         time.Time
	WorkHrs          float64
	Narrative        string
	ActivityCode     string
	ActivityDesc     string
	MatterNumber     string
	MatterName       string
}

// Developer 开发者全名 "First Last"
func (r RawTimeLogRow) Developer() string {
	return strings.TrimSpace(strings.TrimSpace(r.FirstName) + " " + strings.TrimSpace(r.LastName))
}

// DeveloperKey 开发者归一化键：忽略大小写与多余空白
func DeveloperKey(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}

// TaskMetadataRow "scorebyTFS" 工作表中的一行任务元数据
type TaskMetadataRow struct {
	Row       int
	ID        *int64
	Title     string
	Estimated *float64
	Quality   *int
}

// TimeEntry 任务内嵌的单条工时记录
type TimeEntry struct {
	EmployeeID   string  `json:"employee_id"`
	FirstName    string  `json:"first_name"`
	LastName     string  `json:"last_name"`
	Title        string  `json:"title"`
	WorkDate     string  `json:"work_date"` // YYYY-MM-DD
	Hours        float64 `json:"hours"`
	Narrative    string  `json:"narrative"`
	ActivityCode string  `json:"activity_code"`
	ActivityDesc string  `json:"activity_desc"`
	MatterNumber string  `json:"matter_number,omitempty"`
	MatterName   string  `json:"matter_name,omitempty"`
}

// Developer 开发者全名
func (e TimeEntry) Developer() string {
	return strings.TrimSpace(strings.TrimSpace(e.FirstName) + " " + strings.TrimSpace(e.LastName))
}

func newTimeEntry(r RawTimeLogRow) TimeEntry {
	return TimeEntry{
		EmployeeID:   r.TimekeeperNumber,
		FirstName:    strings.TrimSpace(r.FirstName),
		LastName:     strings.TrimSpace(r.LastName),
		Title:        r.Title,
		WorkDate:     r.WorkDate.Format(DateLayout),
		Hours:        r.WorkHrs,
		Narrative:    r.Narrative,
		ActivityCode: r.ActivityCode,
		ActivityDesc: r.ActivityDesc,
		MatterNumber: r.MatterNumber,
		MatterName:   r.MatterName,
	}
}

// ── 任务标识（标签联合） ──

// KeyKind 任务标识种类
type KeyKind int

const (
	// KeyRecovered 从叙述（或事项编号回退）中恢复出的真实 TFS ID
	KeyRecovered KeyKind = iota
	// KeyPlaceholder 未能恢复 ID 或多人拆分时生成的占位标识
	KeyPlaceholder
)

// String 持久化使用的种类名
func (k KeyKind) String() string {
	if k == KeyPlaceholder {
		return "placeholder"
	}
	return "recovered"
}

// ParseKeyKind 从持久化种类名还原
func ParseKeyKind(s string) KeyKind {
	if s == "placeholder" {
		return KeyPlaceholder
	}
	return KeyRecovered
}

// TaskKey 任务标识：Recovered(id) 或 Placeholder(syntheticID, originalID?)
type TaskKey struct {
	Kind       KeyKind
	ID         int64  // Recovered: TFS ID；Placeholder: 合成 ID（负数）
	OriginalID *int64 // 仅 Placeholder：被拆分前的 TFS ID
}

// Recovered 构造真实 ID
func Recovered(id int64) TaskKey {
	return TaskKey{Kind: KeyRecovered, ID: id}
}

// Placeholder 构造占位 ID
func Placeholder(syntheticID int64, originalID *int64) TaskKey {
	return TaskKey{Kind: KeyPlaceholder, ID: syntheticID, OriginalID: originalID}
}

// IsPlaceholder 是否为占位标识
func (k TaskKey) IsPlaceholder() bool { return k.Kind == KeyPlaceholder }

// ── 开发者工时分布 ──

// DeveloperHours 单个开发者的累计工时
type DeveloperHours struct {
	Developer string  `json:"developer"`
	Hours     float64 `json:"hours"`
}

// Breakdown 按首次出现顺序排列的开发者工时分布（顺序用于主开发者并列时的裁决）
type Breakdown []DeveloperHours

// Total 所有开发者工时之和
func (b Breakdown) Total() float64 {
	var sum float64
	for _, d := range b {
		sum += d.Hours
	}
	return sum
}

// Primary 工时最多的开发者；并列时取先出现者
func (b Breakdown) Primary() (string, bool) {
	if len(b) == 0 {
		return "", false
	}
	best := 0
	for i := 1; i < len(b); i++ {
		if b[i].Hours > b[best].Hours {
			best = i
		}
	}
	return b[best].Developer, true
}

// Map 转为 developer → hours
func (b Breakdown) Map() map[string]float64 {
	m := make(map[string]float64, len(b))
	for _, d := range b {
		m[d.Developer] = d.Hours
	}
	return m
}

// DateBreakdown developer → {YYYY-MM-DD → hours}
type DateBreakdown map[string]map[string]float64

// DraftTask 合并前的草稿任务
type DraftTask struct {
	Key              TaskKey
	IDNotEntered     bool
	Title            string
	Entries          []TimeEntry
	TotalActualHours float64
	Breakdown        Breakdown
	BreakdownByDate  DateBreakdown
	// ContributorOnly 所有工时均来自特殊贡献者，导入时适用默认估算/质量
	ContributorOnly bool
}

// CanonicalTask 合并后的规范任务（持久化前）
type CanonicalTask struct {
	Key              TaskKey
	IDNotEntered     bool
	Title            string
	Estimated        *float64
	Quality          *int
	FromMetadata     bool
	MatterNumber     string
	Entries          []TimeEntry
	TotalActualHours float64
	Breakdown        Breakdown
	BreakdownByDate  DateBreakdown
	ContributorOnly  bool
}
