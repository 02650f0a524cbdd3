package reconcile

// Config 流水线配置（由应用配置注入，不在代码中硬编码业务规则）
type Config struct {
	Policy                    Policy
	SkipActivities            []string
	Contributor               string
	ContributorFallbackTaskID int64
	MinID                     int64
	MaxID                     int64
}

// Result 一次流水线运行的产物
type Result struct {
	Policy  Policy
	Drafts  []DraftTask
	Summary GroupingSummary
	Merge   MergeResult
}

// Pipeline 过滤 → 提取 → 分组 → 合并
type Pipeline struct {
	grouper *Grouper
}

// NewPipeline 按配置组装流水线
func NewPipeline(cfg Config) *Pipeline {
	extractor := NewExtractor(cfg.MinID, cfg.MaxID)
	filter := NewActivityFilter(cfg.SkipActivities, cfg.Contributor)
	return &Pipeline{grouper: NewGrouper(extractor, filter, GrouperConfig{
		Policy:                    cfg.Policy,
		ContributorFallbackTaskID: cfg.ContributorFallbackTaskID,
	})}
}

// WithPolicy 使用另一分组策略的流水线副本
func (p *Pipeline) WithPolicy(policy Policy) *Pipeline {
	return &Pipeline{grouper: p.grouper.WithPolicy(policy)}
}

// Policy 当前分组策略
func (p *Pipeline) Policy() Policy { return p.grouper.Policy() }

// Run 执行完整流水线
func (p *Pipeline) Run(rows []RawTimeLogRow, metadata []TaskMetadataRow) Result {
	grouped := p.grouper.Group(rows)
	return Result{
		Policy:  p.grouper.Policy(),
		Drafts:  grouped.Drafts,
		Summary: grouped.Summary,
		Merge:   Merge(grouped.Drafts, metadata),
	}
}

// DeveloperProfile 从草稿任务派生的开发者画像
type DeveloperProfile struct {
	EmployeeID string
	Name       string
	Title      string
	TotalHours float64
	TaskCount  int
}

// BuildDeveloperProfiles 汇总每位开发者的总工时与参与任务数，按首次出现排序
func BuildDeveloperProfiles(drafts []DraftTask) []DeveloperProfile {
	index := make(map[string]int)
	var out []DeveloperProfile
	for _, d := range drafts {
		counted := make(map[string]bool)
		for _, e := range d.Entries {
			if e.EmployeeID == "" {
				continue
			}
			i, ok := index[e.EmployeeID]
			if !ok {
				i = len(out)
				index[e.EmployeeID] = i
				out = append(out, DeveloperProfile{
					EmployeeID: e.EmployeeID,
					Name:       e.Developer(),
					Title:      e.Title,
				})
			}
			out[i].TotalHours += e.Hours
			if !counted[e.EmployeeID] {
				counted[e.EmployeeID] = true
				out[i].TaskCount++
			}
		}
	}
	return out
}
