package reconcile

import "strings"

// DefaultSkipActivities 默认排除的非工作活动（大小写不敏感的子串匹配）
var DefaultSkipActivities = []string{
	"PTO/Vacation",
	"Holiday",
	"Death in Family",
	"Leave Without Pay",
	"Administrative Shutdown",
}

// ActivityFilter 排除休假类工时行，并识别特殊贡献者
type ActivityFilter struct {
	skip        []string
	contributor string
}

// NewActivityFilter 创建过滤器；skip 为空时使用默认列表，contributor 为空表示不启用
func NewActivityFilter(skip []string, contributor string) *ActivityFilter {
	if len(skip) == 0 {
		skip = DefaultSkipActivities
	}
	lowered := make([]string, 0, len(skip))
	for _, s := range skip {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			lowered = append(lowered, s)
		}
	}
	return &ActivityFilter{
		skip:        lowered,
		contributor: DeveloperKey(contributor),
	}
}

// Skip 活动描述包含任一排除子串时返回 true
func (f *ActivityFilter) Skip(activityDesc string) bool {
	desc := strings.ToLower(activityDesc)
	for _, s := range f.skip {
		if strings.Contains(desc, s) {
			return true
		}
	}
	return false
}

// IsContributor 该行是否属于特殊贡献者
func (f *ActivityFilter) IsContributor(r RawTimeLogRow) bool {
	return f.IsContributorName(r.Developer())
}

// IsContributorName 按全名判断
func (f *ActivityFilter) IsContributorName(name string) bool {
	if f.contributor == "" {
		return false
	}
	return DeveloperKey(name) == f.contributor
}
