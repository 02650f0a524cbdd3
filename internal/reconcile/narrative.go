package reconcile

import (
	"regexp"
	"strconv"
	"strings"
)

// ── 叙述 ID 提取器 ──────────────────────────────────────────
//
// 按优先级依次尝试各模式，首个命中且通过校验者胜出（不跨模式打分）。
// 带关键字的模式（TFS Task / TFS / Task）接受任意正整数；
// 纯数字模式需落在 [MinID, MaxID] 区间，否则继续尝试下一模式。
// ─────────────────────────────────────────────────────────────

// Pattern 单条提取规则
type Pattern struct {
	Name string
	Re   *regexp.Regexp
	// Ranged 提取出的数字须通过区间校验
	Ranged bool
}

// DefaultPatterns 默认规则（按优先级排列）
func DefaultPatterns() []Pattern {
	return []Pattern{
		{Name: "tfs_task", Re: regexp.MustCompile(`(?i)\bTFS\s*Task\s*#?\s*(\d+)`)},
		{Name: "tfs", Re: regexp.MustCompile(`(?i)\bTFS\s*#?\s*(\d+)`)},
		{Name: "task", Re: regexp.MustCompile(`(?i)\bTask\s*#?\s*(\d+)`)},
		{Name: "leading_id", Re: regexp.MustCompile(`^\s*(\d{5})\s*[-–—]\s*\S`), Ranged: true},
		{Name: "tagged", Re: regexp.MustCompile(`(?:\^|<[^<>]*>|\[)\s*(\d{5})\s*(?:\^|</?[^<>]*>|\])`), Ranged: true},
		{Name: "bare_5_digit", Re: regexp.MustCompile(`(?:^|[^\d])(\d{5})\s+\w`), Ranged: true},
	}
}

// DefaultMinID / DefaultMaxID 纯数字 ID 的有效区间
const (
	DefaultMinID int64 = 10000
	DefaultMaxID int64 = 99999
)

// Extractor 从自由文本叙述中恢复 TFS ID
type Extractor struct {
	patterns []Pattern
	minID    int64
	maxID    int64
}

// NewExtractor 创建提取器；min/max 非正时使用默认区间
func NewExtractor(minID, maxID int64) *Extractor {
	if minID <= 0 {
		minID = DefaultMinID
	}
	if maxID <= 0 {
		maxID = DefaultMaxID
	}
	return &Extractor{patterns: DefaultPatterns(), minID: minID, maxID: maxID}
}

// WithPatterns 替换规则集（用于对比不同版本的提取策略）
func (e *Extractor) WithPatterns(patterns []Pattern) *Extractor {
	return &Extractor{patterns: patterns, minID: e.minID, maxID: e.maxID}
}

// Extract 返回提取出的 ID；未命中时 ok=false，调用方应回退到事项编号
func (e *Extractor) Extract(narrative string) (id int64, ok bool) {
	_, id, ok = e.ExtractWithRule(narrative)
	return id, ok
}

// ExtractWithRule 同 Extract，额外返回命中规则名
func (e *Extractor) ExtractWithRule(narrative string) (string, int64, bool) {
	text := strings.TrimSpace(narrative)
	if text == "" {
		return "", 0, false
	}
	for _, p := range e.patterns {
		for _, m := range p.Re.FindAllStringSubmatch(text, -1) {
			if len(m) < 2 {
				continue
			}
			n, err := strconv.ParseInt(m[1], 10, 64)
			if err != nil || n <= 0 {
				continue
			}
			if p.Ranged && (n < e.minID || n > e.maxID) {
				continue
			}
			return p.Name, n, true
		}
	}
	return "", 0, false
}

// ParseMatterID 事项编号回退：仅接受纯数字
func ParseMatterID(matter string) (int64, bool) {
	s := strings.TrimSpace(matter)
	if s == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}
