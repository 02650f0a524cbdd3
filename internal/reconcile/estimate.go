package reconcile

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// ── 钟形曲线估算 ────────────────────────────────────────────
//
// 对尚无估算的任务按分组键聚合，估算 = 中位数 + 0.5 × MAD，
// ≥100 时向上取整到 10 的倍数，否则四舍五入且不低于 1。
// 单个任务的最终估算不低于 ceil(自身实际工时)。
// ─────────────────────────────────────────────────────────────

// GroupBy 估算分组方式
type GroupBy string

const (
	GroupByDeveloper GroupBy = "developer"
	GroupByMatter    GroupBy = "matter"
)

// ParseGroupBy 解析分组方式；空串默认按开发者
func ParseGroupBy(s string) (GroupBy, error) {
	switch GroupBy(strings.ToLower(strings.TrimSpace(s))) {
	case "", GroupByDeveloper:
		return GroupByDeveloper, nil
	case GroupByMatter:
		return GroupByMatter, nil
	}
	return "", fmt.Errorf("未知的分组方式: %q", s)
}

// UnknownGroup 缺少分组信息时使用的桶
const UnknownGroup = "Unknown"

// EstimateSourceBellCurve 估算来源标记
const EstimateSourceBellCurve = "bell-curve"

// madWeight 估算公式中 MAD 的权重
const madWeight = 0.5

// EstimateCandidate 参与估算的任务
type EstimateCandidate struct {
	TaskID       int64
	ActualHours  float64
	Breakdown    Breakdown
	MatterNumber string
}

// GroupKey 按分组方式取分组键
func (c EstimateCandidate) GroupKey(by GroupBy) string {
	switch by {
	case GroupByMatter:
		if m := strings.TrimSpace(c.MatterNumber); m != "" {
			return m
		}
	default:
		if dev, ok := c.Breakdown.Primary(); ok && dev != "" {
			return dev
		}
	}
	return UnknownGroup
}

// GroupStats 单个分组的统计量
type GroupStats struct {
	Key      string  `json:"key"`
	Count    int     `json:"count"`
	Median   float64 `json:"median"`
	MAD      float64 `json:"mad"`
	Estimate float64 `json:"estimate"`
	Low      float64 `json:"low"`
	High     float64 `json:"high"`
}

// TaskEstimate 单个任务的估算结果
type TaskEstimate struct {
	TaskID   int64   `json:"tfs_id"`
	GroupKey string  `json:"group_key"`
	Actual   float64 `json:"actual_hours"`
	Estimate float64 `json:"estimate"`
}

// EstimatePlan 估算计划（预览与执行共用）
type EstimatePlan struct {
	GroupBy GroupBy
	Groups  []GroupStats
	Tasks   []TaskEstimate
}

// PlanEstimates 计算分组统计与每个任务的估算；实际工时 ≤0 的候选被忽略。
// 分组按首次出现顺序输出，任务保持输入顺序。
func PlanEstimates(candidates []EstimateCandidate, by GroupBy) EstimatePlan {
	plan := EstimatePlan{GroupBy: by}

	var order []string
	values := make(map[string][]float64)
	keys := make([]string, len(candidates))
	for i, c := range candidates {
		if c.ActualHours <= 0 {
			continue
		}
		k := c.GroupKey(by)
		keys[i] = k
		if _, ok := values[k]; !ok {
			order = append(order, k)
		}
		values[k] = append(values[k], c.ActualHours)
	}

	stats := make(map[string]GroupStats, len(order))
	for _, k := range order {
		st := ComputeGroupStats(k, values[k])
		stats[k] = st
		plan.Groups = append(plan.Groups, st)
	}

	for i, c := range candidates {
		if c.ActualHours <= 0 {
			continue
		}
		st := stats[keys[i]]
		plan.Tasks = append(plan.Tasks, TaskEstimate{
			TaskID:   c.TaskID,
			GroupKey: keys[i],
			Actual:   c.ActualHours,
			Estimate: math.Max(st.Estimate, math.Ceil(c.ActualHours)),
		})
	}
	return plan
}

// ComputeGroupStats 计算一组实际工时的中位数、MAD 与估算
func ComputeGroupStats(key string, vals []float64) GroupStats {
	med := Median(vals)
	mad := MAD(vals, med)
	return GroupStats{
		Key:      key,
		Count:    len(vals),
		Median:   med,
		MAD:      mad,
		Estimate: RoundEstimate(med + madWeight*mad),
		Low:      med - mad,
		High:     med + mad,
	}
}

// Median 标准中位数；偶数个取中间两值均值，空集返回 0
func Median(vals []float64) float64 {
	n := len(vals)
	if n == 0 {
		return 0
	}
	sorted := make([]float64, n)
	copy(sorted, vals)
	sort.Float64s(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// MAD 中位数绝对偏差
func MAD(vals []float64, median float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	dev := make([]float64, len(vals))
	for i, v := range vals {
		dev[i] = math.Abs(v - median)
	}
	return Median(dev)
}

// RoundEstimate ≥100 向上取整到 10 的倍数；否则四舍五入，最小为 1
func RoundEstimate(raw float64) float64 {
	if raw >= 100 {
		return math.Ceil(raw/10) * 10
	}
	r := math.Round(raw)
	if r < 1 {
		return 1
	}
	return r
}

// ── 低估算修复 ──

// EstimateSourceLowFix 低估算修复的来源标记
const EstimateSourceLowFix = "low-estimate-fix"

// FixLowEstimate 估算低于 ceil(实际工时) 时返回修正值；已合规返回 ok=false
func FixLowEstimate(estimated, actual float64) (float64, bool) {
	floor := math.Ceil(actual)
	if estimated < floor {
		return floor, true
	}
	return estimated, false
}
