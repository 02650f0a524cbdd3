package reconcile

// ── 偏差质量评分 ────────────────────────────────────────────
//
//	variance ≤ -25%         → 5
//	-25% < variance ≤ -10%  → 4
//	-10% < variance ≤ +25%  → 3
//	variance > +25%         → 2
//
// 该策略不产生 1 分。
// ─────────────────────────────────────────────────────────────

const varianceEpsilon = 1e-9

// QualityPreviewLimit 预览返回的候选上限
const QualityPreviewLimit = 50

// Variance (actual - estimated) / estimated；estimated ≤0 时 ok=false
func Variance(actual, estimated float64) (float64, bool) {
	if estimated <= 0 {
		return 0, false
	}
	return (actual - estimated) / estimated, true
}

// ScoreVariance 将偏差映射到 2–5 分
func ScoreVariance(v float64) int {
	switch {
	case v <= -0.25+varianceEpsilon:
		return 5
	case v <= -0.10+varianceEpsilon:
		return 4
	case v <= 0.25+varianceEpsilon:
		return 3
	default:
		return 2
	}
}

// QualityCandidate 参与评分的任务
type QualityCandidate struct {
	TaskID      int64
	Title       string
	ActualHours float64
	Estimated   float64
}

// QualityScore 单个任务的评分结果
type QualityScore struct {
	TaskID    int64   `json:"tfs_id"`
	Title     string  `json:"title"`
	Actual    float64 `json:"actual_hours"`
	Estimated float64 `json:"estimated"`
	Variance  float64 `json:"variance_percent"`
	Score     int     `json:"score"`
}

// ScoreTasks 为满足条件（实际>0 且估算>0）的候选打分，保持输入顺序
func ScoreTasks(candidates []QualityCandidate) []QualityScore {
	out := make([]QualityScore, 0, len(candidates))
	for _, c := range candidates {
		if c.ActualHours <= 0 {
			continue
		}
		v, ok := Variance(c.ActualHours, c.Estimated)
		if !ok {
			continue
		}
		out = append(out, QualityScore{
			TaskID:    c.TaskID,
			Title:     c.Title,
			Actual:    c.ActualHours,
			Estimated: c.Estimated,
			Variance:  v,
			Score:     ScoreVariance(v),
		})
	}
	return out
}

// ScoreHistogram 各分值的任务数（键为 2–5）
func ScoreHistogram(scores []QualityScore) map[int]int {
	h := map[int]int{2: 0, 3: 0, 4: 0, 5: 0}
	for _, s := range scores {
		h[s.Score]++
	}
	return h
}
