package reconcile

// EstimateSourceContributorDefault 特殊贡献者默认估算的来源标记
const EstimateSourceContributorDefault = "contributor-default"

// EstimateSourceMetadata 元数据表提供的估算
const EstimateSourceMetadata = "metadata"

// ContributorDefaults 特殊贡献者任务在缺少估算/质量时的默认值。
// existingEstimate / existingQuality 为已持久化任务上的值（新任务传 nil）。
// 返回需要写入的估算与质量；无需写入的字段返回 nil。
func ContributorDefaults(t CanonicalTask, existingEstimate *float64, existingQuality *int, defaultQuality int) (estimate *float64, quality *int) {
	if !t.ContributorOnly {
		return nil, nil
	}
	if t.Quality == nil && existingQuality == nil && defaultQuality > 0 {
		q := defaultQuality
		quality = &q
	}
	if t.Estimated == nil && existingEstimate == nil {
		e := t.TotalActualHours
		estimate = &e
	}
	return estimate, quality
}
