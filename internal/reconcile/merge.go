package reconcile

import (
	"sort"
	"strings"
)

// NotEnteredMarker 未填写 TFS ID 的任务标题前缀
const NotEnteredMarker = "[TFS ID Not Entered]"

// WithNotEnteredMarker 添加前缀；已存在时原样返回（重复导入不叠加）
func WithNotEnteredMarker(title string) string {
	t := strings.TrimSpace(title)
	if strings.HasPrefix(t, NotEnteredMarker) {
		return t
	}
	if t == "" {
		return NotEnteredMarker
	}
	return NotEnteredMarker + " " + t
}

// MergeResult 合并结果
type MergeResult struct {
	Tasks []CanonicalTask
	// Matched 命中草稿任务的元数据行数
	Matched int
	// Standalone 仅来自元数据（尚无工时）的任务数
	Standalone int
	// DroppedMetadata 缺少 ID 而被丢弃的元数据行数
	DroppedMetadata int
}

// Merge 将草稿任务与元数据表合并为规范任务集，按 ID 降序排列。
//
// 元数据对标题（非空时）、估算与质量具有权威性；每行元数据至多被消费一次，
// 未被消费的行成为零工时的独立任务。重复 ID 的元数据行后者覆盖前者。
func Merge(drafts []DraftTask, metadata []TaskMetadataRow) MergeResult {
	var res MergeResult

	lookup := make(map[int64]TaskMetadataRow, len(metadata))
	var metaOrder []int64
	for _, m := range metadata {
		if m.ID == nil {
			res.DroppedMetadata++
			continue
		}
		if _, dup := lookup[*m.ID]; !dup {
			metaOrder = append(metaOrder, *m.ID)
		}
		lookup[*m.ID] = m
	}

	tasks := make([]CanonicalTask, 0, len(drafts)+len(lookup))
	for _, d := range drafts {
		t := CanonicalTask{
			Key:              d.Key,
			IDNotEntered:     d.IDNotEntered,
			Title:            d.Title,
			Entries:          d.Entries,
			TotalActualHours: d.TotalActualHours,
			Breakdown:        d.Breakdown,
			BreakdownByDate:  d.BreakdownByDate,
			ContributorOnly:  d.ContributorOnly,
		}
		if len(d.Entries) > 0 {
			t.MatterNumber = d.Entries[0].MatterNumber
		}

		if !d.Key.IsPlaceholder() {
			if m, ok := lookup[d.Key.ID]; ok {
				if title := strings.TrimSpace(m.Title); title != "" {
					t.Title = title
				}
				t.Estimated = copyFloat(m.Estimated)
				t.Quality = copyInt(m.Quality)
				t.FromMetadata = true
				delete(lookup, d.Key.ID)
				res.Matched++
			}
		}

		if t.IDNotEntered {
			t.Title = WithNotEnteredMarker(t.Title)
		}
		t.Title = TruncateTitle(t.Title)
		tasks = append(tasks, t)
	}

	for _, id := range metaOrder {
		m, ok := lookup[id]
		if !ok {
			continue
		}
		tasks = append(tasks, CanonicalTask{
			Key:             Recovered(id),
			Title:           TruncateTitle(m.Title),
			Estimated:       copyFloat(m.Estimated),
			Quality:         copyInt(m.Quality),
			FromMetadata:    true,
			Entries:         []TimeEntry{},
			Breakdown:       Breakdown{},
			BreakdownByDate: DateBreakdown{},
		})
		res.Standalone++
	}

	sort.SliceStable(tasks, func(i, j int) bool {
		return tasks[i].Key.ID > tasks[j].Key.ID
	})
	res.Tasks = tasks
	return res
}

func copyFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func copyInt(v *int) *int {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
