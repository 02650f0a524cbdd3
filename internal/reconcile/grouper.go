package reconcile

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ── 工时分组器 ──────────────────────────────────────────────
//
// 将过滤后的工时行归并为草稿任务。分组策略可插拔：
//   - developer_split：同一 ID 只有一名开发者 → 共享任务；多名 → 每人一个占位任务
//   - simple：同一 ID 共享任务；无 ID 时回退到数字事项编号，再不行则逐行孤立
//   - orphan_per_row：同一 ID 共享任务；无 ID 时逐行孤立
//
// 分组结果只取决于行集合本身（及批内"每个 ID 的开发者数"预计算），
// 行顺序仅影响求和顺序与主开发者并列裁决。标题取最早工作日的叙述，
// 同日取字典序最小者。开发者按 DeveloperKey 归一。
// ─────────────────────────────────────────────────────────────

// Policy 分组策略
type Policy string

const (
	PolicyDeveloperSplit Policy = "developer_split"
	PolicySimple         Policy = "simple"
	PolicyOrphanPerRow   Policy = "orphan_per_row"
)

// ParsePolicy 解析策略名；空串返回默认策略
func ParsePolicy(s string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(s))) {
	case "", PolicyDeveloperSplit:
		return PolicyDeveloperSplit, nil
	case PolicySimple:
		return PolicySimple, nil
	case PolicyOrphanPerRow:
		return PolicyOrphanPerRow, nil
	}
	return "", fmt.Errorf("未知的分组策略: %q", s)
}

// GrouperConfig 分组器配置
type GrouperConfig struct {
	Policy Policy
	// ContributorFallbackTaskID 特殊贡献者未写 ID 时归入的任务（如管理类任务 7300）；0 表示逐行孤立
	ContributorFallbackTaskID int64
}

// GroupingSummary 分组过程计数
type GroupingSummary struct {
	TotalRows       int     `json:"total_rows"`
	KeptRows        int     `json:"kept_rows"`
	SkippedActivity int     `json:"skipped_activity"`
	SkippedInvalid  int     `json:"skipped_invalid"`
	ContributorRows int     `json:"contributor_rows"`
	KeptHours       float64 `json:"kept_hours"`
}

// GroupResult 分组结果
type GroupResult struct {
	Drafts  []DraftTask
	Summary GroupingSummary
}

// Grouper 工时分组器
type Grouper struct {
	extractor *Extractor
	filter    *ActivityFilter
	cfg       GrouperConfig
}

// NewGrouper 创建分组器
func NewGrouper(extractor *Extractor, filter *ActivityFilter, cfg GrouperConfig) *Grouper {
	if cfg.Policy == "" {
		cfg.Policy = PolicyDeveloperSplit
	}
	return &Grouper{extractor: extractor, filter: filter, cfg: cfg}
}

// WithPolicy 返回使用另一策略的分组器（用于并排比较）
func (g *Grouper) WithPolicy(p Policy) *Grouper {
	cfg := g.cfg
	cfg.Policy = p
	return &Grouper{extractor: g.extractor, filter: g.filter, cfg: cfg}
}

// Policy 当前策略
func (g *Grouper) Policy() Policy { return g.cfg.Policy }

type resolvedRow struct {
	row       RawTimeLogRow
	developer string
	id        int64
	found     bool
}

type assignment struct {
	key          TaskKey
	idNotEntered bool
	title        string
	// fallbackTitle 标题来自事项名称等回退来源
	fallbackTitle bool
}

type keyAssigner interface {
	assign(r resolvedRow) assignment
}

// Group 执行过滤与分组
func (g *Grouper) Group(rows []RawTimeLogRow) GroupResult {
	var summary GroupingSummary
	summary.TotalRows = len(rows)

	var general, contributor []resolvedRow
	kept := decimal.Zero
	for _, r := range rows {
		if !validRow(r) {
			summary.SkippedInvalid++
			continue
		}
		if g.filter.Skip(r.ActivityDesc) {
			summary.SkippedActivity++
			continue
		}
		id, found := g.extractor.Extract(r.Narrative)
		rr := resolvedRow{row: r, developer: r.Developer(), id: id, found: found}
		summary.KeptRows++
		kept = kept.Add(decimal.NewFromFloat(r.WorkHrs))
		if g.filter.IsContributor(r) {
			summary.ContributorRows++
			contributor = append(contributor, rr)
			continue
		}
		general = append(general, rr)
	}
	summary.KeptHours = kept.InexactFloat64()

	ctx := &batchContext{
		devsPerID: countDevelopersPerID(general),
		alloc:     newPlaceholderAllocator(),
	}

	acc := newDraftAccumulator()
	strategy := g.strategy(ctx)
	for _, rr := range general {
		acc.add(strategy.assign(rr), rr.row, false)
	}
	for _, rr := range contributor {
		acc.add(g.assignContributor(ctx, rr), rr.row, true)
	}

	return GroupResult{Drafts: acc.drafts(), Summary: summary}
}

func validRow(r RawTimeLogRow) bool {
	if r.WorkDate.IsZero() {
		return false
	}
	if math.IsNaN(r.WorkHrs) || math.IsInf(r.WorkHrs, 0) || r.WorkHrs < 0 {
		return false
	}
	return true
}

func (g *Grouper) strategy(ctx *batchContext) keyAssigner {
	switch g.cfg.Policy {
	case PolicySimple:
		return simpleAssigner{ctx: ctx}
	case PolicyOrphanPerRow:
		return orphanAssigner{ctx: ctx}
	default:
		return splitAssigner{ctx: ctx}
	}
}

func (g *Grouper) assignContributor(ctx *batchContext, rr resolvedRow) assignment {
	if rr.found {
		return assignment{key: Recovered(rr.id), title: narrativeTitle(rr.row)}
	}
	if g.cfg.ContributorFallbackTaskID > 0 {
		return assignment{key: Recovered(g.cfg.ContributorFallbackTaskID), title: narrativeTitle(rr.row)}
	}
	return ctx.orphan(rr)
}

// ── 批上下文 ──

type batchContext struct {
	devsPerID map[int64]map[string]struct{}
	alloc     *placeholderAllocator
}

func countDevelopersPerID(rows []resolvedRow) map[int64]map[string]struct{} {
	out := make(map[int64]map[string]struct{})
	for _, rr := range rows {
		if !rr.found {
			continue
		}
		devs, ok := out[rr.id]
		if !ok {
			devs = make(map[string]struct{})
			out[rr.id] = devs
		}
		devs[DeveloperKey(rr.developer)] = struct{}{}
	}
	return out
}

func (c *batchContext) orphan(rr resolvedRow) assignment {
	r := rr.row
	seed := fmt.Sprintf("orphan:%s:%s:%s:%s:%s",
		r.TimekeeperNumber, r.WorkDate.Format(DateLayout),
		decimal.NewFromFloat(r.WorkHrs).String(), r.MatterNumber, r.Narrative)
	matter := strings.TrimSpace(r.MatterName)
	if matter == "" {
		matter = "No Matter"
	}
	return assignment{
		key:          Placeholder(c.alloc.unique(seed), nil),
		idNotEntered: true,
		title:        fmt.Sprintf("%s - %s - %s", matter, rr.developer, r.WorkDate.Format(DateLayout)),
	}
}

func (c *batchContext) split(rr resolvedRow) assignment {
	orig := rr.id
	seed := fmt.Sprintf("split:%d:%s", orig, DeveloperKey(rr.developer))
	return assignment{
		key:   Placeholder(c.alloc.forSeed(seed), &orig),
		title: fmt.Sprintf("TFS %d - %s", orig, rr.developer),
	}
}

// ── 策略实现 ──

type splitAssigner struct{ ctx *batchContext }

func (s splitAssigner) assign(rr resolvedRow) assignment {
	if !rr.found {
		return s.ctx.orphan(rr)
	}
	if len(s.ctx.devsPerID[rr.id]) > 1 {
		return s.ctx.split(rr)
	}
	return assignment{key: Recovered(rr.id), title: narrativeTitle(rr.row)}
}

type simpleAssigner struct{ ctx *batchContext }

func (s simpleAssigner) assign(rr resolvedRow) assignment {
	if rr.found {
		return assignment{key: Recovered(rr.id), title: narrativeTitle(rr.row)}
	}
	if id, ok := ParseMatterID(rr.row.MatterNumber); ok {
		title := strings.TrimSpace(rr.row.MatterName)
		if title == "" {
			title = rr.row.MatterNumber
		}
		return assignment{key: Recovered(id), idNotEntered: true, title: title, fallbackTitle: true}
	}
	return s.ctx.orphan(rr)
}

type orphanAssigner struct{ ctx *batchContext }

func (s orphanAssigner) assign(rr resolvedRow) assignment {
	if rr.found {
		return assignment{key: Recovered(rr.id), title: narrativeTitle(rr.row)}
	}
	return s.ctx.orphan(rr)
}

// MaxTitleLen 任务标题的最大字符数（tasks.title VARCHAR(255)）
const MaxTitleLen = 255

func narrativeTitle(r RawTimeLogRow) string {
	return TruncateTitle(r.Narrative)
}

// TruncateTitle 按字符截断标题并去除非法 UTF-8
func TruncateTitle(s string) string {
	t := strings.TrimSpace(strings.ToValidUTF8(s, ""))
	if utf8.RuneCountInString(t) <= MaxTitleLen {
		return t
	}
	return strings.TrimSpace(string([]rune(t)[:MaxTitleLen]))
}

// ── 占位 ID 分配 ──

var placeholderNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("urn:tfs-insight:placeholder"))

const placeholderSpan = 999_999_999

// placeholderAllocator 基于种子生成确定性的负数 ID：同一文件重复导入得到相同占位 ID
type placeholderAllocator struct {
	bySeed map[string]int64
	used   map[int64]struct{}
	seen   map[string]int
}

func newPlaceholderAllocator() *placeholderAllocator {
	return &placeholderAllocator{
		bySeed: make(map[string]int64),
		used:   make(map[int64]struct{}),
		seen:   make(map[string]int),
	}
}

// forSeed 同一种子返回同一 ID
func (a *placeholderAllocator) forSeed(seed string) int64 {
	if id, ok := a.bySeed[seed]; ok {
		return id
	}
	id := syntheticID(seed)
	for {
		if _, taken := a.used[id]; !taken {
			break
		}
		id--
		if id < -placeholderSpan {
			id = -1
		}
	}
	a.bySeed[seed] = id
	a.used[id] = struct{}{}
	return id
}

// unique 每次调用都返回新 ID（相同种子按出现次数区分）
func (a *placeholderAllocator) unique(seed string) int64 {
	n := a.seen[seed]
	a.seen[seed] = n + 1
	return a.forSeed(fmt.Sprintf("%s#%d", seed, n))
}

func syntheticID(seed string) int64 {
	u := uuid.NewSHA1(placeholderNamespace, []byte(seed))
	v := binary.BigEndian.Uint32(u[:4])
	return -(int64(v%placeholderSpan) + 1)
}

// ── 草稿累加 ──

type keyIdent struct {
	kind KeyKind
	id   int64
}

type draftBuilder struct {
	key            TaskKey
	idNotEntered   bool
	title          string
	titleFallback  bool
	titleDate      time.Time
	entries        []TimeEntry
	total          decimal.Decimal
	devOrder       []string
	devNames       map[string]string
	devHours       map[string]decimal.Decimal
	byDate         map[string]map[string]decimal.Decimal
	allContributor bool
}

type draftAccumulator struct {
	order    []keyIdent
	builders map[keyIdent]*draftBuilder
}

func newDraftAccumulator() *draftAccumulator {
	return &draftAccumulator{builders: make(map[keyIdent]*draftBuilder)}
}

func (a *draftAccumulator) add(as assignment, r RawTimeLogRow, contributor bool) {
	ident := keyIdent{kind: as.key.Kind, id: as.key.ID}
	b, ok := a.builders[ident]
	if !ok {
		b = newDraftBuilder()
		b.key = as.key
		b.idNotEntered = as.idNotEntered
		b.allContributor = true
		a.builders[ident] = b
		a.order = append(a.order, ident)
	} else {
		b.idNotEntered = b.idNotEntered && as.idNotEntered
	}

	b.offerTitle(as.title, as.fallbackTitle, r.WorkDate)
	b.addEntry(newTimeEntry(r))
	b.allContributor = b.allContributor && contributor
}

// offerTitle 叙述来源优先于回退来源；同类按 (工作日, 标题) 取最小
func (b *draftBuilder) offerTitle(title string, fallback bool, date time.Time) {
	if title == "" {
		return
	}
	if b.title != "" {
		if fallback != b.titleFallback {
			if fallback {
				return
			}
		} else if date.After(b.titleDate) || (date.Equal(b.titleDate) && title >= b.title) {
			return
		}
	}
	b.title, b.titleFallback, b.titleDate = title, fallback, date
}

func newDraftBuilder() *draftBuilder {
	return &draftBuilder{
		devNames: make(map[string]string),
		devHours: make(map[string]decimal.Decimal),
		byDate:   make(map[string]map[string]decimal.Decimal),
	}
}

func (b *draftBuilder) addEntry(entry TimeEntry) {
	hours := decimal.NewFromFloat(entry.Hours)
	name := entry.Developer()
	dev := DeveloperKey(name)

	b.entries = append(b.entries, entry)
	b.total = b.total.Add(hours)
	if prev, seen := b.devNames[dev]; !seen {
		b.devOrder = append(b.devOrder, dev)
		b.devNames[dev] = name
	} else if name < prev {
		b.devNames[dev] = name
	}
	b.devHours[dev] = b.devHours[dev].Add(hours)
	days, ok := b.byDate[dev]
	if !ok {
		days = make(map[string]decimal.Decimal)
		b.byDate[dev] = days
	}
	days[entry.WorkDate] = days[entry.WorkDate].Add(hours)
}

// Rollup 由时间条目重新计算总工时与两级分布，用于手工合并任务
func Rollup(entries []TimeEntry) (total float64, breakdown Breakdown, byDate DateBreakdown) {
	b := newDraftBuilder()
	for _, e := range entries {
		b.addEntry(e)
	}
	d := b.build()
	return d.TotalActualHours, d.Breakdown, d.BreakdownByDate
}

func (a *draftAccumulator) drafts() []DraftTask {
	out := make([]DraftTask, 0, len(a.order))
	for _, ident := range a.order {
		out = append(out, a.builders[ident].build())
	}
	return out
}

func (b *draftBuilder) build() DraftTask {
	breakdown := make(Breakdown, 0, len(b.devOrder))
	for _, dev := range b.devOrder {
		breakdown = append(breakdown, DeveloperHours{Developer: b.devNames[dev], Hours: b.devHours[dev].InexactFloat64()})
	}
	byDate := make(DateBreakdown, len(b.byDate))
	for dev, days := range b.byDate {
		m := make(map[string]float64, len(days))
		for day, h := range days {
			m[day] = h.InexactFloat64()
		}
		byDate[b.devNames[dev]] = m
	}
	return DraftTask{
		Key:              b.key,
		IDNotEntered:     b.idNotEntered,
		Title:            b.title,
		Entries:          b.entries,
		TotalActualHours: b.total.InexactFloat64(),
		Breakdown:        breakdown,
		BreakdownByDate:  byDate,
		ContributorOnly:  b.allContributor,
	}
}
