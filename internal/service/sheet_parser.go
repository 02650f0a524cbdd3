package service

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"tfs-insight/backend/internal/model"
	"tfs-insight/backend/internal/reconcile"
)

// ── 工作簿约定 ──

const (
	SheetTimeLog  = "3e"
	SheetMetadata = "scorebyTFS"
)

var timeLogHeaders = []string{
	"TimekeeperNumber", "FirstName", "LastName", "Title", "WorkDate", "WorkHrs",
	"TimecardNarrative", "ActivityCode", "ActivityCodeDesc", "MatterNumber", "MatterName",
}

var metadataHeaders = []string{"ID", "Title", "Estimated", "Quality"}

// ── 解析错误（文件级，整个导入失败） ──

var (
	ErrImportUnreadable   = errors.New("无法解析 Excel 文件")
	ErrImportSheetMissing = errors.New("缺少必要的工作表 3e")
	ErrImportBadHeader    = errors.New("工作表表头与约定列名不一致")
	ErrImportNoData       = errors.New("工时表无数据行")
)

// ParsedWorkbook 解析后的两张表
type ParsedWorkbook struct {
	TimeLogs []reconcile.RawTimeLogRow
	Metadata []reconcile.TaskMetadataRow
	// TotalRows 3e 中的非空数据行数（含解析失败的行）
	TotalRows int
	// InvalidRows 3e 中解析失败被跳过的行数
	InvalidRows int
	Issues      []model.ImportIssue
}

// ParseWorkbook 读取 "3e" 与 "scorebyTFS" 两张表
// 单行解析失败记为 issue 并跳过；工作簿不可读、缺少 3e、表头不符则整体失败
func ParseWorkbook(r io.Reader) (*ParsedWorkbook, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrImportUnreadable, err)
	}
	defer f.Close()

	out := &ParsedWorkbook{}

	if !hasSheet(f, SheetTimeLog) {
		return nil, ErrImportSheetMissing
	}
	rows, err := f.GetRows(SheetTimeLog, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrImportUnreadable, err)
	}
	if err := out.parseTimeLogs(rows); err != nil {
		return nil, err
	}

	if hasSheet(f, SheetMetadata) {
		metaRows, err := f.GetRows(SheetMetadata, excelize.Options{RawCellValue: true})
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrImportUnreadable, err)
		}
		if err := out.parseMetadata(metaRows); err != nil {
			return nil, err
		}
	} else {
		out.Issues = append(out.Issues, model.ImportIssue{
			Sheet:   SheetMetadata,
			Message: "未找到元数据工作表，仅导入工时",
		})
	}

	return out, nil
}

func hasSheet(f *excelize.File, name string) bool {
	for _, s := range f.GetSheetList() {
		if s == name {
			return true
		}
	}
	return false
}

// headerIndex 表头必须包含全部约定列名（精确匹配，列序不限）
func headerIndex(sheet string, header []string, required []string) (map[string]int, error) {
	idx := make(map[string]int, len(required))
	for i, h := range header {
		idx[strings.TrimSpace(h)] = i
	}
	var missing []string
	for _, name := range required {
		if _, ok := idx[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s 缺少列 %s", ErrImportBadHeader, sheet, strings.Join(missing, ", "))
	}
	return idx, nil
}

type rowReader struct {
	cols map[string]int
	row  []string
}

func (r rowReader) get(name string) string {
	i := r.cols[name]
	if i >= len(r.row) {
		return ""
	}
	return strings.TrimSpace(r.row[i])
}

func (r rowReader) empty() bool {
	for _, v := range r.row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

func (p *ParsedWorkbook) parseTimeLogs(rows [][]string) error {
	if len(rows) == 0 {
		return fmt.Errorf("%w: %s 缺少表头", ErrImportBadHeader, SheetTimeLog)
	}
	cols, err := headerIndex(SheetTimeLog, rows[0], timeLogHeaders)
	if err != nil {
		return err
	}

	for i := 1; i < len(rows); i++ {
		rr := rowReader{cols: cols, row: rows[i]}
		if rr.empty() {
			continue
		}
		p.TotalRows++
		line := i + 1

		workDate, err := parseWorkDate(rr.get("WorkDate"))
		if err != nil {
			p.rowIssue(SheetTimeLog, line, fmt.Sprintf("WorkDate 无法解析: %v", err))
			continue
		}
		hours, err := parseHours(rr.get("WorkHrs"))
		if err != nil {
			p.rowIssue(SheetTimeLog, line, fmt.Sprintf("WorkHrs 无法解析: %v", err))
			continue
		}
		first, last := rr.get("FirstName"), rr.get("LastName")
		if first == "" && last == "" {
			p.rowIssue(SheetTimeLog, line, "缺少开发者姓名")
			continue
		}

		p.TimeLogs = append(p.TimeLogs, reconcile.RawTimeLogRow{
			Row:              line,
			TimekeeperNumber: rr.get("TimekeeperNumber"),
			FirstName:        first,
			LastName:         last,
			Title:            rr.get("Title"),
			WorkDate:         workDate,
			WorkHrs:          hours,
			Narrative:        rr.get("TimecardNarrative"),
			ActivityCode:     rr.get("ActivityCode"),
			ActivityDesc:     rr.get("ActivityCodeDesc"),
			MatterNumber:     rr.get("MatterNumber"),
			MatterName:       rr.get("MatterName"),
		})
	}

	if p.TotalRows == 0 {
		return ErrImportNoData
	}
	return nil
}

func (p *ParsedWorkbook) parseMetadata(rows [][]string) error {
	if len(rows) == 0 {
		return fmt.Errorf("%w: %s 缺少表头", ErrImportBadHeader, SheetMetadata)
	}
	cols, err := headerIndex(SheetMetadata, rows[0], metadataHeaders)
	if err != nil {
		return err
	}

	for i := 1; i < len(rows); i++ {
		rr := rowReader{cols: cols, row: rows[i]}
		if rr.empty() {
			continue
		}
		line := i + 1
		meta := reconcile.TaskMetadataRow{Row: line, Title: rr.get("Title")}

		// ID 缺失的行交给合并阶段丢弃；ID 非法同样视为缺失
		if raw := rr.get("ID"); raw != "" {
			id, err := parsePositiveInt(raw)
			if err != nil {
				p.Issues = append(p.Issues, model.ImportIssue{Sheet: SheetMetadata, Row: line, Message: fmt.Sprintf("ID 无法解析: %v", err)})
			} else {
				meta.ID = &id
			}
		}
		if raw := rr.get("Estimated"); raw != "" {
			est, err := parseHours(raw)
			if err != nil {
				p.Issues = append(p.Issues, model.ImportIssue{Sheet: SheetMetadata, Row: line, Message: fmt.Sprintf("Estimated 无法解析: %v", err)})
			} else {
				meta.Estimated = &est
			}
		}
		if raw := rr.get("Quality"); raw != "" {
			q, err := parseQuality(raw)
			if err != nil {
				p.Issues = append(p.Issues, model.ImportIssue{Sheet: SheetMetadata, Row: line, Message: fmt.Sprintf("Quality 无法解析: %v", err)})
			} else {
				meta.Quality = &q
			}
		}
		p.Metadata = append(p.Metadata, meta)
	}
	return nil
}

func (p *ParsedWorkbook) rowIssue(sheet string, line int, msg string) {
	p.InvalidRows++
	p.Issues = append(p.Issues, model.ImportIssue{Sheet: sheet, Row: line, Message: msg})
}

// ── 单元格解析 ──

var dateLayouts = []string{
	reconcile.DateLayout,
	"2006-01-02 15:04:05",
	time.RFC3339,
	"1/2/2006",
	"01/02/2006",
	"1/2/06",
	"2006/01/02",
}

// parseWorkDate 支持 Excel 日期序列号与常见文本格式，统一截断为 UTC 日期
func parseWorkDate(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, errors.New("为空")
	}
	if serial, err := strconv.ParseFloat(raw, 64); err == nil {
		t, err := excelize.ExcelDateToTime(serial, false)
		if err != nil {
			return time.Time{}, err
		}
		return truncateDate(t), nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return truncateDate(t), nil
		}
	}
	return time.Time{}, fmt.Errorf("不支持的日期格式 %q", raw)
}

func truncateDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// parseHours 非负小数
func parseHours(raw string) (float64, error) {
	d, err := decimal.NewFromString(strings.ReplaceAll(raw, ",", ""))
	if err != nil {
		return 0, fmt.Errorf("非数字 %q", raw)
	}
	if d.IsNegative() {
		return 0, fmt.Errorf("不能为负数 %q", raw)
	}
	return d.InexactFloat64(), nil
}

func parsePositiveInt(raw string) (int64, error) {
	d, err := decimal.NewFromString(raw)
	if err != nil || !d.IsInteger() || !d.IsPositive() {
		return 0, fmt.Errorf("非正整数 %q", raw)
	}
	return d.IntPart(), nil
}

func parseQuality(raw string) (int, error) {
	n, err := parsePositiveInt(raw)
	if err != nil {
		return 0, err
	}
	if n < 1 || n > 5 {
		return 0, fmt.Errorf("超出 1-5 范围 %q", raw)
	}
	return int(n), nil
}
