package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"tfs-insight/backend/internal/model"
	"tfs-insight/backend/internal/repository"
)

// ── 导出模块业务错误 ──

var (
	ErrExportNoTasks      = errors.New("暂无可导出的任务")
	ErrExportGenerateFail = errors.New("生成 Excel 文件失败")
)

// ExportService 导出业务接口
//
//   - 任务按 tfs_id 降序导出，保证同一数据集的导出结果可复现
//   - "Tasks" 每个任务一行；"Entries" 每条时间条目一行
//   - 以 bytes.Buffer 返回，由 Handler 层设置响应头
type ExportService interface {
	ExportTasks(ctx context.Context) (*bytes.Buffer, string, error)
}

type exportService struct {
	repo   *repository.Repository
	logger *zap.Logger
	now    func() time.Time
}

// NewExportService 创建 ExportService 实例
func NewExportService(repo *repository.Repository, logger *zap.Logger) ExportService {
	return &exportService{repo: repo, logger: logger, now: time.Now}
}

var taskHeaders = []string{
	"TFS ID", "Kind", "Original TFS ID", "ID Not Entered", "Title", "Application",
	"Primary Developer", "Actual Hours", "Estimated", "Estimate Source", "Quality",
}

var entryHeaders = []string{
	"TFS ID", "Employee ID", "Developer", "Work Date", "Hours", "Narrative", "Activity", "Matter",
}

// ═══════════════════════════════════════════════════════════
// ExportTasks 导出规范任务为 Excel
// ═══════════════════════════════════════════════════════════

func (s *exportService) ExportTasks(ctx context.Context) (*bytes.Buffer, string, error) {
	tasks, err := s.repo.Task.ListAll(ctx)
	if err != nil {
		s.logger.Error("查询任务失败", zap.Error(err))
		return nil, "", err
	}
	if len(tasks) == 0 {
		return nil, "", ErrExportNoTasks
	}

	f := excelize.NewFile()
	defer f.Close()

	const taskSheet, entrySheet = "Tasks", "Entries"
	idx, _ := f.NewSheet(taskSheet)
	f.SetActiveSheet(idx)
	f.DeleteSheet("Sheet1")
	f.NewSheet(entrySheet)

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 11, Color: "#FFFFFF"},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#4472C4"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})

	if err := writeHeader(f, taskSheet, taskHeaders, headerStyle); err != nil {
		return nil, "", s.fail(err)
	}
	if err := writeHeader(f, entrySheet, entryHeaders, headerStyle); err != nil {
		return nil, "", s.fail(err)
	}
	f.SetColWidth(taskSheet, "E", "E", 60)
	f.SetColWidth(entrySheet, "F", "F", 60)

	entryRow := 2
	for i := range tasks {
		t := &tasks[i]
		if err := f.SetSheetRow(taskSheet, cell("A", i+2), taskRow(t)); err != nil {
			return nil, "", s.fail(err)
		}
		for _, e := range t.Entries() {
			row := []interface{}{t.TfsID, e.EmployeeID, e.Developer(), e.WorkDate, e.Hours, e.Narrative, e.ActivityDesc, e.MatterNumber}
			if err := f.SetSheetRow(entrySheet, cell("A", entryRow), &row); err != nil {
				return nil, "", s.fail(err)
			}
			entryRow++
		}
	}

	buf := new(bytes.Buffer)
	if err := f.Write(buf); err != nil {
		return nil, "", s.fail(err)
	}

	filename := fmt.Sprintf("tfs_tasks_%s.xlsx", s.now().Format("20060102"))
	return buf, filename, nil
}

func (s *exportService) fail(err error) error {
	s.logger.Error("写入 Excel 失败", zap.Error(err))
	return ErrExportGenerateFail
}

func taskRow(t *model.Task) *[]interface{} {
	var original, estimated, quality interface{}
	if t.OriginalTfsID != nil {
		original = *t.OriginalTfsID
	}
	if t.Estimated != nil {
		estimated = *t.Estimated
	}
	if t.Quality != nil {
		quality = *t.Quality
	}
	row := []interface{}{
		t.TfsID, t.IDKind, original, t.IDNotEntered, t.Title, t.Application,
		t.PrimaryDeveloper(), t.TotalActualHours, estimated, t.EstimateSource, quality,
	}
	return &row
}

func writeHeader(f *excelize.File, sheet string, headers []string, style int) error {
	row := make([]interface{}, len(headers))
	for i, h := range headers {
		row[i] = h
	}
	if err := f.SetSheetRow(sheet, "A1", &row); err != nil {
		return err
	}
	last, _ := excelize.ColumnNumberToName(len(headers))
	return f.SetCellStyle(sheet, "A1", last+"1", style)
}

// ── 辅助函数 ──

func cell(col string, row int) string {
	return fmt.Sprintf("%s%d", col, row)
}
