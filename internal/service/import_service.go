package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"tfs-insight/backend/config"
	"tfs-insight/backend/internal/dto"
	"tfs-insight/backend/internal/model"
	"tfs-insight/backend/internal/reconcile"
	"tfs-insight/backend/internal/repository"
	"tfs-insight/backend/pkg/metrics"
)

// ── 导入模块业务错误 ──

var (
	ErrImportNotFound   = errors.New("导入记录不存在")
	ErrImportStageFail  = errors.New("暂存上传文件失败")
	ErrImportClearFail  = errors.New("清空已有数据失败")
	ErrImportInvalidArg = errors.New("无效的分组策略")
)

// previewTaskLimit 预览返回的任务明细上限
const previewTaskLimit = 500

// ImportService 导入业务接口
//
//   - Import / Preview 接收上传文件流，先暂存到磁盘，任何退出路径都会删除暂存文件
//   - ImportRows 为已解析数据的入口，import(rows, metadataRows, clearExisting) 的直接实现
//   - 行级问题不会中断导入；文件级问题整体失败，但仍返回已完成的部分计数
type ImportService interface {
	Import(ctx context.Context, src io.Reader, fileName string, req *dto.ImportRequest) (*dto.ImportResult, error)
	Preview(ctx context.Context, src io.Reader, fileName string, req *dto.ImportRequest) (*dto.ImportPreview, error)
	ImportRows(ctx context.Context, parsed *ParsedWorkbook, fileName string, req *dto.ImportRequest) (*dto.ImportResult, error)
	List(ctx context.Context, req *dto.PaginationRequest) ([]model.ImportBatch, int64, error)
	GetByID(ctx context.Context, id string) (*model.ImportBatch, error)
}

type importService struct {
	cfg      *config.ReconcileConfig
	pipeline *reconcile.Pipeline
	repo     *repository.Repository
	locker   TaskLocker
	logger   *zap.Logger
	now      func() time.Time
}

// NewImportService 创建 ImportService 实例
func NewImportService(cfg *config.ReconcileConfig, repo *repository.Repository, locker TaskLocker, logger *zap.Logger) ImportService {
	return &importService{
		cfg:      cfg,
		pipeline: reconcile.NewPipeline(cfg.PipelineConfig()),
		repo:     repo,
		locker:   locker,
		logger:   logger,
		now:      time.Now,
	}
}

// ────────────────────── 暂存上传文件 ──────────────────────

// stage 将上传内容写入临时文件，返回打开的文件与清理函数
func (s *importService) stage(src io.Reader) (*os.File, func(), error) {
	tmp, err := os.CreateTemp(s.cfg.UploadDir, "tfs-import-*.xlsx")
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrImportStageFail, err)
	}
	cleanup := func() {
		_ = tmp.Close()
		if err := os.Remove(tmp.Name()); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("删除暂存文件失败", zap.String("path", tmp.Name()), zap.Error(err))
		}
	}
	if _, err := io.Copy(tmp, src); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("%w: %v", ErrImportStageFail, err)
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("%w: %v", ErrImportStageFail, err)
	}
	return tmp, cleanup, nil
}

func (s *importService) pipelineFor(req *dto.ImportRequest) (*reconcile.Pipeline, error) {
	if req == nil || req.Policy == "" {
		return s.pipeline, nil
	}
	policy, err := reconcile.ParsePolicy(req.Policy)
	if err != nil {
		return nil, ErrImportInvalidArg
	}
	return s.pipeline.WithPolicy(policy), nil
}

// ────────────────────── Import ──────────────────────

func (s *importService) Import(ctx context.Context, src io.Reader, fileName string, req *dto.ImportRequest) (*dto.ImportResult, error) {
	f, cleanup, err := s.stage(src)
	if err != nil {
		s.logger.Error("暂存上传文件失败", zap.String("file", fileName), zap.Error(err))
		return nil, err
	}
	defer cleanup()

	parsed, err := ParseWorkbook(f)
	if err != nil {
		s.logger.Warn("解析导入文件失败", zap.String("file", fileName), zap.Error(err))
		s.recordFailedParse(ctx, fileName, req, err)
		return nil, err
	}
	return s.ImportRows(ctx, parsed, fileName, req)
}

// recordFailedParse 文件级失败同样写入导入日志
func (s *importService) recordFailedParse(ctx context.Context, fileName string, req *dto.ImportRequest, cause error) {
	now := s.now()
	batch := &model.ImportBatch{
		ImportID:     uuid.NewString(),
		FileName:     fileName,
		Policy:       string(s.pipeline.Policy()),
		Status:       model.ImportStatusFailed,
		Issues:       datatypes.NewJSONType([]model.ImportIssue{}),
		ErrorMessage: cause.Error(),
		StartedAt:    now,
		FinishedAt:   &now,
	}
	if req != nil {
		batch.ClearExisting = req.ClearExisting
		if req.Policy != "" {
			batch.Policy = req.Policy
		}
	}
	if err := s.repo.ImportBatch.Create(ctx, batch); err != nil {
		s.logger.Error("写入导入日志失败", zap.Error(err))
	}
	metrics.ObserveImportDuration(model.ImportStatusFailed, 0)
}

// ────────────────────── ImportRows ──────────────────────

func (s *importService) ImportRows(ctx context.Context, parsed *ParsedWorkbook, fileName string, req *dto.ImportRequest) (*dto.ImportResult, error) {
	if req == nil {
		req = &dto.ImportRequest{}
	}
	pipeline, err := s.pipelineFor(req)
	if err != nil {
		return nil, err
	}

	started := s.now()
	batch := &model.ImportBatch{
		ImportID:      uuid.NewString(),
		FileName:      fileName,
		Policy:        string(pipeline.Policy()),
		ClearExisting: req.ClearExisting,
		Status:        model.ImportStatusRunning,
		Issues:        datatypes.NewJSONType([]model.ImportIssue{}),
		StartedAt:     started,
	}
	if err := s.repo.ImportBatch.Create(ctx, batch); err != nil {
		// 日志写入失败不影响导入本身
		s.logger.Error("写入导入日志失败", zap.Error(err))
	}

	res := pipeline.Run(parsed.TimeLogs, parsed.Metadata)
	for _, is := range parsed.Issues {
		s.logger.Warn("跳过无效行",
			zap.String("sheet", is.Sheet),
			zap.Int("row", is.Row),
			zap.String("reason", is.Message),
		)
	}

	result := &dto.ImportResult{
		ImportID:     batch.ImportID,
		Policy:       string(pipeline.Policy()),
		MetadataRows: len(parsed.Metadata),
		Grouping:     res.Summary,
		Issues:       append([]model.ImportIssue{}, parsed.Issues...),
	}

	finish := func(status string, cause error) {
		now := s.now()
		result.Status = status
		batch.Status = status
		batch.TotalRows = parsed.TotalRows
		batch.KeptRows = res.Summary.KeptRows
		batch.SkippedRows = parsed.InvalidRows + res.Summary.SkippedActivity + res.Summary.SkippedInvalid
		batch.TasksCreated = result.ImportedCount
		batch.TasksUpdated = result.UpdatedCount
		batch.Developers = result.DeveloperCount
		batch.TasksFailed = result.FailedCount
		batch.MetadataRows = result.MetadataRows
		batch.Issues = datatypes.NewJSONType(result.Issues)
		batch.FinishedAt = &now
		if cause != nil {
			batch.ErrorMessage = cause.Error()
		}
		// 请求取消后仍需记录批次结果
		if err := s.repo.ImportBatch.Update(context.WithoutCancel(ctx), batch); err != nil {
			s.logger.Error("更新导入日志失败", zap.String("import_id", batch.ImportID), zap.Error(err))
		}

		metrics.ObserveImportRows("kept", res.Summary.KeptRows)
		metrics.ObserveImportRows("skipped_activity", res.Summary.SkippedActivity)
		metrics.ObserveImportRows("skipped_invalid", parsed.InvalidRows+res.Summary.SkippedInvalid)
		metrics.ObserveImportRows("contributor", res.Summary.ContributorRows)
		metrics.ObserveImportTasks("created", result.ImportedCount)
		metrics.ObserveImportTasks("updated", result.UpdatedCount)
		metrics.ObserveImportTasks("failed", result.FailedCount)
		metrics.ObserveImportDuration(status, now.Sub(started))
	}

	if req.ClearExisting {
		if err := s.clearExisting(ctx); err != nil {
			finish(model.ImportStatusFailed, err)
			return result, err
		}
	}

	// 各任务持有各自的 tfs_id 锁，并发写入；结果按任务顺序汇总
	outcomes := make([]upsertOutcome, len(res.Merge.Tasks))
	g := new(errgroup.Group)
	g.SetLimit(engineWorkers)
	for i, task := range res.Merge.Tasks {
		g.Go(func() error {
			created, err := s.upsertTask(ctx, task, batch.ImportID)
			outcomes[i] = upsertOutcome{created: created, err: err}
			return nil
		})
	}
	_ = g.Wait()

	for i, o := range outcomes {
		tfsID := res.Merge.Tasks[i].Key.ID
		switch {
		case o.err != nil:
			result.FailedCount++
			result.Issues = append(result.Issues, model.ImportIssue{TfsID: tfsID, Message: o.err.Error()})
			s.logger.Error("写入任务失败", zap.Int64("tfs_id", tfsID), zap.Error(o.err))
		case o.created:
			result.ImportedCount++
		default:
			result.UpdatedCount++
		}
	}

	profiles := reconcile.BuildDeveloperProfiles(res.Drafts)
	if err := s.repo.Developer.Upsert(ctx, toDeveloperModels(profiles)); err != nil {
		result.FailedCount++
		result.Issues = append(result.Issues, model.ImportIssue{Message: "更新开发者档案失败: " + err.Error()})
		s.logger.Error("更新开发者档案失败", zap.Error(err))
	} else {
		result.DeveloperCount = len(profiles)
	}

	status := model.ImportStatusCompleted
	if result.FailedCount > 0 {
		status = model.ImportStatusPartial
	}
	finish(status, nil)

	s.logger.Info("导入完成",
		zap.String("import_id", batch.ImportID),
		zap.String("policy", result.Policy),
		zap.Int("imported", result.ImportedCount),
		zap.Int("updated", result.UpdatedCount),
		zap.Int("failed", result.FailedCount),
		zap.Int("developers", result.DeveloperCount),
	)
	return result, nil
}

func (s *importService) clearExisting(ctx context.Context) error {
	n, err := s.repo.Task.DeleteAll(ctx)
	if err != nil {
		s.logger.Error("清空任务失败", zap.Error(err))
		return fmt.Errorf("%w: %v", ErrImportClearFail, err)
	}
	if _, err := s.repo.Developer.DeleteAll(ctx); err != nil {
		s.logger.Error("清空开发者失败", zap.Error(err))
		return fmt.Errorf("%w: %v", ErrImportClearFail, err)
	}
	s.logger.Info("已清空已有任务", zap.Int64("deleted", n))
	return nil
}

type upsertOutcome struct {
	created bool
	err     error
}

// upsertTask 在任务锁内按 tfs_id 插入或覆盖；返回是否为新建
func (s *importService) upsertTask(ctx context.Context, c reconcile.CanonicalTask, importID string) (bool, error) {
	unlock, err := s.locker.Lock(ctx, c.Key.ID)
	if err != nil {
		return false, err
	}
	defer unlock()

	existing, err := s.repo.Task.GetByTfsID(ctx, c.Key.ID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return false, err
	}

	if existing == nil {
		task := &model.Task{TaskID: uuid.NewString()}
		task.ApplyCanonical(c)
		s.applyContributorDefaults(task, c, nil, nil)
		task.LastImportID = &importID
		if err := s.repo.Task.Create(ctx, task); err != nil {
			return false, err
		}
		return true, nil
	}

	prevEstimate, prevQuality := existing.Estimated, existing.Quality
	existing.ApplyCanonical(c)
	s.applyContributorDefaults(existing, c, prevEstimate, prevQuality)
	existing.LastImportID = &importID
	if err := s.repo.Task.Update(ctx, existing); err != nil {
		return false, err
	}
	return false, nil
}

func (s *importService) applyContributorDefaults(task *model.Task, c reconcile.CanonicalTask, prevEstimate *float64, prevQuality *int) {
	est, q := reconcile.ContributorDefaults(c, prevEstimate, prevQuality, s.cfg.SpecialContributor.DefaultQuality)
	if est != nil {
		task.Estimated = est
		task.EstimateSource = reconcile.EstimateSourceContributorDefault
		task.EstimateGroup = ""
	}
	if q != nil {
		task.Quality = q
	}
}

func toDeveloperModels(profiles []reconcile.DeveloperProfile) []model.Developer {
	out := make([]model.Developer, 0, len(profiles))
	for _, p := range profiles {
		out = append(out, model.Developer{
			EmployeeID: p.EmployeeID,
			Name:       p.Name,
			Title:      p.Title,
			TotalHours: p.TotalHours,
			TaskCount:  p.TaskCount,
		})
	}
	return out
}

// ────────────────────── Preview ──────────────────────

func (s *importService) Preview(ctx context.Context, src io.Reader, fileName string, req *dto.ImportRequest) (*dto.ImportPreview, error) {
	pipeline, err := s.pipelineFor(req)
	if err != nil {
		return nil, err
	}

	f, cleanup, err := s.stage(src)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	parsed, err := ParseWorkbook(f)
	if err != nil {
		s.logger.Warn("解析预览文件失败", zap.String("file", fileName), zap.Error(err))
		return nil, err
	}

	res := pipeline.Run(parsed.TimeLogs, parsed.Metadata)

	ids := make([]int64, 0, len(res.Merge.Tasks))
	for _, t := range res.Merge.Tasks {
		ids = append(ids, t.Key.ID)
	}
	existing := map[int64]bool{}
	// clear_existing 时所有任务都视为新建
	if req == nil || !req.ClearExisting {
		existing, err = s.repo.Task.ExistingTfsIDs(ctx, ids)
		if err != nil {
			s.logger.Error("查询已有任务失败", zap.Error(err))
			return nil, err
		}
	}

	preview := &dto.ImportPreview{
		Policy:          string(pipeline.Policy()),
		Grouping:        res.Summary,
		TaskCount:       len(res.Merge.Tasks),
		DeveloperCount:  len(reconcile.BuildDeveloperProfiles(res.Drafts)),
		MetadataMatched: res.Merge.Matched,
		Standalone:      res.Merge.Standalone,
		DroppedMetadata: res.Merge.DroppedMetadata,
		Tasks:           make([]dto.ImportPreviewTask, 0, min(len(res.Merge.Tasks), previewTaskLimit)),
		Issues:          parsed.Issues,
	}
	for _, t := range res.Merge.Tasks {
		if existing[t.Key.ID] {
			preview.ExistingCount++
		} else {
			preview.NewCount++
		}
		if len(preview.Tasks) >= previewTaskLimit {
			continue
		}
		preview.Tasks = append(preview.Tasks, dto.ImportPreviewTask{
			TfsID:            t.Key.ID,
			IDKind:           t.Key.Kind.String(),
			OriginalTfsID:    t.Key.OriginalID,
			IDNotEntered:     t.IDNotEntered,
			Title:            t.Title,
			Estimated:        t.Estimated,
			Quality:          t.Quality,
			TotalActualHours: t.TotalActualHours,
			EntryCount:       len(t.Entries),
			Breakdown:        t.Breakdown.Map(),
			Exists:           existing[t.Key.ID],
		})
	}
	if preview.Issues == nil {
		preview.Issues = []model.ImportIssue{}
	}
	return preview, nil
}

// ────────────────────── 导入历史 ──────────────────────

func (s *importService) List(ctx context.Context, req *dto.PaginationRequest) ([]model.ImportBatch, int64, error) {
	batches, total, err := s.repo.ImportBatch.List(ctx, req.GetOffset(), req.GetPageSize())
	if err != nil {
		s.logger.Error("查询导入记录失败", zap.Error(err))
		return nil, 0, err
	}
	return batches, total, nil
}

func (s *importService) GetByID(ctx context.Context, id string) (*model.ImportBatch, error) {
	batch, err := s.repo.ImportBatch.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrImportNotFound
		}
		s.logger.Error("查询导入记录失败", zap.String("id", id), zap.Error(err))
		return nil, err
	}
	return batch, nil
}
