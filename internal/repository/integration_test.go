//go:build integration

package repository_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"tfs-insight/backend/internal/model"
	"tfs-insight/backend/internal/reconcile"
	"tfs-insight/backend/internal/repository"
	"tfs-insight/backend/pkg/database"
	pkgerrors "tfs-insight/backend/pkg/errors"
)

// ═══════════════════════════════════════════════════════════
// Test Setup
// ═══════════════════════════════════════════════════════════

var testDB *gorm.DB

func TestMain(m *testing.M) {
	dsn := os.Getenv("TEST_DATABASE_DSN")
	if dsn == "" {
		dsn = "host=localhost port=5433 user=tfs_insight password=tfs_insight_password dbname=tfs_insight_test sslmode=disable TimeZone=UTC"
	}

	var err error
	testDB, err = gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "无法连接测试数据库: %v\n", err)
		os.Exit(1)
	}

	// 使用与生产一致的迁移文件建表
	sqlDB, err := testDB.DB()
	if err != nil {
		fmt.Fprintf(os.Stderr, "获取连接失败: %v\n", err)
		os.Exit(1)
	}
	if err := database.ResetSchema(sqlDB, zap.NewNop()); err != nil {
		fmt.Fprintf(os.Stderr, "迁移失败: %v\n", err)
		os.Exit(1)
	}

	code := m.Run()
	os.Exit(code)
}

func cleanTasks(t *testing.T) {
	t.Helper()
	if err := testDB.Exec("DELETE FROM tasks").Error; err != nil {
		t.Fatalf("清理 tasks 失败: %v", err)
	}
}

func newTask(tfsID int64, dev string, hours float64, est *float64) *model.Task {
	entries := []reconcile.TimeEntry{{EmployeeID: dev, FirstName: dev, WorkDate: "2025-01-01", Hours: hours}}
	total, bd, byDate := reconcile.Rollup(entries)
	return &model.Task{
		TaskID:             uuid.NewString(),
		TfsID:              tfsID,
		IDKind:             reconcile.KeyRecovered.String(),
		Title:              fmt.Sprintf("task %d", tfsID),
		Estimated:          est,
		TimeEntries:        datatypes.NewJSONType(entries),
		TotalActualHours:   total,
		DeveloperBreakdown: datatypes.NewJSONType(bd),
		BreakdownByDate:    datatypes.NewJSONType(byDate),
	}
}

func ptrF(v float64) *float64 { return &v }

// ═══════════════════════════════════════════════════════════
// TaskRepository
// ═══════════════════════════════════════════════════════════

func TestTaskRepo_CreateGetUpdate(t *testing.T) {
	cleanTasks(t)
	ctx := context.Background()
	repo := repository.NewTaskRepo(testDB)

	task := newTask(100, "Ann", 4, nil)
	if err := repo.Create(ctx, task); err != nil {
		t.Fatalf("创建失败: %v", err)
	}

	got, err := repo.GetByTfsID(ctx, 100)
	if err != nil {
		t.Fatalf("查询失败: %v", err)
	}
	if got.Version != 1 || got.TotalActualHours != 4 || len(got.Entries()) != 1 {
		t.Errorf("读回结果不符: %+v", got)
	}

	got.Estimated = ptrF(5)
	if err := repo.Update(ctx, got); err != nil {
		t.Fatalf("更新失败: %v", err)
	}
	if got.Version != 2 {
		t.Errorf("版本应递增为 2，实际 %d", got.Version)
	}

	// 过期版本
	stale := *got
	stale.Version = 1
	if err := repo.Update(ctx, &stale); !errors.Is(err, pkgerrors.ErrOptimisticLock) {
		t.Errorf("期望 ErrOptimisticLock，实际: %v", err)
	}
}

func TestTaskRepo_ListFilterByDeveloper(t *testing.T) {
	cleanTasks(t)
	ctx := context.Background()
	repo := repository.NewTaskRepo(testDB)

	for _, task := range []*model.Task{
		newTask(101, "Ann", 2, nil),
		newTask(102, "Bob", 3, ptrF(3)),
		newTask(103, "Ann", 1, ptrF(1)),
	} {
		if err := repo.Create(ctx, task); err != nil {
			t.Fatalf("创建失败: %v", err)
		}
	}

	list, total, err := repo.List(ctx, repository.TaskFilter{Developer: "Ann"}, 0, 10)
	if err != nil {
		t.Fatalf("查询失败: %v", err)
	}
	if total != 2 || list[0].TfsID != 103 || list[1].TfsID != 101 {
		t.Errorf("JSONB 过滤不符: total=%d %+v", total, list)
	}

	yes := true
	_, total, _ = repo.List(ctx, repository.TaskFilter{Developer: "Ann", HasEstimate: &yes}, 0, 10)
	if total != 1 {
		t.Errorf("组合过滤期望 1，实际 %d", total)
	}
}

func TestTaskRepo_EngineCandidates(t *testing.T) {
	cleanTasks(t)
	ctx := context.Background()
	repo := repository.NewTaskRepo(testDB)

	for _, task := range []*model.Task{
		newTask(201, "Ann", 2, nil),       // 估算候选
		newTask(202, "Ann", 7.5, ptrF(5)), // 质量候选 + 低估
		newTask(203, "Ann", 2.1, ptrF(3)), // 质量候选
		newTask(204, "Ann", 0.5, ptrF(0)), // 估算为 0，不参与评分，但低于 ceil(0.5)
	} {
		if err := repo.Create(ctx, task); err != nil {
			t.Fatalf("创建失败: %v", err)
		}
	}

	est, err := repo.ListEstimateCandidates(ctx)
	if err != nil || len(est) != 1 || est[0].TfsID != 201 {
		t.Errorf("估算候选不符: %v %+v", err, est)
	}
	q, err := repo.ListQualityCandidates(ctx, 0)
	if err != nil || len(q) != 2 {
		t.Errorf("质量候选不符: %v %+v", err, q)
	}
	low, err := repo.ListLowEstimates(ctx)
	if err != nil || len(low) != 2 || low[0].TfsID != 204 || low[1].TfsID != 202 {
		t.Errorf("低估列表不符: %v %+v", err, low)
	}
}

func TestTaskRepo_MergeInto(t *testing.T) {
	cleanTasks(t)
	ctx := context.Background()
	repo := repository.NewTaskRepo(testDB)

	src := newTask(-1, "Cid", 2, nil)
	src.IDKind = reconcile.KeyPlaceholder.String()
	dst := newTask(300, "Ann", 4, nil)
	for _, task := range []*model.Task{src, dst} {
		if err := repo.Create(ctx, task); err != nil {
			t.Fatalf("创建失败: %v", err)
		}
	}

	dst.TotalActualHours = 6
	if err := repo.MergeInto(ctx, src, dst); err != nil {
		t.Fatalf("合并失败: %v", err)
	}
	if _, err := repo.GetByTfsID(ctx, -1); !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Errorf("源任务应被删除: %v", err)
	}
	got, _ := repo.GetByTfsID(ctx, 300)
	if got.TotalActualHours != 6 || got.Version != 2 {
		t.Errorf("合并目标不符: %+v", got)
	}
}

// ═══════════════════════════════════════════════════════════
// DeveloperRepository / ImportBatchRepository
// ═══════════════════════════════════════════════════════════

func TestDeveloperRepo_Upsert(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewDeveloperRepo(testDB)
	if _, err := repo.DeleteAll(ctx); err != nil {
		t.Fatalf("清理失败: %v", err)
	}

	if err := repo.Upsert(ctx, []model.Developer{{EmployeeID: "E1", Name: "Ann", TotalHours: 3, TaskCount: 1}}); err != nil {
		t.Fatalf("写入失败: %v", err)
	}
	if err := repo.Upsert(ctx, []model.Developer{{EmployeeID: "E1", Name: "Ann B", TotalHours: 8, TaskCount: 2}}); err != nil {
		t.Fatalf("覆盖失败: %v", err)
	}

	all, err := repo.ListAll(ctx)
	if err != nil {
		t.Fatalf("查询失败: %v", err)
	}
	if len(all) != 1 || all[0].Name != "Ann B" || all[0].TotalHours != 8 {
		t.Errorf("upsert 结果不符: %+v", all)
	}
}

func TestImportBatchRepo_Lifecycle(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewImportBatchRepo(testDB)

	batch := &model.ImportBatch{
		ImportID:  uuid.NewString(),
		FileName:  "week.xlsx",
		Policy:    string(reconcile.PolicyDeveloperSplit),
		Status:    model.ImportStatusRunning,
		Issues:    datatypes.NewJSONType([]model.ImportIssue{}),
		StartedAt: time.Now(),
	}
	if err := repo.Create(ctx, batch); err != nil {
		t.Fatalf("创建失败: %v", err)
	}

	finished := time.Now()
	batch.Status = model.ImportStatusPartial
	batch.FinishedAt = &finished
	batch.Issues = datatypes.NewJSONType([]model.ImportIssue{{TfsID: 100, Message: "写入失败"}})
	if err := repo.Update(ctx, batch); err != nil {
		t.Fatalf("更新失败: %v", err)
	}

	got, err := repo.GetByID(ctx, batch.ImportID)
	if err != nil {
		t.Fatalf("查询失败: %v", err)
	}
	if got.Status != model.ImportStatusPartial || len(got.Issues.Data()) != 1 || got.FinishedAt == nil {
		t.Errorf("批次读回不符: %+v", got)
	}
}
