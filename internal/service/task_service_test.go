package service

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"
	"gorm.io/datatypes"

	"tfs-insight/backend/internal/dto"
	"tfs-insight/backend/internal/model"
	"tfs-insight/backend/internal/reconcile"
	pkgerrors "tfs-insight/backend/pkg/errors"
)

func setupTestTaskService() (TaskService, *mockRepos) {
	repo, mocks := newMockRepository()
	return NewTaskService(repo, NewLocalTaskLocker(), zap.NewNop()), mocks
}

func ptrS(v string) *string { return &v }

// seedPlaceholder 写入一个未填写 ID 的占位任务
func seedPlaceholder(m *mockTaskRepo, syntheticID int64, dev string, hours float64) {
	entries := []reconcile.TimeEntry{{
		EmployeeID: dev, FirstName: dev, WorkDate: "2025-01-02", Hours: hours, MatterNumber: "M-" + dev,
	}}
	total, bd, byDate := reconcile.Rollup(entries)
	m.put(&model.Task{
		TaskID:             "p-" + dev,
		TfsID:              syntheticID,
		IDKind:             reconcile.KeyPlaceholder.String(),
		IDNotEntered:       true,
		Title:              reconcile.WithNotEnteredMarker("misc work"),
		TimeEntries:        datatypes.NewJSONType(entries),
		TotalActualHours:   total,
		DeveloperBreakdown: datatypes.NewJSONType(bd),
		BreakdownByDate:    datatypes.NewJSONType(byDate),
	})
}

// ── List / Get 测试 ──

func TestTaskService_ListFilters(t *testing.T) {
	svc, mocks := setupTestTaskService()
	seedTask(mocks.task, 10001, "Ann", 2, ptrF(3), nil)
	seedTask(mocks.task, 10002, "Bob", 4, nil, nil)
	seedPlaceholder(mocks.task, -1, "Cid", 1)

	yes := true
	list, total, err := svc.List(context.Background(), &dto.TaskListRequest{HasEstimate: &yes})
	if err != nil {
		t.Fatalf("查询失败: %v", err)
	}
	if total != 1 || list[0].TfsID != 10001 {
		t.Errorf("has_estimate 过滤不符: total=%d %+v", total, list)
	}

	list, _, err = svc.List(context.Background(), &dto.TaskListRequest{IDNotEntered: &yes})
	if err != nil {
		t.Fatalf("查询失败: %v", err)
	}
	if len(list) != 1 || list[0].IDKind != "placeholder" || list[0].PrimaryDeveloper != "Cid" {
		t.Errorf("id_not_entered 过滤不符: %+v", list)
	}

	list, _, _ = svc.List(context.Background(), &dto.TaskListRequest{Developer: " Bob "})
	if len(list) != 1 || list[0].TfsID != 10002 {
		t.Errorf("developer 过滤不符: %+v", list)
	}
}

func TestTaskService_GetNotFound(t *testing.T) {
	svc, _ := setupTestTaskService()
	if _, err := svc.Get(context.Background(), 42); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("期望 ErrTaskNotFound，实际: %v", err)
	}
}

func TestTaskService_GetDetail(t *testing.T) {
	svc, mocks := setupTestTaskService()
	seedTask(mocks.task, 10001, "Ann", 2.5, nil, nil)

	got, err := svc.Get(context.Background(), 10001)
	if err != nil {
		t.Fatalf("查询失败: %v", err)
	}
	if got.EntryCount != 1 || len(got.TimeEntries) != 1 || got.TotalActualHours != 2.5 {
		t.Errorf("详情不符: %+v", got)
	}
	if got.BreakdownByDate["Ann"]["2025-01-01"] != 2.5 {
		t.Errorf("按日分布不符: %+v", got.BreakdownByDate)
	}
}

// ── Update 测试 ──

func TestTaskService_UpdateManualEstimate(t *testing.T) {
	svc, mocks := setupTestTaskService()
	seedTask(mocks.task, 10001, "Ann", 2, nil, nil)

	got, err := svc.Update(context.Background(), 10001, &dto.UpdateTaskRequest{
		Version:   1,
		Title:     ptrS("  Fix login  "),
		Estimated: ptrF(6),
		Quality:   ptrI(4),
	})
	if err != nil {
		t.Fatalf("更新失败: %v", err)
	}
	if got.Title != "Fix login" || got.Version != 2 {
		t.Errorf("更新结果不符: %+v", got.TaskSummaryResponse)
	}

	stored := mocks.task.get(10001)
	if *stored.Estimated != 6 || stored.EstimateSource != EstimateSourceManual || *stored.Quality != 4 {
		t.Errorf("持久化结果不符: est=%v src=%q q=%v", *stored.Estimated, stored.EstimateSource, stored.Quality)
	}
}

func TestTaskService_UpdateStaleVersion(t *testing.T) {
	svc, mocks := setupTestTaskService()
	seedTask(mocks.task, 10001, "Ann", 2, nil, nil)

	_, err := svc.Update(context.Background(), 10001, &dto.UpdateTaskRequest{Version: 7, Title: ptrS("x")})
	if !errors.Is(err, pkgerrors.ErrOptimisticLock) {
		t.Errorf("期望 ErrOptimisticLock，实际: %v", err)
	}
	if mocks.task.get(10001).Title != "task" {
		t.Error("版本冲突时不应写入")
	}
}

func TestTaskService_ChangeIDToFreeID(t *testing.T) {
	svc, mocks := setupTestTaskService()
	seedPlaceholder(mocks.task, -3, "Cid", 2)

	got, err := svc.Update(context.Background(), -3, &dto.UpdateTaskRequest{Version: 1, NewTfsID: ptrI64(19542)})
	if err != nil {
		t.Fatalf("修改 ID 失败: %v", err)
	}
	if got.TfsID != 19542 || got.IDKind != "recovered" || got.IDNotEntered {
		t.Errorf("修改后的任务键不符: %+v", got.TaskSummaryResponse)
	}
	if got.Title != "misc work" {
		t.Errorf("标记前缀应被去除，实际 %q", got.Title)
	}
	if mocks.task.get(-3) != nil {
		t.Error("旧 ID 应不再存在")
	}
	if stored := mocks.task.get(19542); stored == nil || stored.TotalActualHours != 2 {
		t.Errorf("新 ID 下的任务不符: %+v", stored)
	}
}

func TestTaskService_ChangeIDConflict(t *testing.T) {
	svc, mocks := setupTestTaskService()
	seedPlaceholder(mocks.task, -3, "Cid", 2)
	seedTask(mocks.task, 10001, "Ann", 4, nil, nil)

	_, err := svc.Update(context.Background(), -3, &dto.UpdateTaskRequest{Version: 1, NewTfsID: ptrI64(10001)})
	if !errors.Is(err, ErrTaskIDConflict) {
		t.Fatalf("期望 ErrTaskIDConflict，实际: %v", err)
	}
	if mocks.task.get(-3) == nil || mocks.task.get(10001).TotalActualHours != 4 {
		t.Error("冲突时两个任务都不应改变")
	}
}

func TestTaskService_ChangeIDMerge(t *testing.T) {
	svc, mocks := setupTestTaskService()
	seedPlaceholder(mocks.task, -3, "Cid", 2)
	seedTask(mocks.task, 10001, "Ann", 4, nil, nil)

	got, err := svc.Update(context.Background(), -3, &dto.UpdateTaskRequest{
		Version: 1, NewTfsID: ptrI64(10001), Merge: true,
	})
	if err != nil {
		t.Fatalf("合并失败: %v", err)
	}
	if got.TfsID != 10001 || got.TotalActualHours != 6 || got.EntryCount != 2 {
		t.Errorf("合并结果不符: %+v", got.TaskSummaryResponse)
	}
	if got.PrimaryDeveloper != "Ann" || got.DeveloperBreakdown.Map()["Cid"] != 2 {
		t.Errorf("开发者分布应重新汇总: %+v", got.DeveloperBreakdown)
	}
	if mocks.task.get(-3) != nil {
		t.Error("源任务应被删除")
	}
}

func TestTaskService_Delete(t *testing.T) {
	svc, mocks := setupTestTaskService()
	seedTask(mocks.task, 10001, "Ann", 2, nil, nil)

	if err := svc.Delete(context.Background(), 10001); err != nil {
		t.Fatalf("删除失败: %v", err)
	}
	if mocks.task.get(10001) != nil {
		t.Error("任务应已删除")
	}
	if err := svc.Delete(context.Background(), 10001); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("期望 ErrTaskNotFound，实际: %v", err)
	}
}
