package service

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"

	"gorm.io/gorm"

	"tfs-insight/backend/internal/model"
	"tfs-insight/backend/internal/repository"
	pkgerrors "tfs-insight/backend/pkg/errors"
)

// ── Mock TaskRepository ──

type mockTaskRepo struct {
	mu        sync.Mutex
	tasks     map[int64]*model.Task
	updateErr map[int64]error // 指定 tfs_id 的写入失败
}

func newMockTaskRepo() *mockTaskRepo {
	return &mockTaskRepo{tasks: make(map[int64]*model.Task), updateErr: make(map[int64]error)}
}

func (m *mockTaskRepo) put(t *model.Task) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.Version == 0 {
		t.Version = 1
	}
	cp := *t
	m.tasks[t.TfsID] = &cp
}

func (m *mockTaskRepo) get(tfsID int64) *model.Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[tfsID]
	if !ok {
		return nil
	}
	cp := *t
	return &cp
}

func (m *mockTaskRepo) sorted(keep func(*model.Task) bool) []model.Task {
	var out []model.Task
	for _, t := range m.tasks {
		if keep(t) {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TfsID > out[j].TfsID })
	return out
}

func (m *mockTaskRepo) GetByTfsID(_ context.Context, tfsID int64) (*model.Task, error) {
	if t := m.get(tfsID); t != nil {
		return t, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *mockTaskRepo) Create(_ context.Context, task *model.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.updateErr[task.TfsID]; err != nil {
		return err
	}
	task.Version = 1
	cp := *task
	m.tasks[task.TfsID] = &cp
	return nil
}

func (m *mockTaskRepo) Update(_ context.Context, task *model.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateLocked(task)
}

// updateLocked 按 TaskID 定位，允许修改 tfs_id
func (m *mockTaskRepo) updateLocked(task *model.Task) error {
	if err := m.updateErr[task.TfsID]; err != nil {
		return err
	}
	var cur *model.Task
	var curKey int64
	for k, t := range m.tasks {
		if t.TaskID == task.TaskID {
			cur, curKey = t, k
			break
		}
	}
	if cur == nil || cur.Version != task.Version {
		return pkgerrors.ErrOptimisticLock
	}
	task.Version++
	delete(m.tasks, curKey)
	cp := *task
	m.tasks[task.TfsID] = &cp
	return nil
}

func (m *mockTaskRepo) Delete(_ context.Context, tfsID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[tfsID]; !ok {
		return gorm.ErrRecordNotFound
	}
	delete(m.tasks, tfsID)
	return nil
}

func (m *mockTaskRepo) DeleteAll(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := int64(len(m.tasks))
	m.tasks = make(map[int64]*model.Task)
	return n, nil
}

func (m *mockTaskRepo) List(_ context.Context, f repository.TaskFilter, offset, limit int) ([]model.Task, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.sorted(func(t *model.Task) bool {
		if f.Developer != "" {
			if _, ok := t.Breakdown().Map()[f.Developer]; !ok {
				return false
			}
		}
		if f.HasEstimate != nil && (t.Estimated != nil) != *f.HasEstimate {
			return false
		}
		if f.HasQuality != nil && (t.Quality != nil) != *f.HasQuality {
			return false
		}
		if f.IDNotEntered != nil && t.IDNotEntered != *f.IDNotEntered {
			return false
		}
		if f.Query != "" && !strings.Contains(strings.ToLower(t.Title), strings.ToLower(f.Query)) {
			return false
		}
		return true
	})
	total := int64(len(all))
	if offset >= len(all) {
		return []model.Task{}, total, nil
	}
	end := min(offset+limit, len(all))
	return all[offset:end], total, nil
}

func (m *mockTaskRepo) ListAll(_ context.Context) ([]model.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sorted(func(*model.Task) bool { return true }), nil
}

func (m *mockTaskRepo) ExistingTfsIDs(_ context.Context, ids []int64) (map[int64]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[int64]bool)
	for _, id := range ids {
		if _, ok := m.tasks[id]; ok {
			out[id] = true
		}
	}
	return out, nil
}

func (m *mockTaskRepo) ListEstimateCandidates(_ context.Context) ([]model.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sorted(func(t *model.Task) bool {
		return t.TotalActualHours > 0 && t.Estimated == nil
	}), nil
}

func (m *mockTaskRepo) ListQualityCandidates(_ context.Context, limit int) ([]model.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.sorted(func(t *model.Task) bool {
		return t.TotalActualHours > 0 && t.Estimated != nil && *t.Estimated > 0 && t.Quality == nil
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *mockTaskRepo) ListLowEstimates(_ context.Context) ([]model.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sorted(func(t *model.Task) bool {
		return t.Estimated != nil && *t.Estimated < math.Ceil(t.TotalActualHours)
	}), nil
}

func (m *mockTaskRepo) MergeInto(_ context.Context, src, dst *model.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[src.TfsID]; !ok {
		return gorm.ErrRecordNotFound
	}
	saved := m.tasks[src.TfsID]
	delete(m.tasks, src.TfsID)
	if err := m.updateLocked(dst); err != nil {
		m.tasks[src.TfsID] = saved
		return err
	}
	return nil
}

// ── Mock DeveloperRepository ──

type mockDeveloperRepo struct {
	mu   sync.Mutex
	devs map[string]model.Developer
}

func newMockDeveloperRepo() *mockDeveloperRepo {
	return &mockDeveloperRepo{devs: make(map[string]model.Developer)}
}

func (m *mockDeveloperRepo) Upsert(_ context.Context, devs []model.Developer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range devs {
		m.devs[d.EmployeeID] = d
	}
	return nil
}

func (m *mockDeveloperRepo) List(ctx context.Context, offset, limit int) ([]model.Developer, int64, error) {
	all, _ := m.ListAll(ctx)
	total := int64(len(all))
	if offset >= len(all) {
		return []model.Developer{}, total, nil
	}
	return all[offset:min(offset+limit, len(all))], total, nil
}

func (m *mockDeveloperRepo) ListAll(_ context.Context) ([]model.Developer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Developer, 0, len(m.devs))
	for _, d := range m.devs {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *mockDeveloperRepo) DeleteAll(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := int64(len(m.devs))
	m.devs = make(map[string]model.Developer)
	return n, nil
}

// ── Mock ImportBatchRepository ──

type mockImportBatchRepo struct {
	mu      sync.Mutex
	batches map[string]model.ImportBatch
}

func newMockImportBatchRepo() *mockImportBatchRepo {
	return &mockImportBatchRepo{batches: make(map[string]model.ImportBatch)}
}

func (m *mockImportBatchRepo) Create(_ context.Context, b *model.ImportBatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches[b.ImportID] = *b
	return nil
}

func (m *mockImportBatchRepo) Update(_ context.Context, b *model.ImportBatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches[b.ImportID] = *b
	return nil
}

func (m *mockImportBatchRepo) GetByID(_ context.Context, id string) (*model.ImportBatch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.batches[id]; ok {
		return &b, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *mockImportBatchRepo) List(_ context.Context, offset, limit int) ([]model.ImportBatch, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.ImportBatch, 0, len(m.batches))
	for _, b := range m.batches {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	total := int64(len(out))
	if offset >= len(out) {
		return []model.ImportBatch{}, total, nil
	}
	return out[offset:min(offset+limit, len(out))], total, nil
}

// ── 测试辅助 ──

type mockRepos struct {
	task    *mockTaskRepo
	dev     *mockDeveloperRepo
	batches *mockImportBatchRepo
}

func newMockRepository() (*repository.Repository, *mockRepos) {
	m := &mockRepos{
		task:    newMockTaskRepo(),
		dev:     newMockDeveloperRepo(),
		batches: newMockImportBatchRepo(),
	}
	return &repository.Repository{
		Task:        m.task,
		Developer:   m.dev,
		ImportBatch: m.batches,
	}, m
}
