package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"tfs-insight/backend/internal/api/middleware"
	"tfs-insight/backend/internal/dto"
	"tfs-insight/backend/internal/model"
	"tfs-insight/backend/internal/service"
	pkgerrors "tfs-insight/backend/pkg/errors"
	"tfs-insight/backend/pkg/response"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// ═══════════════════════════════════════════════════════════
// Mock Services
// ═══════════════════════════════════════════════════════════

// ── Mock ImportService ──

type mockImportService struct {
	importResult  *dto.ImportResult
	importErr     error
	previewResult *dto.ImportPreview
	previewErr    error
	getResult     *model.ImportBatch
	getErr        error

	gotFileName string
	gotBody     []byte
	gotReq      dto.ImportRequest
}

func (m *mockImportService) Import(_ context.Context, src io.Reader, fileName string, req *dto.ImportRequest) (*dto.ImportResult, error) {
	m.gotFileName = fileName
	m.gotBody, _ = io.ReadAll(src)
	m.gotReq = *req
	return m.importResult, m.importErr
}
func (m *mockImportService) Preview(_ context.Context, _ io.Reader, _ string, _ *dto.ImportRequest) (*dto.ImportPreview, error) {
	return m.previewResult, m.previewErr
}
func (m *mockImportService) ImportRows(_ context.Context, _ *service.ParsedWorkbook, _ string, _ *dto.ImportRequest) (*dto.ImportResult, error) {
	return m.importResult, m.importErr
}
func (m *mockImportService) List(_ context.Context, _ *dto.PaginationRequest) ([]model.ImportBatch, int64, error) {
	return []model.ImportBatch{}, 0, nil
}
func (m *mockImportService) GetByID(_ context.Context, _ string) (*model.ImportBatch, error) {
	return m.getResult, m.getErr
}

// ── Mock TaskService ──

type mockTaskService struct {
	getResult    *dto.TaskDetailResponse
	getErr       error
	updateResult *dto.TaskDetailResponse
	updateErr    error
	deleteErr    error

	gotTfsID int64
	gotReq   *dto.UpdateTaskRequest
}

func (m *mockTaskService) List(_ context.Context, _ *dto.TaskListRequest) ([]dto.TaskSummaryResponse, int64, error) {
	return []dto.TaskSummaryResponse{}, 0, nil
}
func (m *mockTaskService) Get(_ context.Context, tfsID int64) (*dto.TaskDetailResponse, error) {
	m.gotTfsID = tfsID
	return m.getResult, m.getErr
}
func (m *mockTaskService) Update(_ context.Context, tfsID int64, req *dto.UpdateTaskRequest) (*dto.TaskDetailResponse, error) {
	m.gotTfsID, m.gotReq = tfsID, req
	return m.updateResult, m.updateErr
}
func (m *mockTaskService) Delete(_ context.Context, tfsID int64) error {
	m.gotTfsID = tfsID
	return m.deleteErr
}

// ── Mock EstimateService / QualityService ──

type mockEstimateService struct {
	result     *dto.EstimateResult
	err        error
	fixResult  *dto.FixLowResult
	gotGroupBy string
}

func (m *mockEstimateService) Calculate(_ context.Context, groupBy string) (*dto.EstimateResult, error) {
	m.gotGroupBy = groupBy
	return m.result, m.err
}
func (m *mockEstimateService) Preview(_ context.Context, groupBy string) (*dto.EstimateResult, error) {
	m.gotGroupBy = groupBy
	return m.result, m.err
}
func (m *mockEstimateService) FixLow(_ context.Context) (*dto.FixLowResult, error) {
	return m.fixResult, m.err
}
func (m *mockEstimateService) FixLowPreview(_ context.Context) (*dto.FixLowResult, error) {
	return m.fixResult, m.err
}

type mockQualityService struct {
	result  *dto.QualityResult
	preview *dto.QualityPreview
	err     error
}

func (m *mockQualityService) Calculate(_ context.Context) (*dto.QualityResult, error) {
	return m.result, m.err
}
func (m *mockQualityService) Preview(_ context.Context) (*dto.QualityPreview, error) {
	return m.preview, m.err
}

// ── Mock ExportService ──

type mockExportService struct {
	buf      *bytes.Buffer
	filename string
	err      error
}

func (m *mockExportService) ExportTasks(_ context.Context) (*bytes.Buffer, string, error) {
	return m.buf, m.filename, m.err
}

// ═══════════════════════════════════════════════════════════
// Test Helpers
// ═══════════════════════════════════════════════════════════

func jsonBody(v interface{}) io.Reader {
	b, _ := json.Marshal(v)
	return bytes.NewReader(b)
}

func parseResponse(w *httptest.ResponseRecorder) response.Response {
	var resp response.Response
	json.Unmarshal(w.Body.Bytes(), &resp)
	return resp
}

// uploadRequest 构造 multipart 上传请求
func uploadRequest(t *testing.T, path string, fields map[string]string, fileName string, content []byte) *http.Request {
	t.Helper()
	body := new(bytes.Buffer)
	mw := multipart.NewWriter(body)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("写入字段失败: %v", err)
		}
	}
	if fileName != "" {
		fw, err := mw.CreateFormFile("file", fileName)
		if err != nil {
			t.Fatalf("创建文件字段失败: %v", err)
		}
		fw.Write(content)
	}
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, path, body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

// ═══════════════════════════════════════════════════════════
// ImportHandler Tests
// ═══════════════════════════════════════════════════════════

func TestImportHandler_Import_Success(t *testing.T) {
	mock := &mockImportService{importResult: &dto.ImportResult{ImportID: "imp-1", ImportedCount: 3}}
	h := NewImportHandler(mock)

	w := httptest.NewRecorder()
	req := uploadRequest(t, "/imports", map[string]string{"clear_existing": "true", "policy": "simple"}, "week.xlsx", []byte("xlsx-bytes"))

	r := gin.New()
	r.POST("/imports", h.Import)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	if mock.gotFileName != "week.xlsx" || string(mock.gotBody) != "xlsx-bytes" {
		t.Errorf("文件未透传: name=%q body=%q", mock.gotFileName, mock.gotBody)
	}
	if !mock.gotReq.ClearExisting || mock.gotReq.Policy != "simple" {
		t.Errorf("表单字段未绑定: %+v", mock.gotReq)
	}
}

func TestImportHandler_Import_MissingFile(t *testing.T) {
	h := NewImportHandler(&mockImportService{})

	w := httptest.NewRecorder()
	req := uploadRequest(t, "/imports", map[string]string{"clear_existing": "false"}, "", nil)

	r := gin.New()
	r.POST("/imports", h.Import)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
	if resp := parseResponse(w); resp.Code != 20000 {
		t.Errorf("expected code 20000, got %d", resp.Code)
	}
}

func TestImportHandler_Import_InvalidPolicy(t *testing.T) {
	h := NewImportHandler(&mockImportService{})

	w := httptest.NewRecorder()
	req := uploadRequest(t, "/imports", map[string]string{"policy": "by_moon_phase"}, "week.xlsx", []byte("x"))

	r := gin.New()
	r.POST("/imports", h.Import)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestImportHandler_Import_TooLarge(t *testing.T) {
	mock := &mockImportService{importResult: &dto.ImportResult{}}
	h := NewImportHandler(mock)

	w := httptest.NewRecorder()
	req := uploadRequest(t, "/imports", nil, "big.xlsx", bytes.Repeat([]byte("x"), 4096))
	// 未知长度的请求体只能在读取时被截断
	req.ContentLength = -1

	r := gin.New()
	r.POST("/imports", middleware.BodyLimit(1024), h.Import)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("expected 413, got %d", w.Code)
	}
	if mock.gotFileName != "" {
		t.Error("超限请求不应进入业务层")
	}
}

func TestImportHandler_Import_PartialFailure(t *testing.T) {
	mock := &mockImportService{
		importResult: &dto.ImportResult{ImportID: "imp-2", Status: "failed", ImportedCount: 5},
		importErr:    service.ErrImportStageFail,
	}
	h := NewImportHandler(mock)

	w := httptest.NewRecorder()
	req := uploadRequest(t, "/imports", nil, "week.xlsx", []byte("x"))

	r := gin.New()
	r.POST("/imports", h.Import)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", w.Code)
	}
	resp := parseResponse(w)
	if resp.Code != 20006 || resp.Data == nil {
		t.Errorf("失败时应携带已完成的计数: %+v", resp)
	}
}

func TestImportHandler_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   int
	}{
		{"Unreadable", service.ErrImportUnreadable, 400, 20001},
		{"SheetMissing", fmt.Errorf("%w: 3e", service.ErrImportSheetMissing), 422, 20002},
		{"BadHeader", service.ErrImportBadHeader, 422, 20003},
		{"NoData", service.ErrImportNoData, 422, 20004},
		{"InvalidPolicy", service.ErrImportInvalidArg, 400, 20005},
		{"InternalError", errors.New("unknown"), 500, 50000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewImportHandler(&mockImportService{previewErr: tt.err})

			w := httptest.NewRecorder()
			req := uploadRequest(t, "/imports/preview", nil, "week.xlsx", []byte("x"))

			r := gin.New()
			r.POST("/imports/preview", h.Preview)
			r.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("expected status %d, got %d", tt.wantStatus, w.Code)
			}
			if resp := parseResponse(w); resp.Code != tt.wantCode {
				t.Errorf("expected code %d, got %d", tt.wantCode, resp.Code)
			}
		})
	}
}

func TestImportHandler_GetImport_NotFound(t *testing.T) {
	h := NewImportHandler(&mockImportService{getErr: service.ErrImportNotFound})

	w := httptest.NewRecorder()
	r := gin.New()
	r.GET("/imports/:id", h.GetImport)
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/imports/abc", nil))

	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
	if resp := parseResponse(w); resp.Code != 20007 {
		t.Errorf("expected code 20007, got %d", resp.Code)
	}
}

// ═══════════════════════════════════════════════════════════
// TaskHandler Tests
// ═══════════════════════════════════════════════════════════

func TestTaskHandler_GetTask_NegativeID(t *testing.T) {
	mock := &mockTaskService{getResult: &dto.TaskDetailResponse{}}
	h := NewTaskHandler(mock)

	w := httptest.NewRecorder()
	r := gin.New()
	r.GET("/tasks/:tfs_id", h.GetTask)
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/tasks/-12", nil))

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
	if mock.gotTfsID != -12 {
		t.Errorf("占位 ID 应原样透传，实际 %d", mock.gotTfsID)
	}
}

func TestTaskHandler_GetTask_InvalidID(t *testing.T) {
	for _, id := range []string{"0", "abc"} {
		h := NewTaskHandler(&mockTaskService{})

		w := httptest.NewRecorder()
		r := gin.New()
		r.GET("/tasks/:tfs_id", h.GetTask)
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/tasks/"+id, nil))

		if w.Code != http.StatusBadRequest {
			t.Errorf("id=%s: expected 400, got %d", id, w.Code)
		}
	}
}

func TestTaskHandler_UpdateTask_Success(t *testing.T) {
	mock := &mockTaskService{updateResult: &dto.TaskDetailResponse{}}
	h := NewTaskHandler(mock)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPut, "/tasks/100", jsonBody(map[string]interface{}{
		"version": 3, "new_tfs_id": 19542, "merge": true,
	}))
	req.Header.Set("Content-Type", "application/json")

	r := gin.New()
	r.PUT("/tasks/:tfs_id", h.UpdateTask)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if mock.gotTfsID != 100 || mock.gotReq.Version != 3 || *mock.gotReq.NewTfsID != 19542 || !mock.gotReq.Merge {
		t.Errorf("请求未正确绑定: %+v", mock.gotReq)
	}
}

func TestTaskHandler_UpdateTask_Validation(t *testing.T) {
	bodies := []string{
		`{"title":"x"}`,                // 缺少 version
		`{"version":1,"quality":6}`,    // 质量分越界
		`{"version":1,"estimated":-1}`, // 负估算
	}
	for _, body := range bodies {
		h := NewTaskHandler(&mockTaskService{})

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPut, "/tasks/100", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")

		r := gin.New()
		r.PUT("/tasks/:tfs_id", h.UpdateTask)
		r.ServeHTTP(w, req)

		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", body, w.Code)
		}
	}
}

func TestTaskHandler_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   int
	}{
		{"NotFound", service.ErrTaskNotFound, 404, 21001},
		{"IDConflict", service.ErrTaskIDConflict, 409, 21002},
		{"OptimisticLock", pkgerrors.ErrOptimisticLock, 409, 21003},
		{"LockBusy", pkgerrors.ErrLockBusy, 409, 21004},
		{"InternalError", errors.New("unknown"), 500, 50000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewTaskHandler(&mockTaskService{deleteErr: tt.err})

			w := httptest.NewRecorder()
			r := gin.New()
			r.DELETE("/tasks/:tfs_id", h.DeleteTask)
			r.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/tasks/100", nil))

			if w.Code != tt.wantStatus {
				t.Errorf("expected status %d, got %d", tt.wantStatus, w.Code)
			}
			if resp := parseResponse(w); resp.Code != tt.wantCode {
				t.Errorf("expected code %d, got %d", tt.wantCode, resp.Code)
			}
		})
	}
}

// ═══════════════════════════════════════════════════════════
// EngineHandler Tests
// ═══════════════════════════════════════════════════════════

func TestEngineHandler_CalculateEstimates_EmptyBody(t *testing.T) {
	est := &mockEstimateService{result: &dto.EstimateResult{GroupBy: "developer"}}
	h := NewEngineHandler(est, &mockQualityService{})

	w := httptest.NewRecorder()
	r := gin.New()
	r.POST("/estimates/calculate", h.CalculateEstimates)
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/estimates/calculate", nil))

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
	if est.gotGroupBy != "" {
		t.Errorf("空 body 应交由业务层取默认分组，实际 %q", est.gotGroupBy)
	}
}

func TestEngineHandler_CalculateEstimates_InvalidGroupBy(t *testing.T) {
	h := NewEngineHandler(&mockEstimateService{}, &mockQualityService{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/estimates/calculate", jsonBody(map[string]string{"group_by": "planet"}))
	req.Header.Set("Content-Type", "application/json")

	r := gin.New()
	r.POST("/estimates/calculate", h.CalculateEstimates)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
	if resp := parseResponse(w); resp.Code != 22001 {
		t.Errorf("expected code 22001, got %d", resp.Code)
	}
}

func TestEngineHandler_PreviewEstimates_Query(t *testing.T) {
	est := &mockEstimateService{result: &dto.EstimateResult{GroupBy: "matter"}}
	h := NewEngineHandler(est, &mockQualityService{})

	w := httptest.NewRecorder()
	r := gin.New()
	r.GET("/estimates/preview", h.PreviewEstimates)
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/estimates/preview?group_by=matter", nil))

	if w.Code != http.StatusOK || est.gotGroupBy != "matter" {
		t.Errorf("expected 200 / matter, got %d / %q", w.Code, est.gotGroupBy)
	}
}

func TestEngineHandler_Quality(t *testing.T) {
	q := &mockQualityService{
		result:  &dto.QualityResult{UpdatedCount: 2, Histogram: map[int]int{3: 2}},
		preview: &dto.QualityPreview{CandidateCount: 2},
	}
	h := NewEngineHandler(&mockEstimateService{}, q)

	r := gin.New()
	r.POST("/quality/calculate", h.CalculateQuality)
	r.GET("/quality/preview", h.PreviewQuality)

	for _, req := range []*http.Request{
		httptest.NewRequest(http.MethodPost, "/quality/calculate", nil),
		httptest.NewRequest(http.MethodGet, "/quality/preview", nil),
	} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Errorf("%s: expected 200, got %d", req.URL.Path, w.Code)
		}
	}

	q.err = errors.New("db down")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/quality/calculate", nil))
	if w.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", w.Code)
	}
}

// ═══════════════════════════════════════════════════════════
// ExportHandler Tests
// ═══════════════════════════════════════════════════════════

func TestExportHandler_Success(t *testing.T) {
	mock := &mockExportService{buf: bytes.NewBufferString("excel content"), filename: "tfs_tasks_20250309.xlsx"}
	h := NewExportHandler(mock)

	w := httptest.NewRecorder()
	r := gin.New()
	r.GET("/export/tasks", h.ExportTasks)
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/export/tasks", nil))

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet" {
		t.Errorf("unexpected content type: %s", ct)
	}
	if cd := w.Header().Get("Content-Disposition"); !strings.Contains(cd, "tfs_tasks_20250309.xlsx") {
		t.Errorf("unexpected Content-Disposition: %s", cd)
	}
}

func TestExportHandler_NoTasks(t *testing.T) {
	h := NewExportHandler(&mockExportService{err: service.ErrExportNoTasks})

	w := httptest.NewRecorder()
	r := gin.New()
	r.GET("/export/tasks", h.ExportTasks)
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/export/tasks", nil))

	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
	if resp := parseResponse(w); resp.Code != 23001 {
		t.Errorf("expected code 23001, got %d", resp.Code)
	}
}
