package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	httperrors "github.com/husmancristian/qafastweb/errors"
	"github.com/husmancristian/qafastweb/pkg/config"
	"github.com/husmancristian/qafastweb/pkg/dashboard"
	"github.com/husmancristian/qafastweb/pkg/models"
	"github.com/husmancristian/qafastweb/pkg/pipeline"
	"github.com/husmancristian/qafastweb/pkg/queue"
	"github.com/husmancristian/qafastweb/pkg/storage/memory"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

type fakeExecutor struct {
	resp  *models.ExecutionResponse
	err   error
	calls []int64
}

func (e *fakeExecutor) Execute(ctx context.Context, caseID int64) (*models.ExecutionResponse, error) {
	e.calls = append(e.calls, caseID)
	if e.err != nil {
		return nil, e.err
	}
	resp := *e.resp
	resp.CaseID = caseID
	return &resp, nil
}

type fakeQueue struct {
	enqueued []int64
	err      error
	size     int
}

func (q *fakeQueue) EnqueueExecution(ctx context.Context, caseID int64) (string, error) {
	if q.err != nil {
		return "", q.err
	}
	q.enqueued = append(q.enqueued, caseID)
	return fmt.Sprintf("job-%d", caseID), nil
}

func (q *fakeQueue) Consume(ctx context.Context) (queue.Subscription, error) {
	return queue.Subscription{}, nil
}

func (q *fakeQueue) QueueSize(ctx context.Context) (int, error) { return q.size, q.err }
func (q *fakeQueue) Close() error { return nil }

type testServer struct {
	handler http.Handler
	store   *memory.Store
	exec    *fakeExecutor
	queue   *fakeQueue
}

func newTestServer(t *testing.T, withQueue bool) *testServer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := &config.Config{AllowedOrigins: []string{"http://localhost:3000"}, RequestTimeout: 5 * time.Second}

	ts := &testServer{
		store: memory.NewStore(),
		exec:  &fakeExecutor{resp: &models.ExecutionResponse{Code: "print('ok')", Output: "Ejecución completada", Success: true}},
	}
	var qm queue.Manager
	if withQueue {
		ts.queue = &fakeQueue{size: 3}
		qm = ts.queue
	}
	api := NewAPI(ts.store, ts.exec, dashboard.NewService(ts.store, logger), qm, logger, cfg)
	ts.handler = SetupRouter(api, cfg)
	return ts
}

func (ts *testServer) do(t *testing.T, method, path string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) seedCase(t *testing.T, name string) models.TestCase {
	t.Helper()
	tc := models.TestCase{Name: name, Steps: "open page", ExpectedResult: "page visible"}
	require.NoError(t, ts.store.CreateCase(context.Background(), &tc))
	return tc
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) httperrors.ErrorResponse {
	t.Helper()
	var e httperrors.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &e))
	return e
}

func TestPing(t *testing.T) {
	ts := newTestServer(t, false)
	rec := ts.do(t, http.MethodGet, "/ping", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "pong", rec.Body.String())
}

func TestCreateCase(t *testing.T) {
	ts := newTestServer(t, false)

	body := `{"name":"Login","steps":"{\"username\":\"ana\"}","expected_result":"Dashboard","url":"https://app.example.com"}`
	rec := ts.do(t, http.MethodPost, "/api/v1/cases", strings.NewReader(body), "application/json")
	require.Equal(t, http.StatusCreated, rec.Code)

	var tc models.TestCase
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tc))
	assert.NotZero(t, tc.ID)
	assert.Equal(t, "Login", tc.Name)
	assert.Equal(t, "https://app.example.com", tc.URL)

	rec = ts.do(t, http.MethodGet, fmt.Sprintf("/api/v1/cases/%d", tc.ID), nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"name":"Login"`)
}

func TestCreateCase_Invalid(t *testing.T) {
	ts := newTestServer(t, false)

	rec := ts.do(t, http.MethodPost, "/api/v1/cases", strings.NewReader(`{"name":`), "application/json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/v1/cases", strings.NewReader(`{"name":"x","url":"not a url"}`), "application/json")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	e := decodeError(t, rec)
	assert.Contains(t, e.Details, "Steps (required)")
	assert.Contains(t, e.Details, "URL (url)")

	long := fmt.Sprintf(`{"name":%q,"steps":"abrir","expected_result":"ok"}`, strings.Repeat("a", 256))
	rec = ts.do(t, http.MethodPost, "/api/v1/cases", strings.NewReader(long), "application/json")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, []string{"Name (max)"}, decodeError(t, rec).Details)
}

func TestListAndDeleteCases(t *testing.T) {
	ts := newTestServer(t, false)

	rec := ts.do(t, http.MethodGet, "/api/v1/cases", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	a := ts.seedCase(t, "A")
	ts.seedCase(t, "B")

	rec = ts.do(t, http.MethodGet, "/api/v1/cases", nil, "")
	var cases []models.TestCase
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cases))
	assert.Len(t, cases, 2)

	rec = ts.do(t, http.MethodDelete, fmt.Sprintf("/api/v1/cases/%d", a.ID), nil, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = ts.do(t, http.MethodDelete, fmt.Sprintf("/api/v1/cases/%d", a.ID), nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/v1/cases/abc", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetCaseResults(t *testing.T) {
	ts := newTestServer(t, false)
	tc := ts.seedCase(t, "Login")
	require.NoError(t, ts.store.CreateResult(context.Background(), &models.TestResult{TestCaseID: tc.ID, Status: models.StatusPassed, ExecutionTime: "3.00s"}))

	rec := ts.do(t, http.MethodGet, fmt.Sprintf("/api/v1/cases/%d/results", tc.ID), nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var results []models.TestResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &results))
	require.Len(t, results, 1)
	assert.Equal(t, models.StatusPassed, results[0].Status)

	rec = ts.do(t, http.MethodGet, "/api/v1/cases/999/results", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func uploadBody(t *testing.T, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	body := new(bytes.Buffer)
	mw := multipart.NewWriter(body)
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return body, mw.FormDataContentType()
}

func TestUploadCases(t *testing.T) {
	ts := newTestServer(t, false)

	f := excelize.NewFile()
	rows := [][]any{
		{"module_name", "case_name", "input_data", "expected_result"},
		{"Login", "Válido", `{"url":"https://app.example.com"}`, "Dashboard"},
		{"Search", "Zapatos", "buscar zapatos", "Resultados"},
	}
	for i, row := range rows {
		row := row
		require.NoError(t, f.SetSheetRow("Sheet1", fmt.Sprintf("A%d", i+1), &row))
	}
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	require.NoError(t, f.Close())

	body, contentType := uploadBody(t, "casos.xlsx", buf.Bytes())
	rec := ts.do(t, http.MethodPost, "/api/v1/cases/upload", body, contentType)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var cases []models.TestCase
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cases))
	require.Len(t, cases, 2)
	assert.Equal(t, "Login - Válido", cases[0].Name)
	assert.Equal(t, "https://app.example.com", cases[0].URL)
	assert.NotZero(t, cases[1].ID)
}

func TestUploadCases_Rejected(t *testing.T) {
	ts := newTestServer(t, false)

	body, contentType := uploadBody(t, "casos.csv", []byte("a,b"))
	rec := ts.do(t, http.MethodPost, "/api/v1/cases/upload", body, contentType)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	body, contentType = uploadBody(t, "casos.xlsx", []byte("not really a workbook"))
	rec = ts.do(t, http.MethodPost, "/api/v1/cases/upload", body, contentType)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/v1/cases/upload", strings.NewReader("{}"), "application/json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	f := excelize.NewFile()
	rows := [][]any{
		{"module_name", "case_name", "input_data", "expected_result"},
		{"Login", "Válido", "abrir login", "ok"},
		{"Login", strings.Repeat("x", 300), "abrir login", "ok"},
	}
	for i, row := range rows {
		row := row
		require.NoError(t, f.SetSheetRow("Sheet1", fmt.Sprintf("A%d", i+1), &row))
	}
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	require.NoError(t, f.Close())

	body, contentType = uploadBody(t, "casos.xlsx", buf.Bytes())
	rec = ts.do(t, http.MethodPost, "/api/v1/cases/upload", body, contentType)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	e := decodeError(t, rec)
	assert.Equal(t, []string{"row 3: name has 308 characters, maximum is 255"}, e.Details)

	cases, err := ts.store.ListCases(context.Background())
	require.NoError(t, err)
	assert.Empty(t, cases, "a rejected workbook imports nothing")
}

func TestExecute(t *testing.T) {
	ts := newTestServer(t, false)
	tc := ts.seedCase(t, "Login")

	rec := ts.do(t, http.MethodPost, fmt.Sprintf("/api/v1/execute/%d", tc.ID), nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp models.ExecutionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, tc.ID, resp.CaseID)
	assert.True(t, resp.Success)
	assert.Equal(t, []int64{tc.ID}, ts.exec.calls)
}

func TestExecute_Errors(t *testing.T) {
	ts := newTestServer(t, false)

	ts.exec.err = pipeline.ErrCaseNotFound
	rec := ts.do(t, http.MethodPost, "/api/v1/execute/42", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	ts.exec.err = fmt.Errorf("%w: store down", pipeline.ErrInternal)
	rec = ts.do(t, http.MethodPost, "/api/v1/execute/42", nil, "")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "store down")

	rec = ts.do(t, http.MethodPost, "/api/v1/execute/0", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestExecuteAsync(t *testing.T) {
	ts := newTestServer(t, true)
	tc := ts.seedCase(t, "Login")

	rec := ts.do(t, http.MethodPost, fmt.Sprintf("/api/v1/execute/%d/async", tc.ID), nil, "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.JSONEq(t, fmt.Sprintf(`{"job_id":"job-%d","case_id":%d}`, tc.ID, tc.ID), rec.Body.String())
	assert.Equal(t, []int64{tc.ID}, ts.queue.enqueued)
	assert.Empty(t, ts.exec.calls)

	rec = ts.do(t, http.MethodPost, "/api/v1/execute/999/async", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/v1/executions/queue", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"size":3}`, rec.Body.String())

	ts.queue.err = errors.New("connection is not open")
	rec = ts.do(t, http.MethodPost, fmt.Sprintf("/api/v1/execute/%d/async", tc.ID), nil, "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestExecuteAsync_NoQueue(t *testing.T) {
	ts := newTestServer(t, false)
	tc := ts.seedCase(t, "Login")

	rec := ts.do(t, http.MethodPost, fmt.Sprintf("/api/v1/execute/%d/async", tc.ID), nil, "")
	assert.Equal(t, http.StatusNotImplemented, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/v1/executions/queue", nil, "")
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}

func TestDashboardEndpoints(t *testing.T) {
	ts := newTestServer(t, false)
	tc := ts.seedCase(t, "Login")
	result := &models.TestResult{TestCaseID: tc.ID, Status: models.StatusFailed, Logs: "boom", ExecutionTime: "2.00s", ExecutedByAgent: true}
	require.NoError(t, ts.store.CreateResult(context.Background(), result))
	require.NoError(t, ts.store.CreatePrompt(context.Background(), &models.Prompt{TestCaseID: tc.ID, PromptText: "generate"}))

	rec := ts.do(t, http.MethodGet, "/api/v1/dashboard/metrics", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var m models.Metrics
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m))
	assert.Equal(t, 1, m.TotalExecutions)
	assert.Equal(t, 1, m.StatusBreakdown.Failed)
	assert.Equal(t, 1, m.PromptsGenerated)

	rec = ts.do(t, http.MethodGet, "/api/v1/dashboard/recent?limit=5", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"test_case_name":"Login"`)

	rec = ts.do(t, http.MethodGet, "/api/v1/dashboard/recent?limit=abc", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/v1/dashboard/timeline?days=3", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var points []models.TimelinePoint
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &points))
	assert.Len(t, points, 3)

	rec = ts.do(t, http.MethodGet, "/api/v1/dashboard/test-stats", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"executions":1`)

	rec = ts.do(t, http.MethodGet, fmt.Sprintf("/api/v1/dashboard/executions/%d", result.ID), nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var d models.ExecutionDetails
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &d))
	assert.Equal(t, "Login", d.TestCaseName)
	require.NotNil(t, d.Prompt)

	rec = ts.do(t, http.MethodGet, "/api/v1/dashboard/executions/999", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodGet, fmt.Sprintf("/api/v1/dashboard/prompts?test_case_id=%d", tc.ID), nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var prompts []models.PromptHistoryEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &prompts))
	require.Len(t, prompts, 1)
	assert.Equal(t, "generate", prompts[0].PromptText)
}

func TestCORS(t *testing.T) {
	ts := newTestServer(t, false)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/cases", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/api/v1/cases", nil)
	req.Header.Set("Origin", "http://evil.example")
	rec = httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestStructuredRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	r := chi.NewRouter()
	r.Use(StructuredRequestLogger(logger))
	r.Get("/cases/{id}", func(w http.ResponseWriter, r *http.Request) {
		httperrors.NotFound(w, slog.New(slog.NewTextHandler(io.Discard, nil)), nil, "Test case not found")
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/cases/7", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "API request", line["msg"])
	assert.Equal(t, "/cases/{id}", line["route"])
	assert.Equal(t, "7", line["test_case_id"])
	assert.EqualValues(t, http.StatusNotFound, line["status"])
	assert.Contains(t, line["response_body"], "Test case not found")
}
