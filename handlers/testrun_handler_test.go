package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	apperrors "github.com/QACrew/qa-assistant-backend/errors"
	"github.com/QACrew/qa-assistant-backend/middleware"
	"github.com/QACrew/qa-assistant-backend/types"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTestRunner struct {
	mu      sync.Mutex
	running map[types.TestType]bool
	last    map[types.TestType]types.TestRunSummary
	runs    []types.TestRunRequest
	runErr  error
}

func newFakeTestRunner() *fakeTestRunner {
	return &fakeTestRunner{
		running: make(map[types.TestType]bool),
		last:    make(map[types.TestType]types.TestRunSummary),
	}
}

func (f *fakeTestRunner) Run(ctx context.Context, req types.TestRunRequest) (types.TestRunSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, req)
	if f.runErr != nil {
		return types.TestRunSummary{}, f.runErr
	}
	summary := types.TestRunSummary{Type: req.Type, Total: 5, Passed: 5}
	f.last[req.Type] = summary
	return summary, nil
}

func (f *fakeTestRunner) IsRunning(testType types.TestType) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running[testType]
}

func (f *fakeTestRunner) LastResult(testType types.TestType) (types.TestRunSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	summary, ok := f.last[testType]
	if !ok {
		return types.TestRunSummary{}, apperrors.ResultsNotFound(string(testType))
	}
	return summary, nil
}

func (f *fakeTestRunner) CombinedSummary() types.CombinedSummary {
	f.mu.Lock()
	defer f.mu.Unlock()
	combined := types.CombinedSummary{Timestamp: time.Now().UTC()}
	if api, ok := f.last[types.TestTypeAPI]; ok {
		combined.APITests = &api
		combined.TotalTests += api.Total
		combined.TotalPassed += api.Passed
	}
	return combined
}

func (f *fakeTestRunner) runCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.runs)
}

func testRunRouter(runner testRunner) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.ErrorHandler())
	h := NewTestRunHandler(runner, nil, nil, nil)
	r.POST("/v1/test-runs", h.StartRun)
	r.GET("/v1/test-runs/summary", h.GetSummary)
	r.GET("/v1/test-runs/:type", h.GetResults)
	r.GET("/reports/:type", h.GetReport)
	return r
}

func postJSON(r *gin.Engine, path string, body interface{}) *httptest.ResponseRecorder {
	data, _ := json.Marshal(body)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	return w
}

func TestTestRunHandler_StartRun(t *testing.T) {
	runner := newFakeTestRunner()
	r := testRunRouter(runner)

	w := postJSON(r, "/v1/test-runs", types.TestRunRequest{Type: types.TestTypeAPI})

	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Contains(t, w.Body.String(), "accepted")

	// The run itself happens in the background.
	require.Eventually(t, func() bool {
		return runner.runCount() == 1
	}, time.Second, 5*time.Millisecond)
}

func TestTestRunHandler_StartRun_InvalidType(t *testing.T) {
	r := testRunRouter(newFakeTestRunner())

	w := postJSON(r, "/v1/test-runs", map[string]string{"type": "performance"})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid test type")
}

func TestTestRunHandler_StartRun_MissingType(t *testing.T) {
	r := testRunRouter(newFakeTestRunner())

	w := postJSON(r, "/v1/test-runs", map[string]string{"suite": "checkout"})

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTestRunHandler_StartRun_Conflict(t *testing.T) {
	runner := newFakeTestRunner()
	runner.running[types.TestTypeUI] = true
	r := testRunRouter(runner)

	w := postJSON(r, "/v1/test-runs", types.TestRunRequest{Type: types.TestTypeUI})

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "already in progress")
	assert.Equal(t, 0, runner.runCount())
}

func TestTestRunHandler_GetResults(t *testing.T) {
	runner := newFakeTestRunner()
	runner.last[types.TestTypeAPI] = types.TestRunSummary{Type: types.TestTypeAPI, Total: 7, Passed: 6, Failed: 1}
	r := testRunRouter(runner)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/test-runs/api", nil)
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var summary types.TestRunSummary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &summary))
	assert.Equal(t, 7, summary.Total)
	assert.Equal(t, 1, summary.Failed)
}

func TestTestRunHandler_GetResults_NotFound(t *testing.T) {
	r := testRunRouter(newFakeTestRunner())

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/test-runs/ui", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "Test results not found")
}

func TestTestRunHandler_GetResults_InvalidType(t *testing.T) {
	r := testRunRouter(newFakeTestRunner())

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/test-runs/smoke", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTestRunHandler_GetSummary(t *testing.T) {
	runner := newFakeTestRunner()
	runner.last[types.TestTypeAPI] = types.TestRunSummary{Type: types.TestTypeAPI, Total: 4, Passed: 4}
	r := testRunRouter(runner)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/test-runs/summary", nil)
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var combined types.CombinedSummary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &combined))
	require.NotNil(t, combined.APITests)
	assert.Equal(t, 4, combined.TotalTests)
	assert.Nil(t, combined.UITests)
}

func TestTestRunHandler_GetReport(t *testing.T) {
	r := testRunRouter(newFakeTestRunner())

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/reports/api", nil)
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/allure-report-api/index.html", w.Header().Get("Location"))
}

func TestTestRunHandler_GetReport_InvalidType(t *testing.T) {
	r := testRunRouter(newFakeTestRunner())

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/reports/perf", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid test type")
}
