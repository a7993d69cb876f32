package services

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/QACrew/qa-assistant-backend/config"
	apperrors "github.com/QACrew/qa-assistant-backend/errors"
	"github.com/QACrew/qa-assistant-backend/logger"
	"github.com/QACrew/qa-assistant-backend/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// commandRunner abstracts subprocess execution so tests never spawn real
// processes.
type commandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// RunnerService executes pytest suites via the configured binary, generates
// the Allure report and parses the JSON results into a run summary. Only one
// run per test type may be active at a time.
type RunnerService struct {
	cfg      config.RunnerConfig
	log      *zap.SugaredLogger
	metrics  *runnerMetrics
	runCmd   commandRunner
	readFile func(string) ([]byte, error)
	mkdirAll func(string, os.FileMode) error

	mu          sync.Mutex
	running     map[types.TestType]bool
	lastResults map[types.TestType]types.TestRunSummary
}

type runnerMetrics struct {
	runCount    *prometheus.CounterVec
	runDuration prometheus.Histogram
}

// Singleton pattern for metrics (avoid double registration in tests).
var (
	runMetricsInstance *runnerMetrics
	runMetricsOnce     sync.Once
	runDefaultRegistry = prometheus.DefaultRegisterer
)

func newRunnerMetrics() *runnerMetrics {
	runMetricsOnce.Do(func() {
		runMetricsInstance = &runnerMetrics{
			runCount: promauto.With(runDefaultRegistry).NewCounterVec(prometheus.CounterOpts{
				Name: "qa_assistant_test_runs_total",
				Help: "Total number of test runs by type and outcome",
			}, []string{"test_type", "outcome"}),
			runDuration: promauto.With(runDefaultRegistry).NewHistogram(prometheus.HistogramOpts{
				Name:    "qa_assistant_test_run_duration_seconds",
				Help:    "Wall time of test runs including report generation",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
			}),
		}
	})
	return runMetricsInstance
}

// resetRunnerMetricsForTesting resets the metrics singleton for test isolation.
// This should only be called from tests.
func resetRunnerMetricsForTesting() {
	runDefaultRegistry = prometheus.NewRegistry()
	runMetricsInstance = nil
	runMetricsOnce = sync.Once{}
}

// NewRunnerService creates the test runner over the configured binaries.
func NewRunnerService(cfg config.RunnerConfig) *RunnerService {
	return &RunnerService{
		cfg:         cfg,
		log:         logger.GetLogger().Named("runner"),
		metrics:     newRunnerMetrics(),
		runCmd:      execRunner{},
		readFile:    os.ReadFile,
		mkdirAll:    os.MkdirAll,
		running:     make(map[types.TestType]bool),
		lastResults: make(map[types.TestType]types.TestRunSummary),
	}
}

// pytestReport mirrors the parts of the pytest-json-report output we consume.
type pytestReport struct {
	Duration float64 `json:"duration"`
	Summary  struct {
		Total   int `json:"total"`
		Passed  int `json:"passed"`
		Failed  int `json:"failed"`
		Skipped int `json:"skipped"`
	} `json:"summary"`
}

// Run executes the requested suite and returns the parsed summary. A second
// run of the same type while one is active fails with a conflict error.
func (s *RunnerService) Run(ctx context.Context, req types.TestRunRequest) (types.TestRunSummary, error) {
	if !req.Type.Valid() {
		return types.TestRunSummary{}, apperrors.ValidationFailed("invalid test type",
			fmt.Sprintf("unknown test type: %s", req.Type))
	}

	s.mu.Lock()
	if s.running[req.Type] {
		s.mu.Unlock()
		return types.TestRunSummary{}, apperrors.RunAlreadyActive(string(req.Type))
	}
	s.running[req.Type] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.running, req.Type)
		s.mu.Unlock()
	}()

	startedAt := time.Now().UTC()
	defer func() {
		s.metrics.runDuration.Observe(time.Since(startedAt).Seconds())
	}()

	allureDir := filepath.Join(s.cfg.ReportsDir, fmt.Sprintf("allure-results-%s", req.Type))
	reportDir := filepath.Join(s.cfg.ReportsDir, ReportDirName(req.Type))
	resultsFile := filepath.Join(s.cfg.ReportsDir, fmt.Sprintf("%s_results.json", req.Type))

	for _, dir := range []string{allureDir, reportDir} {
		if err := s.mkdirAll(dir, 0o755); err != nil {
			s.metrics.runCount.WithLabelValues(string(req.Type), "error").Inc()
			return types.TestRunSummary{}, apperrors.NewRunnerError(err, "Failed to prepare report directories")
		}
	}

	args := []string{
		s.testPath(req),
		fmt.Sprintf("--alluredir=%s", allureDir),
		"--json-report",
		fmt.Sprintf("--json-report-file=%s", resultsFile),
		"-v",
		"--tb=short",
	}

	runCtx, cancel := context.WithTimeout(ctx, time.Duration(s.cfg.TimeoutSeconds)*time.Second)
	defer cancel()

	s.log.Infow("Starting test run", "type", req.Type, "suite", req.Suite, "binary", s.cfg.Binary)

	output, err := s.runCmd.Run(runCtx, s.cfg.Binary, args...)
	if runCtx.Err() == context.DeadlineExceeded {
		s.metrics.runCount.WithLabelValues(string(req.Type), "timeout").Inc()
		return types.TestRunSummary{}, apperrors.NewRunnerError(runCtx.Err(), "Test execution timed out")
	}
	if err != nil {
		// pytest exits non-zero when tests fail; the JSON report still tells
		// us what happened, so only log here and let parsing decide.
		s.log.Warnw("Test binary exited non-zero",
			"type", req.Type,
			"error", err,
			"output", truncateOutput(output))
	}

	s.generateReport(runCtx, allureDir, reportDir)

	summary, err := s.parseResults(resultsFile, req.Type, startedAt)
	if err != nil {
		s.metrics.runCount.WithLabelValues(string(req.Type), "error").Inc()
		return types.TestRunSummary{}, err
	}

	outcome := "passed"
	if summary.Failed > 0 {
		outcome = "failed"
	}
	s.metrics.runCount.WithLabelValues(string(req.Type), outcome).Inc()

	s.mu.Lock()
	s.lastResults[req.Type] = summary
	s.mu.Unlock()

	s.log.Infow("Test run completed",
		"type", req.Type,
		"total", summary.Total,
		"passed", summary.Passed,
		"failed", summary.Failed,
		"duration", summary.Duration)

	return summary, nil
}

// IsRunning reports whether a run of the given type is currently active.
func (s *RunnerService) IsRunning(testType types.TestType) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running[testType]
}

// LastResult returns the most recent parsed summary for the test type.
func (s *RunnerService) LastResult(testType types.TestType) (types.TestRunSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	summary, ok := s.lastResults[testType]
	if !ok {
		return types.TestRunSummary{}, apperrors.ResultsNotFound(string(testType))
	}
	return summary, nil
}

// CombinedSummary aggregates the latest API and UI results. Suites that never
// ran are omitted.
func (s *RunnerService) CombinedSummary() types.CombinedSummary {
	s.mu.Lock()
	defer s.mu.Unlock()

	combined := types.CombinedSummary{Timestamp: time.Now().UTC()}
	if api, ok := s.lastResults[types.TestTypeAPI]; ok {
		combined.APITests = &api
		combined.TotalTests += api.Total
		combined.TotalPassed += api.Passed
		combined.TotalFailed += api.Failed
	}
	if ui, ok := s.lastResults[types.TestTypeUI]; ok {
		combined.UITests = &ui
		combined.TotalTests += ui.Total
		combined.TotalPassed += ui.Passed
		combined.TotalFailed += ui.Failed
	}
	return combined
}

// ReportDirName returns the directory name, relative to the reports root,
// holding the generated report for a test type. The router mounts these
// directories, so the name doubles as the URL path of the served report.
func ReportDirName(testType types.TestType) string {
	return fmt.Sprintf("allure-report-%s", testType)
}

// testPath resolves the pytest target for a request. A named suite selects
// tests/<type>/test_<suite>.py, otherwise the type's top-level file runs.
func (s *RunnerService) testPath(req types.TestRunRequest) string {
	if req.Suite != "" {
		return filepath.Join("tests", string(req.Type), fmt.Sprintf("test_%s.py", req.Suite))
	}
	return filepath.Join("tests", fmt.Sprintf("test_%s.py", req.Type))
}

// generateReport runs the report tool best-effort; a broken report never
// fails the run itself.
func (s *RunnerService) generateReport(ctx context.Context, allureDir, reportDir string) {
	output, err := s.runCmd.Run(ctx, s.cfg.ReportTool, "generate", allureDir, "-o", reportDir, "--clean")
	if err != nil {
		s.log.Errorw("Failed to generate report",
			"tool", s.cfg.ReportTool,
			"error", err,
			"output", truncateOutput(output))
		return
	}
	s.log.Infow("Report generated", "dir", reportDir)
}

func (s *RunnerService) parseResults(resultsFile string, testType types.TestType, startedAt time.Time) (types.TestRunSummary, error) {
	data, err := s.readFile(resultsFile)
	if err != nil {
		return types.TestRunSummary{}, apperrors.NewRunnerError(err, "Results file not found")
	}

	var report pytestReport
	if err := json.Unmarshal(data, &report); err != nil {
		return types.TestRunSummary{}, apperrors.NewRunnerError(err, "Failed to parse results")
	}

	summary := types.TestRunSummary{
		Type:       testType,
		Total:      report.Summary.Total,
		Passed:     report.Summary.Passed,
		Failed:     report.Summary.Failed,
		Skipped:    report.Summary.Skipped,
		Duration:   report.Duration,
		StartedAt:  startedAt,
		FinishedAt: time.Now().UTC(),
	}
	if s.cfg.BaseReportURL != "" {
		summary.ReportURL = fmt.Sprintf("%s/%s", s.cfg.BaseReportURL, ReportDirName(testType))
	}
	return summary, nil
}

func truncateOutput(output []byte) string {
	const limit = 2048
	if len(output) > limit {
		return string(output[:limit]) + "..."
	}
	return string(output)
}
