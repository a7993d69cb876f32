package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	apperrors "github.com/QACrew/qa-assistant-backend/errors"
	"github.com/QACrew/qa-assistant-backend/logger"
	"github.com/QACrew/qa-assistant-backend/services"
	"github.com/QACrew/qa-assistant-backend/types"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// testRunner is the runner surface the handler drives.
type testRunner interface {
	Run(ctx context.Context, req types.TestRunRequest) (types.TestRunSummary, error)
	IsRunning(testType types.TestType) bool
	LastResult(testType types.TestType) (types.TestRunSummary, error)
	CombinedSummary() types.CombinedSummary
}

// runAlerter delivers per-run Slack results.
type runAlerter interface {
	Enabled() bool
	SendTestRunResults(ctx context.Context, summary types.TestRunSummary) error
}

// TestRunHandler starts test runs and serves their parsed results. Runs
// execute in the background; the POST returns as soon as the run is accepted.
type TestRunHandler struct {
	runner testRunner
	events types.EventPublisher
	alerts runAlerter
	pool   *services.WorkerPool
}

func NewTestRunHandler(runner testRunner, events types.EventPublisher, alerts runAlerter, pool *services.WorkerPool) *TestRunHandler {
	return &TestRunHandler{
		runner: runner,
		events: events,
		alerts: alerts,
		pool:   pool,
	}
}

// StartRun handles POST /v1/test-runs: accept the request, kick the run off
// in the background and return 202. A run of the same type already in flight
// is a conflict.
func (h *TestRunHandler) StartRun(c *gin.Context) {
	var req types.TestRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(apperrors.ValidationFailed("invalid request body", err.Error()))
		return
	}
	if !req.Type.Valid() {
		_ = c.Error(apperrors.ValidationFailed("invalid test type",
			"type must be one of: api, ui"))
		return
	}
	if h.runner.IsRunning(req.Type) {
		_ = c.Error(apperrors.RunAlreadyActive(string(req.Type)))
		return
	}

	go h.executeRun(req)

	c.JSON(http.StatusAccepted, gin.H{
		"status": "accepted",
		"type":   req.Type,
		"suite":  req.Suite,
	})
}

// executeRun drives one background run: started/completed events around the
// runner call and a Slack message with the outcome.
func (h *TestRunHandler) executeRun(req types.TestRunRequest) {
	log := logger.GetLogger().Named("testruns")
	ctx := context.Background()

	h.publishEvent(ctx, types.EventTypeTestRunStarted, string(req.Type), req)

	summary, err := h.runner.Run(ctx, req)
	if err != nil {
		log.Errorw("Background test run failed", "type", req.Type, "error", err)
		h.publishEvent(ctx, types.EventTypeTestRunFailed, string(req.Type), gin.H{"error": err.Error()})
		return
	}

	h.publishEvent(ctx, types.EventTypeTestRunCompleted, string(req.Type), summary)

	if h.alerts == nil || !h.alerts.Enabled() || h.pool == nil {
		return
	}
	submitted := h.pool.Submit(services.Job{
		Name: "test-run-results-" + string(req.Type),
		Execute: func(jobCtx context.Context) error {
			return h.alerts.SendTestRunResults(jobCtx, summary)
		},
	})
	if !submitted {
		log.Warnw("Test run result message dropped", "type", req.Type)
	}
}

func (h *TestRunHandler) publishEvent(ctx context.Context, eventType types.EventType, subject string, payload interface{}) {
	if h.events == nil {
		return
	}

	data, err := json.Marshal(payload)
	if err != nil {
		logger.GetLogger().Errorw("Failed to marshal event payload", "type", eventType, "error", err)
		return
	}

	event := types.Event{
		BaseEvent: types.BaseEvent{
			ID:        uuid.New().String(),
			Type:      eventType,
			Subject:   subject,
			Timestamp: time.Now().UTC(),
			Version:   1,
		},
		Metadata: types.EventMetadata{Source: "testrun-handler"},
		Payload:  data,
	}
	if err := h.events.Publish(ctx, services.TopicTestRuns, event); err != nil {
		logger.GetLogger().Errorw("Failed to publish test run event", "type", eventType, "error", err)
	}
}

// GetResults handles GET /v1/test-runs/:type.
func (h *TestRunHandler) GetResults(c *gin.Context) {
	testType := types.TestType(c.Param("type"))
	if !testType.Valid() {
		_ = c.Error(apperrors.ValidationFailed("invalid test type",
			"type must be one of: api, ui"))
		return
	}

	summary, err := h.runner.LastResult(testType)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, summary)
}

// GetSummary handles GET /v1/test-runs/summary.
func (h *TestRunHandler) GetSummary(c *gin.Context) {
	c.JSON(http.StatusOK, h.runner.CombinedSummary())
}

// GetReport handles GET /reports/:type, sending the caller to the generated
// static report for that test type.
func (h *TestRunHandler) GetReport(c *gin.Context) {
	testType := types.TestType(c.Param("type"))
	if !testType.Valid() {
		_ = c.Error(apperrors.ValidationFailed("invalid test type",
			"type must be one of: api, ui"))
		return
	}

	c.Redirect(http.StatusFound, "/"+services.ReportDirName(testType)+"/index.html")
}
