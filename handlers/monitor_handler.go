package handlers

import (
	"context"
	"net/http"
	"strconv"

	apperrors "github.com/QACrew/qa-assistant-backend/errors"
	"github.com/QACrew/qa-assistant-backend/types"
	"github.com/gin-gonic/gin"
)

// endpointMonitor is the monitor surface the handler drives: the result
// history plus on-demand checks of a single configured endpoint.
type endpointMonitor interface {
	RecentResults(limit int) []types.HealthCheckResult
	HistoryDepth() int
	EndpointByName(name string) (types.EndpointConfig, bool)
	CheckEndpoint(ctx context.Context, endpoint types.EndpointConfig) types.HealthCheckResult
}

// sweepRunner triggers an immediate sweep of all endpoints.
type sweepRunner interface {
	RunSweep(ctx context.Context) []types.HealthCheckResult
}

// MonitorHandler exposes the endpoint monitor over HTTP.
type MonitorHandler struct {
	monitor endpointMonitor
	sweeper sweepRunner
}

func NewMonitorHandler(monitor endpointMonitor, sweeper sweepRunner) *MonitorHandler {
	return &MonitorHandler{
		monitor: monitor,
		sweeper: sweeper,
	}
}

const defaultResultLimit = 50

// GetResults handles GET /v1/monitor/results. The newest results come first;
// limit controls how many are returned.
func (h *MonitorHandler) GetResults(c *gin.Context) {
	limit := defaultResultLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			_ = c.Error(apperrors.ValidationFailed("invalid limit",
				"limit must be a non-negative integer"))
			return
		}
		limit = parsed
	}

	results := h.monitor.RecentResults(limit)
	c.JSON(http.StatusOK, gin.H{
		"results": results,
		"count":   len(results),
		"total":   h.monitor.HistoryDepth(),
	})
}

// TriggerChecks handles POST /v1/monitor/checks: run every configured check
// now and return the outcomes.
func (h *MonitorHandler) TriggerChecks(c *gin.Context) {
	results := h.sweeper.RunSweep(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{
		"endpoints": results,
	})
}

// CheckEndpoint handles POST /v1/monitor/checks/:name: check one configured
// endpoint by name and return the single outcome.
func (h *MonitorHandler) CheckEndpoint(c *gin.Context) {
	name := c.Param("name")
	endpoint, ok := h.monitor.EndpointByName(name)
	if !ok {
		_ = c.Error(apperrors.EndpointNotFound(name))
		return
	}

	c.JSON(http.StatusOK, h.monitor.CheckEndpoint(c.Request.Context(), endpoint))
}
