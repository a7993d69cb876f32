package handlers

import (
	"net/http"

	"github.com/QACrew/qa-assistant-backend/services"
	"github.com/QACrew/qa-assistant-backend/types"
	"github.com/gin-gonic/gin"
)

// monitorOverview is the monitor surface reported alongside component health.
type monitorOverview interface {
	Endpoints() []types.EndpointConfig
	HistoryDepth() int
}

// HealthHandler serves the probe endpoints and the detailed health report.
type HealthHandler struct {
	healthService *services.HealthService
	monitor       monitorOverview
}

func NewHealthHandler(healthService *services.HealthService, monitor monitorOverview) *HealthHandler {
	return &HealthHandler{
		healthService: healthService,
		monitor:       monitor,
	}
}

// detailedHealthResponse extends the component map with a snapshot of the
// endpoint monitor: how many endpoints are watched and how much check history
// is buffered.
type detailedHealthResponse struct {
	types.HealthCheck
	Monitor monitorSnapshot `json:"monitor"`
}

type monitorSnapshot struct {
	ConfiguredEndpoints int `json:"configuredEndpoints"`
	BufferedResults     int `json:"bufferedResults"`
}

// LivenessCheck answers the kubernetes liveness probe. The process being able
// to serve the request is the whole signal.
func (h *HealthHandler) LivenessCheck(c *gin.Context) {
	c.Status(http.StatusOK)
}

// ReadinessCheck answers the kubernetes readiness probe. Only DOWN takes the
// instance out of rotation; a DEGRADED monitor still serves traffic.
func (h *HealthHandler) ReadinessCheck(c *gin.Context) {
	health := h.healthService.CheckHealth(c.Request.Context())

	if health.Status == types.HealthStatusDown {
		c.JSON(http.StatusServiceUnavailable, health)
		return
	}

	c.JSON(http.StatusOK, health)
}

// DetailedHealth handles GET /health: component statuses plus the monitor
// snapshot.
func (h *HealthHandler) DetailedHealth(c *gin.Context) {
	resp := detailedHealthResponse{
		HealthCheck: h.healthService.CheckHealth(c.Request.Context()),
	}
	if h.monitor != nil {
		resp.Monitor = monitorSnapshot{
			ConfiguredEndpoints: len(h.monitor.Endpoints()),
			BufferedResults:     h.monitor.HistoryDepth(),
		}
	}
	c.JSON(http.StatusOK, resp)
}
