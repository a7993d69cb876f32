package router

import (
	"path/filepath"

	"github.com/QACrew/qa-assistant-backend/config"
	"github.com/QACrew/qa-assistant-backend/handlers"
	"github.com/QACrew/qa-assistant-backend/middleware"
	"github.com/QACrew/qa-assistant-backend/services"
	"github.com/QACrew/qa-assistant-backend/types"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Dependencies struct holds all dependencies required for setting up routes.
type Dependencies struct {
	Config         *config.Config
	HealthHandler  *handlers.HealthHandler
	MonitorHandler *handlers.MonitorHandler
	TestRunHandler *handlers.TestRunHandler
}

// SetupRouter configures and returns the main Gin engine with all routes defined.
func SetupRouter(deps Dependencies) *gin.Engine {
	if deps.Config.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.Default()

	// Global Middleware
	r.Use(middleware.RequestIDMiddleware())
	r.Use(middleware.ErrorHandler())
	r.Use(middleware.CORSMiddleware(&deps.Config.Server))

	// Health and Metrics Routes
	r.GET("/health", deps.HealthHandler.DetailedHealth)
	r.GET("/health/liveness", deps.HealthHandler.LivenessCheck)
	r.GET("/health/readiness", deps.HealthHandler.ReadinessCheck)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Generated test reports are plain static trees under the reports root.
	// /reports/:type redirects to the right one.
	for _, testType := range []types.TestType{types.TestTypeAPI, types.TestTypeUI} {
		dir := services.ReportDirName(testType)
		r.Static("/"+dir, filepath.Join(deps.Config.Runner.ReportsDir, dir))
	}
	r.GET("/reports/:type", deps.TestRunHandler.GetReport)

	// Versioned API Group (v1)
	v1 := r.Group("/v1")
	{
		monitorRoutes := v1.Group("/monitor")
		{
			monitorRoutes.GET("/results", deps.MonitorHandler.GetResults)
			monitorRoutes.POST("/checks", deps.MonitorHandler.TriggerChecks)
			monitorRoutes.POST("/checks/:name", deps.MonitorHandler.CheckEndpoint)
		}

		testRunRoutes := v1.Group("/test-runs")
		{
			testRunRoutes.POST("", deps.TestRunHandler.StartRun)
			testRunRoutes.GET("/summary", deps.TestRunHandler.GetSummary)
			testRunRoutes.GET("/:type", deps.TestRunHandler.GetResults)
		}
	}

	return r
}
