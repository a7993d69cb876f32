package main

import (
	"context"
	"crypto/tls"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/QACrew/qa-assistant-backend/config"
	"github.com/QACrew/qa-assistant-backend/handlers"
	"github.com/QACrew/qa-assistant-backend/logger"
	"github.com/QACrew/qa-assistant-backend/router"
	"github.com/QACrew/qa-assistant-backend/services"
	"github.com/QACrew/qa-assistant-backend/types"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	// Initialize logger
	logger.InitLogger()
	log := logger.GetLogger()
	defer func() {
		_ = logger.Close()
	}()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	endpoints, err := config.LoadEndpoints(cfg.Monitor.EndpointsFile)
	if err != nil {
		log.Fatalf("Failed to load endpoints: %v", err)
	}
	log.Infow("Endpoints loaded", "count", len(endpoints), "file", cfg.Monitor.EndpointsFile)

	// Initialize Redis client with TLS in production
	redisOptions := &redis.Options{
		Addr:         cfg.Redis.Address,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
	}
	if cfg.Redis.UseTLS || cfg.IsProduction() {
		redisOptions.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}
	redisClient := redis.NewClient(redisOptions)
	defer func() {
		_ = redisClient.Close()
	}()

	// Services
	eventService := services.NewRedisEventService(redisClient, cfg.EventService)
	monitorService := services.NewMonitorService(endpoints, cfg.Monitor.MaxHistory)
	alertService := services.NewAlertService(cfg.Slack)
	runnerService := services.NewRunnerService(cfg.Runner)

	workerPool := services.NewWorkerPool(cfg.WorkerPool)
	workerPool.Start()

	schedulerService := services.NewSchedulerService(
		monitorService,
		runnerService,
		alertService,
		eventService,
		workerPool,
		cfg.Scheduler,
	)
	schedulerService.Start()

	sweepInterval := time.Duration(cfg.Scheduler.CheckIntervalMinutes) * time.Minute
	healthService := services.NewHealthService(redisClient, schedulerService, cfg.Server.Version, sweepInterval)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Audit consumer: failed checks land in the logs even when Slack is off.
	go consumeFailedChecks(ctx, eventService, log)

	// Router setup
	r := router.SetupRouter(router.Dependencies{
		Config:         cfg,
		HealthHandler:  handlers.NewHealthHandler(healthService, monitorService),
		MonitorHandler: handlers.NewMonitorHandler(monitorService, schedulerService),
		TestRunHandler: handlers.NewTestRunHandler(runnerService, eventService, alertService, workerPool),
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Infow("Starting server", "port", cfg.Server.Port, "environment", cfg.Server.Environment)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	<-ctx.Done()
	log.Info("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Server shutdown failed", "error", err)
	}

	schedulerService.Stop()

	if err := eventService.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Event service shutdown failed", "error", err)
	}
	if err := workerPool.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Worker pool shutdown failed", "error", err)
	}

	log.Info("Shutdown complete")
}

// consumeFailedChecks subscribes to the monitor topic and records failed
// checks in the application log.
func consumeFailedChecks(ctx context.Context, events types.EventPublisher, log *zap.SugaredLogger) {
	ch, err := events.Subscribe(ctx, services.TopicMonitorChecks, "audit-log", types.EventTypeCheckFailed)
	if err != nil {
		log.Errorw("Failed to subscribe to check events", "error", err)
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			log.Warnw("Endpoint check failed",
				"endpoint", event.Subject,
				"eventId", event.ID,
				"payload", string(event.Payload))
		}
	}
}
