package services

import (
	"context"
	"fmt"
	"time"

	"github.com/QACrew/qa-assistant-backend/logger"
	"github.com/QACrew/qa-assistant-backend/types"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// schedulerStatus is the part of SchedulerService the health check reads.
type schedulerStatus interface {
	IsRunning() bool
	LastSweep() time.Time
}

// HealthService reports the service's own health: the Redis connection the
// event bus depends on and the liveness of the scheduler loops.
type HealthService struct {
	redisClient   *redis.Client
	scheduler     schedulerStatus
	version       string
	sweepInterval time.Duration
	log           *zap.SugaredLogger
	startTime     time.Time
}

// NewHealthService creates the health reporter. sweepInterval is the
// scheduler's configured cadence, used to judge sweep staleness.
func NewHealthService(redisClient *redis.Client, scheduler schedulerStatus, version string, sweepInterval time.Duration) *HealthService {
	return &HealthService{
		redisClient:   redisClient,
		scheduler:     scheduler,
		version:       version,
		sweepInterval: sweepInterval,
		log:           logger.GetLogger().Named("health"),
		startTime:     time.Now(),
	}
}

// CheckHealth runs all component checks and aggregates the overall status.
// Any DOWN component takes the whole service DOWN; DEGRADED components
// degrade it.
func (h *HealthService) CheckHealth(ctx context.Context) types.HealthCheck {
	components := map[string]types.HealthComponent{
		"redis":     h.checkRedis(ctx),
		"scheduler": h.checkScheduler(),
	}

	overall := types.HealthStatusUp
	for _, component := range components {
		switch component.Status {
		case types.HealthStatusDown:
			overall = types.HealthStatusDown
		case types.HealthStatusDegraded:
			if overall == types.HealthStatusUp {
				overall = types.HealthStatusDegraded
			}
		}
	}

	return types.HealthCheck{
		Status:     overall,
		Components: components,
		Version:    h.version,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		Uptime:     time.Since(h.startTime).Round(time.Second).String(),
	}
}

func (h *HealthService) checkRedis(ctx context.Context) types.HealthComponent {
	if h.redisClient == nil {
		return types.HealthComponent{
			Status:  types.HealthStatusDown,
			Details: "Redis client not configured",
		}
	}

	checkCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := h.redisClient.Ping(checkCtx).Err(); err != nil {
		h.log.Warnw("Redis health check failed", "error", err)
		return types.HealthComponent{
			Status:  types.HealthStatusDown,
			Details: "Redis connection failed",
		}
	}

	return types.HealthComponent{Status: types.HealthStatusUp}
}

func (h *HealthService) checkScheduler() types.HealthComponent {
	if h.scheduler == nil {
		return types.HealthComponent{
			Status:  types.HealthStatusDown,
			Details: "Scheduler not configured",
		}
	}

	if !h.scheduler.IsRunning() {
		return types.HealthComponent{
			Status:  types.HealthStatusDown,
			Details: "Scheduler not running",
		}
	}

	lastSweep := h.scheduler.LastSweep()
	if lastSweep.IsZero() {
		// Running but no sweep yet; normal right after startup.
		return types.HealthComponent{Status: types.HealthStatusUp}
	}

	if age := time.Since(lastSweep); age > 2*h.sweepInterval {
		return types.HealthComponent{
			Status:  types.HealthStatusDegraded,
			Details: fmt.Sprintf("Last sweep %s ago", age.Round(time.Second)),
		}
	}

	return types.HealthComponent{Status: types.HealthStatusUp}
}
