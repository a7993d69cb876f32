package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/QACrew/qa-assistant-backend/config"
	"github.com/QACrew/qa-assistant-backend/logger"
	"github.com/QACrew/qa-assistant-backend/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// alertSender is the part of AlertService the scheduler needs.
type alertSender interface {
	Enabled() bool
	SendHealthAlert(ctx context.Context, result types.HealthCheckResult) error
	SendDailySummary(ctx context.Context, combined types.CombinedSummary) error
}

// summaryProvider supplies the daily report data.
type summaryProvider interface {
	CombinedSummary() types.CombinedSummary
}

// SchedulerService drives the periodic work: endpoint sweeps on a fixed
// interval and the daily test summary at a configured hour. Alert deliveries
// are handed to the worker pool so a slow Slack call never delays the next
// sweep.
type SchedulerService struct {
	monitor *MonitorService
	runner  summaryProvider
	alerts  alertSender
	events  types.EventPublisher
	pool    *WorkerPool
	cfg     config.SchedulerConfig
	log     *zap.SugaredLogger
	now     func() time.Time

	mu        sync.Mutex
	running   bool
	cancel    context.CancelFunc
	lastSweep time.Time
}

// NewSchedulerService wires the scheduler over its collaborators. Start must
// be called to begin sweeping.
func NewSchedulerService(
	monitor *MonitorService,
	runner summaryProvider,
	alerts alertSender,
	events types.EventPublisher,
	pool *WorkerPool,
	cfg config.SchedulerConfig,
) *SchedulerService {
	return &SchedulerService{
		monitor: monitor,
		runner:  runner,
		alerts:  alerts,
		events:  events,
		pool:    pool,
		cfg:     cfg,
		log:     logger.GetLogger().Named("scheduler"),
		now:     time.Now,
	}
}

// Start launches the sweep and daily-summary loops. Calling Start while
// running is a no-op.
func (s *SchedulerService) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		s.log.Warn("Scheduler already running")
		return
	}
	s.running = true

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.log.Infow("Starting scheduler",
		"checkIntervalMinutes", s.cfg.CheckIntervalMinutes,
		"dailySummaryHour", s.cfg.DailySummaryHour)

	go s.sweepLoop(ctx)
	go s.summaryLoop(ctx)
}

// Stop cancels the loops. In-flight alert jobs drain through the pool.
func (s *SchedulerService) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	s.running = false
	s.cancel()
	s.log.Info("Scheduler stopped")
}

// IsRunning reports whether the loops are active.
func (s *SchedulerService) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// LastSweep returns when the most recent sweep finished.
func (s *SchedulerService) LastSweep() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSweep
}

func (s *SchedulerService) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(s.cfg.CheckIntervalMinutes) * time.Minute)
	defer ticker.Stop()

	// Initial sweep
	s.RunSweep(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunSweep(ctx)
		}
	}
}

// RunSweep checks every endpoint once, publishes the outcomes and queues
// alerts for the non-healthy ones. It returns the results so the manual
// trigger endpoint can reuse it.
func (s *SchedulerService) RunSweep(ctx context.Context) []types.HealthCheckResult {
	results := s.monitor.CheckAll(ctx)

	s.publishResults(ctx, results)

	unhealthy := 0
	for _, result := range results {
		if result.Status == types.EndpointHealthy {
			continue
		}
		unhealthy++
		s.queueHealthAlert(result)
	}

	s.mu.Lock()
	s.lastSweep = s.now()
	s.mu.Unlock()

	s.log.Infow("Sweep completed",
		"endpoints", len(results),
		"unhealthy", unhealthy)
	return results
}

func (s *SchedulerService) publishResults(ctx context.Context, results []types.HealthCheckResult) {
	if s.events == nil || len(results) == 0 {
		return
	}

	events := make([]types.Event, 0, len(results))
	for _, result := range results {
		payload, err := json.Marshal(result)
		if err != nil {
			s.log.Errorw("Failed to marshal check result", "endpoint", result.EndpointName, "error", err)
			continue
		}

		eventType := types.EventTypeCheckCompleted
		if result.Status != types.EndpointHealthy {
			eventType = types.EventTypeCheckFailed
		}

		events = append(events, types.Event{
			BaseEvent: types.BaseEvent{
				ID:        uuid.New().String(),
				Type:      eventType,
				Subject:   result.EndpointName,
				Timestamp: result.Timestamp,
				Version:   1,
			},
			Metadata: types.EventMetadata{Source: "scheduler"},
			Payload:  payload,
		})
	}

	if err := s.events.PublishBatch(ctx, TopicMonitorChecks, events); err != nil {
		s.log.Errorw("Failed to publish check events", "error", err)
	}
}

func (s *SchedulerService) queueHealthAlert(result types.HealthCheckResult) {
	if s.alerts == nil || !s.alerts.Enabled() || s.pool == nil {
		return
	}

	submitted := s.pool.Submit(Job{
		Name: fmt.Sprintf("health-alert-%s", result.EndpointName),
		Execute: func(jobCtx context.Context) error {
			return s.alerts.SendHealthAlert(jobCtx, result)
		},
	})
	if !submitted {
		s.log.Warnw("Health alert dropped", "endpoint", result.EndpointName)
	}
}

func (s *SchedulerService) summaryLoop(ctx context.Context) {
	for {
		wait := s.untilNextSummary()
		timer := time.NewTimer(wait)

		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.sendDailySummary(ctx)
		}
	}
}

// untilNextSummary computes the wait until the next occurrence of the
// configured summary hour, rolling to tomorrow when today's slot has passed.
func (s *SchedulerService) untilNextSummary() time.Duration {
	now := s.now()
	next := time.Date(now.Year(), now.Month(), now.Day(), s.cfg.DailySummaryHour, 0, 0, 0, now.Location())
	if !next.After(now) {
		next = next.Add(24 * time.Hour)
	}
	return next.Sub(now)
}

func (s *SchedulerService) sendDailySummary(ctx context.Context) {
	if s.runner == nil {
		return
	}

	combined := s.runner.CombinedSummary()

	if s.events != nil {
		payload, err := json.Marshal(combined)
		if err == nil {
			event := types.Event{
				BaseEvent: types.BaseEvent{
					ID:        uuid.New().String(),
					Type:      types.EventTypeDailySummary,
					Subject:   "daily",
					Timestamp: s.now(),
					Version:   1,
				},
				Metadata: types.EventMetadata{Source: "scheduler"},
				Payload:  payload,
			}
			if err := s.events.Publish(ctx, TopicTestRuns, event); err != nil {
				s.log.Errorw("Failed to publish daily summary event", "error", err)
			}
		}
	}

	if s.alerts == nil || !s.alerts.Enabled() || s.pool == nil {
		return
	}

	submitted := s.pool.Submit(Job{
		Name: "daily-summary",
		Execute: func(jobCtx context.Context) error {
			return s.alerts.SendDailySummary(jobCtx, combined)
		},
	})
	if !submitted {
		s.log.Warn("Daily summary dropped")
	}
}
