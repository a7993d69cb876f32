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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Topics used across the service.
const (
	TopicMonitorChecks = "monitor:checks"
	TopicTestRuns      = "testruns"
)

// RedisEventService implements the EventPublisher interface using Redis
// Pub/Sub. Check results and test-run lifecycle events flow through it; the
// alert forwarder is one subscriber.
type RedisEventService struct {
	redisClient   *redis.Client
	log           *zap.SugaredLogger
	cfg           config.EventServiceConfig
	metrics       *eventMetrics
	mu            sync.Mutex
	subscriptions map[string]subscription // Key: topic:subscriberID
}

var _ types.EventPublisher = (*RedisEventService)(nil)

type eventMetrics struct {
	publishLatency prometheus.Histogram
	errorCount     prometheus.Counter
	eventCount     *prometheus.CounterVec
}

type subscription struct {
	pubsub    *redis.PubSub
	cancelCtx context.CancelFunc
}

// Singleton pattern for metrics (avoid double registration in tests).
var (
	evMetricsInstance *eventMetrics
	evMetricsOnce     sync.Once
	evDefaultRegistry = prometheus.DefaultRegisterer
)

func newEventMetrics() *eventMetrics {
	evMetricsOnce.Do(func() {
		evMetricsInstance = &eventMetrics{
			publishLatency: promauto.With(evDefaultRegistry).NewHistogram(prometheus.HistogramOpts{
				Name:    "qa_assistant_event_publish_duration_seconds",
				Help:    "Time taken to publish events",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			}),
			errorCount: promauto.With(evDefaultRegistry).NewCounter(prometheus.CounterOpts{
				Name: "qa_assistant_event_errors_total",
				Help: "Total number of event processing errors",
			}),
			eventCount: promauto.With(evDefaultRegistry).NewCounterVec(prometheus.CounterOpts{
				Name: "qa_assistant_events_processed_total",
				Help: "Total number of events processed",
			}, []string{"event_type"}),
		}
	})
	return evMetricsInstance
}

// resetEventMetricsForTesting resets the metrics singleton for test isolation.
// This should only be called from tests.
func resetEventMetricsForTesting() {
	evDefaultRegistry = prometheus.NewRegistry()
	evMetricsInstance = nil
	evMetricsOnce = sync.Once{}
}

// NewRedisEventService returns a new instance of RedisEventService.
func NewRedisEventService(redisClient *redis.Client, cfg config.EventServiceConfig) *RedisEventService {
	if cfg.PublishTimeoutSeconds <= 0 {
		cfg.PublishTimeoutSeconds = 5
	}
	if cfg.EventBufferSize <= 0 {
		cfg.EventBufferSize = 100
	}
	return &RedisEventService{
		redisClient:   redisClient,
		log:           logger.GetLogger().Named("events"),
		cfg:           cfg,
		metrics:       newEventMetrics(),
		subscriptions: make(map[string]subscription),
	}
}

func channelName(topic string) string {
	return fmt.Sprintf("qa:%s", topic)
}

// Publish serializes the event and publishes it on the Redis channel for the
// topic. Missing ID/timestamp/version fields are filled in.
func (r *RedisEventService) Publish(ctx context.Context, topic string, event types.Event) error {
	startTime := time.Now()
	defer func() {
		r.metrics.publishLatency.Observe(time.Since(startTime).Seconds())
	}()

	// Set default values if missing
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.Version == 0 {
		event.Version = 1
	}

	if err := event.Validate(); err != nil {
		r.metrics.errorCount.Inc()
		return fmt.Errorf("invalid event: %w", err)
	}

	data, err := json.Marshal(event)
	if err != nil {
		r.metrics.errorCount.Inc()
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	r.metrics.eventCount.WithLabelValues(string(event.Type)).Inc()

	r.log.Debugw("Publishing event",
		"topic", topic,
		"eventType", event.Type,
		"eventID", event.ID,
		"subject", event.Subject,
		"payloadSize", len(data),
	)

	publishCtx, cancel := context.WithTimeout(ctx, time.Duration(r.cfg.PublishTimeoutSeconds)*time.Second)
	defer cancel()

	if err := r.redisClient.Publish(publishCtx, channelName(topic), data).Err(); err != nil {
		r.metrics.errorCount.Inc()
		return fmt.Errorf("failed to publish event: %w", err)
	}

	return nil
}

// PublishBatch publishes all events on the topic via a single pipeline.
func (r *RedisEventService) PublishBatch(ctx context.Context, topic string, events []types.Event) error {
	if len(events) == 0 {
		return nil
	}

	pipe := r.redisClient.Pipeline()
	channel := channelName(topic)

	for i := range events {
		event := &events[i]
		if event.ID == "" {
			event.ID = uuid.New().String()
		}
		if event.Timestamp.IsZero() {
			event.Timestamp = time.Now()
		}
		if event.Version == 0 {
			event.Version = 1
		}
		if err := event.Validate(); err != nil {
			r.metrics.errorCount.Inc()
			return fmt.Errorf("invalid event in batch: %w", err)
		}

		data, err := json.Marshal(event)
		if err != nil {
			r.metrics.errorCount.Inc()
			return fmt.Errorf("failed to marshal event in batch: %w", err)
		}

		pipe.Publish(ctx, channel, data)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		r.metrics.errorCount.Inc()
		return fmt.Errorf("failed to publish batch: %w", err)
	}

	r.metrics.eventCount.WithLabelValues("batch").Add(float64(len(events)))
	return nil
}

// Subscribe delivers events published on the topic, optionally filtered by
// type, until the subscription is cancelled or the service shuts down.
func (r *RedisEventService) Subscribe(ctx context.Context, topic string, subscriberID string, filters ...types.EventType) (<-chan types.Event, error) {
	subscriptionKey := fmt.Sprintf("%s:%s", topic, subscriberID)

	r.mu.Lock()
	if _, exists := r.subscriptions[subscriptionKey]; exists {
		r.mu.Unlock()
		if err := r.Unsubscribe(ctx, topic, subscriberID); err != nil {
			r.log.Warnw("Failed to clean up existing subscription",
				"error", err,
				"topic", topic,
				"subscriberID", subscriberID)
		}
		r.mu.Lock()
	}

	pubsub := r.redisClient.Subscribe(ctx, channelName(topic))
	eventChan := make(chan types.Event, r.cfg.EventBufferSize)

	subCtx, cancel := context.WithCancel(context.Background())
	r.subscriptions[subscriptionKey] = subscription{
		pubsub:    pubsub,
		cancelCtx: cancel,
	}
	r.mu.Unlock()

	go r.processSubscription(subCtx, pubsub, eventChan, subscriptionKey, filters)

	return eventChan, nil
}

func (r *RedisEventService) processSubscription(
	ctx context.Context,
	pubsub *redis.PubSub,
	eventChan chan types.Event,
	subscriptionKey string,
	filters []types.EventType,
) {
	defer func() {
		close(eventChan)

		r.mu.Lock()
		delete(r.subscriptions, subscriptionKey)
		r.mu.Unlock()

		if err := pubsub.Close(); err != nil {
			r.log.Warnw("Error closing Redis pubsub", "error", err)
		}
	}()

	ch := pubsub.Channel()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				r.log.Infow("Redis pubsub channel closed", "subscription", subscriptionKey)
				return
			}

			var event types.Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				r.log.Errorw("Failed to unmarshal event",
					"error", err,
					"payload", msg.Payload)
				r.metrics.errorCount.Inc()
				continue
			}

			if len(filters) > 0 && !matchesFilter(event.Type, filters) {
				continue
			}

			select {
			case eventChan <- event:
			default:
				r.log.Warnw("Event channel full, dropping event",
					"eventType", event.Type,
					"eventID", event.ID,
					"subscription", subscriptionKey)
			}

		case <-ctx.Done():
			r.log.Debugw("Subscription context canceled", "subscription", subscriptionKey)
			return
		}
	}
}

func matchesFilter(eventType types.EventType, filters []types.EventType) bool {
	for _, filter := range filters {
		if eventType == filter {
			return true
		}
	}
	return false
}

// Unsubscribe stops delivery for the given topic/subscriber pair.
func (r *RedisEventService) Unsubscribe(ctx context.Context, topic string, subscriberID string) error {
	key := fmt.Sprintf("%s:%s", topic, subscriberID)

	r.mu.Lock()
	sub, exists := r.subscriptions[key]
	if !exists {
		r.mu.Unlock()
		return nil // Already unsubscribed
	}
	delete(r.subscriptions, key)
	r.mu.Unlock()

	sub.cancelCtx()

	if err := sub.pubsub.Close(); err != nil {
		r.log.Errorw("Failed to close Redis subscription",
			"error", err,
			"topic", topic,
			"subscriberID", subscriberID)
		return fmt.Errorf("failed to unsubscribe: %w", err)
	}

	return nil
}

// Shutdown closes all active subscriptions.
func (r *RedisEventService) Shutdown(ctx context.Context) error {
	r.log.Info("Shutting down event service")

	r.mu.Lock()
	for key, sub := range r.subscriptions {
		sub.cancelCtx()
		if err := sub.pubsub.Close(); err != nil {
			r.log.Warnw("Error closing subscription", "key", key, "error", err)
		}
	}
	r.subscriptions = make(map[string]subscription)
	r.mu.Unlock()

	return nil
}

// HealthCheck pings the underlying Redis connection.
func (r *RedisEventService) HealthCheck(ctx context.Context) error {
	if err := r.redisClient.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("event service unhealthy: %w", err)
	}
	return nil
}
