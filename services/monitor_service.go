package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/QACrew/qa-assistant-backend/logger"
	"github.com/QACrew/qa-assistant-backend/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// httpDoer abstracts the HTTP client so tests can substitute transports.
type httpDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// MonitorService executes configured endpoint checks, classifies their
// outcomes and keeps a bounded in-memory history of results. It never alerts
// on its own; callers decide what to do with non-healthy results.
type MonitorService struct {
	endpoints []types.EndpointConfig
	client    httpDoer
	sleep     func(time.Duration)
	log       *zap.SugaredLogger
	metrics   *monitorMetrics

	mu         sync.Mutex
	history    []types.HealthCheckResult
	maxHistory int
}

type monitorMetrics struct {
	checkCount   *prometheus.CounterVec
	responseTime prometheus.Histogram
	retryCount   prometheus.Counter
}

// Singleton pattern for metrics (avoid double registration in tests).
var (
	monMetricsInstance *monitorMetrics
	monMetricsOnce     sync.Once
	monDefaultRegistry = prometheus.DefaultRegisterer
)

func newMonitorMetrics() *monitorMetrics {
	monMetricsOnce.Do(func() {
		monMetricsInstance = &monitorMetrics{
			checkCount: promauto.With(monDefaultRegistry).NewCounterVec(prometheus.CounterOpts{
				Name: "qa_assistant_endpoint_checks_total",
				Help: "Total number of endpoint checks by endpoint and status",
			}, []string{"endpoint", "status"}),
			responseTime: promauto.With(monDefaultRegistry).NewHistogram(prometheus.HistogramOpts{
				Name:    "qa_assistant_endpoint_response_seconds",
				Help:    "Wall time of endpoint checks including retries",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			}),
			retryCount: promauto.With(monDefaultRegistry).NewCounter(prometheus.CounterOpts{
				Name: "qa_assistant_endpoint_retries_total",
				Help: "Total number of transport-level retries",
			}),
		}
	})
	return monMetricsInstance
}

// resetMonitorMetricsForTesting resets the metrics singleton for test isolation.
// This should only be called from tests.
func resetMonitorMetricsForTesting() {
	monDefaultRegistry = prometheus.NewRegistry()
	monMetricsInstance = nil
	monMetricsOnce = sync.Once{}
}

// NewMonitorService creates a monitor over a static endpoint list. maxHistory
// caps the result buffer; oldest results are evicted first.
func NewMonitorService(endpoints []types.EndpointConfig, maxHistory int) *MonitorService {
	if maxHistory <= 0 {
		maxHistory = 1000
	}
	return &MonitorService{
		endpoints:  endpoints,
		client:     &http.Client{},
		sleep:      time.Sleep,
		log:        logger.GetLogger().Named("monitor"),
		metrics:    newMonitorMetrics(),
		maxHistory: maxHistory,
	}
}

// Endpoints returns a copy of the configured endpoint list.
func (s *MonitorService) Endpoints() []types.EndpointConfig {
	out := make([]types.EndpointConfig, len(s.endpoints))
	copy(out, s.endpoints)
	return out
}

// EndpointByName returns the configured endpoint with the given name.
func (s *MonitorService) EndpointByName(name string) (types.EndpointConfig, bool) {
	for _, e := range s.endpoints {
		if e.Name == name {
			return e, true
		}
	}
	return types.EndpointConfig{}, false
}

// CheckEndpoint performs one check of the given endpoint, retrying transport
// failures up to the configured attempt count with a fixed delay between
// attempts. A received response is classified immediately; wrong status codes
// and slow responses never consume a retry. The reported elapsed time spans
// the whole attempt sequence. The result is appended to the history and
// returned; failures never surface as a Go error.
func (s *MonitorService) CheckEndpoint(ctx context.Context, endpoint types.EndpointConfig) types.HealthCheckResult {
	start := time.Now()

	var lastErr string
	for attempt := 0; attempt < endpoint.RetryCount; attempt++ {
		statusCode, err := s.attempt(ctx, endpoint)
		if err != nil {
			lastErr = describeAttemptError(err, endpoint.Timeout)
			if attempt < endpoint.RetryCount-1 {
				s.metrics.retryCount.Inc()
				s.sleep(secondsToDuration(endpoint.RetryDelay))
				continue
			}
			break
		}

		elapsed := msSince(start)
		result := s.classify(endpoint, statusCode, elapsed)
		s.record(result, start)
		return result
	}

	// No response was ever received.
	result := types.HealthCheckResult{
		EndpointName:   endpoint.Name,
		URL:            endpoint.URL,
		Status:         types.EndpointError,
		StatusCode:     nil,
		ResponseTimeMs: msSince(start),
		Timestamp:      time.Now().UTC(),
		ErrorMessage:   lastErr,
	}
	s.record(result, start)
	return result
}

// CheckAll checks every configured endpoint concurrently. Every input
// produces exactly one result; the slice order matches the endpoint list even
// though checks finish in arbitrary order.
func (s *MonitorService) CheckAll(ctx context.Context) []types.HealthCheckResult {
	results := make([]types.HealthCheckResult, len(s.endpoints))

	var wg sync.WaitGroup
	for i, endpoint := range s.endpoints {
		wg.Add(1)
		go func(i int, endpoint types.EndpointConfig) {
			defer wg.Done()
			results[i] = s.CheckEndpoint(ctx, endpoint)
		}(i, endpoint)
	}
	wg.Wait()

	return results
}

// RecentResults returns a newest-first snapshot of the most recent results.
// A non-positive or too-large limit returns the whole history.
func (s *MonitorService) RecentResults(limit int) []types.HealthCheckResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.history)
	if limit <= 0 || limit > n {
		limit = n
	}

	out := make([]types.HealthCheckResult, limit)
	for i := 0; i < limit; i++ {
		out[i] = s.history[n-1-i]
	}
	return out
}

// HistoryDepth returns the current number of buffered results.
func (s *MonitorService) HistoryDepth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.history)
}

// attempt issues one HTTP request bounded by the endpoint's per-attempt
// timeout and returns the received status code. The body is drained only far
// enough to keep connections reusable; classification needs the code alone.
func (s *MonitorService) attempt(ctx context.Context, endpoint types.EndpointConfig) (int, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, secondsToDuration(endpoint.Timeout))
	defer cancel()

	var body io.Reader
	if endpoint.Method == http.MethodPost && endpoint.Payload != nil {
		data, err := json.Marshal(endpoint.Payload)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal payload: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(attemptCtx, endpoint.Method, endpoint.URL, body)
	if err != nil {
		return 0, err
	}
	for k, v := range endpoint.Headers {
		req.Header.Set(k, v)
	}
	if body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	return resp.StatusCode, nil
}

// classify applies the status-code-first precedence: a mismatched code is
// unhealthy regardless of latency, a matched code is healthy or slow
// depending on the latency budget.
func (s *MonitorService) classify(endpoint types.EndpointConfig, statusCode int, elapsedMs float64) types.HealthCheckResult {
	status := types.EndpointHealthy
	errorMessage := ""

	if statusCode == endpoint.ExpectedStatus {
		if elapsedMs > endpoint.MaxResponseTime*1000 {
			status = types.EndpointSlow
			errorMessage = fmt.Sprintf("Response time %.2fms exceeds threshold %.0fms",
				elapsedMs, endpoint.MaxResponseTime*1000)
		}
	} else {
		status = types.EndpointUnhealthy
		errorMessage = fmt.Sprintf("Expected status %d, got %d", endpoint.ExpectedStatus, statusCode)
	}

	return types.HealthCheckResult{
		EndpointName:   endpoint.Name,
		URL:            endpoint.URL,
		Status:         status,
		StatusCode:     &statusCode,
		ResponseTimeMs: elapsedMs,
		Timestamp:      time.Now().UTC(),
		ErrorMessage:   errorMessage,
	}
}

// record appends the result to the bounded history and updates metrics.
func (s *MonitorService) record(result types.HealthCheckResult, start time.Time) {
	s.mu.Lock()
	s.history = append(s.history, result)
	if len(s.history) > s.maxHistory {
		copy(s.history, s.history[1:])
		s.history = s.history[:s.maxHistory]
	}
	s.mu.Unlock()

	s.metrics.checkCount.WithLabelValues(result.EndpointName, string(result.Status)).Inc()
	s.metrics.responseTime.Observe(time.Since(start).Seconds())

	if result.Status != types.EndpointHealthy {
		s.log.Warnw("Endpoint check not healthy",
			"endpoint", result.EndpointName,
			"status", result.Status,
			"responseTimeMs", result.ResponseTimeMs,
			"error", result.ErrorMessage)
	} else {
		s.log.Debugw("Endpoint healthy",
			"endpoint", result.EndpointName,
			"responseTimeMs", result.ResponseTimeMs)
	}
}

// describeAttemptError maps a transport error to the human-readable message
// carried by the terminal result.
func describeAttemptError(err error, timeoutSeconds float64) string {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Sprintf("Request timeout after %gs", timeoutSeconds)
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return "Connection error"
	}

	return err.Error()
}

func secondsToDuration(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}

func msSince(start time.Time) float64 {
	return float64(time.Since(start)) / float64(time.Millisecond)
}
