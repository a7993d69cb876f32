package types

import "time"

// EndpointStatus classifies the outcome of a single endpoint check.
type EndpointStatus string

const (
	EndpointHealthy   EndpointStatus = "healthy"
	EndpointSlow      EndpointStatus = "slow"
	EndpointUnhealthy EndpointStatus = "unhealthy"
	EndpointError     EndpointStatus = "error"
)

// EndpointConfig is the static description of one monitored target.
// Durations are expressed in seconds. RetryCount is the total number of
// attempts, not retries in addition to the first one.
type EndpointConfig struct {
	Name            string                 `json:"name" yaml:"name"`
	URL             string                 `json:"url" yaml:"url"`
	Method          string                 `json:"method" yaml:"method"`
	Headers         map[string]string      `json:"headers,omitempty" yaml:"headers,omitempty"`
	Payload         map[string]interface{} `json:"payload,omitempty" yaml:"payload,omitempty"`
	ExpectedStatus  int                    `json:"expectedStatus" yaml:"expected_status"`
	MaxResponseTime float64                `json:"maxResponseTime" yaml:"max_response_time"`
	Timeout         float64                `json:"timeout" yaml:"timeout"`
	RetryCount      int                    `json:"retryCount" yaml:"retry_count"`
	RetryDelay      float64                `json:"retryDelay" yaml:"retry_delay"`
}

// HealthCheckResult is the outcome of one check, covering the whole retry
// sequence. StatusCode is nil when no response was ever received.
type HealthCheckResult struct {
	EndpointName   string         `json:"endpointName"`
	URL            string         `json:"url"`
	Status         EndpointStatus `json:"status"`
	StatusCode     *int           `json:"statusCode,omitempty"`
	ResponseTimeMs float64        `json:"responseTimeMs"`
	Timestamp      time.Time      `json:"timestamp"`
	ErrorMessage   string         `json:"errorMessage,omitempty"`
}
