package types

import (
	"context"
	"encoding/json"
	"time"

	"github.com/QACrew/qa-assistant-backend/errors"
)

type EventType string

const (
	CategoryMonitor = "MONITOR"
	CategoryTestRun = "TESTRUN"
)

const (
	// Monitor events
	EventTypeCheckCompleted EventType = CategoryMonitor + "_CHECK_COMPLETED"
	EventTypeCheckFailed    EventType = CategoryMonitor + "_CHECK_FAILED"

	// Test run events
	EventTypeTestRunStarted   EventType = CategoryTestRun + "_STARTED"
	EventTypeTestRunCompleted EventType = CategoryTestRun + "_COMPLETED"
	EventTypeTestRunFailed    EventType = CategoryTestRun + "_FAILED"
	EventTypeDailySummary     EventType = CategoryTestRun + "_DAILY_SUMMARY"
)

// BaseEvent carries the fields common to every published event. Subject is
// the endpoint name for monitor events and the test type for run events.
type BaseEvent struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Subject   string    `json:"subject"`
	Timestamp time.Time `json:"timestamp"`
	Version   int       `json:"version"`
}

// EventMetadata for tracking and debugging
type EventMetadata struct {
	CorrelationID string            `json:"correlationId,omitempty"`
	Source        string            `json:"source"`
	Tags          map[string]string `json:"tags,omitempty"`
}

type Event struct {
	BaseEvent
	Metadata EventMetadata   `json:"metadata"`
	Payload  json.RawMessage `json:"payload"`
}

// Validation method for events
func (e Event) Validate() error {
	if e.ID == "" {
		return errors.ValidationFailed("invalid event", "event ID is required")
	}
	if e.Type == "" {
		return errors.ValidationFailed("invalid event", "event type is required")
	}
	if e.Subject == "" {
		return errors.ValidationFailed("invalid event", "event subject is required")
	}
	if e.Timestamp.IsZero() {
		return errors.ValidationFailed("invalid event", "timestamp is required")
	}
	return nil
}

// EventPublisher is the bus between the monitor/runner side and any
// in-process consumer (alert forwarding, future dashboards).
type EventPublisher interface {
	Publish(ctx context.Context, topic string, event Event) error
	PublishBatch(ctx context.Context, topic string, events []Event) error
	Subscribe(ctx context.Context, topic string, subscriberID string, filters ...EventType) (<-chan Event, error)
	Unsubscribe(ctx context.Context, topic string, subscriberID string) error
}
