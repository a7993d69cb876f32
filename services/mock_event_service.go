package services

import (
	"context"

	"github.com/QACrew/qa-assistant-backend/types"
	"github.com/stretchr/testify/mock"
)

// MockEventService is a mock implementation of the EventPublisher interface
type MockEventService struct {
	mock.Mock
}

// Publish mocks the Publish method
func (m *MockEventService) Publish(ctx context.Context, topic string, event types.Event) error {
	args := m.Called(ctx, topic, event)
	return args.Error(0)
}

// PublishBatch mocks the PublishBatch method
func (m *MockEventService) PublishBatch(ctx context.Context, topic string, events []types.Event) error {
	args := m.Called(ctx, topic, events)
	return args.Error(0)
}

// Subscribe mocks the Subscribe method
func (m *MockEventService) Subscribe(ctx context.Context, topic string, subscriberID string, filters ...types.EventType) (<-chan types.Event, error) {
	args := m.Called(ctx, topic, subscriberID, filters)
	return args.Get(0).(<-chan types.Event), args.Error(1)
}

// Unsubscribe mocks the Unsubscribe method
func (m *MockEventService) Unsubscribe(ctx context.Context, topic string, subscriberID string) error {
	args := m.Called(ctx, topic, subscriberID)
	return args.Error(0)
}
