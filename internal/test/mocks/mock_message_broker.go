package mocks

import (
	"context"
	"sync"

	"github.com/RezaEskandarii/keyfire/internal/message_broker"
)

// PublishedMessage records a call to MockMessageBroker.Publish.
type PublishedMessage struct {
	Queue   string
	Key     string
	Message []byte
}

// MockMessageBroker is a mock implementation of message_broker.MessageBroker for testing.
// Without overrides it records published messages.
type MockMessageBroker struct {
	PublishFunc func(ctx context.Context, queue string, key string, message []byte) error
	ConsumeFunc func(ctx context.Context, queue string) (<-chan message_broker.Delivery, error)
	CloseFunc   func() error

	mu        sync.Mutex
	published []PublishedMessage
}

func (m *MockMessageBroker) Publish(ctx context.Context, queue string, key string, message []byte) error {
	if m.PublishFunc != nil {
		return m.PublishFunc(ctx, queue, key, message)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, PublishedMessage{Queue: queue, Key: key, Message: message})
	return nil
}

func (m *MockMessageBroker) Consume(ctx context.Context, queue string) (<-chan message_broker.Delivery, error) {
	if m.ConsumeFunc != nil {
		return m.ConsumeFunc(ctx, queue)
	}
	ch := make(chan message_broker.Delivery)
	close(ch)
	return ch, nil
}

func (m *MockMessageBroker) Close() error {
	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return nil
}

// Published returns a copy of the recorded messages.
func (m *MockMessageBroker) Published() []PublishedMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]PublishedMessage(nil), m.published...)
}
