package sink

import (
	"sync"

	"github.com/maxpert/logcursor/cfg"
	"github.com/maxpert/logcursor/dispatch"
)

// Registered for tests only; cfg.Validate rejects the mock sink type.
func init() {
	dispatch.RegisterSink(cfg.SinkMock, func(cfg.SinkConfiguration) (dispatch.Sink, error) {
		return &MockSink{}, nil
	})
}

// MockSink is a mock implementation of Sink for testing
type MockSink struct {
	Messages   []MockMessage
	PublishErr error
	// FailFirst makes the first N publishes fail with PublishErr
	FailFirst int
	attempts  int
	mu        sync.Mutex
}

// MockMessage represents a published message for testing
type MockMessage struct {
	Topic string
	Key   string
	Value []byte
}

// Publish records a message for later inspection in tests
func (m *MockSink) Publish(topic, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.attempts++
	if m.PublishErr != nil && (m.FailFirst == 0 || m.attempts <= m.FailFirst) {
		return m.PublishErr
	}

	m.Messages = append(m.Messages, MockMessage{
		Topic: topic,
		Key:   key,
		Value: value,
	})

	return nil
}

// Attempts returns the number of Publish calls
func (m *MockSink) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

// Close is a no-op for MockSink
func (m *MockSink) Close() error {
	return nil
}

// Reset clears all recorded messages
func (m *MockSink) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Messages = nil
	m.attempts = 0
}
