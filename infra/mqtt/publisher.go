package mqtt

import (
	"context"
	"fmt"
	"strings"
	"sync"

	coremqtt "github.com/aeternum-health/dispatch/core/mqtt"
)

// Published is one message recorded by MockPublisher.
type Published struct {
	Topic   string
	Payload []byte
}

// MockPublisher is an in-memory broker used in tests and by the CLI dry-run
// mode. It records publications and routes Deliver calls to subscribers.
type MockPublisher struct {
	mu         sync.Mutex
	Messages   []Published
	FailTopics map[string]bool
	subs       map[string]coremqtt.Handler
}

var (
	_ coremqtt.Publisher  = (*MockPublisher)(nil)
	_ coremqtt.Subscriber = (*MockPublisher)(nil)
)

// NewMockPublisher creates a new MockPublisher.
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{FailTopics: map[string]bool{}, subs: map[string]coremqtt.Handler{}}
}

// Publish records the message or returns an error if the topic is set to fail.
func (m *MockPublisher) Publish(_ context.Context, topic string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailTopics[topic] {
		return fmt.Errorf("publish to %s failed", topic)
	}
	m.Messages = append(m.Messages, Published{Topic: topic, Payload: append([]byte(nil), payload...)})
	return nil
}

// Subscribe registers h for filter.
func (m *MockPublisher) Subscribe(filter string, h coremqtt.Handler) error {
	m.mu.Lock()
	m.subs[filter] = h
	m.mu.Unlock()
	return nil
}

// Deliver hands payload to every subscriber whose filter matches topic.
func (m *MockPublisher) Deliver(topic string, payload []byte) int {
	m.mu.Lock()
	var hs []coremqtt.Handler
	for f, h := range m.subs {
		if Match(f, topic) {
			hs = append(hs, h)
		}
	}
	m.mu.Unlock()
	for _, h := range hs {
		h(topic, payload)
	}
	return len(hs)
}

// Sent returns a copy of the recorded messages.
func (m *MockPublisher) Sent() []Published {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Published(nil), m.Messages...)
}

// Match reports whether topic matches an MQTT filter with + and # wildcards.
func Match(filter, topic string) bool {
	fs := strings.Split(filter, "/")
	ts := strings.Split(topic, "/")
	for i, f := range fs {
		if f == "#" {
			return true
		}
		if i >= len(ts) {
			return false
		}
		if f != "+" && f != ts[i] {
			return false
		}
	}
	return len(fs) == len(ts)
}
