package pubsub

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/nucleus/blog-api/internal/metrics"
)

// Memory is an in-process bus. It only reaches subscribers in the same
// process, which is enough for a single replica.
type Memory struct {
	buffer int
	log    *zap.Logger

	mu     sync.RWMutex
	subs   map[string]map[*memorySub]struct{}
	closed bool
}

type memorySub struct {
	ch   chan Message
	once sync.Once
}

func (s *memorySub) close() {
	s.once.Do(func() { close(s.ch) })
}

// NewMemory creates an in-process bus. Each subscriber gets a buffer of the
// given size; messages to a full subscriber are dropped.
func NewMemory(buffer int, log *zap.Logger) *Memory {
	if buffer < 1 {
		buffer = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Memory{
		buffer: buffer,
		log:    log.Named("pubsub.memory"),
		subs:   make(map[string]map[*memorySub]struct{}),
	}
}

// Publish delivers payload to every current subscriber of topic.
func (m *Memory) Publish(ctx context.Context, topic string, payload any) error {
	b, err := encode(topic, payload)
	if err != nil {
		return err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}

	msg := Message{Topic: topic, Payload: b}
	for sub := range m.subs[topic] {
		select {
		case sub.ch <- msg:
		default:
			m.log.Warn("subscriber buffer full, dropping message", zap.String("topic", topic))
		}
	}
	metrics.BusMessagesPublished.WithLabelValues("memory").Inc()
	return nil
}

// Subscribe registers a subscriber on topic until ctx is done.
func (m *Memory) Subscribe(ctx context.Context, topic string) (<-chan Message, error) {
	if topic == "" {
		return nil, ErrEmptyTopic
	}

	sub := &memorySub{ch: make(chan Message, m.buffer)}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	if m.subs[topic] == nil {
		m.subs[topic] = make(map[*memorySub]struct{})
	}
	m.subs[topic][sub] = struct{}{}
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.unsubscribe(topic, sub)
	}()

	return sub.ch, nil
}

func (m *Memory) unsubscribe(topic string, sub *memorySub) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if set, ok := m.subs[topic]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(m.subs, topic)
		}
	}
	sub.close()
}

// Close ends every subscription. Further calls return ErrClosed.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.closed = true
	for topic, set := range m.subs {
		for sub := range set {
			sub.close()
		}
		delete(m.subs, topic)
	}
	return nil
}

// subscribers reports the number of live subscribers on topic.
func (m *Memory) subscribers(topic string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subs[topic])
}
