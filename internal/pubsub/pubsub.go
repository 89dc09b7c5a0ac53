// Package pubsub provides the event bus that carries subscription updates.
package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Errors
var (
	// ErrClosed is returned by operations on a closed bus.
	ErrClosed = errors.New("pubsub: bus closed")
	// ErrEmptyTopic is returned when a topic is blank.
	ErrEmptyTopic = errors.New("pubsub: empty topic")
)

// Message is a payload delivered on a topic.
type Message struct {
	Topic   string
	Payload []byte
}

// Decode unmarshals the JSON payload into v.
func (m Message) Decode(v any) error {
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("decode message on %s: %w", m.Topic, err)
	}
	return nil
}

// Bus publishes and subscribes by topic. Implementations are safe for
// concurrent use.
type Bus interface {
	// Publish JSON-encodes payload and delivers it to current subscribers of topic.
	Publish(ctx context.Context, topic string, payload any) error
	// Subscribe returns a channel of messages on topic. The channel is closed
	// once ctx is done or the bus is closed.
	Subscribe(ctx context.Context, topic string) (<-chan Message, error)
	// Close releases the bus and ends every subscription.
	Close() error
}

// Topic joins parts into a topic name, e.g. Topic("comment", postID).
func Topic(parts ...string) string {
	return strings.Join(parts, ".")
}

func encode(topic string, payload any) ([]byte, error) {
	if strings.TrimSpace(topic) == "" {
		return nil, ErrEmptyTopic
	}
	if raw, ok := payload.([]byte); ok {
		return raw, nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode message on %s: %w", topic, err)
	}
	return b, nil
}
