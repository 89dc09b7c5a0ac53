package pubsub

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/nucleus/blog-api/internal/metrics"
)

// Redis is a bus backed by Redis PUBLISH/SUBSCRIBE, shared by every replica
// connected to the same server.
type Redis struct {
	client redis.UniversalClient
	cb     *gobreaker.CircuitBreaker
	buffer int
	log    *zap.Logger

	done      chan struct{}
	closeOnce sync.Once
}

// NewRedis creates a bus on client. The bus owns the client and closes it in Close.
func NewRedis(client redis.UniversalClient, buffer int, log *zap.Logger) *Redis {
	if buffer < 1 {
		buffer = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Redis{
		client: client,
		cb:     newBreaker("redis"),
		buffer: buffer,
		log:    log.Named("pubsub.redis"),
		done:   make(chan struct{}),
	}
}

func (r *Redis) isClosed() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// Publish sends payload to topic through the circuit breaker.
func (r *Redis) Publish(ctx context.Context, topic string, payload any) error {
	b, err := encode(topic, payload)
	if err != nil {
		return err
	}
	if r.isClosed() {
		return ErrClosed
	}

	err = guarded(r.cb, func() error {
		return r.client.Publish(ctx, topic, b).Err()
	})
	if err != nil {
		return fmt.Errorf("redis publish %s: %w", topic, err)
	}
	metrics.BusMessagesPublished.WithLabelValues("redis").Inc()
	return nil
}

// Subscribe returns once Redis has confirmed the subscription.
func (r *Redis) Subscribe(ctx context.Context, topic string) (<-chan Message, error) {
	if topic == "" {
		return nil, ErrEmptyTopic
	}
	if r.isClosed() {
		return nil, ErrClosed
	}

	ps := r.client.Subscribe(ctx, topic)
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("redis subscribe %s: %w", topic, err)
	}

	out := make(chan Message, r.buffer)
	go func() {
		defer close(out)
		defer ps.Close()

		in := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case <-r.done:
				return
			case m, ok := <-in:
				if !ok {
					return
				}
				select {
				case out <- Message{Topic: m.Channel, Payload: []byte(m.Payload)}:
				case <-ctx.Done():
					return
				case <-r.done:
					return
				}
			}
		}
	}()

	return out, nil
}

// Close ends every subscription and closes the client.
func (r *Redis) Close() error {
	err := ErrClosed
	r.closeOnce.Do(func() {
		close(r.done)
		err = r.client.Close()
	})
	return err
}
