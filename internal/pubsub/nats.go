package pubsub

import (
	"context"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/nucleus/blog-api/internal/metrics"
)

// NATS is a bus backed by core NATS subjects. Delivery is at-most-once,
// matching the other drivers.
type NATS struct {
	conn   *nats.Conn
	cb     *gobreaker.CircuitBreaker
	buffer int
	log    *zap.Logger

	done      chan struct{}
	closeOnce sync.Once
}

// NewNATS creates a bus on conn. The bus owns the connection and closes it in Close.
func NewNATS(conn *nats.Conn, buffer int, log *zap.Logger) *NATS {
	if buffer < 1 {
		buffer = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &NATS{
		conn:   conn,
		cb:     newBreaker("nats"),
		buffer: buffer,
		log:    log.Named("pubsub.nats"),
		done:   make(chan struct{}),
	}
}

func (n *NATS) isClosed() bool {
	select {
	case <-n.done:
		return true
	default:
		return false
	}
}

// Publish sends payload to the topic subject through the circuit breaker.
func (n *NATS) Publish(ctx context.Context, topic string, payload any) error {
	b, err := encode(topic, payload)
	if err != nil {
		return err
	}
	if n.isClosed() {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	err = guarded(n.cb, func() error {
		return n.conn.Publish(topic, b)
	})
	if err != nil {
		return fmt.Errorf("nats publish %s: %w", topic, err)
	}
	metrics.BusMessagesPublished.WithLabelValues("nats").Inc()
	return nil
}

// Subscribe returns once the server has acknowledged the subscription.
func (n *NATS) Subscribe(ctx context.Context, topic string) (<-chan Message, error) {
	if topic == "" {
		return nil, ErrEmptyTopic
	}
	if n.isClosed() {
		return nil, ErrClosed
	}

	in := make(chan *nats.Msg, n.buffer)
	sub, err := n.conn.ChanSubscribe(topic, in)
	if err != nil {
		return nil, fmt.Errorf("nats subscribe %s: %w", topic, err)
	}
	if err := n.conn.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return nil, fmt.Errorf("nats subscribe %s: %w", topic, err)
	}

	out := make(chan Message, n.buffer)
	go func() {
		defer close(out)
		defer func() {
			if err := sub.Unsubscribe(); err != nil && !n.isClosed() {
				n.log.Debug("unsubscribe failed", zap.String("topic", topic), zap.Error(err))
			}
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case <-n.done:
				return
			case m := <-in:
				select {
				case out <- Message{Topic: m.Subject, Payload: m.Data}:
				case <-ctx.Done():
					return
				case <-n.done:
					return
				}
			}
		}
	}()

	return out, nil
}

// Close ends every subscription and closes the connection.
func (n *NATS) Close() error {
	err := ErrClosed
	n.closeOnce.Do(func() {
		close(n.done)
		if n.conn != nil {
			n.conn.Close()
		}
		err = nil
	})
	return err
}
