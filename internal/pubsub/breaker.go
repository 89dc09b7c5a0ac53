package pubsub

import (
	"errors"
	"fmt"

	"github.com/sony/gobreaker"
)

// newBreaker returns the circuit breaker guarding publishes to a remote broker.
// It opens after three consecutive failures.
func newBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name: name,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})
}

func guarded(cb *gobreaker.CircuitBreaker, publish func() error) error {
	_, err := cb.Execute(func() (any, error) {
		return nil, publish()
	})
	if errors.Is(err, gobreaker.ErrOpenState) {
		return fmt.Errorf("pubsub: %s circuit open: %w", cb.Name(), err)
	}
	return err
}
