package pubsub

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/nucleus/blog-api/internal/config"
)

// Open builds the bus selected by cfg.Driver and checks that its broker is reachable.
func Open(ctx context.Context, cfg config.PubSubConfig, log *zap.Logger) (Bus, error) {
	switch cfg.Driver {
	case "", "memory":
		return NewMemory(cfg.Buffer, log), nil

	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("failed to ping redis at %s: %w", cfg.RedisAddr, err)
		}
		return NewRedis(client, cfg.Buffer, log), nil

	case "nats":
		conn, err := nats.Connect(cfg.NATSURL, nats.Name("blog-api"))
		if err != nil {
			return nil, fmt.Errorf("failed to connect to nats at %s: %w", cfg.NATSURL, err)
		}
		return NewNATS(conn, cfg.Buffer, log), nil

	default:
		return nil, fmt.Errorf("unsupported pubsub driver %q", cfg.Driver)
	}
}
