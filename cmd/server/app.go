package main

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/nucleus/blog-api/graph"
	"github.com/nucleus/blog-api/internal/auth"
	"github.com/nucleus/blog-api/internal/config"
	"github.com/nucleus/blog-api/internal/database"
	"github.com/nucleus/blog-api/internal/orm"
	"github.com/nucleus/blog-api/internal/pubsub"
	"github.com/nucleus/blog-api/internal/reqctx"
	"github.com/nucleus/blog-api/internal/server"
)

// app holds the wired collaborators of a running service.
type app struct {
	db     *database.Client
	bus    pubsub.Bus
	server *server.Server
}

func openDatabase(ctx context.Context, cfg config.DatabaseConfig) (*database.Client, error) {
	db, err := database.NewClient(ctx, database.Config{
		Driver:       cfg.Driver,
		URL:          cfg.URL,
		MaxOpenConns: cfg.MaxOpenConns,
		MaxIdleConns: cfg.MaxIdleConns,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// buildApp constructs every collaborator once and hands them to the server.
func buildApp(ctx context.Context, cfg *config.Config, log *zap.Logger) (_ *app, err error) {
	a := &app{}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.db, err = openDatabase(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	if cfg.Database.AutoMigrate {
		if err := a.db.Migrate(); err != nil {
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	a.bus, err = pubsub.Open(ctx, cfg.PubSub, log)
	if err != nil {
		return nil, fmt.Errorf("failed to open event bus: %w", err)
	}

	factory, err := reqctx.NewFactory(a.db, a.bus, orm.New(a.db))
	if err != nil {
		return nil, err
	}

	authn, err := auth.New(cfg.Auth)
	if err != nil {
		return nil, err
	}

	a.server, err = server.New(server.Options{
		Schema:   server.SchemaSource{Path: cfg.GraphQL.SchemaPath, Inline: graph.Schema},
		Resolver: graph.NewResolver(authn, log),
		Context:  factory,
		GraphQL:  cfg.GraphQL,
		HTTP:     cfg.Server,
		Health:   a.db,
		Logger:   log,
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// Close releases the bus and the database.
func (a *app) Close() error {
	var errs []error
	if a.bus != nil {
		if err := a.bus.Close(); err != nil && !errors.Is(err, pubsub.ErrClosed) {
			errs = append(errs, err)
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
