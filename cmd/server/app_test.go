package main

import (
	"context"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/nucleus/blog-api/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Server: config.ServerConfig{Host: "127.0.0.1", Port: 0},
		GraphQL: config.GraphQLConfig{
			Endpoint:          "/graphql",
			PlaygroundPath:    "/",
			PlaygroundEnabled: true,
		},
		Database: config.DatabaseConfig{
			Driver:      "sqlite",
			URL:         "file:" + filepath.Join(t.TempDir(), "app.db"),
			AutoMigrate: true,
		},
		PubSub: config.PubSubConfig{Driver: "memory", Buffer: 8},
		Auth:   config.AuthConfig{Secret: "test-secret", TokenTTL: time.Hour},
		Log:    config.LogConfig{Level: "info", Format: "console"},
	}
}

func TestBuildAppServes(t *testing.T) {
	ctx := context.Background()
	a, err := buildApp(ctx, testConfig(t), zaptest.NewLogger(t))
	require.NoError(t, err)
	defer a.Close()

	h, err := a.server.Start(ctx, config.ServerConfig{Host: "127.0.0.1"})
	require.NoError(t, err)
	defer h.Shutdown(ctx)

	resp, err := http.Post(h.URL()+"/graphql", "application/json", strings.NewReader(`{"query":"{ posts { id } }"}`))
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"data":{"posts":[]}}`, string(body))
}

func TestBuildAppFailures(t *testing.T) {
	ctx := context.Background()

	cfg := testConfig(t)
	cfg.Database.URL = ""
	_, err := buildApp(ctx, cfg, zaptest.NewLogger(t))
	assert.Error(t, err)

	cfg = testConfig(t)
	cfg.PubSub.Driver = "kafka"
	_, err = buildApp(ctx, cfg, zaptest.NewLogger(t))
	assert.Error(t, err)

	cfg = testConfig(t)
	cfg.Auth.Secret = ""
	_, err = buildApp(ctx, cfg, zaptest.NewLogger(t))
	assert.Error(t, err)

	cfg = testConfig(t)
	cfg.GraphQL.SchemaPath = filepath.Join(t.TempDir(), "missing.graphql")
	_, err = buildApp(ctx, cfg, zaptest.NewLogger(t))
	assert.Error(t, err)
}
