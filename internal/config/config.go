// Package config provides configuration management for the blog-api service.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// DefaultPort is the listen port used when PORT is unset or empty.
const DefaultPort = 4001

// PortEnv is the environment variable consulted by ResolvePort.
const PortEnv = "PORT"

// ErrInvalidPort is returned when PORT does not hold a usable TCP port.
var ErrInvalidPort = errors.New("invalid port")

// Config holds all configuration for the blog-api service.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	GraphQL  GraphQLConfig  `mapstructure:"graphql"`
	Database DatabaseConfig `mapstructure:"database"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Log      LogConfig      `mapstructure:"log"`
}

// ServerConfig holds the listen configuration.
type ServerConfig struct {
	Host            string          `mapstructure:"host"`
	Port            int             `mapstructure:"port" validate:"gte=0,lte=65535"`
	ReadTimeout     time.Duration   `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration   `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration   `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string        `mapstructure:"cors_origins"`
	RateLimit       RateLimitConfig `mapstructure:"rate_limit"`
}

// RateLimitConfig configures the global request limiter. A zero RPS disables it.
type RateLimitConfig struct {
	RPS   float64 `mapstructure:"rps" validate:"gte=0"`
	Burst int     `mapstructure:"burst" validate:"gte=0"`
}

// GraphQLConfig holds schema and endpoint settings.
type GraphQLConfig struct {
	// SchemaPath overrides the embedded schema when set.
	SchemaPath        string        `mapstructure:"schema_path"`
	Endpoint          string        `mapstructure:"endpoint" validate:"required,startswith=/"`
	PlaygroundPath    string        `mapstructure:"playground_path" validate:"required,startswith=/"`
	PlaygroundEnabled bool          `mapstructure:"playground_enabled"`
	MaxDepth          int           `mapstructure:"max_depth" validate:"gte=0"`
	MaxParallelism    int           `mapstructure:"max_parallelism" validate:"gte=0"`
	KeepAlive         time.Duration `mapstructure:"keepalive"`
}

// DatabaseConfig holds persistence settings.
type DatabaseConfig struct {
	Driver       string `mapstructure:"driver" validate:"oneof=postgres pgx sqlite"`
	URL          string `mapstructure:"url" validate:"required"`
	MaxOpenConns int    `mapstructure:"max_open_conns" validate:"gte=0"`
	MaxIdleConns int    `mapstructure:"max_idle_conns" validate:"gte=0"`
	AutoMigrate  bool   `mapstructure:"auto_migrate"`
}

// PubSubConfig selects and configures the event bus.
type PubSubConfig struct {
	Driver        string `mapstructure:"driver" validate:"oneof=memory redis nats"`
	Buffer        int    `mapstructure:"buffer" validate:"gte=1"`
	RedisAddr     string `mapstructure:"redis_addr" validate:"required_if=Driver redis"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
	NATSURL       string `mapstructure:"nats_url" validate:"required_if=Driver nats"`
}

// AuthConfig holds token settings.
type AuthConfig struct {
	Secret   string        `mapstructure:"secret" validate:"required"`
	TokenTTL time.Duration `mapstructure:"token_ttl" validate:"gt=0"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=console json"`
}

// ResolvePort returns the port named by PORT in the given environment,
// falling back to DefaultPort when it is unset or empty.
func ResolvePort(getenv func(string) string) (int, error) {
	raw := strings.TrimSpace(getenv(PortEnv))
	if raw == "" {
		return DefaultPort, nil
	}
	return parsePort(raw)
}

func parsePort(raw string) (int, error) {
	port, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w %q: %v", ErrInvalidPort, raw, err)
	}
	if port < 1 || port > 65535 {
		return 0, fmt.Errorf("%w %q: out of range", ErrInvalidPort, raw)
	}
	return port, nil
}

// Load reads config from the optional YAML file at path, then overlays
// environment variables with the BLOG_ prefix (e.g. BLOG_DATABASE_URL).
// Those overrides come from the process environment.
//
// getenv is consulted for PORT only; a nil getenv means os.Getenv. The listen
// port is resolved as PORT, then server.port from the file or BLOG_SERVER_PORT,
// then DefaultPort.
func Load(path string, getenv func(string) string) (*Config, error) {
	if getenv == nil {
		getenv = os.Getenv
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("BLOG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindLegacyEnv(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	port, err := ResolvePort(getenv)
	if err != nil {
		return nil, err
	}
	if getenv(PortEnv) == "" && cfg.Server.Port != 0 {
		port = cfg.Server.Port
	}
	cfg.Server.Port = port

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the struct tags of the whole configuration.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "")
	v.SetDefault("server.port", 0)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.rate_limit.rps", 0)
	v.SetDefault("server.rate_limit.burst", 0)

	v.SetDefault("graphql.schema_path", "")
	v.SetDefault("graphql.endpoint", "/graphql")
	v.SetDefault("graphql.playground_path", "/")
	v.SetDefault("graphql.playground_enabled", true)
	v.SetDefault("graphql.max_depth", 12)
	v.SetDefault("graphql.max_parallelism", 10)
	v.SetDefault("graphql.keepalive", 15*time.Second)

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.url", "")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("pubsub.driver", "memory")
	v.SetDefault("pubsub.buffer", 64)
	v.SetDefault("pubsub.redis_addr", "")
	v.SetDefault("pubsub.redis_password", "")
	v.SetDefault("pubsub.redis_db", 0)
	v.SetDefault("pubsub.nats_url", "")

	v.SetDefault("auth.secret", "")
	v.SetDefault("auth.token_ttl", 7*24*time.Hour)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}

// bindLegacyEnv keeps the unprefixed variable names deployments already set.
func bindLegacyEnv(v *viper.Viper) {
	_ = v.BindEnv("database.url", "BLOG_DATABASE_URL", "DATABASE_URL")
	_ = v.BindEnv("auth.secret", "BLOG_AUTH_SECRET", "JWT_SECRET")
	_ = v.BindEnv("pubsub.redis_addr", "BLOG_PUBSUB_REDIS_ADDR", "REDIS_ADDR")
	_ = v.BindEnv("pubsub.nats_url", "BLOG_PUBSUB_NATS_URL", "NATS_URL")
}
