// Package server binds a schema, a resolver root and a request-context factory
// into an HTTP server and starts listening.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"

	"github.com/99designs/gqlgen/graphql/playground"
	"github.com/graph-gophers/graphql-go"
	"github.com/graph-gophers/graphql-go/relay"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/nucleus/blog-api/internal/config"
	"github.com/nucleus/blog-api/internal/reqctx"
)

// Errors
var (
	ErrNoResolver       = errors.New("resolver is required")
	ErrNoContextFactory = errors.New("context factory is required")
)

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options configures a Server.
type Options struct {
	Schema SchemaSource
	// Resolver is the root whose methods resolve the query, mutation and
	// subscription fields.
	Resolver any
	Context  *reqctx.Factory
	GraphQL  config.GraphQLConfig
	HTTP     config.ServerConfig
	// Health is pinged by /health when set.
	Health Pinger
	Logger *zap.Logger
}

// Server serves GraphQL over HTTP and WebSocket.
type Server struct {
	schema     *graphql.Schema
	relay      *relay.Handler
	factory    *reqctx.Factory
	gql        config.GraphQLConfig
	health     Pinger
	limiter    *rate.Limiter
	playground http.Handler
	handler    http.Handler
	log        *zap.Logger

	// closing is closed when a started server begins shutting down, ending
	// websocket connections that http.Server.Shutdown does not track.
	closing   chan struct{}
	closeOnce sync.Once
}

// New parses the schema against the resolver and builds the HTTP handler.
func New(opts Options) (*Server, error) {
	if opts.Resolver == nil {
		return nil, ErrNoResolver
	}
	if opts.Context == nil {
		return nil, ErrNoContextFactory
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if opts.GraphQL.Endpoint == "" {
		opts.GraphQL.Endpoint = "/graphql"
	}
	if opts.GraphQL.PlaygroundPath == "" {
		opts.GraphQL.PlaygroundPath = "/"
	}

	sdl, err := opts.Schema.Load()
	if err != nil {
		return nil, err
	}

	schemaOpts := []graphql.SchemaOpt{graphql.Logger(&panicLogger{log: log.Named("graphql")})}
	if opts.GraphQL.MaxDepth > 0 {
		schemaOpts = append(schemaOpts, graphql.MaxDepth(opts.GraphQL.MaxDepth))
	}
	if opts.GraphQL.MaxParallelism > 0 {
		schemaOpts = append(schemaOpts, graphql.MaxParallelism(opts.GraphQL.MaxParallelism))
	}

	schema, err := graphql.ParseSchema(sdl, opts.Resolver, schemaOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to parse schema: %w", err)
	}

	s := &Server{
		schema:  schema,
		relay:   &relay.Handler{Schema: schema},
		factory: opts.Context,
		gql:     opts.GraphQL,
		health:  opts.Health,
		log:     log.Named("server"),
		closing: make(chan struct{}),
	}
	if rl := opts.HTTP.RateLimit; rl.RPS > 0 {
		burst := rl.Burst
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(rl.RPS), burst)
	}
	if opts.GraphQL.PlaygroundEnabled {
		s.playground = playground.Handler("GraphQL Playground", opts.GraphQL.Endpoint)
	}
	s.handler = s.routes(opts.HTTP.CORSOrigins)
	return s, nil
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) shutdownStreams() {
	s.closeOnce.Do(func() { close(s.closing) })
}

// Start binds cfg.Host:cfg.Port and serves in the background. A bind failure
// is returned directly and leaves nothing running.
func (s *Server) Start(ctx context.Context, cfg config.ServerConfig) (*Handle, error) {
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	srv := &http.Server{
		Handler:      s.handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		ErrorLog:     zap.NewStdLog(s.log.Named("http")),
	}
	srv.RegisterOnShutdown(s.shutdownStreams)

	h := &Handle{
		srv:  srv,
		addr: ln.Addr(),
		done: make(chan struct{}),
	}

	go func() {
		defer close(h.done)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.setErr(err)
		}
	}()

	s.log.Info("served up: "+h.URL(), zap.Int("port", h.Port()))
	return h, nil
}

// Handle is a listening server.
type Handle struct {
	srv  *http.Server
	addr net.Addr
	done chan struct{}

	mu  sync.Mutex
	err error
}

// Addr returns the bound listener address.
func (h *Handle) Addr() net.Addr { return h.addr }

// Port returns the port the listener actually bound.
func (h *Handle) Port() int {
	if tcp, ok := h.addr.(*net.TCPAddr); ok {
		return tcp.Port
	}
	_, p, _ := net.SplitHostPort(h.addr.String())
	port, _ := strconv.Atoi(p)
	return port
}

// URL returns the local base URL of the server.
func (h *Handle) URL() string {
	return fmt.Sprintf("http://localhost:%d", h.Port())
}

// Done is closed once the server has stopped serving.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Err returns the error that stopped the server, nil after a clean shutdown.
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

func (h *Handle) setErr(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.err == nil {
		h.err = err
	}
}

// Shutdown stops accepting connections, waits for in-flight requests and
// ends open subscriptions.
func (h *Handle) Shutdown(ctx context.Context) error {
	if err := h.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
