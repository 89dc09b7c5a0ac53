// Package reqctx assembles the per-request bundle every resolver works from:
// the persistence handle, the event bus, the ORM client and the raw request.
package reqctx

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/nucleus/blog-api/internal/database"
	"github.com/nucleus/blog-api/internal/orm"
	"github.com/nucleus/blog-api/internal/pubsub"
)

// Errors
var (
	ErrMissingCollaborator = errors.New("missing collaborator")
	ErrNilRequest          = errors.New("nil request")
)

type contextKey string

const contextKeyRequest contextKey = "reqctx"

// Context is the bundle made available to every resolver invocation.
type Context struct {
	DB      *database.Client
	PubSub  pubsub.Bus
	ORM     *orm.Client
	Request *http.Request
}

// Factory builds a Context per request from long-lived shared collaborators.
type Factory struct {
	db  *database.Client
	bus pubsub.Bus
	orm *orm.Client
}

// NewFactory checks that every collaborator is set. A nil one is a startup error.
func NewFactory(db *database.Client, bus pubsub.Bus, ormClient *orm.Client) (*Factory, error) {
	switch {
	case db == nil:
		return nil, fmt.Errorf("%w: database client", ErrMissingCollaborator)
	case bus == nil:
		return nil, fmt.Errorf("%w: pubsub bus", ErrMissingCollaborator)
	case ormClient == nil:
		return nil, fmt.Errorf("%w: orm client", ErrMissingCollaborator)
	}
	return &Factory{db: db, bus: bus, orm: ormClient}, nil
}

// Build returns a fresh Context for r. It does no I/O.
func (f *Factory) Build(r *http.Request) (*Context, error) {
	if r == nil {
		return nil, ErrNilRequest
	}
	return &Context{
		DB:      f.db,
		PubSub:  f.bus,
		ORM:     f.orm,
		Request: r,
	}, nil
}

// Middleware attaches a Context built from each request to its context.
func (f *Factory) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rc, err := f.Build(r)
		if err != nil {
			http.Error(w, `{"error": "failed to build request context"}`, http.StatusInternalServerError)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithContext(r.Context(), rc)))
	})
}

// WithContext returns a copy of ctx carrying rc.
func WithContext(ctx context.Context, rc *Context) context.Context {
	return context.WithValue(ctx, contextKeyRequest, rc)
}

// FromContext extracts the Context attached by Middleware or WithContext.
func FromContext(ctx context.Context) (*Context, bool) {
	rc, ok := ctx.Value(contextKeyRequest).(*Context)
	return rc, ok && rc != nil
}

// MustFromContext is FromContext for code that only runs behind Middleware.
func MustFromContext(ctx context.Context) *Context {
	rc, ok := FromContext(ctx)
	if !ok {
		panic("reqctx: no request context attached")
	}
	return rc
}
