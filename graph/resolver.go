// Package graph provides the GraphQL schema and resolvers of the blog-api.
package graph

import (
	"context"
	_ "embed"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/nucleus/blog-api/internal/auth"
	"github.com/nucleus/blog-api/internal/orm"
	"github.com/nucleus/blog-api/internal/reqctx"
)

// Schema is the default schema definition served by the blog-api.
//
//go:embed schema.graphql
var Schema string

// Errors surfaced to clients.
var (
	ErrPostNotFound    = errors.New("unable to find post")
	ErrCommentNotFound = errors.New("unable to find comment")
	ErrUserNotFound    = errors.New("unable to find user")
	errNoRequest       = errors.New("request context unavailable")
)

// Resolver is the root resolver for GraphQL queries, mutations and
// subscriptions. Data access goes through the per-request context.
type Resolver struct {
	authn    *auth.Authenticator
	validate *validator.Validate
	log      *zap.Logger
}

// NewResolver creates a new resolver with the given dependencies.
func NewResolver(authn *auth.Authenticator, log *zap.Logger) *Resolver {
	if log == nil {
		log = zap.NewNop()
	}
	return &Resolver{
		authn:    authn,
		validate: validator.New(),
		log:      log.Named("graph"),
	}
}

func requestContext(ctx context.Context) (*reqctx.Context, error) {
	rc, ok := reqctx.FromContext(ctx)
	if !ok {
		return nil, errNoRequest
	}
	return rc, nil
}

// viewer returns the request context and the id of the caller, which is
// empty for anonymous requests unless required is set.
func (r *Resolver) viewer(ctx context.Context, required bool) (*reqctx.Context, string, error) {
	rc, err := requestContext(ctx)
	if err != nil {
		return nil, "", err
	}
	userID, err := r.authn.UserID(rc.Request, required)
	if err != nil {
		return nil, "", err
	}
	return rc, userID, nil
}

func page(first, skip *int32) orm.Page {
	var p orm.Page
	if first != nil {
		p.First = int(*first)
	}
	if skip != nil {
		p.Skip = int(*skip)
	}
	return p
}

func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	t := strings.TrimSpace(*s)
	return &t
}

func notFound(err, replacement error) error {
	if errors.Is(err, orm.ErrNotFound) {
		return replacement
	}
	return err
}
