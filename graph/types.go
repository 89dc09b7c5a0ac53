package graph

import (
	"context"

	"github.com/graph-gophers/graphql-go"

	"github.com/nucleus/blog-api/internal/orm"
)

// =============================================================================
// USER
// =============================================================================

type userResolver struct {
	r *Resolver
	u *orm.User
}

func (r *Resolver) user(u *orm.User) *userResolver {
	return &userResolver{r: r, u: u}
}

func (u *userResolver) ID() graphql.ID { return graphql.ID(u.u.ID) }

func (u *userResolver) Name() string { return u.u.Name }

// Email is only visible to the user themself.
func (u *userResolver) Email(ctx context.Context) (*string, error) {
	_, viewerID, err := u.r.viewer(ctx, false)
	if err != nil {
		return nil, err
	}
	if viewerID != u.u.ID {
		return nil, nil
	}
	email := u.u.Email
	return &email, nil
}

// Posts lists the user's published posts.
func (u *userResolver) Posts(ctx context.Context) ([]*postResolver, error) {
	rc, err := requestContext(ctx)
	if err != nil {
		return nil, err
	}
	published := true
	posts, err := rc.ORM.ListPosts(ctx, orm.PostFilter{AuthorID: &u.u.ID, Published: &published})
	if err != nil {
		return nil, err
	}
	return u.r.posts(posts), nil
}

func (u *userResolver) Comments(ctx context.Context) ([]*commentResolver, error) {
	rc, err := requestContext(ctx)
	if err != nil {
		return nil, err
	}
	comments, err := rc.ORM.ListComments(ctx, orm.CommentFilter{AuthorID: &u.u.ID})
	if err != nil {
		return nil, err
	}
	return u.r.comments(comments), nil
}

func (u *userResolver) CreatedAt() graphql.Time { return graphql.Time{Time: u.u.CreatedAt} }

func (u *userResolver) UpdatedAt() graphql.Time { return graphql.Time{Time: u.u.UpdatedAt} }

// =============================================================================
// POST
// =============================================================================

type postResolver struct {
	r *Resolver
	p *orm.Post
}

func (r *Resolver) post(p *orm.Post) *postResolver {
	return &postResolver{r: r, p: p}
}

func (r *Resolver) posts(posts []*orm.Post) []*postResolver {
	out := make([]*postResolver, len(posts))
	for i, p := range posts {
		out[i] = r.post(p)
	}
	return out
}

func (p *postResolver) ID() graphql.ID { return graphql.ID(p.p.ID) }

func (p *postResolver) Title() string { return p.p.Title }

func (p *postResolver) Body() string { return p.p.Body }

func (p *postResolver) Published() bool { return p.p.Published }

func (p *postResolver) Author(ctx context.Context) (*userResolver, error) {
	rc, err := requestContext(ctx)
	if err != nil {
		return nil, err
	}
	u, err := rc.ORM.UserByID(ctx, p.p.AuthorID)
	if err != nil {
		return nil, notFound(err, ErrUserNotFound)
	}
	return p.r.user(u), nil
}

func (p *postResolver) Comments(ctx context.Context) ([]*commentResolver, error) {
	rc, err := requestContext(ctx)
	if err != nil {
		return nil, err
	}
	comments, err := rc.ORM.ListComments(ctx, orm.CommentFilter{PostID: &p.p.ID})
	if err != nil {
		return nil, err
	}
	return p.r.comments(comments), nil
}

func (p *postResolver) CreatedAt() graphql.Time { return graphql.Time{Time: p.p.CreatedAt} }

func (p *postResolver) UpdatedAt() graphql.Time { return graphql.Time{Time: p.p.UpdatedAt} }

// =============================================================================
// COMMENT
// =============================================================================

type commentResolver struct {
	r *Resolver
	c *orm.Comment
}

func (r *Resolver) comment(c *orm.Comment) *commentResolver {
	return &commentResolver{r: r, c: c}
}

func (r *Resolver) comments(comments []*orm.Comment) []*commentResolver {
	out := make([]*commentResolver, len(comments))
	for i, c := range comments {
		out[i] = r.comment(c)
	}
	return out
}

func (c *commentResolver) ID() graphql.ID { return graphql.ID(c.c.ID) }

func (c *commentResolver) Text() string { return c.c.Text }

func (c *commentResolver) Author(ctx context.Context) (*userResolver, error) {
	rc, err := requestContext(ctx)
	if err != nil {
		return nil, err
	}
	u, err := rc.ORM.UserByID(ctx, c.c.AuthorID)
	if err != nil {
		return nil, notFound(err, ErrUserNotFound)
	}
	return c.r.user(u), nil
}

func (c *commentResolver) Post(ctx context.Context) (*postResolver, error) {
	rc, err := requestContext(ctx)
	if err != nil {
		return nil, err
	}
	p, err := rc.ORM.PostByID(ctx, c.c.PostID)
	if err != nil {
		return nil, notFound(err, ErrPostNotFound)
	}
	return c.r.post(p), nil
}

func (c *commentResolver) CreatedAt() graphql.Time { return graphql.Time{Time: c.c.CreatedAt} }

func (c *commentResolver) UpdatedAt() graphql.Time { return graphql.Time{Time: c.c.UpdatedAt} }

// =============================================================================
// PAYLOADS
// =============================================================================

type authPayloadResolver struct {
	token string
	user  *userResolver
}

func (a *authPayloadResolver) Token() string { return a.token }

func (a *authPayloadResolver) User() *userResolver { return a.user }

type postEventResolver struct {
	mutation string
	node     *postResolver
}

func (e *postEventResolver) Mutation() string { return e.mutation }

func (e *postEventResolver) Node() *postResolver { return e.node }

type commentEventResolver struct {
	mutation string
	node     *commentResolver
}

func (e *commentEventResolver) Mutation() string { return e.mutation }

func (e *commentEventResolver) Node() *commentResolver { return e.node }
