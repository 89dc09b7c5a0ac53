package graph

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/graph-gophers/graphql-go"

	"github.com/nucleus/blog-api/internal/auth"
	"github.com/nucleus/blog-api/internal/orm"
	"github.com/nucleus/blog-api/internal/pubsub"
)

// =============================================================================
// QUERY RESOLVERS
// =============================================================================

type listArgs struct {
	Query *string
	First *int32
	Skip  *int32
}

// Users lists users, optionally matching query against name or email.
func (r *Resolver) Users(ctx context.Context, args listArgs) ([]*userResolver, error) {
	rc, err := requestContext(ctx)
	if err != nil {
		return nil, err
	}
	users, err := rc.ORM.ListUsers(ctx, orm.UserFilter{Query: args.Query, Page: page(args.First, args.Skip)})
	if err != nil {
		return nil, err
	}
	out := make([]*userResolver, len(users))
	for i, u := range users {
		out[i] = r.user(u)
	}
	return out, nil
}

// Posts lists published posts.
func (r *Resolver) Posts(ctx context.Context, args listArgs) ([]*postResolver, error) {
	rc, err := requestContext(ctx)
	if err != nil {
		return nil, err
	}
	published := true
	posts, err := rc.ORM.ListPosts(ctx, orm.PostFilter{
		Query:     args.Query,
		Published: &published,
		Page:      page(args.First, args.Skip),
	})
	if err != nil {
		return nil, err
	}
	return r.posts(posts), nil
}

// MyPosts lists every post of the caller, drafts included.
func (r *Resolver) MyPosts(ctx context.Context, args listArgs) ([]*postResolver, error) {
	rc, userID, err := r.viewer(ctx, true)
	if err != nil {
		return nil, err
	}
	posts, err := rc.ORM.ListPosts(ctx, orm.PostFilter{
		Query:    args.Query,
		AuthorID: &userID,
		Page:     page(args.First, args.Skip),
	})
	if err != nil {
		return nil, err
	}
	return r.posts(posts), nil
}

// Comments lists comments.
func (r *Resolver) Comments(ctx context.Context, args struct {
	First *int32
	Skip  *int32
}) ([]*commentResolver, error) {
	rc, err := requestContext(ctx)
	if err != nil {
		return nil, err
	}
	comments, err := rc.ORM.ListComments(ctx, orm.CommentFilter{Page: page(args.First, args.Skip)})
	if err != nil {
		return nil, err
	}
	return r.comments(comments), nil
}

// Me returns the caller.
func (r *Resolver) Me(ctx context.Context) (*userResolver, error) {
	rc, userID, err := r.viewer(ctx, true)
	if err != nil {
		return nil, err
	}
	u, err := rc.ORM.UserByID(ctx, userID)
	if err != nil {
		return nil, notFound(err, ErrUserNotFound)
	}
	return r.user(u), nil
}

// Post returns a published post, or a draft owned by the caller.
func (r *Resolver) Post(ctx context.Context, args struct{ ID graphql.ID }) (*postResolver, error) {
	rc, userID, err := r.viewer(ctx, false)
	if err != nil {
		return nil, err
	}
	p, err := rc.ORM.PostByID(ctx, string(args.ID))
	if err != nil {
		return nil, notFound(err, ErrPostNotFound)
	}
	if !p.Published && (userID == "" || p.AuthorID != userID) {
		return nil, ErrPostNotFound
	}
	return r.post(p), nil
}

// =============================================================================
// MUTATION RESOLVERS
// =============================================================================

// CreateUserInput is the input of createUser.
type CreateUserInput struct {
	Name     string `validate:"required,max=200"`
	Email    string `validate:"required,email"`
	Password string `validate:"required"`
}

// LoginUserInput is the input of login.
type LoginUserInput struct {
	Email    string `validate:"required"`
	Password string `validate:"required"`
}

// UpdateUserInput is the input of updateUser.
type UpdateUserInput struct {
	Name     *string `validate:"omitnil,min=1,max=200"`
	Email    *string `validate:"omitnil,email"`
	Password *string
}

// CreatePostInput is the input of createPost.
type CreatePostInput struct {
	Title     string `validate:"required"`
	Body      string
	Published bool
}

// UpdatePostInput is the input of updatePost.
type UpdatePostInput struct {
	Title     *string `validate:"omitnil,min=1"`
	Body      *string
	Published *bool
}

// CreateCommentInput is the input of createComment.
type CreateCommentInput struct {
	Text string     `validate:"required"`
	Post graphql.ID `validate:"required"`
}

// UpdateCommentInput is the input of updateComment.
type UpdateCommentInput struct {
	Text *string `validate:"omitnil,min=1"`
}

func (r *Resolver) validateInput(v any) error {
	if err := r.validate.Struct(v); err != nil {
		return fmt.Errorf("invalid input: %w", err)
	}
	return nil
}

func (r *Resolver) authPayload(u *orm.User) (*authPayloadResolver, error) {
	token, err := r.authn.Issue(u.ID)
	if err != nil {
		return nil, err
	}
	return &authPayloadResolver{token: token, user: r.user(u)}, nil
}

// CreateUser signs up a user and returns a token for them.
func (r *Resolver) CreateUser(ctx context.Context, args struct{ Data CreateUserInput }) (*authPayloadResolver, error) {
	rc, err := requestContext(ctx)
	if err != nil {
		return nil, err
	}
	in := args.Data
	in.Name = strings.TrimSpace(in.Name)
	in.Email = strings.TrimSpace(in.Email)
	if err := r.validateInput(in); err != nil {
		return nil, err
	}

	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return nil, err
	}
	u, err := rc.ORM.CreateUser(ctx, orm.UserCreate{Name: in.Name, Email: in.Email, Password: hash})
	if err != nil {
		return nil, err
	}
	return r.authPayload(u)
}

// Login exchanges credentials for a token.
func (r *Resolver) Login(ctx context.Context, args struct{ Data LoginUserInput }) (*authPayloadResolver, error) {
	rc, err := requestContext(ctx)
	if err != nil {
		return nil, err
	}
	if err := r.validateInput(args.Data); err != nil {
		return nil, err
	}

	u, err := rc.ORM.UserByEmail(ctx, args.Data.Email)
	if err != nil {
		return nil, notFound(err, auth.ErrWrongPassword)
	}
	if err := auth.CheckPassword(u.Password, args.Data.Password); err != nil {
		return nil, err
	}
	return r.authPayload(u)
}

// DeleteUser removes the caller with their posts and comments.
func (r *Resolver) DeleteUser(ctx context.Context) (*userResolver, error) {
	rc, userID, err := r.viewer(ctx, true)
	if err != nil {
		return nil, err
	}
	u, err := rc.ORM.UserByID(ctx, userID)
	if err != nil {
		return nil, notFound(err, ErrUserNotFound)
	}

	var (
		posts    []*orm.Post
		comments []*orm.Comment
	)
	err = rc.DB.Transaction(ctx, func(tx *sql.Tx) error {
		o := rc.ORM.WithTx(tx)
		written, err := o.DeleteCommentsByAuthor(ctx, userID)
		if err != nil {
			return err
		}
		var onPosts []*orm.Comment
		posts, onPosts, err = o.DeletePostsByAuthor(ctx, userID)
		if err != nil {
			return err
		}
		comments = append(written, onPosts...)
		return o.DeleteUser(ctx, userID)
	})
	if err != nil {
		return nil, err
	}

	for _, cm := range comments {
		r.publishComment(ctx, rc, MutationDeleted, cm)
	}
	for _, p := range posts {
		r.publishPost(ctx, rc, MutationDeleted, p, p.Published)
	}
	return r.user(u), nil
}

// UpdateUser changes the caller's profile.
func (r *Resolver) UpdateUser(ctx context.Context, args struct{ Data UpdateUserInput }) (*userResolver, error) {
	rc, userID, err := r.viewer(ctx, true)
	if err != nil {
		return nil, err
	}
	in := args.Data
	in.Name = trimmed(in.Name)
	in.Email = trimmed(in.Email)
	if err := r.validateInput(in); err != nil {
		return nil, err
	}

	update := orm.UserUpdate{Name: in.Name, Email: in.Email}
	if in.Password != nil {
		hash, err := auth.HashPassword(*in.Password)
		if err != nil {
			return nil, err
		}
		update.Password = &hash
	}

	u, err := rc.ORM.UpdateUser(ctx, userID, update)
	if err != nil {
		return nil, notFound(err, ErrUserNotFound)
	}
	return r.user(u), nil
}

// CreatePost creates a post authored by the caller.
func (r *Resolver) CreatePost(ctx context.Context, args struct{ Data CreatePostInput }) (*postResolver, error) {
	rc, userID, err := r.viewer(ctx, true)
	if err != nil {
		return nil, err
	}
	in := args.Data
	in.Title = strings.TrimSpace(in.Title)
	if err := r.validateInput(in); err != nil {
		return nil, err
	}

	p, err := rc.ORM.CreatePost(ctx, orm.PostCreate{
		Title:     in.Title,
		Body:      in.Body,
		Published: in.Published,
		AuthorID:  userID,
	})
	if err != nil {
		return nil, err
	}
	r.publishPost(ctx, rc, MutationCreated, p, false)
	return r.post(p), nil
}

// ownPost loads a post and checks that userID wrote it.
func ownPost(ctx context.Context, o *orm.Client, userID, postID string) (*orm.Post, error) {
	p, err := o.PostByID(ctx, postID)
	if err != nil {
		return nil, notFound(err, ErrPostNotFound)
	}
	if p.AuthorID != userID {
		return nil, ErrPostNotFound
	}
	return p, nil
}

// DeletePost removes one of the caller's posts with its comments.
func (r *Resolver) DeletePost(ctx context.Context, args struct{ ID graphql.ID }) (*postResolver, error) {
	rc, userID, err := r.viewer(ctx, true)
	if err != nil {
		return nil, err
	}
	p, err := ownPost(ctx, rc.ORM, userID, string(args.ID))
	if err != nil {
		return nil, err
	}

	var comments []*orm.Comment
	err = rc.DB.Transaction(ctx, func(tx *sql.Tx) error {
		var err error
		comments, err = rc.ORM.WithTx(tx).DeletePost(ctx, p.ID)
		return err
	})
	if err != nil {
		return nil, notFound(err, ErrPostNotFound)
	}
	for _, cm := range comments {
		r.publishComment(ctx, rc, MutationDeleted, cm)
	}
	r.publishPost(ctx, rc, MutationDeleted, p, p.Published)
	return r.post(p), nil
}

// UpdatePost changes one of the caller's posts. Unpublishing a post removes
// its comments.
func (r *Resolver) UpdatePost(ctx context.Context, args struct {
	ID   graphql.ID
	Data UpdatePostInput
}) (*postResolver, error) {
	rc, userID, err := r.viewer(ctx, true)
	if err != nil {
		return nil, err
	}
	in := args.Data
	in.Title = trimmed(in.Title)
	if err := r.validateInput(in); err != nil {
		return nil, err
	}
	before, err := ownPost(ctx, rc.ORM, userID, string(args.ID))
	if err != nil {
		return nil, err
	}

	var (
		updated *orm.Post
		removed []*orm.Comment
	)
	err = rc.DB.Transaction(ctx, func(tx *sql.Tx) error {
		o := rc.ORM.WithTx(tx)
		if before.Published && in.Published != nil && !*in.Published {
			var err error
			if removed, err = o.DeleteCommentsByPost(ctx, before.ID); err != nil {
				return err
			}
		}
		p, err := o.UpdatePost(ctx, before.ID, orm.PostUpdate{
			Title:     in.Title,
			Body:      in.Body,
			Published: in.Published,
		})
		updated = p
		return err
	})
	if err != nil {
		return nil, notFound(err, ErrPostNotFound)
	}
	for _, cm := range removed {
		r.publishComment(ctx, rc, MutationDeleted, cm)
	}
	r.publishPost(ctx, rc, MutationUpdated, updated, before.Published)
	return r.post(updated), nil
}

// CreateComment comments on a published post as the caller.
func (r *Resolver) CreateComment(ctx context.Context, args struct{ Data CreateCommentInput }) (*commentResolver, error) {
	rc, userID, err := r.viewer(ctx, true)
	if err != nil {
		return nil, err
	}
	in := args.Data
	in.Text = strings.TrimSpace(in.Text)
	if err := r.validateInput(in); err != nil {
		return nil, err
	}

	p, err := rc.ORM.PostByID(ctx, string(in.Post))
	if err != nil {
		return nil, notFound(err, ErrPostNotFound)
	}
	if !p.Published {
		return nil, ErrPostNotFound
	}

	c, err := rc.ORM.CreateComment(ctx, orm.CommentCreate{Text: in.Text, AuthorID: userID, PostID: p.ID})
	if err != nil {
		return nil, err
	}
	r.publishComment(ctx, rc, MutationCreated, c)
	return r.comment(c), nil
}

// ownComment loads a comment and checks that userID wrote it.
func ownComment(ctx context.Context, o *orm.Client, userID, commentID string) (*orm.Comment, error) {
	c, err := o.CommentByID(ctx, commentID)
	if err != nil {
		return nil, notFound(err, ErrCommentNotFound)
	}
	if c.AuthorID != userID {
		return nil, ErrCommentNotFound
	}
	return c, nil
}

// DeleteComment removes one of the caller's comments.
func (r *Resolver) DeleteComment(ctx context.Context, args struct{ ID graphql.ID }) (*commentResolver, error) {
	rc, userID, err := r.viewer(ctx, true)
	if err != nil {
		return nil, err
	}
	c, err := ownComment(ctx, rc.ORM, userID, string(args.ID))
	if err != nil {
		return nil, err
	}
	if err := rc.ORM.DeleteComment(ctx, c.ID); err != nil {
		return nil, notFound(err, ErrCommentNotFound)
	}
	r.publishComment(ctx, rc, MutationDeleted, c)
	return r.comment(c), nil
}

// UpdateComment edits one of the caller's comments.
func (r *Resolver) UpdateComment(ctx context.Context, args struct {
	ID   graphql.ID
	Data UpdateCommentInput
}) (*commentResolver, error) {
	rc, userID, err := r.viewer(ctx, true)
	if err != nil {
		return nil, err
	}
	in := args.Data
	in.Text = trimmed(in.Text)
	if err := r.validateInput(in); err != nil {
		return nil, err
	}
	c, err := ownComment(ctx, rc.ORM, userID, string(args.ID))
	if err != nil {
		return nil, err
	}

	updated, err := rc.ORM.UpdateComment(ctx, c.ID, in.Text)
	if err != nil {
		return nil, notFound(err, ErrCommentNotFound)
	}
	r.publishComment(ctx, rc, MutationUpdated, updated)
	return r.comment(updated), nil
}

// =============================================================================
// SUBSCRIPTION RESOLVERS
// =============================================================================

// Comment streams comment events of a published post.
func (r *Resolver) Comment(ctx context.Context, args struct{ PostID graphql.ID }) (<-chan *commentEventResolver, error) {
	rc, err := requestContext(ctx)
	if err != nil {
		return nil, err
	}
	p, err := rc.ORM.PostByID(ctx, string(args.PostID))
	if err != nil {
		return nil, notFound(err, ErrPostNotFound)
	}
	if !p.Published {
		return nil, ErrPostNotFound
	}

	msgs, err := rc.PubSub.Subscribe(ctx, pubsub.Topic(topicComment, p.ID))
	if err != nil {
		return nil, err
	}
	return r.commentStream(ctx, msgs), nil
}

// PostFeed streams events of published posts.
func (r *Resolver) PostFeed(ctx context.Context) (<-chan *postEventResolver, error) {
	rc, err := requestContext(ctx)
	if err != nil {
		return nil, err
	}
	msgs, err := rc.PubSub.Subscribe(ctx, topicPost)
	if err != nil {
		return nil, err
	}
	return r.postStream(ctx, msgs), nil
}

// MyPost streams events of the caller's own posts, drafts included.
func (r *Resolver) MyPost(ctx context.Context) (<-chan *postEventResolver, error) {
	rc, userID, err := r.viewer(ctx, true)
	if err != nil {
		return nil, err
	}
	msgs, err := rc.PubSub.Subscribe(ctx, pubsub.Topic(topicMyPost, userID))
	if err != nil {
		return nil, err
	}
	return r.postStream(ctx, msgs), nil
}
