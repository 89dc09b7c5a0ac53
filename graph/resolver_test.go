package graph

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/graph-gophers/graphql-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/nucleus/blog-api/internal/auth"
	"github.com/nucleus/blog-api/internal/config"
	"github.com/nucleus/blog-api/internal/database"
	"github.com/nucleus/blog-api/internal/orm"
	"github.com/nucleus/blog-api/internal/pubsub"
	"github.com/nucleus/blog-api/internal/reqctx"
)

type fixture struct {
	schema  *graphql.Schema
	factory *reqctx.Factory
	orm     *orm.Client
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := zaptest.NewLogger(t)

	db, err := database.NewClient(context.Background(), database.Config{
		Driver: database.DriverSQLite,
		URL:    "file:" + filepath.Join(t.TempDir(), "graph.db"),
	})
	require.NoError(t, err)
	require.NoError(t, db.Migrate())

	bus := pubsub.NewMemory(16, log)
	t.Cleanup(func() {
		bus.Close()
		db.Close()
	})

	ormClient := orm.New(db)
	factory, err := reqctx.NewFactory(db, bus, ormClient)
	require.NoError(t, err)

	authn, err := auth.New(config.AuthConfig{Secret: "graph-secret", TokenTTL: time.Hour})
	require.NoError(t, err)

	return &fixture{
		schema:  graphql.MustParseSchema(Schema, NewResolver(authn, log)),
		factory: factory,
		orm:     ormClient,
	}
}

func (f *fixture) context(t *testing.T, ctx context.Context, token string) context.Context {
	t.Helper()
	r := httptest.NewRequest(http.MethodPost, "/graphql", nil)
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	rc, err := f.factory.Build(r)
	require.NoError(t, err)
	return reqctx.WithContext(ctx, rc)
}

// exec runs query and decodes its data into out. It returns the error
// messages, if any.
func (f *fixture) exec(t *testing.T, token, query string, vars map[string]interface{}, out interface{}) []string {
	t.Helper()
	resp := f.schema.Exec(f.context(t, context.Background(), token), query, "", vars)
	var msgs []string
	for _, e := range resp.Errors {
		msgs = append(msgs, e.Message)
	}
	if len(msgs) == 0 && out != nil {
		require.NoError(t, json.Unmarshal(resp.Data, out))
	}
	return msgs
}

func (f *fixture) signUp(t *testing.T, name, email string) (token, id string) {
	t.Helper()
	var out struct {
		CreateUser struct {
			Token string
			User  struct{ ID string }
		}
	}
	errs := f.exec(t, "", `mutation($data: CreateUserInput!) { createUser(data: $data) { token user { id } } }`,
		map[string]interface{}{"data": map[string]interface{}{"name": name, "email": email, "password": "password123"}}, &out)
	require.Empty(t, errs)
	return out.CreateUser.Token, out.CreateUser.User.ID
}

func (f *fixture) createPost(t *testing.T, token, title string, published bool) string {
	t.Helper()
	var out struct{ CreatePost struct{ ID string } }
	errs := f.exec(t, token, `mutation($data: CreatePostInput!) { createPost(data: $data) { id } }`,
		map[string]interface{}{"data": map[string]interface{}{"title": title, "body": "body of " + title, "published": published}}, &out)
	require.Empty(t, errs)
	return out.CreatePost.ID
}

func (f *fixture) createComment(t *testing.T, token, postID, text string) string {
	t.Helper()
	var out struct{ CreateComment struct{ ID string } }
	errs := f.exec(t, token, `mutation($data: CreateCommentInput!) { createComment(data: $data) { id } }`,
		map[string]interface{}{"data": map[string]interface{}{"text": text, "post": postID}}, &out)
	require.Empty(t, errs)
	return out.CreateComment.ID
}

func (f *fixture) subscribe(t *testing.T, token, query string) <-chan interface{} {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	ch, err := f.schema.Subscribe(f.context(t, ctx, token), query, "", nil)
	require.NoError(t, err)
	return ch
}

func next(t *testing.T, ch <-chan interface{}) string {
	t.Helper()
	select {
	case v, ok := <-ch:
		require.True(t, ok, "subscription closed")
		resp := v.(*graphql.Response)
		require.Empty(t, resp.Errors)
		return string(resp.Data)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for subscription event")
		return ""
	}
}

// =============================================================================
// USERS AND AUTH
// =============================================================================

func TestSignUpAndLogin(t *testing.T) {
	f := newFixture(t)
	_, id := f.signUp(t, "Ada", "ada@example.com")

	t.Run("login", func(t *testing.T) {
		var out struct {
			Login struct {
				Token string
				User  struct{ ID, Email string }
			}
		}
		errs := f.exec(t, "", `mutation { login(data: {email: "ada@example.com", password: "password123"}) { token user { id email } } }`, nil, &out)
		require.Empty(t, errs)
		assert.NotEmpty(t, out.Login.Token)
		assert.Equal(t, id, out.Login.User.ID)
		assert.Empty(t, out.Login.User.Email, "email is hidden until the token is used")

		var me struct{ Me struct{ Email string } }
		require.Empty(t, f.exec(t, out.Login.Token, `{ me { email } }`, nil, &me))
		assert.Equal(t, "ada@example.com", me.Me.Email)
	})

	t.Run("wrong password", func(t *testing.T) {
		errs := f.exec(t, "", `mutation { login(data: {email: "ada@example.com", password: "nope12345"}) { token } }`, nil, nil)
		assert.Equal(t, []string{auth.ErrWrongPassword.Error()}, errs)
	})

	t.Run("unknown email", func(t *testing.T) {
		errs := f.exec(t, "", `mutation { login(data: {email: "who@example.com", password: "password123"}) { token } }`, nil, nil)
		assert.Equal(t, []string{auth.ErrWrongPassword.Error()}, errs)
	})

	t.Run("duplicate email", func(t *testing.T) {
		errs := f.exec(t, "", `mutation { createUser(data: {name: "Eve", email: "ADA@example.com", password: "password123"}) { token } }`, nil, nil)
		require.Len(t, errs, 1)
		assert.Contains(t, errs[0], orm.ErrEmailTaken.Error())
	})

	t.Run("short password", func(t *testing.T) {
		errs := f.exec(t, "", `mutation { createUser(data: {name: "Eve", email: "eve@example.com", password: "short"}) { token } }`, nil, nil)
		assert.Equal(t, []string{auth.ErrPasswordTooShort.Error()}, errs)
	})

	t.Run("invalid email", func(t *testing.T) {
		errs := f.exec(t, "", `mutation { createUser(data: {name: "Eve", email: "not-an-email", password: "password123"}) { token } }`, nil, nil)
		require.Len(t, errs, 1)
		assert.Contains(t, errs[0], "invalid input")
	})
}

func TestUpdateUser(t *testing.T) {
	f := newFixture(t)
	token, _ := f.signUp(t, "Ada", "ada@example.com")
	f.signUp(t, "Grace", "grace@example.com")

	var out struct{ UpdateUser struct{ Name, Email string } }
	errs := f.exec(t, token, `mutation { updateUser(data: {name: " Ada L. ", password: "newpassword"}) { name email } }`, nil, &out)
	require.Empty(t, errs)
	assert.Equal(t, "Ada L.", out.UpdateUser.Name)
	assert.Equal(t, "ada@example.com", out.UpdateUser.Email)

	errs = f.exec(t, "", `mutation { login(data: {email: "ada@example.com", password: "newpassword"}) { token } }`, nil, nil)
	assert.Empty(t, errs)

	errs = f.exec(t, token, `mutation { updateUser(data: {email: "grace@example.com"}) { id } }`, nil, nil)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], orm.ErrEmailTaken.Error())

	errs = f.exec(t, "", `mutation { updateUser(data: {name: "x"}) { id } }`, nil, nil)
	assert.Equal(t, []string{auth.ErrUnauthenticated.Error()}, errs)
}

func TestDeleteUserCascades(t *testing.T) {
	f := newFixture(t)
	ada, adaID := f.signUp(t, "Ada", "ada@example.com")
	grace, _ := f.signUp(t, "Grace", "grace@example.com")

	adaPost := f.createPost(t, ada, "Ada's post", true)
	gracePost := f.createPost(t, grace, "Grace's post", true)
	f.createComment(t, grace, adaPost, "on ada's post")
	f.createComment(t, ada, gracePost, "ada on grace's post")
	keep := f.createComment(t, grace, gracePost, "grace on grace's post")

	var out struct{ DeleteUser struct{ ID string } }
	require.Empty(t, f.exec(t, ada, `mutation { deleteUser { id } }`, nil, &out))
	assert.Equal(t, adaID, out.DeleteUser.ID)

	ctx := context.Background()
	_, err := f.orm.UserByID(ctx, adaID)
	assert.ErrorIs(t, err, orm.ErrNotFound)
	_, err = f.orm.PostByID(ctx, adaPost)
	assert.ErrorIs(t, err, orm.ErrNotFound)

	comments, err := f.orm.ListComments(ctx, orm.CommentFilter{})
	require.NoError(t, err)
	require.Len(t, comments, 1)
	assert.Equal(t, keep, comments[0].ID)
}

// =============================================================================
// POSTS AND COMMENTS
// =============================================================================

func TestPostVisibility(t *testing.T) {
	f := newFixture(t)
	ada, _ := f.signUp(t, "Ada", "ada@example.com")
	grace, _ := f.signUp(t, "Grace", "grace@example.com")

	published := f.createPost(t, ada, "Engines", true)
	draft := f.createPost(t, ada, "Draft", false)

	var feed struct{ Posts []struct{ ID string } }
	require.Empty(t, f.exec(t, "", `{ posts { id } }`, nil, &feed))
	require.Len(t, feed.Posts, 1)
	assert.Equal(t, published, feed.Posts[0].ID)

	var search struct{ Posts []struct{ ID string } }
	require.Empty(t, f.exec(t, "", `{ posts(query: "engine") { id } }`, nil, &search))
	assert.Len(t, search.Posts, 1)

	var mine struct{ MyPosts []struct{ ID string } }
	require.Empty(t, f.exec(t, ada, `{ myPosts { id } }`, nil, &mine))
	assert.Len(t, mine.MyPosts, 2)

	vars := map[string]interface{}{"id": draft}
	q := `query($id: ID!) { post(id: $id) { title author { name } } }`
	var own struct {
		Post struct {
			Title  string
			Author struct{ Name string }
		}
	}
	require.Empty(t, f.exec(t, ada, q, vars, &own))
	assert.Equal(t, "Draft", own.Post.Title)
	assert.Equal(t, "Ada", own.Post.Author.Name)

	assert.Equal(t, []string{ErrPostNotFound.Error()}, f.exec(t, grace, q, vars, nil))
	assert.Equal(t, []string{ErrPostNotFound.Error()}, f.exec(t, "", q, vars, nil))

	var author struct {
		Users []struct {
			Name  string
			Posts []struct{ ID string }
		}
	}
	require.Empty(t, f.exec(t, "", `{ users(query: "ada") { name posts { id } } }`, nil, &author))
	require.Len(t, author.Users, 1)
	assert.Len(t, author.Users[0].Posts, 1, "drafts are not listed on the profile")
}

func TestPostOwnership(t *testing.T) {
	f := newFixture(t)
	ada, _ := f.signUp(t, "Ada", "ada@example.com")
	grace, _ := f.signUp(t, "Grace", "grace@example.com")
	post := f.createPost(t, ada, "Mine", true)
	vars := map[string]interface{}{"id": post}

	errs := f.exec(t, grace, `mutation($id: ID!) { updatePost(id: $id, data: {title: "Stolen"}) { id } }`, vars, nil)
	assert.Equal(t, []string{ErrPostNotFound.Error()}, errs)

	errs = f.exec(t, grace, `mutation($id: ID!) { deletePost(id: $id) { id } }`, vars, nil)
	assert.Equal(t, []string{ErrPostNotFound.Error()}, errs)

	var out struct{ UpdatePost struct{ Title string } }
	require.Empty(t, f.exec(t, ada, `mutation($id: ID!) { updatePost(id: $id, data: {title: "Renamed"}) { title } }`, vars, &out))
	assert.Equal(t, "Renamed", out.UpdatePost.Title)

	require.Empty(t, f.exec(t, ada, `mutation($id: ID!) { deletePost(id: $id) { id } }`, vars, nil))
	_, err := f.orm.PostByID(context.Background(), post)
	assert.ErrorIs(t, err, orm.ErrNotFound)
}

func TestUnpublishRemovesComments(t *testing.T) {
	f := newFixture(t)
	ada, _ := f.signUp(t, "Ada", "ada@example.com")
	post := f.createPost(t, ada, "Soon gone", true)
	f.createComment(t, ada, post, "first")

	require.Empty(t, f.exec(t, ada, `mutation($id: ID!) { updatePost(id: $id, data: {published: false}) { id } }`,
		map[string]interface{}{"id": post}, nil))

	comments, err := f.orm.ListComments(context.Background(), orm.CommentFilter{PostID: &post})
	require.NoError(t, err)
	assert.Empty(t, comments)
}

func TestCascadedDeletesArePublished(t *testing.T) {
	f := newFixture(t)
	ada, _ := f.signUp(t, "Ada", "ada@example.com")
	grace, _ := f.signUp(t, "Grace", "grace@example.com")

	adaPost := f.createPost(t, ada, "Ada's post", true)
	gracePost := f.createPost(t, grace, "Grace's post", true)
	f.createComment(t, grace, adaPost, "grace on ada's post")
	f.createComment(t, ada, gracePost, "ada on grace's post")

	commentQuery := `subscription($id: ID!) { comment(postId: $id) { mutation node { text } } }`
	subscribeComments := func(postID string) <-chan interface{} {
		ctx, cancel := context.WithCancel(context.Background())
		t.Cleanup(cancel)
		ch, err := f.schema.Subscribe(f.context(t, ctx, ""), commentQuery, "", map[string]interface{}{"id": postID})
		require.NoError(t, err)
		return ch
	}

	t.Run("unpublish", func(t *testing.T) {
		post := f.createPost(t, grace, "Short lived", true)
		f.createComment(t, ada, post, "gone soon")
		onPost := subscribeComments(post)

		require.Empty(t, f.exec(t, grace, `mutation($id: ID!) { updatePost(id: $id, data: {published: false}) { id } }`,
			map[string]interface{}{"id": post}, nil))
		assert.JSONEq(t, `{"comment":{"mutation":"DELETED","node":{"text":"gone soon"}}}`, next(t, onPost))
	})

	t.Run("delete user", func(t *testing.T) {
		onAda := subscribeComments(adaPost)
		onGrace := subscribeComments(gracePost)
		feed := f.subscribe(t, "", `subscription { postFeed { mutation node { title } } }`)

		require.Empty(t, f.exec(t, ada, `mutation { deleteUser { id } }`, nil, nil))

		assert.JSONEq(t, `{"comment":{"mutation":"DELETED","node":{"text":"ada on grace's post"}}}`, next(t, onGrace))
		assert.JSONEq(t, `{"comment":{"mutation":"DELETED","node":{"text":"grace on ada's post"}}}`, next(t, onAda))
		assert.JSONEq(t, `{"postFeed":{"mutation":"DELETED","node":{"title":"Ada's post"}}}`, next(t, feed))
	})
}

func TestComments(t *testing.T) {
	f := newFixture(t)
	ada, _ := f.signUp(t, "Ada", "ada@example.com")
	grace, _ := f.signUp(t, "Grace", "grace@example.com")
	post := f.createPost(t, ada, "Open", true)
	draft := f.createPost(t, ada, "Closed", false)

	errs := f.exec(t, grace, `mutation($data: CreateCommentInput!) { createComment(data: $data) { id } }`,
		map[string]interface{}{"data": map[string]interface{}{"text": "hi", "post": draft}}, nil)
	assert.Equal(t, []string{ErrPostNotFound.Error()}, errs)

	comment := f.createComment(t, grace, post, "hello")
	vars := map[string]interface{}{"id": comment}

	errs = f.exec(t, ada, `mutation($id: ID!) { updateComment(id: $id, data: {text: "edited"}) { id } }`, vars, nil)
	assert.Equal(t, []string{ErrCommentNotFound.Error()}, errs)

	var updated struct {
		UpdateComment struct {
			Text   string
			Author struct{ Name string }
			Post   struct{ Title string }
		}
	}
	require.Empty(t, f.exec(t, grace, `mutation($id: ID!) { updateComment(id: $id, data: {text: "edited"}) { text author { name } post { title } } }`, vars, &updated))
	assert.Equal(t, "edited", updated.UpdateComment.Text)
	assert.Equal(t, "Grace", updated.UpdateComment.Author.Name)
	assert.Equal(t, "Open", updated.UpdateComment.Post.Title)

	var list struct{ Comments []struct{ Text string } }
	require.Empty(t, f.exec(t, "", `{ comments(first: 10) { text } }`, nil, &list))
	require.Len(t, list.Comments, 1)

	require.Empty(t, f.exec(t, grace, `mutation($id: ID!) { deleteComment(id: $id) { id } }`, vars, nil))
	require.Empty(t, f.exec(t, "", `{ comments { text } }`, nil, &list))
	assert.Empty(t, list.Comments)
}

// =============================================================================
// SUBSCRIPTIONS
// =============================================================================

func TestPostFeedSubscription(t *testing.T) {
	f := newFixture(t)
	ada, _ := f.signUp(t, "Ada", "ada@example.com")
	feed := f.subscribe(t, "", `subscription { postFeed { mutation node { title } } }`)

	f.createPost(t, ada, "Draft", false)
	post := f.createPost(t, ada, "Live", true)
	assert.JSONEq(t, `{"postFeed":{"mutation":"CREATED","node":{"title":"Live"}}}`, next(t, feed))

	require.Empty(t, f.exec(t, ada, `mutation($id: ID!) { updatePost(id: $id, data: {published: false}) { id } }`,
		map[string]interface{}{"id": post}, nil))
	assert.JSONEq(t, `{"postFeed":{"mutation":"DELETED","node":{"title":"Live"}}}`, next(t, feed))
}

func TestMyPostSubscription(t *testing.T) {
	f := newFixture(t)
	ada, _ := f.signUp(t, "Ada", "ada@example.com")
	grace, _ := f.signUp(t, "Grace", "grace@example.com")
	mine := f.subscribe(t, ada, `subscription { myPost { mutation node { title published } } }`)

	f.createPost(t, grace, "Not mine", true)
	draft := f.createPost(t, ada, "Mine", false)
	assert.JSONEq(t, `{"myPost":{"mutation":"CREATED","node":{"title":"Mine","published":false}}}`, next(t, mine))

	require.Empty(t, f.exec(t, ada, `mutation($id: ID!) { deletePost(id: $id) { id } }`, map[string]interface{}{"id": draft}, nil))
	assert.JSONEq(t, `{"myPost":{"mutation":"DELETED","node":{"title":"Mine","published":false}}}`, next(t, mine))
}

func TestCommentSubscription(t *testing.T) {
	f := newFixture(t)
	ada, _ := f.signUp(t, "Ada", "ada@example.com")
	post := f.createPost(t, ada, "Open", true)
	other := f.createPost(t, ada, "Other", true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := f.schema.Subscribe(f.context(t, ctx, ""),
		`subscription($id: ID!) { comment(postId: $id) { mutation node { text author { name } } } }`, "",
		map[string]interface{}{"id": post})
	require.NoError(t, err)

	f.createComment(t, ada, other, "elsewhere")
	f.createComment(t, ada, post, "here")
	assert.JSONEq(t, `{"comment":{"mutation":"CREATED","node":{"text":"here","author":{"name":"Ada"}}}}`, next(t, ch))

	cancel()
	select {
	case _, ok := <-ch:
		if ok {
			for range ch {
			}
		}
	case <-time.After(2 * time.Second):
		t.Fatal("subscription did not end after cancel")
	}
}

func TestSubscriptionErrors(t *testing.T) {
	f := newFixture(t)
	ada, _ := f.signUp(t, "Ada", "ada@example.com")
	draft := f.createPost(t, ada, "Closed", false)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := f.schema.Subscribe(f.context(t, ctx, ""), `subscription { myPost { mutation } }`, "", nil)
	require.NoError(t, err)
	resp := (<-ch).(*graphql.Response)
	require.Len(t, resp.Errors, 1)
	assert.Equal(t, auth.ErrUnauthenticated.Error(), resp.Errors[0].Message)

	ch, err = f.schema.Subscribe(f.context(t, ctx, ""), `subscription($id: ID!) { comment(postId: $id) { mutation } }`, "",
		map[string]interface{}{"id": draft})
	require.NoError(t, err)
	resp = (<-ch).(*graphql.Response)
	require.Len(t, resp.Errors, 1)
	assert.Equal(t, ErrPostNotFound.Error(), resp.Errors[0].Message)
}
