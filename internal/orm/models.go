// Package orm provides the typed data-access client used by resolvers.
package orm

import (
	"time"
)

// =============================================================================
// MODELS
// =============================================================================

// User represents an account.
type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Password  string    `json:"-"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Post represents a blog post.
type Post struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Published bool      `json:"published"`
	AuthorID  string    `json:"authorId"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Comment represents a comment on a post.
type Comment struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	AuthorID  string    `json:"authorId"`
	PostID    string    `json:"postId"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// =============================================================================
// INPUTS
// =============================================================================

// UserCreate holds the fields of a new user. Password must already be hashed.
type UserCreate struct {
	Name     string
	Email    string
	Password string
}

// UserUpdate holds optional changes to a user.
type UserUpdate struct {
	Name     *string
	Email    *string
	Password *string
}

// UserFilter narrows ListUsers.
type UserFilter struct {
	// Query matches name or email, case-insensitively.
	Query *string
	Page
}

// PostCreate holds the fields of a new post.
type PostCreate struct {
	Title     string
	Body      string
	Published bool
	AuthorID  string
}

// PostUpdate holds optional changes to a post.
type PostUpdate struct {
	Title     *string
	Body      *string
	Published *bool
}

// PostFilter narrows ListPosts.
type PostFilter struct {
	// Query matches title or body, case-insensitively.
	Query     *string
	AuthorID  *string
	Published *bool
	Page
}

// CommentCreate holds the fields of a new comment.
type CommentCreate struct {
	Text     string
	AuthorID string
	PostID   string
}

// CommentFilter narrows ListComments.
type CommentFilter struct {
	PostID   *string
	AuthorID *string
	Page
}

// Page limits a list query. Zero First means DefaultPageSize.
type Page struct {
	First int
	Skip  int
}

// DefaultPageSize is both the default and the maximum page size.
const DefaultPageSize = 100

func (p Page) limit() int {
	if p.First <= 0 || p.First > DefaultPageSize {
		return DefaultPageSize
	}
	return p.First
}

func (p Page) offset() int {
	if p.Skip < 0 {
		return 0
	}
	return p.Skip
}
