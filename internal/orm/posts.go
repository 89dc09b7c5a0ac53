package orm

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const postColumns = `id, title, body, published, author_id, created_at, updated_at`

func scanPost(row rowScanner) (*Post, error) {
	var p Post
	if err := row.Scan(&p.ID, &p.Title, &p.Body, &p.Published, &p.AuthorID, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

// CreatePost inserts a post.
func (c *Client) CreatePost(ctx context.Context, in PostCreate) (*Post, error) {
	now := c.now()
	p := &Post{
		ID:        newID(),
		Title:     in.Title,
		Body:      in.Body,
		Published: in.Published,
		AuthorID:  in.AuthorID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := c.exec(ctx, `
		INSERT INTO posts (id, title, body, published, author_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, p.ID, p.Title, p.Body, p.Published, p.AuthorID, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create post: %w", err)
	}
	return p, nil
}

// PostByID retrieves a post by ID.
func (c *Client) PostByID(ctx context.Context, id string) (*Post, error) {
	p, err := scanPost(c.queryRow(ctx, `SELECT `+postColumns+` FROM posts WHERE id = ?`, id))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("failed to get post: %w", err)
	}
	return p, err
}

// ListPosts retrieves posts ordered by creation time.
func (c *Client) ListPosts(ctx context.Context, f PostFilter) ([]*Post, error) {
	var w where
	if f.Query != nil && *f.Query != "" {
		p := likePattern(*f.Query)
		w.add("(LOWER(title) LIKE ? OR LOWER(body) LIKE ?)", p, p)
	}
	if f.AuthorID != nil {
		w.add("author_id = ?", *f.AuthorID)
	}
	if f.Published != nil {
		w.add("published = ?", *f.Published)
	}

	args := append(w.args, f.limit(), f.offset())
	rows, err := c.query(ctx, `SELECT `+postColumns+` FROM posts`+w.String()+
		` ORDER BY created_at ASC, id ASC LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list posts: %w", err)
	}
	defer rows.Close()

	var posts []*Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan post: %w", err)
		}
		posts = append(posts, p)
	}
	return posts, rows.Err()
}

// UpdatePost applies the non-nil fields of in and returns the updated post.
func (c *Client) UpdatePost(ctx context.Context, id string, in PostUpdate) (*Post, error) {
	var s setter
	if in.Title != nil {
		s.set("title", *in.Title)
	}
	if in.Body != nil {
		s.set("body", *in.Body)
	}
	if in.Published != nil {
		s.set("published", *in.Published)
	}
	if s.empty() {
		return c.PostByID(ctx, id)
	}
	s.set("updated_at", c.now())

	res, err := c.exec(ctx, `UPDATE posts SET `+s.String()+` WHERE id = ?`, append(s.args, id)...)
	if err != nil {
		return nil, fmt.Errorf("failed to update post: %w", err)
	}
	if err := requireAffected(res); err != nil {
		return nil, err
	}
	return c.PostByID(ctx, id)
}

// DeletePost removes a post and its comments, returning the removed comments.
// Run it inside a transaction (see WithTx) to make the deletes atomic.
func (c *Client) DeletePost(ctx context.Context, id string) ([]*Comment, error) {
	comments, err := c.DeleteCommentsByPost(ctx, id)
	if err != nil {
		return nil, err
	}
	res, err := c.exec(ctx, `DELETE FROM posts WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to delete post: %w", err)
	}
	if err := requireAffected(res); err != nil {
		return nil, err
	}
	return comments, nil
}

// DeletePostsByAuthor removes every post written by authorID with their
// comments, and returns both.
func (c *Client) DeletePostsByAuthor(ctx context.Context, authorID string) ([]*Post, []*Comment, error) {
	rows, err := c.query(ctx, `SELECT `+postColumns+` FROM posts WHERE author_id = ? ORDER BY created_at ASC, id ASC`, authorID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to select author posts: %w", err)
	}
	var posts []*Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			rows.Close()
			return nil, nil, fmt.Errorf("failed to scan post: %w", err)
		}
		posts = append(posts, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	comments, err := c.deleteComments(ctx, `post_id IN (SELECT id FROM posts WHERE author_id = ?)`, authorID)
	if err != nil {
		return nil, nil, err
	}
	if _, err := c.exec(ctx, `DELETE FROM posts WHERE author_id = ?`, authorID); err != nil {
		return nil, nil, fmt.Errorf("failed to delete author posts: %w", err)
	}
	return posts, comments, nil
}
