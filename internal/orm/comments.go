package orm

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const commentColumns = `id, text, author_id, post_id, created_at, updated_at`

func scanComment(row rowScanner) (*Comment, error) {
	var cm Comment
	if err := row.Scan(&cm.ID, &cm.Text, &cm.AuthorID, &cm.PostID, &cm.CreatedAt, &cm.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &cm, nil
}

// CreateComment inserts a comment.
func (c *Client) CreateComment(ctx context.Context, in CommentCreate) (*Comment, error) {
	now := c.now()
	cm := &Comment{
		ID:        newID(),
		Text:      in.Text,
		AuthorID:  in.AuthorID,
		PostID:    in.PostID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := c.exec(ctx, `
		INSERT INTO comments (id, text, author_id, post_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, cm.ID, cm.Text, cm.AuthorID, cm.PostID, cm.CreatedAt, cm.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create comment: %w", err)
	}
	return cm, nil
}

// CommentByID retrieves a comment by ID.
func (c *Client) CommentByID(ctx context.Context, id string) (*Comment, error) {
	cm, err := scanComment(c.queryRow(ctx, `SELECT `+commentColumns+` FROM comments WHERE id = ?`, id))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("failed to get comment: %w", err)
	}
	return cm, err
}

// ListComments retrieves comments ordered by creation time.
func (c *Client) ListComments(ctx context.Context, f CommentFilter) ([]*Comment, error) {
	var w where
	if f.PostID != nil {
		w.add("post_id = ?", *f.PostID)
	}
	if f.AuthorID != nil {
		w.add("author_id = ?", *f.AuthorID)
	}

	args := append(w.args, f.limit(), f.offset())
	rows, err := c.query(ctx, `SELECT `+commentColumns+` FROM comments`+w.String()+
		` ORDER BY created_at ASC, id ASC LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list comments: %w", err)
	}
	defer rows.Close()

	var comments []*Comment
	for rows.Next() {
		cm, err := scanComment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan comment: %w", err)
		}
		comments = append(comments, cm)
	}
	return comments, rows.Err()
}

// UpdateComment changes the text of a comment.
func (c *Client) UpdateComment(ctx context.Context, id string, text *string) (*Comment, error) {
	if text == nil {
		return c.CommentByID(ctx, id)
	}
	res, err := c.exec(ctx, `UPDATE comments SET text = ?, updated_at = ? WHERE id = ?`, *text, c.now(), id)
	if err != nil {
		return nil, fmt.Errorf("failed to update comment: %w", err)
	}
	if err := requireAffected(res); err != nil {
		return nil, err
	}
	return c.CommentByID(ctx, id)
}

// DeleteComment removes a comment.
func (c *Client) DeleteComment(ctx context.Context, id string) error {
	res, err := c.exec(ctx, `DELETE FROM comments WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete comment: %w", err)
	}
	return requireAffected(res)
}

// DeleteCommentsByAuthor removes every comment written by authorID and
// returns the removed rows.
func (c *Client) DeleteCommentsByAuthor(ctx context.Context, authorID string) ([]*Comment, error) {
	return c.deleteComments(ctx, `author_id = ?`, authorID)
}

// DeleteCommentsByPost removes every comment on postID and returns the removed rows.
func (c *Client) DeleteCommentsByPost(ctx context.Context, postID string) ([]*Comment, error) {
	return c.deleteComments(ctx, `post_id = ?`, postID)
}

// deleteComments selects then deletes the comments matching cond. Run it
// inside a transaction (see WithTx) so both statements see the same rows.
func (c *Client) deleteComments(ctx context.Context, cond string, args ...any) ([]*Comment, error) {
	rows, err := c.query(ctx, `SELECT `+commentColumns+` FROM comments WHERE `+cond+
		` ORDER BY created_at ASC, id ASC`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select comments for delete: %w", err)
	}
	var comments []*Comment
	for rows.Next() {
		cm, err := scanComment(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan comment: %w", err)
		}
		comments = append(comments, cm)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if _, err := c.exec(ctx, `DELETE FROM comments WHERE `+cond, args...); err != nil {
		return nil, fmt.Errorf("failed to delete comments: %w", err)
	}
	return comments, nil
}
