package orm

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

const userColumns = `id, name, email, password, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*User, error) {
	var u User
	if err := row.Scan(&u.ID, &u.Name, &u.Email, &u.Password, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// CreateUser inserts a user. Emails are stored lower-cased and must be unique.
func (c *Client) CreateUser(ctx context.Context, in UserCreate) (*User, error) {
	email := normalizeEmail(in.Email)
	if err := c.ensureEmailFree(ctx, email, ""); err != nil {
		return nil, err
	}

	now := c.now()
	u := &User{
		ID:        newID(),
		Name:      in.Name,
		Email:     email,
		Password:  in.Password,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := c.exec(ctx, `
		INSERT INTO users (id, name, email, password, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, u.ID, u.Name, u.Email, u.Password, u.CreatedAt, u.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return u, nil
}

func (c *Client) ensureEmailFree(ctx context.Context, email, exceptID string) error {
	existing, err := c.UserByEmail(ctx, email)
	switch {
	case errors.Is(err, ErrNotFound):
		return nil
	case err != nil:
		return err
	case existing.ID != exceptID:
		return ErrEmailTaken
	}
	return nil
}

// UserByID retrieves a user by ID.
func (c *Client) UserByID(ctx context.Context, id string) (*User, error) {
	u, err := scanUser(c.queryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return u, err
}

// UserByEmail retrieves a user by email.
func (c *Client) UserByEmail(ctx context.Context, email string) (*User, error) {
	u, err := scanUser(c.queryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`, normalizeEmail(email)))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("failed to get user by email: %w", err)
	}
	return u, err
}

// ListUsers retrieves users ordered by creation time.
func (c *Client) ListUsers(ctx context.Context, f UserFilter) ([]*User, error) {
	var w where
	if f.Query != nil && *f.Query != "" {
		p := likePattern(*f.Query)
		w.add("(LOWER(name) LIKE ? OR LOWER(email) LIKE ?)", p, p)
	}

	args := append(w.args, f.limit(), f.offset())
	rows, err := c.query(ctx, `SELECT `+userColumns+` FROM users`+w.String()+
		` ORDER BY created_at ASC, id ASC LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// UpdateUser applies the non-nil fields of in and returns the updated user.
func (c *Client) UpdateUser(ctx context.Context, id string, in UserUpdate) (*User, error) {
	var s setter
	if in.Name != nil {
		s.set("name", *in.Name)
	}
	if in.Email != nil {
		email := normalizeEmail(*in.Email)
		if err := c.ensureEmailFree(ctx, email, id); err != nil {
			return nil, err
		}
		s.set("email", email)
	}
	if in.Password != nil {
		s.set("password", *in.Password)
	}
	if s.empty() {
		return c.UserByID(ctx, id)
	}
	s.set("updated_at", c.now())

	res, err := c.exec(ctx, `UPDATE users SET `+s.String()+` WHERE id = ?`, append(s.args, id)...)
	if err != nil {
		return nil, fmt.Errorf("failed to update user: %w", err)
	}
	if err := requireAffected(res); err != nil {
		return nil, err
	}
	return c.UserByID(ctx, id)
}

// DeleteUser removes a user row. Callers remove the user's posts and
// comments first, inside the same transaction.
func (c *Client) DeleteUser(ctx context.Context, id string) error {
	res, err := c.exec(ctx, `DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	return requireAffected(res)
}
