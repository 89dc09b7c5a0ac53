package orm

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nucleus/blog-api/internal/database"
)

// Errors
var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrEmailTaken is returned when an email is already registered.
	ErrEmailTaken = errors.New("email already in use")
)

// DBTX is the subset of *sql.DB and *sql.Tx the client needs.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Client is a typed data-access client. It is safe for concurrent use.
type Client struct {
	db      DBTX
	dialect database.Dialect
	now     func() time.Time
}

// New creates a client backed by the given database pool.
func New(db *database.Client) *Client {
	return &Client{
		db:      db.DB(),
		dialect: db.Dialect(),
		now:     defaultNow,
	}
}

// WithTx returns a client whose queries run inside tx.
func (c *Client) WithTx(tx *sql.Tx) *Client {
	return &Client{db: tx, dialect: c.dialect, now: c.now}
}

func defaultNow() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

func newID() string {
	return uuid.New().String()
}

func (c *Client) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return c.db.ExecContext(ctx, c.dialect.Rebind(query), args...)
}

func (c *Client) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return c.db.QueryContext(ctx, c.dialect.Rebind(query), args...)
}

func (c *Client) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return c.db.QueryRowContext(ctx, c.dialect.Rebind(query), args...)
}

// requireAffected maps a zero-row update or delete to ErrNotFound.
func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// where accumulates AND-ed conditions and their arguments.
type where struct {
	clauses []string
	args    []any
}

func (w *where) add(clause string, args ...any) {
	w.clauses = append(w.clauses, clause)
	w.args = append(w.args, args...)
}

func (w *where) String() string {
	if len(w.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.clauses, " AND ")
}

func likePattern(s string) string {
	return "%" + strings.ToLower(s) + "%"
}

// setter accumulates SET assignments for partial updates.
type setter struct {
	assignments []string
	args        []any
}

func (s *setter) set(column string, value any) {
	s.assignments = append(s.assignments, column+" = ?")
	s.args = append(s.args, value)
}

func (s *setter) empty() bool {
	return len(s.assignments) == 0
}

func (s *setter) String() string {
	return strings.Join(s.assignments, ", ")
}
