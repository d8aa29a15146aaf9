// Package postgres is the PostgreSQL-backed implementation of the
// storage.UserRepo and storage.TaskRepo contracts.
//
// Grounded on the teacher's pkg/memory/postgres/store.go (pool setup,
// AfterConnect hook, ping-then-migrate sequencing) and
// internal/agent/npcstore/postgres.go (the DB interface seam that lets
// *pgxpool.Pool and *pgx.Conn both satisfy it, the JSONB-marshal/RETURNING
// idiom, and the pgx.ErrNoRows -> (nil, nil) convention for Get-style
// lookups). The users/tasks schema and repository surface itself is new —
// this domain has no teacher equivalent — but every persistence idiom below
// is reused verbatim from one of those two files.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/corevox/corevox/internal/resilience"
	"github.com/corevox/corevox/internal/storage"
)

// Schema is the SQL DDL for the users and tasks tables.
const Schema = `
CREATE TABLE IF NOT EXISTS users (
    id           TEXT PRIMARY KEY,
    phone_number TEXT NOT NULL UNIQUE,
    full_name    TEXT NOT NULL DEFAULT '',
    created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS tasks (
    id          TEXT PRIMARY KEY,
    user_id     TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    description TEXT NOT NULL,
    priority    INTEGER NOT NULL DEFAULT 3,
    status      TEXT NOT NULL DEFAULT 'OPEN',
    due_date    TIMESTAMPTZ,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_tasks_user ON tasks(user_id);
CREATE INDEX IF NOT EXISTS idx_tasks_user_status ON tasks(user_id, status);
`

// DB is the database interface used by the repositories. Both
// *pgxpool.Pool and *pgx.Conn satisfy it.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// NewPool creates a pgxpool.Pool for dsn, pings it, and runs Migrate. The
// caller is responsible for calling pool.Close().
func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: migrate: %w", err)
	}

	return pool, nil
}

// Migrate executes the Schema DDL, creating the users and tasks tables and
// their indexes if they do not already exist.
func Migrate(ctx context.Context, db DB) error {
	if _, err := db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	return nil
}

// breakerGuard wraps a DB call with a circuit breaker so a flapping
// database does not pile up blocked tool calls behind every active call's
// orchestrator loop. Shared across both repos for one pool.
type breakerGuard struct {
	name string
	cb   *resilience.CircuitBreaker
}

func newBreakerGuard(name string) *breakerGuard {
	return &breakerGuard{
		name: name,
		cb: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:         name,
			MaxFailures:  5,
			ResetTimeout: 30 * time.Second,
		}),
	}
}

func (g *breakerGuard) run(fn func() error) error {
	err := g.cb.Execute(fn)
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return fmt.Errorf("postgres: %s: %w", g.name, err)
	}
	return err
}

func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

// likePattern builds a case-insensitive substring pattern for the ILIKE
// operator, escaping the wildcard characters in the user-supplied substring.
func likePattern(substring string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(substring) + "%"
}
