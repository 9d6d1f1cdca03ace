// Package history keeps an optional journal of login attempts in PostgreSQL.
package history

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

// Attempt is one journaled login attempt.
type Attempt struct {
	RunID       string
	Username    string
	Report      string
	Outcome     string
	AttemptedAt time.Time
}

// Recorder journals login attempts.
type Recorder interface {
	Record(ctx context.Context, a Attempt) error
}

// Nop discards every attempt. It is used when no database is configured.
type Nop struct{}

func (Nop) Record(context.Context, Attempt) error { return nil }

// DBPool is the subset of pgxpool.Pool the journal uses, so it can be mocked in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

const (
	sqlCreateTable = `
        CREATE TABLE IF NOT EXISTS login_attempts (
            id           BIGSERIAL PRIMARY KEY,
            run_id       TEXT NOT NULL,
            username     TEXT NOT NULL,
            report       TEXT NOT NULL,
            outcome      TEXT NOT NULL,
            attempted_at TIMESTAMPTZ NOT NULL
        );
    `
	sqlInsertAttempt = `
        INSERT INTO login_attempts (run_id, username, report, outcome, attempted_at)
        VALUES ($1, $2, $3, $4, $5);
    `
	sqlRecentAttempts = `
        SELECT run_id, username, report, outcome, attempted_at
        FROM login_attempts
        WHERE username = $1
        ORDER BY attempted_at DESC
        LIMIT $2;
    `
)

// Store is the PostgreSQL journal.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

var _ Recorder = (*Store)(nil)

// New verifies the connection and makes sure the table exists.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := pool.Exec(ctx, sqlCreateTable); err != nil {
		return nil, fmt.Errorf("failed to create login_attempts table: %w", err)
	}
	return &Store{pool: pool, log: logger.Named("history")}, nil
}

// Record inserts one attempt.
func (s *Store) Record(ctx context.Context, a Attempt) error {
	if a.AttemptedAt.IsZero() {
		a.AttemptedAt = time.Now().UTC()
	}
	if _, err := s.pool.Exec(ctx, sqlInsertAttempt, a.RunID, a.Username, a.Report, a.Outcome, a.AttemptedAt); err != nil {
		return fmt.Errorf("failed to record login attempt for %s: %w", a.Username, err)
	}
	s.log.Debug("Login attempt recorded.", zap.String("username", a.Username), zap.String("outcome", a.Outcome))
	return nil
}

// Recent returns the latest attempts of a user, newest first.
func (s *Store) Recent(ctx context.Context, username string, limit int) ([]Attempt, error) {
	rows, err := s.pool.Query(ctx, sqlRecentAttempts, username, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query login attempts: %w", err)
	}
	defer rows.Close()

	var attempts []Attempt
	for rows.Next() {
		var a Attempt
		if err := rows.Scan(&a.RunID, &a.Username, &a.Report, &a.Outcome, &a.AttemptedAt); err != nil {
			return nil, fmt.Errorf("failed to scan login attempt row: %w", err)
		}
		attempts = append(attempts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return attempts, nil
}
