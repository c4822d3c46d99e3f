package ratelimit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	// PostgreSQL driver for the durable cross-process backend.
	_ "github.com/lib/pq"

	"github.com/stride-run/stride/pkg/persistence/sqlbase"
)

// SQLLimiter is the durable cross-process backend. The read-modify-write of
// a window counter happens inside one INSERT ... ON CONFLICT statement, so
// two acquirers racing on the same key can never both read count=9 against
// limit=10 and both be allowed: increments serialize on the row.
type SQLLimiter struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE rate_limits (
				key VARCHAR(255) PRIMARY KEY,
				window_start TIMESTAMP WITH TIME ZONE NOT NULL,
				count INTEGER NOT NULL CHECK (count >= 0),
				"limit" INTEGER NOT NULL,
				window_seconds INTEGER NOT NULL
			);

			CREATE INDEX idx_rate_limits_window_start ON rate_limits(window_start);
		`,
	}
}

// NewSQLLimiter connects to the shared PostgreSQL store and runs its
// migrations.
func NewSQLLimiter(ctx context.Context, logger *slog.Logger, databaseURL string) (*SQLLimiter, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to rate limit database: %w", err)
	}

	err = database.PingContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to ping rate limit database: %w", err)
	}

	limiter := NewSQLLimiterWithDB(database, logger)

	migrationManager := sqlbase.NewMigrationManager(logger, database, "rate_limit_schema_migrations", migrations())

	err = migrationManager.RunMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to run rate limit migrations: %w", err)
	}

	return limiter, nil
}

// NewSQLLimiterWithDB wraps an existing connection pool; the caller is
// responsible for the schema.
func NewSQLLimiterWithDB(db *sql.DB, logger *slog.Logger) *SQLLimiter {
	return &SQLLimiter{
		db:     db,
		logger: logger.With("module", "sql_rate_limiter"),
		now:    time.Now,
	}
}

// acquireSQL rolls an expired window to (count=1, window_start=now) or
// increments the current one, atomically, and returns the resulting state.
const acquireSQL = `
	INSERT INTO rate_limits (key, window_start, count, "limit", window_seconds)
	VALUES ($1, $2, 1, $3, $4)
	ON CONFLICT (key) DO UPDATE SET
		count = CASE
			WHEN rate_limits.window_start + make_interval(secs => rate_limits.window_seconds) <= EXCLUDED.window_start
			THEN 1
			ELSE rate_limits.count + 1
		END,
		window_start = CASE
			WHEN rate_limits.window_start + make_interval(secs => rate_limits.window_seconds) <= EXCLUDED.window_start
			THEN EXCLUDED.window_start
			ELSE rate_limits.window_start
		END,
		"limit" = EXCLUDED."limit",
		window_seconds = EXCLUDED.window_seconds
	RETURNING count, window_start
`

func (l *SQLLimiter) Acquire(ctx context.Context, key string, limit int, window time.Duration) (Result, error) {
	now := l.now().UTC()
	windowSeconds := int(window / time.Second)

	var (
		count       int
		windowStart time.Time
	)

	err := l.db.QueryRowContext(ctx, acquireSQL, key, now, limit, windowSeconds).Scan(&count, &windowStart)
	if err != nil {
		return Result{}, fmt.Errorf("failed to acquire slot for key %q: %w: %w", key, ErrStoreUnavailable, err)
	}

	return resultFor(count, limit, windowStart, window, now), nil
}

func (l *SQLLimiter) Current(ctx context.Context, key string) (int, error) {
	var (
		count         int
		windowStart   time.Time
		windowSeconds int
	)

	query := `SELECT count, window_start, window_seconds FROM rate_limits WHERE key = $1`

	err := l.db.QueryRowContext(ctx, query, key).Scan(&count, &windowStart, &windowSeconds)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}

	if err != nil {
		return 0, fmt.Errorf("failed to read count for key %q: %w: %w", key, ErrStoreUnavailable, err)
	}

	window := time.Duration(windowSeconds) * time.Second
	if !l.now().UTC().Before(windowStart.Add(window)) {
		return 0, nil
	}

	return count, nil
}

func (l *SQLLimiter) Reset(ctx context.Context, key string) error {
	_, err := l.db.ExecContext(ctx, `DELETE FROM rate_limits WHERE key = $1`, key)
	if err != nil {
		return fmt.Errorf("failed to reset key %q: %w: %w", key, ErrStoreUnavailable, err)
	}

	return nil
}

func (l *SQLLimiter) CleanupExpired(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := l.now().UTC().Add(-olderThan)

	result, err := l.db.ExecContext(ctx, `DELETE FROM rate_limits WHERE window_start < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup expired records: %w: %w", ErrStoreUnavailable, err)
	}

	removed, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count removed records: %w: %w", ErrStoreUnavailable, err)
	}

	return int(removed), nil
}

// Close closes the underlying connection pool.
func (l *SQLLimiter) Close() error {
	return l.db.Close()
}
