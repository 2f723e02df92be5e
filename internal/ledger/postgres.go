package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresClient meters usage directly against a PostgreSQL credit table.
// Meant for self-hosted deployments that run their own ledger database.
type PostgresClient struct {
	pool *pgxpool.Pool
}

func NewPostgresClient(ctx context.Context, databaseURL string) (*PostgresClient, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresClient{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS usage_accounts (
			user_id TEXT PRIMARY KEY,
			credits_remaining DOUBLE PRECISION NOT NULL DEFAULT 0
		);`,
		`CREATE TABLE IF NOT EXISTS usage_sessions (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			source_lang TEXT NOT NULL,
			target_lang TEXT NOT NULL,
			started_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			ended_at TIMESTAMPTZ,
			elapsed_seconds DOUBLE PRECISION NOT NULL DEFAULT 0
		);`,
		`CREATE INDEX IF NOT EXISTS idx_usage_sessions_user_started ON usage_sessions (user_id, started_at);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (c *PostgresClient) StartSession(ctx context.Context, userID, sourceLang, targetLang string) (string, error) {
	id := uuid.NewString()
	_, err := c.pool.Exec(ctx,
		`INSERT INTO usage_sessions (id, user_id, source_lang, target_lang, started_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		id, userID, sourceLang, targetLang, time.Now().UTC(),
	)
	if err != nil {
		return "", fmt.Errorf("start session: %w", err)
	}
	return id, nil
}

// Heartbeat records the cumulative streamed time and debits the delta
// since the previous report from the account balance.
func (c *PostgresClient) Heartbeat(ctx context.Context, sessionID string, elapsed time.Duration) (HeartbeatResult, error) {
	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return HeartbeatResult{}, fmt.Errorf("heartbeat: %w", err)
	}
	defer tx.Rollback(ctx)

	var userID string
	var prev float64
	err = tx.QueryRow(ctx,
		`SELECT user_id, elapsed_seconds FROM usage_sessions WHERE id=$1 AND ended_at IS NULL`,
		sessionID,
	).Scan(&userID, &prev)
	if errors.Is(err, pgx.ErrNoRows) {
		return HeartbeatResult{}, ErrSessionNotFound
	}
	if err != nil {
		return HeartbeatResult{}, fmt.Errorf("heartbeat: %w", err)
	}

	total := elapsed.Seconds()
	delta := total - prev
	if delta < 0 {
		delta = 0
	}

	if _, err := tx.Exec(ctx,
		`UPDATE usage_sessions SET elapsed_seconds=$2 WHERE id=$1`,
		sessionID, total,
	); err != nil {
		return HeartbeatResult{}, fmt.Errorf("heartbeat: %w", err)
	}

	var remaining float64
	err = tx.QueryRow(ctx,
		`UPDATE usage_accounts SET credits_remaining = credits_remaining - $2
		 WHERE user_id=$1 RETURNING credits_remaining`,
		userID, delta,
	).Scan(&remaining)
	if errors.Is(err, pgx.ErrNoRows) {
		// Unknown account means no credit was ever granted.
		remaining = 0
	} else if err != nil {
		return HeartbeatResult{}, fmt.Errorf("heartbeat: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return HeartbeatResult{}, fmt.Errorf("heartbeat: %w", err)
	}
	return HeartbeatResult{CreditsRemaining: remaining}, nil
}

func (c *PostgresClient) EndSession(ctx context.Context, sessionID string, elapsed time.Duration) error {
	tag, err := c.pool.Exec(ctx,
		`UPDATE usage_sessions SET ended_at=now(), elapsed_seconds=$2
		 WHERE id=$1 AND ended_at IS NULL`,
		sessionID, elapsed.Seconds(),
	)
	if err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (c *PostgresClient) Close() error {
	c.pool.Close()
	return nil
}
