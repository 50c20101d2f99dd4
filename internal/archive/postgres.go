package archive

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists session records in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS avatar_sessions (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			avatar_name TEXT NOT NULL,
			language TEXT NOT NULL DEFAULT '',
			started_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			ended_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			outcome TEXT NOT NULL,
			error TEXT NOT NULL DEFAULT '',
			user_turns INTEGER NOT NULL DEFAULT 0,
			avatar_turns INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE INDEX IF NOT EXISTS idx_avatar_sessions_ended ON avatar_sessions (ended_at DESC);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) Save(ctx context.Context, record Record) error {
	record = normalize(record)
	_, err := s.pool.Exec(ctx,
		`INSERT INTO avatar_sessions (id, session_id, avatar_name, language, started_at, ended_at, outcome, error, user_turns, avatar_turns)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		record.ID,
		record.SessionID,
		record.AvatarName,
		record.Language,
		record.StartedAt,
		record.EndedAt,
		record.Outcome,
		record.Error,
		record.UserTurns,
		record.AvatarTurns,
	)
	if err != nil {
		return fmt.Errorf("save archive record: %w", err)
	}
	return nil
}

func (s *PostgresStore) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, session_id, avatar_name, language, started_at, ended_at, outcome, error, user_turns, avatar_turns
		 FROM avatar_sessions ORDER BY ended_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query recent sessions: %w", err)
	}
	defer rows.Close()

	items := make([]Record, 0, limit)
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.ID, &r.SessionID, &r.AvatarName, &r.Language, &r.StartedAt, &r.EndedAt, &r.Outcome, &r.Error, &r.UserTurns, &r.AvatarTurns); err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		items = append(items, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate session rows: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
