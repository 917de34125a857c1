package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore persists sessions in Postgres via pgx.
type PGStore struct {
	pool *pgxpool.Pool
}

const sessionSchema = `
CREATE TABLE IF NOT EXISTS sessions (
	id         UUID PRIMARY KEY,
	name       TEXT NOT NULL,
	teams      TEXT[] NOT NULL DEFAULT '{}',
	status     TEXT NOT NULL,
	start_time TIMESTAMPTZ NOT NULL,
	end_time   TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status);
`

// NewPGStore creates the store and ensures its schema exists.
func NewPGStore(ctx context.Context, pool *pgxpool.Pool) (*PGStore, error) {
	if _, err := pool.Exec(ctx, sessionSchema); err != nil {
		return nil, fmt.Errorf("failed to initialize session schema: %w", err)
	}
	return &PGStore{pool: pool}, nil
}

func (p *PGStore) SaveSession(ctx context.Context, s *Session) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO sessions (id, name, teams, status, start_time, end_time)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name,
		    teams = EXCLUDED.teams,
		    status = EXCLUDED.status,
		    start_time = EXCLUDED.start_time,
		    end_time = EXCLUDED.end_time`,
		s.ID, s.Name, s.Teams, string(s.Status), s.StartTime, s.EndTime,
	)
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

func (p *PGStore) LoadCurrent(ctx context.Context) (*Session, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT id, name, teams, status, start_time, end_time
		FROM sessions
		WHERE status IN ('active', 'paused')
		ORDER BY start_time DESC
		LIMIT 1`)

	var s Session
	var status string
	err := row.Scan(&s.ID, &s.Name, &s.Teams, &status, &s.StartTime, &s.EndTime)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load current session: %w", err)
	}
	s.Status = Status(status)
	return &s, nil
}
