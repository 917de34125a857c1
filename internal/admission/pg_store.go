package admission

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore persists transactions in Postgres via pgx.
type PGStore struct {
	pool *pgxpool.Pool
}

const transactionSchema = `
CREATE TABLE IF NOT EXISTS transactions (
	id         UUID PRIMARY KEY,
	session_id UUID NOT NULL,
	token_id   TEXT NOT NULL,
	team_id    TEXT NOT NULL,
	device_id  TEXT NOT NULL DEFAULT '',
	mode       TEXT NOT NULL,
	status     TEXT NOT NULL,
	points     INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL,
	deleted    BOOLEAN NOT NULL DEFAULT FALSE
);
CREATE INDEX IF NOT EXISTS idx_transactions_session ON transactions(session_id) WHERE NOT deleted;
`

// NewPGStore creates the store and ensures its schema exists.
func NewPGStore(ctx context.Context, pool *pgxpool.Pool) (*PGStore, error) {
	if _, err := pool.Exec(ctx, transactionSchema); err != nil {
		return nil, fmt.Errorf("failed to initialize transaction schema: %w", err)
	}
	return &PGStore{pool: pool}, nil
}

func (p *PGStore) AppendTransaction(ctx context.Context, txn *Transaction) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO transactions (id, session_id, token_id, team_id, device_id, mode, status, points, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		txn.ID, txn.SessionID, txn.TokenID, txn.TeamID, txn.DeviceID,
		string(txn.Mode), string(txn.Status), txn.Points, txn.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to append transaction: %w", err)
	}
	return nil
}

func (p *PGStore) MarkDeleted(ctx context.Context, id uuid.UUID) error {
	_, err := p.pool.Exec(ctx, `UPDATE transactions SET deleted = TRUE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to tombstone transaction: %w", err)
	}
	return nil
}

func (p *PGStore) LoadSession(ctx context.Context, sessionID uuid.UUID) ([]*Transaction, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, session_id, token_id, team_id, device_id, mode, status, points, created_at
		FROM transactions
		WHERE session_id = $1 AND NOT deleted
		ORDER BY created_at, id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load transactions: %w", err)
	}
	defer rows.Close()

	var out []*Transaction
	for rows.Next() {
		var txn Transaction
		var mode, status string
		if err := rows.Scan(&txn.ID, &txn.SessionID, &txn.TokenID, &txn.TeamID, &txn.DeviceID,
			&mode, &status, &txn.Points, &txn.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		txn.Mode = Mode(mode)
		txn.Status = Status(status)
		out = append(out, &txn)
	}
	return out, rows.Err()
}

func (p *PGStore) Clear(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, `DELETE FROM transactions`); err != nil {
		return fmt.Errorf("failed to clear transactions: %w", err)
	}
	return nil
}
