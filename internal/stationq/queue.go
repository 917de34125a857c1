// Package stationq is the station-side offline scan queue. Scans made
// while disconnected are persisted locally and flushed to the server
// as a single batch; the queue is cleared only after the server's
// batch acknowledgement is observed, so an interrupted flush replays
// the same scans rather than losing them.
package stationq

import (
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/alnlive/tokensync/internal/admission"
)

// ErrStorage wraps local persistence failures.
var ErrStorage = errors.New("offline queue storage error")

// Queue is the durable pending-scan queue.
type Queue struct {
	db *sql.DB
}

// Open opens (or creates) the queue database and initializes the
// schema.
func Open(dbPath string) (*Queue, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open queue database: %w", err)
	}

	q := &Queue{db: db}
	if err := q.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize queue schema: %w", err)
	}
	return q, nil
}

// Close closes the database connection.
func (q *Queue) Close() error {
	return q.db.Close()
}

func (q *Queue) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS pending_scans (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		token_id TEXT NOT NULL,
		team_id TEXT NOT NULL,
		device_id TEXT NOT NULL,
		mode TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`
	_, err := q.db.Exec(schema)
	return err
}

// Append persists one scan. The scan is on disk before Append returns;
// a crash between scan and flush never loses it.
func (q *Queue) Append(req admission.SubmitRequest) error {
	_, err := q.db.Exec(
		`INSERT INTO pending_scans (token_id, team_id, device_id, mode) VALUES (?, ?, ?, ?)`,
		req.TokenID, req.TeamID, req.DeviceID, string(req.Mode),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return nil
}

// Pending returns all queued scans in insertion order.
func (q *Queue) Pending() ([]admission.SubmitRequest, error) {
	rows, err := q.db.Query(
		`SELECT token_id, team_id, device_id, mode FROM pending_scans ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	defer rows.Close()

	var out []admission.SubmitRequest
	for rows.Next() {
		var req admission.SubmitRequest
		var mode string
		if err := rows.Scan(&req.TokenID, &req.TeamID, &req.DeviceID, &mode); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStorage, err)
		}
		req.Mode = admission.Mode(mode)
		out = append(out, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return out, nil
}

// Len returns the number of queued scans.
func (q *Queue) Len() (int, error) {
	var n int
	if err := q.db.QueryRow(`SELECT COUNT(*) FROM pending_scans`).Scan(&n); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return n, nil
}

// Clear removes every queued scan. Called only after the server has
// acknowledged the batch.
func (q *Queue) Clear() error {
	if _, err := q.db.Exec(`DELETE FROM pending_scans`); err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return nil
}
