// Package admission validates and admits incoming scan submissions
// against session state and the global duplicate index, delegating to
// the scoring engine on acceptance.
package admission

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/alnlive/tokensync/internal/bus"
	"github.com/alnlive/tokensync/internal/scoring"
	"github.com/alnlive/tokensync/internal/session"
	"github.com/alnlive/tokensync/internal/tokens"
)

const (
	Source = "admission"

	EventTransactionNew     = "transaction:new"
	EventTransactionDeleted = "transaction:deleted"
	EventBatchAck           = "batch:ack"
)

var (
	// ErrNoActiveSession rejects submissions when no session is
	// accepting. Deliberately distinct from the duplicate outcome so
	// clients can tell the two apart.
	ErrNoActiveSession = errors.New("no active session")
	// ErrNotFound is returned by Delete for unknown transaction IDs.
	ErrNotFound = errors.New("transaction not found")
)

// recentLimit bounds the transaction list included in sync:full.
const recentLimit = 100

// Service is the transaction admission pipeline. A single mutex
// serializes submissions, which keeps the duplicate-index check
// race-free: two concurrent scans of the same token can never both be
// accepted.
type Service struct {
	sessions *session.Coordinator
	engine   *scoring.Engine
	catalog  *tokens.Catalog
	store    Store
	bus      *bus.Dispatcher
	clock    clockwork.Clock

	mu       sync.Mutex
	records  []*Transaction
	accepted map[string]uuid.UUID // tokenID -> accepting transaction, current records only
}

// NewService builds the admission service.
func NewService(sessions *session.Coordinator, engine *scoring.Engine, catalog *tokens.Catalog, store Store, d *bus.Dispatcher, clock clockwork.Clock) *Service {
	return &Service{
		sessions: sessions,
		engine:   engine,
		catalog:  catalog,
		store:    store,
		bus:      d,
		clock:    clock,
		accepted: make(map[string]uuid.UUID),
	}
}

// Restore reloads the current session's transactions from the store
// and replays accepted blackmarket scans into the scoring engine.
// Called once at startup, after session recovery.
func (s *Service) Restore(ctx context.Context) error {
	cur := s.sessions.Current()
	if cur == nil {
		return nil
	}

	stored, err := s.store.LoadSession(ctx, cur.ID)
	if err != nil {
		return fmt.Errorf("failed to restore transactions: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.engine.StartSession(cur.Teams)
	for _, txn := range stored {
		s.records = append(s.records, txn)
		if txn.Status != StatusAccepted {
			continue
		}
		s.accepted[txn.TokenID] = txn.ID
		if txn.Mode != ModeBlackmarket {
			continue
		}
		if tok, known := s.catalog.Lookup(txn.TokenID); known {
			s.engine.RecordAccepted(txn.TeamID, tok)
		}
	}

	log.Info().
		Str("session_id", cur.ID.String()).
		Int("transactions", len(stored)).
		Msg("transaction state restored")
	return nil
}

// Submit runs one scan through the admission rules, in order:
// session gate, global duplicate check, detective short-circuit,
// blackmarket scoring.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*Result, error) {
	if req.TokenID == "" || req.TeamID == "" {
		return nil, errors.New("tokenId and teamId are required")
	}
	if req.Mode != ModeBlackmarket && req.Mode != ModeDetective {
		return nil, fmt.Errorf("unknown scan mode %q", req.Mode)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.sessions.Current()
	if cur == nil || cur.Status != session.StatusActive {
		state := "none"
		if cur != nil {
			state = string(cur.Status)
		}
		return nil, fmt.Errorf("%w (session state: %s)", ErrNoActiveSession, state)
	}

	txn := &Transaction{
		ID:        uuid.New(),
		SessionID: cur.ID,
		TokenID:   req.TokenID,
		TeamID:    req.TeamID,
		DeviceID:  req.DeviceID,
		Mode:      req.Mode,
		Timestamp: s.clock.Now().UTC(),
	}

	// First-come-first-served is global across teams: any accepted
	// claim on the token makes every later scan a duplicate.
	if _, claimed := s.accepted[req.TokenID]; claimed {
		txn.Status = StatusDuplicate
		txn.Points = 0
		s.record(ctx, txn)
		log.Debug().
			Str("token_id", req.TokenID).
			Str("team_id", req.TeamID).
			Msg("duplicate scan rejected")
		// No room broadcast for duplicates; the submitter gets the
		// unicast result from the transport layer.
		return &Result{Status: StatusDuplicate, Points: 0, Transaction: txn}, nil
	}

	txn.Status = StatusAccepted
	s.accepted[req.TokenID] = txn.ID

	if req.Mode == ModeBlackmarket {
		if tok, known := s.catalog.Lookup(req.TokenID); known {
			txn.Points = s.engine.RecordAccepted(req.TeamID, tok)
		} else {
			log.Warn().Str("token_id", req.TokenID).Msg("accepted scan of unknown token")
		}
	}

	s.record(ctx, txn)
	log.Info().
		Str("token_id", txn.TokenID).
		Str("team_id", txn.TeamID).
		Str("mode", string(txn.Mode)).
		Int("points", txn.Points).
		Msg("transaction accepted")
	s.bus.Emit(Source, EventTransactionNew, txn)

	return &Result{Status: StatusAccepted, Points: txn.Points, Transaction: txn}, nil
}

// Delete tombstones a recorded transaction. Scores are recomputed and
// the token becomes re-acceptable: the duplicate index is keyed off
// currently recorded transactions, not all-time history.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()

	var target *Transaction
	for i, txn := range s.records {
		if txn.ID == id {
			target = txn
			s.records = append(s.records[:i], s.records[i+1:]...)
			break
		}
	}
	if target == nil {
		s.mu.Unlock()
		return ErrNotFound
	}

	if target.Status == StatusAccepted && s.accepted[target.TokenID] == id {
		delete(s.accepted, target.TokenID)
	}
	if err := s.store.MarkDeleted(ctx, id); err != nil {
		log.Warn().Err(err).Str("transaction_id", id.String()).Msg("failed to persist tombstone")
	}
	s.mu.Unlock()

	if target.Status == StatusAccepted && target.Mode == ModeBlackmarket {
		s.engine.RemoveAccepted(target.TeamID, target.TokenID)
	}

	log.Info().
		Str("transaction_id", id.String()).
		Str("token_id", target.TokenID).
		Msg("transaction deleted")
	s.bus.Emit(Source, EventTransactionDeleted, map[string]any{
		"id":      target.ID,
		"tokenId": target.TokenID,
		"teamId":  target.TeamID,
	})
	return nil
}

// ProcessBatch runs every submission of an offline batch through the
// normal admission pipeline, so duplicate and session-state rules
// apply uniformly and replaying a batch can never double-count. The
// batch:ack event carries the authoritative counts.
func (s *Service) ProcessBatch(ctx context.Context, batch Batch) BatchResult {
	res := BatchResult{BatchID: batch.BatchID, TotalCount: len(batch.Transactions)}

	for _, req := range batch.Transactions {
		if _, err := s.Submit(ctx, req); err != nil {
			res.FailedCount++
			log.Warn().
				Err(err).
				Str("batch_id", batch.BatchID.String()).
				Str("token_id", req.TokenID).
				Msg("batch submission rejected")
			continue
		}
		res.ProcessedCount++
	}

	log.Info().
		Str("batch_id", batch.BatchID.String()).
		Int("processed", res.ProcessedCount).
		Int("failed", res.FailedCount).
		Msg("offline batch processed")
	s.bus.Emit(Source, EventBatchAck, map[string]any{
		"batchId":        batch.BatchID,
		"processedCount": res.ProcessedCount,
		"totalCount":     res.TotalCount,
	})
	return res
}

// Recent returns up to recentLimit most recent transactions, newest
// last, for the sync:full snapshot.
func (s *Service) Recent() []*Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := 0
	if len(s.records) > recentLimit {
		start = len(s.records) - recentLimit
	}
	out := make([]*Transaction, 0, len(s.records)-start)
	for _, txn := range s.records[start:] {
		cp := *txn
		out = append(out, &cp)
	}
	return out
}

// Reset wipes all transaction state and the duplicate index.
func (s *Service) Reset(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = nil
	s.accepted = make(map[string]uuid.UUID)
	if err := s.store.Clear(ctx); err != nil {
		log.Warn().Err(err).Msg("failed to clear transaction store")
	}
	log.Info().Msg("transaction state reset")
}

// record appends the transaction in memory and writes it through.
// Caller holds the lock.
func (s *Service) record(ctx context.Context, txn *Transaction) {
	s.records = append(s.records, txn)
	if err := s.store.AppendTransaction(ctx, txn); err != nil {
		log.Warn().
			Err(err).
			Str("transaction_id", txn.ID.String()).
			Msg("failed to persist transaction")
	}
}
