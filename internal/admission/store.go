package admission

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Store persists transaction records for restart recovery. Write
// failures never block admission; the in-memory record stays
// authoritative.
type Store interface {
	// AppendTransaction durably records a new transaction.
	AppendTransaction(ctx context.Context, txn *Transaction) error
	// MarkDeleted tombstones a transaction.
	MarkDeleted(ctx context.Context, id uuid.UUID) error
	// LoadSession returns all non-tombstoned transactions for a
	// session in submission order.
	LoadSession(ctx context.Context, sessionID uuid.UUID) ([]*Transaction, error)
	// Clear removes all records (administrative wipe).
	Clear(ctx context.Context) error
}

// MemStore is an in-memory Store for tests and storage-less runs.
type MemStore struct {
	mu      sync.Mutex
	records []*Transaction
	deleted map[uuid.UUID]struct{}
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{deleted: make(map[uuid.UUID]struct{})}
}

func (m *MemStore) AppendTransaction(_ context.Context, txn *Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *txn
	m.records = append(m.records, &cp)
	return nil
}

func (m *MemStore) MarkDeleted(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted[id] = struct{}{}
	return nil
}

func (m *MemStore) LoadSession(_ context.Context, sessionID uuid.UUID) ([]*Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*Transaction
	for _, txn := range m.records {
		if txn.SessionID != sessionID {
			continue
		}
		if _, gone := m.deleted[txn.ID]; gone {
			continue
		}
		cp := *txn
		out = append(out, &cp)
	}
	return out, nil
}

func (m *MemStore) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = nil
	m.deleted = make(map[uuid.UUID]struct{})
	return nil
}
