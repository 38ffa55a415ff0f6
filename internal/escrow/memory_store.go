package escrow

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for development and tests. It keeps a
// creation-ordered index and hands out copies so callers can't mutate
// shared state.
type MemoryStore struct {
	mu      sync.RWMutex
	byID    map[string]*Escrow
	byOrder map[string]string // order id -> escrow id, write-once
	ordered []string          // escrow ids in creation order
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:    make(map[string]*Escrow),
		byOrder: make(map[string]string),
	}
}

func (s *MemoryStore) Create(ctx context.Context, escrow *Escrow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byOrder[escrow.OrderID]; exists {
		return ErrDuplicateOrderID
	}
	copied := *escrow
	s.byID[escrow.ID] = &copied
	s.byOrder[escrow.OrderID] = escrow.ID
	s.ordered = append(s.ordered, escrow.ID)
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Escrow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	esc, ok := s.byID[id]
	if !ok {
		return nil, ErrEscrowNotFound
	}
	copied := *esc
	return &copied, nil
}

func (s *MemoryStore) GetByOrderID(ctx context.Context, orderID string) (*Escrow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byOrder[orderID]
	if !ok {
		return nil, ErrEscrowNotFound
	}
	copied := *s.byID[id]
	return &copied, nil
}

func (s *MemoryStore) Update(ctx context.Context, escrow *Escrow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[escrow.ID]; !ok {
		return ErrEscrowNotFound
	}
	copied := *escrow
	s.byID[escrow.ID] = &copied
	return nil
}

func (s *MemoryStore) List(ctx context.Context, limit int) ([]*Escrow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Escrow, 0, len(s.ordered))
	for _, id := range s.ordered {
		copied := *s.byID[id]
		out = append(out, &copied)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) ListByParticipant(ctx context.Context, participant string, limit int) ([]*Escrow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Escrow
	for _, id := range s.ordered {
		esc := s.byID[id]
		if !esc.IsParty(participant) {
			continue
		}
		copied := *esc
		out = append(out, &copied)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) ListByStatus(ctx context.Context, status Status, limit int) ([]*Escrow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Escrow
	for _, id := range s.ordered {
		esc := s.byID[id]
		if esc.Status != status {
			continue
		}
		copied := *esc
		out = append(out, &copied)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) ListReleasable(ctx context.Context, before time.Time, limit int) ([]*Escrow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Escrow
	for _, id := range s.ordered {
		esc := s.byID[id]
		if esc.Status != StatusFunded || before.Before(esc.ReleaseAfter) {
			continue
		}
		copied := *esc
		out = append(out, &copied)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}
