package intent

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory Store for development and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	byOrder map[string]*Intent
	ordered []string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byOrder: make(map[string]*Intent)}
}

func (s *MemoryStore) Create(ctx context.Context, intent *Intent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byOrder[intent.OrderID]; exists {
		return ErrDuplicateOrder
	}
	copied := *intent
	s.byOrder[intent.OrderID] = &copied
	s.ordered = append(s.ordered, intent.OrderID)
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, orderID string) (*Intent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	in, ok := s.byOrder[orderID]
	if !ok {
		return nil, ErrIntentNotFound
	}
	copied := *in
	return &copied, nil
}

func (s *MemoryStore) Update(ctx context.Context, intent *Intent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byOrder[intent.OrderID]; !ok {
		return ErrIntentNotFound
	}
	copied := *intent
	s.byOrder[intent.OrderID] = &copied
	return nil
}

func (s *MemoryStore) List(ctx context.Context, status Status, limit int) ([]*Intent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Intent
	for _, orderID := range s.ordered {
		in := s.byOrder[orderID]
		if status != "" && in.Status != status {
			continue
		}
		copied := *in
		out = append(out, &copied)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}
