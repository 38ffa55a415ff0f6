package escrow

import (
	"context"
	"sync"
	"time"

	"github.com/clearhold/clearhold/internal/idgen"
)

// EventType identifies a domain event.
type EventType string

const (
	EventEscrowInitialized   EventType = "escrow.initialized"
	EventEscrowCreated       EventType = "escrow.created"
	EventFundsReleased       EventType = "funds.released"
	EventFundsRefunded       EventType = "funds.refunded"
	EventDisputeRaised       EventType = "dispute.raised"
	EventDisputeResolved     EventType = "dispute.resolved"
	EventFeeCollectorUpdated EventType = "platform.fee_collector_updated"
	EventArbitratorUpdated   EventType = "platform.arbitrator_updated"
	EventPlatformFeeUpdated  EventType = "platform.fee_updated"
)

// Event is an immutable record of something that happened to an escrow or to
// the platform configuration. Platform events carry no escrow id.
type Event struct {
	ID        string            `json:"id"`
	Type      EventType         `json:"type"`
	EscrowID  string            `json:"escrowId,omitempty"`
	OrderID   string            `json:"orderId,omitempty"`
	Actor     string            `json:"actor,omitempty"`
	Data      map[string]string `json:"data,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
}

// NewEvent stamps an event with an id and timestamp.
func NewEvent(eventType EventType, escrowID, orderID, actor string, data map[string]string) *Event {
	return &Event{
		ID:        idgen.WithPrefix("evt_"),
		Type:      eventType,
		EscrowID:  escrowID,
		OrderID:   orderID,
		Actor:     actor,
		Data:      data,
		CreatedAt: time.Now().UTC(),
	}
}

// EventStore persists the append-only event history.
type EventStore interface {
	Append(ctx context.Context, event *Event) error
	ListByEscrow(ctx context.Context, escrowID string, limit int) ([]*Event, error)
	ListRecent(ctx context.Context, limit int) ([]*Event, error)
}

// MemoryEventStore keeps the event history in memory, newest last.
type MemoryEventStore struct {
	mu     sync.RWMutex
	events []*Event
}

// NewMemoryEventStore creates an empty in-memory event store.
func NewMemoryEventStore() *MemoryEventStore {
	return &MemoryEventStore{}
}

func (s *MemoryEventStore) Append(ctx context.Context, event *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *event
	s.events = append(s.events, &copied)
	return nil
}

func (s *MemoryEventStore) ListByEscrow(ctx context.Context, escrowID string, limit int) ([]*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Event
	for _, e := range s.events {
		if e.EscrowID == escrowID {
			copied := *e
			out = append(out, &copied)
		}
	}
	return tail(out, limit), nil
}

func (s *MemoryEventStore) ListRecent(ctx context.Context, limit int) ([]*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Event, 0, len(s.events))
	for _, e := range s.events {
		copied := *e
		out = append(out, &copied)
	}
	return tail(out, limit), nil
}

// tail keeps the most recent limit events, preserving order.
func tail(events []*Event, limit int) []*Event {
	if limit > 0 && len(events) > limit {
		return events[len(events)-limit:]
	}
	return events
}
