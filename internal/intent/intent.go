// Package intent tracks seller-declared purchase intents upstream of escrow.
// An intent reserves an order id and publishes the terms a payer funds
// against; funding it mints the escrow and marks the intent paid.
package intent

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/clearhold/clearhold/internal/amount"
)

var (
	ErrIntentNotFound = errors.New("intent not found")
	ErrDuplicateOrder = errors.New("order id already has an intent")
	ErrInvalidIntent  = errors.New("intent fields are invalid")
	ErrNotPending     = errors.New("intent is no longer pending")
	ErrNotIntentParty = errors.New("caller is not a party to this intent")
)

// Status of an intent.
type Status string

const (
	StatusPending   Status = "pending"
	StatusPaid      Status = "paid"
	StatusCancelled Status = "cancelled"
)

// Intent is the pre-escrow record of an agreed order. Payer is empty on an
// open intent; a named payer reserves the order for that principal.
type Intent struct {
	OrderID      string    `json:"orderId"`
	Payer        string    `json:"payer,omitempty"`
	Payee        string    `json:"payee"`
	Asset        string    `json:"asset"`
	Amount       string    `json:"amount"`
	Metadata     string    `json:"metadata,omitempty"`
	ReleaseDelay string    `json:"releaseDelay,omitempty"`
	Status       Status    `json:"status"`
	EscrowID     string    `json:"escrowId,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Store persists intents keyed by order id.
type Store interface {
	Create(ctx context.Context, intent *Intent) error
	Get(ctx context.Context, orderID string) (*Intent, error)
	Update(ctx context.Context, intent *Intent) error
	List(ctx context.Context, status Status, limit int) ([]*Intent, error)
}

// Service applies the intent lifecycle rules over a store.
type Service struct {
	store Store
	now   func() time.Time
}

// NewService creates an intent service.
func NewService(store Store) *Service {
	return &Service{store: store, now: time.Now}
}

// CreateRequest carries the fields of a new intent. Payer optionally names
// the expected buyer; ReleaseDelay is a Go duration string.
type CreateRequest struct {
	OrderID      string `json:"orderId" binding:"required"`
	Payer        string `json:"payer"`
	Asset        string `json:"asset" binding:"required"`
	Amount       string `json:"amount" binding:"required"`
	Metadata     string `json:"metadata"`
	ReleaseDelay string `json:"releaseDelay"`
}

// Create registers a pending intent. The caller becomes the payee.
func (s *Service) Create(ctx context.Context, payee string, req CreateRequest) (*Intent, error) {
	orderID := strings.TrimSpace(req.OrderID)
	if orderID == "" || payee == "" || req.Asset == "" {
		return nil, ErrInvalidIntent
	}
	v, ok := amount.Parse(req.Amount)
	if !ok || v.Sign() <= 0 {
		return nil, ErrInvalidIntent
	}
	if req.ReleaseDelay != "" {
		if d, err := time.ParseDuration(req.ReleaseDelay); err != nil || d <= 0 {
			return nil, ErrInvalidIntent
		}
	}

	now := s.now().UTC()
	in := &Intent{
		OrderID:      orderID,
		Payer:        req.Payer,
		Payee:        payee,
		Asset:        req.Asset,
		Amount:       amount.Format(v),
		Metadata:     req.Metadata,
		ReleaseDelay: req.ReleaseDelay,
		Status:       StatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.Create(ctx, in); err != nil {
		return nil, err
	}
	return in, nil
}

// Get returns an intent by order id.
func (s *Service) Get(ctx context.Context, orderID string) (*Intent, error) {
	return s.store.Get(ctx, orderID)
}

// List returns intents, optionally filtered by status.
func (s *Service) List(ctx context.Context, status Status, limit int) ([]*Intent, error) {
	return s.store.List(ctx, status, limit)
}

// Cancel withdraws a pending intent. Either named party may cancel before
// funding; an open intent can only be cancelled by its payee.
func (s *Service) Cancel(ctx context.Context, orderID, caller string) (*Intent, error) {
	in, err := s.store.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	payerMatch := in.Payer != "" && strings.EqualFold(caller, in.Payer)
	if !payerMatch && !strings.EqualFold(caller, in.Payee) {
		return nil, ErrNotIntentParty
	}
	if in.Status != StatusPending {
		return nil, ErrNotPending
	}
	in.Status = StatusCancelled
	in.UpdatedAt = s.now().UTC()
	if err := s.store.Update(ctx, in); err != nil {
		return nil, err
	}
	return in, nil
}

// MarkPaid binds a pending intent to the escrow that funded it.
func (s *Service) MarkPaid(ctx context.Context, orderID, escrowID string) error {
	in, err := s.store.Get(ctx, orderID)
	if err != nil {
		return err
	}
	if in.Status != StatusPending {
		return ErrNotPending
	}
	in.Status = StatusPaid
	in.EscrowID = escrowID
	in.UpdatedAt = s.now().UTC()
	return s.store.Update(ctx, in)
}

// Pending returns an intent only if it is still pending.
func (s *Service) Pending(ctx context.Context, orderID string) (*Intent, error) {
	in, err := s.store.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if in.Status != StatusPending {
		return nil, ErrNotPending
	}
	return in, nil
}
