// Package escrow implements custody of a fungible asset held between a
// payer and a payee for a single order.
//
// Flow:
//  1. Payer asks the factory to create an escrow → funds move payer → escrow custody
//  2. Payer releases → fee to the collector, net to the payee
//  3. Payee refunds → full amount back to the payer, no fee
//  4. Anyone auto-releases once the time lock elapses
//  5. Either party disputes → the arbitrator resolves for payer or payee
package escrow

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	// Validation
	ErrEmptyOrderID   = errors.New("order id is required")
	ErrNilParty       = errors.New("party and asset identities are required")
	ErrInvalidAmount  = errors.New("invalid amount")
	ErrInvalidFeeBips = errors.New("fee bips out of range")
	ErrEmptyReason    = errors.New("dispute reason is required")

	// State
	ErrEscrowNotFound = errors.New("escrow not found")
	ErrInvalidStatus  = errors.New("invalid escrow status for this operation")

	// Authorization
	ErrNotPayer      = errors.New("caller is not the payer")
	ErrNotPayee      = errors.New("caller is not the payee")
	ErrNotParty      = errors.New("caller is not a party to this escrow")
	ErrNotArbitrator = errors.New("caller is not the arbitrator")
	ErrNotOwner      = errors.New("caller is not the platform owner")

	// Funding
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrInsufficientBalance   = errors.New("insufficient balance")

	// Business
	ErrDuplicateOrderID = errors.New("order id already used")
	ErrInvalidWinner    = errors.New("winner must be the payer or the payee")
	ErrTooEarly         = errors.New("auto-release window not yet open")
)

// Status represents the state of an escrow.
type Status string

const (
	StatusFunded   Status = "funded"   // Created, funds in custody
	StatusReleased Status = "released" // Settled to payee (direct or auto-release)
	StatusRefunded Status = "refunded" // Full amount returned to payer
	StatusDisputed Status = "disputed" // A party raised a dispute, funds still held
	StatusResolved Status = "resolved" // Arbitrator decided, funds disbursed
)

// Statuses lists every status in lifecycle order.
var Statuses = []Status{StatusFunded, StatusReleased, StatusRefunded, StatusDisputed, StatusResolved}

// Label returns a human-readable status description.
func (s Status) Label() string {
	switch s {
	case StatusFunded:
		return "Funded"
	case StatusReleased:
		return "Released"
	case StatusRefunded:
		return "Refunded"
	case StatusDisputed:
		return "Disputed"
	case StatusResolved:
		return "Resolved"
	}
	return "Unknown"
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusFunded, StatusReleased, StatusRefunded, StatusDisputed, StatusResolved:
		return true
	}
	return false
}

// DefaultReleaseDelay applies when the caller supplies no release delay.
const DefaultReleaseDelay = 72 * time.Hour

// Escrow is a single order's fund-custody record. Amount, fee rate, and fee
// collector are fixed at creation; later platform-setting changes never
// affect an existing escrow.
type Escrow struct {
	ID              string     `json:"id"`
	OrderID         string     `json:"orderId"`
	Payer           string     `json:"payer"`
	Payee           string     `json:"payee"`
	Asset           string     `json:"asset"`
	Amount          string     `json:"amount"`
	Metadata        string     `json:"metadata,omitempty"`
	FeeBips         int        `json:"feeBips"`
	FeeCollector    string     `json:"feeCollector"`
	Status          Status     `json:"status"`
	CreatedAt       time.Time  `json:"createdAt"`
	ReleaseAfter    time.Time  `json:"releaseAfter"`
	DisputeReason   string     `json:"disputeReason,omitempty"`
	DisputeRaisedBy string     `json:"disputeRaisedBy,omitempty"`
	Winner          string     `json:"winner,omitempty"`
	SettledAt       *time.Time `json:"settledAt,omitempty"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

// IsTerminal returns true if the escrow is in a final state.
func (e *Escrow) IsTerminal() bool {
	switch e.Status {
	case StatusReleased, StatusRefunded, StatusResolved:
		return true
	}
	return false
}

// IsParty reports whether p is the payer or the payee.
func (e *Escrow) IsParty(p string) bool {
	return strings.EqualFold(p, e.Payer) || strings.EqualFold(p, e.Payee)
}

// FeeBreakdown returns the fee and net amounts a payee-favoring settlement
// would disburse. fee + net == Amount exactly.
func (e *Escrow) FeeBreakdown() (fee, net string, err error) {
	return SplitFee(e.Amount, e.FeeBips)
}

// TimeRemaining returns the time left until auto-release becomes permitted,
// or zero if the window is already open or the escrow is no longer funded.
func (e *Escrow) TimeRemaining(now time.Time) time.Duration {
	if e.Status != StatusFunded || !now.Before(e.ReleaseAfter) {
		return 0
	}
	return e.ReleaseAfter.Sub(now)
}

// AutoReleasable reports whether auto-release is currently permitted.
// The boundary is inclusive: now == ReleaseAfter qualifies.
func (e *Escrow) AutoReleasable(now time.Time) bool {
	return e.Status == StatusFunded && !now.Before(e.ReleaseAfter)
}

// Store persists escrow records. Create must reject a previously used order
// id with ErrDuplicateOrderID; the order id binding is permanent.
type Store interface {
	Create(ctx context.Context, escrow *Escrow) error
	Get(ctx context.Context, id string) (*Escrow, error)
	GetByOrderID(ctx context.Context, orderID string) (*Escrow, error)
	Update(ctx context.Context, escrow *Escrow) error
	List(ctx context.Context, limit int) ([]*Escrow, error)
	ListByParticipant(ctx context.Context, participant string, limit int) ([]*Escrow, error)
	ListByStatus(ctx context.Context, status Status, limit int) ([]*Escrow, error)
	ListReleasable(ctx context.Context, before time.Time, limit int) ([]*Escrow, error)
}

// AssetLedger abstracts the fungible-asset ledger escrows settle against.
// The core only moves already-authorized or already-held balances; it never
// mints or burns.
type AssetLedger interface {
	Allowance(ctx context.Context, asset, owner, spender string) (string, error)
	BalanceOf(ctx context.Context, asset, account string) (string, error)
	TransferFrom(ctx context.Context, asset, spender, owner, recipient, amount string) error
	Transfer(ctx context.Context, asset, holder, recipient, amount string) error
}

// Broadcaster pushes domain events to live observers.
type Broadcaster interface {
	BroadcastEvent(event *Event)
}
