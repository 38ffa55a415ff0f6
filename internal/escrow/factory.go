package escrow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/clearhold/clearhold/internal/amount"
	"github.com/clearhold/clearhold/internal/idgen"
	"github.com/clearhold/clearhold/internal/syncutil"
	"github.com/clearhold/clearhold/internal/traces"
)

// Clock abstracts time for deterministic tests.
type Clock func() time.Time

// FactoryConfig carries the platform settings a factory starts with.
type FactoryConfig struct {
	// Principal is the identity the factory spends payer allowances as.
	Principal string
	// Owner may change the platform settings below.
	Owner string
	// Arbitrator resolves disputes.
	Arbitrator string
	// FeeCollector receives the platform fee on payee-favoring settlements.
	FeeCollector string
	// DefaultFeeBips is stamped onto new escrows, 0 <= bips < 10000.
	DefaultFeeBips int
}

// Factory mints and operates escrows. All state changes go through it: it
// validates the transition, persists the new status, then moves funds, so a
// re-entrant call always observes the committed status.
type Factory struct {
	store  Store
	assets AssetLedger
	events EventStore
	bcast  Broadcaster
	agg    *Aggregates
	logger *slog.Logger
	now    Clock

	principal string

	cfgMu          sync.RWMutex
	owner          string
	arbitrator     string
	feeCollector   string
	defaultFeeBips int

	locks *syncutil.KeyedMutex // serializes operations per escrow
}

// FactoryOption configures optional collaborators.
type FactoryOption func(*Factory)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) FactoryOption {
	return func(f *Factory) { f.logger = logger }
}

// WithEventStore enables persistent event history.
func WithEventStore(events EventStore) FactoryOption {
	return func(f *Factory) { f.events = events }
}

// WithBroadcaster enables live event fan-out.
func WithBroadcaster(b Broadcaster) FactoryOption {
	return func(f *Factory) { f.bcast = b }
}

// WithClock overrides the time source.
func WithClock(clock Clock) FactoryOption {
	return func(f *Factory) { f.now = clock }
}

// NewFactory creates a factory over the given store and asset ledger.
func NewFactory(store Store, assets AssetLedger, cfg FactoryConfig, opts ...FactoryOption) (*Factory, error) {
	if cfg.Principal == "" || cfg.Owner == "" || cfg.Arbitrator == "" || cfg.FeeCollector == "" {
		return nil, ErrNilParty
	}
	if !ValidFeeBips(cfg.DefaultFeeBips) {
		return nil, ErrInvalidFeeBips
	}

	f := &Factory{
		store:          store,
		assets:         assets,
		agg:            NewAggregates(),
		logger:         slog.Default(),
		now:            time.Now,
		principal:      cfg.Principal,
		owner:          cfg.Owner,
		arbitrator:     cfg.Arbitrator,
		feeCollector:   cfg.FeeCollector,
		defaultFeeBips: cfg.DefaultFeeBips,
		locks:          syncutil.NewKeyedMutex(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Restore rebuilds the aggregate counters from the store. Call once at
// startup when the store outlives the process.
func (f *Factory) Restore(ctx context.Context) error {
	all, err := f.store.List(ctx, 0)
	if err != nil {
		return fmt.Errorf("failed to load escrows: %w", err)
	}
	f.agg.Rebuild(all)
	f.logger.Info("aggregates restored", "escrows", len(all))
	return nil
}

// Principal returns the identity payers must grant their allowance to.
func (f *Factory) Principal() string {
	return f.principal
}

// CreateRequest carries the caller-supplied fields of a new escrow.
type CreateRequest struct {
	OrderID      string `json:"orderId" binding:"required"`
	Payee        string `json:"payee" binding:"required"`
	Asset        string `json:"asset" binding:"required"`
	Amount       string `json:"amount" binding:"required"`
	Metadata     string `json:"metadata"`
	ReleaseDelay string `json:"releaseDelay"` // Go duration string, e.g. "72h"
}

// CreateEscrow validates the request, pulls the full amount from the payer
// into escrow custody, and persists the new record as FUNDED. The fee rate
// and fee collector are captured from the current platform settings and
// frozen into the record.
func (f *Factory) CreateEscrow(ctx context.Context, payer string, req CreateRequest) (*Escrow, error) {
	ctx, span := traces.StartSpan(ctx, "escrow.create", traces.OrderID(req.OrderID), traces.Principal(payer))
	defer span.End()

	orderID := strings.TrimSpace(req.OrderID)
	if orderID == "" {
		return nil, ErrEmptyOrderID
	}
	if payer == "" || req.Payee == "" || req.Asset == "" {
		return nil, ErrNilParty
	}
	v, ok := amount.Parse(req.Amount)
	if !ok || v.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}

	// Fast-path duplicate check. The store's unique constraint is the
	// authority; this avoids moving funds for the common repeat.
	if _, err := f.store.GetByOrderID(ctx, orderID); err == nil {
		return nil, ErrDuplicateOrderID
	}

	f.cfgMu.RLock()
	feeBips := f.defaultFeeBips
	feeCollector := f.feeCollector
	f.cfgMu.RUnlock()

	allowed, err := f.assets.Allowance(ctx, req.Asset, payer, f.principal)
	if err != nil {
		return nil, fmt.Errorf("failed to check allowance: %w", err)
	}
	if cmp, ok := amount.Cmp(allowed, req.Amount); !ok || cmp < 0 {
		return nil, ErrInsufficientAllowance
	}
	balance, err := f.assets.BalanceOf(ctx, req.Asset, payer)
	if err != nil {
		return nil, fmt.Errorf("failed to check balance: %w", err)
	}
	if cmp, ok := amount.Cmp(balance, req.Amount); !ok || cmp < 0 {
		return nil, ErrInsufficientBalance
	}

	delay := DefaultReleaseDelay
	if req.ReleaseDelay != "" {
		d, err := time.ParseDuration(req.ReleaseDelay)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("%w: bad release delay %q", ErrInvalidAmount, req.ReleaseDelay)
		}
		delay = d
	}

	now := f.now().UTC()
	esc := &Escrow{
		ID:           idgen.WithPrefix("esc_"),
		OrderID:      orderID,
		Payer:        payer,
		Payee:        req.Payee,
		Asset:        req.Asset,
		Amount:       amount.Format(v),
		Metadata:     req.Metadata,
		FeeBips:      feeBips,
		FeeCollector: feeCollector,
		Status:       StatusFunded,
		CreatedAt:    now,
		ReleaseAfter: now.Add(delay),
		UpdatedAt:    now,
	}

	// Funds move into per-escrow custody before the record exists; a store
	// failure below must push them back.
	if err := f.assets.TransferFrom(ctx, esc.Asset, f.principal, payer, esc.ID, esc.Amount); err != nil {
		return nil, fmt.Errorf("failed to fund escrow: %w", err)
	}

	if err := f.store.Create(ctx, esc); err != nil {
		if rerr := f.assets.Transfer(ctx, esc.Asset, esc.ID, payer, esc.Amount); rerr != nil {
			f.logger.Error("CRITICAL: failed to return funds after store rejection",
				"escrow_id", esc.ID, "order_id", orderID, "payer", payer,
				"amount", esc.Amount, "error", rerr)
		}
		return nil, err
	}

	f.agg.RecordCreated(esc.Payer, esc.Payee, v)

	f.logger.Info("escrow created",
		"escrow_id", esc.ID, "order_id", orderID,
		"payer", payer, "payee", esc.Payee,
		"amount", esc.Amount, "fee_bips", feeBips)

	f.emit(ctx, NewEvent(EventEscrowInitialized, esc.ID, esc.OrderID, payer, map[string]string{
		"payer":    payer,
		"payee":    esc.Payee,
		"asset":    esc.Asset,
		"amount":   esc.Amount,
		"metadata": esc.Metadata,
	}))
	f.emit(ctx, NewEvent(EventEscrowCreated, esc.ID, esc.OrderID, payer, map[string]string{
		"payee":        esc.Payee,
		"asset":        esc.Asset,
		"amount":       esc.Amount,
		"feeBips":      fmt.Sprintf("%d", feeBips),
		"releaseAfter": esc.ReleaseAfter.Format(time.RFC3339),
	}))

	return esc, nil
}

// Release settles a funded escrow in the payee's favor at the payer's
// request: fee to the collector, net to the payee.
func (f *Factory) Release(ctx context.Context, id, caller string) (*Escrow, error) {
	ctx, span := traces.StartSpan(ctx, "escrow.release", traces.EscrowID(id), traces.Principal(caller))
	defer span.End()

	unlock, err := f.locks.Lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	esc, err := f.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(caller, esc.Payer) {
		return nil, ErrNotPayer
	}
	if esc.Status != StatusFunded {
		return nil, ErrInvalidStatus
	}
	return f.settleToPayee(ctx, esc, caller, "release")
}

// AutoRelease settles a funded escrow in the payee's favor once the time
// lock has elapsed. Any caller may trigger it; the boundary is inclusive.
func (f *Factory) AutoRelease(ctx context.Context, id, caller string) (*Escrow, error) {
	ctx, span := traces.StartSpan(ctx, "escrow.auto_release", traces.EscrowID(id))
	defer span.End()

	unlock, err := f.locks.Lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	esc, err := f.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if esc.Status != StatusFunded {
		return nil, ErrInvalidStatus
	}
	if f.now().Before(esc.ReleaseAfter) {
		return nil, ErrTooEarly
	}
	return f.settleToPayee(ctx, esc, caller, "auto")
}

// settleToPayee flips the status to RELEASED, persists it, then disburses
// fee and net. Caller holds the escrow lock and has checked preconditions.
func (f *Factory) settleToPayee(ctx context.Context, esc *Escrow, actor, trigger string) (*Escrow, error) {
	fee, net, err := SplitFee(esc.Amount, esc.FeeBips)
	if err != nil {
		return nil, err
	}

	now := f.now().UTC()
	esc.Status = StatusReleased
	esc.SettledAt = &now
	esc.UpdatedAt = now
	if err := f.store.Update(ctx, esc); err != nil {
		return nil, fmt.Errorf("failed to update escrow: %w", err)
	}

	if err := f.disburse(ctx, esc, fee, net, esc.Payee); err != nil {
		f.revert(ctx, esc, StatusFunded)
		return nil, err
	}

	f.agg.RecordTransition(StatusFunded, StatusReleased)
	f.logger.Info("escrow released",
		"escrow_id", esc.ID, "order_id", esc.OrderID,
		"net", net, "fee", fee, "trigger", trigger)

	f.emit(ctx, NewEvent(EventFundsReleased, esc.ID, esc.OrderID, actor, map[string]string{
		"recipient": esc.Payee,
		"netAmount": net,
		"feeAmount": fee,
		"trigger":   trigger,
	}))
	return esc, nil
}

// Refund returns the full amount to the payer at the payee's request. No fee
// is taken on refunds.
func (f *Factory) Refund(ctx context.Context, id, caller string) (*Escrow, error) {
	ctx, span := traces.StartSpan(ctx, "escrow.refund", traces.EscrowID(id), traces.Principal(caller))
	defer span.End()

	unlock, err := f.locks.Lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	esc, err := f.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(caller, esc.Payee) {
		return nil, ErrNotPayee
	}
	if esc.Status != StatusFunded {
		return nil, ErrInvalidStatus
	}

	now := f.now().UTC()
	esc.Status = StatusRefunded
	esc.SettledAt = &now
	esc.UpdatedAt = now
	if err := f.store.Update(ctx, esc); err != nil {
		return nil, fmt.Errorf("failed to update escrow: %w", err)
	}

	if err := f.assets.Transfer(ctx, esc.Asset, esc.ID, esc.Payer, esc.Amount); err != nil {
		f.revert(ctx, esc, StatusFunded)
		return nil, fmt.Errorf("failed to refund payer: %w", err)
	}

	f.agg.RecordTransition(StatusFunded, StatusRefunded)
	f.logger.Info("escrow refunded",
		"escrow_id", esc.ID, "order_id", esc.OrderID, "amount", esc.Amount)

	f.emit(ctx, NewEvent(EventFundsRefunded, esc.ID, esc.OrderID, caller, map[string]string{
		"recipient": esc.Payer,
		"amount":    esc.Amount,
	}))
	return esc, nil
}

// RaiseDispute freezes a funded escrow. Either party may raise it; the
// reason is mandatory and recorded verbatim.
func (f *Factory) RaiseDispute(ctx context.Context, id, caller, reason string) (*Escrow, error) {
	ctx, span := traces.StartSpan(ctx, "escrow.dispute", traces.EscrowID(id), traces.Principal(caller))
	defer span.End()

	unlock, err := f.locks.Lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	esc, err := f.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !esc.IsParty(caller) {
		return nil, ErrNotParty
	}
	if esc.Status != StatusFunded {
		return nil, ErrInvalidStatus
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, ErrEmptyReason
	}

	esc.Status = StatusDisputed
	esc.DisputeReason = reason
	esc.DisputeRaisedBy = caller
	esc.UpdatedAt = f.now().UTC()
	if err := f.store.Update(ctx, esc); err != nil {
		return nil, fmt.Errorf("failed to update escrow: %w", err)
	}

	f.agg.RecordTransition(StatusFunded, StatusDisputed)
	f.logger.Info("dispute raised",
		"escrow_id", esc.ID, "order_id", esc.OrderID, "raised_by", caller)

	f.emit(ctx, NewEvent(EventDisputeRaised, esc.ID, esc.OrderID, caller, map[string]string{
		"reason": reason,
	}))
	return esc, nil
}

// ResolveDispute lets the arbitrator settle a disputed escrow for one of the
// two parties. A payee win pays out fee and net as a release would; a payer
// win returns the full amount as a refund would.
func (f *Factory) ResolveDispute(ctx context.Context, id, caller, winner string) (*Escrow, error) {
	ctx, span := traces.StartSpan(ctx, "escrow.resolve", traces.EscrowID(id), traces.Principal(caller))
	defer span.End()

	f.cfgMu.RLock()
	arbitrator := f.arbitrator
	f.cfgMu.RUnlock()
	if !strings.EqualFold(caller, arbitrator) {
		return nil, ErrNotArbitrator
	}

	unlock, err := f.locks.Lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	esc, err := f.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	// The pre-resolution status decides which bucket the aggregate
	// transition drains; capture it before any mutation.
	prior := esc.Status
	if prior != StatusDisputed {
		return nil, ErrInvalidStatus
	}
	if !esc.IsParty(winner) {
		return nil, ErrInvalidWinner
	}

	payeeWins := strings.EqualFold(winner, esc.Payee)
	var fee, net string
	if payeeWins {
		fee, net, err = SplitFee(esc.Amount, esc.FeeBips)
		if err != nil {
			return nil, err
		}
	} else {
		fee, net = "0", esc.Amount
	}

	now := f.now().UTC()
	esc.Status = StatusResolved
	esc.Winner = winner
	esc.SettledAt = &now
	esc.UpdatedAt = now
	if err := f.store.Update(ctx, esc); err != nil {
		return nil, fmt.Errorf("failed to update escrow: %w", err)
	}

	if payeeWins {
		err = f.disburse(ctx, esc, fee, net, esc.Payee)
	} else {
		err = f.assets.Transfer(ctx, esc.Asset, esc.ID, esc.Payer, esc.Amount)
	}
	if err != nil {
		esc.Winner = ""
		f.revert(ctx, esc, StatusDisputed)
		return nil, fmt.Errorf("failed to disburse resolution: %w", err)
	}

	f.agg.RecordTransition(prior, StatusResolved)
	f.logger.Info("dispute resolved",
		"escrow_id", esc.ID, "order_id", esc.OrderID,
		"winner", winner, "net", net, "fee", fee)

	f.emit(ctx, NewEvent(EventDisputeResolved, esc.ID, esc.OrderID, caller, map[string]string{
		"winner":    winner,
		"netAmount": net,
		"feeAmount": fee,
	}))
	return esc, nil
}

// disburse pays fee to the escrow's frozen collector and net to recipient
// out of the escrow's custody account.
func (f *Factory) disburse(ctx context.Context, esc *Escrow, fee, net, recipient string) error {
	if pos, _ := amount.Cmp(fee, "0"); pos > 0 {
		if err := f.assets.Transfer(ctx, esc.Asset, esc.ID, esc.FeeCollector, fee); err != nil {
			return fmt.Errorf("failed to pay fee: %w", err)
		}
	}
	if err := f.assets.Transfer(ctx, esc.Asset, esc.ID, recipient, net); err != nil {
		// The fee already left custody; this needs an operator to finish.
		f.logger.Error("CRITICAL: partial disbursement, manual resolution required",
			"escrow_id", esc.ID, "order_id", esc.OrderID,
			"fee_paid", fee, "net_due", net, "recipient", recipient, "error", err)
		return fmt.Errorf("failed to pay recipient: %w", err)
	}
	return nil
}

// revert puts an escrow back to its pre-settlement status after a failed
// disbursement. Best effort; a second failure is logged for the operator.
func (f *Factory) revert(ctx context.Context, esc *Escrow, to Status) {
	esc.Status = to
	esc.SettledAt = nil
	esc.UpdatedAt = f.now().UTC()
	if err := f.store.Update(ctx, esc); err != nil {
		f.logger.Error("CRITICAL: failed to revert escrow status",
			"escrow_id", esc.ID, "status", to, "error", err)
	}
}

// SetFeeCollector changes where future escrows send their fee. Owner only.
// Existing escrows keep the collector they were created with.
func (f *Factory) SetFeeCollector(ctx context.Context, caller, collector string) error {
	if collector == "" {
		return ErrNilParty
	}
	f.cfgMu.Lock()
	if !strings.EqualFold(caller, f.owner) {
		f.cfgMu.Unlock()
		return ErrNotOwner
	}
	old := f.feeCollector
	f.feeCollector = collector
	f.cfgMu.Unlock()

	f.logger.Info("fee collector updated", "old", old, "new", collector)
	f.emit(ctx, NewEvent(EventFeeCollectorUpdated, "", "", caller, map[string]string{
		"old": old, "new": collector,
	}))
	return nil
}

// SetArbitrator changes who may resolve disputes, including already-open
// ones. Owner only.
func (f *Factory) SetArbitrator(ctx context.Context, caller, arbitrator string) error {
	if arbitrator == "" {
		return ErrNilParty
	}
	f.cfgMu.Lock()
	if !strings.EqualFold(caller, f.owner) {
		f.cfgMu.Unlock()
		return ErrNotOwner
	}
	old := f.arbitrator
	f.arbitrator = arbitrator
	f.cfgMu.Unlock()

	f.logger.Info("arbitrator updated", "old", old, "new", arbitrator)
	f.emit(ctx, NewEvent(EventArbitratorUpdated, "", "", caller, map[string]string{
		"old": old, "new": arbitrator,
	}))
	return nil
}

// SetDefaultFeeBips changes the fee rate stamped onto future escrows.
// Owner only.
func (f *Factory) SetDefaultFeeBips(ctx context.Context, caller string, bips int) error {
	if !ValidFeeBips(bips) {
		return ErrInvalidFeeBips
	}
	f.cfgMu.Lock()
	if !strings.EqualFold(caller, f.owner) {
		f.cfgMu.Unlock()
		return ErrNotOwner
	}
	old := f.defaultFeeBips
	f.defaultFeeBips = bips
	f.cfgMu.Unlock()

	f.logger.Info("platform fee updated", "old_bips", old, "new_bips", bips)
	f.emit(ctx, NewEvent(EventPlatformFeeUpdated, "", "", caller, map[string]string{
		"oldBips": fmt.Sprintf("%d", old),
		"newBips": fmt.Sprintf("%d", bips),
	}))
	return nil
}

// Get returns one escrow by id.
func (f *Factory) Get(ctx context.Context, id string) (*Escrow, error) {
	return f.store.Get(ctx, id)
}

// GetByOrderID returns the escrow bound to an order id.
func (f *Factory) GetByOrderID(ctx context.Context, orderID string) (*Escrow, error) {
	return f.store.GetByOrderID(ctx, orderID)
}

// List returns escrows in creation order, oldest first.
func (f *Factory) List(ctx context.Context, limit int) ([]*Escrow, error) {
	return f.store.List(ctx, limit)
}

// ListByParticipant returns escrows where the principal is payer or payee.
func (f *Factory) ListByParticipant(ctx context.Context, principal string, limit int) ([]*Escrow, error) {
	return f.store.ListByParticipant(ctx, principal, limit)
}

// ListByStatus returns escrows in one status bucket.
func (f *Factory) ListByStatus(ctx context.Context, status Status, limit int) ([]*Escrow, error) {
	if !status.Valid() {
		return nil, ErrInvalidStatus
	}
	return f.store.ListByStatus(ctx, status, limit)
}

// Events returns the recorded history of one escrow.
func (f *Factory) Events(ctx context.Context, escrowID string, limit int) ([]*Event, error) {
	if f.events == nil {
		return nil, nil
	}
	return f.events.ListByEscrow(ctx, escrowID, limit)
}

// Stats is the factory-wide aggregate view.
type Stats struct {
	TotalEscrows   int64            `json:"totalEscrows"`
	TotalVolume    string           `json:"totalVolume"`
	StatusCounts   map[string]int64 `json:"statusCounts"`
	DefaultFeeBips int              `json:"defaultFeeBips"`
	FeeCollector   string           `json:"feeCollector"`
	Arbitrator     string           `json:"arbitrator"`
	Owner          string           `json:"owner"`
}

// Stats returns the current aggregate counters and platform settings.
func (f *Factory) Stats(ctx context.Context) *Stats {
	f.cfgMu.RLock()
	s := &Stats{
		DefaultFeeBips: f.defaultFeeBips,
		FeeCollector:   f.feeCollector,
		Arbitrator:     f.arbitrator,
		Owner:          f.owner,
	}
	f.cfgMu.RUnlock()

	s.TotalEscrows = f.agg.TotalCreated()
	s.TotalVolume = f.agg.TotalVolume()
	s.StatusCounts = make(map[string]int64, len(Statuses))
	for status, n := range f.agg.StatusCounts() {
		s.StatusCounts[string(status)] = n
	}
	return s
}

// ParticipantCount returns how many escrows a principal is a party to.
func (f *Factory) ParticipantCount(principal string) int64 {
	return f.agg.ParticipantCount(principal)
}

// emit records and broadcasts an event. Event delivery never fails an
// operation that already committed.
func (f *Factory) emit(ctx context.Context, event *Event) {
	if f.events != nil {
		if err := f.events.Append(ctx, event); err != nil {
			f.logger.Warn("failed to append event", "type", event.Type, "error", err)
		}
	}
	if f.bcast != nil {
		f.bcast.BroadcastEvent(event)
	}
}
