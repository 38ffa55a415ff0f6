package escrow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clearhold/clearhold/internal/asset"
)

const (
	testPayer      = "0xalice"
	testPayee      = "0xbob"
	testOwner      = "platform-owner"
	testArbitrator = "platform-arbitrator"
	testCollector  = "0xfees"
	testFactory    = "escrow-factory"
	testAsset      = "USDC"
)

// fixture wires a factory over the in-memory bank and store with a
// controllable clock. The payer starts with 1000 USDC and a full allowance.
type fixture struct {
	factory *Factory
	bank    *asset.Bank
	store   *MemoryStore
	events  *MemoryEventStore
	now     time.Time
	mu      sync.Mutex
}

func (fx *fixture) clock() time.Time {
	fx.mu.Lock()
	defer fx.mu.Unlock()
	return fx.now
}

func (fx *fixture) advance(d time.Duration) {
	fx.mu.Lock()
	fx.now = fx.now.Add(d)
	fx.mu.Unlock()
}

func newFixture(t *testing.T, opts ...FactoryOption) *fixture {
	t.Helper()
	ctx := context.Background()

	fx := &fixture{
		bank:   asset.NewBank(),
		store:  NewMemoryStore(),
		events: NewMemoryEventStore(),
		now:    time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC),
	}
	require.NoError(t, fx.bank.Mint(ctx, testAsset, testPayer, "1000"))
	require.NoError(t, fx.bank.Approve(ctx, testAsset, testPayer, testFactory, "1000"))

	all := append([]FactoryOption{
		WithEventStore(fx.events),
		WithClock(fx.clock),
	}, opts...)

	factory, err := NewFactory(fx.store, fx.bank, FactoryConfig{
		Principal:      testFactory,
		Owner:          testOwner,
		Arbitrator:     testArbitrator,
		FeeCollector:   testCollector,
		DefaultFeeBips: 250,
	}, all...)
	require.NoError(t, err)
	fx.factory = factory
	return fx
}

func (fx *fixture) create(t *testing.T, orderID, amt string) *Escrow {
	t.Helper()
	esc, err := fx.factory.CreateEscrow(context.Background(), testPayer, CreateRequest{
		OrderID: orderID,
		Payee:   testPayee,
		Asset:   testAsset,
		Amount:  amt,
	})
	require.NoError(t, err)
	return esc
}

func (fx *fixture) balance(t *testing.T, account string) string {
	t.Helper()
	bal, err := fx.bank.BalanceOf(context.Background(), testAsset, account)
	require.NoError(t, err)
	return bal
}

func TestNewFactory_Validation(t *testing.T) {
	store := NewMemoryStore()
	bank := asset.NewBank()

	_, err := NewFactory(store, bank, FactoryConfig{
		Principal: testFactory, Owner: testOwner, Arbitrator: testArbitrator,
	})
	assert.ErrorIs(t, err, ErrNilParty)

	_, err = NewFactory(store, bank, FactoryConfig{
		Principal: testFactory, Owner: testOwner,
		Arbitrator: testArbitrator, FeeCollector: testCollector,
		DefaultFeeBips: 10000,
	})
	assert.ErrorIs(t, err, ErrInvalidFeeBips)
}

func TestCreateEscrow(t *testing.T) {
	fx := newFixture(t)
	esc := fx.create(t, "order-1", "100")

	assert.Equal(t, StatusFunded, esc.Status)
	assert.Equal(t, "order-1", esc.OrderID)
	assert.Equal(t, 250, esc.FeeBips)
	assert.Equal(t, testCollector, esc.FeeCollector)
	assert.Equal(t, fx.now.Add(DefaultReleaseDelay), esc.ReleaseAfter)

	// Full amount sits in per-escrow custody.
	assert.Equal(t, "100.000000", fx.balance(t, esc.ID))
	assert.Equal(t, "900.000000", fx.balance(t, testPayer))

	events, err := fx.events.ListByEscrow(context.Background(), esc.ID, 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, EventEscrowInitialized, events[0].Type)
	assert.Equal(t, EventEscrowCreated, events[1].Type)
}

func TestCreateEscrow_Validation(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	_, err := fx.factory.CreateEscrow(ctx, testPayer, CreateRequest{
		OrderID: "  ", Payee: testPayee, Asset: testAsset, Amount: "10",
	})
	assert.ErrorIs(t, err, ErrEmptyOrderID)

	_, err = fx.factory.CreateEscrow(ctx, testPayer, CreateRequest{
		OrderID: "o", Payee: "", Asset: testAsset, Amount: "10",
	})
	assert.ErrorIs(t, err, ErrNilParty)

	for _, amt := range []string{"0", "-5", "abc", ""} {
		_, err = fx.factory.CreateEscrow(ctx, testPayer, CreateRequest{
			OrderID: "o", Payee: testPayee, Asset: testAsset, Amount: amt,
		})
		assert.ErrorIs(t, err, ErrInvalidAmount, "amount %q", amt)
	}

	_, err = fx.factory.CreateEscrow(ctx, testPayer, CreateRequest{
		OrderID: "o", Payee: testPayee, Asset: testAsset, Amount: "10",
		ReleaseDelay: "not-a-duration",
	})
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestCreateEscrow_Funding(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	// Allowance smaller than the amount.
	require.NoError(t, fx.bank.Approve(ctx, testAsset, testPayer, testFactory, "5"))
	_, err := fx.factory.CreateEscrow(ctx, testPayer, CreateRequest{
		OrderID: "o1", Payee: testPayee, Asset: testAsset, Amount: "10",
	})
	assert.ErrorIs(t, err, ErrInsufficientAllowance)

	// Allowance fine, balance short.
	require.NoError(t, fx.bank.Approve(ctx, testAsset, testPayer, testFactory, "5000"))
	_, err = fx.factory.CreateEscrow(ctx, testPayer, CreateRequest{
		OrderID: "o2", Payee: testPayee, Asset: testAsset, Amount: "2000",
	})
	assert.ErrorIs(t, err, ErrInsufficientBalance)
}

func TestCreateEscrow_DuplicateOrderID(t *testing.T) {
	fx := newFixture(t)
	fx.create(t, "order-1", "100")

	_, err := fx.factory.CreateEscrow(context.Background(), testPayer, CreateRequest{
		OrderID: "order-1", Payee: testPayee, Asset: testAsset, Amount: "50",
	})
	assert.ErrorIs(t, err, ErrDuplicateOrderID)

	// The rejected attempt moved nothing.
	assert.Equal(t, "900.000000", fx.balance(t, testPayer))
	assert.Equal(t, int64(1), fx.factory.Stats(context.Background()).TotalEscrows)
}

// failingStore rejects Create after funds have already moved to custody.
type failingStore struct {
	Store
}

func (s *failingStore) Create(ctx context.Context, escrow *Escrow) error {
	return errors.New("disk full")
}

func TestCreateEscrow_StoreFailureReturnsFunds(t *testing.T) {
	fx := newFixture(t)
	factory, err := NewFactory(&failingStore{Store: fx.store}, fx.bank, FactoryConfig{
		Principal:      testFactory,
		Owner:          testOwner,
		Arbitrator:     testArbitrator,
		FeeCollector:   testCollector,
		DefaultFeeBips: 250,
	}, WithClock(fx.clock))
	require.NoError(t, err)

	_, err = factory.CreateEscrow(context.Background(), testPayer, CreateRequest{
		OrderID: "o1", Payee: testPayee, Asset: testAsset, Amount: "100",
	})
	require.Error(t, err)
	assert.Equal(t, "1000.000000", fx.balance(t, testPayer))
}

func TestRelease(t *testing.T) {
	fx := newFixture(t)
	esc := fx.create(t, "order-1", "100")
	ctx := context.Background()

	// Only the payer can release.
	_, err := fx.factory.Release(ctx, esc.ID, testPayee)
	assert.ErrorIs(t, err, ErrNotPayer)

	released, err := fx.factory.Release(ctx, esc.ID, testPayer)
	require.NoError(t, err)
	assert.Equal(t, StatusReleased, released.Status)
	require.NotNil(t, released.SettledAt)

	// 2.5% fee on 100: 2.5 to the collector, 97.5 to the payee.
	assert.Equal(t, "97.500000", fx.balance(t, testPayee))
	assert.Equal(t, "2.500000", fx.balance(t, testCollector))
	assert.Equal(t, "0.000000", fx.balance(t, esc.ID))

	// Terminal states are immutable.
	_, err = fx.factory.Release(ctx, esc.ID, testPayer)
	assert.ErrorIs(t, err, ErrInvalidStatus)
	_, err = fx.factory.Refund(ctx, esc.ID, testPayee)
	assert.ErrorIs(t, err, ErrInvalidStatus)
	_, err = fx.factory.RaiseDispute(ctx, esc.ID, testPayer, "late")
	assert.ErrorIs(t, err, ErrInvalidStatus)
}

func TestRefund(t *testing.T) {
	fx := newFixture(t)
	esc := fx.create(t, "order-1", "100")
	ctx := context.Background()

	_, err := fx.factory.Refund(ctx, esc.ID, testPayer)
	assert.ErrorIs(t, err, ErrNotPayee)

	refunded, err := fx.factory.Refund(ctx, esc.ID, testPayee)
	require.NoError(t, err)
	assert.Equal(t, StatusRefunded, refunded.Status)

	// Full amount back, no fee taken.
	assert.Equal(t, "1000.000000", fx.balance(t, testPayer))
	assert.Equal(t, "0.000000", fx.balance(t, testCollector))
}

func TestAutoRelease_Boundary(t *testing.T) {
	fx := newFixture(t)
	esc := fx.create(t, "order-1", "100")
	ctx := context.Background()

	// One second short of the window.
	fx.advance(DefaultReleaseDelay - time.Second)
	_, err := fx.factory.AutoRelease(ctx, esc.ID, "anyone")
	assert.ErrorIs(t, err, ErrTooEarly)

	// Exactly at the boundary: inclusive.
	fx.advance(time.Second)
	released, err := fx.factory.AutoRelease(ctx, esc.ID, "anyone")
	require.NoError(t, err)
	assert.Equal(t, StatusReleased, released.Status)
	assert.Equal(t, "97.500000", fx.balance(t, testPayee))
	assert.Equal(t, "2.500000", fx.balance(t, testCollector))
}

func TestAutoRelease_CustomDelay(t *testing.T) {
	fx := newFixture(t)
	esc, err := fx.factory.CreateEscrow(context.Background(), testPayer, CreateRequest{
		OrderID: "order-1", Payee: testPayee, Asset: testAsset, Amount: "10",
		ReleaseDelay: "5m",
	})
	require.NoError(t, err)
	assert.Equal(t, fx.now.Add(5*time.Minute), esc.ReleaseAfter)
}

func TestRaiseDispute(t *testing.T) {
	fx := newFixture(t)
	esc := fx.create(t, "order-1", "100")
	ctx := context.Background()

	_, err := fx.factory.RaiseDispute(ctx, esc.ID, "0xstranger", "not mine")
	assert.ErrorIs(t, err, ErrNotParty)

	_, err = fx.factory.RaiseDispute(ctx, esc.ID, testPayer, "   ")
	assert.ErrorIs(t, err, ErrEmptyReason)

	disputed, err := fx.factory.RaiseDispute(ctx, esc.ID, testPayee, "payer ghosted")
	require.NoError(t, err)
	assert.Equal(t, StatusDisputed, disputed.Status)
	assert.Equal(t, "payer ghosted", disputed.DisputeReason)
	assert.Equal(t, testPayee, disputed.DisputeRaisedBy)

	// Funds stay frozen; no normal settlement while disputed.
	assert.Equal(t, "100.000000", fx.balance(t, esc.ID))
	_, err = fx.factory.Release(ctx, esc.ID, testPayer)
	assert.ErrorIs(t, err, ErrInvalidStatus)
	_, err = fx.factory.Refund(ctx, esc.ID, testPayee)
	assert.ErrorIs(t, err, ErrInvalidStatus)

	// Auto-release never fires on a disputed escrow.
	fx.advance(2 * DefaultReleaseDelay)
	_, err = fx.factory.AutoRelease(ctx, esc.ID, "anyone")
	assert.ErrorIs(t, err, ErrInvalidStatus)
}

func TestResolveDispute_PayeeWins(t *testing.T) {
	fx := newFixture(t)
	esc := fx.create(t, "order-1", "100")
	ctx := context.Background()
	_, err := fx.factory.RaiseDispute(ctx, esc.ID, testPayer, "wrong item")
	require.NoError(t, err)

	_, err = fx.factory.ResolveDispute(ctx, esc.ID, testPayer, testPayee)
	assert.ErrorIs(t, err, ErrNotArbitrator)

	_, err = fx.factory.ResolveDispute(ctx, esc.ID, testArbitrator, "0xstranger")
	assert.ErrorIs(t, err, ErrInvalidWinner)

	resolved, err := fx.factory.ResolveDispute(ctx, esc.ID, testArbitrator, testPayee)
	require.NoError(t, err)
	assert.Equal(t, StatusResolved, resolved.Status)
	assert.Equal(t, testPayee, resolved.Winner)

	// Payee win settles like a release: fee applies.
	assert.Equal(t, "97.500000", fx.balance(t, testPayee))
	assert.Equal(t, "2.500000", fx.balance(t, testCollector))

	_, err = fx.factory.ResolveDispute(ctx, esc.ID, testArbitrator, testPayer)
	assert.ErrorIs(t, err, ErrInvalidStatus)
}

func TestResolveDispute_PayerWins(t *testing.T) {
	fx := newFixture(t)
	esc := fx.create(t, "order-1", "100")
	ctx := context.Background()
	_, err := fx.factory.RaiseDispute(ctx, esc.ID, testPayer, "never delivered")
	require.NoError(t, err)

	resolved, err := fx.factory.ResolveDispute(ctx, esc.ID, testArbitrator, testPayer)
	require.NoError(t, err)
	assert.Equal(t, StatusResolved, resolved.Status)
	assert.Equal(t, testPayer, resolved.Winner)

	// Payer win settles like a refund: full amount, no fee.
	assert.Equal(t, "1000.000000", fx.balance(t, testPayer))
	assert.Equal(t, "0.000000", fx.balance(t, testCollector))
}

func TestResolveDispute_RequiresDisputedStatus(t *testing.T) {
	fx := newFixture(t)
	esc := fx.create(t, "order-1", "100")

	_, err := fx.factory.ResolveDispute(context.Background(), esc.ID, testArbitrator, testPayee)
	assert.ErrorIs(t, err, ErrInvalidStatus)
}

// observingLedger checks the persisted status at transfer time: settlement
// must commit the terminal status before funds move.
type observingLedger struct {
	AssetLedger
	store    Store
	escrowID string
	seen     []Status
}

func (l *observingLedger) Transfer(ctx context.Context, asset, holder, recipient, amt string) error {
	if esc, err := l.store.Get(ctx, l.escrowID); err == nil {
		l.seen = append(l.seen, esc.Status)
	}
	return l.AssetLedger.Transfer(ctx, asset, holder, recipient, amt)
}

func TestRelease_StatusCommittedBeforeTransfer(t *testing.T) {
	fx := newFixture(t)
	esc := fx.create(t, "order-1", "100")

	ledger := &observingLedger{AssetLedger: fx.bank, store: fx.store, escrowID: esc.ID}
	fx.factory.assets = ledger

	_, err := fx.factory.Release(context.Background(), esc.ID, testPayer)
	require.NoError(t, err)

	require.NotEmpty(t, ledger.seen)
	for _, status := range ledger.seen {
		assert.Equal(t, StatusReleased, status)
	}
}

// failOnceLedger fails the first Transfer, then behaves.
type failOnceLedger struct {
	AssetLedger
	failed bool
}

func (l *failOnceLedger) Transfer(ctx context.Context, asset, holder, recipient, amt string) error {
	if !l.failed {
		l.failed = true
		return errors.New("rpc timeout")
	}
	return l.AssetLedger.Transfer(ctx, asset, holder, recipient, amt)
}

func TestRelease_TransferFailureReverts(t *testing.T) {
	fx := newFixture(t)
	esc := fx.create(t, "order-1", "100")
	ctx := context.Background()

	fx.factory.assets = &failOnceLedger{AssetLedger: fx.bank}

	_, err := fx.factory.Release(ctx, esc.ID, testPayer)
	require.Error(t, err)

	// Back to funded with custody intact; a retry succeeds.
	stored, err := fx.factory.Get(ctx, esc.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFunded, stored.Status)
	assert.Nil(t, stored.SettledAt)
	assert.Equal(t, "100.000000", fx.balance(t, esc.ID))

	released, err := fx.factory.Release(ctx, esc.ID, testPayer)
	require.NoError(t, err)
	assert.Equal(t, StatusReleased, released.Status)
}

func TestConcurrentSettlement_ExactlyOneWins(t *testing.T) {
	fx := newFixture(t)
	esc := fx.create(t, "order-1", "100")
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make(chan error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err := fx.factory.Release(ctx, esc.ID, testPayer)
		results <- err
	}()
	go func() {
		defer wg.Done()
		_, err := fx.factory.Refund(ctx, esc.ID, testPayee)
		results <- err
	}()
	wg.Wait()
	close(results)

	var succeeded, conflicted int
	for err := range results {
		if err == nil {
			succeeded++
		} else if errors.Is(err, ErrInvalidStatus) {
			conflicted++
		} else {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, conflicted)

	// No double spend: total supply conserved, custody empty.
	assert.Equal(t, "1000.000000", fx.bank.TotalSupply(testAsset))
	assert.Equal(t, "0.000000", fx.balance(t, esc.ID))
}

func TestAdminSetters(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	// Non-owner callers are rejected, arbitrator included.
	assert.ErrorIs(t, fx.factory.SetFeeCollector(ctx, testPayer, "0xnewfees"), ErrNotOwner)
	assert.ErrorIs(t, fx.factory.SetArbitrator(ctx, testArbitrator, "new-arb"), ErrNotOwner)
	assert.ErrorIs(t, fx.factory.SetDefaultFeeBips(ctx, testPayee, 100), ErrNotOwner)

	assert.ErrorIs(t, fx.factory.SetFeeCollector(ctx, testOwner, ""), ErrNilParty)
	assert.ErrorIs(t, fx.factory.SetDefaultFeeBips(ctx, testOwner, 10000), ErrInvalidFeeBips)

	require.NoError(t, fx.factory.SetFeeCollector(ctx, testOwner, "0xnewfees"))
	require.NoError(t, fx.factory.SetArbitrator(ctx, testOwner, "new-arb"))
	require.NoError(t, fx.factory.SetDefaultFeeBips(ctx, testOwner, 100))

	stats := fx.factory.Stats(ctx)
	assert.Equal(t, "0xnewfees", stats.FeeCollector)
	assert.Equal(t, "new-arb", stats.Arbitrator)
	assert.Equal(t, 100, stats.DefaultFeeBips)
}

func TestAdminSetters_ExistingEscrowsKeepTerms(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	esc := fx.create(t, "order-1", "100")

	require.NoError(t, fx.factory.SetFeeCollector(ctx, testOwner, "0xnewfees"))
	require.NoError(t, fx.factory.SetDefaultFeeBips(ctx, testOwner, 1000))

	// The old escrow settles on the terms it was created with.
	_, err := fx.factory.Release(ctx, esc.ID, testPayer)
	require.NoError(t, err)
	assert.Equal(t, "2.500000", fx.balance(t, testCollector))
	assert.Equal(t, "0.000000", fx.balance(t, "0xnewfees"))

	// A new escrow picks up the new terms.
	esc2 := fx.create(t, "order-2", "100")
	assert.Equal(t, 1000, esc2.FeeBips)
	assert.Equal(t, "0xnewfees", esc2.FeeCollector)
}

func TestNewArbitratorResolvesOpenDispute(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	esc := fx.create(t, "order-1", "100")
	_, err := fx.factory.RaiseDispute(ctx, esc.ID, testPayer, "bad goods")
	require.NoError(t, err)

	require.NoError(t, fx.factory.SetArbitrator(ctx, testOwner, "new-arb"))

	_, err = fx.factory.ResolveDispute(ctx, esc.ID, testArbitrator, testPayer)
	assert.ErrorIs(t, err, ErrNotArbitrator)

	resolved, err := fx.factory.ResolveDispute(ctx, esc.ID, "new-arb", testPayer)
	require.NoError(t, err)
	assert.Equal(t, StatusResolved, resolved.Status)
}

func TestStats(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	e1 := fx.create(t, "order-1", "100")
	e2 := fx.create(t, "order-2", "200")
	fx.create(t, "order-3", "50")

	_, err := fx.factory.Release(ctx, e1.ID, testPayer)
	require.NoError(t, err)
	_, err = fx.factory.RaiseDispute(ctx, e2.ID, testPayer, "unhappy")
	require.NoError(t, err)

	stats := fx.factory.Stats(ctx)
	assert.Equal(t, int64(3), stats.TotalEscrows)
	assert.Equal(t, "350.000000", stats.TotalVolume)
	assert.Equal(t, int64(1), stats.StatusCounts[string(StatusFunded)])
	assert.Equal(t, int64(1), stats.StatusCounts[string(StatusReleased)])
	assert.Equal(t, int64(1), stats.StatusCounts[string(StatusDisputed)])

	var sum int64
	for _, n := range stats.StatusCounts {
		sum += n
	}
	assert.Equal(t, stats.TotalEscrows, sum)

	assert.Equal(t, int64(3), fx.factory.ParticipantCount(testPayer))
	assert.Equal(t, int64(3), fx.factory.ParticipantCount(testPayee))
	assert.Equal(t, int64(0), fx.factory.ParticipantCount("0xstranger"))
}

func TestRestore(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	e1 := fx.create(t, "order-1", "100")
	fx.create(t, "order-2", "200")
	_, err := fx.factory.Release(ctx, e1.ID, testPayer)
	require.NoError(t, err)

	// A fresh factory over the same store starts with zeroed counters.
	factory2, err := NewFactory(fx.store, fx.bank, FactoryConfig{
		Principal:      testFactory,
		Owner:          testOwner,
		Arbitrator:     testArbitrator,
		FeeCollector:   testCollector,
		DefaultFeeBips: 250,
	}, WithClock(fx.clock))
	require.NoError(t, err)
	require.NoError(t, factory2.Restore(ctx))

	stats := factory2.Stats(ctx)
	assert.Equal(t, int64(2), stats.TotalEscrows)
	assert.Equal(t, "300.000000", stats.TotalVolume)
	assert.Equal(t, int64(1), stats.StatusCounts[string(StatusReleased)])
	assert.Equal(t, int64(1), stats.StatusCounts[string(StatusFunded)])
}

func TestEventHistory(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	esc := fx.create(t, "order-1", "100")
	_, err := fx.factory.RaiseDispute(ctx, esc.ID, testPayer, "slow")
	require.NoError(t, err)
	_, err = fx.factory.ResolveDispute(ctx, esc.ID, testArbitrator, testPayee)
	require.NoError(t, err)

	events, err := fx.factory.Events(ctx, esc.ID, 0)
	require.NoError(t, err)
	require.Len(t, events, 4)
	assert.Equal(t, EventEscrowInitialized, events[0].Type)
	assert.Equal(t, testPayer, events[0].Data["payer"])
	assert.Equal(t, EventEscrowCreated, events[1].Type)
	assert.Equal(t, EventDisputeRaised, events[2].Type)
	assert.Equal(t, EventDisputeResolved, events[3].Type)
	assert.Equal(t, testPayee, events[3].Data["winner"])
}

func TestListFilters(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	e1 := fx.create(t, "order-1", "10")
	fx.create(t, "order-2", "20")

	_, err := fx.factory.Release(ctx, e1.ID, testPayer)
	require.NoError(t, err)

	all, err := fx.factory.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "order-1", all[0].OrderID) // creation order

	funded, err := fx.factory.ListByStatus(ctx, StatusFunded, 0)
	require.NoError(t, err)
	require.Len(t, funded, 1)
	assert.Equal(t, "order-2", funded[0].OrderID)

	_, err = fx.factory.ListByStatus(ctx, Status("bogus"), 0)
	assert.ErrorIs(t, err, ErrInvalidStatus)

	mine, err := fx.factory.ListByParticipant(ctx, testPayee, 0)
	require.NoError(t, err)
	assert.Len(t, mine, 2)

	byOrder, err := fx.factory.GetByOrderID(ctx, "order-2")
	require.NoError(t, err)
	assert.Equal(t, StatusFunded, byOrder.Status)

	_, err = fx.factory.GetByOrderID(ctx, "order-404")
	assert.ErrorIs(t, err, ErrEscrowNotFound)
}
