package escrow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweeper_ReleasesDueEscrows(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	due1, err := fx.factory.CreateEscrow(ctx, testPayer, CreateRequest{
		OrderID: "order-1", Payee: testPayee, Asset: testAsset, Amount: "10",
		ReleaseDelay: "1m",
	})
	require.NoError(t, err)
	due2, err := fx.factory.CreateEscrow(ctx, testPayer, CreateRequest{
		OrderID: "order-2", Payee: testPayee, Asset: testAsset, Amount: "20",
		ReleaseDelay: "2m",
	})
	require.NoError(t, err)
	notDue := fx.create(t, "order-3", "30") // default 72h delay

	fx.advance(5 * time.Minute)

	sweeper := NewSweeper(fx.factory, time.Minute, nil)
	released := sweeper.Sweep()
	assert.Equal(t, 2, released)

	for _, id := range []string{due1.ID, due2.ID} {
		esc, err := fx.factory.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, StatusReleased, esc.Status)
	}
	esc, err := fx.factory.Get(ctx, notDue.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFunded, esc.Status)

	// Nothing left to do.
	assert.Equal(t, 0, sweeper.Sweep())
}

func TestSweeper_SkipsDisputed(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	esc, err := fx.factory.CreateEscrow(ctx, testPayer, CreateRequest{
		OrderID: "order-1", Payee: testPayee, Asset: testAsset, Amount: "10",
		ReleaseDelay: "1m",
	})
	require.NoError(t, err)
	_, err = fx.factory.RaiseDispute(ctx, esc.ID, testPayer, "hold it")
	require.NoError(t, err)

	fx.advance(time.Hour)

	sweeper := NewSweeper(fx.factory, time.Minute, nil)
	assert.Equal(t, 0, sweeper.Sweep())

	got, err := fx.factory.Get(ctx, esc.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusDisputed, got.Status)
}

func TestSweeper_StartStop(t *testing.T) {
	fx := newFixture(t)
	sweeper := NewSweeper(fx.factory, time.Second, nil)

	sweeper.Start()
	sweeper.Start() // second start is a no-op
	sweeper.Stop()
	sweeper.Stop() // second stop is a no-op
}
