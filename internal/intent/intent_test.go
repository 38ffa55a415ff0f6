package intent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	return NewService(NewMemoryStore())
}

func TestService_Create(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	in, err := svc.Create(ctx, "0xbob", CreateRequest{
		OrderID: "order-1", Payer: "0xalice", Asset: "USDC", Amount: "25",
	})
	require.NoError(t, err)
	assert.Equal(t, StatusPending, in.Status)
	assert.Equal(t, "0xbob", in.Payee)
	assert.Equal(t, "0xalice", in.Payer)
	assert.Equal(t, "25.000000", in.Amount)

	_, err = svc.Create(ctx, "0xbob", CreateRequest{
		OrderID: "order-1", Asset: "USDC", Amount: "10",
	})
	assert.ErrorIs(t, err, ErrDuplicateOrder)
}

func TestService_Create_OpenIntent(t *testing.T) {
	svc := newTestService(t)

	// No named payer: any principal may fund the order later.
	in, err := svc.Create(context.Background(), "0xbob", CreateRequest{
		OrderID: "order-open", Asset: "USDC", Amount: "5", ReleaseDelay: "48h",
	})
	require.NoError(t, err)
	assert.Empty(t, in.Payer)
	assert.Equal(t, "48h", in.ReleaseDelay)
}

func TestService_Create_Validation(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	cases := []struct {
		name  string
		payee string
		req   CreateRequest
	}{
		{"empty order", "b", CreateRequest{OrderID: "  ", Asset: "USDC", Amount: "1"}},
		{"no payee", "", CreateRequest{OrderID: "o", Asset: "USDC", Amount: "1"}},
		{"no asset", "b", CreateRequest{OrderID: "o", Amount: "1"}},
		{"zero amount", "b", CreateRequest{OrderID: "o", Asset: "USDC", Amount: "0"}},
		{"bad amount", "b", CreateRequest{OrderID: "o", Asset: "USDC", Amount: "x"}},
		{"bad delay", "b", CreateRequest{OrderID: "o", Asset: "USDC", Amount: "1", ReleaseDelay: "soon"}},
		{"negative delay", "b", CreateRequest{OrderID: "o", Asset: "USDC", Amount: "1", ReleaseDelay: "-1h"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Create(ctx, tc.payee, tc.req)
			assert.ErrorIs(t, err, ErrInvalidIntent)
		})
	}
}

func TestService_Cancel(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	_, err := svc.Create(ctx, "0xbob", CreateRequest{
		OrderID: "order-1", Payer: "0xalice", Asset: "USDC", Amount: "25",
	})
	require.NoError(t, err)

	_, err = svc.Cancel(ctx, "order-1", "0xstranger")
	assert.ErrorIs(t, err, ErrNotIntentParty)

	in, err := svc.Cancel(ctx, "order-1", "0xalice")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, in.Status)

	_, err = svc.Cancel(ctx, "order-1", "0xbob")
	assert.ErrorIs(t, err, ErrNotPending)

	_, err = svc.Cancel(ctx, "order-404", "0xbob")
	assert.ErrorIs(t, err, ErrIntentNotFound)
}

func TestService_Cancel_OpenIntent(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	_, err := svc.Create(ctx, "0xbob", CreateRequest{
		OrderID: "order-1", Asset: "USDC", Amount: "25",
	})
	require.NoError(t, err)

	// With no payer named, only the payee can withdraw it.
	_, err = svc.Cancel(ctx, "order-1", "0xalice")
	assert.ErrorIs(t, err, ErrNotIntentParty)

	in, err := svc.Cancel(ctx, "order-1", "0xbob")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, in.Status)
}

func TestService_MarkPaidAndPending(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	_, err := svc.Create(ctx, "0xbob", CreateRequest{
		OrderID: "order-1", Payer: "0xalice", Asset: "USDC", Amount: "25",
	})
	require.NoError(t, err)

	pending, err := svc.Pending(ctx, "order-1")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, pending.Status)

	require.NoError(t, svc.MarkPaid(ctx, "order-1", "esc_1"))

	got, err := svc.Get(ctx, "order-1")
	require.NoError(t, err)
	assert.Equal(t, StatusPaid, got.Status)
	assert.Equal(t, "esc_1", got.EscrowID)

	_, err = svc.Pending(ctx, "order-1")
	assert.ErrorIs(t, err, ErrNotPending)

	assert.ErrorIs(t, svc.MarkPaid(ctx, "order-1", "esc_2"), ErrNotPending)
}

func TestService_List(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	for _, order := range []string{"o1", "o2", "o3"} {
		_, err := svc.Create(ctx, "0xbob", CreateRequest{
			OrderID: order, Asset: "USDC", Amount: "1",
		})
		require.NoError(t, err)
	}
	_, err := svc.Cancel(ctx, "o2", "0xbob")
	require.NoError(t, err)

	all, err := svc.List(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	pending, err := svc.List(ctx, StatusPending, 0)
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	limited, err := svc.List(ctx, "", 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "o1", limited[0].OrderID)
}

func TestEscrowSource(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	_, err := svc.Create(ctx, "0xbob", CreateRequest{
		OrderID: "order-1", Payer: "0xalice", Asset: "USDC", Amount: "25",
		Metadata: "inv-9", ReleaseDelay: "48h",
	})
	require.NoError(t, err)

	src := NewEscrowSource(svc)
	oi, err := src.PendingIntent(ctx, "order-1")
	require.NoError(t, err)
	assert.Equal(t, "0xalice", oi.Payer)
	assert.Equal(t, "0xbob", oi.Payee)
	assert.Equal(t, "25.000000", oi.Amount)
	assert.Equal(t, "inv-9", oi.Metadata)
	assert.Equal(t, "48h", oi.ReleaseDelay)

	require.NoError(t, src.MarkPaid(ctx, "order-1", "esc_1"))

	_, err = src.PendingIntent(ctx, "order-1")
	assert.Error(t, err)
}
