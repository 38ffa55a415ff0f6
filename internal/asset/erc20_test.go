package asset

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

const testKey = "fad9c8855b740a0b7ed4c221dbad0f33a83a49cad6b3fe8d5817ac83d38b6a19"

// fakeEthClient returns canned responses for contract calls and accepts
// every transaction as immediately mined.
type fakeEthClient struct {
	callResult []byte
	callErr    error
	sent       []*types.Transaction
	sendErr    error
	receipt    *types.Receipt
}

func (f *fakeEthClient) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return 7, nil
}

func (f *fakeEthClient) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (f *fakeEthClient) EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error) {
	return 65000, nil
}

func (f *fakeEthClient) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, tx)
	return nil
}

func (f *fakeEthClient) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	if f.receipt == nil {
		return &types.Receipt{Status: types.ReceiptStatusSuccessful}, nil
	}
	return f.receipt, nil
}

func (f *fakeEthClient) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	return f.callResult, f.callErr
}

func (f *fakeEthClient) Close() {}

func newTestERC20(t *testing.T, client EthClient) *ERC20 {
	t.Helper()
	e, err := NewERC20(ERC20Config{
		PrivateKey: testKey,
		ChainID:    84532,
		Contract:   "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
		Symbol:     "USDC",
	}, WithClient(client))
	if err != nil {
		t.Fatalf("NewERC20 failed: %v", err)
	}
	return e
}

func TestERC20_BalanceOf(t *testing.T) {
	// 1.5 tokens in 6-decimal base units, ABI-encoded as uint256.
	raw := make([]byte, 32)
	big.NewInt(1_500_000).FillBytes(raw)

	e := newTestERC20(t, &fakeEthClient{callResult: raw})

	bal, err := e.BalanceOf(context.Background(), "USDC", "0x1111111111111111111111111111111111111111")
	if err != nil {
		t.Fatalf("BalanceOf failed: %v", err)
	}
	if bal != "1.500000" {
		t.Errorf("BalanceOf = %s, want 1.500000", bal)
	}
}

func TestERC20_UnknownAsset(t *testing.T) {
	e := newTestERC20(t, &fakeEthClient{})

	if _, err := e.BalanceOf(context.Background(), "DAI", "0xdead"); !errors.Is(err, ErrUnknownAsset) {
		t.Errorf("expected ErrUnknownAsset, got %v", err)
	}
	if err := e.Transfer(context.Background(), "DAI", "pool", "0xdead", "1"); !errors.Is(err, ErrUnknownAsset) {
		t.Errorf("expected ErrUnknownAsset, got %v", err)
	}
}

func TestERC20_TransferSendsSignedTx(t *testing.T) {
	client := &fakeEthClient{}
	e := newTestERC20(t, client)

	err := e.Transfer(context.Background(), "USDC", "esc_custody", "0x2222222222222222222222222222222222222222", "2.50")
	if err != nil {
		t.Fatalf("Transfer failed: %v", err)
	}
	if len(client.sent) != 1 {
		t.Fatalf("expected 1 transaction sent, got %d", len(client.sent))
	}
	tx := client.sent[0]
	if tx.To() == nil || *tx.To() != e.contract {
		t.Error("transaction not addressed to token contract")
	}
	if tx.Nonce() != 7 {
		t.Errorf("nonce = %d, want 7", tx.Nonce())
	}
}

func TestERC20_RevertedReceipt(t *testing.T) {
	client := &fakeEthClient{receipt: &types.Receipt{Status: types.ReceiptStatusFailed}}
	e := newTestERC20(t, client)

	err := e.Transfer(context.Background(), "USDC", "pool", "0x2222222222222222222222222222222222222222", "1")
	if !errors.Is(err, ErrTransactionFailed) {
		t.Errorf("expected ErrTransactionFailed, got %v", err)
	}
}

func TestERC20_InvalidAmount(t *testing.T) {
	e := newTestERC20(t, &fakeEthClient{})

	if err := e.Transfer(context.Background(), "USDC", "pool", "0xdead", "0"); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("expected ErrInvalidAmount, got %v", err)
	}
	if err := e.TransferFrom(context.Background(), "USDC", "factory", "0xdead", "esc_1", "-1"); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("expected ErrInvalidAmount, got %v", err)
	}
}

func TestERC20_ResolveAddress(t *testing.T) {
	e := newTestERC20(t, &fakeEthClient{})

	addr := e.resolveAddress("0x2222222222222222222222222222222222222222")
	if addr != common.HexToAddress("0x2222222222222222222222222222222222222222") {
		t.Error("hex principal should resolve to itself")
	}
	if e.resolveAddress("esc_custody") != e.operator {
		t.Error("opaque principal should resolve to operator custody")
	}
}
