package asset

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/clearhold/clearhold/internal/amount"
)

var (
	ErrUnknownAsset      = errors.New("asset: unknown asset")
	ErrInvalidPrivateKey = errors.New("asset: invalid private key")
	ErrRPCConnection     = errors.New("asset: RPC connection failed")
	ErrTransactionFailed = errors.New("asset: transaction failed")
	ErrTimeout           = errors.New("asset: confirmation timed out")
)

// Minimal ERC-20 ABI: the four capabilities the escrow core depends on.
const erc20ABI = `[
	{"constant":true,"inputs":[{"name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"type":"function"},
	{"constant":true,"inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"name":"allowance","outputs":[{"name":"","type":"uint256"}],"type":"function"},
	{"constant":false,"inputs":[{"name":"to","type":"address"},{"name":"value","type":"uint256"}],"name":"transfer","outputs":[{"name":"","type":"bool"}],"type":"function"},
	{"constant":false,"inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"value","type":"uint256"}],"name":"transferFrom","outputs":[{"name":"","type":"bool"}],"type":"function"}
]`

const (
	// DefaultGasLimit for ERC-20 transfers when estimation fails.
	DefaultGasLimit = uint64(100000)

	// ConfirmationTimeout bounds the receipt wait after a send.
	ConfirmationTimeout = 60 * time.Second

	// ConfirmationPollInterval between receipt checks.
	ConfirmationPollInterval = 2 * time.Second
)

var ethAddressRegex = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)

// EthClient abstracts the go-ethereum client for testing.
type EthClient interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	Close()
}

// ERC20Config configures the on-chain adapter.
type ERC20Config struct {
	RPCURL     string
	PrivateKey string // Hex operator key, with or without 0x prefix
	ChainID    int64
	Contract   string // Token contract address
	Symbol     string // Asset identity this adapter settles (e.g. "USDC")
}

// ERC20 settles the asset-ledger capability against an on-chain token.
//
// Custody model: on-chain funds are pooled at the operator wallet. Principals
// that are not hex addresses (per-escrow custody accounts, the factory
// principal) resolve to the operator address; the factory's store remains the
// source of truth for per-escrow holdings. Payers grant their allowance to
// the operator address.
type ERC20 struct {
	client     EthClient
	privateKey *ecdsa.PrivateKey
	operator   common.Address
	chainID    *big.Int
	contract   common.Address
	tokenABI   abi.ABI
	symbol     string
}

// ERC20Option configures the adapter.
type ERC20Option func(*ERC20)

// WithClient sets a custom Ethereum client (useful for testing).
func WithClient(client EthClient) ERC20Option {
	return func(e *ERC20) {
		e.client = client
	}
}

// NewERC20 creates an adapter for a single 6-decimal token contract.
func NewERC20(cfg ERC20Config, opts ...ERC20Option) (*ERC20, error) {
	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPrivateKey, err)
	}

	publicKey, ok := privateKey.Public().(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: failed to derive public key", ErrInvalidPrivateKey)
	}

	parsedABI, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse ERC20 ABI: %w", err)
	}

	e := &ERC20{
		privateKey: privateKey,
		operator:   crypto.PubkeyToAddress(*publicKey),
		chainID:    big.NewInt(cfg.ChainID),
		contract:   common.HexToAddress(cfg.Contract),
		tokenABI:   parsedABI,
		symbol:     cfg.Symbol,
	}

	for _, opt := range opts {
		opt(e)
	}

	if e.client == nil {
		client, err := ethclient.Dial(cfg.RPCURL)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRPCConnection, err)
		}
		e.client = client
	}

	return e, nil
}

// Operator returns the operator wallet address. Payers approve this address
// before escrow creation.
func (e *ERC20) Operator() string {
	return e.operator.Hex()
}

// Close releases the underlying RPC connection.
func (e *ERC20) Close() {
	e.client.Close()
}

// Allowance returns the on-chain allowance of spender over owner's tokens.
func (e *ERC20) Allowance(ctx context.Context, asset, owner, spender string) (string, error) {
	if err := e.checkAsset(asset); err != nil {
		return "", err
	}
	out, err := e.call(ctx, "allowance", e.resolveAddress(owner), e.resolveAddress(spender))
	if err != nil {
		return "", err
	}
	return amount.Format(out), nil
}

// BalanceOf returns the on-chain token balance of an account.
func (e *ERC20) BalanceOf(ctx context.Context, asset, account string) (string, error) {
	if err := e.checkAsset(asset); err != nil {
		return "", err
	}
	out, err := e.call(ctx, "balanceOf", e.resolveAddress(account))
	if err != nil {
		return "", err
	}
	return amount.Format(out), nil
}

// TransferFrom pulls tokens from owner into pooled custody using the
// owner's prior approval of the operator address.
func (e *ERC20) TransferFrom(ctx context.Context, asset, spender, owner, recipient, amt string) error {
	if err := e.checkAsset(asset); err != nil {
		return err
	}
	v, ok := amount.Parse(amt)
	if !ok || v.Sign() <= 0 {
		return ErrInvalidAmount
	}
	return e.send(ctx, "transferFrom", e.resolveAddress(owner), e.resolveAddress(recipient), v)
}

// Transfer sends tokens from pooled custody to a recipient.
func (e *ERC20) Transfer(ctx context.Context, asset, holder, recipient, amt string) error {
	if err := e.checkAsset(asset); err != nil {
		return err
	}
	v, ok := amount.Parse(amt)
	if !ok || v.Sign() <= 0 {
		return ErrInvalidAmount
	}
	return e.send(ctx, "transfer", e.resolveAddress(recipient), v)
}

func (e *ERC20) checkAsset(asset string) error {
	if !strings.EqualFold(asset, e.symbol) {
		return fmt.Errorf("%w: %s (adapter settles %s)", ErrUnknownAsset, asset, e.symbol)
	}
	return nil
}

// resolveAddress maps a principal to an on-chain address. Non-address
// principals (escrow custody accounts, the factory principal) resolve to the
// operator wallet.
func (e *ERC20) resolveAddress(principal string) common.Address {
	if ethAddressRegex.MatchString(principal) {
		return common.HexToAddress(principal)
	}
	return e.operator
}

func (e *ERC20) call(ctx context.Context, method string, args ...interface{}) (*big.Int, error) {
	data, err := e.tokenABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s call: %w", method, err)
	}

	result, err := e.client.CallContract(ctx, ethereum.CallMsg{
		To:   &e.contract,
		Data: data,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to call %s: %w", method, err)
	}

	out := new(big.Int)
	out.SetBytes(result)
	return out, nil
}

func (e *ERC20) send(ctx context.Context, method string, args ...interface{}) error {
	data, err := e.tokenABI.Pack(method, args...)
	if err != nil {
		return fmt.Errorf("failed to pack %s call: %w", method, err)
	}

	nonce, err := e.client.PendingNonceAt(ctx, e.operator)
	if err != nil {
		return fmt.Errorf("failed to get nonce: %w", err)
	}

	gasPrice, err := e.client.SuggestGasPrice(ctx)
	if err != nil {
		return fmt.Errorf("failed to get gas price: %w", err)
	}

	gasLimit, err := e.client.EstimateGas(ctx, ethereum.CallMsg{
		From:  e.operator,
		To:    &e.contract,
		Value: big.NewInt(0),
		Data:  data,
	})
	if err != nil {
		gasLimit = DefaultGasLimit
	}

	tx := types.NewTransaction(nonce, e.contract, big.NewInt(0), gasLimit, gasPrice, data)
	signedTx, err := types.SignTx(tx, types.NewEIP155Signer(e.chainID), e.privateKey)
	if err != nil {
		return fmt.Errorf("failed to sign transaction: %w", err)
	}

	if err := e.client.SendTransaction(ctx, signedTx); err != nil {
		return fmt.Errorf("failed to send transaction: %w", err)
	}

	return e.waitMined(ctx, signedTx.Hash())
}

func (e *ERC20) waitMined(ctx context.Context, txHash common.Hash) error {
	deadline := time.Now().Add(ConfirmationTimeout)
	ticker := time.NewTicker(ConfirmationPollInterval)
	defer ticker.Stop()

	for {
		receipt, err := e.client.TransactionReceipt(ctx, txHash)
		if err == nil {
			if receipt.Status != types.ReceiptStatusSuccessful {
				return fmt.Errorf("%w: tx %s reverted", ErrTransactionFailed, txHash.Hex())
			}
			return nil
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("%w: tx %s", ErrTimeout, txHash.Hex())
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
