// Package asset provides fungible-asset ledger implementations.
//
// The escrow core only needs four capabilities from an asset ledger:
// allowance and balance queries, allowance-honoring transferFrom, and
// transfer of already-held funds. The core never mints or burns.
//
// Two implementations exist: Bank, an in-memory multi-asset ledger for
// development and tests, and ERC20, an adapter over an on-chain token.
package asset

import (
	"context"
	"errors"
	"math/big"
	"sync"

	"github.com/clearhold/clearhold/internal/amount"
)

var (
	ErrInvalidAmount         = errors.New("asset: invalid amount")
	ErrInsufficientBalance   = errors.New("asset: insufficient balance")
	ErrInsufficientAllowance = errors.New("asset: insufficient allowance")
)

// Bank is an in-memory multi-asset fungible ledger. Balances and allowances
// are keyed by asset identity and principal; missing entries read as zero.
type Bank struct {
	mu         sync.RWMutex
	balances   map[string]map[string]*big.Int            // asset -> account -> balance
	allowances map[string]map[string]map[string]*big.Int // asset -> owner -> spender -> remaining
}

// NewBank creates an empty in-memory asset ledger.
func NewBank() *Bank {
	return &Bank{
		balances:   make(map[string]map[string]*big.Int),
		allowances: make(map[string]map[string]map[string]*big.Int),
	}
}

// Mint credits an account out of thin air. Development and test use only;
// the escrow core never calls this.
func (b *Bank) Mint(ctx context.Context, asset, account, amt string) error {
	v, ok := amount.Parse(amt)
	if !ok || v.Sign() <= 0 {
		return ErrInvalidAmount
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.credit(asset, account, v)
	return nil
}

// Approve sets (not increments) the allowance of spender over owner's funds.
func (b *Bank) Approve(ctx context.Context, asset, owner, spender, amt string) error {
	v, ok := amount.Parse(amt)
	if !ok || v.Sign() < 0 {
		return ErrInvalidAmount
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.allowances[asset] == nil {
		b.allowances[asset] = make(map[string]map[string]*big.Int)
	}
	if b.allowances[asset][owner] == nil {
		b.allowances[asset][owner] = make(map[string]*big.Int)
	}
	b.allowances[asset][owner][spender] = v
	return nil
}

// Allowance returns the remaining allowance of spender over owner's funds.
func (b *Bank) Allowance(ctx context.Context, asset, owner, spender string) (string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if byOwner, ok := b.allowances[asset]; ok {
		if bySpender, ok := byOwner[owner]; ok {
			if v, ok := bySpender[spender]; ok {
				return amount.Format(v), nil
			}
		}
	}
	return amount.Format(nil), nil
}

// BalanceOf returns the balance held by an account.
func (b *Bank) BalanceOf(ctx context.Context, asset, account string) (string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if accounts, ok := b.balances[asset]; ok {
		if v, ok := accounts[account]; ok {
			return amount.Format(v), nil
		}
	}
	return amount.Format(nil), nil
}

// TransferFrom moves funds from owner to recipient on the authority of a
// prior approval to spender, decrementing the allowance.
func (b *Bank) TransferFrom(ctx context.Context, asset, spender, owner, recipient, amt string) error {
	v, ok := amount.Parse(amt)
	if !ok || v.Sign() <= 0 {
		return ErrInvalidAmount
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	allowed := b.allowance(asset, owner, spender)
	if allowed.Cmp(v) < 0 {
		return ErrInsufficientAllowance
	}
	if b.balance(asset, owner).Cmp(v) < 0 {
		return ErrInsufficientBalance
	}

	b.allowances[asset][owner][spender] = new(big.Int).Sub(allowed, v)
	b.debit(asset, owner, v)
	b.credit(asset, recipient, v)
	return nil
}

// Transfer moves funds already held by holder to recipient.
func (b *Bank) Transfer(ctx context.Context, asset, holder, recipient, amt string) error {
	v, ok := amount.Parse(amt)
	if !ok || v.Sign() <= 0 {
		return ErrInvalidAmount
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.balance(asset, holder).Cmp(v) < 0 {
		return ErrInsufficientBalance
	}
	b.debit(asset, holder, v)
	b.credit(asset, recipient, v)
	return nil
}

// TotalSupply sums all balances of an asset. Used by tests to check
// conservation across settlements.
func (b *Bank) TotalSupply(asset string) string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	total := new(big.Int)
	for _, v := range b.balances[asset] {
		total.Add(total, v)
	}
	return amount.Format(total)
}

// callers hold b.mu

func (b *Bank) balance(asset, account string) *big.Int {
	if accounts, ok := b.balances[asset]; ok {
		if v, ok := accounts[account]; ok {
			return v
		}
	}
	return big.NewInt(0)
}

func (b *Bank) allowance(asset, owner, spender string) *big.Int {
	if byOwner, ok := b.allowances[asset]; ok {
		if bySpender, ok := byOwner[owner]; ok {
			if v, ok := bySpender[spender]; ok {
				return v
			}
		}
	}
	return big.NewInt(0)
}

func (b *Bank) credit(asset, account string, v *big.Int) {
	if b.balances[asset] == nil {
		b.balances[asset] = make(map[string]*big.Int)
	}
	cur := b.balance(asset, account)
	b.balances[asset][account] = new(big.Int).Add(cur, v)
}

func (b *Bank) debit(asset, account string, v *big.Int) {
	cur := b.balance(asset, account)
	b.balances[asset][account] = new(big.Int).Sub(cur, v)
}
