// Package bank implements domain.Bank with in-process account balances.
// It stands in for the settlement layer in single-node deployments and in
// tests; every Transfer is atomic under one lock.
package bank

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/nftbazaar/marketd/internal/domain"
)

// Bank holds wei balances keyed by address.
type Bank struct {
	mu       sync.Mutex
	balances map[common.Address]*big.Int
}

// New creates an empty bank.
func New() *Bank {
	return &Bank{balances: make(map[common.Address]*big.Int)}
}

// Deposit credits an account. Used to fund accounts at startup and in tests.
func (b *Bank) Deposit(addr common.Address, amount *big.Int) {
	if amount == nil || amount.Sign() <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.credit(addr, amount)
}

// Transfer moves amount from one account to another. It fails with
// ErrInsufficientFunds without touching either balance when the source
// cannot cover the amount.
func (b *Bank) Transfer(ctx context.Context, from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("bank: invalid transfer amount")
	}
	if amount.Sign() == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	bal, ok := b.balances[from]
	if !ok || bal.Cmp(amount) < 0 {
		return fmt.Errorf("bank: %s: %w", from.Hex(), domain.ErrInsufficientFunds)
	}

	bal.Sub(bal, amount)
	b.credit(to, amount)
	return nil
}

// BalanceOf returns the current balance of an account. Unknown accounts have
// a zero balance.
func (b *Bank) BalanceOf(ctx context.Context, addr common.Address) (*big.Int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if bal, ok := b.balances[addr]; ok {
		return new(big.Int).Set(bal), nil
	}
	return new(big.Int), nil
}

// credit adds to an account balance. Callers must hold mu.
func (b *Bank) credit(addr common.Address, amount *big.Int) {
	if bal, ok := b.balances[addr]; ok {
		bal.Add(bal, amount)
		return
	}
	b.balances[addr] = new(big.Int).Set(amount)
}

// Compile-time interface check.
var _ domain.Bank = (*Bank)(nil)
