// Package asset abstracts the fungible wager currency: a six-decimal token
// with transfer and balance semantics. The production asset lives outside
// this service; MemoryAsset backs tests and the development server.
package asset

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrInsufficientBalance is returned when a transfer exceeds the
	// sender's balance.
	ErrInsufficientBalance = errors.New("asset: insufficient balance")

	// ErrInvalidAmount is returned for zero or negative transfer amounts.
	ErrInvalidAmount = errors.New("asset: amount must be positive")
)

// Asset is the wager-currency collaborator. Amounts are micro-units.
type Asset interface {
	Transfer(ctx context.Context, from, to string, amount int64) error
	BalanceOf(ctx context.Context, account string) (int64, error)
}

// MemoryAsset implements Asset with an in-memory balance map.
type MemoryAsset struct {
	mu       sync.Mutex
	balances map[string]int64
}

// NewMemoryAsset creates an empty in-memory asset.
func NewMemoryAsset() *MemoryAsset {
	return &MemoryAsset{balances: make(map[string]int64)}
}

// Mint credits an account. Test and development wiring only.
func (a *MemoryAsset) Mint(account string, amount int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.balances[account] += amount
}

func (a *MemoryAsset) Transfer(_ context.Context, from, to string, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.balances[from] < amount {
		return fmt.Errorf("%w: %s has %d, needs %d", ErrInsufficientBalance, from, a.balances[from], amount)
	}
	a.balances[from] -= amount
	a.balances[to] += amount
	return nil
}

func (a *MemoryAsset) BalanceOf(_ context.Context, account string) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.balances[account], nil
}
