package vault

import (
	"context"
	"sync"

	"github.com/parlaypool/settlement-engine/internal/asset"
)

// YieldAdapter deploys idle vault capital externally. The adapter is an
// external collaborator; the vault only tracks what it has handed over.
type YieldAdapter interface {
	Deploy(ctx context.Context, amount int64) error
	Withdraw(ctx context.Context, amount int64) error
	Balance(ctx context.Context) (int64, error)
	EmergencyWithdraw(ctx context.Context) (int64, error)
}

// MemoryYieldAdapter holds deployed capital in its own currency account.
// It earns nothing; tests that need accrual credit the account directly.
type MemoryYieldAdapter struct {
	mu       sync.Mutex
	currency asset.Asset
	account  string
	vault    string
	held     int64
}

// NewMemoryYieldAdapter creates an adapter moving funds between the vault
// account and its own.
func NewMemoryYieldAdapter(currency asset.Asset, account, vaultAccount string) *MemoryYieldAdapter {
	return &MemoryYieldAdapter{currency: currency, account: account, vault: vaultAccount}
}

func (y *MemoryYieldAdapter) Deploy(ctx context.Context, amount int64) error {
	y.mu.Lock()
	defer y.mu.Unlock()
	if err := y.currency.Transfer(ctx, y.vault, y.account, amount); err != nil {
		return err
	}
	y.held += amount
	return nil
}

func (y *MemoryYieldAdapter) Withdraw(ctx context.Context, amount int64) error {
	y.mu.Lock()
	defer y.mu.Unlock()
	if err := y.currency.Transfer(ctx, y.account, y.vault, amount); err != nil {
		return err
	}
	y.held -= amount
	return nil
}

func (y *MemoryYieldAdapter) Balance(_ context.Context) (int64, error) {
	y.mu.Lock()
	defer y.mu.Unlock()
	return y.held, nil
}

func (y *MemoryYieldAdapter) EmergencyWithdraw(ctx context.Context) (int64, error) {
	y.mu.Lock()
	defer y.mu.Unlock()
	amount := y.held
	if amount > 0 {
		if err := y.currency.Transfer(ctx, y.account, y.vault, amount); err != nil {
			return 0, err
		}
		y.held = 0
	}
	return amount, nil
}
