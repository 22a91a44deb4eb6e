// Package rewards implements pull-based fee distribution to liquidity
// providers who lock vault shares for a fixed commitment tier.
//
// Distribution runs on a single running accumulator (reward per weighted
// share, scaled by 1e12); each position checkpoints the accumulator value
// at its last interaction as reward debt, so shares entering or leaving the
// weighted pool never retroactively gain or lose past rewards. A position's
// rewards are always settled strictly before its weight leaves the global
// total; shrinking the denominator first would silently mis-price every
// other position's pending reward.
package rewards

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/parlaypool/settlement-engine/internal/asset"
	"github.com/parlaypool/settlement-engine/internal/model"
	"github.com/parlaypool/settlement-engine/internal/store"
	"github.com/parlaypool/settlement-engine/internal/vault"
)

var (
	// ErrUnknownTier is returned for a tier name with no configuration.
	ErrUnknownTier = errors.New("rewards: unknown tier")

	// ErrNotMature is returned when unlocking before the commitment ends.
	ErrNotMature = errors.New("rewards: position not yet mature")

	// ErrAlreadyMature is returned when early-withdrawing a matured
	// position; use Unlock instead.
	ErrAlreadyMature = errors.New("rewards: position already mature")

	// ErrNotOwner is returned when a caller operates someone else's
	// position.
	ErrNotOwner = errors.New("rewards: caller does not own position")

	// ErrClosed is returned for operations on an already-closed position.
	ErrClosed = errors.New("rewards: position closed")

	// ErrInvalidAmount is returned for non-positive share quantities.
	ErrInvalidAmount = errors.New("rewards: shares must be positive")

	// ErrInvalidParam is returned by bounded setters for out-of-range
	// parameters.
	ErrInvalidParam = errors.New("rewards: parameter out of bounds")
)

const bpsScale int64 = 10_000

// accPrecision scales the per-weighted-share accumulator.
var accPrecision = big.NewInt(1_000_000_000_000)

// Tier is a commitment duration with its reward-weight multiplier.
type Tier struct {
	Duration  time.Duration `json:"duration"`
	WeightBps int64         `json:"weight_bps"`
}

// DefaultTiers mirror the protocol's launch configuration.
func DefaultTiers() map[string]Tier {
	return map[string]Tier{
		"30d":  {Duration: 30 * 24 * time.Hour, WeightBps: 10_000},
		"90d":  {Duration: 90 * 24 * time.Hour, WeightBps: 12_500},
		"180d": {Duration: 180 * 24 * time.Hour, WeightBps: 15_000},
		"365d": {Duration: 365 * 24 * time.Hour, WeightBps: 20_000},
	}
}

// Ledger is the reward distribution core. It custodies locked shares under
// its own share account and pays rewards from its currency account, funded
// by the vault's fee routing.
type Ledger struct {
	mu sync.Mutex

	shares   *vault.Custodian
	currency asset.Asset
	account  string
	store    store.Store
	sink     model.EventSink

	acc            *big.Int // reward per weighted share, scaled by accPrecision
	totalWeighted  int64
	undistributed  int64 // fees banked while nothing was locked
	surplusShares  int64 // forfeited early-withdraw principal
	basePenaltyBps int64
	tiers          map[string]Tier

	now func() time.Time
}

// New creates a reward ledger over the vault's shares. account is both its
// share-custody and currency account. The ledger claims the vault's single
// share-custody handle; a second ledger over the same vault fails. sink may
// be nil.
func New(shares *vault.Vault, currency asset.Asset, account string, st store.Store, basePenaltyBps int64, tiers map[string]Tier, sink model.EventSink) (*Ledger, error) {
	if basePenaltyBps < 0 || basePenaltyBps > bpsScale {
		return nil, ErrInvalidParam
	}
	if len(tiers) == 0 {
		tiers = DefaultTiers()
	}
	for name, tier := range tiers {
		if tier.Duration <= 0 || tier.WeightBps <= 0 {
			return nil, fmt.Errorf("%w: tier %s", ErrInvalidParam, name)
		}
	}
	// Claimed last so a rejected configuration does not consume the handle.
	custodian, err := shares.Custodian()
	if err != nil {
		return nil, err
	}
	return &Ledger{
		shares:         custodian,
		currency:       currency,
		account:        account,
		store:          st,
		sink:           sink,
		acc:            new(big.Int),
		basePenaltyBps: basePenaltyBps,
		tiers:          tiers,
		now:            time.Now,
	}, nil
}

// Account returns the ledger's currency account. Part of the vault.FeeSink
// contract.
func (l *Ledger) Account() string { return l.account }

// NotifyFees folds routed fee income into the accumulator. Called by the
// vault only, after the currency has already been transferred to the
// ledger's account. With nothing locked the amount is banked and folded in
// on the next lock open; fees must never vanish into a zero-denominator
// update.
func (l *Ledger) NotifyFees(amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.totalWeighted == 0 {
		l.undistributed += amount
	} else {
		l.foldLocked(amount)
	}
	l.emit(model.Event{Type: model.EventRewardAccrued, Amount: amount})
	return nil
}

// foldLocked adds amount/totalWeighted to the accumulator. Caller holds the
// mutex and has checked totalWeighted > 0.
func (l *Ledger) foldLocked(amount int64) {
	delta := new(big.Int).Mul(big.NewInt(amount), accPrecision)
	delta.Quo(delta, big.NewInt(l.totalWeighted))
	l.acc.Add(l.acc, delta)
}

// Lock commits shares for a tier. The position's reward debt is snapshotted
// before any banked fees are folded in, so the opening locker collects the
// banked backlog.
func (l *Ledger) Lock(ctx context.Context, owner string, shares int64, tierName string) (*model.LockPosition, error) {
	if shares <= 0 {
		return nil, ErrInvalidAmount
	}
	tier, ok := l.tiers[tierName]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTier, tierName)
	}
	weighted := shares * tier.WeightBps / bpsScale
	if weighted <= 0 {
		return nil, ErrInvalidAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.shares.TransferShares(owner, l.account, shares); err != nil {
		return nil, err
	}

	now := l.now().UTC()
	pos := &model.LockPosition{
		ID:         uuid.New().String(),
		Owner:      owner,
		Shares:     shares,
		Tier:       tierName,
		WeightBps:  tier.WeightBps,
		Weighted:   weighted,
		RewardDebt: new(big.Int).Set(l.acc),
		LockedAt:   now,
		UnlockAt:   now.Add(tier.Duration),
		Status:     model.LockLocked,
	}

	l.totalWeighted += weighted
	if l.undistributed > 0 {
		banked := l.undistributed
		l.undistributed = 0
		l.foldLocked(banked)
	}

	if err := l.store.CreateLockPosition(ctx, pos); err != nil {
		// Persistence failed; undo the in-memory commitment.
		l.totalWeighted -= weighted
		l.shares.TransferShares(l.account, owner, shares)
		return nil, err
	}

	l.emit(model.Event{
		Type: model.EventSharesLocked, PositionID: pos.ID, Account: owner,
		Shares: shares, Detail: map[string]string{"tier": tierName},
	})
	return pos.Clone(), nil
}

// pendingLocked computes a position's unsettled reward. Caller holds the
// mutex.
func (l *Ledger) pendingLocked(pos *model.LockPosition) int64 {
	diff := new(big.Int).Sub(l.acc, pos.RewardDebt)
	if diff.Sign() <= 0 {
		return 0
	}
	diff.Mul(diff, big.NewInt(pos.Weighted))
	diff.Quo(diff, accPrecision)
	return diff.Int64()
}

// settleLocked pays a position's pending reward and advances its debt
// checkpoint. Runs strictly before any change to totalWeighted.
func (l *Ledger) settleLocked(ctx context.Context, pos *model.LockPosition) (int64, error) {
	pending := l.pendingLocked(pos)
	if pending > 0 {
		if err := l.currency.Transfer(ctx, l.account, pos.Owner, pending); err != nil {
			return 0, err
		}
	}
	pos.RewardDebt = new(big.Int).Set(l.acc)
	return pending, nil
}

// Pending returns a position's currently claimable reward.
func (l *Ledger) Pending(ctx context.Context, positionID string) (int64, error) {
	pos, err := l.store.GetLockPosition(ctx, positionID)
	if err != nil {
		return 0, err
	}
	if pos.Status != model.LockLocked {
		return 0, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pendingLocked(pos), nil
}

// Unlock closes a matured position: settle pending reward, remove the
// weighted contribution, return full principal.
func (l *Ledger) Unlock(ctx context.Context, caller, positionID string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	// Fetched under the mutex so a concurrent close is observed before the
	// status check.
	pos, err := l.store.GetLockPosition(ctx, positionID)
	if err != nil {
		return 0, err
	}
	if pos.Owner != caller {
		return 0, ErrNotOwner
	}
	if pos.Status != model.LockLocked {
		return 0, ErrClosed
	}

	if l.now().Before(pos.UnlockAt) {
		return 0, fmt.Errorf("%w: unlocks at %s", ErrNotMature, pos.UnlockAt.Format(time.RFC3339))
	}

	paid, err := l.settleLocked(ctx, pos)
	if err != nil {
		return 0, err
	}
	l.totalWeighted -= pos.Weighted

	if err := l.shares.TransferShares(l.account, pos.Owner, pos.Shares); err != nil {
		l.totalWeighted += pos.Weighted
		return 0, err
	}
	pos.Status = model.LockUnlocked
	if err := l.store.UpdateLockPosition(ctx, pos); err != nil {
		return 0, err
	}

	if paid > 0 {
		l.emit(model.Event{Type: model.EventRewardPaid, PositionID: pos.ID, Account: pos.Owner, Amount: paid})
	}
	l.emit(model.Event{
		Type: model.EventSharesUnlocked, PositionID: pos.ID, Account: pos.Owner,
		Shares: pos.Shares,
	})
	return paid, nil
}

// EarlyWithdraw closes a position before maturity. Pending reward settles
// first; the principal comes back minus a linearly time-decayed penalty,
// and the forfeited shares remain with the ledger as redistributable
// surplus.
func (l *Ledger) EarlyWithdraw(ctx context.Context, caller, positionID string) (returned, penalty int64, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	pos, err := l.store.GetLockPosition(ctx, positionID)
	if err != nil {
		return 0, 0, err
	}
	if pos.Owner != caller {
		return 0, 0, ErrNotOwner
	}
	if pos.Status != model.LockLocked {
		return 0, 0, ErrClosed
	}

	now := l.now()
	if !now.Before(pos.UnlockAt) {
		return 0, 0, ErrAlreadyMature
	}

	paid, err := l.settleLocked(ctx, pos)
	if err != nil {
		return 0, 0, err
	}
	l.totalWeighted -= pos.Weighted

	total := pos.UnlockAt.Sub(pos.LockedAt)
	remaining := pos.UnlockAt.Sub(now)
	penaltyBps := l.basePenaltyBps * int64(remaining) / int64(total)
	penalty = pos.Shares * penaltyBps / bpsScale
	returned = pos.Shares - penalty

	if returned > 0 {
		if err := l.shares.TransferShares(l.account, pos.Owner, returned); err != nil {
			l.totalWeighted += pos.Weighted
			return 0, 0, err
		}
	}
	l.surplusShares += penalty

	pos.Status = model.LockWithdrawn
	if err := l.store.UpdateLockPosition(ctx, pos); err != nil {
		return 0, 0, err
	}

	if paid > 0 {
		l.emit(model.Event{Type: model.EventRewardPaid, PositionID: pos.ID, Account: pos.Owner, Amount: paid})
	}
	l.emit(model.Event{
		Type: model.EventEarlyWithdraw, PositionID: pos.ID, Account: pos.Owner,
		Shares: returned, Detail: map[string]string{
			"penalty_shares": fmt.Sprintf("%d", penalty),
		},
	})
	return returned, penalty, nil
}

// Stats is a read-only snapshot of ledger totals.
type Stats struct {
	TotalWeighted int64  `json:"total_weighted"`
	Undistributed int64  `json:"undistributed"`
	SurplusShares int64  `json:"surplus_shares"`
	AccPerShare   string `json:"acc_per_weighted_share"`
}

// Snapshot returns current ledger totals.
func (l *Ledger) Snapshot() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Stats{
		TotalWeighted: l.totalWeighted,
		Undistributed: l.undistributed,
		SurplusShares: l.surplusShares,
		AccPerShare:   l.acc.String(),
	}
}

// SetBasePenalty adjusts the early-withdraw penalty base. Open positions
// are priced with the live value at withdraw time; the commitment terms
// (tier, duration, weight) stay snapshotted.
func (l *Ledger) SetBasePenalty(bps int64) error {
	if bps < 0 || bps > bpsScale {
		return ErrInvalidParam
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.basePenaltyBps = bps
	return nil
}

// TierNames returns the configured tier names, sorted.
func (l *Ledger) TierNames() []string {
	names := make([]string, 0, len(l.tiers))
	for name := range l.tiers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (l *Ledger) emit(ev model.Event) {
	if l.sink == nil {
		return
	}
	ev.ID = uuid.New().String()
	ev.At = l.now().UTC()
	l.sink.Emit(ev)
}
