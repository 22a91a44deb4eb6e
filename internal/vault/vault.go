// Package vault implements the shared liquidity pool: proportional ownership
// shares, reserved-liability accounting, solvency caps, fee routing, and
// idle-capital deployment to an external yield adapter.
//
// The vault is the counterparty to every ticket. Reservation mutations are
// restricted to the wager engine, which holds the single Gateway handle.
// All internal bookkeeping is updated under one mutex, before or atomically
// with any asset transfer, so a concurrent caller can never observe stale
// reservation state.
package vault

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/parlaypool/settlement-engine/internal/asset"
	"github.com/parlaypool/settlement-engine/internal/model"
)

var (
	// ErrBelowMinimum is returned for deposits under the configured floor.
	ErrBelowMinimum = errors.New("vault: deposit below minimum")

	// ErrZeroShares is returned when a deposit converts to zero shares.
	ErrZeroShares = errors.New("vault: deposit yields zero shares")

	// ErrInsufficientShares is returned when a holder moves more shares
	// than they own.
	ErrInsufficientShares = errors.New("vault: insufficient shares")

	// ErrInsufficientIdle is returned when an operation would raid capital
	// backing reserved liability.
	ErrInsufficientIdle = errors.New("vault: insufficient idle capital")

	// ErrUtilizationCap is returned when a reservation would exceed the
	// aggregate utilization cap.
	ErrUtilizationCap = errors.New("vault: utilization cap exceeded")

	// ErrPerTicketCap is returned when a single reservation exceeds the
	// per-ticket exposure cap.
	ErrPerTicketCap = errors.New("vault: per-ticket cap exceeded")

	// ErrExceedsReservation is returned when a release or payment exceeds
	// the current reserved liability.
	ErrExceedsReservation = errors.New("vault: amount exceeds reservation")

	// ErrGatewayClaimed is returned on a second Gateway request; the
	// engine's handle is issued exactly once.
	ErrGatewayClaimed = errors.New("vault: engine gateway already claimed")

	// ErrCustodianClaimed is returned on a second Custodian request; the
	// ledger's handle is issued exactly once.
	ErrCustodianClaimed = errors.New("vault: share custodian already claimed")

	// ErrFeeSinkSet is returned when installing a fee sink twice.
	ErrFeeSinkSet = errors.New("vault: fee sink already installed")

	// ErrInvalidParam is returned by bounded setters for out-of-range
	// parameters.
	ErrInvalidParam = errors.New("vault: parameter out of bounds")

	// ErrInvalidAmount is returned for zero or negative amounts.
	ErrInvalidAmount = errors.New("vault: amount must be positive")
)

const bpsScale int64 = 10_000

// FeeSink receives the locker share of routed fees. Implemented by the
// reward ledger; the vault is its only caller.
type FeeSink interface {
	NotifyFees(amount int64) error
	Account() string
}

// Params are the vault's bounded configuration values.
type Params struct {
	UtilizationCapBps int64 // max fraction of total assets reservable
	PerTicketCapBps   int64 // max single-ticket reservation
	BufferBps         int64 // fraction of total assets kept local
	MinDeposit        int64
	LockerShareBps    int64 // fee share forwarded to lockers
	SafetyShareBps    int64 // fee share forwarded to the safety buffer
}

func (p Params) validate() error {
	for _, bps := range []int64{p.UtilizationCapBps, p.PerTicketCapBps, p.BufferBps, p.LockerShareBps, p.SafetyShareBps} {
		if bps < 0 || bps > bpsScale {
			return ErrInvalidParam
		}
	}
	if p.LockerShareBps+p.SafetyShareBps > bpsScale {
		return ErrInvalidParam
	}
	if p.MinDeposit < 0 {
		return ErrInvalidParam
	}
	return nil
}

// Stats is a read-only snapshot of vault state.
type Stats struct {
	TotalAssets int64 `json:"total_assets"`
	LocalAssets int64 `json:"local_assets"`
	Deployed    int64 `json:"deployed"`
	Reserved    int64 `json:"reserved"`
	TotalShares int64 `json:"total_shares"`
}

// Vault is the pooled-liquidity accounting core.
type Vault struct {
	mu sync.Mutex

	currency      asset.Asset
	account       string // vault's currency account
	safetyAccount string
	fees          FeeSink
	yield         YieldAdapter
	sink          model.EventSink

	shares      map[string]int64
	totalShares int64
	local       int64 // currency held at the vault account
	deployed    int64 // currency with the yield adapter
	reserved    int64 // liability reserved against open tickets

	params           Params
	gatewayClaimed   bool
	custodianClaimed bool
	now              func() time.Time
}

// New creates a vault over the given currency accounts. sink may be nil.
func New(currency asset.Asset, account, safetyAccount string, fees FeeSink, yield YieldAdapter, params Params, sink model.EventSink) (*Vault, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}
	return &Vault{
		currency:      currency,
		account:       account,
		safetyAccount: safetyAccount,
		fees:          fees,
		yield:         yield,
		sink:          sink,
		shares:        make(map[string]int64),
		params:        params,
		now:           time.Now,
	}, nil
}

// mulDivFloor computes a*b/den truncated, full-width.
func mulDivFloor(a, b, den int64) int64 {
	p := new(big.Int).Mul(big.NewInt(a), big.NewInt(b))
	p.Quo(p, big.NewInt(den))
	return p.Int64()
}

func (v *Vault) totalAssetsLocked() int64 {
	return v.local + v.deployed
}

// Deposit converts currency into shares at the current price with a +1
// virtual-unit offset on both sides of the conversion, blunting
// first-depositor price manipulation.
func (v *Vault) Deposit(ctx context.Context, from string, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	if amount < v.params.MinDeposit {
		return 0, fmt.Errorf("%w: %d < %d", ErrBelowMinimum, amount, v.params.MinDeposit)
	}
	shares := mulDivFloor(amount, v.totalShares+1, v.totalAssetsLocked()+1)
	if shares <= 0 {
		return 0, ErrZeroShares
	}

	if err := v.currency.Transfer(ctx, from, v.account, amount); err != nil {
		return 0, err
	}
	v.local += amount
	v.totalShares += shares
	v.shares[from] += shares

	v.emit(model.Event{
		Type: model.EventVaultDeposit, Account: from,
		Amount: amount, Shares: shares,
	})
	return shares, nil
}

// Withdraw burns shares for currency at the current price. Reserved
// liability is never raided: the amount must fit within idle capital.
func (v *Vault) Withdraw(ctx context.Context, to string, shares int64) (int64, error) {
	if shares <= 0 {
		return 0, ErrInvalidAmount
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.shares[to] < shares {
		return 0, ErrInsufficientShares
	}
	amount := mulDivFloor(shares, v.totalAssetsLocked()+1, v.totalShares+1)
	if amount > v.local-v.reserved {
		return 0, fmt.Errorf("%w: idle %d, need %d", ErrInsufficientIdle, v.local-v.reserved, amount)
	}

	v.shares[to] -= shares
	v.totalShares -= shares
	v.local -= amount
	if err := v.currency.Transfer(ctx, v.account, to, amount); err != nil {
		// Roll the bookkeeping back; nothing moved.
		v.shares[to] += shares
		v.totalShares += shares
		v.local += amount
		return 0, err
	}

	v.emit(model.Event{
		Type: model.EventVaultWithdraw, Account: to,
		Amount: amount, Shares: shares,
	})
	return amount, nil
}

// SharesOf returns a holder's share balance.
func (v *Vault) SharesOf(holder string) int64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.shares[holder]
}

// Snapshot returns current vault totals.
func (v *Vault) Snapshot() Stats {
	v.mu.Lock()
	defer v.mu.Unlock()
	return Stats{
		TotalAssets: v.totalAssetsLocked(),
		LocalAssets: v.local,
		Deployed:    v.deployed,
		Reserved:    v.reserved,
		TotalShares: v.totalShares,
	}
}

// CanReserve reports whether a reservation of amount would pass all caps,
// against live state. Callers use it as a pre-check; Reserve re-validates.
func (v *Vault) CanReserve(amount int64) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.checkReserveLocked(amount)
}

func (v *Vault) checkReserveLocked(amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	total := v.totalAssetsLocked()
	if amount > mulDivFloor(total, v.params.PerTicketCapBps, bpsScale) {
		return ErrPerTicketCap
	}
	if v.reserved+amount > mulDivFloor(total, v.params.UtilizationCapBps, bpsScale) {
		return ErrUtilizationCap
	}
	if v.reserved+amount > v.local {
		return ErrInsufficientIdle
	}
	return nil
}

// SetCaps adjusts the utilization and per-ticket caps. Future operations
// only; open reservations are untouched.
func (v *Vault) SetCaps(utilizationBps, perTicketBps int64) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	p := v.params
	p.UtilizationCapBps = utilizationBps
	p.PerTicketCapBps = perTicketBps
	if err := p.validate(); err != nil {
		return err
	}
	v.params = p
	return nil
}

// SetFeeSplit adjusts the locker/safety fee split.
func (v *Vault) SetFeeSplit(lockerBps, safetyBps int64) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	p := v.params
	p.LockerShareBps = lockerBps
	p.SafetyShareBps = safetyBps
	if err := p.validate(); err != nil {
		return err
	}
	v.params = p
	return nil
}

// SetFeeSink installs the locker-share recipient once. The reward ledger
// is constructed over the vault, so it cannot be handed to New; this closes
// the loop at wiring time.
func (v *Vault) SetFeeSink(fs FeeSink) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.fees != nil {
		return ErrFeeSinkSet
	}
	v.fees = fs
	return nil
}

// SetMinDeposit adjusts the deposit floor.
func (v *Vault) SetMinDeposit(min int64) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if min < 0 {
		return ErrInvalidParam
	}
	v.params.MinDeposit = min
	return nil
}

// DeployIdle pushes idle capital to the yield adapter, always keeping at
// least max(reserved, bufferBps x totalAssets) locally available.
func (v *Vault) DeployIdle(ctx context.Context) (int64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.yield == nil {
		return 0, nil
	}
	keep := mulDivFloor(v.totalAssetsLocked(), v.params.BufferBps, bpsScale)
	if v.reserved > keep {
		keep = v.reserved
	}
	if v.local <= keep {
		return 0, nil
	}
	amount := v.local - keep
	v.local -= amount
	v.deployed += amount
	if err := v.yield.Deploy(ctx, amount); err != nil {
		v.local += amount
		v.deployed -= amount
		return 0, err
	}
	return amount, nil
}

// RecallDeployed pulls capital back from the yield adapter.
func (v *Vault) RecallDeployed(ctx context.Context, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.yield == nil || amount > v.deployed {
		return fmt.Errorf("%w: deployed %d, recall %d", ErrInsufficientIdle, v.deployed, amount)
	}
	if err := v.yield.Withdraw(ctx, amount); err != nil {
		return err
	}
	v.deployed -= amount
	v.local += amount
	return nil
}

// EmergencyRecall pulls everything back from the yield adapter.
func (v *Vault) EmergencyRecall(ctx context.Context) (int64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.yield == nil || v.deployed == 0 {
		return 0, nil
	}
	recovered, err := v.yield.EmergencyWithdraw(ctx)
	if err != nil {
		return 0, err
	}
	v.deployed = 0
	v.local += recovered
	return recovered, nil
}

func (v *Vault) emit(ev model.Event) {
	if v.sink == nil {
		return
	}
	ev.ID = uuid.New().String()
	ev.At = v.now().UTC()
	v.sink.Emit(ev)
}

// Custodian is the reward ledger's handle on share custody. It is issued
// exactly once, so no other holder of the vault can move someone else's
// shares.
type Custodian struct {
	v *Vault
}

// Custodian claims the share-custody handle. A second call fails.
func (v *Vault) Custodian() (*Custodian, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.custodianClaimed {
		return nil, ErrCustodianClaimed
	}
	v.custodianClaimed = true
	return &Custodian{v: v}, nil
}

// TransferShares moves shares between holders without touching assets.
func (c *Custodian) TransferShares(from, to string, shares int64) error {
	if shares <= 0 {
		return ErrInvalidAmount
	}
	v := c.v
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.shares[from] < shares {
		return ErrInsufficientShares
	}
	v.shares[from] -= shares
	v.shares[to] += shares
	return nil
}

// Gateway is the wager engine's handle on reservation state. It is issued
// exactly once, making the engine the sole authorized mutator.
type Gateway struct {
	v *Vault
}

// Gateway claims the engine handle. A second call fails.
func (v *Vault) Gateway() (*Gateway, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.gatewayClaimed {
		return nil, ErrGatewayClaimed
	}
	v.gatewayClaimed = true
	return &Gateway{v: v}, nil
}

// StakeIn moves a bettor's stake into the vault balance.
func (g *Gateway) StakeIn(ctx context.Context, from string, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	v := g.v
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.currency.Transfer(ctx, from, v.account, amount); err != nil {
		return err
	}
	v.local += amount
	return nil
}

// Reserve locks capital against a ticket's potential payout. Hard
// precondition failure past the utilization cap, per-ticket cap, or
// idle-capital limit; no partial effect.
func (g *Gateway) Reserve(amount int64) error {
	v := g.v
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.checkReserveLocked(amount); err != nil {
		return err
	}
	v.reserved += amount
	return nil
}

// Release frees reserved capital without paying it out.
func (g *Gateway) Release(amount int64) error {
	if amount < 0 {
		return ErrInvalidAmount
	}
	if amount == 0 {
		return nil
	}
	v := g.v
	v.mu.Lock()
	defer v.mu.Unlock()
	if amount > v.reserved {
		return fmt.Errorf("%w: reserved %d, release %d", ErrExceedsReservation, v.reserved, amount)
	}
	v.reserved -= amount
	return nil
}

// Pay atomically reduces the reservation and transfers to the recipient,
// never more than currently reserved.
func (g *Gateway) Pay(ctx context.Context, recipient string, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	v := g.v
	v.mu.Lock()
	defer v.mu.Unlock()
	if amount > v.reserved {
		return fmt.Errorf("%w: reserved %d, pay %d", ErrExceedsReservation, v.reserved, amount)
	}
	v.reserved -= amount
	v.local -= amount
	if err := v.currency.Transfer(ctx, v.account, recipient, amount); err != nil {
		v.reserved += amount
		v.local += amount
		return err
	}
	return nil
}

// Refund transfers unreserved vault capital to a recipient. Used for
// voided-ticket stake refunds.
func (g *Gateway) Refund(ctx context.Context, recipient string, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	v := g.v
	v.mu.Lock()
	defer v.mu.Unlock()
	if amount > v.local-v.reserved {
		return fmt.Errorf("%w: idle %d, refund %d", ErrInsufficientIdle, v.local-v.reserved, amount)
	}
	v.local -= amount
	if err := v.currency.Transfer(ctx, v.account, recipient, amount); err != nil {
		v.local += amount
		return err
	}
	return nil
}

// RouteFees splits a collected fee: the locker share goes to the reward
// ledger (which folds it into its accumulator immediately), the safety
// share to the safety buffer, and the remainder stays in the vault balance
// implicitly. Routing is all-or-nothing: any failure reverses whatever
// already moved and the full fee stays in the vault balance.
func (g *Gateway) RouteFees(ctx context.Context, fee int64) (toLockers, toSafety int64, err error) {
	if fee < 0 {
		return 0, 0, ErrInvalidAmount
	}
	if fee == 0 {
		return 0, 0, nil
	}
	v := g.v
	v.mu.Lock()

	toLockers = mulDivFloor(fee, v.params.LockerShareBps, bpsScale)
	toSafety = mulDivFloor(fee, v.params.SafetyShareBps, bpsScale)
	if v.fees == nil {
		toLockers = 0
	}

	if toSafety > 0 {
		if err := v.currency.Transfer(ctx, v.account, v.safetyAccount, toSafety); err != nil {
			v.mu.Unlock()
			return 0, 0, err
		}
		v.local -= toSafety
	}
	if toLockers > 0 {
		if err := v.currency.Transfer(ctx, v.account, v.fees.Account(), toLockers); err != nil {
			v.rollbackSafetyLocked(ctx, toSafety)
			v.mu.Unlock()
			return 0, 0, err
		}
		v.local -= toLockers
	}
	v.mu.Unlock()

	// Notify outside the vault mutex: the sink grabs its own lock and may
	// call back into the vault for share accounting. A failed notification
	// would strand the locker share in the ledger account un-accumulated,
	// so both transfers are reversed before surfacing the error.
	if toLockers > 0 {
		if err := v.fees.NotifyFees(toLockers); err != nil {
			v.mu.Lock()
			if rerr := v.currency.Transfer(ctx, v.fees.Account(), v.account, toLockers); rerr != nil {
				slog.Error("locker fee rollback failed", "amount", toLockers, "err", rerr)
			} else {
				v.local += toLockers
			}
			v.rollbackSafetyLocked(ctx, toSafety)
			v.mu.Unlock()
			return 0, 0, err
		}
	}
	return toLockers, toSafety, nil
}

// rollbackSafetyLocked returns an already-routed safety share to the vault
// balance. Caller holds the mutex.
func (v *Vault) rollbackSafetyLocked(ctx context.Context, toSafety int64) {
	if toSafety <= 0 {
		return
	}
	if err := v.currency.Transfer(ctx, v.safetyAccount, v.account, toSafety); err != nil {
		slog.Error("safety fee rollback failed", "amount", toSafety, "err", err)
		return
	}
	v.local += toSafety
}
