// Package model defines the core domain types shared across the settlement
// engine. All monetary values are int64 micro-units (six decimals) matching
// the wager currency; shopspring/decimal is used only at the API boundary
// to render and parse human amounts.
package model

import (
	"fmt"
	"math/big"
	"time"

	"github.com/shopspring/decimal"
)

// AmountDecimals is the precision of the wager currency.
const AmountDecimals = 6

// Ticket statuses.
const (
	StatusActive  = "active"
	StatusWon     = "won"
	StatusLost    = "lost"
	StatusVoided  = "voided"
	StatusClaimed = "claimed"
)

// Payout modes.
const (
	PayoutClassic     = "classic"
	PayoutProgressive = "progressive"
	PayoutCashout     = "cashout"
)

// Settlement modes. Fast settles as soon as the oracle reports; dispute
// holds every resolved leg until its dispute window has elapsed.
const (
	SettleFast    = "fast"
	SettleDispute = "dispute"
)

// Leg sides. YES backs the outcome at its listed probability; NO backs the
// complement.
const (
	SideYes = "YES"
	SideNo  = "NO"
)

// TicketLeg is one chosen outcome within a ticket. ProbPPM is the
// chosen-side probability snapshotted at purchase; registry updates after
// the buy never reprice an open ticket.
type TicketLeg struct {
	LegID   string `json:"leg_id"`
	Side    string `json:"side"`
	ProbPPM int64  `json:"prob_ppm"`
}

// Ticket is a multi-leg wager. Pricing terms are fixed at purchase and
// immutable afterwards, except PotentialPayout which may be recomputed once
// on a partial void. A ticket is immutable once it reaches a terminal
// status.
type Ticket struct {
	ID             string      `json:"id" db:"id"`
	Owner          string      `json:"owner" db:"owner"`
	Legs           []TicketLeg `json:"legs" db:"legs"`
	Stake          int64       `json:"stake" db:"stake"`
	Fee            int64       `json:"fee" db:"fee"`
	EffectiveStake int64       `json:"effective_stake" db:"effective_stake"`
	FairMultiplier int64       `json:"fair_multiplier" db:"fair_multiplier"`
	NetMultiplier  int64       `json:"net_multiplier" db:"net_multiplier"`
	// PotentialPayout is the capital reserved against this ticket. It only
	// changes on a partial-void recomputation.
	PotentialPayout int64  `json:"potential_payout" db:"potential_payout"`
	ClaimedAmount   int64  `json:"claimed_amount" db:"claimed_amount"`
	PayoutMode      string `json:"payout_mode" db:"payout_mode"`
	SettlementMode  string `json:"settlement_mode" db:"settlement_mode"`
	Status          string `json:"status" db:"status"`
	// CashoutPenaltyBps is snapshotted at purchase for cashout tickets so
	// later configuration changes never touch an open position.
	CashoutPenaltyBps int64     `json:"cashout_penalty_bps" db:"cashout_penalty_bps"`
	CreatedAt         time.Time `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time `json:"updated_at" db:"updated_at"`
}

// Remaining returns the unclaimed part of the reservation.
func (t *Ticket) Remaining() int64 {
	if t.PotentialPayout <= t.ClaimedAmount {
		return 0
	}
	return t.PotentialPayout - t.ClaimedAmount
}

// Terminal reports whether the ticket can no longer change.
func (t *Ticket) Terminal() bool {
	return t.Status != StatusActive && t.Status != StatusWon
}

// Lock position statuses.
const (
	LockLocked    = "locked"
	LockUnlocked  = "unlocked"
	LockWithdrawn = "withdrawn"
)

// LockPosition is a quantity of vault shares committed for a fixed duration.
// RewardDebt is the reward-accumulator checkpoint at the position's last
// interaction; pending reward = weighted shares x (acc - debt) / precision.
type LockPosition struct {
	ID         string    `json:"id" db:"id"`
	Owner      string    `json:"owner" db:"owner"`
	Shares     int64     `json:"shares" db:"shares"`
	Tier       string    `json:"tier" db:"tier"`
	WeightBps  int64     `json:"weight_bps" db:"weight_bps"`
	Weighted   int64     `json:"weighted" db:"weighted"`
	RewardDebt *big.Int  `json:"reward_debt" db:"reward_debt"`
	LockedAt   time.Time `json:"locked_at" db:"locked_at"`
	UnlockAt   time.Time `json:"unlock_at" db:"unlock_at"`
	Status     string    `json:"status" db:"status"`
}

// Clone returns a deep copy safe to hand across component boundaries.
func (p *LockPosition) Clone() *LockPosition {
	cp := *p
	if p.RewardDebt != nil {
		cp.RewardDebt = new(big.Int).Set(p.RewardDebt)
	}
	return &cp
}

// Event types. The journal carries enough per event to reconstruct ledger
// state from the log alone.
const (
	EventTicketPurchased   = "ticket_purchased"
	EventTicketSettled     = "ticket_settled"
	EventTicketTransferred = "ticket_transferred"
	EventFeeRouted         = "fee_routed"
	EventClaim             = "claim"
	EventProgressiveClaim  = "progressive_claim"
	EventEarlyCashout      = "early_cashout"
	EventVaultDeposit      = "vault_deposit"
	EventVaultWithdraw     = "vault_withdraw"
	EventSharesLocked      = "shares_locked"
	EventSharesUnlocked    = "shares_unlocked"
	EventEarlyWithdraw     = "early_withdraw"
	EventRewardPaid        = "reward_paid"
	EventRewardAccrued     = "reward_accrued"
)

// Event is an immutable journal entry. Amount and Shares carry the primary
// quantities moved; Detail carries operation-specific extras (new status,
// recomputed payout, penalty, and so on).
type Event struct {
	ID         string            `json:"id" db:"id"`
	Type       string            `json:"type" db:"type"`
	TicketID   string            `json:"ticket_id,omitempty" db:"ticket_id"`
	PositionID string            `json:"position_id,omitempty" db:"position_id"`
	Account    string            `json:"account,omitempty" db:"account"`
	Amount     int64             `json:"amount" db:"amount"`
	Shares     int64             `json:"shares" db:"shares"`
	Detail     map[string]string `json:"detail,omitempty" db:"detail"`
	At         time.Time         `json:"at" db:"at"`
}

// EventSink receives journal events as they happen. Implementations fan out
// to the store, the WebSocket hub, and metrics.
type EventSink interface {
	Emit(ev Event)
}

// SinkFunc adapts a function to EventSink.
type SinkFunc func(ev Event)

func (f SinkFunc) Emit(ev Event) { f(ev) }

// ParseAmount converts a decimal currency string ("10.5") to micro-units.
// Fractional digits beyond six are rejected rather than silently rounded.
func ParseAmount(s string) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	scaled := d.Shift(AmountDecimals)
	if !scaled.IsInteger() {
		return 0, fmt.Errorf("amount %q exceeds %d decimal places", s, AmountDecimals)
	}
	bi := scaled.BigInt()
	if !bi.IsInt64() {
		return 0, fmt.Errorf("amount %q out of range", s)
	}
	return bi.Int64(), nil
}

// FormatAmount renders micro-units as a decimal currency string.
func FormatAmount(v int64) string {
	return decimal.New(v, -AmountDecimals).String()
}
