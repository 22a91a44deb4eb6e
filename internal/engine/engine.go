// Package engine owns the wager lifecycle: purchase, settlement,
// progressive claim, and early cashout. It is the sole authorized mutator
// of vault reservation state, holding the vault's single Gateway handle.
//
// A mutex serializes ticket mutation (single-instance), matching the
// all-or-nothing execution model: every public operation runs to completion
// as one atomic step, and settlement idempotency is guarded by ticket
// status: a redundant call observes a non-active status and fails cleanly.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/parlaypool/settlement-engine/internal/model"
	"github.com/parlaypool/settlement-engine/internal/pricing"
	"github.com/parlaypool/settlement-engine/internal/registry"
	"github.com/parlaypool/settlement-engine/internal/store"
	"github.com/parlaypool/settlement-engine/internal/vault"
)

var (
	// ErrBadLegCount is returned for tickets outside the 2-5 leg range.
	ErrBadLegCount = errors.New("engine: ticket requires 2 to 5 legs")

	// ErrDuplicateLeg is returned when the same leg appears twice.
	ErrDuplicateLeg = errors.New("engine: duplicate leg")

	// ErrBadSide is returned for a side other than YES or NO.
	ErrBadSide = errors.New("engine: side must be YES or NO")

	// ErrBadPayoutMode is returned for an unknown payout mode.
	ErrBadPayoutMode = errors.New("engine: unknown payout mode")

	// ErrLegInactive is returned when a leg is not open for wagering.
	ErrLegInactive = errors.New("engine: leg not active")

	// ErrPastCutoff is returned when a leg's cutoff has passed.
	ErrPastCutoff = errors.New("engine: leg past cutoff")

	// ErrStakeTooSmall is returned for stakes under the minimum.
	ErrStakeTooSmall = errors.New("engine: stake below minimum")

	// ErrNotActive is returned for lifecycle operations on a ticket that
	// is no longer active.
	ErrNotActive = errors.New("engine: ticket not active")

	// ErrNotWon is returned when claiming a ticket that has not won.
	ErrNotWon = errors.New("engine: ticket not won")

	// ErrNotOwner is returned when the caller does not hold the ticket.
	ErrNotOwner = errors.New("engine: caller does not own ticket")

	// ErrNotResolved is returned when settlement is attempted before all
	// legs have final outcomes.
	ErrNotResolved = errors.New("engine: legs not fully resolved")

	// ErrWrongMode is returned when an operation does not match the
	// ticket's payout mode.
	ErrWrongMode = errors.New("engine: operation not allowed for payout mode")

	// ErrLegAlreadyLost is returned when cashing out a ticket with a lost
	// leg; normal settlement applies instead.
	ErrLegAlreadyLost = errors.New("engine: a leg has already lost")

	// ErrNoUnresolvedLeg is returned when cashing out a fully-resolved
	// ticket.
	ErrNoUnresolvedLeg = errors.New("engine: no unresolved leg to cash out")

	// ErrBelowMinValue is returned when a cashout values under the
	// caller's acceptable floor.
	ErrBelowMinValue = errors.New("engine: cashout value below minimum acceptable")

	// ErrInvalidParam is returned by bounded setters for out-of-range
	// parameters.
	ErrInvalidParam = errors.New("engine: parameter out of bounds")
)

// Leg count bounds for a combination wager.
const (
	MinLegs = 2
	MaxLegs = 5
)

// Params are the engine's bounded configuration values. Edge and penalty
// changes affect only future purchases; a ticket's terms are snapshotted at
// buy time.
type Params struct {
	BaseEdgeBps       int64
	PerLegEdgeBps     int64
	MinStake          int64
	CashoutPenaltyBps int64
	// BootstrapUntil selects fast settlement for tickets bought before it;
	// later tickets settle under the dispute window.
	BootstrapUntil time.Time
	DisputeWindow  time.Duration
}

func (p Params) validate() error {
	if p.BaseEdgeBps < 0 || p.PerLegEdgeBps < 0 || p.BaseEdgeBps+int64(MaxLegs)*p.PerLegEdgeBps > 10_000 {
		return ErrInvalidParam
	}
	if p.CashoutPenaltyBps < 0 || p.CashoutPenaltyBps > 10_000 {
		return ErrInvalidParam
	}
	if p.MinStake < 0 || p.DisputeWindow < 0 {
		return ErrInvalidParam
	}
	return nil
}

// Service executes wager operations. A mutex serializes ticket mutation;
// for horizontal scaling, replace with database-level optimistic
// concurrency.
type Service struct {
	mu sync.Mutex

	store   store.Store
	reg     registry.Registry
	oracle  registry.Oracle
	gateway *vault.Gateway
	pool    *vault.Vault
	params  Params
	sink    model.EventSink

	now func() time.Time
}

// NewService creates the wager engine. The gateway must be the vault's
// sole engine handle. sink may be nil.
func NewService(st store.Store, reg registry.Registry, oracle registry.Oracle, pool *vault.Vault, gateway *vault.Gateway, params Params, sink model.EventSink) (*Service, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}
	return &Service{
		store:   st,
		reg:     reg,
		oracle:  oracle,
		gateway: gateway,
		pool:    pool,
		params:  params,
		sink:    sink,
		now:     time.Now,
	}, nil
}

// chosenProb maps a leg probability to the chosen side: YES backs the
// outcome, NO backs the complement.
func chosenProb(p int64, side string) (int64, error) {
	switch side {
	case model.SideYes:
		return p, nil
	case model.SideNo:
		return pricing.ProbScale - p, nil
	default:
		return 0, ErrBadSide
	}
}

// Buy validates and prices a ticket, transfers the stake into the vault,
// reserves the potential payout, and routes the fee. All validation and
// capacity checks run before any transfer.
func (s *Service) Buy(ctx context.Context, owner string, legs []model.TicketLeg, stake int64, payoutMode string) (*model.Ticket, error) {
	switch payoutMode {
	case model.PayoutClassic, model.PayoutProgressive, model.PayoutCashout:
	default:
		return nil, fmt.Errorf("%w: %s", ErrBadPayoutMode, payoutMode)
	}
	if len(legs) < MinLegs || len(legs) > MaxLegs {
		return nil, fmt.Errorf("%w: got %d", ErrBadLegCount, len(legs))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if stake < s.params.MinStake {
		return nil, fmt.Errorf("%w: %d < %d", ErrStakeTooSmall, stake, s.params.MinStake)
	}

	seen := make(map[string]bool, len(legs))
	probs := make([]int64, 0, len(legs))
	snapped := make([]model.TicketLeg, 0, len(legs))
	for _, tl := range legs {
		if seen[tl.LegID] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateLeg, tl.LegID)
		}
		seen[tl.LegID] = true

		leg, err := s.reg.GetLeg(ctx, tl.LegID)
		if err != nil {
			return nil, err
		}
		if !leg.Active {
			return nil, fmt.Errorf("%w: %s", ErrLegInactive, tl.LegID)
		}
		if !now.Before(leg.CutoffTime) {
			return nil, fmt.Errorf("%w: %s", ErrPastCutoff, tl.LegID)
		}
		p, err := chosenProb(leg.ProbabilityPPM, tl.Side)
		if err != nil {
			return nil, err
		}
		probs = append(probs, p)
		// Snapshot the chosen-side probability so later registry updates
		// cannot reprice this ticket's post-purchase valuations.
		snapped = append(snapped, model.TicketLeg{LegID: tl.LegID, Side: tl.Side, ProbPPM: p})
	}

	edge, err := pricing.EdgeBps(len(legs), s.params.BaseEdgeBps, s.params.PerLegEdgeBps)
	if err != nil {
		return nil, err
	}
	fee, err := pricing.Fee(stake, edge)
	if err != nil {
		return nil, err
	}
	effective := stake - fee
	if effective <= 0 {
		return nil, ErrStakeTooSmall
	}
	fair, err := pricing.Multiplier(probs)
	if err != nil {
		return nil, err
	}
	net, err := pricing.ApplyEdge(fair, edge)
	if err != nil {
		return nil, err
	}
	payout, err := pricing.Payout(effective, fair)
	if err != nil {
		return nil, err
	}

	// Capacity pre-check against live vault state, before any transfer.
	if err := s.pool.CanReserve(payout); err != nil {
		return nil, err
	}

	if err := s.gateway.StakeIn(ctx, owner, stake); err != nil {
		return nil, err
	}
	if err := s.gateway.Reserve(payout); err != nil {
		// Capacity moved between check and transfer; hand the stake back.
		if rerr := s.gateway.Refund(ctx, owner, stake); rerr != nil {
			slog.Error("stake refund failed after reserve rejection", "owner", owner, "err", rerr)
		}
		return nil, err
	}

	mode := model.SettleDispute
	if now.Before(s.params.BootstrapUntil) {
		mode = model.SettleFast
	}

	ticket := &model.Ticket{
		ID:              uuid.New().String(),
		Owner:           owner,
		Legs:            snapped,
		Stake:           stake,
		Fee:             fee,
		EffectiveStake:  effective,
		FairMultiplier:  fair,
		NetMultiplier:   net,
		PotentialPayout: payout,
		PayoutMode:      payoutMode,
		SettlementMode:  mode,
		Status:          model.StatusActive,
		CreatedAt:       now.UTC(),
		UpdatedAt:       now.UTC(),
	}
	if payoutMode == model.PayoutCashout {
		ticket.CashoutPenaltyBps = s.params.CashoutPenaltyBps
	}

	if err := s.store.CreateTicket(ctx, ticket); err != nil {
		if rerr := s.gateway.Release(payout); rerr != nil {
			slog.Error("reservation rollback failed", "ticket", ticket.ID, "err", rerr)
		}
		if rerr := s.gateway.Refund(ctx, owner, stake); rerr != nil {
			slog.Error("stake rollback failed", "ticket", ticket.ID, "err", rerr)
		}
		return nil, err
	}

	toLockers, toSafety, err := s.gateway.RouteFees(ctx, fee)
	if err != nil {
		slog.Error("fee routing failed", "ticket", ticket.ID, "err", err)
	} else if fee > 0 {
		s.emit(model.Event{
			Type: model.EventFeeRouted, TicketID: ticket.ID, Amount: fee,
			Detail: map[string]string{
				"to_lockers": strconv.FormatInt(toLockers, 10),
				"to_safety":  strconv.FormatInt(toSafety, 10),
			},
		})
	}

	s.emit(model.Event{
		Type: model.EventTicketPurchased, TicketID: ticket.ID, Account: owner,
		Amount: stake, Detail: map[string]string{
			"fee":              strconv.FormatInt(fee, 10),
			"effective_stake":  strconv.FormatInt(effective, 10),
			"fair_multiplier":  strconv.FormatInt(fair, 10),
			"net_multiplier":   strconv.FormatInt(net, 10),
			"potential_payout": strconv.FormatInt(payout, 10),
			"payout_mode":      payoutMode,
			"settlement_mode":  mode,
		},
	})

	slog.Info("ticket purchased",
		"ticket", ticket.ID,
		"owner", owner,
		"legs", len(legs),
		"stake", stake,
		"payout", payout,
		"mode", payoutMode,
	)
	return ticket, nil
}

// legState is the engine's view of one leg after applying the ticket's
// settlement mode to the oracle report.
type legState int

const (
	legUnresolved legState = iota
	legWon                 // chosen side won
	legLost                // chosen side lost
	legVoided
)

// classify maps oracle reports to chosen-side outcomes. Probabilities come
// from the ticket's purchase-time snapshot, never the live registry. Under
// dispute settlement a resolved leg only becomes final once its dispute
// window has elapsed; until then it counts as unresolved.
func (s *Service) classify(ctx context.Context, t *model.Ticket) ([]legState, []int64, error) {
	states := make([]legState, len(t.Legs))
	probs := make([]int64, len(t.Legs))
	now := s.now()

	for i, tl := range t.Legs {
		probs[i] = tl.ProbPPM

		ok, err := s.oracle.CanResolve(ctx, tl.LegID)
		if err != nil {
			return nil, nil, err
		}
		if !ok {
			states[i] = legUnresolved
			continue
		}
		res, err := s.oracle.GetStatus(ctx, tl.LegID)
		if err != nil {
			return nil, nil, err
		}
		if res.Status == registry.OutcomeUnresolved {
			states[i] = legUnresolved
			continue
		}
		if t.SettlementMode == model.SettleDispute {
			leg, err := s.reg.GetLeg(ctx, tl.LegID)
			if err != nil {
				return nil, nil, err
			}
			if now.Before(leg.EarliestResolveTime.Add(s.params.DisputeWindow)) {
				states[i] = legUnresolved
				continue
			}
		}

		switch res.Status {
		case registry.OutcomeVoided:
			states[i] = legVoided
		case registry.OutcomeWon:
			if tl.Side == model.SideYes {
				states[i] = legWon
			} else {
				states[i] = legLost
			}
		case registry.OutcomeLost:
			if tl.Side == model.SideNo {
				states[i] = legWon
			} else {
				states[i] = legLost
			}
		default:
			return nil, nil, fmt.Errorf("engine: unknown oracle status %q", res.Status)
		}
	}
	return states, probs, nil
}

// Settle resolves an active ticket against oracle outcomes. Permissionless:
// anyone may call it; a second call observes a non-active status and fails
// cleanly.
func (s *Service) Settle(ctx context.Context, ticketID string) (*model.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.store.GetTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if t.Status != model.StatusActive {
		return nil, fmt.Errorf("%w: status %s", ErrNotActive, t.Status)
	}

	states, probs, err := s.classify(ctx, t)
	if err != nil {
		return nil, err
	}

	var wonProbs []int64
	var unresolved, voided int
	anyLost := false
	for i, st := range states {
		switch st {
		case legLost:
			anyLost = true
		case legUnresolved:
			unresolved++
		case legVoided:
			voided++
		case legWon:
			wonProbs = append(wonProbs, probs[i])
		}
	}

	switch {
	case anyLost:
		return s.settleLoss(ctx, t)
	case unresolved > 0:
		return nil, fmt.Errorf("%w: %d unresolved", ErrNotResolved, unresolved)
	case voided > 0:
		return s.settlePartialVoid(ctx, t, wonProbs)
	default:
		t.Status = model.StatusWon
		t.UpdatedAt = s.now().UTC()
		if err := s.store.UpdateTicket(ctx, t); err != nil {
			return nil, err
		}
		s.emitSettled(t, nil)
		slog.Info("ticket settled", "ticket", t.ID, "status", t.Status)
		return t, nil
	}
}

// settleLoss releases the remaining reservation and terminates the ticket.
// Progressive claims already paid are kept by the holder.
func (s *Service) settleLoss(ctx context.Context, t *model.Ticket) (*model.Ticket, error) {
	if err := s.gateway.Release(t.Remaining()); err != nil {
		return nil, err
	}
	t.Status = model.StatusLost
	t.UpdatedAt = s.now().UTC()
	if err := s.store.UpdateTicket(ctx, t); err != nil {
		return nil, err
	}
	s.emitSettled(t, nil)
	slog.Info("ticket settled", "ticket", t.ID, "status", t.Status)
	return t, nil
}

// settlePartialVoid handles tickets where some legs voided and the rest
// won. With fewer than two live legs the combination no longer exists and
// the ticket voids with a stake refund; otherwise the payout is recomputed
// from the remaining legs.
func (s *Service) settlePartialVoid(ctx context.Context, t *model.Ticket, wonProbs []int64) (*model.Ticket, error) {
	detail := map[string]string{}

	if len(wonProbs) < MinLegs {
		// Refund the effective stake less whatever progressive claims
		// already went out, floored at zero: an over-claim before the void
		// is an accepted system cost, not clawed back.
		refund := t.EffectiveStake - t.ClaimedAmount
		if refund < 0 {
			refund = 0
		}
		if err := s.gateway.Release(t.Remaining()); err != nil {
			return nil, err
		}
		if refund > 0 {
			if err := s.gateway.Refund(ctx, t.Owner, refund); err != nil {
				return nil, err
			}
		}
		t.Status = model.StatusVoided
		t.UpdatedAt = s.now().UTC()
		if err := s.store.UpdateTicket(ctx, t); err != nil {
			return nil, err
		}
		detail["refund"] = strconv.FormatInt(refund, 10)
		s.emitSettled(t, detail)
		slog.Info("ticket settled", "ticket", t.ID, "status", t.Status, "refund", refund)
		return t, nil
	}

	mult, err := pricing.Multiplier(wonProbs)
	if err != nil {
		return nil, err
	}
	newPayout, err := pricing.Payout(t.EffectiveStake, mult)
	if err != nil {
		return nil, err
	}
	// Clamp between what was already claimed and the original reservation.
	if newPayout < t.ClaimedAmount {
		newPayout = t.ClaimedAmount
	}
	if newPayout > t.PotentialPayout {
		newPayout = t.PotentialPayout
	}
	if diff := t.PotentialPayout - newPayout; diff > 0 {
		if err := s.gateway.Release(diff); err != nil {
			return nil, err
		}
	}
	t.PotentialPayout = newPayout
	t.Status = model.StatusWon
	t.UpdatedAt = s.now().UTC()
	if err := s.store.UpdateTicket(ctx, t); err != nil {
		return nil, err
	}
	detail["recomputed_payout"] = strconv.FormatInt(newPayout, 10)
	s.emitSettled(t, detail)
	slog.Info("ticket settled", "ticket", t.ID, "status", t.Status, "new_payout", newPayout)
	return t, nil
}

func (s *Service) emitSettled(t *model.Ticket, detail map[string]string) {
	if detail == nil {
		detail = map[string]string{}
	}
	detail["status"] = t.Status
	s.emit(model.Event{
		Type: model.EventTicketSettled, TicketID: t.ID, Account: t.Owner,
		Detail: detail,
	})
}

// Claim pays the unclaimed remainder of a won ticket to its holder.
func (s *Service) Claim(ctx context.Context, caller, ticketID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.store.GetTicket(ctx, ticketID)
	if err != nil {
		return 0, err
	}
	if t.Owner != caller {
		return 0, ErrNotOwner
	}
	if t.Status != model.StatusWon {
		return 0, fmt.Errorf("%w: status %s", ErrNotWon, t.Status)
	}

	amount := t.Remaining()
	if amount > 0 {
		if err := s.gateway.Pay(ctx, t.Owner, amount); err != nil {
			return 0, err
		}
	}
	t.ClaimedAmount = t.PotentialPayout
	t.Status = model.StatusClaimed
	t.UpdatedAt = s.now().UTC()
	if err := s.store.UpdateTicket(ctx, t); err != nil {
		return 0, err
	}

	s.emit(model.Event{Type: model.EventClaim, TicketID: t.ID, Account: t.Owner, Amount: amount})
	slog.Info("ticket claimed", "ticket", t.ID, "owner", t.Owner, "amount", amount)
	return amount, nil
}

// ClaimProgressive pays the delta between the payout implied by
// already-won legs and what was already claimed, while the ticket is still
// active. A resolved-and-lost leg triggers loss settlement instead.
func (s *Service) ClaimProgressive(ctx context.Context, caller, ticketID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.store.GetTicket(ctx, ticketID)
	if err != nil {
		return 0, err
	}
	if t.Owner != caller {
		return 0, ErrNotOwner
	}
	if t.PayoutMode != model.PayoutProgressive {
		return 0, fmt.Errorf("%w: %s", ErrWrongMode, t.PayoutMode)
	}
	if t.Status != model.StatusActive {
		return 0, fmt.Errorf("%w: status %s", ErrNotActive, t.Status)
	}

	states, probs, err := s.classify(ctx, t)
	if err != nil {
		return 0, err
	}
	var wonProbs []int64
	for i, st := range states {
		if st == legLost {
			if _, err := s.settleLoss(ctx, t); err != nil {
				return 0, err
			}
			return 0, nil
		}
		if st == legWon {
			wonProbs = append(wonProbs, probs[i])
		}
	}
	if len(wonProbs) == 0 {
		return 0, nil
	}

	mult, err := pricing.Multiplier(wonProbs)
	if err != nil {
		return 0, err
	}
	entitled, err := pricing.Payout(t.EffectiveStake, mult)
	if err != nil {
		return 0, err
	}
	if entitled > t.PotentialPayout {
		entitled = t.PotentialPayout
	}
	delta := entitled - t.ClaimedAmount
	if delta > 0 {
		if err := s.gateway.Pay(ctx, t.Owner, delta); err != nil {
			return 0, err
		}
		t.ClaimedAmount += delta
	}

	// Fully won and fully paid: nothing remains, advance to claimed.
	if len(wonProbs) == len(t.Legs) {
		if err := s.gateway.Release(t.Remaining()); err != nil {
			return 0, err
		}
		t.ClaimedAmount = t.PotentialPayout
		t.Status = model.StatusClaimed
	}
	t.UpdatedAt = s.now().UTC()
	if err := s.store.UpdateTicket(ctx, t); err != nil {
		return 0, err
	}

	if delta > 0 || t.Status == model.StatusClaimed {
		s.emit(model.Event{
			Type: model.EventProgressiveClaim, TicketID: t.ID, Account: t.Owner,
			Amount: delta, Detail: map[string]string{
				"claimed_total": strconv.FormatInt(t.ClaimedAmount, 10),
				"status":        t.Status,
			},
		})
		slog.Info("progressive claim", "ticket", t.ID, "delta", delta, "total", t.ClaimedAmount)
	}
	return delta, nil
}

// CashoutEarly voluntarily exits an active cashout-mode ticket with at
// least one won and one unresolved leg, at the penalty rate snapshotted at
// purchase. minAcceptable guards against the value moving under the caller.
func (s *Service) CashoutEarly(ctx context.Context, caller, ticketID string, minAcceptable int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.store.GetTicket(ctx, ticketID)
	if err != nil {
		return 0, err
	}
	if t.Owner != caller {
		return 0, ErrNotOwner
	}
	if t.PayoutMode != model.PayoutCashout {
		return 0, fmt.Errorf("%w: %s", ErrWrongMode, t.PayoutMode)
	}
	if t.Status != model.StatusActive {
		return 0, fmt.Errorf("%w: status %s", ErrNotActive, t.Status)
	}

	states, probs, err := s.classify(ctx, t)
	if err != nil {
		return 0, err
	}
	var wonProbs []int64
	unresolved := 0
	for i, st := range states {
		switch st {
		case legLost:
			return 0, ErrLegAlreadyLost
		case legUnresolved:
			unresolved++
		case legWon:
			wonProbs = append(wonProbs, probs[i])
		}
	}
	if unresolved == 0 {
		return 0, ErrNoUnresolvedLeg
	}

	value, err := pricing.CashoutValue(t.EffectiveStake, wonProbs, unresolved,
		t.CashoutPenaltyBps, len(t.Legs), t.Remaining())
	if err != nil {
		return 0, err
	}
	if value < minAcceptable {
		return 0, fmt.Errorf("%w: value %d < %d", ErrBelowMinValue, value, minAcceptable)
	}

	if value > 0 {
		if err := s.gateway.Pay(ctx, t.Owner, value); err != nil {
			return 0, err
		}
		t.ClaimedAmount += value
	}
	if err := s.gateway.Release(t.Remaining()); err != nil {
		return 0, err
	}
	t.Status = model.StatusClaimed
	t.UpdatedAt = s.now().UTC()
	if err := s.store.UpdateTicket(ctx, t); err != nil {
		return 0, err
	}

	s.emit(model.Event{
		Type: model.EventEarlyCashout, TicketID: t.ID, Account: t.Owner,
		Amount: value, Detail: map[string]string{
			"unresolved":       strconv.Itoa(unresolved),
			"penalty_base_bps": strconv.FormatInt(t.CashoutPenaltyBps, 10),
		},
	})
	slog.Info("early cashout", "ticket", t.ID, "owner", t.Owner, "value", value)
	return value, nil
}

// Transfer moves ticket ownership. The certificate is transferable while
// the ticket still has value to claim.
func (s *Service) Transfer(ctx context.Context, caller, ticketID, newOwner string) error {
	if newOwner == "" || newOwner == caller {
		return ErrInvalidParam
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.store.GetTicket(ctx, ticketID)
	if err != nil {
		return err
	}
	if t.Owner != caller {
		return ErrNotOwner
	}
	if t.Terminal() {
		return fmt.Errorf("%w: status %s", ErrNotActive, t.Status)
	}
	t.Owner = newOwner
	t.UpdatedAt = s.now().UTC()
	if err := s.store.UpdateTicket(ctx, t); err != nil {
		return err
	}
	s.emit(model.Event{
		Type: model.EventTicketTransferred, TicketID: t.ID, Account: newOwner,
		Detail: map[string]string{"from": caller},
	})
	return nil
}

// SetEdge adjusts the fee edge for future purchases.
func (s *Service) SetEdge(baseBps, perLegBps int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.params
	p.BaseEdgeBps = baseBps
	p.PerLegEdgeBps = perLegBps
	if err := p.validate(); err != nil {
		return err
	}
	s.params = p
	return nil
}

// SetCashoutPenalty adjusts the penalty base snapshotted onto future
// cashout tickets. Open tickets keep their snapshot.
func (s *Service) SetCashoutPenalty(bps int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.params
	p.CashoutPenaltyBps = bps
	if err := p.validate(); err != nil {
		return err
	}
	s.params = p
	return nil
}

// SetMinStake adjusts the stake floor for future purchases.
func (s *Service) SetMinStake(min int64) error {
	if min < 0 {
		return ErrInvalidParam
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.params.MinStake = min
	return nil
}

func (s *Service) emit(ev model.Event) {
	if s.sink == nil {
		return
	}
	ev.ID = uuid.New().String()
	ev.At = s.now().UTC()
	s.sink.Emit(ev)
}
