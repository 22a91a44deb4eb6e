// HTTP handlers for tickets, vault, and lock positions.
//
// Amounts cross the wire as decimal strings and are converted to
// micro-units at this boundary; internal arithmetic is int64 only.
package engine

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/parlaypool/settlement-engine/internal/model"
	"github.com/parlaypool/settlement-engine/internal/rewards"
	"github.com/parlaypool/settlement-engine/internal/store"
	"github.com/parlaypool/settlement-engine/internal/vault"
)

// API wires the engine, vault, and reward ledger to the HTTP surface.
type API struct {
	svc    *Service
	pool   *vault.Vault
	ledger *rewards.Ledger
	store  store.Store
}

// NewAPI creates the HTTP handler set.
func NewAPI(svc *Service, pool *vault.Vault, ledger *rewards.Ledger, st store.Store) *API {
	return &API{svc: svc, pool: pool, ledger: ledger, store: st}
}

// --- Request/Response types ---

// BuyRequest is the JSON body for POST /api/v1/tickets.
type BuyRequest struct {
	Owner      string            `json:"owner"`
	Legs       []model.TicketLeg `json:"legs"`
	Stake      string            `json:"stake"` // decimal units
	PayoutMode string            `json:"payout_mode"`
}

// TicketResponse is a ticket with money fields rendered as decimal strings.
type TicketResponse struct {
	ID              string            `json:"id"`
	Owner           string            `json:"owner"`
	Legs            []model.TicketLeg `json:"legs"`
	Stake           string            `json:"stake"`
	Fee             string            `json:"fee"`
	EffectiveStake  string            `json:"effective_stake"`
	FairMultiplier  int64             `json:"fair_multiplier"`
	NetMultiplier   int64             `json:"net_multiplier"`
	PotentialPayout string            `json:"potential_payout"`
	ClaimedAmount   string            `json:"claimed_amount"`
	PayoutMode      string            `json:"payout_mode"`
	SettlementMode  string            `json:"settlement_mode"`
	Status          string            `json:"status"`
	CreatedAt       string            `json:"created_at"`
	UpdatedAt       string            `json:"updated_at"`
}

func ticketResponse(t *model.Ticket) TicketResponse {
	return TicketResponse{
		ID:              t.ID,
		Owner:           t.Owner,
		Legs:            t.Legs,
		Stake:           model.FormatAmount(t.Stake),
		Fee:             model.FormatAmount(t.Fee),
		EffectiveStake:  model.FormatAmount(t.EffectiveStake),
		FairMultiplier:  t.FairMultiplier,
		NetMultiplier:   t.NetMultiplier,
		PotentialPayout: model.FormatAmount(t.PotentialPayout),
		ClaimedAmount:   model.FormatAmount(t.ClaimedAmount),
		PayoutMode:      t.PayoutMode,
		SettlementMode:  t.SettlementMode,
		Status:          t.Status,
		CreatedAt:       t.CreatedAt.Format("2006-01-02T15:04:05.000Z07:00"),
		UpdatedAt:       t.UpdatedAt.Format("2006-01-02T15:04:05.000Z07:00"),
	}
}

// --- Ticket handlers ---

// BuyTicket handles POST /api/v1/tickets
func (a *API) BuyTicket(w http.ResponseWriter, r *http.Request) {
	var req BuyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Owner == "" {
		writeError(w, "owner is required", http.StatusBadRequest)
		return
	}
	stake, err := model.ParseAmount(req.Stake)
	if err != nil {
		writeError(w, "invalid stake: "+err.Error(), http.StatusBadRequest)
		return
	}

	ticket, err := a.svc.Buy(r.Context(), req.Owner, req.Legs, stake, req.PayoutMode)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(ticketResponse(ticket))
}

// GetTicket handles GET /api/v1/tickets/{ticketID}
func (a *API) GetTicket(w http.ResponseWriter, r *http.Request) {
	t, err := a.store.GetTicket(r.Context(), chi.URLParam(r, "ticketID"))
	if err != nil {
		writeError(w, "ticket not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(ticketResponse(t))
}

// ListTickets handles GET /api/v1/accounts/{account}/tickets
func (a *API) ListTickets(w http.ResponseWriter, r *http.Request) {
	tickets, err := a.store.ListTicketsByOwner(r.Context(), chi.URLParam(r, "account"))
	if err != nil {
		writeError(w, "failed to list tickets", http.StatusInternalServerError)
		return
	}
	out := make([]TicketResponse, 0, len(tickets))
	for i := range tickets {
		out = append(out, ticketResponse(&tickets[i]))
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
}

// SettleTicket handles POST /api/v1/tickets/{ticketID}/settle
func (a *API) SettleTicket(w http.ResponseWriter, r *http.Request) {
	t, err := a.svc.Settle(r.Context(), chi.URLParam(r, "ticketID"))
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(ticketResponse(t))
}

type callerRequest struct {
	Caller string `json:"caller"`
}

// ClaimTicket handles POST /api/v1/tickets/{ticketID}/claim
func (a *API) ClaimTicket(w http.ResponseWriter, r *http.Request) {
	var req callerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Caller == "" {
		writeError(w, "caller is required", http.StatusBadRequest)
		return
	}
	amount, err := a.svc.Claim(r.Context(), req.Caller, chi.URLParam(r, "ticketID"))
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"paid": model.FormatAmount(amount)})
}

// ClaimProgressive handles POST /api/v1/tickets/{ticketID}/claim-progressive
func (a *API) ClaimProgressive(w http.ResponseWriter, r *http.Request) {
	var req callerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Caller == "" {
		writeError(w, "caller is required", http.StatusBadRequest)
		return
	}
	delta, err := a.svc.ClaimProgressive(r.Context(), req.Caller, chi.URLParam(r, "ticketID"))
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"paid": model.FormatAmount(delta)})
}

// CashoutRequest is the JSON body for POST /tickets/{id}/cashout.
type CashoutRequest struct {
	Caller        string `json:"caller"`
	MinAcceptable string `json:"min_acceptable"` // decimal units; "" means 0
}

// CashoutTicket handles POST /api/v1/tickets/{ticketID}/cashout
func (a *API) CashoutTicket(w http.ResponseWriter, r *http.Request) {
	var req CashoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Caller == "" {
		writeError(w, "caller is required", http.StatusBadRequest)
		return
	}
	var min int64
	if req.MinAcceptable != "" {
		var err error
		if min, err = model.ParseAmount(req.MinAcceptable); err != nil {
			writeError(w, "invalid min_acceptable: "+err.Error(), http.StatusBadRequest)
			return
		}
	}
	value, err := a.svc.CashoutEarly(r.Context(), req.Caller, chi.URLParam(r, "ticketID"), min)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"paid": model.FormatAmount(value)})
}

// TransferRequest is the JSON body for POST /tickets/{id}/transfer.
type TransferRequest struct {
	Caller   string `json:"caller"`
	NewOwner string `json:"new_owner"`
}

// TransferTicket handles POST /api/v1/tickets/{ticketID}/transfer
func (a *API) TransferTicket(w http.ResponseWriter, r *http.Request) {
	var req TransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Caller == "" {
		writeError(w, "caller is required", http.StatusBadRequest)
		return
	}
	if err := a.svc.Transfer(r.Context(), req.Caller, chi.URLParam(r, "ticketID"), req.NewOwner); err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Vault handlers ---

// VaultMoveRequest is the JSON body for vault deposit and withdraw.
type VaultMoveRequest struct {
	Account string `json:"account"`
	Amount  string `json:"amount"` // deposit: currency units
	Shares  int64  `json:"shares"` // withdraw: share count
}

// VaultDeposit handles POST /api/v1/vault/deposit
func (a *API) VaultDeposit(w http.ResponseWriter, r *http.Request) {
	var req VaultMoveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Account == "" {
		writeError(w, "account is required", http.StatusBadRequest)
		return
	}
	amount, err := model.ParseAmount(req.Amount)
	if err != nil {
		writeError(w, "invalid amount: "+err.Error(), http.StatusBadRequest)
		return
	}
	shares, err := a.pool.Deposit(r.Context(), req.Account, amount)
	if err != nil {
		writeError(w, err.Error(), http.StatusConflict)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]int64{"shares": shares})
}

// VaultWithdraw handles POST /api/v1/vault/withdraw
func (a *API) VaultWithdraw(w http.ResponseWriter, r *http.Request) {
	var req VaultMoveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Account == "" {
		writeError(w, "account is required", http.StatusBadRequest)
		return
	}
	amount, err := a.pool.Withdraw(r.Context(), req.Account, req.Shares)
	if err != nil {
		writeError(w, err.Error(), http.StatusConflict)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"amount": model.FormatAmount(amount)})
}

// GetVault handles GET /api/v1/vault
func (a *API) GetVault(w http.ResponseWriter, r *http.Request) {
	stats := a.pool.Snapshot()
	resp := map[string]any{
		"total_assets": model.FormatAmount(stats.TotalAssets),
		"local_assets": model.FormatAmount(stats.LocalAssets),
		"deployed":     model.FormatAmount(stats.Deployed),
		"reserved":     model.FormatAmount(stats.Reserved),
		"total_shares": stats.TotalShares,
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// --- Lock position handlers ---

// LockRequest is the JSON body for POST /api/v1/locks.
type LockRequest struct {
	Owner  string `json:"owner"`
	Shares int64  `json:"shares"`
	Tier   string `json:"tier"`
}

// CreateLock handles POST /api/v1/locks
func (a *API) CreateLock(w http.ResponseWriter, r *http.Request) {
	var req LockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Owner == "" {
		writeError(w, "owner is required", http.StatusBadRequest)
		return
	}
	pos, err := a.ledger.Lock(r.Context(), req.Owner, req.Shares, req.Tier)
	if err != nil {
		writeError(w, err.Error(), http.StatusConflict)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(pos)
}

// GetLock handles GET /api/v1/locks/{lockID}
func (a *API) GetLock(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "lockID")
	pos, err := a.store.GetLockPosition(r.Context(), id)
	if err != nil {
		writeError(w, "lock position not found", http.StatusNotFound)
		return
	}
	pending, err := a.ledger.Pending(r.Context(), id)
	if err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"position":       pos,
		"pending_reward": model.FormatAmount(pending),
	})
}

// ListLocks handles GET /api/v1/accounts/{account}/locks
func (a *API) ListLocks(w http.ResponseWriter, r *http.Request) {
	positions, err := a.store.ListLockPositionsByOwner(r.Context(), chi.URLParam(r, "account"))
	if err != nil {
		writeError(w, "failed to list lock positions", http.StatusInternalServerError)
		return
	}
	if positions == nil {
		positions = []model.LockPosition{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(positions)
}

// Unlock handles POST /api/v1/locks/{lockID}/unlock
func (a *API) Unlock(w http.ResponseWriter, r *http.Request) {
	var req callerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Caller == "" {
		writeError(w, "caller is required", http.StatusBadRequest)
		return
	}
	shares, err := a.ledger.Unlock(r.Context(), req.Caller, chi.URLParam(r, "lockID"))
	if err != nil {
		writeError(w, err.Error(), http.StatusConflict)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]int64{"shares": shares})
}

// EarlyWithdraw handles POST /api/v1/locks/{lockID}/early-withdraw
func (a *API) EarlyWithdraw(w http.ResponseWriter, r *http.Request) {
	var req callerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Caller == "" {
		writeError(w, "caller is required", http.StatusBadRequest)
		return
	}
	returned, penalty, err := a.ledger.EarlyWithdraw(r.Context(), req.Caller, chi.URLParam(r, "lockID"))
	if err != nil {
		writeError(w, err.Error(), http.StatusConflict)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]int64{
		"shares":         returned,
		"penalty_shares": penalty,
	})
}

// --- Events ---

// ListEvents handles GET /api/v1/events
// Optional ?ticket=<id> filters to one ticket; ?limit=<n> caps recent events.
func (a *API) ListEvents(w http.ResponseWriter, r *http.Request) {
	var (
		events []model.Event
		err    error
	)
	if ticketID := r.URL.Query().Get("ticket"); ticketID != "" {
		events, err = a.store.ListEventsByTicket(r.Context(), ticketID)
	} else {
		limit := 100
		if s := r.URL.Query().Get("limit"); s != "" {
			if n, perr := strconv.Atoi(s); perr == nil && n > 0 {
				limit = n
			}
		}
		events, err = a.store.ListRecentEvents(r.Context(), limit)
	}
	if err != nil {
		writeError(w, "failed to list events", http.StatusInternalServerError)
		return
	}
	if events == nil {
		events = []model.Event{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(events)
}

// Routes mounts the API under the given chi router.
func (a *API) Routes(r chi.Router) {
	r.Post("/tickets", a.BuyTicket)
	r.Get("/tickets/{ticketID}", a.GetTicket)
	r.Post("/tickets/{ticketID}/settle", a.SettleTicket)
	r.Post("/tickets/{ticketID}/claim", a.ClaimTicket)
	r.Post("/tickets/{ticketID}/claim-progressive", a.ClaimProgressive)
	r.Post("/tickets/{ticketID}/cashout", a.CashoutTicket)
	r.Post("/tickets/{ticketID}/transfer", a.TransferTicket)
	r.Get("/accounts/{account}/tickets", a.ListTickets)

	r.Post("/vault/deposit", a.VaultDeposit)
	r.Post("/vault/withdraw", a.VaultWithdraw)
	r.Get("/vault", a.GetVault)

	r.Post("/locks", a.CreateLock)
	r.Get("/locks/{lockID}", a.GetLock)
	r.Post("/locks/{lockID}/unlock", a.Unlock)
	r.Post("/locks/{lockID}/early-withdraw", a.EarlyWithdraw)
	r.Get("/accounts/{account}/locks", a.ListLocks)

	r.Get("/events", a.ListEvents)
}

// statusFor maps engine errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrNotOwner):
		return http.StatusForbidden
	case errors.Is(err, ErrBadLegCount), errors.Is(err, ErrDuplicateLeg),
		errors.Is(err, ErrBadSide), errors.Is(err, ErrBadPayoutMode),
		errors.Is(err, ErrStakeTooSmall), errors.Is(err, ErrInvalidParam):
		return http.StatusBadRequest
	default:
		return http.StatusConflict
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
