// Development admin surface over the in-memory collaborators. In a real
// deployment the outcome registry and oracle are external systems; these
// handlers exist so a local server can seed legs, resolve outcomes, and
// mint play currency.
package engine

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/parlaypool/settlement-engine/internal/asset"
	"github.com/parlaypool/settlement-engine/internal/model"
	"github.com/parlaypool/settlement-engine/internal/registry"
)

// DevAdmin exposes registry, oracle, and mint operations for development.
type DevAdmin struct {
	reg      *registry.MemoryRegistry
	oracle   *registry.MemoryOracle
	currency *asset.MemoryAsset
}

// NewDevAdmin creates the development admin handler set.
func NewDevAdmin(reg *registry.MemoryRegistry, oracle *registry.MemoryOracle, currency *asset.MemoryAsset) *DevAdmin {
	return &DevAdmin{reg: reg, oracle: oracle, currency: currency}
}

// AddLegRequest is the JSON body for POST /admin/legs.
type AddLegRequest struct {
	ID                  string    `json:"id"`
	ProbabilityPPM      int64     `json:"probability_ppm"`
	CutoffTime          time.Time `json:"cutoff_time"`
	EarliestResolveTime time.Time `json:"earliest_resolve_time"`
	OracleRef           string    `json:"oracle_ref"`
}

// AddLeg handles POST /api/v1/admin/legs
func (d *DevAdmin) AddLeg(w http.ResponseWriter, r *http.Request) {
	var req AddLegRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	err := d.reg.AddLeg(registry.Leg{
		ID:                  req.ID,
		ProbabilityPPM:      req.ProbabilityPPM,
		CutoffTime:          req.CutoffTime,
		EarliestResolveTime: req.EarliestResolveTime,
		OracleRef:           req.OracleRef,
		Active:              true,
	})
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

// ResolveRequest is the JSON body for POST /admin/legs/{legID}/resolve.
type ResolveRequest struct {
	Status  string `json:"status"` // won, lost, voided
	Outcome string `json:"outcome"`
}

// ResolveLeg handles POST /api/v1/admin/legs/{legID}/resolve
func (d *DevAdmin) ResolveLeg(w http.ResponseWriter, r *http.Request) {
	var req ResolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	switch req.Status {
	case registry.OutcomeWon, registry.OutcomeLost, registry.OutcomeVoided:
	default:
		writeError(w, "status must be won, lost, or voided", http.StatusBadRequest)
		return
	}
	d.oracle.SetStatus(chi.URLParam(r, "legID"), req.Status, req.Outcome)
	w.WriteHeader(http.StatusNoContent)
}

// MintRequest is the JSON body for POST /admin/mint.
type MintRequest struct {
	Account string `json:"account"`
	Amount  string `json:"amount"` // decimal units
}

// Mint handles POST /api/v1/admin/mint
func (d *DevAdmin) Mint(w http.ResponseWriter, r *http.Request) {
	var req MintRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Account == "" {
		writeError(w, "account is required", http.StatusBadRequest)
		return
	}
	amount, err := model.ParseAmount(req.Amount)
	if err != nil || amount <= 0 {
		writeError(w, "invalid amount", http.StatusBadRequest)
		return
	}
	d.currency.Mint(req.Account, amount)
	w.WriteHeader(http.StatusNoContent)
}

// Routes mounts the dev admin endpoints.
func (d *DevAdmin) Routes(r chi.Router) {
	r.Post("/admin/legs", d.AddLeg)
	r.Post("/admin/legs/{legID}/resolve", d.ResolveLeg)
	r.Post("/admin/mint", d.Mint)
}
