package registry

import (
	"context"
	"fmt"
	"sync"
)

// MemoryRegistry is an in-memory Registry used for development and tests.
type MemoryRegistry struct {
	mu   sync.RWMutex
	legs map[string]*Leg
}

// NewMemoryRegistry creates an empty in-memory registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{legs: make(map[string]*Leg)}
}

// AddLeg registers a leg. The oracle reference must be well-formed.
func (r *MemoryRegistry) AddLeg(leg Leg) error {
	if leg.ProbabilityPPM <= 0 || leg.ProbabilityPPM > 1_000_000 {
		return fmt.Errorf("registry: probability %d out of range", leg.ProbabilityPPM)
	}
	if err := ValidateOracleRef(leg.OracleRef); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.legs[leg.ID]; exists {
		return fmt.Errorf("registry: leg %s already exists", leg.ID)
	}
	cp := leg
	r.legs[leg.ID] = &cp
	return nil
}

// SetProbability updates a leg's listed probability for future purchases.
func (r *MemoryRegistry) SetProbability(id string, ppm int64) error {
	if ppm <= 0 || ppm > 1_000_000 {
		return fmt.Errorf("registry: probability %d out of range", ppm)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	leg, ok := r.legs[id]
	if !ok {
		return ErrLegNotFound
	}
	leg.ProbabilityPPM = ppm
	return nil
}

// SetActive flips a leg's active flag.
func (r *MemoryRegistry) SetActive(id string, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	leg, ok := r.legs[id]
	if !ok {
		return ErrLegNotFound
	}
	leg.Active = active
	return nil
}

func (r *MemoryRegistry) GetLeg(_ context.Context, id string) (*Leg, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	leg, ok := r.legs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLegNotFound, id)
	}
	cp := *leg
	return &cp, nil
}

func (r *MemoryRegistry) LegCount(_ context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.legs), nil
}

// MemoryOracle is an in-memory Oracle whose statuses are set directly.
// Legs with no recorded status report as unresolved.
type MemoryOracle struct {
	mu       sync.RWMutex
	statuses map[string]Resolution
}

// NewMemoryOracle creates an empty in-memory oracle.
func NewMemoryOracle() *MemoryOracle {
	return &MemoryOracle{statuses: make(map[string]Resolution)}
}

// SetStatus records a resolution for a leg.
func (o *MemoryOracle) SetStatus(legID, status, outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.statuses[legID] = Resolution{Status: status, Outcome: outcome}
}

func (o *MemoryOracle) CanResolve(_ context.Context, legID string) (bool, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	res, ok := o.statuses[legID]
	return ok && res.Status != OutcomeUnresolved, nil
}

func (o *MemoryOracle) GetStatus(_ context.Context, legID string) (*Resolution, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	res, ok := o.statuses[legID]
	if !ok {
		return &Resolution{Status: OutcomeUnresolved}, nil
	}
	cp := res
	return &cp, nil
}
