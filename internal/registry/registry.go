// Package registry defines the outcome registry and oracle collaborators
// consumed by the wager engine. Legs are owned by the registry and read-only
// to the engine; the oracle reports per-leg resolution status.
package registry

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"
)

// Leg outcome statuses as reported by the oracle.
const (
	OutcomeUnresolved = "unresolved"
	OutcomeWon        = "won"
	OutcomeLost       = "lost"
	OutcomeVoided     = "voided"
)

var (
	// ErrLegNotFound is returned for an unknown leg ID.
	ErrLegNotFound = errors.New("registry: leg not found")

	// ErrInvalidOracleRef is returned for a malformed oracle reference.
	ErrInvalidOracleRef = errors.New("registry: invalid oracle reference")
)

// oracleRefRegex matches ORC-{source}-{event}-{YYYYMMDD}.
// Example: ORC-sportsfeed-NBA1234-20260315
var oracleRefRegex = regexp.MustCompile(`^ORC-([a-z0-9]+)-([A-Za-z0-9]+)-(\d{8})$`)

// Leg is one externally-defined outcome: a probability in PPM, a trading
// cutoff, the earliest time the oracle may resolve it, and a reference into
// the oracle layer.
type Leg struct {
	ID                  string    `json:"id"`
	ProbabilityPPM      int64     `json:"probability_ppm"`
	CutoffTime          time.Time `json:"cutoff_time"`
	EarliestResolveTime time.Time `json:"earliest_resolve_time"`
	OracleRef           string    `json:"oracle_ref"`
	Active              bool      `json:"active"`
}

// Registry is the outcome registry collaborator.
type Registry interface {
	GetLeg(ctx context.Context, id string) (*Leg, error)
	LegCount(ctx context.Context) (int, error)
}

// Resolution is an oracle's report for one leg.
type Resolution struct {
	Status  string `json:"status"` // one of the Outcome* constants
	Outcome string `json:"outcome,omitempty"`
}

// Oracle resolves real-world outcomes per leg.
type Oracle interface {
	CanResolve(ctx context.Context, legID string) (bool, error)
	GetStatus(ctx context.Context, legID string) (*Resolution, error)
}

// ValidateOracleRef checks an oracle reference against the expected format.
func ValidateOracleRef(ref string) error {
	if !oracleRefRegex.MatchString(ref) {
		return fmt.Errorf("%w: %s (expected ORC-{source}-{event}-{YYYYMMDD})",
			ErrInvalidOracleRef, ref)
	}
	return nil
}
