// Package store defines the persistence interface for the settlement
// engine. Implementations include PostgreSQL (source of truth), Redis
// (read-through cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/parlaypool/settlement-engine/internal/model"
)

// ErrNotFound is returned for unknown ticket or position IDs.
var ErrNotFound = errors.New("store: not found")

// Store is the persistence interface. Tickets and lock positions are
// mutable aggregates; the event journal is append-only.
type Store interface {
	// --- Tickets ---

	// CreateTicket persists a new ticket.
	CreateTicket(ctx context.Context, t *model.Ticket) error

	// GetTicket retrieves a ticket by ID.
	GetTicket(ctx context.Context, id string) (*model.Ticket, error)

	// UpdateTicket persists ticket mutations (status, claimed amount,
	// recomputed payout, owner).
	UpdateTicket(ctx context.Context, t *model.Ticket) error

	// ListTicketsByOwner returns all tickets held by an account.
	ListTicketsByOwner(ctx context.Context, owner string) ([]model.Ticket, error)

	// --- Lock positions ---

	// CreateLockPosition persists a new lock position.
	CreateLockPosition(ctx context.Context, p *model.LockPosition) error

	// GetLockPosition retrieves a lock position by ID.
	GetLockPosition(ctx context.Context, id string) (*model.LockPosition, error)

	// UpdateLockPosition persists position mutations (reward debt, status).
	UpdateLockPosition(ctx context.Context, p *model.LockPosition) error

	// ListLockPositionsByOwner returns all positions held by an account.
	ListLockPositionsByOwner(ctx context.Context, owner string) ([]model.LockPosition, error)

	// --- Event journal (append-only) ---

	// AppendEvent appends an immutable journal entry.
	AppendEvent(ctx context.Context, ev *model.Event) error

	// ListEventsByTicket returns all events for one ticket, oldest first.
	ListEventsByTicket(ctx context.Context, ticketID string) ([]model.Event, error)

	// ListRecentEvents returns up to limit newest events, newest first.
	ListRecentEvents(ctx context.Context, limit int) ([]model.Event, error)
}
