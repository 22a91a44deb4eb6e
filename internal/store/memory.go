package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/parlaypool/settlement-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu        sync.RWMutex
	tickets   map[string]*model.Ticket
	positions map[string]*model.LockPosition
	journal   []model.Event
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tickets:   make(map[string]*model.Ticket),
		positions: make(map[string]*model.LockPosition),
	}
}

func copyTicket(t *model.Ticket) *model.Ticket {
	cp := *t
	cp.Legs = make([]model.TicketLeg, len(t.Legs))
	copy(cp.Legs, t.Legs)
	return &cp
}

func (s *MemoryStore) CreateTicket(_ context.Context, t *model.Ticket) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tickets[t.ID]; exists {
		return fmt.Errorf("ticket %s already exists", t.ID)
	}
	s.tickets[t.ID] = copyTicket(t)
	return nil
}

func (s *MemoryStore) GetTicket(_ context.Context, id string) (*model.Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tickets[id]
	if !ok {
		return nil, fmt.Errorf("%w: ticket %s", ErrNotFound, id)
	}
	return copyTicket(t), nil
}

func (s *MemoryStore) UpdateTicket(_ context.Context, t *model.Ticket) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tickets[t.ID]; !ok {
		return fmt.Errorf("%w: ticket %s", ErrNotFound, t.ID)
	}
	s.tickets[t.ID] = copyTicket(t)
	return nil
}

func (s *MemoryStore) ListTicketsByOwner(_ context.Context, owner string) ([]model.Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Ticket
	for _, t := range s.tickets {
		if t.Owner == owner {
			out = append(out, *copyTicket(t))
		}
	}
	return out, nil
}

func (s *MemoryStore) CreateLockPosition(_ context.Context, p *model.LockPosition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.positions[p.ID]; exists {
		return fmt.Errorf("lock position %s already exists", p.ID)
	}
	s.positions[p.ID] = p.Clone()
	return nil
}

func (s *MemoryStore) GetLockPosition(_ context.Context, id string) (*model.LockPosition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.positions[id]
	if !ok {
		return nil, fmt.Errorf("%w: lock position %s", ErrNotFound, id)
	}
	return p.Clone(), nil
}

func (s *MemoryStore) UpdateLockPosition(_ context.Context, p *model.LockPosition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.positions[p.ID]; !ok {
		return fmt.Errorf("%w: lock position %s", ErrNotFound, p.ID)
	}
	s.positions[p.ID] = p.Clone()
	return nil
}

func (s *MemoryStore) ListLockPositionsByOwner(_ context.Context, owner string) ([]model.LockPosition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.LockPosition
	for _, p := range s.positions {
		if p.Owner == owner {
			out = append(out, *p.Clone())
		}
	}
	return out, nil
}

func (s *MemoryStore) AppendEvent(_ context.Context, ev *model.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.journal = append(s.journal, *ev)
	return nil
}

func (s *MemoryStore) ListEventsByTicket(_ context.Context, ticketID string) ([]model.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Event
	for _, ev := range s.journal {
		if ev.TicketID == ticketID {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (s *MemoryStore) ListRecentEvents(_ context.Context, limit int) ([]model.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || limit > len(s.journal) {
		limit = len(s.journal)
	}
	out := make([]model.Event, 0, limit)
	for i := len(s.journal) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.journal[i])
	}
	return out, nil
}
