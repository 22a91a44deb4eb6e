package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/parlaypool/settlement-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and refresh the cache; reads check
// Redis first then fall back to the primary. The append-only event journal
// is never cached.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, refresh cache) ---

func (s *CachedStore) CreateTicket(ctx context.Context, t *model.Ticket) error {
	if err := s.primary.CreateTicket(ctx, t); err != nil {
		return err
	}
	s.cacheTicket(ctx, t)
	return nil
}

func (s *CachedStore) UpdateTicket(ctx context.Context, t *model.Ticket) error {
	if err := s.primary.UpdateTicket(ctx, t); err != nil {
		return err
	}
	s.cacheTicket(ctx, t)
	return nil
}

func (s *CachedStore) CreateLockPosition(ctx context.Context, p *model.LockPosition) error {
	if err := s.primary.CreateLockPosition(ctx, p); err != nil {
		return err
	}
	s.cacheLock(ctx, p)
	return nil
}

func (s *CachedStore) UpdateLockPosition(ctx context.Context, p *model.LockPosition) error {
	if err := s.primary.UpdateLockPosition(ctx, p); err != nil {
		return err
	}
	s.cacheLock(ctx, p)
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetTicket(ctx context.Context, id string) (*model.Ticket, error) {
	data, err := s.rdb.Get(ctx, ticketKey(id)).Bytes()
	if err == nil {
		var t model.Ticket
		if json.Unmarshal(data, &t) == nil {
			return &t, nil
		}
	}

	t, err := s.primary.GetTicket(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cacheTicket(ctx, t)
	return t, nil
}

func (s *CachedStore) GetLockPosition(ctx context.Context, id string) (*model.LockPosition, error) {
	data, err := s.rdb.Get(ctx, lockKey(id)).Bytes()
	if err == nil {
		var p model.LockPosition
		if json.Unmarshal(data, &p) == nil {
			return &p, nil
		}
	}

	p, err := s.primary.GetLockPosition(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cacheLock(ctx, p)
	return p, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListTicketsByOwner(ctx context.Context, owner string) ([]model.Ticket, error) {
	return s.primary.ListTicketsByOwner(ctx, owner)
}

func (s *CachedStore) ListLockPositionsByOwner(ctx context.Context, owner string) ([]model.LockPosition, error) {
	return s.primary.ListLockPositionsByOwner(ctx, owner)
}

func (s *CachedStore) AppendEvent(ctx context.Context, ev *model.Event) error {
	return s.primary.AppendEvent(ctx, ev)
}

func (s *CachedStore) ListEventsByTicket(ctx context.Context, ticketID string) ([]model.Event, error) {
	return s.primary.ListEventsByTicket(ctx, ticketID)
}

func (s *CachedStore) ListRecentEvents(ctx context.Context, limit int) ([]model.Event, error) {
	return s.primary.ListRecentEvents(ctx, limit)
}

// --- Cache helpers ---

func (s *CachedStore) cacheTicket(ctx context.Context, t *model.Ticket) {
	if data, err := json.Marshal(t); err == nil {
		s.rdb.Set(ctx, ticketKey(t.ID), data, s.ttl)
	}
}

func (s *CachedStore) cacheLock(ctx context.Context, p *model.LockPosition) {
	if data, err := json.Marshal(p); err == nil {
		s.rdb.Set(ctx, lockKey(p.ID), data, s.ttl)
	}
}

func ticketKey(id string) string { return fmt.Sprintf("ticket:%s", id) }
func lockKey(id string) string   { return fmt.Sprintf("lock:%s", id) }
