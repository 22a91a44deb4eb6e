package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/parlaypool/settlement-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// Monetary values are stored as BIGINT micro-units; ticket legs and event
// detail go to JSONB; the reward-debt big integer is kept as TEXT.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) CreateTicket(ctx context.Context, t *model.Ticket) error {
	legs, err := json.Marshal(t.Legs)
	if err != nil {
		return fmt.Errorf("marshal legs: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO tickets (id, owner, legs, stake, fee, effective_stake,
		                      fair_multiplier, net_multiplier, potential_payout,
		                      claimed_amount, payout_mode, settlement_mode, status,
		                      cashout_penalty_bps, created_at, updated_at)
		 VALUES ($1, $2, $3::JSONB, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		t.ID, t.Owner, legs, t.Stake, t.Fee, t.EffectiveStake,
		t.FairMultiplier, t.NetMultiplier, t.PotentialPayout,
		t.ClaimedAmount, t.PayoutMode, t.SettlementMode, t.Status,
		t.CashoutPenaltyBps, t.CreatedAt, t.UpdatedAt,
	)
	return err
}

const ticketColumns = `id, owner, legs, stake, fee, effective_stake,
	fair_multiplier, net_multiplier, potential_payout, claimed_amount,
	payout_mode, settlement_mode, status, cashout_penalty_bps,
	created_at, updated_at`

func scanTicket(row pgx.Row) (*model.Ticket, error) {
	var t model.Ticket
	var legs []byte
	err := row.Scan(&t.ID, &t.Owner, &legs, &t.Stake, &t.Fee, &t.EffectiveStake,
		&t.FairMultiplier, &t.NetMultiplier, &t.PotentialPayout, &t.ClaimedAmount,
		&t.PayoutMode, &t.SettlementMode, &t.Status, &t.CashoutPenaltyBps,
		&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(legs, &t.Legs); err != nil {
		return nil, fmt.Errorf("unmarshal legs: %w", err)
	}
	return &t, nil
}

func (s *PostgresStore) GetTicket(ctx context.Context, id string) (*model.Ticket, error) {
	t, err := scanTicket(s.pool.QueryRow(ctx,
		`SELECT `+ticketColumns+` FROM tickets WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: ticket %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get ticket %s: %w", id, err)
	}
	return t, nil
}

func (s *PostgresStore) UpdateTicket(ctx context.Context, t *model.Ticket) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE tickets
		 SET owner = $2, potential_payout = $3, claimed_amount = $4,
		     status = $5, updated_at = $6
		 WHERE id = $1`,
		t.ID, t.Owner, t.PotentialPayout, t.ClaimedAmount, t.Status, t.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: ticket %s", ErrNotFound, t.ID)
	}
	return nil
}

func (s *PostgresStore) ListTicketsByOwner(ctx context.Context, owner string) ([]model.Ticket, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+ticketColumns+` FROM tickets WHERE owner = $1 ORDER BY created_at DESC`, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tickets []model.Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, *t)
	}
	return tickets, rows.Err()
}

func (s *PostgresStore) CreateLockPosition(ctx context.Context, p *model.LockPosition) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO lock_positions (id, owner, shares, tier, weight_bps, weighted,
		                             reward_debt, locked_at, unlock_at, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		p.ID, p.Owner, p.Shares, p.Tier, p.WeightBps, p.Weighted,
		debtString(p.RewardDebt), p.LockedAt, p.UnlockAt, p.Status,
	)
	return err
}

const lockColumns = `id, owner, shares, tier, weight_bps, weighted,
	reward_debt, locked_at, unlock_at, status`

func scanLockPosition(row pgx.Row) (*model.LockPosition, error) {
	var p model.LockPosition
	var debt string
	err := row.Scan(&p.ID, &p.Owner, &p.Shares, &p.Tier, &p.WeightBps, &p.Weighted,
		&debt, &p.LockedAt, &p.UnlockAt, &p.Status)
	if err != nil {
		return nil, err
	}
	d, ok := new(big.Int).SetString(debt, 10)
	if !ok {
		return nil, fmt.Errorf("corrupt reward debt %q for position %s", debt, p.ID)
	}
	p.RewardDebt = d
	return &p, nil
}

func (s *PostgresStore) GetLockPosition(ctx context.Context, id string) (*model.LockPosition, error) {
	p, err := scanLockPosition(s.pool.QueryRow(ctx,
		`SELECT `+lockColumns+` FROM lock_positions WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: lock position %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get lock position %s: %w", id, err)
	}
	return p, nil
}

func (s *PostgresStore) UpdateLockPosition(ctx context.Context, p *model.LockPosition) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE lock_positions
		 SET shares = $2, weighted = $3, reward_debt = $4, status = $5
		 WHERE id = $1`,
		p.ID, p.Shares, p.Weighted, debtString(p.RewardDebt), p.Status,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: lock position %s", ErrNotFound, p.ID)
	}
	return nil
}

func (s *PostgresStore) ListLockPositionsByOwner(ctx context.Context, owner string) ([]model.LockPosition, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+lockColumns+` FROM lock_positions WHERE owner = $1 ORDER BY locked_at DESC`, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []model.LockPosition
	for rows.Next() {
		p, err := scanLockPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, *p)
	}
	return positions, rows.Err()
}

func (s *PostgresStore) AppendEvent(ctx context.Context, ev *model.Event) error {
	detail, err := json.Marshal(ev.Detail)
	if err != nil {
		return fmt.Errorf("marshal detail: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO events (id, type, ticket_id, position_id, account, amount, shares, detail, at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8::JSONB, $9)`,
		ev.ID, ev.Type, ev.TicketID, ev.PositionID, ev.Account,
		ev.Amount, ev.Shares, detail, ev.At,
	)
	return err
}

const eventColumns = `id, type, ticket_id, position_id, account, amount, shares, detail, at`

func scanEvents(rows pgx.Rows) ([]model.Event, error) {
	var events []model.Event
	for rows.Next() {
		var ev model.Event
		var detail []byte
		if err := rows.Scan(&ev.ID, &ev.Type, &ev.TicketID, &ev.PositionID,
			&ev.Account, &ev.Amount, &ev.Shares, &detail, &ev.At); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(detail, &ev.Detail); err != nil {
			return nil, fmt.Errorf("unmarshal detail: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

func (s *PostgresStore) ListEventsByTicket(ctx context.Context, ticketID string) ([]model.Event, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+eventColumns+` FROM events WHERE ticket_id = $1 ORDER BY at`, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

func (s *PostgresStore) ListRecentEvents(ctx context.Context, limit int) ([]model.Event, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+eventColumns+` FROM events ORDER BY at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

func debtString(d *big.Int) string {
	if d == nil {
		return "0"
	}
	return d.String()
}
