package rewards

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/parlaypool/settlement-engine/internal/asset"
	"github.com/parlaypool/settlement-engine/internal/store"
	"github.com/parlaypool/settlement-engine/internal/vault"
)

type testEnv struct {
	ledger *Ledger
	vault  *vault.Vault
	cur    *asset.MemoryAsset
	st     *store.MemoryStore
	clock  time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	cur := asset.NewMemoryAsset()
	v, err := vault.New(cur, "vault", "safety", nil, nil, vault.Params{
		UtilizationCapBps: 10_000,
		PerTicketCapBps:   10_000,
	}, nil)
	if err != nil {
		t.Fatalf("vault setup failed: %v", err)
	}
	st := store.NewMemoryStore()
	ledger, err := New(v, cur, "rewards", st, 2_000, nil, nil)
	if err != nil {
		t.Fatalf("ledger setup failed: %v", err)
	}

	env := &testEnv{ledger: ledger, vault: v, cur: cur, st: st,
		clock: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)}
	ledger.now = func() time.Time { return env.clock }
	return env
}

// giveShares deposits currency for an LP so they hold vault shares.
func (e *testEnv) giveShares(t *testing.T, owner string, units int64) int64 {
	t.Helper()
	amount := units * 1_000_000
	e.cur.Mint(owner, amount)
	shares, err := e.vault.Deposit(context.Background(), owner, amount)
	if err != nil {
		t.Fatalf("deposit failed: %v", err)
	}
	return shares
}

// fundFees simulates the vault routing fee income: currency lands on the
// rewards account, then the ledger is notified.
func (e *testEnv) fundFees(t *testing.T, amount int64) {
	t.Helper()
	e.cur.Mint("rewards", amount)
	if err := e.ledger.NotifyFees(amount); err != nil {
		t.Fatalf("notify fees failed: %v", err)
	}
}

func (e *testEnv) advance(d time.Duration) { e.clock = e.clock.Add(d) }

// --- Lock / unlock lifecycle ---

func TestLock_TransfersCustodyAndWeights(t *testing.T) {
	env := newTestEnv(t)
	shares := env.giveShares(t, "lp1", 100)

	pos, err := env.ledger.Lock(context.Background(), "lp1", shares, "90d")
	if err != nil {
		t.Fatalf("lock failed: %v", err)
	}
	if env.vault.SharesOf("lp1") != 0 || env.vault.SharesOf("rewards") != shares {
		t.Errorf("custody not transferred")
	}
	// 90d tier carries a 1.25x weight.
	if pos.Weighted != shares*12_500/10_000 {
		t.Errorf("unexpected weighted shares %d", pos.Weighted)
	}
	if st := env.ledger.Snapshot(); st.TotalWeighted != pos.Weighted {
		t.Errorf("weighted total mismatch: %+v", st)
	}
}

// The ledger holds the vault's only share-custody handle; a second ledger
// over the same vault cannot be constructed.
func TestNew_ClaimsCustodyExclusively(t *testing.T) {
	env := newTestEnv(t)
	if _, err := New(env.vault, env.cur, "rewards2", env.st, 2_000, nil, nil); !errors.Is(err, vault.ErrCustodianClaimed) {
		t.Errorf("expected ErrCustodianClaimed, got %v", err)
	}
}

func TestLock_UnknownTier(t *testing.T) {
	env := newTestEnv(t)
	shares := env.giveShares(t, "lp1", 100)
	if _, err := env.ledger.Lock(context.Background(), "lp1", shares, "7d"); !errors.Is(err, ErrUnknownTier) {
		t.Errorf("expected ErrUnknownTier, got %v", err)
	}
}

func TestUnlock_OnlyAfterMaturity(t *testing.T) {
	env := newTestEnv(t)
	shares := env.giveShares(t, "lp1", 100)
	pos, _ := env.ledger.Lock(context.Background(), "lp1", shares, "30d")

	if _, err := env.ledger.Unlock(context.Background(), "lp1", pos.ID); !errors.Is(err, ErrNotMature) {
		t.Errorf("expected ErrNotMature, got %v", err)
	}

	env.advance(30 * 24 * time.Hour)
	if _, err := env.ledger.Unlock(context.Background(), "lp1", pos.ID); err != nil {
		t.Fatalf("unlock failed: %v", err)
	}
	if env.vault.SharesOf("lp1") != shares {
		t.Errorf("principal not returned in full")
	}
	if st := env.ledger.Snapshot(); st.TotalWeighted != 0 {
		t.Errorf("weighted total not released: %+v", st)
	}
}

func TestUnlock_WrongOwner(t *testing.T) {
	env := newTestEnv(t)
	shares := env.giveShares(t, "lp1", 100)
	pos, _ := env.ledger.Lock(context.Background(), "lp1", shares, "30d")
	env.advance(31 * 24 * time.Hour)
	if _, err := env.ledger.Unlock(context.Background(), "lp2", pos.ID); !errors.Is(err, ErrNotOwner) {
		t.Errorf("expected ErrNotOwner, got %v", err)
	}
}

func TestUnlock_Idempotent(t *testing.T) {
	env := newTestEnv(t)
	shares := env.giveShares(t, "lp1", 100)
	pos, _ := env.ledger.Lock(context.Background(), "lp1", shares, "30d")
	env.advance(31 * 24 * time.Hour)
	if _, err := env.ledger.Unlock(context.Background(), "lp1", pos.ID); err != nil {
		t.Fatalf("unlock failed: %v", err)
	}
	if _, err := env.ledger.Unlock(context.Background(), "lp1", pos.ID); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed on second unlock, got %v", err)
	}
}

// Racing unlocks must settle the reward and return the principal exactly
// once; the loser observes the closed status.
func TestUnlock_ConcurrentSettlesOnce(t *testing.T) {
	env := newTestEnv(t)
	shares := env.giveShares(t, "lp1", 100)
	pos, _ := env.ledger.Lock(context.Background(), "lp1", shares, "30d")
	env.fundFees(t, 10_000_000)
	env.advance(31 * 24 * time.Hour)

	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = env.ledger.Unlock(context.Background(), "lp1", pos.ID)
		}(i)
	}
	wg.Wait()

	var won, closed int
	for _, err := range errs {
		switch {
		case err == nil:
			won++
		case errors.Is(err, ErrClosed):
			closed++
		default:
			t.Fatalf("unexpected unlock error: %v", err)
		}
	}
	if won != 1 || closed != 1 {
		t.Fatalf("expected one winner and one ErrClosed, got %d / %d", won, closed)
	}
	if bal, _ := env.cur.BalanceOf(context.Background(), "lp1"); bal != 10_000_000 {
		t.Errorf("reward settled %d, want a single payment of 10000000", bal)
	}
	if env.vault.SharesOf("lp1") != shares {
		t.Errorf("principal not returned exactly once")
	}
	if st := env.ledger.Snapshot(); st.TotalWeighted != 0 {
		t.Errorf("weighted total not fully released: %+v", st)
	}
}

// --- Reward distribution ---

func TestRewards_NonRetroactivity(t *testing.T) {
	env := newTestEnv(t)
	sharesA := env.giveShares(t, "lpA", 100)
	sharesB := env.giveShares(t, "lpB", 100)

	// A locks before the distribution, B after.
	posA, _ := env.ledger.Lock(context.Background(), "lpA", sharesA, "30d")
	env.fundFees(t, 50_000_000) // 50 units
	posB, _ := env.ledger.Lock(context.Background(), "lpB", sharesB, "30d")

	pendA, _ := env.ledger.Pending(context.Background(), posA.ID)
	pendB, _ := env.ledger.Pending(context.Background(), posB.ID)
	if pendA != 50_000_000 {
		t.Errorf("lpA should receive the full distribution, got %d", pendA)
	}
	if pendB != 0 {
		t.Errorf("lpB opened after the distribution and must get none of it, got %d", pendB)
	}
}

func TestRewards_ProRataByWeight(t *testing.T) {
	env := newTestEnv(t)
	sharesA := env.giveShares(t, "lpA", 100)
	sharesB := env.giveShares(t, "lpB", 100)

	// Same share count, but B commits to 365d at 2.0x weight.
	posA, _ := env.ledger.Lock(context.Background(), "lpA", sharesA, "30d")
	posB, _ := env.ledger.Lock(context.Background(), "lpB", sharesB, "365d")
	env.fundFees(t, 30_000_000)

	pendA, _ := env.ledger.Pending(context.Background(), posA.ID)
	pendB, _ := env.ledger.Pending(context.Background(), posB.ID)
	// Weight split 1:2 over 30 units.
	if pendA < 9_999_999 || pendA > 10_000_000 {
		t.Errorf("expected ~10 units for lpA, got %d", pendA)
	}
	if pendB < 19_999_999 || pendB > 20_000_000 {
		t.Errorf("expected ~20 units for lpB, got %d", pendB)
	}
}

func TestRewards_PaidOnUnlock(t *testing.T) {
	env := newTestEnv(t)
	shares := env.giveShares(t, "lp1", 100)
	pos, _ := env.ledger.Lock(context.Background(), "lp1", shares, "30d")
	env.fundFees(t, 10_000_000)

	env.advance(30 * 24 * time.Hour)
	paid, err := env.ledger.Unlock(context.Background(), "lp1", pos.ID)
	if err != nil {
		t.Fatalf("unlock failed: %v", err)
	}
	if paid != 10_000_000 {
		t.Errorf("expected 10 units reward, got %d", paid)
	}
	bal, _ := env.cur.BalanceOf(context.Background(), "lp1")
	if bal != 10_000_000 {
		t.Errorf("reward not transferred, balance %d", bal)
	}
}

func TestNotifyFees_BankedUntilFirstLock(t *testing.T) {
	env := newTestEnv(t)
	env.fundFees(t, 25_000_000) // nothing locked yet

	st := env.ledger.Snapshot()
	if st.Undistributed != 25_000_000 {
		t.Fatalf("expected banked fees, got %+v", st)
	}

	shares := env.giveShares(t, "lp1", 100)
	pos, _ := env.ledger.Lock(context.Background(), "lp1", shares, "30d")

	// The opening locker collects the banked backlog.
	pend, _ := env.ledger.Pending(context.Background(), pos.ID)
	if pend != 25_000_000 {
		t.Errorf("banked fees not folded to first locker, pending %d", pend)
	}
	if st := env.ledger.Snapshot(); st.Undistributed != 0 {
		t.Errorf("undistributed not cleared: %+v", st)
	}
}

// --- Early withdraw ---

func TestEarlyWithdraw_LinearPenaltyDecay(t *testing.T) {
	env := newTestEnv(t)
	shares := env.giveShares(t, "lp1", 100)
	pos, _ := env.ledger.Lock(context.Background(), "lp1", shares, "30d")

	// Half the commitment served: penalty = 2000 bps x 1/2 = 10%.
	env.advance(15 * 24 * time.Hour)
	returned, penalty, err := env.ledger.EarlyWithdraw(context.Background(), "lp1", pos.ID)
	if err != nil {
		t.Fatalf("early withdraw failed: %v", err)
	}
	if penalty != shares/10 {
		t.Errorf("expected 10%% penalty, got %d of %d", penalty, shares)
	}
	if returned != shares-penalty {
		t.Errorf("principal mismatch: returned %d penalty %d", returned, penalty)
	}
	if st := env.ledger.Snapshot(); st.SurplusShares != penalty {
		t.Errorf("penalty shares not kept as surplus: %+v", st)
	}
}

func TestEarlyWithdraw_SettlesRewardFirst(t *testing.T) {
	env := newTestEnv(t)
	shares := env.giveShares(t, "lp1", 100)
	pos, _ := env.ledger.Lock(context.Background(), "lp1", shares, "30d")
	env.fundFees(t, 5_000_000)

	env.advance(24 * time.Hour)
	if _, _, err := env.ledger.EarlyWithdraw(context.Background(), "lp1", pos.ID); err != nil {
		t.Fatalf("early withdraw failed: %v", err)
	}
	bal, _ := env.cur.BalanceOf(context.Background(), "lp1")
	if bal != 5_000_000 {
		t.Errorf("pending reward not settled before exit, balance %d", bal)
	}
}

func TestEarlyWithdraw_RejectedAfterMaturity(t *testing.T) {
	env := newTestEnv(t)
	shares := env.giveShares(t, "lp1", 100)
	pos, _ := env.ledger.Lock(context.Background(), "lp1", shares, "30d")
	env.advance(31 * 24 * time.Hour)
	if _, _, err := env.ledger.EarlyWithdraw(context.Background(), "lp1", pos.ID); !errors.Is(err, ErrAlreadyMature) {
		t.Errorf("expected ErrAlreadyMature, got %v", err)
	}
}

// Settlement-before-denominator-change: an exiting position must not change
// what a staying position has already earned.
func TestExit_DoesNotRepriceOthers(t *testing.T) {
	env := newTestEnv(t)
	sharesA := env.giveShares(t, "lpA", 100)
	sharesB := env.giveShares(t, "lpB", 100)
	posA, _ := env.ledger.Lock(context.Background(), "lpA", sharesA, "30d")
	posB, _ := env.ledger.Lock(context.Background(), "lpB", sharesB, "30d")

	env.fundFees(t, 20_000_000)
	beforeExit, _ := env.ledger.Pending(context.Background(), posA.ID)

	env.advance(24 * time.Hour)
	if _, _, err := env.ledger.EarlyWithdraw(context.Background(), "lpB", posB.ID); err != nil {
		t.Fatalf("early withdraw failed: %v", err)
	}

	afterExit, _ := env.ledger.Pending(context.Background(), posA.ID)
	if beforeExit != afterExit {
		t.Errorf("lpB's exit repriced lpA's pending: before %d after %d", beforeExit, afterExit)
	}
}
