package vault

import (
	"context"
	"errors"
	"testing"

	"github.com/parlaypool/settlement-engine/internal/asset"
)

type sinkStub struct {
	account  string
	notified []int64
}

func (s *sinkStub) NotifyFees(amount int64) error {
	s.notified = append(s.notified, amount)
	return nil
}

func (s *sinkStub) Account() string { return s.account }

func testParams() Params {
	return Params{
		UtilizationCapBps: 8_000,
		PerTicketCapBps:   500,
		BufferBps:         2_000,
		MinDeposit:        1_000_000, // 1 unit
		LockerShareBps:    5_000,
		SafetyShareBps:    2_000,
	}
}

func newTestVault(t *testing.T, params Params) (*Vault, *Gateway, *asset.MemoryAsset, *sinkStub) {
	t.Helper()
	cur := asset.NewMemoryAsset()
	fees := &sinkStub{account: "rewards"}
	v, err := New(cur, "vault", "safety", fees, nil, params, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	gw, err := v.Gateway()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return v, gw, cur, fees
}

func depositUnits(t *testing.T, v *Vault, cur *asset.MemoryAsset, from string, units int64) int64 {
	t.Helper()
	amount := units * 1_000_000
	cur.Mint(from, amount)
	shares, err := v.Deposit(context.Background(), from, amount)
	if err != nil {
		t.Fatalf("deposit failed: %v", err)
	}
	return shares
}

// --- Deposit / withdraw ---

func TestDeposit_FirstDepositorSharePrice(t *testing.T) {
	v, _, cur, _ := newTestVault(t, testParams())
	shares := depositUnits(t, v, cur, "lp1", 1000)

	// shares = amount*(0+1)/(0+1) with the virtual-unit offset.
	if shares != 1000*1_000_000 {
		t.Errorf("expected 1000000000 shares, got %d", shares)
	}
	st := v.Snapshot()
	if st.TotalAssets != 1000*1_000_000 || st.TotalShares != shares {
		t.Errorf("unexpected snapshot: %+v", st)
	}
}

func TestDeposit_SecondDepositorSamePrice(t *testing.T) {
	v, _, cur, _ := newTestVault(t, testParams())
	depositUnits(t, v, cur, "lp1", 1000)
	shares := depositUnits(t, v, cur, "lp2", 500)
	if shares != 500*1_000_000 {
		t.Errorf("expected proportional shares, got %d", shares)
	}
}

func TestDeposit_BelowMinimum(t *testing.T) {
	v, _, cur, _ := newTestVault(t, testParams())
	cur.Mint("lp1", 500_000)
	if _, err := v.Deposit(context.Background(), "lp1", 500_000); !errors.Is(err, ErrBelowMinimum) {
		t.Errorf("expected ErrBelowMinimum, got %v", err)
	}
}

func TestWithdraw_RoundTrip(t *testing.T) {
	v, _, cur, _ := newTestVault(t, testParams())
	shares := depositUnits(t, v, cur, "lp1", 1000)

	amount, err := v.Withdraw(context.Background(), "lp1", shares)
	if err != nil {
		t.Fatalf("withdraw failed: %v", err)
	}
	// One micro-unit may be lost to the virtual offset, never gained.
	if amount > 1000*1_000_000 || amount < 1000*1_000_000-1 {
		t.Errorf("unexpected withdraw amount %d", amount)
	}
	bal, _ := cur.BalanceOf(context.Background(), "lp1")
	if bal != amount {
		t.Errorf("expected balance %d, got %d", amount, bal)
	}
}

func TestWithdraw_NeverRaidsReservation(t *testing.T) {
	v, gw, cur, _ := newTestVault(t, testParams())
	shares := depositUnits(t, v, cur, "lp1", 1000)

	if err := gw.Reserve(40 * 1_000_000); err != nil {
		t.Fatalf("reserve failed: %v", err)
	}
	// Withdrawing everything would dip into the reserved 40 units.
	if _, err := v.Withdraw(context.Background(), "lp1", shares); !errors.Is(err, ErrInsufficientIdle) {
		t.Errorf("expected ErrInsufficientIdle, got %v", err)
	}
	// A partial withdrawal within idle capital succeeds.
	if _, err := v.Withdraw(context.Background(), "lp1", shares/2); err != nil {
		t.Errorf("partial withdraw should succeed: %v", err)
	}
}

// --- Reservation caps ---

func TestReserve_PerTicketCap(t *testing.T) {
	v, gw, cur, _ := newTestVault(t, testParams())
	depositUnits(t, v, cur, "lp1", 1000)

	// Per-ticket cap is 5% of 1000 = 50 units.
	if err := gw.Reserve(51 * 1_000_000); !errors.Is(err, ErrPerTicketCap) {
		t.Errorf("expected ErrPerTicketCap, got %v", err)
	}
	if err := gw.Reserve(50 * 1_000_000); err != nil {
		t.Errorf("reserve at cap should succeed: %v", err)
	}
}

func TestReserve_UtilizationCap(t *testing.T) {
	p := testParams()
	p.PerTicketCapBps = 10_000
	v, gw, cur, _ := newTestVault(t, p)
	depositUnits(t, v, cur, "lp1", 1000)

	// Utilization cap is 80% of 1000 = 800 units.
	if err := gw.Reserve(700 * 1_000_000); err != nil {
		t.Fatalf("reserve failed: %v", err)
	}
	if err := gw.Reserve(101 * 1_000_000); !errors.Is(err, ErrUtilizationCap) {
		t.Errorf("expected ErrUtilizationCap, got %v", err)
	}
}

func TestRelease_BoundedByReservation(t *testing.T) {
	v, gw, cur, _ := newTestVault(t, testParams())
	depositUnits(t, v, cur, "lp1", 1000)

	if err := gw.Reserve(10 * 1_000_000); err != nil {
		t.Fatalf("reserve failed: %v", err)
	}
	if err := gw.Release(11 * 1_000_000); !errors.Is(err, ErrExceedsReservation) {
		t.Errorf("expected ErrExceedsReservation, got %v", err)
	}
	if err := gw.Release(10 * 1_000_000); err != nil {
		t.Errorf("release failed: %v", err)
	}
	if st := v.Snapshot(); st.Reserved != 0 {
		t.Errorf("expected zero reservation, got %d", st.Reserved)
	}
}

func TestPay_ReducesReservationAndTransfers(t *testing.T) {
	v, gw, cur, _ := newTestVault(t, testParams())
	depositUnits(t, v, cur, "lp1", 1000)

	if err := gw.Reserve(30 * 1_000_000); err != nil {
		t.Fatalf("reserve failed: %v", err)
	}
	if err := gw.Pay(context.Background(), "winner", 30*1_000_000); err != nil {
		t.Fatalf("pay failed: %v", err)
	}
	bal, _ := cur.BalanceOf(context.Background(), "winner")
	if bal != 30*1_000_000 {
		t.Errorf("expected winner balance 30 units, got %d", bal)
	}
	st := v.Snapshot()
	if st.Reserved != 0 {
		t.Errorf("expected zero reservation, got %d", st.Reserved)
	}
	if st.TotalAssets != 970*1_000_000 {
		t.Errorf("expected 970 units remaining, got %d", st.TotalAssets)
	}
}

func TestPay_NeverMoreThanReserved(t *testing.T) {
	v, gw, cur, _ := newTestVault(t, testParams())
	depositUnits(t, v, cur, "lp1", 1000)

	if err := gw.Reserve(10 * 1_000_000); err != nil {
		t.Fatalf("reserve failed: %v", err)
	}
	if err := gw.Pay(context.Background(), "winner", 11*1_000_000); !errors.Is(err, ErrExceedsReservation) {
		t.Errorf("expected ErrExceedsReservation, got %v", err)
	}
}

// --- Fee routing ---

func TestRouteFees_SplitsAndNotifies(t *testing.T) {
	v, gw, cur, fees := newTestVault(t, testParams())
	depositUnits(t, v, cur, "lp1", 1000)

	// Simulate fee income arriving with a stake.
	cur.Mint("bettor", 1_000_000)
	if err := gw.StakeIn(context.Background(), "bettor", 1_000_000); err != nil {
		t.Fatalf("stake in failed: %v", err)
	}

	toLockers, toSafety, err := gw.RouteFees(context.Background(), 1_000_000)
	if err != nil {
		t.Fatalf("route fees failed: %v", err)
	}
	if toLockers != 500_000 || toSafety != 200_000 {
		t.Errorf("unexpected split: lockers=%d safety=%d", toLockers, toSafety)
	}
	if len(fees.notified) != 1 || fees.notified[0] != 500_000 {
		t.Errorf("fee sink not notified correctly: %v", fees.notified)
	}
	rewardsBal, _ := cur.BalanceOf(context.Background(), "rewards")
	safetyBal, _ := cur.BalanceOf(context.Background(), "safety")
	if rewardsBal != 500_000 || safetyBal != 200_000 {
		t.Errorf("unexpected balances: rewards=%d safety=%d", rewardsBal, safetyBal)
	}
	// Remainder (0.3 units) stays in the vault balance implicitly.
	if st := v.Snapshot(); st.TotalAssets != 1000*1_000_000+300_000 {
		t.Errorf("unexpected total assets %d", st.TotalAssets)
	}
}

type failingSink struct{ sinkStub }

func (s *failingSink) NotifyFees(int64) error {
	return errors.New("sink unavailable")
}

func TestRouteFees_NotifyFailureRollsBackTransfers(t *testing.T) {
	cur := asset.NewMemoryAsset()
	fees := &failingSink{sinkStub{account: "rewards"}}
	v, err := New(cur, "vault", "safety", fees, nil, testParams(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	gw, _ := v.Gateway()
	depositUnits(t, v, cur, "lp1", 1000)

	cur.Mint("bettor", 1_000_000)
	if err := gw.StakeIn(context.Background(), "bettor", 1_000_000); err != nil {
		t.Fatalf("stake in failed: %v", err)
	}

	if _, _, err := gw.RouteFees(context.Background(), 1_000_000); err == nil {
		t.Fatal("expected the notification failure to surface")
	}
	// Nothing may be left half routed: both shares come back to the vault.
	rewardsBal, _ := cur.BalanceOf(context.Background(), "rewards")
	safetyBal, _ := cur.BalanceOf(context.Background(), "safety")
	if rewardsBal != 0 || safetyBal != 0 {
		t.Errorf("fee half routed: rewards=%d safety=%d", rewardsBal, safetyBal)
	}
	if st := v.Snapshot(); st.TotalAssets != 1001*1_000_000 {
		t.Errorf("fee not retained in vault: total assets %d", st.TotalAssets)
	}
}

// --- Gateway exclusivity ---

func TestGateway_IssuedOnce(t *testing.T) {
	cur := asset.NewMemoryAsset()
	v, err := New(cur, "vault", "safety", nil, nil, testParams(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := v.Gateway(); err != nil {
		t.Fatalf("first gateway claim failed: %v", err)
	}
	if _, err := v.Gateway(); !errors.Is(err, ErrGatewayClaimed) {
		t.Errorf("expected ErrGatewayClaimed, got %v", err)
	}
}

func TestCustodian_IssuedOnce(t *testing.T) {
	cur := asset.NewMemoryAsset()
	v, err := New(cur, "vault", "safety", nil, nil, testParams(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	c, err := v.Custodian()
	if err != nil {
		t.Fatalf("first custodian claim failed: %v", err)
	}
	if _, err := v.Custodian(); !errors.Is(err, ErrCustodianClaimed) {
		t.Errorf("expected ErrCustodianClaimed, got %v", err)
	}

	shares := depositUnits(t, v, cur, "lp1", 100)
	if err := c.TransferShares("lp1", "custody", shares); err != nil {
		t.Fatalf("transfer failed: %v", err)
	}
	if v.SharesOf("lp1") != 0 || v.SharesOf("custody") != shares {
		t.Errorf("custody not transferred")
	}
	if err := c.TransferShares("lp1", "custody", 1); !errors.Is(err, ErrInsufficientShares) {
		t.Errorf("expected ErrInsufficientShares, got %v", err)
	}
}

// --- Yield deployment ---

func TestDeployIdle_KeepsBuffer(t *testing.T) {
	cur := asset.NewMemoryAsset()
	v, err := New(cur, "vault", "safety", nil, nil, testParams(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	y := NewMemoryYieldAdapter(cur, "yield", "vault")
	v.yield = y
	gw, _ := v.Gateway()

	depositUnits(t, v, cur, "lp1", 1000)
	if err := gw.Reserve(10 * 1_000_000); err != nil {
		t.Fatalf("reserve failed: %v", err)
	}

	deployed, err := v.DeployIdle(context.Background())
	if err != nil {
		t.Fatalf("deploy failed: %v", err)
	}
	// Buffer is max(reserved=10, 20% of 1000=200) = 200 units kept local.
	if deployed != 800*1_000_000 {
		t.Errorf("expected 800 units deployed, got %d", deployed)
	}
	st := v.Snapshot()
	if st.LocalAssets != 200*1_000_000 || st.Deployed != 800*1_000_000 {
		t.Errorf("unexpected snapshot after deploy: %+v", st)
	}
	// Total assets unchanged by deployment.
	if st.TotalAssets != 1000*1_000_000 {
		t.Errorf("deployment changed total assets: %d", st.TotalAssets)
	}
}

func TestDeployIdle_ReservedDominatesBuffer(t *testing.T) {
	p := testParams()
	p.PerTicketCapBps = 10_000
	cur := asset.NewMemoryAsset()
	v, err := New(cur, "vault", "safety", nil, nil, p, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	v.yield = NewMemoryYieldAdapter(cur, "yield", "vault")
	gw, _ := v.Gateway()

	depositUnits(t, v, cur, "lp1", 1000)
	if err := gw.Reserve(700 * 1_000_000); err != nil {
		t.Fatalf("reserve failed: %v", err)
	}

	deployed, err := v.DeployIdle(context.Background())
	if err != nil {
		t.Fatalf("deploy failed: %v", err)
	}
	// Reserved 700 exceeds the 200-unit buffer; only 300 may leave.
	if deployed != 300*1_000_000 {
		t.Errorf("expected 300 units deployed, got %d", deployed)
	}
}

func TestRecallDeployed(t *testing.T) {
	cur := asset.NewMemoryAsset()
	v, _ := New(cur, "vault", "safety", nil, nil, testParams(), nil)
	v.yield = NewMemoryYieldAdapter(cur, "yield", "vault")
	v.Gateway()

	depositUnits(t, v, cur, "lp1", 1000)
	if _, err := v.DeployIdle(context.Background()); err != nil {
		t.Fatalf("deploy failed: %v", err)
	}
	if err := v.RecallDeployed(context.Background(), 100*1_000_000); err != nil {
		t.Fatalf("recall failed: %v", err)
	}
	st := v.Snapshot()
	if st.LocalAssets != 300*1_000_000 {
		t.Errorf("expected 300 units local, got %d", st.LocalAssets)
	}
}

// --- Solvency property ---

func TestSolvency_ReservedNeverExceedsAssets(t *testing.T) {
	p := testParams()
	p.PerTicketCapBps = 10_000
	p.UtilizationCapBps = 10_000
	v, gw, cur, _ := newTestVault(t, p)
	depositUnits(t, v, cur, "lp1", 100)

	reservedTotal := int64(0)
	for i := 0; i < 20; i++ {
		err := gw.Reserve(10 * 1_000_000)
		if err != nil {
			break
		}
		reservedTotal += 10 * 1_000_000
		st := v.Snapshot()
		if st.Reserved > st.TotalAssets {
			t.Fatalf("solvency violated: reserved %d > assets %d", st.Reserved, st.TotalAssets)
		}
	}
	if reservedTotal != 100*1_000_000 {
		t.Errorf("expected reservations to stop at 100 units, got %d", reservedTotal)
	}
}
