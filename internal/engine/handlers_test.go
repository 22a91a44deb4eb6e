package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/parlaypool/settlement-engine/internal/model"
	"github.com/parlaypool/settlement-engine/internal/registry"
	"github.com/parlaypool/settlement-engine/internal/rewards"
)

func newRouter(t *testing.T, e *env) chi.Router {
	t.Helper()
	ledger, err := rewards.New(e.pool, e.currency, "rewards-pool", e.st, 2_000, rewards.DefaultTiers(), nil)
	if err != nil {
		t.Fatalf("rewards.New: %v", err)
	}
	api := NewAPI(e.svc, e.pool, ledger, e.st)
	r := chi.NewRouter()
	r.Route("/api/v1", api.Routes)
	return r
}

func doJSON(t *testing.T, router chi.Router, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHTTP_BuyAndGetTicket(t *testing.T) {
	e := newEnv(t)
	e.addLeg("L1", 500_000)
	e.addLeg("L2", 500_000)
	router := newRouter(t, e)

	w := doJSON(t, router, "POST", "/api/v1/tickets", BuyRequest{
		Owner: "alice",
		Legs: []model.TicketLeg{
			{LegID: "L1", Side: model.SideYes},
			{LegID: "L2", Side: model.SideYes},
		},
		Stake:      "10",
		PayoutMode: model.PayoutClassic,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var resp TicketResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.ID == "" {
		t.Error("expected non-empty ticket id")
	}
	if resp.Fee != "0.2" {
		t.Errorf("fee = %s, want 0.2", resp.Fee)
	}
	if resp.PotentialPayout != "39.2" {
		t.Errorf("potential payout = %s, want 39.2", resp.PotentialPayout)
	}
	if resp.Status != model.StatusActive {
		t.Errorf("status = %s, want active", resp.Status)
	}

	w = doJSON(t, router, "GET", "/api/v1/tickets/"+resp.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get ticket: expected 200, got %d", w.Code)
	}
	w = doJSON(t, router, "GET", "/api/v1/accounts/alice/tickets", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list tickets: expected 200, got %d", w.Code)
	}
	var list []TicketResponse
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("alice tickets = %d, want 1", len(list))
	}
}

func TestHTTP_BuyRejectsBadInput(t *testing.T) {
	e := newEnv(t)
	e.addLeg("L1", 500_000)
	e.addLeg("L2", 500_000)
	router := newRouter(t, e)

	cases := []struct {
		name string
		req  BuyRequest
		want int
	}{
		{"missing owner", BuyRequest{Stake: "10", PayoutMode: "classic"}, http.StatusBadRequest},
		{"bad stake string", BuyRequest{Owner: "alice", Stake: "ten", PayoutMode: "classic"}, http.StatusBadRequest},
		{"too many decimals", BuyRequest{Owner: "alice", Stake: "10.1234567", PayoutMode: "classic"}, http.StatusBadRequest},
		{"one leg", BuyRequest{
			Owner: "alice", Stake: "10", PayoutMode: "classic",
			Legs: []model.TicketLeg{{LegID: "L1", Side: "YES"}},
		}, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if w := doJSON(t, router, "POST", "/api/v1/tickets", tc.req); w.Code != tc.want {
				t.Errorf("code = %d, want %d: %s", w.Code, tc.want, w.Body.String())
			}
		})
	}
}

func TestHTTP_SettleClaimFlow(t *testing.T) {
	e := newEnv(t)
	e.addLeg("L1", 500_000)
	e.addLeg("L2", 500_000)
	router := newRouter(t, e)
	tk := e.buy("alice", 10*unit, model.PayoutClassic, "L1", "L2")

	// Not resolved yet: settle conflicts.
	if w := doJSON(t, router, "POST", "/api/v1/tickets/"+tk.ID+"/settle", nil); w.Code != http.StatusConflict {
		t.Errorf("premature settle code = %d, want 409", w.Code)
	}

	e.oracle.SetStatus("L1", registry.OutcomeWon, "")
	e.oracle.SetStatus("L2", registry.OutcomeWon, "")

	w := doJSON(t, router, "POST", "/api/v1/tickets/"+tk.ID+"/settle", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("settle code = %d: %s", w.Code, w.Body.String())
	}

	// Wrong claimer is forbidden.
	if w := doJSON(t, router, "POST", "/api/v1/tickets/"+tk.ID+"/claim", callerRequest{Caller: "mallory"}); w.Code != http.StatusForbidden {
		t.Errorf("foreign claim code = %d, want 403", w.Code)
	}

	w = doJSON(t, router, "POST", "/api/v1/tickets/"+tk.ID+"/claim", callerRequest{Caller: "alice"})
	if w.Code != http.StatusOK {
		t.Fatalf("claim code = %d: %s", w.Code, w.Body.String())
	}
	var paid map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &paid); err != nil {
		t.Fatal(err)
	}
	if paid["paid"] != "39.2" {
		t.Errorf("paid = %s, want 39.2", paid["paid"])
	}
}

func TestHTTP_VaultDepositWithdraw(t *testing.T) {
	e := newEnv(t)
	router := newRouter(t, e)
	e.currency.Mint("bob", 50*unit)

	w := doJSON(t, router, "POST", "/api/v1/vault/deposit", VaultMoveRequest{
		Account: "bob", Amount: "50",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("deposit code = %d: %s", w.Code, w.Body.String())
	}
	var dep map[string]int64
	if err := json.Unmarshal(w.Body.Bytes(), &dep); err != nil {
		t.Fatal(err)
	}
	if dep["shares"] <= 0 {
		t.Fatalf("shares = %d, want > 0", dep["shares"])
	}

	w = doJSON(t, router, "GET", "/api/v1/vault", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("vault stats code = %d", w.Code)
	}
	var stats map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &stats); err != nil {
		t.Fatal(err)
	}
	if stats["total_assets"] != "10050" {
		t.Errorf("total_assets = %v, want 10050", stats["total_assets"])
	}

	w = doJSON(t, router, "POST", "/api/v1/vault/withdraw", VaultMoveRequest{
		Account: "bob", Shares: dep["shares"],
	})
	if w.Code != http.StatusOK {
		t.Fatalf("withdraw code = %d: %s", w.Code, w.Body.String())
	}
}

func TestHTTP_LockLifecycle(t *testing.T) {
	e := newEnv(t)
	router := newRouter(t, e)

	// lp1 holds the seed shares; lock a slice of them.
	w := doJSON(t, router, "POST", "/api/v1/locks", LockRequest{
		Owner: "lp1", Shares: 1_000, Tier: "30d",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("lock code = %d: %s", w.Code, w.Body.String())
	}
	var pos model.LockPosition
	if err := json.Unmarshal(w.Body.Bytes(), &pos); err != nil {
		t.Fatal(err)
	}

	w = doJSON(t, router, "GET", "/api/v1/locks/"+pos.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get lock code = %d", w.Code)
	}
	w = doJSON(t, router, "GET", "/api/v1/accounts/lp1/locks", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list locks code = %d", w.Code)
	}

	// Immediate unlock is premature; early withdrawal works.
	if w := doJSON(t, router, "POST", "/api/v1/locks/"+pos.ID+"/unlock", callerRequest{Caller: "lp1"}); w.Code != http.StatusConflict {
		t.Errorf("premature unlock code = %d, want 409", w.Code)
	}
	w = doJSON(t, router, "POST", "/api/v1/locks/"+pos.ID+"/early-withdraw", callerRequest{Caller: "lp1"})
	if w.Code != http.StatusOK {
		t.Fatalf("early withdraw code = %d: %s", w.Code, w.Body.String())
	}
	var out map[string]int64
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	if out["shares"]+out["penalty_shares"] != 1_000 {
		t.Errorf("returned %d + penalty %d != 1000", out["shares"], out["penalty_shares"])
	}
}

func TestHTTP_EventsEndpoint(t *testing.T) {
	e := newEnv(t)
	e.addLeg("L1", 500_000)
	e.addLeg("L2", 500_000)

	// Journal events through the store sink.
	e.svc.sink = model.SinkFunc(func(ev model.Event) {
		if err := e.st.AppendEvent(context.Background(), &ev); err != nil {
			t.Errorf("append event: %v", err)
		}
	})
	router := newRouter(t, e)
	tk := e.buy("alice", 10*unit, model.PayoutClassic, "L1", "L2")

	w := doJSON(t, router, "GET", "/api/v1/events?ticket="+tk.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("events code = %d", w.Code)
	}
	var events []model.Event
	if err := json.Unmarshal(w.Body.Bytes(), &events); err != nil {
		t.Fatal(err)
	}
	if len(events) == 0 {
		t.Error("expected purchase events in journal")
	}
	for _, ev := range events {
		if ev.TicketID != tk.ID {
			t.Errorf("event %s for ticket %s, want %s", ev.Type, ev.TicketID, tk.ID)
		}
	}
}
