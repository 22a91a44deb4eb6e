package engine

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/parlaypool/settlement-engine/internal/model"
)

func (h *WSHub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal(msg)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// Exercises the register, broadcast, and dead-client sweep paths together;
// under the race detector this also covers the hub's lock discipline.
func TestWSHub_BroadcastAndSweep(t *testing.T) {
	hub := NewWSHub()
	go hub.Run()

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()
	waitFor(t, func() bool { return hub.clientCount() == 1 }, "client never registered")

	hub.Emit(model.Event{Type: model.EventTicketPurchased, TicketID: "T1"})
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	var ev model.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if ev.Type != model.EventTicketPurchased || ev.TicketID != "T1" {
		t.Errorf("unexpected event %+v", ev)
	}

	// A closed peer is swept out on a subsequent broadcast.
	conn.Close()
	waitFor(t, func() bool {
		hub.Emit(model.Event{Type: model.EventTicketSettled})
		return hub.clientCount() == 0
	}, "closed client never removed")
}
