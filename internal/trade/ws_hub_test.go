package trade_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/virtualtrader/ledger-engine/internal/trade"
)

func dialWS(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestWSHub_BroadcastReachesAllClients(t *testing.T) {
	hub := trade.NewWSHub()
	go hub.Run()

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	c1 := dialWS(t, srv)
	c2 := dialWS(t, srv)

	// Registration completes on the hub loop after the upgrade returns.
	time.Sleep(100 * time.Millisecond)

	hub.Broadcast(trade.WSMessage{
		Type:     "order_executed",
		Symbol:   "EURUSD",
		Side:     "long",
		Quantity: 100,
		Price:    "1.0850",
	})

	for _, conn := range []*websocket.Conn{c1, c2} {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read failed: %v", err)
		}

		var msg trade.WSMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("bad message %s: %v", data, err)
		}
		if msg.Type != "order_executed" || msg.Symbol != "EURUSD" {
			t.Errorf("unexpected message: %+v", msg)
		}
		if msg.PnL != "" {
			t.Errorf("open broadcast should omit pnl, got %q", msg.PnL)
		}
	}
}

func TestWSHub_CloseBroadcastCarriesPnL(t *testing.T) {
	hub := trade.NewWSHub()
	go hub.Run()

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	conn := dialWS(t, srv)
	time.Sleep(100 * time.Millisecond)

	hub.Broadcast(trade.WSMessage{
		Type:     "position_closed",
		Symbol:   "EURUSD",
		Side:     "long",
		Quantity: 100,
		Price:    "1.1000",
		PnL:      "1.5",
	})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}

	var msg trade.WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("bad message %s: %v", data, err)
	}
	if msg.Type != "position_closed" || msg.PnL != "1.5" {
		t.Errorf("unexpected message: %+v", msg)
	}
}
