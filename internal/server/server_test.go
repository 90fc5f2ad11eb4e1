package server

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/kavascapital/marketfeed/internal/config"
	"github.com/kavascapital/marketfeed/internal/hub"
	"github.com/kavascapital/marketfeed/internal/model"
	"github.com/kavascapital/marketfeed/internal/subs"
)

type deltaRecorder struct {
	mu     sync.Mutex
	deltas []subs.Delta
}

func (r *deltaRecorder) ApplyDelta(d subs.Delta) error {
	r.mu.Lock()
	r.deltas = append(r.deltas, d)
	r.mu.Unlock()
	return nil
}

func (r *deltaRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.deltas)
}

func newTestServer(t *testing.T) (*httptest.Server, *Server, *subs.Registry, *hub.Hub, *deltaRecorder) {
	t.Helper()
	registry := subs.NewRegistry()
	rec := &deltaRecorder{}
	h := hub.New(hub.DefaultConfig(), registry, rec, nil)

	srv := New(config.ServerConfig{}, registry, h, rec, nil)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	t.Cleanup(h.Close)
	return ts, srv, registry, h, rec
}

func dialWS(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { conn.Close() })
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	return conn
}

func readJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		t.Fatalf("unmarshal %q: %v", raw, err)
	}
}

func TestServer_SubscribeAndReceiveTicks(t *testing.T) {
	ts, _, registry, h, rec := newTestServer(t)
	conn := dialWS(t, ts)

	err := conn.WriteJSON(clientRequest{
		Action: actionSubscribe,
		Instruments: []instrumentRequest{
			{InstrumentToken: 408065, Mode: "full"},
		},
	})
	if err != nil {
		t.Fatalf("write subscribe: %v", err)
	}

	var resp clientResponse
	readJSON(t, conn, &resp)
	if resp.Status != statusSuccess {
		t.Fatalf("subscribe response = %+v, want success", resp)
	}

	if _, instruments := registry.Stats(); instruments != 1 {
		t.Fatalf("registry instruments = %d, want 1", instruments)
	}
	if rec.count() == 0 {
		t.Error("subscribe delta never forwarded upstream")
	}

	h.Publish(model.TickEvent(&model.Tick{
		Token:     408065,
		Mode:      model.ModeFull,
		LastPrice: decimal.New(12345, -2),
		Timestamp: time.Now().UTC(),
	}))

	var msg struct {
		Type string `json:"type"`
		Data struct {
			InstrumentToken int64  `json:"instrument_token"`
			LastPrice       string `json:"last_price"`
		} `json:"data"`
	}
	readJSON(t, conn, &msg)
	if msg.Type != "tick" {
		t.Errorf("message type = %q, want tick", msg.Type)
	}
	if msg.Data.InstrumentToken != 408065 {
		t.Errorf("instrument_token = %d, want 408065", msg.Data.InstrumentToken)
	}
	if msg.Data.LastPrice != "123.45" {
		t.Errorf("last_price = %q, want 123.45", msg.Data.LastPrice)
	}
}

func TestServer_UnsubscribeReleasesInstrument(t *testing.T) {
	ts, _, registry, _, rec := newTestServer(t)
	conn := dialWS(t, ts)

	conn.WriteJSON(clientRequest{
		Action:      actionSubscribe,
		Instruments: []instrumentRequest{{InstrumentToken: 1, Mode: "ltp"}},
	})
	var resp clientResponse
	readJSON(t, conn, &resp)
	if resp.Status != statusSuccess {
		t.Fatalf("subscribe response = %+v", resp)
	}

	conn.WriteJSON(clientRequest{
		Action:      actionUnsubscribe,
		Instruments: []instrumentRequest{{InstrumentToken: 1}},
	})
	readJSON(t, conn, &resp)
	if resp.Status != statusSuccess {
		t.Fatalf("unsubscribe response = %+v", resp)
	}

	if _, instruments := registry.Stats(); instruments != 0 {
		t.Errorf("registry instruments = %d, want 0", instruments)
	}
	if rec.count() != 2 {
		t.Errorf("forwarded deltas = %d, want 2", rec.count())
	}
}

func TestServer_RejectsBadRequests(t *testing.T) {
	ts, _, _, _, _ := newTestServer(t)
	conn := dialWS(t, ts)

	tests := []struct {
		name string
		send func() error
	}{
		{"invalid json", func() error {
			return conn.WriteMessage(websocket.TextMessage, []byte("{not json"))
		}},
		{"no instruments", func() error {
			return conn.WriteJSON(clientRequest{Action: actionSubscribe})
		}},
		{"unknown action", func() error {
			return conn.WriteJSON(clientRequest{
				Action:      "snapshot",
				Instruments: []instrumentRequest{{InstrumentToken: 1}},
			})
		}},
		{"unknown mode", func() error {
			return conn.WriteJSON(clientRequest{
				Action:      actionSubscribe,
				Instruments: []instrumentRequest{{InstrumentToken: 1, Mode: "turbo"}},
			})
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.send(); err != nil {
				t.Fatalf("write: %v", err)
			}
			var resp clientResponse
			readJSON(t, conn, &resp)
			if resp.Status != statusError {
				t.Errorf("response = %+v, want error", resp)
			}
		})
	}
}

func TestServer_DisconnectCleansRegistry(t *testing.T) {
	ts, _, registry, _, _ := newTestServer(t)
	conn := dialWS(t, ts)

	conn.WriteJSON(clientRequest{
		Action:      actionSubscribe,
		Instruments: []instrumentRequest{{InstrumentToken: 7, Mode: "quote"}},
	})
	var resp clientResponse
	readJSON(t, conn, &resp)
	if resp.Status != statusSuccess {
		t.Fatalf("subscribe response = %+v", resp)
	}

	conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if subscribers, _ := registry.Stats(); subscribers == 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	subscribers, instruments := registry.Stats()
	t.Errorf("after disconnect: subscribers = %d, instruments = %d, want 0, 0", subscribers, instruments)
}

func TestRespond_StalledControlQueueClosesSession(t *testing.T) {
	up := websocket.Upgrader{}
	serverConns := make(chan *websocket.Conn, 1)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		serverConns <- conn
	}))
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { client.Close() })
	conn := <-serverConns

	// No write pump draining ctrl, so a full queue stalls the ack.
	sess := &session{
		conn:   conn,
		ctrl:   make(chan clientResponse, 1),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	sess.ctrl <- clientResponse{Status: statusSuccess}

	done := make(chan struct{})
	go func() {
		sess.respond(clientResponse{Status: statusSuccess})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(writeWait + 2*time.Second):
		t.Fatal("respond never returned for a stalled control queue")
	}

	// The deadline path must have closed the connection.
	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := client.ReadMessage(); err == nil {
		t.Error("connection still open after stalled ack")
	}
}

func TestServer_DepthOnlyToFullMode(t *testing.T) {
	ts, _, _, h, _ := newTestServer(t)

	quoteConn := dialWS(t, ts)
	quoteConn.WriteJSON(clientRequest{
		Action:      actionSubscribe,
		Instruments: []instrumentRequest{{InstrumentToken: 5, Mode: "quote"}},
	})
	var resp clientResponse
	readJSON(t, quoteConn, &resp)
	if resp.Status != statusSuccess {
		t.Fatalf("subscribe response = %+v", resp)
	}

	h.Publish(model.DepthEvent(&model.DepthSnapshot{Token: 5, Timestamp: time.Now()}))
	h.Publish(model.TickEvent(&model.Tick{Token: 5, Mode: model.ModeQuote, LastPrice: decimal.New(100, 0), Timestamp: time.Now()}))

	// Quote-mode client must see the tick first: the depth was filtered.
	var msg struct {
		Type string `json:"type"`
	}
	readJSON(t, quoteConn, &msg)
	if msg.Type != "tick" {
		t.Errorf("first message type = %q, want tick (depth filtered for quote mode)", msg.Type)
	}
}
