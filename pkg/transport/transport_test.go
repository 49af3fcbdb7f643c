package transport

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/hsyst/hps-cli/pkg/types"
)

// TestServerURL tests address normalization
func TestServerURL(t *testing.T) {
	tests := []struct {
		name    string
		addr    string
		want    string
		secure  bool
		wantErr bool
	}{
		{name: "bare host port", addr: "server.example:9000", want: "ws://server.example:9000/ws"},
		{name: "http scheme", addr: "http://server.example:9000", want: "ws://server.example:9000/ws"},
		{name: "https scheme", addr: "https://server.example", want: "wss://server.example/ws", secure: true},
		{name: "explicit ws", addr: "ws://server.example/ws", want: "ws://server.example/ws"},
		{name: "explicit wss", addr: "wss://server.example:9443", want: "wss://server.example:9443/ws", secure: true},
		{name: "custom path kept", addr: "http://server.example/socket", want: "ws://server.example/socket"},
		{name: "empty", addr: "", wantErr: true},
		{name: "bad scheme", addr: "ftp://server.example", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, secure, err := ServerURL(tt.addr)
			if tt.wantErr {
				if err == nil {
					t.Errorf("ServerURL(%q) expected error", tt.addr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ServerURL(%q) error = %v", tt.addr, err)
			}
			if got != tt.want || secure != tt.secure {
				t.Errorf("ServerURL(%q) = (%q, %v), want (%q, %v)", tt.addr, got, secure, tt.want, tt.secure)
			}
		})
	}
}

// echoServer upgrades /ws and answers every event with a "pong" event
// carrying the same data.
func echoServer(t *testing.T) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		for {
			var env struct {
				Event string          `json:"event"`
				Data  json.RawMessage `json:"data"`
			}
			if err := ws.ReadJSON(&env); err != nil {
				return
			}
			env.Event = "pong"
			if err := ws.WriteJSON(&env); err != nil {
				return
			}
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

// TestConnectEmitReceive tests a full event round trip
func TestConnectEmitReceive(t *testing.T) {
	srv := echoServer(t)

	c := New(Config{Logger: zerolog.Nop()})
	t.Cleanup(func() { c.Close() })

	got := make(chan json.RawMessage, 1)
	c.On("pong", func(data json.RawMessage) {
		got <- data
	})

	connected := make(chan struct{}, 1)
	c.OnConnect(func() { connected <- struct{}{} })

	if err := c.Connect(srv.URL); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	select {
	case <-connected:
	case <-time.After(5 * time.Second):
		t.Fatalf("OnConnect callback never fired")
	}
	if !c.Connected() {
		t.Fatalf("Connected() = false after Connect")
	}

	if err := c.Emit("ping", map[string]string{"value": "42"}); err != nil {
		t.Fatalf("Emit() error = %v", err)
	}

	select {
	case data := <-got:
		var payload map[string]string
		if err := json.Unmarshal(data, &payload); err != nil || payload["value"] != "42" {
			t.Errorf("pong data = %s, want value 42", data)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("pong never arrived")
	}
}

// TestEmitWhileDisconnected tests failing fast without a link
func TestEmitWhileDisconnected(t *testing.T) {
	c := New(Config{Logger: zerolog.Nop()})
	err := c.Emit("ping", nil)
	if !errors.Is(err, types.ErrNotConnected) {
		t.Errorf("Emit() error = %v, want ErrNotConnected", err)
	}
}

// TestDisconnectCallback tests the drop notification
func TestDisconnectCallback(t *testing.T) {
	srv := echoServer(t)

	c := New(Config{Logger: zerolog.Nop()})
	dropped := make(chan struct{}, 1)
	c.OnDisconnect(func() { dropped <- struct{}{} })

	if err := c.Connect(srv.URL); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	srv.CloseClientConnections()

	select {
	case <-dropped:
	case <-time.After(5 * time.Second):
		t.Fatalf("OnDisconnect callback never fired")
	}
}

// TestCloseSuppressesCallbacks tests that a deliberate Close is quiet
func TestCloseSuppressesCallbacks(t *testing.T) {
	srv := echoServer(t)

	c := New(Config{Logger: zerolog.Nop()})
	dropped := make(chan struct{}, 1)
	c.OnDisconnect(func() { dropped <- struct{}{} })

	if err := c.Connect(srv.URL); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if err := c.Close(); err != nil && !strings.Contains(err.Error(), "closed") {
		t.Fatalf("Close() error = %v", err)
	}

	select {
	case <-dropped:
		t.Errorf("OnDisconnect fired for a deliberate Close")
	case <-time.After(300 * time.Millisecond):
	}
}
