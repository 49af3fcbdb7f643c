package transport

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/hsyst/hps-cli/pkg/metrics"
	"github.com/hsyst/hps-cli/pkg/types"
)

const (
	dialTimeout    = 10 * time.Second
	writeTimeout   = 30 * time.Second
	reconnectBase  = time.Second
	reconnectMax   = 5 * time.Second
	wsPath         = "/ws"
	maxMessageSize = 128 * 1024 * 1024
)

// Handler consumes one named inbound event.
type Handler func(data json.RawMessage)

// envelope is the wire framing: one JSON object per event.
type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Config controls connection behavior.
type Config struct {
	// InsecureSkipVerify disables TLS hostname and chain checks.
	InsecureSkipVerify bool
	AutoReconnect      bool
	ReconnectAttempts  int
	Logger             zerolog.Logger
}

// Conn is a single long-lived full-duplex event channel to the current
// server. Emits are serialized; inbound events dispatch to handlers
// registered by name, each on its own goroutine so a slow handler never
// stalls the read loop.
type Conn struct {
	cfg Config
	log zerolog.Logger

	mu        sync.Mutex
	ws        *websocket.Conn
	connected bool
	closed    bool
	wsURL     string

	hmu          sync.RWMutex
	handlers     map[string]Handler
	onConnect    func()
	onDisconnect func()

	reconnectMu sync.Mutex
}

// New creates an unconnected Conn.
func New(cfg Config) *Conn {
	if cfg.ReconnectAttempts <= 0 {
		cfg.ReconnectAttempts = 5
	}
	return &Conn{
		cfg:      cfg,
		log:      cfg.Logger,
		handlers: make(map[string]Handler),
	}
}

// ServerURL normalizes a server address to its websocket URL. Bare
// host:port addresses default to http.
func ServerURL(addr string) (string, bool, error) {
	if addr == "" {
		return "", false, fmt.Errorf("empty server address: %w", types.ErrInvalidArgument)
	}
	u, err := url.Parse(addr)
	if err != nil || u.Host == "" {
		u, err = url.Parse("http://" + addr)
		if err != nil {
			return "", false, fmt.Errorf("invalid server address %q: %w", addr, err)
		}
	}

	secure := false
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
		secure = true
	case "http", "":
		u.Scheme = "ws"
	case "wss":
		secure = true
	case "ws":
	default:
		return "", false, fmt.Errorf("unsupported scheme %q: %w", u.Scheme, types.ErrInvalidArgument)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = wsPath
	}
	return u.String(), secure, nil
}

// Connect dials the server. Any previous connection is closed first.
func (c *Conn) Connect(serverAddr string) error {
	wsURL, secure, err := ServerURL(serverAddr)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.ws != nil {
		c.ws.Close()
		c.ws = nil
		c.connected = false
	}
	c.closed = false
	c.wsURL = wsURL
	c.mu.Unlock()

	if secure && c.cfg.InsecureSkipVerify {
		c.log.Warn().Str("server", serverAddr).Msg("TLS certificate verification disabled")
	}

	return c.dial()
}

func (c *Conn) dial() error {
	c.mu.Lock()
	wsURL := c.wsURL
	c.mu.Unlock()

	dialer := websocket.Dialer{
		HandshakeTimeout: dialTimeout,
		TLSClientConfig:  &tls.Config{InsecureSkipVerify: c.cfg.InsecureSkipVerify},
	}

	ws, _, err := dialer.Dial(wsURL, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", wsURL, err)
	}
	ws.SetReadLimit(maxMessageSize)

	c.mu.Lock()
	c.ws = ws
	c.connected = true
	c.mu.Unlock()

	c.log.Info().Str("url", wsURL).Msg("connected")

	go c.readLoop(ws)

	c.hmu.RLock()
	onConnect := c.onConnect
	c.hmu.RUnlock()
	if onConnect != nil {
		go onConnect()
	}
	return nil
}

// Connected reports whether the channel is up.
func (c *Conn) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Emit sends a named event. Fails with ErrNotConnected while the
// transport is down.
func (c *Conn) Emit(event string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to encode %s payload: %w", event, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected || c.ws == nil {
		return types.ErrNotConnected
	}

	c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.ws.WriteJSON(&envelope{Event: event, Data: payload}); err != nil {
		return fmt.Errorf("failed to emit %s: %w", event, err)
	}
	c.log.Debug().Str("event", event).Msg("event emitted")
	return nil
}

// On registers the handler for a named inbound event.
func (c *Conn) On(event string, h Handler) {
	c.hmu.Lock()
	defer c.hmu.Unlock()
	c.handlers[event] = h
}

// OnConnect registers a callback fired after every successful dial,
// including reconnects.
func (c *Conn) OnConnect(f func()) {
	c.hmu.Lock()
	defer c.hmu.Unlock()
	c.onConnect = f
}

// OnDisconnect registers a callback fired when the channel drops.
func (c *Conn) OnDisconnect(f func()) {
	c.hmu.Lock()
	defer c.hmu.Unlock()
	c.onDisconnect = f
}

func (c *Conn) readLoop(ws *websocket.Conn) {
	for {
		_, msg, err := ws.ReadMessage()
		if err != nil {
			c.handleDisconnect(ws, err)
			return
		}

		var env envelope
		if err := json.Unmarshal(msg, &env); err != nil {
			c.log.Warn().Err(err).Msg("malformed event frame")
			continue
		}

		c.hmu.RLock()
		h := c.handlers[env.Event]
		c.hmu.RUnlock()
		if h == nil {
			// Unknown server events are logged and ignored.
			c.log.Debug().Str("event", env.Event).Msg("unhandled event")
			continue
		}
		go h(env.Data)
	}
}

func (c *Conn) handleDisconnect(ws *websocket.Conn, cause error) {
	c.mu.Lock()
	if c.ws != ws {
		// A newer connection already replaced this one.
		c.mu.Unlock()
		return
	}
	c.ws = nil
	c.connected = false
	closed := c.closed
	c.mu.Unlock()

	if closed {
		return
	}
	c.log.Warn().Err(cause).Msg("disconnected from server")

	c.hmu.RLock()
	onDisconnect := c.onDisconnect
	c.hmu.RUnlock()
	if onDisconnect != nil {
		go onDisconnect()
	}

	if c.cfg.AutoReconnect {
		go c.reconnectLoop()
	}
}

// reconnectLoop retries the last server a bounded number of times with
// delays growing from 1s to 5s. Only one loop runs at a time.
func (c *Conn) reconnectLoop() {
	if !c.reconnectMu.TryLock() {
		return
	}
	defer c.reconnectMu.Unlock()

	delay := reconnectBase
	for attempt := 1; attempt <= c.cfg.ReconnectAttempts; attempt++ {
		time.Sleep(delay)

		c.mu.Lock()
		stop := c.closed || c.connected
		c.mu.Unlock()
		if stop {
			return
		}

		metrics.Reconnects.Inc()
		c.log.Info().Int("attempt", attempt).Msg("attempting to reconnect")
		if err := c.dial(); err == nil {
			return
		}

		delay *= 2
		if delay > reconnectMax {
			delay = reconnectMax
		}
	}
	c.log.Error().Msg("reconnect attempts exhausted")
}

// Close shuts the channel down without triggering reconnection.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.connected = false
	if c.ws != nil {
		err := c.ws.Close()
		c.ws = nil
		return err
	}
	return nil
}
