// Package ws bridges signal-bus channels to websocket clients. Every client
// receives the public round channel; a client that identified itself also
// receives its own private channel, and nobody else's.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/roundbet/internal/broadcast"
	"github.com/alanyoungcy/roundbet/internal/domain"
	"github.com/alanyoungcy/roundbet/internal/observability"
	"github.com/alanyoungcy/roundbet/internal/server/middleware"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// controlMsg is what clients send to change subscriptions.
type controlMsg struct {
	Action   string   `json:"action"`
	Channels []string `json:"channels"`
}

// topic is one bus subscription shared by every client listening on it.
type topic struct {
	cancel  context.CancelFunc
	clients map[*client]struct{}
}

// Hub fans bus messages out to websocket clients. Bus subscriptions are
// opened on first interest and closed when the last client leaves.
type Hub struct {
	bus     domain.SignalBus
	metrics *observability.Metrics
	logger  *slog.Logger

	mu      sync.RWMutex
	base    context.Context
	topics  map[string]*topic
	clients map[*client]struct{}
}

// NewHub creates a Hub over bus.
func NewHub(bus domain.SignalBus, metrics *observability.Metrics, logger *slog.Logger) *Hub {
	return &Hub{
		bus:     bus,
		metrics: metrics,
		logger:  logger.With(slog.String("component", "ws_hub")),
		topics:  make(map[string]*topic),
		clients: make(map[*client]struct{}),
	}
}

// Run enables the hub and blocks until ctx is cancelled, then disconnects
// every client.
func (h *Hub) Run(ctx context.Context) error {
	h.mu.Lock()
	h.base = ctx
	h.mu.Unlock()

	<-ctx.Done()

	h.mu.Lock()
	for c := range h.clients {
		c.close()
	}
	h.metrics.WSClients.Sub(float64(len(h.clients)))
	clear(h.clients)
	for name, t := range h.topics {
		t.cancel()
		delete(h.topics, name)
	}
	h.base = nil
	h.mu.Unlock()
	return ctx.Err()
}

// HandleWS upgrades the request and registers the client.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	running := h.base != nil
	h.mu.RUnlock()
	if !running {
		http.Error(w, "websocket hub not running", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:    h,
		conn:   conn,
		userID: middleware.UserID(r.Context()),
		send:   make(chan []byte, sendBufferSize),
		subs:   make(map[string]bool),
	}
	if !h.register(c) {
		conn.Close()
		return
	}

	initial := []string{broadcast.ChannelRound}
	if c.userID != "" {
		initial = append(initial, broadcast.UserChannel(c.userID))
	}
	for _, ch := range initial {
		h.join(c, ch)
	}
	c.hello()

	go c.writePump()
	go c.readPump()
}

func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.base == nil {
		return false
	}
	h.clients[c] = struct{}{}
	h.metrics.WSClients.Inc()
	h.logger.Info("client connected",
		slog.String("user_id", c.userID),
		slog.Int("clients", len(h.clients)),
	)
	return true
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	for name := range c.subscriptions() {
		h.leaveLocked(c, name)
	}
	n := len(h.clients)
	c.close()
	h.mu.Unlock()

	h.metrics.WSClients.Dec()
	h.logger.Info("client disconnected",
		slog.String("user_id", c.userID),
		slog.Int("clients", n),
	)
}

// allowed reports whether c may listen on channel: any public round
// channel, and only its own private channel.
func (h *Hub) allowed(c *client, channel string) bool {
	if channel == broadcast.ChannelRound || strings.HasPrefix(channel, broadcast.ChannelRound+":") {
		return !strings.ContainsAny(channel, "*?[")
	}
	return c.userID != "" && channel == broadcast.UserChannel(c.userID)
}

func (h *Hub) join(c *client, channel string) bool {
	if !h.allowed(c, channel) {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.base == nil {
		return false
	}
	t, ok := h.topics[channel]
	if !ok {
		ctx, cancel := context.WithCancel(h.base)
		msgs, err := h.bus.Subscribe(ctx, channel)
		if err != nil {
			cancel()
			h.logger.Error("bus subscribe failed",
				slog.String("channel", channel),
				slog.String("error", err.Error()),
			)
			return false
		}
		t = &topic{cancel: cancel, clients: make(map[*client]struct{})}
		h.topics[channel] = t
		go h.pump(channel, t, msgs)
	}
	t.clients[c] = struct{}{}
	c.setSub(channel, true)
	return true
}

func (h *Hub) leave(c *client, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(c, channel)
}

func (h *Hub) leaveLocked(c *client, channel string) {
	c.setSub(channel, false)
	t, ok := h.topics[channel]
	if !ok {
		return
	}
	delete(t.clients, c)
	if len(t.clients) == 0 {
		t.cancel()
		delete(h.topics, channel)
	}
}

func (h *Hub) pump(channel string, t *topic, msgs <-chan []byte) {
	for data := range msgs {
		h.mu.RLock()
		for c := range t.clients {
			select {
			case c.send <- data:
			default:
				h.logger.Warn("dropping message for slow client",
					slog.String("channel", channel),
					slog.String("user_id", c.userID),
				)
			}
		}
		h.mu.RUnlock()
	}
}

// clientCount returns the number of connected clients.
func (h *Hub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

type client struct {
	hub    *Hub
	conn   *websocket.Conn
	userID string
	send   chan []byte

	mu     sync.Mutex
	subs   map[string]bool
	closed bool
}

func (c *client) setSub(channel string, on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if on {
		c.subs[channel] = true
	} else {
		delete(c.subs, channel)
	}
}

func (c *client) subscriptions() map[string]bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]bool, len(c.subs))
	for k := range c.subs {
		out[k] = true
	}
	return out
}

// close stops the write pump. Callers hold hub.mu, so no pump is sending.
func (c *client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *client) hello() {
	channels := make([]string, 0, 2)
	for ch := range c.subscriptions() {
		channels = append(channels, ch)
	}
	sort.Strings(channels)
	msg, err := json.Marshal(map[string]any{
		"v":    domain.EventSchemaVersion,
		"type": "connected",
		"ts":   time.Now().UTC(),
		"payload": map[string]any{
			"user_id":  c.userID,
			"channels": channels,
		},
	})
	if err != nil {
		return
	}

	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- msg:
	default:
	}
}

func (c *client) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("unexpected close", slog.String("error", err.Error()))
			}
			return
		}
		var msg controlMsg
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}
		for _, ch := range msg.Channels {
			switch msg.Action {
			case "subscribe":
				if !c.hub.join(c, ch) {
					c.hub.logger.Debug("subscription refused",
						slog.String("channel", ch),
						slog.String("user_id", c.userID),
					)
				}
			case "unsubscribe":
				c.hub.leave(c, ch)
			}
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
