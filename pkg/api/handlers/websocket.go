package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mindwell/convomem/pkg/cognition"
	"github.com/mindwell/convomem/pkg/logger"
)

const (
	defaultWSMaxConnections = 100
	defaultPingInterval     = 30 * time.Second
	defaultPongTimeout      = 10 * time.Second
	defaultWriteTimeout     = 10 * time.Second
	defaultSendBuffer       = 32
	defaultReplayEvents     = 20
)

// ErrConnectionLimit is returned when the manager is full.
var ErrConnectionLimit = errors.New("websocket connection limit reached")

// WebSocketConfig configures websocket handler behavior.
type WebSocketConfig struct {
	AllowedOrigins []string
	MaxConnections int
	PingInterval   time.Duration
	PongTimeout    time.Duration
	// ReplayEvents is how many recent events a new client receives.
	ReplayEvents int
}

// RecentEvents supplies the events replayed to a new client.
type RecentEvents interface {
	Query(q cognition.Query) []cognition.Event
}

// WebSocketMetrics counts connected clients.
type WebSocketMetrics interface {
	IncWebSocketClients()
	DecWebSocketClients()
}

type nopWebSocketMetrics struct{}

func (nopWebSocketMetrics) IncWebSocketClients() {}
func (nopWebSocketMetrics) DecWebSocketClients() {}

type incomingMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
}

type wsClient struct {
	conn          *websocket.Conn
	send          chan []byte
	subscriptions map[string]struct{}
	mu            sync.RWMutex
	closed        bool
}

func newWSClient(conn *websocket.Conn) *wsClient {
	return &wsClient{
		conn:          conn,
		send:          make(chan []byte, defaultSendBuffer),
		subscriptions: make(map[string]struct{}),
	}
}

// enqueue queues msg without blocking. It reports false when the client is
// closed or its buffer is full.
func (c *wsClient) enqueue(msg []byte) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (c *wsClient) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
	if c.conn != nil {
		_ = c.conn.Close()
	}
}

func (c *wsClient) subscribe(sessionID string) {
	if sessionID == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscriptions[sessionID] = struct{}{}
}

func (c *wsClient) unsubscribe(sessionID string) {
	if sessionID == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.subscriptions, sessionID)
}

// shouldReceive reports whether the client wants events of sessionID. A
// client with no subscriptions receives everything.
func (c *wsClient) shouldReceive(sessionID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.subscriptions) == 0 {
		return true
	}
	_, ok := c.subscriptions[sessionID]
	return ok
}

// ConnectionManager manages active websocket clients.
type ConnectionManager struct {
	mu             sync.RWMutex
	clients        map[*wsClient]struct{}
	maxConnections int
	metrics        WebSocketMetrics
}

// NewConnectionManager creates a manager with max connection limit.
func NewConnectionManager(maxConnections int, metrics WebSocketMetrics) *ConnectionManager {
	if maxConnections <= 0 {
		maxConnections = defaultWSMaxConnections
	}
	if metrics == nil {
		metrics = nopWebSocketMetrics{}
	}
	return &ConnectionManager{
		clients:        make(map[*wsClient]struct{}),
		maxConnections: maxConnections,
		metrics:        metrics,
	}
}

// Register registers a websocket client.
func (m *ConnectionManager) Register(client *wsClient) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.clients) >= m.maxConnections {
		return ErrConnectionLimit
	}
	m.clients[client] = struct{}{}
	m.metrics.IncWebSocketClients()
	return nil
}

// Unregister unregisters a websocket client.
func (m *ConnectionManager) Unregister(client *wsClient) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.clients[client]; !ok {
		return
	}
	delete(m.clients, client)
	m.metrics.DecWebSocketClients()
	client.close()
}

// Count returns active connection count.
func (m *ConnectionManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.clients)
}

// CanAccept reports whether there is capacity for one more connection.
func (m *ConnectionManager) CanAccept() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.clients) < m.maxConnections
}

// Broadcast sends event to every client subscribed to its session. Clients
// that cannot keep up are disconnected.
func (m *ConnectionManager) Broadcast(event cognition.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	m.mu.RLock()
	clients := make([]*wsClient, 0, len(m.clients))
	for client := range m.clients {
		clients = append(clients, client)
	}
	m.mu.RUnlock()

	for _, client := range clients {
		if !client.shouldReceive(event.SessionID) {
			continue
		}
		if !client.enqueue(payload) {
			m.Unregister(client)
		}
	}

	return nil
}

// Close closes all active websocket connections.
func (m *ConnectionManager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for client := range m.clients {
		client.close()
		delete(m.clients, client)
		m.metrics.DecWebSocketClients()
	}
}

// WebSocketHandler streams cognition events on /ws/events. It is a
// cognition sink: every published event is fanned out to subscribed clients.
type WebSocketHandler struct {
	log          logger.Logger
	manager      *ConnectionManager
	recent       RecentEvents
	upgrader     websocket.Upgrader
	pingInterval time.Duration
	pongTimeout  time.Duration
	writeTimeout time.Duration
	replay       int
}

// NewWebSocketHandler creates a websocket handler. recent and metrics may be
// nil.
func NewWebSocketHandler(log logger.Logger, cfg WebSocketConfig, recent RecentEvents, metrics WebSocketMetrics) *WebSocketHandler {
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = defaultWSMaxConnections
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = defaultPongTimeout
	}
	if cfg.ReplayEvents <= 0 {
		cfg.ReplayEvents = defaultReplayEvents
	}
	if log == nil {
		log = logger.Nop()
	}

	handler := &WebSocketHandler{
		log:          log,
		manager:      NewConnectionManager(cfg.MaxConnections, metrics),
		recent:       recent,
		pingInterval: cfg.PingInterval,
		pongTimeout:  cfg.PongTimeout,
		writeTimeout: defaultWriteTimeout,
		replay:       min(cfg.ReplayEvents, defaultSendBuffer),
	}

	allowedOrigins := append([]string(nil), cfg.AllowedOrigins...)
	handler.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return isWebSocketOriginAllowed(r, allowedOrigins)
		},
	}

	return handler
}

// ServeHTTP upgrades HTTP to websocket and starts client loops. The optional
// session_id query parameter subscribes the client up front.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !websocket.IsWebSocketUpgrade(r) {
		http.Error(w, "websocket upgrade required", http.StatusBadRequest)
		return
	}
	if !h.manager.CanAccept() {
		http.Error(w, ErrConnectionLimit.Error(), http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := newWSClient(conn)
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	client.subscribe(sessionID)

	if err := h.manager.Register(client); err != nil {
		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "too many websocket connections"),
			time.Now().Add(h.writeTimeout),
		)
		_ = conn.Close()
		return
	}

	h.replayRecent(client, sessionID)

	go h.writePump(client)
	h.readPump(client)
}

// replayRecent queues the newest events, newest first, before live ones.
func (h *WebSocketHandler) replayRecent(client *wsClient, sessionID string) {
	if h.recent == nil {
		return
	}
	for _, event := range h.recent.Query(cognition.Query{SessionID: sessionID, Limit: h.replay}) {
		payload, err := json.Marshal(event)
		if err != nil {
			continue
		}
		if !client.enqueue(payload) {
			return
		}
	}
}

func (h *WebSocketHandler) readPump(client *wsClient) {
	defer h.manager.Unregister(client)

	readDeadline := h.pingInterval + h.pongTimeout
	client.conn.SetReadLimit(1 << 20)
	_ = client.conn.SetReadDeadline(time.Now().Add(readDeadline))
	client.conn.SetPongHandler(func(_ string) error {
		return client.conn.SetReadDeadline(time.Now().Add(readDeadline))
	})

	for {
		_, data, err := client.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.log.Warn("websocket read error", "error", err)
			}
			return
		}
		_ = client.conn.SetReadDeadline(time.Now().Add(readDeadline))
		h.handleIncomingMessage(client, data)
	}
}

func (h *WebSocketHandler) writePump(client *wsClient) {
	ticker := time.NewTicker(h.pingInterval)
	defer func() {
		ticker.Stop()
		h.manager.Unregister(client)
	}()

	for {
		select {
		case message, ok := <-client.send:
			if !ok {
				_ = client.conn.WriteControl(
					websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(h.writeTimeout),
				)
				return
			}
			_ = client.conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
			if err := client.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			if err := client.conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(h.writeTimeout)); err != nil {
				return
			}
		}
	}
}

func (h *WebSocketHandler) handleIncomingMessage(client *wsClient, raw []byte) {
	if strings.TrimSpace(string(raw)) == "ping" {
		client.enqueue([]byte("pong"))
		return
	}

	var message incomingMessage
	if err := json.Unmarshal(raw, &message); err != nil {
		return
	}

	sessionID := strings.TrimSpace(message.SessionID)
	switch strings.ToLower(strings.TrimSpace(message.Type)) {
	case "subscribe":
		client.subscribe(sessionID)
	case "unsubscribe":
		client.unsubscribe(sessionID)
	case "ping":
		client.enqueue([]byte("pong"))
	}
}

// Publish implements cognition.Sink.
func (h *WebSocketHandler) Publish(_ context.Context, event cognition.Event) error {
	return h.manager.Broadcast(event)
}

// Clients returns the number of connected clients.
func (h *WebSocketHandler) Clients() int {
	return h.manager.Count()
}

// Close closes all websocket clients.
func (h *WebSocketHandler) Close() {
	h.manager.Close()
}

func isWebSocketOriginAllowed(r *http.Request, allowedOrigins []string) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}

	for _, allowed := range allowedOrigins {
		if allowed == "*" || strings.EqualFold(strings.TrimSpace(allowed), origin) {
			return true
		}
	}

	originURL, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(originURL.Host, r.Host)
}
