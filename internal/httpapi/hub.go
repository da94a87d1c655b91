package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/R3E-Network/rentstream/internal/chain"
	"github.com/R3E-Network/rentstream/internal/domain/rental"
	"github.com/R3E-Network/rentstream/internal/httputil"
	"github.com/R3E-Network/rentstream/internal/notify"
	"github.com/R3E-Network/rentstream/internal/pubsub"
)

// Message types pushed to websocket clients.
const (
	MessageEvent = "event"
	MessageToast = "toast"
)

// Message is one frame sent to a websocket client.
type Message struct {
	Type      string          `json:"type"`
	Topic     string          `json:"topic,omitempty"`
	Recipient string          `json:"recipient,omitempty"`
	Title     string          `json:"title,omitempty"`
	Body      string          `json:"body,omitempty"`
	Severity  notify.Severity `json:"severity,omitempty"`
	Data      any             `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// HubConfig tunes client connections.
type HubConfig struct {
	SendBuffer   int
	WriteTimeout time.Duration
	PongTimeout  time.Duration
	// AllowedOrigins restricts the websocket handshake. Empty allows any.
	AllowedOrigins []string
}

func (c *HubConfig) defaults() {
	if c.SendBuffer <= 0 {
		c.SendBuffer = 64
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.PongTimeout <= 0 {
		c.PongTimeout = 60 * time.Second
	}
}

// Hub fans registry events and notification toasts out to browser clients.
// Each client has its own bounded queue; a slow client loses frames but
// never blocks the publisher or other clients.
type Hub struct {
	cfg      HubConfig
	log      *logrus.Entry
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*client]struct{}
	unsubs  []func()
	closed  bool
}

type client struct {
	conn    *websocket.Conn
	send    chan []byte
	topics  map[string]bool
	address string
}

func (c *client) wants(topic string) bool {
	return len(c.topics) == 0 || c.topics[topic]
}

// NewHub creates a hub.
func NewHub(cfg HubConfig, log *logrus.Entry) *Hub {
	cfg.defaults()
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	h := &Hub{
		cfg:     cfg,
		log:     log,
		clients: make(map[*client]struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	if len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	for _, allowed := range h.cfg.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// Attach subscribes the hub to the registry topics of kinds (all kinds when
// none are given).
func (h *Hub) Attach(reg *pubsub.Registry, kinds ...rental.Kind) {
	if len(kinds) == 0 {
		kinds = rental.Kinds()
	}
	for _, kind := range kinds {
		topic := string(kind)
		unsub := reg.Subscribe(topic, func(payload any) {
			h.broadcast(Message{
				Type:      MessageEvent,
				Topic:     topic,
				Data:      payload,
				Timestamp: time.Now().UTC(),
			}, func(c *client) bool { return c.wants(topic) })
		})
		h.mu.Lock()
		h.unsubs = append(h.unsubs, unsub)
		h.mu.Unlock()
	}
}

// Show pushes a toast to the clients bound to recipient.
func (h *Hub) Show(recipient, title, body string, severity notify.Severity) {
	h.broadcast(Message{
		Type:      MessageToast,
		Recipient: recipient,
		Title:     title,
		Body:      body,
		Severity:  severity,
		Timestamp: time.Now().UTC(),
	}, func(c *client) bool { return c.address == recipient })
}

func (h *Hub) broadcast(msg Message, match func(*client) bool) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.log.WithError(err).WithField("type", msg.Type).Warn("drop unencodable websocket frame")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !match(c) {
			continue
		}
		select {
		case c.send <- data:
		default:
			h.log.WithFields(logrus.Fields{
				"address": c.address,
				"type":    msg.Type,
				"topic":   msg.Topic,
			}).Debug("websocket client queue full, frame dropped")
		}
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request. Query parameters: topics (comma
// separated, default all) and address (receives that user's toasts).
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	topics := make(map[string]bool)
	if raw := r.URL.Query().Get("topics"); raw != "" {
		for _, t := range strings.Split(raw, ",") {
			t = strings.TrimSpace(t)
			if t == "" {
				continue
			}
			if !rental.Kind(t).Valid() {
				httputil.BadRequest(w, "unknown topic "+t)
				return
			}
			topics[t] = true
		}
	}
	address := r.URL.Query().Get("address")
	if address != "" {
		if err := chain.ValidateAddress(address); err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}
	}

	h.mu.RLock()
	closed := h.closed
	h.mu.RUnlock()
	if closed {
		httputil.WriteError(w, http.StatusServiceUnavailable, "shutting down")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied.
		h.log.WithError(err).Debug("websocket upgrade failed")
		return
	}

	c := &client{
		conn:    conn,
		send:    make(chan []byte, h.cfg.SendBuffer),
		topics:  topics,
		address: address,
	}
	if !h.register(c) {
		_ = conn.Close()
		return
	}
	h.log.WithFields(logrus.Fields{"address": address, "topics": len(topics)}).Debug("websocket client connected")

	go h.writePump(c)
	go h.readPump(c)
}

func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	return true
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// readPump discards client frames; it exists to process pongs and notice
// disconnects.
func (h *Hub) readPump(c *client) {
	defer h.unregister(c)

	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(h.cfg.PongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(h.cfg.PongTimeout))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(h.cfg.PongTimeout * 9 / 10)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Close unsubscribes from the registry and disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	unsubs := h.unsubs
	h.unsubs = nil
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
}
