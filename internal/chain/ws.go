package chain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

// EventHandler receives a raw contract notification from the stream.
type EventHandler func(event *ContractEvent)

// WSConfig configures a websocket subscription client.
type WSConfig struct {
	URL              string
	HandshakeTimeout time.Duration
	RequestTimeout   time.Duration
	PingInterval     time.Duration
	PongWait         time.Duration
}

func (c *WSConfig) setDefaults() {
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 10 * time.Second
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.PongWait <= c.PingInterval {
		c.PongWait = 2 * c.PingInterval
	}
}

// WSClient is a Neo N3 websocket RPC subscription client. Notifications are
// delivered to listeners from the read goroutine, one frame at a time.
type WSClient struct {
	cfg  WSConfig
	log  *logrus.Entry
	conn *websocket.Conn

	writeMu sync.Mutex

	mu        sync.Mutex
	pending   map[uint64]chan RPCResponse
	listeners map[string]EventHandler
	onClose   func(error)
	onBlock   func(uint32)
	onMissed  func()
	closing   bool

	nextID    atomic.Uint64
	lastBlock atomic.Uint32

	done      chan struct{}
	closeOnce sync.Once
}

// DialWS opens the websocket connection and starts the read and heartbeat
// loops. The handshake is bounded by cfg.HandshakeTimeout.
func DialWS(ctx context.Context, cfg WSConfig, log *logrus.Entry) (*WSClient, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("websocket URL required")
	}
	cfg.setDefaults()
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: cfg.HandshakeTimeout,
	}
	dialCtx, cancel := context.WithTimeout(ctx, cfg.HandshakeTimeout)
	defer cancel()

	conn, _, err := dialer.DialContext(dialCtx, cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial: %w", err)
	}

	c := &WSClient{
		cfg:       cfg,
		log:       log,
		conn:      conn,
		pending:   make(map[uint64]chan RPCResponse),
		listeners: make(map[string]EventHandler),
		done:      make(chan struct{}),
	}

	_ = conn.SetReadDeadline(time.Now().Add(cfg.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	})

	go c.readLoop()
	go c.heartbeat()

	return c, nil
}

// Listen binds handler to a contract event name, replacing any previous
// listener for that name.
func (c *WSClient) Listen(eventName string, handler EventHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if handler == nil {
		delete(c.listeners, eventName)
		return
	}
	c.listeners[eventName] = handler
}

// RemoveListeners unbinds every event listener.
func (c *WSClient) RemoveListeners() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = make(map[string]EventHandler)
}

// OnClose registers a callback invoked once when the connection is lost.
// It is not invoked for a Close initiated by the owner.
func (c *WSClient) OnClose(fn func(error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onClose = fn
}

// OnBlock registers a callback for block_added notifications.
func (c *WSClient) OnBlock(fn func(index uint32)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onBlock = fn
}

// OnMissed registers a callback for event_missed notifications.
func (c *WSClient) OnMissed(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onMissed = fn
}

// LastBlock returns the index of the latest block_added seen.
func (c *WSClient) LastBlock() uint32 {
	return c.lastBlock.Load()
}

// SubscribeContract subscribes to notifications emitted by contract.
func (c *WSClient) SubscribeContract(ctx context.Context, contract string) (string, error) {
	hash, err := NormalizeHash160(contract)
	if err != nil {
		return "", err
	}
	return c.subscribe(ctx, "notification_from_execution", map[string]string{"contract": hash})
}

// SubscribeBlocks subscribes to block_added notifications.
func (c *WSClient) SubscribeBlocks(ctx context.Context) (string, error) {
	return c.subscribe(ctx, "block_added")
}

func (c *WSClient) subscribe(ctx context.Context, stream string, filter ...any) (string, error) {
	params := append([]any{stream}, filter...)
	result, err := c.Call(ctx, "subscribe", params...)
	if err != nil {
		return "", fmt.Errorf("subscribe %s: %w", stream, err)
	}
	var id string
	if err := json.Unmarshal(result, &id); err != nil {
		return "", fmt.Errorf("decode subscription id: %w", err)
	}
	return id, nil
}

// Unsubscribe cancels a subscription by id.
func (c *WSClient) Unsubscribe(ctx context.Context, id string) error {
	_, err := c.Call(ctx, "unsubscribe", id)
	return err
}

// Call sends a JSON-RPC request over the socket and waits for the response
// with the same id. The wait is bounded by ctx and cfg.RequestTimeout.
func (c *WSClient) Call(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	if params == nil {
		params = []any{}
	}
	id := c.nextID.Add(1)
	ch := make(chan RPCResponse, 1)

	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	c.pending[id] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	req := RPCRequest{JSONRPC: "2.0", Method: method, Params: params, ID: id}
	if err := c.writeJSON(req); err != nil {
		return nil, fmt.Errorf("send %s: %w", method, err)
	}

	timer := time.NewTimer(c.cfg.RequestTimeout)
	defer timer.Stop()

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, ErrClosed
		}
		if resp.Error != nil {
			return nil, resp.Error
		}
		return resp.Result, nil
	case <-timer.C:
		return nil, fmt.Errorf("%s: %w", method, ErrRequestTimeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		return nil, ErrClosed
	}
}

func (c *WSClient) writeJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.RequestTimeout))
	return c.conn.WriteJSON(v)
}

// Close closes the connection without reporting it through OnClose.
func (c *WSClient) Close() error {
	c.mu.Lock()
	c.closing = true
	c.mu.Unlock()

	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		_ = c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	return err
}

// Done is closed when the connection is gone.
func (c *WSClient) Done() <-chan struct{} {
	return c.done
}

func (c *WSClient) readLoop() {
	var readErr error
	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			readErr = err
			break
		}
		c.handleFrame(message)
	}

	c.mu.Lock()
	intentional := c.closing
	c.closing = true
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	onClose := c.onClose
	c.mu.Unlock()

	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})

	if intentional {
		return
	}
	if readErr == nil {
		readErr = ErrClosed
	}
	c.log.WithError(readErr).Warn("chain stream read failed")
	if onClose != nil {
		onClose(readErr)
	}
}

func (c *WSClient) handleFrame(message []byte) {
	method := gjson.GetBytes(message, "method")
	if !method.Exists() {
		id := gjson.GetBytes(message, "id")
		if !id.Exists() {
			c.log.WithField("frame", string(message)).Debug("ignoring frame without id or method")
			return
		}
		var resp RPCResponse
		if err := json.Unmarshal(message, &resp); err != nil {
			c.log.WithError(err).Warn("undecodable rpc response")
			return
		}
		c.mu.Lock()
		ch, ok := c.pending[resp.ID]
		c.mu.Unlock()
		if ok {
			// A repeated reply for the same id is dropped; the channel
			// holds one response and Call only reads one.
			select {
			case ch <- resp:
			default:
				c.log.WithField("id", resp.ID).Debug("dropping duplicate rpc response")
			}
		}
		return
	}

	switch method.String() {
	case "notification_from_execution":
		c.handleNotification(message)
	case "block_added":
		index := gjson.GetBytes(message, "params.0.index")
		if !index.Exists() {
			return
		}
		c.lastBlock.Store(uint32(index.Uint()))
		c.mu.Lock()
		fn := c.onBlock
		c.mu.Unlock()
		if fn != nil {
			fn(uint32(index.Uint()))
		}
	case "event_missed":
		c.log.Warn("node reported missed events")
		c.mu.Lock()
		fn := c.onMissed
		c.mu.Unlock()
		if fn != nil {
			fn()
		}
	default:
		c.log.WithField("method", method.String()).Debug("ignoring stream notification")
	}
}

func (c *WSClient) handleNotification(message []byte) {
	raw := gjson.GetBytes(message, "params.0")
	name := gjson.GetBytes(message, "params.0.eventname").String()

	c.mu.Lock()
	handler := c.listeners[name]
	c.mu.Unlock()
	if handler == nil {
		return
	}

	event := &ContractEvent{
		EventName:  name,
		BlockIndex: c.lastBlock.Load(),
		ObservedAt: time.Now().UTC(),
		Raw:        json.RawMessage(raw.Raw),
	}
	var n Notification
	if err := json.Unmarshal([]byte(raw.Raw), &n); err == nil {
		if parsed, err := NewContractEvent(n, n.Container, event.BlockIndex); err == nil {
			parsed.Raw = event.Raw
			parsed.ObservedAt = event.ObservedAt
			event = parsed
		} else {
			event.Contract = n.Contract
			event.TxHash = n.Container
		}
	}
	// Undecodable frames still reach the listener so the mapper rejects,
	// logs and counts them in one place.
	c.invoke(handler, event)
}

func (c *WSClient) invoke(handler EventHandler, event *ContractEvent) {
	defer func() {
		if rec := recover(); rec != nil {
			c.log.WithFields(logrus.Fields{
				"event": event.EventName,
				"panic": fmt.Sprint(rec),
			}).Error("stream listener failed")
		}
	}()
	handler(event)
}

func (c *WSClient) heartbeat() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.cfg.RequestTimeout))
			c.writeMu.Unlock()
			if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
				c.log.WithError(err).Debug("ping failed")
			}
		}
	}
}
