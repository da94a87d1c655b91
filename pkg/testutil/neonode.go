package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"

	"github.com/R3E-Network/rentstream/internal/chain"
)

// PrivNetMagic is the network magic fake nodes report by default.
const PrivNetMagic uint32 = 56753

func versionResult(magic uint32) map[string]any {
	return map[string]any{
		"tcpport":   20333,
		"nonce":     1,
		"useragent": "/NEO-GO:test/",
		"protocol": map[string]any{
			"addressversion": 53,
			"network":        magic,
			"msperblock":     15000,
		},
	}
}

// =============================================================================
// Fake Neo websocket node
// =============================================================================

// FakeNode is an in-process Neo N3 websocket RPC endpoint. It answers
// subscribe/unsubscribe requests and lets tests push stream frames.
type FakeNode struct {
	t      testing.TB
	server *httptest.Server

	mu            sync.Mutex
	conns         map[*websocket.Conn]*sync.Mutex
	refuse        bool
	silent        bool
	subscriptions []string
	dials         int
	nextSub       int
	network       uint32
	duplicate     bool
}

// NewFakeNode starts a fake node. It is closed by t.Cleanup.
func NewFakeNode(t testing.TB) *FakeNode {
	t.Helper()
	n := &FakeNode{t: t, conns: make(map[*websocket.Conn]*sync.Mutex), network: PrivNetMagic}
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

	n.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n.mu.Lock()
		n.dials++
		refuse := n.refuse
		n.mu.Unlock()
		if refuse {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		wmu := &sync.Mutex{}
		n.mu.Lock()
		n.conns[conn] = wmu
		n.mu.Unlock()
		go n.serve(conn, wmu)
	}))
	t.Cleanup(n.Close)
	return n
}

func (n *FakeNode) serve(conn *websocket.Conn, wmu *sync.Mutex) {
	defer func() {
		n.mu.Lock()
		delete(n.conns, conn)
		n.mu.Unlock()
		conn.Close()
	}()
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		id := gjson.GetBytes(msg, "id").Uint()
		method := gjson.GetBytes(msg, "method").String()

		n.mu.Lock()
		silent := n.silent
		replies := 1
		if n.duplicate {
			replies = 2
		}
		var result any = true
		switch method {
		case "subscribe":
			n.nextSub++
			stream := gjson.GetBytes(msg, "params.0").String()
			n.subscriptions = append(n.subscriptions, stream)
			result = fmt.Sprintf("sub-%d", n.nextSub)
		case "getversion":
			result = versionResult(n.network)
		}
		n.mu.Unlock()
		if silent {
			continue
		}

		for i := 0; i < replies; i++ {
			wmu.Lock()
			err = conn.WriteJSON(map[string]any{"jsonrpc": "2.0", "id": id, "result": result})
			wmu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// URL returns the ws:// endpoint.
func (n *FakeNode) URL() string {
	return "ws" + strings.TrimPrefix(n.server.URL, "http")
}

// Refuse makes subsequent handshakes fail with 503.
func (n *FakeNode) Refuse(refuse bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.refuse = refuse
}

// Silence makes the node stop answering requests, simulating a hung node.
func (n *FakeNode) Silence(silent bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.silent = silent
}

// SetNetwork sets the network magic reported by getversion.
func (n *FakeNode) SetNetwork(magic uint32) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.network = magic
}

// DuplicateReplies makes the node answer every request twice.
func (n *FakeNode) DuplicateReplies(duplicate bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.duplicate = duplicate
}

// Dials returns the number of handshake attempts received.
func (n *FakeNode) Dials() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.dials
}

// Connections returns the number of open client connections.
func (n *FakeNode) Connections() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.conns)
}

// Subscriptions returns the stream names subscribed so far.
func (n *FakeNode) Subscriptions() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.subscriptions...)
}

// Push sends frame to every connected client.
func (n *FakeNode) Push(frame any) {
	data, err := json.Marshal(frame)
	if err != nil {
		n.t.Fatalf("marshal frame: %v", err)
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	for conn, wmu := range n.conns {
		wmu.Lock()
		_ = conn.WriteMessage(websocket.TextMessage, data)
		wmu.Unlock()
	}
}

// PushNotification sends a notification_from_execution frame.
func (n *FakeNode) PushNotification(note chain.Notification) {
	n.Push(map[string]any{
		"jsonrpc": "2.0",
		"method":  "notification_from_execution",
		"params":  []any{note},
	})
}

// PushBlock sends a block_added frame.
func (n *FakeNode) PushBlock(index uint32) {
	n.Push(map[string]any{
		"jsonrpc": "2.0",
		"method":  "block_added",
		"params":  []any{map[string]any{"index": index, "hash": fmt.Sprintf("0x%064x", index)}},
	})
}

// PushMissed sends an event_missed frame.
func (n *FakeNode) PushMissed() {
	n.Push(map[string]any{"jsonrpc": "2.0", "method": "event_missed", "params": []any{}})
}

// DropAll closes every client connection abruptly.
func (n *FakeNode) DropAll() {
	n.mu.Lock()
	defer n.mu.Unlock()
	for conn := range n.conns {
		conn.Close()
	}
}

// Close shuts the node down.
func (n *FakeNode) Close() {
	n.DropAll()
	n.server.Close()
}

// =============================================================================
// Fake Neo JSON-RPC node
// =============================================================================

// FakeTx is a transaction with the notifications its execution emitted.
type FakeTx struct {
	Hash          string
	Notifications []chain.Notification
}

// FakeRPC is an in-memory Neo JSON-RPC endpoint serving getversion,
// getblockcount, getblock and getapplicationlog.
type FakeRPC struct {
	server *httptest.Server

	mu      sync.Mutex
	height  uint32
	blocks  map[uint32][]FakeTx
	logs    map[string]FakeTx
	calls   map[string]int
	fail    bool
	network uint32
}

// NewFakeRPC starts a fake JSON-RPC node. It is closed by t.Cleanup.
func NewFakeRPC(t testing.TB) *FakeRPC {
	t.Helper()
	f := &FakeRPC{
		blocks:  make(map[uint32][]FakeTx),
		logs:    make(map[string]FakeTx),
		calls:   make(map[string]int),
		network: PrivNetMagic,
	}
	f.server = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.server.Close)
	return f
}

// URL returns the http endpoint.
func (f *FakeRPC) URL() string { return f.server.URL }

// SetHeight sets the block count returned by getblockcount.
func (f *FakeRPC) SetHeight(count uint32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.height = count
}

// SetNetwork sets the network magic reported by getversion.
func (f *FakeRPC) SetNetwork(magic uint32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.network = magic
}

// Fail makes every call return an RPC error.
func (f *FakeRPC) Fail(fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = fail
}

// AddBlock registers a block and raises the height to cover it.
func (f *FakeRPC) AddBlock(index uint32, txs ...FakeTx) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blocks[index] = txs
	for _, tx := range txs {
		f.logs[tx.Hash] = tx
	}
	if index+1 > f.height {
		f.height = index + 1
	}
}

// Calls returns how many times method was called.
func (f *FakeRPC) Calls(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

func (f *FakeRPC) handle(w http.ResponseWriter, r *http.Request) {
	var req chain.RPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[req.Method]++

	if f.fail {
		writeRPC(w, req.ID, nil, &chain.RPCError{Code: -32603, Message: "node unavailable"})
		return
	}

	switch req.Method {
	case "getversion":
		writeRPC(w, req.ID, versionResult(f.network), nil)
	case "getblockcount":
		writeRPC(w, req.ID, f.height, nil)
	case "getblock":
		index := uint32(toUint(req.Params[0]))
		txs := f.blocks[index]
		rendered := make([]map[string]any, 0, len(txs))
		for _, tx := range txs {
			rendered = append(rendered, map[string]any{"hash": tx.Hash})
		}
		writeRPC(w, req.ID, map[string]any{
			"hash":  fmt.Sprintf("0x%064x", index),
			"index": index,
			"time":  1_700_000_000_000 + uint64(index)*15_000,
			"tx":    rendered,
		}, nil)
	case "getapplicationlog":
		hash, _ := req.Params[0].(string)
		tx, ok := f.logs[hash]
		if !ok {
			writeRPC(w, req.ID, nil, &chain.RPCError{Code: -100, Message: "Unknown transaction"})
			return
		}
		writeRPC(w, req.ID, chain.ApplicationLog{
			TxID: tx.Hash,
			Executions: []chain.Execution{{
				Trigger:       "Application",
				VMState:       "HALT",
				Notifications: tx.Notifications,
			}},
		}, nil)
	default:
		writeRPC(w, req.ID, nil, &chain.RPCError{Code: -32601, Message: "Method not found"})
	}
}

func toUint(v any) uint64 {
	switch n := v.(type) {
	case float64:
		return uint64(n)
	case json.Number:
		i, _ := n.Int64()
		return uint64(i)
	}
	return 0
}

func writeRPC(w http.ResponseWriter, id uint64, result any, rpcErr *chain.RPCError) {
	resp := map[string]any{"jsonrpc": "2.0", "id": id}
	if rpcErr != nil {
		resp["error"] = rpcErr
	} else {
		resp["result"] = result
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}
