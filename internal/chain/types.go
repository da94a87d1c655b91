package chain

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Common errors
var (
	ErrNotConnected   = errors.New("chain stream not connected")
	ErrUnknownEvent   = errors.New("unknown contract event")
	ErrMalformed      = errors.New("malformed contract event")
	ErrClosed         = errors.New("chain stream closed")
	ErrRequestTimeout = errors.New("chain request timed out")
)

// =============================================================================
// JSON-RPC envelope
// =============================================================================

// RPCRequest is a JSON-RPC request.
type RPCRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
	ID      uint64 `json:"id"`
}

// RPCResponse is a JSON-RPC response.
type RPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is a JSON-RPC error.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Error implements error.
func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// =============================================================================
// Ledger types
// =============================================================================

// StackItem is a NeoVM stack item as rendered by the RPC server.
type StackItem struct {
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value,omitempty"`
}

// Block is a verbose getblock result. Only the fields the poller needs are
// decoded.
type Block struct {
	Hash         string        `json:"hash"`
	Index        uint32        `json:"index"`
	Time         uint64        `json:"time"`
	Transactions []Transaction `json:"tx"`
}

// Transaction is a transaction inside a verbose block.
type Transaction struct {
	Hash string `json:"hash"`
}

// ApplicationLog is a getapplicationlog result.
type ApplicationLog struct {
	TxID       string      `json:"txid"`
	Executions []Execution `json:"executions"`
}

// Execution is a single execution in the application log.
type Execution struct {
	Trigger       string         `json:"trigger"`
	VMState       string         `json:"vmstate"`
	GasConsumed   string         `json:"gasconsumed"`
	Exception     string         `json:"exception,omitempty"`
	Notifications []Notification `json:"notifications"`
}

// Notification is a contract notification inside an execution or a
// notification_from_execution stream frame.
type Notification struct {
	Container string    `json:"container,omitempty"`
	Contract  string    `json:"contract"`
	EventName string    `json:"eventname"`
	State     StackItem `json:"state"`
}

// ContractEvent is a raw contract notification with its provenance. It is
// what listeners receive, before mapping to a domain event.
type ContractEvent struct {
	Contract   string
	EventName  string
	TxHash     string
	BlockIndex uint32
	State      []StackItem
	ObservedAt time.Time
	// Raw is the frame or log entry the event was decoded from, kept for
	// diagnostics when mapping fails.
	Raw json.RawMessage
}

// NewContractEvent builds a ContractEvent from a notification. The state
// must be an Array or Struct stack item.
func NewContractEvent(n Notification, txHash string, block uint32) (*ContractEvent, error) {
	state, err := ParseArray(n.State)
	if err != nil {
		return nil, fmt.Errorf("%w: state: %v", ErrMalformed, err)
	}
	if txHash == "" {
		txHash = n.Container
	}
	return &ContractEvent{
		Contract:   n.Contract,
		EventName:  n.EventName,
		TxHash:     txHash,
		BlockIndex: block,
		State:      state,
		ObservedAt: time.Now().UTC(),
	}, nil
}
