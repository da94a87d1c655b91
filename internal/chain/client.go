// Package chain provides Neo N3 access for the rental event pipeline: a
// JSON-RPC client used by the polling fallback, a websocket subscription
// client for the live stream, and the mapper that turns raw contract
// notifications into rental domain events.
package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"
)

// Client provides Neo N3 JSON-RPC functionality.
type Client struct {
	rpcURL     string
	httpClient *http.Client
	networkID  uint32
	nextID     atomic.Uint64
}

// Config holds client configuration.
type Config struct {
	RPCURL    string
	NetworkID uint32 // MainNet: 860833102, TestNet: 894710606
	Timeout   time.Duration
}

// NewClient creates a new Neo N3 client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("RPC URL required")
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		rpcURL: cfg.RPCURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		networkID: cfg.NetworkID,
	}, nil
}

// NetworkID returns the configured network magic.
func (c *Client) NetworkID() uint32 {
	return c.networkID
}

// =============================================================================
// Core RPC Methods
// =============================================================================

// Call makes an RPC call to the Neo N3 node.
func (c *Client) Call(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	if params == nil {
		params = []any{}
	}
	req := RPCRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      c.nextID.Add(1),
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rpcURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("rpc http status %d", resp.StatusCode)
	}

	var rpcResp RPCResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	if rpcResp.Error != nil {
		return nil, rpcResp.Error
	}

	return rpcResp.Result, nil
}

// GetBlockCount returns the current block count (height + 1).
func (c *Client) GetBlockCount(ctx context.Context) (uint32, error) {
	result, err := c.Call(ctx, "getblockcount")
	if err != nil {
		return 0, err
	}

	var count uint32
	if err := json.Unmarshal(result, &count); err != nil {
		return 0, fmt.Errorf("decode block count: %w", err)
	}
	return count, nil
}

// GetBlock returns a verbose block by index.
func (c *Client) GetBlock(ctx context.Context, index uint32) (*Block, error) {
	result, err := c.Call(ctx, "getblock", index, true)
	if err != nil {
		return nil, err
	}

	var block Block
	if err := json.Unmarshal(result, &block); err != nil {
		return nil, fmt.Errorf("decode block %d: %w", index, err)
	}
	return &block, nil
}

// GetApplicationLog returns the application log for a transaction.
func (c *Client) GetApplicationLog(ctx context.Context, txHash string) (*ApplicationLog, error) {
	result, err := c.Call(ctx, "getapplicationlog", txHash)
	if err != nil {
		return nil, err
	}

	var log ApplicationLog
	if err := json.Unmarshal(result, &log); err != nil {
		return nil, fmt.Errorf("decode application log %s: %w", txHash, err)
	}
	return &log, nil
}

// ContractEvents returns the HALT-state notifications emitted by contract
// in the given block, in transaction order. Events whose name is not in
// names are skipped; a nil names set keeps everything.
func (c *Client) ContractEvents(ctx context.Context, index uint32, contract string, names map[string]bool) ([]*ContractEvent, error) {
	block, err := c.GetBlock(ctx, index)
	if err != nil {
		return nil, err
	}

	want, err := NormalizeHash160(contract)
	if err != nil {
		return nil, err
	}

	var out []*ContractEvent
	for _, tx := range block.Transactions {
		appLog, err := c.GetApplicationLog(ctx, tx.Hash)
		if err != nil {
			return nil, fmt.Errorf("application log %s: %w", tx.Hash, err)
		}
		for _, exec := range appLog.Executions {
			if exec.VMState != "" && exec.VMState != "HALT" {
				continue
			}
			for _, n := range exec.Notifications {
				got, err := NormalizeHash160(n.Contract)
				if err != nil || got != want {
					continue
				}
				if names != nil && !names[n.EventName] {
					continue
				}
				ev, err := NewContractEvent(n, tx.Hash, block.Index)
				if err != nil {
					// Surface it to the mapper path so it is logged and counted
					// like a malformed stream frame.
					ev = &ContractEvent{
						Contract:   n.Contract,
						EventName:  n.EventName,
						TxHash:     tx.Hash,
						BlockIndex: block.Index,
						ObservedAt: time.Now().UTC(),
					}
				}
				raw, _ := json.Marshal(n)
				ev.Raw = raw
				out = append(out, ev)
			}
		}
	}
	return out, nil
}
