package chain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nspcc-dev/neo-go/pkg/config/netmode"
	"github.com/nspcc-dev/neo-go/pkg/neorpc/result"
)

// ErrNetworkMismatch is returned when a node serves a different network
// than the one configured.
var ErrNetworkMismatch = errors.New("chain network mismatch")

func decodeVersion(raw json.RawMessage) (*result.Version, error) {
	var v result.Version
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("decode version: %w", err)
	}
	return &v, nil
}

// CheckNetwork compares the network magic reported by a node with want.
// A zero want accepts any network.
func CheckNetwork(v *result.Version, want uint32) error {
	if want == 0 {
		return nil
	}
	if v == nil {
		return fmt.Errorf("%w: node reported no version", ErrNetworkMismatch)
	}
	if got := v.Protocol.Network; uint32(got) != want {
		return fmt.Errorf("%w: node serves %s, configured %s", ErrNetworkMismatch, got, netmode.Magic(want))
	}
	return nil
}

// GetVersion returns the node version and protocol settings.
func (c *Client) GetVersion(ctx context.Context) (*result.Version, error) {
	raw, err := c.Call(ctx, "getversion")
	if err != nil {
		return nil, err
	}
	return decodeVersion(raw)
}

// VerifyNetwork checks that the node serves the configured network. It
// does nothing when no network is configured.
func (c *Client) VerifyNetwork(ctx context.Context) error {
	if c.networkID == 0 {
		return nil
	}
	v, err := c.GetVersion(ctx)
	if err != nil {
		return fmt.Errorf("getversion: %w", err)
	}
	return CheckNetwork(v, c.networkID)
}

// GetVersion returns the node version over the websocket connection.
func (c *WSClient) GetVersion(ctx context.Context) (*result.Version, error) {
	raw, err := c.Call(ctx, "getversion")
	if err != nil {
		return nil, err
	}
	return decodeVersion(raw)
}
