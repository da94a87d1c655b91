package chain

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/nspcc-dev/neo-go/pkg/encoding/address"
	"github.com/nspcc-dev/neo-go/pkg/util"
)

// =============================================================================
// Stack Item Parsers
// =============================================================================

func decodeStackBytes(value string) ([]byte, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}

	if strings.HasPrefix(trimmed, "0x") || strings.HasPrefix(trimmed, "0X") {
		return hex.DecodeString(trimmed[2:])
	}

	// Neo N3 RPC encodes ByteString/Buffer stack items as base64.
	if decoded, err := base64.StdEncoding.DecodeString(trimmed); err == nil {
		return decoded, nil
	}

	if len(trimmed)%2 != 0 {
		return nil, fmt.Errorf("invalid byte string")
	}
	return hex.DecodeString(trimmed)
}

func stackString(item StackItem) (string, error) {
	var value string
	if err := json.Unmarshal(item.Value, &value); err != nil {
		return "", fmt.Errorf("decode %s value: %w", item.Type, err)
	}
	return value, nil
}

// ParseArray extracts the elements of an Array or Struct stack item.
func ParseArray(item StackItem) ([]StackItem, error) {
	if item.Type != "Array" && item.Type != "Struct" {
		return nil, fmt.Errorf("expected Array or Struct, got %s", item.Type)
	}

	var items []StackItem
	if err := json.Unmarshal(item.Value, &items); err != nil {
		return nil, fmt.Errorf("unmarshal array: %w", err)
	}
	return items, nil
}

// ParseByteArray returns the raw bytes of a ByteString or Buffer item. Null
// yields nil.
func ParseByteArray(item StackItem) ([]byte, error) {
	switch item.Type {
	case "ByteString", "Buffer":
		value, err := stackString(item)
		if err != nil {
			return nil, err
		}
		return decodeStackBytes(value)
	case "Null":
		return nil, nil
	}
	return nil, fmt.Errorf("unexpected type: %s", item.Type)
}

// ParseHash160 decodes a 20-byte script hash.
func ParseHash160(item StackItem) (util.Uint160, error) {
	if item.Type != "ByteString" && item.Type != "Buffer" {
		return util.Uint160{}, fmt.Errorf("unexpected type: %s", item.Type)
	}
	b, err := ParseByteArray(item)
	if err != nil {
		return util.Uint160{}, err
	}
	if len(b) != util.Uint160Size {
		return util.Uint160{}, fmt.Errorf("unexpected Hash160 length: %d", len(b))
	}
	return util.Uint160DecodeBytesBE(b)
}

// ParseAddress decodes a script hash and renders it as a Neo address.
func ParseAddress(item StackItem) (string, error) {
	u, err := ParseHash160(item)
	if err != nil {
		return "", err
	}
	return address.Uint160ToString(u), nil
}

// ParseInteger decodes an Integer item. Booleans are accepted as 0/1 since
// some contracts emit flags that way.
func ParseInteger(item StackItem) (*big.Int, error) {
	switch item.Type {
	case "Integer":
		var raw any
		if err := json.Unmarshal(item.Value, &raw); err != nil {
			return nil, fmt.Errorf("decode Integer value: %w", err)
		}
		var s string
		switch v := raw.(type) {
		case string:
			s = v
		case float64:
			s = big.NewFloat(v).Text('f', 0)
		default:
			return nil, fmt.Errorf("unexpected Integer value %s", string(item.Value))
		}
		n, ok := new(big.Int).SetString(s, 10)
		if !ok {
			return nil, fmt.Errorf("invalid integer %q", s)
		}
		return n, nil
	case "Boolean":
		b, err := ParseBoolean(item)
		if err != nil {
			return nil, err
		}
		if b {
			return big.NewInt(1), nil
		}
		return big.NewInt(0), nil
	}
	return nil, fmt.Errorf("unexpected type: %s", item.Type)
}

// ParseUint64 decodes an Integer item that must fit in uint64.
func ParseUint64(item StackItem) (uint64, error) {
	n, err := ParseInteger(item)
	if err != nil {
		return 0, err
	}
	if n.Sign() < 0 || !n.IsUint64() {
		return 0, fmt.Errorf("value %s out of uint64 range", n.String())
	}
	return n.Uint64(), nil
}

// ParseAmount decodes a non-negative Integer amount.
func ParseAmount(item StackItem) (*big.Int, error) {
	n, err := ParseInteger(item)
	if err != nil {
		return nil, err
	}
	if n.Sign() < 0 {
		return nil, fmt.Errorf("negative amount %s", n.String())
	}
	return n, nil
}

// ParseTimestampMillis decodes an Integer holding unix milliseconds, the
// unit Neo block timestamps use.
func ParseTimestampMillis(item StackItem) (time.Time, error) {
	n, err := ParseInteger(item)
	if err != nil {
		return time.Time{}, err
	}
	if n.Sign() < 0 || !n.IsInt64() {
		return time.Time{}, fmt.Errorf("timestamp %s out of range", n.String())
	}
	return time.UnixMilli(n.Int64()).UTC(), nil
}

// ParseBoolean decodes a Boolean item.
func ParseBoolean(item StackItem) (bool, error) {
	if item.Type == "Boolean" {
		var value bool
		if err := json.Unmarshal(item.Value, &value); err != nil {
			return false, err
		}
		return value, nil
	}
	return false, fmt.Errorf("unexpected type: %s", item.Type)
}

// ParseStringFromItem decodes a UTF-8 string. Null yields "".
func ParseStringFromItem(item StackItem) (string, error) {
	b, err := ParseByteArray(item)
	if err != nil {
		return "", fmt.Errorf("unexpected type for string: %s", item.Type)
	}
	return string(b), nil
}

// ParseTokenID renders an NEP-11 token id. Token ids are opaque byte
// strings; integer ids are rendered in decimal.
func ParseTokenID(item StackItem) (string, error) {
	if item.Type == "Integer" {
		n, err := ParseInteger(item)
		if err != nil {
			return "", err
		}
		return n.String(), nil
	}
	b, err := ParseByteArray(item)
	if err != nil {
		return "", err
	}
	if len(b) == 0 {
		return "", fmt.Errorf("empty token id")
	}
	return hex.EncodeToString(b), nil
}

// =============================================================================
// Hash helpers
// =============================================================================

// NormalizeHash160 accepts a script hash in "0x"-prefixed or bare
// little-endian hex, or a Neo address, and returns the canonical "0x" form.
func NormalizeHash160(s string) (string, error) {
	u, err := DecodeHash160(s)
	if err != nil {
		return "", err
	}
	return "0x" + u.StringLE(), nil
}

// DecodeHash160 parses a script hash or a Neo address.
func DecodeHash160(s string) (util.Uint160, error) {
	trimmed := strings.TrimSpace(s)
	if strings.HasPrefix(trimmed, "N") {
		u, err := address.StringToUint160(trimmed)
		if err != nil {
			return util.Uint160{}, fmt.Errorf("invalid address %q: %w", s, err)
		}
		return u, nil
	}
	trimmed = strings.TrimPrefix(strings.TrimPrefix(trimmed, "0x"), "0X")
	u, err := util.Uint160DecodeStringLE(trimmed)
	if err != nil {
		return util.Uint160{}, fmt.Errorf("invalid script hash %q: %w", s, err)
	}
	return u, nil
}

// ValidateAddress reports whether s is a well-formed Neo address.
func ValidateAddress(s string) error {
	if _, err := address.StringToUint160(s); err != nil {
		return fmt.Errorf("invalid address %q: %w", s, err)
	}
	return nil
}

// NormalizeTxHash returns the canonical "0x" form of a transaction hash.
func NormalizeTxHash(s string) (string, error) {
	trimmed := strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(s), "0x"), "0X")
	h, err := util.Uint256DecodeStringLE(trimmed)
	if err != nil {
		return "", fmt.Errorf("invalid tx hash %q: %w", s, err)
	}
	return "0x" + h.StringLE(), nil
}
