// Package testutil provides fakes for the Neo node and the delivery
// collaborators used across the rentstream tests.
package testutil

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"

	"github.com/nspcc-dev/neo-go/pkg/encoding/address"
	"github.com/nspcc-dev/neo-go/pkg/util"

	"github.com/R3E-Network/rentstream/internal/chain"
)

// ContractHash is the marketplace contract hash used in tests.
const ContractHash = "0x1f4f3b1a2c5d6e7f8091a2b3c4d5e6f708192a3b"

// Hash160 returns a deterministic script hash derived from seed.
func Hash160(seed byte) util.Uint160 {
	var u util.Uint160
	for i := range u {
		u[i] = seed + byte(i)
	}
	return u
}

// Address returns the Neo address of Hash160(seed).
func Address(seed byte) string {
	return address.Uint160ToString(Hash160(seed))
}

// TxHash returns a well-formed transaction hash for n.
func TxHash(n int) string {
	return fmt.Sprintf("0x%064x", n)
}

func item(typ string, v any) chain.StackItem {
	raw, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return chain.StackItem{Type: typ, Value: raw}
}

// Integer builds an Integer stack item.
func Integer(n int64) chain.StackItem {
	return item("Integer", strconv.FormatInt(n, 10))
}

// BigInteger builds an Integer stack item from a decimal string.
func BigInteger(s string) chain.StackItem {
	if _, ok := new(big.Int).SetString(s, 10); !ok {
		panic("invalid integer " + s)
	}
	return item("Integer", s)
}

// Bytes builds a base64 ByteString stack item.
func Bytes(b []byte) chain.StackItem {
	return item("ByteString", base64.StdEncoding.EncodeToString(b))
}

// String builds a ByteString stack item holding s.
func String(s string) chain.StackItem {
	return Bytes([]byte(s))
}

// Hash160Item builds the stack item a contract emits for a script hash.
func Hash160Item(u util.Uint160) chain.StackItem {
	return Bytes(u.BytesBE())
}

// AddressItem builds the stack item for the account at Address(seed).
func AddressItem(seed byte) chain.StackItem {
	return Hash160Item(Hash160(seed))
}

// Null builds a Null stack item.
func Null() chain.StackItem {
	return chain.StackItem{Type: "Null"}
}

// Array builds an Array stack item.
func Array(items ...chain.StackItem) chain.StackItem {
	if items == nil {
		items = []chain.StackItem{}
	}
	return item("Array", items)
}

// Notification builds a contract notification as the node renders it.
func Notification(contract, txHash, eventName string, state ...chain.StackItem) chain.Notification {
	return chain.Notification{
		Container: txHash,
		Contract:  contract,
		EventName: eventName,
		State:     Array(state...),
	}
}

// RentalCreatedState returns a well-formed RentalCreated state with tenant
// Address(tenant) and lender Address(lender).
func RentalCreatedState(rentalID int64, tenant, lender byte) []chain.StackItem {
	return []chain.StackItem{
		Integer(rentalID),
		Hash160Item(Hash160(0xA0)),
		Bytes([]byte{0x01, 0x02}),
		AddressItem(lender),
		AddressItem(tenant),
		Integer(5_0000_0000),
		Integer(1_700_000_000_000),
		Integer(1_700_259_200_000),
	}
}
